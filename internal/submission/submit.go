package submission

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/vgraph/internal/graph"
	"github.com/roach88/vgraph/internal/idservice"
	"github.com/roach88/vgraph/internal/model"
)

// DocumentName is the name the raw submission is attached under.
const DocumentName = "submission"

// Submitter applies submissions through a graph driver.
type Submitter struct {
	driver *graph.Driver
	minter idservice.Minter
	logger *slog.Logger
}

// New creates a Submitter. Node ids missing from a submission come from
// minter.
func New(d *graph.Driver, minter idservice.Minter, logger *slog.Logger) *Submitter {
	return &Submitter{driver: d, minter: minter, logger: logger}
}

// EntityResult is the outcome for one submitted entity.
type EntityResult struct {
	Ref     model.EntityRef `json:"ref"`
	Action  string          `json:"action"`
	Version int64           `json:"version"`
}

// Result describes a committed submission.
type Result struct {
	TransactionID string            `json:"transaction_id"`
	DryRun        bool              `json:"dry_run"`
	IDs           map[string]string `json:"ids,omitempty"`
	Entities      []EntityResult    `json:"entities"`
	Changes       int               `json:"changes"`
}

// SubmitFile reads and submits a file. The format is taken from the
// extension: .json is json, anything else yaml.
func (s *Submitter) SubmitFile(ctx context.Context, actor model.Actor, path string) (*Result, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading submission: %w", err)
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	return s.Submit(ctx, actor, raw, format)
}

// Submit parses raw and applies it as one transaction for actor.
func (s *Submitter) Submit(ctx context.Context, actor model.Actor, raw []byte, format string) (*Result, error) {
	doc, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	ids, err := s.mintIDs(ctx, doc)
	if err != nil {
		return nil, err
	}

	opts := []graph.BeginOption{graph.InProject(doc.Project)}
	if doc.DryRun {
		opts = append(opts, graph.DryRun())
	}
	sess, err := s.driver.Begin(ctx, actor, opts...)
	if err != nil {
		return nil, err
	}

	res := &Result{TransactionID: sess.ID(), DryRun: doc.DryRun, IDs: ids}
	if err := s.stage(ctx, sess, doc, res); err != nil {
		if _, abortErr := sess.Abort(); abortErr != nil {
			s.logger.Warn("abort after failed staging", "transaction_id", sess.ID(), "error", abortErr)
		}
		return nil, err
	}
	if err := sess.AttachDocument(DocumentName, format, raw); err != nil {
		sess.Abort()
		return nil, err
	}

	snap, err := sess.Commit(ctx)
	if err != nil {
		return nil, err
	}
	res.Changes = len(snap.Changes)

	s.logger.Info("submission committed",
		"transaction_id", res.TransactionID,
		"project", doc.Project,
		"nodes", len(doc.Nodes),
		"edges", len(doc.Edges),
		"dry_run", doc.DryRun,
	)
	return res, nil
}

// mintIDs assigns ids to nodes submitted without one, keyed by ref.
func (s *Submitter) mintIDs(ctx context.Context, doc *Document) (map[string]string, error) {
	ids := make(map[string]string)
	for i := range doc.Nodes {
		n := &doc.Nodes[i]
		if n.ID == "" {
			id, err := s.minter.Mint(ctx)
			if err != nil {
				return nil, fmt.Errorf("nodes[%d]: %w", i, err)
			}
			n.ID = id
		}
		if n.Ref != "" {
			ids[n.Ref] = n.ID
		}
	}
	return ids, nil
}

func (s *Submitter) stage(ctx context.Context, sess *graph.Session, doc *Document, res *Result) error {
	for i, n := range doc.Nodes {
		var opts []graph.MutationOption
		if n.ExpectedVersion != nil {
			opts = append(opts, graph.WithExpectedVersion(*n.ExpectedVersion))
		}

		var v int64
		var err error
		if n.Action == ActionDelete {
			v, err = sess.DeleteNode(ctx, n.Type, n.ID, opts...)
		} else {
			bag, bagErr := bagOf(n.Properties)
			if bagErr != nil {
				return fmt.Errorf("nodes[%d]: %w", i, bagErr)
			}
			v, err = sess.UpsertNode(ctx, n.Type, n.ID, bag, opts...)
		}
		if err != nil {
			return fmt.Errorf("nodes[%d]: %w", i, err)
		}
		res.Entities = append(res.Entities, EntityResult{Ref: model.NodeRef(n.Type, n.ID), Action: n.Action, Version: v})
	}

	for i, e := range doc.Edges {
		src, dst := resolve(res.IDs, e.Src), resolve(res.IDs, e.Dst)
		var opts []graph.MutationOption
		if e.ExpectedVersion != nil {
			opts = append(opts, graph.WithExpectedVersion(*e.ExpectedVersion))
		}

		var v int64
		var err error
		if e.Action == ActionDelete {
			v, err = sess.DeleteEdge(ctx, e.Type, src, dst, opts...)
		} else {
			bag, bagErr := bagOf(e.Properties)
			if bagErr != nil {
				return fmt.Errorf("edges[%d]: %w", i, bagErr)
			}
			v, err = sess.UpsertEdge(ctx, e.Type, src, dst, bag, opts...)
		}
		if err != nil {
			return fmt.Errorf("edges[%d]: %w", i, err)
		}
		res.Entities = append(res.Entities, EntityResult{Ref: model.EdgeRef(e.Type, src, dst), Action: e.Action, Version: v})
	}
	return nil
}

func resolve(ids map[string]string, key string) string {
	if id, ok := ids[key]; ok {
		return id
	}
	return key
}
