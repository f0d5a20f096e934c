package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/vgraph/internal/graph"
	"github.com/roach88/vgraph/internal/model"
	"github.com/roach88/vgraph/internal/props"
	"github.com/roach88/vgraph/internal/submission"
)

// ValidationProblem is one entity a submission would be rejected for.
type ValidationProblem struct {
	Entry   string   `json:"entry"` // "nodes[0]", "edges[2]"
	Ref     string   `json:"ref"`
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
}

// ValidationResult is the outcome of validating a submission.
type ValidationResult struct {
	File     string              `json:"file"`
	Nodes    int                 `json:"nodes"`
	Edges    int                 `json:"edges"`
	Valid    bool                `json:"valid"`
	Problems []ValidationProblem `json:"problems,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <submission>",
		Short: "Check a submission against the dictionary",
		Long: `Check a submission file without writing anything.

Every upsert is merged with the entity's current properties and checked
against its type schema, the way staging checks it. Nodes submitted
without an id are checked as creates. Edge endpoints and versions are
not checked; those are resolved at commit.

Exit codes:
  0 - submission is valid
  1 - schema violations found
  2 - file or database could not be read

Example:
  vgraph validate ./cases.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	e, err := openEnv(cmd, opts, false)
	if err != nil {
		return err
	}
	defer e.Close()

	raw, err := os.ReadFile(path)
	if err != nil {
		return e.out.Fail("failed to read submission", err)
	}
	doc, err := submission.Parse(raw)
	if err != nil {
		return e.out.Fail("invalid submission", err)
	}

	result := ValidationResult{File: path, Nodes: len(doc.Nodes), Edges: len(doc.Edges)}
	if err := checkSubmission(cmd.Context(), e.driver, doc, &result); err != nil {
		return e.out.Fail("validation failed", err)
	}
	result.Valid = len(result.Problems) == 0

	if err := e.out.Emit(result, func(w io.Writer) {
		if result.Valid {
			fmt.Fprintf(w, "✓ %s: %d node(s), %d edge(s) valid\n", path, result.Nodes, result.Edges)
			return
		}
		fmt.Fprintf(w, "✗ %s: %d problem(s)\n", path, len(result.Problems))
		for _, p := range result.Problems {
			fmt.Fprintf(w, "  %s %s: %s\n", p.Entry, p.Ref, p.Message)
		}
	}); err != nil {
		return err
	}
	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("%d schema violation(s)", len(result.Problems)))
	}
	return nil
}

// checkSubmission reads current state through d and records a problem for
// every entry the dictionary rejects.
func checkSubmission(ctx context.Context, d *graph.Driver, doc *submission.Document, result *ValidationResult) error {
	dict := d.Dictionary()
	ids := make(map[string]string)

	for i, n := range doc.Nodes {
		id := n.ID
		if id == "" {
			id = "new:" + n.Ref
			if n.Ref == "" {
				id = fmt.Sprintf("new:%d", i)
			}
		}
		if n.Ref != "" {
			ids[n.Ref] = id
		}
		entry := fmt.Sprintf("nodes[%d]", i)

		if n.Action == submission.ActionDelete {
			if _, ok := dict.NodeType(n.Type); !ok {
				result.add(entry, model.NodeRef(n.Type, id), fmt.Errorf("unknown node label %q", n.Type))
			}
			continue
		}

		patch, err := props.BagFromMap(n.Properties)
		if err != nil {
			result.add(entry, model.NodeRef(n.Type, id), err)
			continue
		}
		merged := patch
		if n.ID != "" {
			cur, err := d.GetNode(ctx, n.Type, n.ID)
			switch {
			case err == nil:
				merged = cur.Properties.Merge(patch)
			case !model.IsNotFound(err):
				return err
			}
		}
		if err := dict.ValidateNode(n.Type, id, merged); err != nil {
			result.add(entry, model.NodeRef(n.Type, id), err)
		}
	}

	for i, ed := range doc.Edges {
		src, dst := resolveID(ids, ed.Src), resolveID(ids, ed.Dst)
		ref := model.EdgeRef(ed.Type, src, dst)
		entry := fmt.Sprintf("edges[%d]", i)

		if ed.Action == submission.ActionDelete {
			if _, ok := dict.EdgeType(ed.Type); !ok {
				result.add(entry, ref, fmt.Errorf("unknown edge type %q", ed.Type))
			}
			continue
		}

		patch, err := props.BagFromMap(ed.Properties)
		if err != nil {
			result.add(entry, ref, err)
			continue
		}
		merged := patch
		cur, err := d.GetEdge(ctx, ed.Type, src, dst)
		switch {
		case err == nil:
			merged = cur.Properties.Merge(patch)
		case !model.IsNotFound(err):
			return err
		}
		if err := dict.ValidateEdge(ed.Type, src, dst, merged); err != nil {
			result.add(entry, ref, err)
		}
	}
	return nil
}

func (r *ValidationResult) add(entry string, ref model.EntityRef, err error) {
	p := ValidationProblem{Entry: entry, Ref: ref.String(), Message: err.Error()}
	var ge *model.GraphError
	if errors.As(err, &ge) {
		p.Message = ge.Message
		p.Fields = ge.Fields
	}
	r.Problems = append(r.Problems, p)
}

func resolveID(ids map[string]string, key string) string {
	if id, ok := ids[key]; ok {
		return id
	}
	return key
}
