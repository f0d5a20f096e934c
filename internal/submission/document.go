// Package submission turns a submission file into one graph transaction.
//
// A submission lists node and edge changes:
//
//	project: PRJ
//	nodes:
//	  - type: case
//	    ref: c          # local alias; the id is minted when omitted
//	    properties: { submitter_id: case-1, age: 40 }
//	  - type: case
//	    id: 5b6d...
//	    action: delete
//	edges:
//	  - type: case_member_of_project
//	    src: c          # alias or id
//	    dst: 0f2a...
//
// Every change runs in a single session: the submission commits whole or
// not at all, and the raw file is attached to the transaction.
package submission

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/vgraph/internal/props"
)

// Actions.
const (
	ActionUpsert = "upsert"
	ActionDelete = "delete"
)

// Document is a parsed submission.
type Document struct {
	Project string      `yaml:"project"`
	DryRun  bool        `yaml:"dry_run"`
	Nodes   []NodeEntry `yaml:"nodes"`
	Edges   []EdgeEntry `yaml:"edges"`
}

// NodeEntry is one node change.
type NodeEntry struct {
	Type            string         `yaml:"type"`
	ID              string         `yaml:"id"`
	Ref             string         `yaml:"ref"`
	Action          string         `yaml:"action"`
	ExpectedVersion *int64         `yaml:"expected_version"`
	Properties      map[string]any `yaml:"properties"`
}

// EdgeEntry is one edge change. Src and Dst are node ids or refs.
type EdgeEntry struct {
	Type            string         `yaml:"type"`
	Src             string         `yaml:"src"`
	Dst             string         `yaml:"dst"`
	Action          string         `yaml:"action"`
	ExpectedVersion *int64         `yaml:"expected_version"`
	Properties      map[string]any `yaml:"properties"`
}

// Parse decodes a YAML or JSON submission. Unknown keys are rejected.
func Parse(data []byte) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("parse submission: empty document")
		}
		return nil, fmt.Errorf("parse submission: %w", err)
	}
	if err := doc.check(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// check validates structure only; types and properties are checked
// against the dictionary when the changes are staged.
func (d *Document) check() error {
	var problems []string
	refs := make(map[string]bool)

	for i := range d.Nodes {
		n := &d.Nodes[i]
		n.Action = normalizeAction(n.Action)
		where := fmt.Sprintf("nodes[%d]", i)
		if n.Type == "" {
			problems = append(problems, where+": type is required")
		}
		if n.Action != ActionUpsert && n.Action != ActionDelete {
			problems = append(problems, fmt.Sprintf("%s: unknown action %q", where, n.Action))
		}
		if n.Action == ActionDelete && n.ID == "" {
			problems = append(problems, where+": delete needs an id")
		}
		if n.Ref != "" {
			if refs[n.Ref] {
				problems = append(problems, fmt.Sprintf("%s: duplicate ref %q", where, n.Ref))
			}
			refs[n.Ref] = true
		}
	}

	for i := range d.Edges {
		e := &d.Edges[i]
		e.Action = normalizeAction(e.Action)
		where := fmt.Sprintf("edges[%d]", i)
		if e.Type == "" {
			problems = append(problems, where+": type is required")
		}
		if e.Src == "" || e.Dst == "" {
			problems = append(problems, where+": src and dst are required")
		}
		if e.Action != ActionUpsert && e.Action != ActionDelete {
			problems = append(problems, fmt.Sprintf("%s: unknown action %q", where, e.Action))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid submission: %s", strings.Join(problems, "; "))
	}
	return nil
}

func normalizeAction(a string) string {
	a = strings.ToLower(strings.TrimSpace(a))
	if a == "" {
		return ActionUpsert
	}
	return a
}

func bagOf(m map[string]any) (props.Bag, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return props.BagFromMap(m)
}
