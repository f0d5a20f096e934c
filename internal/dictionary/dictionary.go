// Package dictionary holds the node and edge type schemas of a graph.
//
// A dictionary is written in CUE:
//
//	node: case: {
//		category: "administrative"
//		properties: { submitter_id: string, age_at_diagnosis: int, consented: bool }
//		required: ["submitter_id"]
//	}
//	edge: case_member_of_project: { label: "member_of", src: "case", dst: "project" }
//
// Every node type becomes a node_<label> table and every edge type an
// edge_<name> table, so labels and names are restricted to lower-case SQL
// identifiers.
package dictionary

import (
	"fmt"
	"regexp"
	"slices"
)

// Property kinds.
const (
	KindString = "string"
	KindInt    = "int"
	KindFloat  = "float"
	KindBool   = "bool"
)

var identRE = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// PropertySpec describes one property of a type.
type PropertySpec struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Required bool   `json:"required"`
}

// NodeType is the schema of one node label.
type NodeType struct {
	Label      string         `json:"label"`
	Category   string         `json:"category,omitempty"`
	Properties []PropertySpec `json:"properties"`
}

// EdgeType is the schema of one edge type. Name identifies the type (and
// its table); Label is the relationship name shown to users.
type EdgeType struct {
	Name       string         `json:"name"`
	Label      string         `json:"label"`
	Src        string         `json:"src"`
	Dst        string         `json:"dst"`
	Properties []PropertySpec `json:"properties"`
}

// Dictionary is an immutable set of node and edge types.
// Declaration order is preserved; it drives table creation and reset order.
type Dictionary struct {
	nodes     map[string]*NodeType
	edges     map[string]*EdgeType
	nodeOrder []string
	edgeOrder []string
}

// New builds a dictionary from type definitions, checking names and that
// every edge endpoint is a known node label.
func New(nodes []NodeType, edges []EdgeType) (*Dictionary, error) {
	d := &Dictionary{
		nodes: make(map[string]*NodeType, len(nodes)),
		edges: make(map[string]*EdgeType, len(edges)),
	}

	for i := range nodes {
		nt := nodes[i]
		if !identRE.MatchString(nt.Label) {
			return nil, fmt.Errorf("node label %q: must match %s", nt.Label, identRE)
		}
		if _, dup := d.nodes[nt.Label]; dup {
			return nil, fmt.Errorf("node label %q declared twice", nt.Label)
		}
		if err := checkProperties(nt.Properties); err != nil {
			return nil, fmt.Errorf("node %q: %w", nt.Label, err)
		}
		d.nodes[nt.Label] = &nt
		d.nodeOrder = append(d.nodeOrder, nt.Label)
	}

	for i := range edges {
		et := edges[i]
		if !identRE.MatchString(et.Name) {
			return nil, fmt.Errorf("edge name %q: must match %s", et.Name, identRE)
		}
		if _, dup := d.edges[et.Name]; dup {
			return nil, fmt.Errorf("edge name %q declared twice", et.Name)
		}
		if _, ok := d.nodes[et.Src]; !ok {
			return nil, fmt.Errorf("edge %q: unknown src node label %q", et.Name, et.Src)
		}
		if _, ok := d.nodes[et.Dst]; !ok {
			return nil, fmt.Errorf("edge %q: unknown dst node label %q", et.Name, et.Dst)
		}
		if et.Label == "" {
			et.Label = et.Name
		}
		if err := checkProperties(et.Properties); err != nil {
			return nil, fmt.Errorf("edge %q: %w", et.Name, err)
		}
		d.edges[et.Name] = &et
		d.edgeOrder = append(d.edgeOrder, et.Name)
	}

	return d, nil
}

func checkProperties(specs []PropertySpec) error {
	seen := make(map[string]bool, len(specs))
	for _, p := range specs {
		if p.Name == "" {
			return fmt.Errorf("property with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("property %q declared twice", p.Name)
		}
		seen[p.Name] = true
		switch p.Kind {
		case KindString, KindInt, KindFloat, KindBool:
		default:
			return fmt.Errorf("property %q: unsupported kind %q", p.Name, p.Kind)
		}
	}
	return nil
}

// NodeType returns the schema for a node label.
func (d *Dictionary) NodeType(label string) (*NodeType, bool) {
	nt, ok := d.nodes[label]
	return nt, ok
}

// EdgeType returns the schema for an edge type name.
func (d *Dictionary) EdgeType(name string) (*EdgeType, bool) {
	et, ok := d.edges[name]
	return et, ok
}

// NodeLabels returns node labels in declaration order.
func (d *Dictionary) NodeLabels() []string {
	return slices.Clone(d.nodeOrder)
}

// EdgeNames returns edge type names in declaration order.
func (d *Dictionary) EdgeNames() []string {
	return slices.Clone(d.edgeOrder)
}

// EdgesTouching returns edge types with label as src or dst, in declaration order.
func (d *Dictionary) EdgesTouching(label string) []*EdgeType {
	var out []*EdgeType
	for _, name := range d.edgeOrder {
		et := d.edges[name]
		if et.Src == label || et.Dst == label {
			out = append(out, et)
		}
	}
	return out
}

// NodeTable returns the concrete table name for a node label.
func NodeTable(label string) string {
	return "node_" + label
}

// EdgeTable returns the concrete table name for an edge type.
func EdgeTable(name string) string {
	return "edge_" + name
}

// NodeTables returns every concrete node table in declaration order.
func (d *Dictionary) NodeTables() []string {
	out := make([]string, len(d.nodeOrder))
	for i, l := range d.nodeOrder {
		out[i] = NodeTable(l)
	}
	return out
}

// EdgeTables returns every concrete edge table in declaration order.
func (d *Dictionary) EdgeTables() []string {
	out := make([]string, len(d.edgeOrder))
	for i, n := range d.edgeOrder {
		out[i] = EdgeTable(n)
	}
	return out
}
