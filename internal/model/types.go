package model

import (
	"fmt"
	"time"

	"github.com/roach88/vgraph/internal/props"
)

// EntityKind distinguishes nodes from edges.
type EntityKind string

const (
	KindNode EntityKind = "node"
	KindEdge EntityKind = "edge"
)

// Node is a typed vertex. Exactly one current row exists per (Label, ID).
type Node struct {
	ID            string    `json:"node_id"`
	Label         string    `json:"label"`
	Version       int64     `json:"version"`
	Properties    props.Bag `json:"properties"`
	Created       time.Time `json:"created"`
	Updated       time.Time `json:"updated"`
	TransactionID string    `json:"transaction_id"`
}

// Ref returns the node's entity reference.
func (n Node) Ref() EntityRef {
	return NodeRef(n.Label, n.ID)
}

// Edge is a typed, directed relationship. Identity is (Label, SrcID, DstID).
type Edge struct {
	Label         string    `json:"label"`
	SrcID         string    `json:"src_id"`
	DstID         string    `json:"dst_id"`
	Version       int64     `json:"version"`
	Properties    props.Bag `json:"properties"`
	Created       time.Time `json:"created"`
	Updated       time.Time `json:"updated"`
	TransactionID string    `json:"transaction_id"`
}

// Ref returns the edge's entity reference.
func (e Edge) Ref() EntityRef {
	return EdgeRef(e.Label, e.SrcID, e.DstID)
}

// EntityRef identifies a node (Label, ID) or an edge (Label, SrcID, DstID).
// For edges Label is the edge type name from the dictionary.
type EntityRef struct {
	Kind  EntityKind `json:"kind"`
	Label string     `json:"label"`
	ID    string     `json:"id,omitempty"`
	SrcID string     `json:"src_id,omitempty"`
	DstID string     `json:"dst_id,omitempty"`
}

// NodeRef builds a node reference.
func NodeRef(label, id string) EntityRef {
	return EntityRef{Kind: KindNode, Label: label, ID: id}
}

// EdgeRef builds an edge reference.
func EdgeRef(label, srcID, dstID string) EntityRef {
	return EntityRef{Kind: KindEdge, Label: label, SrcID: srcID, DstID: dstID}
}

// Key returns a string unique per entity, used for change-set maps.
func (r EntityRef) Key() string {
	if r.Kind == KindEdge {
		return fmt.Sprintf("edge/%s/%s/%s", r.Label, r.SrcID, r.DstID)
	}
	return fmt.Sprintf("node/%s/%s", r.Label, r.ID)
}

// String implements fmt.Stringer.
func (r EntityRef) String() string {
	if r.Kind == KindEdge {
		return fmt.Sprintf("%s(%s->%s)", r.Label, r.SrcID, r.DstID)
	}
	return fmt.Sprintf("%s(%s)", r.Label, r.ID)
}

// VoidKind tags a shadow row.
type VoidKind string

const (
	// VoidSuperseded marks a state replaced by a newer version.
	VoidSuperseded VoidKind = "superseded"

	// VoidDeleted marks a deletion: the void version has no successor.
	VoidDeleted VoidKind = "deleted"
)

// HistoryEntry is one shadow row: an immutable copy of an entity state.
type HistoryEntry struct {
	Ref           EntityRef `json:"ref"`
	Version       int64     `json:"version"`
	Properties    props.Bag `json:"properties"`
	Kind          VoidKind  `json:"kind"`
	TransactionID string    `json:"transaction_id"`
	VoidedAt      time.Time `json:"voided_at"`
}

// Action is the effect of a transaction on one entity.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Change records one entity touched by a transaction.
// OldVersion is 0 for creates; NewVersion is the void version for deletes.
type Change struct {
	Ref        EntityRef `json:"ref"`
	Action     Action    `json:"action"`
	OldVersion int64     `json:"old_version"`
	NewVersion int64     `json:"new_version"`
	OldProps   props.Bag `json:"old_props,omitempty"`
	NewProps   props.Bag `json:"new_props,omitempty"`
}

// TransactionState is the terminal state recorded on a log entry.
type TransactionState string

const (
	StateSucceeded TransactionState = "SUCCEEDED"
	StateDryRun    TransactionState = "DRY_RUN"
)

// Snapshot identifies one committed unit of work and the entities it touched.
type Snapshot struct {
	TransactionID string    `json:"transaction_id"`
	Timestamp     time.Time `json:"timestamp"`
	Actor         Actor     `json:"actor"`
	Project       string    `json:"project,omitempty"`
	Changes       []Change  `json:"changes"`
}

// Document is a payload submitted with a transaction, e.g. the raw record.
// Data is the uncompressed content; the store keeps it compressed.
type Document struct {
	Name   string `json:"name"`
	Format string `json:"format"`
	Data   []byte `json:"-"`
	Digest string `json:"digest"`
	Size   int64  `json:"size"`
}

// LogEntry is one row of the ordered transaction log.
type LogEntry struct {
	ID          string           `json:"id"`
	Seq         int64            `json:"seq"`
	Actor       Actor            `json:"actor"`
	Project     string           `json:"project,omitempty"`
	State       TransactionState `json:"state"`
	DryRun      bool             `json:"is_dry_run"`
	EntityCount int              `json:"entity_count"`
	CreatedAt   time.Time        `json:"created_at"`
	CommittedAt time.Time        `json:"committed_at"`
}
