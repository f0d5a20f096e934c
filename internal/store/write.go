package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/vgraph/internal/dictionary"
	"github.com/roach88/vgraph/internal/model"
)

// InsertNode inserts a new current node row.
// Uses ON CONFLICT(node_id) DO NOTHING: inserted is false when a current row
// for the id already exists, which the caller treats as a version conflict.
func (t *Tx) InsertNode(ctx context.Context, n model.Node) (inserted bool, err error) {
	propsJSON, err := marshalProps(n.Properties)
	if err != nil {
		return false, fmt.Errorf("insert node: %w", err)
	}

	result, err := t.tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s
		(node_id, version, properties, created_at, updated_at, transaction_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_id) DO NOTHING
	`, quoteIdent(dictionary.NodeTable(n.Label))),
		n.ID,
		n.Version,
		propsJSON,
		formatTime(n.Created),
		formatTime(n.Updated),
		n.TransactionID,
	)
	if err != nil {
		return false, fmt.Errorf("insert node %s: %w", n.Ref(), err)
	}
	return affected(result, "insert node")
}

// UpdateNode replaces the current node row if it is still at expected.
// updated is false when the row moved on or no longer exists.
func (t *Tx) UpdateNode(ctx context.Context, n model.Node, expected int64) (updated bool, err error) {
	propsJSON, err := marshalProps(n.Properties)
	if err != nil {
		return false, fmt.Errorf("update node: %w", err)
	}

	result, err := t.tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s
		SET version = ?, properties = ?, updated_at = ?, transaction_id = ?
		WHERE node_id = ? AND version = ?
	`, quoteIdent(dictionary.NodeTable(n.Label))),
		n.Version,
		propsJSON,
		formatTime(n.Updated),
		n.TransactionID,
		n.ID,
		expected,
	)
	if err != nil {
		return false, fmt.Errorf("update node %s: %w", n.Ref(), err)
	}
	return affected(result, "update node")
}

// DeleteNode removes the current node row if it is still at expected.
// Edge rows referencing the node cascade; callers void them first.
func (t *Tx) DeleteNode(ctx context.Context, label, id string, expected int64) (deleted bool, err error) {
	result, err := t.tx.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE node_id = ? AND version = ?
	`, quoteIdent(dictionary.NodeTable(label))), id, expected)
	if err != nil {
		return false, fmt.Errorf("delete node %s(%s): %w", label, id, err)
	}
	return affected(result, "delete node")
}

// InsertEdge inserts a new current edge row. Both endpoints must have
// current rows in their node tables (foreign keys).
func (t *Tx) InsertEdge(ctx context.Context, e model.Edge) (inserted bool, err error) {
	propsJSON, err := marshalProps(e.Properties)
	if err != nil {
		return false, fmt.Errorf("insert edge: %w", err)
	}

	result, err := t.tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s
		(src_id, dst_id, version, properties, created_at, updated_at, transaction_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(src_id, dst_id) DO NOTHING
	`, quoteIdent(dictionary.EdgeTable(e.Label))),
		e.SrcID,
		e.DstID,
		e.Version,
		propsJSON,
		formatTime(e.Created),
		formatTime(e.Updated),
		e.TransactionID,
	)
	if err != nil {
		return false, fmt.Errorf("insert edge %s: %w", e.Ref(), err)
	}
	return affected(result, "insert edge")
}

// UpdateEdge replaces the current edge row if it is still at expected.
func (t *Tx) UpdateEdge(ctx context.Context, e model.Edge, expected int64) (updated bool, err error) {
	propsJSON, err := marshalProps(e.Properties)
	if err != nil {
		return false, fmt.Errorf("update edge: %w", err)
	}

	result, err := t.tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s
		SET version = ?, properties = ?, updated_at = ?, transaction_id = ?
		WHERE src_id = ? AND dst_id = ? AND version = ?
	`, quoteIdent(dictionary.EdgeTable(e.Label))),
		e.Version,
		propsJSON,
		formatTime(e.Updated),
		e.TransactionID,
		e.SrcID,
		e.DstID,
		expected,
	)
	if err != nil {
		return false, fmt.Errorf("update edge %s: %w", e.Ref(), err)
	}
	return affected(result, "update edge")
}

// DeleteEdge removes the current edge row if it is still at expected.
func (t *Tx) DeleteEdge(ctx context.Context, label, srcID, dstID string, expected int64) (deleted bool, err error) {
	result, err := t.tx.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE src_id = ? AND dst_id = ? AND version = ?
	`, quoteIdent(dictionary.EdgeTable(label))), srcID, dstID, expected)
	if err != nil {
		return false, fmt.Errorf("delete edge %s(%s->%s): %w", label, srcID, dstID, err)
	}
	return affected(result, "delete edge")
}

// NodeVersion returns the current version of a node inside the transaction.
func (t *Tx) NodeVersion(ctx context.Context, label, id string) (version int64, ok bool, err error) {
	err = t.tx.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT version FROM %s WHERE node_id = ?", quoteIdent(dictionary.NodeTable(label))),
		id,
	).Scan(&version)
	return scanVersion(version, err)
}

// EdgeVersion returns the current version of an edge inside the transaction.
func (t *Tx) EdgeVersion(ctx context.Context, label, srcID, dstID string) (version int64, ok bool, err error) {
	err = t.tx.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT version FROM %s WHERE src_id = ? AND dst_id = ?", quoteIdent(dictionary.EdgeTable(label))),
		srcID, dstID,
	).Scan(&version)
	return scanVersion(version, err)
}

func scanVersion(version int64, err error) (int64, bool, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read version: %w", err)
	}
	return version, true, nil
}

// ArchiveNode copies a superseded node state into versioned_nodes.
// Uses ON CONFLICT DO NOTHING: archiving the same (label, id, version)
// twice leaves one row.
func (t *Tx) ArchiveNode(ctx context.Context, prev model.Node, txID string, at time.Time) error {
	return t.writeNodeShadow(ctx, TableVersionedNodes, prev, txID, at)
}

// VoidNode writes the deletion marker for a node. state carries the void
// version and the last properties.
func (t *Tx) VoidNode(ctx context.Context, state model.Node, txID string, at time.Time) error {
	return t.writeNodeShadow(ctx, TableVoidedNodes, state, txID, at)
}

func (t *Tx) writeNodeShadow(ctx context.Context, table string, n model.Node, txID string, at time.Time) error {
	propsJSON, err := marshalProps(n.Properties)
	if err != nil {
		return fmt.Errorf("archive node: %w", err)
	}

	_, err = t.tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s
		(label, node_id, version, properties, transaction_id, voided_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(label, node_id, version) DO NOTHING
	`, quoteIdent(table)),
		n.Label,
		n.ID,
		n.Version,
		propsJSON,
		txID,
		formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("archive node %s v%d into %s: %w", n.Ref(), n.Version, table, err)
	}
	return nil
}

// ArchiveEdge copies a superseded edge state into _voided_edges.
func (t *Tx) ArchiveEdge(ctx context.Context, prev model.Edge, txID string, at time.Time) error {
	return t.writeEdgeShadow(ctx, prev, model.VoidSuperseded, txID, at)
}

// VoidEdge writes the deletion marker for an edge at its void version.
func (t *Tx) VoidEdge(ctx context.Context, state model.Edge, txID string, at time.Time) error {
	return t.writeEdgeShadow(ctx, state, model.VoidDeleted, txID, at)
}

func (t *Tx) writeEdgeShadow(ctx context.Context, e model.Edge, kind model.VoidKind, txID string, at time.Time) error {
	propsJSON, err := marshalProps(e.Properties)
	if err != nil {
		return fmt.Errorf("archive edge: %w", err)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO _voided_edges
		(label, src_id, dst_id, version, properties, void_kind, transaction_id, voided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(label, src_id, dst_id, version, void_kind) DO NOTHING
	`,
		e.Label,
		e.SrcID,
		e.DstID,
		e.Version,
		propsJSON,
		string(kind),
		txID,
		formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("archive edge %s v%d: %w", e.Ref(), e.Version, err)
	}
	return nil
}

// WriteLog appends a transaction log entry and returns its sequence number.
// Sequence numbers are assigned inside the write transaction, so they are
// gap-free and follow commit order.
func (t *Tx) WriteLog(ctx context.Context, entry model.LogEntry) (seq int64, err error) {
	actorJSON, err := marshalActor(entry.Actor)
	if err != nil {
		return 0, fmt.Errorf("write log: %w", err)
	}

	err = t.tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) + 1 FROM transaction_logs",
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("write log: next seq: %w", err)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO transaction_logs
		(id, seq, submitter_id, submitter_username, role, project, is_dry_run,
		 state, actor, entity_count, created_at, committed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID,
		seq,
		entry.Actor.ID,
		entry.Actor.Username,
		actorRole(entry.Actor),
		entry.Project,
		entry.DryRun,
		string(entry.State),
		actorJSON,
		entry.EntityCount,
		formatTime(entry.CreatedAt),
		formatTime(entry.CommittedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("write log %s: %w", entry.ID, err)
	}
	return seq, nil
}

func actorRole(a model.Actor) string {
	if a.IsAdmin {
		return "admin"
	}
	return "submitter"
}

// WriteSnapshot writes the change rows of a transaction, in order.
func (t *Tx) WriteSnapshot(ctx context.Context, txID string, changes []model.Change) error {
	for i, c := range changes {
		oldProps, err := marshalOptionalProps(c.OldProps)
		if err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
		newProps, err := marshalOptionalProps(c.NewProps)
		if err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}

		_, err = t.tx.ExecContext(ctx, `
			INSERT INTO transaction_snapshots
			(transaction_id, ordinal, entity_kind, label, entity_key, node_id, src_id, dst_id,
			 action, old_version, new_version, old_props, new_props)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			txID,
			i,
			string(c.Ref.Kind),
			c.Ref.Label,
			c.Ref.Key(),
			c.Ref.ID,
			c.Ref.SrcID,
			c.Ref.DstID,
			string(c.Action),
			c.OldVersion,
			c.NewVersion,
			oldProps,
			newProps,
		)
		if err != nil {
			return fmt.Errorf("write snapshot %s: %s: %w", txID, c.Ref, err)
		}
	}
	return nil
}

// DocumentRow is a stored transaction document. Blob holds the encoded
// (compressed) payload; RawSize is the decoded length.
type DocumentRow struct {
	Name    string
	Format  string
	Blob    []byte
	Digest  string
	RawSize int64
}

// WriteDocument attaches a document to a transaction.
func (t *Tx) WriteDocument(ctx context.Context, txID string, doc DocumentRow) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO transaction_documents
		(transaction_id, name, doc_format, doc, digest, raw_size)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		txID,
		doc.Name,
		doc.Format,
		doc.Blob,
		doc.Digest,
		doc.RawSize,
	)
	if err != nil {
		return fmt.Errorf("write document %s/%s: %w", txID, doc.Name, err)
	}
	return nil
}

func affected(result sql.Result, op string) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: rows affected: %w", op, err)
	}
	return n > 0, nil
}
