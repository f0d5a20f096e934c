package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/vgraph/internal/dictionary"
	"github.com/roach88/vgraph/internal/model"
)

// ErrNotFound is returned by single-row reads when no row matches.
var ErrNotFound = errors.New("not found")

// ReadNode returns the current state of a node.
// Returns ErrNotFound if the node has no current row.
func (s *Store) ReadNode(ctx context.Context, label, id string) (model.Node, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT node_id, version, properties, created_at, updated_at, transaction_id
		FROM %s
		WHERE node_id = ?
	`, quoteIdent(dictionary.NodeTable(label))), id)

	n, err := scanNode(row, label)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Node{}, ErrNotFound
	}
	return n, err
}

// ReadEdge returns the current state of an edge.
// Returns ErrNotFound if the edge has no current row.
func (s *Store) ReadEdge(ctx context.Context, label, srcID, dstID string) (model.Edge, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT src_id, dst_id, version, properties, created_at, updated_at, transaction_id
		FROM %s
		WHERE src_id = ? AND dst_id = ?
	`, quoteIdent(dictionary.EdgeTable(label))), srcID, dstID)

	e, err := scanEdge(row, label)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Edge{}, ErrNotFound
	}
	return e, err
}

// ReadIncidentEdges returns every current edge with the node as source or
// destination, ordered by edge type (dictionary order), then src_id, dst_id.
func (s *Store) ReadIncidentEdges(ctx context.Context, dict *dictionary.Dictionary, label, id string) ([]model.Edge, error) {
	return readIncidentEdges(ctx, s.db, dict, label, id)
}

// ReadIncidentEdges is Store.ReadIncidentEdges inside the transaction.
func (t *Tx) ReadIncidentEdges(ctx context.Context, dict *dictionary.Dictionary, label, id string) ([]model.Edge, error) {
	return readIncidentEdges(ctx, t.tx, dict, label, id)
}

func readIncidentEdges(ctx context.Context, q queryer, dict *dictionary.Dictionary, label, id string) ([]model.Edge, error) {
	edges := []model.Edge{}
	for _, et := range dict.EdgesTouching(label) {
		var where []string
		var args []any
		if et.Src == label {
			where = append(where, "src_id = ?")
			args = append(args, id)
		}
		if et.Dst == label {
			where = append(where, "dst_id = ?")
			args = append(args, id)
		}

		rows, err := q.QueryContext(ctx, fmt.Sprintf(`
			SELECT src_id, dst_id, version, properties, created_at, updated_at, transaction_id
			FROM %s
			WHERE %s
			ORDER BY src_id COLLATE BINARY ASC, dst_id COLLATE BINARY ASC
		`, quoteIdent(dictionary.EdgeTable(et.Name)), strings.Join(where, " OR ")), args...)
		if err != nil {
			return nil, fmt.Errorf("query incident edges %s: %w", et.Name, err)
		}

		for rows.Next() {
			e, err := scanEdge(rows, et.Name)
			if err != nil {
				rows.Close()
				return nil, err
			}
			edges = append(edges, e)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterate incident edges %s: %w", et.Name, err)
		}
	}
	return edges, nil
}

// NodeHistory returns the shadow rows of a node: superseded states from
// versioned_nodes and deletion markers from _voided_nodes, ordered by
// version.
func (s *Store) NodeHistory(ctx context.Context, label, id string) ([]model.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT label, node_id, version, properties, kind, transaction_id, voided_at
		FROM (
			SELECT label, node_id, version, properties, 'superseded' AS kind, transaction_id, voided_at
			FROM versioned_nodes WHERE label = ? AND node_id = ?
			UNION ALL
			SELECT label, node_id, version, properties, 'deleted' AS kind, transaction_id, voided_at
			FROM _voided_nodes WHERE label = ? AND node_id = ?
		)
		ORDER BY version ASC, kind DESC
	`, label, id, label, id)
	if err != nil {
		return nil, fmt.Errorf("query node history: %w", err)
	}
	defer rows.Close()
	return collectNodeHistory(rows)
}

// EdgeHistory returns the shadow rows of an edge, ordered by version.
func (s *Store) EdgeHistory(ctx context.Context, label, srcID, dstID string) ([]model.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT label, src_id, dst_id, version, properties, void_kind, transaction_id, voided_at
		FROM _voided_edges
		WHERE label = ? AND src_id = ? AND dst_id = ?
		ORDER BY version ASC, void_kind DESC
	`, label, srcID, dstID)
	if err != nil {
		return nil, fmt.Errorf("query edge history: %w", err)
	}
	defer rows.Close()
	return collectEdgeHistory(rows)
}

// HistoryByTransaction returns every shadow row written by a transaction:
// nodes first (label, id, version), then edges (label, src, dst, version).
func (s *Store) HistoryByTransaction(ctx context.Context, txID string) ([]model.HistoryEntry, error) {
	nodeRows, err := s.db.QueryContext(ctx, `
		SELECT label, node_id, version, properties, kind, transaction_id, voided_at
		FROM (
			SELECT label, node_id, version, properties, 'superseded' AS kind, transaction_id, voided_at
			FROM versioned_nodes WHERE transaction_id = ?
			UNION ALL
			SELECT label, node_id, version, properties, 'deleted' AS kind, transaction_id, voided_at
			FROM _voided_nodes WHERE transaction_id = ?
		)
		ORDER BY label COLLATE BINARY ASC, node_id COLLATE BINARY ASC, version ASC, kind DESC
	`, txID, txID)
	if err != nil {
		return nil, fmt.Errorf("query transaction history: %w", err)
	}
	nodes, err := collectNodeHistory(nodeRows)
	nodeRows.Close()
	if err != nil {
		return nil, err
	}

	edgeRows, err := s.db.QueryContext(ctx, `
		SELECT label, src_id, dst_id, version, properties, void_kind, transaction_id, voided_at
		FROM _voided_edges
		WHERE transaction_id = ?
		ORDER BY label COLLATE BINARY ASC, src_id COLLATE BINARY ASC, dst_id COLLATE BINARY ASC,
		         version ASC, void_kind DESC
	`, txID)
	if err != nil {
		return nil, fmt.Errorf("query transaction history: %w", err)
	}
	defer edgeRows.Close()
	edges, err := collectEdgeHistory(edgeRows)
	if err != nil {
		return nil, err
	}

	return append(nodes, edges...), nil
}

// LastNodeVersion returns the highest version recorded for a node across
// the current row and both shadow tables, or 0 if the node never existed.
// A re-created node continues its version chain from here.
func (s *Store) LastNodeVersion(ctx context.Context, label, id string) (int64, error) {
	return lastNodeVersion(ctx, s.db, label, id)
}

// LastEdgeVersion is LastNodeVersion for edges.
func (s *Store) LastEdgeVersion(ctx context.Context, label, srcID, dstID string) (int64, error) {
	return lastEdgeVersion(ctx, s.db, label, srcID, dstID)
}

// LastNodeVersion is Store.LastNodeVersion inside the transaction.
func (t *Tx) LastNodeVersion(ctx context.Context, label, id string) (int64, error) {
	return lastNodeVersion(ctx, t.tx, label, id)
}

// LastEdgeVersion is Store.LastEdgeVersion inside the transaction.
func (t *Tx) LastEdgeVersion(ctx context.Context, label, srcID, dstID string) (int64, error) {
	return lastEdgeVersion(ctx, t.tx, label, srcID, dstID)
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func lastNodeVersion(ctx context.Context, q queryer, label, id string) (int64, error) {
	var v int64
	err := q.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT MAX(v) FROM (
			SELECT COALESCE(MAX(version), 0) AS v FROM %s WHERE node_id = ?
			UNION ALL
			SELECT COALESCE(MAX(version), 0) FROM versioned_nodes WHERE label = ? AND node_id = ?
			UNION ALL
			SELECT COALESCE(MAX(version), 0) FROM _voided_nodes WHERE label = ? AND node_id = ?
		)
	`, quoteIdent(dictionary.NodeTable(label))), id, label, id, label, id).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("last node version: %w", err)
	}
	return v, nil
}

func lastEdgeVersion(ctx context.Context, q queryer, label, srcID, dstID string) (int64, error) {
	var v int64
	err := q.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT MAX(v) FROM (
			SELECT COALESCE(MAX(version), 0) AS v FROM %s WHERE src_id = ? AND dst_id = ?
			UNION ALL
			SELECT COALESCE(MAX(version), 0) FROM _voided_edges
			WHERE label = ? AND src_id = ? AND dst_id = ?
		)
	`, quoteIdent(dictionary.EdgeTable(label))), srcID, dstID, label, srcID, dstID).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("last edge version: %w", err)
	}
	return v, nil
}

// ReadLog returns one transaction log entry.
// Returns ErrNotFound if no entry has the id.
func (s *Store) ReadLog(ctx context.Context, id string) (model.LogEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, seq, project, is_dry_run, state, actor, entity_count, created_at, committed_at
		FROM transaction_logs
		WHERE id = ?
	`, id)

	entry, err := scanLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.LogEntry{}, ErrNotFound
	}
	return entry, err
}

// ReadLogs returns log entries with seq > afterSeq in seq order.
// limit <= 0 means no limit.
func (s *Store) ReadLogs(ctx context.Context, afterSeq int64, limit int) ([]model.LogEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, project, is_dry_run, state, actor, entity_count, created_at, committed_at
		FROM transaction_logs
		WHERE seq > ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
		LIMIT ?
	`, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	entries := []model.LogEntry{}
	for rows.Next() {
		e, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate logs: %w", err)
	}
	return entries, nil
}

// ReadSnapshot returns the change rows of a transaction in recorded order.
func (s *Store) ReadSnapshot(ctx context.Context, txID string) ([]model.Change, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_kind, label, node_id, src_id, dst_id, action,
		       old_version, new_version, old_props, new_props
		FROM transaction_snapshots
		WHERE transaction_id = ?
		ORDER BY ordinal ASC
	`, txID)
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	defer rows.Close()

	changes := []model.Change{}
	for rows.Next() {
		var c model.Change
		var kind, action string
		var oldProps, newProps *string
		if err := rows.Scan(
			&kind, &c.Ref.Label, &c.Ref.ID, &c.Ref.SrcID, &c.Ref.DstID, &action,
			&c.OldVersion, &c.NewVersion, &oldProps, &newProps,
		); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		c.Ref.Kind = model.EntityKind(kind)
		c.Action = model.Action(action)
		if c.OldProps, err = unmarshalOptionalProps(oldProps); err != nil {
			return nil, err
		}
		if c.NewProps, err = unmarshalOptionalProps(newProps); err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot: %w", err)
	}
	return changes, nil
}

// ReadDocuments returns the stored documents of a transaction, ordered by
// insertion.
func (s *Store) ReadDocuments(ctx context.Context, txID string) ([]DocumentRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, doc_format, doc, digest, raw_size
		FROM transaction_documents
		WHERE transaction_id = ?
		ORDER BY id ASC
	`, txID)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	docs := []DocumentRow{}
	for rows.Next() {
		var d DocumentRow
		if err := rows.Scan(&d.Name, &d.Format, &d.Blob, &d.Digest, &d.RawSize); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner, label string) (model.Node, error) {
	var n model.Node
	var propsJSON, created, updated string
	if err := row.Scan(&n.ID, &n.Version, &propsJSON, &created, &updated, &n.TransactionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Node{}, err
		}
		return model.Node{}, fmt.Errorf("scan node: %w", err)
	}
	n.Label = label

	var err error
	if n.Properties, err = unmarshalProps(propsJSON); err != nil {
		return model.Node{}, err
	}
	if n.Created, err = parseTime(created); err != nil {
		return model.Node{}, err
	}
	if n.Updated, err = parseTime(updated); err != nil {
		return model.Node{}, err
	}
	return n, nil
}

func scanEdge(row rowScanner, label string) (model.Edge, error) {
	var e model.Edge
	var propsJSON, created, updated string
	if err := row.Scan(&e.SrcID, &e.DstID, &e.Version, &propsJSON, &created, &updated, &e.TransactionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Edge{}, err
		}
		return model.Edge{}, fmt.Errorf("scan edge: %w", err)
	}
	e.Label = label

	var err error
	if e.Properties, err = unmarshalProps(propsJSON); err != nil {
		return model.Edge{}, err
	}
	if e.Created, err = parseTime(created); err != nil {
		return model.Edge{}, err
	}
	if e.Updated, err = parseTime(updated); err != nil {
		return model.Edge{}, err
	}
	return e, nil
}

func scanLog(row rowScanner) (model.LogEntry, error) {
	var e model.LogEntry
	var state, actorJSON, created, committed string
	if err := row.Scan(
		&e.ID, &e.Seq, &e.Project, &e.DryRun, &state, &actorJSON,
		&e.EntityCount, &created, &committed,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.LogEntry{}, err
		}
		return model.LogEntry{}, fmt.Errorf("scan log: %w", err)
	}
	e.State = model.TransactionState(state)

	var err error
	if e.Actor, err = unmarshalActor(actorJSON); err != nil {
		return model.LogEntry{}, err
	}
	if e.CreatedAt, err = parseTime(created); err != nil {
		return model.LogEntry{}, err
	}
	if e.CommittedAt, err = parseTime(committed); err != nil {
		return model.LogEntry{}, err
	}
	return e, nil
}

func collectNodeHistory(rows *sql.Rows) ([]model.HistoryEntry, error) {
	history := []model.HistoryEntry{}
	for rows.Next() {
		var h model.HistoryEntry
		var label, id, propsJSON, kind, voidedAt string
		if err := rows.Scan(&label, &id, &h.Version, &propsJSON, &kind, &h.TransactionID, &voidedAt); err != nil {
			return nil, fmt.Errorf("scan node history: %w", err)
		}
		h.Ref = model.NodeRef(label, id)
		h.Kind = model.VoidKind(kind)

		var err error
		if h.Properties, err = unmarshalProps(propsJSON); err != nil {
			return nil, err
		}
		if h.VoidedAt, err = parseTime(voidedAt); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate node history: %w", err)
	}
	return history, nil
}

func collectEdgeHistory(rows *sql.Rows) ([]model.HistoryEntry, error) {
	history := []model.HistoryEntry{}
	for rows.Next() {
		var h model.HistoryEntry
		var label, src, dst, propsJSON, kind, voidedAt string
		if err := rows.Scan(&label, &src, &dst, &h.Version, &propsJSON, &kind, &h.TransactionID, &voidedAt); err != nil {
			return nil, fmt.Errorf("scan edge history: %w", err)
		}
		h.Ref = model.EdgeRef(label, src, dst)
		h.Kind = model.VoidKind(kind)

		var err error
		if h.Properties, err = unmarshalProps(propsJSON); err != nil {
			return nil, err
		}
		if h.VoidedAt, err = parseTime(voidedAt); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edge history: %w", err)
	}
	return history, nil
}
