// Package store provides SQLite-backed durable storage for the versioned
// property graph.
//
// Tables:
//   - node_<label>, edge_<name>: the one current row per entity, created
//     from the dictionary by EnsureTypeTables
//   - versioned_nodes: superseded node states
//   - _voided_nodes: node deletion markers
//   - _voided_edges: superseded and deleted edge states (void_kind)
//   - transaction_logs, transaction_snapshots, transaction_documents:
//     one log entry per committed transaction, its change rows and payloads
//
// # Invariants
//
// Version predicates: updates and deletes of current rows carry
// "WHERE version = ?"; a zero-row result means another transaction got
// there first. Creates are insert-if-absent.
//
// Idempotent archive: shadow inserts use ON CONFLICT DO NOTHING on
// (entity, version), so re-archiving a state leaves one row.
//
// Deterministic reads: every list query has an explicit ORDER BY.
//
// Deferred references: entity and shadow rows reference transaction_logs
// through DEFERRABLE INITIALLY DEFERRED foreign keys, checked when the SQL
// transaction commits.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - one open connection: SQLite has a single writer
//
// Two drivers are supported: github.com/mattn/go-sqlite3 (DriverCGO, the
// default) and modernc.org/sqlite (DriverPureGo) for builds without cgo.
package store
