package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"slices"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/roach88/vgraph/internal/dictionary"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added endpoint indexes on _voided_edges
const currentSchemaVersion = 1

// Driver names accepted by WithDriver.
const (
	DriverCGO    = "sqlite3" // github.com/mattn/go-sqlite3
	DriverPureGo = "sqlite"  // modernc.org/sqlite
)

// Static table names.
const (
	TableVersionedNodes       = "versioned_nodes"
	TableVoidedNodes          = "_voided_nodes"
	TableVoidedEdges          = "_voided_edges"
	TableTransactionSnapshots = "transaction_snapshots"
	TableTransactionDocuments = "transaction_documents"
	TableTransactionLogs      = "transaction_logs"
)

// Store provides durable storage for the versioned graph.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db     *sql.DB
	driver string

	mu     sync.RWMutex
	tables map[string]bool // type tables created by EnsureTypeTables
}

// Option configures Open.
type Option func(*openOptions)

type openOptions struct {
	driver string
}

// WithDriver selects the SQLite driver: DriverCGO (default) or DriverPureGo.
func WithDriver(name string) Option {
	return func(o *openOptions) {
		o.driver = name
	}
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// Open is idempotent.
func Open(path string, opts ...Option) (*Store, error) {
	o := openOptions{driver: DriverCGO}
	for _, opt := range opts {
		opt(&o)
	}
	switch o.driver {
	case DriverCGO, DriverPureGo:
	default:
		return nil, fmt.Errorf("open store: unknown driver %q", o.driver)
	}

	db, err := sql.Open(o.driver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, driver: o.driver, tables: make(map[string]bool)}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Driver returns the name of the SQL driver in use.
func (s *Store) Driver() string {
	return s.driver
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the _voided_edges endpoint indexes used by incident-edge
// history lookups. New databases get them from schema.sql.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_voided_edges_src ON _voided_edges(src_id);
		CREATE INDEX IF NOT EXISTS idx_voided_edges_dst ON _voided_edges(dst_id);
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// EnsureTypeTables creates the node_<label> and edge_<name> tables for every
// type in the dictionary. Existing tables are left untouched.
func (s *Store) EnsureTypeTables(ctx context.Context, dict *dictionary.Dictionary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ensure type tables: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, label := range dict.NodeLabels() {
		table := dictionary.NodeTable(label)
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				node_id        TEXT PRIMARY KEY,
				version        INTEGER NOT NULL CHECK (version > 0),
				properties     TEXT NOT NULL,
				created_at     TEXT NOT NULL,
				updated_at     TEXT NOT NULL,
				transaction_id TEXT NOT NULL
					REFERENCES transaction_logs(id) DEFERRABLE INITIALLY DEFERRED
			)`, quoteIdent(table)))
		if err != nil {
			return fmt.Errorf("ensure type tables: create %s: %w", table, err)
		}
	}

	for _, name := range dict.EdgeNames() {
		et, _ := dict.EdgeType(name)
		table := dictionary.EdgeTable(name)
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				src_id         TEXT NOT NULL REFERENCES %s(node_id) ON DELETE CASCADE,
				dst_id         TEXT NOT NULL REFERENCES %s(node_id) ON DELETE CASCADE,
				version        INTEGER NOT NULL CHECK (version > 0),
				properties     TEXT NOT NULL,
				created_at     TEXT NOT NULL,
				updated_at     TEXT NOT NULL,
				transaction_id TEXT NOT NULL
					REFERENCES transaction_logs(id) DEFERRABLE INITIALLY DEFERRED,
				PRIMARY KEY (src_id, dst_id)
			)`,
			quoteIdent(table),
			quoteIdent(dictionary.NodeTable(et.Src)),
			quoteIdent(dictionary.NodeTable(et.Dst)),
		))
		if err != nil {
			return fmt.Errorf("ensure type tables: create %s: %w", table, err)
		}
		_, err = tx.ExecContext(ctx, fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s(dst_id)",
			quoteIdent("idx_"+table+"_dst"), quoteIdent(table)))
		if err != nil {
			return fmt.Errorf("ensure type tables: index %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ensure type tables: commit: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range dict.NodeTables() {
		s.tables[t] = true
	}
	for _, t := range dict.EdgeTables() {
		s.tables[t] = true
	}
	return nil
}

// Tx is a write transaction. Obtain one with InTx.
type Tx struct {
	tx *sql.Tx
}

// InTx runs fn inside one SQL transaction. The transaction commits if fn
// returns nil and rolls back otherwise. Deferred foreign keys are checked
// at commit.
func (s *Store) InTx(ctx context.Context, fn func(*Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer sqlTx.Rollback() // No-op if committed

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// CountRows returns the number of rows in table.
func (s *Store) CountRows(ctx context.Context, table string) (int64, error) {
	if err := s.checkTable(table); err != nil {
		return 0, err
	}
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// DeleteAll deletes every row of each table, in the order given, inside one
// SQL transaction with foreign keys enforced. Any failure rolls back the
// whole sequence.
func (s *Store) DeleteAll(ctx context.Context, tables []string) error {
	for _, t := range tables {
		if err := s.checkTable(t); err != nil {
			return err
		}
	}
	return s.InTx(ctx, func(tx *Tx) error {
		for _, t := range tables {
			if _, err := tx.tx.ExecContext(ctx, "DELETE FROM "+quoteIdent(t)); err != nil {
				return fmt.Errorf("delete all from %s: %w", t, err)
			}
		}
		return nil
	})
}

// Tables returns every table known to the store, static tables first.
func (s *Store) Tables() []string {
	out := slices.Clone(staticTables)
	var typed []string
	s.mu.RLock()
	defer s.mu.RUnlock()
	for t := range s.tables {
		typed = append(typed, t)
	}
	slices.Sort(typed)
	return append(out, typed...)
}

var staticTables = []string{
	TableVersionedNodes,
	TableVoidedNodes,
	TableVoidedEdges,
	TableTransactionSnapshots,
	TableTransactionDocuments,
	TableTransactionLogs,
}

// checkTable rejects names that are neither static tables nor type tables
// created by EnsureTypeTables; table names are interpolated into SQL.
func (s *Store) checkTable(table string) error {
	if slices.Contains(staticTables, table) {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tables[table] {
		return nil
	}
	return fmt.Errorf("unknown table %q", table)
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
