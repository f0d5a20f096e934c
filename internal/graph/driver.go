// Package graph is the unit-of-work layer of the versioned property graph.
//
// A Driver holds the shared store, dictionary and transaction log. Callers
// open a Session with Begin, stage node and edge mutations, and Commit. A
// commit runs in one SQL transaction: current rows are written under
// version predicates, superseded and deleted states are archived to the
// shadow tables, and the transaction log entry, snapshot and documents are
// recorded. Either all of it is durable or none of it is.
//
//	sess, _ := driver.Begin(ctx, actor, graph.InProject("PRJ"))
//	v, _ := sess.UpsertNode(ctx, "case", "c1", props.NewBag(props.P("submitter_id", props.String("c1"))))
//	snap, err := sess.Commit(ctx)
//
// Sessions hold no database transaction while open. Concurrent sessions
// touching the same entity are serialized at commit by the version
// predicate: the loser gets CONFLICT and its whole change-set is discarded.
package graph

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/vgraph/internal/dictionary"
	"github.com/roach88/vgraph/internal/model"
	"github.com/roach88/vgraph/internal/store"
	"github.com/roach88/vgraph/internal/txlog"
)

// CommitListener is notified after a transaction is durable. Listeners run
// synchronously on the committing goroutine, outside the SQL transaction;
// they are how projections such as a search index follow the graph.
type CommitListener func(ctx context.Context, snap model.Snapshot)

// Driver is the shared entry point to one graph database.
//
// Thread-safety: Driver is safe for concurrent use. Sessions are not shared
// between goroutines by contract, but their methods are serialized anyway.
type Driver struct {
	store     *store.Store
	dict      *dictionary.Dictionary
	log       *txlog.Log
	logger    *slog.Logger
	now       func() time.Time
	listeners []CommitListener
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) {
		d.logger = l
	}
}

// WithClock sets the wall clock for entity timestamps. Default: time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) {
		d.now = now
	}
}

// WithListener registers a commit listener. Listeners run in registration
// order.
func WithListener(l CommitListener) Option {
	return func(d *Driver) {
		d.listeners = append(d.listeners, l)
	}
}

// New creates a driver. The store must already hold the dictionary's type
// tables (store.EnsureTypeTables).
func New(s *store.Store, dict *dictionary.Dictionary, log *txlog.Log, opts ...Option) *Driver {
	d := &Driver{
		store:  s,
		dict:   dict,
		log:    log,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dictionary returns the driver's dictionary.
func (d *Driver) Dictionary() *dictionary.Dictionary {
	return d.dict
}

// BeginOption configures a session.
type BeginOption func(*txlog.Meta)

// InProject records the project the transaction belongs to.
func InProject(project string) BeginOption {
	return func(m *txlog.Meta) {
		m.Project = project
	}
}

// DryRun makes Commit validate and log the transaction without writing
// entity or shadow rows. The log entry is recorded with state DRY_RUN.
func DryRun() BeginOption {
	return func(m *txlog.Meta) {
		m.DryRun = true
	}
}

// Begin opens a session for actor. The session starts OPEN.
func (d *Driver) Begin(ctx context.Context, actor model.Actor, opts ...BeginOption) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if actor.IsZero() {
		return nil, errors.New("begin: actor is required")
	}

	meta := txlog.Meta{Actor: actor}
	for _, opt := range opts {
		opt(&meta)
	}

	id := d.log.Begin(meta)
	d.logger.Debug("session opened",
		"transaction_id", id,
		"actor", actor.Username,
		"project", meta.Project,
		"dry_run", meta.DryRun,
	)

	return &Session{
		driver: d,
		id:     id,
		meta:   meta,
		state:  StateOpen,
		staged: make(map[string]*staged),
	}, nil
}

// GetNode returns the current state of a node. Shadow rows are never
// returned: a deleted node is NOT_FOUND.
func (d *Driver) GetNode(ctx context.Context, label, id string) (model.Node, error) {
	ref := model.NodeRef(label, id)
	if _, ok := d.dict.NodeType(label); !ok {
		return model.Node{}, model.NewNotFound(ref)
	}
	n, err := d.store.ReadNode(ctx, label, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Node{}, model.NewNotFound(ref)
	}
	if err != nil {
		return model.Node{}, model.NewStorageFailure("read node", err)
	}
	return n, nil
}

// GetEdge returns the current state of an edge.
func (d *Driver) GetEdge(ctx context.Context, label, srcID, dstID string) (model.Edge, error) {
	ref := model.EdgeRef(label, srcID, dstID)
	if _, ok := d.dict.EdgeType(label); !ok {
		return model.Edge{}, model.NewNotFound(ref)
	}
	e, err := d.store.ReadEdge(ctx, label, srcID, dstID)
	if errors.Is(err, store.ErrNotFound) {
		return model.Edge{}, model.NewNotFound(ref)
	}
	if err != nil {
		return model.Edge{}, model.NewStorageFailure("read edge", err)
	}
	return e, nil
}

// NodeHistory returns the shadow rows of a node ordered by version:
// superseded states and, if the node was deleted, the void marker.
func (d *Driver) NodeHistory(ctx context.Context, label, id string) ([]model.HistoryEntry, error) {
	h, err := d.store.NodeHistory(ctx, label, id)
	if err != nil {
		return nil, model.NewStorageFailure("read node history", err)
	}
	return h, nil
}

// EdgeHistory returns the shadow rows of an edge ordered by version.
func (d *Driver) EdgeHistory(ctx context.Context, label, srcID, dstID string) ([]model.HistoryEntry, error) {
	h, err := d.store.EdgeHistory(ctx, label, srcID, dstID)
	if err != nil {
		return nil, model.NewStorageFailure("read edge history", err)
	}
	return h, nil
}

// TransactionHistory returns every shadow row written by a transaction.
func (d *Driver) TransactionHistory(ctx context.Context, txID string) ([]model.HistoryEntry, error) {
	h, err := d.store.HistoryByTransaction(ctx, txID)
	if err != nil {
		return nil, model.NewStorageFailure("read transaction history", err)
	}
	return h, nil
}

// Transaction returns a committed transaction's log entry and snapshot.
func (d *Driver) Transaction(ctx context.Context, id string) (*txlog.Entry, error) {
	return d.log.Entry(ctx, id)
}

// Transactions lists committed transactions after afterSeq in commit order.
func (d *Driver) Transactions(ctx context.Context, afterSeq int64, limit int) ([]model.LogEntry, error) {
	return d.log.Entries(ctx, afterSeq, limit)
}

// Documents returns the documents attached to a committed transaction.
func (d *Driver) Documents(ctx context.Context, txID string) ([]model.Document, error) {
	return d.log.Documents(ctx, txID)
}
