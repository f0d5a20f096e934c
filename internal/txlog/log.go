// Package txlog is the transaction log: every write transaction gets an id
// at Begin, stages its snapshot and documents with Record, and becomes
// durable at Commit as one log entry, its change rows and its documents.
//
// Lifecycle of a transaction id:
//
//	Begin -> open -> Record* -> CommitIn -> committing -> Resolve -> committed
//	                         \-> Abort -> aborted
//
// An id is valid only while open. Abort never touches the database and
// returns an explicit receipt.
package txlog

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/roach88/vgraph/internal/model"
	"github.com/roach88/vgraph/internal/store"
)

// State of a transaction id.
type State string

const (
	StateOpen       State = "open"
	StateCommitting State = "committing"
	StateCommitted  State = "committed"
	StateAborted    State = "aborted"
)

// Meta describes who runs a transaction and how.
type Meta struct {
	Actor   model.Actor
	Project string
	DryRun  bool
}

// Log stages transactions in memory and writes them through the store.
//
// Thread-safety: Log is safe for concurrent use; each transaction id is
// expected to be driven by one caller.
type Log struct {
	store *store.Store
	ids   IDGenerator
	now   func() time.Time

	mu      sync.Mutex
	pending map[string]*pending
}

type pending struct {
	meta      Meta
	state     State
	createdAt time.Time
	changes   []model.Change
	docs      []model.Document
}

// Option configures a Log.
type Option func(*Log)

// WithIDGenerator sets the transaction id source. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(l *Log) {
		l.ids = g
	}
}

// WithClock sets the wall clock used for timestamps. Default: time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		l.now = now
	}
}

// New creates a transaction log over s.
func New(s *store.Store, opts ...Option) *Log {
	l := &Log{
		store:   s,
		ids:     UUIDv7Generator{},
		now:     time.Now,
		pending: make(map[string]*pending),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Begin opens a transaction and returns its id.
func (l *Log) Begin(meta Meta) string {
	id := l.ids.Generate()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending[id] = &pending{
		meta:      meta,
		state:     StateOpen,
		createdAt: l.now(),
	}
	return id
}

// State returns the state of an in-flight transaction. Ids that were never
// begun, or that reached a terminal state, report false.
func (l *Log) State(id string) (State, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.pending[id]
	if !ok {
		return "", false
	}
	return p.state, true
}

// Record stages the snapshot changes and documents of an open transaction.
// Changes replace any previously recorded; documents accumulate and must
// have distinct names.
func (l *Log) Record(id string, changes []model.Change, docs ...model.Document) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, err := l.open(id)
	if err != nil {
		return err
	}

	for _, d := range docs {
		if d.Name == "" {
			return fmt.Errorf("record %s: document name is required", id)
		}
		if slices.ContainsFunc(p.docs, func(o model.Document) bool { return o.Name == d.Name }) {
			return fmt.Errorf("record %s: duplicate document %q", id, d.Name)
		}
		p.docs = append(p.docs, d)
	}
	p.changes = slices.Clone(changes)
	return nil
}

// CommitReceipt describes a committed transaction.
type CommitReceipt struct {
	Entry     model.LogEntry
	Snapshot  model.Snapshot
	Documents []model.Document
}

// CommitIn writes the log entry, snapshot rows and documents inside the
// caller's SQL transaction and moves the id to committing. The caller must
// call Resolve with the outcome of its SQL commit.
func (l *Log) CommitIn(ctx context.Context, tx *store.Tx, id string) (*CommitReceipt, error) {
	l.mu.Lock()
	p, err := l.open(id)
	if err != nil {
		l.mu.Unlock()
		return nil, err
	}
	p.state = StateCommitting
	meta, createdAt := p.meta, p.createdAt
	changes, docs := p.changes, p.docs
	l.mu.Unlock()

	committedAt := l.now()
	state := model.StateSucceeded
	if meta.DryRun {
		state = model.StateDryRun
	}

	entry := model.LogEntry{
		ID:          id,
		Actor:       meta.Actor,
		Project:     meta.Project,
		State:       state,
		DryRun:      meta.DryRun,
		EntityCount: len(changes),
		CreatedAt:   createdAt,
		CommittedAt: committedAt,
	}

	seq, err := tx.WriteLog(ctx, entry)
	if err != nil {
		return nil, err
	}
	entry.Seq = seq

	if err := tx.WriteSnapshot(ctx, id, changes); err != nil {
		return nil, err
	}

	stored := make([]model.Document, 0, len(docs))
	for _, d := range docs {
		row, doc, err := encodeDocument(d)
		if err != nil {
			return nil, fmt.Errorf("commit %s: %w", id, err)
		}
		if err := tx.WriteDocument(ctx, id, row); err != nil {
			return nil, err
		}
		stored = append(stored, doc)
	}

	return &CommitReceipt{
		Entry: entry,
		Snapshot: model.Snapshot{
			TransactionID: id,
			Timestamp:     committedAt,
			Actor:         meta.Actor,
			Project:       meta.Project,
			Changes:       changes,
		},
		Documents: stored,
	}, nil
}

// Resolve finishes a committing transaction: committed when err is nil,
// aborted otherwise. Either way the id is no longer valid.
func (l *Log) Resolve(id string, err error) State {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.pending, id)
	if err != nil {
		return StateAborted
	}
	return StateCommitted
}

// Commit writes an open transaction in its own SQL transaction. Used for
// transactions that carry no entity writes, such as dry runs.
func (l *Log) Commit(ctx context.Context, id string) (*CommitReceipt, error) {
	var receipt *CommitReceipt
	err := l.store.InTx(ctx, func(tx *store.Tx) error {
		var err error
		receipt, err = l.CommitIn(ctx, tx, id)
		return err
	})
	if model.IsSessionClosed(err) {
		return nil, err
	}
	l.Resolve(id, err)
	if err != nil {
		return nil, model.NewStorageFailure("commit transaction "+id, err)
	}
	return receipt, nil
}

// AbortReceipt confirms that a transaction was discarded.
type AbortReceipt struct {
	TransactionID      string    `json:"transaction_id"`
	DiscardedChanges   int       `json:"discarded_changes"`
	DiscardedDocuments int       `json:"discarded_documents"`
	AbortedAt          time.Time `json:"aborted_at"`
}

// Abort discards an open transaction. Nothing is written.
// Aborting an id that is not open returns SESSION_CLOSED.
func (l *Log) Abort(id string) (AbortReceipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, err := l.open(id)
	if err != nil {
		return AbortReceipt{}, err
	}
	delete(l.pending, id)

	return AbortReceipt{
		TransactionID:      id,
		DiscardedChanges:   len(p.changes),
		DiscardedDocuments: len(p.docs),
		AbortedAt:          l.now(),
	}, nil
}

// open returns the pending transaction if it is open. Callers hold l.mu.
func (l *Log) open(id string) (*pending, error) {
	p, ok := l.pending[id]
	if !ok {
		return nil, model.NewSessionClosed(id, "not open")
	}
	if p.state != StateOpen {
		return nil, model.NewSessionClosed(id, string(p.state))
	}
	return p, nil
}

// Entry is a committed transaction as read back from the log.
type Entry struct {
	model.LogEntry
	Changes []model.Change `json:"changes"`
}

// Entry reads one committed transaction. Returns NOT_FOUND for unknown ids.
func (l *Log) Entry(ctx context.Context, id string) (*Entry, error) {
	le, err := l.store.ReadLog(ctx, id)
	if err == store.ErrNotFound {
		return nil, &model.GraphError{
			Code:    model.ErrCodeNotFound,
			Message: fmt.Sprintf("transaction %s not found", id),
		}
	}
	if err != nil {
		return nil, model.NewStorageFailure("read log", err)
	}

	changes, err := l.store.ReadSnapshot(ctx, id)
	if err != nil {
		return nil, model.NewStorageFailure("read snapshot", err)
	}
	return &Entry{LogEntry: le, Changes: changes}, nil
}

// Entries lists log entries after afterSeq in commit order.
// limit <= 0 means no limit.
func (l *Log) Entries(ctx context.Context, afterSeq int64, limit int) ([]model.LogEntry, error) {
	entries, err := l.store.ReadLogs(ctx, afterSeq, limit)
	if err != nil {
		return nil, model.NewStorageFailure("read logs", err)
	}
	return entries, nil
}

// Documents reads the documents of a committed transaction, decompressed
// and digest-checked.
func (l *Log) Documents(ctx context.Context, id string) ([]model.Document, error) {
	rows, err := l.store.ReadDocuments(ctx, id)
	if err != nil {
		return nil, model.NewStorageFailure("read documents", err)
	}
	docs := make([]model.Document, 0, len(rows))
	for _, row := range rows {
		doc, err := decodeDocument(row)
		if err != nil {
			return nil, fmt.Errorf("read documents %s: %w", id, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
