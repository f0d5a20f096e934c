package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/vgraph/internal/dictionary"
	"github.com/roach88/vgraph/internal/graph"
	"github.com/roach88/vgraph/internal/model"
	"github.com/roach88/vgraph/internal/props"
	"github.com/roach88/vgraph/internal/store"
	"github.com/roach88/vgraph/internal/testutil"
	"github.com/roach88/vgraph/internal/txlog"
)

// Epoch is the first instant of every scenario's clock.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Harness is the scenario execution engine.
// It runs scenarios with a stepping clock and sequential transaction ids.
type Harness struct {
	driver   *graph.Driver
	logger   *slog.Logger
	actor    model.Actor
	sessions map[string]*graph.Session
}

type runOptions struct {
	logger      *slog.Logger
	storeDriver string
}

// Option configures Run.
type Option func(*runOptions)

// WithLogger sets the logger passed to the graph driver. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(o *runOptions) {
		o.logger = l
	}
}

// WithStoreDriver selects the SQLite driver. Default: store.DriverCGO.
func WithStoreDriver(name string) Option {
	return func(o *runOptions) {
		o.storeDriver = name
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh database in a temporary directory that is
// removed afterwards. Execution flow:
//
//  1. compile the dictionary and create its type tables
//  2. execute the steps, checking expect clauses
//  3. count the rows of every table
//  4. evaluate the assertions
//
// Failed expectations and assertions are reported in the Result; the
// returned error is reserved for scenarios that cannot run at all.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	o := runOptions{
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		storeDriver: store.DriverCGO,
	}
	for _, opt := range opts {
		opt(&o)
	}

	src, err := os.ReadFile(scenario.Dictionary)
	if err != nil {
		return nil, fmt.Errorf("failed to read dictionary: %w", err)
	}
	dict, err := dictionary.LoadString(filepath.Base(scenario.Dictionary), string(src))
	if err != nil {
		return nil, fmt.Errorf("failed to load dictionary: %w", err)
	}

	dir, err := os.MkdirTemp("", "vgraph-scenario-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario directory: %w", err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(filepath.Join(dir, "graph.db"), store.WithDriver(o.storeDriver))
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.EnsureTypeTables(ctx, dict); err != nil {
		return nil, fmt.Errorf("failed to create type tables: %w", err)
	}

	clock := testutil.NewStepClock(Epoch, time.Second)
	log := txlog.New(st,
		txlog.WithIDGenerator(testutil.NewSequenceGenerator(scenario.IDPrefix)),
		txlog.WithClock(clock.Now),
	)
	h := &Harness{
		driver:   graph.New(st, dict, log, graph.WithClock(clock.Now), graph.WithLogger(o.logger)),
		logger:   o.logger,
		actor:    scenario.Actor.actor(),
		sessions: make(map[string]*graph.Session),
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("failed to execute step %d: %w", i, err)
		}
	}

	for _, table := range st.Tables() {
		n, err := st.CountRows(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("failed to count rows: %w", err)
		}
		result.Tables[table] = n
	}

	actx := &AssertionContext{
		Driver:   h.driver,
		Store:    st,
		Sessions: h.sessionIDs(),
		Ctx:      ctx,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

// RunFile loads and runs a scenario file.
func RunFile(path string, opts ...Option) (*Scenario, *Result, error) {
	scenario, err := LoadScenario(path)
	if err != nil {
		return nil, nil, err
	}
	result, err := Run(scenario, opts...)
	return scenario, result, err
}

// executeStep runs one step and records its trace event. Unexpected
// outcomes are added to result; the returned error aborts the scenario.
func (h *Harness) executeStep(ctx context.Context, index int, step Step, result *Result) error {
	sess, err := h.session(ctx, step)
	if err != nil {
		return err
	}

	event := TraceEvent{
		Step:          index,
		Session:       step.Session,
		TransactionID: sess.ID(),
		Op:            step.Op,
	}

	var version int64
	switch step.Op {
	case OpBegin:
	case OpUpsertNode:
		event.Ref = model.NodeRef(step.Label, step.ID).String()
		var bag props.Bag
		if bag, err = props.BagFromMap(step.Props); err == nil {
			version, err = sess.UpsertNode(ctx, step.Label, step.ID, bag, mutationOpts(step)...)
		}
	case OpDeleteNode:
		event.Ref = model.NodeRef(step.Label, step.ID).String()
		version, err = sess.DeleteNode(ctx, step.Label, step.ID, mutationOpts(step)...)
	case OpUpsertEdge:
		event.Ref = model.EdgeRef(step.Label, step.Src, step.Dst).String()
		var bag props.Bag
		if bag, err = props.BagFromMap(step.Props); err == nil {
			version, err = sess.UpsertEdge(ctx, step.Label, step.Src, step.Dst, bag, mutationOpts(step)...)
		}
	case OpDeleteEdge:
		event.Ref = model.EdgeRef(step.Label, step.Src, step.Dst).String()
		version, err = sess.DeleteEdge(ctx, step.Label, step.Src, step.Dst, mutationOpts(step)...)
	case OpAttach:
		err = sess.AttachDocument(step.Document.Name, step.Document.Format, []byte(step.Document.Data))
	case OpCommit:
		var snap *model.Snapshot
		if snap, err = sess.Commit(ctx); err == nil {
			event.Changes = summarize(snap.Changes)
			var entry *txlog.Entry
			if entry, err = h.driver.Transaction(ctx, sess.ID()); err != nil {
				return fmt.Errorf("read committed transaction: %w", err)
			}
			event.Seq = entry.Seq
		}
	case OpAbort:
		var receipt txlog.AbortReceipt
		if receipt, err = sess.Abort(); err == nil {
			event.Discarded = receipt.DiscardedChanges
		}
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}

	event.Version = version
	event.State = string(sess.State())
	if err != nil {
		event.Error = errorCode(err)
	}
	result.AddTrace(event)

	h.checkExpect(index, step, event, err, result)

	h.logger.Debug("scenario step",
		"step", index,
		"session", step.Session,
		"op", step.Op,
		"ref", event.Ref,
		"error", event.Error,
	)
	return nil
}

// session returns the named session, opening it on first use. A begin step
// must be the first use of its session.
func (h *Harness) session(ctx context.Context, step Step) (*graph.Session, error) {
	sess, ok := h.sessions[step.Session]
	if ok {
		if step.Op == OpBegin {
			return nil, fmt.Errorf("session %q is already open", step.Session)
		}
		return sess, nil
	}

	var opts []graph.BeginOption
	if step.Op == OpBegin {
		if step.Project != "" {
			opts = append(opts, graph.InProject(step.Project))
		}
		if step.DryRun {
			opts = append(opts, graph.DryRun())
		}
	}
	sess, err := h.driver.Begin(ctx, h.actor, opts...)
	if err != nil {
		return nil, fmt.Errorf("begin session %q: %w", step.Session, err)
	}
	h.sessions[step.Session] = sess
	return sess, nil
}

func (h *Harness) sessionIDs() map[string]string {
	out := make(map[string]string, len(h.sessions))
	for name, sess := range h.sessions {
		out[name] = sess.ID()
	}
	return out
}

// checkExpect compares a step's outcome with its expect clause.
func (h *Harness) checkExpect(index int, step Step, event TraceEvent, err error, result *Result) {
	want := ""
	if step.Expect != nil {
		want = step.Expect.Error
	}
	if event.Error != want {
		result.AddError(fmt.Sprintf("steps[%d] %s %s: expected %s, got %s",
			index, step.Op, event.Ref, outcome(want, nil), outcome(event.Error, err)))
		return
	}
	if err == nil && step.Expect != nil && step.Expect.Version != nil && *step.Expect.Version != event.Version {
		result.AddError(fmt.Sprintf("steps[%d] %s %s: expected version %d, got %d",
			index, step.Op, event.Ref, *step.Expect.Version, event.Version))
	}
}

func outcome(code string, err error) string {
	switch {
	case code == "":
		return "success"
	case err != nil:
		return fmt.Sprintf("%s (%v)", code, err)
	default:
		return code
	}
}

// errorCode returns the graph error code of err, or ERROR for uncoded
// errors such as document validation failures.
func errorCode(err error) string {
	if code := model.CodeOf(err); code != "" {
		return string(code)
	}
	return "ERROR"
}

func mutationOpts(step Step) []graph.MutationOption {
	if step.ExpectedVersion == nil {
		return nil
	}
	return []graph.MutationOption{graph.WithExpectedVersion(*step.ExpectedVersion)}
}

// summarize renders changes as "create case(c1) v0->v1".
func summarize(changes []model.Change) []string {
	out := make([]string, len(changes))
	for i, c := range changes {
		out[i] = fmt.Sprintf("%s %s v%d->v%d", c.Action, c.Ref, c.OldVersion, c.NewVersion)
	}
	return out
}
