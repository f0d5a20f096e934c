package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/vgraph/internal/model"
	"github.com/roach88/vgraph/internal/props"
	"github.com/roach88/vgraph/internal/store"
	"github.com/roach88/vgraph/internal/txlog"
)

// State is the lifecycle state of a session.
type State string

const (
	StateOpen      State = "OPEN"
	StateStaged    State = "STAGED"
	StateCommitted State = "COMMITTED"
	StateAborted   State = "ABORTED"
)

// Terminal reports whether no further mutation is accepted.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateAborted
}

// Session is one unit of work. Mutations are staged in memory and
// coalesced per entity: however many times an entity is touched, a commit
// writes at most one new version of it.
//
// Staging errors (SCHEMA_VIOLATION, NOT_FOUND, CONFLICT against a
// caller-supplied version) leave the session as it was. Commit errors
// abort the session.
type Session struct {
	driver *Driver
	id     string
	meta   txlog.Meta

	mu     sync.Mutex
	state  State
	staged map[string]*staged
	order  []string // staged keys in first-touch order
	docs   []model.Document
}

// staged is the pending change to one entity.
type staged struct {
	ref model.EntityRef

	// State at first touch. exists is false for entities with no current
	// row; base is then the last version ever recorded (0 if none).
	exists    bool
	base      int64
	baseProps props.Bag
	created   time.Time

	inSet   bool // part of the change-set
	deleted bool
	props   props.Bag // new state when not deleted
}

// newVersion is the version the commit writes: the successor of base for
// updates, deletes (the void version) and re-creations alike.
func (c *staged) newVersion() int64 {
	return c.base + 1
}

// current is the version a caller sees inside the session; 0 means the
// entity does not exist.
func (c *staged) current() int64 {
	switch {
	case c.deleted:
		return 0
	case !c.inSet:
		return c.base
	default:
		return c.newVersion()
	}
}

func (c *staged) change() model.Change {
	ch := model.Change{Ref: c.ref, NewVersion: c.newVersion()}
	switch {
	case c.deleted:
		ch.Action = model.ActionDelete
		ch.OldVersion = c.base
		ch.OldProps = c.baseProps
	case c.exists:
		ch.Action = model.ActionUpdate
		ch.OldVersion = c.base
		ch.OldProps = c.baseProps
		ch.NewProps = c.props
	default:
		ch.Action = model.ActionCreate
		ch.NewProps = c.props
	}
	return ch
}

// MutationOption configures one mutation.
type MutationOption func(*mutationOptions)

type mutationOptions struct {
	expected    int64
	hasExpected bool
}

// WithExpectedVersion requires the entity to be at version v, as seen from
// this session. Use 0 to require that the entity does not exist. Without it
// the version read at first touch is the expected version.
func WithExpectedVersion(v int64) MutationOption {
	return func(o *mutationOptions) {
		o.expected = v
		o.hasExpected = true
	}
}

// ID returns the transaction id.
func (s *Session) ID() string {
	return s.id
}

// Actor returns the actor recorded on the transaction.
func (s *Session) Actor() model.Actor {
	return s.meta.Actor
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UpsertNode creates a node (version 1, or the successor of its last void
// version if it was deleted before) or merges patch into its properties.
// The merged state is validated against the dictionary. Returns the version
// the node will have after commit.
func (s *Session) UpsertNode(ctx context.Context, label, id string, patch props.Bag, opts ...MutationOption) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	ref := model.NodeRef(label, id)
	if _, ok := s.driver.dict.NodeType(label); !ok {
		return 0, model.NewSchemaViolation(ref, fmt.Sprintf("unknown node label %q", label))
	}

	c, err := s.touchNode(ctx, ref)
	if err != nil {
		return 0, err
	}
	if err := checkExpected(c, opts); err != nil {
		return 0, err
	}

	merged := s.nextProps(c).Merge(patch)
	if err := s.driver.dict.ValidateNode(label, id, merged); err != nil {
		return 0, err
	}

	s.stage(c)
	c.deleted = false
	c.props = merged
	return c.newVersion(), nil
}

// DeleteNode stages the deletion of a node and of every current edge
// incident to it. Returns the void version. Deleting a node created earlier
// in the same session cancels the create and returns 0.
func (s *Session) DeleteNode(ctx context.Context, label, id string, opts ...MutationOption) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	ref := model.NodeRef(label, id)
	if _, ok := s.driver.dict.NodeType(label); !ok {
		return 0, model.NewSchemaViolation(ref, fmt.Sprintf("unknown node label %q", label))
	}

	c, err := s.touchNode(ctx, ref)
	if err != nil {
		return 0, err
	}
	if c.current() == 0 {
		return 0, model.NewNotFound(ref)
	}
	if err := checkExpected(c, opts); err != nil {
		return 0, err
	}

	// Gather incident edges before changing anything so a storage error
	// leaves the session untouched.
	var incident []model.Edge
	if c.exists {
		incident, err = s.driver.store.ReadIncidentEdges(ctx, s.driver.dict, label, id)
		if err != nil {
			return 0, model.NewStorageFailure("read incident edges", err)
		}
	}

	for _, e := range incident {
		s.stageEdgeDelete(e)
	}
	var touching []*staged
	for _, key := range s.order {
		ec := s.staged[key]
		if ec.ref.Kind == model.KindEdge && !ec.deleted && s.edgeTouches(ec.ref, label, id) {
			touching = append(touching, ec)
		}
	}
	for _, ec := range touching {
		s.cancelOrDelete(ec)
	}

	s.stage(c)
	s.cancelOrDelete(c)
	if !c.exists {
		return 0, nil
	}
	return c.newVersion(), nil
}

// UpsertEdge creates an edge or merges patch into its properties. Both
// endpoints must be current nodes (in the store or staged in this session)
// of the labels the edge type declares.
func (s *Session) UpsertEdge(ctx context.Context, label, srcID, dstID string, patch props.Bag, opts ...MutationOption) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	ref := model.EdgeRef(label, srcID, dstID)
	et, ok := s.driver.dict.EdgeType(label)
	if !ok {
		return 0, model.NewSchemaViolation(ref, fmt.Sprintf("unknown edge type %q", label))
	}
	if srcID == "" || dstID == "" {
		return 0, model.NewSchemaViolation(ref, "edge endpoints are required")
	}

	if err := s.requireNode(ctx, model.NodeRef(et.Src, srcID)); err != nil {
		return 0, err
	}
	if err := s.requireNode(ctx, model.NodeRef(et.Dst, dstID)); err != nil {
		return 0, err
	}

	c, err := s.touchEdge(ctx, ref)
	if err != nil {
		return 0, err
	}
	if err := checkExpected(c, opts); err != nil {
		return 0, err
	}

	merged := s.nextProps(c).Merge(patch)
	if err := s.driver.dict.ValidateEdge(label, srcID, dstID, merged); err != nil {
		return 0, err
	}

	s.stage(c)
	c.deleted = false
	c.props = merged
	return c.newVersion(), nil
}

// DeleteEdge stages the deletion of an edge and returns the void version.
func (s *Session) DeleteEdge(ctx context.Context, label, srcID, dstID string, opts ...MutationOption) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	ref := model.EdgeRef(label, srcID, dstID)
	if _, ok := s.driver.dict.EdgeType(label); !ok {
		return 0, model.NewSchemaViolation(ref, fmt.Sprintf("unknown edge type %q", label))
	}

	c, err := s.touchEdge(ctx, ref)
	if err != nil {
		return 0, err
	}
	if c.current() == 0 {
		return 0, model.NewNotFound(ref)
	}
	if err := checkExpected(c, opts); err != nil {
		return 0, err
	}

	s.stage(c)
	s.cancelOrDelete(c)
	if !c.exists {
		return 0, nil
	}
	return c.newVersion(), nil
}

// AttachDocument adds a payload, such as the raw submitted record, to the
// transaction. Names must be unique within the session.
func (s *Session) AttachDocument(name, format string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if name == "" {
		return errors.New("attach document: name is required")
	}
	for _, d := range s.docs {
		if d.Name == name {
			return fmt.Errorf("attach document: duplicate name %q", name)
		}
	}

	s.docs = append(s.docs, model.Document{
		Name:   name,
		Format: format,
		Data:   append([]byte(nil), data...),
	})
	s.state = StateStaged
	return nil
}

// Abort discards the session. Nothing is written; the receipt confirms it.
func (s *Session) Abort() (txlog.AbortReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return txlog.AbortReceipt{}, err
	}

	receipt, err := s.driver.log.Abort(s.id)
	if err != nil {
		return txlog.AbortReceipt{}, err
	}
	receipt.DiscardedChanges = len(s.changes())
	receipt.DiscardedDocuments = len(s.docs)

	s.state = StateAborted
	s.staged = nil
	s.order = nil
	s.docs = nil

	s.driver.logger.Info("transaction aborted",
		"transaction_id", s.id,
		"discarded_changes", receipt.DiscardedChanges,
	)
	return receipt, nil
}

func (s *Session) checkOpen() error {
	if s.state.Terminal() {
		return model.NewSessionClosed(s.id, string(s.state))
	}
	return nil
}

// touchNode returns the staged entry for a node, reading its current state
// on first touch. The entry is not yet part of the change-set.
func (s *Session) touchNode(ctx context.Context, ref model.EntityRef) (*staged, error) {
	if c, ok := s.staged[ref.Key()]; ok {
		return c, nil
	}

	n, err := s.driver.store.ReadNode(ctx, ref.Label, ref.ID)
	switch {
	case err == nil:
		return &staged{
			ref:       ref,
			exists:    true,
			base:      n.Version,
			baseProps: n.Properties,
			created:   n.Created,
		}, nil
	case errors.Is(err, store.ErrNotFound):
		last, err := s.driver.store.LastNodeVersion(ctx, ref.Label, ref.ID)
		if err != nil {
			return nil, model.NewStorageFailure("read node version", err)
		}
		return &staged{ref: ref, base: last, deleted: true}, nil
	default:
		return nil, model.NewStorageFailure("read node", err)
	}
}

// touchEdge is touchNode for edges.
func (s *Session) touchEdge(ctx context.Context, ref model.EntityRef) (*staged, error) {
	if c, ok := s.staged[ref.Key()]; ok {
		return c, nil
	}

	e, err := s.driver.store.ReadEdge(ctx, ref.Label, ref.SrcID, ref.DstID)
	switch {
	case err == nil:
		return edgeEntry(e), nil
	case errors.Is(err, store.ErrNotFound):
		last, err := s.driver.store.LastEdgeVersion(ctx, ref.Label, ref.SrcID, ref.DstID)
		if err != nil {
			return nil, model.NewStorageFailure("read edge version", err)
		}
		return &staged{ref: ref, base: last, deleted: true}, nil
	default:
		return nil, model.NewStorageFailure("read edge", err)
	}
}

func edgeEntry(e model.Edge) *staged {
	return &staged{
		ref:       e.Ref(),
		exists:    true,
		base:      e.Version,
		baseProps: e.Properties,
		created:   e.Created,
	}
}

// stageEdgeDelete stages the deletion of a current edge found through an
// incident-edge read.
func (s *Session) stageEdgeDelete(e model.Edge) {
	c, ok := s.staged[e.Ref().Key()]
	if !ok {
		c = edgeEntry(e)
	}
	s.stage(c)
	s.cancelOrDelete(c)
}

// requireNode checks that a node is current from this session's view.
func (s *Session) requireNode(ctx context.Context, ref model.EntityRef) error {
	if c, ok := s.staged[ref.Key()]; ok {
		if c.deleted {
			return &model.GraphError{Code: model.ErrCodeNotFound, Message: "edge endpoint is deleted in this session", Ref: &ref}
		}
		return nil
	}
	_, err := s.driver.store.ReadNode(ctx, ref.Label, ref.ID)
	if errors.Is(err, store.ErrNotFound) {
		return &model.GraphError{Code: model.ErrCodeNotFound, Message: "edge endpoint has no current version", Ref: &ref}
	}
	if err != nil {
		return model.NewStorageFailure("read edge endpoint", err)
	}
	return nil
}

func (s *Session) edgeTouches(ref model.EntityRef, label, id string) bool {
	et, ok := s.driver.dict.EdgeType(ref.Label)
	if !ok {
		return false
	}
	return (et.Src == label && ref.SrcID == id) || (et.Dst == label && ref.DstID == id)
}

// nextProps is the property state a patch applies to.
func (s *Session) nextProps(c *staged) props.Bag {
	if c.deleted {
		return props.Bag{}
	}
	if c.props != nil {
		return c.props
	}
	return c.baseProps
}

// stage adds c to the change-set if it is not there yet.
func (s *Session) stage(c *staged) {
	if !c.inSet {
		key := c.ref.Key()
		s.staged[key] = c
		s.order = append(s.order, key)
		c.inSet = true
	}
	s.state = StateStaged
}

// cancelOrDelete marks c deleted. A staged create of an entity with no
// current row has nothing to delete and leaves the change-set.
func (s *Session) cancelOrDelete(c *staged) {
	c.deleted = true
	c.props = nil
	if c.exists {
		return
	}
	key := c.ref.Key()
	c.inSet = false
	delete(s.staged, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// changes returns the change-set in first-touch order.
func (s *Session) changes() []model.Change {
	out := make([]model.Change, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.staged[key].change())
	}
	return out
}

// checkExpected applies WithExpectedVersion against the session's view.
func checkExpected(c *staged, opts []MutationOption) error {
	var o mutationOptions
	for _, opt := range opts {
		opt(&o)
	}
	if !o.hasExpected {
		return nil
	}
	if actual := c.current(); actual != o.expected {
		return model.NewConflict(c.ref, o.expected, actual)
	}
	return nil
}

// nodeFor rebuilds a node value from a staged entry.
func nodeFor(c *staged, version int64, bag props.Bag) model.Node {
	return model.Node{ID: c.ref.ID, Label: c.ref.Label, Version: version, Properties: bag}
}

// edgeFor rebuilds an edge value from a staged entry.
func edgeFor(c *staged, version int64, bag props.Bag) model.Edge {
	return model.Edge{Label: c.ref.Label, SrcID: c.ref.SrcID, DstID: c.ref.DstID, Version: version, Properties: bag}
}
