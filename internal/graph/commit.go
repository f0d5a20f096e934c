package graph

import (
	"context"
	"time"

	"github.com/roach88/vgraph/internal/model"
	"github.com/roach88/vgraph/internal/store"
	"github.com/roach88/vgraph/internal/txlog"
)

// Commit makes the session's change-set durable in one SQL transaction:
//
//  1. current rows are written under version predicates, in the order
//     edge deletes, node deletes, node upserts, edge upserts
//  2. each replaced state is archived and each deletion gets a void marker
//  3. the log entry, snapshot and documents are written
//
// A predicate that matches no row is a CONFLICT. Any error rolls back the
// whole transaction and aborts the session. A session with nothing staged
// still commits a log entry.
func (s *Session) Commit(ctx context.Context) (*model.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	changes := s.changes()
	if err := s.driver.log.Record(s.id, changes, s.docs...); err != nil {
		s.finish(StateAborted)
		return nil, err
	}

	now := s.driver.now().UTC()
	var receipt *txlog.CommitReceipt
	err := s.driver.store.InTx(ctx, func(tx *store.Tx) error {
		var err error
		if s.meta.DryRun {
			err = s.verify(ctx, tx)
		} else {
			err = s.apply(ctx, tx, now)
		}
		if err != nil {
			return err
		}
		receipt, err = s.driver.log.CommitIn(ctx, tx, s.id)
		return err
	})
	s.driver.log.Resolve(s.id, err)

	if err != nil {
		s.finish(StateAborted)
		if model.CodeOf(err) == "" {
			err = model.NewStorageFailure("commit transaction "+s.id, err)
		}
		s.driver.logger.Warn("transaction aborted",
			"transaction_id", s.id,
			"code", string(model.CodeOf(err)),
			"error", err,
		)
		return nil, err
	}

	s.finish(StateCommitted)
	snap := receipt.Snapshot
	s.driver.logger.Info("transaction committed",
		"transaction_id", s.id,
		"seq", receipt.Entry.Seq,
		"state", string(receipt.Entry.State),
		"entities", len(snap.Changes),
		"documents", len(receipt.Documents),
	)
	for _, l := range s.driver.listeners {
		l(ctx, snap)
	}
	return &snap, nil
}

func (s *Session) finish(state State) {
	s.state = state
	s.staged = nil
	s.order = nil
	s.docs = nil
}

// phases splits the change-set into write phases. Edges go first on delete
// so the node delete cascade never removes a row the session has not
// archived; nodes go first on upsert so new edges find their endpoints.
func (s *Session) phases() (edgeDeletes, nodeDeletes, nodeUpserts, edgeUpserts []*staged) {
	for _, key := range s.order {
		c := s.staged[key]
		switch {
		case c.ref.Kind == model.KindEdge && c.deleted:
			edgeDeletes = append(edgeDeletes, c)
		case c.ref.Kind == model.KindNode && c.deleted:
			nodeDeletes = append(nodeDeletes, c)
		case c.ref.Kind == model.KindNode:
			nodeUpserts = append(nodeUpserts, c)
		default:
			edgeUpserts = append(edgeUpserts, c)
		}
	}
	return
}

func (s *Session) apply(ctx context.Context, tx *store.Tx, now time.Time) error {
	edgeDeletes, nodeDeletes, nodeUpserts, edgeUpserts := s.phases()

	for _, c := range edgeDeletes {
		if err := s.deleteEdge(ctx, tx, c, now); err != nil {
			return err
		}
	}
	for _, c := range nodeDeletes {
		if err := s.deleteNode(ctx, tx, c, now); err != nil {
			return err
		}
	}
	for _, c := range nodeUpserts {
		if err := s.upsertNode(ctx, tx, c, now); err != nil {
			return err
		}
	}
	for _, c := range edgeUpserts {
		if err := s.checkEndpoints(ctx, tx, c); err != nil {
			return err
		}
		if err := s.upsertEdge(ctx, tx, c, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) deleteNode(ctx context.Context, tx *store.Tx, c *staged, now time.Time) error {
	// Staged edge deletes ran already; anything left would be removed by
	// the cascade without a void marker.
	left, err := tx.ReadIncidentEdges(ctx, s.driver.dict, c.ref.Label, c.ref.ID)
	if err != nil {
		return err
	}
	if len(left) > 0 {
		ref := left[0].Ref()
		return &model.GraphError{
			Code:    model.ErrCodeConflict,
			Message: "edge added to deleted node by a concurrent transaction",
			Ref:     &ref,
		}
	}

	ok, err := tx.DeleteNode(ctx, c.ref.Label, c.ref.ID, c.base)
	if err != nil {
		return err
	}
	if !ok {
		return s.conflict(ctx, tx, c)
	}
	if err := tx.ArchiveNode(ctx, nodeFor(c, c.base, c.baseProps), s.id, now); err != nil {
		return err
	}
	return tx.VoidNode(ctx, nodeFor(c, c.newVersion(), c.baseProps), s.id, now)
}

func (s *Session) upsertNode(ctx context.Context, tx *store.Tx, c *staged, now time.Time) error {
	n := nodeFor(c, c.newVersion(), c.props)
	n.Updated = now
	n.TransactionID = s.id

	if !c.exists {
		if err := s.checkLast(ctx, tx, c); err != nil {
			return err
		}
		n.Created = now
		ok, err := tx.InsertNode(ctx, n)
		if err != nil {
			return err
		}
		if !ok {
			return s.conflict(ctx, tx, c)
		}
		return nil
	}

	n.Created = c.created
	ok, err := tx.UpdateNode(ctx, n, c.base)
	if err != nil {
		return err
	}
	if !ok {
		return s.conflict(ctx, tx, c)
	}
	return tx.ArchiveNode(ctx, nodeFor(c, c.base, c.baseProps), s.id, now)
}

func (s *Session) deleteEdge(ctx context.Context, tx *store.Tx, c *staged, now time.Time) error {
	ok, err := tx.DeleteEdge(ctx, c.ref.Label, c.ref.SrcID, c.ref.DstID, c.base)
	if err != nil {
		return err
	}
	if !ok {
		return s.conflict(ctx, tx, c)
	}
	if err := tx.ArchiveEdge(ctx, edgeFor(c, c.base, c.baseProps), s.id, now); err != nil {
		return err
	}
	return tx.VoidEdge(ctx, edgeFor(c, c.newVersion(), c.baseProps), s.id, now)
}

func (s *Session) upsertEdge(ctx context.Context, tx *store.Tx, c *staged, now time.Time) error {
	e := edgeFor(c, c.newVersion(), c.props)
	e.Updated = now
	e.TransactionID = s.id

	if !c.exists {
		if err := s.checkLast(ctx, tx, c); err != nil {
			return err
		}
		e.Created = now
		ok, err := tx.InsertEdge(ctx, e)
		if err != nil {
			return err
		}
		if !ok {
			return s.conflict(ctx, tx, c)
		}
		return nil
	}

	e.Created = c.created
	ok, err := tx.UpdateEdge(ctx, e, c.base)
	if err != nil {
		return err
	}
	if !ok {
		return s.conflict(ctx, tx, c)
	}
	return tx.ArchiveEdge(ctx, edgeFor(c, c.base, c.baseProps), s.id, now)
}

// checkEndpoints reports a CONFLICT when an endpoint of a staged edge was
// deleted by a concurrent transaction after it was read.
func (s *Session) checkEndpoints(ctx context.Context, tx *store.Tx, c *staged) error {
	et, ok := s.driver.dict.EdgeType(c.ref.Label)
	if !ok {
		return model.NewSchemaViolation(c.ref, "unknown edge type")
	}
	for _, ref := range []model.EntityRef{
		model.NodeRef(et.Src, c.ref.SrcID),
		model.NodeRef(et.Dst, c.ref.DstID),
	} {
		_, found, err := tx.NodeVersion(ctx, ref.Label, ref.ID)
		if err != nil {
			return err
		}
		if !found {
			return &model.GraphError{
				Code:    model.ErrCodeConflict,
				Message: "edge endpoint no longer current",
				Ref:     &ref,
			}
		}
	}
	return nil
}

// checkLast guards a (re-)creation: the version chain must not have moved
// since the session read it, or two creators would both write base+1.
func (s *Session) checkLast(ctx context.Context, tx *store.Tx, c *staged) error {
	var last int64
	var err error
	if c.ref.Kind == model.KindNode {
		last, err = tx.LastNodeVersion(ctx, c.ref.Label, c.ref.ID)
	} else {
		last, err = tx.LastEdgeVersion(ctx, c.ref.Label, c.ref.SrcID, c.ref.DstID)
	}
	if err != nil {
		return err
	}
	if last != c.base {
		return s.conflict(ctx, tx, c)
	}
	return nil
}

// conflict builds the CONFLICT error for c from the row's actual state.
// Expected is 0 for creates; actual is -1 when no current row exists.
func (s *Session) conflict(ctx context.Context, tx *store.Tx, c *staged) error {
	var (
		actual int64
		found  bool
		err    error
	)
	if c.ref.Kind == model.KindNode {
		actual, found, err = tx.NodeVersion(ctx, c.ref.Label, c.ref.ID)
	} else {
		actual, found, err = tx.EdgeVersion(ctx, c.ref.Label, c.ref.SrcID, c.ref.DstID)
	}
	if err != nil {
		return err
	}
	if !found {
		actual = -1
	}
	expected := c.base
	if !c.exists {
		expected = 0
	}
	return model.NewConflict(c.ref, expected, actual)
}

// verify runs the version checks of a commit without writing entity rows.
func (s *Session) verify(ctx context.Context, tx *store.Tx) error {
	for _, key := range s.order {
		c := s.staged[key]
		if !c.exists {
			if err := s.checkLast(ctx, tx, c); err != nil {
				return err
			}
			continue
		}
		var (
			actual int64
			found  bool
			err    error
		)
		if c.ref.Kind == model.KindNode {
			actual, found, err = tx.NodeVersion(ctx, c.ref.Label, c.ref.ID)
		} else {
			actual, found, err = tx.EdgeVersion(ctx, c.ref.Label, c.ref.SrcID, c.ref.DstID)
		}
		if err != nil {
			return err
		}
		if !found || actual != c.base {
			return s.conflict(ctx, tx, c)
		}
	}
	return nil
}
