package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vgraph/internal/model"
	"github.com/roach88/vgraph/internal/props"
)

func TestCommit_VersionChainAndHistory(t *testing.T) {
	d, _ := setupDriver(t)
	ctx := context.Background()

	const commits = 4
	for i := range commits {
		v := commitNode(t, d, "case", "c1", props.P("age", props.Int(int64(i))))
		assert.Equal(t, int64(i+1), v)
	}

	n, err := d.GetNode(ctx, "case", "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(commits), n.Version)

	history, err := d.NodeHistory(ctx, "case", "c1")
	require.NoError(t, err)
	require.Len(t, history, commits-1, "every superseded version is archived once")
	for i, h := range history {
		assert.Equal(t, int64(i+1), h.Version)
		assert.Equal(t, model.VoidSuperseded, h.Kind)
		assert.Equal(t, props.Int(int64(i)), h.Properties["age"])
	}
}

func TestCommit_CreateUpdateDeleteScenario(t *testing.T) {
	d, _ := setupDriver(t)
	ctx := context.Background()

	commitNode(t, d, "case", "A", props.P("age", props.Int(1)))
	commitNode(t, d, "case", "A", props.P("age", props.Int(2)))

	sess := begin(t, d)
	v, err := sess.DeleteNode(ctx, "case", "A")
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)
	snap, err := sess.Commit(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Changes, 1)
	assert.Equal(t, model.ActionDelete, snap.Changes[0].Action)
	assert.Equal(t, int64(2), snap.Changes[0].OldVersion)

	_, err = d.GetNode(ctx, "case", "A")
	assert.True(t, model.IsNotFound(err))

	history, err := d.NodeHistory(ctx, "case", "A")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{history[0].Version, history[1].Version, history[2].Version})
	assert.Equal(t, model.VoidSuperseded, history[1].Kind)
	assert.Equal(t, model.VoidDeleted, history[2].Kind)
	assert.Equal(t, props.Int(2), history[2].Properties["age"], "the marker keeps the last state")
	assert.Equal(t, sess.ID(), history[2].TransactionID)

	// Re-creating continues the chain past the void version.
	assert.Equal(t, int64(4), commitNode(t, d, "case", "A"))
}

func TestCommit_DeleteNodeVoidsIncidentEdges(t *testing.T) {
	d, s := setupDriver(t)
	ctx := context.Background()
	seedMembership(t, d)

	sess := begin(t, d)
	_, err := sess.DeleteNode(ctx, "project", "p1")
	require.NoError(t, err)
	snap, err := sess.Commit(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Changes, 2)
	assert.Equal(t, model.KindEdge, snap.Changes[0].Ref.Kind)

	_, err = d.GetEdge(ctx, memberOf, "c1", "p1")
	assert.True(t, model.IsNotFound(err))

	history, err := d.EdgeHistory(ctx, memberOf, "c1", "p1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.VoidSuperseded, history[0].Kind)
	assert.Equal(t, int64(1), history[0].Version)
	assert.Equal(t, model.VoidDeleted, history[1].Kind)
	assert.Equal(t, int64(2), history[1].Version)

	counts := tableCounts(t, s)
	assert.Equal(t, int64(1), counts["node_case"])
	assert.Zero(t, counts["node_project"])

	txHistory, err := d.TransactionHistory(ctx, sess.ID())
	require.NoError(t, err)
	assert.Len(t, txHistory, 4, "archive and marker for the project and the edge")
}

func TestCommit_ConcurrentSessionsConflict(t *testing.T) {
	d, s := setupDriver(t)
	ctx := context.Background()
	commitNode(t, d, "case", "c1", props.P("age", props.Int(1)))

	first := begin(t, d)
	second := begin(t, d)
	_, err := first.UpsertNode(ctx, "case", "c1", props.NewBag(props.P("age", props.Int(2))))
	require.NoError(t, err)
	_, err = second.UpsertNode(ctx, "case", "c1", props.NewBag(props.P("age", props.Int(3))))
	require.NoError(t, err)
	_, err = second.UpsertNode(ctx, "case", "c2", nil)
	require.NoError(t, err)

	_, err = first.Commit(ctx)
	require.NoError(t, err)
	before := tableCounts(t, s)

	_, err = second.Commit(ctx)
	require.True(t, model.IsConflict(err), "got %v", err)
	assert.Contains(t, err.Error(), "expected version 1, found 2")
	assert.Equal(t, StateAborted, second.State())

	assert.Equal(t, before, tableCounts(t, s), "the losing change-set is discarded whole")
	n, err := d.GetNode(ctx, "case", "c1")
	require.NoError(t, err)
	assert.Equal(t, props.Int(2), n.Properties["age"])

	entries, err := d.Transactions(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no log entry for the aborted transaction")
}

func TestCommit_ConcurrentCreateConflict(t *testing.T) {
	d, _ := setupDriver(t)
	ctx := context.Background()

	first := begin(t, d)
	second := begin(t, d)
	_, err := first.UpsertNode(ctx, "case", "c1", nil)
	require.NoError(t, err)
	_, err = second.UpsertNode(ctx, "case", "c1", nil)
	require.NoError(t, err)

	_, err = first.Commit(ctx)
	require.NoError(t, err)
	_, err = second.Commit(ctx)
	require.True(t, model.IsConflict(err))
	assert.Contains(t, err.Error(), "expected version 0, found 1")
}

func TestCommit_EndpointDeletedConcurrently(t *testing.T) {
	d, _ := setupDriver(t)
	ctx := context.Background()
	commitNode(t, d, "case", "c1")
	commitNode(t, d, "project", "p1", props.P("code", props.String("PRJ")))

	linker := begin(t, d)
	_, err := linker.UpsertEdge(ctx, memberOf, "c1", "p1", nil)
	require.NoError(t, err)

	deleter := begin(t, d)
	_, err = deleter.DeleteNode(ctx, "project", "p1")
	require.NoError(t, err)
	_, err = deleter.Commit(ctx)
	require.NoError(t, err)

	_, err = linker.Commit(ctx)
	require.True(t, model.IsConflict(err))
	assert.Contains(t, err.Error(), "edge endpoint no longer current")
}

func TestCommit_EdgeAddedToDeletedNodeConcurrently(t *testing.T) {
	d, _ := setupDriver(t)
	ctx := context.Background()
	commitNode(t, d, "case", "c1")
	commitNode(t, d, "project", "p1", props.P("code", props.String("PRJ")))

	deleter := begin(t, d)
	_, err := deleter.DeleteNode(ctx, "project", "p1")
	require.NoError(t, err)

	linker := begin(t, d)
	_, err = linker.UpsertEdge(ctx, memberOf, "c1", "p1", nil)
	require.NoError(t, err)
	_, err = linker.Commit(ctx)
	require.NoError(t, err)

	_, err = deleter.Commit(ctx)
	require.True(t, model.IsConflict(err))

	_, err = d.GetEdge(ctx, memberOf, "c1", "p1")
	require.NoError(t, err, "the edge was not removed without a void marker")
}

func TestCommit_DryRunWritesOnlyTheLog(t *testing.T) {
	d, s := setupDriver(t)
	ctx := context.Background()
	commitNode(t, d, "case", "c1")
	before := tableCounts(t, s)

	sess := begin(t, d, DryRun(), InProject("PRJ"))
	_, err := sess.UpsertNode(ctx, "case", "c1", props.NewBag(props.P("age", props.Int(9))))
	require.NoError(t, err)
	_, err = sess.UpsertNode(ctx, "case", "c2", nil)
	require.NoError(t, err)
	snap, err := sess.Commit(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Changes, 2)
	assert.Equal(t, "PRJ", snap.Project)

	after := tableCounts(t, s)
	assert.Equal(t, before["node_case"], after["node_case"])
	assert.Equal(t, before["versioned_nodes"], after["versioned_nodes"])
	assert.Equal(t, before["transaction_logs"]+1, after["transaction_logs"])

	entry, err := d.Transaction(ctx, sess.ID())
	require.NoError(t, err)
	assert.Equal(t, model.StateDryRun, entry.State)
	assert.Len(t, entry.Changes, 2)
}

func TestCommit_DryRunStillDetectsConflicts(t *testing.T) {
	d, _ := setupDriver(t)
	ctx := context.Background()
	commitNode(t, d, "case", "c1")

	sess := begin(t, d, DryRun())
	_, err := sess.UpsertNode(ctx, "case", "c1", nil)
	require.NoError(t, err)
	commitNode(t, d, "case", "c1")

	_, err = sess.Commit(ctx)
	assert.True(t, model.IsConflict(err))
}

func TestCommit_EmptySessionIsLogged(t *testing.T) {
	d, _ := setupDriver(t)
	ctx := context.Background()

	sess := begin(t, d, InProject("PRJ"))
	snap, err := sess.Commit(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Changes)
	assert.Equal(t, testNow, snap.Timestamp)

	entry, err := d.Transaction(ctx, sess.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.Seq)
	assert.Zero(t, entry.EntityCount)
	assert.Equal(t, "alice", entry.Actor.Username)
}

func TestCommit_NotifiesListenersAfterDurability(t *testing.T) {
	var seen []model.Snapshot
	var d *Driver
	d, _ = setupDriver(t, WithListener(func(ctx context.Context, snap model.Snapshot) {
		// The snapshot is already readable when listeners run.
		_, err := d.Transaction(ctx, snap.TransactionID)
		assert.NoError(t, err)
		seen = append(seen, snap)
	}))

	commitNode(t, d, "case", "c1")

	require.Len(t, seen, 1)
	assert.Equal(t, model.NodeRef("case", "c1"), seen[0].Changes[0].Ref)
	assert.Equal(t, alice, seen[0].Actor)
}

func TestCommit_CanceledContextAbortsWithStorageFailure(t *testing.T) {
	d, s := setupDriver(t)
	before := tableCounts(t, s)

	sess := begin(t, d)
	_, err := sess.UpsertNode(context.Background(), "case", "c1", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sess.Commit(ctx)
	require.True(t, model.IsStorageFailure(err), "got %v", err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateAborted, sess.State())
	assert.Equal(t, before, tableCounts(t, s))
}
