package graph

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/vgraph/internal/dictionary"
	"github.com/roach88/vgraph/internal/model"
	"github.com/roach88/vgraph/internal/props"
	"github.com/roach88/vgraph/internal/store"
	"github.com/roach88/vgraph/internal/txlog"
)

const testDictionary = `
node: project: { properties: { code: string }, required: ["code"] }
node: case: { properties: { submitter_id: string, age: int } }
edge: case_member_of_project: { label: "member_of", src: "case", dst: "project" }
`

const memberOf = "case_member_of_project"

var (
	testNow = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	alice   = model.Actor{ID: 7, Username: "alice", ProjectAccess: map[string][]string{"PRJ": model.AllRoles}}
)

func setupDriver(t *testing.T, opts ...Option) (*Driver, *store.Store) {
	t.Helper()
	ctx := context.Background()

	dict, err := dictionary.LoadString("test.cue", testDictionary)
	require.NoError(t, err)

	s, err := store.Open(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.EnsureTypeTables(ctx, dict))

	log := txlog.New(s, txlog.WithClock(func() time.Time { return testNow }))
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return New(s, dict, log, opts...), s
}

func begin(t *testing.T, d *Driver, opts ...BeginOption) *Session {
	t.Helper()
	sess, err := d.Begin(context.Background(), alice, opts...)
	require.NoError(t, err)
	return sess
}

// commitNode commits one upsert in its own session and returns the version.
func commitNode(t *testing.T, d *Driver, label, id string, pairs ...props.Pair) int64 {
	t.Helper()
	ctx := context.Background()
	sess := begin(t, d)
	v, err := sess.UpsertNode(ctx, label, id, props.NewBag(pairs...))
	require.NoError(t, err)
	_, err = sess.Commit(ctx)
	require.NoError(t, err)
	return v
}

// seedMembership commits project p1, case c1 and the edge between them.
func seedMembership(t *testing.T, d *Driver) {
	t.Helper()
	ctx := context.Background()
	sess := begin(t, d)
	_, err := sess.UpsertNode(ctx, "project", "p1", props.NewBag(props.P("code", props.String("PRJ"))))
	require.NoError(t, err)
	_, err = sess.UpsertNode(ctx, "case", "c1", props.NewBag(props.P("submitter_id", props.String("c1"))))
	require.NoError(t, err)
	_, err = sess.UpsertEdge(ctx, memberOf, "c1", "p1", nil)
	require.NoError(t, err)
	_, err = sess.Commit(ctx)
	require.NoError(t, err)
}

// tableCounts returns the row count of every table in the store.
func tableCounts(t *testing.T, s *store.Store) map[string]int64 {
	t.Helper()
	out := make(map[string]int64)
	for _, table := range s.Tables() {
		n, err := s.CountRows(context.Background(), table)
		require.NoError(t, err)
		out[table] = n
	}
	return out
}
