package submission

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vgraph/internal/dictionary"
	"github.com/roach88/vgraph/internal/graph"
	"github.com/roach88/vgraph/internal/model"
	"github.com/roach88/vgraph/internal/props"
	"github.com/roach88/vgraph/internal/store"
	"github.com/roach88/vgraph/internal/txlog"
)

const testDictionary = `
node: project: { properties: { code: string }, required: ["code"] }
node: case: { properties: { submitter_id: string, age: int }, required: ["submitter_id"] }
edge: case_member_of_project: { label: "member_of", src: "case", dst: "project" }
`

var submitter = model.Actor{ID: 1, Username: "submitter", ProjectAccess: map[string][]string{"PRJ": model.AllRoles}}

// seqMinter mints id-1, id-2, ...
type seqMinter struct{ n int }

func (m *seqMinter) Mint(context.Context) (string, error) {
	m.n++
	return fmt.Sprintf("id-%d", m.n), nil
}

type failingMinter struct{}

func (failingMinter) Mint(context.Context) (string, error) {
	return "", fmt.Errorf("index service down")
}

func setup(t *testing.T) (*Submitter, *graph.Driver, *store.Store) {
	t.Helper()
	ctx := context.Background()
	dict, err := dictionary.LoadString("test.cue", testDictionary)
	require.NoError(t, err)
	s, err := store.Open(filepath.Join(t.TempDir(), "sub.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.EnsureTypeTables(ctx, dict))

	d := graph.New(s, dict, txlog.New(s))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(d, &seqMinter{}, logger), d, s
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", "empty document"},
		{"unknown key", "projekt: x\n", "field projekt not found"},
		{"missing type", "nodes:\n  - id: a\n", "nodes[0]: type is required"},
		{"bad action", "nodes:\n  - type: case\n    id: a\n    action: merge\n", `unknown action "merge"`},
		{"delete without id", "nodes:\n  - type: case\n    action: delete\n", "delete needs an id"},
		{"duplicate ref", "nodes:\n  - {type: case, ref: a}\n  - {type: case, ref: a}\n", `duplicate ref "a"`},
		{"edge endpoints", "edges:\n  - type: x\n    src: a\n", "edges[0]: src and dst are required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.in))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestParse_JSONAndDefaults(t *testing.T) {
	doc, err := Parse([]byte(`{"nodes":[{"type":"case","id":"a","action":" UPSERT ","properties":{"age":3}}]}`))
	require.NoError(t, err)
	require.Len(t, doc.Nodes, 1)
	assert.Equal(t, ActionUpsert, doc.Nodes[0].Action)
	assert.Equal(t, 3, doc.Nodes[0].Properties["age"])
}

func TestSubmitFile_CreatesGraphInOneTransaction(t *testing.T) {
	sub, d, _ := setup(t)
	ctx := context.Background()

	res, err := sub.SubmitFile(ctx, submitter, "testdata/cases.yaml")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"first": "id-1", "second": "id-2"}, res.IDs)
	assert.Equal(t, 5, res.Changes)
	require.Len(t, res.Entities, 5)
	assert.Equal(t, model.EdgeRef("case_member_of_project", "id-1", "p1"), res.Entities[3].Ref)

	n, err := d.GetNode(ctx, "case", "id-1")
	require.NoError(t, err)
	assert.Equal(t, props.Int(40), n.Properties["age"])
	assert.Equal(t, res.TransactionID, n.TransactionID)

	_, err = d.GetEdge(ctx, "case_member_of_project", "id-2", "p1")
	require.NoError(t, err)

	entry, err := d.Transaction(ctx, res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, "PRJ", entry.Project)
	assert.Equal(t, "submitter", entry.Actor.Username)

	docs, err := d.Documents(ctx, res.TransactionID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, DocumentName, docs[0].Name)
	assert.Equal(t, "yaml", docs[0].Format)
}

func TestSubmit_DeleteFromJSON(t *testing.T) {
	sub, d, _ := setup(t)
	ctx := context.Background()

	_, err := sub.Submit(ctx, submitter, []byte(`{"nodes":[{"type":"case","id":"c-fixed","properties":{"submitter_id":"x"}}]}`), "json")
	require.NoError(t, err)

	res, err := sub.SubmitFile(ctx, submitter, "testdata/delete.json")
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Entities[0].Version)

	_, err = d.GetNode(ctx, "case", "c-fixed")
	assert.True(t, model.IsNotFound(err))

	docs, err := d.Documents(ctx, res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, "json", docs[0].Format)
}

func TestSubmit_InvalidEntityRollsBackEverything(t *testing.T) {
	sub, _, s := setup(t)
	ctx := context.Background()

	raw := []byte(`
project: PRJ
nodes:
  - {type: case, id: ok, properties: {submitter_id: ok}}
  - {type: case, id: bad, properties: {age: "forty"}}
`)
	_, err := sub.Submit(ctx, submitter, raw, "yaml")
	require.True(t, model.IsSchemaViolation(err), "got %v", err)
	assert.Contains(t, err.Error(), "nodes[1]")

	for _, table := range s.Tables() {
		n, err := s.CountRows(ctx, table)
		require.NoError(t, err)
		assert.Zero(t, n, table)
	}
}

func TestSubmit_ExpectedVersion(t *testing.T) {
	sub, _, _ := setup(t)
	ctx := context.Background()

	_, err := sub.Submit(ctx, submitter, []byte("nodes:\n  - {type: case, id: c1, properties: {submitter_id: c1}}\n"), "yaml")
	require.NoError(t, err)

	_, err = sub.Submit(ctx, submitter, []byte("nodes:\n  - {type: case, id: c1, expected_version: 3, properties: {age: 1}}\n"), "yaml")
	assert.True(t, model.IsConflict(err))
}

func TestSubmit_DryRun(t *testing.T) {
	sub, d, _ := setup(t)
	ctx := context.Background()

	res, err := sub.Submit(ctx, submitter, []byte("dry_run: true\nnodes:\n  - {type: case, id: c1, properties: {submitter_id: c1}}\n"), "yaml")
	require.NoError(t, err)
	assert.True(t, res.DryRun)

	_, err = d.GetNode(ctx, "case", "c1")
	assert.True(t, model.IsNotFound(err))

	entry, err := d.Transaction(ctx, res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, model.StateDryRun, entry.State)
}

func TestSubmit_MinterFailure(t *testing.T) {
	sub, _, _ := setup(t)
	sub.minter = failingMinter{}

	_, err := sub.Submit(context.Background(), submitter, []byte("nodes:\n  - {type: case, properties: {submitter_id: a}}\n"), "yaml")
	assert.ErrorContains(t, err, "index service down")
}
