package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/vgraph/internal/dictionary"
	"github.com/roach88/vgraph/internal/model"
	"github.com/roach88/vgraph/internal/props"
)

const testDictionarySource = `
node: project: { properties: { code: string }, required: ["code"] }
node: case: { properties: { submitter_id: string, age: int } }
edge: case_member_of_project: { label: "member_of", src: "case", dst: "project" }
`

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temp directory with the test
// dictionary's type tables.
func createTestStore(t *testing.T, opts ...Option) (*Store, *dictionary.Dictionary) {
	t.Helper()
	dict, err := dictionary.LoadString("test.cue", testDictionarySource)
	if err != nil {
		t.Fatalf("LoadString() failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.EnsureTypeTables(context.Background(), dict); err != nil {
		t.Fatalf("EnsureTypeTables() failed: %v", err)
	}
	return s, dict
}

// writeTestLog writes a minimal log entry so shadow and entity rows can
// reference it.
func writeTestLog(t *testing.T, ctx context.Context, tx *Tx, id string) {
	t.Helper()
	_, err := tx.WriteLog(ctx, model.LogEntry{
		ID:          id,
		Actor:       model.Actor{ID: 1, Username: "tester"},
		State:       model.StateSucceeded,
		CreatedAt:   testTime,
		CommittedAt: testTime,
	})
	if err != nil {
		t.Fatalf("WriteLog() failed: %v", err)
	}
}

func testNode(label, id string, version int64, txID string, pairs ...props.Pair) model.Node {
	return model.Node{
		ID:            id,
		Label:         label,
		Version:       version,
		Properties:    props.NewBag(pairs...),
		Created:       testTime,
		Updated:       testTime,
		TransactionID: txID,
	}
}

// seedNode commits a node at version 1 in its own transaction.
func seedNode(t *testing.T, s *Store, n model.Node) {
	t.Helper()
	ctx := context.Background()
	err := s.InTx(ctx, func(tx *Tx) error {
		writeTestLog(t, ctx, tx, n.TransactionID)
		inserted, err := tx.InsertNode(ctx, n)
		if err != nil {
			return err
		}
		if !inserted {
			t.Fatalf("InsertNode(%s) did not insert", n.Ref())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed node failed: %v", err)
	}
}

func testEdge(srcID, dstID string, version int64, txID string, pairs ...props.Pair) model.Edge {
	return model.Edge{
		Label:         "case_member_of_project",
		SrcID:         srcID,
		DstID:         dstID,
		Version:       version,
		Properties:    props.NewBag(pairs...),
		Created:       testTime,
		Updated:       testTime,
		TransactionID: txID,
	}
}
