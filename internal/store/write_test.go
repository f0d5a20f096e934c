package store

import (
	"context"
	"testing"

	"github.com/roach88/vgraph/internal/model"
	"github.com/roach88/vgraph/internal/props"
)

func TestInsertNode_ConflictOnExisting(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	seedNode(t, s, testNode("project", "p1", 1, "tx-1", props.P("code", props.String("P1"))))

	err := s.InTx(ctx, func(tx *Tx) error {
		writeTestLog(t, ctx, tx, "tx-2")
		inserted, err := tx.InsertNode(ctx, testNode("project", "p1", 1, "tx-2", props.P("code", props.String("other"))))
		if err != nil {
			return err
		}
		if inserted {
			t.Error("InsertNode() over an existing row reported inserted")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx() failed: %v", err)
	}

	n, err := s.ReadNode(ctx, "project", "p1")
	if err != nil {
		t.Fatalf("ReadNode() failed: %v", err)
	}
	if n.Properties["code"] != props.String("P1") {
		t.Errorf("code = %v, want P1 (unchanged)", n.Properties["code"])
	}
}

func TestUpdateNode_VersionPredicate(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	seedNode(t, s, testNode("project", "p1", 1, "tx-1", props.P("code", props.String("P1"))))

	err := s.InTx(ctx, func(tx *Tx) error {
		writeTestLog(t, ctx, tx, "tx-2")

		stale, err := tx.UpdateNode(ctx, testNode("project", "p1", 3, "tx-2", props.P("code", props.String("X"))), 2)
		if err != nil {
			return err
		}
		if stale {
			t.Error("UpdateNode() with wrong expected version updated the row")
		}

		ok, err := tx.UpdateNode(ctx, testNode("project", "p1", 2, "tx-2", props.P("code", props.String("P2"))), 1)
		if err != nil {
			return err
		}
		if !ok {
			t.Error("UpdateNode() with matching expected version did not update")
		}

		v, found, err := tx.NodeVersion(ctx, "project", "p1")
		if err != nil {
			return err
		}
		if !found || v != 2 {
			t.Errorf("NodeVersion() = %d, %v; want 2, true", v, found)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx() failed: %v", err)
	}

	n, err := s.ReadNode(ctx, "project", "p1")
	if err != nil {
		t.Fatalf("ReadNode() failed: %v", err)
	}
	if n.Version != 2 || n.TransactionID != "tx-2" {
		t.Errorf("node = v%d tx %s, want v2 tx-2", n.Version, n.TransactionID)
	}
	if !n.Created.Equal(testTime) {
		t.Errorf("Created = %v, want %v", n.Created, testTime)
	}
}

func TestDeleteNode_VersionPredicate(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	seedNode(t, s, testNode("project", "p1", 1, "tx-1", props.P("code", props.String("P1"))))

	err := s.InTx(ctx, func(tx *Tx) error {
		deleted, err := tx.DeleteNode(ctx, "project", "p1", 7)
		if err != nil {
			return err
		}
		if deleted {
			t.Error("DeleteNode() with wrong expected version deleted the row")
		}
		deleted, err = tx.DeleteNode(ctx, "project", "p1", 1)
		if err != nil {
			return err
		}
		if !deleted {
			t.Error("DeleteNode() with matching expected version did not delete")
		}
		_, found, err := tx.NodeVersion(ctx, "project", "p1")
		if err != nil {
			return err
		}
		if found {
			t.Error("NodeVersion() found a deleted node")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx() failed: %v", err)
	}
}

func TestInsertEdge_RequiresCurrentEndpoints(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	seedNode(t, s, testNode("project", "p1", 1, "tx-1", props.P("code", props.String("P1"))))

	err := s.InTx(ctx, func(tx *Tx) error {
		writeTestLog(t, ctx, tx, "tx-2")
		_, err := tx.InsertEdge(ctx, testEdge("c-missing", "p1", 1, "tx-2"))
		return err
	})
	if err == nil {
		t.Fatal("expected foreign key failure for missing endpoint, got nil")
	}
}

func TestEdgeLifecycle(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	seedNode(t, s, testNode("project", "p1", 1, "tx-1", props.P("code", props.String("P1"))))
	seedNode(t, s, testNode("case", "c1", 1, "tx-2"))

	err := s.InTx(ctx, func(tx *Tx) error {
		writeTestLog(t, ctx, tx, "tx-3")
		inserted, err := tx.InsertEdge(ctx, testEdge("c1", "p1", 1, "tx-3"))
		if err != nil {
			return err
		}
		if !inserted {
			t.Error("InsertEdge() did not insert")
		}
		ok, err := tx.UpdateEdge(ctx, testEdge("c1", "p1", 2, "tx-3"), 1)
		if err != nil {
			return err
		}
		if !ok {
			t.Error("UpdateEdge() did not update")
		}
		v, found, err := tx.EdgeVersion(ctx, "case_member_of_project", "c1", "p1")
		if err != nil {
			return err
		}
		if !found || v != 2 {
			t.Errorf("EdgeVersion() = %d, %v; want 2, true", v, found)
		}
		deleted, err := tx.DeleteEdge(ctx, "case_member_of_project", "c1", "p1", 2)
		if err != nil {
			return err
		}
		if !deleted {
			t.Error("DeleteEdge() did not delete")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx() failed: %v", err)
	}

	if _, err := s.ReadEdge(ctx, "case_member_of_project", "c1", "p1"); err != ErrNotFound {
		t.Errorf("ReadEdge() error = %v, want ErrNotFound", err)
	}
}

func TestDeleteNode_CascadesEdges(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	seedNode(t, s, testNode("project", "p1", 1, "tx-1", props.P("code", props.String("P1"))))
	seedNode(t, s, testNode("case", "c1", 1, "tx-2"))
	err := s.InTx(ctx, func(tx *Tx) error {
		writeTestLog(t, ctx, tx, "tx-3")
		_, err := tx.InsertEdge(ctx, testEdge("c1", "p1", 1, "tx-3"))
		return err
	})
	if err != nil {
		t.Fatalf("InsertEdge() failed: %v", err)
	}

	err = s.InTx(ctx, func(tx *Tx) error {
		_, err := tx.DeleteNode(ctx, "project", "p1", 1)
		return err
	})
	if err != nil {
		t.Fatalf("DeleteNode() failed: %v", err)
	}

	n, _ := s.CountRows(ctx, "edge_case_member_of_project")
	if n != 0 {
		t.Errorf("edge rows = %d after endpoint delete, want 0", n)
	}
}

func TestArchiveNode_Idempotent(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	prev := testNode("project", "p1", 1, "tx-1", props.P("code", props.String("P1")))
	for i := 0; i < 2; i++ {
		err := s.InTx(ctx, func(tx *Tx) error {
			if i == 0 {
				writeTestLog(t, ctx, tx, "tx-1")
			}
			return tx.ArchiveNode(ctx, prev, "tx-1", testTime)
		})
		if err != nil {
			t.Fatalf("ArchiveNode() attempt %d failed: %v", i+1, err)
		}
	}

	n, err := s.CountRows(ctx, TableVersionedNodes)
	if err != nil {
		t.Fatalf("CountRows() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("versioned_nodes rows = %d, want 1", n)
	}
}

func TestArchiveEdge_Idempotent(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	prev := testEdge("c1", "p1", 1, "tx-1")
	err := s.InTx(ctx, func(tx *Tx) error {
		writeTestLog(t, ctx, tx, "tx-1")
		if err := tx.ArchiveEdge(ctx, prev, "tx-1", testTime); err != nil {
			return err
		}
		if err := tx.ArchiveEdge(ctx, prev, "tx-1", testTime); err != nil {
			return err
		}
		// Same version, different kind: a separate row.
		return tx.VoidEdge(ctx, prev, "tx-1", testTime)
	})
	if err != nil {
		t.Fatalf("InTx() failed: %v", err)
	}

	n, _ := s.CountRows(ctx, TableVoidedEdges)
	if n != 2 {
		t.Errorf("_voided_edges rows = %d, want 2", n)
	}
}

func TestWriteLog_AssignsSequence(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"tx-a", "tx-b", "tx-c"} {
		err := s.InTx(ctx, func(tx *Tx) error {
			seq, err := tx.WriteLog(ctx, model.LogEntry{
				ID:          id,
				Actor:       model.Actor{ID: 7, Username: "alice", IsAdmin: true},
				Project:     "PRJ",
				State:       model.StateSucceeded,
				EntityCount: i,
				CreatedAt:   testTime,
				CommittedAt: testTime,
			})
			if err != nil {
				return err
			}
			if seq != int64(i+1) {
				t.Errorf("WriteLog(%s) seq = %d, want %d", id, seq, i+1)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("InTx() failed: %v", err)
		}
	}

	var role string
	if err := s.db.QueryRow("SELECT role FROM transaction_logs WHERE id = 'tx-a'").Scan(&role); err != nil {
		t.Fatalf("query role failed: %v", err)
	}
	if role != "admin" {
		t.Errorf("role = %q, want admin", role)
	}
}

func TestWriteLog_DuplicateIDFails(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	err := s.InTx(ctx, func(tx *Tx) error {
		writeTestLog(t, ctx, tx, "tx-1")
		_, err := tx.WriteLog(ctx, model.LogEntry{ID: "tx-1", State: model.StateSucceeded})
		return err
	})
	if err == nil {
		t.Fatal("expected error for duplicate log id, got nil")
	}
}
