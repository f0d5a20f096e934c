// Package maintenance empties a graph database for test setup and
// teardown.
//
// The reset order is fixed: current entity tables first (nodes in
// dictionary order, then edges), then the shadow tables, then the
// transaction artifacts, with transaction_logs last because everything
// else references it. The whole plan runs in one SQL transaction with
// foreign keys enforced, so a reset either empties every table or none.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/vgraph/internal/dictionary"
	"github.com/roach88/vgraph/internal/store"
)

// Plan returns the tables ResetAll clears, in order.
func Plan(dict *dictionary.Dictionary) []string {
	plan := dict.NodeTables()
	plan = append(plan, dict.EdgeTables()...)
	return append(plan,
		store.TableVersionedNodes,
		store.TableVoidedNodes,
		store.TableVoidedEdges,
		store.TableTransactionSnapshots,
		store.TableTransactionDocuments,
		store.TableTransactionLogs,
	)
}

// TableCount is the number of rows a table held before a reset.
type TableCount struct {
	Table string `json:"table"`
	Rows  int64  `json:"rows"`
}

// Report describes a completed reset.
type Report struct {
	Tables []TableCount `json:"tables"`
	Total  int64        `json:"total"`
}

// ResetAll deletes every row of every table in Plan order. Type tables
// missing from the database are created first so the plan never names an
// unknown table. Counts are read before the delete and are advisory when
// other writers are active.
func ResetAll(ctx context.Context, s *store.Store, dict *dictionary.Dictionary, logger *slog.Logger) (*Report, error) {
	if err := s.EnsureTypeTables(ctx, dict); err != nil {
		return nil, fmt.Errorf("reset: %w", err)
	}

	plan := Plan(dict)
	report := &Report{Tables: make([]TableCount, 0, len(plan))}
	for _, table := range plan {
		n, err := s.CountRows(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("reset: %w", err)
		}
		report.Tables = append(report.Tables, TableCount{Table: table, Rows: n})
		report.Total += n
	}

	if err := s.DeleteAll(ctx, plan); err != nil {
		logger.Error("reset failed", "error", err)
		return nil, fmt.Errorf("reset: %w", err)
	}

	logger.Info("database reset", "tables", len(plan), "rows", report.Total)
	return report, nil
}
