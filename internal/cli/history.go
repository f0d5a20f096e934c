package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/vgraph/internal/model"
)

// HistoryResult lists the shadow rows of an entity or a transaction.
type HistoryResult struct {
	Subject string               `json:"subject"`
	Entries []model.HistoryEntry `json:"entries"`
}

// NewHistoryCommand creates the history command and its subcommands.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Read superseded and deleted entity states",
		Long: `Read shadow rows: the states an update replaced and the markers a
delete left. Entity history is ordered by version; transaction history
lists every shadow row a transaction wrote.

Example:
  vgraph history node case 5b6d0e3c
  vgraph history edge case_member_of_project 5b6d0e3c 0f2a11aa
  vgraph history tx 0190f2a4-...`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "node <label> <id>",
		Short:         "History of a node",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(rootOpts, cmd, model.NodeRef(args[0], args[1]).String(),
				func(e *env) ([]model.HistoryEntry, error) {
					return e.driver.NodeHistory(cmd.Context(), args[0], args[1])
				})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "edge <type> <src-id> <dst-id>",
		Short:         "History of an edge",
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(rootOpts, cmd, model.EdgeRef(args[0], args[1], args[2]).String(),
				func(e *env) ([]model.HistoryEntry, error) {
					return e.driver.EdgeHistory(cmd.Context(), args[0], args[1], args[2])
				})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "tx <transaction-id>",
		Short:         "Shadow rows written by a transaction",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(rootOpts, cmd, "transaction "+args[0],
				func(e *env) ([]model.HistoryEntry, error) {
					return e.driver.TransactionHistory(cmd.Context(), args[0])
				})
		},
	})

	return cmd
}

func runHistory(opts *RootOptions, cmd *cobra.Command, subject string, read func(*env) ([]model.HistoryEntry, error)) error {
	e, err := openEnv(cmd, opts, false)
	if err != nil {
		return err
	}
	defer e.Close()

	entries, err := read(e)
	if err != nil {
		return e.out.Fail("read history", err)
	}
	if entries == nil {
		entries = []model.HistoryEntry{}
	}
	result := HistoryResult{Subject: subject, Entries: entries}

	return e.out.Emit(result, func(w io.Writer) {
		if len(entries) == 0 {
			fmt.Fprintf(w, "No history for %s\n", subject)
			return
		}
		fmt.Fprintf(w, "History of %s (%d entries)\n", subject, len(entries))
		for _, h := range entries {
			fmt.Fprintf(w, "  %s v%d %-10s %s %s\n",
				h.Ref, h.Version, h.Kind, h.TransactionID, h.VoidedAt.Format(time.RFC3339))
			if opts.Verbose {
				writeProps(w, "      ", h.Properties)
			}
		}
	})
}
