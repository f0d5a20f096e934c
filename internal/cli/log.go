package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/vgraph/internal/model"
	"github.com/roach88/vgraph/internal/txlog"
)

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	After    int64
	Limit    int
	ShowDocs bool
}

// TransactionDetail is one transaction with its snapshot and documents.
type TransactionDetail struct {
	*txlog.Entry
	Documents []DocumentView `json:"documents"`
}

// DocumentView is a stored document; Content is set with --show-docs.
type DocumentView struct {
	model.Document
	Content string `json:"content,omitempty"`
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log [transaction-id]",
		Short: "List committed transactions or show one",
		Long: `Without an argument, list committed transactions in commit order.
With a transaction id, show its log entry, the changes of its snapshot
and the documents stored with it.

Examples:
  vgraph log
  vgraph log --after 10 --limit 5
  vgraph log 0190f2a4-... --show-docs`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runLogShow(opts, args[0], cmd)
			}
			return runLogList(opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.After, "after", 0, "list entries after this sequence number")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum entries to list (0 for all)")
	cmd.Flags().BoolVar(&opts.ShowDocs, "show-docs", false, "print document contents")

	return cmd
}

func runLogList(opts *LogOptions, cmd *cobra.Command) error {
	e, err := openEnv(cmd, opts.RootOptions, false)
	if err != nil {
		return err
	}
	defer e.Close()

	if opts.Limit < 0 {
		return e.out.Fail("invalid flags", NewExitError(ExitCommandError, "--limit must be non-negative"))
	}
	entries, err := e.driver.Transactions(cmd.Context(), opts.After, opts.Limit)
	if err != nil {
		return e.out.Fail("read log", err)
	}
	if entries == nil {
		entries = []model.LogEntry{}
	}

	return e.out.Emit(entries, func(w io.Writer) {
		if len(entries) == 0 {
			fmt.Fprintln(w, "No transactions")
			return
		}
		for _, le := range entries {
			fmt.Fprintf(w, "%4d %s %-9s %-12s %3d entities  %s\n",
				le.Seq, le.ID, le.State, le.Actor.Username, le.EntityCount, le.CommittedAt.Format(time.RFC3339))
		}
	})
}

func runLogShow(opts *LogOptions, id string, cmd *cobra.Command) error {
	e, err := openEnv(cmd, opts.RootOptions, false)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := cmd.Context()
	entry, err := e.driver.Transaction(ctx, id)
	if err != nil {
		return e.out.Fail("read transaction", err)
	}
	docs, err := e.driver.Documents(ctx, id)
	if err != nil {
		return e.out.Fail("read documents", err)
	}

	detail := TransactionDetail{Entry: entry, Documents: make([]DocumentView, len(docs))}
	for i, d := range docs {
		detail.Documents[i] = DocumentView{Document: d}
		if opts.ShowDocs {
			detail.Documents[i].Content = string(d.Data)
		}
	}

	return e.out.Emit(detail, func(w io.Writer) {
		fmt.Fprintf(w, "Transaction %s (seq %d)\n", entry.ID, entry.Seq)
		fmt.Fprintf(w, "  state:     %s\n", entry.State)
		fmt.Fprintf(w, "  actor:     %s (id %d)\n", entry.Actor.Username, entry.Actor.ID)
		if entry.Project != "" {
			fmt.Fprintf(w, "  project:   %s\n", entry.Project)
		}
		fmt.Fprintf(w, "  committed: %s\n", entry.CommittedAt.Format(time.RFC3339))

		fmt.Fprintf(w, "\nChanges (%d):\n", len(entry.Changes))
		for _, c := range entry.Changes {
			fmt.Fprintf(w, "  %-6s %s v%d -> v%d\n", c.Action, c.Ref, c.OldVersion, c.NewVersion)
		}

		if len(detail.Documents) > 0 {
			fmt.Fprintf(w, "\nDocuments (%d):\n", len(detail.Documents))
			for _, d := range detail.Documents {
				fmt.Fprintf(w, "  %s (%s, %d bytes, blake3 %s)\n", d.Name, d.Format, d.Size, d.Digest)
				if opts.ShowDocs {
					fmt.Fprintln(w, d.Content)
				}
			}
		}
	})
}
