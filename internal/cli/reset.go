package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/vgraph/internal/maintenance"
)

// ResetOptions holds flags for the reset command.
type ResetOptions struct {
	*RootOptions
	Yes bool
}

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every row of every table",
		Long: `Empty the database: current entity tables, shadow tables and the
transaction log, in one SQL transaction. Tables are kept.

Without --yes the command only lists the tables it would clear.

Example:
  vgraph reset --db ./test.db
  vgraph reset --db ./test.db --yes`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReset(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Yes, "yes", false, "actually delete the rows")

	return cmd
}

func runReset(opts *ResetOptions, cmd *cobra.Command) error {
	e, err := openEnv(cmd, opts.RootOptions, false)
	if err != nil {
		return err
	}
	defer e.Close()

	if !opts.Yes {
		plan := maintenance.Plan(e.dict)
		return e.out.Emit(map[string]any{"plan": plan, "applied": false}, func(w io.Writer) {
			fmt.Fprintf(w, "Would clear %d tables (pass --yes to apply):\n", len(plan))
			for _, t := range plan {
				fmt.Fprintf(w, "  %s\n", t)
			}
		})
	}

	report, err := maintenance.ResetAll(cmd.Context(), e.store, e.dict, e.logger)
	if err != nil {
		return e.out.Fail("reset failed", err)
	}
	return e.out.Emit(report, func(w io.Writer) {
		fmt.Fprintf(w, "✓ Cleared %d rows from %d tables\n", report.Total, len(report.Tables))
		for _, tc := range report.Tables {
			if tc.Rows > 0 || opts.Verbose {
				fmt.Fprintf(w, "  %-32s %d\n", tc.Table, tc.Rows)
			}
		}
	})
}
