package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/vgraph/internal/auth"
	"github.com/roach88/vgraph/internal/config"
	"github.com/roach88/vgraph/internal/idservice"
	"github.com/roach88/vgraph/internal/model"
	"github.com/roach88/vgraph/internal/retry"
	"github.com/roach88/vgraph/internal/submission"
)

// TokenEnv holds an actor token when --token is not given.
const TokenEnv = "VGRAPH_TOKEN"

// SubmitOptions holds flags for the submit command.
type SubmitOptions struct {
	*RootOptions
	Token  string // signed actor token
	User   string // local actor username, used without a token
	UserID int64
	Admin  bool
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit <submission>",
		Short: "Apply a submission file as one transaction",
		Long: `Apply a YAML or JSON submission as a single transaction.

Every node and edge change is staged in one session and committed
together; the raw file is stored with the transaction. A version
conflict or schema violation rejects the whole submission.

The actor comes from a signed token (--token or $VGRAPH_TOKEN, verified
with the auth settings) or, without one, from --user.

Node ids missing from the submission are minted by the index service
when idservice.url is set, otherwise generated locally.

Exit codes:
  0 - committed (or dry run logged)
  1 - rejected (schema violation, conflict)
  2 - command error

Example:
  vgraph submit ./cases.yaml --user alice
  VGRAPH_TOKEN=$(vgraph token alice --project PRJ) vgraph submit ./cases.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Token, "token", "", "signed actor token (default $"+TokenEnv+")")
	cmd.Flags().StringVar(&opts.User, "user", "", "actor username when no token is given")
	cmd.Flags().Int64Var(&opts.UserID, "user-id", 1, "actor id when no token is given")
	cmd.Flags().BoolVar(&opts.Admin, "admin", false, "act as an admin when no token is given")

	return cmd
}

func runSubmit(opts *SubmitOptions, path string, cmd *cobra.Command) error {
	e, err := openEnv(cmd, opts.RootOptions, false)
	if err != nil {
		return err
	}
	defer e.Close()

	actor, err := resolveActor(opts, e.cfg)
	if err != nil {
		return e.out.Fail("no actor", err)
	}
	e.out.VerboseLog("Actor: %s (id %d)", actor.Username, actor.ID)

	ctx := cmd.Context()
	minter := idservice.New(e.cfg.IDService.URL, e.cfg.IDService.Timeout)
	if hm, ok := minter.(*idservice.HTTPMinter); ok {
		e.out.VerboseLog("Waiting for index service at %s", hm.BaseURL)
		if err := hm.WaitAlive(ctx, retryPolicy(e.cfg.Retry)); err != nil {
			return e.out.Fail("index service unavailable", err)
		}
	}

	result, err := submission.New(e.driver, minter, e.logger).SubmitFile(ctx, actor, path)
	if err != nil {
		return e.out.Fail("submission rejected", err)
	}

	return e.out.Emit(result, func(w io.Writer) {
		verb := "Committed"
		if result.DryRun {
			verb = "Dry run logged"
		}
		fmt.Fprintf(w, "✓ %s transaction %s (%d change(s))\n", verb, result.TransactionID, result.Changes)
		for _, ent := range result.Entities {
			fmt.Fprintf(w, "  %-6s %s v%d\n", ent.Action, ent.Ref, ent.Version)
		}
	})
}

// resolveActor picks the token actor over the local --user actor.
func resolveActor(opts *SubmitOptions, cfg config.Config) (model.Actor, error) {
	token := opts.Token
	if token == "" {
		token = os.Getenv(TokenEnv)
	}
	if token != "" {
		issuer, err := auth.FromConfig(cfg.Auth)
		if err != nil {
			return model.Actor{}, err
		}
		return issuer.ActorFromToken(token)
	}
	if opts.User == "" {
		return model.Actor{}, fmt.Errorf("pass --token, set %s or pass --user", TokenEnv)
	}
	return model.Actor{ID: opts.UserID, Username: opts.User, IsAdmin: opts.Admin}, nil
}

func retryPolicy(c config.RetryConfig) retry.Policy {
	return retry.Policy{
		Attempts: c.Attempts,
		Initial:  c.Initial,
		Max:      c.Max,
		Timeout:  c.Timeout,
	}
}
