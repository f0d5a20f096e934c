package cli

import (
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/vgraph/internal/auth"
	"github.com/roach88/vgraph/internal/model"
)

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	*RootOptions
	UserID   int64
	Admin    bool
	Projects []string
	Scopes   []string
}

// TokenResult is an issued token.
type TokenResult struct {
	Token string      `json:"token"`
	Actor model.Actor `json:"actor"`
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token <username>",
		Short: "Issue a signed actor token",
		Long: `Issue a token carrying an actor, signed with the configured key
(auth.private_key_file) or secret (auth.hmac_secret).

Each --project grants the submitter roles (create, read, update, delete,
download, read-storage) on that project.

Example:
  vgraph token alice --project PRJ --project OTHER
  vgraph token root --admin --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(opts, args[0], cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.UserID, "id", 1, "actor id")
	cmd.Flags().BoolVar(&opts.Admin, "admin", false, "grant every role on every project")
	cmd.Flags().StringArrayVar(&opts.Projects, "project", nil, "project to grant submitter roles on (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Scopes, "scope", nil, "token scope (repeatable)")

	return cmd
}

func runToken(opts *TokenOptions, username string, cmd *cobra.Command) error {
	formatter := newFormatter(cmd, opts.RootOptions)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return formatter.Fail("failed to load config", err)
	}
	issuer, err := auth.FromConfig(cfg.Auth)
	if err != nil {
		return formatter.Fail("failed to build issuer", err)
	}

	actor := model.Actor{ID: opts.UserID, Username: username, IsAdmin: opts.Admin}
	if len(opts.Projects) > 0 {
		actor.ProjectAccess = make(map[string][]string, len(opts.Projects))
		for _, p := range opts.Projects {
			actor.ProjectAccess[p] = slices.Clone(model.AllRoles)
		}
	}

	token, err := issuer.Issue(actor, opts.Scopes...)
	if err != nil {
		return formatter.Fail("failed to issue token", err)
	}
	formatter.VerboseLog("Issued token for %s (projects: %v, ttl: %s)", username, actor.Projects(), cfg.Auth.TTL)

	return formatter.Emit(TokenResult{Token: token, Actor: actor}, func(w io.Writer) {
		fmt.Fprintln(w, token)
	})
}
