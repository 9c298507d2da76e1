// Package fixtures provides the keycloak-fixtures command line.
package fixtures

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/provision"
	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/template"
)

// Exit codes
const (
	ExitCodeSuccess = 0
	// ExitCodeError is any failure without a more specific code
	ExitCodeError = 1
	// ExitCodeTemplateNotFound means a plan or flag named a template key that no source holds
	ExitCodeTemplateNotFound = 2
	// ExitCodeProvisionFailed means Keycloak rejected a create or a follow-up step
	ExitCodeProvisionFailed = 3
)

// NewRootCommand builds the command tree
func NewRootCommand() *cobra.Command {
	return newRootCommand(NewOptions())
}

func newRootCommand(opts *Options) *cobra.Command {
	root := &cobra.Command{
		Use:   "keycloak-fixtures",
		Short: "Provision Keycloak test fixtures from declarative templates",
		Long: `keycloak-fixtures creates realms, clients, identity providers and users
from JSON or YAML templates through the Keycloak admin REST API, links users to
external identity providers and merges user profile attributes.

Connection settings come from the environment (KEYCLOAK_URL, KEYCLOAK_REALM,
KEYCLOAK_ADMIN_USERNAME, KEYCLOAK_ADMIN_PASSWORD, ...) and may be overridden
by flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	opts.BindFlags(root.PersistentFlags())

	root.AddCommand(
		newProvisionCmd(opts),
		newTeardownCmd(opts),
		newListCmd(opts),
		newMergeProfileCmd(opts),
		newLinkCmd(opts),
		newUnlinkCmd(opts),
		newCheckLinkCmd(opts),
	)
	return root
}

// Execute runs the command line with args and returns the process exit code
func Execute(args []string) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nInterrupted, cleaning up...")
			cancel()
		case <-ctx.Done():
		}
	}()

	root := NewRootCommand()
	root.SetArgs(args)
	return run(ctx, root)
}

func run(ctx context.Context, root *cobra.Command) int {
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
	}
	return ExitCode(err)
}

// ExitCode maps an error to the process exit code
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitCodeSuccess
	case template.IsNotFound(err):
		return ExitCodeTemplateNotFound
	case provision.IsProvisionError(err):
		return ExitCodeProvisionFailed
	default:
		return ExitCodeError
	}
}

// connected wraps a command body that needs a Keycloak session. Metrics are
// written after the body returns, whether or not it failed.
func connected(opts *Options, body func(cmd *cobra.Command, env *environment) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) (err error) {
		log := opts.Logger(cmd.ErrOrStderr())
		defer func() {
			if mErr := opts.WriteMetrics(); mErr != nil && err == nil {
				err = mErr
			}
		}()

		session, cfg, err := opts.Connect(cmd.Context(), log)
		if err != nil {
			return err
		}
		return body(cmd, &environment{
			session: session,
			store:   opts.Store(cfg, log),
			log:     log,
		})
	}
}

type environment struct {
	session *provision.Session
	store   *template.Store
	log     logr.Logger
}
