package fixtures

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/federation"
)

type linkTarget struct {
	realm    string
	username string
	alias    string
}

func (l *linkTarget) bindFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&l.realm, "realm", "", "Realm of the user")
	cmd.Flags().StringVar(&l.username, "user", "", "Username of the user to inspect or change")
	cmd.Flags().StringVar(&l.alias, "idp", "", "Identity provider alias")
	for _, name := range []string{"realm", "user", "idp"} {
		_ = cmd.MarkFlagRequired(name)
	}
}

func newLinkCmd(opts *Options) *cobra.Command {
	target := &linkTarget{}
	var fedUserID, fedUsername string
	var override bool
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Link a user to an identity provider",
		Long: `Link a user to an identity provider account. Without --federated-user-id a
random id is used. With --override an existing link is replaced by one with a
different federated user id.`,
		RunE: connected(opts, func(cmd *cobra.Command, env *environment) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			linker := env.session.Linker

			if override {
				previous, err := linker.Override(ctx, target.realm, target.username, target.alias, fedUserID, fedUsername)
				if err != nil {
					return err
				}
				obs, err := linker.Observe(ctx, target.realm, target.username, target.alias)
				if err != nil {
					return err
				}
				if err := obs.Verify(federation.Outcome{State: federation.Overridden}, previous); err != nil {
					return err
				}
				fmt.Fprintf(out, "Overrode link %s/%s: %q -> %q\n", target.username, target.alias, previous, obs.FederatedUserID)
				return nil
			}

			userID, err := env.session.Users.ID(ctx, target.realm, target.username)
			if err != nil {
				return err
			}
			if fedUserID == "" {
				fedUserID = uuid.NewString()
			}
			if fedUsername == "" {
				fedUsername = target.username
			}
			created, err := linker.Link(ctx, target.realm, userID, target.alias, fedUserID, fedUsername)
			if err != nil {
				return err
			}
			if !created {
				fmt.Fprintf(out, "User %s is already linked to %s\n", target.username, target.alias)
				return nil
			}
			fmt.Fprintf(out, "Linked %s to %s as %q\n", target.username, target.alias, fedUserID)
			return nil
		}),
	}
	target.bindFlags(cmd)
	cmd.Flags().StringVar(&fedUserID, "federated-user-id", "", "Federated user id (default: random)")
	cmd.Flags().StringVar(&fedUsername, "federated-username", "", "Federated username (default: --user)")
	cmd.Flags().BoolVar(&override, "override", false, "Replace an existing link")
	return cmd
}

func newUnlinkCmd(opts *Options) *cobra.Command {
	target := &linkTarget{}
	cmd := &cobra.Command{
		Use:   "unlink",
		Short: "Remove a user's link to an identity provider",
		RunE: connected(opts, func(cmd *cobra.Command, env *environment) error {
			userID, err := env.session.Users.ID(cmd.Context(), target.realm, target.username)
			if err != nil {
				return err
			}
			removed, err := env.session.Linker.Unlink(cmd.Context(), target.realm, userID, target.alias)
			if err != nil {
				return err
			}
			if removed {
				fmt.Fprintf(cmd.OutOrStdout(), "Unlinked %s from %s\n", target.username, target.alias)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "User %s was not linked to %s\n", target.username, target.alias)
			}
			return nil
		}),
	}
	target.bindFlags(cmd)
	return cmd
}

func newCheckLinkCmd(opts *Options) *cobra.Command {
	target := &linkTarget{}
	var expect string
	cmd := &cobra.Command{
		Use:   "check-link",
		Short: "Show whether a user is linked to an identity provider",
		Example: `  keycloak-fixtures check-link --realm medad-allow --user testuser1 --idp uaepass --expect linked`,
		RunE: connected(opts, func(cmd *cobra.Command, env *environment) error {
			want, err := parseExpectation(expect)
			if err != nil {
				return err
			}
			obs, err := env.session.Linker.Observe(cmd.Context(), target.realm, target.username, target.alias)
			if err != nil {
				return err
			}

			linked := text.FgYellow.Sprint("no")
			if obs.Linked {
				linked = text.FgGreen.Sprint("yes")
			}
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"Username", "Identity Provider", "Linked", "Federated User ID", "Federated Username"})
			t.AppendRow(table.Row{obs.Username, obs.Alias, linked, obs.FederatedUserID, obs.FederatedUsername})
			t.Render()

			if want != nil {
				return obs.VerifyLinked(*want)
			}
			return nil
		}),
	}
	target.bindFlags(cmd)
	cmd.Flags().StringVar(&expect, "expect", "", "Fail unless the user is 'linked' or 'unlinked'")
	return cmd
}

func parseExpectation(s string) (*bool, error) {
	var linked bool
	switch strings.ToLower(s) {
	case "":
		return nil, nil
	case "linked":
		linked = true
	case "unlinked":
		linked = false
	default:
		return nil, fmt.Errorf("invalid --expect %q, use linked or unlinked", s)
	}
	return &linked, nil
}
