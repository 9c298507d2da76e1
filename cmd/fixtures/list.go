package fixtures

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/fixture"
	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/template"
)

func newListCmd(opts *Options) *cobra.Command {
	var source, kindName string
	var quiet bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the templates of one kind with their shortcuts and placeholders",
		Example: `  keycloak-fixtures list --kind users
  keycloak-fixtures list --kind identity-providers --source ./qa/identity-providers.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kind, err := template.ParseKind(kindName)
			if err != nil {
				return err
			}
			cfg, err := opts.Config()
			if err != nil {
				return err
			}
			store := opts.Store(cfg, opts.Logger(cmd.ErrOrStderr()))
			if source == "" {
				source = (&fixture.Plan{}).Source(kind)
			}

			if quiet {
				keys, err := store.Keys(source, kind)
				if err != nil {
					return err
				}
				for _, key := range keys {
					fmt.Fprintln(cmd.OutOrStdout(), key)
				}
				return nil
			}

			templates, err := store.LoadCollection(source, kind)
			if err != nil {
				return err
			}
			mapping, err := store.LoadMapping(source, kind.MappingField())
			if err != nil {
				return err
			}
			shortcuts := make(map[string][]string)
			for shortcut, key := range mapping {
				shortcuts[key] = append(shortcuts[key], shortcut)
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"Key", "Shortcuts", "Placeholders"})
			for _, tmpl := range templates {
				names := shortcuts[tmpl.Key]
				sort.Strings(names)
				t.AppendRow(table.Row{tmpl.Key, strings.Join(names, ", "), strings.Join(template.Placeholders(tmpl), ", ")})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "Template document (default: the kind's standard document)")
	cmd.Flags().StringVar(&kindName, "kind", "", "Resource kind: realms, clients, identity-providers or users")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Print only the keys, one per line")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}
