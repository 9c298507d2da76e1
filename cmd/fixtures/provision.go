package fixtures

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/fixture"
)

// cleanupTimeout bounds the removal of fixtures left by a failed run
const cleanupTimeout = 2 * time.Minute

type provisionOptions struct {
	plan             string
	sets             []string
	output           string
	format           string
	cleanupOnFailure bool
}

func newProvisionCmd(opts *Options) *cobra.Command {
	p := &provisionOptions{}
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Apply a fixture plan and print the resulting manifest",
		Example: `  # Provision the UAE PASS scenario against a local Keycloak
  keycloak-fixtures provision --plan fixtures/plan-uaepass.yaml \
    --set uaepass.base.url=http://localhost:9000/idshub

  # Write the manifest as JSON and remove everything again if a step fails
  keycloak-fixtures provision --plan plan.yaml --format json --output manifest.json --cleanup-on-failure`,
		RunE: connected(opts, p.run),
	}

	cmd.Flags().StringVar(&p.plan, "plan", "", "Plan file (YAML or JSON)")
	cmd.Flags().StringArrayVar(&p.sets, "set", nil, "Substitution key=value, overrides the plan (repeatable)")
	cmd.Flags().StringVarP(&p.output, "output", "o", "", "Manifest output file (default: stdout)")
	cmd.Flags().StringVar(&p.format, "format", fixture.FormatYAML, "Manifest format: yaml or json")
	cmd.Flags().BoolVar(&p.cleanupOnFailure, "cleanup-on-failure", false, "Delete the resources created by this run when a step fails")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func (p *provisionOptions) run(cmd *cobra.Command, env *environment) error {
	plan, err := fixture.LoadPlan(p.plan)
	if err != nil {
		return err
	}
	sets, err := parseSets(p.sets)
	if err != nil {
		return err
	}
	if len(sets) > 0 && plan.Substitutions == nil {
		plan.Substitutions = make(map[string]string, len(sets))
	}
	for k, v := range sets {
		plan.Substitutions[k] = v
	}

	applier := fixture.NewApplier(env.session, env.store)
	m, err := applier.Apply(cmd.Context(), plan)
	if err != nil {
		if p.cleanupOnFailure {
			if tdErr := cleanup(cmd.Context(), applier.Tracker()); tdErr != nil {
				env.log.Error(tdErr, "Cleanup after failed provisioning was incomplete")
			}
		}
		return fmt.Errorf("provisioning failed: %w", err)
	}

	w := fixture.NewWriter(fixture.WriterOptions{
		OutputFile: p.output,
		Format:     p.format,
		Stdout:     cmd.OutOrStdout(),
	})
	if err := w.Write(m); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// cleanup removes what a failed run created. It keeps going when ctx was
// cancelled by an interrupt.
func cleanup(ctx context.Context, tracker *fixture.Tracker) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	return tracker.Teardown(ctx)
}

// parseSets splits key=value pairs. Values may contain '='.
func parseSets(sets []string) (map[string]string, error) {
	out := make(map[string]string, len(sets))
	for _, s := range sets {
		k, v, ok := strings.Cut(s, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --set %q, expected key=value", s)
		}
		out[k] = v
	}
	return out, nil
}

func newTeardownCmd(opts *Options) *cobra.Command {
	var planFile string
	cmd := &cobra.Command{
		Use:   "teardown",
		Short: "Delete every resource a fixture plan names",
		Long: `Delete the users, identity providers, clients and realm a plan names, in
that order. Resources that are already gone are reported and skipped.`,
		RunE: connected(opts, func(cmd *cobra.Command, env *environment) error {
			plan, err := fixture.LoadPlan(planFile)
			if err != nil {
				return err
			}
			removals, err := fixture.NewApplier(env.session, env.store).Remove(cmd.Context(), plan)

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"Kind", "Realm", "Key", "Deleted"})
			for _, r := range removals {
				t.AppendRow(table.Row{r.Kind, r.Scope, r.Key, r.Deleted})
			}
			t.Render()

			if err != nil {
				return fmt.Errorf("teardown incomplete: %w", err)
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&planFile, "plan", "", "Plan file (YAML or JSON)")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}
