package fixtures

import (
	"fmt"

	"github.com/spf13/cobra"

	fixturedata "github.com/Hostzero-GmbH/keycloak-fixtures/fixtures"
	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/profile"
	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/template"
)

func newMergeProfileCmd(opts *Options) *cobra.Command {
	var realm, source, key string
	var lenient bool
	cmd := &cobra.Command{
		Use:   "merge-profile",
		Short: "Merge user profile attributes from a template into a realm",
		Long: `Merge user profile attribute definitions into a realm's user profile.
Attributes with the same name are replaced, all others are kept. --key is a
profileMapping shortcut or the realm entry of the profiles array and defaults
to --realm.`,
		RunE: connected(opts, func(cmd *cobra.Command, env *environment) error {
			if key == "" {
				key = realm
			}
			_, attrs, err := profile.AttributesByMappingKey(env.store, source, key)
			if template.IsNotFound(err) {
				attrs, err = profile.AttributesFromSource(env.store, source, key)
			}
			if err != nil {
				return err
			}

			var mergeOpts []profile.Option
			if lenient {
				mergeOpts = append(mergeOpts, profile.WithLenient())
			}
			merger := profile.NewMerger(env.session.API(), env.log, mergeOpts...)
			if err := merger.MergeAttributes(cmd.Context(), realm, attrs); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Merged %d attribute(s) into realm %s\n", len(attrs), realm)
			return nil
		}),
	}
	cmd.Flags().StringVar(&realm, "realm", "", "Target realm")
	cmd.Flags().StringVar(&source, "source", fixturedata.UserProfiles, "User profile document")
	cmd.Flags().StringVar(&key, "key", "", "profileMapping shortcut or profiles entry (default: --realm)")
	cmd.Flags().BoolVar(&lenient, "lenient", false, "Log server failures instead of failing")
	_ = cmd.MarkFlagRequired("realm")
	return cmd
}
