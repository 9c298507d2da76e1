package fixture

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hostzero-GmbH/keycloak-fixtures/fixtures"
	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/template"
)

func TestParsePlan(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    *Plan
		wantErr string
	}{
		{
			name:  "yaml",
			input: "realm: medad\nusers: [testuser1]\nsubstitutions:\n  app.base.url: http://app\n",
			want: &Plan{
				Realm:         "medad",
				Users:         []string{"testuser1"},
				Substitutions: map[string]string{"app.base.url": "http://app"},
			},
		},
		{
			name:  "json",
			input: `{"realm":"medad","clients":["portal"],"sources":{"clients":"other.json"}}`,
			want: &Plan{
				Realm:   "medad",
				Clients: []string{"portal"},
				Sources: Sources{Clients: "other.json"},
			},
		},
		{
			name:    "unknown field",
			input:   "realm: medad\nuser: [testuser1]\n",
			wantErr: "failed to parse plan",
		},
		{
			name:    "no realm",
			input:   "users: [testuser1]\n",
			wantErr: "plan has no realm",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePlan([]byte(tt.input))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadPlan(t *testing.T) {
	plan, err := LoadPlan(filepath.Join("..", "..", "fixtures", "plan-uaepass.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "medad-allow", plan.Realm)
	assert.Equal(t, "uaepass", plan.Profile)
	assert.Equal(t, []string{"testuser1", "testuser2"}, plan.Users)

	_, err = LoadPlan(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read plan")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("realm: [unclosed"), 0600))
	_, err = LoadPlan(bad)
	assert.Error(t, err)
}

func TestPlan_Source(t *testing.T) {
	p := &Plan{Realm: "medad", Sources: Sources{Users: "qa-users.yaml", Profiles: "qa-profile.json"}}

	assert.Equal(t, fixtures.Realms, p.Source(template.KindRealm))
	assert.Equal(t, fixtures.Clients, p.Source(template.KindClient))
	assert.Equal(t, fixtures.IdentityProviders, p.Source(template.KindIdentityProvider))
	assert.Equal(t, "qa-users.yaml", p.Source(template.KindUser))
	assert.Equal(t, "qa-profile.json", p.ProfileSource())
	assert.Equal(t, fixtures.UserProfiles, (&Plan{}).ProfileSource())
}

func TestPlan_SubstitutionsFor(t *testing.T) {
	p := &Plan{Realm: "medad", Substitutions: map[string]string{"a": "1", RealmNameKey: "ignored"}}

	subs := p.SubstitutionsFor("medad-allow")
	assert.Equal(t, map[string]string{"a": "1", RealmNameKey: "medad-allow"}, subs)

	subs["a"] = "changed"
	assert.Equal(t, "1", p.Substitutions["a"], "plan substitutions are not shared")
}

func TestPlan_Keys(t *testing.T) {
	p := &Plan{Realm: "medad", Clients: []string{"c"}, IdentityProviders: []string{"i"}, Users: []string{"u1", "u2"}}

	assert.Equal(t, []string{"medad"}, p.Keys(template.KindRealm))
	assert.Equal(t, []string{"c"}, p.Keys(template.KindClient))
	assert.Equal(t, []string{"i"}, p.Keys(template.KindIdentityProvider))
	assert.Equal(t, []string{"u1", "u2"}, p.Keys(template.KindUser))
}
