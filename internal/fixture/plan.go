// Package fixture applies declarative fixture plans: one realm plus the
// clients, identity providers, users and profile attributes a scenario needs.
package fixture

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/Hostzero-GmbH/keycloak-fixtures/fixtures"
	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/template"
)

// RealmNameKey is always substituted with the plan's realm
const RealmNameKey = "realm.name"

// Sources names the template document of each kind
type Sources struct {
	Realms            string `json:"realms,omitempty"`
	Clients           string `json:"clients,omitempty"`
	IdentityProviders string `json:"identityProviders,omitempty"`
	Users             string `json:"users,omitempty"`
	Profiles          string `json:"profiles,omitempty"`
}

// Plan describes the fixtures of one scenario. Every entry is a template key
// or a shortcut from the source's mapping table.
type Plan struct {
	Realm             string            `json:"realm"`
	Profile           string            `json:"profile,omitempty"`
	LenientProfile    bool              `json:"lenientProfile,omitempty"`
	Clients           []string          `json:"clients,omitempty"`
	IdentityProviders []string          `json:"identityProviders,omitempty"`
	Users             []string          `json:"users,omitempty"`
	Sources           Sources           `json:"sources,omitempty"`
	Substitutions     map[string]string `json:"substitutions,omitempty"`
}

// LoadPlan reads a JSON or YAML plan file
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	return ParsePlan(data)
}

// ParsePlan decodes and validates a JSON or YAML plan
func ParsePlan(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.UnmarshalStrict(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks that the plan names a realm
func (p *Plan) Validate() error {
	if p.Realm == "" {
		return fmt.Errorf("plan has no realm")
	}
	return nil
}

// Source returns the document holding templates of kind, falling back to
// the embedded default name
func (p *Plan) Source(kind template.Kind) string {
	pick := func(set, def string) string {
		if set != "" {
			return set
		}
		return def
	}
	switch kind {
	case template.KindRealm:
		return pick(p.Sources.Realms, fixtures.Realms)
	case template.KindClient:
		return pick(p.Sources.Clients, fixtures.Clients)
	case template.KindIdentityProvider:
		return pick(p.Sources.IdentityProviders, fixtures.IdentityProviders)
	case template.KindUser:
		return pick(p.Sources.Users, fixtures.Users)
	}
	return ""
}

// ProfileSource returns the user profile document
func (p *Plan) ProfileSource() string {
	if p.Sources.Profiles != "" {
		return p.Sources.Profiles
	}
	return fixtures.UserProfiles
}

// SubstitutionsFor copies the plan substitutions and sets realm.name
func (p *Plan) SubstitutionsFor(realm string) map[string]string {
	subs := make(map[string]string, len(p.Substitutions)+1)
	for k, v := range p.Substitutions {
		subs[k] = v
	}
	subs[RealmNameKey] = realm
	return subs
}

// Keys returns the plan entries of kind
func (p *Plan) Keys(kind template.Kind) []string {
	switch kind {
	case template.KindRealm:
		return []string{p.Realm}
	case template.KindClient:
		return p.Clients
	case template.KindIdentityProvider:
		return p.IdentityProviders
	case template.KindUser:
		return p.Users
	}
	return nil
}
