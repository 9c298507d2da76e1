// Package profile extends a realm's declarative user profile with attribute
// definitions.
package profile

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/keycloak"
)

// Attribute is one user profile attribute definition. Fields other than name
// are passed through untouched.
type Attribute map[string]interface{}

// Name returns the attribute name, or "" if it has none
func (a Attribute) Name() string {
	name, _ := a["name"].(string)
	return name
}

// Merger merges attribute definitions into a realm's user profile
type Merger struct {
	api     *keycloak.Client
	log     logr.Logger
	lenient bool
}

// Option configures a Merger
type Option func(*Merger)

// WithLenient makes MergeAttributes log fetch and write failures and return
// nil instead of failing.
func WithLenient() Option {
	return func(m *Merger) {
		m.lenient = true
	}
}

// NewMerger creates a Merger. It is strict unless WithLenient is given.
func NewMerger(api *keycloak.Client, log logr.Logger, opts ...Option) *Merger {
	m := &Merger{api: api, log: log.WithName("profile-merger")}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Lenient reports whether the merger swallows server failures
func (m *Merger) Lenient() bool {
	return m.lenient
}

// MergeAttributes fetches the realm's user profile, merges defs into its
// attributes by name and writes the whole profile back in one update.
func (m *Merger) MergeAttributes(ctx context.Context, realm string, defs []Attribute) error {
	if err := validate(defs); err != nil {
		return err
	}
	if len(defs) == 0 {
		return nil
	}

	current, err := m.api.GetUserProfile(ctx, realm)
	if err != nil {
		return m.fail(realm, fmt.Errorf("failed to get user profile of realm %s: %w", realm, err))
	}

	existing, err := attributesOf(current)
	if err != nil {
		return m.fail(realm, fmt.Errorf("user profile of realm %s: %w", realm, err))
	}

	merged := Merge(existing, defs)
	list := make([]interface{}, len(merged))
	for i, a := range merged {
		list[i] = map[string]interface{}(a)
	}
	current["attributes"] = list

	if err := m.api.UpdateUserProfile(ctx, realm, current); err != nil {
		return m.fail(realm, fmt.Errorf("failed to update user profile of realm %s: %w", realm, err))
	}

	m.log.Info("Merged user profile attributes", "realm", realm, "merged", len(defs), "total", len(merged))
	return nil
}

func (m *Merger) fail(realm string, err error) error {
	if m.lenient {
		m.log.Error(err, "Ignoring user profile failure", "realm", realm)
		return nil
	}
	return err
}

// Merge removes every existing attribute sharing a name with an incoming one
// and appends the incoming attributes in order. Untouched attributes keep
// their original order ahead of the incoming ones. Neither input is modified.
func Merge(existing, incoming []Attribute) []Attribute {
	out := make([]Attribute, 0, len(existing)+len(incoming))
	out = append(out, existing...)

	for _, def := range incoming {
		name := def.Name()
		kept := out[:0:0]
		for _, a := range out {
			if a.Name() != name {
				kept = append(kept, a)
			}
		}
		out = append(kept, def)
	}
	return out
}

func validate(defs []Attribute) error {
	for i, def := range defs {
		if def.Name() == "" {
			return fmt.Errorf("attribute %d has no name", i)
		}
	}
	return nil
}

func attributesOf(profile map[string]interface{}) ([]Attribute, error) {
	raw, ok := profile["attributes"]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("attributes is not an array")
	}
	out := make([]Attribute, 0, len(list))
	for i, item := range list {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("attribute %d is not an object", i)
		}
		out = append(out, Attribute(obj))
	}
	return out, nil
}
