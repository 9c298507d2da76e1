// Package template loads declarative fixture documents and resolves the
// ${namespace.key} placeholders inside them.
package template

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Kind identifies a resource collection inside a template document
type Kind string

// Resource kinds
const (
	KindRealm            Kind = "realm"
	KindClient           Kind = "client"
	KindIdentityProvider Kind = "identity-provider"
	KindUser             Kind = "user"
)

type kindInfo struct {
	collection   string
	keyField     string
	mappingField string
}

var kinds = map[Kind]kindInfo{
	KindRealm:            {collection: "realms", keyField: "realm", mappingField: "realmMapping"},
	KindClient:           {collection: "clients", keyField: "clientId", mappingField: "clientMappings"},
	KindIdentityProvider: {collection: "identityProviders", keyField: "alias", mappingField: "idProviderMappings"},
	KindUser:             {collection: "users", keyField: "username", mappingField: "userMappings"},
}

// Kinds returns all kinds in provisioning order
func Kinds() []Kind {
	return []Kind{KindRealm, KindClient, KindIdentityProvider, KindUser}
}

// Collection is the top-level array field holding this kind's entries
func (k Kind) Collection() string { return kinds[k].collection }

// KeyField is the entry field used as primary key
func (k Kind) KeyField() string { return kinds[k].keyField }

// MappingField is the optional shortcut table of this kind
func (k Kind) MappingField() string { return kinds[k].mappingField }

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	_, ok := kinds[k]
	return ok
}

// ParseKind accepts a kind name or its collection name ("users", "identityProviders", ...)
func ParseKind(s string) (Kind, error) {
	s = strings.TrimSpace(s)
	for k, info := range kinds {
		if strings.EqualFold(s, string(k)) || strings.EqualFold(s, info.collection) {
			return k, nil
		}
	}
	switch strings.ToLower(s) {
	case "idp", "idps", "identity-providers":
		return KindIdentityProvider, nil
	}
	return "", fmt.Errorf("unknown resource kind %q", s)
}

// Template is one entry of a collection exactly as loaded from its source.
// Templates are read-only; Resolve produces the copy that gets sent.
type Template struct {
	Kind   Kind
	Key    string
	Source string
	Body   map[string]interface{}
}

// Resolved is a template with its placeholders substituted. It belongs to the
// caller that resolved it.
type Resolved struct {
	Kind Kind
	Key  string
	Body map[string]interface{}
}

// NewResolved wraps an already concrete body, e.g. one built in code
func NewResolved(kind Kind, body map[string]interface{}) *Resolved {
	key, _ := body[kind.KeyField()].(string)
	return &Resolved{Kind: kind, Key: key, Body: body}
}

// JSON encodes the full body
func (r *Resolved) JSON() (json.RawMessage, error) {
	return json.Marshal(r.Body)
}

// String returns a top-level string field, or "" when absent
func (r *Resolved) String(field string) string {
	s, _ := r.Body[field].(string)
	return s
}

// Object returns a top-level object field, or nil when absent
func (r *Resolved) Object(field string) map[string]interface{} {
	m, _ := r.Body[field].(map[string]interface{})
	return m
}

// Has reports whether a top-level field is present
func (r *Resolved) Has(field string) bool {
	_, ok := r.Body[field]
	return ok
}

// Without returns a shallow copy of the body minus the given top-level fields
func (r *Resolved) Without(fields ...string) map[string]interface{} {
	out := make(map[string]interface{}, len(r.Body))
	for k, v := range r.Body {
		out[k] = v
	}
	for _, f := range fields {
		delete(out, f)
	}
	return out
}

// Unresolved lists the placeholders still present in the body
func (r *Resolved) Unresolved() []string {
	return collectPlaceholders(r.Body)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
