// Package fixtures embeds the default template documents.
package fixtures

import "embed"

// FS holds the default templates: realm-configs.json, clients.json,
// identity-providers.json, users.json, user-profile.json and the sample plans.
//
//go:embed *.json *.yaml
var FS embed.FS

// Default source names
const (
	Realms            = "realm-configs.json"
	Clients           = "clients.json"
	IdentityProviders = "identity-providers.json"
	Users             = "users.json"
	UserProfiles      = "user-profile.json"
)
