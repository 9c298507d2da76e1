package fixture

import (
	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/keycloak"
	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/provision"
)

// Manifest lists the identifiers a UI automation run needs after a plan was
// applied
type Manifest struct {
	BaseURL           string                  `json:"baseUrl"`
	Realm             RealmEntry              `json:"realm"`
	ProfileAttributes []string                `json:"profileAttributes,omitempty"`
	Clients           []ClientEntry           `json:"clients,omitempty"`
	IdentityProviders []IdentityProviderEntry `json:"identityProviders,omitempty"`
	Users             []UserEntry             `json:"users,omitempty"`
}

// RealmEntry describes the scenario realm
type RealmEntry struct {
	Name    string            `json:"name"`
	Outcome provision.Outcome `json:"outcome"`
}

// ClientEntry describes one client
type ClientEntry struct {
	ClientID     string            `json:"clientId"`
	Outcome      provision.Outcome `json:"outcome"`
	RedirectURIs []string          `json:"redirectUris,omitempty"`
}

// IdentityProviderEntry describes one identity provider
type IdentityProviderEntry struct {
	Alias   string            `json:"alias"`
	Outcome provision.Outcome `json:"outcome"`
}

// UserEntry describes one user and its federated identities
type UserEntry struct {
	Username string            `json:"username"`
	ID       string            `json:"id"`
	Outcome  provision.Outcome `json:"outcome"`
	Links    []LinkEntry       `json:"links,omitempty"`
}

// LinkEntry is one federated identity of a user
type LinkEntry struct {
	IdentityProvider  string `json:"identityProvider"`
	FederatedUserID   string `json:"federatedUserId"`
	FederatedUsername string `json:"federatedUsername,omitempty"`
}

func linkEntries(links []keycloak.FederatedIdentityRepresentation) []LinkEntry {
	if len(links) == 0 {
		return nil
	}
	out := make([]LinkEntry, 0, len(links))
	for _, l := range links {
		out = append(out, LinkEntry{
			IdentityProvider:  l.IdentityProvider,
			FederatedUserID:   l.UserID,
			FederatedUsername: l.UserName,
		})
	}
	return out
}

// User returns the entry for username, or nil
func (m *Manifest) User(username string) *UserEntry {
	for i := range m.Users {
		if m.Users[i].Username == username {
			return &m.Users[i]
		}
	}
	return nil
}
