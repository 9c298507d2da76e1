// Package provision turns resolved templates into Keycloak resources with
// create-or-detect-conflict semantics.
package provision

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/federation"
	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/keycloak"
	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/profile"
	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/template"
)

// Provisioner is the shape shared by all resource kinds. scope is the realm
// that holds the resource; realm provisioners ignore it.
type Provisioner interface {
	Kind() template.Kind
	Create(ctx context.Context, scope string, r *template.Resolved) (Outcome, error)
	Exists(ctx context.Context, scope, key string) (bool, error)
	Delete(ctx context.Context, scope, key string) (bool, error)
}

// Session bundles everything a fixture workflow talks to. Build one per run
// and pass it around; it holds no resource state of its own.
type Session struct {
	api *keycloak.Client
	log logr.Logger

	Realms            *RealmProvisioner
	Clients           *ClientProvisioner
	IdentityProviders *IdentityProviderProvisioner
	Users             *UserProvisioner
	Linker            *federation.Linker
	Profiles          *profile.Merger
}

// NewSession wires the provisioners, the linker and a strict profile merger to api
func NewSession(api *keycloak.Client, log logr.Logger) *Session {
	linker := federation.NewLinker(api, log)
	return &Session{
		api:               api,
		log:               log,
		Realms:            NewRealmProvisioner(api, log),
		Clients:           NewClientProvisioner(api, log),
		IdentityProviders: NewIdentityProviderProvisioner(api, log),
		Users:             NewUserProvisioner(api, linker, log),
		Linker:            linker,
		Profiles:          profile.NewMerger(api, log),
	}
}

// API returns the underlying admin client
func (s *Session) API() *keycloak.Client {
	return s.api
}

// Logger returns the session logger
func (s *Session) Logger() logr.Logger {
	return s.log
}

// For returns the provisioner of kind
func (s *Session) For(kind template.Kind) (Provisioner, error) {
	switch kind {
	case template.KindRealm:
		return s.Realms, nil
	case template.KindClient:
		return s.Clients, nil
	case template.KindIdentityProvider:
		return s.IdentityProviders, nil
	case template.KindUser:
		return s.Users, nil
	}
	return nil, fmt.Errorf("unknown resource kind %q", kind)
}
