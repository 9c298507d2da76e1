package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/keycloak"
	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/template"
)

// templateOnlyIDPFields are carried by IDP templates for test bookkeeping
// and rejected by Keycloak.
var templateOnlyIDPFields = []string{"testName"}

// IdentityProviderProvisioner manages identity providers, addressed by alias
type IdentityProviderProvisioner struct {
	api *keycloak.Client
	log logr.Logger
}

// NewIdentityProviderProvisioner creates an IdentityProviderProvisioner
func NewIdentityProviderProvisioner(api *keycloak.Client, log logr.Logger) *IdentityProviderProvisioner {
	return &IdentityProviderProvisioner{api: api, log: log.WithName("identity-provider")}
}

// Kind implements Provisioner
func (p *IdentityProviderProvisioner) Kind() template.Kind { return template.KindIdentityProvider }

// Create adds the identity provider to realm
func (p *IdentityProviderProvisioner) Create(ctx context.Context, realm string, r *template.Resolved) (outcome Outcome, err error) {
	start := time.Now()
	defer func() { recordCreate(template.KindIdentityProvider, start, outcome, err) }()

	if r.Key == "" {
		return 0, provisionErr(template.KindIdentityProvider, r.Key, StageValidate, fmt.Errorf("alias is empty"))
	}

	body, err := json.Marshal(r.Without(templateOnlyIDPFields...))
	if err != nil {
		return 0, provisionErr(template.KindIdentityProvider, r.Key, StageValidate, err)
	}

	if err := p.api.CreateIdentityProvider(ctx, realm, body); err != nil {
		if keycloak.IsConflict(err) {
			p.log.Info("Identity provider already exists", "realm", realm, "alias", r.Key)
			return AlreadyExists, nil
		}
		return 0, provisionErr(template.KindIdentityProvider, r.Key, StageCreate, err)
	}

	p.log.Info("Created identity provider", "realm", realm, "alias", r.Key)
	return Created, nil
}

// Exists reports whether realm has an identity provider with alias
func (p *IdentityProviderProvisioner) Exists(ctx context.Context, realm, alias string) (bool, error) {
	if _, err := p.api.GetIdentityProvider(ctx, realm, alias); err != nil {
		if keycloak.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get identity provider %s: %w", alias, err)
	}
	return true, nil
}

// Delete removes the identity provider
func (p *IdentityProviderProvisioner) Delete(ctx context.Context, realm, alias string) (bool, error) {
	if err := p.api.DeleteIdentityProvider(ctx, realm, alias); err != nil {
		if keycloak.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to delete identity provider %s: %w", alias, err)
	}
	p.log.Info("Deleted identity provider", "realm", realm, "alias", alias)
	return true, nil
}
