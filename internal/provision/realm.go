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

// RealmProvisioner manages realms
type RealmProvisioner struct {
	api *keycloak.Client
	log logr.Logger
}

// NewRealmProvisioner creates a RealmProvisioner
func NewRealmProvisioner(api *keycloak.Client, log logr.Logger) *RealmProvisioner {
	return &RealmProvisioner{api: api, log: log.WithName("realm")}
}

// Kind implements Provisioner
func (p *RealmProvisioner) Kind() template.Kind { return template.KindRealm }

// Create imports the realm document. The scope is ignored.
func (p *RealmProvisioner) Create(ctx context.Context, _ string, r *template.Resolved) (outcome Outcome, err error) {
	start := time.Now()
	defer func() { recordCreate(template.KindRealm, start, outcome, err) }()

	if r.Key == "" {
		return 0, provisionErr(template.KindRealm, r.Key, StageValidate, fmt.Errorf("realm name is empty"))
	}

	body, err := r.JSON()
	if err != nil {
		return 0, provisionErr(template.KindRealm, r.Key, StageValidate, err)
	}

	if err := p.api.CreateRealmFromDefinition(ctx, body); err != nil {
		if keycloak.IsConflict(err) {
			p.log.Info("Realm already exists", "realm", r.Key)
			return AlreadyExists, nil
		}
		return 0, provisionErr(template.KindRealm, r.Key, StageCreate, err)
	}

	p.log.Info("Created realm", "realm", r.Key)
	return Created, nil
}

// Exists reports whether the realm is present
func (p *RealmProvisioner) Exists(ctx context.Context, _ string, key string) (bool, error) {
	if _, err := p.api.GetRealm(ctx, key); err != nil {
		if keycloak.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get realm %s: %w", key, err)
	}
	return true, nil
}

// Delete removes the realm and everything in it
func (p *RealmProvisioner) Delete(ctx context.Context, _ string, key string) (bool, error) {
	if err := p.api.DeleteRealm(ctx, key); err != nil {
		if keycloak.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to delete realm %s: %w", key, err)
	}
	p.log.Info("Deleted realm", "realm", key)
	return true, nil
}

// Update replaces the realm's settings with the resolved document
func (p *RealmProvisioner) Update(ctx context.Context, r *template.Resolved) error {
	body, err := r.JSON()
	if err != nil {
		return provisionErr(template.KindRealm, r.Key, StageValidate, err)
	}
	if err := p.api.UpdateRealm(ctx, r.Key, body); err != nil {
		return provisionErr(template.KindRealm, r.Key, StageUpdate, err)
	}
	p.log.Info("Updated realm", "realm", r.Key)
	return nil
}

// List returns the names of all realms on the server
func (p *RealmProvisioner) List(ctx context.Context) ([]string, error) {
	realms, err := p.api.GetRealms(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list realms: %w", err)
	}
	names := make([]string, 0, len(realms))
	for _, realm := range realms {
		if realm.Realm != nil {
			names = append(names, *realm.Realm)
		}
	}
	return names, nil
}

// Fetch returns the live realm representation
func (p *RealmProvisioner) Fetch(ctx context.Context, key string) (json.RawMessage, error) {
	raw, err := p.api.GetRealmRaw(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get realm %s: %w", key, err)
	}
	return raw, nil
}
