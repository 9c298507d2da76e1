package provision

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/keycloak"
	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/template"
)

// ClientProvisioner manages OAuth clients, addressed by clientId
type ClientProvisioner struct {
	api *keycloak.Client
	log logr.Logger
}

// NewClientProvisioner creates a ClientProvisioner
func NewClientProvisioner(api *keycloak.Client, log logr.Logger) *ClientProvisioner {
	return &ClientProvisioner{api: api, log: log.WithName("client")}
}

// Kind implements Provisioner
func (p *ClientProvisioner) Kind() template.Kind { return template.KindClient }

// Create registers the client in realm
func (p *ClientProvisioner) Create(ctx context.Context, realm string, r *template.Resolved) (outcome Outcome, err error) {
	start := time.Now()
	defer func() { recordCreate(template.KindClient, start, outcome, err) }()

	if r.Key == "" {
		return 0, provisionErr(template.KindClient, r.Key, StageValidate, fmt.Errorf("clientId is empty"))
	}

	body, err := r.JSON()
	if err != nil {
		return 0, provisionErr(template.KindClient, r.Key, StageValidate, err)
	}

	if _, err := p.api.CreateClient(ctx, realm, body); err != nil {
		if keycloak.IsConflict(err) {
			p.log.Info("Client already exists", "realm", realm, "clientId", r.Key)
			return AlreadyExists, nil
		}
		return 0, provisionErr(template.KindClient, r.Key, StageCreate, err)
	}

	p.log.Info("Created client", "realm", realm, "clientId", r.Key)
	return Created, nil
}

func (p *ClientProvisioner) find(ctx context.Context, realm, clientID string) (*keycloak.ClientRepresentation, error) {
	client, err := p.api.GetClientByClientID(ctx, realm, clientID)
	if err != nil {
		if keycloak.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get client %s: %w", clientID, err)
	}
	return client, nil
}

// Exists reports whether a client with clientId is present in realm
func (p *ClientProvisioner) Exists(ctx context.Context, realm, clientID string) (bool, error) {
	client, err := p.find(ctx, realm, clientID)
	return client != nil, err
}

// Delete resolves the client's internal id and deletes it
func (p *ClientProvisioner) Delete(ctx context.Context, realm, clientID string) (bool, error) {
	client, err := p.find(ctx, realm, clientID)
	if err != nil || client == nil || client.ID == nil {
		return false, err
	}

	if err := p.api.DeleteClient(ctx, realm, *client.ID); err != nil {
		if keycloak.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to delete client %s: %w", clientID, err)
	}
	p.log.Info("Deleted client", "realm", realm, "clientId", clientID)
	return true, nil
}

// RedirectURIs returns the registered redirect URIs of a client
func (p *ClientProvisioner) RedirectURIs(ctx context.Context, realm, clientID string) ([]string, error) {
	client, err := p.find(ctx, realm, clientID)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("client %q in realm %q: %w", clientID, realm, keycloak.ErrNotFound)
	}
	return client.RedirectURIs, nil
}
