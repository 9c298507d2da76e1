package provision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/keycloak"
	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/template"
)

// Template-only user fields. They drive extra steps and are never sent
// with the account.
const (
	passwordField          = "password"
	federatedIdentityField = "federatedIdentity"
)

// IdentityLinker attaches a federated identity to a user
type IdentityLinker interface {
	Link(ctx context.Context, realm, userID, alias, fedUserID, fedUsername string) (bool, error)
}

// FederatedIdentity is the federatedIdentity block of a user template
type FederatedIdentity struct {
	IdentityProvider  string
	FederatedUserID   string
	FederatedUsername string
}

// FederatedIdentityOf reads the template's federatedIdentity block. It
// returns nil when there is none. userId and userName are accepted as
// aliases of federatedUserId and federatedUsername.
func FederatedIdentityOf(r *template.Resolved) (*FederatedIdentity, error) {
	block := r.Object(federatedIdentityField)
	if block == nil {
		if r.Has(federatedIdentityField) {
			return nil, fmt.Errorf("%s is not an object", federatedIdentityField)
		}
		return nil, nil
	}

	str := func(keys ...string) string {
		for _, k := range keys {
			if s, ok := block[k].(string); ok && s != "" {
				return s
			}
		}
		return ""
	}

	fed := &FederatedIdentity{
		IdentityProvider:  str("identityProvider"),
		FederatedUserID:   str("federatedUserId", "userId"),
		FederatedUsername: str("federatedUsername", "userName"),
	}
	if fed.IdentityProvider == "" || fed.FederatedUserID == "" {
		return nil, fmt.Errorf("%s needs identityProvider and federatedUserId", federatedIdentityField)
	}
	if fed.FederatedUsername == "" {
		fed.FederatedUsername = r.Key
	}
	return fed, nil
}

// UserProvisioner manages user accounts, addressed by username
type UserProvisioner struct {
	api    *keycloak.Client
	linker IdentityLinker
	log    logr.Logger
}

// NewUserProvisioner creates a UserProvisioner that links through linker
func NewUserProvisioner(api *keycloak.Client, linker IdentityLinker, log logr.Logger) *UserProvisioner {
	return &UserProvisioner{api: api, linker: linker, log: log.WithName("user")}
}

// Kind implements Provisioner
func (p *UserProvisioner) Kind() template.Kind { return template.KindUser }

// Create makes the account usable as a fixture: it creates the user, sets
// its password as permanent and attaches the federated identity if the
// template declares one. If a later step fails, the new account is removed
// again and a ProvisionError names the step. An existing user is reported
// as AlreadyExists and left as is.
func (p *UserProvisioner) Create(ctx context.Context, realm string, r *template.Resolved) (outcome Outcome, err error) {
	start := time.Now()
	defer func() { recordCreate(template.KindUser, start, outcome, err) }()

	if r.Key == "" {
		return 0, provisionErr(template.KindUser, r.Key, StageValidate, fmt.Errorf("username is empty"))
	}

	password := r.String(passwordField)
	if password == "" && !r.Has("credentials") {
		return 0, provisionErr(template.KindUser, r.Key, StageValidate,
			fmt.Errorf("template has neither %q nor credentials", passwordField))
	}

	fed, err := FederatedIdentityOf(r)
	if err != nil {
		return 0, provisionErr(template.KindUser, r.Key, StageValidate, err)
	}

	body, err := json.Marshal(r.Without(passwordField, federatedIdentityField))
	if err != nil {
		return 0, provisionErr(template.KindUser, r.Key, StageValidate, err)
	}

	userID, err := p.api.CreateUser(ctx, realm, body)
	if err != nil {
		if keycloak.IsConflict(err) {
			p.log.Info("User already exists", "realm", realm, "username", r.Key)
			return AlreadyExists, nil
		}
		return 0, provisionErr(template.KindUser, r.Key, StageCreate, err)
	}

	if userID == "" {
		if userID, err = p.ID(ctx, realm, r.Key); err != nil {
			return 0, provisionErr(template.KindUser, r.Key, StageLookup, err)
		}
	}
	log := p.log.WithValues("realm", realm, "username", r.Key, "userId", userID)

	if password != "" {
		if err := p.api.ResetPassword(ctx, realm, userID, password, false); err != nil {
			return 0, p.rollback(ctx, realm, userID, provisionErr(template.KindUser, r.Key, StageCredential, err))
		}
	}

	if fed != nil {
		linked, err := p.linker.Link(ctx, realm, userID, fed.IdentityProvider, fed.FederatedUserID, fed.FederatedUsername)
		if err != nil {
			return 0, p.rollback(ctx, realm, userID, provisionErr(template.KindUser, r.Key, StageLink, err))
		}
		log.V(1).Info("Federated identity attached", "idp", fed.IdentityProvider, "created", linked)
	}

	log.Info("Created user")
	return Created, nil
}

// rollback deletes a half-provisioned account so that a re-run starts clean.
// cause is returned, joined with the delete failure if there was one.
func (p *UserProvisioner) rollback(ctx context.Context, realm, userID string, cause error) error {
	if err := p.api.DeleteUser(ctx, realm, userID); err != nil && !keycloak.IsNotFound(err) {
		p.log.Error(err, "Failed to remove partially provisioned user", "realm", realm, "userId", userID)
		return errors.Join(cause, fmt.Errorf("rollback of user %s: %w", userID, err))
	}
	p.log.Info("Removed partially provisioned user", "realm", realm, "userId", userID)
	return cause
}

// ID returns the user id of username
func (p *UserProvisioner) ID(ctx context.Context, realm, username string) (string, error) {
	user, err := p.api.GetUserByUsername(ctx, realm, username)
	if err != nil {
		return "", err
	}
	if user.ID == nil {
		return "", fmt.Errorf("user %q has no id", username)
	}
	return *user.ID, nil
}

// Exists reports whether realm has a user with username
func (p *UserProvisioner) Exists(ctx context.Context, realm, username string) (bool, error) {
	if _, err := p.ID(ctx, realm, username); err != nil {
		if keycloak.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get user %s: %w", username, err)
	}
	return true, nil
}

// Delete removes the user with username
func (p *UserProvisioner) Delete(ctx context.Context, realm, username string) (bool, error) {
	userID, err := p.ID(ctx, realm, username)
	if err != nil {
		if keycloak.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get user %s: %w", username, err)
	}

	if err := p.api.DeleteUser(ctx, realm, userID); err != nil {
		if keycloak.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to delete user %s: %w", username, err)
	}
	p.log.Info("Deleted user", "realm", realm, "username", username)
	return true, nil
}
