// Package federation manages the links between local Keycloak users and their
// identities at external identity providers.
package federation

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/keycloak"
)

var (
	// ErrLinkNotFound is returned when a user, or its link to an alias, does not exist
	ErrLinkNotFound = errors.New("federated identity link not found")
	// ErrUnchangedLink is returned by Override when the new federated id equals the current one
	ErrUnchangedLink = errors.New("override does not change the federated user id")
)

// Linker creates, queries and removes federated identity links. It never
// caches link state; every query goes to the server.
type Linker struct {
	api *keycloak.Client
	log logr.Logger
}

// NewLinker creates a Linker on top of api
func NewLinker(api *keycloak.Client, log logr.Logger) *Linker {
	return &Linker{api: api, log: log.WithName("federation")}
}

// Link attaches the federated identity to a local user. It returns false
// without error when the user is already linked to alias.
func (l *Linker) Link(ctx context.Context, realm, userID, alias, fedUserID, fedUsername string) (bool, error) {
	if alias == "" || fedUserID == "" {
		return false, fmt.Errorf("identity provider alias and federated user id are required")
	}

	link := keycloak.FederatedIdentityRepresentation{
		IdentityProvider: alias,
		UserID:           fedUserID,
		UserName:         fedUsername,
	}
	if err := l.api.AddFederatedIdentity(ctx, realm, userID, link); err != nil {
		if keycloak.IsConflict(err) {
			l.log.V(1).Info("User already linked", "realm", realm, "userId", userID, "idp", alias)
			return false, nil
		}
		return false, fmt.Errorf("failed to link user %s to %s: %w", userID, alias, err)
	}

	l.log.Info("Linked federated identity", "realm", realm, "userId", userID, "idp", alias, "federatedUserId", fedUserID)
	return true, nil
}

// Links returns every federated identity of a user. A missing user has none.
func (l *Linker) Links(ctx context.Context, realm, userID string) ([]keycloak.FederatedIdentityRepresentation, error) {
	links, err := l.api.GetFederatedIdentities(ctx, realm, userID)
	if err != nil {
		if keycloak.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list federated identities of %s: %w", userID, err)
	}
	return links, nil
}

func (l *Linker) linkFor(ctx context.Context, realm, userID, alias string) (*keycloak.FederatedIdentityRepresentation, error) {
	links, err := l.Links(ctx, realm, userID)
	if err != nil {
		return nil, err
	}
	for i := range links {
		if links[i].IdentityProvider == alias {
			return &links[i], nil
		}
	}
	return nil, nil
}

// HasLink reports whether the user is linked to alias
func (l *Linker) HasLink(ctx context.Context, realm, userID, alias string) (bool, error) {
	link, err := l.linkFor(ctx, realm, userID, alias)
	if err != nil {
		return false, err
	}
	return link != nil, nil
}

// FederatedUserID resolves username to its user id and returns the federated
// user id linked under alias.
func (l *Linker) FederatedUserID(ctx context.Context, realm, username, alias string) (string, error) {
	link, err := l.lookup(ctx, realm, username, alias)
	if err != nil {
		return "", err
	}
	if link == nil {
		return "", fmt.Errorf("user %q has no link to %q: %w", username, alias, ErrLinkNotFound)
	}
	return link.UserID, nil
}

func (l *Linker) lookup(ctx context.Context, realm, username, alias string) (*keycloak.FederatedIdentityRepresentation, error) {
	userID, err := l.userID(ctx, realm, username)
	if err != nil {
		return nil, err
	}
	return l.linkFor(ctx, realm, userID, alias)
}

func (l *Linker) userID(ctx context.Context, realm, username string) (string, error) {
	user, err := l.api.GetUserByUsername(ctx, realm, username)
	if err != nil {
		if keycloak.IsNotFound(err) {
			return "", fmt.Errorf("user %q in realm %q: %w", username, realm, ErrLinkNotFound)
		}
		return "", fmt.Errorf("failed to look up user %q: %w", username, err)
	}
	if user.ID == nil {
		return "", fmt.Errorf("user %q has no id", username)
	}
	return *user.ID, nil
}

// Unlink removes the user's link to alias. It returns false when there was none.
func (l *Linker) Unlink(ctx context.Context, realm, userID, alias string) (bool, error) {
	if err := l.api.RemoveFederatedIdentity(ctx, realm, userID, alias); err != nil {
		if keycloak.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to unlink user %s from %s: %w", userID, alias, err)
	}
	l.log.Info("Unlinked federated identity", "realm", realm, "userId", userID, "idp", alias)
	return true, nil
}

// Override re-points the user's link under alias to a new federated
// identity and returns the previously linked id, or "" if the user was not
// linked. An empty fedUserID generates a random one. An empty fedUsername
// defaults to the local username.
func (l *Linker) Override(ctx context.Context, realm, username, alias, fedUserID, fedUsername string) (string, error) {
	userID, err := l.userID(ctx, realm, username)
	if err != nil {
		return "", err
	}

	current, err := l.linkFor(ctx, realm, userID, alias)
	if err != nil {
		return "", err
	}
	previous := ""
	if current != nil {
		previous = current.UserID
	}

	if fedUserID == "" {
		fedUserID = uuid.NewString()
	}
	if fedUserID == previous {
		return previous, fmt.Errorf("user %q, idp %q: %w", username, alias, ErrUnchangedLink)
	}
	if fedUsername == "" {
		fedUsername = username
	}

	if previous != "" {
		if _, err := l.Unlink(ctx, realm, userID, alias); err != nil {
			return previous, err
		}
	}

	created, err := l.Link(ctx, realm, userID, alias, fedUserID, fedUsername)
	if err != nil {
		if current != nil {
			return previous, l.restore(ctx, realm, userID, current, err)
		}
		return previous, err
	}
	if !created {
		return previous, fmt.Errorf("user %q was linked to %q concurrently", username, alias)
	}

	l.log.Info("Overrode federated identity", "realm", realm, "username", username, "idp", alias,
		"previous", previous, "federatedUserId", fedUserID)
	return previous, nil
}

// restore re-creates a link removed by a failed override. cause is returned,
// joined with the restore failure if there was one.
func (l *Linker) restore(ctx context.Context, realm, userID string, link *keycloak.FederatedIdentityRepresentation, cause error) error {
	if _, err := l.Link(ctx, realm, userID, link.IdentityProvider, link.UserID, link.UserName); err != nil {
		l.log.Error(err, "Failed to restore federated identity", "realm", realm, "userId", userID,
			"idp", link.IdentityProvider, "federatedUserId", link.UserID)
		return errors.Join(cause, fmt.Errorf("restore of link to %s: %w", link.IdentityProvider, err))
	}
	l.log.Info("Restored federated identity", "realm", realm, "userId", userID,
		"idp", link.IdentityProvider, "federatedUserId", link.UserID)
	return cause
}
