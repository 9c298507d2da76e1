// Package keycloak provides a client for interacting with the Keycloak Admin REST API.
package keycloak

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-resty/resty/v2"
	"k8s.io/apimachinery/pkg/util/wait"
)

// DefaultTimeout is the per-request timeout used when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Client provides methods to interact with the Keycloak Admin REST API
type Client struct {
	baseURL      string
	realm        string
	username     string
	password     string
	clientID     string
	clientSecret string

	httpClient  *resty.Client
	token       *TokenResponse
	tokenExpiry time.Time
	tokenMutex  sync.RWMutex
	log         logr.Logger
}

// Config holds Keycloak client configuration
type Config struct {
	BaseURL      string
	Realm        string // realm used for admin authentication, defaults to "master"
	Username     string
	Password     string
	ClientID     string // optional, for client credentials
	ClientSecret string // optional, for client credentials
	Timeout      time.Duration
}

// TokenResponse represents an OAuth2 token response
type TokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshToken     string `json:"refresh_token"`
	RefreshExpiresIn int    `json:"refresh_expires_in"`
	TokenType        string `json:"token_type"`
}

// NewClient creates a new Keycloak client
func NewClient(cfg Config, log logr.Logger) *Client {
	if cfg.Realm == "" {
		cfg.Realm = "master"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	httpClient := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(0)

	return &Client{
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		realm:        cfg.Realm,
		username:     cfg.Username,
		password:     cfg.Password,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient:   httpClient,
		log:          log.WithName("keycloak-client"),
	}
}

// BaseURL returns the server URL the client was constructed with
func (c *Client) BaseURL() string {
	return c.baseURL
}

// getToken gets a valid token, refreshing if necessary
func (c *Client) getToken(ctx context.Context) (string, error) {
	c.tokenMutex.RLock()
	if c.token != nil && c.isTokenValid() {
		defer c.tokenMutex.RUnlock()
		return c.token.AccessToken, nil
	}
	c.tokenMutex.RUnlock()

	c.tokenMutex.Lock()
	defer c.tokenMutex.Unlock()

	// Double-check after acquiring write lock
	if c.token != nil && c.isTokenValid() {
		return c.token.AccessToken, nil
	}

	path := fmt.Sprintf("/realms/%s/protocol/openid-connect/token", url.PathEscape(c.realm))

	formData := map[string]string{}

	if c.clientID != "" && c.clientSecret != "" {
		// Client credentials grant
		formData["grant_type"] = "client_credentials"
		formData["client_id"] = c.clientID
		formData["client_secret"] = c.clientSecret
	} else {
		// Password grant
		formData["grant_type"] = "password"
		formData["client_id"] = "admin-cli"
		formData["username"] = c.username
		formData["password"] = c.password
	}

	var token TokenResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetFormData(formData).
		SetResult(&token).
		Post(c.baseURL + path)

	if err != nil {
		recordRequest(http.MethodPost, path, 0)
		return "", fmt.Errorf("failed to authenticate with Keycloak: %w", err)
	}
	recordRequest(http.MethodPost, path, resp.StatusCode())

	if resp.IsError() {
		return "", fmt.Errorf("failed to authenticate with Keycloak: %w", newAPIError(http.MethodPost, path, resp))
	}

	c.token = &token
	c.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)

	return token.AccessToken, nil
}

// isTokenValid checks if the current token is still valid
func (c *Client) isTokenValid() bool {
	if c.token == nil {
		return false
	}
	// Add a buffer of 30 seconds before expiration
	return time.Now().Add(30 * time.Second).Before(c.tokenExpiry)
}

// Ping checks if the Keycloak server is accessible
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.getToken(ctx)
	return err
}

// WaitReady polls Ping until it succeeds or timeout elapses. A freshly
// started Keycloak answers on its port well before the token endpoint works.
func (c *Client) WaitReady(ctx context.Context, interval, timeout time.Duration) error {
	var lastErr error
	err := wait.PollUntilContextTimeout(ctx, interval, timeout, true, func(ctx context.Context) (bool, error) {
		if lastErr = c.Ping(ctx); lastErr != nil {
			c.log.V(1).Info("Keycloak not ready yet", "error", lastErr.Error())
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		if lastErr != nil {
			return fmt.Errorf("keycloak at %s not ready: %w", c.baseURL, lastErr)
		}
		return fmt.Errorf("keycloak at %s not ready: %w", c.baseURL, err)
	}
	return nil
}

// request creates an authenticated request
func (c *Client) request(ctx context.Context) (*resty.Request, error) {
	token, err := c.getToken(ctx)
	if err != nil {
		return nil, err
	}

	return c.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetAuthToken(token), nil
}

// do executes an authenticated request against path. Non-2xx answers come
// back as *APIError.
func (c *Client) do(ctx context.Context, method, path string, body, result interface{}, params map[string]string) (*resty.Response, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}
	if params != nil {
		req.SetQueryParams(params)
	}

	c.log.V(1).Info("Keycloak request", "method", method, "path", path)

	resp, err := req.Execute(method, c.baseURL+path)
	if err != nil {
		recordRequest(method, path, 0)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	recordRequest(method, path, resp.StatusCode())

	if resp.IsError() {
		return resp, newAPIError(method, path, resp)
	}
	return resp, nil
}

func newAPIError(method, path string, resp *resty.Response) *APIError {
	return &APIError{
		Method:     method,
		Path:       path,
		StatusCode: resp.StatusCode(),
		Status:     resp.Status(),
		Body:       strings.TrimSpace(string(resp.Body())),
	}
}

// ============================================================================
// Generic CRUD Operations
// ============================================================================

// Create creates a resource and returns its ID (from Location header)
func (c *Client) Create(ctx context.Context, path string, body interface{}) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, path, body, nil, nil)
	if err != nil {
		return "", err
	}

	// Extract ID from Location header
	location := resp.Header().Get("Location")
	if location != "" {
		parts := strings.Split(location, "/")
		if len(parts) > 0 {
			return parts[len(parts)-1], nil
		}
	}

	return "", nil
}

// Get retrieves a resource
func (c *Client) Get(ctx context.Context, path string, result interface{}) error {
	_, err := c.do(ctx, http.MethodGet, path, nil, result, nil)
	return err
}

// Update updates a resource
func (c *Client) Update(ctx context.Context, path string, body interface{}) error {
	_, err := c.do(ctx, http.MethodPut, path, body, nil, nil)
	return err
}

// Delete deletes a resource
func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.do(ctx, http.MethodDelete, path, nil, nil, nil)
	return err
}

func realmPath(realmName string) string {
	return "/admin/realms/" + url.PathEscape(realmName)
}

// ============================================================================
// Realm Operations
// ============================================================================

// RealmRepresentation represents a Keycloak realm
type RealmRepresentation struct {
	ID          *string `json:"id,omitempty"`
	Realm       *string `json:"realm,omitempty"`
	Enabled     *bool   `json:"enabled,omitempty"`
	DisplayName *string `json:"displayName,omitempty"`
}

// CreateRealmFromDefinition creates a realm from raw JSON definition
func (c *Client) CreateRealmFromDefinition(ctx context.Context, definition json.RawMessage) error {
	_, err := c.Create(ctx, "/admin/realms", definition)
	return err
}

// GetRealm gets a realm by name
func (c *Client) GetRealm(ctx context.Context, realmName string) (*RealmRepresentation, error) {
	var realm RealmRepresentation
	if err := c.Get(ctx, realmPath(realmName), &realm); err != nil {
		return nil, err
	}
	return &realm, nil
}

// GetRealmRaw gets the full realm document as served by Keycloak
func (c *Client) GetRealmRaw(ctx context.Context, realmName string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.Get(ctx, realmPath(realmName), &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// GetRealms lists all realms visible to the admin account
func (c *Client) GetRealms(ctx context.Context) ([]RealmRepresentation, error) {
	var realms []RealmRepresentation
	if err := c.Get(ctx, "/admin/realms", &realms); err != nil {
		return nil, err
	}
	return realms, nil
}

// UpdateRealm updates a realm from raw JSON definition
func (c *Client) UpdateRealm(ctx context.Context, realmName string, definition json.RawMessage) error {
	return c.Update(ctx, realmPath(realmName), definition)
}

// DeleteRealm deletes a realm
func (c *Client) DeleteRealm(ctx context.Context, realmName string) error {
	return c.Delete(ctx, realmPath(realmName))
}

// ============================================================================
// Client Operations
// ============================================================================

// ClientRepresentation represents a Keycloak client
type ClientRepresentation struct {
	ID           *string  `json:"id,omitempty"`
	ClientID     *string  `json:"clientId,omitempty"`
	Name         *string  `json:"name,omitempty"`
	Enabled      *bool    `json:"enabled,omitempty"`
	RootURL      *string  `json:"rootUrl,omitempty"`
	RedirectURIs []string `json:"redirectUris,omitempty"`
}

// CreateClient creates a new client
func (c *Client) CreateClient(ctx context.Context, realmName string, clientDef json.RawMessage) (string, error) {
	return c.Create(ctx, realmPath(realmName)+"/clients", clientDef)
}

// GetClients gets all clients in a realm with optional filtering
func (c *Client) GetClients(ctx context.Context, realmName string, params map[string]string) ([]ClientRepresentation, error) {
	var clients []ClientRepresentation
	if _, err := c.do(ctx, http.MethodGet, realmPath(realmName)+"/clients", nil, &clients, params); err != nil {
		return nil, err
	}
	return clients, nil
}

// GetClientByClientID finds a client by its clientId field
func (c *Client) GetClientByClientID(ctx context.Context, realmName, clientID string) (*ClientRepresentation, error) {
	clients, err := c.GetClients(ctx, realmName, map[string]string{"clientId": clientID})
	if err != nil {
		return nil, err
	}
	for i := range clients {
		if clients[i].ClientID != nil && *clients[i].ClientID == clientID {
			return &clients[i], nil
		}
	}
	return nil, fmt.Errorf("client %q: %w", clientID, ErrNotFound)
}

// DeleteClient deletes a client by internal ID
func (c *Client) DeleteClient(ctx context.Context, realmName, id string) error {
	return c.Delete(ctx, realmPath(realmName)+"/clients/"+url.PathEscape(id))
}

// ============================================================================
// Identity Provider Operations
// ============================================================================

// IdentityProviderRepresentation represents a Keycloak identity provider
type IdentityProviderRepresentation struct {
	Alias       *string           `json:"alias,omitempty"`
	DisplayName *string           `json:"displayName,omitempty"`
	ProviderID  *string           `json:"providerId,omitempty"`
	Enabled     *bool             `json:"enabled,omitempty"`
	Config      map[string]string `json:"config,omitempty"`
}

func identityProviderPath(realmName string) string {
	return realmPath(realmName) + "/identity-provider/instances"
}

// CreateIdentityProvider creates an identity provider
func (c *Client) CreateIdentityProvider(ctx context.Context, realmName string, idpDef json.RawMessage) error {
	_, err := c.Create(ctx, identityProviderPath(realmName), idpDef)
	return err
}

// GetIdentityProvider gets an identity provider by alias
func (c *Client) GetIdentityProvider(ctx context.Context, realmName, alias string) (*IdentityProviderRepresentation, error) {
	var idp IdentityProviderRepresentation
	if err := c.Get(ctx, identityProviderPath(realmName)+"/"+url.PathEscape(alias), &idp); err != nil {
		return nil, err
	}
	return &idp, nil
}

// DeleteIdentityProvider deletes an identity provider
func (c *Client) DeleteIdentityProvider(ctx context.Context, realmName, alias string) error {
	return c.Delete(ctx, identityProviderPath(realmName)+"/"+url.PathEscape(alias))
}

// ============================================================================
// User Operations
// ============================================================================

// UserRepresentation represents a Keycloak user
type UserRepresentation struct {
	ID        *string `json:"id,omitempty"`
	Username  *string `json:"username,omitempty"`
	Email     *string `json:"email,omitempty"`
	Enabled   *bool   `json:"enabled,omitempty"`
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
}

// CredentialRepresentation represents a user credential
type CredentialRepresentation struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Temporary bool   `json:"temporary"`
}

func userPath(realmName, userID string) string {
	return realmPath(realmName) + "/users/" + url.PathEscape(userID)
}

// CreateUser creates a new user
func (c *Client) CreateUser(ctx context.Context, realmName string, userDef json.RawMessage) (string, error) {
	return c.Create(ctx, realmPath(realmName)+"/users", userDef)
}

// GetUsers gets users with optional filtering
func (c *Client) GetUsers(ctx context.Context, realmName string, params map[string]string) ([]UserRepresentation, error) {
	var users []UserRepresentation
	if _, err := c.do(ctx, http.MethodGet, realmPath(realmName)+"/users", nil, &users, params); err != nil {
		return nil, err
	}
	return users, nil
}

// GetUserByUsername finds a user by username
func (c *Client) GetUserByUsername(ctx context.Context, realmName, username string) (*UserRepresentation, error) {
	users, err := c.GetUsers(ctx, realmName, map[string]string{"username": username, "exact": "true"})
	if err != nil {
		return nil, err
	}
	// Keycloak lowercases usernames; older versions ignore exact=true
	for i := range users {
		if users[i].Username != nil && strings.EqualFold(*users[i].Username, username) {
			return &users[i], nil
		}
	}
	return nil, fmt.Errorf("user %q: %w", username, ErrNotFound)
}

// DeleteUser deletes a user
func (c *Client) DeleteUser(ctx context.Context, realmName, userID string) error {
	return c.Delete(ctx, userPath(realmName, userID))
}

// ResetPassword sets a password credential on a user
func (c *Client) ResetPassword(ctx context.Context, realmName, userID, password string, temporary bool) error {
	cred := CredentialRepresentation{
		Type:      "password",
		Value:     password,
		Temporary: temporary,
	}
	return c.Update(ctx, userPath(realmName, userID)+"/reset-password", cred)
}

// ============================================================================
// Federated Identity Operations
// ============================================================================

// FederatedIdentityRepresentation links a local user to an identity at an external IDP
type FederatedIdentityRepresentation struct {
	IdentityProvider string `json:"identityProvider"`
	UserID           string `json:"userId"`
	UserName         string `json:"userName"`
}

// AddFederatedIdentity links a user to an identity provider account
func (c *Client) AddFederatedIdentity(ctx context.Context, realmName, userID string, link FederatedIdentityRepresentation) error {
	_, err := c.Create(ctx, userPath(realmName, userID)+"/federated-identity/"+url.PathEscape(link.IdentityProvider), link)
	return err
}

// GetFederatedIdentities lists the identity provider links of a user
func (c *Client) GetFederatedIdentities(ctx context.Context, realmName, userID string) ([]FederatedIdentityRepresentation, error) {
	var links []FederatedIdentityRepresentation
	if err := c.Get(ctx, userPath(realmName, userID)+"/federated-identity", &links); err != nil {
		return nil, err
	}
	return links, nil
}

// RemoveFederatedIdentity removes a user's link to an identity provider
func (c *Client) RemoveFederatedIdentity(ctx context.Context, realmName, userID, alias string) error {
	return c.Delete(ctx, userPath(realmName, userID)+"/federated-identity/"+url.PathEscape(alias))
}

// ============================================================================
// User Profile Operations
// ============================================================================

// GetUserProfile gets the declarative user profile configuration of a realm
func (c *Client) GetUserProfile(ctx context.Context, realmName string) (map[string]interface{}, error) {
	var profile map[string]interface{}
	if err := c.Get(ctx, realmPath(realmName)+"/users/profile", &profile); err != nil {
		return nil, err
	}
	if profile == nil {
		profile = map[string]interface{}{}
	}
	return profile, nil
}

// UpdateUserProfile replaces the user profile configuration of a realm.
// Keycloak has no partial update for this document.
func (c *Client) UpdateUserProfile(ctx context.Context, realmName string, profile map[string]interface{}) error {
	return c.Update(ctx, realmPath(realmName)+"/users/profile", profile)
}
