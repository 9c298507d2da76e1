package provision

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hostzero-GmbH/keycloak-fixtures/fixtures"
	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/keycloak"
	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/keycloaktest"
	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/template"
)

func newTestSession(t *testing.T) (*Session, *keycloaktest.Server) {
	t.Helper()
	srv := keycloaktest.New(t)
	api := keycloak.NewClient(keycloak.Config{
		BaseURL:  srv.URL,
		Username: "admin",
		Password: "admin",
		Timeout:  5 * time.Second,
	}, testr.New(t))
	return NewSession(api, testr.New(t)), srv
}

func mustCreateRealm(t *testing.T, s *Session, name string) {
	t.Helper()
	_, err := s.Realms.Create(context.Background(), "", template.NewResolved(template.KindRealm, map[string]interface{}{
		"realm":   name,
		"enabled": true,
	}))
	require.NoError(t, err)
}

func mustCreateIDP(t *testing.T, s *Session, realm, alias string) {
	t.Helper()
	_, err := s.IdentityProviders.Create(context.Background(), realm, template.NewResolved(template.KindIdentityProvider, map[string]interface{}{
		"alias":      alias,
		"providerId": "oidc",
	}))
	require.NoError(t, err)
}

func TestCreateTwice(t *testing.T) {
	tests := []struct {
		name string
		kind template.Kind
		body map[string]interface{}
	}{
		{
			name: "realm",
			kind: template.KindRealm,
			body: map[string]interface{}{"realm": "twice", "enabled": true},
		},
		{
			name: "client",
			kind: template.KindClient,
			body: map[string]interface{}{"clientId": "portal", "redirectUris": []interface{}{"http://app/*"}},
		},
		{
			name: "identity provider",
			kind: template.KindIdentityProvider,
			body: map[string]interface{}{"alias": "uaepass", "providerId": "oidc", "testName": "x"},
		},
		{
			name: "user",
			kind: template.KindUser,
			body: map[string]interface{}{"username": "testuser1", "enabled": true, "password": "Passw0rd!"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestSession(t)
			ctx := context.Background()
			mustCreateRealm(t, s, "medad")

			p, err := s.For(tt.kind)
			require.NoError(t, err)
			r := template.NewResolved(tt.kind, tt.body)

			outcome, err := p.Create(ctx, "medad", r)
			require.NoError(t, err)
			assert.Equal(t, Created, outcome)

			exists, err := p.Exists(ctx, "medad", r.Key)
			require.NoError(t, err)
			assert.True(t, exists)

			outcome, err = p.Create(ctx, "medad", r)
			require.NoError(t, err)
			assert.Equal(t, AlreadyExists, outcome)

			exists, err = p.Exists(ctx, "medad", r.Key)
			require.NoError(t, err)
			assert.True(t, exists)
		})
	}
}

func TestDeleteMissingIsFalse(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()
	mustCreateRealm(t, s, "medad")

	for _, kind := range template.Kinds() {
		t.Run(string(kind), func(t *testing.T) {
			p, err := s.For(kind)
			require.NoError(t, err)

			deleted, err := p.Delete(ctx, "medad", "does-not-exist")
			require.NoError(t, err)
			assert.False(t, deleted)

			exists, err := p.Exists(ctx, "medad", "does-not-exist")
			require.NoError(t, err)
			assert.False(t, exists)
		})
	}
}

func TestRealm_CreateDeleteLifecycle(t *testing.T) {
	s, srv := newTestSession(t)
	ctx := context.Background()

	store := template.NewStore(fixtures.FS, testr.New(t))
	tmpl, err := store.FindByKey(fixtures.Realms, template.KindRealm, "medad")
	require.NoError(t, err)
	r := template.Resolve(tmpl, nil)

	outcome, err := s.Realms.Create(ctx, "", r)
	require.NoError(t, err)
	assert.Equal(t, Created, outcome)

	outcome, err = s.Realms.Create(ctx, "", r)
	require.NoError(t, err)
	assert.Equal(t, AlreadyExists, outcome)

	deleted, err := s.Realms.Delete(ctx, "", "medad")
	require.NoError(t, err)
	assert.True(t, deleted)

	exists, err := s.Realms.Exists(ctx, "", "medad")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.False(t, srv.HasRealm("medad"))
}

func TestRealm_UpdateListFetch(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()
	mustCreateRealm(t, s, "medad")

	err := s.Realms.Update(ctx, template.NewResolved(template.KindRealm, map[string]interface{}{
		"realm":       "medad",
		"displayName": "Medad Updated",
	}))
	require.NoError(t, err)

	raw, err := s.Realms.Fetch(ctx, "medad")
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Medad Updated")

	names, err := s.Realms.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"master", "medad"}, names)
}

func TestCreate_NonConflictFailureIsProvisionError(t *testing.T) {
	s, srv := newTestSession(t)
	srv.InjectFault(http.MethodPost, "/admin/realms", http.StatusInternalServerError)

	_, err := s.Realms.Create(context.Background(), "", template.NewResolved(template.KindRealm, map[string]interface{}{"realm": "medad"}))
	require.Error(t, err)

	var pe *ProvisionError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, template.KindRealm, pe.Kind)
	assert.Equal(t, "medad", pe.Key)
	assert.Equal(t, StageCreate, pe.Stage)

	var apiErr *keycloak.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}

func TestCreate_EmptyKeyRejected(t *testing.T) {
	s, srv := newTestSession(t)
	mustCreateRealm(t, s, "medad")

	_, err := s.Clients.Create(context.Background(), "medad", template.NewResolved(template.KindClient, map[string]interface{}{"name": "no id"}))
	require.Error(t, err)
	assert.True(t, IsProvisionError(err))
	assert.Empty(t, srv.Requests("POST /admin/realms/medad/clients"))
}

func TestClient_DeleteAndRedirectURIs(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()
	mustCreateRealm(t, s, "medad")

	_, err := s.Clients.Create(ctx, "medad", template.NewResolved(template.KindClient, map[string]interface{}{
		"clientId":     "portal",
		"redirectUris": []interface{}{"http://localhost:3000/*"},
	}))
	require.NoError(t, err)

	uris, err := s.Clients.RedirectURIs(ctx, "medad", "portal")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost:3000/*"}, uris)

	deleted, err := s.Clients.Delete(ctx, "medad", "portal")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = s.Clients.RedirectURIs(ctx, "medad", "portal")
	assert.True(t, keycloak.IsNotFound(err))
}

func TestIdentityProvider_StripsTemplateOnlyFields(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()
	mustCreateRealm(t, s, "medad")

	_, err := s.IdentityProviders.Create(ctx, "medad", template.NewResolved(template.KindIdentityProvider, map[string]interface{}{
		"alias":      "uaepass",
		"providerId": "oidc",
		"testName":   "uaepass-auto-link",
	}))
	require.NoError(t, err)

	var stored map[string]interface{}
	require.NoError(t, s.API().Get(ctx, "/admin/realms/medad/identity-provider/instances/uaepass", &stored))
	assert.Equal(t, "uaepass", stored["alias"])
	assert.NotContains(t, stored, "testName")
}

func TestRecordCreate(t *testing.T) {
	ProvisionTotal.Reset()
	ProvisionDuration.Reset()

	start := time.Now()
	recordCreate(template.KindUser, start, Created, nil)
	recordCreate(template.KindUser, start, AlreadyExists, nil)
	recordCreate(template.KindUser, start, 0, errors.New("boom"))

	assert.Equal(t, float64(1), testutil.ToFloat64(ProvisionTotal.WithLabelValues("user", "created")))
	assert.Equal(t, float64(1), testutil.ToFloat64(ProvisionTotal.WithLabelValues("user", "already_exists")))
	assert.Equal(t, float64(1), testutil.ToFloat64(ProvisionTotal.WithLabelValues("user", "error")))
	assert.Equal(t, 1, testutil.CollectAndCount(ProvisionDuration))
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "created", Created.String())
	assert.Equal(t, "already_exists", AlreadyExists.String())
	assert.True(t, strings.HasPrefix(Outcome(0).String(), "Outcome("))

	raw, err := AlreadyExists.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"already_exists"`, string(raw))
}
