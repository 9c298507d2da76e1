package fixture

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hostzero-GmbH/keycloak-fixtures/fixtures"
	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/keycloak"
	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/keycloaktest"
	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/provision"
	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/template"
)

func newTestApplier(t *testing.T) (*Applier, *keycloaktest.Server) {
	t.Helper()
	srv := keycloaktest.New(t)
	api := keycloak.NewClient(keycloak.Config{
		BaseURL:  srv.URL,
		Username: "admin",
		Password: "admin",
		Timeout:  5 * time.Second,
	}, testr.New(t))
	session := provision.NewSession(api, testr.New(t))
	return NewApplier(session, template.NewStore(fixtures.FS, testr.New(t))), srv
}

func uaepassPlan(t *testing.T) *Plan {
	t.Helper()
	data, err := fs.ReadFile(fixtures.FS, "plan-uaepass.yaml")
	require.NoError(t, err)
	plan, err := ParsePlan(data)
	require.NoError(t, err)
	return plan
}

func TestApply_UaepassPlan(t *testing.T) {
	a, srv := newTestApplier(t)
	ctx := context.Background()

	m, err := a.Apply(ctx, uaepassPlan(t))
	require.NoError(t, err)

	assert.Equal(t, srv.URL, m.BaseURL)
	assert.Equal(t, RealmEntry{Name: "medad-allow", Outcome: provision.Created}, m.Realm)
	assert.Equal(t, []string{"mobile", "emiratesId"}, m.ProfileAttributes)

	require.Len(t, m.Clients, 1)
	assert.Equal(t, "medad-portal", m.Clients[0].ClientID)
	assert.Equal(t, []string{"http://localhost:3000/*"}, m.Clients[0].RedirectURIs)

	require.Len(t, m.IdentityProviders, 1)
	assert.Equal(t, "uaepass", m.IdentityProviders[0].Alias)

	require.Len(t, m.Users, 2)
	linked := m.User("testuser1")
	require.NotNil(t, linked)
	assert.NotEmpty(t, linked.ID)
	require.Len(t, linked.Links, 1)
	assert.Equal(t, LinkEntry{
		IdentityProvider:  "uaepass",
		FederatedUserID:   "uaepass-784-1990-0000001-1",
		FederatedUsername: "testuser1@uaepass",
	}, linked.Links[0])
	assert.Empty(t, m.User("testuser2").Links)
	assert.Nil(t, m.User("nobody"))

	resources := a.Tracker().Resources()
	require.Len(t, resources, 5)
	assert.Equal(t, Resource{Kind: template.KindRealm, Key: "medad-allow"}, resources[0])

	require.NoError(t, a.Tracker().Teardown(ctx))
	assert.False(t, srv.HasRealm("medad-allow"))
	assert.Empty(t, a.Tracker().Resources())
}

func TestApply_SecondRunReportsAlreadyExists(t *testing.T) {
	a, srv := newTestApplier(t)
	ctx := context.Background()

	_, err := a.Apply(ctx, uaepassPlan(t))
	require.NoError(t, err)

	second := NewApplier(a.session, a.store)
	m, err := second.Apply(ctx, uaepassPlan(t))
	require.NoError(t, err)

	assert.Equal(t, provision.AlreadyExists, m.Realm.Outcome)
	assert.Equal(t, provision.AlreadyExists, m.Clients[0].Outcome)
	assert.Equal(t, provision.AlreadyExists, m.IdentityProviders[0].Outcome)
	assert.Equal(t, provision.AlreadyExists, m.User("testuser1").Outcome)
	assert.Len(t, m.User("testuser1").Links, 1)
	assert.Empty(t, second.Tracker().Resources(), "nothing new was created")

	require.NoError(t, second.Tracker().Teardown(ctx))
	assert.True(t, srv.HasRealm("medad-allow"))
}

func TestApply_ShortcutKeys(t *testing.T) {
	a, srv := newTestApplier(t)

	m, err := a.Apply(context.Background(), &Plan{
		Realm:             "register",
		IdentityProviders: []string{"auto"},
		Users:             []string{"linked"},
		Substitutions:     map[string]string{"uaepass.base.url": "http://host:9000/idshub"},
	})
	require.NoError(t, err)

	assert.Equal(t, "medad-allow", m.Realm.Name)
	assert.Equal(t, "uaepass", m.IdentityProviders[0].Alias)
	assert.Equal(t, "testuser1", m.Users[0].Username)
	assert.True(t, srv.HasRealm("medad-allow"))
}

func TestApply_FailsFastOnMissingTemplate(t *testing.T) {
	a, srv := newTestApplier(t)
	ctx := context.Background()

	m, err := a.Apply(ctx, &Plan{
		Realm: "medad",
		Users: []string{"testuser2", "ghost", "unverified"},
	})
	require.Error(t, err)
	assert.True(t, template.IsNotFound(err))

	require.NotNil(t, m)
	assert.Len(t, m.Users, 1, "users after the failure are not attempted")
	assert.Equal(t, 1, srv.UserCount("medad"))

	require.NoError(t, a.Tracker().Teardown(ctx))
	assert.False(t, srv.HasRealm("medad"))
}

func TestApply_ProvisionErrorAborts(t *testing.T) {
	a, srv := newTestApplier(t)
	srv.InjectFault(http.MethodPost, "/clients", http.StatusInternalServerError)

	m, err := a.Apply(context.Background(), &Plan{
		Realm:   "medad",
		Clients: []string{"portal"},
		Users:   []string{"testuser2"},
	})
	require.Error(t, err)

	var pe *provision.ProvisionError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, template.KindClient, pe.Kind)
	assert.Empty(t, m.Users)
	assert.Zero(t, srv.UserCount("medad"))
}

func TestApply_InvalidPlan(t *testing.T) {
	a, _ := newTestApplier(t)

	_, err := a.Apply(context.Background(), &Plan{})
	assert.Error(t, err)
}

func TestApply_LenientProfile(t *testing.T) {
	a, srv := newTestApplier(t)
	srv.InjectFault(http.MethodPut, "/users/profile", http.StatusInternalServerError)

	plan := &Plan{Realm: "medad", Profile: "basic", LenientProfile: true}
	m, err := a.Apply(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, []string{"mobile"}, m.ProfileAttributes)

	strict := NewApplier(a.session, a.store)
	srv.InjectFault(http.MethodPut, "/users/profile", http.StatusInternalServerError)
	plan.LenientProfile = false
	_, err = strict.Apply(context.Background(), plan)
	assert.Error(t, err)
}

func TestRemove(t *testing.T) {
	a, srv := newTestApplier(t)
	ctx := context.Background()
	plan := uaepassPlan(t)

	_, err := a.Apply(ctx, plan)
	require.NoError(t, err)

	removals, err := NewApplier(a.session, a.store).Remove(ctx, plan)
	require.NoError(t, err)
	require.Len(t, removals, 5)
	for _, r := range removals {
		assert.True(t, r.Deleted, r.String())
	}
	assert.Equal(t, template.KindRealm, removals[len(removals)-1].Kind)
	assert.False(t, srv.HasRealm("medad-allow"))

	removals, err = a.Remove(ctx, plan)
	require.NoError(t, err)
	for _, r := range removals {
		assert.False(t, r.Deleted, r.String())
	}
}

func TestTracker_TeardownAggregatesErrors(t *testing.T) {
	a, srv := newTestApplier(t)
	ctx := context.Background()

	_, err := a.Apply(ctx, &Plan{Realm: "medad", Users: []string{"testuser2"}})
	require.NoError(t, err)

	srv.InjectFault(http.MethodDelete, "/admin/realms/medad", http.StatusInternalServerError)
	err = a.Tracker().Teardown(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "teardown of realm/medad")

	assert.Zero(t, srv.UserCount("medad"), "user was removed before the realm failed")
	assert.True(t, srv.HasRealm("medad"))
}

func TestResource_String(t *testing.T) {
	assert.Equal(t, "realm/medad", Resource{Kind: template.KindRealm, Key: "medad"}.String())
	assert.Equal(t, "medad/user/u", Resource{Kind: template.KindUser, Scope: "medad", Key: "u"}.String())
}
