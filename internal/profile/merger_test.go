package profile

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hostzero-GmbH/keycloak-fixtures/fixtures"
	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/keycloak"
	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/keycloaktest"
	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/template"
)

func newTestAPI(t *testing.T) (*keycloak.Client, *keycloaktest.Server) {
	t.Helper()
	srv := keycloaktest.New(t)
	api := keycloak.NewClient(keycloak.Config{
		BaseURL:  srv.URL,
		Username: "admin",
		Password: "admin",
		Timeout:  5 * time.Second,
	}, testr.New(t))
	require.NoError(t, api.CreateRealmFromDefinition(context.Background(), json.RawMessage(`{"realm":"medad"}`)))
	return api, srv
}

func names(attrs []interface{}) []string {
	out := make([]string, 0, len(attrs))
	for _, a := range attrs {
		name, _ := a.(map[string]interface{})["name"].(string)
		out = append(out, name)
	}
	return out
}

func TestMerge(t *testing.T) {
	existing := []Attribute{
		{"name": "username"},
		{"name": "email", "displayName": "old"},
		{"name": "firstName"},
	}
	incoming := []Attribute{
		{"name": "mobile"},
		{"name": "email", "displayName": "new"},
	}

	merged := Merge(existing, incoming)

	require.Len(t, merged, 4)
	assert.Equal(t, "username", merged[0].Name())
	assert.Equal(t, "firstName", merged[1].Name())
	assert.Equal(t, "mobile", merged[2].Name())
	assert.Equal(t, "email", merged[3].Name())
	assert.Equal(t, "new", merged[3]["displayName"])

	// inputs untouched
	assert.Len(t, existing, 3)
	assert.Equal(t, "old", existing[1]["displayName"])

	again := Merge(merged, incoming)
	assert.Equal(t, merged, again, "merging the same input twice is idempotent")
}

func TestMergeAttributes_ReplacesByName(t *testing.T) {
	api, srv := newTestAPI(t)
	m := NewMerger(api, testr.New(t))
	ctx := context.Background()

	err := m.MergeAttributes(ctx, "medad", []Attribute{
		{"name": "email", "displayName": "E-mail", "multivalued": false},
		{"name": "mobile", "displayName": "${mobile}"},
	})
	require.NoError(t, err)

	profile := srv.Profile("medad")
	attrs := profile["attributes"].([]interface{})
	assert.Equal(t, []string{"username", "firstName", "lastName", "email", "mobile"}, names(attrs))
	assert.Equal(t, "E-mail", attrs[3].(map[string]interface{})["displayName"])
	assert.Contains(t, profile, "groups", "non-attribute sections are written back unchanged")

	require.NoError(t, m.MergeAttributes(ctx, "medad", []Attribute{{"name": "mobile", "displayName": "Mobile"}}))
	attrs = srv.Profile("medad")["attributes"].([]interface{})
	assert.Equal(t, []string{"username", "firstName", "lastName", "email", "mobile"}, names(attrs))

	count := 0
	for _, n := range names(attrs) {
		if n == "mobile" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestMergeAttributes_SingleWrite(t *testing.T) {
	api, srv := newTestAPI(t)
	m := NewMerger(api, testr.New(t))

	require.NoError(t, m.MergeAttributes(context.Background(), "medad", []Attribute{{"name": "a"}, {"name": "b"}, {"name": "c"}}))
	assert.Len(t, srv.Requests("PUT /admin/realms/medad/users/profile"), 1)
}

func TestMergeAttributes_RejectsUnnamed(t *testing.T) {
	api, srv := newTestAPI(t)
	m := NewMerger(api, testr.New(t), WithLenient())

	err := m.MergeAttributes(context.Background(), "medad", []Attribute{{"displayName": "no name"}})
	require.Error(t, err)
	assert.Empty(t, srv.Requests("/users/profile"))
}

func TestMergeAttributes_StrictReportsFailures(t *testing.T) {
	api, srv := newTestAPI(t)
	m := NewMerger(api, testr.New(t))
	assert.False(t, m.Lenient())

	srv.InjectFault(http.MethodGet, "/users/profile", http.StatusForbidden)
	err := m.MergeAttributes(context.Background(), "medad", []Attribute{{"name": "mobile"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to get user profile")

	srv.InjectFault(http.MethodPut, "/users/profile", http.StatusBadRequest)
	err = m.MergeAttributes(context.Background(), "medad", []Attribute{{"name": "mobile"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to update user profile")
}

func TestMergeAttributes_LenientSwallowsFailures(t *testing.T) {
	api, srv := newTestAPI(t)
	m := NewMerger(api, testr.New(t), WithLenient())
	assert.True(t, m.Lenient())

	srv.InjectFault(http.MethodPut, "/users/profile", http.StatusInternalServerError)
	err := m.MergeAttributes(context.Background(), "medad", []Attribute{{"name": "mobile"}})
	assert.NoError(t, err)

	attrs := srv.Profile("medad")["attributes"].([]interface{})
	assert.NotContains(t, names(attrs), "mobile")
}

func TestParseAttributes(t *testing.T) {
	attrs, err := ParseAttributes(map[string]interface{}{
		"attributes": []interface{}{
			map[string]interface{}{"name": "a"},
			map[string]interface{}{"name": "b"},
		},
	})
	require.NoError(t, err)
	assert.Len(t, attrs, 2)

	attrs, err = ParseAttributes(map[string]interface{}{"name": "single"})
	require.NoError(t, err)
	require.Len(t, attrs, 1)
	assert.Equal(t, "single", attrs[0].Name())

	_, err = ParseAttributes(map[string]interface{}{"other": true})
	assert.Error(t, err)

	_, err = ParseAttributes([]interface{}{map[string]interface{}{"name": ""}})
	assert.Error(t, err)
}

func TestAttributesFromSource(t *testing.T) {
	store := template.NewStore(fixtures.FS, testr.New(t))

	attrs, err := AttributesFromSource(store, fixtures.UserProfiles, "medad-allow")
	require.NoError(t, err)
	require.Len(t, attrs, 2)
	assert.Equal(t, "mobile", attrs[0].Name())
	assert.Equal(t, "emiratesId", attrs[1].Name())

	_, err = AttributesFromSource(store, fixtures.UserProfiles, "unknown-realm")
	assert.True(t, template.IsNotFound(err))

	realm, attrs, err := AttributesByMappingKey(store, fixtures.UserProfiles, "basic")
	require.NoError(t, err)
	assert.Equal(t, "medad", realm)
	assert.Len(t, attrs, 1)

	_, _, err = AttributesByMappingKey(store, fixtures.UserProfiles, "missing")
	assert.True(t, template.IsNotFound(err))
}
