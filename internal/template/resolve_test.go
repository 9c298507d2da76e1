package template

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hostzero-GmbH/keycloak-fixtures/fixtures"
)

func TestResolve_IdentityProviderTemplate(t *testing.T) {
	store := NewStore(fixtures.FS, testr.New(t))
	tmpl, err := store.FindByKey(fixtures.IdentityProviders, KindIdentityProvider, "uaepass")
	require.NoError(t, err)

	r := Resolve(tmpl, map[string]string{
		"uaepass.base.url": "http://host:9000/idshub",
		"realm.name":       "medad",
	})

	config := r.Object("config")
	require.NotNil(t, config)
	authURL := config["authorizationUrl"].(string)
	assert.Contains(t, authURL, "http://host:9000/idshub")
	assert.NotContains(t, authURL, "${")
	assert.Equal(t, "medad-client", config["clientId"])

	// not supplied, so left as is
	assert.Equal(t, "${uaepass.internal.url}/token", config["tokenUrl"])
	assert.Equal(t, []string{"uaepass.internal.url"}, r.Unresolved())
}

func TestResolve_AnyDepth(t *testing.T) {
	tmpl := &Template{
		Kind: KindClient,
		Key:  "portal",
		Body: map[string]interface{}{
			"clientId": "portal",
			"rootUrl":  "${app.url}",
			"redirectUris": []interface{}{
				"${app.url}/*",
				"${app.url}/callback?realm=${realm.name}",
			},
			"attributes": map[string]interface{}{
				"nested": map[string]interface{}{
					"deeper": []interface{}{
						map[string]interface{}{"value": "x-${realm.name}-y"},
					},
				},
				"${realm.name}.key": "keys are resolved too",
			},
			"count":   json.Number("3"),
			"enabled": true,
			"none":    nil,
		},
	}

	r := Resolve(tmpl, map[string]string{"app.url": "http://localhost:3000", "realm.name": "medad"})

	assert.Equal(t, "http://localhost:3000", r.String("rootUrl"))
	assert.Equal(t, []interface{}{"http://localhost:3000/*", "http://localhost:3000/callback?realm=medad"}, r.Body["redirectUris"])

	attrs := r.Object("attributes")
	deep := attrs["nested"].(map[string]interface{})["deeper"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "x-medad-y", deep["value"])
	assert.Contains(t, attrs, "medad.key")
	assert.NotContains(t, attrs, "${realm.name}.key")

	assert.Equal(t, json.Number("3"), r.Body["count"])
	assert.Equal(t, true, r.Body["enabled"])
	assert.Nil(t, r.Body["none"])
	assert.Empty(t, r.Unresolved())
}

func TestResolve_UnknownTokensUnchanged(t *testing.T) {
	tmpl := &Template{
		Kind: KindUser,
		Key:  "u",
		Body: map[string]interface{}{
			"username": "u",
			"email":    "${user.email}",
			"note":     "${known} and ${unknown} and $notatoken and ${ spaced }",
		},
	}

	r := Resolve(tmpl, map[string]string{"known": "K"})

	assert.Equal(t, "${user.email}", r.String("email"))
	assert.Equal(t, "K and ${unknown} and $notatoken and ${ spaced }", r.String("note"))
	assert.Equal(t, []string{"unknown", "user.email"}, r.Unresolved())
}

func TestResolve_Pure(t *testing.T) {
	tmpl := &Template{
		Kind: KindRealm,
		Key:  "medad",
		Body: map[string]interface{}{
			"realm": "medad",
			"attributes": map[string]interface{}{
				"frontendUrl": "${keycloak.url}",
			},
			"list": []interface{}{"${keycloak.url}"},
		},
	}

	r := Resolve(tmpl, map[string]string{"keycloak.url": "http://kc"})
	r.Object("attributes")["frontendUrl"] = "mutated"
	r.Body["list"].([]interface{})[0] = "mutated"

	assert.Equal(t, "${keycloak.url}", tmpl.Body["attributes"].(map[string]interface{})["frontendUrl"])
	assert.Equal(t, "${keycloak.url}", tmpl.Body["list"].([]interface{})[0])

	again := Resolve(tmpl, map[string]string{"keycloak.url": "http://other"})
	assert.Equal(t, "http://other", again.Object("attributes")["frontendUrl"], "each call gets its own copy")
}

func TestResolve_NoRescan(t *testing.T) {
	tmpl := &Template{Kind: KindUser, Key: "u", Body: map[string]interface{}{"username": "u", "v": "${a}"}}

	r := Resolve(tmpl, map[string]string{"a": "${b}", "b": "B"})
	assert.Equal(t, "${b}", r.String("v"))
}

func TestResolve_KeyFollowsResolvedBody(t *testing.T) {
	tmpl := &Template{Kind: KindRealm, Key: "${realm.name}", Body: map[string]interface{}{"realm": "${realm.name}"}}

	r := Resolve(tmpl, map[string]string{"realm.name": "scenario-42"})
	assert.Equal(t, "scenario-42", r.Key)
}

func TestPlaceholders(t *testing.T) {
	store := NewStore(fixtures.FS, testr.New(t))
	tmpl, err := store.FindByKey(fixtures.IdentityProviders, KindIdentityProvider, "uaepass")
	require.NoError(t, err)

	assert.Equal(t, []string{"realm.name", "uaepass.base.url", "uaepass.internal.url"}, Placeholders(tmpl))
}

func TestResolved_Without(t *testing.T) {
	r := NewResolved(KindUser, map[string]interface{}{"username": "u", "password": "p", "federatedIdentity": map[string]interface{}{}})

	body := r.Without("password", "federatedIdentity")
	assert.Equal(t, map[string]interface{}{"username": "u"}, body)
	assert.True(t, r.Has("password"), "Without does not modify the receiver")

	raw, err := r.JSON()
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), `"password":"p"`))
}
