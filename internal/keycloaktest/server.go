// Package keycloaktest serves an in-memory subset of the Keycloak Admin REST
// API for tests: realms, clients, identity providers, users, credentials,
// federated identities and the declarative user profile.
package keycloaktest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
)

// Token is the bearer token handed out by the fake token endpoint.
const Token = "keycloaktest-token"

// Server is a fake Keycloak. All state lives in memory and is guarded by one mutex.
type Server struct {
	*httptest.Server

	mu         sync.Mutex
	realms     map[string]*realmState
	realmOrder []string
	faults     []fault
	requests   []string
}

type fault struct {
	method string
	suffix string
	status int
}

type realmState struct {
	doc       map[string]interface{}
	clients   []map[string]interface{}
	idps      []map[string]interface{}
	users     []map[string]interface{}
	passwords map[string]string
	links     map[string][]map[string]interface{}
	profile   map[string]interface{}
}

// New starts a fake Keycloak holding only the master realm and stops it when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := NewServer()
	t.Cleanup(s.Close)
	return s
}

// NewServer starts a fake Keycloak. The caller must Close it.
func NewServer() *Server {
	s := &Server{realms: map[string]*realmState{}}
	s.addRealm(map[string]interface{}{"realm": "master", "enabled": true})
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// InjectFault makes the next request whose method matches and whose path ends
// with suffix fail with status. Faults fire once, in the order added.
func (s *Server) InjectFault(method, suffix string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, fault{method: method, suffix: suffix, status: status})
}

// Requests returns "METHOD /path" for every request received that contains substr.
func (s *Server) Requests(substr string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, r := range s.requests {
		if strings.Contains(r, substr) {
			out = append(out, r)
		}
	}
	return out
}

// HasRealm reports whether the realm is stored.
func (s *Server) HasRealm(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.realms[name]
	return ok
}

// Password returns the password credential stored for a user.
func (s *Server) Password(realm, userID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.realms[realm]
	if !ok {
		return "", false
	}
	p, ok := rs.passwords[userID]
	return p, ok
}

// Profile returns a copy of the realm's user profile document.
func (s *Server) Profile(realm string) map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.realms[realm]
	if !ok {
		return nil
	}
	return clone(rs.profile)
}

// SetProfile replaces the realm's user profile document.
func (s *Server) SetProfile(realm string, profile map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rs, ok := s.realms[realm]; ok {
		rs.profile = clone(profile)
	}
}

// UserCount returns the number of users stored in a realm.
func (s *Server) UserCount(realm string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rs, ok := s.realms[realm]; ok {
		return len(rs.users)
	}
	return 0
}

func (s *Server) addRealm(doc map[string]interface{}) *realmState {
	name, _ := doc["realm"].(string)
	if _, ok := doc["id"]; !ok {
		doc["id"] = uuid.NewString()
	}
	rs := &realmState{
		doc:       doc,
		passwords: map[string]string{},
		links:     map[string][]map[string]interface{}{},
		profile:   defaultProfile(),
	}
	s.realms[name] = rs
	s.realmOrder = append(s.realmOrder, name)
	return rs
}

func (s *Server) removeRealm(name string) {
	delete(s.realms, name)
	for i, n := range s.realmOrder {
		if n == name {
			s.realmOrder = append(s.realmOrder[:i], s.realmOrder[i+1:]...)
			break
		}
	}
}

func (s *Server) takeFault(r *http.Request) (int, bool) {
	for i, f := range s.faults {
		if f.method == r.Method && strings.HasSuffix(r.URL.Path, f.suffix) {
			s.faults = append(s.faults[:i], s.faults[i+1:]...)
			return f.status, true
		}
	}
	return 0, false
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, r.Method+" "+r.URL.Path)
	if status, ok := s.takeFault(r); ok {
		writeError(w, status, "injected fault")
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	if len(parts) == 5 && parts[0] == "realms" && parts[4] == "token" {
		s.serveToken(w, r, parts[1])
		return
	}
	if len(parts) < 2 || parts[0] != "admin" || parts[1] != "realms" {
		writeError(w, http.StatusNotFound, "unknown path")
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+Token {
		writeError(w, http.StatusUnauthorized, "HTTP 401 Unauthorized")
		return
	}

	if len(parts) == 2 {
		s.serveRealms(w, r)
		return
	}

	rs, ok := s.realms[parts[2]]
	if !ok {
		writeError(w, http.StatusNotFound, "Realm not found.")
		return
	}

	if len(parts) == 3 {
		s.serveRealm(w, r, parts[2], rs)
		return
	}

	switch parts[3] {
	case "clients":
		serveClients(w, r, rs, parts[4:])
	case "identity-provider":
		if len(parts) < 5 || parts[4] != "instances" {
			writeError(w, http.StatusNotFound, "unknown path")
			return
		}
		serveIdentityProviders(w, r, rs, parts[5:])
	case "users":
		serveUsers(w, r, rs, parts[4:])
	default:
		writeError(w, http.StatusNotFound, "unknown path")
	}
}

func (s *Server) serveToken(w http.ResponseWriter, r *http.Request, realm string) {
	if _, ok := s.realms[realm]; !ok || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "Realm does not exist")
		return
	}
	if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": Token,
		"expires_in":   300,
		"token_type":   "Bearer",
	})
}

func (s *Server) serveRealms(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		out := make([]map[string]interface{}, 0, len(s.realmOrder))
		for _, name := range s.realmOrder {
			out = append(out, s.realms[name].doc)
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		doc, ok := decode(w, r)
		if !ok {
			return
		}
		name, _ := doc["realm"].(string)
		if name == "" {
			writeError(w, http.StatusBadRequest, "Realm name cannot be empty")
			return
		}
		if _, exists := s.realms[name]; exists {
			writeError(w, http.StatusConflict, "Conflict detected. See logs for details")
			return
		}
		s.addRealm(doc)
		w.Header().Set("Location", "/admin/realms/"+name)
		w.WriteHeader(http.StatusCreated)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) serveRealm(w http.ResponseWriter, r *http.Request, name string, rs *realmState) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, rs.doc)
	case http.MethodPut:
		doc, ok := decode(w, r)
		if !ok {
			return
		}
		for k, v := range doc {
			rs.doc[k] = v
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		s.removeRealm(name)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func serveClients(w http.ResponseWriter, r *http.Request, rs *realmState, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			want := r.URL.Query().Get("clientId")
			out := []map[string]interface{}{}
			for _, c := range rs.clients {
				if want == "" || c["clientId"] == want {
					out = append(out, c)
				}
			}
			writeJSON(w, http.StatusOK, out)
		case http.MethodPost:
			doc, ok := decode(w, r)
			if !ok {
				return
			}
			clientID, _ := doc["clientId"].(string)
			if clientID == "" {
				writeError(w, http.StatusBadRequest, "clientId is required")
				return
			}
			if findBy(rs.clients, "clientId", clientID) >= 0 {
				writeError(w, http.StatusConflict, "Client "+clientID+" already exists")
				return
			}
			id := uuid.NewString()
			doc["id"] = id
			rs.clients = append(rs.clients, doc)
			w.Header().Set("Location", "/admin/realms/"+rs.name()+"/clients/"+id)
			w.WriteHeader(http.StatusCreated)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	i := findBy(rs.clients, "id", rest[0])
	if i < 0 {
		writeError(w, http.StatusNotFound, "Could not find client")
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, rs.clients[i])
	case http.MethodDelete:
		rs.clients = append(rs.clients[:i], rs.clients[i+1:]...)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func serveIdentityProviders(w http.ResponseWriter, r *http.Request, rs *realmState, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, rs.idps)
		case http.MethodPost:
			doc, ok := decode(w, r)
			if !ok {
				return
			}
			alias, _ := doc["alias"].(string)
			if alias == "" {
				writeError(w, http.StatusBadRequest, "alias is required")
				return
			}
			if findBy(rs.idps, "alias", alias) >= 0 {
				writeError(w, http.StatusConflict, "Identity Provider "+alias+" already exists")
				return
			}
			doc["internalId"] = uuid.NewString()
			rs.idps = append(rs.idps, doc)
			w.Header().Set("Location", "/admin/realms/"+rs.name()+"/identity-provider/instances/"+alias)
			w.WriteHeader(http.StatusCreated)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	i := findBy(rs.idps, "alias", rest[0])
	if i < 0 {
		writeError(w, http.StatusNotFound, "Could not find identity provider")
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, rs.idps[i])
	case http.MethodDelete:
		rs.idps = append(rs.idps[:i], rs.idps[i+1:]...)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func serveUsers(w http.ResponseWriter, r *http.Request, rs *realmState, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			want := strings.ToLower(r.URL.Query().Get("username"))
			out := []map[string]interface{}{}
			for _, u := range rs.users {
				if want == "" || u["username"] == want {
					out = append(out, u)
				}
			}
			writeJSON(w, http.StatusOK, out)
		case http.MethodPost:
			doc, ok := decode(w, r)
			if !ok {
				return
			}
			username, _ := doc["username"].(string)
			if username == "" {
				writeError(w, http.StatusBadRequest, "error-user-attribute-required")
				return
			}
			username = strings.ToLower(username)
			if findBy(rs.users, "username", username) >= 0 {
				writeError(w, http.StatusConflict, "User exists with same username")
				return
			}
			id := uuid.NewString()
			doc["id"] = id
			doc["username"] = username
			delete(doc, "credentials")
			rs.users = append(rs.users, doc)
			w.Header().Set("Location", "/admin/realms/"+rs.name()+"/users/"+id)
			w.WriteHeader(http.StatusCreated)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	if rest[0] == "profile" && len(rest) == 1 {
		serveProfile(w, r, rs)
		return
	}

	userID := rest[0]
	i := findBy(rs.users, "id", userID)
	if i < 0 {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}

	if len(rest) == 1 {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, rs.users[i])
		case http.MethodDelete:
			rs.users = append(rs.users[:i], rs.users[i+1:]...)
			delete(rs.passwords, userID)
			delete(rs.links, userID)
			w.WriteHeader(http.StatusNoContent)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	switch rest[1] {
	case "reset-password":
		if r.Method != http.MethodPut {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		doc, ok := decode(w, r)
		if !ok {
			return
		}
		value, _ := doc["value"].(string)
		if value == "" {
			writeError(w, http.StatusBadRequest, "invalidPasswordMinLengthMessage")
			return
		}
		rs.passwords[userID] = value
		w.WriteHeader(http.StatusNoContent)
	case "federated-identity":
		serveFederatedIdentity(w, r, rs, userID, rest[2:])
	default:
		writeError(w, http.StatusNotFound, "unknown path")
	}
}

func serveFederatedIdentity(w http.ResponseWriter, r *http.Request, rs *realmState, userID string, rest []string) {
	links := rs.links[userID]
	if len(rest) == 0 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if links == nil {
			links = []map[string]interface{}{}
		}
		writeJSON(w, http.StatusOK, links)
		return
	}

	alias := rest[0]
	i := findBy(links, "identityProvider", alias)
	switch r.Method {
	case http.MethodPost:
		if findBy(rs.idps, "alias", alias) < 0 {
			writeError(w, http.StatusNotFound, "Could not find identity provider")
			return
		}
		if i >= 0 {
			writeError(w, http.StatusConflict, "User is already linked with provider")
			return
		}
		doc, ok := decode(w, r)
		if !ok {
			return
		}
		rs.links[userID] = append(links, map[string]interface{}{
			"identityProvider": alias,
			"userId":           doc["userId"],
			"userName":         doc["userName"],
		})
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		if i < 0 {
			writeError(w, http.StatusNotFound, "Link not found")
			return
		}
		rs.links[userID] = slices.Delete(slices.Clone(links), i, i+1)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func serveProfile(w http.ResponseWriter, r *http.Request, rs *realmState) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, rs.profile)
	case http.MethodPut:
		doc, ok := decode(w, r)
		if !ok {
			return
		}
		attrs, _ := doc["attributes"].([]interface{})
		seen := map[string]bool{}
		for _, a := range attrs {
			m, _ := a.(map[string]interface{})
			name, _ := m["name"].(string)
			if name == "" || seen[name] {
				writeError(w, http.StatusBadRequest, "Invalid attribute configuration")
				return
			}
			seen[name] = true
		}
		rs.profile = doc
		writeJSON(w, http.StatusOK, doc)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (rs *realmState) name() string {
	n, _ := rs.doc["realm"].(string)
	return n
}

func findBy(items []map[string]interface{}, field, value string) int {
	for i, item := range items {
		if v, _ := item[field].(string); v == value {
			return i
		}
	}
	return -1
}

func decode(w http.ResponseWriter, r *http.Request) (map[string]interface{}, bool) {
	var doc map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil || doc == nil {
		writeError(w, http.StatusBadRequest, "unable to parse body")
		return nil, false
	}
	return doc, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"errorMessage": msg})
}

func clone(doc map[string]interface{}) map[string]interface{} {
	if doc == nil {
		return nil
	}
	raw, _ := json.Marshal(doc)
	var out map[string]interface{}
	_ = json.Unmarshal(raw, &out)
	return out
}

func defaultProfile() map[string]interface{} {
	attr := func(name, display string) map[string]interface{} {
		return map[string]interface{}{
			"name":        name,
			"displayName": display,
			"validations": map[string]interface{}{},
			"permissions": map[string]interface{}{
				"view": []interface{}{"admin", "user"},
				"edit": []interface{}{"admin", "user"},
			},
			"multivalued": false,
		}
	}
	return map[string]interface{}{
		"attributes": []interface{}{
			attr("username", "${username}"),
			attr("email", "${email}"),
			attr("firstName", "${firstName}"),
			attr("lastName", "${lastName}"),
		},
		"groups": []interface{}{
			map[string]interface{}{
				"name":               "user-metadata",
				"displayHeader":      "User metadata",
				"displayDescription": "Attributes, which refer to user metadata",
			},
		},
	}
}
