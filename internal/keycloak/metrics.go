package keycloak

import (
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	// APIRequests counts Keycloak Admin API requests
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keycloak_fixtures_api_requests_total",
			Help: "Total number of Keycloak API requests",
		},
		[]string{"method", "endpoint", "status"},
	)
)

func init() {
	metrics.Registry.MustRegister(APIRequests)
}

// recordRequest counts one request. status is the HTTP code, or 0 when the
// request never got an answer.
func recordRequest(method, path string, status int) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	APIRequests.WithLabelValues(method, endpointOf(path), label).Inc()
}

// endpointOf reduces an API path to a low-cardinality endpoint label, dropping
// realm names, ids and aliases.
func endpointOf(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")

	if len(parts) >= 2 && parts[0] == "realms" {
		return "token"
	}
	if len(parts) < 2 || parts[0] != "admin" || parts[1] != "realms" {
		return "other"
	}
	if len(parts) <= 3 {
		return "realms"
	}

	resource := parts[3]
	if resource == "users" {
		switch {
		case len(parts) == 5 && parts[4] == "profile":
			return "users/profile"
		case len(parts) >= 6:
			return "users/" + parts[5]
		}
	}
	return resource
}
