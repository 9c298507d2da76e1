// Package config holds the connection settings of the fixture tools.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/keycloak"
)

// Config holds the Keycloak connection settings and the template location
type Config struct {
	BaseURL      string
	AuthRealm    string
	Username     string
	Password     string
	ClientID     string
	ClientSecret string
	FixturesDir  string
	Timeout      time.Duration
}

// Load reads configuration from environment variables, applying defaults
// where appropriate. It does not validate; flags may still fill gaps.
func Load() (*Config, error) {
	cfg := &Config{
		BaseURL:      envOrDefault("KEYCLOAK_URL", "http://localhost:8080"),
		AuthRealm:    envOrDefault("KEYCLOAK_REALM", "master"),
		Username:     envOrDefault("KEYCLOAK_ADMIN_USERNAME", os.Getenv("KC_BOOTSTRAP_ADMIN_USERNAME")),
		Password:     envOrDefault("KEYCLOAK_ADMIN_PASSWORD", os.Getenv("KC_BOOTSTRAP_ADMIN_PASSWORD")),
		ClientID:     os.Getenv("KEYCLOAK_CLIENT_ID"),
		ClientSecret: os.Getenv("KEYCLOAK_CLIENT_SECRET"),
		FixturesDir:  os.Getenv("FIXTURES_DIR"),
		Timeout:      keycloak.DefaultTimeout,
	}

	if v := os.Getenv("KEYCLOAK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid KEYCLOAK_TIMEOUT %q (use a Go duration such as 30s)", v)
		}
		cfg.Timeout = d
	}

	return cfg, nil
}

// Validate reports every missing setting at once
func (c *Config) Validate() error {
	var missing []string
	if c.BaseURL == "" {
		missing = append(missing, "KEYCLOAK_URL")
	}
	if c.AuthRealm == "" {
		missing = append(missing, "KEYCLOAK_REALM")
	}

	clientCredentials := c.ClientID != "" && c.ClientSecret != ""
	if !clientCredentials {
		if c.Username == "" {
			missing = append(missing, "KEYCLOAK_ADMIN_USERNAME")
		}
		if c.Password == "" {
			missing = append(missing, "KEYCLOAK_ADMIN_PASSWORD")
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	return nil
}

// KeycloakConfig converts the settings into an admin client configuration
func (c *Config) KeycloakConfig() keycloak.Config {
	return keycloak.Config{
		BaseURL:      c.BaseURL,
		Realm:        c.AuthRealm,
		Username:     c.Username,
		Password:     c.Password,
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Timeout:      c.Timeout,
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
