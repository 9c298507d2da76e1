package fixtures

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	fixturedata "github.com/Hostzero-GmbH/keycloak-fixtures/fixtures"
	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/config"
	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/keycloak"
	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/provision"
	"github.com/Hostzero-GmbH/keycloak-fixtures/internal/template"
)

// readyInterval is the poll interval used with --wait
const readyInterval = time.Second

// Options holds the connection flags shared by every command. Flags that are
// left empty fall back to the environment.
type Options struct {
	URL               string
	Username          string
	Password          string
	AuthRealm         string
	ClientID          string
	ClientSecret      string
	CredentialsSecret string
	FixturesDir       string
	Timeout           time.Duration
	Wait              time.Duration
	MetricsTextfile   string

	zapOpts zap.Options

	// newSecretClient is swapped in tests
	newSecretClient func() (client.Client, error)
}

// NewOptions returns options with the defaults applied
func NewOptions() *Options {
	return &Options{
		zapOpts:         zap.Options{Development: true},
		newSecretClient: config.NewSecretClient,
	}
}

// BindFlags binds the options to the given flag set
func (o *Options) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.URL, "url", "", "Keycloak server URL (env KEYCLOAK_URL)")
	fs.StringVar(&o.Username, "username", "", "Keycloak admin username (env KEYCLOAK_ADMIN_USERNAME)")
	fs.StringVar(&o.Password, "password", "", "Keycloak admin password (env KEYCLOAK_ADMIN_PASSWORD)")
	fs.StringVar(&o.AuthRealm, "auth-realm", "", "Realm to authenticate against (env KEYCLOAK_REALM, default master)")
	fs.StringVar(&o.ClientID, "client-id", "", "Client ID for client credentials authentication")
	fs.StringVar(&o.ClientSecret, "client-secret", "", "Client secret for client credentials authentication")
	fs.StringVar(&o.CredentialsSecret, "credentials-secret", "",
		"Kubernetes Secret (namespace/name) holding username and password keys")
	fs.StringVar(&o.FixturesDir, "fixtures-dir", "", "Directory holding template documents (env FIXTURES_DIR, default embedded)")
	fs.DurationVar(&o.Timeout, "timeout", 0, "Per-request timeout (env KEYCLOAK_TIMEOUT)")
	fs.DurationVar(&o.Wait, "wait", 0, "Wait up to this long for Keycloak to become ready")
	fs.StringVar(&o.MetricsTextfile, "metrics-textfile", "", "Write Prometheus metrics to this file when the command ends")

	zapFlags := flag.NewFlagSet("zap", flag.ContinueOnError)
	o.zapOpts.BindFlags(zapFlags)
	fs.AddGoFlagSet(zapFlags)
}

// Logger builds the command logger writing to w
func (o *Options) Logger(w io.Writer) logr.Logger {
	return zap.New(zap.UseFlagOptions(&o.zapOpts), zap.WriteTo(w))
}

// Config loads the environment and applies the flags on top. Secrets are
// not read and nothing is validated.
func (o *Options) Config() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&cfg.BaseURL, o.URL)
	override(&cfg.Username, o.Username)
	override(&cfg.Password, o.Password)
	override(&cfg.AuthRealm, o.AuthRealm)
	override(&cfg.ClientID, o.ClientID)
	override(&cfg.ClientSecret, o.ClientSecret)
	override(&cfg.FixturesDir, o.FixturesDir)
	if o.Timeout > 0 {
		cfg.Timeout = o.Timeout
	}
	return cfg, nil
}

// Store opens the template store: the fixtures directory when one is
// configured, the embedded documents otherwise
func (o *Options) Store(cfg *config.Config, log logr.Logger) *template.Store {
	if cfg.FixturesDir != "" {
		return template.NewDirStore(cfg.FixturesDir, log)
	}
	return template.NewStore(fixturedata.FS, log)
}

// Connect resolves the full configuration, waits for Keycloak if asked to
// and returns a session bound to it
func (o *Options) Connect(ctx context.Context, log logr.Logger) (*provision.Session, *config.Config, error) {
	cfg, err := o.Config()
	if err != nil {
		return nil, nil, err
	}

	if o.CredentialsSecret != "" {
		ref, err := config.ParseSecretRef(o.CredentialsSecret)
		if err != nil {
			return nil, nil, err
		}
		kc, err := o.newSecretClient()
		if err != nil {
			return nil, nil, err
		}
		if err := cfg.LoadSecret(ctx, kc, ref); err != nil {
			return nil, nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	api := keycloak.NewClient(cfg.KeycloakConfig(), log)
	if o.Wait > 0 {
		err = api.WaitReady(ctx, readyInterval, o.Wait)
	} else {
		err = api.Ping(ctx)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to Keycloak at %s: %w", cfg.BaseURL, err)
	}
	log.V(1).Info("Connected to Keycloak", "url", cfg.BaseURL)

	return provision.NewSession(api, log), cfg, nil
}

// WriteMetrics dumps the registry when --metrics-textfile is set
func (o *Options) WriteMetrics() error {
	if o.MetricsTextfile == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(o.MetricsTextfile, metrics.Registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
