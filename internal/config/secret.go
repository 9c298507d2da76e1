package config

import (
	"context"
	"fmt"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	ctrlconfig "sigs.k8s.io/controller-runtime/pkg/client/config"
)

// Default keys inside a credentials secret
const (
	DefaultUsernameKey     = "username"
	DefaultPasswordKey     = "password"
	DefaultClientIDKey     = "client-id"
	DefaultClientSecretKey = "client-secret"
)

// SecretRef points at a Kubernetes Secret holding admin credentials
type SecretRef struct {
	types.NamespacedName
	UsernameKey string
	PasswordKey string
}

// ParseSecretRef parses "namespace/name" or "name". A bare name lives in
// the "default" namespace.
func ParseSecretRef(s string) (SecretRef, error) {
	ref := SecretRef{UsernameKey: DefaultUsernameKey, PasswordKey: DefaultPasswordKey}

	parts := strings.Split(strings.TrimSpace(s), "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		ref.Namespace = "default"
		ref.Name = parts[0]
	case len(parts) == 2 && parts[0] != "" && parts[1] != "":
		ref.Namespace = parts[0]
		ref.Name = parts[1]
	default:
		return ref, fmt.Errorf("invalid secret reference %q, expected namespace/name", s)
	}
	return ref, nil
}

// NewSecretClient builds a controller-runtime client from the ambient
// kubeconfig or in-cluster configuration
func NewSecretClient() (client.Client, error) {
	restConfig, err := ctrlconfig.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	c, err := client.New(restConfig, client.Options{Scheme: scheme.Scheme})
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	return c, nil
}

// LoadSecret fills the credentials from the referenced secret. Username and
// password are required; client-id and client-secret are picked up when present.
func (c *Config) LoadSecret(ctx context.Context, kc client.Client, ref SecretRef) error {
	secret := &corev1.Secret{}
	if err := kc.Get(ctx, ref.NamespacedName, secret); err != nil {
		return fmt.Errorf("failed to get credentials secret: %w", err)
	}

	usernameKey := ref.UsernameKey
	if usernameKey == "" {
		usernameKey = DefaultUsernameKey
	}
	passwordKey := ref.PasswordKey
	if passwordKey == "" {
		passwordKey = DefaultPasswordKey
	}

	username, ok := secret.Data[usernameKey]
	if !ok {
		return fmt.Errorf("username key %q not found in secret", usernameKey)
	}
	password, ok := secret.Data[passwordKey]
	if !ok {
		return fmt.Errorf("password key %q not found in secret", passwordKey)
	}
	c.Username = string(username)
	c.Password = string(password)

	if id, ok := secret.Data[DefaultClientIDKey]; ok {
		c.ClientID = string(id)
	}
	if s, ok := secret.Data[DefaultClientSecretKey]; ok {
		c.ClientSecret = string(s)
	}

	return nil
}
