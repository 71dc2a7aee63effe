// Package config loads and validates the orchestration core configuration.
//
// Configuration is a YAML file with an sso section describing the OIDC
// provider, a role_mappings table translating identity-provider groups into
// application roles, and server settings. A small set of environment
// variables override file values so deployments can rotate secrets without
// editing the file:
//
//   - CENECA_SESSION_TIMEOUT: session TTL in seconds.
//   - CENECA_SESSION_SECRET: cookie-signing secret.
//
// Validation is strict: when sso.enabled is true, missing required OIDC
// fields fail at startup with an *Error.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type (
	// Config is the root configuration document.
	Config struct {
		// SSO configures enterprise authentication.
		SSO SSO `yaml:"sso"`
		// RoleMappings maps identity-provider group names to application roles.
		RoleMappings map[string]string `yaml:"role_mappings"`
		// Server configures the HTTP surface.
		Server Server `yaml:"server"`
		// DataDir is the directory holding per-session aggregator files.
		DataDir string `yaml:"data_dir"`
		// SessionTimeout is the session TTL. Overridden by CENECA_SESSION_TIMEOUT.
		SessionTimeout time.Duration `yaml:"session_timeout"`
		// SessionSecret signs session cookies. Overridden by CENECA_SESSION_SECRET.
		SessionSecret string `yaml:"session_secret"`
	}

	// SSO holds single-sign-on settings.
	SSO struct {
		// Enabled turns enterprise authentication on. When false the auth gate
		// reports ServiceUnavailable in strict mode.
		Enabled bool `yaml:"enabled"`
		// DefaultProtocol names the SSO protocol; only "oidc" is supported.
		DefaultProtocol string `yaml:"default_protocol"`
		// OIDC configures the OpenID Connect provider.
		OIDC OIDC `yaml:"oidc"`
	}

	// OIDC describes the OpenID Connect provider used for login.
	OIDC struct {
		Provider     string   `yaml:"provider"`
		ClientID     string   `yaml:"client_id"`
		ClientSecret string   `yaml:"client_secret"`
		Issuer       string   `yaml:"issuer"`
		DiscoveryURL string   `yaml:"discovery_url"`
		RedirectURI  string   `yaml:"redirect_uri"`
		Scopes       []string `yaml:"scopes"`
		// ClaimsMapping names the ID-token/userinfo claims carrying identity
		// fields. Empty entries fall back to the standard claim names.
		ClaimsMapping ClaimsMapping `yaml:"claims_mapping"`
	}

	// ClaimsMapping names the claims carrying identity fields.
	ClaimsMapping struct {
		Email  string `yaml:"email"`
		Name   string `yaml:"name"`
		Groups string `yaml:"groups"`
	}

	// Server configures the HTTP listener and front-end redirect target.
	Server struct {
		// Addr is the listen address, e.g. ":8080".
		Addr string `yaml:"addr"`
		// FrontendURL is the UI base URL used for post-login redirects.
		FrontendURL string `yaml:"frontend_url"`
		// Production toggles Secure cookies and disables debug fall-throughs.
		Production bool `yaml:"production"`
	}

	// Error reports invalid or missing required configuration. It is fatal at
	// startup; the process must not continue with partial configuration.
	Error struct {
		Field  string
		Reason string
	}
)

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// DefaultSessionTimeout applies when neither the file nor the environment
// provides a session TTL.
const DefaultSessionTimeout = 8 * time.Hour

// Load reads, overrides, and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML configuration document, applying
// environment overrides.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = DefaultSessionTimeout
	}
	if c.SSO.DefaultProtocol == "" {
		c.SSO.DefaultProtocol = "oidc"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.SSO.OIDC.ClaimsMapping.Email == "" {
		c.SSO.OIDC.ClaimsMapping.Email = "email"
	}
	if c.SSO.OIDC.ClaimsMapping.Name == "" {
		c.SSO.OIDC.ClaimsMapping.Name = "name"
	}
	if c.SSO.OIDC.ClaimsMapping.Groups == "" {
		c.SSO.OIDC.ClaimsMapping.Groups = "groups"
	}
	if len(c.SSO.OIDC.Scopes) == 0 {
		c.SSO.OIDC.Scopes = []string{"openid", "profile", "email"}
	}
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("CENECA_SESSION_TIMEOUT"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return &Error{Field: "CENECA_SESSION_TIMEOUT", Reason: fmt.Sprintf("invalid value %q", v)}
		}
		c.SessionTimeout = time.Duration(secs) * time.Second
	}
	if v := os.Getenv("CENECA_SESSION_SECRET"); v != "" {
		c.SessionSecret = v
	}
	return nil
}

// Validate enforces required fields. SSO-disabled configurations skip the
// OIDC checks entirely.
func (c *Config) Validate() error {
	if !c.SSO.Enabled {
		return nil
	}
	if c.SSO.DefaultProtocol != "oidc" {
		return &Error{Field: "sso.default_protocol", Reason: fmt.Sprintf("unsupported protocol %q", c.SSO.DefaultProtocol)}
	}
	oidc := c.SSO.OIDC
	required := []struct {
		field, value string
	}{
		{"sso.oidc.client_id", oidc.ClientID},
		{"sso.oidc.client_secret", oidc.ClientSecret},
		{"sso.oidc.issuer", oidc.Issuer},
		{"sso.oidc.redirect_uri", oidc.RedirectURI},
	}
	for _, r := range required {
		if r.value == "" {
			return &Error{Field: r.field, Reason: "required when sso.enabled is true"}
		}
	}
	return nil
}
