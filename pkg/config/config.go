// Package config provides unified configuration for a SPID/CIE OpenID
// Connect Federation relying party.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (RP_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import (
	"time"

	gojose "github.com/go-jose/go-jose/v4"
)

// Config holds all configuration for the relying party process. The
// trust-chain and orchestrator packages never read this struct directly;
// cmd/rp-demo translates it into the already-validated Go values those
// packages accept (federation.Config, rp.Config), keeping file/env
// loading entirely in this ambient layer.
type Config struct {
	ClientID             string               `yaml:"client_id"`
	ApplicationName      string               `yaml:"application_name"`
	ApplicationType      string               `yaml:"application_type"` // default: "web"
	Contacts             []string             `yaml:"contacts"`
	RedirectURIs         []string             `yaml:"redirect_uris"`
	ResponseTypes        []string             `yaml:"response_types"` // default: ["code"]
	GrantTypes           []string             `yaml:"grant_types"`    // default: ["authorization_code", "refresh_token"]
	TrustAnchors         []string             `yaml:"trust_anchors"`
	DefaultTrustAnchor   string               `yaml:"default_trust_anchor"`
	SpidProviders        map[string]string    `yaml:"spid_providers"` // provider URL -> default anchor URL
	CieProviders         map[string]string    `yaml:"cie_providers"`
	ACRValues            map[string]string    `yaml:"acr_values"` // profile -> acr value
	TrustMarks           string               `yaml:"trust_marks"` // JSON array, empty until issued
	JWK                  string               `yaml:"jwk"`          // stringified private JWK, empty triggers onboarding
	JWKFile              string               `yaml:"jwk_file"`     // _file variant for jwk
	DefaultExpireMinutes int                  `yaml:"default_expire_minutes"` // default: 48h in minutes
	DefaultSignatureAlg  string               `yaml:"default_signature_alg"`  // default: "RS256"
	AllowedSigningAlgs   []string             `yaml:"allowed_signing_algs"`
	MaxAuthorityHints    int                  `yaml:"max_authority_hints"` // default: 10
	AllowedTrustMarks    []AllowedTrustMark   `yaml:"allowed_trust_marks"`

	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// AllowedTrustMark is a single `{id, trust-anchor}` entry of the
// allowed_trust_marks allow-list.
type AllowedTrustMark struct {
	ID          string `yaml:"id"`
	TrustAnchor string `yaml:"trust-anchor"`
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// ServerConfig holds HTTP server settings for cmd/rp-demo.
type ServerConfig struct {
	Port         int           `yaml:"port"`          // default: 8080
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"` // default: 30s
}

// StorageConfig selects the backend for the entity cache. The trust chain
// store, auth request store and federation self-record are always
// in-memory.
type StorageConfig struct {
	Type     string         `yaml:"type"`     // "memory" or "postgres", default: "memory"
	MaxSize  int            `yaml:"max_size"` // memory entity cache capacity, default: 10000
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"` // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"` // default: 25
	MigrateOnStart bool   `yaml:"migrate_on_start"`
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		ApplicationType:      "web",
		ResponseTypes:        []string{"code"},
		GrantTypes:           []string{"authorization_code", "refresh_token"},
		DefaultExpireMinutes: 48 * 60,
		DefaultSignatureAlg:  string(gojose.RS256),
		AllowedSigningAlgs:   []string{string(gojose.RS256), string(gojose.RS384), string(gojose.RS512), string(gojose.ES256), string(gojose.ES384), string(gojose.ES512)},
		MaxAuthorityHints:    10,
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Type:    "memory",
			MaxSize: 10000,
			Postgres: PostgresConfig{
				MaxConns: 25,
			},
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}
