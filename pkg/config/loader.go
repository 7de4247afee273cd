package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, RP_CONFIG env, ./config.yaml, /etc/rp/config.yaml)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. RP_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/rp/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}

	if envPath := os.Getenv("RP_CONFIG"); envPath != "" {
		return envPath
	}

	candidates := []string{
		"config.yaml",
		"/etc/rp/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps RP_* environment variables to config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RP_CLIENT_ID"); v != "" {
		cfg.ClientID = v
	}
	if v := os.Getenv("RP_DEFAULT_TRUST_ANCHOR"); v != "" {
		cfg.DefaultTrustAnchor = v
	}
	if v := os.Getenv("RP_JWK"); v != "" {
		cfg.JWK = v
	}
	if v := os.Getenv("RP_TRUST_MARKS"); v != "" {
		cfg.TrustMarks = v
	}
	if v := os.Getenv("RP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("RP_STORAGE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("RP_STORAGE_SIZE"); v != "" {
		if size, err := strconv.Atoi(v); err == nil {
			cfg.Storage.MaxSize = size
		}
	}
	if v := os.Getenv("RP_DEFAULT_EXPIRE_MINUTES"); v != "" {
		if minutes, err := strconv.Atoi(v); err == nil {
			cfg.DefaultExpireMinutes = minutes
		}
	}
	if v := os.Getenv("RP_MAX_AUTHORITY_HINTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxAuthorityHints = n
		}
	}
	if v := os.Getenv("RP_TRUST_ANCHORS"); v != "" {
		cfg.TrustAnchors = strings.Split(v, ",")
	}
	if v := os.Getenv("RP_REDIRECT_URIS"); v != "" {
		cfg.RedirectURIs = strings.Split(v, ",")
	}
}

// resolveFileReferences reads _file fields and populates the
// corresponding value fields. For each field ending in _file, if the
// value field is empty and the file field is set, the file is read,
// whitespace is trimmed, and the value field is populated.
func resolveFileReferences(cfg *Config) error {
	if cfg.JWKFile != "" && cfg.JWK == "" {
		val, err := readSecretFile(cfg.JWKFile)
		if err != nil {
			return fmt.Errorf("jwk_file: %w", err)
		}
		cfg.JWK = val
	}

	if cfg.Storage.Postgres.DSNFile != "" && cfg.Storage.Postgres.DSN == "" {
		val, err := readSecretFile(cfg.Storage.Postgres.DSNFile)
		if err != nil {
			return fmt.Errorf("storage.postgres.dsn_file: %w", err)
		}
		cfg.Storage.Postgres.DSN = val
	}

	return nil
}

// readSecretFile reads a file and returns its content with surrounding
// whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
