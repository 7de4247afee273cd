package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for required fields and valid
// values. Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	if c.ClientID == "" {
		errs = append(errs, fmt.Errorf("client_id is required"))
	}

	if len(c.RedirectURIs) == 0 {
		errs = append(errs, fmt.Errorf("redirect_uris must be non-empty"))
	}

	if len(c.TrustAnchors) == 0 {
		errs = append(errs, fmt.Errorf("trust_anchors must be non-empty"))
	}

	if c.DefaultTrustAnchor != "" && !containsString(c.TrustAnchors, c.DefaultTrustAnchor) {
		errs = append(errs, fmt.Errorf("default_trust_anchor %q must be one of trust_anchors", c.DefaultTrustAnchor))
	}

	if c.ApplicationType != "" && c.ApplicationType != "web" && c.ApplicationType != "native" {
		errs = append(errs, fmt.Errorf("application_type must be \"web\" or \"native\", got %q", c.ApplicationType))
	}

	if c.DefaultExpireMinutes <= 0 {
		errs = append(errs, fmt.Errorf("default_expire_minutes must be > 0, got %d", c.DefaultExpireMinutes))
	}

	if c.MaxAuthorityHints <= 0 {
		errs = append(errs, fmt.Errorf("max_authority_hints must be > 0, got %d", c.MaxAuthorityHints))
	}

	if c.DefaultSignatureAlg != "" && len(c.AllowedSigningAlgs) > 0 && !containsString(c.AllowedSigningAlgs, c.DefaultSignatureAlg) {
		errs = append(errs, fmt.Errorf("default_signature_alg %q must be one of allowed_signing_algs", c.DefaultSignatureAlg))
	}

	switch c.Storage.Type {
	case "memory", "postgres":
		// valid
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"memory\" or \"postgres\", got %q", c.Storage.Type))
	}

	if c.Storage.Type == "postgres" {
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
		}
	}

	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	for i, mark := range c.AllowedTrustMarks {
		if mark.ID == "" || mark.TrustAnchor == "" {
			errs = append(errs, fmt.Errorf("allowed_trust_marks[%d] requires both id and trust-anchor", i))
		}
	}

	return errors.Join(errs...)
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
