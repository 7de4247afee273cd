package config

import (
	"encoding/json"
	"fmt"

	gojose "github.com/go-jose/go-jose/v4"

	"github.com/giacgbj/spid-cie-oidc-go/internal/federr"
	"github.com/giacgbj/spid-cie-oidc-go/pkg/entity"
)

// ParseJWKS parses the jwk field into a one-key JWK set suitable for
// federation.Config.ConfiguredJWKS. An empty jwk returns (nil, nil),
// signaling that onboarding must generate a key (spec: "jwk empty ->
// trigger onboarding").
func (c *Config) ParseJWKS() (*gojose.JSONWebKeySet, error) {
	if c.JWK == "" {
		return nil, nil
	}
	var key gojose.JSONWebKey
	if err := json.Unmarshal([]byte(c.JWK), &key); err != nil {
		return nil, fmt.Errorf("%w: parsing jwk: %s", federr.ErrParseError, err)
	}
	return &gojose.JSONWebKeySet{Keys: []gojose.JSONWebKey{key}}, nil
}

// ParseTrustMarks parses the trust_marks field, a JSON array of
// {id, trust_mark} objects, into entity.TrustMarkClaim values. An empty
// string returns (nil, nil).
func (c *Config) ParseTrustMarks() ([]entity.TrustMarkClaim, error) {
	if c.TrustMarks == "" {
		return nil, nil
	}
	var claims []entity.TrustMarkClaim
	if err := json.Unmarshal([]byte(c.TrustMarks), &claims); err != nil {
		return nil, fmt.Errorf("%w: parsing trust_marks: %s", federr.ErrParseError, err)
	}
	return claims, nil
}

// ResolvedAllowedTrustMarks converts the allow-list into entity.AllowedTrustMark values.
func (c *Config) ResolvedAllowedTrustMarks() []entity.AllowedTrustMark {
	out := make([]entity.AllowedTrustMark, len(c.AllowedTrustMarks))
	for i, m := range c.AllowedTrustMarks {
		out[i] = entity.AllowedTrustMark{ID: m.ID, TrustAnchor: m.TrustAnchor}
	}
	return out
}

// TrustAnchorSet returns the configured trust_anchors as a membership
// set, the shape rp.Config.TrustAnchors and entity validation expect.
func (c *Config) TrustAnchorSet() map[string]bool {
	set := make(map[string]bool, len(c.TrustAnchors))
	for _, a := range c.TrustAnchors {
		set[a] = true
	}
	return set
}

// RPMetadata builds the openid_relying_party metadata block published
// under the relying party's federation entity, per spec.md's enumerated
// configuration surface (application_type, client_name, contacts,
// grant_types, response_types, redirect_uris). The returned map carries
// no client_id or client_registration_types entry.
func (c *Config) RPMetadata() map[string]interface{} {
	return map[string]interface{}{
		"application_type": c.ApplicationType,
		"client_name":      c.ApplicationName,
		"contacts":         c.Contacts,
		"grant_types":      c.GrantTypes,
		"response_types":   c.ResponseTypes,
		"redirect_uris":    c.RedirectURIs,
	}
}
