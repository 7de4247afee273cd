// Package entity represents a parsed, partially-verified OpenID
// Federation entity statement (an Entity Configuration when iss==sub, or
// a superior's statement about a descendant otherwise) and the
// operations used to validate it against superiors or descendants while
// walking a trust chain.
package entity

import (
	"context"
	"encoding/json"
	"fmt"

	gojose "github.com/go-jose/go-jose/v4"

	"github.com/giacgbj/spid-cie-oidc-go/internal/federr"
	"github.com/giacgbj/spid-cie-oidc-go/pkg/jose"
)

// Fetcher retrieves remote entity statements. Satisfied by fetch.Client.
type Fetcher interface {
	GetEntityConfiguration(ctx context.Context, subjectURL string) (string, error)
	GetEntityStatement(ctx context.Context, fetchEndpoint, subject string) (string, error)
}

// Configuration is a parsed entity statement together with its
// accumulated verification state. Instances are owned by the call that
// created them; the verified/failed maps are mutated only by that call.
type Configuration struct {
	Issuer         Identifier
	Subject        Identifier
	IssuedAt       int64
	Expiration     int64
	JWKS           gojose.JSONWebKeySet
	AuthorityHints []Identifier
	Metadata       map[string]json.RawMessage
	MetadataPolicy map[string]json.RawMessage
	Constraints    map[string]interface{}
	TrustMarks     []TrustMarkClaim

	JWT string

	valid bool

	verifiedSuperiors   map[string]*Configuration
	failedSuperiors     map[string]error
	verifiedBySuperiors map[string]*Configuration
	failedBySuperiors   map[string]error

	// verifiedDescendantStatements maps a descendant subject to the
	// compact JWS this EC (acting as superior) issued and verified
	// about it.
	verifiedDescendantStatements map[string]string
}

// Parse fast-parses jwt (without verifying its signature) and builds a
// Configuration from its payload. jwks resolution prefers the top-level
// "jwks" claim; if absent, it falls back to the first metadata block
// that carries an inline jwks or jwks_uri (resolved via getter, which
// may be nil if no such fallback is needed).
func Parse(ctx context.Context, jwt string, getter jose.URLGetter) (*Configuration, error) {
	parsed, err := jose.FastParse(jwt)
	if err != nil {
		return nil, err
	}

	var payload rawPayload
	if err := json.Unmarshal(parsed.Payload, &payload); err != nil {
		return nil, fmt.Errorf("%w: unmarshaling entity statement payload: %s", federr.ErrParseError, err)
	}

	iss, err := NewIdentifier(payload.Issuer)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", federr.ErrParseError, err)
	}
	sub, err := NewIdentifier(payload.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", federr.ErrParseError, err)
	}

	if payload.Expiration <= payload.IssuedAt {
		return nil, fmt.Errorf("%w: exp %d <= iat %d", federr.ErrParseError, payload.Expiration, payload.IssuedAt)
	}

	jwks, err := resolveJWKS(ctx, &payload, getter)
	if err != nil {
		return nil, err
	}
	if len(jwks.Keys) == 0 {
		return nil, fmt.Errorf("%w: entity statement for %s has no usable keys", federr.ErrMissingJwks, payload.Subject)
	}

	hints := make([]Identifier, 0, len(payload.AuthorityHints))
	for _, h := range payload.AuthorityHints {
		id, err := NewIdentifier(h)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid authority_hints entry: %s", federr.ErrParseError, err)
		}
		hints = append(hints, id)
	}

	return &Configuration{
		Issuer:         iss,
		Subject:        sub,
		IssuedAt:       payload.IssuedAt,
		Expiration:     payload.Expiration,
		JWKS:           *jwks,
		AuthorityHints: hints,
		Metadata:       payload.Metadata,
		MetadataPolicy: payload.MetadataPolicy,
		Constraints:    payload.Constraints,
		TrustMarks:     payload.TrustMarks,
		JWT:            jwt,
	}, nil
}

func resolveJWKS(ctx context.Context, payload *rawPayload, getter jose.URLGetter) (*gojose.JSONWebKeySet, error) {
	if payload.JWKS != nil && len(payload.JWKS.Keys) > 0 {
		return payload.JWKS, nil
	}

	// Fall back to a metadata block's inline jwks/jwks_uri, preferring
	// federation_entity since that is where an entity's own keys are
	// typically (re)published when absent at the top level.
	order := []string{MetadataFederationEntity, MetadataOpenIDRelyingParty, MetadataOpenIDProvider}
	for _, key := range order {
		raw, ok := payload.Metadata[key]
		if !ok {
			continue
		}
		var block map[string]interface{}
		if err := json.Unmarshal(raw, &block); err != nil {
			continue
		}
		set, err := jose.ExtractJWKSFromMetadata(ctx, block, getter)
		if err == nil {
			return set, nil
		}
	}

	return nil, fmt.Errorf("%w: no jwks at top level or in metadata", federr.ErrMissingJwks)
}

// IsSelfAssertion reports whether this statement is an Entity
// Configuration (iss == sub) rather than a superior-about-descendant
// statement.
func (c *Configuration) IsSelfAssertion() bool {
	return c.Issuer.Equal(c.Subject)
}

// Valid reports the outcome of the most recent ValidateItself or
// ValidateBySuperior call.
func (c *Configuration) Valid() bool {
	return c.valid
}

// FindMetadata decodes the metadata block for entityType into dest. It
// fails if no such block is present.
func (c *Configuration) FindMetadata(entityType string, dest interface{}) error {
	raw, ok := c.Metadata[entityType]
	if !ok {
		return fmt.Errorf("%w: no metadata for entity type %s", federr.ErrMissingMetadata, entityType)
	}
	return json.Unmarshal(raw, dest)
}

func (c *Configuration) ensureMaps() {
	if c.verifiedSuperiors == nil {
		c.verifiedSuperiors = make(map[string]*Configuration)
	}
	if c.failedSuperiors == nil {
		c.failedSuperiors = make(map[string]error)
	}
	if c.verifiedBySuperiors == nil {
		c.verifiedBySuperiors = make(map[string]*Configuration)
	}
	if c.failedBySuperiors == nil {
		c.failedBySuperiors = make(map[string]error)
	}
	if c.verifiedDescendantStatements == nil {
		c.verifiedDescendantStatements = make(map[string]string)
	}
}

// VerifiedSuperiors returns the superiors successfully validated by
// GetSuperiors, keyed by subject URL.
func (c *Configuration) VerifiedSuperiors() map[string]*Configuration {
	return c.verifiedSuperiors
}

// FailedSuperiors returns the superiors GetSuperiors could not validate,
// keyed by subject URL.
func (c *Configuration) FailedSuperiors() map[string]error {
	return c.failedSuperiors
}

// DescendantStatement returns the compact JWS this configuration, acting
// as a superior, issued and verified about the descendant identified by
// subject, if ValidateBySuperior has run successfully for that pair.
func (c *Configuration) DescendantStatement(subject string) (string, bool) {
	jwt, ok := c.verifiedDescendantStatements[subject]
	return jwt, ok
}
