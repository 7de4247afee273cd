package entity

import (
	"encoding/json"

	gojose "github.com/go-jose/go-jose/v4"
)

// Metadata entity-type keys per OpenID Federation §3 and the SPID/CIE
// profile.
const (
	MetadataOpenIDProvider     = "openid_provider"
	MetadataOpenIDRelyingParty = "openid_relying_party"
	MetadataFederationEntity   = "federation_entity"
)

// TrustMarkClaim is one element of an entity statement's trust_marks
// array: a trust mark type id paired with the signed trust mark JWT.
type TrustMarkClaim struct {
	ID        string `json:"id"`
	TrustMark string `json:"trust_mark"`
}

// rawPayload mirrors the wire JSON of an entity statement / entity
// configuration. Metadata blocks are kept as json.RawMessage so unknown
// nested fields pass through unmolested; only the outermost shape is
// validated.
type rawPayload struct {
	Issuer         string                     `json:"iss"`
	Subject        string                     `json:"sub"`
	IssuedAt       int64                      `json:"iat"`
	Expiration     int64                      `json:"exp"`
	JWKS           *gojose.JSONWebKeySet      `json:"jwks,omitempty"`
	AuthorityHints []string                   `json:"authority_hints,omitempty"`
	Metadata       map[string]json.RawMessage `json:"metadata,omitempty"`
	MetadataPolicy map[string]json.RawMessage `json:"metadata_policy,omitempty"`
	Constraints    map[string]interface{}     `json:"constraints,omitempty"`
	TrustMarks     []TrustMarkClaim           `json:"trust_marks,omitempty"`
}
