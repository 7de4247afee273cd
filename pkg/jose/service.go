package jose

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	gojose "github.com/go-jose/go-jose/v4"

	"github.com/giacgbj/spid-cie-oidc-go/internal/federr"
)

// DefaultSigningAlgorithm is used by Sign when the caller supplies no
// algorithm override.
const DefaultSigningAlgorithm = gojose.RS256

// AllowedVerificationAlgorithms is the fixed verification allow-list.
// Signing may choose any of these; verification never accepts anything
// outside this set regardless of what a JWS header claims.
var AllowedVerificationAlgorithms = []gojose.SignatureAlgorithm{
	gojose.RS256, gojose.RS384, gojose.RS512,
	gojose.ES256, gojose.ES384, gojose.ES512,
}

// FastParsed holds the unverified header and payload of a compact JWS.
type FastParsed struct {
	Header  map[string]interface{}
	Payload []byte
}

// FastParse base64-decodes the header and payload segments of a compact
// JWS without verifying the signature. Used wherever the payload is
// needed before key selection (e.g. to find the jwks to verify against).
func FastParse(jwt string) (*FastParsed, error) {
	parts := strings.Split(jwt, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 dot-separated segments, got %d", federr.ErrParseError, len(parts))
	}

	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: decoding header: %s", federr.ErrParseError, err)
	}
	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: decoding payload: %s", federr.ErrParseError, err)
	}

	var header map[string]interface{}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, fmt.Errorf("%w: unmarshaling header: %s", federr.ErrParseError, err)
	}

	return &FastParsed{Header: header, Payload: payloadBytes}, nil
}

// ParseJWKSet parses a JWK set from either a JSON object {"keys":[...]}
// or a bare JSON array of keys.
func ParseJWKSet(raw []byte) (*gojose.JSONWebKeySet, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty jwks payload", federr.ErrParseError)
	}

	var set gojose.JSONWebKeySet
	if strings.HasPrefix(trimmed, "[") {
		var keys []gojose.JSONWebKey
		if err := json.Unmarshal([]byte(trimmed), &keys); err != nil {
			return nil, fmt.Errorf("%w: unmarshaling bare jwk array: %s", federr.ErrParseError, err)
		}
		set.Keys = keys
		return &set, nil
	}

	if err := json.Unmarshal([]byte(trimmed), &set); err != nil {
		return nil, fmt.Errorf("%w: unmarshaling jwk set: %s", federr.ErrParseError, err)
	}
	return &set, nil
}

// Sign produces a compact JWS over payload, signed with the first key in
// jwks. alg defaults to DefaultSigningAlgorithm when empty. typ is set as
// the JWS "typ" header when non-empty (e.g. "entity-statement+jwt").
func Sign(payload interface{}, jwks *gojose.JSONWebKeySet, alg gojose.SignatureAlgorithm, typ string) (string, error) {
	if jwks == nil || len(jwks.Keys) == 0 {
		return "", fmt.Errorf("%w: no signing key available", federr.ErrMissingJwks)
	}
	key := jwks.Keys[0]

	if alg == "" {
		alg = DefaultSigningAlgorithm
	}

	extraHeaders := map[gojose.HeaderKey]interface{}{
		"kid": key.KeyID,
	}
	if typ != "" {
		extraHeaders[gojose.HeaderType] = typ
	}

	signer, err := gojose.NewSigner(gojose.SigningKey{Algorithm: alg, Key: key.Key}, &gojose.SignerOptions{
		ExtraHeaders: extraHeaders,
	})
	if err != nil {
		return "", fmt.Errorf("constructing signer: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling payload: %w", err)
	}

	jws, err := signer.Sign(body)
	if err != nil {
		return "", fmt.Errorf("signing payload: %w", err)
	}

	compact, err := jws.CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("serializing jws: %w", err)
	}
	return compact, nil
}

// Verify checks jwt's signature against jwks, selecting the key by the
// JWS header's kid and restricting acceptable algorithms to
// AllowedVerificationAlgorithms regardless of the header's claimed alg.
// Returns the verified payload on success.
func Verify(jwt string, jwks *gojose.JSONWebKeySet) ([]byte, error) {
	parsed, err := gojose.ParseSigned(jwt, AllowedVerificationAlgorithms)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", federr.ErrUnsupportedAlgorithm, err)
	}
	if len(parsed.Signatures) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one signature, got %d", federr.ErrParseError, len(parsed.Signatures))
	}

	kid := parsed.Signatures[0].Header.KeyID
	if kid == "" {
		return nil, fmt.Errorf("%w: jws header has no kid", federr.ErrUnknownKid)
	}

	keys := jwks.Key(kid)
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: %s", federr.ErrUnknownKid, kid)
	}

	payload, err := parsed.Verify(keys[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %s", federr.ErrParseError, err)
	}
	return payload, nil
}

// GenerateRSAKey creates a 2048-bit RSA signing key with use=sig and a
// thumbprint-derived kid, suitable for onboarding a new FederationEntity.
func GenerateRSAKey() (gojose.JSONWebKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return gojose.JSONWebKey{}, fmt.Errorf("generating rsa key: %w", err)
	}

	jwk := gojose.JSONWebKey{
		Key:       priv,
		Algorithm: string(gojose.RS256),
		Use:       "sig",
	}

	thumbprint, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return gojose.JSONWebKey{}, fmt.Errorf("computing thumbprint: %w", err)
	}
	jwk.KeyID = base64.RawURLEncoding.EncodeToString(thumbprint)

	return jwk, nil
}

// PublicSet returns a JWK set containing only the public portion of each
// key in jwks, suitable for publication in a well-known document.
func PublicSet(jwks *gojose.JSONWebKeySet) gojose.JSONWebKeySet {
	public := gojose.JSONWebKeySet{}
	for _, k := range jwks.Keys {
		public.Keys = append(public.Keys, k.Public())
	}
	return public
}
