// Package federr defines the sentinel error kinds shared across the
// federation core. Callers use errors.Is against these values; wrapping
// with fmt.Errorf("...: %w", ...) preserves the kind while adding context.
package federr

import "errors"

// Sentinel errors for the federation core's error taxonomy.
var (
	// ErrFetchFailed is returned for HTTP errors, timeouts, or malformed
	// response bodies when retrieving a remote entity's statements.
	ErrFetchFailed = errors.New("federation: fetch failed")

	// ErrParseError is returned for malformed JWT, JWK, or JSON input.
	ErrParseError = errors.New("federation: parse error")

	// ErrUnknownKid is returned when a JWS references a key id absent
	// from the relevant JWK set.
	ErrUnknownKid = errors.New("federation: unknown kid")

	// ErrUnsupportedAlgorithm is returned when a JWS alg header falls
	// outside the configured verification allow-list.
	ErrUnsupportedAlgorithm = errors.New("federation: unsupported algorithm")

	// ErrMissingJwks is returned when an entity configuration carries no
	// usable key material.
	ErrMissingJwks = errors.New("federation: missing jwks")

	// ErrJwksUnavailable is returned when metadata carries neither an
	// inline jwks nor a jwks_uri, or the jwks_uri fetch fails.
	ErrJwksUnavailable = errors.New("federation: jwks unavailable")

	// ErrInvalidTrustAnchor is returned when the requested trust anchor
	// is not in the configured allow-list.
	ErrInvalidTrustAnchor = errors.New("federation: invalid trust anchor")

	// ErrMissingProvider is returned when the provider argument to
	// GetAuthorizeURL is empty.
	ErrMissingProvider = errors.New("federation: missing provider")

	// ErrTrustChainDisabled is returned when a stored chain has been
	// administratively deactivated.
	ErrTrustChainDisabled = errors.New("federation: trust chain disabled")

	// ErrInvalidTrustChain is returned when a chain build produces no
	// verified path to the trust anchor, or exceeds max_path_len, or
	// detects a cycle.
	ErrInvalidTrustChain = errors.New("federation: invalid trust chain")

	// ErrMissingMetadata is returned when a chain is otherwise valid but
	// the subject publishes no metadata of the requested type, or the
	// policy merge yields an empty object.
	ErrMissingMetadata = errors.New("federation: missing metadata")

	// ErrMismatchedSubject is returned when a well-known request's
	// derived subject does not match the configured client_id.
	ErrMismatchedSubject = errors.New("federation: mismatched subject")

	// ErrMissingConfiguration is returned when the relying party's own
	// FederationEntity is absent or inactive during authorize.
	ErrMissingConfiguration = errors.New("federation: missing configuration")

	// ErrConflictingState is returned when an auth-request record's
	// state collides with an existing one.
	ErrConflictingState = errors.New("federation: conflicting state")
)
