package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	gojose "github.com/go-jose/go-jose/v4"

	"github.com/giacgbj/spid-cie-oidc-go/internal/federr"
	"github.com/giacgbj/spid-cie-oidc-go/pkg/jose"
)

// ValidateItself verifies the stored JWT using this configuration's own
// jwks and records the outcome.
func (c *Configuration) ValidateItself() bool {
	_, err := jose.Verify(c.JWT, &c.JWKS)
	c.valid = err == nil
	return c.valid
}

// ValidateDescendant verifies that jwt was signed by one of this
// configuration's own keys, representing this entity (acting as a
// superior) vouching for a descendant. Returns the verified payload.
func (c *Configuration) ValidateDescendant(jwt string) ([]byte, error) {
	parsed, err := jose.FastParse(jwt)
	if err != nil {
		return nil, err
	}
	kid, _ := parsed.Header["kid"].(string)
	if kid == "" || !c.hasKid(kid) {
		return nil, fmt.Errorf("%w: %s", federr.ErrUnknownKid, kid)
	}
	return jose.Verify(jwt, &c.JWKS)
}

func (c *Configuration) hasKid(kid string) bool {
	for _, k := range c.JWKS.Keys {
		if k.KeyID == kid {
			return true
		}
	}
	return false
}

// ValidateBySuperior validates that jwt (a statement superior issued
// about this configuration's subject) is a valid descendant statement,
// and that the jwks it embeds can verify this configuration's own
// self-assertion. Never errors outward: the outcome is the returned
// boolean, with the reason recorded internally for callers that want it
// via FailedSuperiors/VerifiedSuperiors-style inspection.
func (c *Configuration) ValidateBySuperior(ctx context.Context, jwt string, superior *Configuration) bool {
	c.ensureMaps()
	superior.ensureMaps()

	key := superior.Subject.String()

	fail := func(err error) bool {
		c.failedBySuperiors[key] = err
		slog.Warn("superior validation failed", "subject", c.Subject.String(), "superior", key, "error", err)
		return false
	}

	if !superior.ValidateItself() {
		return fail(fmt.Errorf("%w: superior %s self-assertion does not verify", federr.ErrInvalidTrustChain, key))
	}

	payload, err := superior.ValidateDescendant(jwt)
	if err != nil {
		return fail(err)
	}

	var stmt rawPayload
	if err := json.Unmarshal(payload, &stmt); err != nil {
		return fail(fmt.Errorf("%w: %s", federr.ErrParseError, err))
	}

	descendantJWKS, err := resolveJWKS(ctx, &stmt, nil)
	if err != nil {
		return fail(err)
	}

	if _, err := jose.Verify(c.JWT, descendantJWKS); err != nil {
		return fail(fmt.Errorf("%w: descendant self-assertion does not verify under superior-asserted jwks: %s", federr.ErrInvalidTrustChain, err))
	}

	c.verifiedBySuperiors[key] = superior
	delete(c.failedBySuperiors, key)
	c.valid = true
	superior.verifiedDescendantStatements[c.Subject.String()] = jwt

	return true
}

// GetSuperiors fetches and validates the self-assertions of this
// configuration's authority_hints, up to maxHints of them (later hints
// preferred when maxHints > 0), skipping any already present in
// alreadyKnown. Fetch or self-verification failures are logged and
// bucketed into FailedSuperiors; they never abort the walk.
func (c *Configuration) GetSuperiors(ctx context.Context, maxHints int, alreadyKnown []Identifier, fetcher Fetcher, getter jose.URLGetter) {
	c.ensureMaps()

	known := make(map[string]bool, len(alreadyKnown))
	for _, id := range alreadyKnown {
		known[id.String()] = true
	}

	var candidates []Identifier
	for _, hint := range c.AuthorityHints {
		if known[hint.String()] {
			continue
		}
		candidates = append(candidates, hint)
	}

	if maxHints > 0 && len(candidates) > maxHints {
		// Later hints are preferred.
		candidates = candidates[len(candidates)-maxHints:]
	}

	for _, hint := range candidates {
		jwt, err := fetcher.GetEntityConfiguration(ctx, hint.String())
		if err != nil {
			slog.Warn("fetching superior self-assertion failed", "superior", hint.String(), "error", err)
			c.failedSuperiors[hint.String()] = fmt.Errorf("%w: %s", federr.ErrFetchFailed, err)
			continue
		}

		superiorEC, err := Parse(ctx, jwt, getter)
		if err != nil {
			slog.Warn("parsing superior self-assertion failed", "superior", hint.String(), "error", err)
			c.failedSuperiors[hint.String()] = err
			continue
		}

		if !superiorEC.ValidateItself() {
			slog.Warn("superior self-assertion failed verification", "superior", hint.String())
			c.failedSuperiors[hint.String()] = fmt.Errorf("%w: superior self-assertion does not verify", federr.ErrInvalidTrustChain)
			continue
		}

		c.verifiedSuperiors[hint.String()] = superiorEC
	}
}

// ValidateBySuperiors fetches, from each of superiors' federation fetch
// endpoints, the statement it publishes about this configuration's
// subject, and runs ValidateBySuperior against each.
func (c *Configuration) ValidateBySuperiors(ctx context.Context, superiors []*Configuration, fetcher Fetcher) {
	c.ensureMaps()

	for _, superior := range superiors {
		key := superior.Subject.String()
		if _, ok := c.verifiedBySuperiors[key]; ok {
			continue
		}

		var feMeta struct {
			FetchEndpoint string `json:"federation_fetch_endpoint"`
		}
		if err := superior.FindMetadata(MetadataFederationEntity, &feMeta); err != nil || feMeta.FetchEndpoint == "" {
			c.failedBySuperiors[key] = fmt.Errorf("%w: superior %s has no federation_fetch_endpoint", federr.ErrMissingMetadata, key)
			continue
		}

		jwt, err := fetcher.GetEntityStatement(ctx, feMeta.FetchEndpoint, c.Subject.String())
		if err != nil {
			c.failedBySuperiors[key] = fmt.Errorf("%w: %s", federr.ErrFetchFailed, err)
			slog.Warn("fetching descendant statement failed", "subject", c.Subject.String(), "superior", key, "error", err)
			continue
		}

		c.ValidateBySuperior(ctx, jwt, superior)
	}
}

// AllowedTrustMark is one entry of the configured allowed_trust_marks
// list: a trust mark type id paired with the trust anchor whose keys
// must verify it.
type AllowedTrustMark struct {
	ID          string
	TrustAnchor string
}

// TrustAnchorKeyResolver resolves a trust anchor's current JWKS, used to
// verify trust marks without this package depending on the trust-chain
// cache directly.
type TrustAnchorKeyResolver interface {
	ResolveAnchorJWKS(ctx context.Context, anchorURL string) (*gojose.JSONWebKeySet, error)
}

// VerifiedTrustMarkIDs returns the ids of this configuration's trust
// marks whose JWT verifies under their corresponding allowed trust
// anchor's keys. A trust mark with no matching allow-list id, or that
// fails verification, is omitted: the result is the chain data model's
// verified_trust_marks, never a pass-through of claimed-but-unchecked
// ids.
func (c *Configuration) VerifiedTrustMarkIDs(ctx context.Context, allowed []AllowedTrustMark, resolver TrustAnchorKeyResolver) []string {
	var verified []string
	for _, tm := range c.TrustMarks {
		for _, a := range allowed {
			if tm.ID != a.ID {
				continue
			}
			anchorJWKS, err := resolver.ResolveAnchorJWKS(ctx, a.TrustAnchor)
			if err != nil {
				continue
			}
			if _, err := jose.Verify(tm.TrustMark, anchorJWKS); err == nil {
				verified = append(verified, tm.ID)
				break
			}
		}
	}
	return verified
}

// CheckAllowedTrustMarks enforces the configured allow-list: when
// non-empty, this configuration MUST carry at least one trust mark whose
// id/issuer pair is on the list and whose JWT verifies under the
// corresponding trust anchor's keys. An empty allow-list imposes no
// restriction.
func (c *Configuration) CheckAllowedTrustMarks(ctx context.Context, allowed []AllowedTrustMark, resolver TrustAnchorKeyResolver) (bool, error) {
	if len(allowed) == 0 {
		return true, nil
	}

	if ids := c.VerifiedTrustMarkIDs(ctx, allowed, resolver); len(ids) > 0 {
		return true, nil
	}

	return false, fmt.Errorf("%w: no configured trust mark verified against its trust anchor", federr.ErrInvalidTrustChain)
}
