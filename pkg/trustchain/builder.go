package trustchain

import (
	"context"
	"encoding/json"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	gojose "github.com/go-jose/go-jose/v4"
	"golang.org/x/sync/singleflight"

	"github.com/giacgbj/spid-cie-oidc-go/internal/federr"
	"github.com/giacgbj/spid-cie-oidc-go/pkg/entity"
	"github.com/giacgbj/spid-cie-oidc-go/pkg/entitycache"
	"github.com/giacgbj/spid-cie-oidc-go/pkg/jose"
	"github.com/giacgbj/spid-cie-oidc-go/pkg/policy"
)

// DefaultMaxPathLen bounds the upward walk when Builder.MaxPathLen is
// unset.
const DefaultMaxPathLen = 10

// Chain is the resolved, ordered sequence of signed statements linking
// a subject to a Trust Anchor for one metadata type.
type Chain struct {
	Subject          string
	TrustAnchor      string
	MetadataType     string
	JWTs             []string
	PartiesInvolved  []string
	FinalMetadata    map[string]interface{}
	Expiration       int64
	TrustMarkIDs     []string
	Status           string
}

const (
	StatusValid   = "valid"
	StatusInvalid = "invalid"
)

// Builder walks authority_hints upward from a subject to a trusted
// anchor, validating each statement and merging metadata policy along
// the way.
type Builder struct {
	Fetcher     entity.Fetcher
	Getter      jose.URLGetter
	Cache       *entitycache.Cache
	MaxPathLen  int
	MaxHints    int

	// AllowedTrustMarks, when non-empty, makes trust mark verification
	// mandatory: the resolved subject's entity configuration must carry
	// at least one trust mark on this list that verifies under its
	// corresponding trust anchor's keys.
	AllowedTrustMarks []entity.AllowedTrustMark

	sf singleflight.Group
}

// Build resolves subject into a Chain for metadataType, trusting anchor
// (already fetched and self-verified by the caller) as the terminus.
// Concurrent Build calls for the same (subject, anchor, metadataType)
// share one in-flight build.
func (b *Builder) Build(ctx context.Context, subject string, anchor *entity.Configuration, metadataType string) (*Chain, error) {
	key := subject + "|" + anchor.Subject.String() + "|" + metadataType
	v, err, _ := b.sf.Do(key, func() (interface{}, error) {
		return b.build(ctx, subject, anchor, metadataType)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Chain), nil
}

func (b *Builder) build(ctx context.Context, subject string, anchor *entity.Configuration, metadataType string) (*Chain, error) {
	maxPathLen := b.MaxPathLen
	if maxPathLen <= 0 {
		maxPathLen = DefaultMaxPathLen
	}

	subjectEC, err := b.fetchEC(ctx, subject)
	if err != nil {
		return nil, err
	}
	if !subjectEC.ValidateItself() {
		return nil, fmt.Errorf("%w: subject self-assertion for %s does not verify", federr.ErrInvalidTrustChain, subject)
	}

	resolver := anchorKeyResolver{anchor: anchor, fetcher: b.Fetcher, getter: b.Getter}
	if ok, err := subjectEC.CheckAllowedTrustMarks(ctx, b.AllowedTrustMarks, resolver); !ok {
		return nil, err
	}
	verifiedTrustMarkIDs := subjectEC.VerifiedTrustMarkIDs(ctx, b.AllowedTrustMarks, resolver)

	chainJWTs := []string{subjectEC.JWT}
	parties := []string{subjectEC.Subject.String()}
	expirations := []int64{subjectEC.Expiration}
	visited := mapset.NewSet(subjectEC.Subject.String())

	// policyLevels accumulates metadata_policy blocks in subject-to-anchor
	// (nearest-superior-first) order; reversed before merging so policies
	// apply Trust-Anchor-downward.
	var policyLevels []map[string]json.RawMessage

	cur := subjectEC
	for step := 0; ; step++ {
		if step >= maxPathLen {
			return nil, fmt.Errorf("%w: exceeded max_path_len %d resolving %s", federr.ErrInvalidTrustChain, maxPathLen, subject)
		}

		cur.GetSuperiors(ctx, b.MaxHints, nil, b.Fetcher, b.Getter)

		if isAuthorityHint(cur, anchor.Subject.String()) {
			cur.ValidateBySuperiors(ctx, []*entity.Configuration{anchor}, b.Fetcher)
			if !cur.Valid() {
				return nil, fmt.Errorf("%w: %s does not validate under trust anchor %s", federr.ErrInvalidTrustChain, cur.Subject.String(), anchor.Subject.String())
			}
			stmt, ok := anchor.DescendantStatement(cur.Subject.String())
			if !ok {
				return nil, fmt.Errorf("%w: trust anchor issued no statement about %s", federr.ErrInvalidTrustChain, cur.Subject.String())
			}

			chainJWTs = append(chainJWTs, stmt, anchor.JWT)
			parties = append(parties, anchor.Subject.String())
			expirations = append(expirations, statementExpiration(stmt), anchor.Expiration)
			policyLevels = append(policyLevels, metadataPolicyFor(anchor, metadataType))

			return finalizeChain(subjectEC, anchor.Subject.String(), metadataType, chainJWTs, parties, expirations, policyLevels, verifiedTrustMarkIDs)
		}

		superior := nextUnvisitedSuperior(cur, visited)
		if superior == nil {
			return nil, fmt.Errorf("%w: no path from %s to trust anchor %s", federr.ErrInvalidTrustChain, subject, anchor.Subject.String())
		}
		if visited.Contains(superior.Subject.String()) {
			return nil, fmt.Errorf("%w: cycle detected at %s", federr.ErrInvalidTrustChain, superior.Subject.String())
		}

		cur.ValidateBySuperiors(ctx, []*entity.Configuration{superior}, b.Fetcher)
		if !cur.Valid() {
			return nil, fmt.Errorf("%w: %s does not validate under superior %s", federr.ErrInvalidTrustChain, cur.Subject.String(), superior.Subject.String())
		}
		stmt, ok := superior.DescendantStatement(cur.Subject.String())
		if !ok {
			return nil, fmt.Errorf("%w: %s issued no statement about %s", federr.ErrInvalidTrustChain, superior.Subject.String(), cur.Subject.String())
		}

		chainJWTs = append(chainJWTs, stmt)
		parties = append(parties, superior.Subject.String())
		expirations = append(expirations, statementExpiration(stmt))
		policyLevels = append(policyLevels, metadataPolicyFor(superior, metadataType))
		visited.Add(superior.Subject.String())

		cur = superior
	}
}

func isAuthorityHint(c *entity.Configuration, anchorSubject string) bool {
	for _, hint := range c.AuthorityHints {
		if hint.String() == anchorSubject {
			return true
		}
	}
	return false
}

// nextUnvisitedSuperior picks, in authority_hints order, the first
// verified superior not already in visited.
func nextUnvisitedSuperior(c *entity.Configuration, visited mapset.Set[string]) *entity.Configuration {
	verified := c.VerifiedSuperiors()
	for _, hint := range c.AuthorityHints {
		if visited.Contains(hint.String()) {
			continue
		}
		if superior, ok := verified[hint.String()]; ok {
			return superior
		}
	}
	return nil
}

func metadataPolicyFor(c *entity.Configuration, metadataType string) map[string]json.RawMessage {
	raw, ok := c.MetadataPolicy[metadataType]
	if !ok {
		return map[string]json.RawMessage{}
	}
	var params map[string]json.RawMessage
	if err := json.Unmarshal(raw, &params); err != nil {
		return map[string]json.RawMessage{}
	}
	return params
}

func statementExpiration(jwt string) int64 {
	parsed, err := jose.FastParse(jwt)
	if err != nil {
		return 0
	}
	var claims struct {
		Expiration int64 `json:"exp"`
	}
	if err := json.Unmarshal(parsed.Payload, &claims); err != nil {
		return 0
	}
	return claims.Expiration
}

func finalizeChain(subjectEC *entity.Configuration, anchorSubject, metadataType string, jwts, parties []string, expirations []int64, policyLevels []map[string]json.RawMessage, verifiedTrustMarkIDs []string) (*Chain, error) {
	raw, ok := subjectEC.Metadata[metadataType]
	if !ok {
		return nil, fmt.Errorf("%w: subject %s publishes no metadata for %s", federr.ErrMissingMetadata, subjectEC.Subject.String(), metadataType)
	}
	var subjectMetadata map[string]interface{}
	if err := json.Unmarshal(raw, &subjectMetadata); err != nil {
		return nil, fmt.Errorf("%w: unmarshaling subject metadata: %s", federr.ErrParseError, err)
	}

	reversed := make([]map[string]json.RawMessage, len(policyLevels))
	for i, p := range policyLevels {
		reversed[len(policyLevels)-1-i] = p
	}

	finalMetadata, err := policy.Merge(subjectMetadata, reversed)
	if err != nil {
		return nil, err
	}

	minExp := expirations[0]
	for _, e := range expirations[1:] {
		if e > 0 && e < minExp {
			minExp = e
		}
	}

	return &Chain{
		Subject:         subjectEC.Subject.String(),
		TrustAnchor:     anchorSubject,
		MetadataType:    metadataType,
		JWTs:            jwts,
		PartiesInvolved: parties,
		FinalMetadata:   finalMetadata,
		Expiration:      minExp,
		TrustMarkIDs:    verifiedTrustMarkIDs,
		Status:          StatusValid,
	}, nil
}

// anchorKeyResolver satisfies entity.TrustAnchorKeyResolver, answering
// from the already-fetched-and-verified trust anchor when the requested
// URL matches it and falling back to a fresh fetch+validate for any
// other configured trust anchor a trust mark names.
type anchorKeyResolver struct {
	anchor  *entity.Configuration
	fetcher entity.Fetcher
	getter  jose.URLGetter
}

func (r anchorKeyResolver) ResolveAnchorJWKS(ctx context.Context, anchorURL string) (*gojose.JSONWebKeySet, error) {
	if r.anchor != nil && r.anchor.Subject.String() == anchorURL {
		return &r.anchor.JWKS, nil
	}

	jwt, err := r.fetcher.GetEntityConfiguration(ctx, anchorURL)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching trust anchor configuration for trust mark verification: %s", federr.ErrFetchFailed, err)
	}
	ec, err := entity.Parse(ctx, jwt, r.getter)
	if err != nil {
		return nil, err
	}
	if !ec.ValidateItself() {
		return nil, fmt.Errorf("%w: trust anchor %s self-assertion does not verify", federr.ErrInvalidTrustAnchor, anchorURL)
	}
	return &ec.JWKS, nil
}

func (b *Builder) fetchEC(ctx context.Context, subject string) (*entity.Configuration, error) {
	key := entitycache.Key{Subject: subject, Issuer: subject}

	if b.Cache != nil {
		if info, err := b.Cache.Fetch(ctx, key); err == nil && !info.IsExpired() {
			if ec, err := entity.Parse(ctx, info.JWT, b.Getter); err == nil {
				return ec, nil
			}
		}
	}

	jwt, err := b.Fetcher.GetEntityConfiguration(ctx, subject)
	if err != nil {
		return nil, err
	}
	ec, err := entity.Parse(ctx, jwt, b.Getter)
	if err != nil {
		return nil, err
	}

	if b.Cache != nil {
		_, _ = b.Cache.Store(ctx, entitycache.Info{
			Subject: subject, Issuer: subject,
			IssuedAt: ec.IssuedAt, Expiration: ec.Expiration, JWT: jwt,
		})
	}
	return ec, nil
}
