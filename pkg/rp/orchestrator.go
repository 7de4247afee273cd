package rp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"

	"github.com/giacgbj/spid-cie-oidc-go/internal/federr"
	"github.com/giacgbj/spid-cie-oidc-go/pkg/entity"
	"github.com/giacgbj/spid-cie-oidc-go/pkg/federation"
	"github.com/giacgbj/spid-cie-oidc-go/pkg/jose"
	"github.com/giacgbj/spid-cie-oidc-go/pkg/observability"
	"github.com/giacgbj/spid-cie-oidc-go/pkg/trustchain"
	"github.com/giacgbj/spid-cie-oidc-go/pkg/trustchainstore"
)

// Profile names and their default SPID/CIE ACR values.
const (
	ProfileSPID = "spid"
	ProfileCIE  = "cie"

	DefaultSPIDACR = "https://www.spid.gov.it/SpidL2"
	DefaultCIEACR  = "https://www.cie.gov.it/CieL2"

	DefaultScope  = "openid"
	DefaultPrompt = "consent login"
)

// Config is the operator-supplied configuration an Orchestrator
// consults. It carries no file/env loading logic of its own (that is
// pkg/config's job); callers hand in an already-validated value.
type Config struct {
	ClientID             string
	TrustAnchors         map[string]bool
	SpidProviders        map[string]string // provider subject -> default trust anchor
	CieProviders         map[string]string
	ACRValues            map[string]string // profile -> acr_values
	MaxPathLen           int
	MaxAuthorityHints    int
	RPMetadataTemplate   map[string]interface{} // application_type, client_name, contacts, grant_types, response_types, redirect_uris
	AuthorityHints       []string
	DefaultExpireMinutes int
	DefaultSignatureAlg  string
	ConfiguredJWKS       *gojose.JSONWebKeySet
	ConfiguredTrustMarks []entity.TrustMarkClaim
	// AllowedTrustMarks, when non-empty, makes trust mark verification
	// mandatory for the resolved provider during chain resolution.
	AllowedTrustMarks []entity.AllowedTrustMark
}

// Orchestrator is the top-level Relying Party API.
type Orchestrator struct {
	Config Config

	Fetcher     entity.Fetcher
	Getter      jose.URLGetter
	ChainBuilder *trustchain.Builder
	ChainStore   *trustchainstore.Store
	Federation   federation.Repository
	AuthRequests AuthRequestStore
}

// GetAuthorizeURL resolves provider/anchor into a trust chain, then
// assembles a signed OpenID Connect authorization request URL.
func (o *Orchestrator) GetAuthorizeURL(ctx context.Context, provider, trustAnchor, redirectURI, scope, profile, prompt string) (string, error) {
	if provider == "" {
		return "", federr.ErrMissingProvider
	}

	anchorSubject, profile, err := o.resolveProfileAndAnchorSubject(provider, trustAnchor, profile)
	if err != nil {
		return "", err
	}
	observability.AuthorizeRequestsTotal.WithLabelValues(profile).Inc()

	chain, err := o.resolveChain(ctx, provider, anchorSubject)
	if err != nil {
		return "", err
	}

	self, err := o.Federation.FetchSelf(ctx)
	if err != nil || !self.Active {
		return "", fmt.Errorf("%w: relying party has no active federation entity", federr.ErrMissingConfiguration)
	}

	authEndpoint, providerJWKS, err := providerAuthorizationEndpoint(ctx, chain, o.Getter)
	if err != nil {
		return "", err
	}

	finalRedirectURI := chooseRedirectURI(self.Metadata, redirectURI)
	responseType := firstConfiguredResponseType(self.Metadata)
	if scope == "" {
		scope = DefaultScope
	}
	if prompt == "" {
		prompt = DefaultPrompt
	}
	acrValues := o.acrValuesFor(profile)

	codeVerifier, codeChallenge, err := newPKCE()
	if err != nil {
		return "", fmt.Errorf("generating pkce pair: %w", err)
	}
	nonce, err := randomURLSafeString(16)
	if err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	state := uuid.NewString()

	params := map[string]interface{}{
		"client_id":             o.Config.ClientID,
		"response_type":         responseType,
		"scope":                 scope,
		"redirect_uri":          finalRedirectURI,
		"state":                 state,
		"nonce":                 nonce,
		"prompt":                prompt,
		"acr_values":            acrValues,
		"code_challenge":        codeChallenge,
		"code_challenge_method": "S256",
		"claims":                claimsForProfile(profile),
		"code_verifier":         codeVerifier,
	}

	if err := o.AuthRequests.Store(ctx, AuthRequest{
		State:       state,
		Provider:    provider,
		TrustAnchor: anchorSubject,
		Profile:     profile,
		ProviderJWKS: providerJWKS,
		Params:      params,
	}); err != nil {
		return "", err
	}

	requestObjectJWT, err := buildRequestObject(params, o.Config.ClientID, chain.Subject, authEndpoint, self.JWKS, self.DefaultSignatureAlg)
	if err != nil {
		return "", err
	}

	return assembleAuthorizeURL(authEndpoint, params, requestObjectJWT)
}

// resolveProfileAndAnchorSubject infers both profile and trust anchor
// from the configured provider maps when left empty, and validates the
// resolved trust anchor against the configured allow-list. It performs
// no network activity: the anchor's own Entity Configuration is only
// fetched, by resolveChain, when a trust chain actually needs building.
func (o *Orchestrator) resolveProfileAndAnchorSubject(provider, trustAnchor, profile string) (string, string, error) {
	if profile == "" {
		if _, ok := o.Config.SpidProviders[provider]; ok {
			profile = ProfileSPID
		} else if _, ok := o.Config.CieProviders[provider]; ok {
			profile = ProfileCIE
		} else {
			profile = ProfileSPID
		}
	}

	if trustAnchor == "" {
		if a, ok := o.Config.SpidProviders[provider]; ok {
			trustAnchor = a
		} else if a, ok := o.Config.CieProviders[provider]; ok {
			trustAnchor = a
		}
	}

	if !o.Config.TrustAnchors[trustAnchor] {
		return "", "", fmt.Errorf("%w: %s", federr.ErrInvalidTrustAnchor, trustAnchor)
	}

	return trustAnchor, profile, nil
}

// fetchAndValidateAnchor fetches and self-verifies the trust anchor's
// own Entity Configuration. Only called once resolveChain has determined
// a fresh chain build is actually required.
func (o *Orchestrator) fetchAndValidateAnchor(ctx context.Context, anchorSubject string) (*entity.Configuration, error) {
	anchorJWT, err := o.Fetcher.GetEntityConfiguration(ctx, anchorSubject)
	if err != nil {
		observability.EntityFetchTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: fetching trust anchor configuration: %s", federr.ErrFetchFailed, err)
	}
	observability.EntityFetchTotal.WithLabelValues("ok").Inc()

	anchor, err := entity.Parse(ctx, anchorJWT, o.Getter)
	if err != nil {
		return nil, err
	}
	if !anchor.ValidateItself() {
		return nil, fmt.Errorf("%w: trust anchor self-assertion does not verify", federr.ErrInvalidTrustAnchor)
	}

	return anchor, nil
}

// resolveChain looks up a cached, active, unexpired chain, otherwise
// fetches+validates the trust anchor and builds and stores a fresh one.
// A disabled chain on record is rejected before any network call is
// made.
func (o *Orchestrator) resolveChain(ctx context.Context, provider, anchorSubject string) (*trustchain.Chain, error) {
	key := trustchainstore.Key{Subject: provider, TrustAnchor: anchorSubject, MetadataType: entity.MetadataOpenIDProvider}

	record, err := o.ChainStore.Fetch(ctx, key)
	switch {
	case err == nil && !record.Active:
		return nil, fmt.Errorf("%w: disabled since %s", federr.ErrTrustChainDisabled, record.ModifiedAt.Format(time.RFC3339))
	case err == nil && !record.IsExpired():
		return &record.Chain, nil
	}

	anchor, err := o.fetchAndValidateAnchor(ctx, anchorSubject)
	if err != nil {
		return nil, err
	}

	o.ChainBuilder.AllowedTrustMarks = o.Config.AllowedTrustMarks

	start := time.Now()
	chain, buildErr := o.ChainBuilder.Build(ctx, provider, anchor, entity.MetadataOpenIDProvider)
	observability.TrustChainBuildDuration.WithLabelValues().Observe(time.Since(start).Seconds())
	if buildErr != nil {
		observability.TrustChainBuildTotal.WithLabelValues(trustchain.StatusInvalid).Inc()
		return nil, buildErr
	}
	observability.TrustChainBuildTotal.WithLabelValues(chain.Status).Inc()

	stored, err := o.ChainStore.Store(ctx, *chain)
	if err != nil {
		return nil, err
	}
	return &stored.Chain, nil
}

func (o *Orchestrator) acrValuesFor(profile string) string {
	if v, ok := o.Config.ACRValues[profile]; ok && v != "" {
		return v
	}
	if profile == ProfileCIE {
		return DefaultCIEACR
	}
	return DefaultSPIDACR
}

func providerAuthorizationEndpoint(ctx context.Context, chain *trustchain.Chain, getter jose.URLGetter) (string, gojose.JSONWebKeySet, error) {
	endpoint, _ := chain.FinalMetadata["authorization_endpoint"].(string)
	if endpoint == "" {
		return "", gojose.JSONWebKeySet{}, fmt.Errorf("%w: provider metadata has no authorization_endpoint", federr.ErrMissingMetadata)
	}
	jwks, err := jose.ExtractJWKSFromMetadata(ctx, chain.FinalMetadata, getter)
	if err != nil {
		return "", gojose.JSONWebKeySet{}, err
	}
	return endpoint, *jwks, nil
}

func chooseRedirectURI(rpMetadata map[string]interface{}, requested string) string {
	configured := stringSlice(rpMetadata["redirect_uris"])
	if len(configured) == 0 {
		return requested
	}
	for _, u := range configured {
		if u == requested {
			return requested
		}
	}
	if requested != "" {
		slog.Warn("requested redirect_uri not in configured redirect_uris, falling back to first", "requested", requested, "fallback", configured[0])
	}
	return configured[0]
}

func firstConfiguredResponseType(rpMetadata map[string]interface{}) string {
	types := stringSlice(rpMetadata["response_types"])
	if len(types) == 0 {
		return "code"
	}
	return types[0]
}

func stringSlice(v interface{}) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// claimsForProfile builds the requested-claims object for the given
// profile. SPID requires familyName and email as essential id_token
// claims and requests a broader set for userinfo; CIE follows the same
// shape pending a distinct profile definition.
func claimsForProfile(profile string) map[string]interface{} {
	return map[string]interface{}{
		"id_token": map[string]interface{}{
			"familyName": map[string]interface{}{"essential": true},
			"email":      map[string]interface{}{"essential": true},
		},
		"userinfo": map[string]interface{}{
			"name":          map[string]interface{}{},
			"familyName":    map[string]interface{}{},
			"email":         map[string]interface{}{},
			"fiscalNumber":  map[string]interface{}{},
		},
	}
}

// buildRequestObject signs the authorization parameter set (minus
// code_verifier) as a Request Object under the Relying Party's own keys.
func buildRequestObject(params map[string]interface{}, clientID, providerSubject, authEndpoint string, jwks gojose.JSONWebKeySet, alg string) (string, error) {
	payload := make(map[string]interface{}, len(params)+4)
	for k, v := range params {
		if k == "code_verifier" {
			continue
		}
		payload[k] = v
	}
	payload["iss"] = clientID
	payload["sub"] = clientID
	payload["iat"] = time.Now().Unix()
	payload["aud"] = []string{providerSubject, authEndpoint}

	return jose.Sign(payload, &jwks, gojose.SignatureAlgorithm(alg), "oauth-authz-req+jwt")
}

// assembleAuthorizeURL builds the final authorize URL, duplicating every
// parameter (minus code_verifier) on the query string alongside the
// signed Request Object for provider compatibility.
func assembleAuthorizeURL(authEndpoint string, params map[string]interface{}, requestObjectJWT string) (string, error) {
	values := url.Values{}
	for k, v := range params {
		if k == "code_verifier" {
			continue
		}
		switch vv := v.(type) {
		case string:
			values.Set(k, vv)
		default:
			encoded, err := json.Marshal(vv)
			if err != nil {
				return "", fmt.Errorf("encoding parameter %q: %w", k, err)
			}
			values.Set(k, string(encoded))
		}
	}
	values.Set("request", requestObjectJWT)

	separator := "?"
	if strings.Contains(authEndpoint, "?") {
		separator = "&"
	}
	return authEndpoint + separator + values.Encode(), nil
}
