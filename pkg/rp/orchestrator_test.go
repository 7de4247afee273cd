package rp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	gojose "github.com/go-jose/go-jose/v4"

	"github.com/giacgbj/spid-cie-oidc-go/internal/federr"
	"github.com/giacgbj/spid-cie-oidc-go/pkg/entity"
	"github.com/giacgbj/spid-cie-oidc-go/pkg/federation"
	femem "github.com/giacgbj/spid-cie-oidc-go/pkg/federation/memory"
	rpjose "github.com/giacgbj/spid-cie-oidc-go/pkg/jose"
	"github.com/giacgbj/spid-cie-oidc-go/pkg/trustchain"
	"github.com/giacgbj/spid-cie-oidc-go/pkg/trustchainstore"
	tcsmem "github.com/giacgbj/spid-cie-oidc-go/pkg/trustchainstore/memory"
)

type fakeFetcher struct {
	configs    map[string]string
	statements map[string]string
}

func (f *fakeFetcher) GetEntityConfiguration(_ context.Context, subjectURL string) (string, error) {
	if jwt, ok := f.configs[subjectURL]; ok {
		return jwt, nil
	}
	return "", fmt.Errorf("no configuration for %s", subjectURL)
}

func (f *fakeFetcher) GetEntityStatement(_ context.Context, fetchEndpoint, subject string) (string, error) {
	if jwt, ok := f.statements[fetchEndpoint+"|"+subject]; ok {
		return jwt, nil
	}
	return "", fmt.Errorf("no statement at %s for %s", fetchEndpoint, subject)
}

type keyPair struct {
	set *gojose.JSONWebKeySet
}

func mustKeyPair(t *testing.T) keyPair {
	t.Helper()
	jwk, err := rpjose.GenerateRSAKey()
	if err != nil {
		t.Fatalf("GenerateRSAKey() error = %v", err)
	}
	return keyPair{set: &gojose.JSONWebKeySet{Keys: []gojose.JSONWebKey{jwk}}}
}

func sign(t *testing.T, kp keyPair, payload map[string]interface{}) string {
	t.Helper()
	compact, err := rpjose.Sign(payload, kp.set, "", "")
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	return compact
}

// fixture builds a two-level trust chain (idp -> ta) plus a populated
// federation self-record, and returns an Orchestrator ready to call
// GetAuthorizeURL against it.
func fixture(t *testing.T) *Orchestrator {
	t.Helper()
	o, _ := fixtureWithChainAdapter(t)
	return o
}

// fixtureWithChainAdapter is fixture, additionally returning the
// in-memory trust chain adapter so a test can seed a Record directly
// (bypassing Store's active-flag-preserving upsert) before calling
// GetAuthorizeURL.
func fixtureWithChainAdapter(t *testing.T) (*Orchestrator, *tcsmem.Store) {
	t.Helper()
	anchorKey := mustKeyPair(t)
	idpKey := mustKeyPair(t)
	rpKey := mustKeyPair(t)

	anchorJWT := sign(t, anchorKey, map[string]interface{}{
		"iss": "https://ta.example", "sub": "https://ta.example",
		"iat": 1000, "exp": 1000000, "jwks": anchorKey.set,
		"metadata": map[string]interface{}{
			"federation_entity": map[string]interface{}{
				"federation_fetch_endpoint": "https://ta.example/fetch",
			},
		},
	})

	idpJWT := sign(t, idpKey, map[string]interface{}{
		"iss": "https://idp.example", "sub": "https://idp.example",
		"iat": 1000, "exp": 500000, "jwks": idpKey.set,
		"authority_hints": []string{"https://ta.example"},
		"metadata": map[string]interface{}{
			"openid_provider": map[string]interface{}{
				"issuer":                 "https://idp.example",
				"authorization_endpoint": "https://idp.example/authorize",
				"jwks":                   idpKey.set,
			},
		},
	})

	descendantStatement := sign(t, anchorKey, map[string]interface{}{
		"iss": "https://ta.example", "sub": "https://idp.example",
		"iat": 1000, "exp": 200000, "jwks": idpKey.set,
	})

	fetcher := &fakeFetcher{
		configs: map[string]string{
			"https://idp.example": idpJWT,
			"https://ta.example":  anchorJWT,
		},
		statements: map[string]string{
			"https://ta.example/fetch|https://idp.example": descendantStatement,
		},
	}

	femRepo := femem.New()
	if err := femRepo.StoreSelf(context.Background(), federation.Entity{
		Subject: "https://rp.example",
		JWKS:    *rpKey.set,
		Metadata: map[string]interface{}{
			"client_id":     "https://rp.example",
			"redirect_uris": []string{"https://rp.example/cb"},
			"response_types": []string{"code"},
		},
		DefaultSignatureAlg: string(gojose.RS256),
		Active:              true,
	}); err != nil {
		t.Fatalf("StoreSelf() error = %v", err)
	}

	chainAdapter := tcsmem.New()

	return &Orchestrator{
		Config: Config{
			ClientID:     "https://rp.example",
			TrustAnchors: map[string]bool{"https://ta.example": true},
			SpidProviders: map[string]string{
				"https://idp.example": "https://ta.example",
			},
			DefaultSignatureAlg: string(gojose.RS256),
		},
		Fetcher:      fetcher,
		Getter:       nil,
		ChainBuilder: &trustchain.Builder{Fetcher: fetcher},
		ChainStore:   trustchainstore.New(chainAdapter),
		Federation:   femRepo,
		AuthRequests: NewMemoryAuthRequestStore(),
	}, chainAdapter
}

func TestGetAuthorizeURL_ColdAuthorizeSPIDProfile(t *testing.T) {
	o := fixture(t)

	authURL, err := o.GetAuthorizeURL(context.Background(), "https://idp.example", "", "https://rp.example/cb", "", "", "")
	if err != nil {
		t.Fatalf("GetAuthorizeURL() error = %v", err)
	}

	if !strings.HasPrefix(authURL, "https://idp.example/authorize?") {
		t.Errorf("authURL = %q, want prefix https://idp.example/authorize?", authURL)
	}
	for _, want := range []string{
		"client_id=https%3A%2F%2Frp.example",
		"scope=openid",
		"acr_values=" + strings.ReplaceAll(strings.ReplaceAll(DefaultSPIDACR, ":", "%3A"), "/", "%2F"),
		"request=",
	} {
		if !strings.Contains(authURL, want) {
			t.Errorf("authURL missing %q: %s", want, authURL)
		}
	}
	if !strings.Contains(authURL, "prompt=consent") {
		t.Errorf("authURL missing prompt parameter: %s", authURL)
	}
}

func TestGetAuthorizeURL_InvalidAnchorRejectedNoTraffic(t *testing.T) {
	o := fixture(t)
	o.Fetcher = &fakeFetcher{} // no configs: any fetch attempt fails the test via error

	_, err := o.GetAuthorizeURL(context.Background(), "https://idp.example", "https://evil.example", "https://rp.example/cb", "", "", "")
	if !errors.Is(err, federr.ErrInvalidTrustAnchor) {
		t.Fatalf("err = %v, want ErrInvalidTrustAnchor", err)
	}
}

func TestGetAuthorizeURL_MissingProvider(t *testing.T) {
	o := fixture(t)
	_, err := o.GetAuthorizeURL(context.Background(), "", "https://ta.example", "https://rp.example/cb", "", "", "")
	if !errors.Is(err, federr.ErrMissingProvider) {
		t.Fatalf("err = %v, want ErrMissingProvider", err)
	}
}

func TestGetAuthorizeURL_RedirectURIFallsBackWhenNotConfigured(t *testing.T) {
	o := fixture(t)
	authURL, err := o.GetAuthorizeURL(context.Background(), "https://idp.example", "", "https://unconfigured.example/cb", "", "", "")
	if err != nil {
		t.Fatalf("GetAuthorizeURL() error = %v", err)
	}
	if !strings.Contains(authURL, "redirect_uri=https%3A%2F%2Frp.example%2Fcb") {
		t.Errorf("expected fallback to the only configured redirect_uri, got %s", authURL)
	}
}

func TestGetAuthorizeURL_MissingConfigurationWhenSelfInactive(t *testing.T) {
	o := fixture(t)
	femRepo := femem.New()
	o.Federation = femRepo

	_, err := o.GetAuthorizeURL(context.Background(), "https://idp.example", "", "https://rp.example/cb", "", "", "")
	if !errors.Is(err, federr.ErrMissingConfiguration) {
		t.Fatalf("err = %v, want ErrMissingConfiguration", err)
	}
}

func TestGetWellKnownData_MismatchedSubject(t *testing.T) {
	o := fixture(t)
	_, err := o.GetWellKnownData(context.Background(), "https://other.example/.well-known/openid-federation", true)
	if !errors.Is(err, federr.ErrMismatchedSubject) {
		t.Fatalf("err = %v, want ErrMismatchedSubject", err)
	}
}

func TestGetWellKnownData_OnboardingNoKeyReturnsOnlyJWKS(t *testing.T) {
	o := fixture(t)
	o.Federation = femem.New()
	o.Config.ConfiguredJWKS = nil

	result, err := o.GetWellKnownData(context.Background(), "https://rp.example/.well-known/openid-federation", true)
	if err != nil {
		t.Fatalf("GetWellKnownData() error = %v", err)
	}
	if result.Step != federation.StepOnlyJWKS {
		t.Fatalf("Step = %q, want %q", result.Step, federation.StepOnlyJWKS)
	}
	if len(result.JSON) == 0 {
		t.Fatalf("expected a JSON public key body")
	}
}

func TestGetWellKnownData_AlreadyOnboardedReturnsJWT(t *testing.T) {
	o := fixture(t)
	result, err := o.GetWellKnownData(context.Background(), "https://rp.example/.well-known/openid-federation", false)
	if err != nil {
		t.Fatalf("GetWellKnownData() error = %v", err)
	}
	if result.Step != federation.StepComplete {
		t.Fatalf("Step = %q, want %q", result.Step, federation.StepComplete)
	}
	if result.JWT == "" {
		t.Fatalf("expected a compact JWT self-assertion")
	}
}

func TestGetAuthorizeURL_ExpiredChainTriggersRebuild(t *testing.T) {
	o, chainAdapter := fixtureWithChainAdapter(t)
	ctx := context.Background()

	key := trustchainstore.Key{Subject: "https://idp.example", TrustAnchor: "https://ta.example", MetadataType: entity.MetadataOpenIDProvider}
	stale := trustchain.Chain{
		Subject: key.Subject, TrustAnchor: key.TrustAnchor, MetadataType: key.MetadataType,
		JWTs: []string{"stale"}, Expiration: 1, Status: trustchain.StatusValid,
	}
	if _, err := chainAdapter.StoreTrustChain(ctx, trustchainstore.Record{Chain: stale, Active: true}); err != nil {
		t.Fatalf("seeding expired record: %v", err)
	}

	authURL, err := o.GetAuthorizeURL(ctx, "https://idp.example", "", "https://rp.example/cb", "", "", "")
	if err != nil {
		t.Fatalf("GetAuthorizeURL() error = %v", err)
	}
	if !strings.HasPrefix(authURL, "https://idp.example/authorize?") {
		t.Errorf("authURL = %q, want a freshly built chain's authorize endpoint", authURL)
	}

	rebuilt, err := o.ChainStore.Fetch(ctx, key)
	if err != nil {
		t.Fatalf("Fetch() after rebuild error = %v", err)
	}
	if len(rebuilt.Chain.JWTs) == 1 && rebuilt.Chain.JWTs[0] == "stale" {
		t.Error("expected the expired chain to have been rebuilt, found the stale record")
	}
}

func TestGetAuthorizeURL_DisabledChainRejectedNoRebuild(t *testing.T) {
	o, chainAdapter := fixtureWithChainAdapter(t)
	o.Fetcher = &fakeFetcher{} // no configs: any fetch attempt fails the test via error
	ctx := context.Background()

	key := trustchainstore.Key{Subject: "https://idp.example", TrustAnchor: "https://ta.example", MetadataType: entity.MetadataOpenIDProvider}
	disabled := trustchain.Chain{
		Subject: key.Subject, TrustAnchor: key.TrustAnchor, MetadataType: key.MetadataType,
		JWTs: []string{"disabled"}, Expiration: 1, Status: trustchain.StatusValid,
	}
	if _, err := chainAdapter.StoreTrustChain(ctx, trustchainstore.Record{Chain: disabled, Active: false}); err != nil {
		t.Fatalf("seeding disabled record: %v", err)
	}

	_, err := o.GetAuthorizeURL(ctx, "https://idp.example", "", "https://rp.example/cb", "", "", "")
	if !errors.Is(err, federr.ErrTrustChainDisabled) {
		t.Fatalf("err = %v, want ErrTrustChainDisabled", err)
	}
}

func TestGetAuthorizeURL_StateUniquenessAcrossSuccessiveCalls(t *testing.T) {
	o := fixture(t)
	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		authURL, err := o.GetAuthorizeURL(context.Background(), "https://idp.example", "", "https://rp.example/cb", "", "", "")
		if err != nil {
			t.Fatalf("GetAuthorizeURL() error = %v", err)
		}
		idx := strings.Index(authURL, "state=")
		if idx < 0 {
			t.Fatalf("authURL missing state parameter: %s", authURL)
		}
		if seen[authURL[idx:idx+40]] {
			t.Fatalf("duplicate state observed across calls")
		}
		seen[authURL[idx:idx+40]] = true
	}
}
