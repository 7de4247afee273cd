package federation_test

import (
	"context"
	"encoding/json"
	"testing"

	gojose "github.com/go-jose/go-jose/v4"

	"github.com/giacgbj/spid-cie-oidc-go/pkg/entity"
	"github.com/giacgbj/spid-cie-oidc-go/pkg/federation"
	"github.com/giacgbj/spid-cie-oidc-go/pkg/federation/memory"
	"github.com/giacgbj/spid-cie-oidc-go/pkg/jose"
)

func baseConfig() federation.Config {
	return federation.Config{
		Subject: "https://rp.example",
		RPMetadata: map[string]interface{}{
			"application_type": "web",
			"client_name":      "Example Relying Party",
			"redirect_uris":    []string{"https://rp.example/callback"},
		},
		AuthorityHints:       []string{"https://intermediate.example"},
		DefaultExpireMinutes: 60,
		DefaultSignatureAlg:  string(gojose.RS256),
	}
}

func TestOnboard_NoKeysReturnsOnlyJWKS(t *testing.T) {
	repo := memory.New()
	result, err := federation.Onboard(context.Background(), repo, baseConfig(), false)
	if err != nil {
		t.Fatalf("Onboard() error = %v", err)
	}
	if result.Step != federation.StepOnlyJWKS {
		t.Fatalf("Step = %q, want %q", result.Step, federation.StepOnlyJWKS)
	}
	if result.PublicJWKS == nil || len(result.PublicJWKS.Keys) != 1 {
		t.Fatalf("expected exactly one generated public key")
	}
	if result.PublicJWKS.Keys[0].IsPublic() == false {
		t.Errorf("generated key set must not leak private material")
	}
}

func TestOnboard_KeysWithoutTrustMarksIsIntermediateAndUnpersisted(t *testing.T) {
	repo := memory.New()
	jwk, err := jose.GenerateRSAKey()
	if err != nil {
		t.Fatalf("GenerateRSAKey() error = %v", err)
	}
	cfg := baseConfig()
	cfg.ConfiguredJWKS = &gojose.JSONWebKeySet{Keys: []gojose.JSONWebKey{jwk}}

	result, err := federation.Onboard(context.Background(), repo, cfg, false)
	if err != nil {
		t.Fatalf("Onboard() error = %v", err)
	}
	if result.Step != federation.StepIntermediate {
		t.Fatalf("Step = %q, want %q", result.Step, federation.StepIntermediate)
	}
	if result.SelfAssertionJWT == "" {
		t.Fatalf("expected a self-assertion JWT")
	}
	if _, err := repo.FetchSelf(context.Background()); err == nil {
		t.Errorf("expected the intermediate step to leave nothing persisted")
	}
}

func TestOnboard_KeysAndTrustMarksPersistsAndCompletes(t *testing.T) {
	repo := memory.New()
	jwk, err := jose.GenerateRSAKey()
	if err != nil {
		t.Fatalf("GenerateRSAKey() error = %v", err)
	}
	cfg := baseConfig()
	cfg.ConfiguredJWKS = &gojose.JSONWebKeySet{Keys: []gojose.JSONWebKey{jwk}}
	cfg.ConfiguredTrustMarks = []entity.TrustMarkClaim{{ID: "https://registry.example/accredited", TrustMark: "fake.jwt.here"}}

	result, err := federation.Onboard(context.Background(), repo, cfg, false)
	if err != nil {
		t.Fatalf("Onboard() error = %v", err)
	}
	if result.Step != federation.StepComplete {
		t.Fatalf("Step = %q, want %q", result.Step, federation.StepComplete)
	}

	stored, err := repo.FetchSelf(context.Background())
	if err != nil {
		t.Fatalf("FetchSelf() error = %v", err)
	}
	if !stored.Active {
		t.Errorf("expected persisted self-record to be active")
	}

	payload, err := jose.Verify(result.SelfAssertionJWT, &gojose.JSONWebKeySet{Keys: []gojose.JSONWebKey{jwk.Public()}})
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	var decoded struct {
		Sub        string                   `json:"sub"`
		TrustMarks []entity.TrustMarkClaim  `json:"trust_marks"`
		Metadata   map[string]interface{}   `json:"metadata"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if decoded.Sub != cfg.Subject {
		t.Errorf("sub = %q, want %q", decoded.Sub, cfg.Subject)
	}
	if len(decoded.TrustMarks) != 1 {
		t.Errorf("len(trust_marks) = %d, want 1", len(decoded.TrustMarks))
	}
	rpMeta, ok := decoded.Metadata[entity.MetadataOpenIDRelyingParty].(map[string]interface{})
	if !ok {
		t.Fatalf("missing openid_relying_party metadata block")
	}
	if rpMeta["client_id"] != cfg.Subject {
		t.Errorf("client_id = %v, want %q", rpMeta["client_id"], cfg.Subject)
	}
}

func TestOnboard_ActivePersistedEntityIsReportedWithoutRebuilding(t *testing.T) {
	repo := memory.New()
	jwk, err := jose.GenerateRSAKey()
	if err != nil {
		t.Fatalf("GenerateRSAKey() error = %v", err)
	}
	existing := federation.Entity{
		Subject:              "https://rp.example",
		JWKS:                 gojose.JSONWebKeySet{Keys: []gojose.JSONWebKey{jwk}},
		Metadata:             map[string]interface{}{"client_id": "https://rp.example"},
		DefaultExpireMinutes: 60,
		DefaultSignatureAlg:  string(gojose.RS256),
		Active:               true,
	}
	if err := repo.StoreSelf(context.Background(), existing); err != nil {
		t.Fatalf("StoreSelf() error = %v", err)
	}

	result, err := federation.Onboard(context.Background(), repo, baseConfig(), false)
	if err != nil {
		t.Fatalf("Onboard() error = %v", err)
	}
	if result.Step != federation.StepComplete {
		t.Fatalf("Step = %q, want %q", result.Step, federation.StepComplete)
	}
	if result.SelfAssertionJWT == "" {
		t.Fatalf("expected a self-assertion JWT for the already-onboarded entity")
	}
}

func TestOnboard_JSONModeReturnsUnsignedPayload(t *testing.T) {
	repo := memory.New()
	jwk, err := jose.GenerateRSAKey()
	if err != nil {
		t.Fatalf("GenerateRSAKey() error = %v", err)
	}
	cfg := baseConfig()
	cfg.ConfiguredJWKS = &gojose.JSONWebKeySet{Keys: []gojose.JSONWebKey{jwk}}

	result, err := federation.Onboard(context.Background(), repo, cfg, true)
	if err != nil {
		t.Fatalf("Onboard() error = %v", err)
	}
	if len(result.SelfAssertionJSON) == 0 {
		t.Fatalf("expected pretty JSON payload")
	}
	if result.SelfAssertionJWT != "" {
		t.Errorf("did not expect a compact JWT in json mode")
	}
}
