package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gojose "github.com/go-jose/go-jose/v4"

	"github.com/giacgbj/spid-cie-oidc-go/pkg/entity"
	"github.com/giacgbj/spid-cie-oidc-go/pkg/jose"
)

// Onboarding state names, per the three-step progression: key
// generation, an unpersisted self-assertion awaiting trust marks, and a
// persisted, fully onboarded entity.
const (
	StepOnlyJWKS     = "STEP_ONLY_JWKS"
	StepIntermediate = "STEP_INTERMEDIATE"
	StepComplete     = "STEP_COMPLETE"
)

// Config carries operator-supplied configuration consulted at each
// onboarding step.
type Config struct {
	Subject              string
	RPMetadata           map[string]interface{} // application_type, client_name, contacts, grant_types, response_types, redirect_uris
	AuthorityHints       []string
	DefaultExpireMinutes int
	DefaultSignatureAlg  string
	ConfiguredJWKS       *gojose.JSONWebKeySet
	ConfiguredTrustMarks []entity.TrustMarkClaim
}

// Result is the outcome of one Onboard call.
type Result struct {
	Step              string
	PublicJWKS        *gojose.JSONWebKeySet // set only at StepOnlyJWKS
	SelfAssertionJWT  string                 // set at StepIntermediate/StepComplete
	SelfAssertionJSON []byte                 // set when the caller requested pretty JSON
}

// Onboard advances (or reports) the onboarding state machine for the
// Relying Party's own identity. It never regresses a previously
// completed, active self-record.
func Onboard(ctx context.Context, repo Repository, cfg Config, jsonMode bool) (*Result, error) {
	existing, err := repo.FetchSelf(ctx)
	if err == nil && existing.Active {
		return publish(existing, jsonMode, StepComplete)
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("fetching self federation entity: %w", err)
	}

	if cfg.ConfiguredJWKS == nil || len(cfg.ConfiguredJWKS.Keys) == 0 {
		jwk, err := jose.GenerateRSAKey()
		if err != nil {
			return nil, fmt.Errorf("generating onboarding key: %w", err)
		}
		public := jose.PublicSet(&gojose.JSONWebKeySet{Keys: []gojose.JSONWebKey{jwk}})
		return &Result{Step: StepOnlyJWKS, PublicJWKS: &public}, nil
	}

	candidate := Entity{
		Subject:              cfg.Subject,
		JWKS:                 *cfg.ConfiguredJWKS,
		Metadata:             buildRPMetadata(cfg),
		AuthorityHints:       cfg.AuthorityHints,
		TrustMarks:           cfg.ConfiguredTrustMarks,
		EntityType:           entity.MetadataOpenIDRelyingParty,
		DefaultExpireMinutes: cfg.DefaultExpireMinutes,
		DefaultSignatureAlg:  cfg.DefaultSignatureAlg,
		Active:               true,
	}

	if len(cfg.ConfiguredTrustMarks) == 0 {
		return publish(candidate, jsonMode, StepIntermediate)
	}

	if err := repo.StoreSelf(ctx, candidate); err != nil {
		return nil, fmt.Errorf("persisting self federation entity: %w", err)
	}
	return publish(candidate, jsonMode, StepComplete)
}

func buildRPMetadata(cfg Config) map[string]interface{} {
	metadata := make(map[string]interface{}, len(cfg.RPMetadata)+2)
	for k, v := range cfg.RPMetadata {
		metadata[k] = v
	}
	metadata["client_id"] = cfg.Subject
	metadata["client_registration_types"] = []string{"automatic"}
	return metadata
}

func publish(e Entity, jsonMode bool, step string) (*Result, error) {
	payload := selfAssertionPayload(e)

	result := &Result{Step: step}
	if jsonMode {
		pretty, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshaling self-assertion json: %w", err)
		}
		result.SelfAssertionJSON = pretty
		return result, nil
	}

	alg := gojose.SignatureAlgorithm(e.DefaultSignatureAlg)
	jwt, err := jose.Sign(payload, &e.JWKS, alg, "entity-statement+jwt")
	if err != nil {
		return nil, fmt.Errorf("signing self-assertion: %w", err)
	}
	result.SelfAssertionJWT = jwt
	return result, nil
}

func selfAssertionPayload(e Entity) map[string]interface{} {
	now := time.Now().Unix()
	payload := map[string]interface{}{
		"iss":  e.Subject,
		"sub":  e.Subject,
		"iat":  now,
		"exp":  now + int64(e.DefaultExpireMinutes)*60,
		"jwks": jose.PublicSet(&e.JWKS),
		"metadata": map[string]interface{}{
			entity.MetadataOpenIDRelyingParty: e.Metadata,
		},
		"authority_hints": e.AuthorityHints,
	}
	if len(e.TrustMarks) > 0 {
		payload["trust_marks"] = e.TrustMarks
	}
	return payload
}
