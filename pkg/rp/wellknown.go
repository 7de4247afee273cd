package rp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	gojose "github.com/go-jose/go-jose/v4"

	"github.com/giacgbj/spid-cie-oidc-go/internal/federr"
	"github.com/giacgbj/spid-cie-oidc-go/pkg/federation"
)

const wellKnownSuffix = "/.well-known/openid-federation"

// WellKnownResult is what GetWellKnownData returns: either a completed
// onboarding self-assertion, or an intermediate onboarding artifact
// (e.g. a bare public JWK set while STEP_ONLY_JWKS).
type WellKnownResult struct {
	Step              string
	JSON              []byte // set in jsonMode, or for STEP_ONLY_JWKS regardless of jsonMode
	JWT               string // set for STEP_INTERMEDIATE/STEP_COMPLETE when jsonMode is false
	ContentTypeIsJSON bool
}

// GetWellKnownData serves the Relying Party's own well-known document,
// deriving its subject from requestURL and delegating to the onboarding
// state machine.
func (o *Orchestrator) GetWellKnownData(ctx context.Context, requestURL string, jsonMode bool) (*WellKnownResult, error) {
	sub, _ := strings.CutSuffix(requestURL, wellKnownSuffix)
	if sub != o.Config.ClientID {
		return nil, fmt.Errorf("%w: %s != %s", federr.ErrMismatchedSubject, sub, o.Config.ClientID)
	}

	result, err := federation.Onboard(ctx, o.Federation, federation.Config{
		Subject:              o.Config.ClientID,
		RPMetadata:           o.Config.RPMetadataTemplate,
		AuthorityHints:       o.Config.AuthorityHints,
		DefaultExpireMinutes: o.Config.DefaultExpireMinutes,
		DefaultSignatureAlg:  o.Config.DefaultSignatureAlg,
		ConfiguredJWKS:       o.Config.ConfiguredJWKS,
		ConfiguredTrustMarks: o.Config.ConfiguredTrustMarks,
	}, jsonMode)
	if err != nil {
		return nil, err
	}

	out := &WellKnownResult{Step: result.Step}
	switch {
	case result.PublicJWKS != nil:
		pretty, marshalErr := marshalJWKSet(result.PublicJWKS)
		if marshalErr != nil {
			return nil, marshalErr
		}
		out.JSON = pretty
		out.ContentTypeIsJSON = true
	case jsonMode:
		out.JSON = result.SelfAssertionJSON
		out.ContentTypeIsJSON = true
	default:
		out.JWT = result.SelfAssertionJWT
	}

	return out, nil
}

func marshalJWKSet(jwks *gojose.JSONWebKeySet) ([]byte, error) {
	return json.MarshalIndent(jwks, "", "  ")
}
