package jose

import (
	"context"
	"encoding/json"
	"fmt"

	gojose "github.com/go-jose/go-jose/v4"

	"github.com/giacgbj/spid-cie-oidc-go/internal/federr"
)

// URLGetter retrieves the body of a GET request. It is satisfied by
// fetch.Client so this package does not need to import it directly.
type URLGetter interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// ExtractJWKSFromMetadata returns the JWK set embedded in a federation
// metadata block, either inline under "jwks" or by dereferencing
// "jwks_uri" via getter. Fails with ErrJwksUnavailable if neither key is
// present or the jwks_uri fetch fails.
func ExtractJWKSFromMetadata(ctx context.Context, metadata map[string]interface{}, getter URLGetter) (*gojose.JSONWebKeySet, error) {
	if inline, ok := metadata["jwks"]; ok {
		raw, err := json.Marshal(inline)
		if err != nil {
			return nil, fmt.Errorf("%w: marshaling inline jwks: %s", federr.ErrParseError, err)
		}
		return ParseJWKSet(raw)
	}

	uri, ok := metadata["jwks_uri"].(string)
	if !ok || uri == "" {
		return nil, fmt.Errorf("%w: metadata has neither jwks nor jwks_uri", federr.ErrJwksUnavailable)
	}

	if getter == nil {
		return nil, fmt.Errorf("%w: no getter configured to resolve jwks_uri", federr.ErrJwksUnavailable)
	}

	body, err := getter.Get(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching jwks_uri %s: %s", federr.ErrJwksUnavailable, uri, err)
	}

	set, err := ParseJWKSet(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", federr.ErrJwksUnavailable, err)
	}
	return set, nil
}
