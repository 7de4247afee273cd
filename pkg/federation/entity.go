package federation

import (
	"context"
	"errors"

	gojose "github.com/go-jose/go-jose/v4"

	"github.com/giacgbj/spid-cie-oidc-go/pkg/entity"
)

// ErrNotFound is returned by a Repository when no self-record has been
// persisted yet.
var ErrNotFound = errors.New("federation: self record not found")

// Entity is the Relying Party's own published identity.
type Entity struct {
	Subject              string
	JWKS                 gojose.JSONWebKeySet // includes private material
	Metadata             map[string]interface{}
	AuthorityHints       []string
	TrustMarks           []entity.TrustMarkClaim
	TrustMarkIssuers     map[string][]string
	Constraints          map[string]interface{}
	EntityType           string
	DefaultExpireMinutes int
	DefaultSignatureAlg  string
	Active               bool
}

// Repository persists the single self Entity record.
type Repository interface {
	FetchSelf(ctx context.Context) (Entity, error)
	StoreSelf(ctx context.Context, e Entity) error
}
