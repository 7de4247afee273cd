package rp

import (
	"context"
	"errors"
	"sync"

	gojose "github.com/go-jose/go-jose/v4"

	"github.com/giacgbj/spid-cie-oidc-go/internal/federr"
)

// AuthRequest is the record persisted for one in-flight authorization
// attempt, keyed by its state parameter.
type AuthRequest struct {
	State            string
	Provider         string
	TrustAnchor      string
	Profile          string
	ProviderJWKS     gojose.JSONWebKeySet
	Params           map[string]interface{} // the full request parameter set, including code_verifier
	AuthorizationURL string
}

// AuthRequestStore persists AuthRequest records, refusing to silently
// overwrite an existing state.
type AuthRequestStore interface {
	Store(ctx context.Context, req AuthRequest) error
	Fetch(ctx context.Context, state string) (AuthRequest, error)
}

// ErrNotFound is returned when no auth-request record exists for a
// given state.
var ErrNotFound = errors.New("rp: auth request not found")

// MemoryAuthRequestStore is an in-process AuthRequestStore, primarily
// for tests and single-process demo deployments.
type MemoryAuthRequestStore struct {
	mu       sync.Mutex
	requests map[string]AuthRequest
}

var _ AuthRequestStore = (*MemoryAuthRequestStore)(nil)

// NewMemoryAuthRequestStore returns an empty MemoryAuthRequestStore.
func NewMemoryAuthRequestStore() *MemoryAuthRequestStore {
	return &MemoryAuthRequestStore{requests: make(map[string]AuthRequest)}
}

// Store implements AuthRequestStore. A collision with an existing state
// fails with federr.ErrConflictingState.
func (s *MemoryAuthRequestStore) Store(ctx context.Context, req AuthRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[req.State]; exists {
		return federr.ErrConflictingState
	}
	s.requests[req.State] = req
	return nil
}

// Fetch implements AuthRequestStore.
func (s *MemoryAuthRequestStore) Fetch(ctx context.Context, state string) (AuthRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[state]
	if !ok {
		return AuthRequest{}, ErrNotFound
	}
	return req, nil
}
