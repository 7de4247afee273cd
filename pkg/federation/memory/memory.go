// Package memory provides an in-process Repository for the Relying
// Party's own federation self-record, primarily useful for tests and
// single-process demo deployments.
package memory

import (
	"context"
	"sync"

	"github.com/giacgbj/spid-cie-oidc-go/pkg/federation"
)

// Store is a mutex-guarded single-slot Repository.
type Store struct {
	mu   sync.RWMutex
	self *federation.Entity
}

var _ federation.Repository = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{}
}

// FetchSelf implements federation.Repository.
func (s *Store) FetchSelf(ctx context.Context) (federation.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.self == nil {
		return federation.Entity{}, federation.ErrNotFound
	}
	return *s.self, nil
}

// StoreSelf implements federation.Repository.
func (s *Store) StoreSelf(ctx context.Context, e federation.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.self = &e
	return nil
}
