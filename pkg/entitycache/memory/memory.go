// Package memory provides an in-memory entitycache.Adapter backed by an
// LRU so a long-running process doesn't accumulate unbounded entity
// statements from federation participants it only ever sees once.
package memory

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/giacgbj/spid-cie-oidc-go/pkg/entitycache"
)

// Store is an in-memory, LRU-bounded entitycache.Adapter.
type Store struct {
	cache *lru.Cache[entitycache.Key, entitycache.Info]
}

var _ entitycache.Adapter = (*Store)(nil)

// New creates a Store holding at most maxSize entries. maxSize <= 0
// defaults to 10000.
func New(maxSize int) (*Store, error) {
	if maxSize <= 0 {
		maxSize = 10000
	}
	cache, err := lru.New[entitycache.Key, entitycache.Info](maxSize)
	if err != nil {
		return nil, err
	}
	return &Store{cache: cache}, nil
}

func (s *Store) FetchEntityInfo(_ context.Context, key entitycache.Key) (entitycache.Info, error) {
	info, ok := s.cache.Get(key)
	if !ok {
		return entitycache.Info{}, entitycache.ErrNotFound
	}
	return info, nil
}

func (s *Store) StoreEntityInfo(_ context.Context, info entitycache.Info) (entitycache.Info, error) {
	key := entitycache.Key{Subject: info.Subject, Issuer: info.Issuer}
	s.cache.Add(key, info)
	return info, nil
}

func (s *Store) InvalidateEntityInfo(_ context.Context, key entitycache.Key) error {
	s.cache.Remove(key)
	return nil
}
