// Package memory provides an in-memory trustchainstore.Adapter.
package memory

import (
	"context"
	"sync"

	"github.com/giacgbj/spid-cie-oidc-go/pkg/trustchainstore"
)

// Store is an in-memory trustchainstore.Adapter.
type Store struct {
	mu      sync.RWMutex
	records map[trustchainstore.Key]trustchainstore.Record
}

var _ trustchainstore.Adapter = (*Store)(nil)

// New creates an empty in-memory Store.
func New() *Store {
	return &Store{records: make(map[trustchainstore.Key]trustchainstore.Record)}
}

func (s *Store) FetchTrustChain(_ context.Context, key trustchainstore.Key) (trustchainstore.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[key]
	if !ok {
		return trustchainstore.Record{}, trustchainstore.ErrNotFound
	}
	return r, nil
}

func (s *Store) FetchAnyByAnchor(_ context.Context, anchor string) ([]trustchainstore.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []trustchainstore.Record
	for key, r := range s.records {
		if key.TrustAnchor == anchor {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) StoreTrustChain(_ context.Context, record trustchainstore.Record) (trustchainstore.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := trustchainstore.Key{
		Subject:      record.Chain.Subject,
		TrustAnchor:  record.Chain.TrustAnchor,
		MetadataType: record.Chain.MetadataType,
	}
	s.records[key] = record
	return record, nil
}

func (s *Store) DeactivateTrustChain(_ context.Context, key trustchainstore.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[key]
	if !ok {
		return trustchainstore.ErrNotFound
	}
	r.Active = false
	s.records[key] = r
	return nil
}
