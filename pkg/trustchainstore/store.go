package trustchainstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/giacgbj/spid-cie-oidc-go/pkg/trustchain"
)

// ErrNotFound is returned by an Adapter when no row exists for the
// requested key. A cache miss (state (a) in spec: "not present") is an
// expected outcome, not a federation-semantic failure.
var ErrNotFound = errors.New("trustchainstore: not found")

// Key identifies one stored trust chain.
type Key struct {
	Subject      string
	TrustAnchor  string
	MetadataType string
}

// Record is a persisted trust chain together with its administrative
// state.
type Record struct {
	Chain      trustchain.Chain
	Active     bool
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// IsExpired compares the chain's expiry against wall-clock time.
func (r Record) IsExpired() bool {
	return time.Now().Unix() >= r.Chain.Expiration
}

// Adapter is the persistence contract a Trust Chain Store backend must
// satisfy.
type Adapter interface {
	FetchTrustChain(ctx context.Context, key Key) (Record, error)
	FetchAnyByAnchor(ctx context.Context, anchor string) ([]Record, error)
	StoreTrustChain(ctx context.Context, record Record) (Record, error)
	DeactivateTrustChain(ctx context.Context, key Key) error
}

// Store wraps an Adapter with per-key write serialization and
// administrative-flag preservation across rebuilds.
type Store struct {
	adapter Adapter

	mu    sync.Mutex
	locks map[Key]*sync.Mutex
}

// New wraps adapter in a Store.
func New(adapter Adapter) *Store {
	return &Store{adapter: adapter, locks: make(map[Key]*sync.Mutex)}
}

func keyOf(c trustchain.Chain) Key {
	return Key{Subject: c.Subject, TrustAnchor: c.TrustAnchor, MetadataType: c.MetadataType}
}

// Fetch returns the stored record for key. Returns ErrNotFound if no
// chain has ever been built for this key — state (a) in the read-state
// taxonomy. Callers distinguish states (b)/(c) by inspecting
// Record.Active and Record.IsExpired().
func (s *Store) Fetch(ctx context.Context, key Key) (Record, error) {
	return s.adapter.FetchTrustChain(ctx, key)
}

// FetchAnyByAnchor returns every stored chain trusting anchor,
// regardless of subject or metadata type.
func (s *Store) FetchAnyByAnchor(ctx context.Context, anchor string) ([]Record, error) {
	return s.adapter.FetchAnyByAnchor(ctx, anchor)
}

// Store upserts chain, overwriting any existing row in place while
// preserving its Active flag — a rebuild never un-disables a chain an
// administrator deactivated.
func (s *Store) Store(ctx context.Context, chain trustchain.Chain) (Record, error) {
	key := keyOf(chain)
	unlock := s.lock(key)
	defer unlock()

	active := true
	createdAt := now()
	if existing, err := s.adapter.FetchTrustChain(ctx, key); err == nil {
		active = existing.Active
		createdAt = existing.CreatedAt
	}

	record := Record{Chain: chain, Active: active, CreatedAt: createdAt, ModifiedAt: now()}
	stored, err := s.adapter.StoreTrustChain(ctx, record)
	if err != nil {
		return Record{}, fmt.Errorf("storing trust chain for %+v: %w", key, err)
	}
	return stored, nil
}

// Deactivate marks the chain at key inactive, disabling its provider
// without deleting the row. It is never implicitly re-activated by a
// rebuild.
func (s *Store) Deactivate(ctx context.Context, key Key) error {
	unlock := s.lock(key)
	defer unlock()
	return s.adapter.DeactivateTrustChain(ctx, key)
}

func (s *Store) lock(key Key) func() {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

var now = time.Now
