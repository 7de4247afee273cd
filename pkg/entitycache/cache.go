package entitycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound is returned by an Adapter when no entry exists for the
// requested key. It is not part of the federr taxonomy: a cache miss is
// an expected outcome the caller (the Trust Chain Builder) reacts to by
// fetching fresh, not a federation-semantic failure.
var ErrNotFound = errors.New("entitycache: not found")

// Key identifies one cache entry: the statement's subject together with
// the issuer that signed it (equal for a self-assertion).
type Key struct {
	Subject string
	Issuer  string
}

// Info is the persistent projection of a parsed entity statement.
type Info struct {
	Subject    string
	Issuer     string
	IssuedAt   int64
	Expiration int64
	Payload    json.RawMessage
	JWT        string
	ModifiedAt time.Time
}

// IsExpired compares Expiration against wall-clock time.
func (i Info) IsExpired() bool {
	return time.Now().Unix() >= i.Expiration
}

// Adapter is the persistence contract an Entity Info Cache backend must
// satisfy. Implementations are provided by pkg/entitycache/memory and
// pkg/entitycache/postgres.
type Adapter interface {
	FetchEntityInfo(ctx context.Context, key Key) (Info, error)
	StoreEntityInfo(ctx context.Context, info Info) (Info, error)
	InvalidateEntityInfo(ctx context.Context, key Key) error
}

// Cache wraps an Adapter with per-key write serialization.
type Cache struct {
	adapter Adapter

	mu    sync.Mutex
	locks map[Key]*sync.Mutex
}

// New wraps adapter in a Cache.
func New(adapter Adapter) *Cache {
	return &Cache{adapter: adapter, locks: make(map[Key]*sync.Mutex)}
}

// Fetch returns the cached entry for key. Returns ErrNotFound if absent;
// callers decide whether an expired-but-present entry is still usable.
func (c *Cache) Fetch(ctx context.Context, key Key) (Info, error) {
	return c.adapter.FetchEntityInfo(ctx, key)
}

// Store upserts info, serialized against concurrent writers of the same
// key so readers always observe a consistent snapshot.
func (c *Cache) Store(ctx context.Context, info Info) (Info, error) {
	key := Key{Subject: info.Subject, Issuer: info.Issuer}
	unlock := c.lock(key)
	defer unlock()

	info.ModifiedAt = now()
	stored, err := c.adapter.StoreEntityInfo(ctx, info)
	if err != nil {
		return Info{}, fmt.Errorf("storing entity info for %+v: %w", key, err)
	}
	return stored, nil
}

// Invalidate removes the cached entry for key, if present.
func (c *Cache) Invalidate(ctx context.Context, key Key) error {
	unlock := c.lock(key)
	defer unlock()
	return c.adapter.InvalidateEntityInfo(ctx, key)
}

func (c *Cache) lock(key Key) func() {
	c.mu.Lock()
	l, ok := c.locks[key]
	if !ok {
		l = &sync.Mutex{}
		c.locks[key] = l
	}
	c.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// now is overridable by tests that need a fixed clock.
var now = time.Now
