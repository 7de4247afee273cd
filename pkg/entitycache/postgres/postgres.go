// Package postgres provides a PostgreSQL-backed entitycache.Adapter
// using pgx/v5 connection pooling and a JSONB payload column.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/giacgbj/spid-cie-oidc-go/pkg/entitycache"
)

// Store is a PostgreSQL-backed entitycache.Adapter.
type Store struct {
	pool *pgxpool.Pool
}

var _ entitycache.Adapter = (*Store)(nil)

// New creates a Store and, if cfg.MigrateOnStart is set, applies schema
// migrations.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}
	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}
	return s, nil
}

func (s *Store) FetchEntityInfo(ctx context.Context, key entitycache.Key) (entitycache.Info, error) {
	var info entitycache.Info
	info.Subject, info.Issuer = key.Subject, key.Issuer

	err := s.pool.QueryRow(ctx, `
		SELECT iat, exp, payload, jwt, modified_at
		FROM entity_info
		WHERE subject = $1 AND issuer = $2
	`, key.Subject, key.Issuer).Scan(&info.IssuedAt, &info.Expiration, &info.Payload, &info.JWT, &info.ModifiedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return entitycache.Info{}, entitycache.ErrNotFound
	}
	if err != nil {
		return entitycache.Info{}, fmt.Errorf("querying entity info: %w", err)
	}
	return info, nil
}

func (s *Store) StoreEntityInfo(ctx context.Context, info entitycache.Info) (entitycache.Info, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO entity_info (subject, issuer, iat, exp, payload, jwt, modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (subject, issuer) DO UPDATE SET
			iat = EXCLUDED.iat,
			exp = EXCLUDED.exp,
			payload = EXCLUDED.payload,
			jwt = EXCLUDED.jwt,
			modified_at = EXCLUDED.modified_at
	`, info.Subject, info.Issuer, info.IssuedAt, info.Expiration, info.Payload, info.JWT, info.ModifiedAt)
	if err != nil {
		return entitycache.Info{}, fmt.Errorf("upserting entity info: %w", err)
	}
	return info, nil
}

func (s *Store) InvalidateEntityInfo(ctx context.Context, key entitycache.Key) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM entity_info WHERE subject = $1 AND issuer = $2`, key.Subject, key.Issuer)
	if err != nil {
		return fmt.Errorf("deleting entity info: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
