// Package postgres provides a PostgreSQL-backed trustchainstore.Adapter
// using pgx/v5 connection pooling and JSONB columns for the chain's
// composite fields.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/giacgbj/spid-cie-oidc-go/pkg/trustchainstore"
)

// Store is a PostgreSQL-backed trustchainstore.Adapter.
type Store struct {
	pool *pgxpool.Pool
}

var _ trustchainstore.Adapter = (*Store)(nil)

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

func (s *Store) FetchTrustChain(ctx context.Context, key trustchainstore.Key) (trustchainstore.Record, error) {
	var (
		jwtsJSON, partiesJSON, metadataJSON, trustMarksJSON []byte
		record                                              trustchainstore.Record
	)
	record.Chain.Subject, record.Chain.TrustAnchor, record.Chain.MetadataType = key.Subject, key.TrustAnchor, key.MetadataType

	err := s.pool.QueryRow(ctx, `
		SELECT jwts, parties, final_metadata, exp, trust_mark_ids, status, active, created_at, modified_at
		FROM trust_chains
		WHERE subject = $1 AND trust_anchor = $2 AND metadata_type = $3
	`, key.Subject, key.TrustAnchor, key.MetadataType).Scan(
		&jwtsJSON, &partiesJSON, &metadataJSON, &record.Chain.Expiration, &trustMarksJSON,
		&record.Chain.Status, &record.Active, &record.CreatedAt, &record.ModifiedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return trustchainstore.Record{}, trustchainstore.ErrNotFound
	}
	if err != nil {
		return trustchainstore.Record{}, fmt.Errorf("querying trust chain: %w", err)
	}

	if err := unmarshalAll(jwtsJSON, &record.Chain.JWTs, partiesJSON, &record.Chain.PartiesInvolved,
		metadataJSON, &record.Chain.FinalMetadata, trustMarksJSON, &record.Chain.TrustMarkIDs); err != nil {
		return trustchainstore.Record{}, err
	}
	return record, nil
}

func (s *Store) FetchAnyByAnchor(ctx context.Context, anchor string) ([]trustchainstore.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT subject, trust_anchor, metadata_type, jwts, parties, final_metadata, exp, trust_mark_ids, status, active, created_at, modified_at
		FROM trust_chains
		WHERE trust_anchor = $1
	`, anchor)
	if err != nil {
		return nil, fmt.Errorf("querying trust chains by anchor: %w", err)
	}
	defer rows.Close()

	var out []trustchainstore.Record
	for rows.Next() {
		var (
			jwtsJSON, partiesJSON, metadataJSON, trustMarksJSON []byte
			record                                              trustchainstore.Record
		)
		if err := rows.Scan(&record.Chain.Subject, &record.Chain.TrustAnchor, &record.Chain.MetadataType,
			&jwtsJSON, &partiesJSON, &metadataJSON, &record.Chain.Expiration, &trustMarksJSON,
			&record.Chain.Status, &record.Active, &record.CreatedAt, &record.ModifiedAt); err != nil {
			return nil, fmt.Errorf("scanning trust chain: %w", err)
		}
		if err := unmarshalAll(jwtsJSON, &record.Chain.JWTs, partiesJSON, &record.Chain.PartiesInvolved,
			metadataJSON, &record.Chain.FinalMetadata, trustMarksJSON, &record.Chain.TrustMarkIDs); err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *Store) StoreTrustChain(ctx context.Context, record trustchainstore.Record) (trustchainstore.Record, error) {
	jwtsJSON, err := json.Marshal(record.Chain.JWTs)
	if err != nil {
		return trustchainstore.Record{}, fmt.Errorf("marshaling jwts: %w", err)
	}
	partiesJSON, err := json.Marshal(record.Chain.PartiesInvolved)
	if err != nil {
		return trustchainstore.Record{}, fmt.Errorf("marshaling parties: %w", err)
	}
	metadataJSON, err := json.Marshal(record.Chain.FinalMetadata)
	if err != nil {
		return trustchainstore.Record{}, fmt.Errorf("marshaling final metadata: %w", err)
	}
	trustMarksJSON, err := json.Marshal(record.Chain.TrustMarkIDs)
	if err != nil {
		return trustchainstore.Record{}, fmt.Errorf("marshaling trust mark ids: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO trust_chains (
			subject, trust_anchor, metadata_type, jwts, parties, final_metadata, exp,
			trust_mark_ids, status, active, created_at, modified_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (subject, trust_anchor, metadata_type) DO UPDATE SET
			jwts = EXCLUDED.jwts,
			parties = EXCLUDED.parties,
			final_metadata = EXCLUDED.final_metadata,
			exp = EXCLUDED.exp,
			trust_mark_ids = EXCLUDED.trust_mark_ids,
			status = EXCLUDED.status,
			active = EXCLUDED.active,
			modified_at = EXCLUDED.modified_at
	`,
		record.Chain.Subject, record.Chain.TrustAnchor, record.Chain.MetadataType,
		jwtsJSON, partiesJSON, metadataJSON, record.Chain.Expiration,
		trustMarksJSON, record.Chain.Status, record.Active, record.CreatedAt, record.ModifiedAt,
	)
	if err != nil {
		return trustchainstore.Record{}, fmt.Errorf("upserting trust chain: %w", err)
	}
	return record, nil
}

func (s *Store) DeactivateTrustChain(ctx context.Context, key trustchainstore.Key) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE trust_chains SET active = FALSE
		WHERE subject = $1 AND trust_anchor = $2 AND metadata_type = $3
	`, key.Subject, key.TrustAnchor, key.MetadataType)
	if err != nil {
		return fmt.Errorf("deactivating trust chain: %w", err)
	}
	if result.RowsAffected() == 0 {
		return trustchainstore.ErrNotFound
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func unmarshalAll(jwtsJSON []byte, jwts *[]string, partiesJSON []byte, parties *[]string,
	metadataJSON []byte, metadata *map[string]interface{}, trustMarksJSON []byte, trustMarks *[]string) error {
	if err := json.Unmarshal(jwtsJSON, jwts); err != nil {
		return fmt.Errorf("unmarshaling jwts: %w", err)
	}
	if err := json.Unmarshal(partiesJSON, parties); err != nil {
		return fmt.Errorf("unmarshaling parties: %w", err)
	}
	if err := json.Unmarshal(metadataJSON, metadata); err != nil {
		return fmt.Errorf("unmarshaling final metadata: %w", err)
	}
	if err := json.Unmarshal(trustMarksJSON, trustMarks); err != nil {
		return fmt.Errorf("unmarshaling trust mark ids: %w", err)
	}
	return nil
}
