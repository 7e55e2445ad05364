package blobstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists audio blobs in PostgreSQL, partitioned by owner.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS audio_blobs (
			owner_id TEXT NOT NULL,
			key TEXT NOT NULL,
			data BYTEA NOT NULL,
			size_bytes BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (owner_id, key)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audio_blobs_owner_created ON audio_blobs (owner_id, created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) ReadBytes(ctx context.Context, ownerID, key string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM audio_blobs WHERE owner_id=$1 AND key=$2`,
		ownerID, key,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

func (s *PostgresStore) WriteBytes(ctx context.Context, ownerID, key string, data []byte) error {
	// First writer wins; a concurrent writer of the same key stored the
	// same deterministic content, so the conflict is ignored.
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audio_blobs (owner_id, key, data, size_bytes)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (owner_id, key) DO NOTHING`,
		ownerID, key, data, int64(len(data)),
	)
	if err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	return nil
}

func (s *PostgresStore) Exists(ctx context.Context, ownerID, key string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM audio_blobs WHERE owner_id=$1 AND key=$2`,
		ownerID, key,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("probe blob: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) Delete(ctx context.Context, ownerID, key string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM audio_blobs WHERE owner_id=$1 AND key=$2`,
		ownerID, key,
	); err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

func (s *PostgresStore) Stats(ctx context.Context, ownerID string) (Stats, error) {
	var st Stats
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size_bytes), 0) FROM audio_blobs WHERE owner_id=$1`,
		ownerID,
	).Scan(&st.Count, &st.TotalBytes)
	if err != nil {
		return Stats{}, fmt.Errorf("blob stats: %w", err)
	}
	return st, nil
}

// EvictOldest removes this owner's oldest-created blobs until both
// bounds (when positive) are satisfied.
func (s *PostgresStore) EvictOldest(ctx context.Context, ownerID string, maxBytes, maxCount int64) (int, error) {
	st, err := s.Stats(ctx, ownerID)
	if err != nil {
		return 0, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT key, size_bytes FROM audio_blobs WHERE owner_id=$1 ORDER BY created_at ASC`,
		ownerID,
	)
	if err != nil {
		return 0, fmt.Errorf("list blobs for eviction: %w", err)
	}
	defer rows.Close()

	var victims []string
	count, bytes := st.Count, st.TotalBytes
	for rows.Next() {
		overBytes := maxBytes > 0 && bytes > maxBytes
		overCount := maxCount > 0 && count > maxCount
		if !overBytes && !overCount {
			break
		}
		var key string
		var size int64
		if err := rows.Scan(&key, &size); err != nil {
			return 0, fmt.Errorf("scan eviction row: %w", err)
		}
		victims = append(victims, key)
		count--
		bytes -= size
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate eviction rows: %w", err)
	}

	for _, key := range victims {
		if err := s.Delete(ctx, ownerID, key); err != nil {
			return 0, err
		}
	}
	return len(victims), nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
