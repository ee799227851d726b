package idempotency

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgSchema = `
CREATE TABLE IF NOT EXISTS bountyboard_idempotency (
    key          TEXT PRIMARY KEY,
    request_hash TEXT        NOT NULL,
    status_code  INT         NOT NULL,
    response     BYTEA       NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL,
    expires_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS bountyboard_idempotency_expires_at ON bountyboard_idempotency (expires_at);`

	pgSelect = `
SELECT request_hash, status_code, response, created_at, expires_at
FROM bountyboard_idempotency
WHERE key = $1 AND expires_at > now()`

	pgUpsert = `
INSERT INTO bountyboard_idempotency (key, request_hash, status_code, response, created_at, expires_at)
VALUES (@key, @request_hash, @status_code, @response, @created_at, @expires_at)
ON CONFLICT (key) DO UPDATE SET
    request_hash = EXCLUDED.request_hash,
    status_code  = EXCLUDED.status_code,
    response     = EXCLUDED.response,
    created_at   = EXCLUDED.created_at,
    expires_at   = EXCLUDED.expires_at`

	pgPurge = `DELETE FROM bountyboard_idempotency WHERE expires_at <= now()`
)

// PostgresStore shares records between replicas through one table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	p.pool.Close()
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Get(ctx context.Context, key string) (*Record, error) {
	rows, err := p.pool.Query(ctx, pgSelect, key)
	if err != nil {
		return nil, err
	}
	rec, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[Record])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (p *PostgresStore) Save(ctx context.Context, key string, record Record) error {
	_, err := p.pool.Exec(ctx, pgUpsert, pgx.NamedArgs{
		"key":          key,
		"request_hash": record.RequestHash,
		"status_code":  record.StatusCode,
		"response":     record.Response,
		"created_at":   record.CreatedAt,
		"expires_at":   record.ExpiresAt,
	})
	return err
}

func (p *PostgresStore) Purge(ctx context.Context) (int64, error) {
	tag, err := p.pool.Exec(ctx, pgPurge)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
