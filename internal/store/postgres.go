package store

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bountyboard/internal/ledger"
)

// PostgresStore persists the ledger in three PostgreSQL tables.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createLedgerTablesSQL = `
CREATE TABLE IF NOT EXISTS bounties (
    id BIGINT PRIMARY KEY,
    creator TEXT NOT NULL,
    reward NUMERIC(78,0) NOT NULL,
    deadline BIGINT NOT NULL,
    status SMALLINT NOT NULL,
    hunter TEXT NOT NULL,
    description TEXT NOT NULL,
    submission TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS ledger_totals (
    id SMALLINT PRIMARY KEY,
    fees_collected NUMERIC(78,0) NOT NULL,
    fees_withdrawn NUMERIC(78,0) NOT NULL
);
CREATE TABLE IF NOT EXISTS ledger_events (
    seq BIGINT PRIMARY KEY,
    kind TEXT NOT NULL,
    bounty_id BIGINT NOT NULL,
    account TEXT NOT NULL,
    amount NUMERIC(78,0),
    occurred_at TIMESTAMPTZ NOT NULL
);
`

// NewPostgresStore connects using the DSN and ensures the tables exist.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createLedgerTablesSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Load(ctx context.Context) (*ledger.Snapshot, error) {
	snap := &ledger.Snapshot{FeesCollected: new(big.Int), FeesWithdrawn: new(big.Int)}

	rows, err := p.pool.Query(ctx, `
SELECT id, creator, reward::text, deadline, status, hunter, description, submission
FROM bounties
ORDER BY id
`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var (
			id, deadline    int64
			status          int16
			creator, hunter string
			reward          string
			b               ledger.Bounty
		)
		if err := rows.Scan(&id, &creator, &reward, &deadline, &status, &hunter, &b.Description, &b.Submission); err != nil {
			rows.Close()
			return nil, err
		}
		if b.Reward, err = parseAmount(reward); err != nil {
			rows.Close()
			return nil, err
		}
		if uint64(id) != uint64(len(snap.Bounties)) {
			rows.Close()
			return nil, fmt.Errorf("bounty ids not contiguous at %d", id)
		}
		b.ID = uint64(id)
		b.Deadline = uint64(deadline)
		b.Status = ledger.Status(status)
		b.Creator = common.HexToAddress(creator)
		b.Hunter = common.HexToAddress(hunter)
		snap.Bounties = append(snap.Bounties, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var collected, withdrawn string
	err = p.pool.QueryRow(ctx, `
SELECT fees_collected::text, fees_withdrawn::text FROM ledger_totals WHERE id = 1
`).Scan(&collected, &withdrawn)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, err
	default:
		if snap.FeesCollected, err = parseAmount(collected); err != nil {
			return nil, err
		}
		if snap.FeesWithdrawn, err = parseAmount(withdrawn); err != nil {
			return nil, err
		}
	}

	rows, err = p.pool.Query(ctx, `
SELECT seq, kind, bounty_id, account, COALESCE(amount::text, ''), occurred_at
FROM ledger_events
ORDER BY seq
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			seq, bountyID int64
			kind, account string
			amt           string
			at            time.Time
		)
		if err := rows.Scan(&seq, &kind, &bountyID, &account, &amt, &at); err != nil {
			return nil, err
		}
		ev := ledger.Event{
			Seq:      uint64(seq),
			Kind:     ledger.EventKind(kind),
			BountyID: uint64(bountyID),
			Account:  common.HexToAddress(account),
			Time:     at.UTC(),
		}
		if amt != "" {
			if ev.Amount, err = parseAmount(amt); err != nil {
				return nil, err
			}
		}
		snap.Events = append(snap.Events, ev)
	}
	return snap, rows.Err()
}

// Apply writes the commit in a single transaction.
func (p *PostgresStore) Apply(ctx context.Context, c ledger.Commit) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if b := c.Bounty; b != nil {
		_, err = tx.Exec(ctx, `
INSERT INTO bounties (id, creator, reward, deadline, status, hunter, description, submission)
VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE
SET creator = EXCLUDED.creator,
    reward = EXCLUDED.reward,
    deadline = EXCLUDED.deadline,
    status = EXCLUDED.status,
    hunter = EXCLUDED.hunter,
    description = EXCLUDED.description,
    submission = EXCLUDED.submission
`, int64(b.ID), b.Creator.Hex(), amount(b.Reward).String(), int64(b.Deadline), int16(b.Status),
			b.Hunter.Hex(), b.Description, b.Submission)
		if err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx, `
INSERT INTO ledger_totals (id, fees_collected, fees_withdrawn)
VALUES (1, $1::numeric, $2::numeric)
ON CONFLICT (id) DO UPDATE
SET fees_collected = EXCLUDED.fees_collected,
    fees_withdrawn = EXCLUDED.fees_withdrawn
`, amount(c.FeesCollected).String(), amount(c.FeesWithdrawn).String())
	if err != nil {
		return err
	}

	for _, ev := range c.Events {
		var amt *string
		if ev.Amount != nil {
			s := ev.Amount.String()
			amt = &s
		}
		_, err = tx.Exec(ctx, `
INSERT INTO ledger_events (seq, kind, bounty_id, account, amount, occurred_at)
VALUES ($1, $2, $3, $4, $5::numeric, $6)
`, int64(ev.Seq), string(ev.Kind), int64(ev.BountyID), ev.Account.Hex(), amt, ev.Time)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
