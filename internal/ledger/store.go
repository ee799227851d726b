package ledger

import (
	"context"
	"math/big"
)

// Snapshot is the persisted ledger state.
type Snapshot struct {
	Bounties      []Bounty
	FeesCollected *big.Int
	FeesWithdrawn *big.Int
	Events        []Event
}

// Commit is the durable effect of one successful write. Bounty is nil for
// withdrawFees. Totals are absolute values, not deltas.
type Commit struct {
	Bounty        *Bounty
	FeesCollected *big.Int
	FeesWithdrawn *big.Int
	Events        []Event
}

// Store persists ledger state. Apply must be atomic: either the whole commit
// is durable or none of it is.
type Store interface {
	Load(ctx context.Context) (*Snapshot, error)
	Apply(ctx context.Context, c Commit) error
}
