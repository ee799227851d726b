// Package store persists ledger state. Every implementation satisfies
// ledger.Store and applies a commit atomically.
package store

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"bountyboard/internal/ledger"
)

// MemoryStore is mostly for testing and for local runs without durability.
type MemoryStore struct {
	mu   sync.RWMutex
	snap ledger.Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(_ context.Context) (*ledger.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copySnapshot(m.snap), nil
}

func (m *MemoryStore) Apply(_ context.Context, c ledger.Commit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := copySnapshot(m.snap)
	if err := applyCommit(next, c); err != nil {
		return err
	}
	m.snap = *next
	return nil
}

func applyCommit(snap *ledger.Snapshot, c ledger.Commit) error {
	if c.Bounty != nil {
		id := c.Bounty.ID
		switch {
		case id == uint64(len(snap.Bounties)):
			snap.Bounties = append(snap.Bounties, cloneBounty(*c.Bounty))
		case id < uint64(len(snap.Bounties)):
			snap.Bounties[id] = cloneBounty(*c.Bounty)
		default:
			return fmt.Errorf("bounty %d written out of order, have %d", id, len(snap.Bounties))
		}
	}
	for _, ev := range c.Events {
		if want := uint64(len(snap.Events)) + 1; ev.Seq != want {
			return fmt.Errorf("event seq %d out of order, want %d", ev.Seq, want)
		}
		snap.Events = append(snap.Events, cloneEvent(ev))
	}
	snap.FeesCollected = amount(c.FeesCollected)
	snap.FeesWithdrawn = amount(c.FeesWithdrawn)
	return nil
}

func copySnapshot(s ledger.Snapshot) *ledger.Snapshot {
	out := &ledger.Snapshot{
		Bounties:      make([]ledger.Bounty, 0, len(s.Bounties)),
		Events:        make([]ledger.Event, 0, len(s.Events)),
		FeesCollected: amount(s.FeesCollected),
		FeesWithdrawn: amount(s.FeesWithdrawn),
	}
	for _, b := range s.Bounties {
		out.Bounties = append(out.Bounties, cloneBounty(b))
	}
	for _, ev := range s.Events {
		out.Events = append(out.Events, cloneEvent(ev))
	}
	return out
}

func cloneBounty(b ledger.Bounty) ledger.Bounty {
	b.Reward = amount(b.Reward)
	return b
}

func cloneEvent(ev ledger.Event) ledger.Event {
	if ev.Amount != nil {
		ev.Amount = new(big.Int).Set(ev.Amount)
	}
	return ev
}

func amount(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}
