package store

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"sync"

	"bountyboard/internal/ledger"
)

type fileSnapshot struct {
	Bounties      []ledger.Bounty `json:"bounties"`
	FeesCollected *big.Int        `json:"feesCollected"`
	FeesWithdrawn *big.Int        `json:"feesWithdrawn"`
	Events        []ledger.Event  `json:"events"`
}

// FileStore keeps the whole ledger in one JSON document. Each commit rewrites
// the file through a temp file and rename.
type FileStore struct {
	path string
	mu   sync.Mutex
	snap *ledger.Snapshot
}

func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path, snap: &ledger.Snapshot{}}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStore) load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	blob, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(blob) == 0 {
		return nil
	}
	var doc fileSnapshot
	if err := json.Unmarshal(blob, &doc); err != nil {
		return err
	}
	f.snap = copySnapshot(ledger.Snapshot{
		Bounties:      doc.Bounties,
		FeesCollected: doc.FeesCollected,
		FeesWithdrawn: doc.FeesWithdrawn,
		Events:        doc.Events,
	})
	return nil
}

func (f *FileStore) persist(snap *ledger.Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	blob, err := json.MarshalIndent(fileSnapshot{
		Bounties:      snap.Bounties,
		FeesCollected: snap.FeesCollected,
		FeesWithdrawn: snap.FeesWithdrawn,
		Events:        snap.Events,
	}, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStore) Load(_ context.Context) (*ledger.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copySnapshot(*f.snap), nil
}

func (f *FileStore) Apply(_ context.Context, c ledger.Commit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := copySnapshot(*f.snap)
	if err := applyCommit(next, c); err != nil {
		return err
	}
	if err := f.persist(next); err != nil {
		return err
	}
	f.snap = next
	return nil
}
