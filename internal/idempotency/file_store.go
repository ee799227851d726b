package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jonboulle/clockwork"
)

// FileStore keeps records in a JSON document for single-node deployments.
// Every change rewrites the whole file.
type FileStore struct {
	path string
	mu   sync.Mutex
	t    table
}

type fileDoc struct {
	Records map[string]Record `json:"records"`
}

func NewFileStore(path string) (*FileStore, error) {
	return NewFileStoreWithClock(path, nil)
}

func NewFileStoreWithClock(path string, clock clockwork.Clock) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("idempotency file path is empty")
	}
	f := &FileStore{path: path, t: newTable(clock)}
	if err := f.load(); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return f, nil
}

func (f *FileStore) load() error {
	blob, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(blob) == 0) {
		return nil
	}
	if err != nil {
		return err
	}
	var doc fileDoc
	if err := json.Unmarshal(blob, &doc); err != nil {
		return err
	}
	for k, rec := range doc.Records {
		f.t.records[k] = rec
	}
	f.t.purge()
	return nil
}

func (f *FileStore) persist() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	blob, err := json.Marshal(fileDoc{Records: f.t.records})
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStore) Get(_ context.Context, key string) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t.lookup(key), nil
}

// Save keeps the in-memory view unchanged when the file cannot be written.
func (f *FileStore) Save(_ context.Context, key string, record Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev, had := f.t.records[key]
	f.t.records[key] = record
	if err := f.persist(); err != nil {
		if had {
			f.t.records[key] = prev
		} else {
			delete(f.t.records, key)
		}
		return err
	}
	return nil
}

func (f *FileStore) Purge(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.t.purge()
	if n == 0 {
		return 0, nil
	}
	return n, f.persist()
}
