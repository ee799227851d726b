// Package idempotency remembers write responses so a retried request gets
// the original answer instead of running twice.
package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Record is a remembered response and the fingerprint of the request that
// produced it.
type Record struct {
	RequestHash string    `json:"requestHash" db:"request_hash"`
	StatusCode  int       `json:"statusCode"  db:"status_code"`
	Response    []byte    `json:"response"    db:"response"`
	CreatedAt   time.Time `json:"createdAt"   db:"created_at"`
	ExpiresAt   time.Time `json:"expiresAt"   db:"expires_at"`
}

func (r Record) expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Store persists records. Get returns nil, nil for missing or expired keys.
type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	Save(ctx context.Context, key string, record Record) error
}

// Purger drops expired records and reports how many went.
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

// table is the record map behind the in-process stores. Callers lock.
type table struct {
	records map[string]Record
	clock   clockwork.Clock
}

func newTable(clock clockwork.Clock) table {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return table{records: make(map[string]Record), clock: clock}
}

func (t table) lookup(key string) *Record {
	rec, ok := t.records[key]
	if !ok || rec.expired(t.clock.Now()) {
		return nil
	}
	rec.Response = append([]byte(nil), rec.Response...)
	return &rec
}

func (t table) purge() int64 {
	now := t.clock.Now()
	var n int64
	for k, rec := range t.records {
		if rec.expired(now) {
			delete(t.records, k)
			n++
		}
	}
	return n
}

// MemoryStore keeps records for the life of the process.
type MemoryStore struct {
	mu sync.Mutex
	t  table
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(nil)
}

func NewMemoryStoreWithClock(clock clockwork.Clock) *MemoryStore {
	return &MemoryStore{t: newTable(clock)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.lookup(key), nil
}

func (m *MemoryStore) Save(_ context.Context, key string, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t.records[key] = record
	return nil
}

func (m *MemoryStore) Purge(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.purge(), nil
}

// Len counts stored records, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.t.records)
}
