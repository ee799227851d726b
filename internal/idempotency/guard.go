package idempotency

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/jonboulle/clockwork"
)

// ErrKeyReused means the key was already used for a different request.
var ErrKeyReused = errors.New("idempotency key reused with a different request")

// Guard makes write requests replay-safe. Keys are scoped to the caller, and
// concurrent requests with the same scoped key run one at a time.
type Guard struct {
	store Store
	ttl   time.Duration
	clock clockwork.Clock

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewGuard(store Store, ttl time.Duration, clock clockwork.Clock) *Guard {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Guard{store: store, ttl: ttl, clock: clock, locks: make(map[string]*keyLock)}
}

// ScopedKey namespaces a client key by caller so two callers cannot collide.
func ScopedKey(caller common.Address, key string) string {
	return caller.Hex() + ":" + key
}

// RequestHash fingerprints a request for key reuse detection.
func RequestHash(method, path string, body []byte) string {
	return crypto.Keccak256Hash([]byte(method), []byte(path), body).Hex()
}

// Lock serialises work on key until the returned func is called.
func (g *Guard) Lock(key string) func() {
	g.mu.Lock()
	l, ok := g.locks[key]
	if !ok {
		l = &keyLock{}
		g.locks[key] = l
	}
	l.refs++
	g.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		g.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(g.locks, key)
		}
		g.mu.Unlock()
	}
}

// Lookup returns the stored record for key, nil if there is none, or
// ErrKeyReused when it belongs to a different request.
func (g *Guard) Lookup(ctx context.Context, key, requestHash string) (*Record, error) {
	rec, err := g.store.Get(ctx, key)
	if err != nil || rec == nil {
		return nil, err
	}
	if rec.RequestHash != requestHash {
		return nil, ErrKeyReused
	}
	return rec, nil
}

func (g *Guard) Remember(ctx context.Context, key, requestHash string, status int, response []byte) error {
	now := g.clock.Now().UTC()
	return g.store.Save(ctx, key, Record{
		RequestHash: requestHash,
		StatusCode:  status,
		Response:    response,
		CreatedAt:   now,
		ExpiresAt:   now.Add(g.ttl),
	})
}

func (g *Guard) Store() Store {
	return g.store
}
