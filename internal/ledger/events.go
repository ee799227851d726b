package ledger

import (
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type EventKind string

const (
	EventCreated       EventKind = "Created"
	EventSubmitted     EventKind = "Submitted"
	EventApproved      EventKind = "Approved"
	EventRejected      EventKind = "Rejected"
	EventCancelled     EventKind = "Cancelled"
	EventFeesWithdrawn EventKind = "FeesWithdrawn"
)

// Event is one entry of the append-only journal. Account is the creator for
// Created, the hunter for Submitted and Approved, and the owner for
// FeesWithdrawn. Amount is the reward, payout or withdrawn fees.
type Event struct {
	Seq      uint64         `json:"seq"`
	Kind     EventKind      `json:"kind"`
	BountyID uint64         `json:"bountyId"`
	Account  common.Address `json:"account"`
	Amount   *big.Int       `json:"amount,omitempty"`
	Time     time.Time      `json:"time"`
	TxHash   string         `json:"txHash,omitempty"`
	Block    uint64         `json:"block,omitempty"`
}

// EventLog keeps every event in order and fans new ones out to subscribers.
// Sequence numbers start at 1 so Since(0, n) returns the log from the start.
type EventLog struct {
	mu      sync.RWMutex
	events  []Event
	subs    map[int]chan Event
	nextSub int
	dropped atomic.Uint64
}

func NewEventLog() *EventLog {
	return &EventLog{subs: make(map[int]chan Event)}
}

// Append stamps sequence numbers, stores the events and publishes them.
func (l *EventLog) Append(events ...Event) []Event {
	stamped := l.record(l.stamp(events))
	l.publish(stamped)
	return stamped
}

func (l *EventLog) stamp(events []Event) []Event {
	base := l.Last()
	out := make([]Event, len(events))
	for i, ev := range events {
		ev.Seq = base + uint64(i) + 1
		out[i] = ev
	}
	return out
}

func (l *EventLog) record(events []Event) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range events {
		ev.Seq = uint64(len(l.events)) + 1
		l.events = append(l.events, ev)
	}
	return append([]Event(nil), l.events[len(l.events)-len(events):]...)
}

func (l *EventLog) publish(events []Event) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, ev := range events {
		for _, ch := range l.subs {
			select {
			case ch <- ev:
			default:
				l.dropped.Add(1)
			}
		}
	}
}

// Last returns the sequence number of the newest event, 0 when empty.
func (l *EventLog) Last() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.events))
}

// Since returns up to limit events with Seq > after. limit <= 0 means all.
func (l *EventLog) Since(after uint64, limit int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if after >= uint64(len(l.events)) {
		return nil
	}
	out := l.events[after:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return append([]Event(nil), out...)
}

// Subscribe returns a channel receiving every event appended from now on.
// A subscriber that falls more than buffer events behind misses events;
// Dropped counts them.
func (l *EventLog) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
			close(ch)
		})
	}
}

func (l *EventLog) Dropped() uint64 {
	return l.dropped.Load()
}

func (l *EventLog) restore(events []Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events[:0], events...)
}
