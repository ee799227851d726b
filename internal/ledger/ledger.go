package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
)

// MaxFeeBps is 100% expressed in basis points.
const MaxFeeBps = 10000

const (
	opCreate       = "create"
	opSubmit       = "submit"
	opApprove      = "approve"
	opReject       = "reject"
	opCancel       = "cancel"
	opWithdrawFees = "withdrawFees"
)

// Policy holds the rules the on-chain interface leaves open.
type Policy struct {
	// RequireFutureDeadline rejects create when deadline <= now.
	RequireFutureDeadline bool
	// EnforceDeadlineOnSubmit rejects submissions once now > deadline.
	EnforceDeadlineOnSubmit bool
	// AllowCreatorSubmit lets a creator submit to their own bounty.
	AllowCreatorSubmit bool
	// RejectEmptyWork rejects blank submissions.
	RejectEmptyWork bool
}

func DefaultPolicy() Policy {
	return Policy{
		RequireFutureDeadline:   true,
		EnforceDeadlineOnSubmit: false,
		AllowCreatorSubmit:      true,
		RejectEmptyWork:         true,
	}
}

type Config struct {
	Owner       common.Address
	PlatformFee uint64
	Policy      Policy
	Vault       Vault
	// Store is optional; without it the ledger lives in memory only.
	Store  Store
	Clock  clockwork.Clock
	Events *EventLog
}

// Receipt reports the outcome of a successful write. Amount is the reward on
// create, the payout on approve, the refund on cancel and the drained fees
// on withdrawFees.
type Receipt struct {
	BountyID uint64
	Amount   *big.Int
	Events   []Event
}

// Ledger is the bounty escrow state machine. Writes are serialised and
// all-or-nothing; reads never block on each other and never fail.
type Ledger struct {
	mu            sync.RWMutex
	owner         common.Address
	feeBps        uint64
	policy        Policy
	bounties      []Bounty
	feesCollected *big.Int
	feesWithdrawn *big.Int

	vault  Vault
	store  Store
	clock  clockwork.Clock
	events *EventLog

	hooksMu sync.RWMutex
	hooks   []func(Event)

	// pending holds committed events in seq order until one writer drains
	// them to subscribers and hooks.
	dispatchMu sync.Mutex
	pending    []Event
	draining   bool
}

func New(ctx context.Context, cfg Config) (*Ledger, error) {
	if cfg.Owner == (common.Address{}) {
		return nil, fmt.Errorf("%w: owner address is required", ErrInvalidArgument)
	}
	if cfg.PlatformFee > MaxFeeBps {
		return nil, fmt.Errorf("%w: platform fee %d exceeds %d bps", ErrInvalidArgument, cfg.PlatformFee, MaxFeeBps)
	}
	if cfg.Vault == nil {
		return nil, fmt.Errorf("%w: vault is required", ErrInvalidArgument)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Events == nil {
		cfg.Events = NewEventLog()
	}

	l := &Ledger{
		owner:         cfg.Owner,
		feeBps:        cfg.PlatformFee,
		policy:        cfg.Policy,
		feesCollected: new(big.Int),
		feesWithdrawn: new(big.Int),
		vault:         cfg.Vault,
		store:         cfg.Store,
		clock:         cfg.Clock,
		events:        cfg.Events,
	}
	if l.store != nil {
		if err := l.load(ctx); err != nil {
			return nil, fmt.Errorf("load ledger: %w", err)
		}
	}

	log.WithFields(log.Fields{
		"owner":    l.owner.Hex(),
		"fee_bps":  l.feeBps,
		"bounties": len(l.bounties),
	}).Info("[LEDGER] Ledger ready")
	return l, nil
}

func (l *Ledger) load(ctx context.Context) error {
	snap, err := l.store.Load(ctx)
	if err != nil {
		return err
	}
	for i, b := range snap.Bounties {
		if b.ID != uint64(i) {
			return fmt.Errorf("bounty ids are not contiguous: position %d holds id %d", i, b.ID)
		}
		l.bounties = append(l.bounties, b.clone())
	}
	l.feesCollected = copyAmount(snap.FeesCollected)
	l.feesWithdrawn = copyAmount(snap.FeesWithdrawn)
	l.events.restore(snap.Events)

	if v, ok := l.vault.(interface{ SetCustody(*big.Int) }); ok {
		custody := new(big.Int).Add(l.escrowedLocked(), l.feesCollected)
		v.SetCustody(custody)
	}
	return nil
}

// Create escrows value from caller and opens a new bounty.
func (l *Ledger) Create(ctx context.Context, caller common.Address, deadline uint64, description string, value *big.Int) (Receipt, error) {
	var id uint64
	events, err := l.write(ctx, opCreate, func(t *txn) error {
		id = uint64(len(l.bounties))
		if value == nil || value.Sign() <= 0 {
			return newError(opCreate, id, ErrInvalidArgument, "deposit must be greater than zero")
		}
		if caller == (common.Address{}) {
			return newError(opCreate, id, ErrInvalidArgument, "caller address is required")
		}
		now := uint64(l.clock.Now().Unix())
		if l.policy.RequireFutureDeadline && deadline <= now {
			return newError(opCreate, id, ErrInvalidArgument, "deadline %d is not after %d", deadline, now)
		}
		if err := t.deposit(caller, value); err != nil {
			if errors.Is(err, ErrBalanceTooLow) {
				return newError(opCreate, id, ErrInvalidArgument, "deposit rejected: %v", err)
			}
			return fmt.Errorf("%s: deposit: %w", opCreate, err)
		}
		t.put(Bounty{
			ID:          id,
			Creator:     caller,
			Reward:      copyAmount(value),
			Deadline:    deadline,
			Status:      StatusOpen,
			Description: description,
		})
		t.emit(Event{Kind: EventCreated, BountyID: id, Account: caller, Amount: copyAmount(value)})
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{BountyID: id, Amount: copyAmount(value), Events: events}, nil
}

// Submit records work from caller against an Open bounty.
func (l *Ledger) Submit(ctx context.Context, caller common.Address, id uint64, work string) (Receipt, error) {
	events, err := l.write(ctx, opSubmit, func(t *txn) error {
		b, err := l.get(opSubmit, id)
		if err != nil {
			return err
		}
		if b.Status != StatusOpen {
			return newError(opSubmit, id, ErrInvalidState, "bounty is %s", b.Status)
		}
		if caller == (common.Address{}) {
			return newError(opSubmit, id, ErrInvalidArgument, "caller address is required")
		}
		if !l.policy.AllowCreatorSubmit && caller == b.Creator {
			return newError(opSubmit, id, ErrUnauthorized, "creator cannot submit to own bounty")
		}
		if now := uint64(l.clock.Now().Unix()); l.policy.EnforceDeadlineOnSubmit && now > b.Deadline {
			return newError(opSubmit, id, ErrInvalidState, "bounty expired at %d", b.Deadline)
		}
		if l.policy.RejectEmptyWork && strings.TrimSpace(work) == "" {
			return newError(opSubmit, id, ErrInvalidArgument, "submission is empty")
		}

		b.Hunter = caller
		b.Submission = work
		b.Status = StatusSubmitted
		t.put(b)
		t.emit(Event{Kind: EventSubmitted, BountyID: id, Account: caller})
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{BountyID: id, Events: events}, nil
}

// Approve pays the hunter reward minus the platform fee. The bounty is marked
// Approved and the fee credited before any value leaves custody.
func (l *Ledger) Approve(ctx context.Context, caller common.Address, id uint64) (Receipt, error) {
	var payout *big.Int
	events, err := l.write(ctx, opApprove, func(t *txn) error {
		b, err := l.get(opApprove, id)
		if err != nil {
			return err
		}
		if caller != b.Creator {
			return newError(opApprove, id, ErrUnauthorized, "only the creator may approve")
		}
		if b.Status != StatusSubmitted {
			return newError(opApprove, id, ErrInvalidState, "bounty is %s", b.Status)
		}

		fee := FeeFor(b.Reward, l.feeBps)
		payout = new(big.Int).Sub(b.Reward, fee)
		hunter := b.Hunter

		b.Status = StatusApproved
		t.put(b)
		t.creditFees(fee)
		if err := t.pay(hunter, payout); err != nil {
			return t.payError(err)
		}
		t.emit(Event{Kind: EventApproved, BountyID: id, Account: hunter, Amount: copyAmount(payout)})
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{BountyID: id, Amount: payout, Events: events}, nil
}

// Reject discards the current submission and reopens the bounty.
func (l *Ledger) Reject(ctx context.Context, caller common.Address, id uint64) (Receipt, error) {
	events, err := l.write(ctx, opReject, func(t *txn) error {
		b, err := l.get(opReject, id)
		if err != nil {
			return err
		}
		if caller != b.Creator {
			return newError(opReject, id, ErrUnauthorized, "only the creator may reject")
		}
		if b.Status != StatusSubmitted {
			return newError(opReject, id, ErrInvalidState, "bounty is %s", b.Status)
		}

		b.Hunter = common.Address{}
		b.Submission = ""
		b.Status = StatusOpen
		t.put(b)
		t.emit(Event{Kind: EventRejected, BountyID: id})
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{BountyID: id, Events: events}, nil
}

// Cancel refunds the full reward of an Open bounty to its creator.
func (l *Ledger) Cancel(ctx context.Context, caller common.Address, id uint64) (Receipt, error) {
	var refund *big.Int
	events, err := l.write(ctx, opCancel, func(t *txn) error {
		b, err := l.get(opCancel, id)
		if err != nil {
			return err
		}
		if caller != b.Creator {
			return newError(opCancel, id, ErrUnauthorized, "only the creator may cancel")
		}
		if b.Status != StatusOpen {
			return newError(opCancel, id, ErrInvalidState, "bounty is %s", b.Status)
		}

		refund = copyAmount(b.Reward)
		b.Status = StatusCancelled
		t.put(b)
		if err := t.pay(b.Creator, refund); err != nil {
			return t.payError(err)
		}
		t.emit(Event{Kind: EventCancelled, BountyID: id})
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{BountyID: id, Amount: refund, Events: events}, nil
}

// WithdrawFees drains collected fees to the owner.
func (l *Ledger) WithdrawFees(ctx context.Context, caller common.Address) (Receipt, error) {
	var amount *big.Int
	events, err := l.write(ctx, opWithdrawFees, func(t *txn) error {
		if caller != l.owner {
			return globalError(opWithdrawFees, ErrUnauthorized, "only the owner may withdraw fees")
		}
		amount = t.drainFees()
		if amount.Sign() == 0 {
			return nil
		}
		if err := t.pay(l.owner, amount); err != nil {
			return t.payError(err)
		}
		t.emit(Event{Kind: EventFeesWithdrawn, Account: l.owner, Amount: copyAmount(amount)})
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{Amount: amount, Events: events}, nil
}

// Bounty returns the full record. Unknown ids yield a zero record.
func (l *Ledger) Bounty(id uint64) Bounty {
	b, _ := l.Lookup(id)
	return b
}

// Lookup is Bounty with an existence flag.
func (l *Ledger) Lookup(id uint64) (Bounty, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if id >= uint64(len(l.bounties)) {
		return Bounty{ID: id, Reward: new(big.Int)}, false
	}
	return l.bounties[id].clone(), true
}

func (l *Ledger) Summary(id uint64) Summary {
	return l.Bounty(id).Summary()
}

func (l *Ledger) BountyCount() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.bounties))
}

func (l *Ledger) PlatformFee() uint64 {
	return l.feeBps
}

func (l *Ledger) FeesCollected() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return copyAmount(l.feesCollected)
}

func (l *Ledger) Owner() common.Address {
	return l.owner
}

// List returns bounties matching f, newest first, and the number of matches.
func (l *Ledger) List(f Filter, offset, limit int) ([]Bounty, int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var (
		out   []Bounty
		total int
	)
	for i := len(l.bounties) - 1; i >= 0; i-- {
		b := l.bounties[i]
		if !f.Match(b.Status) {
			continue
		}
		if total >= offset && (limit <= 0 || len(out) < limit) {
			out = append(out, b.clone())
		}
		total++
	}
	return out, total
}

func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := Stats{
		BountyCount:   uint64(len(l.bounties)),
		PlatformFee:   l.feeBps,
		FeesCollected: copyAmount(l.feesCollected),
		FeesWithdrawn: copyAmount(l.feesWithdrawn),
		Escrowed:      l.escrowedLocked(),
		Owner:         l.owner,
	}
	for _, b := range l.bounties {
		switch b.Status {
		case StatusOpen:
			s.Open++
		case StatusSubmitted:
			s.Submitted++
		case StatusApproved:
			s.Approved++
		case StatusCancelled:
			s.Cancelled++
		}
	}
	return s
}

// Expired reports whether b is Open past its deadline by the ledger clock.
func (l *Ledger) Expired(b Bounty) bool {
	return Expired(b, l.clock.Now())
}

func (l *Ledger) Events() *EventLog {
	return l.events
}

// OnEvent registers fn to run for every committed event. Hooks run after the
// write lock is released, so they may call back into the ledger. Events
// arrive in seq order; under concurrent writes a hook may run on another
// writer's goroutine, and events from a write made inside a hook arrive
// after that hook returns.
func (l *Ledger) OnEvent(fn func(Event)) {
	l.hooksMu.Lock()
	defer l.hooksMu.Unlock()
	l.hooks = append(l.hooks, fn)
}

func (l *Ledger) escrowedLocked() *big.Int {
	total := new(big.Int)
	for _, b := range l.bounties {
		if b.Status == StatusOpen || b.Status == StatusSubmitted {
			total.Add(total, b.Reward)
		}
	}
	return total
}

func (l *Ledger) get(op string, id uint64) (Bounty, error) {
	if id >= uint64(len(l.bounties)) {
		return Bounty{}, newError(op, id, ErrNotFound, "%d bounties exist", len(l.bounties))
	}
	return l.bounties[id].clone(), nil
}

func (l *Ledger) write(ctx context.Context, op string, fn func(t *txn) error) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	t := &txn{ctx: ctx, l: l, op: op}
	err := fn(t)
	if err == nil {
		err = l.persist(ctx, t)
	}
	if err != nil {
		t.rollback()
		l.mu.Unlock()
		log.WithError(err).WithField("op", op).Debug("[LEDGER] Write rejected")
		return nil, err
	}
	events := l.events.record(t.events)
	l.dispatchMu.Lock()
	l.pending = append(l.pending, events...)
	l.dispatchMu.Unlock()
	l.mu.Unlock()

	for _, ev := range events {
		log.WithFields(log.Fields{
			"op":     op,
			"seq":    ev.Seq,
			"event":  ev.Kind,
			"bounty": ev.BountyID,
		}).Info("[LEDGER] Committed")
	}
	l.drain()
	return events, nil
}

func (l *Ledger) persist(ctx context.Context, t *txn) error {
	if l.store == nil {
		return nil
	}
	c := Commit{
		Bounty:        t.touched,
		FeesCollected: copyAmount(l.feesCollected),
		FeesWithdrawn: copyAmount(l.feesWithdrawn),
		Events:        l.events.stamp(t.events),
	}
	if err := l.store.Apply(ctx, c); err != nil {
		return fmt.Errorf("%s: persist: %w", t.op, err)
	}
	return nil
}

// drain delivers pending events in seq order. Only one goroutine delivers at
// a time; a writer that finds delivery in progress leaves its events to it.
func (l *Ledger) drain() {
	l.dispatchMu.Lock()
	if l.draining {
		l.dispatchMu.Unlock()
		return
	}
	l.draining = true
	done := false
	defer func() {
		// A panicking hook must not leave delivery stuck.
		if !done {
			l.dispatchMu.Lock()
			l.draining = false
			l.dispatchMu.Unlock()
		}
	}()
	for len(l.pending) > 0 {
		batch := l.pending
		l.pending = nil
		l.dispatchMu.Unlock()
		l.dispatch(batch)
		l.dispatchMu.Lock()
	}
	l.draining = false
	done = true
	l.dispatchMu.Unlock()
}

func (l *Ledger) dispatch(events []Event) {
	l.events.publish(events)

	l.hooksMu.RLock()
	hooks := make([]func(Event), len(l.hooks))
	copy(hooks, l.hooks)
	l.hooksMu.RUnlock()
	for _, ev := range events {
		for _, hook := range hooks {
			hook(ev)
		}
	}
}

// txn records undo steps for one write so a failure part way leaves no trace.
type txn struct {
	ctx     context.Context
	l       *Ledger
	op      string
	undo    []func()
	touched *Bounty
	events  []Event
}

func (t *txn) put(b Bounty) {
	l := t.l
	if b.ID == uint64(len(l.bounties)) {
		l.bounties = append(l.bounties, b)
		t.undo = append(t.undo, func() { l.bounties = l.bounties[:len(l.bounties)-1] })
	} else {
		prev := l.bounties[b.ID]
		l.bounties[b.ID] = b
		t.undo = append(t.undo, func() { l.bounties[b.ID] = prev })
	}
	touched := b.clone()
	t.touched = &touched
}

func (t *txn) deposit(from common.Address, amount *big.Int) error {
	vault := t.l.vault
	if err := vault.Deposit(t.ctx, from, amount); err != nil {
		return err
	}
	t.undo = append(t.undo, func() {
		if err := vault.Pay(context.Background(), from, amount); err != nil {
			log.WithError(err).WithField("account", from.Hex()).Error("[LEDGER] Failed to reverse deposit")
		}
	})
	return nil
}

func (t *txn) pay(to common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	vault := t.l.vault
	if err := vault.Pay(t.ctx, to, amount); err != nil {
		return err
	}
	t.undo = append(t.undo, func() {
		if err := vault.Deposit(context.Background(), to, amount); err != nil {
			log.WithError(err).WithField("account", to.Hex()).Error("[LEDGER] Failed to reverse payment")
		}
	})
	return nil
}

func (t *txn) payError(err error) error {
	if errors.Is(err, ErrInsufficientFunds) {
		log.WithError(err).WithField("op", t.op).Error("[LEDGER] Custody invariant violated")
		if t.touched != nil {
			return newError(t.op, t.touched.ID, ErrInsufficientFunds, "%v", err)
		}
		return globalError(t.op, ErrInsufficientFunds, "%v", err)
	}
	return fmt.Errorf("%s: payout: %w", t.op, err)
}

func (t *txn) creditFees(fee *big.Int) {
	l := t.l
	prev := l.feesCollected
	l.feesCollected = new(big.Int).Add(prev, fee)
	t.undo = append(t.undo, func() { l.feesCollected = prev })
}

func (t *txn) drainFees() *big.Int {
	l := t.l
	prevCollected, prevWithdrawn := l.feesCollected, l.feesWithdrawn
	amount := copyAmount(prevCollected)
	l.feesCollected = new(big.Int)
	l.feesWithdrawn = new(big.Int).Add(prevWithdrawn, amount)
	t.undo = append(t.undo, func() {
		l.feesCollected = prevCollected
		l.feesWithdrawn = prevWithdrawn
	})
	return amount
}

func (t *txn) emit(ev Event) {
	ev.Time = t.l.clock.Now().UTC()
	t.events = append(t.events, ev)
}

func (t *txn) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
}
