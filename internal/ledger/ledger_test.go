package ledger

import (
	"context"
	"errors"
	"io"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.SetOutput(io.Discard)
}

var (
	owner   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	creator = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	hunter1 = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	hunter2 = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func milliEther(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e15))
}

type fixture struct {
	ledger *Ledger
	vault  *MemoryVault
	clock  *clockwork.FakeClock
}

func newFixture(t *testing.T, feeBps uint64, mutate ...func(*Config)) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	vault := NewMemoryVault()
	vault.Fund(creator, ether(100))
	cfg := Config{
		Owner:       owner,
		PlatformFee: feeBps,
		Policy:      DefaultPolicy(),
		Vault:       vault,
		Clock:       clock,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	l, err := New(context.Background(), cfg)
	require.NoError(t, err)
	return &fixture{ledger: l, vault: vault, clock: clock}
}

func (f *fixture) weekOut() uint64 {
	return uint64(f.clock.Now().Add(7 * 24 * time.Hour).Unix())
}

func (f *fixture) create(t *testing.T, reward *big.Int) uint64 {
	t.Helper()
	r, err := f.ledger.Create(context.Background(), creator, f.weekOut(), "find the bug", reward)
	require.NoError(t, err)
	return r.BountyID
}

func TestNewValidatesConfig(t *testing.T) {
	ctx := context.Background()

	_, err := New(ctx, Config{PlatformFee: 100, Vault: NewMemoryVault()})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = New(ctx, Config{Owner: owner, PlatformFee: MaxFeeBps + 1, Vault: NewMemoryVault()})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = New(ctx, Config{Owner: owner, PlatformFee: 100})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestApproveScenario(t *testing.T) {
	f := newFixture(t, 500)
	ctx := context.Background()

	id := f.create(t, ether(1))
	assert.Equal(t, uint64(0), id)

	b := f.ledger.Bounty(id)
	assert.Equal(t, StatusOpen, b.Status)
	assert.Equal(t, ether(1), b.Reward)
	assert.False(t, b.HasHunter())

	_, err := f.ledger.Submit(ctx, hunter1, id, "poc")
	require.NoError(t, err)
	b = f.ledger.Bounty(id)
	assert.Equal(t, StatusSubmitted, b.Status)
	assert.Equal(t, hunter1, b.Hunter)
	assert.Equal(t, "poc", b.Submission)

	r, err := f.ledger.Approve(ctx, creator, id)
	require.NoError(t, err)
	assert.Equal(t, milliEther(950), r.Amount)
	assert.Equal(t, milliEther(950), f.vault.BalanceOf(hunter1))
	assert.Equal(t, milliEther(50), f.ledger.FeesCollected())
	assert.Equal(t, StatusApproved, f.ledger.Bounty(id).Status)
	require.Len(t, r.Events, 1)
	assert.Equal(t, EventApproved, r.Events[0].Kind)
	assert.Equal(t, hunter1, r.Events[0].Account)

	before := f.ledger.Bounty(id)
	_, err = f.ledger.Approve(ctx, creator, id)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, before, f.ledger.Bounty(id))
	assert.Equal(t, milliEther(950), f.vault.BalanceOf(hunter1))
	assert.Equal(t, milliEther(50), f.ledger.FeesCollected())
}

func TestCancelScenario(t *testing.T) {
	f := newFixture(t, 500)
	ctx := context.Background()

	f.create(t, ether(1))
	id := f.create(t, ether(2))
	assert.Equal(t, uint64(1), id)
	assert.Equal(t, ether(97), f.vault.BalanceOf(creator))

	r, err := f.ledger.Cancel(ctx, creator, id)
	require.NoError(t, err)
	assert.Equal(t, ether(2), r.Amount)
	assert.Equal(t, ether(99), f.vault.BalanceOf(creator))
	assert.Equal(t, StatusCancelled, f.ledger.Bounty(id).Status)

	_, err = f.ledger.Cancel(ctx, creator, id)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, ether(99), f.vault.BalanceOf(creator))
}

func TestRejectReopensForNextHunter(t *testing.T) {
	f := newFixture(t, 500)
	ctx := context.Background()

	f.create(t, ether(1))
	f.create(t, ether(1))
	id := f.create(t, ether(1))
	assert.Equal(t, uint64(2), id)

	_, err := f.ledger.Submit(ctx, hunter1, id, "first try")
	require.NoError(t, err)

	_, err = f.ledger.Reject(ctx, creator, id)
	require.NoError(t, err)
	b := f.ledger.Bounty(id)
	assert.Equal(t, StatusOpen, b.Status)
	assert.False(t, b.HasHunter())
	assert.Empty(t, b.Submission)

	_, err = f.ledger.Submit(ctx, hunter2, id, "second try")
	require.NoError(t, err)
	b = f.ledger.Bounty(id)
	assert.Equal(t, StatusSubmitted, b.Status)
	assert.Equal(t, hunter2, b.Hunter)
	assert.Equal(t, "second try", b.Submission)
}

func TestFeeArithmetic(t *testing.T) {
	cases := []struct {
		name   string
		reward *big.Int
		bps    uint64
		fee    *big.Int
	}{
		{"five percent", ether(1), 500, milliEther(50)},
		{"floors remainder", big.NewInt(199), 500, big.NewInt(9)},
		{"zero fee", big.NewInt(12345), 0, big.NewInt(0)},
		{"full fee", big.NewInt(777), MaxFeeBps, big.NewInt(777)},
		{"one wei", big.NewInt(1), 9999, big.NewInt(0)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.bps)
			ctx := context.Background()
			id := f.create(t, tc.reward)
			_, err := f.ledger.Submit(ctx, hunter1, id, "work")
			require.NoError(t, err)
			r, err := f.ledger.Approve(ctx, creator, id)
			require.NoError(t, err)

			assert.Equal(t, tc.fee.String(), f.ledger.FeesCollected().String())
			assert.Equal(t, tc.reward, new(big.Int).Add(r.Amount, f.ledger.FeesCollected()))
			assert.Equal(t, 0, f.vault.Custody().Cmp(tc.fee))
		})
	}
}

func TestTransitionsRejectedOutsideEdges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 500)

	open := f.create(t, ether(1))
	_, err := f.ledger.Approve(ctx, creator, open)
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = f.ledger.Reject(ctx, creator, open)
	assert.ErrorIs(t, err, ErrInvalidState)

	submitted := f.create(t, ether(1))
	_, err = f.ledger.Submit(ctx, hunter1, submitted, "work")
	require.NoError(t, err)
	_, err = f.ledger.Cancel(ctx, creator, submitted)
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = f.ledger.Submit(ctx, hunter2, submitted, "late")
	assert.ErrorIs(t, err, ErrInvalidState)

	cancelled := f.create(t, ether(1))
	_, err = f.ledger.Cancel(ctx, creator, cancelled)
	require.NoError(t, err)
	for name, call := range map[string]func() (Receipt, error){
		"submit":  func() (Receipt, error) { return f.ledger.Submit(ctx, hunter1, cancelled, "x") },
		"approve": func() (Receipt, error) { return f.ledger.Approve(ctx, creator, cancelled) },
		"reject":  func() (Receipt, error) { return f.ledger.Reject(ctx, creator, cancelled) },
		"cancel":  func() (Receipt, error) { return f.ledger.Cancel(ctx, creator, cancelled) },
	} {
		_, err := call()
		assert.ErrorIs(t, err, ErrInvalidState, name)
	}
}

func TestRoleChecks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 500)
	id := f.create(t, ether(1))

	_, err := f.ledger.Cancel(ctx, hunter1, id)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.ledger.Submit(ctx, hunter1, id, "work")
	require.NoError(t, err)
	_, err = f.ledger.Approve(ctx, hunter1, id)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.ledger.Reject(ctx, hunter2, id)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.ledger.WithdrawFees(ctx, creator)
	assert.ErrorIs(t, err, ErrUnauthorized)

	var lerr *Error
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, "withdrawFees", lerr.Op)
}

func TestUnknownBounty(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 500)

	_, err := f.ledger.Submit(ctx, hunter1, 42, "work")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.ledger.Approve(ctx, creator, 42)
	assert.ErrorIs(t, err, ErrNotFound)

	b := f.ledger.Bounty(42)
	assert.Equal(t, uint64(42), b.ID)
	assert.False(t, b.Exists())
	assert.Equal(t, 0, b.Reward.Sign())
	assert.Equal(t, common.Address{}, f.ledger.Summary(42).Creator)
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 500)

	_, err := f.ledger.Create(ctx, creator, f.weekOut(), "zero", big.NewInt(0))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	now := uint64(f.clock.Now().Unix())
	_, err = f.ledger.Create(ctx, creator, now, "past", ether(1))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = f.ledger.Create(ctx, hunter1, f.weekOut(), "broke", ether(1))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	assert.Equal(t, uint64(0), f.ledger.BountyCount())
	assert.Equal(t, 0, f.vault.Custody().Sign())
	assert.Equal(t, uint64(0), f.ledger.Events().Last())
}

func TestSubmitPolicies(t *testing.T) {
	ctx := context.Background()

	t.Run("expiry advisory by default", func(t *testing.T) {
		f := newFixture(t, 500)
		id := f.create(t, ether(1))
		f.clock.Advance(8 * 24 * time.Hour)
		assert.True(t, f.ledger.Expired(f.ledger.Bounty(id)))
		_, err := f.ledger.Submit(ctx, hunter1, id, "late but accepted")
		assert.NoError(t, err)
	})

	t.Run("expiry enforced", func(t *testing.T) {
		f := newFixture(t, 500, func(c *Config) { c.Policy.EnforceDeadlineOnSubmit = true })
		id := f.create(t, ether(1))
		f.clock.Advance(8 * 24 * time.Hour)
		_, err := f.ledger.Submit(ctx, hunter1, id, "late")
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("creator self submission", func(t *testing.T) {
		f := newFixture(t, 500, func(c *Config) { c.Policy.AllowCreatorSubmit = false })
		id := f.create(t, ether(1))
		_, err := f.ledger.Submit(ctx, creator, id, "mine")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("empty work", func(t *testing.T) {
		f := newFixture(t, 500)
		id := f.create(t, ether(1))
		_, err := f.ledger.Submit(ctx, hunter1, id, "   ")
		assert.ErrorIs(t, err, ErrInvalidArgument)
		assert.Equal(t, StatusOpen, f.ledger.Bounty(id).Status)
	})
}

func TestWithdrawFeesDrains(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1000)

	for i := 0; i < 3; i++ {
		id := f.create(t, ether(1))
		_, err := f.ledger.Submit(ctx, hunter1, id, "work")
		require.NoError(t, err)
		_, err = f.ledger.Approve(ctx, creator, id)
		require.NoError(t, err)
	}
	assert.Equal(t, milliEther(300), f.ledger.FeesCollected())

	r, err := f.ledger.WithdrawFees(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, milliEther(300), r.Amount)
	assert.Equal(t, 0, f.ledger.FeesCollected().Sign())
	assert.Equal(t, milliEther(300), f.vault.BalanceOf(owner))
	assert.Equal(t, milliEther(300), f.ledger.Stats().FeesWithdrawn)

	r, err = f.ledger.WithdrawFees(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 0, r.Amount.Sign())
	assert.Empty(t, r.Events)
}

func TestCustodyMatchesEscrowPlusFees(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 250)

	a := f.create(t, ether(3))
	b := f.create(t, ether(2))
	c := f.create(t, ether(1))
	_, err := f.ledger.Submit(ctx, hunter1, a, "a")
	require.NoError(t, err)
	_, err = f.ledger.Approve(ctx, creator, a)
	require.NoError(t, err)
	_, err = f.ledger.Cancel(ctx, creator, b)
	require.NoError(t, err)
	_, err = f.ledger.Submit(ctx, hunter2, c, "c")
	require.NoError(t, err)

	stats := f.ledger.Stats()
	expected := new(big.Int).Add(stats.Escrowed, stats.FeesCollected)
	assert.Equal(t, 0, f.vault.Custody().Cmp(expected))
	assert.Equal(t, ether(1), stats.Escrowed)
	assert.Equal(t, 1, stats.Approved)
	assert.Equal(t, 1, stats.Cancelled)
	assert.Equal(t, 1, stats.Submitted)
}

func TestListFiltersNewestFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 500)
	for i := 0; i < 5; i++ {
		f.create(t, ether(1))
	}
	_, err := f.ledger.Submit(ctx, hunter1, 1, "w")
	require.NoError(t, err)
	_, err = f.ledger.Cancel(ctx, creator, 3)
	require.NoError(t, err)

	all, total := f.ledger.List(FilterAll, 0, 0)
	assert.Equal(t, 5, total)
	assert.Equal(t, uint64(4), all[0].ID)

	open, total := f.ledger.List(FilterOpen, 0, 2)
	assert.Equal(t, 3, total)
	require.Len(t, open, 2)
	assert.Equal(t, []uint64{4, 2}, []uint64{open[0].ID, open[1].ID})

	page, _ := f.ledger.List(FilterOpen, 2, 2)
	require.Len(t, page, 1)
	assert.Equal(t, uint64(0), page[0].ID)

	done, _ := f.ledger.List(FilterDone, 0, 0)
	require.Len(t, done, 1)
	assert.Equal(t, uint64(3), done[0].ID)
}

type failingVault struct {
	*MemoryVault
	failPay bool
}

func (v *failingVault) Pay(ctx context.Context, to common.Address, amount *big.Int) error {
	if v.failPay {
		return ErrInsufficientFunds
	}
	return v.MemoryVault.Pay(ctx, to, amount)
}

func TestPayoutFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	vault := &failingVault{MemoryVault: NewMemoryVault()}
	vault.Fund(creator, ether(10))
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	l, err := New(ctx, Config{Owner: owner, PlatformFee: 500, Policy: DefaultPolicy(), Vault: vault, Clock: clock})
	require.NoError(t, err)

	r, err := l.Create(ctx, creator, uint64(clock.Now().Add(time.Hour).Unix()), "x", ether(1))
	require.NoError(t, err)
	_, err = l.Submit(ctx, hunter1, r.BountyID, "work")
	require.NoError(t, err)
	last := l.Events().Last()

	vault.failPay = true
	_, err = l.Approve(ctx, creator, r.BountyID)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	b := l.Bounty(r.BountyID)
	assert.Equal(t, StatusSubmitted, b.Status)
	assert.Equal(t, hunter1, b.Hunter)
	assert.Equal(t, 0, l.FeesCollected().Sign())
	assert.Equal(t, last, l.Events().Last())

	vault.failPay = false
	_, err = l.Approve(ctx, creator, r.BountyID)
	assert.NoError(t, err)
}

type failingStore struct {
	fail    bool
	commits []Commit
}

func (s *failingStore) Load(context.Context) (*Snapshot, error) {
	return &Snapshot{}, nil
}

func (s *failingStore) Apply(_ context.Context, c Commit) error {
	if s.fail {
		return errors.New("disk full")
	}
	s.commits = append(s.commits, c)
	return nil
}

func TestStoreFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{}
	f := newFixture(t, 500, func(c *Config) { c.Store = store })

	id := f.create(t, ether(1))
	require.Len(t, store.commits, 1)
	assert.Equal(t, uint64(1), store.commits[0].Events[0].Seq)

	store.fail = true
	_, err := f.ledger.Cancel(ctx, creator, id)
	require.Error(t, err)
	assert.Equal(t, StatusOpen, f.ledger.Bounty(id).Status)
	assert.Equal(t, ether(99), f.vault.BalanceOf(creator))
	assert.Equal(t, ether(1), f.vault.Custody())

	_, err = f.ledger.Create(ctx, creator, f.weekOut(), "y", ether(1))
	require.Error(t, err)
	assert.Equal(t, uint64(1), f.ledger.BountyCount())
	assert.Equal(t, ether(99), f.vault.BalanceOf(creator))
}

func TestReentrantHookSeesFinalState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 500)
	id := f.create(t, ether(1))
	_, err := f.ledger.Submit(ctx, hunter1, id, "work")
	require.NoError(t, err)

	var reentryErrs []error
	f.ledger.OnEvent(func(ev Event) {
		if ev.Kind != EventApproved {
			return
		}
		_, err := f.ledger.Approve(ctx, creator, ev.BountyID)
		reentryErrs = append(reentryErrs, err)
		_, err = f.ledger.Cancel(ctx, creator, ev.BountyID)
		reentryErrs = append(reentryErrs, err)
	})

	_, err = f.ledger.Approve(ctx, creator, id)
	require.NoError(t, err)
	require.Len(t, reentryErrs, 2)
	for _, err := range reentryErrs {
		assert.ErrorIs(t, err, ErrInvalidState)
	}
	assert.Equal(t, milliEther(950), f.vault.BalanceOf(hunter1))
}

func TestConcurrentWritesSettleEachBountyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 500)

	const bounties = 20
	for i := 0; i < bounties; i++ {
		id := f.create(t, ether(1))
		if i%2 == 0 {
			_, err := f.ledger.Submit(ctx, hunter1, id, "work")
			require.NoError(t, err)
		}
	}

	var (
		approved  atomic.Int64
		cancelled atomic.Int64
		withdrawn = new(big.Int)
		mu        sync.Mutex
		wg        sync.WaitGroup
	)
	settled := make([]atomic.Int32, bounties)
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < bounties; i++ {
				id := uint64((i + g) % bounties)
				if _, err := f.ledger.Approve(ctx, creator, id); err == nil {
					approved.Add(1)
					settled[id].Add(1)
				} else {
					assert.ErrorIs(t, err, ErrInvalidState)
				}
				if _, err := f.ledger.Cancel(ctx, creator, id); err == nil {
					cancelled.Add(1)
					settled[id].Add(1)
				} else {
					assert.ErrorIs(t, err, ErrInvalidState)
				}
				if r, err := f.ledger.WithdrawFees(ctx, owner); assert.NoError(t, err) {
					mu.Lock()
					withdrawn.Add(withdrawn, r.Amount)
					mu.Unlock()
				}
				_ = f.ledger.Bounty(id)
				_ = f.ledger.Stats()
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, int64(bounties/2), approved.Load())
	assert.Equal(t, int64(bounties/2), cancelled.Load())
	for id := range settled {
		assert.Equal(t, int32(1), settled[id].Load(), "bounty %d", id)
	}

	stats := f.ledger.Stats()
	assert.Equal(t, 0, stats.Escrowed.Sign())
	assert.Equal(t, 0, f.vault.Custody().Cmp(stats.FeesCollected))
	totalFees := new(big.Int).Add(withdrawn, stats.FeesCollected)
	assert.Equal(t, 0, totalFees.Cmp(milliEther(500)), "fees %s", totalFees)
	assert.Equal(t, 0, f.vault.BalanceOf(owner).Cmp(withdrawn))
	assert.Equal(t, 0, f.vault.BalanceOf(hunter1).Cmp(milliEther(9500)))
}

func TestHooksSeeEventsInOrderUnderConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	var (
		mu   sync.Mutex
		seqs []uint64
	)
	f.ledger.OnEvent(func(ev Event) {
		mu.Lock()
		seqs = append(seqs, ev.Seq)
		mu.Unlock()
	})
	sub, cancel := f.ledger.Events().Subscribe(100)
	defer cancel()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				_, err := f.ledger.Create(ctx, creator, f.weekOut(), "race", ether(1))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seqs, 80)
	for i, seq := range seqs {
		assert.Equal(t, uint64(i+1), seq)
	}
	for i := 1; i <= 80; i++ {
		ev := <-sub
		assert.Equal(t, uint64(i), ev.Seq)
	}
}

func TestReloadFromStore(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	f := newFixture(t, 500, func(c *Config) { c.Store = store })

	a := f.create(t, ether(1))
	f.create(t, ether(2))
	_, err := f.ledger.Submit(ctx, hunter1, a, "w")
	require.NoError(t, err)
	_, err = f.ledger.Approve(ctx, creator, a)
	require.NoError(t, err)

	vault := NewMemoryVault()
	reopened, err := New(ctx, Config{Owner: owner, PlatformFee: 500, Policy: DefaultPolicy(), Vault: vault, Store: store, Clock: f.clock})
	require.NoError(t, err)

	assert.Equal(t, uint64(2), reopened.BountyCount())
	assert.Equal(t, f.ledger.Bounty(a), reopened.Bounty(a))
	assert.Equal(t, milliEther(50), reopened.FeesCollected())
	assert.Equal(t, uint64(4), reopened.Events().Last())
	assert.Equal(t, 0, vault.Custody().Cmp(new(big.Int).Add(ether(2), milliEther(50))))
}

// memStore is a minimal Store for reload tests; the real implementations
// live in internal/store.
type memStore struct {
	snap Snapshot
}

func (s *memStore) Load(context.Context) (*Snapshot, error) {
	return &s.snap, nil
}

func (s *memStore) Apply(_ context.Context, c Commit) error {
	if c.Bounty != nil {
		if c.Bounty.ID == uint64(len(s.snap.Bounties)) {
			s.snap.Bounties = append(s.snap.Bounties, *c.Bounty)
		} else {
			s.snap.Bounties[c.Bounty.ID] = *c.Bounty
		}
	}
	s.snap.FeesCollected = c.FeesCollected
	s.snap.FeesWithdrawn = c.FeesWithdrawn
	s.snap.Events = append(s.snap.Events, c.Events...)
	return nil
}
