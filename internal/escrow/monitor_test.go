package escrow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"bountyboard/internal/contracts"
	"bountyboard/internal/ledger"
)

type fakeChain struct {
	mu      sync.Mutex
	head    uint64
	logs    []types.Log
	queries [][2]uint64
	failAt  uint64 // FromBlock that errors, 0 disables
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeChain) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	f.queries = append(f.queries, [2]uint64{from, to})
	if f.failAt != 0 && from == f.failAt {
		return nil, errors.New("rpc timeout")
	}
	var out []types.Log
	for _, lg := range f.logs {
		if lg.BlockNumber >= from && lg.BlockNumber <= to {
			out = append(out, lg)
		}
	}
	return out, nil
}

func newTestMonitor(t *testing.T, chain *fakeChain, cfg MonitorConfig) (*Monitor, *ledger.EventLog) {
	t.Helper()
	cfg.Contract = boardAddress
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	}
	events := ledger.NewEventLog()
	m, err := NewMonitor(chain, cfg, events)
	require.NoError(t, err)
	return m, events
}

func TestMonitorSyncsInChunks(t *testing.T) {
	chain := &fakeChain{head: 250}
	chain.logs = []types.Log{
		contractLog(t, contracts.EventCreated, 10, 0, &creator, ether(1)),
		contractLog(t, contracts.EventSubmitted, 120, 0, &hunter, nil),
		contractLog(t, contracts.EventApproved, 199, 0, &hunter, ether(1)),
		contractLog(t, contracts.EventCreated, 249, 1, &creator, ether(2)),
	}
	m, events := newTestMonitor(t, chain, MonitorConfig{StartBlock: 0, MaxRange: 100, Confirmations: 5})

	require.NoError(t, m.Sync(context.Background()))
	assert.Equal(t, [][2]uint64{{0, 99}, {100, 199}, {200, 245}}, chain.queries)
	assert.Equal(t, uint64(246), m.NextBlock())

	got := events.Since(0, 0)
	require.Len(t, got, 3)
	assert.Equal(t, ledger.EventCreated, got[0].Kind)
	assert.Equal(t, ledger.EventApproved, got[2].Kind)
	assert.Equal(t, uint64(3), got[2].Seq)

	chain.head = 260
	require.NoError(t, m.Sync(context.Background()))
	got = events.Since(3, 0)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(1), got[0].BountyID)

	h := m.Health()
	assert.True(t, h.Healthy)
	assert.Equal(t, uint64(260), h.HeadBlock)
	assert.Equal(t, MonitorName, h.Name)
}

func TestMonitorDoesNotAdvancePastFailedRange(t *testing.T) {
	chain := &fakeChain{head: 300, failAt: 100}
	chain.logs = []types.Log{contractLog(t, contracts.EventCreated, 50, 0, &creator, ether(1))}
	m, events := newTestMonitor(t, chain, MonitorConfig{MaxRange: 100})

	err := m.Sync(context.Background())
	require.Error(t, err)
	assert.Equal(t, uint64(100), m.NextBlock())
	assert.Equal(t, uint64(1), events.Last())
	assert.False(t, m.Health().Healthy)
	assert.Contains(t, m.Health().LastError, "rpc timeout")

	chain.failAt = 0
	require.NoError(t, m.Sync(context.Background()))
	assert.Equal(t, uint64(301), m.NextBlock())
	assert.Equal(t, uint64(1), events.Last())
}

func TestMonitorWaitsForConfirmations(t *testing.T) {
	chain := &fakeChain{head: 3}
	m, _ := newTestMonitor(t, chain, MonitorConfig{Confirmations: 12})
	require.NoError(t, m.Sync(context.Background()))
	assert.Empty(t, chain.queries)
	assert.Equal(t, uint64(0), m.NextBlock())
}

func TestMonitorStartStopDoesNotLeak(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	chain := &fakeChain{head: 20}
	chain.logs = []types.Log{contractLog(t, contracts.EventCreated, 7, 0, &creator, ether(1))}
	m, events := newTestMonitor(t, chain, MonitorConfig{Interval: 20 * time.Millisecond, Clock: clockwork.NewRealClock()})

	require.NoError(t, m.Start())
	assert.Eventually(t, func() bool { return events.Last() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())
}
