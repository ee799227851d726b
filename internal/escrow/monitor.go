package escrow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"bountyboard/internal/contracts"
	"bountyboard/internal/ledger"
)

const MonitorName = "bounty monitor"

// LogSource is the part of a node the monitor polls.
type LogSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

type MonitorConfig struct {
	Contract      common.Address
	StartBlock    uint64
	MaxRange      uint64
	Confirmations uint64
	Interval      time.Duration
	Clock         clockwork.Clock
}

type MonitorHealth struct {
	Name         string    `json:"name"`
	LastSyncTime time.Time `json:"lastSyncTime"`
	NextSyncTime time.Time `json:"nextSyncTime"`
	NextBlock    uint64    `json:"nextBlock"`
	HeadBlock    uint64    `json:"headBlock"`
	Healthy      bool      `json:"healthy"`
	LastError    string    `json:"lastError,omitempty"`
}

// Monitor mirrors the contract's events into an event log. It polls in
// bounded block ranges and only advances past ranges it fully recorded.
type Monitor struct {
	source LogSource
	abi    abi.ABI
	cfg    MonitorConfig
	events *ledger.EventLog
	topics []common.Hash

	mu        sync.Mutex // serialises Sync
	nextBlock uint64

	sched  gocron.Scheduler
	cancel context.CancelFunc

	healthMu sync.RWMutex
	health   MonitorHealth
}

func NewMonitor(source LogSource, cfg MonitorConfig, events *ledger.EventLog) (*Monitor, error) {
	if source == nil || events == nil {
		return nil, errors.New("monitor needs a log source and an event log")
	}
	parsed, err := contracts.ParsedBountyBoard()
	if err != nil {
		return nil, err
	}
	if cfg.MaxRange == 0 {
		cfg.MaxRange = 100000
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	m := &Monitor{
		source:    source,
		abi:       parsed,
		cfg:       cfg,
		events:    events,
		nextBlock: cfg.StartBlock,
		health:    MonitorHealth{Name: MonitorName},
	}
	for _, name := range []string{contracts.EventCreated, contracts.EventSubmitted, contracts.EventApproved, contracts.EventRejected, contracts.EventCancelled} {
		m.topics = append(m.topics, parsed.Events[name].ID)
	}
	return m, nil
}

// Start schedules Sync every interval, starting immediately.
func (m *Monitor) Start() error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	_, err = sched.NewJob(
		gocron.DurationJob(m.cfg.Interval),
		gocron.NewTask(func() {
			syncCtx, done := context.WithTimeout(ctx, m.cfg.Interval)
			defer done()
			if err := m.Sync(syncCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("[MONITOR] Sync failed")
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		cancel()
		_ = sched.Shutdown()
		return err
	}
	m.sched = sched
	m.cancel = cancel
	sched.Start()
	log.WithFields(log.Fields{
		"contract":    m.cfg.Contract.Hex(),
		"start_block": m.cfg.StartBlock,
		"interval":    m.cfg.Interval,
	}).Info("[MONITOR] Starting service")
	return nil
}

func (m *Monitor) Stop() error {
	if m.sched == nil {
		return nil
	}
	log.Debug("[MONITOR] Stopping service")
	m.cancel()
	err := m.sched.Shutdown()
	m.sched = nil
	log.Info("[MONITOR] Stopped service")
	return err
}

// Sync records every confirmed event since the last synced block.
func (m *Monitor) Sync(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	head, err := m.source.BlockNumber(ctx)
	if err != nil {
		m.updateHealth(head, err)
		return fmt.Errorf("block number: %w", err)
	}
	if head < m.cfg.Confirmations {
		m.updateHealth(head, nil)
		return nil
	}
	target := head - m.cfg.Confirmations
	if target < m.nextBlock {
		log.Debug("[MONITOR] No new blocks to sync")
		m.updateHealth(head, nil)
		return nil
	}

	for from := m.nextBlock; from <= target; from += m.cfg.MaxRange {
		to := from + m.cfg.MaxRange - 1
		if to > target {
			to = target
		}
		if err := m.syncRange(ctx, from, to); err != nil {
			m.updateHealth(head, err)
			return err
		}
		m.nextBlock = to + 1
	}
	m.updateHealth(head, nil)
	return nil
}

func (m *Monitor) syncRange(ctx context.Context, from, to uint64) error {
	log.WithFields(log.Fields{"from": from, "to": to}).Debug("[MONITOR] Syncing events")
	logs, err := m.source.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{m.cfg.Contract},
		Topics:    [][]common.Hash{m.topics},
	})
	if err != nil {
		return fmt.Errorf("filter logs %d-%d: %w", from, to, err)
	}

	now := m.cfg.Clock.Now().UTC()
	var batch []ledger.Event
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		ev, err := DecodeLog(m.abi, lg)
		if err != nil {
			log.WithError(err).Warn("[MONITOR] Skipping undecodable log")
			continue
		}
		ev.Time = now
		batch = append(batch, ev)
	}
	if len(batch) > 0 {
		m.events.Append(batch...)
		log.WithFields(log.Fields{"from": from, "to": to, "events": len(batch)}).Info("[MONITOR] Recorded events")
	}
	return nil
}

func (m *Monitor) updateHealth(head uint64, err error) {
	m.healthMu.Lock()
	defer m.healthMu.Unlock()
	now := m.cfg.Clock.Now()
	m.health = MonitorHealth{
		Name:         MonitorName,
		LastSyncTime: now,
		NextSyncTime: now.Add(m.cfg.Interval),
		NextBlock:    m.nextBlock,
		HeadBlock:    head,
		Healthy:      err == nil,
	}
	if err != nil {
		m.health.LastError = err.Error()
	}
}

func (m *Monitor) Health() MonitorHealth {
	m.healthMu.RLock()
	defer m.healthMu.RUnlock()
	return m.health
}

// NextBlock is the first block not yet synced.
func (m *Monitor) NextBlock() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextBlock
}
