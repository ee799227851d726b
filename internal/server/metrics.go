package server

import (
	"math/big"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bountyboard/internal/escrow"
	"bountyboard/internal/ledger"
)

type metricsRegistry struct {
	registry      *prometheus.Registry
	writesTotal   *prometheus.CounterVec
	replaysTotal  *prometheus.CounterVec
	bounties      *prometheus.GaugeVec
	feesCollected prometheus.Gauge
	escrowed      prometheus.Gauge
	monitorBlock  prometheus.Gauge
}

func newMetricsRegistry() *metricsRegistry {
	writes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bountyboard_writes_total",
		Help: "Write operations by outcome",
	}, []string{"op", "result"})

	replays := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bountyboard_idempotent_replays_total",
		Help: "Write requests answered from the idempotency store",
	}, []string{"op"})

	bounties := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bountyboard_bounties",
		Help: "Bounties by status",
	}, []string{"status"})

	fees := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bountyboard_fees_collected_wei",
		Help: "Platform fees awaiting withdrawal",
	})

	escrowed := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bountyboard_escrowed_wei",
		Help: "Rewards held for open and submitted bounties",
	})

	monitorBlock := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bountyboard_monitor_next_block",
		Help: "Next block the chain monitor will scan",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(writes, replays, bounties, fees, escrowed, monitorBlock)

	return &metricsRegistry{
		registry:      r,
		writesTotal:   writes,
		replaysTotal:  replays,
		bounties:      bounties,
		feesCollected: fees,
		escrowed:      escrowed,
		monitorBlock:  monitorBlock,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incOp(op, result string) {
	m.writesTotal.WithLabelValues(op, result).Inc()
}

func (m *metricsRegistry) incReplay(op string) {
	m.replaysTotal.WithLabelValues(op).Inc()
}

func (m *metricsRegistry) setStats(s ledger.Stats) {
	m.bounties.WithLabelValues(ledger.StatusOpen.String()).Set(float64(s.Open))
	m.bounties.WithLabelValues(ledger.StatusSubmitted.String()).Set(float64(s.Submitted))
	m.bounties.WithLabelValues(ledger.StatusApproved.String()).Set(float64(s.Approved))
	m.bounties.WithLabelValues(ledger.StatusCancelled.String()).Set(float64(s.Cancelled))
	m.setFees(s.FeesCollected)
	m.escrowed.Set(weiFloat(s.Escrowed))
}

func (m *metricsRegistry) setFees(v *big.Int) {
	m.feesCollected.Set(weiFloat(v))
}

func (m *metricsRegistry) setMonitor(h escrow.MonitorHealth) {
	m.monitorBlock.Set(float64(h.NextBlock))
}

// weiFloat is lossy above 2^53 wei.
func weiFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
