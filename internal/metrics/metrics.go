// Package metrics records engine and connection activity as Prometheus
// collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/wingo/internal/round"
)

// Collector implements engine.Metrics and server.ConnectionMetrics.
type Collector struct {
	registry *prometheus.Registry

	betsPlaced      *prometheus.CounterVec
	betsRejected    *prometheus.CounterVec
	staked          *prometheus.CounterVec
	paid            *prometheus.CounterVec
	roundsCompleted *prometheus.CounterVec
	settleRetries   *prometheus.CounterVec
	settleDuration  *prometheus.HistogramVec
	connections     prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		betsPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wingo_bets_placed_total",
			Help: "Bets admitted by mode and kind.",
		}, []string{"mode", "kind"}),
		betsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wingo_bets_rejected_total",
			Help: "Bets rejected by mode and reason.",
		}, []string{"mode", "reason"}),
		staked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wingo_staked_total",
			Help: "Minor units debited for bets.",
		}, []string{"mode"}),
		paid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wingo_paid_total",
			Help: "Minor units credited to winners.",
		}, []string{"mode"}),
		roundsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wingo_rounds_completed_total",
			Help: "Rounds settled and completed.",
		}, []string{"mode"}),
		settleRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wingo_settlement_retries_total",
			Help: "Credit attempts retried after a ledger failure.",
		}, []string{"mode"}),
		settleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wingo_settle_duration_seconds",
			Help:    "Time from lock to completion.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"mode"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wingo_ws_connections",
			Help: "Open websocket connections.",
		}),
	}
	c.registry.MustRegister(
		c.betsPlaced,
		c.betsRejected,
		c.staked,
		c.paid,
		c.roundsCompleted,
		c.settleRetries,
		c.settleDuration,
		c.connections,
	)
	return c
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) BetPlaced(mode round.Mode, kind round.Kind, amount int64) {
	c.betsPlaced.WithLabelValues(string(mode), string(kind)).Inc()
	c.staked.WithLabelValues(string(mode)).Add(float64(amount))
}

func (c *Collector) BetRejected(mode round.Mode, code string) {
	c.betsRejected.WithLabelValues(string(mode), code).Inc()
}

func (c *Collector) RoundCompleted(mode round.Mode, bets int, staked, paid int64, settle time.Duration) {
	c.roundsCompleted.WithLabelValues(string(mode)).Inc()
	c.paid.WithLabelValues(string(mode)).Add(float64(paid))
	c.settleDuration.WithLabelValues(string(mode)).Observe(settle.Seconds())
}

func (c *Collector) SettlementRetry(mode round.Mode) {
	c.settleRetries.WithLabelValues(string(mode)).Inc()
}

func (c *Collector) ConnectionOpened() { c.connections.Inc() }

func (c *Collector) ConnectionClosed() { c.connections.Dec() }
