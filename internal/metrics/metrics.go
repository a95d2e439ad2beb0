// Package metrics holds the Prometheus collectors of the lending service.
// All recording methods are safe on a nil *Metrics, so components built
// without metrics (tests, the CLI) need no special casing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lendpool"

// Metrics groups every collector.
type Metrics struct {
	registry *prometheus.Registry

	Operations      *prometheus.CounterVec
	Rejections      *prometheus.CounterVec
	OperationTime   *prometheus.HistogramVec
	Liquidations    *prometheus.CounterVec
	SeizedUnits     *prometheus.CounterVec
	TransferBacklog prometheus.Gauge
	Dispatches      *prometheus.CounterVec
	OracleAge       prometheus.Gauge
	AtRiskAccounts  *prometheus.GaugeVec
	WSClients       prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Ledger operations by kind and result",
		}, []string{"op", "result"}),
		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Rejected operations by error kind",
		}, []string{"op", "kind"}),
		OperationTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Wall time of ledger operations including the database transaction",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"op"}),
		Liquidations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liquidations_total",
			Help:      "Executed liquidations per pool",
		}, []string{"pool_id"}),
		SeizedUnits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liquidation_seized_units_total",
			Help:      "Collateral base units seized by liquidations per pool (approximate above 2^53)",
		}, []string{"pool_id"}),
		TransferBacklog: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transfer_backlog",
			Help:      "Outbound transfers not yet settled",
		}),
		Dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_dispatch_total",
			Help:      "Transfer delivery attempts by outcome",
		}, []string{"outcome"}),
		OracleAge: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "oracle_age_seconds",
			Help:      "Age of the current price data",
		}),
		AtRiskAccounts: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "at_risk_accounts",
			Help:      "Borrowing accounts by risk level at the last scan",
		}, []string{"level"}),
		WSClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "Connected websocket clients",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveOperation records one ledger operation. kind is empty on success.
func (m *Metrics) ObserveOperation(op string, started time.Time, kind string) {
	if m == nil {
		return
	}
	m.OperationTime.WithLabelValues(op).Observe(time.Since(started).Seconds())
	if kind == "" {
		m.Operations.WithLabelValues(op, "ok").Inc()
		return
	}
	m.Operations.WithLabelValues(op, "rejected").Inc()
	m.Rejections.WithLabelValues(op, kind).Inc()
}

// ObserveLiquidation records a liquidation of seized base units in poolID.
func (m *Metrics) ObserveLiquidation(poolID int64, seized float64) {
	if m == nil {
		return
	}
	id := strconv.FormatInt(poolID, 10)
	m.Liquidations.WithLabelValues(id).Inc()
	m.SeizedUnits.WithLabelValues(id).Add(seized)
}

// ObserveDispatch records one delivery attempt outcome.
func (m *Metrics) ObserveDispatch(outcome string) {
	if m == nil {
		return
	}
	m.Dispatches.WithLabelValues(outcome).Inc()
}

// SetTransferBacklog sets the unsettled transfer count.
func (m *Metrics) SetTransferBacklog(n int) {
	if m == nil {
		return
	}
	m.TransferBacklog.Set(float64(n))
}

// SetOracleAge sets the age of the current price data.
func (m *Metrics) SetOracleAge(age time.Duration) {
	if m == nil {
		return
	}
	m.OracleAge.Set(age.Seconds())
}

// SetAtRisk sets the per-level account counts from the last risk scan.
func (m *Metrics) SetAtRisk(liquidatable, warning int) {
	if m == nil {
		return
	}
	m.AtRiskAccounts.WithLabelValues("liquidatable").Set(float64(liquidatable))
	m.AtRiskAccounts.WithLabelValues("warning").Set(float64(warning))
}

// SetWSClients sets the connected websocket client count.
func (m *Metrics) SetWSClients(n int) {
	if m == nil {
		return
	}
	m.WSClients.Set(float64(n))
}
