package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics - счетчики леджера, выплат и HTTP. Методы безопасны для nil
type Metrics struct {
	ledgerEntries     *prometheus.CounterVec
	ledgerPoints      *prometheus.CounterVec
	balanceConflicts  prometheus.Counter
	earningRejections *prometheus.CounterVec
	payoutTransitions *prometheus.CounterVec
	notifyFailures    *prometheus.CounterVec
	ledgerDrift       prometheus.Gauge
	httpDuration      *prometheus.HistogramVec
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// Default - метрики в глобальном реестре (их отдает /metrics)
func Default() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = New(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		ledgerEntries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reward",
			Subsystem: "ledger",
			Name:      "entries_total",
			Help:      "Committed ledger entries by type",
		}, []string{"type"}),
		ledgerPoints: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reward",
			Subsystem: "ledger",
			Name:      "points_total",
			Help:      "Absolute points moved by committed ledger entries, by type and direction",
		}, []string{"type", "direction"}),
		balanceConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "reward",
			Subsystem: "balance",
			Name:      "conflicts_total",
			Help:      "Balance mutations retried after a storage conflict",
		}),
		earningRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reward",
			Subsystem: "earning",
			Name:      "rejections_total",
			Help:      "Earning attempts rejected by eligibility rules",
		}, []string{"source", "kind"}),
		payoutTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reward",
			Subsystem: "payout",
			Name:      "transitions_total",
			Help:      "Payout state transitions",
		}, []string{"action"}),
		notifyFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reward",
			Subsystem: "notify",
			Name:      "failures_total",
			Help:      "Notification deliveries that failed, by sink",
		}, []string{"sink"}),
		ledgerDrift: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "reward",
			Subsystem: "ledger",
			Name:      "drift_users",
			Help:      "Users whose balance disagrees with their ledger at the last reconciliation",
		}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "reward",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) LedgerEntry(typ string, points int64) {
	if m == nil {
		return
	}
	m.ledgerEntries.WithLabelValues(typ).Inc()
	direction := "credit"
	if points < 0 {
		direction = "debit"
		points = -points
	}
	m.ledgerPoints.WithLabelValues(typ, direction).Add(float64(points))
}

func (m *Metrics) BalanceConflict() {
	if m == nil {
		return
	}
	m.balanceConflicts.Inc()
}

func (m *Metrics) EarningRejected(source, kind string) {
	if m == nil {
		return
	}
	m.earningRejections.WithLabelValues(source, kind).Inc()
}

func (m *Metrics) PayoutTransition(action string) {
	if m == nil {
		return
	}
	m.payoutTransitions.WithLabelValues(action).Inc()
}

func (m *Metrics) NotifyFailed(sink string) {
	if m == nil {
		return
	}
	m.notifyFailures.WithLabelValues(sink).Inc()
}

func (m *Metrics) SetLedgerDrift(n int) {
	if m == nil {
		return
	}
	m.ledgerDrift.Set(float64(n))
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
