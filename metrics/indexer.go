package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metricer interface {
	RecordDay(date time.Time) func(err error)
	RecordCursor(chainID uint64, block uint64)
	RecordEvents(chainID uint64, kind string, n int)
	RecordRecovery(date time.Time)
	RecordStaleAsset(asset string, stale bool)
}

type IndexerMetrics struct {
	dayDuration *prometheus.HistogramVec
	lastDay     prometheus.Gauge
	cursors     *prometheus.GaugeVec
	events      *prometheus.CounterVec
	recoveries  prometheus.Counter
	staleAssets *prometheus.GaugeVec
	dayFailures prometheus.Counter
}

func NewIndexerMetrics(registry *prometheus.Registry) *IndexerMetrics {
	m := &IndexerMetrics{
		dayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "day_duration_seconds",
			Help:      "wall time spent processing one UTC day",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"status"}),
		lastDay: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_finalized_day",
			Help:      "unix time of the last day with a finalized snapshot",
		}),
		cursors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_processed_block",
			Help:      "progress cursor per chain",
		}, []string{"chain_id"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "recorded_events_total",
			Help:      "decoded events recorded per chain and kind",
		}, []string{"chain_id", "kind"}),
		recoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "recoveries_total",
			Help:      "partial days rolled back and reprocessed",
		}),
		staleAssets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "stale_valuation",
			Help:      "1 when the asset's last revaluation had no usable price",
		}, []string{"asset"}),
		dayFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "day_failures_total",
			Help:      "days aborted before finalization",
		}),
	}
	registry.MustRegister(m.dayDuration, m.lastDay, m.cursors, m.events, m.recoveries, m.staleAssets, m.dayFailures)
	return m
}

func (m *IndexerMetrics) RecordDay(date time.Time) func(err error) {
	start := time.Now()
	return func(err error) {
		status := "ok"
		if err != nil {
			status = "failed"
			m.dayFailures.Inc()
		} else {
			m.lastDay.Set(float64(date.Unix()))
		}
		m.dayDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}
}

func (m *IndexerMetrics) RecordCursor(chainID uint64, block uint64) {
	m.cursors.WithLabelValues(strconv.FormatUint(chainID, 10)).Set(float64(block))
}

func (m *IndexerMetrics) RecordEvents(chainID uint64, kind string, n int) {
	m.events.WithLabelValues(strconv.FormatUint(chainID, 10), kind).Add(float64(n))
}

func (m *IndexerMetrics) RecordRecovery(time.Time) {
	m.recoveries.Inc()
}

func (m *IndexerMetrics) RecordStaleAsset(asset string, stale bool) {
	v := 0.0
	if stale {
		v = 1
	}
	m.staleAssets.WithLabelValues(asset).Set(v)
}

type noopMetrics struct{}

var NoopMetrics Metricer = noopMetrics{}

func (noopMetrics) RecordDay(time.Time) func(error)  { return func(error) {} }
func (noopMetrics) RecordCursor(uint64, uint64)      {}
func (noopMetrics) RecordEvents(uint64, string, int) {}
func (noopMetrics) RecordRecovery(time.Time)         {}
func (noopMetrics) RecordStaleAsset(string, bool)    {}
