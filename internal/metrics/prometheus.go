package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder exposes domain telemetry as Prometheus metrics.
type PrometheusRecorder struct {
	gasPriceWei    prometheus.Gauge
	estimatesTotal *prometheus.CounterVec

	batchesTotal *prometheus.CounterVec
	recordsTotal prometheus.Counter
	batchGasUsed prometheus.Histogram

	confirmLatency prometheus.Histogram

	runsTotal *prometheus.CounterVec

	alertsTotal *prometheus.CounterVec
}

// NewPrometheusRecorder creates and registers all metrics. A nil
// registerer falls back to the default registry.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		gasPriceWei: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "retroledger_gas_price_wei",
				Help: "Latest buffered and clamped gas price estimate in wei",
			},
		),

		estimatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retroledger_price_estimates_total",
				Help: "Price samples by source (oracle, node, default)",
			},
			[]string{"source"},
		),

		batchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retroledger_batches_total",
				Help: "Finished batches by status",
			},
			[]string{"status"},
		),

		recordsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "retroledger_records_submitted_total",
				Help: "Verification records landed in confirmed batches",
			},
		),

		batchGasUsed: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "retroledger_batch_gas_used",
				Help:    "Gas used per batch transaction",
				Buckets: []float64{25_000, 100_000, 250_000, 500_000, 1_000_000, 2_000_000, 3_000_000},
			},
		),

		confirmLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "retroledger_confirmation_latency_seconds",
				Help:    "Batch confirmation latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),

		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retroledger_runs_total",
				Help: "Submission runs by outcome",
			},
			[]string{"outcome"},
		),

		alertsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retroledger_price_alerts_total",
				Help: "Volatility alerts by direction",
			},
			[]string{"direction"},
		),
	}
}

// ObserveGasPrice records a fresh price sample.
func (m *PrometheusRecorder) ObserveGasPrice(priceWei uint64, source string) {
	m.gasPriceWei.Set(float64(priceWei))
	m.estimatesTotal.WithLabelValues(source).Inc()
}

// RecordBatch records one finished batch.
func (m *PrometheusRecorder) RecordBatch(status string, size int, gasUsed uint64) {
	m.batchesTotal.WithLabelValues(status).Inc()
	if status == StatusConfirmed {
		m.recordsTotal.Add(float64(size))
		m.batchGasUsed.Observe(float64(gasUsed))
	}
}

// ObserveConfirmation records batch confirmation latency.
func (m *PrometheusRecorder) ObserveConfirmation(d time.Duration) {
	m.confirmLatency.Observe(d.Seconds())
}

// RecordRun records one finished submission run.
func (m *PrometheusRecorder) RecordRun(success bool, batches int) {
	outcome := "completed"
	if !success {
		outcome = "failed"
	}
	m.runsTotal.WithLabelValues(outcome).Inc()
}

// RecordAlert records one volatility alert.
func (m *PrometheusRecorder) RecordAlert(direction string) {
	m.alertsTotal.WithLabelValues(direction).Inc()
}
