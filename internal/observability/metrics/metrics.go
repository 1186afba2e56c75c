package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "agrisense_"

	resultSuccess = "success"
	resultError   = "error"
	resultDegrade = "degraded"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	consumerTotal   *prometheus.CounterVec
	consumerLatency *prometheus.HistogramVec

	alertsCreated *prometheus.CounterVec

	historyTotal   *prometheus.CounterVec
	historyLatency *prometheus.HistogramVec

	realtimeSignals *prometheus.CounterVec

	dispatchTotal *prometheus.CounterVec

	autogenDevices prometheus.Gauge
)

// Init registers metrics. A non-nil db adds DB-backed gauges.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total reading submissions by transport and result",
			},
			[]string{"transport", "result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Reading submission latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"transport"},
		)

		consumerTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "event_consumer_total",
				Help: "Event consumer invocations by consumer and result",
			},
			[]string{"consumer", "result"},
		)
		consumerLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "event_consumer_latency_seconds",
				Help:    "Event consumer latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"consumer"},
		)

		alertsCreated = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_created_total",
				Help: "Alerts created by parameter and severity",
			},
			[]string{"parameter", "severity"},
		)

		historyTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "history_queries_total",
				Help: "History queries by window and result",
			},
			[]string{"window", "result"},
		)
		historyLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "history_query_latency_seconds",
				Help:    "History query latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"window"},
		)

		realtimeSignals = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "realtime_signals_total",
				Help: "Realtime signal deliveries by outcome",
			},
			[]string{"outcome"},
		)

		dispatchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_dispatch_total",
				Help: "Alert deliveries by result",
			},
			[]string{"result"},
		)

		autogenDevices = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "autogen_devices",
				Help: "Devices with auto-generation enabled",
			},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			consumerTotal,
			consumerLatency,
			alertsCreated,
			historyTotal,
			historyLatency,
			realtimeSignals,
			dispatchTotal,
			autogenDevices,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records a submission result and duration.
func ObserveIngest(transport, result string, duration time.Duration) {
	if transport == "" {
		transport = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(transport, result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(transport).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// ObserveConsumer records an event consumer invocation.
func ObserveConsumer(consumer string, err error, duration time.Duration) {
	if consumer == "" {
		consumer = "unknown"
	}
	result := resultSuccess
	if err != nil {
		result = resultError
	}
	if consumerTotal != nil {
		consumerTotal.WithLabelValues(consumer, result).Inc()
	}
	if consumerLatency != nil {
		consumerLatency.WithLabelValues(consumer).Observe(duration.Seconds())
	}
}

// IncAlertCreated increments created alert counter.
func IncAlertCreated(parameter, severity string) {
	if alertsCreated != nil {
		alertsCreated.WithLabelValues(parameter, severity).Inc()
	}
}

// ObserveHistory records a history query.
func ObserveHistory(window, result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if historyTotal != nil {
		historyTotal.WithLabelValues(window, result).Inc()
	}
	if historyLatency != nil {
		historyLatency.WithLabelValues(window).Observe(duration.Seconds())
	}
}

// IncRealtimeSignal counts a signal delivery outcome (delivered, dropped, timeout).
func IncRealtimeSignal(outcome string) {
	if realtimeSignals != nil {
		realtimeSignals.WithLabelValues(outcome).Inc()
	}
}

// IncDispatch counts an alert delivery result.
func IncDispatch(result string) {
	if result == "" {
		result = resultSuccess
	}
	if dispatchTotal != nil {
		dispatchTotal.WithLabelValues(result).Inc()
	}
}

// SetAutogenDevices sets the number of auto-generating devices.
func SetAutogenDevices(count int) {
	if autogenDevices != nil {
		autogenDevices.Set(float64(count))
	}
}

// Exported constants for callers.
const (
	ResultSuccess  = resultSuccess
	ResultError    = resultError
	ResultDegraded = resultDegrade
)
