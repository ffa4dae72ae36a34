package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	measurementsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulse_spc",
			Name:      "measurements_ingested_total",
			Help:      "Total number of measurements accepted, partitioned by provider and model.",
		},
		[]string{"provider", "model"},
	)

	measurementsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulse_spc",
			Name:      "measurements_rejected_total",
			Help:      "Total number of measurements rejected, partitioned by reason.",
		},
		[]string{"reason"},
	)

	violationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulse_spc",
			Name:      "violations_total",
			Help:      "Total number of violations recorded, partitioned by rule and severity.",
		},
		[]string{"rule", "severity"},
	)

	alertAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulse_spc",
			Name:      "alert_attempts_total",
			Help:      "Total number of alert delivery attempts, partitioned by channel and status.",
		},
		[]string{"channel", "status"},
	)

	ingestDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pulse_spc",
			Name:      "ingest_seconds",
			Help:      "End-to-end ingest latency in seconds (persist, update, evaluate).",
			Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	probeDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pulse_spc",
			Name:      "probe_seconds",
			Help:      "Active probe round-trip latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider", "model"},
	)
)

// Register attaches pulse-spc collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		measurementsIngested,
		measurementsRejected,
		violationsTotal,
		alertAttemptsTotal,
		ingestDurationSeconds,
		probeDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveIngest records one accepted measurement and its processing latency.
func ObserveIngest(provider, model string, duration time.Duration) {
	measurementsIngested.WithLabelValues(provider, model).Inc()
	if duration < 0 {
		duration = 0
	}
	ingestDurationSeconds.Observe(duration.Seconds())
}

// RejectIngest records one rejected measurement.
func RejectIngest(reason string) {
	measurementsRejected.WithLabelValues(reason).Inc()
}

// ObserveViolation records one recorded violation.
func ObserveViolation(rule, severity string) {
	violationsTotal.WithLabelValues(rule, severity).Inc()
}

// ObserveAlertAttempt records one alert delivery attempt outcome.
func ObserveAlertAttempt(channel, status string) {
	alertAttemptsTotal.WithLabelValues(channel, status).Inc()
}

// ObserveProbe records one active probe round trip.
func ObserveProbe(provider, model string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	probeDurationSeconds.WithLabelValues(provider, model).Observe(duration.Seconds())
}
