package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	JobsProcessed *prometheus.CounterVec
	EmailsSent    prometheus.Counter
	JobLatency    *prometheus.HistogramVec
	LastBatchSize prometheus.Gauge
	EventsDropped prometheus.Counter
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "email_jobs_processed_total",
			Help: "Queue entries processed, by outcome (sent, retry, failed, skipped).",
		}, []string{"outcome"}),

		EmailsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "emails_sent_total",
			Help: "Individual emails accepted by the mail provider.",
		}),

		JobLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "email_job_processing_seconds",
			Help:    "Time from picking up a queue entry to its final state write.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),

		LastBatchSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "email_last_batch_size",
			Help: "Number of queue entries fetched by the most recent poll.",
		}),

		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "delivery_events_dropped_total",
			Help: "Delivery events that could not be published to the broker.",
		}),
	}

	reg.MustRegister(
		m.JobsProcessed,
		m.EmailsSent,
		m.JobLatency,
		m.LastBatchSize,
		m.EventsDropped,
	)

	return m
}

// WorkerHooks returns the metric callback functions expected by worker.MetricHooks.
// Centralises the prometheus observation calls so the worker stays import-free.
func (m *Metrics) WorkerHooks() (
	onJob func(outcome string, latency time.Duration),
	onEmailSent func(),
	onBatch func(fetched int),
	onEventDropped func(),
) {
	onJob = func(outcome string, latency time.Duration) {
		m.JobsProcessed.WithLabelValues(outcome).Inc()
		m.JobLatency.WithLabelValues(outcome).Observe(latency.Seconds())
	}
	onEmailSent = func() { m.EmailsSent.Inc() }
	onBatch = func(fetched int) { m.LastBatchSize.Set(float64(fetched)) }
	onEventDropped = func() { m.EventsDropped.Inc() }
	return
}
