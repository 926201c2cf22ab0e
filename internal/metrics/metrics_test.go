package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/academic360/notification-worker/internal/metrics"
)

func TestWorkerHooks(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	onJob, onEmailSent, onBatch, onEventDropped := m.WorkerHooks()

	onJob("sent", 20*time.Millisecond)
	onJob("sent", 30*time.Millisecond)
	onJob("retry", time.Millisecond)
	onEmailSent()
	onEmailSent()
	onEmailSent()
	onBatch(42)
	onEventDropped()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.JobsProcessed.WithLabelValues("sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsProcessed.WithLabelValues("retry")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.EmailsSent))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.LastBatchSize))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDropped))
	assert.Equal(t, 2, testutil.CollectAndCount(m.JobLatency))
}

func TestNew_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.New(reg)
	assert.Panics(t, func() { metrics.New(reg) })
}
