package main

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/academic360/notification-worker/internal/config"
	"github.com/academic360/notification-worker/internal/domain"
	"github.com/academic360/notification-worker/internal/events"
	"github.com/academic360/notification-worker/internal/metrics"
	"github.com/academic360/notification-worker/internal/provider"
	"github.com/academic360/notification-worker/internal/repository"
)

func testConfig() *config.Config {
	return &config.Config{
		Mode:           domain.ModeDevelopment,
		DeveloperEmail: "dev@example.com",
		PollInterval:   time.Second,
		BatchSize:      10,
		MaxRetries:     5,
		SendTimeout:    time.Second,
		MailTransport:  "smtp",
		SMTPHost:       "localhost",
		SMTPPort:       2525,
		TemplateDir:    "../../templates",
	}
}

func TestNewLogger(t *testing.T) {
	_, err := newLogger("debug")
	require.NoError(t, err)
	_, err = newLogger("loud")
	assert.Error(t, err)
}

func TestBuildMailer(t *testing.T) {
	cfg := testConfig()
	m, err := buildMailer(cfg, zap.NewNop())
	require.NoError(t, err)
	require.IsType(t, &provider.SMTPMailer{}, m)
	assert.Equal(t, "localhost", m.(*provider.SMTPMailer).Host())

	cfg.MailTransport = "http"
	m, err = buildMailer(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &provider.HTTPMailer{}, m)

	cfg.MailTransport = "pigeon"
	_, err = buildMailer(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestBuildSink_DefaultsToNop(t *testing.T) {
	sink, closeFn, err := buildSink(testConfig(), zap.NewNop())
	require.NoError(t, err)
	defer closeFn()
	assert.Equal(t, events.NopSink{}, sink)
}

func TestBuildPoller_ProcessesWithMockStore(t *testing.T) {
	cfg := testConfig()
	store := repository.NewMockStore()
	m := metrics.New(prometheus.NewRegistry())

	p, err := buildPoller(cfg, store, events.NopSink{}, m, zap.NewNop())
	require.NoError(t, err)

	// Empty queue: nothing is sent, nothing fails.
	res := p.ProcessBatch(context.Background())
	assert.Equal(t, 0, res.Fetched)

	cfg.DeveloperEmail = ""
	_, err = buildPoller(cfg, store, events.NopSink{}, m, zap.NewNop())
	assert.ErrorIs(t, err, domain.ErrMissingDeveloper)
}
