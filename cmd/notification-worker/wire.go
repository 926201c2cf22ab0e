package main

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/academic360/notification-worker/internal/config"
	"github.com/academic360/notification-worker/internal/events"
	"github.com/academic360/notification-worker/internal/metrics"
	"github.com/academic360/notification-worker/internal/provider"
	"github.com/academic360/notification-worker/internal/ratelimiter"
	"github.com/academic360/notification-worker/internal/render"
	"github.com/academic360/notification-worker/internal/repository"
	"github.com/academic360/notification-worker/internal/routing"
	"github.com/academic360/notification-worker/internal/worker"
)

const attachmentTimeout = 30 * time.Second

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = lvl
	return zcfg.Build()
}

func buildMailer(cfg *config.Config, logger *zap.Logger) (provider.Mailer, error) {
	from := provider.Sender{Address: cfg.MailFromAddress, Name: cfg.MailFromName}
	switch cfg.MailTransport {
	case "smtp":
		m := provider.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, from)
		logger.Info("using SMTP mail transport", zap.String("host", m.Host()), zap.Int("port", cfg.SMTPPort))
		return m, nil
	case "http":
		logger.Info("using HTTP mail transport", zap.String("url", cfg.MailAPIURL))
		return provider.NewHTTPMailer(cfg.MailAPIURL, cfg.MailAPIToken, from, cfg.SendTimeout), nil
	}
	return nil, fmt.Errorf("unknown MAIL_TRANSPORT %q", cfg.MailTransport)
}

// buildSink returns the AMQP sink when AMQP_URI is set, else a NopSink.
func buildSink(cfg *config.Config, logger *zap.Logger) (events.Sink, func(), error) {
	if cfg.AMQPURI == "" {
		return events.NopSink{}, func() {}, nil
	}
	sink, err := events.DialAMQP(cfg.AMQPURI, cfg.AMQPExchange)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("publishing delivery events", zap.String("exchange", cfg.AMQPExchange))
	return sink, func() {
		if err := sink.Close(); err != nil {
			logger.Warn("close amqp sink", zap.Error(err))
		}
	}, nil
}

func buildPoller(
	cfg *config.Config,
	store repository.Store,
	sink events.Sink,
	m *metrics.Metrics,
	logger *zap.Logger,
) (*worker.Poller, error) {
	policy, err := routing.NewPolicy(cfg.Mode, cfg.DeveloperEmail, store, cfg.StagingStaffLimit)
	if err != nil {
		return nil, err
	}
	mailer, err := buildMailer(cfg, logger)
	if err != nil {
		return nil, err
	}
	pacer := ratelimiter.NewPacer(cfg.RateDelay)
	logger.Info("email routing configured",
		zap.String("mode", string(policy.Mode())),
		zap.Duration("rate_delay", pacer.Delay()),
	)

	onJob, onEmailSent, onBatch, onEventDropped := m.WorkerHooks()
	return worker.NewPoller(
		worker.Options{
			PollInterval:    cfg.PollInterval,
			BatchSize:       cfg.BatchSize,
			MaxRetries:      cfg.MaxRetries,
			SendTimeout:     cfg.SendTimeout,
			ContentDefaults: cfg.ContentDefaults(),
		},
		worker.Deps{
			Store:       store,
			Router:      policy,
			Renderer:    render.NewRenderer(render.NewDirEngine(cfg.TemplateDir)),
			Mailer:      mailer,
			Attachments: provider.NewAttachmentResolver(attachmentTimeout, logger.Named("attachments")),
			Pacer:       pacer,
			Events:      sink,
			Logger:      logger.Named("poller"),
			Hooks: worker.MetricHooks{
				OnJob:          onJob,
				OnEmailSent:    onEmailSent,
				OnBatch:        onBatch,
				OnEventDropped: onEventDropped,
			},
		},
	), nil
}
