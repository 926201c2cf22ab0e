package worker

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/academic360/notification-worker/internal/domain"
	"github.com/academic360/notification-worker/internal/events"
	"github.com/academic360/notification-worker/internal/provider"
	"github.com/academic360/notification-worker/internal/ratelimiter"
	"github.com/academic360/notification-worker/internal/render"
	"github.com/academic360/notification-worker/internal/repository"
)

const defaultSendTimeout = 30 * time.Second

// Router resolves the recipients of a job. Implemented by routing.Policy.
type Router interface {
	Resolve(ctx context.Context, c *domain.Content, addressee *domain.User) ([]domain.Recipient, error)
}

// AttachmentResolver loads declared attachments into memory.
type AttachmentResolver interface {
	Resolve(ctx context.Context, atts []domain.Attachment) []provider.Attachment
}

// Pacer spaces outbound sends. Wait is called before each provider send and
// Done right after it returns.
type Pacer interface {
	Wait(ctx context.Context) error
	Done()
}

// MetricHooks carries the metric callback functions injected by main.
// Using a struct keeps the poller constructor signature clean.
type MetricHooks struct {
	OnJob          func(outcome string, latency time.Duration)
	OnEmailSent    func()
	OnBatch        func(fetched int)
	OnEventDropped func()
}

// Options are the tunables read from config.
type Options struct {
	PollInterval    time.Duration
	BatchSize       int
	MaxRetries      int
	SendTimeout     time.Duration
	ContentDefaults domain.ContentDefaults
}

// Deps are the collaborators the poller drives.
type Deps struct {
	Store       repository.Store
	Router      Router
	Renderer    *render.Renderer
	Mailer      provider.Mailer
	Attachments AttachmentResolver
	Pacer       Pacer
	Events      events.Sink
	Logger      *zap.Logger
	Hooks       MetricHooks
}

// BatchResult summarises one poll.
type BatchResult struct {
	Fetched int
	Sent    int
	Retried int
	Failed  int
	Skipped int
	// Aborted counts jobs interrupted by shutdown. Their attempts are untouched.
	Aborted int
}

// Poller drains the EMAIL queue in batches. Jobs within a batch are
// processed sequentially in fetch order; a failing job never stops the
// rest of its batch.
type Poller struct {
	opts Options
	deps Deps
	log  *zap.Logger
	now  func() time.Time
	busy atomic.Bool
}

func NewPoller(opts Options, deps Deps) *Poller {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Events == nil {
		deps.Events = events.NopSink{}
	}
	if deps.Pacer == nil {
		deps.Pacer = ratelimiter.NewPacer(0)
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	if deps.Hooks.OnJob == nil {
		deps.Hooks.OnJob = func(string, time.Duration) {}
	}
	if deps.Hooks.OnEmailSent == nil {
		deps.Hooks.OnEmailSent = func() {}
	}
	if deps.Hooks.OnBatch == nil {
		deps.Hooks.OnBatch = func(int) {}
	}
	if deps.Hooks.OnEventDropped == nil {
		deps.Hooks.OnEventDropped = func() {}
	}
	return &Poller{
		opts: opts,
		deps: deps,
		log:  deps.Logger,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Run ticks every PollInterval until ctx is cancelled.
// Cancelling ctx is the stop signal: the in-flight batch stops between
// jobs and Run returns.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	p.log.Info("email poller started",
		zap.Duration("interval", p.opts.PollInterval),
		zap.Int("batch_size", p.opts.BatchSize),
		zap.Int("max_retries", p.opts.MaxRetries),
	)

	for {
		select {
		case <-ctx.Done():
			p.log.Info("email poller stopping")
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick runs one batch unless a previous batch is still in flight.
// Reports whether a batch was run.
func (p *Poller) Tick(ctx context.Context) (BatchResult, bool) {
	if !p.busy.CompareAndSwap(false, true) {
		p.log.Debug("previous batch still running, skipping tick")
		return BatchResult{}, false
	}
	defer p.busy.Store(false)
	return p.ProcessBatch(ctx), true
}

// ProcessBatch fetches up to BatchSize EMAIL entries and processes each.
func (p *Poller) ProcessBatch(ctx context.Context) BatchResult {
	var res BatchResult

	entries, err := p.deps.Store.FetchBatch(ctx, domain.QueueKindEmail, p.opts.BatchSize)
	if err != nil {
		if ctx.Err() == nil {
			p.log.Error("fetch email batch", zap.Error(err))
		}
		return res
	}
	res.Fetched = len(entries)
	p.deps.Hooks.OnBatch(len(entries))
	if len(entries) == 0 {
		return res
	}

	start := time.Now()
	for i, e := range entries {
		if ctx.Err() != nil {
			res.Aborted += len(entries) - i
			break
		}
		switch p.processJob(ctx, e) {
		case outcomeSent:
			res.Sent++
		case outcomeRetry:
			res.Retried++
		case outcomeFailed:
			res.Failed++
		case outcomeSkipped:
			res.Skipped++
		case outcomeAborted:
			res.Aborted++
		}
	}

	p.log.Info("email batch processed",
		zap.Int("fetched", res.Fetched),
		zap.Int("sent", res.Sent),
		zap.Int("retried", res.Retried),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
		zap.Int("aborted", res.Aborted),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res
}
