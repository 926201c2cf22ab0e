package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/academic360/notification-worker/internal/domain"
	"github.com/academic360/notification-worker/internal/events"
	"github.com/academic360/notification-worker/internal/provider"
	"github.com/academic360/notification-worker/internal/render"
)

type outcome int

const (
	outcomeSent outcome = iota
	outcomeRetry
	outcomeFailed
	outcomeSkipped
	outcomeAborted
)

func (o outcome) String() string {
	switch o {
	case outcomeSent:
		return "sent"
	case outcomeRetry:
		return "retry"
	case outcomeFailed:
		return "failed"
	case outcomeSkipped:
		return "skipped"
	default:
		return "aborted"
	}
}

// processJob runs one queue entry to completion. Every error and panic is
// contained here and turned into a retry or a terminal failure.
func (p *Poller) processJob(ctx context.Context, e domain.QueueEntry) (out outcome) {
	start := time.Now()
	log := p.log.With(
		zap.Int64("queue_entry_id", e.ID),
		zap.Int64("notification_id", e.NotificationID),
		zap.Int("retry_attempts", e.RetryAttempts),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing email job", zap.Any("panic", r), zap.Stack("stack"))
			out = p.handleFailure(ctx, e, fmt.Errorf("panic: %v", r), log)
		}
		if out != outcomeAborted {
			p.deps.Hooks.OnJob(out.String(), time.Since(start))
		}
	}()

	if e.RetryAttempts >= p.opts.MaxRetries {
		return p.retireExhausted(ctx, e, log)
	}

	sent, err := p.deliver(ctx, e, log)
	switch {
	case errors.Is(err, domain.ErrAlreadyTerminal):
		log.Info("notification already terminal, dropping stale queue entry")
		if err := p.deps.Store.DeleteQueueEntry(ctx, e.ID); err != nil {
			log.Error("failed to delete stale queue entry", zap.Error(err))
		}
		return outcomeSkipped
	case err != nil:
		if ctx.Err() != nil {
			// Shutdown, not a delivery failure. Leave the entry for the next run.
			log.Info("email job interrupted by shutdown", zap.Error(err))
			return outcomeAborted
		}
		log.Warn("email job failed", zap.Error(err))
		return p.handleFailure(ctx, e, err, log)
	}

	if err := p.deps.Store.MarkSent(ctx, e.NotificationID, p.now()); err != nil {
		log.Error("failed to mark notification as sent", zap.Error(err))
		return p.handleFailure(ctx, e, fmt.Errorf("mark sent: %w", err), log)
	}
	if err := p.deps.Store.DeleteQueueEntry(ctx, e.ID); err != nil {
		// The notification is SENT; the next poll drops the stale entry.
		log.Error("failed to delete queue entry", zap.Error(err))
	}

	p.publish(ctx, events.DeliveryEvent{
		Kind:           events.KindSent,
		NotificationID: e.NotificationID,
		QueueEntryID:   e.ID,
		Attempts:       e.RetryAttempts,
		Recipients:     sent,
	}, log)

	log.Info("email notification sent", zap.Int("recipients", sent), zap.Duration("latency", time.Since(start)))
	return outcomeSent
}

// deliver loads everything the job needs, resolves recipients and sends to
// each in turn. The first failed recipient aborts the job; recipients
// already sent are not rolled back. Returns the number of emails sent.
func (p *Poller) deliver(ctx context.Context, e domain.QueueEntry, log *zap.Logger) (int, error) {
	n, err := p.deps.Store.GetNotification(ctx, e.NotificationID)
	if err != nil {
		return 0, fmt.Errorf("load notification: %w", err)
	}
	if n.Status.IsTerminal() {
		return 0, domain.ErrAlreadyTerminal
	}

	c, err := p.loadContent(ctx, n.ID)
	if err != nil {
		return 0, err
	}

	user, err := p.loadAddressee(ctx, n)
	if err != nil {
		return 0, err
	}

	recipients, err := p.deps.Router.Resolve(ctx, c, user)
	if err != nil {
		return 0, fmt.Errorf("resolve recipients: %w", err)
	}
	if len(recipients) == 0 {
		return 0, domain.ErrNoRecipients
	}

	var atts []provider.Attachment
	if p.deps.Attachments != nil {
		atts = p.deps.Attachments.Resolve(ctx, c.Attachments)
	}

	for i, r := range recipients {
		subject, html, err := p.deps.Renderer.Render(c, render.NewContext(n, c, user, r))
		if err != nil {
			return i, err
		}

		if err := p.deps.Pacer.Wait(ctx); err != nil {
			return i, fmt.Errorf("wait for send slot: %w", err)
		}

		err = p.send(ctx, provider.Message{
			To:          r,
			Subject:     subject,
			HTML:        html,
			FromName:    c.FromName,
			Attachments: atts,
		})
		p.deps.Pacer.Done()
		if err != nil {
			return i, fmt.Errorf("send to %s: %w", r.Address, err)
		}

		p.deps.Hooks.OnEmailSent()
		log.Debug("email sent", zap.String("to", r.Address), zap.String("subject", subject))
	}
	return len(recipients), nil
}

// send bounds a single provider call by SendTimeout.
func (p *Poller) send(ctx context.Context, msg provider.Message) error {
	ctx, cancel := context.WithTimeout(ctx, p.opts.SendTimeout)
	defer cancel()
	return p.deps.Mailer.Send(ctx, msg)
}

// loadContent returns the parsed content row, or defaults when none exists.
func (p *Poller) loadContent(ctx context.Context, notificationID int64) (*domain.Content, error) {
	raw, err := p.deps.Store.GetContent(ctx, notificationID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("load content: %w", err)
	}
	return domain.ParseContent(notificationID, raw, p.opts.ContentDefaults)
}

// loadAddressee returns the notification's user, or nil when it has none.
func (p *Poller) loadAddressee(ctx context.Context, n *domain.Notification) (*domain.User, error) {
	if n.UserID == nil {
		return nil, nil
	}
	u, err := p.deps.Store.GetUser(ctx, *n.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}

func (p *Poller) publish(ctx context.Context, ev events.DeliveryEvent, log *zap.Logger) {
	ev.OccurredAt = p.now()
	if err := p.deps.Events.Publish(ctx, ev); err != nil {
		p.deps.Hooks.OnEventDropped()
		log.Warn("failed to publish delivery event", zap.String("kind", string(ev.Kind)), zap.Error(err))
	}
}
