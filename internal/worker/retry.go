package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/academic360/notification-worker/internal/domain"
	"github.com/academic360/notification-worker/internal/events"
)

// handleFailure records one failed attempt for the entry.
//
//	attempts = retryAttempts + 1
//	attempts <  MaxRetries → store attempts; the entry is picked up again next poll
//	attempts >= MaxRetries → notification FAILED with the truncated reason, entry deleted
//
// There is no backoff: a retried entry is eligible on the very next poll.
func (p *Poller) handleFailure(ctx context.Context, e domain.QueueEntry, cause error, log *zap.Logger) outcome {
	attempts := e.RetryAttempts + 1
	reason := domain.TruncateReason(cause.Error())

	if attempts >= p.opts.MaxRetries {
		return p.retire(ctx, e, attempts, reason, log)
	}

	if err := p.deps.Store.UpdateRetryAttempts(ctx, e.ID, attempts); err != nil {
		log.Error("failed to update retry attempts", zap.Error(err))
	}
	p.publish(ctx, events.DeliveryEvent{
		Kind:           events.KindRetry,
		NotificationID: e.NotificationID,
		QueueEntryID:   e.ID,
		Attempts:       attempts,
		Reason:         reason,
	}, log)
	log.Info("email job scheduled for retry", zap.Int("attempts", attempts), zap.Int("max_retries", p.opts.MaxRetries))
	return outcomeRetry
}

// retireExhausted finishes an entry whose attempts already reached
// MaxRetries. Nothing is sent; only the terminal write is repeated.
func (p *Poller) retireExhausted(ctx context.Context, e domain.QueueEntry, log *zap.Logger) outcome {
	reason := fmt.Sprintf("retry limit reached after %d attempts", e.RetryAttempts)
	log.Warn("queue entry already at retry limit, failing without send")
	return p.retire(ctx, e, e.RetryAttempts, reason, log)
}

// retire marks the notification FAILED and deletes the entry. When the
// terminal write fails the entry stays, carrying attempts, so the next poll
// goes through retireExhausted instead of sending again.
func (p *Poller) retire(ctx context.Context, e domain.QueueEntry, attempts int, reason string, log *zap.Logger) outcome {
	if err := p.deps.Store.MarkFailed(ctx, e.NotificationID, p.now(), reason); err != nil {
		log.Error("failed to mark notification as failed", zap.Error(err))
		if attempts != e.RetryAttempts {
			if err := p.deps.Store.UpdateRetryAttempts(ctx, e.ID, attempts); err != nil {
				log.Error("failed to update retry attempts", zap.Error(err))
			}
		}
		return outcomeRetry
	}
	if err := p.deps.Store.DeleteQueueEntry(ctx, e.ID); err != nil {
		log.Error("failed to delete queue entry", zap.Error(err))
	}
	p.publish(ctx, events.DeliveryEvent{
		Kind:           events.KindFailed,
		NotificationID: e.NotificationID,
		QueueEntryID:   e.ID,
		Attempts:       attempts,
		Reason:         reason,
	}, log)
	log.Warn("email notification permanently failed", zap.Int("attempts", attempts), zap.String("reason", reason))
	return outcomeFailed
}
