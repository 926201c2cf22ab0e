package events

import (
	"context"
	"time"
)

// Kind is the outcome of a single delivery attempt.
type Kind string

const (
	KindSent   Kind = "sent"
	KindRetry  Kind = "retry"
	KindFailed Kind = "failed"
)

// DeliveryEvent is published after every processed queue entry.
type DeliveryEvent struct {
	Kind           Kind      `json:"kind"`
	NotificationID int64     `json:"notification_id"`
	QueueEntryID   int64     `json:"queue_entry_id"`
	Attempts       int       `json:"attempts"`
	Recipients     int       `json:"recipients"`
	Reason         string    `json:"reason,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Sink receives delivery events. Publishing is best effort: the worker
// logs a failed publish and moves on.
type Sink interface {
	Publish(ctx context.Context, ev DeliveryEvent) error
}

// NopSink discards every event. Used when no broker is configured.
type NopSink struct{}

func (NopSink) Publish(context.Context, DeliveryEvent) error { return nil }
