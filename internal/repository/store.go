package repository

import (
	"context"
	"time"

	"github.com/academic360/notification-worker/internal/domain"
)

// Store defines every persistence operation the delivery worker performs.
// All calls are point reads or writes; none of them claim or lock a row.
// The SQL implementation is in pg_store.go; tests use MockStore.
type Store interface {
	// FetchBatch returns up to limit entries of the given kind in id order.
	FetchBatch(ctx context.Context, kind domain.QueueKind, limit int) ([]domain.QueueEntry, error)
	GetNotification(ctx context.Context, id int64) (*domain.Notification, error)
	// GetContent returns the raw JSON payload stored for a notification.
	GetContent(ctx context.Context, notificationID int64) ([]byte, error)
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	// ListStagingStaff returns active, non-suspended STAFF users that opted in
	// to staging notifications.
	ListStagingStaff(ctx context.Context, limit int) ([]domain.User, error)

	// MarkSent and MarkFailed only move notifications that are still PENDING.
	MarkSent(ctx context.Context, id int64, at time.Time) error
	MarkFailed(ctx context.Context, id int64, at time.Time, reason string) error
	UpdateRetryAttempts(ctx context.Context, entryID int64, attempts int) error
	DeleteQueueEntry(ctx context.Context, entryID int64) error
}

// ReportStore backs the read-only admin endpoints.
type ReportStore interface {
	CountQueued(ctx context.Context, kind domain.QueueKind) (int, error)
	ListFailed(ctx context.Context, limit int) ([]*domain.Notification, error)
}
