package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/academic360/notification-worker/internal/domain"
	"github.com/academic360/notification-worker/internal/repository"
)

const (
	DefaultFailedLimit = 20
	MaxFailedLimit     = 100
)

// QueueSnapshot is the current state of the EMAIL queue.
type QueueSnapshot struct {
	Kind   domain.QueueKind   `json:"kind"`
	Queued int                `json:"queued"`
	Mode   domain.RoutingMode `json:"mode"`
	AsOf   time.Time          `json:"as_of"`
}

// FailedNotification is one terminally failed notification as shown to operators.
type FailedNotification struct {
	ID       int64      `json:"id"`
	UserID   *int64     `json:"user_id,omitempty"`
	FailedAt *time.Time `json:"failed_at,omitempty"`
	Reason   string     `json:"reason"`
}

// ReportService answers the read-only operator queries behind the admin API.
// It never mutates queue or notification state.
type ReportService struct {
	store  repository.ReportStore
	mode   domain.RoutingMode
	logger *zap.Logger
	now    func() time.Time
}

func NewReportService(store repository.ReportStore, mode domain.RoutingMode, logger *zap.Logger) *ReportService {
	return &ReportService{
		store:  store,
		mode:   mode,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// QueueDepth counts EMAIL entries still waiting to be delivered.
func (s *ReportService) QueueDepth(ctx context.Context) (*QueueSnapshot, error) {
	n, err := s.store.CountQueued(ctx, domain.QueueKindEmail)
	if err != nil {
		return nil, fmt.Errorf("count queued: %w", err)
	}
	return &QueueSnapshot{Kind: domain.QueueKindEmail, Queued: n, Mode: s.mode, AsOf: s.now()}, nil
}

// RecentFailures lists the most recent FAILED notifications, newest first.
// A zero limit means DefaultFailedLimit.
func (s *ReportService) RecentFailures(ctx context.Context, limit int) ([]FailedNotification, error) {
	if limit == 0 {
		limit = DefaultFailedLimit
	}
	if limit < 0 || limit > MaxFailedLimit {
		return nil, domain.ErrInvalidLimit
	}

	rows, err := s.store.ListFailed(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed: %w", err)
	}

	out := make([]FailedNotification, 0, len(rows))
	for _, n := range rows {
		f := FailedNotification{ID: n.ID, UserID: n.UserID, FailedAt: n.FailedAt}
		if n.FailedReason != nil {
			f.Reason = *n.FailedReason
		}
		out = append(out, f)
	}
	return out, nil
}
