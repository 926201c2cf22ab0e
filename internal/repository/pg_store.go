package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/academic360/notification-worker/internal/domain"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var (
	queueColumns        = []string{"id", "notification_id", "type", "retry_attempts"}
	notificationColumns = []string{"id", "user_id", "status", "sent_at", "failed_at", "failed_reason"}
	userColumns         = []string{
		"id", "COALESCE(email, '')", "COALESCE(name, '')", "type",
		"send_staging_notifications", "is_active", "is_suspended",
	}
)

// PgStore implements Store and ReportStore on PostgreSQL.
type PgStore struct {
	db *sql.DB
}

// NewPgStore returns a store backed by db.
func NewPgStore(db *sql.DB) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) FetchBatch(ctx context.Context, kind domain.QueueKind, limit int) ([]domain.QueueEntry, error) {
	query, args, err := psql.
		Select(queueColumns...).
		From("notification_queue").
		Where(sq.Eq{"type": string(kind)}).
		OrderBy("id").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build fetch batch: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch batch: %w", err)
	}
	defer rows.Close()

	var entries []domain.QueueEntry
	for rows.Next() {
		var (
			e       domain.QueueEntry
			rowKind string
		)
		if err := rows.Scan(&e.ID, &e.NotificationID, &rowKind, &e.RetryAttempts); err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		e.Kind = domain.QueueKind(rowKind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PgStore) GetNotification(ctx context.Context, id int64) (*domain.Notification, error) {
	query, args, err := psql.
		Select(notificationColumns...).
		From("notifications").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get notification: %w", err)
	}

	n, err := scanNotification(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("notification %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get notification %d: %w", id, err)
	}
	return n, nil
}

func (s *PgStore) GetContent(ctx context.Context, notificationID int64) ([]byte, error) {
	query, args, err := psql.
		Select("content").
		From("notification_contents").
		Where(sq.Eq{"notification_id": notificationID}).
		OrderBy("id").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get content: %w", err)
	}

	var content sql.NullString
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("content for notification %d: %w", notificationID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get content for notification %d: %w", notificationID, err)
	}
	return []byte(content.String), nil
}

func (s *PgStore) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	query, args, err := psql.
		Select(userColumns...).
		From("users").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get user: %w", err)
	}

	u, err := scanUser(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return u, nil
}

func (s *PgStore) ListStagingStaff(ctx context.Context, limit int) ([]domain.User, error) {
	query, args, err := psql.
		Select(userColumns...).
		From("users").
		Where(sq.Eq{"type": string(domain.UserTypeStaff)}).
		Where(sq.Eq{"send_staging_notifications": true}).
		Where(sq.Eq{"is_active": true}).
		Where(sq.Eq{"is_suspended": false}).
		OrderBy("id").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list staging staff: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list staging staff: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan staff user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *PgStore) MarkSent(ctx context.Context, id int64, at time.Time) error {
	return s.exec(ctx, "mark sent", psql.
		Update("notifications").
		Set("status", string(domain.StatusSent)).
		Set("sent_at", at).
		Where(sq.Eq{"id": id}).
		Where(sq.Eq{"status": string(domain.StatusPending)}))
}

func (s *PgStore) MarkFailed(ctx context.Context, id int64, at time.Time, reason string) error {
	return s.exec(ctx, "mark failed", psql.
		Update("notifications").
		Set("status", string(domain.StatusFailed)).
		Set("failed_at", at).
		Set("failed_reason", domain.TruncateReason(reason)).
		Where(sq.Eq{"id": id}).
		Where(sq.Eq{"status": string(domain.StatusPending)}))
}

func (s *PgStore) UpdateRetryAttempts(ctx context.Context, entryID int64, attempts int) error {
	return s.exec(ctx, "update retry attempts", psql.
		Update("notification_queue").
		Set("retry_attempts", attempts).
		Where(sq.Eq{"id": entryID}))
}

func (s *PgStore) DeleteQueueEntry(ctx context.Context, entryID int64) error {
	return s.exec(ctx, "delete queue entry", psql.
		Delete("notification_queue").
		Where(sq.Eq{"id": entryID}))
}

func (s *PgStore) CountQueued(ctx context.Context, kind domain.QueueKind) (int, error) {
	query, args, err := psql.
		Select("count(*)").
		From("notification_queue").
		Where(sq.Eq{"type": string(kind)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count queued: %w", err)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count queued: %w", err)
	}
	return total, nil
}

func (s *PgStore) ListFailed(ctx context.Context, limit int) ([]*domain.Notification, error) {
	query, args, err := psql.
		Select(notificationColumns...).
		From("notifications").
		Where(sq.Eq{"status": string(domain.StatusFailed)}).
		OrderBy("failed_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list failed: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list failed: %w", err)
	}
	defer rows.Close()

	var result []*domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan failed notification: %w", err)
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

// ---- helpers ----

func (s *PgStore) exec(ctx context.Context, op string, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build %s: %w", op, err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (*domain.Notification, error) {
	var (
		n        domain.Notification
		userID   sql.NullInt64
		status   string
		sentAt   sql.NullTime
		failedAt sql.NullTime
		reason   sql.NullString
	)
	if err := row.Scan(&n.ID, &userID, &status, &sentAt, &failedAt, &reason); err != nil {
		return nil, err
	}
	n.Status = domain.Status(status)
	if userID.Valid {
		n.UserID = &userID.Int64
	}
	if sentAt.Valid {
		n.SentAt = &sentAt.Time
	}
	if failedAt.Valid {
		n.FailedAt = &failedAt.Time
	}
	if reason.Valid {
		n.FailedReason = &reason.String
	}
	return &n, nil
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		u        domain.User
		userType string
	)
	err := row.Scan(&u.ID, &u.Email, &u.Name, &userType,
		&u.SendStagingNotifications, &u.IsActive, &u.IsSuspended)
	if err != nil {
		return nil, err
	}
	u.Type = domain.UserType(userType)
	return &u, nil
}

// compile-time checks
var (
	_ Store       = (*PgStore)(nil)
	_ ReportStore = (*PgStore)(nil)
)
