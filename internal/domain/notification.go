package domain

import (
	"time"
	"unicode/utf8"
)

// QueueKind selects which worker drains a queue entry.
type QueueKind string

const (
	QueueKindEmail    QueueKind = "EMAIL_QUEUE"
	QueueKindWhatsApp QueueKind = "WHATSAPP_QUEUE"
)

// Status tracks the lifecycle of a notification.
// PENDING is the only non-terminal state.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
)

func (s Status) IsTerminal() bool {
	switch s {
	case StatusSent, StatusFailed:
		return true
	}
	return false
}

// MaxFailedReasonLen bounds Notification.FailedReason.
const MaxFailedReasonLen = 500

// QueueEntry is a unit of pending delivery work. It exists while its
// notification is still PENDING and is deleted once that notification
// reaches a terminal state.
type QueueEntry struct {
	ID             int64     `json:"id"`
	NotificationID int64     `json:"notification_id"`
	Kind           QueueKind `json:"kind"`
	RetryAttempts  int       `json:"retry_attempts"`
}

// Notification is the addressee-bound delivery record.
type Notification struct {
	ID           int64      `json:"id"`
	UserID       *int64     `json:"user_id,omitempty"`
	Status       Status     `json:"status"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	FailedAt     *time.Time `json:"failed_at,omitempty"`
	FailedReason *string    `json:"failed_reason,omitempty"`
}

// UserType is the role stored on a user row.
type UserType string

const (
	UserTypeStaff   UserType = "STAFF"
	UserTypeStudent UserType = "STUDENT"
)

// User is read-only here: it supplies the addressee's email and the
// staging opt-in flag.
type User struct {
	ID                       int64    `json:"id"`
	Email                    string   `json:"email"`
	Name                     string   `json:"name"`
	Type                     UserType `json:"type"`
	SendStagingNotifications bool     `json:"send_staging_notifications"`
	IsActive                 bool     `json:"is_active"`
	IsSuspended              bool     `json:"is_suspended"`
}

// Recipient is one resolved destination for a job.
type Recipient struct {
	Address     string `json:"address"`
	DisplayName string `json:"display_name,omitempty"`
}

// TruncateReason shortens msg to at most MaxFailedReasonLen bytes without
// splitting a UTF-8 sequence.
func TruncateReason(msg string) string {
	if len(msg) <= MaxFailedReasonLen {
		return msg
	}
	cut := MaxFailedReasonLen
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
