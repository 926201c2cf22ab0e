package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/academic360/notification-worker/internal/domain"
)

// MockStore is a hand-written, in-memory implementation of Store and
// ReportStore used in unit tests. No mock-generation library needed.
type MockStore struct {
	mu            sync.RWMutex
	nextID        int64
	entries       map[int64]*domain.QueueEntry
	notifications map[int64]*domain.Notification
	contents      map[int64][]byte
	users         map[int64]*domain.User

	// Optional error overrides, set in tests to simulate failure paths.
	FetchErr      error
	GetUserErr    error
	ListStaffErr  error
	WriteErr      error
	MarkFailedErr error
	GetContentErr map[int64]error
}

func NewMockStore() *MockStore {
	return &MockStore{
		entries:       make(map[int64]*domain.QueueEntry),
		notifications: make(map[int64]*domain.Notification),
		contents:      make(map[int64][]byte),
		users:         make(map[int64]*domain.User),
		GetContentErr: make(map[int64]error),
	}
}

// ---- seeding helpers ----

// AddUser stores u, assigning an ID when u.ID is zero.
func (m *MockStore) AddUser(u domain.User) domain.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == 0 {
		u.ID = m.id()
	}
	clone := u
	m.users[u.ID] = &clone
	return u
}

// AddNotification creates a PENDING notification for userID with the given
// raw content (nil means no content row) and returns its ID.
func (m *MockStore) AddNotification(userID *int64, content []byte) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.id()
	m.notifications[id] = &domain.Notification{ID: id, UserID: userID, Status: domain.StatusPending}
	if content != nil {
		m.contents[id] = content
	}
	return id
}

// Enqueue adds a queue entry of the given kind for notificationID.
func (m *MockStore) Enqueue(notificationID int64, kind domain.QueueKind, attempts int) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.id()
	m.entries[id] = &domain.QueueEntry{ID: id, NotificationID: notificationID, Kind: kind, RetryAttempts: attempts}
	return id
}

// SetStatus forces a notification's status, bypassing the PENDING guard.
func (m *MockStore) SetStatus(id int64, status domain.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.notifications[id]; ok {
		n.Status = status
	}
}

// DropNotification removes a notification while leaving its queue entries.
func (m *MockStore) DropNotification(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.notifications, id)
}

// Entry returns a copy of the queue entry, or false when it was deleted.
func (m *MockStore) Entry(id int64) (domain.QueueEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return domain.QueueEntry{}, false
	}
	return *e, true
}

// Notification returns a copy of the notification, or false when absent.
func (m *MockStore) Notification(id int64) (domain.Notification, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notifications[id]
	if !ok {
		return domain.Notification{}, false
	}
	return *n, true
}

func (m *MockStore) id() int64 {
	m.nextID++
	return m.nextID
}

// ---- Store ----

func (m *MockStore) FetchBatch(_ context.Context, kind domain.QueueKind, limit int) ([]domain.QueueEntry, error) {
	if m.FetchErr != nil {
		return nil, m.FetchErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]domain.QueueEntry, 0, len(m.entries))
	for _, e := range m.entries {
		if e.Kind == kind {
			result = append(result, *e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MockStore) GetNotification(_ context.Context, id int64) (*domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, fmt.Errorf("notification %d: %w", id, domain.ErrNotFound)
	}
	clone := *n
	return &clone, nil
}

func (m *MockStore) GetContent(_ context.Context, notificationID int64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.GetContentErr[notificationID]; err != nil {
		return nil, err
	}
	c, ok := m.contents[notificationID]
	if !ok {
		return nil, fmt.Errorf("content for notification %d: %w", notificationID, domain.ErrNotFound)
	}
	return append([]byte(nil), c...), nil
}

func (m *MockStore) GetUser(_ context.Context, id int64) (*domain.User, error) {
	if m.GetUserErr != nil {
		return nil, m.GetUserErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, domain.ErrNotFound)
	}
	clone := *u
	return &clone, nil
}

func (m *MockStore) ListStagingStaff(_ context.Context, limit int) ([]domain.User, error) {
	if m.ListStaffErr != nil {
		return nil, m.ListStaffErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []domain.User
	for _, u := range m.users {
		if u.Type == domain.UserTypeStaff && u.SendStagingNotifications && u.IsActive && !u.IsSuspended {
			result = append(result, *u)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MockStore) MarkSent(_ context.Context, id int64, at time.Time) error {
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.notifications[id]; ok && n.Status == domain.StatusPending {
		n.Status = domain.StatusSent
		n.SentAt = &at
	}
	return nil
}

func (m *MockStore) MarkFailed(_ context.Context, id int64, at time.Time, reason string) error {
	if m.WriteErr != nil {
		return m.WriteErr
	}
	if m.MarkFailedErr != nil {
		return m.MarkFailedErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.notifications[id]; ok && n.Status == domain.StatusPending {
		reason = domain.TruncateReason(reason)
		n.Status = domain.StatusFailed
		n.FailedAt = &at
		n.FailedReason = &reason
	}
	return nil
}

func (m *MockStore) UpdateRetryAttempts(_ context.Context, entryID int64, attempts int) error {
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[entryID]; ok {
		e.RetryAttempts = attempts
	}
	return nil
}

func (m *MockStore) DeleteQueueEntry(_ context.Context, entryID int64) error {
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, entryID)
	return nil
}

// ---- ReportStore ----

func (m *MockStore) CountQueued(_ context.Context, kind domain.QueueKind) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, e := range m.entries {
		if e.Kind == kind {
			total++
		}
	}
	return total, nil
}

func (m *MockStore) ListFailed(_ context.Context, limit int) ([]*domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Notification
	for _, n := range m.notifications {
		if n.Status == domain.StatusFailed {
			clone := *n
			result = append(result, &clone)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var (
	_ Store       = (*MockStore)(nil)
	_ ReportStore = (*MockStore)(nil)
)
