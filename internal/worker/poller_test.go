package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/academic360/notification-worker/internal/domain"
	"github.com/academic360/notification-worker/internal/events"
	"github.com/academic360/notification-worker/internal/provider"
	"github.com/academic360/notification-worker/internal/ratelimiter"
	"github.com/academic360/notification-worker/internal/render"
	"github.com/academic360/notification-worker/internal/repository"
	"github.com/academic360/notification-worker/internal/routing"
	"github.com/academic360/notification-worker/internal/worker"
)

const developer = "dev@example.com"

// ---- fakes ----

type sentMail struct {
	msg     provider.Message
	started time.Time
	at      time.Time
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail

	err      error
	failFor  map[string]error
	panicFor string
	latency  time.Duration
	// block, when set, holds Send until it is closed or ctx is done.
	block   chan struct{}
	started chan struct{}
}

func (m *fakeMailer) Send(ctx context.Context, msg provider.Message) error {
	started := time.Now()
	if m.started != nil {
		select {
		case m.started <- struct{}{}:
		default:
		}
	}
	if m.block != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.block:
		}
	}
	if m.latency > 0 {
		time.Sleep(m.latency)
	}
	if msg.To.Address == m.panicFor {
		panic("mailer exploded")
	}
	if err := m.failFor[msg.To.Address]; err != nil {
		return err
	}
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	m.sent = append(m.sent, sentMail{msg: msg, started: started, at: time.Now()})
	m.mu.Unlock()
	return nil
}

func (m *fakeMailer) Sent() []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMail(nil), m.sent...)
}

type recordingSink struct {
	mu     sync.Mutex
	events []events.DeliveryEvent
	err    error
}

func (s *recordingSink) Publish(_ context.Context, ev events.DeliveryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) Kinds() []events.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Kind
	for _, ev := range s.events {
		out = append(out, ev.Kind)
	}
	return out
}

// ---- harness ----

var templates = fstest.MapFS{
	"email/otp.html": {Data: []byte(`<p>Dear {{ .Recipient.DisplayName | default "Student" }}, OTP {{ .Data.otpCode }}</p>`)},
}

type harness struct {
	store  *repository.MockStore
	mailer *fakeMailer
	sink   *recordingSink
	poller *worker.Poller
}

type tweak func(*worker.Options, *worker.Deps)

func newHarness(t *testing.T, mode domain.RoutingMode, tweaks ...tweak) *harness {
	t.Helper()
	h := &harness{
		store:  repository.NewMockStore(),
		mailer: &fakeMailer{},
		sink:   &recordingSink{},
	}
	policy, err := routing.NewPolicy(mode, developer, h.store, 0)
	require.NoError(t, err)

	opts := worker.Options{
		PollInterval: 10 * time.Millisecond,
		BatchSize:    50,
		MaxRetries:   5,
		SendTimeout:  time.Second,
	}
	deps := worker.Deps{
		Store:    h.store,
		Router:   policy,
		Renderer: render.NewRenderer(render.NewTemplateEngine(templates)),
		Mailer:   h.mailer,
		Pacer:    ratelimiter.NewPacer(0),
		Events:   h.sink,
		Logger:   zap.NewNop(),
	}
	for _, tw := range tweaks {
		tw(&opts, &deps)
	}
	h.poller = worker.NewPoller(opts, deps)
	return h
}

func (h *harness) student(email string) int64 {
	u := h.store.AddUser(domain.User{Email: email, Name: "Student " + email, Type: domain.UserTypeStudent, IsActive: true})
	return u.ID
}

// job seeds a PENDING notification for userID with content and queues it.
func (h *harness) job(userID int64, content string, attempts int) (notificationID, entryID int64) {
	notificationID = h.store.AddNotification(&userID, []byte(content))
	entryID = h.store.Enqueue(notificationID, domain.QueueKindEmail, attempts)
	return
}

const literal = `{"subject":"Fee reminder","html":"<p>Pay by Friday</p>"}`

// ---- retry state machine ----

func TestProcessBatch_TerminalFailureAtMaxRetries(t *testing.T) {
	h := newHarness(t, domain.ModeProduction)
	h.mailer.err = errors.New("smtp: 451 try again later")
	nid, eid := h.job(h.student("s@example.com"), literal, 4)

	res := h.poller.ProcessBatch(context.Background())

	assert.Equal(t, 1, res.Failed)
	n, _ := h.store.Notification(nid)
	assert.Equal(t, domain.StatusFailed, n.Status)
	require.NotNil(t, n.FailedReason)
	assert.Contains(t, *n.FailedReason, "451 try again later")
	assert.NotNil(t, n.FailedAt)
	_, exists := h.store.Entry(eid)
	assert.False(t, exists, "queue entry should be removed")
	assert.Equal(t, []events.Kind{events.KindFailed}, h.sink.Kinds())
}

func TestProcessBatch_RetryBelowMax(t *testing.T) {
	h := newHarness(t, domain.ModeProduction)
	h.mailer.err = errors.New("connection reset")
	nid, eid := h.job(h.student("s@example.com"), literal, 2)

	res := h.poller.ProcessBatch(context.Background())

	assert.Equal(t, 1, res.Retried)
	n, _ := h.store.Notification(nid)
	assert.Equal(t, domain.StatusPending, n.Status)
	e, exists := h.store.Entry(eid)
	require.True(t, exists)
	assert.Equal(t, 3, e.RetryAttempts)
	assert.Equal(t, []events.Kind{events.KindRetry}, h.sink.Kinds())
}

func TestProcessBatch_FailsAfterExactlyMaxRetries(t *testing.T) {
	h := newHarness(t, domain.ModeProduction, func(o *worker.Options, _ *worker.Deps) { o.MaxRetries = 3 })
	h.mailer.err = errors.New("down")
	nid, eid := h.job(h.student("s@example.com"), literal, 0)

	last := 0
	for poll := 1; poll <= 3; poll++ {
		h.poller.ProcessBatch(context.Background())
		e, exists := h.store.Entry(eid)
		n, _ := h.store.Notification(nid)
		if poll < 3 {
			require.True(t, exists, "poll %d", poll)
			assert.GreaterOrEqual(t, e.RetryAttempts, last)
			assert.Equal(t, poll, e.RetryAttempts)
			assert.Equal(t, domain.StatusPending, n.Status)
			last = e.RetryAttempts
			continue
		}
		assert.False(t, exists)
		assert.Equal(t, domain.StatusFailed, n.Status)
	}

	res := h.poller.ProcessBatch(context.Background())
	assert.Equal(t, 0, res.Fetched)
}

func TestProcessBatch_SuccessMarksSentAndDeletesEntry(t *testing.T) {
	h := newHarness(t, domain.ModeProduction)
	nid, eid := h.job(h.student("s@example.com"), literal, 1)

	res := h.poller.ProcessBatch(context.Background())

	assert.Equal(t, 1, res.Sent)
	n, _ := h.store.Notification(nid)
	assert.Equal(t, domain.StatusSent, n.Status)
	assert.NotNil(t, n.SentAt)
	_, exists := h.store.Entry(eid)
	assert.False(t, exists)

	sent := h.mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "s@example.com", sent[0].msg.To.Address)
	assert.Equal(t, "Fee reminder", sent[0].msg.Subject)
	assert.Equal(t, "<p>Pay by Friday</p>", sent[0].msg.HTML)
}

// ---- batching and isolation ----

func TestProcessBatch_RespectsBatchSize(t *testing.T) {
	h := newHarness(t, domain.ModeDevelopment)
	uid := h.student("s@example.com")
	for i := 0; i < 120; i++ {
		h.job(uid, literal, 0)
	}

	res := h.poller.ProcessBatch(context.Background())

	assert.Equal(t, 50, res.Fetched)
	assert.Equal(t, 50, res.Sent)
	assert.Len(t, h.mailer.Sent(), 50)
	remaining, err := h.store.CountQueued(context.Background(), domain.QueueKindEmail)
	require.NoError(t, err)
	assert.Equal(t, 70, remaining)
}

func TestProcessBatch_IgnoresOtherQueueKinds(t *testing.T) {
	h := newHarness(t, domain.ModeDevelopment)
	uid := h.student("s@example.com")
	nid := h.store.AddNotification(&uid, []byte(literal))
	eid := h.store.Enqueue(nid, domain.QueueKindWhatsApp, 0)

	res := h.poller.ProcessBatch(context.Background())

	assert.Equal(t, 0, res.Fetched)
	_, exists := h.store.Entry(eid)
	assert.True(t, exists)
}

func TestProcessBatch_RenderErrorIsIsolated(t *testing.T) {
	h := newHarness(t, domain.ModeProduction)
	uid := h.student("s@example.com")
	first, _ := h.job(uid, literal, 0)
	broken, brokenEntry := h.job(uid, `{"emailTemplate":"does-not-exist"}`, 0)
	third, _ := h.job(uid, `{"emailTemplate":"otp","templateData":{"otpCode":"1234"}}`, 0)

	res := h.poller.ProcessBatch(context.Background())

	assert.Equal(t, worker.BatchResult{Fetched: 3, Sent: 2, Retried: 1}, res)
	for _, id := range []int64{first, third} {
		n, _ := h.store.Notification(id)
		assert.Equal(t, domain.StatusSent, n.Status)
	}
	n, _ := h.store.Notification(broken)
	assert.Equal(t, domain.StatusPending, n.Status)
	e, _ := h.store.Entry(brokenEntry)
	assert.Equal(t, 1, e.RetryAttempts)

	sent := h.mailer.Sent()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[1].msg.HTML, "OTP 1234")
}

func TestProcessBatch_PanicIsContained(t *testing.T) {
	h := newHarness(t, domain.ModeProduction)
	h.mailer.panicFor = "boom@example.com"
	_, badEntry := h.job(h.student("boom@example.com"), literal, 0)
	good, _ := h.job(h.student("ok@example.com"), literal, 0)

	var res worker.BatchResult
	require.NotPanics(t, func() { res = h.poller.ProcessBatch(context.Background()) })

	assert.Equal(t, 1, res.Retried)
	assert.Equal(t, 1, res.Sent)
	e, _ := h.store.Entry(badEntry)
	assert.Equal(t, 1, e.RetryAttempts)
	n, _ := h.store.Notification(good)
	assert.Equal(t, domain.StatusSent, n.Status)
}

func TestProcessBatch_StaleTerminalEntryIsDropped(t *testing.T) {
	h := newHarness(t, domain.ModeProduction)
	nid, eid := h.job(h.student("s@example.com"), literal, 2)
	h.store.SetStatus(nid, domain.StatusSent)

	res := h.poller.ProcessBatch(context.Background())

	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, h.mailer.Sent())
	_, exists := h.store.Entry(eid)
	assert.False(t, exists)
}

func TestProcessBatch_MissingContentUsesDefaults(t *testing.T) {
	h := newHarness(t, domain.ModeProduction)
	uid := h.student("s@example.com")
	nid := h.store.AddNotification(&uid, nil)
	h.store.Enqueue(nid, domain.QueueKindEmail, 0)

	h.poller.ProcessBatch(context.Background())

	sent := h.mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.DefaultSubject, sent[0].msg.Subject)
	assert.Equal(t, domain.DefaultBody, sent[0].msg.HTML)
}

func TestProcessBatch_MalformedContentIsRowError(t *testing.T) {
	h := newHarness(t, domain.ModeProduction)
	_, eid := h.job(h.student("s@example.com"), `{"subject":`, 0)

	res := h.poller.ProcessBatch(context.Background())

	assert.Equal(t, 1, res.Retried)
	assert.Empty(t, h.mailer.Sent())
	e, _ := h.store.Entry(eid)
	assert.Equal(t, 1, e.RetryAttempts)
}

func TestProcessBatch_MissingNotificationIsRowError(t *testing.T) {
	t.Run("below max keeps the entry", func(t *testing.T) {
		h := newHarness(t, domain.ModeProduction)
		nid, eid := h.job(h.student("s@example.com"), literal, 1)
		h.store.DropNotification(nid)

		res := h.poller.ProcessBatch(context.Background())

		assert.Equal(t, 1, res.Retried)
		assert.Empty(t, h.mailer.Sent())
		e, exists := h.store.Entry(eid)
		require.True(t, exists)
		assert.Equal(t, 2, e.RetryAttempts)
	})

	t.Run("last attempt removes the entry", func(t *testing.T) {
		h := newHarness(t, domain.ModeProduction)
		nid, eid := h.job(h.student("s@example.com"), literal, 4)
		h.store.DropNotification(nid)

		res := h.poller.ProcessBatch(context.Background())

		assert.Equal(t, 1, res.Failed)
		assert.Empty(t, h.mailer.Sent())
		_, exists := h.store.Entry(eid)
		assert.False(t, exists)
	})
}

func TestProcessBatch_TerminalWriteFailureDoesNotResend(t *testing.T) {
	h := newHarness(t, domain.ModeProduction)
	h.mailer.err = errors.New("mailbox unavailable")
	nid, eid := h.job(h.student("s@example.com"), literal, 4)
	h.store.MarkFailedErr = errors.New("db down")

	res := h.poller.ProcessBatch(context.Background())

	assert.Equal(t, 1, res.Retried)
	e, exists := h.store.Entry(eid)
	require.True(t, exists)
	assert.Equal(t, 5, e.RetryAttempts, "the exhausted attempt is persisted")

	// Next poll: the store recovers and the entry is retired without a send.
	h.mailer.err = nil
	h.store.MarkFailedErr = nil
	res = h.poller.ProcessBatch(context.Background())

	assert.Equal(t, 1, res.Failed)
	assert.Empty(t, h.mailer.Sent())
	n, _ := h.store.Notification(nid)
	assert.Equal(t, domain.StatusFailed, n.Status)
	require.NotNil(t, n.FailedReason)
	assert.Contains(t, *n.FailedReason, "retry limit reached")
	_, exists = h.store.Entry(eid)
	assert.False(t, exists)
}

func TestProcessBatch_FetchErrorLeavesQueueUntouched(t *testing.T) {
	h := newHarness(t, domain.ModeProduction)
	h.store.FetchErr = errors.New("connection refused")
	_, eid := h.job(h.student("s@example.com"), literal, 0)

	res := h.poller.ProcessBatch(context.Background())

	assert.Equal(t, worker.BatchResult{}, res)
	e, exists := h.store.Entry(eid)
	require.True(t, exists)
	assert.Equal(t, 0, e.RetryAttempts)
}

// ---- routing through the poller ----

func TestProcessBatch_DevelopmentSendsOnlyToDeveloper(t *testing.T) {
	h := newHarness(t, domain.ModeDevelopment)
	h.job(h.student("s@example.com"), `{"subject":"x","html":"y","meta":{"devOnly":false}}`, 0)

	h.poller.ProcessBatch(context.Background())

	sent := h.mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, developer, sent[0].msg.To.Address)
}

func TestProcessBatch_StagingFansOutWithSpacing(t *testing.T) {
	const delay = 30 * time.Millisecond
	h := newHarness(t, domain.ModeStaging, func(_ *worker.Options, d *worker.Deps) {
		d.Pacer = ratelimiter.NewPacer(delay)
	})
	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		h.store.AddUser(domain.User{Email: email, Type: domain.UserTypeStaff, SendStagingNotifications: true, IsActive: true})
	}
	// Each send outlasts the delay; the gap still has to follow it.
	h.mailer.latency = 2 * delay
	nid, _ := h.job(h.student("s@example.com"), literal, 0)

	res := h.poller.ProcessBatch(context.Background())

	assert.Equal(t, 1, res.Sent)
	sent := h.mailer.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, "a@example.com", sent[0].msg.To.Address)
	assert.Equal(t, "c@example.com", sent[2].msg.To.Address)
	for i := 1; i < len(sent); i++ {
		idle := sent[i].started.Sub(sent[i-1].at)
		assert.GreaterOrEqual(t, idle, delay-5*time.Millisecond, "idle gap before send %d", i)
	}
	n, _ := h.store.Notification(nid)
	assert.Equal(t, domain.StatusSent, n.Status)
}

func TestProcessBatch_StagingPartialFailureFailsWholeJob(t *testing.T) {
	h := newHarness(t, domain.ModeStaging)
	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		h.store.AddUser(domain.User{Email: email, Type: domain.UserTypeStaff, SendStagingNotifications: true, IsActive: true})
	}
	h.mailer.failFor = map[string]error{"b@example.com": errors.New("mailbox full")}
	_, eid := h.job(h.student("s@example.com"), literal, 0)

	res := h.poller.ProcessBatch(context.Background())

	assert.Equal(t, 1, res.Retried)
	// a was sent before b failed; c was never attempted.
	sent := h.mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "a@example.com", sent[0].msg.To.Address)
	e, _ := h.store.Entry(eid)
	assert.Equal(t, 1, e.RetryAttempts)
}

func TestProcessBatch_Production(t *testing.T) {
	tests := []struct {
		name    string
		email   string
		content string
		want    string
	}{
		{"addressee", "s@example.com", literal, "s@example.com"},
		{"devOnly", "s@example.com", `{"subject":"x","html":"y","meta":{"devOnly":true}}`, developer},
		{"unresolvable addressee", "", literal, developer},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, domain.ModeProduction)
			h.job(h.student(tc.email), tc.content, 0)

			h.poller.ProcessBatch(context.Background())

			sent := h.mailer.Sent()
			require.Len(t, sent, 1)
			assert.Equal(t, tc.want, sent[0].msg.To.Address)
		})
	}
}

func TestProcessBatch_MissingUserFallsBackToDeveloper(t *testing.T) {
	h := newHarness(t, domain.ModeProduction)
	missing := int64(9999)
	nid := h.store.AddNotification(&missing, []byte(literal))
	h.store.Enqueue(nid, domain.QueueKindEmail, 0)

	h.poller.ProcessBatch(context.Background())

	sent := h.mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, developer, sent[0].msg.To.Address)
}

// ---- shutdown and overlap ----

func TestProcessBatch_ShutdownDoesNotCountAttempt(t *testing.T) {
	h := newHarness(t, domain.ModeProduction)
	h.mailer.block = make(chan struct{})
	h.mailer.started = make(chan struct{}, 1)
	uid := h.student("s@example.com")
	_, first := h.job(uid, literal, 2)
	_, second := h.job(uid, literal, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan worker.BatchResult)
	go func() { done <- h.poller.ProcessBatch(ctx) }()

	<-h.mailer.started
	cancel()
	res := <-done

	assert.Equal(t, 2, res.Aborted)
	e, exists := h.store.Entry(first)
	require.True(t, exists)
	assert.Equal(t, 2, e.RetryAttempts)
	e, exists = h.store.Entry(second)
	require.True(t, exists)
	assert.Equal(t, 0, e.RetryAttempts)
	assert.Empty(t, h.sink.Kinds())
}

func TestProcessBatch_SendTimeoutCountsAsFailure(t *testing.T) {
	h := newHarness(t, domain.ModeProduction, func(o *worker.Options, _ *worker.Deps) {
		o.SendTimeout = 20 * time.Millisecond
	})
	h.mailer.block = make(chan struct{})
	_, eid := h.job(h.student("s@example.com"), literal, 0)

	res := h.poller.ProcessBatch(context.Background())

	assert.Equal(t, 1, res.Retried)
	e, _ := h.store.Entry(eid)
	assert.Equal(t, 1, e.RetryAttempts)
}

func TestTick_SkipsWhileBatchInFlight(t *testing.T) {
	h := newHarness(t, domain.ModeProduction)
	h.mailer.block = make(chan struct{})
	h.mailer.started = make(chan struct{}, 1)
	h.job(h.student("s@example.com"), literal, 0)

	done := make(chan bool)
	go func() {
		_, ran := h.poller.Tick(context.Background())
		done <- ran
	}()
	<-h.mailer.started

	_, ran := h.poller.Tick(context.Background())
	assert.False(t, ran, "overlapping tick must be skipped")

	close(h.mailer.block)
	assert.True(t, <-done)

	res, ran := h.poller.Tick(context.Background())
	assert.True(t, ran)
	assert.Equal(t, 0, res.Fetched)
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t, domain.ModeDevelopment)
	uid := h.student("s@example.com")
	for i := 0; i < 3; i++ {
		h.job(uid, literal, 0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.poller.Run(ctx)
		close(stopped)
	}()

	require.Eventually(t, func() bool { return len(h.mailer.Sent()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// ---- hooks and events ----

func TestProcessBatch_MetricHooksAndEventFailures(t *testing.T) {
	var (
		mu       sync.Mutex
		outcomes []string
		emails   int
		batches  []int
		dropped  int
	)
	h := newHarness(t, domain.ModeProduction, func(_ *worker.Options, d *worker.Deps) {
		d.Hooks = worker.MetricHooks{
			OnJob: func(outcome string, _ time.Duration) {
				mu.Lock()
				outcomes = append(outcomes, outcome)
				mu.Unlock()
			},
			OnEmailSent:    func() { emails++ },
			OnBatch:        func(n int) { batches = append(batches, n) },
			OnEventDropped: func() { dropped++ },
		}
	})
	h.sink.err = errors.New("broker unavailable")
	h.mailer.failFor = map[string]error{"bad@example.com": fmt.Errorf("rejected")}
	h.job(h.student("ok@example.com"), literal, 0)
	h.job(h.student("bad@example.com"), literal, 0)

	h.poller.ProcessBatch(context.Background())

	assert.Equal(t, []string{"sent", "retry"}, outcomes)
	assert.Equal(t, 1, emails)
	assert.Equal(t, []int{2}, batches)
	assert.Equal(t, 2, dropped, "publish failures are counted but never affect delivery")
}
