package ratelimiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pacer keeps at least delay of idle time between the end of one outbound
// send and the start of the next. A single Pacer is shared by every send in
// the process.
//
// Wait takes the single token; Done restarts the bucket empty, so the next
// token only becomes available delay after the send completed.
type Pacer struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	delay   time.Duration
}

// NewPacer returns a Pacer that sleeps delay after each send.
// A zero or negative delay disables pacing.
func NewPacer(delay time.Duration) *Pacer {
	if delay <= 0 {
		return &Pacer{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Every(delay), 1), delay: delay}
}

// Wait blocks until the next send may start.
// Called immediately before each provider send.
// Returns a non-nil error only if ctx is cancelled while waiting.
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	lim := p.limiter
	p.mu.Unlock()
	return lim.Wait(ctx)
}

// Done marks the end of a provider send, successful or not.
func (p *Pacer) Done() {
	if p.delay <= 0 {
		return
	}
	lim := rate.NewLimiter(rate.Every(p.delay), 1)
	lim.Allow()

	p.mu.Lock()
	p.limiter = lim
	p.mu.Unlock()
}

// Delay reports the configured gap; zero means pacing is off.
func (p *Pacer) Delay() time.Duration { return p.delay }
