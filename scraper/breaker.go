package scraper

import (
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-catalog-ingest/models"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerHalfOpen
	breakerOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerHalfOpen:
		return "half_open"
	case breakerOpen:
		return "open"
	default:
		return "closed"
	}
}

// breaker counts consecutive blocked responses for one platform. While open
// every request fails fast; after the cool-down a single trial is admitted.
type breaker struct {
	platform  models.Platform
	threshold int
	baseCool  time.Duration
	maxCool   time.Duration
	metrics   *Metrics
	now       func() time.Time

	mu          sync.Mutex
	state       breakerState
	consecutive int
	cooldown    time.Duration
	openUntil   time.Time
	probing     bool
}

func newBreaker(platform models.Platform, threshold int, cooldown, maxCooldown time.Duration, metrics *Metrics, now func() time.Time) *breaker {
	if threshold <= 0 {
		threshold = 1
	}
	if maxCooldown < cooldown {
		maxCooldown = cooldown
	}
	return &breaker{
		platform:  platform,
		threshold: threshold,
		baseCool:  cooldown,
		maxCool:   maxCooldown,
		metrics:   metrics,
		now:       now,
		cooldown:  cooldown,
	}
}

// Rejects reports whether a new submission should fail fast, without
// claiming the half-open trial.
func (b *breaker) Rejects() (bool, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerOpen:
		if b.now().Before(b.openUntil) {
			return true, b.openUntil
		}
		return false, time.Time{}
	case breakerHalfOpen:
		return b.probing, b.openUntil
	default:
		return false, time.Time{}
	}
}

// Allow is called right before dispatch. Once the cool-down has elapsed the
// first caller becomes the half-open trial; everyone else is refused until
// the trial reports back.
func (b *breaker) Allow() (bool, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerOpen:
		if b.now().Before(b.openUntil) {
			return false, b.openUntil
		}
		b.setStateLocked(breakerHalfOpen)
		b.probing = true
		return true, time.Time{}
	case breakerHalfOpen:
		if b.probing {
			return false, b.openUntil
		}
		b.probing = true
		return true, time.Time{}
	default:
		return true, time.Time{}
	}
}

// RecordBlocked registers a blocked response and reports whether it opened
// the breaker.
func (b *breaker) RecordBlocked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerHalfOpen:
		next := b.cooldown * 2
		if next > b.maxCool {
			next = b.maxCool
		}
		b.openLocked(next)
		return true
	case breakerOpen:
		return false
	default:
		b.consecutive++
		if b.consecutive >= b.threshold {
			b.openLocked(b.baseCool)
			return true
		}
		return false
	}
}

// RecordSuccess closes a half-open breaker and resets the failure streak.
func (b *breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive = 0
	if b.state == breakerHalfOpen {
		b.probing = false
		b.cooldown = b.baseCool
		b.setStateLocked(breakerClosed)
		slog.Info("circuit breaker closed", slog.String("platform", string(b.platform)))
	}
}

// RecordNeutral releases a half-open trial whose outcome said nothing about
// blocking (a timeout, a 404), so another trial may run.
func (b *breaker) RecordNeutral() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == breakerHalfOpen {
		b.probing = false
	}
}

func (b *breaker) State() breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *breaker) openLocked(cooldown time.Duration) {
	b.cooldown = cooldown
	b.openUntil = b.now().Add(cooldown)
	b.consecutive = 0
	b.probing = false
	b.setStateLocked(breakerOpen)
	b.metrics.IncBreakerOpen(b.platform)
	slog.Warn("circuit breaker opened",
		slog.String("platform", string(b.platform)),
		slog.Duration("cooldown", cooldown),
		slog.Time("retry_at", b.openUntil),
	)
}

func (b *breaker) setStateLocked(state breakerState) {
	b.state = state
	b.metrics.SetBreakerState(b.platform, state)
}
