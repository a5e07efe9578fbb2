// Package throttle holds the per-address counters that bound login guessing
// and overall request volume.
package throttle

import (
	"context"
	"sync"
	"time"

	"github.com/sushazhi/fnos-logmanager/internal/clock"
)

// Login throttle defaults.
const (
	DefaultMaxAttempts = 5
	DefaultLockout     = 30 * time.Minute
	// DefaultIdleTTL reclaims failure counters that never reached lockout.
	DefaultIdleTTL = 1 * time.Hour
)

// LoginConfig configures a LoginThrottle. Zero fields take the defaults.
type LoginConfig struct {
	MaxAttempts int
	Lockout     time.Duration
	IdleTTL     time.Duration
}

func (c LoginConfig) withDefaults() LoginConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Lockout <= 0 {
		c.Lockout = DefaultLockout
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = DefaultIdleTTL
	}
	return c
}

type attemptRecord struct {
	failures    int
	lastFailure time.Time
	lockedUntil time.Time
}

// LoginThrottle counts consecutive failed logins per client address and
// locks the address out once MaxAttempts is reached.
//
// Per address: Clear -> Counting(n) -> Locked(until) -> Clear. A success
// from any state returns to Clear.
type LoginThrottle struct {
	cfg   LoginConfig
	clock clock.Clock

	mu       sync.Mutex
	attempts map[string]*attemptRecord
}

// NewLoginThrottle returns a LoginThrottle. A nil clock uses system time.
func NewLoginThrottle(cfg LoginConfig, c clock.Clock) *LoginThrottle {
	return &LoginThrottle{
		cfg:      cfg.withDefaults(),
		clock:    clock.OrReal(c),
		attempts: make(map[string]*attemptRecord),
	}
}

// MaxAttempts returns the configured failure ceiling.
func (t *LoginThrottle) MaxAttempts() int { return t.cfg.MaxAttempts }

// lookupLocked returns the live record for addr, deleting it first if its
// lockout has passed or it has sat idle beyond IdleTTL. t.mu must be held.
func (t *LoginThrottle) lookupLocked(addr string, now time.Time) (*attemptRecord, bool) {
	rec, ok := t.attempts[addr]
	if !ok {
		return nil, false
	}
	if t.expired(rec, now) {
		delete(t.attempts, addr)
		return nil, false
	}
	return rec, true
}

func (t *LoginThrottle) expired(rec *attemptRecord, now time.Time) bool {
	if !rec.lockedUntil.IsZero() {
		return now.After(rec.lockedUntil)
	}
	return now.Sub(rec.lastFailure) > t.cfg.IdleTTL
}

// IsLocked reports whether addr is currently locked out.
func (t *LoginThrottle) IsLocked(addr string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.lookupLocked(addr, t.clock.Now())
	return ok && !rec.lockedUntil.IsZero()
}

// RetryAfter returns how long addr remains locked, or zero.
func (t *LoginThrottle) RetryAfter(addr string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	rec, ok := t.lookupLocked(addr, now)
	if !ok || rec.lockedUntil.IsZero() {
		return 0
	}
	return rec.lockedUntil.Sub(now)
}

// Remaining returns how many failures addr may still make before lockout.
func (t *LoginThrottle) Remaining(addr string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.lookupLocked(addr, t.clock.Now())
	if !ok {
		return t.cfg.MaxAttempts
	}
	return max(t.cfg.MaxAttempts-rec.failures, 0)
}

// RecordAttempt records the outcome of a login attempt from addr. It
// reports whether this attempt caused a lockout.
func (t *LoginThrottle) RecordAttempt(addr string, success bool) (lockedNow bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if success {
		delete(t.attempts, addr)
		return false
	}

	now := t.clock.Now()
	rec, ok := t.lookupLocked(addr, now)
	if !ok {
		rec = &attemptRecord{}
		t.attempts[addr] = rec
	}
	if !rec.lockedUntil.IsZero() {
		return false
	}
	rec.failures++
	rec.lastFailure = now
	if rec.failures >= t.cfg.MaxAttempts {
		rec.lockedUntil = now.Add(t.cfg.Lockout)
		return true
	}
	return false
}

// Len returns the number of tracked addresses.
func (t *LoginThrottle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.attempts)
}

// Sweep removes expired lockouts and idle counters and returns how many
// records were removed.
func (t *LoginThrottle) Sweep() int {
	t.mu.Lock()
	keys := make([]string, 0, len(t.attempts))
	for k := range t.attempts {
		keys = append(keys, k)
	}
	t.mu.Unlock()

	removed := 0
	for _, k := range keys {
		t.mu.Lock()
		if rec, ok := t.attempts[k]; ok && t.expired(rec, t.clock.Now()) {
			delete(t.attempts, k)
			removed++
		}
		t.mu.Unlock()
	}
	return removed
}

// Run calls Sweep every interval until ctx is cancelled.
func (t *LoginThrottle) Run(ctx context.Context, interval time.Duration) {
	runSweeper(ctx, interval, t.Sweep)
}

func runSweeper(ctx context.Context, interval time.Duration, sweep func() int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
