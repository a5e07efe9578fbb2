package throttle

import (
	"context"
	"sync"
	"time"

	"github.com/sushazhi/fnos-logmanager/internal/clock"
)

// Request rate limit defaults.
const (
	DefaultWindow      = 60 * time.Second
	DefaultMaxRequests = 100
)

// WindowConfig configures a WindowLimiter. Zero fields take the defaults.
type WindowConfig struct {
	Window      time.Duration
	MaxRequests int
}

type windowRecord struct {
	count    int
	rejected int
	resetAt  time.Time
}

// Decision is the outcome of counting one request.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	// FirstRejection is set on the first refused request of a window so
	// callers can report a flood once instead of per request.
	FirstRejection bool
}

// WindowLimiter is a fixed-window request counter per client address. It is
// independent of LoginThrottle and applies to every request.
type WindowLimiter struct {
	window      time.Duration
	maxRequests int
	clock       clock.Clock

	mu      sync.Mutex
	records map[string]*windowRecord
}

// NewWindowLimiter returns a WindowLimiter. A nil clock uses system time.
func NewWindowLimiter(cfg WindowConfig, c clock.Clock) *WindowLimiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultMaxRequests
	}
	return &WindowLimiter{
		window:      cfg.Window,
		maxRequests: cfg.MaxRequests,
		clock:       clock.OrReal(c),
		records:     make(map[string]*windowRecord),
	}
}

// Limit returns the per-window request ceiling.
func (l *WindowLimiter) Limit() int { return l.maxRequests }

// Allow counts one request from addr against the current window.
func (l *WindowLimiter) Allow(addr string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	rec, ok := l.records[addr]
	if !ok || !now.Before(rec.resetAt) {
		rec = &windowRecord{resetAt: now.Add(l.window)}
		l.records[addr] = rec
	}
	if rec.count >= l.maxRequests {
		rec.rejected++
		return Decision{ResetAt: rec.resetAt, FirstRejection: rec.rejected == 1}
	}
	rec.count++
	return Decision{Allowed: true, Remaining: l.maxRequests - rec.count, ResetAt: rec.resetAt}
}

// Len returns the number of tracked addresses.
func (l *WindowLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Sweep drops records whose window has ended.
func (l *WindowLimiter) Sweep() int {
	l.mu.Lock()
	keys := make([]string, 0, len(l.records))
	for k := range l.records {
		keys = append(keys, k)
	}
	l.mu.Unlock()

	removed := 0
	for _, k := range keys {
		l.mu.Lock()
		if rec, ok := l.records[k]; ok && !l.clock.Now().Before(rec.resetAt) {
			delete(l.records, k)
			removed++
		}
		l.mu.Unlock()
	}
	return removed
}

// Run calls Sweep every interval until ctx is cancelled.
func (l *WindowLimiter) Run(ctx context.Context, interval time.Duration) {
	runSweeper(ctx, interval, l.Sweep)
}
