// Package session issues and tracks admin session tokens with a sliding
// idle expiry.
//
// Sessions live in process memory only. A restart logs everyone out.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/sushazhi/fnos-logmanager/internal/clock"
	"github.com/sushazhi/fnos-logmanager/internal/util"
)

const (
	// DefaultTTL is the idle window after which a session lapses.
	DefaultTTL = 24 * time.Hour
	// TokenBytes is the random length of a session token before hex encoding.
	TokenBytes = 32
	// AdminIdentity is the single principal this console knows.
	AdminIdentity = "admin"
)

// Session is a snapshot of a live session.
type Session struct {
	Token      string
	Identity   string
	CreatedAt  time.Time
	LastAccess time.Time
	ExpiresAt  time.Time
}

type entry struct {
	identity   string
	createdAt  time.Time
	lastAccess time.Time
}

// Registry owns every live session. A session is valid while
// now - lastAccess <= TTL; each successful validation refreshes lastAccess.
type Registry struct {
	ttl   time.Duration
	clock clock.Clock

	mu       sync.Mutex
	sessions map[string]*entry

	listenersMu sync.RWMutex
	listeners   []func(token string)
}

// NewRegistry returns an empty Registry. A zero ttl uses DefaultTTL and a
// nil clock uses system time.
func NewRegistry(ttl time.Duration, c clock.Clock) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		ttl:      ttl,
		clock:    clock.OrReal(c),
		sessions: make(map[string]*entry),
	}
}

// TTL returns the sliding idle window.
func (r *Registry) TTL() time.Duration { return r.ttl }

// OnDestroy registers fn to be called with the token of every session that
// is destroyed, whether by logout, lazy expiry or sweep. fn runs without
// the registry lock held.
func (r *Registry) OnDestroy(fn func(token string)) {
	r.listenersMu.Lock()
	r.listeners = append(r.listeners, fn)
	r.listenersMu.Unlock()
}

func (r *Registry) notify(token string) {
	r.listenersMu.RLock()
	listeners := r.listeners
	r.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(token)
	}
}

func (r *Registry) expired(e *entry, now time.Time) bool {
	return now.Sub(e.lastAccess) > r.ttl
}

// Create starts a new session for identity and returns its token. Older
// sessions for the same identity are left alone.
func (r *Registry) Create(identity string) (string, error) {
	token, err := util.RandomToken(TokenBytes)
	if err != nil {
		return "", err
	}
	now := r.clock.Now()
	r.mu.Lock()
	r.sessions[token] = &entry{identity: identity, createdAt: now, lastAccess: now}
	r.mu.Unlock()
	return token, nil
}

// Validate reports whether token names a live session and, if so, slides
// its expiry forward. Unknown and expired tokens are indistinguishable.
func (r *Registry) Validate(token string) bool {
	_, ok := r.Lookup(token)
	return ok
}

// Lookup validates token like Validate and returns a snapshot of the
// refreshed session.
func (r *Registry) Lookup(token string) (Session, bool) {
	if token == "" {
		return Session{}, false
	}
	now := r.clock.Now()

	r.mu.Lock()
	e, ok := r.sessions[token]
	if !ok {
		r.mu.Unlock()
		return Session{}, false
	}
	if r.expired(e, now) {
		delete(r.sessions, token)
		r.mu.Unlock()
		r.notify(token)
		return Session{}, false
	}
	e.lastAccess = now
	s := Session{
		Token:      token,
		Identity:   e.identity,
		CreatedAt:  e.createdAt,
		LastAccess: now,
		ExpiresAt:  now.Add(r.ttl),
	}
	r.mu.Unlock()
	return s, true
}

// Alive reports whether token names a live session without refreshing it.
func (r *Registry) Alive(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[token]
	return ok && !r.expired(e, r.clock.Now())
}

// Destroy ends the session named by token. Unknown tokens are ignored.
func (r *Registry) Destroy(token string) {
	r.mu.Lock()
	_, ok := r.sessions[token]
	delete(r.sessions, token)
	r.mu.Unlock()
	if ok {
		r.notify(token)
	}
}

// Count returns the number of sessions held, including expired ones not
// yet swept.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep removes sessions idle beyond the TTL and returns how many it
// removed. Keys are copied first and each is rechecked under the lock, so
// requests are never blocked for the whole pass.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	tokens := make([]string, 0, len(r.sessions))
	for t := range r.sessions {
		tokens = append(tokens, t)
	}
	r.mu.Unlock()

	removed := 0
	for _, t := range tokens {
		r.mu.Lock()
		e, ok := r.sessions[t]
		gone := ok && r.expired(e, r.clock.Now())
		if gone {
			delete(r.sessions, t)
		}
		r.mu.Unlock()
		if gone {
			removed++
			r.notify(t)
		}
	}
	return removed
}

// Run calls Sweep every interval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}
