// Package csrf binds a CSRF token to each live session. Bindings expire a
// fixed interval after issue, regardless of session activity.
package csrf

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"github.com/sushazhi/fnos-logmanager/internal/clock"
	"github.com/sushazhi/fnos-logmanager/internal/util"
)

const (
	// DefaultTTL is the fixed lifetime of a CSRF token.
	DefaultTTL = 2 * time.Hour
	// TokenBytes is the random length of a CSRF token before hex encoding.
	TokenBytes = 32
)

// SessionChecker reports whether a session token is live. It must not
// refresh the session.
type SessionChecker interface {
	Alive(token string) bool
}

type binding struct {
	token    string
	issuedAt time.Time
}

// Registry holds at most one binding per session token.
type Registry struct {
	sessions SessionChecker
	ttl      time.Duration
	clock    clock.Clock

	mu       sync.Mutex
	bindings map[string]binding
}

// NewRegistry returns an empty Registry. A zero ttl uses DefaultTTL and a
// nil clock uses system time.
func NewRegistry(sessions SessionChecker, ttl time.Duration, c clock.Clock) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		sessions: sessions,
		ttl:      ttl,
		clock:    clock.OrReal(c),
		bindings: make(map[string]binding),
	}
}

// TTL returns the fixed token lifetime.
func (r *Registry) TTL() time.Duration { return r.ttl }

func (r *Registry) expired(b binding, now time.Time) bool {
	return now.Sub(b.issuedAt) > r.ttl
}

// IssueOrRefresh returns the CSRF token bound to sessionToken, issuing a
// new one if there is none or the current one has expired. It returns
// false if the session is not live. Repeated calls within the TTL return
// the same token.
func (r *Registry) IssueOrRefresh(sessionToken string) (string, bool) {
	if sessionToken == "" || !r.sessions.Alive(sessionToken) {
		return "", false
	}
	now := r.clock.Now()

	r.mu.Lock()
	if b, ok := r.bindings[sessionToken]; ok && !r.expired(b, now) {
		r.mu.Unlock()
		return b.token, true
	}
	token, err := util.RandomToken(TokenBytes)
	if err != nil {
		r.mu.Unlock()
		return "", false
	}
	r.bindings[sessionToken] = binding{token: token, issuedAt: now}
	r.mu.Unlock()

	// The session may have been destroyed while the binding was created.
	if !r.sessions.Alive(sessionToken) {
		r.Revoke(sessionToken)
		return "", false
	}
	return token, true
}

// Validate reports whether csrfToken is the live binding for sessionToken.
// Empty inputs, unknown bindings and expired bindings all fail.
func (r *Registry) Validate(sessionToken, csrfToken string) bool {
	if sessionToken == "" || csrfToken == "" {
		return false
	}
	now := r.clock.Now()

	r.mu.Lock()
	b, ok := r.bindings[sessionToken]
	if ok && r.expired(b, now) {
		delete(r.bindings, sessionToken)
		ok = false
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(b.token), []byte(csrfToken)) == 1
}

// Revoke drops the binding for sessionToken. It is registered as a session
// destroy listener.
func (r *Registry) Revoke(sessionToken string) {
	r.mu.Lock()
	delete(r.bindings, sessionToken)
	r.mu.Unlock()
}

// Count returns the number of bindings held.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bindings)
}

// Sweep removes expired bindings and bindings whose session is gone.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	keys := make([]string, 0, len(r.bindings))
	for k := range r.bindings {
		keys = append(keys, k)
	}
	r.mu.Unlock()

	removed := 0
	for _, k := range keys {
		alive := r.sessions.Alive(k)
		r.mu.Lock()
		if b, ok := r.bindings[k]; ok && (!alive || r.expired(b, r.clock.Now())) {
			delete(r.bindings, k)
			removed++
		}
		r.mu.Unlock()
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
