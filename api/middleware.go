package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/sushazhi/fnos-logmanager/audit"
)

type contextKey int

const sessionTokenKey contextKey = iota

const (
	sessionCookieName = "session_token"
	csrfHeaderName    = "X-CSRF-Token"
	csrfBodyField     = "_csrf"

	// maxCSRFBodyPeek bounds how much of a body is buffered to look for
	// the _csrf field.
	maxCSRFBodyPeek = 1 << 20
)

// sessionTokenFromRequest extracts a session token from, in order, the
// session cookie, an Authorization bearer header, or the token query
// parameter.
func sessionTokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return r.URL.Query().Get("token")
}

// accessLogFormatter is chi's default request log line with credentials
// masked in the query string.
type accessLogFormatter struct {
	chimw.DefaultLogFormatter
}

func (f *accessLogFormatter) NewLogEntry(r *http.Request) chimw.LogEntry {
	return f.DefaultLogFormatter.NewLogEntry(maskQueryCredentials(r))
}

// maskQueryCredentials returns r, or a shallow copy whose RequestURI has the
// token and _csrf query values replaced.
func maskQueryCredentials(r *http.Request) *http.Request {
	q := r.URL.Query()
	masked := false
	for _, key := range []string{"token", csrfBodyField} {
		if q.Has(key) {
			q.Set(key, "REDACTED")
			masked = true
		}
	}
	if !masked {
		return r
	}
	u := *r.URL
	u.RawQuery = q.Encode()
	r2 := r.WithContext(r.Context())
	r2.URL = &u
	r2.RequestURI = u.RequestURI()
	return r2
}

func sessionTokenFromContext(ctx context.Context) string {
	tok, _ := ctx.Value(sessionTokenKey).(string)
	return tok
}

// RequireSession rejects requests without a live session. A valid token
// slides the session's expiry forward.
func (a *API) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := sessionTokenFromRequest(r)
		if token == "" || !a.sessions.Validate(token) {
			a.metrics.gate(gateSession, false)
			a.record(r, audit.ActionAuthFailed, map[string]any{
				"path":     r.URL.Path,
				"hasToken": token != "",
			})
			writeAPIError(w, errAuthRequired)
			return
		}
		a.metrics.gate(gateSession, true)
		ctx := context.WithValue(r.Context(), sessionTokenKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireCSRF enforces the CSRF token bound to the caller's session on
// every method other than GET, HEAD and OPTIONS. It must run after
// RequireSession. The token is read from the X-CSRF-Token header, falling
// back to a "_csrf" field in a JSON body; the body is restored for the
// handler.
func (a *API) RequireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get(csrfHeaderName)
		if token == "" {
			token = csrfFromBody(r)
		}
		if !a.csrf.Validate(sessionTokenFromContext(r.Context()), token) {
			a.metrics.gate(gateCSRF, false)
			a.record(r, audit.ActionCSRFFailed, map[string]any{"path": r.URL.Path})
			writeAPIError(w, errCSRF)
			return
		}
		a.metrics.gate(gateCSRF, true)
		next.ServeHTTP(w, r)
	})
}

// csrfFromBody buffers up to maxCSRFBodyPeek bytes of a JSON body, looks
// for the _csrf field and puts the bytes back so the handler sees the
// original body.
func csrfFromBody(r *http.Request) string {
	if r.Body == nil || !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return ""
	}
	buf, err := io.ReadAll(io.LimitReader(r.Body, maxCSRFBodyPeek))
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(buf), r.Body), r.Body}
	if err != nil {
		return ""
	}
	var peek struct {
		CSRF string `json:"_csrf"`
	}
	if json.Unmarshal(buf, &peek) != nil {
		return ""
	}
	return peek.CSRF
}

func (a *API) writeSessionCookie(w http.ResponseWriter, r *http.Request, token string) {
	ttl := a.sessions.TTL()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.forceSecure || requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl / time.Second),
	})
}

func (a *API) clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   a.forceSecure || requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}
