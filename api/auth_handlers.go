package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/sushazhi/fnos-logmanager/audit"
	"github.com/sushazhi/fnos-logmanager/credential"
	"github.com/sushazhi/fnos-logmanager/session"
)

const (
	maxAuthBodySize  = 4 << 10
	maxSmallBodySize = 64 << 10
)

func millis(d time.Duration) int64 { return d.Milliseconds() }

// Setup handles POST /auth/setup. It succeeds only while no password is
// stored.
func (a *API) Setup(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[SetupRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if err := a.creds.Setup(r.Context(), req.Password); err != nil {
		a.mapError(w, err)
		return
	}
	a.record(r, audit.ActionPasswordSetup, nil)
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "password set"})
}

// Login handles POST /auth/login.
//
// A locked-out address is refused before the password is checked. A wrong
// password reports how many attempts remain; the attempt that exhausts them
// still gets a plain failure and only later attempts see the lockout.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LoginRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if req.Password == "" {
		writeAPIError(w, validationError("password is required"))
		return
	}

	ip := a.clientIP(r)
	if a.loginThrottle.IsLocked(ip) {
		a.metrics.gate(gateLogin, false)
		a.record(r, audit.ActionLoginLocked, nil)
		writeRateLimited(w, a.loginThrottle.RetryAfter(ip), errLoginLocked)
		return
	}

	valid, err := a.creds.Check(r.Context(), req.Password)
	if err != nil {
		a.mapError(w, err)
		return
	}
	if !valid {
		a.loginThrottle.RecordAttempt(ip, false)
		remaining := a.loginThrottle.Remaining(ip)
		a.metrics.gate(gateLogin, false)
		a.record(r, audit.ActionLoginFailed, map[string]any{"remaining": remaining})
		writeJSON(w, http.StatusUnauthorized, LoginFailedResponse{
			Error:     "incorrect password",
			Code:      CodeAuthentication,
			Remaining: remaining,
		})
		return
	}

	a.loginThrottle.RecordAttempt(ip, true)
	a.metrics.gate(gateLogin, true)
	token, err := a.sessions.Create(session.AdminIdentity)
	if err != nil {
		writeInternalError(w, a.logger, "failed to create session", err)
		return
	}
	csrfToken, ok := a.csrf.IssueOrRefresh(token)
	if !ok {
		writeInternalError(w, a.logger, "failed to issue CSRF token", errors.New("session vanished during login"))
		return
	}
	a.record(r, audit.ActionLoginSuccess, nil)
	a.writeSessionCookie(w, r, token)
	writeJSON(w, http.StatusOK, LoginResponse{
		Success:   true,
		Token:     token,
		CSRFToken: csrfToken,
		ExpiresIn: millis(a.sessions.TTL()),
	})
}

// Logout handles POST /auth/logout. It is idempotent and never fails.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	if token := sessionTokenFromRequest(r); token != "" {
		live := a.sessions.Alive(token)
		a.sessions.Destroy(token)
		if live {
			a.record(r, audit.ActionLogout, nil)
		}
	}
	a.clearSessionCookie(w, r)
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// Status handles GET /auth/status.
func (a *API) Status(w http.ResponseWriter, r *http.Request) {
	initialized, err := a.creds.IsSet(r.Context())
	if err != nil {
		writeInternalError(w, a.logger, "failed to read credential state", err)
		return
	}
	token := sessionTokenFromRequest(r)
	writeJSON(w, http.StatusOK, StatusResponse{
		Initialized:   initialized,
		IsLoggedIn:    token != "" && a.sessions.Validate(token),
		SessionExpiry: millis(a.sessions.TTL()),
	})
}

// CSRFToken handles GET /auth/csrf-token. A caller with a live session gets
// its (possibly new) CSRF token; anyone else gets nulls.
func (a *API) CSRFToken(w http.ResponseWriter, r *http.Request) {
	token := sessionTokenFromRequest(r)
	if token != "" && a.sessions.Validate(token) {
		if csrfToken, ok := a.csrf.IssueOrRefresh(token); ok {
			writeJSON(w, http.StatusOK, CSRFTokenResponse{CSRFToken: &csrfToken, Token: &token})
			return
		}
	}
	writeJSON(w, http.StatusOK, CSRFTokenResponse{})
}

// ChangePassword handles POST /auth/password.
func (a *API) ChangePassword(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[ChangePasswordRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeAPIError(w, validationError("currentPassword and newPassword are required"))
		return
	}
	if err := a.creds.Change(r.Context(), req.CurrentPassword, req.NewPassword); err != nil {
		if errors.Is(err, credential.ErrMismatch) {
			a.record(r, audit.ActionPasswordFailed, nil)
		}
		a.mapError(w, err)
		return
	}
	a.record(r, audit.ActionPasswordChanged, nil)
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "password changed"})
}
