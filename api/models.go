package api

import (
	"github.com/sushazhi/fnos-logmanager/audit"
	"github.com/sushazhi/fnos-logmanager/docker"
	"github.com/sushazhi/fnos-logmanager/logfiles"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// SuccessResponse acknowledges a mutating request.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned from GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// SetupRequest is the JSON body for POST /auth/setup.
type SetupRequest struct {
	Password string `json:"password"`
}

// LoginRequest is the JSON body for POST /auth/login.
type LoginRequest struct {
	Password string `json:"password"`
}

// LoginResponse is returned from a successful POST /auth/login. ExpiresIn is
// the session idle timeout in milliseconds.
type LoginResponse struct {
	Success   bool   `json:"success"`
	Token     string `json:"token"`
	CSRFToken string `json:"csrfToken"`
	ExpiresIn int64  `json:"expiresIn"`
}

// LoginFailedResponse is returned from POST /auth/login on a wrong password.
type LoginFailedResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Remaining int    `json:"remaining"`
}

// ChangePasswordRequest is the JSON body for POST /auth/password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// StatusResponse is returned from GET /auth/status.
type StatusResponse struct {
	Initialized   bool  `json:"initialized"`
	IsLoggedIn    bool  `json:"isLoggedIn"`
	SessionExpiry int64 `json:"sessionExpiry"`
}

// CSRFTokenResponse is returned from GET /auth/csrf-token. Both fields are
// null when the caller has no live session.
type CSRFTokenResponse struct {
	CSRFToken *string `json:"csrfToken"`
	Token     *string `json:"token"`
}

// DirsResponse is returned from GET /dirs.
type DirsResponse struct {
	Dirs []logfiles.DirInfo `json:"dirs"`
}

// LogsResponse lists log files.
type LogsResponse struct {
	Logs  []logfiles.File `json:"logs"`
	Total int             `json:"total"`
}

// ArchivesResponse lists archive files.
type ArchivesResponse struct {
	Archives []logfiles.File `json:"archives"`
	Total    int             `json:"total"`
}

// PathRequest is the JSON body for single-file mutations.
type PathRequest struct {
	Path string `json:"path"`
}

// CleanRequest is the JSON body for POST /logs/clean.
type CleanRequest struct {
	Threshold string `json:"threshold"`
	Days      int    `json:"days"`
	Action    string `json:"action"`
}

// FilterSetting is the body and response of the redaction settings routes.
type FilterSetting struct {
	Enabled *bool `json:"enabled"`
}

// FilterChangedResponse is returned from POST /settings/filter.
type FilterChangedResponse struct {
	Success bool `json:"success"`
	Enabled bool `json:"enabled"`
}

// ContainersResponse is returned from GET /docker/containers. Error is set
// when docker could not be queried; the list is then empty.
type ContainersResponse struct {
	Containers []docker.Container `json:"containers"`
	Error      string             `json:"error,omitempty"`
}

// DockerLogsResponse is returned from GET /docker/logs.
type DockerLogsResponse struct {
	Logs string `json:"logs"`
}

// AuditLogResponse is returned from GET /audit/log.
type AuditLogResponse struct {
	Logs []audit.Event `json:"logs"`
	PaginationMeta
}
