package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/sushazhi/fnos-logmanager/credential"
	"github.com/sushazhi/fnos-logmanager/docker"
	"github.com/sushazhi/fnos-logmanager/logfiles"
	"github.com/sushazhi/fnos-logmanager/pathguard"
)

// Error codes are part of the public contract; the UI switches on them.
const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeAuthentication = "AUTHENTICATION_ERROR"
	CodeAuthorization  = "AUTHORIZATION_ERROR"
	CodeCSRF           = "CSRF_ERROR"
	CodePathRejected   = "PATH_REJECTED"
	CodeNotFound       = "NOT_FOUND"
	CodeConflict       = "CONFLICT_ERROR"
	CodeRateLimit      = "RATE_LIMIT_ERROR"
	CodeInternal       = "INTERNAL_ERROR"
)

// apiError is an HTTP-facing failure with a stable code.
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string { return e.Message }

var (
	errAuthRequired = &apiError{http.StatusUnauthorized, CodeAuthentication, "authentication required"}
	errCSRF         = &apiError{http.StatusForbidden, CodeCSRF, "CSRF validation failed"}
	errPathRejected = &apiError{http.StatusForbidden, CodePathRejected, "access to this path is not allowed"}
	errRateLimited  = &apiError{http.StatusTooManyRequests, CodeRateLimit, "too many requests; try again later"}
	errLoginLocked  = &apiError{http.StatusTooManyRequests, CodeRateLimit, "too many failed login attempts; try again later"}
	errNotFound     = &apiError{http.StatusNotFound, CodeNotFound, "resource not found"}
	errInternal     = &apiError{http.StatusInternalServerError, CodeInternal, "internal server error"}
)

func validationError(format string, args ...any) *apiError {
	return &apiError{http.StatusBadRequest, CodeValidation, fmt.Sprintf(format, args...)}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, e *apiError) {
	writeJSON(w, e.Status, ErrorResponse{Error: e.Message, Code: e.Code})
}

// writeInternalError logs the cause and returns a generic 500 so internal
// details never reach the client.
func writeInternalError(w http.ResponseWriter, logger *slog.Logger, msg string, err error) {
	logger.Error(msg, slog.Any("error", err))
	writeAPIError(w, errInternal)
}

// mapError translates domain errors into HTTP responses.
func (a *API) mapError(w http.ResponseWriter, err error) {
	var ae *apiError
	switch {
	case errors.As(err, &ae):
		writeAPIError(w, ae)
	case errors.Is(err, pathguard.ErrPathRejected):
		writeAPIError(w, errPathRejected)
	case errors.Is(err, credential.ErrConflict):
		writeAPIError(w, &apiError{http.StatusConflict, CodeConflict, "password was changed by another request; retry"})
	case errors.Is(err, logfiles.ErrNotFound):
		writeAPIError(w, &apiError{http.StatusNotFound, CodeNotFound, "file not found"})
	case errors.Is(err, logfiles.ErrNotRegular):
		writeAPIError(w, validationError("not a regular file"))
	case errors.Is(err, logfiles.ErrArchiveTimeout):
		writeAPIError(w, &apiError{http.StatusGatewayTimeout, CodeInternal, err.Error()})
	case errors.Is(err, logfiles.ErrArchiveToolMissing):
		a.logger.Warn("archive read failed", "error", err)
		writeAPIError(w, &apiError{http.StatusServiceUnavailable, CodeInternal, logfiles.ErrArchiveToolMissing.Error()})
	case errors.Is(err, logfiles.ErrArchiveFailed):
		a.logger.Warn("archive read failed", "error", err)
		writeAPIError(w, validationError("%s", logfiles.ErrArchiveFailed.Error()))
	case errors.Is(err, logfiles.ErrInvalidPattern),
		errors.Is(err, logfiles.ErrNotArchive),
		errors.Is(err, logfiles.ErrInvalidAction),
		errors.Is(err, logfiles.ErrNoCriteria),
		errors.Is(err, docker.ErrInvalidName),
		errors.Is(err, credential.ErrTooShort),
		errors.Is(err, credential.ErrAlreadyInitialized),
		errors.Is(err, credential.ErrNotInitialized),
		errors.Is(err, credential.ErrMismatch):
		writeAPIError(w, validationError("%s", err.Error()))
	default:
		writeInternalError(w, a.logger, "request failed", err)
	}
}

// decodeJSON reads a size-limited JSON body into T. On failure it writes a
// validation error and returns false.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, limit int64) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&v); err != nil {
		var maxBytesErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxBytesErr):
			writeAPIError(w, &apiError{http.StatusRequestEntityTooLarge, CodeValidation, "request body too large"})
		case errors.Is(err, io.EOF):
			writeAPIError(w, validationError("request body is required"))
		default:
			writeAPIError(w, validationError("invalid JSON body"))
		}
		return v, false
	}
	return v, true
}
