// Package audit records security-relevant events to an append-only,
// size-capped sink.
package audit

import (
	"context"
	"time"
)

// Action identifies the kind of event being recorded.
type Action string

const (
	ActionPasswordSetup   Action = "password_setup"
	ActionPasswordChanged Action = "password_changed"
	ActionPasswordFailed  Action = "password_change_failed"
	ActionLoginSuccess    Action = "login_success"
	ActionLoginFailed     Action = "login_failed"
	ActionLoginLocked     Action = "login_locked"
	ActionLogout          Action = "logout"
	ActionAuthFailed      Action = "auth_failed"
	ActionCSRFFailed      Action = "csrf_failed"
	ActionPathRejected    Action = "path_rejected"
	ActionRateLimited     Action = "rate_limited"
	ActionLogTruncate     Action = "log_truncate"
	ActionLogDelete       Action = "log_delete"
	ActionLogsClean       Action = "logs_clean"
	ActionArchiveDelete   Action = "archive_delete"
	ActionFilterChanged   Action = "filter_changed"
)

// DefaultMaxRecords is how many events a sink retains.
const DefaultMaxRecords = 1000

// Event is one immutable audit record.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Action    Action         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
	IP        string         `json:"ip"`
	UserAgent string         `json:"userAgent"`
}

// Sink stores events in append order and keeps only the most recent ones.
type Sink interface {
	Append(ctx context.Context, evt Event) error
	// Recent returns up to limit events, newest first, skipping offset,
	// along with the number of events retained.
	Recent(ctx context.Context, limit, offset int) ([]Event, int, error)
}

func page(events []Event, limit, offset int) []Event {
	n := len(events)
	if offset >= n {
		return []Event{}
	}
	end := n - offset
	start := 0
	if limit > 0 && end-limit > 0 {
		start = end - limit
	}
	out := make([]Event, 0, end-start)
	for i := end - 1; i >= start; i-- {
		out = append(out, events[i])
	}
	return out
}
