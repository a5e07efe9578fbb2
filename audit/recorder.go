package audit

import (
	"context"
	"log/slog"

	"github.com/sushazhi/fnos-logmanager/internal/clock"
	"github.com/sushazhi/fnos-logmanager/internal/uuid"
)

// Recorder stamps events and fans them out to the sink, the structured
// log, an optional webhook and any observers. Sink failures are logged and
// never returned to the caller.
type Recorder struct {
	sink      Sink
	logger    *slog.Logger
	clock     clock.Clock
	webhook   *Webhook
	observers []func(Action)
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithLogger mirrors events to l with component=audit.
func WithLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = l }
}

// WithClock sets the timestamp source.
func WithClock(c clock.Clock) RecorderOption {
	return func(r *Recorder) { r.clock = c }
}

// WithWebhook forwards every event to w.
func WithWebhook(w *Webhook) RecorderOption {
	return func(r *Recorder) { r.webhook = w }
}

// WithObserver calls fn with the action of every recorded event.
func WithObserver(fn func(Action)) RecorderOption {
	return func(r *Recorder) { r.observers = append(r.observers, fn) }
}

// NewRecorder returns a Recorder writing to sink.
func NewRecorder(sink Sink, opts ...RecorderOption) *Recorder {
	r := &Recorder{sink: sink, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	r.clock = clock.OrReal(r.clock)
	r.logger = r.logger.With("component", "audit")
	return r
}

// Sink returns the underlying sink.
func (r *Recorder) Sink() Sink { return r.sink }

// Record appends an event. ip and userAgent default to "system" when empty,
// matching events raised outside a request.
func (r *Recorder) Record(ctx context.Context, action Action, details map[string]any, ip, userAgent string) Event {
	if ip == "" {
		ip = "system"
	}
	if userAgent == "" {
		userAgent = "system"
	}
	evt := Event{
		ID:        uuid.New(),
		Timestamp: r.clock.Now().UTC(),
		Action:    action,
		Details:   details,
		IP:        ip,
		UserAgent: userAgent,
	}

	attrs := []slog.Attr{
		slog.String("event", string(action)),
		slog.String("ip", ip),
	}
	for k, v := range details {
		attrs = append(attrs, slog.Any(k, v))
	}
	r.logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)

	if err := r.sink.Append(ctx, evt); err != nil {
		r.logger.Error("audit sink append failed", "event", string(action), "error", err)
	}
	if r.webhook != nil {
		r.webhook.Enqueue(evt)
	}
	for _, fn := range r.observers {
		fn(action)
	}
	return evt
}

// Recent proxies to the sink.
func (r *Recorder) Recent(ctx context.Context, limit, offset int) ([]Event, int, error) {
	return r.sink.Recent(ctx, limit, offset)
}
