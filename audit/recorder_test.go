package audit

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sushazhi/fnos-logmanager/internal/clock"
)

func TestRecorder_Record(t *testing.T) {
	ctx := context.Background()
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))
	clk := clock.NewMock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	sink := NewMemorySink(10)

	var seen []Action
	r := NewRecorder(sink,
		WithLogger(logger),
		WithClock(clk),
		WithObserver(func(a Action) { seen = append(seen, a) }),
	)
	assert.Same(t, sink, r.Sink())

	evt := r.Record(ctx, ActionLogDelete, map[string]any{"path": "/vol1/@appdata/a.log"}, "10.0.0.9", "curl/8")
	assert.NotEmpty(t, evt.ID)
	assert.Equal(t, clk.Now(), evt.Timestamp)

	events, total, err := r.Recent(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, evt, events[0])
	assert.Equal(t, []Action{ActionLogDelete}, seen)

	out := logBuf.String()
	assert.Contains(t, out, `"component":"audit"`)
	assert.Contains(t, out, `"event":"log_delete"`)
	assert.Contains(t, out, `"path":"/vol1/@appdata/a.log"`)
}

func TestRecorder_SystemDefaults(t *testing.T) {
	r := NewRecorder(NewMemorySink(10), WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))
	evt := r.Record(context.Background(), ActionPasswordSetup, nil, "", "")
	assert.Equal(t, "system", evt.IP)
	assert.Equal(t, "system", evt.UserAgent)
}

type failingSink struct{ MemorySink }

func (f *failingSink) Append(context.Context, Event) error { return assert.AnError }

func TestRecorder_SinkFailureIsLogged(t *testing.T) {
	var logBuf bytes.Buffer
	r := NewRecorder(&failingSink{}, WithLogger(slog.New(slog.NewJSONHandler(&logBuf, nil))))
	r.Record(context.Background(), ActionLogout, nil, "1.2.3.4", "ua")
	assert.Contains(t, logBuf.String(), "audit sink append failed")
}

func TestRecorder_ForwardsToWebhook(t *testing.T) {
	var count atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, "")
	r := NewRecorder(NewMemorySink(10), WithWebhook(wh), WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))
	r.Record(context.Background(), ActionLoginSuccess, nil, "1.2.3.4", "ua")
	r.Record(context.Background(), ActionLogout, nil, "1.2.3.4", "ua")
	wh.Close()

	assert.Equal(t, int32(2), count.Load())
}
