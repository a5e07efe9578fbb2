package audit

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// webhookQueueSize is the bounded channel capacity for outbound audit events.
const webhookQueueSize = 1024

// Webhook forwards audit events to an external HTTP endpoint. Events are
// enqueued without blocking into a bounded channel and sent by a background
// goroutine. If the channel is full, events are dropped.
type Webhook struct {
	url        string
	authHeader string // "Header: Value", e.g. "Authorization: Bearer xxx"
	client     *http.Client
	retryDelay time.Duration
	events     chan Event
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// NewWebhook creates a webhook dispatcher and starts its background loop.
func NewWebhook(url, authHeader string) *Webhook {
	return newWebhook(url, authHeader, webhookQueueSize, &http.Client{Timeout: 10 * time.Second})
}

func newWebhook(url, authHeader string, queue int, client *http.Client) *Webhook {
	w := &Webhook{
		url:        url,
		authHeader: authHeader,
		client:     client,
		retryDelay: time.Second,
		events:     make(chan Event, queue),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// Enqueue adds an event to the dispatch queue. It never blocks.
func (w *Webhook) Enqueue(evt Event) {
	select {
	case w.events <- evt:
	default:
		slog.Warn("audit webhook: queue full, dropping event", "event", string(evt.Action))
	}
}

// Close stops accepting events and waits for queued ones to be sent.
func (w *Webhook) Close() {
	w.closeOnce.Do(func() {
		close(w.events)
		w.wg.Wait()
	})
}

func (w *Webhook) loop() {
	defer w.wg.Done()
	for evt := range w.events {
		w.send(evt)
	}
}

// send POSTs the event with one retry on a transport error or 5xx.
func (w *Webhook) send(evt Event) {
	body, err := json.Marshal(evt)
	if err != nil {
		slog.Warn("audit webhook: marshal failed", "error", err)
		return
	}

	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			time.Sleep(w.retryDelay)
		}

		req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			slog.Warn("audit webhook: request creation failed", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "LogManager-Audit-Webhook/1.0")

		if name, value, ok := strings.Cut(w.authHeader, ":"); ok {
			req.Header.Set(strings.TrimSpace(name), strings.TrimSpace(value))
		}

		resp, err := w.client.Do(req)
		if err != nil {
			slog.Warn("audit webhook: request failed", "error", err, "attempt", attempt+1)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return
		}
		if resp.StatusCode >= 500 {
			slog.Warn("audit webhook: server error", "status", resp.StatusCode, "attempt", attempt+1)
			continue
		}
		slog.Warn("audit webhook: client error", "status", resp.StatusCode)
		return
	}
}
