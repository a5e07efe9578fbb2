package audit

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent(i int) Event {
	return Event{
		ID:        fmt.Sprintf("evt-%d", i),
		Timestamp: time.Date(2025, 1, 1, 0, 0, i, 0, time.UTC),
		Action:    ActionLoginFailed,
		Details:   map[string]any{"n": float64(i)},
		IP:        "10.0.0.1",
		UserAgent: "test",
	}
}

func ids(events []Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		n++
	}
	return n
}

func TestPage(t *testing.T) {
	events := []Event{testEvent(0), testEvent(1), testEvent(2), testEvent(3)}

	assert.Equal(t, []string{"evt-3", "evt-2", "evt-1", "evt-0"}, ids(page(events, 0, 0)))
	assert.Equal(t, []string{"evt-3", "evt-2"}, ids(page(events, 2, 0)))
	assert.Equal(t, []string{"evt-1", "evt-0"}, ids(page(events, 2, 2)))
	assert.Equal(t, []string{"evt-0"}, ids(page(events, 5, 3)))
	assert.Empty(t, page(events, 2, 4))
	assert.Empty(t, page(nil, 2, 0))
}

func TestMemorySink(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySink(3)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, testEvent(i)))
	}
	events, total, err := s.Recent(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, []string{"evt-4", "evt-3", "evt-2"}, ids(events), "oldest trimmed first")
}

func TestFileSink_AppendAndRecent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.log")
	s, err := NewFileSink(path, 100)
	require.NoError(t, err)
	assert.Equal(t, path, s.Path())

	events, total, err := s.Recent(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, events)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Append(ctx, testEvent(i)))
	}
	events, total, err = s.Recent(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, events, 3)
	assert.Equal(t, "evt-2", events[0].ID)
	assert.Equal(t, ActionLoginFailed, events[0].Action)
	assert.Equal(t, float64(2), events[0].Details["n"])

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileSink_TrimsToMaxRecords(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.log")
	s, err := NewFileSink(path, 10)
	require.NoError(t, err)

	for i := 0; i < 25; i++ {
		require.NoError(t, s.Append(ctx, testEvent(i)))
	}
	assert.LessOrEqual(t, countLines(t, path), 11, "file never grows past max plus slack")

	events, total, err := s.Recent(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, total)
	assert.Equal(t, "evt-24", events[0].ID)
	assert.Equal(t, "evt-15", events[9].ID)
}

func TestFileSink_TrimsOnOpenAndSkipsGarbage(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "audit.log")
	s, err := NewFileSink(path, 50)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		require.NoError(t, s.Append(ctx, testEvent(i)))
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("not json\n\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := NewFileSink(path, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, countLines(t, path))

	events, total, err := reopened.Recent(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, total, "the unparsable line is skipped")
	assert.Equal(t, []string{"evt-19", "evt-18", "evt-17", "evt-16"}, ids(events))
}

func TestFileSink_ConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.log")
	s, err := NewFileSink(path, 1000)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				assert.NoError(t, s.Append(ctx, testEvent(g*100+i)))
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 200, countLines(t, path))
}
