package docker

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	out   string
	err   error
	block bool
	calls [][]string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return []byte(f.out), f.err
}

func TestValidName(t *testing.T) {
	assert.True(t, ValidName("nginx"))
	assert.True(t, ValidName("my_app.v2-1"))
	assert.True(t, ValidName(strings.Repeat("a", MaxNameLen)))
	assert.False(t, ValidName(""))
	assert.False(t, ValidName("-rm"))
	assert.False(t, ValidName("a;rm -rf /"))
	assert.False(t, ValidName("a b"))
	assert.False(t, ValidName(strings.Repeat("a", MaxNameLen+1)))
}

func TestContainers(t *testing.T) {
	r := &fakeRunner{out: "web\tUp 2 hours\tnginx:latest\nbad name\tUp\tx\ndb\tExited (0)\n\n"}
	c := NewClient(WithRunner(r), WithBinary("/usr/bin/docker"))

	got, err := c.Containers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Container{
		{Name: "web", Status: "Up 2 hours", Image: "nginx:latest"},
		{Name: "db", Status: "Exited (0)"},
	}, got)
	assert.Equal(t, []string{"/usr/bin/docker", "ps", "--format", "{{.Names}}\t{{.Status}}\t{{.Image}}"}, r.calls[0])
}

func TestLogs(t *testing.T) {
	r := &fakeRunner{out: "hello\n"}
	c := NewClient(WithRunner(r))

	out, err := c.Logs(context.Background(), "web", 100)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)
	assert.Equal(t, []string{"docker", "logs", "web", "--tail", "100"}, r.calls[0])

	_, err = c.Logs(context.Background(), "web", 10*MaxTailLines)
	require.NoError(t, err)
	assert.Equal(t, "50000", r.calls[1][4])

	_, err = c.Logs(context.Background(), "web", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"docker", "logs", "web"}, r.calls[2])

	_, err = c.Logs(context.Background(), "--privileged", 10)
	assert.ErrorIs(t, err, ErrInvalidName)
	assert.Len(t, r.calls, 3, "invalid names never reach the runner")
}

func TestTimeoutAndErrors(t *testing.T) {
	c := NewClient(WithRunner(&fakeRunner{block: true}), WithTimeouts(20*time.Millisecond, 20*time.Millisecond))
	_, err := c.Containers(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
	_, err = c.Logs(context.Background(), "web", 1)
	assert.ErrorIs(t, err, ErrTimeout)

	c = NewClient(WithRunner(&fakeRunner{err: exec.ErrNotFound}))
	_, err = c.Containers(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)

	c = NewClient(WithRunner(&fakeRunner{err: assert.AnError}))
	_, err = c.Logs(context.Background(), "web", 1)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestExecRunnerKillsOnTimeout(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	c := NewClient(WithBinary("sleep"), WithTimeouts(50*time.Millisecond, 0))
	start := time.Now()
	_, err := c.run(context.Background(), c.listTimeout, "5")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestExecRunnerMissingBinary(t *testing.T) {
	c := NewClient(WithBinary("definitely-not-a-docker-binary"))
	_, err := c.Containers(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}
