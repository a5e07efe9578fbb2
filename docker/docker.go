// Package docker lists containers and fetches their logs by running the
// docker CLI. Every invocation runs under a timeout and is killed when it
// expires.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// MaxTailLines caps the --tail argument.
	MaxTailLines = 50000
	// MaxNameLen is the longest container name accepted.
	MaxNameLen = 128

	DefaultListTimeout = 10 * time.Second
	DefaultLogsTimeout = 120 * time.Second
)

var (
	ErrInvalidName = errors.New("invalid container name")
	ErrTimeout     = errors.New("docker command timed out")
	ErrUnavailable = errors.New("docker is not installed or not running")
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// ValidName reports whether name is an acceptable container name.
func ValidName(name string) bool {
	return len(name) <= MaxNameLen && namePattern.MatchString(name)
}

// Container is one row of `docker ps`.
type Container struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Image  string `json:"image"`
}

// Runner executes a command and returns its combined stdout and stderr.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second
	err := cmd.Run()
	out := append(stdout.Bytes(), stderr.Bytes()...)
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%w: %s", err, msg)
		}
		return out, err
	}
	return out, nil
}

// Client wraps the docker CLI.
type Client struct {
	binary      string
	runner      Runner
	listTimeout time.Duration
	logsTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithBinary sets the docker executable.
func WithBinary(path string) Option {
	return func(c *Client) { c.binary = path }
}

// WithRunner replaces the command runner.
func WithRunner(r Runner) Option {
	return func(c *Client) { c.runner = r }
}

// WithTimeouts sets the list and logs timeouts. Zero keeps the default.
func WithTimeouts(list, logs time.Duration) Option {
	return func(c *Client) {
		if list > 0 {
			c.listTimeout = list
		}
		if logs > 0 {
			c.logsTimeout = logs
		}
	}
}

// NewClient returns a Client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		binary:      "docker",
		runner:      ExecRunner{},
		listTimeout: DefaultListTimeout,
		logsTimeout: DefaultLogsTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) run(ctx context.Context, timeout time.Duration, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	out, err := c.runner.Run(ctx, c.binary, args...)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		if errors.Is(err, exec.ErrNotFound) {
			return nil, ErrUnavailable
		}
		return nil, fmt.Errorf("docker %s: %w", args[0], err)
	}
	return out, nil
}

// Containers lists running containers. Rows whose name fails validation
// are skipped.
func (c *Client) Containers(ctx context.Context) ([]Container, error) {
	out, err := c.run(ctx, c.listTimeout, "ps", "--format", "{{.Names}}\t{{.Status}}\t{{.Image}}")
	if err != nil {
		return nil, err
	}
	containers := []Container{}
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 3)
		ct := Container{Name: parts[0]}
		if !ValidName(ct.Name) {
			continue
		}
		if len(parts) > 1 {
			ct.Status = parts[1]
		}
		if len(parts) > 2 {
			ct.Image = parts[2]
		}
		containers = append(containers, ct)
	}
	return containers, nil
}

// Logs returns the output of `docker logs`. lines > 0 limits output to the
// last lines lines, capped at MaxTailLines; otherwise the full log is
// returned.
func (c *Client) Logs(ctx context.Context, name string, lines int) (string, error) {
	if !ValidName(name) {
		return "", ErrInvalidName
	}
	args := []string{"logs", name}
	if lines > 0 {
		args = append(args, "--tail", strconv.Itoa(min(lines, MaxTailLines)))
	}
	out, err := c.run(ctx, c.logsTimeout, args...)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
