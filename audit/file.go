package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileSink appends events as newline-delimited JSON. Once the file holds
// noticeably more than maxRecords lines it is rewritten with only the most
// recent maxRecords.
type FileSink struct {
	path       string
	maxRecords int
	slack      int

	mu    sync.Mutex
	count int
}

var _ Sink = (*FileSink)(nil)

// NewFileSink opens (or prepares to create) the audit file at path.
func NewFileSink(path string, maxRecords int) (*FileSink, error) {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating audit dir: %w", err)
	}
	s := &FileSink{
		path:       path,
		maxRecords: maxRecords,
		slack:      max(maxRecords/10, 1),
	}
	lines, err := s.readLines()
	if err != nil {
		return nil, err
	}
	s.count = len(lines)
	if s.count > s.maxRecords {
		if err := s.rewrite(lines[len(lines)-s.maxRecords:]); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Path returns the audit file location.
func (s *FileSink) Path() string { return s.path }

func (s *FileSink) Append(ctx context.Context, evt Event) error {
	line, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshaling audit event: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("writing audit log: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	s.count++

	if s.count > s.maxRecords+s.slack {
		lines, err := s.readLines()
		if err != nil {
			return err
		}
		return s.rewrite(lines[max(len(lines)-s.maxRecords, 0):])
	}
	return nil
}

func (s *FileSink) Recent(ctx context.Context, limit, offset int) ([]Event, int, error) {
	s.mu.Lock()
	lines, err := s.readLines()
	s.mu.Unlock()
	if err != nil {
		return nil, 0, err
	}
	if len(lines) > s.maxRecords {
		lines = lines[len(lines)-s.maxRecords:]
	}
	events := make([]Event, 0, len(lines))
	for _, line := range lines {
		var evt Event
		if err := json.Unmarshal(line, &evt); err != nil {
			continue
		}
		events = append(events, evt)
	}
	return page(events, limit, offset), len(events), nil
}

// readLines returns the non-empty lines of the audit file. s.mu must be
// held by writers.
func (s *FileSink) readLines() ([][]byte, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()

	var lines [][]byte
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := bytes.TrimSpace(sc.Bytes()); len(line) > 0 {
			lines = append(lines, bytes.Clone(line))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading audit log: %w", err)
	}
	return lines, nil
}

func (s *FileSink) rewrite(lines [][]byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".audit-*")
	if err != nil {
		return fmt.Errorf("trimming audit log: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for _, line := range lines {
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("trimming audit log: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("trimming audit log: %w", err)
	}
	s.count = len(lines)
	return nil
}
