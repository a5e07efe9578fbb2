package logfiles

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ReadOptions selects which lines of a file to return.
type ReadOptions struct {
	MaxLines int
	Offset   int
	Tail     bool
}

// Content is a window of lines from a log file.
type Content struct {
	Path          string `json:"path"`
	Content       string `json:"content"`
	TotalLines    int    `json:"totalLines"`
	Size          int64  `json:"size"`
	SizeFormatted string `json:"sizeFormatted"`
	Truncated     bool   `json:"truncated"`
	HasMore       bool   `json:"hasMore"`
}

// LineCutMarker ends a line that was longer than MaxLineBytes.
const LineCutMarker = " ...[line truncated]"

// Read streams the file at p and returns either MaxLines lines starting at
// Offset, or with Tail the last MaxLines lines.
func (s *Service) Read(ctx context.Context, p string, opts ReadOptions) (Content, error) {
	clean, info, err := s.statRegular(p)
	if err != nil {
		return Content{}, err
	}
	if opts.MaxLines <= 0 {
		opts.MaxLines = DefaultMaxLines
	}
	opts.MaxLines = min(opts.MaxLines, MaxPreviewLines)
	opts.Offset = min(max(opts.Offset, 0), MaxReadOffset)

	f, err := os.Open(clean)
	if err != nil {
		return Content{}, fmt.Errorf("opening %s: %w", clean, err)
	}
	defer f.Close()

	var (
		total    int
		selected []string
		ring     = make([]string, 0, min(opts.MaxLines, 1024))
		head     int
	)
	r := bufio.NewReaderSize(f, 64*1024)
	for {
		if total%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return Content{}, err
			}
		}
		line, cut, err := readLine(r)
		if len(line) > 0 {
			line = strings.TrimRight(line, "\r\n")
			if cut {
				line += LineCutMarker
			}
			if opts.Tail {
				if len(ring) < opts.MaxLines {
					ring = append(ring, line)
				} else {
					ring[head] = line
					head = (head + 1) % opts.MaxLines
				}
			} else if total >= opts.Offset && len(selected) < opts.MaxLines {
				selected = append(selected, line)
			}
			total++
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Content{}, fmt.Errorf("reading %s: %w", clean, err)
		}
	}

	var truncated bool
	if opts.Tail {
		selected = append(ring[head:len(ring):len(ring)], ring[:head]...)
		truncated = len(selected) < total
	} else {
		truncated = opts.Offset < total-opts.MaxLines
	}

	return Content{
		Path:          clean,
		Content:       strings.Join(selected, "\n"),
		TotalLines:    total,
		Size:          info.Size(),
		SizeFormatted: FormatSize(info.Size()),
		Truncated:     truncated,
		HasMore:       truncated,
	}, nil
}

// readLine returns the next line, keeping at most MaxLineBytes of it. The
// rest of a longer line is read and dropped.
func readLine(r *bufio.Reader) (string, bool, error) {
	var (
		buf []byte
		cut bool
	)
	for {
		chunk, err := r.ReadSlice('\n')
		if room := MaxLineBytes - len(buf); len(chunk) > room {
			buf = append(buf, chunk[:room]...)
			if len(bytes.TrimRight(chunk[room:], "\r\n")) > 0 {
				cut = true
			}
		} else {
			buf = append(buf, chunk...)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return string(buf), cut, err
	}
}
