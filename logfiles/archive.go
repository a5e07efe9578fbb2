package logfiles

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	DefaultArchiveLimit   = 50
	MaxArchiveLimit       = 200
	DefaultArchiveLines   = 50
	MaxArchiveLines       = 500
	DefaultArchiveTimeout = 30 * time.Second
)

var (
	ErrNotArchive         = errors.New("unsupported archive format")
	ErrArchiveTimeout     = errors.New("archive read timed out")
	ErrArchiveToolMissing = errors.New("decompression tool is not installed")
	ErrArchiveFailed      = errors.New("archive could not be read")
)

// commandFunc builds the decompressor process. It is exec.CommandContext
// outside tests.
type commandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// WithArchiveTimeout bounds each archive read. The decompressor is killed
// when it expires.
func WithArchiveTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.archiveTimeout = d
		}
	}
}

type archiveFormat struct {
	suffix string
	tool   string
	args   []string
}

// Longer suffixes first so .tar.gz is not taken for .gz.
var archiveFormats = []archiveFormat{
	{".tar.gz", "tar", []string{"-xzOf"}},
	{".tgz", "tar", []string{"-xzOf"}},
	{".tar.bz2", "tar", []string{"-xjOf"}},
	{".tbz2", "tar", []string{"-xjOf"}},
	{".tar.xz", "tar", []string{"-xJOf"}},
	{".txz", "tar", []string{"-xJOf"}},
	{".tar", "tar", []string{"-xOf"}},
	{".gz", "zcat", nil},
	{".bz2", "bzcat", nil},
	{".xz", "xzcat", nil},
	{".zip", "unzip", []string{"-p"}},
	{".7z", "7z", []string{"x", "-so"}},
	{".rar", "unrar", []string{"p", "-inul"}},
}

func formatOf(p string) (archiveFormat, bool) {
	lower := strings.ToLower(p)
	for _, f := range archiveFormats {
		if strings.HasSuffix(lower, f.suffix) {
			return f, true
		}
	}
	return archiveFormat{}, false
}

// ArchiveContent is the head of a decompressed archive.
type ArchiveContent struct {
	Path      string `json:"path"`
	Format    string `json:"format"`
	Content   string `json:"content"`
	Lines     int    `json:"lines"`
	Truncated bool   `json:"truncated"`
}

// ListArchives returns up to limit archive files across every root.
func (s *Service) ListArchives(ctx context.Context, limit int) ([]File, error) {
	if limit <= 0 {
		limit = DefaultArchiveLimit
	}
	limit = min(limit, MaxArchiveLimit)
	files := []File{}
	for _, root := range s.guard.Roots() {
		if len(files) >= limit {
			break
		}
		if !rootExists(root) {
			continue
		}
		err := s.walk(ctx, root, IsArchiveFile, limit-len(files), func(p string, info fs.FileInfo) {
			f := s.newFile(p, info)
			if fm, ok := formatOf(p); ok {
				f.Format = fm.suffix
			}
			files = append(files, f)
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

// ReadArchive returns the first lines of the decompressed archive at p.
// Only the authorized, normalized path reaches the decompressor, as a
// single argument. The process is killed once enough lines are read or the
// archive timeout expires.
func (s *Service) ReadArchive(ctx context.Context, p string, lines int) (ArchiveContent, error) {
	clean, _, err := s.statRegular(p)
	if err != nil {
		return ArchiveContent{}, err
	}
	fm, ok := formatOf(clean)
	if !ok {
		return ArchiveContent{}, ErrNotArchive
	}
	if lines <= 0 {
		lines = DefaultArchiveLines
	}
	lines = min(lines, MaxArchiveLines)

	ctx, cancel := context.WithTimeout(ctx, s.archiveTimeout)
	defer cancel()

	cmd := s.command(ctx, fm.tool, append(append([]string{}, fm.args...), clean)...)
	cmd.WaitDelay = 2 * time.Second
	stderr := &cappedBuffer{max: 4096}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return ArchiveContent{}, err
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return ArchiveContent{}, fmt.Errorf("%w: %s", ErrArchiveToolMissing, fm.tool)
		}
		return ArchiveContent{}, fmt.Errorf("starting %s: %w", fm.tool, err)
	}

	var (
		out       []string
		truncated bool
		readErr   error
	)
	r := bufio.NewReaderSize(stdout, 64*1024)
	for len(out) < lines {
		line, cut, err := readLine(r)
		if len(line) > 0 {
			line = strings.TrimRight(line, "\r\n")
			if cut {
				line += LineCutMarker
			}
			out = append(out, line)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
			}
			break
		}
	}
	if len(out) == lines {
		if _, err := r.Peek(1); err == nil {
			truncated = true
		}
	}
	stoppedEarly := truncated
	if stoppedEarly {
		cancel()
	}
	waitErr := cmd.Wait()

	if err := ctx.Err(); err != nil && !stoppedEarly {
		if errors.Is(err, context.DeadlineExceeded) {
			return ArchiveContent{}, ErrArchiveTimeout
		}
		return ArchiveContent{}, err
	}
	if !stoppedEarly && waitErr != nil && len(out) == 0 {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = waitErr.Error()
		}
		return ArchiveContent{}, fmt.Errorf("%w: %s", ErrArchiveFailed, msg)
	}
	if readErr != nil && len(out) == 0 {
		return ArchiveContent{}, fmt.Errorf("%w: %v", ErrArchiveFailed, readErr)
	}
	if waitErr != nil && !stoppedEarly {
		s.logger.Debug("decompressor exited with error", "path", clean, "error", waitErr)
	}

	return ArchiveContent{
		Path:      clean,
		Format:    fm.suffix,
		Content:   strings.Join(out, "\n"),
		Lines:     len(out),
		Truncated: truncated,
	}, nil
}

// DeleteArchive removes the archive at p and returns its normalized path.
func (s *Service) DeleteArchive(ctx context.Context, p string) (string, error) {
	clean, _, err := s.statRegular(p)
	if err != nil {
		return clean, err
	}
	if !IsArchiveFile(clean) {
		return clean, ErrNotArchive
	}
	if err := os.Remove(clean); err != nil {
		return clean, fmt.Errorf("deleting %s: %w", clean, err)
	}
	return clean, nil
}

// cappedBuffer keeps the first max bytes written to it and discards the
// rest.
type cappedBuffer struct {
	bytes.Buffer
	max int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.Len(); room > 0 {
		b.Buffer.Write(p[:min(len(p), room)])
	}
	return len(p), nil
}
