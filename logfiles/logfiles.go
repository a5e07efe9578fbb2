// Package logfiles lists, reads and prunes log files under the configured
// roots. Every caller-supplied path is authorized by pathguard before the
// filesystem is touched.
package logfiles

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sushazhi/fnos-logmanager/internal/clock"
	"github.com/sushazhi/fnos-logmanager/pathguard"
)

// Limits applied to listings and previews.
const (
	DefaultListLimit   = 100
	DefaultSearchLimit = 50
	DefaultMaxLines    = 5000
	MinPreviewLines    = 100
	MaxPreviewLines    = 50000
	MaxReadOffset      = 100_000_000
	MaxLineBytes       = 8 * 1024
	DefaultLargeSize   = 10 * 1024 * 1024
	walkLimit          = 10000
)

var (
	ErrNotFound       = errors.New("file not found")
	ErrNotRegular     = errors.New("not a regular file")
	ErrInvalidPattern = errors.New("invalid file name pattern")
	ErrInvalidAction  = errors.New("invalid clean action")
	ErrNoCriteria     = errors.New("clean requires a threshold or an age")
)

var archiveExtensions = []string{".gz", ".bz2", ".xz", ".zip", ".tar", ".7z", ".rar"}

// File describes one log or archive file.
type File struct {
	Path          string    `json:"path"`
	Size          int64     `json:"size"`
	SizeFormatted string    `json:"sizeFormatted"`
	Modified      time.Time `json:"modified"`
	AppName       string    `json:"appName,omitempty"`
	Format        string    `json:"format,omitempty"`
}

// DirInfo summarizes one configured root.
type DirInfo struct {
	Path          string `json:"path"`
	Exists        bool   `json:"exists"`
	LogCount      int    `json:"logCount"`
	ArchiveCount  int    `json:"archiveCount"`
	TotalSize     int64  `json:"totalSize"`
	SizeFormatted string `json:"sizeFormatted"`
}

// Stats totals every root.
type Stats struct {
	TotalLogs          int    `json:"totalLogs"`
	TotalArchives      int    `json:"totalArchives"`
	LargeFiles         int    `json:"largeFiles"`
	TotalSize          int64  `json:"totalSize"`
	TotalSizeFormatted string `json:"totalSizeFormatted"`
}

// Service implements the log file operations.
type Service struct {
	guard          *pathguard.Authorizer
	clock          clock.Clock
	logger         *slog.Logger
	archiveTimeout time.Duration
	command        commandFunc
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source used for age-based cleaning.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithLogger sets the logger for skipped entries.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService returns a Service confined to guard's roots.
func NewService(guard *pathguard.Authorizer, opts ...Option) *Service {
	s := &Service{
		guard:          guard,
		logger:         slog.Default(),
		archiveTimeout: DefaultArchiveTimeout,
		command:        exec.CommandContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.clock = clock.OrReal(s.clock)
	return s
}

// Authorize exposes the path check so handlers can reject before doing
// any other work.
func (s *Service) Authorize(p string) (string, error) {
	return s.guard.Authorize(p)
}

// IsLogFile reports whether name looks like an uncompressed log file.
func IsLogFile(name string) bool {
	if IsArchiveFile(name) {
		return false
	}
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".log") ||
		strings.Contains(lower, ".log.") ||
		(strings.Contains(lower, "log") && strings.HasSuffix(lower, ".txt"))
}

// IsArchiveFile reports whether name looks like a compressed archive.
func IsArchiveFile(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range archiveExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

var appsLogSuffix = regexp.MustCompile(`(?i)\.log(-\d{8})?(\.\d+)?\.(gz|bz2|xz|zip|tar(\.gz|\.bz2|\.xz)?|7z|rar)$`)

// AppName derives the owning application from a log path, or "".
func AppName(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		if strings.HasPrefix(part, "@") && i+1 < len(parts) && parts[i+1] != "" {
			return parts[i+1]
		}
	}
	if rest, ok := strings.CutPrefix(p, "/var/log/apps/"); ok {
		name, _, _ := strings.Cut(rest, "/")
		name = appsLogSuffix.ReplaceAllString(name, "")
		if strings.HasSuffix(strings.ToLower(name), ".log") {
			name = name[:len(name)-len(".log")]
		}
		return name
	}
	return ""
}

// FormatSize renders n with 1024-based units.
func FormatSize(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

var sizePattern = regexp.MustCompile(`(?i)^[0-9]+[KMGT]?$`)

// ParseSize parses thresholds such as "500K" or "10M" using 1024-based
// multipliers. A bare number is bytes.
func ParseSize(v string) (int64, error) {
	if !sizePattern.MatchString(v) {
		return 0, fmt.Errorf("invalid size %q", v)
	}
	if last := v[len(v)-1]; last < '0' || last > '9' {
		v += "iB"
	}
	n, err := humanize.ParseBytes(v)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", v, err)
	}
	return int64(n), nil
}

func (s *Service) newFile(p string, info fs.FileInfo) File {
	return File{
		Path:          p,
		Size:          info.Size(),
		SizeFormatted: FormatSize(info.Size()),
		Modified:      info.ModTime(),
		AppName:       AppName(p),
	}
}

// walk visits regular files under root whose base name satisfies match,
// stopping after limit hits. Unreadable entries are skipped. Symlinked
// directories are not followed.
func (s *Service) walk(ctx context.Context, root string, match func(string) bool, limit int, visit func(string, fs.FileInfo)) error {
	hits := 0
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			s.logger.Debug("skipping unreadable entry", "path", p, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !match(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		visit(p, info)
		hits++
		if hits >= limit {
			return fs.SkipAll
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func rootExists(root string) bool {
	info, err := os.Stat(root)
	return err == nil && info.IsDir()
}

// List returns up to limit log files, either under dir (which must be
// authorized) or under every root.
func (s *Service) List(ctx context.Context, dir string, limit int) ([]File, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	roots := s.guard.Roots()
	if dir != "" {
		clean, err := s.guard.Authorize(dir)
		if err != nil {
			return nil, err
		}
		roots = []string{clean}
	}
	files := []File{}
	for _, root := range roots {
		if len(files) >= limit {
			break
		}
		if !rootExists(root) {
			continue
		}
		err := s.walk(ctx, root, IsLogFile, limit-len(files), func(p string, info fs.FileInfo) {
			files = append(files, s.newFile(p, info))
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

// Large returns log files of at least threshold bytes, largest first.
func (s *Service) Large(ctx context.Context, threshold int64, limit int) ([]File, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	files := []File{}
	for _, root := range s.guard.Roots() {
		if !rootExists(root) {
			continue
		}
		err := s.walk(ctx, root, IsLogFile, walkLimit, func(p string, info fs.FileInfo) {
			if info.Size() >= threshold {
				files = append(files, s.newFile(p, info))
			}
		})
		if err != nil {
			return nil, err
		}
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].Size > files[j].Size })
	if len(files) > limit {
		files = files[:limit]
	}
	return files, nil
}

var patternStrip = regexp.MustCompile(`[^a-zA-Z0-9_\-.*?\[\]{}]`)

// SearchByName returns log files whose name matches pattern (a
// case-insensitive regular expression restricted to a safe alphabet),
// newest first.
func (s *Service) SearchByName(ctx context.Context, pattern string, limit int) ([]File, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	safe := patternStrip.ReplaceAllString(pattern, "")
	if safe == "" {
		return nil, ErrInvalidPattern
	}
	re, err := regexp.Compile("(?i)" + safe)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	match := func(name string) bool { return IsLogFile(name) && re.MatchString(name) }

	files := []File{}
	for _, root := range s.guard.Roots() {
		if !rootExists(root) {
			continue
		}
		err := s.walk(ctx, root, match, limit, func(p string, info fs.FileInfo) {
			files = append(files, s.newFile(p, info))
		})
		if err != nil {
			return nil, err
		}
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].Modified.After(files[j].Modified) })
	if len(files) > limit {
		files = files[:limit]
	}
	return files, nil
}

// Stats totals log and archive files across every root.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	for _, root := range s.guard.Roots() {
		if !rootExists(root) {
			continue
		}
		err := s.walk(ctx, root, IsLogFile, walkLimit, func(_ string, info fs.FileInfo) {
			st.TotalLogs++
			st.TotalSize += info.Size()
			if info.Size() >= DefaultLargeSize {
				st.LargeFiles++
			}
		})
		if err != nil {
			return st, err
		}
		err = s.walk(ctx, root, IsArchiveFile, walkLimit, func(string, fs.FileInfo) {
			st.TotalArchives++
		})
		if err != nil {
			return st, err
		}
	}
	st.TotalSizeFormatted = FormatSize(st.TotalSize)
	return st, nil
}

// Dirs reports existence and usage of each configured root.
func (s *Service) Dirs(ctx context.Context) ([]DirInfo, error) {
	roots := s.guard.Roots()
	out := make([]DirInfo, 0, len(roots))
	for _, root := range roots {
		info := DirInfo{Path: root, Exists: rootExists(root)}
		if info.Exists {
			err := s.walk(ctx, root, IsLogFile, walkLimit, func(_ string, fi fs.FileInfo) {
				info.LogCount++
				info.TotalSize += fi.Size()
			})
			if err != nil {
				return nil, err
			}
			err = s.walk(ctx, root, IsArchiveFile, walkLimit, func(_ string, fi fs.FileInfo) {
				info.ArchiveCount++
				info.TotalSize += fi.Size()
			})
			if err != nil {
				return nil, err
			}
		}
		info.SizeFormatted = FormatSize(info.TotalSize)
		out = append(out, info)
	}
	return out, nil
}

// statRegular authorizes p and checks that it names a regular file.
func (s *Service) statRegular(p string) (string, fs.FileInfo, error) {
	clean, err := s.guard.Authorize(p)
	if err != nil {
		return "", nil, err
	}
	info, err := os.Lstat(clean)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return clean, nil, ErrNotFound
		}
		return clean, nil, err
	}
	if !info.Mode().IsRegular() {
		return clean, nil, ErrNotRegular
	}
	return clean, info, nil
}

// Truncate empties the file at p and returns its normalized path.
func (s *Service) Truncate(ctx context.Context, p string) (string, error) {
	clean, _, err := s.statRegular(p)
	if err != nil {
		return clean, err
	}
	if err := os.Truncate(clean, 0); err != nil {
		return clean, fmt.Errorf("truncating %s: %w", clean, err)
	}
	return clean, nil
}

// Delete removes the file at p and returns its normalized path.
func (s *Service) Delete(ctx context.Context, p string) (string, error) {
	clean, _, err := s.statRegular(p)
	if err != nil {
		return clean, err
	}
	if err := os.Remove(clean); err != nil {
		return clean, fmt.Errorf("deleting %s: %w", clean, err)
	}
	return clean, nil
}
