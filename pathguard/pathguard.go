// Package pathguard confines user-supplied filesystem paths to an
// operator-configured set of root directories.
//
// Authorization is lexical: paths are cleaned but symlinks are not
// resolved. A symlink inside an allowed root that points outside of it is
// followed by whatever consumes the returned path; callers must assume the
// roots contain only trusted links.
package pathguard

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// MaxPathLen is the longest candidate path accepted, in bytes.
const MaxPathLen = 4096

var (
	// ErrPathRejected is wrapped by every rejection so callers can map all
	// of them to one outcome with errors.Is.
	ErrPathRejected = errors.New("path rejected")

	ErrEmpty        = fmt.Errorf("%w: empty path", ErrPathRejected)
	ErrTooLong      = fmt.Errorf("%w: path exceeds %d bytes", ErrPathRejected, MaxPathLen)
	ErrIllegalChar  = fmt.Errorf("%w: illegal character", ErrPathRejected)
	ErrNotAbsolute  = fmt.Errorf("%w: path is not absolute", ErrPathRejected)
	ErrTraversal    = fmt.Errorf("%w: parent directory reference", ErrPathRejected)
	ErrOutsideRoots = fmt.Errorf("%w: outside allowed directories", ErrPathRejected)
)

// Authorizer checks candidate paths against an immutable list of roots.
// It holds no mutable state and is safe for concurrent use.
type Authorizer struct {
	roots []string
}

// New builds an Authorizer. Each root must be an absolute path; roots are
// cleaned and the filesystem root "/" is refused because it would make the
// allow-list meaningless.
func New(roots []string) (*Authorizer, error) {
	if len(roots) == 0 {
		return nil, errors.New("at least one allowed root is required")
	}
	cleaned := make([]string, 0, len(roots))
	seen := make(map[string]bool, len(roots))
	for _, r := range roots {
		if r == "" || !path.IsAbs(r) {
			return nil, fmt.Errorf("allowed root %q must be an absolute path", r)
		}
		if strings.ContainsAny(r, "\x00\\\r\n") {
			return nil, fmt.Errorf("allowed root %q contains an illegal character", r)
		}
		c := path.Clean(r)
		if c == "/" {
			return nil, errors.New("allowed root must not be the filesystem root")
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		cleaned = append(cleaned, c)
	}
	return &Authorizer{roots: cleaned}, nil
}

// Roots returns a copy of the normalized allow-list.
func (a *Authorizer) Roots() []string {
	out := make([]string, len(a.roots))
	copy(out, a.roots)
	return out
}

// Authorize validates candidate and returns its normalized absolute form.
// The raw input is never returned, so downstream code cannot reintroduce an
// uncleaned string.
func (a *Authorizer) Authorize(candidate string) (string, error) {
	normalized, err := Normalize(candidate)
	if err != nil {
		return "", err
	}
	if !a.within(normalized) {
		return "", ErrOutsideRoots
	}
	return normalized, nil
}

// Allowed reports whether candidate passes Authorize.
func (a *Authorizer) Allowed(candidate string) bool {
	_, err := a.Authorize(candidate)
	return err == nil
}

// RootOf returns the configured root containing the normalized path p.
func (a *Authorizer) RootOf(p string) (string, bool) {
	for _, root := range a.roots {
		if p == root || strings.HasPrefix(p, root+"/") {
			return root, true
		}
	}
	return "", false
}

func (a *Authorizer) within(p string) bool {
	_, ok := a.RootOf(p)
	return ok
}

// Normalize performs the root-independent checks: length, illegal
// characters, lexical cleaning, absoluteness and leftover "..".
func Normalize(candidate string) (string, error) {
	if candidate == "" {
		return "", ErrEmpty
	}
	if len(candidate) > MaxPathLen {
		return "", ErrTooLong
	}
	// Backslash is rejected regardless of platform separator.
	if strings.ContainsAny(candidate, "\x00\\\r\n") {
		return "", ErrIllegalChar
	}
	if !path.IsAbs(candidate) {
		return "", ErrNotAbsolute
	}
	cleaned := path.Clean(candidate)
	for _, seg := range strings.Split(cleaned, "/") {
		if seg == ".." {
			return "", ErrTraversal
		}
	}
	return cleaned, nil
}
