package logfiles

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// CleanAction is what Clean does to each matching file.
type CleanAction string

const (
	CleanTruncate CleanAction = "truncate"
	CleanDelete   CleanAction = "delete"
)

// CleanOptions selects files for Clean. With Days set, archives older than
// that many days are selected; otherwise log files of at least
// ThresholdBytes.
type CleanOptions struct {
	Action         CleanAction
	ThresholdBytes int64
	Days           int
}

// CleanResult reports what Clean did.
type CleanResult struct {
	Cleaned int      `json:"cleaned"`
	Errors  []string `json:"errors"`
}

// Clean truncates or deletes every file selected by opts across all roots.
// Per-file failures are collected rather than aborting the run.
func (s *Service) Clean(ctx context.Context, opts CleanOptions) (CleanResult, error) {
	res := CleanResult{Errors: []string{}}
	if opts.Action != CleanTruncate && opts.Action != CleanDelete {
		return res, ErrInvalidAction
	}
	if opts.ThresholdBytes <= 0 && opts.Days <= 0 {
		return res, ErrNoCriteria
	}

	match := IsLogFile
	var cutoff time.Time
	if opts.Days > 0 {
		match = IsArchiveFile
		cutoff = s.clock.Now().Add(-time.Duration(opts.Days) * 24 * time.Hour)
	}

	var targets []string
	for _, root := range s.guard.Roots() {
		if !rootExists(root) {
			continue
		}
		err := s.walk(ctx, root, match, walkLimit, func(p string, info fs.FileInfo) {
			if opts.ThresholdBytes > 0 && info.Size() < opts.ThresholdBytes {
				return
			}
			if opts.Days > 0 && info.ModTime().After(cutoff) {
				return
			}
			targets = append(targets, p)
		})
		if err != nil {
			return res, err
		}
	}

	for _, p := range targets {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		var err error
		if opts.Action == CleanDelete {
			err = os.Remove(p)
		} else {
			err = os.Truncate(p, 0)
		}
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", p, err))
			continue
		}
		res.Cleaned++
	}
	return res, nil
}
