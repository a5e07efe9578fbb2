// Package credential holds the single admin password as a tagged,
// memory-hard hash and implements one-time setup, verification and change.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sushazhi/fnos-logmanager/internal/clock"
	"github.com/sushazhi/fnos-logmanager/internal/util"
	"github.com/sushazhi/fnos-logmanager/storage"
)

// MinLength is the minimum password length in characters.
const MinLength = 8

const (
	bucket     = "credential"
	recordType = "ADMIN"
	recordID   = "password"
)

var (
	ErrAlreadyInitialized = errors.New("password already set")
	ErrNotInitialized     = errors.New("password not set")
	ErrMismatch           = errors.New("current password is incorrect")
	ErrTooShort           = fmt.Errorf("password must be at least %d characters", MinLength)
	ErrConflict           = errors.New("password changed concurrently")
)

type record struct {
	Hash      string    `json:"hash"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists the admin credential through a storage.Repository.
type Store struct {
	repo   storage.Repository
	params util.Argon2idParams
	clock  clock.Clock
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithParams overrides the argon2id parameters used for new hashes.
func WithParams(p util.Argon2idParams) Option {
	return func(s *Store) { s.params = p }
}

// WithLogger sets the logger used for rehash and import notices.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock sets the time source for record timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// NewStore returns a Store backed by repo.
func NewStore(repo storage.Repository, opts ...Option) *Store {
	s := &Store{
		repo:   repo,
		params: util.DefaultArgon2idParams(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.clock = clock.OrReal(s.clock)
	return s
}

func (s *Store) load() (record, uint64, error) {
	var rec record
	env, err := s.repo.Get(bucket, recordType, recordID)
	if err != nil {
		if storage.IsNotFound(err) {
			return rec, 0, ErrNotInitialized
		}
		return rec, 0, fmt.Errorf("loading credential: %w", err)
	}
	if err := storage.OpenJSON(env, &rec); err != nil {
		return rec, 0, err
	}
	if rec.Hash == "" {
		return rec, 0, ErrNotInitialized
	}
	return rec, env.Version, nil
}

func (s *Store) write(hash string, expectedVersion uint64) error {
	env, err := storage.SealJSON(record{Hash: hash, UpdatedAt: s.clock.Now().UTC()}, expectedVersion+1)
	if err != nil {
		return err
	}
	return s.repo.PutCAS(bucket, recordType, recordID, expectedVersion, env)
}

func checkLength(pw string) error {
	if utf8.RuneCountInString(pw) < MinLength {
		return ErrTooShort
	}
	return nil
}

// IsSet reports whether an admin password has been configured.
func (s *Store) IsSet(ctx context.Context) (bool, error) {
	_, _, err := s.load()
	if errors.Is(err, ErrNotInitialized) {
		return false, nil
	}
	return err == nil, err
}

// Setup stores the first admin password. It fails once a password exists.
func (s *Store) Setup(ctx context.Context, password string) error {
	if _, _, err := s.load(); err == nil {
		return ErrAlreadyInitialized
	} else if !errors.Is(err, ErrNotInitialized) {
		return err
	}
	if err := checkLength(password); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	hash, err := HashWithParams(password, s.params)
	if err != nil {
		return err
	}
	if err := s.write(hash, 0); err != nil {
		if errors.Is(err, storage.ErrCASFailed) {
			return ErrAlreadyInitialized
		}
		return err
	}
	return nil
}

// Check verifies password against the stored hash. A hash written by an
// older scheme is upgraded after a successful check.
func (s *Store) Check(ctx context.Context, password string) (bool, error) {
	rec, version, err := s.load()
	if err != nil {
		return false, err
	}
	if !Verify(password, rec.Hash) {
		return false, nil
	}
	if NeedsRehash(rec.Hash) && ctx.Err() == nil {
		hash, err := HashWithParams(password, s.params)
		if err == nil {
			err = s.write(hash, version)
		}
		if err != nil {
			s.logger.Warn("credential rehash failed", "error", err)
		} else {
			s.logger.Info("credential upgraded", "from", Tag(rec.Hash), "to", TagArgon2id)
		}
	}
	return true, nil
}

// Change replaces the password after verifying the current one.
func (s *Store) Change(ctx context.Context, current, next string) error {
	rec, version, err := s.load()
	if err != nil {
		return err
	}
	if !Verify(current, rec.Hash) {
		return ErrMismatch
	}
	if err := checkLength(next); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	hash, err := HashWithParams(next, s.params)
	if err != nil {
		return err
	}
	if err := s.write(hash, version); err != nil {
		if errors.Is(err, storage.ErrCASFailed) {
			return ErrConflict
		}
		return err
	}
	return nil
}

// Reset overwrites the password without verifying the current one. It is
// reserved for the local operator CLI.
func (s *Store) Reset(ctx context.Context, password string) error {
	if err := checkLength(password); err != nil {
		return err
	}
	_, version, err := s.load()
	if err != nil && !errors.Is(err, ErrNotInitialized) {
		return err
	}
	hash, err := HashWithParams(password, s.params)
	if err != nil {
		return err
	}
	if err := s.write(hash, version); err != nil {
		if errors.Is(err, storage.ErrCASFailed) {
			return ErrConflict
		}
		return err
	}
	return nil
}

// ImportFile loads a hash from a plain password file written by earlier
// releases. Nothing is imported when a password is already stored or the
// file does not exist.
func (s *Store) ImportFile(ctx context.Context, path string) (bool, error) {
	set, err := s.IsSet(ctx)
	if err != nil || set {
		return false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("reading %s: %w", path, err)
	}
	hash := strings.TrimSpace(string(data))
	if hash == "" {
		return false, nil
	}
	if err := Parse(hash); err != nil {
		return false, fmt.Errorf("importing %s: %w", path, err)
	}
	if err := s.write(hash, 0); err != nil {
		if errors.Is(err, storage.ErrCASFailed) {
			return false, nil
		}
		return false, err
	}
	s.logger.Info("imported password file", "path", path, "scheme", Tag(hash))
	return true, nil
}
