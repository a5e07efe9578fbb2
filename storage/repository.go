// Package storage provides the storage abstraction for durable settings
// such as the admin credential.
package storage

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrBucketNotFound is returned when the bucket has never been written.
	ErrBucketNotFound = errors.New("bucket not found")
	// ErrCASFailed is returned when a compare-and-swap version check fails.
	ErrCASFailed = errors.New("CAS version mismatch")
)

// Repository defines the interface for record storage. Records are grouped
// into buckets and addressed by (recordType, recordID).
type Repository interface {
	Put(bucket string, recordType string, recordID string, envelope *Envelope) error
	Get(bucket string, recordType string, recordID string) (*Envelope, error)
	Delete(bucket string, recordType string, recordID string) error
	List(bucket string, recordType string) ([]string, error)
	// PutCAS writes envelope only if the stored record's Version equals
	// expectedVersion. An expectedVersion of 0 means "must not exist".
	PutCAS(bucket string, recordType string, recordID string, expectedVersion uint64, envelope *Envelope) error
}

// IsNotFound reports whether err means the record or its bucket is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrBucketNotFound)
}
