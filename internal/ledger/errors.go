package ledger

import (
	"errors"
	"fmt"

	"github.com/jmerrifield20/windchill/internal/commitment"
)

var (
	// ErrIntegrity matches every *IntegrityError via errors.Is.
	ErrIntegrity = errors.New("ledger integrity violated")
	// ErrStorage matches every *StorageError via errors.Is.
	ErrStorage = errors.New("ledger storage fault")
	// ErrNotFound is returned when a sequence id is outside the ledger.
	ErrNotFound = errors.New("ledger entry not found")

	ErrEmptySceneID        = errors.New("scene id must not be empty")
	ErrInvalidEntryType    = errors.New("invalid entry type")
	ErrInvalidTimestamp    = errors.New("invalid timestamp")
	ErrTimestampRegression = errors.New("timestamp precedes previous entry")
)

// IntegrityError reports the earliest entry whose stored state does not
// match the chain rule. Expected and Actual are set for root mismatches.
// A ledger that returns an IntegrityError must not be trusted from
// SequenceID onwards; it is never repaired automatically.
type IntegrityError struct {
	SequenceID uint64
	Expected   commitment.Digest
	Actual     commitment.Digest
	Reason     string
}

func (e *IntegrityError) Error() string {
	if e.Expected.IsZero() && e.Actual.IsZero() {
		return fmt.Sprintf("ledger integrity violated at sequence %d: %s", e.SequenceID, e.Reason)
	}
	return fmt.Sprintf("ledger integrity violated at sequence %d: %s (expected %s, got %s)",
		e.SequenceID, e.Reason, e.Expected.Hex(), e.Actual.Hex())
}

// Is makes errors.Is(err, ErrIntegrity) true.
func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }

// StorageError wraps a persistence failure. The core does not retry.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("ledger storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrStorage) true.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
