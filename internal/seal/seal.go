// Package seal turns capture frames into ledger entries.
//
// A Sealer validates the frame's scene identity, commits to its payload and
// appends the result to the ledger. The identity check runs strictly before
// the ledger is touched, so a rejected frame never consumes a sequence id.
package seal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/windchill/internal/commitment"
	"github.com/jmerrifield20/windchill/internal/ledger"
)

// ErrIdentityBreach is returned when a frame carries no scene id.
var ErrIdentityBreach = errors.New("identity breach: frame has an empty scene id")

// FrameCapture is a unit of recorded work submitted for sealing.
type FrameCapture struct {
	SceneID   string
	Payload   []byte // canonical bytes; see NewStructuredFrame
	Type      ledger.EntryType
	Timestamp float64 // seconds; zero means "stamp at seal time"
}

// NewStructuredFrame builds a frame whose payload is the RFC 8785 canonical
// JSON encoding of content.
func NewStructuredFrame(sceneID string, content any, typ ledger.EntryType, ts float64) (FrameCapture, error) {
	payload, err := commitment.Canonicalize(content)
	if err != nil {
		return FrameCapture{}, fmt.Errorf("frame payload: %w", err)
	}
	return FrameCapture{SceneID: sceneID, Payload: payload, Type: typ, Timestamp: ts}, nil
}

// State is the lifecycle position of a frame inside Seal.
type State uint8

const (
	Pending State = iota
	Sealed
	Rejected
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Sealed:
		return "sealed"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// SealError reports why a frame was not sealed. State is Rejected for
// malformed input and Pending when the ledger failed underneath.
type SealError struct {
	SceneID string
	State   State
	Err     error
}

func (e *SealError) Error() string {
	return fmt.Sprintf("seal %s (scene %q): %v", e.State, e.SceneID, e.Err)
}

func (e *SealError) Unwrap() error { return e.Err }

// MetricsRecordFunc is an optional callback invoked once per Seal call.
type MetricsRecordFunc func(state State, elapsed time.Duration)

// FaultFunc is an optional callback invoked when the ledger's storage fails
// underneath a seal. Cancelled or expired callers do not trigger it.
type FaultFunc func(ctx context.Context, err error)

// Sealer is the seal orchestrator. It is safe for concurrent use; the
// ledger linearises the appends.
type Sealer struct {
	ledger    ledger.Ledger
	logger    *zap.Logger
	onMetrics MetricsRecordFunc
	onFault   FaultFunc
}

// NewSealer creates a Sealer that writes to l.
func NewSealer(l ledger.Ledger, logger *zap.Logger) *Sealer {
	return &Sealer{ledger: l, logger: logger}
}

// SetMetricsRecord configures the metrics recording callback.
func (s *Sealer) SetMetricsRecord(fn MetricsRecordFunc) {
	s.onMetrics = fn
}

// SetFaultHandler configures the storage fault callback.
func (s *Sealer) SetFaultHandler(fn FaultFunc) {
	s.onFault = fn
}

// Seal validates frame, commits to its payload and appends it to the ledger.
// It never retries: an identity breach is a caller bug and a storage fault
// is surfaced to whoever owns the retry policy.
func (s *Sealer) Seal(ctx context.Context, frame FrameCapture) (ledger.Entry, error) {
	start := time.Now()

	if frame.SceneID == "" {
		s.logger.Warn("seal rejected: identity breach",
			zap.String("entry_type", frame.Type.String()),
			zap.Int("payload_bytes", len(frame.Payload)),
		)
		s.record(Rejected, start)
		return ledger.Entry{}, &SealError{State: Rejected, Err: ErrIdentityBreach}
	}

	frameCommitment := commitment.Commit(frame.Payload)

	entry, err := s.ledger.Append(ctx, frameCommitment, frame.SceneID, frame.Type, frame.Timestamp)
	if err != nil {
		state := Pending
		switch {
		case isInputFault(err):
			state = Rejected
			s.logger.Warn("seal rejected",
				zap.String("scene_id", frame.SceneID),
				zap.Error(err),
			)
		case IsAbandoned(err):
			s.logger.Info("seal abandoned by caller",
				zap.String("scene_id", frame.SceneID),
				zap.Error(err),
			)
		default:
			s.logger.Error("seal failed",
				zap.String("scene_id", frame.SceneID),
				zap.Stringer("state", state),
				zap.Error(err),
			)
			if s.onFault != nil && errors.Is(err, ledger.ErrStorage) {
				s.onFault(ctx, err)
			}
		}
		s.record(state, start)
		return ledger.Entry{}, &SealError{SceneID: frame.SceneID, State: state, Err: err}
	}

	s.record(Sealed, start)
	s.logger.Info("frame sealed",
		zap.Uint64("sequence_id", entry.SequenceID),
		zap.String("scene_id", entry.SceneID),
		zap.String("entry_type", entry.Type.String()),
		zap.String("merkle_root", entry.RootHex()),
	)
	return entry, nil
}

func (s *Sealer) record(state State, start time.Time) {
	if s.onMetrics != nil {
		s.onMetrics(state, time.Since(start))
	}
}

// isInputFault reports whether err came from malformed frame fields rather
// than from the ledger's storage.
func isInputFault(err error) bool {
	return errors.Is(err, ledger.ErrEmptySceneID) ||
		errors.Is(err, ledger.ErrInvalidEntryType) ||
		errors.Is(err, ledger.ErrInvalidTimestamp) ||
		errors.Is(err, ledger.ErrTimestampRegression)
}

// IsInputFault reports whether err rejected a frame because of its content.
// HTTP and CLI front ends map these to client errors.
func IsInputFault(err error) bool {
	return errors.Is(err, ErrIdentityBreach) || isInputFault(err)
}

// IsAbandoned reports whether a seal stopped because its caller's context
// was cancelled or timed out. The frame was not sealed and the ledger is
// not at fault.
func IsAbandoned(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
