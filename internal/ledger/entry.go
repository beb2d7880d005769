package ledger

import (
	"fmt"
	"math"
	"time"

	"github.com/jmerrifield20/windchill/internal/commitment"
)

// EntryType classifies the outcome recorded by an entry.
type EntryType uint8

const (
	// Standard is a nominal capture.
	Standard EntryType = iota
	// Refusal is a capture the sentinel vetoed.
	Refusal
)

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool { return t == Standard || t == Refusal }

func (t EntryType) String() string {
	switch t {
	case Standard:
		return "standard"
	case Refusal:
		return "refusal"
	default:
		return fmt.Sprintf("entry_type(%d)", uint8(t))
	}
}

// ParseEntryType parses the text form produced by String.
func ParseEntryType(s string) (EntryType, error) {
	switch s {
	case "standard", "Standard":
		return Standard, nil
	case "refusal", "Refusal":
		return Refusal, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidEntryType, s)
}

// MarshalText implements encoding.TextMarshaler.
func (t EntryType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidEntryType, uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *EntryType) UnmarshalText(text []byte) error {
	parsed, err := ParseEntryType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Entry is a sealed ledger record. Entries are plain values; the ledger hands
// out copies, so holding one never aliases ledger state.
type Entry struct {
	SequenceID      uint64            `json:"sequence_id" yaml:"sequence_id"`
	Type            EntryType         `json:"entry_type" yaml:"entry_type"`
	Timestamp       float64           `json:"timestamp" yaml:"timestamp"` // seconds since the Unix epoch
	SceneID         string            `json:"scene_id" yaml:"scene_id"`
	FrameCommitment commitment.Digest `json:"frame_commitment" yaml:"frame_commitment"`
	MerkleRoot      commitment.Digest `json:"merkle_root" yaml:"merkle_root"`
}

// RootHex returns the entry's Merkle root as lowercase hex.
func (e Entry) RootHex() string { return e.MerkleRoot.Hex() }

// Time converts the entry timestamp to a time.Time.
func (e Entry) Time() time.Time {
	sec, frac := math.Modf(e.Timestamp)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// Seconds converts t to the float seconds representation used by entries.
func Seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// checkAppend validates the caller-supplied fields of an append.
func checkAppend(sceneID string, typ EntryType, ts float64) error {
	if sceneID == "" {
		return ErrEmptySceneID
	}
	if !typ.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidEntryType, uint8(typ))
	}
	if ts < 0 || math.IsNaN(ts) || math.IsInf(ts, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidTimestamp, ts)
	}
	return nil
}

// nextEntry builds the entry that follows prev (nil for an empty ledger).
// It must be called while holding the append lock of the ledger.
func nextEntry(prev *Entry, frame commitment.Digest, sceneID string, typ EntryType, ts float64, clock func() time.Time) (Entry, error) {
	seq := GenesisSequence
	prevRoot := commitment.GenesisRoot
	var last float64
	if prev != nil {
		seq = prev.SequenceID + 1
		prevRoot = prev.MerkleRoot
		last = prev.Timestamp
	}

	if ts == 0 {
		ts = math.Max(Seconds(clock()), last)
	} else if ts < last {
		return Entry{}, fmt.Errorf("%w: %.6f precedes %.6f", ErrTimestampRegression, ts, last)
	}

	return Entry{
		SequenceID:      seq,
		Type:            typ,
		Timestamp:       ts,
		SceneID:         sceneID,
		FrameCommitment: frame,
		MerkleRoot:      commitment.Combine(frame, prevRoot),
	}, nil
}

// Option configures a ledger implementation.
type Option func(*options)

type options struct {
	clock func() time.Time
}

// WithClock overrides the clock used to stamp entries that arrive without a
// timestamp.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

func buildOptions(opts []Option) options {
	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
