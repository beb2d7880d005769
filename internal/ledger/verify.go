package ledger

import (
	"context"
	"iter"

	"github.com/jmerrifield20/windchill/internal/commitment"
)

// verifyLink checks e against its predecessor (nil when e should be the
// genesis entry).
func verifyLink(prev *Entry, e Entry) error {
	wantSeq := GenesisSequence
	prevRoot := commitment.GenesisRoot
	if prev != nil {
		wantSeq = prev.SequenceID + 1
		prevRoot = prev.MerkleRoot
	}

	if e.SequenceID != wantSeq {
		return &IntegrityError{SequenceID: wantSeq, Reason: "sequence discontinuity"}
	}
	want := commitment.Combine(e.FrameCommitment, prevRoot)
	if e.MerkleRoot != want {
		return &IntegrityError{
			SequenceID: e.SequenceID,
			Expected:   want,
			Actual:     e.MerkleRoot,
			Reason:     "merkle root mismatch",
		}
	}
	if e.SceneID == "" {
		return &IntegrityError{SequenceID: e.SequenceID, Reason: "empty scene id"}
	}
	if !e.Type.Valid() {
		return &IntegrityError{SequenceID: e.SequenceID, Reason: "unknown entry type"}
	}
	if prev != nil && e.Timestamp < prev.Timestamp {
		return &IntegrityError{SequenceID: e.SequenceID, Reason: "timestamp regression"}
	}
	return nil
}

// chainVerifier walks entries in sequence order from genesis.
type chainVerifier struct {
	prev    Entry
	hasPrev bool
	checked uint64
}

func (v *chainVerifier) check(e Entry) error {
	var prev *Entry
	if v.hasPrev {
		prev = &v.prev
	}
	if err := verifyLink(prev, e); err != nil {
		return err
	}
	v.prev = e
	v.hasPrev = true
	v.checked++
	return nil
}

// Verified ranges over l.Entries and yields each entry only after it has
// been checked against its predecessor. The first failure is yielded once
// and ends the iteration.
func Verified(ctx context.Context, l Ledger) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		var v chainVerifier
		for e, err := range l.Entries(ctx) {
			if err == nil {
				err = v.check(e)
			}
			if err != nil {
				yield(Entry{}, err)
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}
