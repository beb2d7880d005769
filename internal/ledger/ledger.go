// Package ledger implements the append-only, hash-chained ledger that sealed
// capture frames are written to.
//
// Each entry stores the commitment of its frame and a Merkle root computed as
// commitment.Combine(frameCommitment, previousRoot). The first entry chains
// from commitment.GenesisRoot. Sequence ids start at GenesisSequence and grow
// by exactly one per append; entries are never updated or removed.
//
// Appends are linearised: every implementation serialises the read of the
// chain tail and the write of the new entry, so no two entries can claim the
// same predecessor. Reads use snapshot semantics: an iteration or a
// verification pass observes the ledger length at the moment it starts and
// ignores entries appended afterwards.
//
// Three implementations of the Ledger interface are provided:
//   - MemoryLedger: in-process, for tests and embedded use.
//   - FileLedger: MemoryLedger backed by a JSONL file, re-verified on open.
//   - PostgresLedger: durable, shared between processes.
package ledger

import (
	"context"
	"iter"

	"github.com/jmerrifield20/windchill/internal/commitment"
)

// GenesisSequence is the sequence id assigned to the first entry.
const GenesisSequence uint64 = 0

// Ledger is the interface for the append-only sealing ledger.
type Ledger interface {
	// Append chains a new entry onto the tail and returns a copy of it.
	// A zero timestamp is stamped from the ledger clock inside the append
	// critical section. This is the only mutation a ledger supports.
	Append(ctx context.Context, frame commitment.Digest, sceneID string, typ EntryType, timestamp float64) (Entry, error)

	// Get returns the entry with the given sequence id.
	Get(ctx context.Context, seq uint64) (Entry, error)

	// Len returns the number of entries.
	Len(ctx context.Context) (uint64, error)

	// Root returns the Merkle root of the most recent entry, or
	// commitment.GenesisRoot for an empty ledger.
	Root(ctx context.Context) (commitment.Digest, error)

	// VerifyChain recomputes every root from genesis and returns an
	// *IntegrityError for the earliest entry that does not match.
	VerifyChain(ctx context.Context) error

	// VerifyEntry checks a single entry against its immediate predecessor.
	// It is a constant-time spot check: an entry that was replaced together
	// with a consistently forged predecessor still passes. Only VerifyChain
	// proves the chain is intact.
	VerifyEntry(ctx context.Context, seq uint64) error

	// Entries returns a restartable, forward-only sequence over the ledger.
	// Each range over it snapshots the length at the start of iteration.
	Entries(ctx context.Context) iter.Seq2[Entry, error]

	// EntriesFrom is Entries starting at sequence id from. Entries below
	// from are not read.
	EntriesFrom(ctx context.Context, from uint64) iter.Seq2[Entry, error]
}
