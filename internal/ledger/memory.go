package ledger

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/jmerrifield20/windchill/internal/commitment"
)

// ctxCheckEvery bounds how many entries a scan processes between
// cancellation checks.
const ctxCheckEvery = 4096

// MemoryLedger is an in-memory, thread-safe Ledger implementation.
// Entries live in a slice indexed by sequence id. Appends hold the write
// lock; readers take a snapshot of the slice under the read lock and then
// proceed without it, so a long verification never blocks an append.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries []Entry
	clock   func() time.Time

	// persist, when set, is called under the write lock before a new
	// entry becomes visible. An error aborts the append.
	persist func(Entry) error
}

// New creates an empty MemoryLedger.
func New(opts ...Option) *MemoryLedger {
	o := buildOptions(opts)
	return &MemoryLedger{clock: o.clock}
}

// Append implements Ledger.
func (l *MemoryLedger) Append(ctx context.Context, frame commitment.Digest, sceneID string, typ EntryType, ts float64) (Entry, error) {
	if err := checkAppend(sceneID, typ, ts); err != nil {
		return Entry{}, err
	}
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var prev *Entry
	if n := len(l.entries); n > 0 {
		prev = &l.entries[n-1]
	}
	entry, err := nextEntry(prev, frame, sceneID, typ, ts, l.clock)
	if err != nil {
		return Entry{}, err
	}
	if l.persist != nil {
		if err := l.persist(entry); err != nil {
			return Entry{}, err
		}
	}
	l.entries = append(l.entries, entry)
	return entry, nil
}

// Get implements Ledger.
func (l *MemoryLedger) Get(_ context.Context, seq uint64) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if seq >= uint64(len(l.entries)) {
		return Entry{}, fmt.Errorf("%w: sequence %d", ErrNotFound, seq)
	}
	return l.entries[seq], nil
}

// Len implements Ledger.
func (l *MemoryLedger) Len(_ context.Context) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.entries)), nil
}

// Root implements Ledger.
func (l *MemoryLedger) Root(_ context.Context) (commitment.Digest, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return commitment.GenesisRoot, nil
	}
	return l.entries[len(l.entries)-1].MerkleRoot, nil
}

// VerifyChain implements Ledger. It is O(n) over the snapshot taken at the
// start of the pass and honours ctx cancellation.
func (l *MemoryLedger) VerifyChain(ctx context.Context) error {
	var v chainVerifier
	for i, e := range l.snapshot() {
		if i%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := v.check(e); err != nil {
			return err
		}
	}
	return nil
}

// VerifyEntry implements Ledger.
func (l *MemoryLedger) VerifyEntry(_ context.Context, seq uint64) error {
	snap := l.snapshot()
	if seq >= uint64(len(snap)) {
		return fmt.Errorf("%w: sequence %d", ErrNotFound, seq)
	}
	var prev *Entry
	if seq > GenesisSequence {
		prev = &snap[seq-1]
	}
	return verifyLink(prev, snap[seq])
}

// Entries implements Ledger.
func (l *MemoryLedger) Entries(ctx context.Context) iter.Seq2[Entry, error] {
	return l.EntriesFrom(ctx, GenesisSequence)
}

// EntriesFrom implements Ledger.
func (l *MemoryLedger) EntriesFrom(ctx context.Context, from uint64) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		snap := l.snapshot()
		if from >= uint64(len(snap)) {
			return
		}
		for _, e := range snap[from:] {
			if err := ctx.Err(); err != nil {
				yield(Entry{}, err)
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

// snapshot returns the entries present right now. The slice is capped so it
// can never observe later appends; indices below its length are never
// written again.
func (l *MemoryLedger) snapshot() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := len(l.entries)
	return l.entries[:n:n]
}

// load replaces the contents of an empty ledger with previously persisted
// entries. The caller is responsible for verifying them.
func (l *MemoryLedger) load(entries []Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries[:0], entries...)
}
