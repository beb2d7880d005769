package ledger

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/jmerrifield20/windchill/internal/commitment"
)

// advisoryLockKey is a stable PostgreSQL advisory lock key used to serialise
// concurrent Append calls. It must be the same for every process sharing
// the ledger table.
const advisoryLockKey = int64(2_071_411_907)

// pageSize is the number of rows Entries fetches per round trip.
const pageSize = 512

const entryColumns = `sequence_id, entry_type, timestamp, scene_id, frame_commitment, merkle_root`

// PostgresLedger persists the ledger to the ledger_entries table.
// It implements the Ledger interface.
type PostgresLedger struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	clock  func() time.Time
}

// NewPostgresLedger creates a PostgresLedger backed by the given connection pool.
// Run Migrate first to create the schema.
func NewPostgresLedger(pool *pgxpool.Pool, logger *zap.Logger, opts ...Option) *PostgresLedger {
	o := buildOptions(opts)
	return &PostgresLedger{pool: pool, logger: logger, clock: o.clock}
}

// Append implements Ledger.
// It acquires a transaction-scoped advisory lock, reads the chain tail,
// computes the new root and inserts the row, all in one transaction.
func (l *PostgresLedger) Append(ctx context.Context, frame commitment.Digest, sceneID string, typ EntryType, ts float64) (Entry, error) {
	if err := checkAppend(sceneID, typ, ts); err != nil {
		return Entry{}, err
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return Entry{}, storageErr("begin tx", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Released automatically when the transaction commits or rolls back.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return Entry{}, storageErr("acquire advisory lock", err)
	}

	var prev *Entry
	tail, err := scanEntry(tx.QueryRow(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries ORDER BY sequence_id DESC LIMIT 1",
	))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return Entry{}, fmt.Errorf("read ledger tail: %w", err)
	default:
		prev = &tail
	}

	entry, err := nextEntry(prev, frame, sceneID, typ, ts, l.clock)
	if err != nil {
		return Entry{}, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_entries (sequence_id, entry_type, timestamp, scene_id, frame_commitment, merkle_root)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		int64(entry.SequenceID), entry.Type.String(), entry.Timestamp,
		entry.SceneID, entry.FrameCommitment[:], entry.MerkleRoot[:],
	); err != nil {
		return Entry{}, storageErr("insert ledger entry", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Entry{}, storageErr("commit ledger tx", err)
	}

	l.logger.Debug("ledger entry appended",
		zap.Uint64("sequence_id", entry.SequenceID),
		zap.String("scene_id", entry.SceneID),
		zap.String("merkle_root", entry.RootHex()),
	)
	return entry, nil
}

// Get implements Ledger.
func (l *PostgresLedger) Get(ctx context.Context, seq uint64) (Entry, error) {
	e, err := scanEntry(l.pool.QueryRow(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE sequence_id = $1", int64(seq),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: sequence %d", ErrNotFound, seq)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("get ledger entry %d: %w", seq, err)
	}
	return e, nil
}

// Len implements Ledger.
func (l *PostgresLedger) Len(ctx context.Context) (uint64, error) {
	var n int64
	if err := l.pool.QueryRow(ctx, "SELECT COUNT(*) FROM ledger_entries").Scan(&n); err != nil {
		return 0, storageErr("count ledger entries", err)
	}
	return uint64(n), nil
}

// Root implements Ledger.
func (l *PostgresLedger) Root(ctx context.Context) (commitment.Digest, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx,
		"SELECT merkle_root FROM ledger_entries ORDER BY sequence_id DESC LIMIT 1",
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return commitment.GenesisRoot, nil
	}
	if err != nil {
		return commitment.Digest{}, storageErr("get ledger root", err)
	}
	return toDigest(raw)
}

// VerifyChain implements Ledger. It streams every row ordered by
// sequence_id. O(n) in ledger length.
func (l *PostgresLedger) VerifyChain(ctx context.Context) error {
	var v chainVerifier
	for e, err := range l.Entries(ctx) {
		if err != nil {
			return err
		}
		if err := v.check(e); err != nil {
			return err
		}
	}
	l.logger.Debug("ledger chain verified", zap.Uint64("entries", v.checked))
	return nil
}

// VerifyEntry implements Ledger.
func (l *PostgresLedger) VerifyEntry(ctx context.Context, seq uint64) error {
	e, err := l.Get(ctx, seq)
	if err != nil {
		return err
	}
	if seq == GenesisSequence {
		return verifyLink(nil, e)
	}
	prev, err := l.Get(ctx, seq-1)
	if errors.Is(err, ErrNotFound) {
		return &IntegrityError{SequenceID: seq - 1, Reason: "missing predecessor"}
	}
	if err != nil {
		return err
	}
	return verifyLink(&prev, e)
}

// Entries implements Ledger. The upper bound is read once when iteration
// starts; rows are then fetched in pages so no connection is held while
// the caller processes an entry.
func (l *PostgresLedger) Entries(ctx context.Context) iter.Seq2[Entry, error] {
	return l.EntriesFrom(ctx, GenesisSequence)
}

// EntriesFrom implements Ledger. Paging is keyset-based, so starting deep in
// the chain costs the same as starting at genesis.
func (l *PostgresLedger) EntriesFrom(ctx context.Context, from uint64) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		if from > math.MaxInt64 {
			return
		}
		var last int64
		if err := l.pool.QueryRow(ctx,
			"SELECT COALESCE(MAX(sequence_id), -1) FROM ledger_entries",
		).Scan(&last); err != nil {
			yield(Entry{}, storageErr("snapshot ledger length", err))
			return
		}

		after := int64(from) - 1
		for after < last {
			page, err := l.page(ctx, after, last)
			if err != nil {
				yield(Entry{}, err)
				return
			}
			if len(page) == 0 {
				// Rows below the snapshot bound are never deleted; a short
				// read means a gap in the stored sequence.
				yield(Entry{}, &IntegrityError{SequenceID: uint64(after + 1), Reason: "missing entries"})
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
			}
			after = int64(page[len(page)-1].SequenceID)
		}
	}
}

func (l *PostgresLedger) page(ctx context.Context, after, last int64) ([]Entry, error) {
	rows, err := l.pool.Query(ctx,
		"SELECT "+entryColumns+` FROM ledger_entries
		 WHERE sequence_id > $1 AND sequence_id <= $2
		 ORDER BY sequence_id ASC LIMIT $3`,
		after, last, pageSize,
	)
	if err != nil {
		return nil, storageErr("query ledger", err)
	}
	defer rows.Close()

	page := make([]Entry, 0, pageSize)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		page = append(page, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("read ledger rows", err)
	}
	return page, nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		seq         int64
		typ, scene  string
		ts          float64
		frame, root []byte
	)
	if err := row.Scan(&seq, &typ, &ts, &scene, &frame, &root); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, storageErr("scan ledger row", err)
	}

	e := Entry{SequenceID: uint64(seq), Timestamp: ts, SceneID: scene}
	var err error
	if e.Type, err = ParseEntryType(typ); err != nil {
		return Entry{}, &IntegrityError{SequenceID: e.SequenceID, Reason: "unknown entry type"}
	}
	if e.FrameCommitment, err = toDigest(frame); err != nil {
		return Entry{}, &IntegrityError{SequenceID: e.SequenceID, Reason: "malformed frame commitment"}
	}
	if e.MerkleRoot, err = toDigest(root); err != nil {
		return Entry{}, &IntegrityError{SequenceID: e.SequenceID, Reason: "malformed merkle root"}
	}
	return e, nil
}

func toDigest(b []byte) (commitment.Digest, error) {
	var d commitment.Digest
	if len(b) != commitment.Size {
		return d, fmt.Errorf("stored digest has %d bytes", len(b))
	}
	copy(d[:], b)
	return d, nil
}
