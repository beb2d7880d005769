//go:build integration

package ledger_test

import (
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/jmerrifield20/windchill/internal/commitment"
	"github.com/jmerrifield20/windchill/internal/ledger"
)

func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect to postgres: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("ping postgres: %v", err)
	}
	if _, err := ledger.Migrate(ctx, pool, zap.NewNop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

func TestPostgresLedger(t *testing.T) {
	pool := setupPostgres(t)
	runLedgerSuite(t, func(t *testing.T) ledger.Ledger {
		// TRUNCATE bypasses the row-level append-only trigger.
		if _, err := pool.Exec(ctx, "TRUNCATE ledger_entries"); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return ledger.NewPostgresLedger(pool, zap.NewNop())
	})
}

func TestPostgresLedger_rejectsRowRewrites(t *testing.T) {
	pool := setupPostgres(t)
	if _, err := pool.Exec(ctx, "TRUNCATE ledger_entries"); err != nil {
		t.Fatal(err)
	}
	l := ledger.NewPostgresLedger(pool, zap.NewNop())
	if _, err := l.Append(ctx, commitment.Commit([]byte("A")), "s1", ledger.Standard, 1); err != nil {
		t.Fatal(err)
	}

	if _, err := pool.Exec(ctx, "UPDATE ledger_entries SET scene_id = 'forged' WHERE sequence_id = 0"); err == nil {
		t.Error("UPDATE on ledger_entries should be rejected")
	}
	if _, err := pool.Exec(ctx, "DELETE FROM ledger_entries WHERE sequence_id = 0"); err == nil {
		t.Error("DELETE on ledger_entries should be rejected")
	}
}

func TestPostgresLedger_detectsOutOfBandTamper(t *testing.T) {
	pool := setupPostgres(t)
	if _, err := pool.Exec(ctx, "TRUNCATE ledger_entries"); err != nil {
		t.Fatal(err)
	}
	l := ledger.NewPostgresLedger(pool, zap.NewNop())
	for _, p := range []string{"A", "B", "C"} {
		if _, err := l.Append(ctx, commitment.Commit([]byte(p)), "scene", ledger.Standard, 0); err != nil {
			t.Fatal(err)
		}
	}

	// Simulate an attacker with enough privilege to bypass the trigger.
	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	if _, err := tx.Exec(ctx, "ALTER TABLE ledger_entries DISABLE TRIGGER ledger_entries_no_rewrite"); err != nil {
		t.Skipf("cannot disable trigger: %v", err)
	}
	forged := commitment.Commit([]byte("B'"))
	if _, err := tx.Exec(ctx, "UPDATE ledger_entries SET frame_commitment = $1 WHERE sequence_id = 1", forged[:]); err != nil {
		t.Fatal(err)
	}
	if _, err := tx.Exec(ctx, "ALTER TABLE ledger_entries ENABLE TRIGGER ledger_entries_no_rewrite"); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	var ie *ledger.IntegrityError
	if err := l.VerifyChain(ctx); !errors.As(err, &ie) || ie.SequenceID != 1 {
		t.Fatalf("VerifyChain() = %v, want IntegrityError at 1", err)
	}
}
