package seal_test

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/windchill/internal/commitment"
	"github.com/jmerrifield20/windchill/internal/ledger"
	"github.com/jmerrifield20/windchill/internal/seal"
)

var ctx = context.Background()

// spyLedger counts Append calls and can fail them on demand.
type spyLedger struct {
	ledger.Ledger
	mu      sync.Mutex
	appends int
	failing error
}

func (s *spyLedger) Append(ctx context.Context, c commitment.Digest, scene string, typ ledger.EntryType, ts float64) (ledger.Entry, error) {
	s.mu.Lock()
	s.appends++
	failing := s.failing
	s.mu.Unlock()
	if failing != nil {
		return ledger.Entry{}, failing
	}
	return s.Ledger.Append(ctx, c, scene, typ, ts)
}

func (s *spyLedger) Entries(ctx context.Context) iter.Seq2[ledger.Entry, error] {
	return s.Ledger.Entries(ctx)
}

func newSpy() *spyLedger { return &spyLedger{Ledger: ledger.New()} }

func TestSeal_twoFrameScenario(t *testing.T) {
	l := ledger.New()
	s := seal.NewSealer(l, zap.NewNop())

	frameA := seal.FrameCapture{SceneID: "s1", Payload: []byte("A"), Type: ledger.Standard, Timestamp: 1.5}
	frameB := seal.FrameCapture{SceneID: "s2", Payload: []byte("B"), Type: ledger.Refusal, Timestamp: 2.5}

	a, err := s.Seal(ctx, frameA)
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Seal(ctx, frameB)
	if err != nil {
		t.Fatal(err)
	}

	if a.SequenceID != 0 {
		t.Errorf("first entry sequence = %d, want 0", a.SequenceID)
	}
	if want := commitment.Combine(commitment.Commit([]byte("A")), commitment.GenesisRoot); a.MerkleRoot != want {
		t.Errorf("entry 0 root = %s, want %s", a.MerkleRoot, want)
	}
	if b.SequenceID != 1 || b.Type != ledger.Refusal || b.SceneID != "s2" {
		t.Errorf("entry 1 = %+v", b)
	}
	if want := commitment.Combine(commitment.Commit([]byte("B")), a.MerkleRoot); b.MerkleRoot != want {
		t.Errorf("entry 1 root = %s, want %s", b.MerkleRoot, want)
	}
	if err := l.VerifyChain(ctx); err != nil {
		t.Errorf("VerifyChain(): %v", err)
	}
}

func TestSeal_emptySceneIsIdentityBreach(t *testing.T) {
	spy := newSpy()
	s := seal.NewSealer(spy, zap.NewNop())

	_, err := s.Seal(ctx, seal.FrameCapture{SceneID: "", Payload: []byte("A")})
	if !errors.Is(err, seal.ErrIdentityBreach) {
		t.Fatalf("got %v, want ErrIdentityBreach", err)
	}
	var se *seal.SealError
	if !errors.As(err, &se) || se.State != seal.Rejected {
		t.Errorf("expected SealError in Rejected state, got %v", err)
	}
	if !seal.IsInputFault(err) {
		t.Error("identity breach should be an input fault")
	}
	if spy.appends != 0 {
		t.Errorf("ledger touched %d times on identity breach", spy.appends)
	}
	if n, _ := spy.Len(ctx); n != 0 {
		t.Errorf("ledger length = %d, want 0", n)
	}
}

func TestSeal_breachDoesNotAdvanceSequence(t *testing.T) {
	l := ledger.New()
	s := seal.NewSealer(l, zap.NewNop())

	if _, err := s.Seal(ctx, seal.FrameCapture{SceneID: "s1", Payload: []byte("A")}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Seal(ctx, seal.FrameCapture{Payload: []byte("ghost")}); err == nil {
		t.Fatal("expected identity breach")
	}
	e, err := s.Seal(ctx, seal.FrameCapture{SceneID: "s2", Payload: []byte("B")})
	if err != nil {
		t.Fatal(err)
	}
	if e.SequenceID != 1 {
		t.Errorf("sequence after rejected seal = %d, want 1", e.SequenceID)
	}
}

func TestSeal_storageFaultIsPropagated(t *testing.T) {
	spy := newSpy()
	spy.failing = &ledger.StorageError{Op: "write entry", Err: errors.New("disk full")}
	s := seal.NewSealer(spy, zap.NewNop())

	_, err := s.Seal(ctx, seal.FrameCapture{SceneID: "s1", Payload: []byte("A")})
	if !errors.Is(err, ledger.ErrStorage) {
		t.Fatalf("got %v, want ErrStorage", err)
	}
	var se *seal.SealError
	if !errors.As(err, &se) || se.State != seal.Pending {
		t.Errorf("storage fault should leave the frame pending, got %v", err)
	}
	if seal.IsInputFault(err) {
		t.Error("storage fault is not an input fault")
	}
	if spy.appends != 1 {
		t.Errorf("Seal retried: %d appends", spy.appends)
	}
}

func TestSeal_storageFaultFiresFaultHandler(t *testing.T) {
	spy := newSpy()
	spy.failing = &ledger.StorageError{Op: "fsync", Err: errors.New("i/o error")}
	s := seal.NewSealer(spy, zap.NewNop())
	var faults []error
	s.SetFaultHandler(func(_ context.Context, err error) { faults = append(faults, err) })

	s.Seal(ctx, seal.FrameCapture{SceneID: "s1", Payload: []byte("A")}) //nolint:errcheck

	if len(faults) != 1 || !errors.Is(faults[0], ledger.ErrStorage) {
		t.Errorf("fault handler got %v, want one storage fault", faults)
	}
}

func TestSeal_cancelledCallerIsNotAStorageFault(t *testing.T) {
	l := ledger.New()
	s := seal.NewSealer(l, zap.NewNop())
	faults := 0
	s.SetFaultHandler(func(context.Context, error) { faults++ })
	states := map[seal.State]int{}
	s.SetMetricsRecord(func(state seal.State, _ time.Duration) { states[state]++ })

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	expired, cancel2 := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel2()

	for _, c := range []context.Context{cancelled, expired} {
		_, err := s.Seal(c, seal.FrameCapture{SceneID: "s1", Payload: []byte("A")})
		var se *seal.SealError
		if !errors.As(err, &se) || se.State != seal.Pending {
			t.Fatalf("got %v, want a pending SealError", err)
		}
		if !seal.IsAbandoned(err) {
			t.Errorf("IsAbandoned(%v) = false", err)
		}
		if errors.Is(err, ledger.ErrStorage) || seal.IsInputFault(err) {
			t.Errorf("%v misclassified as storage or input fault", err)
		}
	}

	if faults != 0 {
		t.Errorf("fault handler fired %d times for abandoned seals", faults)
	}
	if states[seal.Pending] != 2 {
		t.Errorf("metrics = %v, want two pending", states)
	}
	if n, _ := l.Len(ctx); n != 0 {
		t.Errorf("ledger length = %d after abandoned seals", n)
	}
}

func TestSeal_timestampRegressionIsRejected(t *testing.T) {
	s := seal.NewSealer(ledger.New(), zap.NewNop())
	if _, err := s.Seal(ctx, seal.FrameCapture{SceneID: "s", Payload: []byte("1"), Timestamp: 50}); err != nil {
		t.Fatal(err)
	}
	_, err := s.Seal(ctx, seal.FrameCapture{SceneID: "s", Payload: []byte("2"), Timestamp: 10})
	var se *seal.SealError
	if !errors.As(err, &se) || se.State != seal.Rejected {
		t.Fatalf("got %v, want Rejected SealError", err)
	}
	if !errors.Is(err, ledger.ErrTimestampRegression) {
		t.Errorf("got %v, want ErrTimestampRegression", err)
	}
}

func TestSeal_metricsCallback(t *testing.T) {
	s := seal.NewSealer(ledger.New(), zap.NewNop())
	counts := map[seal.State]int{}
	s.SetMetricsRecord(func(state seal.State, _ time.Duration) { counts[state]++ })

	s.Seal(ctx, seal.FrameCapture{SceneID: "s", Payload: []byte("ok")}) //nolint:errcheck
	s.Seal(ctx, seal.FrameCapture{Payload: []byte("bad")})              //nolint:errcheck

	if counts[seal.Sealed] != 1 || counts[seal.Rejected] != 1 {
		t.Errorf("metrics = %v, want one sealed and one rejected", counts)
	}
}

func TestSeal_concurrentProducers(t *testing.T) {
	l := ledger.New()
	s := seal.NewSealer(l, zap.NewNop())

	const producers, frames = 6, 40
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < frames; i++ {
				scene := fmt.Sprintf("camera-%d", p)
				if i%10 == 0 {
					scene = "" // malformed frames interleaved with good ones
				}
				s.Seal(ctx, seal.FrameCapture{SceneID: scene, Payload: []byte(fmt.Sprintf("%d/%d", p, i))}) //nolint:errcheck
			}
		}(p)
	}
	wg.Wait()

	n, _ := l.Len(ctx)
	if want := uint64(producers * (frames - frames/10)); n != want {
		t.Fatalf("Len() = %d, want %d", n, want)
	}
	if err := l.VerifyChain(ctx); err != nil {
		t.Fatalf("VerifyChain(): %v", err)
	}
}

func TestNewStructuredFrame_canonicalPayload(t *testing.T) {
	a, err := seal.NewStructuredFrame("s", map[string]any{"shot": 3, "lens": "35mm"}, ledger.Standard, 0)
	if err != nil {
		t.Fatal(err)
	}
	b, err := seal.NewStructuredFrame("s", struct {
		Lens string `json:"lens"`
		Shot int    `json:"shot"`
	}{"35mm", 3}, ledger.Standard, 0)
	if err != nil {
		t.Fatal(err)
	}
	if commitment.Commit(a.Payload) != commitment.Commit(b.Payload) {
		t.Errorf("equal content committed differently: %s vs %s", a.Payload, b.Payload)
	}
}

func TestNewStructuredFrame_unencodable(t *testing.T) {
	if _, err := seal.NewStructuredFrame("s", make(chan int), ledger.Standard, 0); err == nil {
		t.Fatal("expected error for content that cannot be encoded")
	}
}
