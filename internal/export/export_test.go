package export

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/jmerrifield20/windchill/internal/commitment"
	"github.com/jmerrifield20/windchill/internal/ledger"
)

// ── Stubs ────────────────────────────────────────────────────────────────

type memSink struct {
	mu   sync.Mutex
	docs map[string][]byte
	fail string
}

func (m *memSink) Put(_ context.Context, name string, data []byte) error {
	if name == m.fail {
		return errors.New("bucket unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docs == nil {
		m.docs = map[string][]byte{}
	}
	m.docs[name] = append([]byte(nil), data...)
	return nil
}

type stubPutter struct {
	inputs []*s3.PutObjectInput
	bodies []string
}

func (s *stubPutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(in.Body)
	s.inputs = append(s.inputs, in)
	s.bodies = append(s.bodies, string(body))
	return &s3.PutObjectOutput{}, nil
}

// brokenLedger fails verification without touching real storage.
type brokenLedger struct {
	ledger.Ledger
}

func (brokenLedger) VerifyChain(context.Context) error {
	return &ledger.IntegrityError{SequenceID: 1, Reason: "merkle root mismatch"}
}

func sealed(t *testing.T) *ledger.MemoryLedger {
	t.Helper()
	l := ledger.New()
	ctx := context.Background()
	if _, err := l.Append(ctx, commitment.Commit([]byte("A")), "s1", ledger.Standard, 12.25); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Append(ctx, commitment.Commit([]byte("B")), "s2", ledger.Refusal, 13.5); err != nil {
		t.Fatal(err)
	}
	return l
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestFileName(t *testing.T) {
	cases := map[uint64]string{
		0:       "seq_000000.md",
		42:      "seq_000042.md",
		1234567: "seq_1234567.md",
	}
	for seq, want := range cases {
		if got := FileName(seq); got != want {
			t.Errorf("FileName(%d) = %q, want %q", seq, got, want)
		}
	}
}

func TestRender_layout(t *testing.T) {
	l := sealed(t)
	e, _ := l.Get(context.Background(), 1)

	doc, err := Render(e)
	if err != nil {
		t.Fatal(err)
	}
	s := string(doc)

	for _, want := range []string{
		"---\n",
		"sequence_id: 1\n",
		"entry_type: refusal\n",
		"scene_id: s2\n",
		"# Audit Entry: Sequence 1\n",
		"**Status:** 🚫 Sentinel Veto\n",
		"**Timestamp:** 13.5000s\n",
		"> [!ABSTRACT] Merkle Proof\n",
		"> Root: `0x" + e.MerkleRoot.Hex() + "`",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("rendered document missing %q:\n%s", want, s)
		}
	}
	if !strings.HasPrefix(s, "---\n") {
		t.Error("document must open with front matter")
	}
}

func TestRender_nominalStatus(t *testing.T) {
	e, _ := sealed(t).Get(context.Background(), 0)
	doc, _ := Render(e)
	if !strings.Contains(string(doc), "**Status:** ✅ Nominal\n") {
		t.Errorf("standard entry not rendered as nominal:\n%s", doc)
	}
}

func TestParseFrontMatter_recoversEntry(t *testing.T) {
	want, _ := sealed(t).Get(context.Background(), 1)
	doc, _ := Render(want)

	got, err := ParseFrontMatter(doc)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("ParseFrontMatter() = %+v, want %+v", got, want)
	}
}

func TestParseFrontMatter_malformed(t *testing.T) {
	for _, doc := range []string{"# no front matter", "---\nsequence_id: 1\n"} {
		if _, err := ParseFrontMatter([]byte(doc)); err == nil {
			t.Errorf("ParseFrontMatter(%q) succeeded", doc)
		}
	}
}

func TestExport_writesEveryEntryAndManifest(t *testing.T) {
	l := sealed(t)
	sink := &memSink{}

	m, err := New(sink, zap.NewNop()).Export(context.Background(), l)
	if err != nil {
		t.Fatal(err)
	}

	root, _ := l.Root(context.Background())
	if m.Entries != 2 || m.Refusals != 1 || m.Root != root || m.RunID == "" {
		t.Errorf("manifest = %+v", m)
	}
	for _, name := range []string{"seq_000000.md", "seq_000001.md", ManifestName} {
		if _, ok := sink.docs[name]; !ok {
			t.Errorf("missing %s", name)
		}
	}

	var got Manifest
	if err := yaml.Unmarshal(sink.docs[ManifestName], &got); err != nil {
		t.Fatal(err)
	}
	if got.Root != root || got.Entries != 2 {
		t.Errorf("stored manifest = %+v", got)
	}
}

func TestExport_emptyLedger(t *testing.T) {
	sink := &memSink{}
	m, err := New(sink, zap.NewNop()).Export(context.Background(), ledger.New())
	if err != nil {
		t.Fatal(err)
	}
	if m.Entries != 0 || m.Root != commitment.GenesisRoot {
		t.Errorf("manifest = %+v", m)
	}
	if len(sink.docs) != 1 {
		t.Errorf("wrote %d documents, want only the manifest", len(sink.docs))
	}
}

func TestExport_refusesBrokenLedger(t *testing.T) {
	sink := &memSink{}
	_, err := New(sink, zap.NewNop()).Export(context.Background(), brokenLedger{Ledger: sealed(t)})
	if !errors.Is(err, ledger.ErrIntegrity) {
		t.Fatalf("Export() = %v, want ErrIntegrity", err)
	}
	if len(sink.docs) != 0 {
		t.Errorf("broken ledger exported %d documents", len(sink.docs))
	}
}

func TestExport_sinkFailure(t *testing.T) {
	sink := &memSink{fail: "seq_000001.md"}
	m, err := New(sink, zap.NewNop()).Export(context.Background(), sealed(t))
	if err == nil {
		t.Fatal("expected sink failure")
	}
	if m.Entries != 1 {
		t.Errorf("entries exported before failure = %d, want 1", m.Entries)
	}
	if _, ok := sink.docs[ManifestName]; ok {
		t.Error("manifest written for an incomplete export")
	}
}

func TestExport_doesNotModifyLedger(t *testing.T) {
	l := sealed(t)
	ctx := context.Background()
	before, _ := l.Root(ctx)

	if _, err := New(&memSink{}, zap.NewNop()).Export(ctx, l); err != nil {
		t.Fatal(err)
	}
	after, _ := l.Root(ctx)
	n, _ := l.Len(ctx)
	if before != after || n != 2 {
		t.Errorf("ledger changed by export: len %d root %s -> %s", n, before, after)
	}
}

func TestDirSink_writesVault(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "vault", "audits")
	sink, err := NewDirSink(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(sink, zap.NewNop()).Export(context.Background(), sealed(t)); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "seq_000000.md"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "# Audit Entry: Sequence 0") {
		t.Errorf("unexpected document:\n%s", data)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 3 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("vault holds %v, want two entries and a manifest", names)
	}
}

func TestS3Sink_put(t *testing.T) {
	putter := &stubPutter{}
	sink := &S3Sink{client: putter, bucket: "audits", prefix: "burn_in_2026/"}

	if err := sink.Put(context.Background(), "seq_000003.md", []byte("doc")); err != nil {
		t.Fatal(err)
	}
	if len(putter.inputs) != 1 {
		t.Fatalf("PutObject called %d times", len(putter.inputs))
	}
	in := putter.inputs[0]
	if aws.ToString(in.Bucket) != "audits" || aws.ToString(in.Key) != "burn_in_2026/seq_000003.md" {
		t.Errorf("put to %s/%s", aws.ToString(in.Bucket), aws.ToString(in.Key))
	}
	if aws.ToString(in.ContentType) != "text/markdown; charset=utf-8" {
		t.Errorf("content type = %s", aws.ToString(in.ContentType))
	}
	if putter.bodies[0] != "doc" {
		t.Errorf("body = %q", putter.bodies[0])
	}
}

func TestNewS3Sink_requiresBucket(t *testing.T) {
	if _, err := NewS3Sink(context.Background(), S3Config{Region: "us-east-1"}); err == nil {
		t.Fatal("expected error without bucket")
	}
}
