// Package export publishes sealed ledger entries as human-readable audit
// documents.
//
// Each entry becomes one markdown file named seq_NNNNNN.md whose YAML front
// matter holds the full entry. A manifest.yaml written last records the run
// and the chain root it covers. The exporter only reads the ledger: it
// verifies the chain before writing anything and re-checks every link while
// streaming, so a broken ledger is never published as trustworthy.
package export

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/jmerrifield20/windchill/internal/commitment"
	"github.com/jmerrifield20/windchill/internal/ledger"
)

// ManifestName is the name of the per-run manifest document.
const ManifestName = "manifest.yaml"

// Manifest summarises one export run.
type Manifest struct {
	RunID      string            `yaml:"run_id" json:"run_id"`
	ExportedAt time.Time         `yaml:"exported_at" json:"exported_at"`
	Entries    uint64            `yaml:"entries" json:"entries"`
	Root       commitment.Digest `yaml:"root" json:"root"`
	Refusals   uint64            `yaml:"refusals" json:"refusals"`
}

// Exporter writes ledger entries to a Sink.
type Exporter struct {
	sink   Sink
	logger *zap.Logger
	now    func() time.Time
}

// New creates an Exporter.
func New(sink Sink, logger *zap.Logger) *Exporter {
	return &Exporter{sink: sink, logger: logger, now: time.Now}
}

// Export verifies l and writes one document per entry followed by the
// manifest. The ledger is never modified. Entries appended while the export
// runs may or may not be included; the manifest states exactly what was.
func (x *Exporter) Export(ctx context.Context, l ledger.Ledger) (Manifest, error) {
	if err := l.VerifyChain(ctx); err != nil {
		x.logger.Error("export refused: ledger does not verify", zap.Error(err))
		return Manifest{}, fmt.Errorf("export: %w", err)
	}

	m := Manifest{
		RunID:      uuid.NewString(),
		ExportedAt: x.now().UTC(),
		Root:       commitment.GenesisRoot,
	}

	for e, err := range ledger.Verified(ctx, l) {
		if err != nil {
			return m, fmt.Errorf("export: %w", err)
		}
		doc, err := Render(e)
		if err != nil {
			return m, fmt.Errorf("export: %w", err)
		}
		if err := x.sink.Put(ctx, FileName(e.SequenceID), doc); err != nil {
			return m, fmt.Errorf("export sequence %d: %w", e.SequenceID, err)
		}
		m.Entries++
		m.Root = e.MerkleRoot
		if e.Type == ledger.Refusal {
			m.Refusals++
		}
	}

	manifest, err := yaml.Marshal(m)
	if err != nil {
		return m, fmt.Errorf("export manifest: %w", err)
	}
	if err := x.sink.Put(ctx, ManifestName, manifest); err != nil {
		return m, fmt.Errorf("export manifest: %w", err)
	}

	x.logger.Info("ledger exported",
		zap.String("run_id", m.RunID),
		zap.Uint64("entries", m.Entries),
		zap.Uint64("refusals", m.Refusals),
		zap.String("root", m.Root.Hex()),
	)
	return m, nil
}
