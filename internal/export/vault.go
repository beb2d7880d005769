package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"

	"gopkg.in/yaml.v3"

	"github.com/jmerrifield20/windchill/internal/commitment"
	"github.com/jmerrifield20/windchill/internal/ledger"
)

// ErrVaultMismatch is matched by every *VaultMismatch.
var ErrVaultMismatch = errors.New("vault does not match ledger")

// VaultMismatch identifies the first exported document that disagrees with
// the ledger.
type VaultMismatch struct {
	Name       string
	SequenceID uint64
	Reason     string
}

func (e *VaultMismatch) Error() string {
	return fmt.Sprintf("vault %s (sequence %d): %s", e.Name, e.SequenceID, e.Reason)
}

func (e *VaultMismatch) Is(target error) bool { return target == ErrVaultMismatch }

// CheckVault re-reads an exported vault and compares it with l. Every
// document the manifest covers must be present, carry front matter equal
// to the ledger entry, and render byte-for-byte as the exporter would
// render it today. The manifest root must match the root of its last
// entry. The first disagreement is returned as a *VaultMismatch.
func CheckVault(ctx context.Context, vault fs.FS, l ledger.Ledger) (Manifest, error) {
	raw, err := fs.ReadFile(vault, ManifestName)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}

	root := commitment.GenesisRoot
	for seq := ledger.GenesisSequence; seq < m.Entries; seq++ {
		if err := ctx.Err(); err != nil {
			return m, err
		}
		name := FileName(seq)
		mismatch := func(reason string) error {
			return &VaultMismatch{Name: name, SequenceID: seq, Reason: reason}
		}

		doc, err := fs.ReadFile(vault, name)
		if errors.Is(err, fs.ErrNotExist) {
			return m, mismatch("document missing")
		}
		if err != nil {
			return m, fmt.Errorf("read %s: %w", name, err)
		}
		got, err := ParseFrontMatter(doc)
		if err != nil {
			return m, mismatch(err.Error())
		}

		want, err := l.Get(ctx, seq)
		if errors.Is(err, ledger.ErrNotFound) {
			return m, mismatch("entry not in ledger")
		}
		if err != nil {
			return m, err
		}
		if got != want {
			return m, mismatch("front matter differs from ledger entry")
		}
		rendered, err := Render(want)
		if err != nil {
			return m, err
		}
		if !bytes.Equal(doc, rendered) {
			return m, mismatch("document body altered")
		}
		root = want.MerkleRoot
	}

	if root != m.Root {
		return m, &VaultMismatch{Name: ManifestName, SequenceID: m.Entries, Reason: "manifest root differs from ledger"}
	}
	return m, nil
}
