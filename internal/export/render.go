package export

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/jmerrifield20/windchill/internal/ledger"
)

// FileName returns the vault file name for sequence id seq.
func FileName(seq uint64) string {
	return fmt.Sprintf("seq_%06d.md", seq)
}

// Status is the human-readable verdict shown for an entry type.
func Status(t ledger.EntryType) string {
	if t == ledger.Refusal {
		return "🚫 Sentinel Veto"
	}
	return "✅ Nominal"
}

// Render produces the vault document for e: a YAML front matter block with
// every entry field, followed by a short markdown body that carries the
// chain root.
func Render(e ledger.Entry) ([]byte, error) {
	front, err := yaml.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("render sequence %d: %w", e.SequenceID, err)
	}

	var b bytes.Buffer
	b.WriteString("---\n")
	b.Write(front)
	b.WriteString("---\n")
	fmt.Fprintf(&b, "# Audit Entry: Sequence %d\n\n", e.SequenceID)
	fmt.Fprintf(&b, "**Status:** %s\n", Status(e.Type))
	fmt.Fprintf(&b, "**Timestamp:** %.4fs\n\n", e.Timestamp)
	b.WriteString("> [!ABSTRACT] Merkle Proof\n")
	fmt.Fprintf(&b, "> Root: `0x%s`\n", e.MerkleRoot.Hex())
	return b.Bytes(), nil
}

// ParseFrontMatter recovers the entry encoded in a rendered document.
func ParseFrontMatter(doc []byte) (ledger.Entry, error) {
	const delim = "---\n"
	if !bytes.HasPrefix(doc, []byte(delim)) {
		return ledger.Entry{}, fmt.Errorf("missing front matter")
	}
	rest := doc[len(delim):]
	end := bytes.Index(rest, []byte(delim))
	if end < 0 {
		return ledger.Entry{}, fmt.Errorf("unterminated front matter")
	}
	var e ledger.Entry
	if err := yaml.Unmarshal(rest[:end], &e); err != nil {
		return ledger.Entry{}, fmt.Errorf("decode front matter: %w", err)
	}
	return e, nil
}
