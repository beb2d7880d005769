// Package commitment computes the cryptographic digests that bind capture
// frames into the ledger.
//
// Every digest is SHA-256. A frame's commitment is the digest of its
// canonical payload bytes; an entry's Merkle root is the digest of the frame
// commitment followed by the previous entry's root (see Combine).
package commitment

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Size is the length of a Digest in bytes.
const Size = sha256.Size

// Digest is a fixed-size SHA-256 output.
type Digest [Size]byte

// GenesisRoot is the previous root used when sealing the first entry.
// It is 32 zero bytes and never changes.
var GenesisRoot Digest

// Commit returns the digest of a frame's canonical byte representation.
// Callers holding structured content must pass it through Canonicalize first;
// two encodings of the same logical content produce different commitments.
func Commit(payload []byte) Digest {
	return sha256.Sum256(payload)
}

// Combine chains a frame commitment onto the previous root:
//
//	root = SHA-256(frame || prev)
//
// The operand order is part of the ledger format. Swapping it changes every
// root in the chain and breaks verification of existing ledgers.
func Combine(frame, prev Digest) Digest {
	var buf [2 * Size]byte
	copy(buf[:Size], frame[:])
	copy(buf[Size:], prev[:])
	return sha256.Sum256(buf[:])
}

// Canonicalize encodes v as JSON and rewrites it in RFC 8785 canonical form,
// so that equal content always yields identical bytes.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal content: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize content: %w", err)
	}
	return out, nil
}

// ParseDigest decodes a 64-character hex string. An optional "0x" prefix is
// accepted.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	if len(s) != 2*Size {
		return d, fmt.Errorf("digest must be %d hex characters, got %d", 2*Size, len(s))
	}
	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		return d, fmt.Errorf("decode digest: %w", err)
	}
	return d, nil
}

// Hex returns the lowercase hexadecimal form of d.
func (d Digest) Hex() string { return hex.EncodeToString(d[:]) }

// String implements fmt.Stringer.
func (d Digest) String() string { return d.Hex() }

// IsZero reports whether d is all zero bytes.
func (d Digest) IsZero() bool { return d == Digest{} }

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
