package ledger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// maxLineSize bounds a single persisted entry line.
const maxLineSize = 1 << 20

// Dump writes every entry of l to w, one JSON object per line, in sequence
// order. It returns the number of entries written.
func Dump(ctx context.Context, l Ledger, w io.Writer) (uint64, error) {
	bw := bufio.NewWriter(w)
	var n uint64
	for e, err := range l.Entries(ctx) {
		if err != nil {
			return n, err
		}
		line, err := json.Marshal(e)
		if err != nil {
			return n, storageErr("encode entry", err)
		}
		line = append(line, '\n')
		if _, err := bw.Write(line); err != nil {
			return n, storageErr("write entry", err)
		}
		n++
	}
	if err := bw.Flush(); err != nil {
		return n, storageErr("flush", err)
	}
	return n, nil
}

// Load rebuilds a MemoryLedger from a Dump stream and re-verifies the chain.
// A stream that fails verification is rejected with the *IntegrityError.
func Load(ctx context.Context, r io.Reader, opts ...Option) (*MemoryLedger, error) {
	entries, err := decodeEntries(r)
	if err != nil {
		return nil, err
	}
	l := New(opts...)
	l.load(entries)
	if err := l.VerifyChain(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func decodeEntries(r io.Reader) ([]Entry, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var entries []Entry
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, storageErr(fmt.Sprintf("decode line %d", line), err)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, storageErr("scan", err)
	}
	return entries, nil
}
