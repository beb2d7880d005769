package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// FileLedger is a MemoryLedger whose entries are persisted to an
// append-only JSONL file. Each append is written and fsynced before the
// entry becomes visible, so a failed write never leaves a ghost entry.
//
// The file is locked with an advisory lock for as long as the ledger is
// open; a second process opening the same path fails instead of forking
// the chain.
type FileLedger struct {
	*MemoryLedger

	path   string
	file   *os.File
	out    syncWriter
	size   int64
	logger *zap.Logger
}

// syncWriter is the part of *os.File the append path writes through.
type syncWriter interface {
	io.Writer
	Sync() error
	Truncate(size int64) error
}

// OpenFileLedger opens (or creates) the ledger file at path, replays it and
// runs VerifyChain. A file that fails verification is not opened.
func OpenFileLedger(ctx context.Context, path string, logger *zap.Logger, opts ...Option) (*FileLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, storageErr("create ledger dir", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, storageErr("open ledger file", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, storageErr("lock ledger file", fmt.Errorf("%s: %w", path, err))
	}

	fl := &FileLedger{
		MemoryLedger: New(opts...),
		path:         path,
		file:         f,
		out:          f,
		logger:       logger,
	}
	if err := fl.replay(ctx); err != nil {
		fl.Close()
		return nil, err
	}
	fl.MemoryLedger.persist = fl.writeEntry

	n, _ := fl.Len(ctx)
	logger.Debug("file ledger opened", zap.String("path", path), zap.Uint64("entries", n))
	return fl, nil
}

func (fl *FileLedger) replay(ctx context.Context) error {
	if _, err := fl.file.Seek(0, io.SeekStart); err != nil {
		return storageErr("seek ledger file", err)
	}
	entries, err := decodeEntries(fl.file)
	if err != nil {
		return err
	}
	info, err := fl.file.Stat()
	if err != nil {
		return storageErr("stat ledger file", err)
	}
	fl.size = info.Size()

	fl.MemoryLedger.load(entries)
	return fl.MemoryLedger.VerifyChain(ctx)
}

// writeEntry runs under the MemoryLedger write lock.
func (fl *FileLedger) writeEntry(e Entry) error {
	if fl.file == nil {
		return storageErr("write entry", os.ErrClosed)
	}
	line, err := json.Marshal(e)
	if err != nil {
		return storageErr("encode entry", err)
	}
	line = append(line, '\n')

	if _, err := fl.out.Write(line); err != nil {
		fl.rollback()
		return storageErr("write entry", err)
	}
	if err := fl.out.Sync(); err != nil {
		fl.rollback()
		return storageErr("sync ledger file", err)
	}
	fl.size += int64(len(line))
	return nil
}

// rollback drops a partially written line so the file still replays.
func (fl *FileLedger) rollback() {
	if err := fl.out.Truncate(fl.size); err != nil {
		fl.logger.Error("ledger file rollback failed",
			zap.String("path", fl.path),
			zap.Int64("size", fl.size),
			zap.Error(err),
		)
	}
}

// Path returns the location of the ledger file.
func (fl *FileLedger) Path() string { return fl.path }

// Close releases the file lock and closes the file.
func (fl *FileLedger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.file == nil {
		return nil
	}
	_ = unlockFile(fl.file)
	err := fl.file.Close()
	fl.file = nil
	fl.out = nil
	if err != nil {
		return storageErr("close ledger file", err)
	}
	return nil
}
