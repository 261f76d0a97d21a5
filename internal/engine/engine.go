// Package engine implements the log-structured storage engine: the public
// get/get_entry/set/delete/len/keys contract, active-file rotation,
// crash recovery, and background compaction, all built on the record,
// hint, fileio, keydir, and lockfile packages.
package engine

import (
	"bytes"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/barreldb/barrel/internal/config"
	"github.com/barreldb/barrel/internal/fileio"
	"github.com/barreldb/barrel/internal/keydir"
	"github.com/barreldb/barrel/internal/record"
)

// Stats reports observability counters for an open engine, grounded on the
// teacher's HashIndex.Stats.
type Stats struct {
	Keys          int
	SealedFiles   int
	ActiveSize    int64
	TotalSize     int64
	Writes        uint64
	Reads         uint64
	Compactions   uint64
	RecoveredKeys int
}

// Engine is one open database directory.
type Engine struct {
	cfg *config.Config
	log *logrus.Logger

	keydir *keydir.Keydir

	// activeMu serializes every operation that touches the active file:
	// appends, positional reads of the active file, and the entire
	// rotation sequence. Per spec.md §5 the active file's reads and
	// writes share one write lock, so there is no separate read path.
	activeMu sync.Mutex
	active   *fileio.ActiveFile

	sealedMu     sync.RWMutex
	sealed       map[uint16]*fileio.SealedFile
	nextSealedID uint16

	rotationCount int

	compactSig chan struct{}
	compactWG  sync.WaitGroup
	closeOnce  sync.Once
	closed     atomic.Bool

	writeCount   uint64
	reads        atomic.Uint64
	writes       atomic.Uint64
	compactions  atomic.Uint64
	recoveredLen int
}

// Open opens (and if necessary initializes) the database directory named by
// cfg.DBDir, recovering the key directory from hint and data files before
// returning. logger may be nil, in which case the standard logrus logger is
// used.
func Open(cfg *config.Config, logger *logrus.Logger) (*Engine, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	if err := os.MkdirAll(cfg.DBDir, 0o755); err != nil {
		return nil, fmt.Errorf("engine: create data dir: %w", err)
	}

	e := &Engine{
		cfg:        cfg,
		log:        logger,
		keydir:     keydir.New(),
		sealed:     make(map[uint16]*fileio.SealedFile),
		compactSig: make(chan struct{}, 1),
	}

	// A compaction that crashed mid-run leaves a partial .merge directory
	// behind; it was never installed, so it is always safe to discard.
	if err := os.RemoveAll(e.mergeDir()); err != nil {
		return nil, fmt.Errorf("engine: clean up stale merge dir: %w", err)
	}

	if err := e.recover(); err != nil {
		return nil, err
	}

	active, err := fileio.OpenActive(e.activePath())
	if err != nil {
		return nil, fmt.Errorf("engine: open active file: %w", err)
	}
	e.active = active

	if err := e.scanActiveFile(); err != nil {
		e.active.Close()
		return nil, err
	}

	e.compactWG.Add(1)
	go e.compactionWorker()

	return e, nil
}

// Close signals the compaction worker to exit, waits for it to finish any
// in-progress run, then closes every open file handle.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.compactSig)
		e.compactWG.Wait()

		e.activeMu.Lock()
		if cerr := e.active.Close(); cerr != nil {
			err = cerr
		}
		e.activeMu.Unlock()

		e.sealedMu.Lock()
		for _, sf := range e.sealed {
			if cerr := sf.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		e.sealedMu.Unlock()
	})
	return err
}

// Get returns the current value for key.
func (e *Engine) Get(key []byte) ([]byte, error) {
	rec, err := e.getRecord(key)
	if err != nil {
		return nil, err
	}
	if record.IsTombstone(rec) || record.IsExpired(rec, nowMs()) {
		return nil, ErrValueInvalid
	}
	return rec.Value, nil
}

// GetEntry returns the full record for key, including expired records, so
// callers can inspect the stored timestamp.
func (e *Engine) GetEntry(key []byte) (record.Record, error) {
	return e.getRecord(key)
}

// Has reports whether key currently has a live directory entry, without
// reading its value.
func (e *Engine) Has(key []byte) bool {
	_, ok := e.keydir.Get(string(key))
	return ok
}

func (e *Engine) getRecord(key []byte) (record.Record, error) {
	if e.closed.Load() {
		return record.Record{}, ErrClosed
	}

	meta, ok := e.keydir.Get(string(key))
	if !ok {
		return record.Record{}, ErrKeyNotFound
	}

	raw, err := e.readAt(meta.FileID, int64(meta.ValuePos), int64(meta.ValueSize))
	if err != nil {
		return record.Record{}, err
	}
	e.reads.Add(1)

	rec, _, err := record.Decode(bytes.NewReader(raw))
	if err != nil {
		return record.Record{}, ErrValueInvalid
	}
	if !record.Verify(rec) {
		return record.Record{}, ErrValueInvalid
	}
	return rec, nil
}

func (e *Engine) readAt(fileID uint16, offset, size int64) ([]byte, error) {
	if fileID == 0 {
		e.activeMu.Lock()
		defer e.activeMu.Unlock()
		raw, err := e.active.ReadAt(offset, size)
		if err != nil {
			return nil, ErrReadSizeMismatch
		}
		return raw, nil
	}

	e.sealedMu.RLock()
	sf := e.sealed[fileID]
	e.sealedMu.RUnlock()
	if sf == nil {
		return nil, fmt.Errorf("engine: no sealed file for id %d: %w", fileID, ErrReadSizeMismatch)
	}
	raw, err := sf.ReadAt(offset, size)
	if err != nil {
		return nil, ErrReadSizeMismatch
	}
	return raw, nil
}

// Set writes key/value as an Add record with the given absolute expiry in
// milliseconds since the Unix epoch (0 means no expiry).
func (e *Engine) Set(key, value []byte, expiryMs int64) error {
	if e.closed.Load() {
		return ErrClosed
	}

	rec := record.Record{Timestamp: expiryMs, Op: record.OpAdd, Key: key, Value: value}
	encoded := record.Encode(rec)

	e.activeMu.Lock()
	defer e.activeMu.Unlock()

	if e.active.Size()+int64(len(encoded)) > e.cfg.FileMaxSize {
		if err := e.rotateLocked(); err != nil {
			return fmt.Errorf("engine: rotate: %w", err)
		}
	}

	offset, err := e.active.Append(encoded)
	if err != nil {
		return err
	}

	e.keydir.Set(string(key), keydir.Meta{
		FileID:    0,
		ValuePos:  uint64(offset),
		ValueSize: uint64(len(encoded)),
		Timestamp: expiryMs,
	})

	e.writes.Add(1)
	return e.afterWriteLocked()
}

// Delete appends a tombstone for key and removes its directory entry, if
// any. A tombstone is appended even for a key with no current entry; the
// stale record is reclaimed by a later compaction.
func (e *Engine) Delete(key []byte) error {
	if e.closed.Load() {
		return ErrClosed
	}

	rec := record.Record{Op: record.OpDel, Key: key}
	encoded := record.Encode(rec)

	e.activeMu.Lock()
	defer e.activeMu.Unlock()

	if e.active.Size()+int64(len(encoded)) > e.cfg.FileMaxSize {
		if err := e.rotateLocked(); err != nil {
			return fmt.Errorf("engine: rotate: %w", err)
		}
	}

	if _, err := e.active.Append(encoded); err != nil {
		return err
	}

	e.keydir.Remove(string(key))
	e.writes.Add(1)
	return e.afterWriteLocked()
}

// afterWriteLocked applies the sync_keys periodic-flush policy. The caller
// must already hold activeMu.
func (e *Engine) afterWriteLocked() error {
	if e.cfg.SyncKeys <= 0 {
		return nil
	}
	e.writeCount++
	if e.writeCount%uint64(e.cfg.SyncKeys) == 0 {
		return e.active.Sync()
	}
	return nil
}

// Len returns the number of live keys.
func (e *Engine) Len() int {
	return e.keydir.Len()
}

// Keys returns a point-in-time snapshot of every live key.
func (e *Engine) Keys() [][]byte {
	strs := e.keydir.Keys()
	out := make([][]byte, len(strs))
	for i, s := range strs {
		out[i] = []byte(s)
	}
	return out
}

// Sync flushes the active file's buffered bytes to stable storage,
// independent of the sync_keys threshold.
func (e *Engine) Sync() error {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	return e.active.Sync()
}

// Stats reports point-in-time counters about the open engine.
func (e *Engine) Stats() Stats {
	e.activeMu.Lock()
	activeSize := e.active.Size()
	e.activeMu.Unlock()

	e.sealedMu.RLock()
	sealedCount := len(e.sealed)
	e.sealedMu.RUnlock()

	total := activeSize
	e.keydir.Iter(func(_ string, m keydir.Meta) {
		if m.FileID != 0 {
			total += int64(m.ValueSize)
		}
	})

	return Stats{
		Keys:          e.keydir.Len(),
		SealedFiles:   sealedCount,
		ActiveSize:    activeSize,
		TotalSize:     total,
		Writes:        e.writes.Load(),
		Reads:         e.reads.Load(),
		Compactions:   e.compactions.Load(),
		RecoveredKeys: e.recoveredLen,
	}
}
