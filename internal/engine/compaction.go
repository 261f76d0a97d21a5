package engine

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/barreldb/barrel/internal/fileio"
	"github.com/barreldb/barrel/internal/hint"
	"github.com/barreldb/barrel/internal/keydir"
	"github.com/barreldb/barrel/internal/lockfile"
)

// compactionWorker is the single background goroutine that drains
// compaction signals and runs doCompact. It exits once compactSig is closed
// and drained, which Close arranges.
func (e *Engine) compactionWorker() {
	defer e.compactWG.Done()
	for range e.compactSig {
		if err := e.doCompact(); err != nil {
			e.log.WithError(err).Warn("barrel: compaction run failed")
		}
	}
}

// Compact triggers a compaction pass immediately instead of waiting for the
// rotation counter to reach merge_file_num. It runs synchronously and
// returns ErrLockFailed if another compaction is already in progress.
func (e *Engine) Compact() error {
	return e.doCompact()
}

type mergeWriter struct {
	seq      uint16
	dataFile *os.File
	hintFile *os.File
	offset   uint64
	size     int64
}

// doCompact rewrites every live sealed record into a fresh sequence of
// merge files and paired hint files, then installs them in place of the old
// sealed files. It never touches the active file.
func (e *Engine) doCompact() error {
	lock := lockfile.New(e.lockPath())
	if err := lock.TryLock(); err != nil {
		return ErrLockFailed
	}
	defer lock.Unlock()
	e.log.Info("barrel: compaction started")

	mergeDir := e.mergeDir()
	if _, err := os.Stat(mergeDir); err == nil {
		return fmt.Errorf("engine: stale merge dir %s already exists", mergeDir)
	}
	if err := os.Mkdir(mergeDir, 0o755); err != nil {
		return fmt.Errorf("engine: create merge dir: %w", err)
	}
	defer os.RemoveAll(mergeDir)

	e.sealedMu.RLock()
	activeFileSeq := e.nextSealedID
	e.sealedMu.RUnlock()

	type liveEntry struct {
		key  string
		meta keydir.Meta
	}
	var live []liveEntry
	e.keydir.Iter(func(key string, m keydir.Meta) {
		if m.FileID > 0 && m.FileID < activeFileSeq {
			live = append(live, liveEntry{key: key, meta: m})
		}
	})

	if len(live) == 0 {
		e.log.Info("barrel: compaction found no live sealed records, nothing to do")
		return nil
	}

	w, err := newMergeWriter(mergeDir, 1)
	if err != nil {
		return err
	}

	staged := make(map[string]keydir.Meta, len(live))
	var mergeSeq uint16 = 1

	for _, le := range live {
		raw, err := e.readAt(le.meta.FileID, int64(le.meta.ValuePos), int64(le.meta.ValueSize))
		if err != nil {
			w.close()
			return fmt.Errorf("engine: read live record for compaction: %w", err)
		}

		if w.size+int64(len(raw)) > e.cfg.FileMaxSize {
			if err := w.flush(); err != nil {
				w.close()
				return err
			}
			mergeSeq++
			w, err = newMergeWriter(mergeDir, mergeSeq)
			if err != nil {
				return err
			}
		}

		if err := w.append(raw); err != nil {
			w.close()
			return fmt.Errorf("engine: write merge record: %w", err)
		}

		h := hint.Hint{
			Timestamp: le.meta.Timestamp,
			KeySize:   uint32(len(le.key)),
			ValueSize: le.meta.ValueSize,
			ValuePos:  w.offset - uint64(len(raw)),
			Key:       []byte(le.key),
		}
		if err := w.appendHint(hint.Encode(h)); err != nil {
			w.close()
			return fmt.Errorf("engine: write merge hint: %w", err)
		}

		staged[le.key] = keydir.Meta{
			FileID:    mergeSeq,
			ValuePos:  w.offset - uint64(len(raw)),
			ValueSize: le.meta.ValueSize,
			Timestamp: le.meta.Timestamp,
		}
	}

	if err := w.flush(); err != nil {
		w.close()
		return err
	}
	w.close()

	if err := e.installCompaction(staged, activeFileSeq, mergeSeq, mergeDir); err != nil {
		return err
	}

	e.compactions.Add(1)
	e.log.WithFields(logrus.Fields{"rewritten_keys": len(staged), "merge_files": mergeSeq}).
		Info("barrel: compaction installed")
	return nil
}

func newMergeWriter(mergeDir string, seq uint16) (*mergeWriter, error) {
	df, err := os.Create(mergeDataPath(mergeDir, seq))
	if err != nil {
		return nil, fmt.Errorf("engine: create merge data file: %w", err)
	}
	hf, err := os.Create(mergeHintPath(mergeDir, seq))
	if err != nil {
		df.Close()
		return nil, fmt.Errorf("engine: create merge hint file: %w", err)
	}
	return &mergeWriter{seq: seq, dataFile: df, hintFile: hf}, nil
}

func (w *mergeWriter) append(raw []byte) error {
	if _, err := w.dataFile.Write(raw); err != nil {
		return err
	}
	w.offset += uint64(len(raw))
	w.size += int64(len(raw))
	return nil
}

func (w *mergeWriter) appendHint(raw []byte) error {
	_, err := w.hintFile.Write(raw)
	return err
}

func (w *mergeWriter) flush() error {
	if err := w.dataFile.Sync(); err != nil {
		return err
	}
	return w.hintFile.Sync()
}

func (w *mergeWriter) close() {
	w.dataFile.Close()
	w.hintFile.Close()
}

// installCompaction atomically swaps the old sealed files for the newly
// written merge files and applies the staged directory updates. The
// activeFileSeq guard in keydir.CompactApply fixes the race flagged in
// spec.md §9: a key rewritten into the active file (or a sealed file
// created after the compaction snapshot) must not be overwritten with a
// stale pointer into the compacted copy.
func (e *Engine) installCompaction(staged map[string]keydir.Meta, activeFileSeq, mergeSeq uint16, mergeDir string) error {
	e.sealedMu.Lock()
	defer e.sealedMu.Unlock()

	for id, sf := range e.sealed {
		if id < activeFileSeq {
			sf.Close()
			_ = os.Remove(e.sealedDataPath(id))
			_ = os.Remove(e.hintPath(id)) // no-op if this id was never hinted
			delete(e.sealed, id)
		}
	}

	for seq := uint16(1); seq <= mergeSeq; seq++ {
		newDataPath := e.sealedDataPath(seq)
		newHintPath := e.hintPath(seq)

		if err := os.Rename(mergeDataPath(mergeDir, seq), newDataPath); err != nil {
			return fmt.Errorf("engine: install merge data file %d: %w", seq, err)
		}
		if err := os.Rename(mergeHintPath(mergeDir, seq), newHintPath); err != nil {
			return fmt.Errorf("engine: install merge hint file %d: %w", seq, err)
		}

		sf, err := fileio.OpenSealed(newDataPath)
		if err != nil {
			return fmt.Errorf("engine: open installed merge file %d: %w", seq, err)
		}
		e.sealed[seq] = sf
	}

	e.keydir.CompactApply(staged, activeFileSeq)
	return nil
}
