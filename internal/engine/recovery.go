package engine

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/barreldb/barrel/internal/fileio"
	"github.com/barreldb/barrel/internal/hint"
	"github.com/barreldb/barrel/internal/keydir"
	"github.com/barreldb/barrel/internal/record"
)

var sealedDataRe = regexp.MustCompile(`\.([0-9]+)$`)

// recover rebuilds the key directory from whatever hint and data files
// already exist in the data directory. The active file itself is scanned
// separately by scanActiveFile, once Open has opened it for writing.
func (e *Engine) recover() error {
	entries, err := os.ReadDir(e.cfg.DBDir)
	if err != nil {
		return fmt.Errorf("engine: list data dir: %w", err)
	}

	sealedIDs := map[uint16]bool{}
	prefix := e.cfg.File + "."
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		name := ent.Name()
		if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
			continue
		}
		m := sealedDataRe.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		id, err := strconv.ParseUint(m[1], 10, 16)
		if err != nil {
			continue
		}
		sealedIDs[uint16(id)] = true
	}

	// Replay in ascending id order so that, for a key present in several
	// files, the record in the newest file wins.
	ids := make([]uint16, 0, len(sealedIDs))
	for id := range sealedIDs {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var maxID uint16
	for _, id := range ids {
		dataPath := e.sealedDataPath(id)
		hintFile := e.hintPath(id)

		if _, err := os.Stat(hintFile); err == nil {
			if _, err := os.Stat(dataPath); err == nil {
				if err := e.recoverFromHint(id, hintFile, dataPath); err != nil {
					return err
				}
				if id > maxID {
					maxID = id
				}
				continue
			}
		}

		if _, err := os.Stat(dataPath); err == nil {
			if err := e.recoverFromData(id, dataPath); err != nil {
				return err
			}
			if id > maxID {
				maxID = id
			}
			continue
		}
		// Hint without a paired data file, or neither: nothing to recover.
	}

	e.nextSealedID = maxID + 1
	e.recoveredLen = e.keydir.Len()
	return nil
}

func (e *Engine) recoverFromHint(id uint16, hintFile, dataPath string) error {
	f, err := os.Open(hintFile)
	if err != nil {
		return fmt.Errorf("engine: open hint file %d: %w", id, err)
	}
	defer f.Close()

	r := hint.NewReader(f)
	for {
		h, _, err := hint.Decode(r)
		if errors.Is(err, hint.ErrTruncated) {
			e.log.WithFields(logrus.Fields{"hint_id": id}).Warn("barrel: truncated hint entry, stopping scan")
			break
		}
		if err != nil {
			break // io.EOF: clean end of file
		}
		e.keydir.Set(string(h.Key), keydir.Meta{
			FileID:    id,
			ValuePos:  h.ValuePos,
			ValueSize: h.ValueSize,
			Timestamp: h.Timestamp,
		})
	}

	sf, err := fileio.OpenSealed(dataPath)
	if err != nil {
		return fmt.Errorf("engine: open sealed data file %d: %w", id, err)
	}
	e.sealed[id] = sf
	return nil
}

func (e *Engine) recoverFromData(id uint16, dataPath string) error {
	f, err := os.Open(dataPath)
	if err != nil {
		return fmt.Errorf("engine: open sealed data file %d: %w", id, err)
	}

	if err := scanRecords(f, func(rec record.Record, offset, size int64) {
		applyRecoveredRecord(e.keydir, id, rec, offset, size)
	}, e.log, id); err != nil {
		f.Close()
		return err
	}
	f.Close()

	sf, err := fileio.OpenSealed(dataPath)
	if err != nil {
		return fmt.Errorf("engine: reopen sealed data file %d: %w", id, err)
	}
	e.sealed[id] = sf
	return nil
}

// scanActiveFile replays the active file's own records into the directory
// under file id 0, tolerating a truncated trailing record left by a crash.
func (e *Engine) scanActiveFile() error {
	f, err := os.Open(e.activePath())
	if err != nil {
		return fmt.Errorf("engine: open active file for scan: %w", err)
	}
	defer f.Close()

	return scanRecords(f, func(rec record.Record, offset, size int64) {
		applyRecoveredRecord(e.keydir, 0, rec, offset, size)
	}, e.log, 0)
}

// scanRecords streams records from r in file-offset order, invoking fn for
// each one successfully decoded and verified. A truncated header or body at
// end-of-file stops the scan without error: that is how crash recovery
// tolerates a partial trailing write. A bad CRC is treated the same way,
// since it most likely indicates a torn write at the same boundary.
func scanRecords(f *os.File, fn func(rec record.Record, offset, size int64), log *logrus.Logger, fileID uint16) error {
	r := record.NewReader(f)
	var offset int64
	for {
		rec, size, err := record.Decode(r)
		if errors.Is(err, record.ErrTruncated) {
			log.WithFields(logrus.Fields{"file_id": fileID, "offset": offset}).
				Warn("barrel: truncated trailing record, stopping recovery scan")
			break
		}
		if err != nil {
			break // io.EOF: clean end of file
		}
		if !record.Verify(rec) {
			log.WithFields(logrus.Fields{"file_id": fileID, "offset": offset}).
				Warn("barrel: bad checksum, stopping recovery scan")
			break
		}
		fn(rec, offset, size)
		offset += size
	}
	return nil
}

func applyRecoveredRecord(kd *keydir.Keydir, fileID uint16, rec record.Record, offset, size int64) {
	key := string(rec.Key)
	if record.IsTombstone(rec) || record.IsExpired(rec, nowMs()) {
		kd.Remove(key)
		return
	}
	kd.Set(key, keydir.Meta{
		FileID:    fileID,
		ValuePos:  uint64(offset),
		ValueSize: uint64(size),
		Timestamp: rec.Timestamp,
	})
}
