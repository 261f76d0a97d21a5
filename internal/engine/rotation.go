package engine

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/barreldb/barrel/internal/fileio"
)

// rotateLocked archives the current active file under a fresh sealed id and
// opens a new empty active file in its place. The caller must already hold
// activeMu; rotateLocked never releases or re-acquires it, so no append can
// race the sequence below.
func (e *Engine) rotateLocked() error {
	if err := e.active.Sync(); err != nil {
		return fmt.Errorf("flush active file: %w", err)
	}

	e.sealedMu.Lock()
	newID := e.nextSealedID
	e.nextSealedID++
	e.sealedMu.Unlock()

	activePath := e.activePath()
	sealedPath := e.sealedDataPath(newID)

	if err := e.active.Close(); err != nil {
		return fmt.Errorf("close active file: %w", err)
	}
	if err := os.Rename(activePath, sealedPath); err != nil {
		return fmt.Errorf("archive active file: %w", err)
	}

	sf, err := fileio.OpenSealed(sealedPath)
	if err != nil {
		return fmt.Errorf("open sealed file %d: %w", newID, err)
	}
	e.sealedMu.Lock()
	e.sealed[newID] = sf
	e.sealedMu.Unlock()

	e.keydir.UpdateKey(newID)

	newActive, err := fileio.OpenActive(activePath)
	if err != nil {
		return fmt.Errorf("open fresh active file: %w", err)
	}
	e.active = newActive

	e.log.WithFields(logrus.Fields{"sealed_id": newID, "path": sealedPath}).Info("barrel: rotated active file")

	e.rotationCount++
	if e.rotationCount >= e.cfg.MergeFileNum {
		e.rotationCount = 0
		e.signalCompaction()
	}

	return nil
}

func (e *Engine) signalCompaction() {
	select {
	case e.compactSig <- struct{}{}:
	default:
		// A signal is already pending; compaction will run soon regardless.
	}
}
