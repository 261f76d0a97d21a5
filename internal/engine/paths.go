package engine

import (
	"fmt"
	"path/filepath"
)

// Fixed names within the data directory, per spec.md §6.
const (
	mergeDirName = ".merge"
	lockName     = "lock"
)

func (e *Engine) activePath() string {
	return filepath.Join(e.cfg.DBDir, e.cfg.File)
}

func (e *Engine) sealedDataPath(id uint16) string {
	return filepath.Join(e.cfg.DBDir, fmt.Sprintf("%s.%d", e.cfg.File, id))
}

func hintPath(dbDir string, id uint16) string {
	return filepath.Join(dbDir, fmt.Sprintf("hint.%d", id))
}

func (e *Engine) hintPath(id uint16) string {
	return hintPath(e.cfg.DBDir, id)
}

func (e *Engine) lockPath() string {
	return filepath.Join(e.cfg.DBDir, lockName)
}

func (e *Engine) mergeDir() string {
	return filepath.Join(e.cfg.DBDir, mergeDirName)
}

func mergeDataPath(dir string, seq uint16) string {
	return filepath.Join(dir, fmt.Sprintf("%d", seq))
}

func mergeHintPath(dir string, seq uint16) string {
	return filepath.Join(dir, fmt.Sprintf("%d.hint", seq))
}
