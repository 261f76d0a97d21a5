// Package config provides configuration loading for barrel, following the
// JSON-file-with-struct-default pattern used across the retrieval pack.
package config

import (
	"encoding/json"
	"os"
)

// Config holds the engine's on-disk and durability settings, matching the
// external interface spec.md §6 defines.
type Config struct {
	// DBDir is the directory data and hint files live in.
	DBDir string `json:"db_dir"`
	// File is the base filename used for the active and sealed data files.
	File string `json:"file"`
	// FileMaxSize is the byte threshold that triggers rotation of the
	// active file into a sealed file.
	FileMaxSize int64 `json:"file_max_size"`
	// SyncKeys is the number of writes between forced fsyncs of the active
	// file. Zero disables periodic forced syncing.
	SyncKeys int `json:"sync_keys"`
	// MergeFileNum is the number of active-file rotations between automatic
	// compaction signals. The rotation counter starts at zero on every open.
	MergeFileNum int `json:"merge_file_num"`
}

// DefaultConfig returns barrel's default configuration, matching spec.md §6.
func DefaultConfig() *Config {
	return &Config{
		DBDir:        "./dbdata",
		File:         "data",
		FileMaxSize:  102400,
		SyncKeys:     0,
		MergeFileNum: 10,
	}
}

// Load reads configuration from a JSON file at path, falling back to
// DefaultConfig's values for any field the file omits. A missing file is
// not an error: it yields the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes c to path as indented JSON.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
