// barrel is a minimal standalone runner for the log-structured storage
// engine in internal/engine. It is not a RESP or RPC server: it opens a
// database directory and exposes get/get_entry/set/delete/keys through a
// line-oriented admin console on stdin, for demonstration and manual
// poking at a data directory.
//
// Usage:
//
//	barrel [flags]
//
// Flags:
//
//	-data string          Data directory (default "./dbdata")
//	-file string          Active file base name (default "data")
//	-file-max-size int    Rotation threshold in bytes (default 102400)
//	-sync-keys int        Writes between forced active-file flushes (default 0)
//	-merge-file-num int   Rotations between compaction signals (default 10)
//	-loglevel string      Log level: debug, info, warn, error (default "info")
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/barreldb/barrel/internal/config"
	"github.com/barreldb/barrel/internal/engine"
)

// envOrDefault returns the environment variable value if set, otherwise the
// fallback.
func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt64OrDefault returns the environment variable as an int64 if set,
// otherwise the fallback.
func envInt64OrDefault(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func main() {
	defaults := config.DefaultConfig()

	// Flags take precedence over environment variables.
	// Env vars: BARREL_DATA, BARREL_FILE, BARREL_FILE_MAX_SIZE,
	//           BARREL_SYNC_KEYS, BARREL_MERGE_FILE_NUM, BARREL_LOG_LEVEL
	dataDir := flag.String("data", envOrDefault("BARREL_DATA", defaults.DBDir), "Data directory")
	fileName := flag.String("file", envOrDefault("BARREL_FILE", defaults.File), "Active file base name")
	fileMaxSize := flag.Int64("file-max-size", envInt64OrDefault("BARREL_FILE_MAX_SIZE", defaults.FileMaxSize), "Rotation threshold in bytes")
	syncKeys := flag.Int("sync-keys", envIntOrDefault("BARREL_SYNC_KEYS", defaults.SyncKeys), "Writes between forced active-file flushes (0 disables)")
	mergeFileNum := flag.Int("merge-file-num", envIntOrDefault("BARREL_MERGE_FILE_NUM", defaults.MergeFileNum), "Rotations between compaction signals")
	logLevel := flag.String("loglevel", envOrDefault("BARREL_LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	flag.Parse()

	log := logrus.New()
	if lvl, err := logrus.ParseLevel(*logLevel); err == nil {
		log.SetLevel(lvl)
	}

	cfg := &config.Config{
		DBDir:        *dataDir,
		File:         *fileName,
		FileMaxSize:  *fileMaxSize,
		SyncKeys:     *syncKeys,
		MergeFileNum: *mergeFileNum,
	}

	e, err := engine.Open(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("barrel: failed to open data directory")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Info("barrel: shutting down")
		if err := e.Close(); err != nil {
			log.WithError(err).Error("barrel: error closing engine")
		}
		os.Exit(0)
	}()

	log.WithField("dir", cfg.DBDir).Info("barrel: opened data directory")
	runConsole(e, log)
}

// runConsole is a minimal line-oriented admin console:
//
//	get <key>
//	entry <key>
//	set <key> <value> [expiry_ms]
//	del <key>
//	keys
//	len
//	stats
//	compact
//	quit
func runConsole(e *engine.Engine, log *logrus.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Fprintln(os.Stdout, "barrel admin console. Commands: get entry set del keys len stats compact quit")
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "get":
			if len(fields) != 2 {
				fmt.Fprintln(os.Stdout, "usage: get <key>")
				continue
			}
			v, err := e.Get([]byte(fields[1]))
			if err != nil {
				fmt.Fprintln(os.Stdout, "error:", err)
				continue
			}
			fmt.Fprintln(os.Stdout, string(v))

		case "entry":
			if len(fields) != 2 {
				fmt.Fprintln(os.Stdout, "usage: entry <key>")
				continue
			}
			rec, err := e.GetEntry([]byte(fields[1]))
			if err != nil {
				fmt.Fprintln(os.Stdout, "error:", err)
				continue
			}
			fmt.Fprintf(os.Stdout, "value=%q timestamp=%d op=%d\n", rec.Value, rec.Timestamp, rec.Op)

		case "set":
			if len(fields) < 3 {
				fmt.Fprintln(os.Stdout, "usage: set <key> <value> [expiry_ms]")
				continue
			}
			var expiry int64
			if len(fields) >= 4 {
				n, err := strconv.ParseInt(fields[3], 10, 64)
				if err != nil {
					fmt.Fprintln(os.Stdout, "invalid expiry_ms:", err)
					continue
				}
				expiry = n
			}
			if err := e.Set([]byte(fields[1]), []byte(fields[2]), expiry); err != nil {
				fmt.Fprintln(os.Stdout, "error:", err)
				continue
			}
			fmt.Fprintln(os.Stdout, "OK")

		case "del":
			if len(fields) != 2 {
				fmt.Fprintln(os.Stdout, "usage: del <key>")
				continue
			}
			if err := e.Delete([]byte(fields[1])); err != nil {
				fmt.Fprintln(os.Stdout, "error:", err)
				continue
			}
			fmt.Fprintln(os.Stdout, "OK")

		case "keys":
			for _, k := range e.Keys() {
				fmt.Fprintln(os.Stdout, string(k))
			}

		case "len":
			fmt.Fprintln(os.Stdout, e.Len())

		case "stats":
			s := e.Stats()
			fmt.Fprintf(os.Stdout, "%+v\n", s)

		case "compact":
			if err := e.Compact(); err != nil {
				fmt.Fprintln(os.Stdout, "error:", err)
				continue
			}
			fmt.Fprintln(os.Stdout, "OK")

		case "quit", "exit":
			if err := e.Close(); err != nil {
				log.WithError(err).Error("barrel: error closing engine")
			}
			return

		default:
			fmt.Fprintln(os.Stdout, "unknown command:", fields[0])
		}
	}
}
