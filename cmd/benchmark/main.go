// benchmark drives a synthetic read/write workload against a barrel data
// directory and reports throughput and latency, adapted from the teacher's
// multi-engine comparison harness down to this repository's single engine.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/barreldb/barrel/internal/benchmark"
	"github.com/barreldb/barrel/internal/config"
	"github.com/barreldb/barrel/internal/engine"
)

func standardWorkloads() []benchmark.Config {
	return []benchmark.Config{
		{Name: "write-heavy", WorkloadType: benchmark.WorkloadWriteHeavy, KeyDistribution: benchmark.DistZipfian, NumKeys: 100_000, KeySize: 24, ValueSize: 256, Duration: 30 * time.Second, Concurrency: 8, PreloadKeys: 10_000, Seed: 1},
		{Name: "read-heavy", WorkloadType: benchmark.WorkloadReadHeavy, KeyDistribution: benchmark.DistZipfian, NumKeys: 100_000, KeySize: 24, ValueSize: 256, Duration: 30 * time.Second, Concurrency: 8, PreloadKeys: 50_000, Seed: 2},
		{Name: "balanced", WorkloadType: benchmark.WorkloadBalanced, KeyDistribution: benchmark.DistUniform, NumKeys: 100_000, KeySize: 24, ValueSize: 256, Duration: 30 * time.Second, Concurrency: 8, PreloadKeys: 20_000, Seed: 3},
	}
}

func quickWorkloads() []benchmark.Config {
	configs := standardWorkloads()
	for i := range configs {
		configs[i].Duration = 3 * time.Second
		configs[i].NumKeys = 10_000
		configs[i].PreloadKeys = configs[i].PreloadKeys / 10
	}
	return configs
}

func main() {
	quick := flag.Bool("quick", false, "Run quick benchmarks (shorter duration, fewer keys)")
	workload := flag.String("workload", "all", "Workload to run (all, write-heavy, read-heavy, balanced)")
	duration := flag.Duration("duration", 0, "Override duration for every workload")
	concurrency := flag.Int("concurrency", 0, "Override concurrency for every workload")
	dataDir := flag.String("data", "", "Data directory (default: a fresh temp dir per workload)")
	flag.Parse()

	fmt.Println("barrel benchmark")
	fmt.Println("=================")

	var configs []benchmark.Config
	if *quick {
		configs = quickWorkloads()
	} else {
		configs = standardWorkloads()
	}

	if *duration > 0 {
		for i := range configs {
			configs[i].Duration = *duration
		}
	}
	if *concurrency > 0 {
		for i := range configs {
			configs[i].Concurrency = *concurrency
		}
	}

	if *workload != "all" {
		filtered := configs[:0]
		for _, c := range configs {
			if c.Name == *workload {
				filtered = append(filtered, c)
			}
		}
		if len(filtered) == 0 {
			fmt.Printf("unknown workload: %s\n", *workload)
			os.Exit(1)
		}
		configs = filtered
	}

	for _, c := range configs {
		if err := runOne(c, *dataDir); err != nil {
			fmt.Printf("workload %s failed: %v\n", c.Name, err)
			os.Exit(1)
		}
	}
}

func runOne(c benchmark.Config, dataDir string) error {
	dir := dataDir
	if dir == "" {
		d, err := os.MkdirTemp("", "barrel-bench-*")
		if err != nil {
			return err
		}
		defer os.RemoveAll(d)
		dir = d
	}

	cfg := config.DefaultConfig()
	cfg.DBDir = dir

	e, err := engine.Open(cfg, nil)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer e.Close()

	fmt.Printf("\n=== %s ===\n", c.Name)
	result, err := benchmark.New(e, c).Run()
	if err != nil {
		return err
	}

	fmt.Printf("ops/sec:     %.0f\n", result.OpsPerSec)
	fmt.Printf("writes:      %d (p50=%v p99=%v)\n", result.WriteOps, result.WriteLatency.P50, result.WriteLatency.P99)
	fmt.Printf("reads:       %d (p50=%v p99=%v)\n", result.ReadOps, result.ReadLatency.P50, result.ReadLatency.P99)
	fmt.Printf("keys:        %d, sealed files: %d, total bytes: %d\n",
		result.EngineStats.Keys, result.EngineStats.SealedFiles, result.EngineStats.TotalSize)
	return nil
}
