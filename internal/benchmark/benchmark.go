// Package benchmark drives a synthetic workload against an open
// internal/engine.Engine and reports throughput and latency, adapted from
// the teacher's multi-engine comparison harness down to a single target.
package benchmark

import (
	"crypto/rand"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/barreldb/barrel/internal/engine"
)

// WorkloadType selects the read/write mix a Benchmark run drives.
type WorkloadType string

const (
	WorkloadWriteHeavy WorkloadType = "write-heavy"
	WorkloadReadHeavy  WorkloadType = "read-heavy"
	WorkloadBalanced   WorkloadType = "balanced"
	WorkloadReadOnly   WorkloadType = "read-only"
	WorkloadWriteOnly  WorkloadType = "write-only"
)

// Config describes one benchmark scenario.
type Config struct {
	Name string

	WorkloadType    WorkloadType
	KeyDistribution KeyDistribution

	NumKeys   int
	KeySize   int
	ValueSize int

	Duration    time.Duration
	Concurrency int

	PreloadKeys int

	Seed int64
}

// Result reports a completed benchmark run's measurements.
type Result struct {
	Config Config

	TotalOps  int64
	WriteOps  int64
	ReadOps   int64
	Duration  time.Duration
	OpsPerSec float64

	WriteLatency LatencyStats
	ReadLatency  LatencyStats

	EngineStats engine.Stats
}

// Benchmark drives Config's workload against a single open engine.
type Benchmark struct {
	engine *engine.Engine
	config Config

	writeLatencies *LatencyHistogram
	readLatencies  *LatencyHistogram

	writeCount atomic.Int64
	readCount  atomic.Int64
	errorCount atomic.Int64

	keyGen *KeyGenerator
}

func New(e *engine.Engine, config Config) *Benchmark {
	return &Benchmark{
		engine:         e,
		config:         config,
		writeLatencies: NewLatencyHistogram(),
		readLatencies:  NewLatencyHistogram(),
		keyGen:         NewKeyGenerator(config.NumKeys, config.KeySize, config.KeyDistribution, config.Seed),
	}
}

// Run executes the configured scenario: an optional preload phase, an
// unmeasured warm-up, then the measured run.
func (b *Benchmark) Run() (*Result, error) {
	if b.config.PreloadKeys > 0 {
		fmt.Printf("preloading %d keys...\n", b.config.PreloadKeys)
		if err := b.preload(); err != nil {
			return nil, err
		}
	}

	b.runWorkload(2 * time.Second)

	b.writeLatencies = NewLatencyHistogram()
	b.readLatencies = NewLatencyHistogram()
	b.writeCount.Store(0)
	b.readCount.Store(0)
	b.errorCount.Store(0)

	startTime := time.Now()
	b.runWorkload(b.config.Duration)
	duration := time.Since(startTime)

	return b.calculateResults(duration), nil
}

func (b *Benchmark) preload() error {
	value := make([]byte, b.config.ValueSize)
	rand.Read(value)

	for i := 0; i < b.config.PreloadKeys; i++ {
		key := b.keyGen.GenerateSequential(i)
		if err := b.engine.Set(key, value, 0); err != nil {
			return err
		}
	}
	return b.engine.Sync()
}

func (b *Benchmark) runWorkload(duration time.Duration) {
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < b.config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.worker(stop)
		}()
	}

	time.Sleep(duration)
	close(stop)
	wg.Wait()
}

func (b *Benchmark) worker(stop <-chan struct{}) {
	value := make([]byte, b.config.ValueSize)
	rand.Read(value)

	rng := uint64(time.Now().UnixNano())
	for {
		select {
		case <-stop:
			return
		default:
		}

		rng = rng*6364136223846793005 + 1442695040888963407
		if b.shouldWrite(rng) {
			b.doWrite(value)
		} else {
			b.doRead()
		}
	}
}

func (b *Benchmark) shouldWrite(rng uint64) bool {
	frac := float64(rng%10000) / 10000.0
	switch b.config.WorkloadType {
	case WorkloadWriteOnly:
		return true
	case WorkloadReadOnly:
		return false
	case WorkloadWriteHeavy:
		return frac < 0.95
	case WorkloadReadHeavy:
		return frac < 0.05
	default:
		return frac < 0.50
	}
}

func (b *Benchmark) doWrite(value []byte) {
	key := b.keyGen.NextKey()

	start := time.Now()
	err := b.engine.Set(key, value, 0)
	latency := time.Since(start)

	if err != nil {
		b.errorCount.Add(1)
		return
	}
	b.writeLatencies.Record(latency)
	b.writeCount.Add(1)
}

func (b *Benchmark) doRead() {
	key := b.keyGen.NextKey()

	start := time.Now()
	_, err := b.engine.Get(key)
	latency := time.Since(start)

	if err != nil && err != engine.ErrKeyNotFound && err != engine.ErrValueInvalid {
		b.errorCount.Add(1)
		return
	}
	b.readLatencies.Record(latency)
	b.readCount.Add(1)
}

func (b *Benchmark) calculateResults(duration time.Duration) *Result {
	writeOps := b.writeCount.Load()
	readOps := b.readCount.Load()
	totalOps := writeOps + readOps

	return &Result{
		Config:       b.config,
		TotalOps:     totalOps,
		WriteOps:     writeOps,
		ReadOps:      readOps,
		Duration:     duration,
		OpsPerSec:    float64(totalOps) / duration.Seconds(),
		WriteLatency: b.writeLatencies.Stats(),
		ReadLatency:  b.readLatencies.Stats(),
		EngineStats:  b.engine.Stats(),
	}
}
