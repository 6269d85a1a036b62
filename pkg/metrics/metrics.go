// Package metrics defines the fire-and-forget metrics collector consumed by
// the pipeline components. Collectors are injected explicitly into each
// component's constructor; no return value from a Record method influences
// core logic.
package metrics

import (
	"sync"
	"time"
)

// Collector receives pipeline measurements. Implementations must be safe for
// concurrent use and must never block the caller for long.
type Collector interface {
	// RecordFetch records one completed fetch attempt.
	RecordFetch(method string, fromCache bool, duration time.Duration, err error)

	// RecordPoolAcquire records one browser pool acquisition.
	RecordPoolAcquire(waited time.Duration, exhausted bool)

	// RecordPoolReplacement records the replacement of a pooled instance.
	RecordPoolReplacement(reason string)

	// RecordChunking records one chunking pass.
	RecordChunking(strategy string, chunks int, totalTokens int)

	// RecordSummarization records one summarization run.
	RecordSummarization(strategy string, modelCalls int, fromCache bool, duration time.Duration)
}

// Noop is a Collector that discards all measurements.
type Noop struct{}

func (Noop) RecordFetch(string, bool, time.Duration, error)       {}
func (Noop) RecordPoolAcquire(time.Duration, bool)                {}
func (Noop) RecordPoolReplacement(string)                         {}
func (Noop) RecordChunking(string, int, int)                      {}
func (Noop) RecordSummarization(string, int, bool, time.Duration) {}

// Memory is an in-process Collector that accumulates counters. It is used by
// the wiring example for end-of-run reporting and by tests as a spy.
type Memory struct {
	mu sync.Mutex

	Fetches          int
	FetchesFromCache int
	FetchErrors      int
	FetchByMethod    map[string]int

	PoolAcquires    int
	PoolExhaustions int
	Replacements    map[string]int

	ChunkingRuns int
	TotalChunks  int

	Summarizations   int
	SummaryCacheHits int
	TotalModelCalls  int
}

// NewMemory creates an empty in-memory collector.
func NewMemory() *Memory {
	return &Memory{
		FetchByMethod: make(map[string]int),
		Replacements:  make(map[string]int),
	}
}

func (m *Memory) RecordFetch(method string, fromCache bool, _ time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Fetches++
	m.FetchByMethod[method]++
	if fromCache {
		m.FetchesFromCache++
	}
	if err != nil {
		m.FetchErrors++
	}
}

func (m *Memory) RecordPoolAcquire(_ time.Duration, exhausted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PoolAcquires++
	if exhausted {
		m.PoolExhaustions++
	}
}

func (m *Memory) RecordPoolReplacement(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Replacements[reason]++
}

func (m *Memory) RecordChunking(_ string, chunks, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ChunkingRuns++
	m.TotalChunks += chunks
}

func (m *Memory) RecordSummarization(_ string, modelCalls int, fromCache bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Summarizations++
	m.TotalModelCalls += modelCalls
	if fromCache {
		m.SummaryCacheHits++
	}
}
