package transform

import (
	"sort"
	"sync"
	"time"
)

// Operation names recorded by Client.
const (
	OpTransform = "transform"
	OpTitle     = "title"
)

type sample struct {
	at     time.Time
	op     string
	ms     int64
	failed bool
}

// LatencySnapshot aggregates latency samples for one operation (or all).
type LatencySnapshot struct {
	Count    int     `json:"count"`
	Failures int     `json:"failures"`
	MinMs    int64   `json:"min_ms"`
	MaxMs    int64   `json:"max_ms"`
	AvgMs    float64 `json:"avg_ms"`
	P50Ms    float64 `json:"p50_ms"`
	P95Ms    float64 `json:"p95_ms"`
	P99Ms    float64 `json:"p99_ms"`
}

// StatsSnapshot is a point-in-time view of model call latency.
type StatsSnapshot struct {
	Model       string                     `json:"model,omitempty"`
	WindowSecs  int64                      `json:"window_secs"`
	Overall     LatencySnapshot            `json:"overall"`
	ByOperation map[string]LatencySnapshot `json:"by_operation"`
}

// LLMStats tracks recent model call latencies within a rolling window.
type LLMStats struct {
	mu      sync.Mutex
	samples []sample
	maxAge  time.Duration
}

func NewLLMStats(maxAge time.Duration) *LLMStats {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &LLMStats{
		samples: make([]sample, 0, 256),
		maxAge:  maxAge,
	}
}

// Record stores one call. Negative durations are clamped to zero.
func (s *LLMStats) Record(op string, d time.Duration, failed bool) {
	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)
	s.samples = append(s.samples, sample{at: now, op: op, ms: ms, failed: failed})
}

func (s *LLMStats) Snapshot() StatsSnapshot {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)
	snap := StatsSnapshot{
		WindowSecs:  int64(s.maxAge / time.Second),
		ByOperation: map[string]LatencySnapshot{},
	}
	if len(s.samples) == 0 {
		return snap
	}

	byOp := map[string][]sample{}
	for _, sm := range s.samples {
		byOp[sm.op] = append(byOp[sm.op], sm)
	}
	snap.Overall = aggregate(s.samples)
	for op, samples := range byOp {
		snap.ByOperation[op] = aggregate(samples)
	}
	return snap
}

func aggregate(samples []sample) LatencySnapshot {
	values := make([]int64, 0, len(samples))
	var sum int64
	failures := 0
	for _, sm := range samples {
		values = append(values, sm.ms)
		sum += sm.ms
		if sm.failed {
			failures++
		}
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	return LatencySnapshot{
		Count:    len(values),
		Failures: failures,
		MinMs:    values[0],
		MaxMs:    values[len(values)-1],
		AvgMs:    float64(sum) / float64(len(values)),
		P50Ms:    percentile(values, 50),
		P95Ms:    percentile(values, 95),
		P99Ms:    percentile(values, 99),
	}
}

func (s *LLMStats) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.maxAge)
	kept := s.samples[:0]
	for _, sm := range s.samples {
		if !sm.at.Before(cutoff) {
			kept = append(kept, sm)
		}
	}
	s.samples = kept
}

// percentile interpolates linearly between closest ranks.
func percentile(sorted []int64, pct float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case pct <= 0:
		return float64(sorted[0])
	case pct >= 100:
		return float64(sorted[len(sorted)-1])
	}

	index := float64(len(sorted)-1) * pct / 100.0
	lower := int(index)
	if lower+1 >= len(sorted) {
		return float64(sorted[lower])
	}
	weight := index - float64(lower)
	lo, hi := float64(sorted[lower]), float64(sorted[lower+1])
	return lo + (hi-lo)*weight
}
