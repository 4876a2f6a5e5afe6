package scheduler

import (
	"sort"
	"sync"

	"github.com/neira-project/neira/pkg/config"
	"github.com/neira-project/neira/pkg/memory"
)

// Fallback thresholds used until at least three cells have samples.
const (
	fallbackFastMS = 100
	fallbackLongMS = 1000
)

// QueueConfig classifies tasks into queues from per-cell smoothed
// latency. Thresholds come from the 1/3 and 2/3 quantiles of observed
// latencies and are recomputed once enough new calls accumulate.
// ANALYSIS_QUEUE_FAST_MS / LONG_MS pin them.
type QueueConfig struct {
	mem *memory.Store

	mu           sync.Mutex
	fastMS       float64
	longMS       float64
	minSamples   uint64
	lastTotal    uint64
	fastOverride int64
	longOverride int64
}

// NewQueueConfig builds the config using historical metrics from mem.
func NewQueueConfig(mem *memory.Store, cfg config.AnalysisConfig) *QueueConfig {
	qc := &QueueConfig{
		mem:          mem,
		minSamples:   cfg.QueueRecalcMin,
		fastOverride: cfg.QueueFastMS,
		longOverride: cfg.QueueLongMS,
	}
	qc.recompute()
	return qc
}

// Thresholds returns the current (fast_ms, long_ms).
func (qc *QueueConfig) Thresholds() (float64, float64) {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	return qc.fastMS, qc.longMS
}

// Classify maps an average latency to a queue, recomputing thresholds
// first when enough new calls have accumulated.
func (qc *QueueConfig) Classify(avgMS float64) Queue {
	qc.maybeRecompute()
	qc.mu.Lock()
	defer qc.mu.Unlock()
	switch {
	case avgMS < qc.fastMS:
		return QueueFast
	case avgMS < qc.longMS:
		return QueueStandard
	default:
		return QueueLong
	}
}

func (qc *QueueConfig) maybeRecompute() {
	_, total := qc.mem.SmoothedLatencies()
	qc.mu.Lock()
	due := total >= qc.lastTotal+qc.minSamples
	qc.mu.Unlock()
	if due {
		qc.recompute()
	}
}

func (qc *QueueConfig) recompute() {
	latencies, total := qc.mem.SmoothedLatencies()

	fast, long := float64(fallbackFastMS), float64(fallbackLongMS)
	if len(latencies) >= 3 {
		avgs := make([]float64, 0, len(latencies))
		for _, v := range latencies {
			avgs = append(avgs, v)
		}
		sort.Float64s(avgs)
		fast = avgs[len(avgs)/3]
		long = avgs[len(avgs)*2/3]
	}

	qc.mu.Lock()
	defer qc.mu.Unlock()
	qc.fastMS = fast
	if qc.fastOverride > 0 {
		qc.fastMS = float64(qc.fastOverride)
	}
	qc.longMS = long
	if qc.longOverride > 0 {
		qc.longMS = float64(qc.longOverride)
	}
	qc.lastTotal = total
}
