// Package memory is the thread-safe store of per-cell quality and
// latency records, analysis checkpoints, and the trigger preload
// cache.
package memory

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/neira-project/neira/pkg/cells"
)

// rawDurationCap bounds the per-id raw duration buffer used for the
// median; older samples fall off the front.
const rawDurationCap = 1024

// preloadCacheSize bounds the trigger preload LRU.
const preloadCacheSize = 128

// ewmaAlpha is the smoothing factor for latency.
const ewmaAlpha = 0.3

// Priority buckets for scheduling.
type Priority int

// Priorities, lowest first.
const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
)

// UsageStats tracks how often a record is touched.
type UsageStats struct {
	Calls      uint64    `json:"calls"`
	LastAccess time.Time `json:"last_access"`
}

// TimeMetrics tracks the latency profile of a cell.
type TimeMetrics struct {
	TotalMS    float64   `json:"total_ms"`
	Count      uint64    `json:"count"`
	SmoothedMS float64   `json:"smoothed_ms"`
	MinMS      float64   `json:"min_ms"`
	MaxMS      float64   `json:"max_ms"`
	MedianMS   float64   `json:"median_ms"`
	raw        []float64 // bounded by rawDurationCap
}

// Record is the per-cell memory record.
type Record struct {
	ID             string                `json:"id"`
	Quality        cells.QualityMetrics  `json:"quality_metrics"`
	ReasoningChain []cells.ReasoningStep `json:"reasoning_chain"`
	Usage          UsageStats            `json:"usage"`
	Time           TimeMetrics           `json:"time"`
	Priority       Priority              `json:"priority"`
}

// Store holds records, checkpoints, and the preload cache.
type Store struct {
	mu      sync.RWMutex
	records map[string]*Record

	cpMu        sync.Mutex
	checkpoints map[string]*cells.AnalysisResult

	preload *lru.Cache[string, []string]
	now     func() time.Time
}

// NewStore creates an empty memory store.
func NewStore() *Store {
	cache, _ := lru.New[string, []string](preloadCacheSize)
	return &Store{
		records:     make(map[string]*Record),
		checkpoints: make(map[string]*cells.AnalysisResult),
		preload:     cache,
		now:         time.Now,
	}
}

// PushMetrics upserts the quality metrics and reasoning chain of a
// result into the record for its id.
func (s *Store) PushMetrics(r *cells.AnalysisResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.recordLocked(r.ID)
	rec.Quality = r.Quality
	rec.ReasoningChain = r.ReasoningChain
}

// UpdateTime folds one observed duration into the record's latency
// profile: totals, EWMA, min/max, and the median over the bounded raw
// buffer.
func (s *Store) UpdateTime(id string, d time.Duration) {
	ms := float64(d.Milliseconds())
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.recordLocked(id)
	t := &rec.Time
	t.TotalMS += ms
	t.Count++
	if t.Count == 1 {
		t.SmoothedMS = ms
		t.MinMS = ms
		t.MaxMS = ms
	} else {
		t.SmoothedMS = ewmaAlpha*ms + (1-ewmaAlpha)*t.SmoothedMS
		t.MinMS = math.Min(t.MinMS, ms)
		t.MaxMS = math.Max(t.MaxMS, ms)
	}
	t.raw = append(t.raw, ms)
	if len(t.raw) > rawDurationCap {
		t.raw = t.raw[1:]
	}
	t.MedianMS = median(t.raw)
}

// Touch records a usage hit for the id.
func (s *Store) Touch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.recordLocked(id)
	rec.Usage.Calls++
	rec.Usage.LastAccess = s.now()
}

// Record returns a copy of the record for id.
func (s *Store) Record(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// RecordIDs lists known record ids. Part of cells.MemoryView.
func (s *Store) RecordIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.records))
	for id := range s.records {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SmoothedLatencies returns (smoothed_ms, call count) per id for ids
// with at least one sample. Used by the adaptive queue config.
func (s *Store) SmoothedLatencies() (map[string]float64, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64)
	var total uint64
	for id, rec := range s.records {
		if rec.Time.Count > 0 {
			out[id] = rec.Time.SmoothedMS
			total += rec.Time.Count
		}
	}
	return out, total
}

// recordLocked returns the record for id, creating it if needed.
// Caller holds s.mu.
func (s *Store) recordLocked(id string) *Record {
	rec, ok := s.records[id]
	if !ok {
		rec = &Record{ID: id, Priority: PriorityMedium}
		s.records[id] = rec
	}
	return rec
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// ---- checkpoints ----

// SaveCheckpoint stores the last known result for an analysis id.
// Checkpoints for one id are serialized by the checkpoint lock.
func (s *Store) SaveCheckpoint(id string, r *cells.AnalysisResult) {
	s.cpMu.Lock()
	defer s.cpMu.Unlock()
	s.checkpoints[id] = r
}

// Checkpoint returns the stored checkpoint for id. Part of
// cells.MemoryView.
func (s *Store) Checkpoint(id string) (*cells.AnalysisResult, bool) {
	s.cpMu.Lock()
	defer s.cpMu.Unlock()
	r, ok := s.checkpoints[id]
	return r, ok
}

// ---- preload ----

// PreloadByTrigger returns ids of records related to any trigger (id
// or reasoning step text contains the trigger), bumping their usage.
// Results are cached under the sorted trigger set.
func (s *Store) PreloadByTrigger(triggers []string) []string {
	if len(triggers) == 0 {
		return nil
	}
	key := preloadKey(triggers)
	if ids, ok := s.preload.Get(key); ok {
		s.touchAll(ids)
		return ids
	}

	s.mu.RLock()
	var ids []string
	for id, rec := range s.records {
		if matchesAnyTrigger(id, rec, triggers) {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	s.preload.Add(key, ids)
	s.touchAll(ids)
	return ids
}

func (s *Store) touchAll(ids []string) {
	for _, id := range ids {
		s.Touch(id)
	}
}

func matchesAnyTrigger(id string, rec *Record, triggers []string) bool {
	for _, trig := range triggers {
		if strings.Contains(id, trig) {
			return true
		}
		for _, step := range rec.ReasoningChain {
			if strings.Contains(step.Content, trig) {
				return true
			}
		}
	}
	return false
}

func preloadKey(triggers []string) string {
	sorted := make([]string, len(triggers))
	copy(sorted, triggers)
	sort.Strings(sorted)
	return strings.Join(sorted, "|")
}
