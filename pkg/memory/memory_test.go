package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neira-project/neira/pkg/cells"
)

func TestUpdateTime_EWMA(t *testing.T) {
	s := NewStore()

	s.UpdateTime("cell", 100*time.Millisecond)
	rec, ok := s.Record("cell")
	require.True(t, ok)
	assert.Equal(t, 100.0, rec.Time.SmoothedMS, "first sample seeds the EWMA")

	s.UpdateTime("cell", 200*time.Millisecond)
	rec, _ = s.Record("cell")
	// 0.3*200 + 0.7*100 = 130
	assert.InDelta(t, 130.0, rec.Time.SmoothedMS, 1e-9)
	assert.Equal(t, 100.0, rec.Time.MinMS)
	assert.Equal(t, 200.0, rec.Time.MaxMS)
	assert.Equal(t, 150.0, rec.Time.MedianMS)
	assert.Equal(t, uint64(2), rec.Time.Count)
}

func TestUpdateTime_RawBufferBounded(t *testing.T) {
	s := NewStore()
	for i := 0; i < rawDurationCap+100; i++ {
		s.UpdateTime("cell", time.Millisecond)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	assert.Len(t, s.records["cell"].Time.raw, rawDurationCap)
}

func TestPushMetrics_Upserts(t *testing.T) {
	s := NewStore()
	c := 0.8
	r := &cells.AnalysisResult{
		ID:             "cell",
		Quality:        cells.QualityMetrics{Credibility: &c},
		ReasoningChain: []cells.ReasoningStep{{Content: "step one"}},
	}
	s.PushMetrics(r)

	rec, ok := s.Record("cell")
	require.True(t, ok)
	assert.Equal(t, 0.8, *rec.Quality.Credibility)
	require.Len(t, rec.ReasoningChain, 1)
}

func TestCheckpoints(t *testing.T) {
	s := NewStore()

	_, ok := s.Checkpoint("a")
	assert.False(t, ok)

	s.SaveCheckpoint("a", &cells.AnalysisResult{ID: "a", Status: cells.StatusDraft})
	cp, ok := s.Checkpoint("a")
	require.True(t, ok)
	assert.Equal(t, cells.StatusDraft, cp.Status)

	// Later checkpoints replace earlier ones.
	s.SaveCheckpoint("a", &cells.AnalysisResult{ID: "a", Status: cells.StatusError})
	cp, _ = s.Checkpoint("a")
	assert.Equal(t, cells.StatusError, cp.Status)
}

func TestPreloadByTrigger(t *testing.T) {
	s := NewStore()
	s.PushMetrics(&cells.AnalysisResult{
		ID:             "diagnose.disk",
		ReasoningChain: []cells.ReasoningStep{{Content: "checked disk"}},
	})
	s.PushMetrics(&cells.AnalysisResult{
		ID:             "chat.greeter",
		ReasoningChain: []cells.ReasoningStep{{Content: "says hello"}},
	})

	ids := s.PreloadByTrigger([]string{"diagnose"})
	assert.Equal(t, []string{"diagnose.disk"}, ids)

	// Matching on reasoning step text.
	ids = s.PreloadByTrigger([]string{"hello"})
	assert.Equal(t, []string{"chat.greeter"}, ids)

	// Cached result under sorted trigger key; usage keeps counting.
	ids = s.PreloadByTrigger([]string{"diagnose"})
	assert.Equal(t, []string{"diagnose.disk"}, ids)
	rec, _ := s.Record("diagnose.disk")
	assert.Equal(t, uint64(2), rec.Usage.Calls)
}

func TestComputePriority(t *testing.T) {
	high := 0.9
	lowCred := 0.1
	recent := 0
	demand := 1000

	tests := []struct {
		name string
		rec  Record
		want Priority
	}{
		{
			name: "high credibility recent and demanded",
			rec: Record{
				Quality: cells.QualityMetrics{Credibility: &high, RecencyDays: &recent, Demand: &demand},
			},
			want: PriorityHigh,
		},
		{
			name: "credibility alone is medium",
			rec:  Record{Quality: cells.QualityMetrics{Credibility: &high}},
			want: PriorityMedium,
		},
		{
			name: "nothing is low",
			rec:  Record{Quality: cells.QualityMetrics{Credibility: &lowCred}},
			want: PriorityLow,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := tt.rec
			assert.Equal(t, tt.want, computePriority(&rec))
		})
	}
}

func TestRecalcPriority(t *testing.T) {
	s := NewStore()
	c := 0.9
	r0 := 0
	d := 1000
	s.PushMetrics(&cells.AnalysisResult{
		ID:      "cell",
		Quality: cells.QualityMetrics{Credibility: &c, RecencyDays: &r0, Demand: &d},
	})

	got := s.RecalcPriority("cell")
	assert.Equal(t, PriorityHigh, got)

	rec, _ := s.Record("cell")
	assert.Equal(t, PriorityHigh, rec.Priority)
}
