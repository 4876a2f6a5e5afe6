package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neira-project/neira/pkg/config"
	"github.com/neira-project/neira/pkg/memory"
)

func TestNext_QueueTrumpsPriority(t *testing.T) {
	s := New(nil)

	s.Enqueue(QueueLong, Task{ID: "long-high", Priority: memory.PriorityHigh})
	s.Enqueue(QueueFast, Task{ID: "fast-medium", Priority: memory.PriorityMedium})
	s.Enqueue(QueueFast, Task{ID: "fast-low", Priority: memory.PriorityLow})

	first, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, "fast-medium", first.ID)

	second, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, "fast-low", second.ID)

	third, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, "long-high", third.ID)

	_, ok = s.Next()
	assert.False(t, ok)
}

func TestNext_PriorityWithinQueue(t *testing.T) {
	s := New(nil)
	s.Enqueue(QueueStandard, Task{ID: "low", Priority: memory.PriorityLow})
	s.Enqueue(QueueStandard, Task{ID: "high", Priority: memory.PriorityHigh})
	s.Enqueue(QueueStandard, Task{ID: "medium", Priority: memory.PriorityMedium})

	var order []string
	for {
		task, ok := s.Next()
		if !ok {
			break
		}
		order = append(order, task.ID)
	}
	assert.Equal(t, []string{"high", "medium", "low"}, order)
}

func TestLengthsAndBackpressure(t *testing.T) {
	s := New(nil)
	s.Enqueue(QueueFast, Task{ID: "a", Priority: memory.PriorityLow})
	s.Enqueue(QueueLong, Task{ID: "b", Priority: memory.PriorityLow})
	s.Enqueue(QueueLong, Task{ID: "c", Priority: memory.PriorityLow})

	f, st, l := s.Lengths()
	assert.Equal(t, 1, f)
	assert.Equal(t, 0, st)
	assert.Equal(t, 2, l)
	assert.Equal(t, 3, s.Backpressure())
}

func TestEnqueue_PublishesFlowEvent(t *testing.T) {
	var events []FlowEvent
	s := New(func(e FlowEvent) { events = append(events, e) })

	s.Enqueue(QueueFast, Task{ID: "a", Priority: memory.PriorityHigh})

	require.Len(t, events, 1)
	assert.Equal(t, QueueFast, events[0].Queue)
	assert.Equal(t, "a", events[0].TaskID)
}

func seededMemory(latencies map[string]float64) *memory.Store {
	mem := memory.NewStore()
	for id, ms := range latencies {
		mem.UpdateTime(id, time.Duration(ms)*time.Millisecond)
	}
	return mem
}

func TestQueueConfig_FallbackThresholds(t *testing.T) {
	qc := NewQueueConfig(memory.NewStore(), config.AnalysisConfig{QueueRecalcMin: 100})

	fast, long := qc.Thresholds()
	assert.Equal(t, float64(fallbackFastMS), fast)
	assert.Equal(t, float64(fallbackLongMS), long)

	assert.Equal(t, QueueFast, qc.Classify(50))
	assert.Equal(t, QueueStandard, qc.Classify(500))
	assert.Equal(t, QueueLong, qc.Classify(5000))
}

func TestQueueConfig_QuantileThresholds(t *testing.T) {
	mem := seededMemory(map[string]float64{
		"a": 10, "b": 50, "c": 200, "d": 800, "e": 3000, "f": 9000,
	})
	qc := NewQueueConfig(mem, config.AnalysisConfig{QueueRecalcMin: 100})

	fast, long := qc.Thresholds()
	// Sorted: 10 50 200 800 3000 9000 → idx 2 and 4.
	assert.Equal(t, 200.0, fast)
	assert.Equal(t, 3000.0, long)
}

func TestQueueConfig_EnvPins(t *testing.T) {
	mem := seededMemory(map[string]float64{"a": 10, "b": 50, "c": 200})
	qc := NewQueueConfig(mem, config.AnalysisConfig{
		QueueRecalcMin: 100,
		QueueFastMS:    42,
		QueueLongMS:    4242,
	})

	fast, long := qc.Thresholds()
	assert.Equal(t, 42.0, fast)
	assert.Equal(t, 4242.0, long)
}

func TestQueueConfig_RecomputesAfterEnoughCalls(t *testing.T) {
	mem := memory.NewStore()
	qc := NewQueueConfig(mem, config.AnalysisConfig{QueueRecalcMin: 3})

	fast, _ := qc.Thresholds()
	require.Equal(t, float64(fallbackFastMS), fast)

	// Three cells gather samples; the call total crosses the recalc
	// threshold, so the next Classify recomputes from quantiles.
	mem.UpdateTime("a", 10*time.Millisecond)
	mem.UpdateTime("b", 100*time.Millisecond)
	mem.UpdateTime("c", 1000*time.Millisecond)
	qc.Classify(0)

	fast, long := qc.Thresholds()
	assert.Equal(t, 100.0, fast)
	assert.Equal(t, 1000.0, long)
}
