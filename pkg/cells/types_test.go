package cells

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_CredibilityFromChain(t *testing.T) {
	withChain := &AnalysisResult{
		ReasoningChain: []ReasoningStep{{Content: "step"}},
	}
	withChain.Normalize()
	assert.Equal(t, 1.0, *withChain.Quality.Credibility)
	assert.Equal(t, 0.0, *withChain.UncertaintyScore)

	empty := &AnalysisResult{}
	empty.Normalize()
	assert.Equal(t, 0.0, *empty.Quality.Credibility)
	assert.Equal(t, 1.0, *empty.UncertaintyScore)
}

func TestNormalize_DemandAtLeastChainLength(t *testing.T) {
	low := 1
	r := &AnalysisResult{
		Quality:        QualityMetrics{Demand: &low},
		ReasoningChain: []ReasoningStep{{}, {}, {}},
	}
	r.Normalize()
	assert.Equal(t, 3, *r.Quality.Demand)

	high := 10
	r2 := &AnalysisResult{
		Quality:        QualityMetrics{Demand: &high},
		ReasoningChain: []ReasoningStep{{}},
	}
	r2.Normalize()
	assert.Equal(t, 10, *r2.Quality.Demand)
}

func TestNormalize_PreservesExplicitCredibility(t *testing.T) {
	c := 0.4
	r := &AnalysisResult{Quality: QualityMetrics{Credibility: &c}}
	r.Normalize()
	assert.Equal(t, 0.4, *r.Quality.Credibility)
	assert.InDelta(t, 0.6, *r.UncertaintyScore, 1e-9)
}

func TestEchoAnalysis(t *testing.T) {
	r, err := EchoAnalysis{}.Analyze(context.Background(), "ping")
	require.NoError(t, err)
	assert.Equal(t, "ping", r.Output)
	assert.Equal(t, StatusActive, r.Status)
	assert.Equal(t, 1.0, *r.Quality.Credibility)
}

func TestDelayAnalysis_RespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := DelayAnalysis{CellID: "slow", Delay: time.Minute}.Analyze(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}
