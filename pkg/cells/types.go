// Package cells defines the worker interfaces (analysis, action,
// chat) and the result types they exchange with the hubs.
package cells

import (
	"time"
)

// Status of an analysis result.
type Status string

// Result statuses.
const (
	StatusDraft      Status = "draft"
	StatusActive     Status = "active"
	StatusDeprecated Status = "deprecated"
	StatusError      Status = "error"
)

// QualityMetrics carries optional quality attributes of a result.
// Pointer fields distinguish "absent" from zero.
type QualityMetrics struct {
	Credibility *float64 `json:"credibility,omitempty"`
	RecencyDays *int     `json:"recency_days,omitempty"`
	Demand      *int     `json:"demand,omitempty"`
}

// ReasoningStep is one entry of a result's reasoning chain.
type ReasoningStep struct {
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content"`
}

// AnalysisResult is the output of an analysis worker.
type AnalysisResult struct {
	ID               string          `json:"id"`
	Output           string          `json:"output"`
	Status           Status          `json:"status"`
	Quality          QualityMetrics  `json:"quality_metrics"`
	ReasoningChain   []ReasoningStep `json:"reasoning_chain"`
	UncertaintyScore *float64        `json:"uncertainty_score,omitempty"`
	Explanation      string          `json:"explanation,omitempty"`
	Links            []string        `json:"links,omitempty"`
	Metadata         ResultMetadata  `json:"metadata"`
}

// ResultMetadata records the result schema version.
type ResultMetadata struct {
	SchemaVersion string `json:"schema"`
}

// CurrentSchemaVersion is stamped on results produced by this build.
const CurrentSchemaVersion = "1.0"

// Normalize enforces the baseline quality invariants:
// credibility = 1 iff the chain is non-empty (when unset), demand is
// at least the chain length, and uncertainty = 1 - credibility.
func (r *AnalysisResult) Normalize() {
	if r.Metadata.SchemaVersion == "" {
		r.Metadata.SchemaVersion = CurrentSchemaVersion
	}
	if r.Quality.Credibility == nil {
		c := 0.0
		if len(r.ReasoningChain) > 0 {
			c = 1.0
		}
		r.Quality.Credibility = &c
	}
	if chainLen := len(r.ReasoningChain); r.Quality.Demand == nil || *r.Quality.Demand < chainLen {
		d := chainLen
		r.Quality.Demand = &d
	}
	u := 1.0 - *r.Quality.Credibility
	r.UncertaintyScore = &u
}

// CredibilityOrZero returns the credibility or 0 when absent.
func (q QualityMetrics) CredibilityOrZero() float64 {
	if q.Credibility == nil {
		return 0
	}
	return *q.Credibility
}
