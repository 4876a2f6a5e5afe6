package metrics

import (
	"log/slog"
	"math"
	"sync"
)

// Diagnostics consumes quality records, flags 3-sigma credibility
// anomalies, and escalates after a run of consecutive low-credibility
// samples: the collector is switched to low mode and a developer
// request alert is emitted.
type Diagnostics struct {
	metrics   *Metrics
	collector *Collector

	lowThreshold float64 // credibility below this counts toward escalation
	escalateAt   int     // consecutive low samples before alerting
	sampleCap    int     // sliding sample size for the sigma check

	mu             sync.Mutex
	samples        []float64
	consecutiveLow int
	alerts         []Alert
}

// Alert is a developer request emitted on sustained low credibility.
type Alert struct {
	CellID      string  `json:"cell_id"`
	Credibility float64 `json:"credibility"`
	Consecutive int     `json:"consecutive"`
	TimestampMS int64   `json:"ts_ms"`
}

// NewDiagnostics creates a diagnostics consumer. escalateAt low
// samples in a row trigger the alert; sampleCap bounds the sliding
// window for anomaly detection.
func NewDiagnostics(m *Metrics, collector *Collector, lowThreshold float64, escalateAt, sampleCap int) *Diagnostics {
	if sampleCap <= 0 {
		sampleCap = 64
	}
	if escalateAt <= 0 {
		escalateAt = 5
	}
	return &Diagnostics{
		metrics:      m,
		collector:    collector,
		lowThreshold: lowThreshold,
		escalateAt:   escalateAt,
		sampleCap:    sampleCap,
	}
}

// Consume processes one quality record. Wire this as the collector's
// consumer function.
func (d *Diagnostics) Consume(r QualityRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isAnomaly(r.Credibility) {
		d.metrics.QualityAnomalies.Inc()
		slog.Warn("Credibility anomaly detected",
			"cell_id", r.CellID, "credibility", r.Credibility)
	}

	d.samples = append(d.samples, r.Credibility)
	if len(d.samples) > d.sampleCap {
		d.samples = d.samples[1:]
	}

	if r.Credibility < d.lowThreshold {
		d.consecutiveLow++
		if d.consecutiveLow == d.escalateAt {
			d.escalate(r)
		}
	} else {
		if d.consecutiveLow >= d.escalateAt && d.collector != nil {
			d.collector.SetMode(ModeNormal)
		}
		d.consecutiveLow = 0
	}
}

// isAnomaly reports whether x deviates more than 3 standard deviations
// from the sliding sample mean. Needs a handful of samples before it
// says anything.
func (d *Diagnostics) isAnomaly(x float64) bool {
	n := len(d.samples)
	if n < 8 {
		return false
	}
	var sum, sumSq float64
	for _, v := range d.samples {
		sum += v
		sumSq += v * v
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance <= 0 {
		return false
	}
	return math.Abs(x-mean) > 3*math.Sqrt(variance)
}

// escalate must be called with d.mu held.
func (d *Diagnostics) escalate(r QualityRecord) {
	alert := Alert{
		CellID:      r.CellID,
		Credibility: r.Credibility,
		Consecutive: d.consecutiveLow,
		TimestampMS: r.TimestampMS,
	}
	d.alerts = append(d.alerts, alert)
	d.metrics.DeveloperRequests.Inc()
	if d.collector != nil {
		d.collector.SetMode(ModeLow)
	}
	slog.Error("Sustained low credibility, developer attention requested",
		"cell_id", r.CellID,
		"credibility", r.Credibility,
		"consecutive", d.consecutiveLow)
}

// Alerts returns a copy of emitted alerts, newest last.
func (d *Diagnostics) Alerts() []Alert {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Alert, len(d.alerts))
	copy(out, d.alerts)
	return out
}
