// Package metrics holds the Prometheus instruments for the core
// runtime plus the quality-record collector and diagnostics that
// watch analysis credibility.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus instruments. Created once at startup
// and shared by reference.
type Metrics struct {
	Registry *prometheus.Registry

	// Chat hub
	ChatErrors          prometheus.Counter
	ChatResponseSeconds prometheus.Histogram
	IdempotentHits      prometheus.Counter
	SessionsAutocreated prometheus.Counter
	RateLimited         prometheus.Counter

	// Analysis hub
	AnalysisDuration prometheus.Histogram
	AnalysisErrors   prometheus.Counter
	WatchdogTimeouts *prometheus.CounterVec // kind: soft | hard
	StepsBudgetHits  prometheus.Counter
	ThrottleEvents   prometheus.Counter
	CheckpointsSaved prometheus.Counter
	AnalysisRequeued prometheus.Counter

	// Scheduler
	QueueLength  *prometheus.GaugeVec // queue: fast | standard | long
	Backpressure prometheus.Gauge

	// Streaming
	ActiveSSE        prometheus.Gauge
	LoopDetected     prometheus.Counter
	TokenBudgetHits  prometheus.Counter
	StreamsCancelled prometheus.Counter

	// Registry
	TemplateReloads     prometheus.Counter
	TemplateLoadErrors  prometheus.Counter
	TemplateValidations prometheus.Counter

	// Control plane
	PauseTotal  prometheus.Counter
	ResumeTotal prometheus.Counter

	// Anti-idle
	IdleState         prometheus.Gauge
	IdleStateSmoothed prometheus.Gauge
	TimeSinceActivity prometheus.Gauge
	MicrotaskDepth    prometheus.Gauge
	IdleMinutesToday  prometheus.Counter

	// Quality collector
	QualityRecords    prometheus.Counter
	QualityDropped    prometheus.Counter
	QualityAnomalies  prometheus.Counter
	DeveloperRequests prometheus.Counter
	CollectorLowMode  prometheus.Gauge
}

// New creates and registers all instruments on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		Registry: reg,

		ChatErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "chat_errors_total",
			Help: "Total chat requests rejected or failed",
		}),
		ChatResponseSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chat_response_seconds",
			Help:    "Chat worker response time in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		IdempotentHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "requests_idempotent_hits",
			Help: "Chat requests answered from the idempotency cache",
		}),
		SessionsAutocreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "sessions_autocreated_total",
			Help: "Sessions auto-generated when persist was requested without a session id",
		}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "rate_limited_total",
			Help: "Requests rejected by the per-minute rate limiter",
		}),

		AnalysisDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "analysis_duration_seconds",
			Help:    "Analysis worker duration in seconds",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 120},
		}),
		AnalysisErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "analysis_errors_total",
			Help: "Analysis requests that failed or were rejected",
		}),
		WatchdogTimeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "watchdog_timeouts_total",
			Help: "Watchdog deadline expirations by kind",
		}, []string{"kind"}),
		StepsBudgetHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "reasoning_steps_budget_hits_total",
			Help: "Analysis results whose reasoning chain was truncated to the step budget",
		}),
		ThrottleEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "throttle_events_total",
			Help: "Requests delayed by backpressure throttling",
		}),
		CheckpointsSaved: factory.NewCounter(prometheus.CounterOpts{
			Name: "analysis_checkpoints_total",
			Help: "Draft/error checkpoints written to memory",
		}),
		AnalysisRequeued: factory.NewCounter(prometheus.CounterOpts{
			Name: "analysis_requeued_total",
			Help: "Analyses re-enqueued to the long queue after a soft timeout",
		}),

		QueueLength: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scheduler_queue_length",
			Help: "Current length of each scheduler queue",
		}, []string{"queue"}),
		Backpressure: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scheduler_backpressure",
			Help: "Sum of all scheduler queue lengths",
		}),

		ActiveSSE: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sse_active_streams",
			Help: "Currently open SSE streams",
		}),
		LoopDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "loop_detected_total",
			Help: "Streams terminated early by the loop detector",
		}),
		TokenBudgetHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "token_budget_hits_total",
			Help: "Streams stopped after exhausting the token budget",
		}),
		StreamsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "streams_cancelled_total",
			Help: "SSE streams cancelled by operator or drain",
		}),

		TemplateReloads: factory.NewCounter(prometheus.CounterOpts{
			Name: "template_reloads_total",
			Help: "Cell templates loaded or replaced from the templates directory",
		}),
		TemplateLoadErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "template_load_errors_total",
			Help: "Template files that failed to load or validate",
		}),
		TemplateValidations: factory.NewCounter(prometheus.CounterOpts{
			Name: "template_validations_total",
			Help: "Template schema validations performed",
		}),

		PauseTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "control_pause_total",
			Help: "Operator pause commands accepted",
		}),
		ResumeTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "control_resume_total",
			Help: "Operator resume commands accepted",
		}),

		IdleState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "idle_state",
			Help: "Idle state: 0 active, 1 short, 2 long, 3 deep",
		}),
		IdleStateSmoothed: factory.NewGauge(prometheus.GaugeOpts{
			Name: "idle_state_smoothed",
			Help: "EMA-smoothed idle state",
		}),
		TimeSinceActivity: factory.NewGauge(prometheus.GaugeOpts{
			Name: "time_since_activity_seconds",
			Help: "Seconds since the last authorized activity",
		}),
		MicrotaskDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "microtask_queue_depth",
			Help: "Depth of the anti-idle microtask queue",
		}),
		IdleMinutesToday: factory.NewCounter(prometheus.CounterOpts{
			Name: "idle_minutes_today",
			Help: "Accumulated idle minutes since midnight UTC",
		}),

		QualityRecords: factory.NewCounter(prometheus.CounterOpts{
			Name: "quality_records_total",
			Help: "Quality records accepted by the collector",
		}),
		QualityDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "quality_records_dropped_total",
			Help: "Quality records dropped because the collector channel was full",
		}),
		QualityAnomalies: factory.NewCounter(prometheus.CounterOpts{
			Name: "quality_anomalies_total",
			Help: "Credibility samples flagged as 3-sigma anomalies",
		}),
		DeveloperRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "developer_requests_total",
			Help: "Alerts raised after consecutive low-credibility samples",
		}),
		CollectorLowMode: factory.NewGauge(prometheus.GaugeOpts{
			Name: "quality_collector_low_mode",
			Help: "1 when the collector polls in low mode, 0 in normal mode",
		}),
	}

	return m
}
