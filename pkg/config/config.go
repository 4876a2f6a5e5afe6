// Package config loads the runtime configuration from environment
// variables. Everything is resolved once at startup into a Config
// value that the rest of the system treats as read-only.
package config

import (
	"log/slog"
	"time"
)

// Config holds the resolved runtime configuration.
type Config struct {
	HTTPPort string

	Context   ContextConfig
	Masking   MaskingConfig
	Chat      ChatConfig
	Analysis  AnalysisConfig
	Watchdog  WatchdogConfig
	Stream    StreamConfig
	Control   ControlConfig
	AntiIdle  AntiIdleConfig
	Tokens    TokenConfig
	Templates TemplatesConfig
}

// ContextConfig configures the NDJSON context store.
type ContextConfig struct {
	Dir             string        // CONTEXT_DIR (default "context")
	MaxLines        int           // CONTEXT_MAX_LINES (0 = adaptive)
	MaxBytes        int64         // CONTEXT_MAX_BYTES (0 = adaptive)
	DailyRotation   bool          // CONTEXT_DAILY_ROTATION
	ArchiveGz       bool          // CONTEXT_ARCHIVE_GZ
	FlushInterval   time.Duration // CONTEXT_FLUSH_MS (0 = direct writes)
	IndexKwTTL      time.Duration // INDEX_KW_TTL_DAYS
	CompactInterval time.Duration // INDEX_COMPACT_INTERVAL_MS (0 = disabled)
}

// MaskingConfig configures PII masking on context writes.
type MaskingConfig struct {
	Enabled    bool     // MASK_PII
	Regexes    []string // MASK_REGEX (comma-separated)
	Roles      []string // MASK_ROLES (default: user)
	PresetsDir string   // MASK_PRESETS_DIR
}

// ChatConfig configures the chat hub.
type ChatConfig struct {
	RateLimitPerMin  int           // CHAT_RATE_LIMIT_PER_MIN (0 = unlimited)
	RateKey          string        // CHAT_RATE_KEY: auth | chat | session
	IdempotentDir    string        // IDEMPOTENT_STORE_DIR
	IdempotentTTL    time.Duration // IDEMPOTENT_TTL_SECS
	IdempotentOnDisk bool          // IDEMPOTENT_PERSIST
	RequireSessionID bool          // PERSIST_REQUIRE_SESSION_ID
}

// AnalysisConfig configures the analysis hub and scheduler.
type AnalysisConfig struct {
	QueueFastMS         int64         // ANALYSIS_QUEUE_FAST_MS (0 = adaptive)
	QueueLongMS         int64         // ANALYSIS_QUEUE_LONG_MS (0 = adaptive)
	QueueRecalcMin      uint64        // ANALYSIS_QUEUE_RECALC_MIN
	AutoRequeueOnSoft   bool          // AUTO_REQUEUE_ON_SOFT
	ReasoningStepBudget int           // REASONING_STEPS_BUDGET (0 = unlimited)
	CheckpointInterval  time.Duration // CHECKPOINT_INTERVAL_MS
	BackpressureHigh    int           // BACKPRESSURE_HIGH_WATERMARK
	ThrottleSleep       time.Duration // BACKPRESSURE_THROTTLE_MS
	AutoBackoff         bool          // AUTO_BACKOFF_ENABLED
	MaxBackoff          time.Duration // BP_MAX_BACKOFF_MS
}

// WatchdogConfig configures soft/hard analysis deadlines.
type WatchdogConfig struct {
	SoftDefault time.Duration // WATCHDOG_REASONING_SOFT_MS (default 30s)
	HardDefault time.Duration // WATCHDOG_REASONING_HARD_MS (default 120s; no scheduler-wide budget is consulted)
	WebhookURL  string        // INCIDENT_WEBHOOK_URL
}

// StreamConfig configures SSE streaming and loop detection.
type StreamConfig struct {
	LoopDetect    bool          // LOOP_DETECT_ENABLED
	LoopWindow    int           // LOOP_WINDOW_TOKENS (default 50)
	LoopThreshold float64       // LOOP_REPEAT_THRESHOLD (default 0.6)
	LoopEntropy   float64       // LOOP_ENTROPY_MIN (0 = disabled)
	TokenBudget   int           // REASONING_TOKEN_BUDGET (0 = unlimited)
	WarnAfter     time.Duration // SSE_WARN_AFTER_MS
	DevDelay      time.Duration // SSE_DEV_DELAY_MS (testing only)
}

// ControlConfig configures the operator control plane.
type ControlConfig struct {
	AllowPause   bool   // CONTROL_ALLOW_PAUSE
	AllowKill    bool   // CONTROL_ALLOW_KILL
	SnapshotDir  string // CONTROL_SNAPSHOT_DIR
	TraceEnabled bool   // TRACE_ENABLED
	TraceMax     int    // TRACE_MAX_EVENTS
}

// AntiIdleConfig configures the idle state publisher.
type AntiIdleConfig struct {
	Enabled   bool          // ANTI_IDLE_ENABLED
	IdleAfter time.Duration // IDLE_THRESHOLD_SECONDS
	LongAfter time.Duration // LONG_IDLE_THRESHOLD_MINUTES
	DeepAfter time.Duration // DEEP_IDLE_THRESHOLD_MINUTES
	EMAAlpha  float64       // IDLE_EMA_ALPHA
}

// TokenConfig holds the statically configured auth tokens.
type TokenConfig struct {
	Admin string // NEIRA_ADMIN_TOKEN
	Write string // NEIRA_WRITE_TOKEN
	Read  string // NEIRA_READ_TOKEN
}

// TemplatesConfig configures the cell template registry.
type TemplatesConfig struct {
	Dir string // TEMPLATES_DIR (default "templates")
}

// Load resolves the full configuration from the environment.
func Load() *Config {
	cfg := &Config{
		HTTPPort: envStr("HTTP_PORT", "8080"),
		Context: ContextConfig{
			Dir:             envStr("CONTEXT_DIR", "context"),
			MaxLines:        envInt("CONTEXT_MAX_LINES", 0),
			MaxBytes:        envInt64("CONTEXT_MAX_BYTES", 0),
			DailyRotation:   envBool("CONTEXT_DAILY_ROTATION", false),
			ArchiveGz:       envBool("CONTEXT_ARCHIVE_GZ", true),
			FlushInterval:   envMS("CONTEXT_FLUSH_MS", 0),
			IndexKwTTL:      time.Duration(envInt("INDEX_KW_TTL_DAYS", 0)) * 24 * time.Hour,
			CompactInterval: envMS("INDEX_COMPACT_INTERVAL_MS", 0),
		},
		Masking: MaskingConfig{
			Enabled:    envBool("MASK_PII", false),
			Regexes:    envList("MASK_REGEX"),
			Roles:      envListDefault("MASK_ROLES", []string{"user"}),
			PresetsDir: envStr("MASK_PRESETS_DIR", ""),
		},
		Chat: ChatConfig{
			RateLimitPerMin:  envInt("CHAT_RATE_LIMIT_PER_MIN", 0),
			RateKey:          envStr("CHAT_RATE_KEY", "auth"),
			IdempotentDir:    envStr("IDEMPOTENT_STORE_DIR", envStr("CONTEXT_DIR", "context")),
			IdempotentTTL:    time.Duration(envInt("IDEMPOTENT_TTL_SECS", 86400)) * time.Second,
			IdempotentOnDisk: envBool("IDEMPOTENT_PERSIST", false),
			RequireSessionID: envBool("PERSIST_REQUIRE_SESSION_ID", false),
		},
		Analysis: AnalysisConfig{
			QueueFastMS:         envInt64("ANALYSIS_QUEUE_FAST_MS", 0),
			QueueLongMS:         envInt64("ANALYSIS_QUEUE_LONG_MS", 0),
			QueueRecalcMin:      uint64(envInt64("ANALYSIS_QUEUE_RECALC_MIN", 100)),
			AutoRequeueOnSoft:   envBool("AUTO_REQUEUE_ON_SOFT", false),
			ReasoningStepBudget: envInt("REASONING_STEPS_BUDGET", 0),
			CheckpointInterval:  envMS("CHECKPOINT_INTERVAL_MS", 1000),
			BackpressureHigh:    envInt("BACKPRESSURE_HIGH_WATERMARK", 100),
			ThrottleSleep:       envMS("BACKPRESSURE_THROTTLE_MS", 0),
			AutoBackoff:         envBool("AUTO_BACKOFF_ENABLED", false),
			MaxBackoff:          envMS("BP_MAX_BACKOFF_MS", 2000),
		},
		Watchdog: WatchdogConfig{
			SoftDefault: envMS("WATCHDOG_REASONING_SOFT_MS", 30_000),
			HardDefault: envMS("WATCHDOG_REASONING_HARD_MS", 120_000),
			WebhookURL:  envStr("INCIDENT_WEBHOOK_URL", ""),
		},
		Stream: StreamConfig{
			LoopDetect:    envBool("LOOP_DETECT_ENABLED", true),
			LoopWindow:    envInt("LOOP_WINDOW_TOKENS", 50),
			LoopThreshold: envFloat("LOOP_REPEAT_THRESHOLD", 0.6),
			LoopEntropy:   envFloat("LOOP_ENTROPY_MIN", 0),
			TokenBudget:   envInt("REASONING_TOKEN_BUDGET", 0),
			WarnAfter:     envMS("SSE_WARN_AFTER_MS", 0),
			DevDelay:      envMS("SSE_DEV_DELAY_MS", 0),
		},
		Control: ControlConfig{
			AllowPause:   envBool("CONTROL_ALLOW_PAUSE", true),
			AllowKill:    envBool("CONTROL_ALLOW_KILL", true),
			SnapshotDir:  envStr("CONTROL_SNAPSHOT_DIR", "snapshots"),
			TraceEnabled: envBool("TRACE_ENABLED", false),
			TraceMax:     envInt("TRACE_MAX_EVENTS", 256),
		},
		AntiIdle: AntiIdleConfig{
			Enabled:   envBool("ANTI_IDLE_ENABLED", true),
			IdleAfter: time.Duration(envInt("IDLE_THRESHOLD_SECONDS", 300)) * time.Second,
			LongAfter: time.Duration(envInt("LONG_IDLE_THRESHOLD_MINUTES", 30)) * time.Minute,
			DeepAfter: time.Duration(envInt("DEEP_IDLE_THRESHOLD_MINUTES", 120)) * time.Minute,
			EMAAlpha:  envFloat("IDLE_EMA_ALPHA", 0.3),
		},
		Tokens: TokenConfig{
			Admin: envStr("NEIRA_ADMIN_TOKEN", ""),
			Write: envStr("NEIRA_WRITE_TOKEN", ""),
			Read:  envStr("NEIRA_READ_TOKEN", ""),
		},
		Templates: TemplatesConfig{
			Dir: envStr("TEMPLATES_DIR", "templates"),
		},
	}

	slog.Info("Configuration loaded",
		"context_dir", cfg.Context.Dir,
		"templates_dir", cfg.Templates.Dir,
		"rate_limit_per_min", cfg.Chat.RateLimitPerMin,
		"mask_pii", cfg.Masking.Enabled,
		"trace_enabled", cfg.Control.TraceEnabled)

	return cfg
}
