package masking

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/neira-project/neira/pkg/config"
)

// Preset is an operator-supplied masking overlay loaded from
// MASK_PRESETS_DIR. Fields merge over the static configuration.
type Preset struct {
	Enabled *bool    `yaml:"enabled,omitempty"`
	Regexes []string `yaml:"regexes,omitempty"`
	Roles   []string `yaml:"roles,omitempty"`
}

// Service holds the active masker and supports atomic runtime
// replacement. Reads never block writers.
type Service struct {
	static  config.MaskingConfig
	current atomic.Pointer[Masker]
}

// NewService builds a service from the static config plus any presets
// found in cfg.PresetsDir.
func NewService(cfg config.MaskingConfig) *Service {
	merged, err := applyPresets(cfg)
	if err != nil {
		slog.Error("Failed to load masking presets, using static config", "error", err)
		merged = cfg
	}
	s := &Service{static: cfg}
	s.current.Store(New(merged))
	return s
}

// Active returns the current masker.
func (s *Service) Active() *Masker {
	return s.current.Load()
}

// SetRuntime replaces the active masker with one compiled from the
// given runtime configuration. Passing nil restores the static config.
func (s *Service) SetRuntime(cfg *config.MaskingConfig) {
	if cfg == nil {
		s.current.Store(New(s.static))
		return
	}
	s.current.Store(New(*cfg))
	slog.Info("Runtime masking config applied",
		"enabled", cfg.Enabled, "regexes", len(cfg.Regexes), "roles", cfg.Roles)
}

// applyPresets merges preset files (lexical filename order) over the
// static config. Regexes and roles append; enabled overrides.
func applyPresets(cfg config.MaskingConfig) (config.MaskingConfig, error) {
	if cfg.PresetsDir == "" {
		return cfg, nil
	}
	entries, err := os.ReadDir(cfg.PresetsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading presets dir: %w", err)
	}
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		path := filepath.Join(cfg.PresetsDir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading preset %s: %w", e.Name(), err)
		}
		var p Preset
		if err := yaml.Unmarshal(raw, &p); err != nil {
			return cfg, fmt.Errorf("parsing preset %s: %w", e.Name(), err)
		}
		overlay := config.MaskingConfig{Regexes: p.Regexes, Roles: p.Roles}
		if err := mergo.Merge(&cfg, overlay, mergo.WithAppendSlice); err != nil {
			return cfg, fmt.Errorf("merging preset %s: %w", e.Name(), err)
		}
		if p.Enabled != nil {
			cfg.Enabled = *p.Enabled
		}
		slog.Info("Masking preset loaded", "preset", e.Name())
	}
	return cfg, nil
}
