// Package registry maps cell ids to registered workers and keeps them
// in sync with the templates directory via filesystem watching.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Template kinds. A template is exactly one of analysis or action;
// chat workers are registered in code only.
type Kind string

// Kinds.
const (
	KindAnalysis Kind = "analysis"
	KindAction   Kind = "action"
	KindChat     Kind = "chat"
)

// supportedSchemas lists the template schema versions this build
// accepts.
var supportedSchemas = map[string]bool{
	"1.0": true,
	"1.1": true,
}

// TemplateMetadata carries the schema version and free-form extras.
type TemplateMetadata struct {
	Schema string         `json:"schema" yaml:"schema" validate:"required"`
	Extra  map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// CellTemplate describes an analysis or action cell loaded from the
// templates directory. (id, version) is unique per registry; the
// id+kind pair is immutable once registered.
type CellTemplate struct {
	ID                  string           `json:"id" yaml:"id" validate:"required"`
	Version             string           `json:"version" yaml:"version" validate:"required,semver"`
	AnalysisType        string           `json:"analysis_type,omitempty" yaml:"analysis_type,omitempty"`
	ActionType          string           `json:"action_type,omitempty" yaml:"action_type,omitempty"`
	Links               []string         `json:"links,omitempty" yaml:"links,omitempty"`
	ConfidenceThreshold *float64         `json:"confidence_threshold,omitempty" yaml:"confidence_threshold,omitempty" validate:"omitempty,gte=0,lte=1"`
	DraftContent        string           `json:"draft_content,omitempty" yaml:"draft_content,omitempty"`
	Metadata            TemplateMetadata `json:"metadata" yaml:"metadata"`
}

// Kind derives the template kind from which type field is set.
func (t *CellTemplate) Kind() (Kind, error) {
	switch {
	case t.AnalysisType != "" && t.ActionType != "":
		return "", fmt.Errorf("template %q sets both analysis_type and action_type", t.ID)
	case t.AnalysisType != "":
		return KindAnalysis, nil
	case t.ActionType != "":
		return KindAction, nil
	default:
		return "", fmt.Errorf("template %q sets neither analysis_type nor action_type", t.ID)
	}
}

// ValidationError lists every violation found in one template.
type ValidationError struct {
	Path       string
	Violations []string
}

// Error implements error.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("template %s invalid: %s", e.Path, strings.Join(e.Violations, "; "))
}

// validateTemplate runs struct validation plus the schema-version
// check, collecting all violations.
func (r *Registry) validateTemplate(path string, t *CellTemplate) error {
	r.metrics.TemplateValidations.Inc()

	var violations []string
	if err := r.validate.Struct(t); err != nil {
		var fieldErrs validator.ValidationErrors
		if ok := errorsAs(err, &fieldErrs); ok {
			for _, fe := range fieldErrs {
				violations = append(violations,
					fmt.Sprintf("field %s fails %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			violations = append(violations, err.Error())
		}
	}
	if _, err := t.Kind(); err != nil {
		violations = append(violations, err.Error())
	}
	if t.Metadata.Schema != "" && !supportedSchemas[t.Metadata.Schema] {
		violations = append(violations,
			fmt.Sprintf("unsupported schema version %q", t.Metadata.Schema))
	}
	if len(violations) > 0 {
		return &ValidationError{Path: path, Violations: violations}
	}
	return nil
}

// loadTemplateFile parses a JSON or YAML template file.
func loadTemplateFile(path string) (*CellTemplate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading template: %w", err)
	}
	var t CellTemplate
	switch ext := filepath.Ext(path); ext {
	case ".json":
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("parsing JSON template: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("parsing YAML template: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported template extension %q", ext)
	}
	return &t, nil
}
