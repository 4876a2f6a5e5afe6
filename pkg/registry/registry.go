package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/neira-project/neira/pkg/cells"
	"github.com/neira-project/neira/pkg/metrics"
)

// ErrNotFound is returned when a cell id is not registered.
var ErrNotFound = errors.New("cell not found")

type templateRecord struct {
	tmpl *CellTemplate
	path string
}

// Registry is the concurrent map from cell id to worker, one map per
// worker kind. Workers are shared and never mutated in place;
// replacement swaps the reference under the write lock.
type Registry struct {
	metrics  *metrics.Metrics
	validate *validator.Validate

	mu        sync.RWMutex
	analysis  map[string]cells.AnalysisCell
	action    map[string]cells.ActionCell
	chat      map[string]cells.ChatCell
	templates map[string]templateRecord
	stem      map[string]StemCellRecord
}

// New creates an empty registry.
func New(m *metrics.Metrics) *Registry {
	return &Registry{
		metrics:   m,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		analysis:  make(map[string]cells.AnalysisCell),
		action:    make(map[string]cells.ActionCell),
		chat:      make(map[string]cells.ChatCell),
		templates: make(map[string]templateRecord),
		stem:      make(map[string]StemCellRecord),
	}
}

// Register validates and inserts a template loaded from path.
// Rules: a template whose id exists with a different kind is rejected;
// the same id at the same path replaces; at a different path fails.
func (r *Registry) Register(path string, t *CellTemplate) error {
	if err := r.validateTemplate(path, t); err != nil {
		return err
	}
	kind, _ := t.Kind()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.templates[t.ID]; ok {
		existingKind, _ := existing.tmpl.Kind()
		if existingKind != kind {
			return fmt.Errorf("template %q already registered as %s, cannot re-register as %s",
				t.ID, existingKind, kind)
		}
		if existing.path != path {
			return fmt.Errorf("template %q already registered from %s", t.ID, existing.path)
		}
	}
	r.templates[t.ID] = templateRecord{tmpl: t, path: path}
	return nil
}

// Unregister removes the template loaded from path, if any.
func (r *Registry) Unregister(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, rec := range r.templates {
		if rec.path == path {
			delete(r.templates, id)
			return
		}
	}
}

// Get returns the template for id.
func (r *Registry) Get(id string) (*CellTemplate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.templates[id]
	if !ok {
		return nil, false
	}
	return rec.tmpl, true
}

// List returns all registered templates.
func (r *Registry) List() []*CellTemplate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*CellTemplate, 0, len(r.templates))
	for _, rec := range r.templates {
		out = append(out, rec.tmpl)
	}
	return out
}

// RegisterAnalysisCell binds a worker to an id.
func (r *Registry) RegisterAnalysisCell(cell cells.AnalysisCell) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.analysis[cell.ID()] = cell
}

// RegisterActionCell binds an action worker to an id.
func (r *Registry) RegisterActionCell(cell cells.ActionCell) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.action[cell.ID()] = cell
}

// RegisterChatCell binds a chat worker to an id.
func (r *Registry) RegisterChatCell(cell cells.ChatCell) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chat[cell.ID()] = cell
}

// GetAnalysisCell looks up an analysis worker.
func (r *Registry) GetAnalysisCell(id string) (cells.AnalysisCell, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.analysis[id]
	return c, ok
}

// ActionCells returns a snapshot of all action workers.
func (r *Registry) ActionCells() []cells.ActionCell {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]cells.ActionCell, 0, len(r.action))
	for _, c := range r.action {
		out = append(out, c)
	}
	return out
}

// GetChatCell looks up a chat worker.
func (r *Registry) GetChatCell(id string) (cells.ChatCell, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.chat[id]
	return c, ok
}

// errorsAs is errors.As with a narrower name to keep call sites short.
func errorsAs(err error, target *validator.ValidationErrors) bool {
	return errors.As(err, target)
}
