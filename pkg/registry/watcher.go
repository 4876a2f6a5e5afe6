package registry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// isTemplateFile reports whether the path has a template extension.
func isTemplateFile(path string) bool {
	switch filepath.Ext(path) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// LoadDir loads every template file in dir. Individual failures are
// logged and counted; they do not poison the registry or abort the
// scan. A missing directory is an error: the registry is part of
// startup.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading templates dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !isTemplateFile(e.Name()) {
			continue
		}
		r.loadFile(filepath.Join(dir, e.Name()))
	}
	return nil
}

// loadFile loads, validates, and registers one template file.
func (r *Registry) loadFile(path string) {
	t, err := loadTemplateFile(path)
	if err != nil {
		r.metrics.TemplateLoadErrors.Inc()
		slog.Error("Failed to load template", "path", path, "error", err)
		return
	}
	if err := r.Register(path, t); err != nil {
		r.metrics.TemplateLoadErrors.Inc()
		slog.Error("Failed to register template", "path", path, "error", err)
		return
	}
	r.metrics.TemplateReloads.Inc()
	slog.Info("Template registered", "id", t.ID, "version", t.Version, "path", path)
}

// Watch observes dir for template changes until ctx is cancelled.
// Create/modify reloads the file; delete removes its registration.
func (r *Registry) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating template watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching templates dir: %w", err)
	}

	go func() {
		defer watcher.Close()
		slog.Info("Template watcher started", "dir", dir)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				r.handleEvent(event)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.metrics.TemplateLoadErrors.Inc()
				slog.Error("Template watcher error", "error", err)
			}
		}
	}()
	return nil
}

func (r *Registry) handleEvent(event fsnotify.Event) {
	if !isTemplateFile(event.Name) {
		return
	}
	switch {
	case event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write):
		r.loadFile(event.Name)
	case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
		r.Unregister(event.Name)
		slog.Info("Template unregistered", "path", event.Name)
	}
}
