// Neira core server - admits chat and analysis requests, schedules
// them across priority queues, and exposes the operator control
// plane.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/neira-project/neira/pkg/antiidle"
	"github.com/neira-project/neira/pkg/api"
	"github.com/neira-project/neira/pkg/auth"
	"github.com/neira-project/neira/pkg/cancel"
	"github.com/neira-project/neira/pkg/cells"
	"github.com/neira-project/neira/pkg/config"
	"github.com/neira-project/neira/pkg/contextstore"
	"github.com/neira-project/neira/pkg/control"
	"github.com/neira-project/neira/pkg/hub"
	"github.com/neira-project/neira/pkg/idempotency"
	"github.com/neira-project/neira/pkg/masking"
	"github.com/neira-project/neira/pkg/memory"
	"github.com/neira-project/neira/pkg/metrics"
	"github.com/neira-project/neira/pkg/registry"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	met := metrics.New()
	logBuffer := control.NewLogBuffer(slog.NewTextHandler(os.Stderr, nil), 2048)
	slog.SetDefault(slog.New(logBuffer))

	cfg := config.Load()

	// Shared runtime state.
	authStore := auth.NewStoreFromConfig(cfg.Tokens)
	maskingSvc := masking.NewService(cfg.Masking)

	store, err := contextstore.New(cfg.Context, maskingSvc)
	if err != nil {
		slog.Error("Failed to initialize context store", "error", err)
		os.Exit(1)
	}
	store.StartFlusher()
	defer store.Close()

	idem := idempotency.New()
	if cfg.Chat.IdempotentOnDisk {
		idem, err = idempotency.NewPersistent(cfg.Chat.IdempotentDir, cfg.Chat.IdempotentTTL)
		if err != nil {
			slog.Error("Failed to initialize idempotency store", "error", err)
			os.Exit(1)
		}
	}

	mem := memory.NewStore()
	shutdown := cancel.New()
	plane := control.New(cfg.Control, met, shutdown)

	// Registry: built-in cells plus templates from disk, hot-reloaded.
	reg := registry.New(met)
	reg.RegisterChatCell(cells.EchoChat{})
	reg.RegisterAnalysisCell(cells.EchoAnalysis{})
	reg.RegisterActionCell(cells.LogAction{})
	reg.RegisterActionCell(cells.QuarantineGuard{EnterSafeMode: authStore.EnterSafeMode})
	if _, err := os.Stat(cfg.Templates.Dir); err == nil {
		if err := reg.LoadDir(cfg.Templates.Dir); err != nil {
			slog.Error("Failed to load templates", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("Templates directory missing, continuing with built-in cells only",
			"dir", cfg.Templates.Dir)
	}

	// Quality pipeline: collector channel drained into diagnostics.
	collector := metrics.NewCollector(met, 256, time.Second, 5*time.Second, nil)
	diagnostics := metrics.NewDiagnostics(met, collector, 0.3, 5, 64)
	collector.SetConsumer(diagnostics.Consume)

	var h *hub.Hub
	tracker := antiidle.New(cfg.AntiIdle, met,
		func() int { return h.ActiveStreams() },
		func() int { return h.Sched.Backpressure() })
	h = hub.New(cfg, met, authStore, maskingSvc, store, idem, reg, mem, plane, tracker, collector, shutdown)
	hub.SetGlobal(h)

	// Background tasks observe the shutdown token via this context.
	ctx, stop := context.WithCancel(context.Background())
	go func() {
		<-shutdown.Done()
		stop()
	}()

	if _, err := os.Stat(cfg.Templates.Dir); err == nil {
		if err := reg.Watch(ctx, cfg.Templates.Dir); err != nil {
			slog.Error("Failed to start template watcher", "error", err)
			os.Exit(1)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		collector.Run(gctx)
		return nil
	})
	g.Go(func() error {
		tracker.Run(gctx)
		return nil
	})
	if cfg.Context.CompactInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(cfg.Context.CompactInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if err := store.CompactIndexes(); err != nil {
						slog.Error("Index compaction failed", "error", err)
					}
					h.Limiter.Prune()
				}
			}
		})
	}

	server := api.NewServer(h, logBuffer)

	// SIGINT/SIGTERM behave like an operator kill without grace race.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("Signal received, shutting down", "signal", sig.String())
		shutdown.Cancel()
	}()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start(":" + cfg.HTTPPort)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			slog.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	case <-shutdown.Done():
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP shutdown failed", "error", err)
		}
	}

	stop()
	_ = g.Wait()
	slog.Info("Shutdown complete")
}
