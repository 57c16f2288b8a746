// Command corral runs the local task coordinator: it watches a spool
// directory for task request files, runs each one as a bounded pool of
// worker processes, and persists one terminal result per request.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"corral/internal/adapter/execworker"
	"corral/internal/adapter/fsspool"
	corralhttp "corral/internal/adapter/http"
	corralotel "corral/internal/adapter/otel"
	"corral/internal/adapter/ristretto"
	"corral/internal/config"
	"corral/internal/logger"
	"corral/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"base_dir", cfg.BaseDir,
		"max_concurrent", cfg.Pool.MaxConcurrentAgents,
		"worker", cfg.Worker.Command,
		"log_level", cfg.Logging.Level,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Infrastructure ---

	sp, err := fsspool.New(cfg.BaseDir, cfg.Output.ResultMaxBytes)
	if err != nil {
		return fmt.Errorf("spool: %w", err)
	}
	if recovered, err := sp.RecoverOrphans(); err != nil {
		slog.Warn("orphan recovery failed", "error", err)
	} else if recovered > 0 {
		slog.Info("recovered orphaned requests", "count", recovered)
	}

	shutdownMetrics, err := corralotel.InitMetrics(ctx, cfg.Telemetry, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	metrics, err := corralotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	resultCache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer resultCache.Close()

	// --- Services ---

	worker := execworker.New(cfg.Worker)
	stats := &service.Stats{}
	health := service.NewHealthChecker(worker, cfg.Health, stats)
	prompts := service.NewSpoolPromptBuilder(sp, cfg.Context.InlineMaxBytes)
	dispatcher := service.NewDispatcher(sp, worker, prompts, health, stats, metrics, cfg)
	watcher := service.NewWatcher(sp, dispatcher, stats, cfg.Watcher)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(func() error {
		summaryLoop(gctx, stats, cfg.SummaryInterval)
		return nil
	})

	// --- HTTP ---

	if cfg.Server.Enabled {
		handlers := corralhttp.NewHandlers(dispatcher, sp, resultCache, cfg.Cache.TTL)

		r := chi.NewRouter()
		r.Use(corralhttp.CORS(cfg.Server.CORSOrigin))
		r.Use(chimw.RequestID)
		r.Use(corralhttp.RequestContext)
		r.Use(corralhttp.Logger)
		r.Use(chimw.Recoverer)
		r.Use(chimw.Timeout(30 * time.Second))
		if cfg.Telemetry.Enabled {
			r.Use(corralotel.HTTPMiddleware(cfg.Logging.Service))
		}
		corralhttp.MountRoutes(r, handlers)

		srv := &http.Server{
			Addr:              ":" + cfg.Server.Port,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
		}

		g.Go(func() error {
			slog.Info("status API listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("status API: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()

	printSummary(stats)
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// summaryLoop logs an aggregate counter summary at the configured interval.
func summaryLoop(ctx context.Context, stats *service.Stats, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sn := stats.Snapshot()
			slog.Info("coordinator summary",
				"spawned", sn.Spawned,
				"completed", sn.Completed,
				"failed", sn.Failed,
				"timeouts", sn.Timeouts,
				"heartbeat_kills", sn.HeartbeatKills,
				"extensions", sn.Extensions,
				"deferred", sn.Deferred,
				"requeued", sn.Requeued,
				"context_efficiency", fmt.Sprintf("%.2f", sn.ContextEfficiency()),
			)
		}
	}
}

// printSummary writes the final aggregate counters to stdout on shutdown.
// Stdout is the operator-facing channel; logs go to stderr.
func printSummary(stats *service.Stats) {
	sn := stats.Snapshot()
	out, err := json.MarshalIndent(map[string]any{
		"counters":          sn,
		"contextEfficiency": sn.ContextEfficiency(),
	}, "", "  ")
	if err != nil {
		return
	}
	fmt.Println(string(out))
}
