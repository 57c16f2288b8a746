package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"corral/internal/config"
	"corral/internal/port/backend"
	"corral/internal/resilience"
)

// HealthChecker probes the worker runtime before a spawn. Probe failures
// are recorded but never block the spawn: false negatives are assumed
// common. A circuit breaker stops probing a runtime that keeps failing so
// spawns stay fast under a broken installation.
type HealthChecker struct {
	backend backend.Backend
	breaker *resilience.Breaker
	stats   *Stats
	timeout time.Duration
	enabled bool
}

// NewHealthChecker creates a health checker from config.
func NewHealthChecker(be backend.Backend, cfg config.Health, stats *Stats) *HealthChecker {
	return &HealthChecker{
		backend: be,
		breaker: resilience.NewBreaker(cfg.BreakerMaxFailures, cfg.BreakerCooldown),
		stats:   stats,
		timeout: cfg.Timeout,
		enabled: cfg.Enabled,
	}
}

// Check runs one bounded-time probe and returns its latency. The returned
// latency is zero when the probe was disabled or skipped. Check never
// returns an error to the caller: outcomes are recorded in stats only.
func (h *HealthChecker) Check(ctx context.Context) time.Duration {
	if !h.enabled {
		return 0
	}

	var latency time.Duration
	err := h.breaker.Execute(func() error {
		probeCtx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()
		var probeErr error
		latency, probeErr = h.backend.Probe(probeCtx)
		return probeErr
	})

	switch {
	case err == nil:
		h.stats.healthOK.Add(1)
	case errors.Is(err, resilience.ErrCircuitOpen):
		h.stats.healthSkipped.Add(1)
	default:
		h.stats.healthFail.Add(1)
		slog.Warn("worker health probe failed", "backend", h.backend.Name(), "error", err)
	}
	return latency
}
