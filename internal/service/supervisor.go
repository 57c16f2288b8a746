package service

import (
	"context"
	"log/slog"

	"corral/internal/domain/result"
)

// sweep is the periodic supervision pass over every active agent. Per tick
// it applies, in order: SIGTERM-to-SIGKILL escalation for agents already
// being killed, the heartbeat silence tiers, and the timeout decision
// (extend on recent activity, otherwise terminate).
func (d *Dispatcher) sweep() {
	now := d.nowFunc()

	for _, a := range d.active {
		if a.pending || a.handle == nil {
			continue // spawn sequence still running
		}

		// An agent that ignored SIGTERM for the grace period gets SIGKILL.
		// The exit event still arrives through the normal path.
		if a.killReason != "" {
			if now.Sub(a.termSentAt) >= d.killGrace {
				if err := a.handle.Kill(); err != nil {
					slog.Warn("force kill failed", "request_id", a.requestID, "error", err)
				}
				a.termSentAt = now // do not re-kill every tick
			}
			continue
		}

		silence := now.Sub(a.lastHeartbeat)

		// Heartbeat kill fires on silence alone, regardless of how much
		// timeout budget remains: a hung process does not deserve its budget.
		if silence >= d.hbTimeout {
			slog.Warn("agent unresponsive, killing",
				"request_id", a.requestID,
				"silence", silence,
				"elapsed", now.Sub(a.startTime),
			)
			d.kill(a, result.ReasonHeartbeatTimeout)
			continue
		}

		if silence >= d.silenceWarn && !a.warned {
			a.warned = true
			d.stats.heartbeatWarnings.Add(1)
			slog.Warn("agent silent",
				"request_id", a.requestID,
				"silence", silence,
				"kill_at", d.hbTimeout,
			)
		}

		elapsed := now.Sub(a.startTime)
		if elapsed < a.currentTimeout {
			continue
		}

		// Budget exhausted. Recent output means the agent is still working,
		// so extend rather than kill; the policy caps the total at max.
		if silence < d.silenceWarn {
			extended := d.policy.Extend(a.currentTimeout)
			if extended > a.currentTimeout {
				a.currentTimeout = extended
				a.extensions++
				d.stats.extensions.Add(1)
				if d.metrics != nil {
					d.metrics.TimeoutExtensions.Add(context.Background(), 1)
				}
				slog.Info("timeout extended",
					"request_id", a.requestID,
					"new_timeout", a.currentTimeout,
					"extensions", a.extensions,
				)
				continue
			}
			// Already at the cap: fall through to termination.
		}

		if a.extensions == 0 {
			// Never needed more than its initial classification estimate.
			a.earlyTimeout = true
			d.stats.earlyTimeouts.Add(1)
		}
		slog.Warn("agent timed out",
			"request_id", a.requestID,
			"elapsed", elapsed,
			"final_timeout", a.currentTimeout,
			"extensions", a.extensions,
		)
		d.kill(a, result.ReasonTimeout)
	}
}

// kill starts graceful termination: SIGTERM now, SIGKILL after the grace
// period if the agent has not exited. killReason marks the agent so the
// exit classifier knows the termination was coordinator-initiated.
func (d *Dispatcher) kill(a *activeAgent, reason string) {
	a.killReason = reason
	a.termSentAt = d.nowFunc()
	if err := a.handle.Terminate(); err != nil {
		slog.Warn("terminate failed, forcing kill", "request_id", a.requestID, "error", err)
		if err := a.handle.Kill(); err != nil {
			slog.Error("kill failed", "request_id", a.requestID, "error", err)
		}
	}
}
