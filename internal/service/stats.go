// Package service contains the coordinator's core services: the pending
// queue watcher, the dispatcher that admits and supervises worker
// processes, and the prompt and health collaborators around them.
package service

import "sync/atomic"

// Stats holds process-wide coordinator counters. Counters are atomics so
// the watcher and spawn goroutines can record outcomes without entering the
// dispatcher loop. Lifecycle is the process lifetime; reset only on restart.
type Stats struct {
	spawned           atomic.Int64
	completed         atomic.Int64
	failed            atomic.Int64
	timeouts          atomic.Int64
	heartbeatKills    atomic.Int64
	heartbeatWarnings atomic.Int64
	extensions        atomic.Int64
	earlyTimeouts     atomic.Int64
	healthOK          atomic.Int64
	healthFail        atomic.Int64
	healthSkipped     atomic.Int64
	lazyContext       atomic.Int64
	fullContext       atomic.Int64
	bytesExternalized atomic.Int64
	bytesTotal        atomic.Int64
	parseErrors       atomic.Int64
	deferred          atomic.Int64
	requeued          atomic.Int64
}

// StatsSnapshot is a point-in-time copy of all counters.
type StatsSnapshot struct {
	Spawned           int64 `json:"spawned"`
	Completed         int64 `json:"completed"`
	Failed            int64 `json:"failed"`
	Timeouts          int64 `json:"timeouts"`
	HeartbeatKills    int64 `json:"heartbeatKills"`
	HeartbeatWarnings int64 `json:"heartbeatWarnings"`
	Extensions        int64 `json:"extensions"`
	EarlyTimeouts     int64 `json:"earlyTimeouts"`
	HealthOK          int64 `json:"healthCheckOk"`
	HealthFail        int64 `json:"healthCheckFail"`
	HealthSkipped     int64 `json:"healthCheckSkipped"`
	LazyContext       int64 `json:"lazyContext"`
	FullContext       int64 `json:"fullContext"`
	BytesExternalized int64 `json:"bytesExternalized"`
	BytesTotal        int64 `json:"bytesTotal"`
	ParseErrors       int64 `json:"parseErrors"`
	Deferred          int64 `json:"deferred"`
	Requeued          int64 `json:"requeued"`
}

// Snapshot returns a consistent-enough copy for reporting. Individual
// counters are loaded independently; that is fine for monitoring output.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Spawned:           s.spawned.Load(),
		Completed:         s.completed.Load(),
		Failed:            s.failed.Load(),
		Timeouts:          s.timeouts.Load(),
		HeartbeatKills:    s.heartbeatKills.Load(),
		HeartbeatWarnings: s.heartbeatWarnings.Load(),
		Extensions:        s.extensions.Load(),
		EarlyTimeouts:     s.earlyTimeouts.Load(),
		HealthOK:          s.healthOK.Load(),
		HealthFail:        s.healthFail.Load(),
		HealthSkipped:     s.healthSkipped.Load(),
		LazyContext:       s.lazyContext.Load(),
		FullContext:       s.fullContext.Load(),
		BytesExternalized: s.bytesExternalized.Load(),
		BytesTotal:        s.bytesTotal.Load(),
		ParseErrors:       s.parseErrors.Load(),
		Deferred:          s.deferred.Load(),
		Requeued:          s.requeued.Load(),
	}
}

// ContextEfficiency returns bytes externalized over total context bytes,
// or 0 when no context has been processed.
func (sn StatsSnapshot) ContextEfficiency() float64 {
	if sn.BytesTotal == 0 {
		return 0
	}
	return float64(sn.BytesExternalized) / float64(sn.BytesTotal)
}
