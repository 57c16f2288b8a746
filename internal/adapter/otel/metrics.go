package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "corral"

// Metrics holds all Corral metric instruments.
type Metrics struct {
	AgentsSpawned     metric.Int64Counter
	AgentsCompleted   metric.Int64Counter
	AgentsFailed      metric.Int64Counter
	AgentsTimedOut    metric.Int64Counter
	HeartbeatKills    metric.Int64Counter
	TimeoutExtensions metric.Int64Counter
	RequestsDeferred  metric.Int64Counter
	RunDuration       metric.Float64Histogram
}

// NewMetrics creates all metric instruments against the global meter.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.AgentsSpawned, err = meter.Int64Counter("corral.agents.spawned",
		metric.WithDescription("Number of worker processes spawned"))
	if err != nil {
		return nil, err
	}

	m.AgentsCompleted, err = meter.Int64Counter("corral.agents.completed",
		metric.WithDescription("Number of workers that exited successfully"))
	if err != nil {
		return nil, err
	}

	m.AgentsFailed, err = meter.Int64Counter("corral.agents.failed",
		metric.WithDescription("Number of workers that exited nonzero"))
	if err != nil {
		return nil, err
	}

	m.AgentsTimedOut, err = meter.Int64Counter("corral.agents.timed_out",
		metric.WithDescription("Number of workers killed on timeout"))
	if err != nil {
		return nil, err
	}

	m.HeartbeatKills, err = meter.Int64Counter("corral.agents.heartbeat_kills",
		metric.WithDescription("Number of workers killed for output silence"))
	if err != nil {
		return nil, err
	}

	m.TimeoutExtensions, err = meter.Int64Counter("corral.timeouts.extensions",
		metric.WithDescription("Number of timeout extensions granted"))
	if err != nil {
		return nil, err
	}

	m.RequestsDeferred, err = meter.Int64Counter("corral.requests.deferred",
		metric.WithDescription("Number of admissions deferred for capacity"))
	if err != nil {
		return nil, err
	}

	m.RunDuration, err = meter.Float64Histogram("corral.run.duration_seconds",
		metric.WithDescription("Worker run duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
