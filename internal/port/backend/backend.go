// Package backend defines the port interface for the external worker
// executable. Workers are black boxes: the coordinator only starts them,
// feeds them input text, observes output bytes, and signals them.
package backend

import (
	"context"
	"time"
)

// StartSpec describes one worker invocation.
type StartSpec struct {
	RequestID       string
	ParentRequestID string
	Role            string
	Input           string // prompt text fed to the worker
}

// Exit is the final observation of a worker process.
type Exit struct {
	Code int
	Err  error // non-nil when the process could not be waited on cleanly
}

// Handle controls a running worker process.
type Handle interface {
	PID() int
	// Terminate sends the polite termination signal.
	Terminate() error
	// Kill force-kills the process after the grace period.
	Kill() error
}

// Backend spawns and probes worker processes.
type Backend interface {
	Name() string

	// Start launches a worker. onOutput is invoked from a dedicated reader
	// goroutine for every stdout/stderr chunk as it arrives. The returned
	// channel delivers exactly one Exit when the process ends.
	Start(ctx context.Context, spec StartSpec, onOutput func(chunk []byte)) (Handle, <-chan Exit, error)

	// Probe runs a bounded-time health check of the worker runtime and
	// returns its latency.
	Probe(ctx context.Context) (time.Duration, error)
}
