package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"corral/internal/adapter/otel"
	"corral/internal/config"
	"corral/internal/domain/agent"
	"corral/internal/domain/request"
	"corral/internal/domain/result"
	"corral/internal/port/backend"
	"corral/internal/port/spool"
)

// activeAgent is the runtime record for one supervised worker process. It
// is owned exclusively by the dispatcher loop; no other goroutine touches
// it after registration.
type activeAgent struct {
	requestID string
	role      string
	fileName  string // claimed file name in processing/

	handle  backend.Handle // nil until the spawn sequence completes
	pending bool           // spawn sequence still running

	bucket         agent.Bucket
	startTime      time.Time
	currentTimeout time.Duration
	extensions     int
	earlyTimeout   bool

	lastHeartbeat time.Time
	warned        bool // silence warning already emitted for this episode

	outputBytes  int64
	outputBursts int64
	outBuf       []byte // bounded prefix of combined stdout/stderr

	contextExternalized bool
	bytesExternalized   int64
	bytesTotal          int64

	healthLatency  time.Duration
	startupLatency time.Duration

	killReason string // set once a termination signal has been sent
	termSentAt time.Time
}

// Loop messages. Everything that mutates dispatcher state arrives as one of
// these on a single channel, so state access is serialized by construction.
type (
	spawnRequest struct {
		fileName string
		req      *request.TaskRequest
		reply    chan bool
	}

	spawnedEvent struct {
		requestID      string
		handle         backend.Handle
		input          *PromptInput
		healthLatency  time.Duration
		startupLatency time.Duration
	}

	spawnFailedEvent struct {
		requestID string
		err       error
	}

	outputEvent struct {
		requestID string
		chunk     []byte
	}

	exitEvent struct {
		requestID string
		exit      backend.Exit
	}

	statusRequest struct {
		reply chan Snapshot
	}
)

// Dispatcher admits requests under the concurrency cap, spawns worker
// processes, supervises them with adaptive timeouts and output heartbeats,
// and persists exactly one terminal result per admitted request.
//
// The dispatcher is a single-goroutine reactor: Run owns all mutable state
// and consumes spawn requests, process events, status queries, and sweep
// ticks from channels. Parallelism comes entirely from the worker child
// processes and their dedicated I/O goroutines.
type Dispatcher struct {
	spool   spool.Spool
	backend backend.Backend
	prompts PromptBuilder
	health  *HealthChecker
	stats   *Stats
	metrics *otel.Metrics

	policy        agent.TimeoutPolicy
	maxConcurrent int
	sweepInterval time.Duration
	silenceWarn   time.Duration
	hbTimeout     time.Duration
	killGrace     time.Duration
	outBufCap     int
	streamLogs    bool

	active   map[string]*activeAgent
	draining bool

	spawnCh  chan spawnRequest
	eventCh  chan any
	statusCh chan statusRequest

	nowFunc func() time.Time // for testing
}

// NewDispatcher creates a Dispatcher. Call Run to start the loop.
func NewDispatcher(
	sp spool.Spool,
	be backend.Backend,
	prompts PromptBuilder,
	health *HealthChecker,
	stats *Stats,
	metrics *otel.Metrics,
	cfg *config.Config,
) *Dispatcher {
	return &Dispatcher{
		spool:   sp,
		backend: be,
		prompts: prompts,
		health:  health,
		stats:   stats,
		metrics: metrics,
		policy: agent.TimeoutPolicy{
			Simple:    cfg.Timeouts.Simple,
			Moderate:  cfg.Timeouts.Moderate,
			Complex:   cfg.Timeouts.Complex,
			Max:       cfg.Timeouts.Max,
			Extension: cfg.Timeouts.Extension,
		},
		maxConcurrent: cfg.Pool.MaxConcurrentAgents,
		sweepInterval: cfg.Heartbeat.SweepInterval,
		silenceWarn:   cfg.Heartbeat.SilenceWarning,
		hbTimeout:     cfg.Heartbeat.Timeout,
		killGrace:     cfg.Heartbeat.KillGrace,
		outBufCap:     cfg.Output.ResultMaxBytes,
		streamLogs:    cfg.Output.StreamLogs,
		active:        make(map[string]*activeAgent),
		spawnCh:       make(chan spawnRequest),
		eventCh:       make(chan any, 256),
		statusCh:      make(chan statusRequest),
		nowFunc:       time.Now,
	}
}

// Spawn asks the dispatcher loop to admit and launch a worker for the
// claimed request. It returns true iff the request was admitted; a false
// return has no side effects beyond the capacity check, and the caller is
// expected to requeue. fileName is the claimed file's base name in
// processing/.
func (d *Dispatcher) Spawn(ctx context.Context, fileName string, req *request.TaskRequest) bool {
	reply := make(chan bool, 1)
	select {
	case d.spawnCh <- spawnRequest{fileName: fileName, req: req, reply: reply}:
	case <-ctx.Done():
		return false
	}
	select {
	case admitted := <-reply:
		return admitted
	case <-ctx.Done():
		return false
	}
}

// Status returns a point-in-time snapshot assembled by the dispatcher loop.
func (d *Dispatcher) Status(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case d.statusCh <- statusRequest{reply: reply}:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Run is the dispatcher event loop. It blocks until ctx is cancelled, then
// terminates all active children (grace period, then force kill), waits for
// their terminal results, and returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return d.drain(ticker)
		case sr := <-d.spawnCh:
			d.handleSpawn(ctx, sr)
		case ev := <-d.eventCh:
			d.handleEvent(ev)
		case sq := <-d.statusCh:
			sq.reply <- d.snapshot()
		case <-ticker.C:
			d.sweep()
		}
	}
}

// drain terminates all children and keeps consuming events until every
// agent has reached a terminal result or the hard deadline passes.
func (d *Dispatcher) drain(ticker *time.Ticker) error {
	d.draining = true
	for _, a := range d.active {
		if a.handle != nil && a.killReason == "" {
			d.kill(a, result.ReasonShutdown)
		}
	}

	deadline := time.After(2*d.killGrace + time.Second)
	for len(d.active) > 0 {
		select {
		case ev := <-d.eventCh:
			d.handleEvent(ev)
		case sq := <-d.statusCh:
			sq.reply <- d.snapshot()
		case <-ticker.C:
			d.sweep() // escalates SIGTERM to SIGKILL after the grace period
		case <-deadline:
			for _, a := range d.active {
				if a.handle != nil {
					_ = a.handle.Kill()
				}
			}
			slog.Warn("dispatcher drain deadline exceeded", "remaining", len(d.active))
			return nil
		}
	}
	return nil
}

// handleEvent dispatches one loop message.
func (d *Dispatcher) handleEvent(ev any) {
	switch e := ev.(type) {
	case spawnedEvent:
		d.handleSpawned(e)
	case spawnFailedEvent:
		d.handleSpawnFailed(e)
	case outputEvent:
		d.handleOutput(e)
	case exitEvent:
		d.handleExit(e)
	}
}

// handleSpawn performs admission control. Admission is purely the capacity
// check; the spawn sequence itself runs in a goroutine so the loop never
// blocks on probes or process startup.
func (d *Dispatcher) handleSpawn(ctx context.Context, sr spawnRequest) {
	if len(d.active) >= d.maxConcurrent {
		sr.reply <- false
		d.stats.deferred.Add(1)
		if d.metrics != nil {
			d.metrics.RequestsDeferred.Add(ctx, 1)
		}
		return
	}

	now := d.nowFunc()
	bucket := agent.Classify(sr.req.Task.Objective, sr.req.Task.Requirements, len(sr.req.Task.Context))
	a := &activeAgent{
		requestID:      sr.req.RequestID,
		role:           sr.req.AgentRole,
		fileName:       sr.fileName,
		pending:        true,
		bucket:         bucket,
		startTime:      now,
		currentTimeout: d.policy.Initial(bucket),
		lastHeartbeat:  now,
		bytesTotal:     int64(len(sr.req.Task.Context)),
	}
	d.active[a.requestID] = a
	sr.reply <- true

	d.stats.spawned.Add(1)
	if d.metrics != nil {
		d.metrics.AgentsSpawned.Add(ctx, 1)
	}
	slog.Info("request admitted",
		"request_id", a.requestID,
		"role", a.role,
		"complexity", string(bucket),
		"initial_timeout", a.currentTimeout,
		"active", len(d.active),
	)

	go d.launch(ctx, sr.req)
}

// launch runs the spawn sequence outside the loop: health probe, prompt
// construction with the context decision, and process start. Its outcome
// returns to the loop as a spawnedEvent or spawnFailedEvent.
func (d *Dispatcher) launch(ctx context.Context, req *request.TaskRequest) {
	healthLatency := d.health.Check(ctx)

	in, err := d.prompts.Build(req)
	if err != nil {
		d.eventCh <- spawnFailedEvent{requestID: req.RequestID, err: err}
		return
	}

	if in.ContextExternalized {
		d.stats.lazyContext.Add(1)
		d.stats.bytesExternalized.Add(in.BytesExternalized)
	} else {
		d.stats.fullContext.Add(1)
	}
	d.stats.bytesTotal.Add(in.BytesTotal)

	spec := backend.StartSpec{
		RequestID:       req.RequestID,
		ParentRequestID: req.ParentRequestID,
		Role:            req.AgentRole,
		Input:           in.Text,
	}

	id := req.RequestID
	startedAt := time.Now()
	handle, exitCh, err := d.backend.Start(ctx, spec, func(chunk []byte) {
		if d.streamLogs {
			if streamErr := d.spool.AppendStream(id, chunk); streamErr != nil {
				slog.Warn("stream append failed", "request_id", id, "error", streamErr)
			}
		}
		d.eventCh <- outputEvent{requestID: id, chunk: chunk}
	})
	if err != nil {
		d.eventCh <- spawnFailedEvent{requestID: id, err: err}
		return
	}

	d.eventCh <- spawnedEvent{
		requestID:      id,
		handle:         handle,
		input:          in,
		healthLatency:  healthLatency,
		startupLatency: time.Since(startedAt),
	}

	exit := <-exitCh
	d.eventCh <- exitEvent{requestID: id, exit: exit}
}

// handleSpawned registers the live process handle on the agent record.
func (d *Dispatcher) handleSpawned(e spawnedEvent) {
	a, ok := d.active[e.requestID]
	if !ok {
		return
	}
	a.handle = e.handle
	a.pending = false
	a.healthLatency = e.healthLatency
	a.startupLatency = e.startupLatency
	a.contextExternalized = e.input.ContextExternalized
	a.bytesExternalized = e.input.BytesExternalized
	a.bytesTotal = e.input.BytesTotal

	slog.Debug("worker started",
		"request_id", a.requestID,
		"pid", e.handle.PID(),
		"context_mode", contextMode(a),
		"startup_ms", e.startupLatency.Milliseconds(),
	)

	// A shutdown that arrived mid-spawn must still terminate this child.
	if d.draining {
		d.kill(a, result.ReasonShutdown)
	}
}

// handleSpawnFailed persists a terminal failure for a request whose spawn
// sequence never produced a process.
func (d *Dispatcher) handleSpawnFailed(e spawnFailedEvent) {
	a, ok := d.active[e.requestID]
	if !ok {
		return
	}
	slog.Error("spawn failed", "request_id", e.requestID, "error", e.err)
	d.finalize(a, result.StatusFailed, fmt.Sprintf("spawn: %v", e.err), -1)
}

// handleOutput treats every output chunk as a heartbeat.
func (d *Dispatcher) handleOutput(e outputEvent) {
	a, ok := d.active[e.requestID]
	if !ok {
		return // output raced past termination; the transcript already has it
	}
	a.lastHeartbeat = d.nowFunc()
	a.warned = false
	a.outputBytes += int64(len(e.chunk))
	a.outputBursts++
	// Buffer one byte past the persisted cap: the spool truncates at the
	// cap, so a capped run still produces a document with the truncation
	// marker instead of looking like a short one.
	if room := d.outBufCap + 1 - len(a.outBuf); room > 0 {
		if len(e.chunk) > room {
			e.chunk = e.chunk[:room]
		}
		a.outBuf = append(a.outBuf, e.chunk...)
	}
}

// handleExit is the single termination path shared by natural exits and
// kills: classify, persist, free the slot.
func (d *Dispatcher) handleExit(e exitEvent) {
	a, ok := d.active[e.requestID]
	if !ok {
		return
	}

	status, reason := result.Classify(e.exit.Code, a.killReason)
	if e.exit.Err != nil && status == result.StatusSuccess {
		status, reason = result.StatusFailed, e.exit.Err.Error()
	}
	d.finalize(a, status, reason, e.exit.Code)
}

// finalize removes the agent from the active set (freeing its slot),
// persists exactly one TaskResult, and updates counters. It is only ever
// called from the dispatcher loop.
func (d *Dispatcher) finalize(a *activeAgent, status result.Status, reason string, exitCode int) {
	delete(d.active, a.requestID)

	now := d.nowFunc()
	elapsed := now.Sub(a.startTime)
	wasted := a.currentTimeout - elapsed
	if wasted < 0 {
		wasted = 0
	}

	res := &result.TaskResult{
		RequestID:     a.requestID,
		Status:        status,
		Output:        string(a.outBuf),
		DurationMs:    elapsed.Milliseconds(),
		ExitCode:      exitCode,
		FailureReason: reason,
		Stats: result.AgentStats{
			Complexity:          string(a.bucket),
			ExtensionsApplied:   a.extensions,
			EarlyTimeout:        a.earlyTimeout,
			FinalTimeoutMs:      a.currentTimeout.Milliseconds(),
			WastedBudgetMs:      wasted.Milliseconds(),
			OutputBytes:         a.outputBytes,
			OutputBursts:        a.outputBursts,
			ContextExternalized: a.contextExternalized,
			BytesExternalized:   a.bytesExternalized,
			BytesTotal:          a.bytesTotal,
			HealthCheckMs:       a.healthLatency.Milliseconds(),
			StartupMs:           a.startupLatency.Milliseconds(),
		},
		CompletedAt: now,
	}

	if err := d.spool.SaveResult(res); err != nil {
		// The isolation invariant: one request's persistence failure must
		// never take down the coordinator or other agents.
		slog.Error("save result failed", "request_id", a.requestID, "error", err)
	}
	if err := d.spool.Discard(a.fileName); err != nil {
		slog.Warn("discard claimed file failed", "request_id", a.requestID, "error", err)
	}
	if d.streamLogs {
		if err := d.spool.WriteStreamFooter(a.requestID, footer(res)); err != nil {
			slog.Warn("stream footer failed", "request_id", a.requestID, "error", err)
		}
	}

	d.recordOutcome(status, elapsed)

	slog.Info("agent finished",
		"request_id", a.requestID,
		"status", string(status),
		"failure_reason", reason,
		"duration_ms", elapsed.Milliseconds(),
		"extensions", a.extensions,
		"output_bytes", a.outputBytes,
		"active", len(d.active),
	)
}

// recordOutcome updates counters and metric instruments for one terminal
// status.
func (d *Dispatcher) recordOutcome(status result.Status, elapsed time.Duration) {
	ctx := context.Background()
	switch status {
	case result.StatusSuccess:
		d.stats.completed.Add(1)
		if d.metrics != nil {
			d.metrics.AgentsCompleted.Add(ctx, 1)
		}
	case result.StatusTimeout:
		d.stats.timeouts.Add(1)
		if d.metrics != nil {
			d.metrics.AgentsTimedOut.Add(ctx, 1)
		}
	case result.StatusKilled:
		d.stats.heartbeatKills.Add(1)
		if d.metrics != nil {
			d.metrics.HeartbeatKills.Add(ctx, 1)
		}
	default:
		d.stats.failed.Add(1)
		if d.metrics != nil {
			d.metrics.AgentsFailed.Add(ctx, 1)
		}
	}
	if d.metrics != nil {
		d.metrics.RunDuration.Record(ctx, elapsed.Seconds())
	}
}

// snapshot assembles the status view. Loop-local, so no locking.
func (d *Dispatcher) snapshot() Snapshot {
	now := d.nowFunc()
	counters := d.stats.Snapshot()
	agents := make([]AgentStatus, 0, len(d.active))
	for _, a := range d.active {
		st := AgentStatus{
			RequestID:         a.requestID,
			Role:              a.role,
			Complexity:        string(a.bucket),
			ElapsedMs:         now.Sub(a.startTime).Milliseconds(),
			TimeoutMs:         a.currentTimeout.Milliseconds(),
			ExtensionsApplied: a.extensions,
			SilenceMs:         now.Sub(a.lastHeartbeat).Milliseconds(),
			OutputBytes:       a.outputBytes,
			ContextMode:       contextMode(a),
		}
		if a.handle != nil {
			st.PID = a.handle.PID()
		}
		agents = append(agents, st)
	}
	return Snapshot{
		GeneratedAt:       now,
		Active:            len(d.active),
		MaxConcurrent:     d.maxConcurrent,
		Counters:          counters,
		ContextEfficiency: counters.ContextEfficiency(),
		Agents:            agents,
	}
}

func contextMode(a *activeAgent) string {
	if a.contextExternalized {
		return ContextModeExternalized
	}
	return ContextModeInline
}

// footer renders the terminal transcript footer for a finished run.
func footer(res *result.TaskResult) string {
	return fmt.Sprintf(
		"--- run complete: status=%s reason=%q ---\n"+
			"health check: %dms, startup: %dms\n"+
			"complexity: %s, context externalized: %t\n"+
			"extensions: %d, final timeout: %dms, wasted budget: %dms\n"+
			"output: %d bytes in %d bursts",
		res.Status, res.FailureReason,
		res.Stats.HealthCheckMs, res.Stats.StartupMs,
		res.Stats.Complexity, res.Stats.ContextExternalized,
		res.Stats.ExtensionsApplied, res.Stats.FinalTimeoutMs, res.Stats.WastedBudgetMs,
		res.Stats.OutputBytes, res.Stats.OutputBursts,
	)
}
