package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"corral/internal/config"
	"corral/internal/domain/request"
	"corral/internal/port/spool"
)

// spawner is the dispatcher surface the watcher needs. Narrowed for tests.
type spawner interface {
	Spawn(ctx context.Context, fileName string, req *request.TaskRequest) bool
}

// Watcher discovers request files in pending/ and feeds them to the
// dispatcher. Discovery is filesystem notification when available, with a
// periodic poll as the reliability floor: every admissible file is picked
// up within one poll interval even if every notification is lost.
type Watcher struct {
	spool      spool.Spool
	dispatcher spawner
	stats      *Stats

	pollInterval time.Duration
	requeueDelay time.Duration
	notify       bool

	// requeueCtx bounds the delayed-requeue timers; on shutdown pending
	// requeues flush immediately instead of waiting out the delay.
	requeueCtx context.Context
}

// NewWatcher creates a Watcher over the spool's pending directory.
func NewWatcher(sp spool.Spool, disp spawner, stats *Stats, cfg config.Watcher) *Watcher {
	return &Watcher{
		spool:        sp,
		dispatcher:   disp,
		stats:        stats,
		pollInterval: cfg.PollInterval,
		requeueDelay: cfg.RequeueDelay,
		notify:       cfg.Notify,
	}
}

// Run watches pending/ until ctx is cancelled. Notification failures are
// logged and degrade to poll-only operation, never fatal.
func (w *Watcher) Run(ctx context.Context) error {
	w.requeueCtx = ctx

	var events <-chan fsnotify.Event
	if w.notify {
		fw, err := fsnotify.NewWatcher()
		if err != nil {
			slog.Warn("fsnotify unavailable, polling only", "error", err)
		} else {
			defer fw.Close()
			if err := fw.Add(w.spool.PendingDir()); err != nil {
				slog.Warn("watch pending dir failed, polling only",
					"dir", w.spool.PendingDir(), "error", err)
			} else {
				events = fw.Events
				go w.drainErrors(ctx, fw.Errors)
			}
		}
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.scan(ctx) // startup scan picks up requests submitted while we were down

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil // poll carries on
				continue
			}
			if ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Rename) {
				w.scan(ctx)
			}
		case <-ticker.C:
			w.scan(ctx)
		}
	}
}

func (w *Watcher) drainErrors(ctx context.Context, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			slog.Warn("pending dir watch error", "error", err)
		}
	}
}

// scan lists pending/, claims files oldest-name-first, and hands parsed
// requests to the dispatcher. A scan that loses every claim race is a
// no-op; losing a race is not an error.
func (w *Watcher) scan(ctx context.Context) {
	names, err := w.spool.ListPending()
	if err != nil {
		slog.Error("list pending failed", "error", err)
		return
	}
	sort.Strings(names)

	for _, name := range names {
		if ctx.Err() != nil {
			return
		}
		w.intake(ctx, name)
	}
}

// intake claims one file and walks it through parse and admission.
func (w *Watcher) intake(ctx context.Context, name string) {
	data, ok, err := w.spool.Claim(name)
	if err != nil {
		slog.Error("claim failed", "file", name, "error", err)
		return
	}
	if !ok {
		return // another claimant won, or a requeue timer owns the file
	}

	req, err := request.Parse(name, data)
	if err != nil {
		// Malformed requests are deleted, never retried: retrying cannot
		// make a bad document parse.
		var perr *request.ParseError
		if errors.As(err, &perr) {
			slog.Error("malformed request discarded", "file", name, "error", perr.Err)
		} else {
			slog.Error("malformed request discarded", "file", name, "error", err)
		}
		w.stats.parseErrors.Add(1)
		if derr := w.spool.Discard(name); derr != nil {
			slog.Warn("discard malformed request failed", "file", name, "error", derr)
		}
		return
	}

	if w.dispatcher.Spawn(ctx, name, req) {
		return
	}

	// Pool full. Return the file to pending/ after a delay so a hot loop
	// of claim/reject/claim does not spin against a saturated pool.
	slog.Debug("pool saturated, deferring request",
		"request_id", req.RequestID, "file", name, "delay", w.requeueDelay)
	go w.requeueLater(name)
}

// requeueLater returns a rejected file to pending/ after the configured
// delay. On shutdown the file is requeued immediately so it is never
// stranded in processing/.
func (w *Watcher) requeueLater(name string) {
	timer := time.NewTimer(w.requeueDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-w.requeueCtx.Done():
	}
	if err := w.spool.Requeue(name); err != nil {
		slog.Error("requeue failed", "file", name, "error", err)
		return
	}
	w.stats.requeued.Add(1)
}
