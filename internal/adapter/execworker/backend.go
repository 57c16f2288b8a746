// Package execworker implements the backend port by spawning the worker
// executable as a local child process.
package execworker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"corral/internal/config"
	"corral/internal/port/backend"
)

// readBufSize is the per-pipe read buffer. Each read that returns data is
// one heartbeat burst.
const readBufSize = 32 * 1024

// Backend invokes a configured executable per task request.
type Backend struct {
	command    string
	args       []string
	healthArgs []string
	workdir    string
}

// New creates a process-spawning backend from worker configuration.
func New(cfg config.Worker) *Backend {
	return &Backend{
		command:    cfg.Command,
		args:       cfg.Args,
		healthArgs: cfg.HealthArgs,
		workdir:    cfg.WorkDir,
	}
}

// Name returns the worker executable's base name.
func (b *Backend) Name() string { return filepath.Base(b.command) }

// Start launches the worker with the task input as its final argument and
// identifying environment variables. Output is streamed to onOutput from
// dedicated reader goroutines; exactly one Exit is delivered on the
// returned channel after both pipes close and the process is reaped.
func (b *Backend) Start(_ context.Context, spec backend.StartSpec, onOutput func([]byte)) (backend.Handle, <-chan backend.Exit, error) {
	args := make([]string, 0, len(b.args)+1)
	args = append(args, b.args...)
	args = append(args, spec.Input)

	cmd := exec.Command(b.command, args...) //nolint:gosec // G204: command comes from operator config
	cmd.Dir = b.workdir
	cmd.Env = append(os.Environ(),
		"CORRAL_REQUEST_ID="+spec.RequestID,
		"CORRAL_PARENT_REQUEST_ID="+spec.ParentRequestID,
		"CORRAL_AGENT_ROLE="+spec.Role,
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("start %s: %w", b.command, err)
	}

	var readers sync.WaitGroup
	for _, pipe := range []io.Reader{stdout, stderr} {
		readers.Add(1)
		go func(r io.Reader) {
			defer readers.Done()
			buf := make([]byte, readBufSize)
			for {
				n, readErr := r.Read(buf)
				if n > 0 {
					chunk := make([]byte, n)
					copy(chunk, buf[:n])
					onOutput(chunk)
				}
				if readErr != nil {
					return
				}
			}
		}(pipe)
	}

	exitCh := make(chan backend.Exit, 1)
	go func() {
		readers.Wait()
		waitErr := cmd.Wait()
		code := 0
		if waitErr != nil {
			var exitErr *exec.ExitError
			if errors.As(waitErr, &exitErr) {
				code = exitErr.ExitCode()
				waitErr = nil
			} else {
				code = -1
			}
		}
		exitCh <- backend.Exit{Code: code, Err: waitErr}
	}()

	return &handle{cmd: cmd}, exitCh, nil
}

// Probe runs the configured health command and reports its latency.
func (b *Backend) Probe(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, b.command, b.healthArgs...) //nolint:gosec // G204: command comes from operator config
	cmd.Dir = b.workdir
	err := cmd.Run()
	return time.Since(start), err
}

// handle wraps the running child process.
type handle struct {
	cmd *exec.Cmd
}

// PID returns the child's process ID.
func (h *handle) PID() int { return h.cmd.Process.Pid }

// Terminate sends SIGTERM.
func (h *handle) Terminate() error { return h.cmd.Process.Signal(syscall.SIGTERM) }

// Kill force-kills the process.
func (h *handle) Kill() error { return h.cmd.Process.Kill() }
