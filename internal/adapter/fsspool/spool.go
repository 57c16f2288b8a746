// Package fsspool implements the spool port on a plain directory tree.
// Atomic rename is the only synchronization primitive: claiming a request
// is `mv pending/x processing/x`, and losing that race is not an error.
package fsspool

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"corral/internal/domain/result"
)

// ErrResultExists is returned when a terminal result was already persisted
// for the request. Results are written exactly once and never mutated.
var ErrResultExists = errors.New("result already exists")

// truncationMarker terminates a truncated output prefix so readers can tell
// a capped document from a short one.
const truncationMarker = "\n...[output truncated]"

// Spool is a filesystem-backed request queue rooted at a base directory.
type Spool struct {
	pending        string
	processing     string
	results        string
	logs           string
	contexts       string
	resultMaxBytes int
}

// New creates the directory layout under baseDir and returns a Spool.
func New(baseDir string, resultMaxBytes int) (*Spool, error) {
	s := &Spool{
		pending:        filepath.Join(baseDir, "pending"),
		processing:     filepath.Join(baseDir, "processing"),
		results:        filepath.Join(baseDir, "results"),
		logs:           filepath.Join(baseDir, "logs"),
		contexts:       filepath.Join(baseDir, "context"),
		resultMaxBytes: resultMaxBytes,
	}
	for _, dir := range []string{s.pending, s.processing, s.results, s.logs, s.contexts} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return s, nil
}

// PendingDir returns the absolute pending directory.
func (s *Spool) PendingDir() string { return s.pending }

// ListPending returns the base names of request files in pending/.
// Temp files and dotfiles are skipped so producers can stage safely.
func (s *Spool) ListPending() ([]string, error) {
	entries, err := os.ReadDir(s.pending)
	if err != nil {
		return nil, fmt.Errorf("read pending: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// Claim atomically moves pending/name to processing/name and reads it.
// Any rename failure means another claimant (or a producer removal) won;
// that is reported as ok=false, never as an error.
func (s *Spool) Claim(name string) ([]byte, bool, error) {
	src := filepath.Join(s.pending, name)
	dst := filepath.Join(s.processing, name)
	if err := os.Rename(src, dst); err != nil {
		return nil, false, nil
	}
	data, err := os.ReadFile(dst) //nolint:gosec // G304: dst is under the spool root
	if err != nil {
		return nil, false, fmt.Errorf("read claimed %s: %w", name, err)
	}
	return data, true, nil
}

// Requeue moves processing/name back to pending/.
func (s *Spool) Requeue(name string) error {
	src := filepath.Join(s.processing, name)
	dst := filepath.Join(s.pending, name)
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("requeue %s: %w", name, err)
	}
	return nil
}

// Discard deletes processing/name.
func (s *Spool) Discard(name string) error {
	if err := os.Remove(filepath.Join(s.processing, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("discard %s: %w", name, err)
	}
	return nil
}

// SaveResult persists the terminal record via temp-file-plus-rename so no
// reader ever observes a partial document. Output beyond the byte cap is
// truncated to a deterministic prefix.
func (s *Spool) SaveResult(res *result.TaskResult) error {
	final := filepath.Join(s.results, res.RequestID+".json")
	if _, err := os.Stat(final); err == nil {
		return fmt.Errorf("result %s: %w", res.RequestID, ErrResultExists)
	}

	if len(res.Output) > s.resultMaxBytes {
		clipped := *res
		clipped.Output = res.Output[:s.resultMaxBytes] + truncationMarker
		res = &clipped
	}

	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result %s: %w", res.RequestID, err)
	}

	tmp, err := os.CreateTemp(s.results, "."+res.RequestID+".tmp-*")
	if err != nil {
		return fmt.Errorf("temp result %s: %w", res.RequestID, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write result %s: %w", res.RequestID, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close result %s: %w", res.RequestID, err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("publish result %s: %w", res.RequestID, err)
	}
	return nil
}

// ReadResult returns the raw result document for a request ID.
func (s *Spool) ReadResult(requestID string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.results, requestID+".json")) //nolint:gosec // G304: ID validated at parse time
	if err != nil {
		return nil, fmt.Errorf("read result %s: %w", requestID, err)
	}
	return data, nil
}

// WriteContext externalizes a context payload and returns its path.
func (s *Spool) WriteContext(requestID string, payload []byte) (string, error) {
	path := filepath.Join(s.contexts, requestID+".json")
	if err := os.WriteFile(path, payload, 0o640); err != nil {
		return "", fmt.Errorf("write context %s: %w", requestID, err)
	}
	return path, nil
}

// AppendStream appends an output chunk to the request's transcript.
func (s *Spool) AppendStream(requestID string, chunk []byte) error {
	path := filepath.Join(s.logs, requestID+".stream.txt")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640) //nolint:gosec // G304: ID validated at parse time
	if err != nil {
		return fmt.Errorf("open stream %s: %w", requestID, err)
	}
	defer f.Close()
	if _, err := f.Write(chunk); err != nil {
		return fmt.Errorf("append stream %s: %w", requestID, err)
	}
	return nil
}

// WriteStreamFooter appends the terminal footer to the transcript.
func (s *Spool) WriteStreamFooter(requestID string, footer string) error {
	return s.AppendStream(requestID, []byte("\n"+footer+"\n"))
}

// RecoverOrphans moves files stranded in processing/ by a previous crash
// back to pending/ so they are claimed again. At-least-once, not at-most-once.
func (s *Spool) RecoverOrphans() (int, error) {
	entries, err := os.ReadDir(s.processing)
	if err != nil {
		return 0, fmt.Errorf("read processing: %w", err)
	}
	recovered := 0
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if err := os.Rename(
			filepath.Join(s.processing, e.Name()),
			filepath.Join(s.pending, e.Name()),
		); err != nil {
			return recovered, fmt.Errorf("recover %s: %w", e.Name(), err)
		}
		recovered++
	}
	return recovered, nil
}
