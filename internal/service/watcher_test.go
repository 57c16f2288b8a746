package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"corral/internal/config"
	"corral/internal/domain/request"
	"corral/internal/domain/result"
)

// watchSpool is an in-memory pending queue for watcher tests.
type watchSpool struct {
	mu         sync.Mutex
	pending    map[string][]byte
	processing map[string][]byte
	discarded  []string
	requeued   []string
}

func newWatchSpool() *watchSpool {
	return &watchSpool{
		pending:    make(map[string][]byte),
		processing: make(map[string][]byte),
	}
}

func (s *watchSpool) drop(name, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[name] = []byte(body)
}

func (s *watchSpool) ListPending() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.pending))
	for n := range s.pending {
		names = append(names, n)
	}
	return names, nil
}

func (s *watchSpool) Claim(name string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.pending[name]
	if !ok {
		return nil, false, nil
	}
	delete(s.pending, name)
	s.processing[name] = data
	return data, true, nil
}

func (s *watchSpool) Requeue(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if data, ok := s.processing[name]; ok {
		delete(s.processing, name)
		s.pending[name] = data
	}
	s.requeued = append(s.requeued, name)
	return nil
}

func (s *watchSpool) Discard(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.processing, name)
	s.discarded = append(s.discarded, name)
	return nil
}

func (s *watchSpool) SaveResult(*result.TaskResult) error         { return nil }
func (s *watchSpool) ReadResult(string) ([]byte, error)           { return nil, nil }
func (s *watchSpool) WriteContext(string, []byte) (string, error) { return "", nil }
func (s *watchSpool) AppendStream(string, []byte) error           { return nil }
func (s *watchSpool) WriteStreamFooter(string, string) error      { return nil }
func (s *watchSpool) RecoverOrphans() (int, error)                { return 0, nil }
func (s *watchSpool) PendingDir() string                          { return "" }

// fakeSpawner scripts admission decisions and records spawn calls.
type fakeSpawner struct {
	mu    sync.Mutex
	admit bool
	calls []string // request IDs in call order
}

func (f *fakeSpawner) Spawn(_ context.Context, _ string, req *request.TaskRequest) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.RequestID)
	return f.admit
}

func (f *fakeSpawner) spawned() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestWatcher(sp *watchSpool, d *fakeSpawner, requeueDelay time.Duration) (*Watcher, *Stats) {
	stats := &Stats{}
	w := NewWatcher(sp, d, stats, config.Watcher{
		PollInterval: 10 * time.Millisecond,
		RequeueDelay: requeueDelay,
		Notify:       false,
	})
	w.requeueCtx = context.Background()
	return w, stats
}

const validRequest = `{"requestId": "req-1", "agentRole": "worker", "task": {"objective": "do a thing"}}`

func TestScanClaimsAndSpawns(t *testing.T) {
	sp := newWatchSpool()
	sp.drop("req-1.json", validRequest)
	d := &fakeSpawner{admit: true}
	w, _ := newTestWatcher(sp, d, time.Millisecond)

	w.scan(context.Background())

	if got := d.spawned(); len(got) != 1 || got[0] != "req-1" {
		t.Errorf("spawned = %v, want [req-1]", got)
	}
	if names, _ := sp.ListPending(); len(names) != 0 {
		t.Errorf("pending not drained: %v", names)
	}
}

func TestScanProcessesInNameOrder(t *testing.T) {
	sp := newWatchSpool()
	sp.drop("b.json", `{"requestId": "req-b", "agentRole": "worker", "task": {"objective": "x"}}`)
	sp.drop("a.json", `{"requestId": "req-a", "agentRole": "worker", "task": {"objective": "x"}}`)
	sp.drop("c.json", `{"requestId": "req-c", "agentRole": "worker", "task": {"objective": "x"}}`)
	d := &fakeSpawner{admit: true}
	w, _ := newTestWatcher(sp, d, time.Millisecond)

	w.scan(context.Background())

	got := d.spawned()
	want := []string{"req-a", "req-b", "req-c"}
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Fatalf("spawn order = %v, want %v", got, want)
		}
	}
}

func TestMalformedRequestDiscardedWithoutRetry(t *testing.T) {
	sp := newWatchSpool()
	sp.drop("bad.json", `{not json at all`)
	d := &fakeSpawner{admit: true}
	w, stats := newTestWatcher(sp, d, time.Millisecond)

	w.scan(context.Background())

	if len(d.spawned()) != 0 {
		t.Error("malformed request must not reach the dispatcher")
	}
	sp.mu.Lock()
	discarded := append([]string(nil), sp.discarded...)
	requeued := len(sp.requeued)
	sp.mu.Unlock()
	if len(discarded) != 1 || discarded[0] != "bad.json" {
		t.Errorf("discarded = %v, want [bad.json]", discarded)
	}
	if requeued != 0 {
		t.Error("malformed request must never be requeued")
	}
	if got := stats.parseErrors.Load(); got != 1 {
		t.Errorf("parseErrors = %d, want 1", got)
	}
}

func TestMissingObjectiveDiscarded(t *testing.T) {
	sp := newWatchSpool()
	sp.drop("bad.json", `{"agentRole": "worker", "task": {}}`)
	d := &fakeSpawner{admit: true}
	w, stats := newTestWatcher(sp, d, time.Millisecond)

	w.scan(context.Background())

	if got := stats.parseErrors.Load(); got != 1 {
		t.Errorf("parseErrors = %d, want 1", got)
	}
}

func TestRejectedRequestRequeuedAfterDelay(t *testing.T) {
	sp := newWatchSpool()
	sp.drop("req-1.json", validRequest)
	d := &fakeSpawner{admit: false}
	w, stats := newTestWatcher(sp, d, 5*time.Millisecond)

	w.scan(context.Background())

	// The file sits in processing/ until the delay elapses.
	if names, _ := sp.ListPending(); len(names) != 0 {
		t.Error("rejected request returned to pending before the delay")
	}

	deadline := time.After(2 * time.Second)
	for {
		if stats.requeued.Load() == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("request never requeued")
		case <-time.After(time.Millisecond):
		}
	}

	names, _ := sp.ListPending()
	if len(names) != 1 || names[0] != "req-1.json" {
		t.Errorf("pending = %v, want [req-1.json]", names)
	}
}

func TestRunPollsUntilCancelled(t *testing.T) {
	sp := newWatchSpool()
	d := &fakeSpawner{admit: true}
	w, _ := newTestWatcher(sp, d, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Dropped after startup: only the poll can find it.
	sp.drop("req-1.json", validRequest)

	deadline := time.After(2 * time.Second)
	for len(d.spawned()) == 0 {
		select {
		case <-deadline:
			t.Fatal("poll never picked up the request")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
