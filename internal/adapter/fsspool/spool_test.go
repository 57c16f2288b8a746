package fsspool

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"corral/internal/domain/result"
)

func newTestSpool(t *testing.T) *Spool {
	t.Helper()
	s, err := New(t.TempDir(), 1024)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func dropPending(t *testing.T, s *Spool, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(s.PendingDir(), name), []byte(body), 0o640); err != nil {
		t.Fatalf("write pending file: %v", err)
	}
}

func TestListPendingSkipsNonRequests(t *testing.T) {
	s := newTestSpool(t)
	dropPending(t, s, "req-1.json", `{}`)
	dropPending(t, s, ".req-2.json.tmp", `{}`)
	dropPending(t, s, "notes.txt", `hello`)

	names, err := s.ListPending()
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(names) != 1 || names[0] != "req-1.json" {
		t.Errorf("expected [req-1.json], got %v", names)
	}
}

func TestClaimMovesAndReads(t *testing.T) {
	s := newTestSpool(t)
	dropPending(t, s, "req-1.json", `{"a":1}`)

	data, ok, err := s.Claim("req-1.json")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if !ok {
		t.Fatal("expected claim to succeed")
	}
	if string(data) != `{"a":1}` {
		t.Errorf("unexpected content %q", data)
	}

	if _, err := os.Stat(filepath.Join(s.PendingDir(), "req-1.json")); !errors.Is(err, os.ErrNotExist) {
		t.Error("expected file gone from pending")
	}
	if _, err := os.Stat(filepath.Join(s.processing, "req-1.json")); err != nil {
		t.Errorf("expected file in processing: %v", err)
	}
}

func TestClaimLostRaceIsNotAnError(t *testing.T) {
	s := newTestSpool(t)
	dropPending(t, s, "req-1.json", `{}`)

	if _, ok, _ := s.Claim("req-1.json"); !ok {
		t.Fatal("first claim should win")
	}
	data, ok, err := s.Claim("req-1.json")
	if err != nil {
		t.Fatalf("second claim errored: %v", err)
	}
	if ok || data != nil {
		t.Error("second claim should report ok=false")
	}
}

func TestRequeueReturnsFileToPending(t *testing.T) {
	s := newTestSpool(t)
	dropPending(t, s, "req-1.json", `{}`)
	if _, ok, _ := s.Claim("req-1.json"); !ok {
		t.Fatal("claim failed")
	}

	if err := s.Requeue("req-1.json"); err != nil {
		t.Fatalf("Requeue: %v", err)
	}

	names, _ := s.ListPending()
	if len(names) != 1 {
		t.Errorf("expected 1 pending file after requeue, got %v", names)
	}
}

func TestDiscardIsIdempotent(t *testing.T) {
	s := newTestSpool(t)
	dropPending(t, s, "req-1.json", `{}`)
	if _, ok, _ := s.Claim("req-1.json"); !ok {
		t.Fatal("claim failed")
	}

	if err := s.Discard("req-1.json"); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if err := s.Discard("req-1.json"); err != nil {
		t.Fatalf("second Discard should be a no-op: %v", err)
	}
}

func TestSaveResultWritesOnce(t *testing.T) {
	s := newTestSpool(t)
	res := &result.TaskResult{RequestID: "req-1", Status: result.StatusSuccess, Output: "done"}

	if err := s.SaveResult(res); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	data, err := s.ReadResult("req-1")
	if err != nil {
		t.Fatalf("ReadResult: %v", err)
	}
	var got result.TaskResult
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if got.Status != result.StatusSuccess || got.Output != "done" {
		t.Errorf("unexpected result %+v", got)
	}

	err = s.SaveResult(&result.TaskResult{RequestID: "req-1", Status: result.StatusFailed})
	if !errors.Is(err, ErrResultExists) {
		t.Fatalf("expected ErrResultExists, got %v", err)
	}

	// The losing write must not have clobbered the original.
	data, _ = s.ReadResult("req-1")
	_ = json.Unmarshal(data, &got)
	if got.Status != result.StatusSuccess {
		t.Errorf("original result was overwritten: %+v", got)
	}
}

func TestSaveResultTruncatesOutput(t *testing.T) {
	s := newTestSpool(t)
	big := strings.Repeat("x", 5000)
	if err := s.SaveResult(&result.TaskResult{RequestID: "req-big", Output: big}); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	data, err := s.ReadResult("req-big")
	if err != nil {
		t.Fatalf("ReadResult: %v", err)
	}
	var got result.TaskResult
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !strings.HasSuffix(got.Output, truncationMarker) {
		t.Error("expected truncation marker suffix")
	}
	if len(got.Output) != 1024+len(truncationMarker) {
		t.Errorf("output length = %d, want %d", len(got.Output), 1024+len(truncationMarker))
	}
}

func TestSaveResultTruncationBoundary(t *testing.T) {
	s := newTestSpool(t)

	// Exactly at the cap: stored verbatim, no marker.
	atCap := strings.Repeat("a", 1024)
	if err := s.SaveResult(&result.TaskResult{RequestID: "req-at", Output: atCap}); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	// One byte over: capped prefix plus the marker.
	overCap := strings.Repeat("b", 1025)
	if err := s.SaveResult(&result.TaskResult{RequestID: "req-over", Output: overCap}); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	var got result.TaskResult
	data, _ := s.ReadResult("req-at")
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Output != atCap {
		t.Error("at-cap output must be stored verbatim without a marker")
	}

	data, _ = s.ReadResult("req-over")
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !strings.HasSuffix(got.Output, truncationMarker) {
		t.Error("over-cap output must carry the truncation marker")
	}
	if !strings.HasPrefix(got.Output, strings.Repeat("b", 1024)) {
		t.Error("truncation must preserve the deterministic prefix")
	}
}

func TestSaveResultLeavesNoTempFiles(t *testing.T) {
	s := newTestSpool(t)
	if err := s.SaveResult(&result.TaskResult{RequestID: "req-1"}); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	entries, _ := os.ReadDir(s.results)
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestWriteContextReturnsReadablePath(t *testing.T) {
	s := newTestSpool(t)
	path, err := s.WriteContext("req-1", []byte(`{"k":"v"}`))
	if err != nil {
		t.Fatalf("WriteContext: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read context back: %v", err)
	}
	if string(data) != `{"k":"v"}` {
		t.Errorf("unexpected context %q", data)
	}
}

func TestAppendStreamAndFooter(t *testing.T) {
	s := newTestSpool(t)
	if err := s.AppendStream("req-1", []byte("chunk one\n")); err != nil {
		t.Fatalf("AppendStream: %v", err)
	}
	if err := s.AppendStream("req-1", []byte("chunk two\n")); err != nil {
		t.Fatalf("AppendStream: %v", err)
	}
	if err := s.WriteStreamFooter("req-1", "--- done ---"); err != nil {
		t.Fatalf("WriteStreamFooter: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(s.logs, "req-1.stream.txt"))
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "chunk one\nchunk two\n") {
		t.Errorf("chunks missing or reordered: %q", text)
	}
	if !strings.HasSuffix(text, "--- done ---\n") {
		t.Errorf("footer missing: %q", text)
	}
}

func TestRecoverOrphans(t *testing.T) {
	s := newTestSpool(t)
	dropPending(t, s, "req-1.json", `{}`)
	dropPending(t, s, "req-2.json", `{}`)
	for _, n := range []string{"req-1.json", "req-2.json"} {
		if _, ok, _ := s.Claim(n); !ok {
			t.Fatalf("claim %s failed", n)
		}
	}

	n, err := s.RecoverOrphans()
	if err != nil {
		t.Fatalf("RecoverOrphans: %v", err)
	}
	if n != 2 {
		t.Errorf("recovered = %d, want 2", n)
	}
	names, _ := s.ListPending()
	if len(names) != 2 {
		t.Errorf("expected 2 pending after recovery, got %v", names)
	}
}
