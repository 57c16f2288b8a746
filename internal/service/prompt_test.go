package service

import (
	"strings"
	"testing"

	"corral/internal/domain/request"
)

func TestBuildInlinesSmallContext(t *testing.T) {
	b := NewSpoolPromptBuilder(newFakeSpool(), 4096)
	req := &request.TaskRequest{
		RequestID: "req-1",
		AgentRole: "reviewer",
		Task: request.TaskSpec{
			Objective:    "review the diff",
			Context:      []byte(`{"diff": "small"}`),
			Requirements: []string{"check error paths", "check naming"},
		},
	}

	in, err := b.Build(req)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if in.ContextExternalized {
		t.Error("small context must stay inline")
	}
	if in.BytesExternalized != 0 {
		t.Errorf("bytesExternalized = %d, want 0", in.BytesExternalized)
	}
	if in.BytesTotal != int64(len(req.Task.Context)) {
		t.Errorf("bytesTotal = %d", in.BytesTotal)
	}
	if !strings.Contains(in.Text, "You are acting as: reviewer") {
		t.Error("role header missing")
	}
	if !strings.Contains(in.Text, "review the diff") {
		t.Error("objective missing")
	}
	if !strings.Contains(in.Text, "1. check error paths") || !strings.Contains(in.Text, "2. check naming") {
		t.Error("requirements not numbered")
	}
	if !strings.Contains(in.Text, `{"diff": "small"}`) {
		t.Error("context payload not inlined")
	}
}

func TestBuildExternalizesLargeContext(t *testing.T) {
	b := NewSpoolPromptBuilder(newFakeSpool(), 64)
	payload := `{"blob": "` + strings.Repeat("x", 200) + `"}`
	req := &request.TaskRequest{
		RequestID: "req-1",
		AgentRole: "worker",
		Task: request.TaskSpec{
			Objective: "process the blob",
			Context:   []byte(payload),
		},
	}

	in, err := b.Build(req)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !in.ContextExternalized {
		t.Fatal("large context must be externalized")
	}
	if in.BytesExternalized != int64(len(payload)) {
		t.Errorf("bytesExternalized = %d, want %d", in.BytesExternalized, len(payload))
	}
	if in.ContextPath == "" {
		t.Error("context path missing")
	}
	if strings.Contains(in.Text, payload) {
		t.Error("payload must not be embedded when externalized")
	}
	if !strings.Contains(in.Text, in.ContextPath) {
		t.Error("prompt must reference the context file path")
	}
}

func TestBuildOmitsEmptyContext(t *testing.T) {
	b := NewSpoolPromptBuilder(newFakeSpool(), 64)
	req := &request.TaskRequest{
		RequestID: "req-1",
		AgentRole: "worker",
		Task:      request.TaskSpec{Objective: "no context here"},
	}

	in, err := b.Build(req)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if strings.Contains(in.Text, "Context") {
		t.Error("prompt mentions context for a request without one")
	}
	if in.BytesTotal != 0 {
		t.Errorf("bytesTotal = %d, want 0", in.BytesTotal)
	}
}
