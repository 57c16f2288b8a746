// Package request defines the task request document dropped into the
// pending queue by external producers.
package request

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskRequest is an immutable unit of work. Identity is RequestID.
type TaskRequest struct {
	RequestID       string   `json:"requestId"`
	AgentRole       string   `json:"agentRole"`
	ParentRequestID string   `json:"parentRequestId,omitempty"`
	Task            TaskSpec `json:"task"`
}

// TaskSpec carries the task content. Context is an opaque structured
// payload the coordinator never interprets.
type TaskSpec struct {
	Objective    string          `json:"objective"`
	Context      json.RawMessage `json:"context,omitempty"`
	Requirements []string        `json:"requirements,omitempty"`
}

// ParseError marks a request document as malformed and unrecoverable.
// The watcher deletes such files without retry.
type ParseError struct {
	Name string // source file name
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse request %s: %v", e.Name, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse decodes and validates a request document. A missing requestId is
// synthesized. name is used only for diagnostics.
func Parse(name string, data []byte) (*TaskRequest, error) {
	var req TaskRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &ParseError{Name: name, Err: err}
	}
	if strings.TrimSpace(req.Task.Objective) == "" {
		return nil, &ParseError{Name: name, Err: fmt.Errorf("task.objective is required")}
	}
	if strings.TrimSpace(req.AgentRole) == "" {
		return nil, &ParseError{Name: name, Err: fmt.Errorf("agentRole is required")}
	}
	if req.RequestID == "" {
		req.RequestID = NewID()
	}
	if !validID(req.RequestID) {
		return nil, &ParseError{Name: name, Err: fmt.Errorf("requestId %q contains path characters", req.RequestID)}
	}
	return &req, nil
}

// NewID synthesizes a request ID from the current unix-millis timestamp and
// a random suffix.
func NewID() string {
	return fmt.Sprintf("req-%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// validID rejects IDs that could escape the spool directories when used as
// file names.
func validID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return false
	}
	return id[0] != '.'
}
