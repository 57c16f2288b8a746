// Package result defines the terminal record persisted once per admitted
// request.
package result

import (
	"fmt"
	"time"
)

// Status is the terminal classification of a worker run.
type Status string

// Terminal statuses.
const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusTimeout Status = "timeout"
	StatusKilled  Status = "killed"
)

// Failure reasons attached by the supervisor's kill paths.
const (
	ReasonTimeout          = "timeout"
	ReasonHeartbeatTimeout = "heartbeat-timeout"
	ReasonShutdown         = "shutdown"
)

// TaskResult is written exactly once to results/<requestId>.json and never
// mutated afterwards.
type TaskResult struct {
	RequestID     string     `json:"requestId"`
	Status        Status     `json:"status"`
	Output        string     `json:"output"`
	DurationMs    int64      `json:"durationMs"`
	ExitCode      int        `json:"exitCode"`
	FailureReason string     `json:"failureReason,omitempty"`
	Stats         AgentStats `json:"stats"`
	CompletedAt   time.Time  `json:"completedAt"`
}

// AgentStats is the per-run efficiency snapshot embedded in a TaskResult and
// echoed into the transcript footer.
type AgentStats struct {
	Complexity          string `json:"complexity"`
	ExtensionsApplied   int    `json:"extensionsApplied"`
	EarlyTimeout        bool   `json:"earlyTimeout,omitempty"`
	FinalTimeoutMs      int64  `json:"finalTimeoutMs"`
	WastedBudgetMs      int64  `json:"wastedBudgetMs"`
	OutputBytes         int64  `json:"outputBytes"`
	OutputBursts        int64  `json:"outputBursts"`
	ContextExternalized bool   `json:"contextExternalized"`
	BytesExternalized   int64  `json:"bytesExternalized"`
	BytesTotal          int64  `json:"bytesTotal"`
	HealthCheckMs       int64  `json:"healthCheckMs"`
	StartupMs           int64  `json:"startupMs"`
}

// Classify maps an exit observation to a terminal status. killReason is
// empty for natural exits. Heartbeat kills stay distinct from timeouts
// because they imply a hung process rather than a merely slow task.
func Classify(exitCode int, killReason string) (Status, string) {
	switch killReason {
	case ReasonTimeout:
		return StatusTimeout, ReasonTimeout
	case ReasonHeartbeatTimeout:
		return StatusKilled, ReasonHeartbeatTimeout
	case ReasonShutdown:
		return StatusKilled, ReasonShutdown
	}
	if exitCode == 0 {
		return StatusSuccess, ""
	}
	return StatusFailed, fmt.Sprintf("exit code %d", exitCode)
}
