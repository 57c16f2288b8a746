package service

import "time"

// Context modes reported per agent.
const (
	ContextModeInline       = "inline"
	ContextModeExternalized = "externalized"
)

// AgentStatus is the per-active-agent detail in a status snapshot.
type AgentStatus struct {
	RequestID         string `json:"requestId"`
	Role              string `json:"role"`
	PID               int    `json:"pid,omitempty"`
	Complexity        string `json:"complexity"`
	ElapsedMs         int64  `json:"elapsedMs"`
	TimeoutMs         int64  `json:"timeoutMs"`
	ExtensionsApplied int    `json:"extensionsApplied"`
	SilenceMs         int64  `json:"silenceMs"`
	OutputBytes       int64  `json:"outputBytes"`
	ContextMode       string `json:"contextMode"`
}

// Snapshot is a point-in-time, side-effect-free view of coordinator state.
// It is assembled inside the dispatcher loop, so it is idempotent between
// events except for elapsed-time-derived fields.
type Snapshot struct {
	GeneratedAt       time.Time     `json:"generatedAt"`
	Active            int           `json:"active"`
	MaxConcurrent     int           `json:"maxConcurrent"`
	Counters          StatsSnapshot `json:"counters"`
	ContextEfficiency float64       `json:"contextEfficiency"`
	Agents            []AgentStatus `json:"agents"`
}
