// Package agent holds the runtime classification and timeout policy applied
// to spawned worker processes.
package agent

import (
	"strings"
	"time"
)

// Bucket is the coarse complexity classification of a request. It selects
// the initial timeout budget; all buckets share one hard ceiling.
type Bucket string

// Complexity buckets.
const (
	Simple   Bucket = "simple"
	Moderate Bucket = "moderate"
	Complex  Bucket = "complex"
)

// complexSignals are objective keywords that indicate multi-step work
// regardless of text length.
var complexSignals = []string{
	"refactor", "architecture", "migrate", "redesign",
	"end-to-end", "implement", "integrate",
}

// simpleSignals are objective keywords that indicate trivial edits.
var simpleSignals = []string{
	"typo", "rename", "comment", "format", "bump",
}

// Classify scores a request into a complexity bucket using a heuristic over
// the objective text, the requirement count, and the context payload size.
func Classify(objective string, requirements []string, contextBytes int) Bucket {
	lower := strings.ToLower(objective)

	for _, kw := range simpleSignals {
		if strings.Contains(lower, kw) && len(requirements) <= 1 {
			return Simple
		}
	}
	for _, kw := range complexSignals {
		if strings.Contains(lower, kw) {
			return Complex
		}
	}

	weight := len(objective)
	for _, r := range requirements {
		weight += len(r)
	}
	weight += contextBytes / 64

	switch {
	case weight < 120 && len(requirements) <= 1:
		return Simple
	case weight > 600 || len(requirements) >= 5:
		return Complex
	default:
		return Moderate
	}
}

// TimeoutPolicy binds each bucket to its initial timeout budget. Extension
// grows a live agent's budget in fixed steps; Max caps every budget.
type TimeoutPolicy struct {
	Simple    time.Duration
	Moderate  time.Duration
	Complex   time.Duration
	Max       time.Duration
	Extension time.Duration
}

// Initial returns the starting timeout budget for a bucket, never above Max.
func (p TimeoutPolicy) Initial(b Bucket) time.Duration {
	var d time.Duration
	switch b {
	case Simple:
		d = p.Simple
	case Complex:
		d = p.Complex
	default:
		d = p.Moderate
	}
	return min(d, p.Max)
}

// Extend returns the budget grown by one extension step, capped at Max.
// The returned value never decreases.
func (p TimeoutPolicy) Extend(current time.Duration) time.Duration {
	next := current + p.Extension
	if next > p.Max {
		next = p.Max
	}
	return max(next, current)
}
