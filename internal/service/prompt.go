package service

import (
	"fmt"
	"strings"

	"corral/internal/domain/request"
	"corral/internal/port/spool"
)

// PromptInput is the worker input text plus the externalization outcome the
// coordinator tracks for efficiency reporting.
type PromptInput struct {
	Text                string
	ContextExternalized bool
	ContextPath         string
	BytesExternalized   int64
	BytesTotal          int64
}

// PromptBuilder turns a task request into worker input text. The semantic
// content of prompts is a collaborator concern; the coordinator only cares
// about the externalization decision.
type PromptBuilder interface {
	Build(req *request.TaskRequest) (*PromptInput, error)
}

// SpoolPromptBuilder is the default builder. Context payloads above the
// inline threshold are written to context/<requestId>.json and referenced
// by path instead of being embedded.
type SpoolPromptBuilder struct {
	spool     spool.Spool
	inlineMax int
}

// NewSpoolPromptBuilder creates the default prompt builder.
func NewSpoolPromptBuilder(sp spool.Spool, inlineMaxBytes int) *SpoolPromptBuilder {
	return &SpoolPromptBuilder{spool: sp, inlineMax: inlineMaxBytes}
}

// Build composes the worker input and decides context placement.
func (b *SpoolPromptBuilder) Build(req *request.TaskRequest) (*PromptInput, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are acting as: %s\n\n", req.AgentRole)
	fmt.Fprintf(&sb, "Objective:\n%s\n", req.Task.Objective)

	if len(req.Task.Requirements) > 0 {
		sb.WriteString("\nRequirements:\n")
		for i, r := range req.Task.Requirements {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, r)
		}
	}

	in := &PromptInput{BytesTotal: int64(len(req.Task.Context))}

	if len(req.Task.Context) > 0 {
		if len(req.Task.Context) > b.inlineMax {
			path, err := b.spool.WriteContext(req.RequestID, req.Task.Context)
			if err != nil {
				return nil, fmt.Errorf("externalize context: %w", err)
			}
			in.ContextExternalized = true
			in.ContextPath = path
			in.BytesExternalized = int64(len(req.Task.Context))
			fmt.Fprintf(&sb, "\nContext: read the JSON file at %s\n", path)
		} else {
			fmt.Fprintf(&sb, "\nContext:\n%s\n", req.Task.Context)
		}
	}

	in.Text = sb.String()
	return in, nil
}
