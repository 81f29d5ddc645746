package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/sentinel/internal/session"
	"github.com/HendryAvila/sentinel/internal/workflow"
)

// WorkflowStatusTool handles the sentinel_workflow_status MCP tool.
// It shows the current role, the transition history and the accumulated
// context of this session's workflow.
type WorkflowStatusTool struct {
	registry *session.Registry
}

// NewWorkflowStatusTool creates a WorkflowStatusTool.
func NewWorkflowStatusTool(registry *session.Registry) *WorkflowStatusTool {
	return &WorkflowStatusTool{registry: registry}
}

// Definition returns the MCP tool definition for registration.
func (t *WorkflowStatusTool) Definition() mcp.Tool {
	return mcp.NewTool("sentinel_workflow_status",
		mcp.WithDescription(
			"Show this session's workflow: current role, whether it accepts handoffs, "+
				"the transition history and the accumulated context.",
		),
	)
}

// Handle processes the sentinel_workflow_status tool call.
func (t *WorkflowStatusTool) Handle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := t.registry.Get(ctx, SessionID(ctx))
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return mcp.NewToolResultError("No workflow found for this session. Start one with `sentinel_start_workflow`."), nil
	}
	state, err := sess.Snapshot()
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(RenderStatus(state)), nil
}

// RenderStatus formats a workflow state as markdown.
func RenderStatus(state *workflow.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Workflow `%s`\n\n", state.ID)
	if state.Goal != "" {
		fmt.Fprintf(&b, "**Goal:** %s\n", state.Goal)
	}
	fmt.Fprintf(&b, "**Current role:** %s (%s)\n", state.CurrentRole, state.CurrentRole.Label())
	status := "active"
	switch {
	case state.CurrentRole == workflow.RoleBlocked:
		status = "blocked, human intervention required"
	case state.CurrentRole == workflow.RoleCompleted:
		status = "completed"
	case !state.Active:
		status = "inactive"
	}
	fmt.Fprintf(&b, "**Status:** %s\n", status)
	if reason := strings.TrimSpace(string(state.Context.BlockedReason)); reason != "" {
		fmt.Fprintf(&b, "**Blocked reason:** %s\n", reason)
	}
	fmt.Fprintf(&b, "**Started:** %s\n**Updated:** %s\n\n", state.StartedAt, state.UpdatedAt)

	b.WriteString("## History\n\n")
	if len(state.History) == 0 {
		b.WriteString("No transitions yet.\n\n")
	} else {
		b.WriteString("| # | From | To | When | Note |\n")
		b.WriteString("|---|------|----|------|------|\n")
		for i, rec := range state.History {
			note := rec.Reason
			if rec.SentBack {
				note = strings.TrimSpace("sent back " + rec.Feedback)
			}
			fmt.Fprintf(&b, "| %d | %s | %s | %s | %s |\n", i+1, rec.From, rec.To, rec.At, oneLine(note))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Accumulated context\n\n")
	b.WriteString(renderFields(contextFields(state.Context)))
	return b.String()
}

// contextFields flattens a context into the generic shape renderFields takes.
// notes and extra are shown as regular fields.
func contextFields(c workflow.HandoffContext) map[string]any {
	data, err := json.Marshal(c)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	if extra, ok := m["extra"].(map[string]any); ok {
		delete(m, "extra")
		for k, v := range extra {
			if _, taken := m[k]; !taken {
				m[k] = v
			}
		}
	}
	return m
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	const max = 80
	if len(s) > max {
		return s[:max-3] + "..."
	}
	return s
}
