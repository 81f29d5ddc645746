package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/sentinel/internal/continuation"
	"github.com/HendryAvila/sentinel/internal/session"
	"github.com/HendryAvila/sentinel/internal/workflow"
)

// StartWorkflowTool handles the sentinel_start_workflow MCP tool.
type StartWorkflowTool struct {
	registry    *session.Registry
	builder     continuation.Builder
	initialRole workflow.Role
}

// NewStartWorkflowTool creates a StartWorkflowTool. initialRole is used
// when the call does not name one.
func NewStartWorkflowTool(registry *session.Registry, builder continuation.Builder, initialRole workflow.Role) *StartWorkflowTool {
	if initialRole == "" {
		initialRole = workflow.RoleArchitect
	}
	return &StartWorkflowTool{registry: registry, builder: builder, initialRole: initialRole}
}

// Definition returns the MCP tool definition for registration.
func (t *StartWorkflowTool) Definition() mcp.Tool {
	return mcp.NewTool("sentinel_start_workflow",
		mcp.WithDescription(
			"Start a multi-agent workflow for this session. Work moves through "+
				"Architect → Designer → Design Review → Builder → QA → Test Review → "+
				"Security Sentinel → Final Review, with validated handoffs between roles. "+
				"Fails if a workflow is already active.",
		),
		mcp.WithString("goal",
			mcp.Description("What the workflow should build."),
		),
		mcp.WithString("initial_role",
			mcp.Description("Role to start at (default ARCHITECT). Accepts ARCHITECT, DESIGNER, BUILDER, ..."),
		),
	)
}

// Handle processes the sentinel_start_workflow tool call.
func (t *StartWorkflowTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	goal := strings.TrimSpace(req.GetString("goal", ""))

	role := t.initialRole
	if name := strings.TrimSpace(req.GetString("initial_role", "")); name != "" {
		parsed, err := workflow.ParseRole(name)
		if err != nil || workflow.IsTerminal(parsed) {
			return mcp.NewToolResultError(fmt.Sprintf(
				"Unknown or terminal role %q. Use one of: %s.", name, startableRoles(),
			)), nil
		}
		role = parsed
	}

	sess, err := t.registry.Start(ctx, SessionID(ctx), role, goal)
	switch {
	case errors.Is(err, session.ErrAlreadyActive):
		return mcp.NewToolResultError(
			"A workflow is already active for this session. Check it with `sentinel_workflow_status` " +
				"or continue with `sentinel_handoff`.",
		), nil
	case errors.Is(err, session.ErrBusy):
		return mcp.NewToolResultError("A transition is in progress for this session. Try again shortly."), nil
	case err != nil:
		return nil, fmt.Errorf("starting workflow: %w", err)
	}

	state, err := sess.Snapshot()
	if err != nil {
		return nil, err
	}
	next := t.builder.Build(role, &state.Context)
	sess.AppendTurn(role, next)

	var b strings.Builder
	b.WriteString("# Workflow started\n\n")
	fmt.Fprintf(&b, "**ID:** `%s`\n", state.ID)
	if goal != "" {
		fmt.Fprintf(&b, "**Goal:** %s\n", goal)
	}
	fmt.Fprintf(&b, "**Role:** %s\n\n---\n\n%s", role, next)
	return mcp.NewToolResultText(b.String()), nil
}

func startableRoles() string {
	var names []string
	for _, r := range workflow.RoleOrder {
		if !workflow.IsTerminal(r) {
			names = append(names, string(r))
		}
	}
	return strings.Join(names, ", ")
}
