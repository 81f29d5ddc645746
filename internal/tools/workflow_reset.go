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

// ResetWorkflowTool handles the sentinel_reset_workflow MCP tool.
// It is the manual way out of BLOCKED: a human names the role that should
// pick the work up again and the accumulated context is kept.
type ResetWorkflowTool struct {
	registry *session.Registry
	builder  continuation.Builder
	observer TransitionObserver
}

// NewResetWorkflowTool creates a ResetWorkflowTool.
func NewResetWorkflowTool(registry *session.Registry, builder continuation.Builder) *ResetWorkflowTool {
	return &ResetWorkflowTool{registry: registry, builder: builder}
}

// SetObserver injects an optional TransitionObserver.
func (t *ResetWorkflowTool) SetObserver(obs TransitionObserver) { t.observer = obs }

// Definition returns the MCP tool definition for registration.
func (t *ResetWorkflowTool) Definition() mcp.Tool {
	return mcp.NewTool("sentinel_reset_workflow",
		mcp.WithDescription(
			"Resume a BLOCKED or COMPLETED workflow at a named role, keeping everything "+
				"accumulated so far. Only use this after a human has resolved the blocking issue.",
		),
		mcp.WithString("role",
			mcp.Required(),
			mcp.Description("Role that picks the work up, e.g. BUILDER or DESIGNER."),
		),
		mcp.WithString("reason",
			mcp.Description("What the human changed or decided."),
		),
	)
}

// Handle processes the sentinel_reset_workflow tool call.
func (t *ResetWorkflowTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := strings.TrimSpace(req.GetString("role", ""))
	reason := strings.TrimSpace(req.GetString("reason", ""))
	if name == "" {
		return mcp.NewToolResultError("'role' is required: name the role that should resume the work"), nil
	}
	role, err := workflow.ParseRole(name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Unknown role %q. Use one of: %s.", name, startableRoles())), nil
	}

	sess, err := t.registry.Get(ctx, SessionID(ctx))
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return mcp.NewToolResultError("No workflow found for this session. Start one with `sentinel_start_workflow`."), nil
	}

	release, err := sess.Begin()
	if errors.Is(err, session.ErrBusy) {
		return mcp.NewToolResultError("A transition is in progress for this session. Try again shortly."), nil
	}
	if err != nil {
		return nil, err
	}
	defer release()

	m := sess.Machine()
	if err := m.Reset(role, reason); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Reset refused: %v", err)), nil
	}
	if err := t.registry.Persist(ctx, sess); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Reset not saved: %v. The workflow is unchanged; try again.", err)), nil
	}

	state, err := m.Snapshot()
	if err != nil {
		return nil, err
	}
	if rec, ok := m.LastTransition(); ok {
		notifyTransition(t.observer, ctx, state, rec)
	}
	next := t.builder.Build(role, &state.Context)
	sess.AppendTurn(role, next)

	return mcp.NewToolResultText(fmt.Sprintf("# Workflow resumed at %s\n\n---\n\n%s", role, next)), nil
}
