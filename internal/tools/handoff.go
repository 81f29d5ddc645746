package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/HendryAvila/sentinel/internal/continuation"
	"github.com/HendryAvila/sentinel/internal/lenientjson"
	"github.com/HendryAvila/sentinel/internal/metrics"
	"github.com/HendryAvila/sentinel/internal/session"
	"github.com/HendryAvila/sentinel/internal/workflow"
)

// HandoffTool handles the sentinel_handoff MCP tool.
// It is the front door of the workflow: the active role reports its
// finished work, the gate decides, and the next role's instructions come
// back in the result.
type HandoffTool struct {
	registry *session.Registry
	builder  continuation.Builder
	observer TransitionObserver
	recorder *metrics.Recorder
	logger   *zap.Logger
}

// NewHandoffTool creates a HandoffTool.
func NewHandoffTool(registry *session.Registry, builder continuation.Builder, logger *zap.Logger) *HandoffTool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HandoffTool{registry: registry, builder: builder, logger: logger}
}

// SetObserver injects an optional TransitionObserver.
func (t *HandoffTool) SetObserver(obs TransitionObserver) { t.observer = obs }

// SetRecorder injects an optional metrics recorder.
func (t *HandoffTool) SetRecorder(rec *metrics.Recorder) { t.recorder = rec }

// Definition returns the MCP tool definition for registration.
func (t *HandoffTool) Definition() mcp.Tool {
	return mcp.NewTool("sentinel_handoff",
		mcp.WithDescription(
			"Hand off your completed work to the next role in the workflow. "+
				"Call this when your role's work is done. The submission is validated; "+
				"if it is incomplete you stay in your role and get a list of what to fix. "+
				"On success the result contains the instructions for the next role.",
		),
		mcp.WithString("context_json",
			mcp.Required(),
			mcp.Description("JSON object with the fields your role produced, e.g. "+
				`{"createdComponents": ["Navbar", "Hero"], "expectedElements": 18, "designSpecs": "..."}. `+
				"Review roles set their verdict flag (designReviewPassed, testsPassed, testsReviewPassed, "+
				"securityPassed, finalReviewPassed) and give feedback when it is false. "+
				"Set blocked: true with blockedReason when you cannot proceed."),
		),
		mcp.WithString("notes",
			mcp.Description("Short free-text summary of what you did."),
		),
	)
}

// Handle processes the sentinel_handoff tool call.
func (t *HandoffTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw := payloadArg(req, "context_json", "contextJson", "context")
	notes := strings.TrimSpace(req.GetString("notes", ""))

	if isPlaceholder(raw) {
		return mcp.NewToolResultError(
			"Missing required parameter: `context_json`. Submit a JSON object with the fields your role " +
				"produced (for example architectPlan, createdComponents and expectedElements, filesCreated, " +
				"testResults and testsPassed). An empty object is not a handoff.",
		), nil
	}

	sid := SessionID(ctx)
	sess, err := t.registry.Get(ctx, sid)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return mcp.NewToolResultError(
			"No workflow is active for this session. Start one with `sentinel_start_workflow` first.",
		), nil
	}

	release, err := sess.Begin()
	if errors.Is(err, session.ErrBusy) {
		return mcp.NewToolResultError(
			"Handoff failed: a transition is already in progress for this session. Wait for it to finish.",
		), nil
	}
	if err != nil {
		return nil, err
	}
	defer release()

	m := sess.Machine()
	from := m.CurrentRole()

	// Inactive workflows are refused before the payload is parsed.
	if !m.IsActive() {
		res, err := m.HandleAgentCompletion(ctx, workflow.Submission{Notes: notes})
		if err != nil {
			return nil, err
		}
		t.recorder.ObserveHandoff(from, res)
		return failureResult(res), nil
	}

	fields, err := lenientjson.Decode(raw)
	if err != nil {
		res := workflow.TransitionResult{FromState: from, ToState: from, Kind: workflow.KindMalformed, Error: err.Error()}
		t.recorder.ObserveHandoff(from, res)
		return mcp.NewToolResultError(fmt.Sprintf(
			"Invalid JSON in `context_json`: %v\n\nSend a single JSON object, without markdown fences or comments.", err,
		)), nil
	}

	res, err := m.HandleAgentCompletion(ctx, workflow.Submission{Notes: notes, Fields: fields})
	if err != nil {
		t.logger.Error("handoff failed",
			zap.String("session_id", sess.ID()),
			zap.String("role", string(from)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("handling handoff from %s: %w", from, err)
	}
	if !res.Success {
		t.recorder.ObserveHandoff(from, res)
		t.logger.Debug("handoff rejected",
			zap.String("session_id", sess.ID()),
			zap.String("role", string(from)),
			zap.String("kind", string(res.Kind)),
			zap.String("error", res.Error),
		)
		return failureResult(res), nil
	}

	// Persist rolls the machine back when the save fails, so the role that
	// submitted is still current and can submit again.
	if err := t.registry.Persist(ctx, sess); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf(
			"# Handoff not saved\n\n**Role:** %s\n**Reason:** %v\n\nNothing was changed. You are still the %s; submit the same handoff again.",
			from, err, from.Label(),
		)), nil
	}
	t.recorder.ObserveHandoff(from, res)
	t.logger.Info("handoff accepted",
		zap.String("session_id", sess.ID()),
		zap.String("from", string(res.FromState)),
		zap.String("to", string(res.ToState)),
		zap.Bool("sent_back", res.SentBack),
	)
	state, err := m.Snapshot()
	if err != nil {
		return nil, err
	}
	if rec, ok := m.LastTransition(); ok {
		notifyTransition(t.observer, ctx, state, rec)
	}

	next := t.builder.Build(res.ToState, &state.Context)
	sess.AppendTurn(res.ToState, next)

	return mcp.NewToolResultText(successReport(res, notes, fields, next)), nil
}

func failureResult(res workflow.TransitionResult) *mcp.CallToolResult {
	var b strings.Builder
	if res.RequiresHuman() {
		b.WriteString("# Handoff blocked\n\n")
	} else {
		b.WriteString("# Handoff failed\n\n")
	}
	fmt.Fprintf(&b, "**Role:** %s\n", res.FromState)
	fmt.Fprintf(&b, "**Reason:** %s\n\n", res.Error)

	switch res.Kind {
	case workflow.KindValidation:
		b.WriteString("You are still the " + res.FromState.Label() + ". Fix the problems above and call " +
			"`sentinel_handoff` again with the complete context. Do not start over.")
	case workflow.KindBlocked:
		b.WriteString("Stop and ask the user for help. A human can resume the workflow with `sentinel_reset_workflow`.")
	case workflow.KindInactive:
		b.WriteString("Start a new workflow with `sentinel_start_workflow`.")
	case workflow.KindCancelled:
		b.WriteString("Nothing was changed. Submit the handoff again.")
	}
	return mcp.NewToolResultError(b.String())
}

func successReport(res workflow.TransitionResult, notes string, fields map[string]any, next string) string {
	var b strings.Builder
	switch {
	case res.ToState == workflow.RoleBlocked:
		fmt.Fprintf(&b, "# Handoff accepted: %s → BLOCKED\n\n", res.FromState)
	case res.SentBack:
		fmt.Fprintf(&b, "# Handoff complete: %s → %s (sent back)\n\n", res.FromState, res.ToState)
	default:
		fmt.Fprintf(&b, "# Handoff complete: %s → %s\n\n", res.FromState, res.ToState)
	}
	if notes != "" {
		fmt.Fprintf(&b, "**Notes:** %s\n\n", notes)
	}
	b.WriteString("## Submitted context\n\n")
	b.WriteString(renderFields(fields))
	b.WriteString("\n---\n\n")
	b.WriteString(next)
	return b.String()
}
