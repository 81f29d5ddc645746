package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/sentinel/internal/continuation"
	"github.com/HendryAvila/sentinel/internal/gate"
	"github.com/HendryAvila/sentinel/internal/session"
	"github.com/HendryAvila/sentinel/internal/workflow"
)

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func (f *fixture) handoffWith(t *testing.T, fields map[string]any) (text string, isErr bool) {
	t.Helper()
	result := call(t, f.handoff.Handle, map[string]interface{}{"context_json": mustJSON(t, fields)})
	return getResultText(result), isErrorResult(result)
}

// --- Front-door checks ---

func TestHandoffTool_Definition(t *testing.T) {
	def := newFixture(t).handoff.Definition()
	assert.Equal(t, "sentinel_handoff", def.Name)
	assert.Contains(t, def.InputSchema.Required, "context_json")
}

func TestHandoffTool_MissingContext(t *testing.T) {
	f := newFixture(t)
	f.startAt(t, workflow.RoleArchitect)

	for _, raw := range []string{"", "{}", "  { }  "} {
		result := call(t, f.handoff.Handle, map[string]interface{}{"context_json": raw, "notes": "done"})
		require.True(t, isErrorResult(result))
		assert.Contains(t, getResultText(result), "Missing required parameter: `context_json`")
	}
	assert.Equal(t, workflow.RoleArchitect, f.currentRole(t))
}

func TestHandoffTool_NoWorkflow(t *testing.T) {
	f := newFixture(t)
	text, isErr := f.handoffWith(t, map[string]any{"architectPlan": "x"})
	assert.True(t, isErr)
	assert.Contains(t, text, "sentinel_start_workflow")
}

func TestHandoffTool_InvalidJSON(t *testing.T) {
	f := newFixture(t)
	f.startAt(t, workflow.RoleArchitect)

	result := call(t, f.handoff.Handle, map[string]interface{}{"context_json": "plan: [[["})
	require.True(t, isErrorResult(result))
	assert.Contains(t, getResultText(result), "Invalid JSON in `context_json`")
	assert.Equal(t, workflow.RoleArchitect, f.currentRole(t))
}

func TestHandoffTool_LenientPayload(t *testing.T) {
	f := newFixture(t)
	f.startAt(t, workflow.RoleArchitect)

	raw := "```json\n{architectPlan: 'two pages', needsDesign: false,}\n```"
	result := call(t, f.handoff.Handle, map[string]interface{}{"context_json": raw})
	require.False(t, isErrorResult(result), getResultText(result))
	assert.Equal(t, workflow.RoleBuilder, f.currentRole(t))
}

func TestHandoffTool_InactiveRejectedBeforeParsing(t *testing.T) {
	f := newFixture(t)
	f.startAt(t, workflow.RoleArchitectReviewFinal)

	text, isErr := f.handoffWith(t, map[string]any{"finalReviewPassed": true})
	require.False(t, isErr, text)
	assert.Contains(t, text, "ARCHITECT_REVIEW_FINAL → COMPLETED")
	assert.Contains(t, text, "Workflow completed")

	result := call(t, f.handoff.Handle, map[string]interface{}{"context_json": "not json at all"})
	require.True(t, isErrorResult(result))
	out := getResultText(result)
	assert.Contains(t, out, "Handoff failed")
	assert.Contains(t, out, "not active")
	assert.NotContains(t, out, "Invalid JSON")
	assert.Equal(t, workflow.RoleCompleted, f.currentRole(t))
}

// --- Routing through the tool ---

func TestHandoffTool_ArchitectRouting(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]any
		want   workflow.Role
	}{
		{"needs design", map[string]any{"needsDesign": true, "hasUI": true}, workflow.RoleDesigner},
		{"no design", map[string]any{"needsDesign": false}, workflow.RoleBuilder},
		{"plan with design", map[string]any{"architectPlan": "site", "needsDesign": true}, workflow.RoleDesigner},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.startAt(t, workflow.RoleArchitect)

			text, isErr := f.handoffWith(t, tt.fields)
			require.False(t, isErr, text)
			assert.Equal(t, tt.want, f.currentRole(t))
		})
	}
}

func TestHandoffTool_DesignerGate(t *testing.T) {
	f := newFixture(t)
	f.startAt(t, workflow.RoleDesigner)

	text, isErr := f.handoffWith(t, map[string]any{"expectedElements": 0, "createdComponents": []any{}})
	assert.True(t, isErr)
	assert.Contains(t, text, "Handoff failed")
	assert.Equal(t, workflow.RoleDesigner, f.currentRole(t))

	first, isErr := f.handoffWith(t, map[string]any{"expectedElements": 10, "createdComponents": []any{"Hero"}})
	require.True(t, isErr)
	assert.Contains(t, first, "10")
	assert.Contains(t, first, "15")
	before, err := f.store.Load(context.Background(), DefaultSessionID)
	require.NoError(t, err)

	second, isErr := f.handoffWith(t, map[string]any{"expectedElements": 10, "createdComponents": []any{"Hero"}})
	require.True(t, isErr)
	assert.Equal(t, first, second)
	after, err := f.store.Load(context.Background(), DefaultSessionID)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	text, isErr = f.handoffWith(t, map[string]any{"expectedElements": 20, "createdComponents": twentyComponents()})
	require.False(t, isErr, text)
	assert.Equal(t, workflow.RoleDesignReview, f.currentRole(t))

	n, err := testutil.GatherAndCount(f.recorder.Registry(), "sentinel_handoffs_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one series for rejections and one for success")
}

func TestHandoffTool_DesignSpecsReachBuilder(t *testing.T) {
	f := newFixture(t)
	f.startAt(t, workflow.RoleDesigner)
	specs := "Primary #1E40AF; Inter 16px; 8px spacing grid"

	text, isErr := f.handoffWith(t, map[string]any{
		"expectedElements":  20,
		"createdComponents": twentyComponents(),
		"designSpecs":       specs,
	})
	require.False(t, isErr, text)

	text, isErr = f.handoffWith(t, map[string]any{"designReviewPassed": true})
	require.False(t, isErr, text)
	assert.Contains(t, text, "DESIGN_REVIEW → BUILDER")
	assert.Contains(t, text, specs)
}

func TestHandoffTool_ApprovalWithFeedbackIsFirstArrival(t *testing.T) {
	f := newFixture(t)
	f.startAt(t, workflow.RoleDesigner)
	specs := "Primary #0F766E; Inter 16px"

	text, isErr := f.handoffWith(t, map[string]any{
		"expectedElements":  20,
		"createdComponents": twentyComponents(),
		"designSpecs":       specs,
	})
	require.False(t, isErr, text)

	text, isErr = f.handoffWith(t, map[string]any{"designReviewPassed": true, "feedback": "looks great"})
	require.False(t, isErr, text)
	assert.Equal(t, workflow.RoleBuilder, f.currentRole(t))
	assert.Contains(t, text, "DESIGN_REVIEW → BUILDER")
	assert.NotContains(t, text, "(sent back)")
	assert.NotContains(t, text, "Returned to")
	assert.NotContains(t, text, "DO NOT start over")
	assert.Contains(t, text, specs)

	state, err := f.store.Load(context.Background(), DefaultSessionID)
	require.NoError(t, err)
	assert.True(t, state.Context.Feedback.Empty())
	require.NotEmpty(t, state.Context.Notes)
	assert.Equal(t, "Feedback: looks great", state.Context.Notes[len(state.Context.Notes)-1].Text)
}

func TestHandoffTool_SendBackWithGaps(t *testing.T) {
	f := newFixture(t)
	f.startAt(t, workflow.RoleDesignReview)

	text, isErr := f.handoffWith(t, map[string]any{
		"designReviewPassed": false,
		"missingComponents":  []any{"nav bar"},
		"feedback":           "add nav",
	})
	require.False(t, isErr, text)
	assert.Equal(t, workflow.RoleDesigner, f.currentRole(t))
	assert.Contains(t, text, "(sent back)")
	assert.Contains(t, text, "nav bar")
	assert.Contains(t, strings.ToLower(text), "do not start over")

	sess, err := f.registry.Get(context.Background(), DefaultSessionID)
	require.NoError(t, err)
	turns := sess.Turns()
	require.NotEmpty(t, turns)
	last := turns[len(turns)-1]
	assert.Equal(t, workflow.RoleDesigner, last.Role)
	assert.Contains(t, last.Text, "nav bar")

	history, err := f.store.History(context.Background(), DefaultSessionID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].SentBack)
	assert.Equal(t, "add nav", history[0].Feedback)
}

// diskFullStore fails every Save while full is set.
type diskFullStore struct {
	*workflow.MemStore
	full bool
}

func (s *diskFullStore) Save(ctx context.Context, state *workflow.State) error {
	if s.full {
		return errors.New("disk full")
	}
	return s.MemStore.Save(ctx, state)
}

func TestHandoffTool_SaveFailureLeavesRoleUnchanged(t *testing.T) {
	store := &diskFullStore{MemStore: workflow.NewMemStore()}
	registry := session.NewRegistry(store, gate.New(gate.DefaultConfig(), nil, nil), nil)
	builder := continuation.New(gate.DefaultMinElements, gate.DefaultCategories())
	start := NewStartWorkflowTool(registry, builder, workflow.RoleArchitect)
	handoff := NewHandoffTool(registry, builder, nil)
	ctx := context.Background()

	result := call(t, start.Handle, map[string]interface{}{"goal": "landing page"})
	require.False(t, isErrorResult(result), getResultText(result))
	sess, err := registry.Get(ctx, DefaultSessionID)
	require.NoError(t, err)
	turnsBefore := len(sess.Turns())

	store.full = true
	args := map[string]interface{}{"context_json": `{"architectPlan": "two pages", "needsDesign": true}`}
	result = call(t, handoff.Handle, args)
	assert.True(t, isErrorResult(result))
	assert.Contains(t, getResultText(result), "Handoff not saved")
	assert.Contains(t, getResultText(result), "disk full")

	inMemory, err := sess.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, workflow.RoleArchitect, inMemory.CurrentRole)
	assert.Empty(t, inMemory.History)
	assert.Empty(t, inMemory.Context.ArchitectPlan)
	assert.Len(t, sess.Turns(), turnsBefore)

	stored, err := store.Load(ctx, DefaultSessionID)
	require.NoError(t, err)
	assert.Equal(t, workflow.RoleArchitect, stored.CurrentRole)

	// Once the disk recovers, the same handoff goes through.
	store.full = false
	result = call(t, handoff.Handle, args)
	require.False(t, isErrorResult(result), getResultText(result))
	assert.Contains(t, getResultText(result), "ARCHITECT → DESIGNER")

	stored, err = store.Load(ctx, DefaultSessionID)
	require.NoError(t, err)
	assert.Equal(t, workflow.RoleDesigner, stored.CurrentRole)
	assert.Len(t, stored.History, 1)
}

// --- Blocking and reset ---

func TestHandoffTool_BlockedThenReset(t *testing.T) {
	f := newFixture(t)
	f.startAt(t, workflow.RoleBuilder)

	text, isErr := f.handoffWith(t, map[string]any{"cannotProceed": true, "reason": "missing API credentials"})
	require.False(t, isErr, text)
	assert.Contains(t, text, "BUILDER → BLOCKED")
	assert.Contains(t, text, "Human intervention is required")
	assert.Equal(t, workflow.RoleBlocked, f.currentRole(t))

	text, isErr = f.handoffWith(t, map[string]any{"filesCreated": []any{"main.go"}})
	assert.True(t, isErr)
	assert.Contains(t, text, "Handoff blocked")
	assert.Contains(t, text, "missing API credentials")

	result := call(t, f.reset.Handle, map[string]interface{}{"role": "builder", "reason": "credentials added"})
	require.False(t, isErrorResult(result), getResultText(result))
	assert.Contains(t, getResultText(result), "Workflow resumed at BUILDER")
	assert.Equal(t, workflow.RoleBuilder, f.currentRole(t))

	text, isErr = f.handoffWith(t, map[string]any{"filesCreated": []any{"main.go"}})
	require.False(t, isErr, text)
	assert.Equal(t, workflow.RoleQAEngineer, f.currentRole(t))
}

func TestHandoffTool_RepeatedSendBacksBlock(t *testing.T) {
	f := newFixture(t, workflow.WithMaxReviewCycles(1))
	f.startAt(t, workflow.RoleQAEngineer)

	fail := map[string]any{"testResults": "3 failing", "testsPassed": false}
	text, isErr := f.handoffWith(t, fail)
	require.False(t, isErr, text)
	assert.Equal(t, workflow.RoleBuilder, f.currentRole(t))

	text, isErr = f.handoffWith(t, map[string]any{"implementationSummary": "fixed"})
	require.False(t, isErr, text)

	text, isErr = f.handoffWith(t, fail)
	require.False(t, isErr, text)
	assert.Equal(t, workflow.RoleBlocked, f.currentRole(t))
}

// --- Start / status ---

func TestStartWorkflowTool_Twice(t *testing.T) {
	f := newFixture(t)
	f.startAt(t, workflow.RoleArchitect)

	result := call(t, f.start.Handle, map[string]interface{}{})
	assert.True(t, isErrorResult(result))
	assert.Contains(t, getResultText(result), "already active")
}

func TestStartWorkflowTool_BadRole(t *testing.T) {
	f := newFixture(t)
	result := call(t, f.start.Handle, map[string]interface{}{"initial_role": "COMPLETED"})
	assert.True(t, isErrorResult(result))
	assert.Contains(t, getResultText(result), "ARCHITECT")
}

func TestWorkflowStatusTool(t *testing.T) {
	f := newFixture(t)
	result := call(t, f.status.Handle, map[string]interface{}{})
	assert.True(t, isErrorResult(result))

	f.startAt(t, workflow.RoleArchitect)
	text, isErr := f.handoffWith(t, map[string]any{"architectPlan": "two pages", "hasUI": true, "brand": "acme"})
	require.False(t, isErr, text)

	result = call(t, f.status.Handle, map[string]interface{}{})
	require.False(t, isErrorResult(result))
	out := getResultText(result)
	assert.Contains(t, out, "**Current role:** DESIGNER")
	assert.Contains(t, out, "**Goal:** landing page")
	assert.Contains(t, out, "| 1 | ARCHITECT | DESIGNER |")
	assert.Contains(t, out, "- **architectPlan**: two pages")
	assert.Contains(t, out, "- **brand**: acme")
}
