package prompts

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func promptText(t *testing.T, res *mcp.GetPromptResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Messages, 1)
	tc, ok := res.Messages[0].Content.(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestStartPrompt(t *testing.T) {
	p := NewStartPrompt(15)
	assert.Equal(t, "sentinel-start", p.Definition().Name)

	req := mcp.GetPromptRequest{}
	req.Params.Arguments = map[string]string{"goal": "a pricing page", "initial_role": "DESIGNER"}
	res, err := p.Handle(context.Background(), req)
	require.NoError(t, err)

	text := promptText(t, res)
	assert.Contains(t, text, "goal='a pricing page'")
	assert.Contains(t, text, "initial_role='DESIGNER'")
	assert.Contains(t, text, "at least 15 elements")
	assert.Equal(t, "Start workflow: a pricing page", res.Description)
}

func TestStartPrompt_Defaults(t *testing.T) {
	res, err := NewStartPrompt(20).Handle(context.Background(), mcp.GetPromptRequest{})
	require.NoError(t, err)
	assert.Contains(t, promptText(t, res), "initial_role='ARCHITECT'")
}

func TestStatusPrompt(t *testing.T) {
	p := NewStatusPrompt()
	assert.Equal(t, "sentinel-status", p.Definition().Name)

	res, err := p.Handle(context.Background(), mcp.GetPromptRequest{})
	require.NoError(t, err)
	assert.Contains(t, promptText(t, res), "sentinel_workflow_status")
}
