package prompts

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// StatusPrompt handles the sentinel-status MCP prompt.
// It instructs the AI to read and present the current workflow state.
type StatusPrompt struct{}

// NewStatusPrompt creates a StatusPrompt.
func NewStatusPrompt() *StatusPrompt {
	return &StatusPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StatusPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("sentinel-status",
		mcp.WithPromptDescription(
			"Check where the workflow stands: current role, past handoffs, "+
				"send-backs, and what happens next.",
		),
	)
}

// Handle processes the sentinel-status prompt request.
func (p *StatusPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: "Workflow Status",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(
					"Please run `sentinel_workflow_status` to check the workflow.\n\n" +
						"Then:\n" +
						"1. Tell me which role is active and whether it still accepts handoffs\n" +
						"2. List any work that reviewers sent back and why\n" +
						"3. If the workflow is BLOCKED, explain the reason and what I need to decide\n" +
						"4. Tell me exactly what happens next",
				),
			},
		},
	}, nil
}
