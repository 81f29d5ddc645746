// Package prompts implements MCP prompt handlers for the handoff workflow.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// StartPrompt handles the sentinel-start MCP prompt.
// It guides the AI to start a workflow and play the first role.
type StartPrompt struct {
	minElements int
}

// NewStartPrompt creates a StartPrompt. minElements is quoted to the
// Designer so the threshold is known up front.
func NewStartPrompt(minElements int) *StartPrompt {
	return &StartPrompt{minElements: minElements}
}

// Definition returns the MCP prompt definition for registration.
func (p *StartPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("sentinel-start",
		mcp.WithPromptDescription(
			"Start a multi-agent build workflow. The AI plays each role in turn "+
				"(Architect, Designer, Builder, QA Engineer, Security Sentinel and the "+
				"reviewers) and hands off between them through validated checkpoints.",
		),
		mcp.WithArgument("goal",
			mcp.ArgumentDescription("What you want built"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("initial_role",
			mcp.ArgumentDescription("Role to start at. Default: ARCHITECT"),
		),
	)
}

// Handle processes the sentinel-start prompt request.
func (p *StartPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	goal := "the feature I describe next"
	role := "ARCHITECT"
	if args := req.Params.Arguments; args != nil {
		if g, ok := args["goal"]; ok && g != "" {
			goal = g
		}
		if r, ok := args["initial_role"]; ok && r != "" {
			role = r
		}
	}

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Start workflow: %s", goal),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"I want to build: %s\n\n"+
						"Please:\n"+
						"1. Run `sentinel_start_workflow` with goal='%s' and initial_role='%s'\n"+
						"2. Follow the instructions it returns for your current role\n"+
						"3. When the role's work is done, call `sentinel_handoff` with a JSON object of what you produced\n"+
						"4. If a handoff is rejected, fix exactly what it lists and hand off again. Never start over\n"+
						"5. Keep going role by role until the workflow is COMPLETED or BLOCKED\n\n"+
						"Designs need at least %d elements. If you cannot proceed, hand off with "+
						"`blocked: true` and a `blockedReason` and tell me what you need.",
					goal, goal, role, p.minElements,
				)),
			},
		},
	}, nil
}
