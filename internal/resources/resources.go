// Package resources implements MCP resource handlers for the handoff workflow.
//
// Resources provide read-only data that the host can consume for context.
// They use URI-based addressing (sentinel://...) following MCP conventions.
package resources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/sentinel/internal/session"
)

// StatusURI addresses the calling session's workflow.
const StatusURI = "sentinel://workflow/status"

// Handler manages workflow resource endpoints.
type Handler struct {
	registry  *session.Registry
	sessionID func(context.Context) string
}

// NewHandler creates a resource Handler. sessionID resolves the calling
// client's session from the request context.
func NewHandler(registry *session.Registry, sessionID func(context.Context) string) *Handler {
	return &Handler{registry: registry, sessionID: sessionID}
}

// StatusResource returns the MCP resource definition for workflow status.
func (h *Handler) StatusResource() mcp.Resource {
	return mcp.NewResource(
		StatusURI,
		"Workflow Status",
		mcp.WithResourceDescription("Current role, history and accumulated context of this session's workflow"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleStatus returns the session's workflow state as JSON.
func (h *Handler) HandleStatus(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	sess, err := h.registry.Get(ctx, h.sessionID(ctx))
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return errorResource(req.Params.URI, "no workflow for this session"), nil
	}

	state, err := sess.Snapshot()
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling status: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// errorResource returns a resource with an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
