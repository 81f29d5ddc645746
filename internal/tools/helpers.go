// Package tools implements the MCP tool handlers of the handoff server.
//
// Each tool is a struct that receives its dependencies at construction
// (DIP) and exposes Definition and Handle for registration with mcp-go.
//
// Design principles:
// - SRP: each file = one tool
// - DIP: tools depend on the session registry and small interfaces
// - OCP: new tools are added without modifying existing ones
//
// Agent mistakes (missing parameters, inactive workflows, rejected
// handoffs) are returned as tool error results. Only internal failures
// such as store I/O come back as Go errors.
package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// DefaultSessionID is used when the transport carries no session (stdio
// without a client session, direct calls in tests).
const DefaultSessionID = "default"

// SessionID returns the MCP client session for ctx.
func SessionID(ctx context.Context) string {
	if cs := server.ClientSessionFromContext(ctx); cs != nil {
		if id := cs.SessionID(); id != "" {
			return id
		}
	}
	return DefaultSessionID
}

// payloadArg returns the first non-blank argument among names as JSON text.
// Agents sometimes send the payload as an object instead of a string.
func payloadArg(req mcp.CallToolRequest, names ...string) string {
	args := req.GetArguments()
	for _, n := range names {
		switch v := args[n].(type) {
		case nil:
			continue
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		default:
			if data, err := json.Marshal(v); err == nil {
				return string(data)
			}
		}
	}
	return ""
}

// isPlaceholder reports whether a context payload carries nothing.
func isPlaceholder(raw string) bool {
	compact := strings.Join(strings.Fields(raw), "")
	switch compact {
	case "", "{}", "null", `""`, "''", "[]":
		return true
	}
	return false
}
