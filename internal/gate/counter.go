package gate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/tidwall/gjson"
)

// ElementCounter reports how many elements actually exist on a design
// surface. Implementations must honor ctx cancellation.
type ElementCounter interface {
	CountElements(ctx context.Context, designURL string) (int, error)
}

// ErrNoCount is returned when a response carries no recognizable count.
var ErrNoCount = errors.New("response contains no element count")

// maxBody caps how much of a design-surface response is read.
const maxBody = 4 << 20

// --- HTTP ---

// HTTPCounter asks a design-surface HTTP endpoint for its elements.
// The design URL is passed as the design_url query parameter.
type HTTPCounter struct {
	Endpoint string
	Client   *http.Client
}

// NewHTTPCounter creates an HTTPCounter using http.DefaultClient.
func NewHTTPCounter(endpoint string) *HTTPCounter {
	return &HTTPCounter{Endpoint: endpoint, Client: http.DefaultClient}
}

// CountElements implements ElementCounter.
func (c *HTTPCounter) CountElements(ctx context.Context, designURL string) (int, error) {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return 0, fmt.Errorf("parse design surface endpoint: %w", err)
	}
	if designURL != "" {
		q := u.Query()
		q.Set("design_url", designURL)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("query design surface: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("design surface returned %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return 0, fmt.Errorf("read design surface response: %w", err)
	}
	return CountFromJSON(string(body))
}

// CountFromJSON extracts an element count from a design-surface payload.
// It understands a top-level array, an array under elements, data.elements
// or nodes, and a numeric count or total field.
func CountFromJSON(payload string) (int, error) {
	if !gjson.Valid(payload) {
		return 0, fmt.Errorf("invalid JSON from design surface")
	}
	root := gjson.Parse(payload)
	if root.IsArray() {
		return len(root.Array()), nil
	}
	for _, path := range []string{"elements", "data.elements", "nodes", "data.nodes"} {
		if r := root.Get(path); r.IsArray() {
			return len(r.Array()), nil
		}
	}
	for _, path := range []string{"count", "total", "data.count", "data.total"} {
		if r := root.Get(path); r.Type == gjson.Number && r.Int() >= 0 {
			return int(r.Int()), nil
		}
	}
	return 0, ErrNoCount
}

// --- MCP ---

// DefaultMCPTool is the tool called on a design-canvas MCP server.
const DefaultMCPTool = "get_elements"

// MCPCounter asks a design-canvas MCP server (streamable HTTP) for its
// elements by calling a tool and counting what it returns.
type MCPCounter struct {
	URL  string
	Tool string
}

// NewMCPCounter creates an MCPCounter. An empty tool uses DefaultMCPTool.
func NewMCPCounter(serverURL, tool string) *MCPCounter {
	if tool == "" {
		tool = DefaultMCPTool
	}
	return &MCPCounter{URL: serverURL, Tool: tool}
}

// CountElements implements ElementCounter.
func (c *MCPCounter) CountElements(ctx context.Context, designURL string) (int, error) {
	client, err := mcpclient.NewStreamableHttpClient(c.URL)
	if err != nil {
		return 0, fmt.Errorf("create design canvas client: %w", err)
	}
	defer client.Close() //nolint:errcheck // best-effort cleanup

	if err := client.Start(ctx); err != nil {
		return 0, fmt.Errorf("start design canvas client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "sentinel", Version: "1.0.0"}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		return 0, fmt.Errorf("initialize design canvas: %w", err)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = c.Tool
	if designURL != "" {
		req.Params.Arguments = map[string]any{"design_url": designURL}
	}
	res, err := client.CallTool(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("call %s: %w", c.Tool, err)
	}
	if res.IsError {
		return 0, fmt.Errorf("%s failed: %s", c.Tool, resultText(res))
	}
	return CountFromJSON(resultText(res))
}

func resultText(res *mcp.CallToolResult) string {
	var parts []string
	for _, content := range res.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
