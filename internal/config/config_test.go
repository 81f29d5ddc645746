package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/sentinel/internal/workflow"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func missingConfig(t *testing.T) string {
	return filepath.Join(t.TempDir(), "nope.yaml")
}

// --- Load ---

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(missingConfig(t))
	require.NoError(t, err)

	assert.Equal(t, 15, cfg.Workflow.MinElements)
	assert.Equal(t, 3, cfg.Workflow.MaxReviewCycles)
	assert.Equal(t, []string{"navigation", "cards", "forms", "icons"}, cfg.Workflow.ElementCategories)
	assert.Equal(t, "ARCHITECT", cfg.Workflow.InitialRole)
	assert.Equal(t, "get_elements", cfg.Design.MCPTool)
	assert.Equal(t, 3*time.Second, cfg.Design.Timeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Empty(t, cfg.Metrics.Addr)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
workflow:
  min_elements: 25
  element_categories: [navigation, tables]
  initial_role: designer
design:
  mcp_url: http://localhost:9000/mcp
  timeout: 500ms
logging:
  format: console
metrics:
  addr: ":9464"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Workflow.MinElements)
	assert.Equal(t, []string{"navigation", "tables"}, cfg.Workflow.ElementCategories)
	assert.Equal(t, 3, cfg.Workflow.MaxReviewCycles, "unset keys keep their defaults")
	assert.Equal(t, "http://localhost:9000/mcp", cfg.Design.MCPURL)
	assert.Equal(t, 500*time.Millisecond, cfg.Design.Timeout)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, ":9464", cfg.Metrics.Addr)

	role, err := cfg.InitialRole()
	require.NoError(t, err)
	assert.Equal(t, workflow.RoleDesigner, role)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, "workflow:\n  min_elements: 25\n")
	t.Setenv("SENTINEL_WORKFLOW_MIN_ELEMENTS", "30")
	t.Setenv("SENTINEL_DESIGN_SURFACE_URL", "http://surface.local/elements")
	t.Setenv("SENTINEL_WORKFLOW_MAX_REVIEW_CYCLES", "5")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Workflow.MinElements)
	assert.Equal(t, 5, cfg.Workflow.MaxReviewCycles)
	assert.Equal(t, "http://surface.local/elements", cfg.Design.SurfaceURL)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"zero min elements":  "workflow:\n  min_elements: 0\n",
		"negative cycles":    "workflow:\n  max_review_cycles: -1\n",
		"terminal start":     "workflow:\n  initial_role: COMPLETED\n",
		"unknown start":      "workflow:\n  initial_role: JANITOR\n",
		"zero timeout":       "design:\n  timeout: 0s\n",
		"bad logging format": "logging:\n  format: xml\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "config validation failed")
		})
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "workflow: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config file")
}

func TestLoad_DirectoryPath(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is a directory")
}

// --- helpers ---

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "workflow.min_elements", envKey("SENTINEL_WORKFLOW_MIN_ELEMENTS"))
	assert.Equal(t, "design.mcp_url", envKey("SENTINEL_DESIGN_MCP_URL"))
	assert.Equal(t, "metrics.addr", envKey("SENTINEL_METRICS_ADDR"))
}

func TestResolvedDBPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	cfg := Defaults()
	got, err := cfg.ResolvedDBPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".sentinel", "sentinel.db"), got)

	cfg.Storage.DBPath = "/var/lib/sentinel.db"
	got, err = cfg.ResolvedDBPath()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/sentinel.db", got)
}

func TestGateConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Workflow.MinElements = 9
	cfg.Workflow.ElementCategories = []string{"forms"}
	cfg.Design.Timeout = time.Second

	gc := cfg.GateConfig()
	assert.Equal(t, 9, gc.MinElements)
	assert.Equal(t, []string{"forms"}, gc.Categories)
	assert.Equal(t, time.Second, gc.LiveTimeout)
}
