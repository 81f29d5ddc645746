package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/sentinel/internal/config"
	"github.com/HendryAvila/sentinel/internal/metrics"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Workflow.ElementCategories = []string{"navigation", "forms"}
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "data", "sentinel.db")
	return &cfg
}

func TestNew_RegistersWorkflowSurface(t *testing.T) {
	cfg := testConfig(t)
	s, cleanup, err := New(Deps{Config: cfg, Recorder: metrics.NewRecorder()})
	require.NoError(t, err)
	defer cleanup()

	tools := s.ListTools()
	for _, name := range []string{
		"sentinel_start_workflow",
		"sentinel_handoff",
		"sentinel_workflow_status",
		"sentinel_reset_workflow",
	} {
		assert.Contains(t, tools, name)
	}
	assert.Len(t, tools, 4)

	_, err = os.Stat(cfg.Storage.DBPath)
	assert.NoError(t, err, "database file should be created")
}

func TestNew_FallsBackToMemoryStore(t *testing.T) {
	cfg := testConfig(t)
	// A regular file where the data directory should be makes the open fail.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	cfg.Storage.DBPath = filepath.Join(blocker, "sentinel.db")

	s, cleanup, err := New(Deps{Config: cfg})
	require.NoError(t, err)
	defer cleanup()
	assert.Len(t, s.ListTools(), 4)
}

func TestNew_RejectsTerminalInitialRole(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workflow.InitialRole = "COMPLETED"
	_, cleanup, err := New(Deps{Config: cfg})
	require.Error(t, err)
	cleanup()
}

func TestNewCounter(t *testing.T) {
	cfg := testConfig(t)
	assert.Nil(t, NewCounter(cfg, nil))

	cfg.Design.MCPURL = "http://localhost:9000/mcp"
	assert.NotNil(t, NewCounter(cfg, nil))

	cfg.Design.SurfaceURL = "http://localhost:8080/elements"
	assert.NotNil(t, NewCounter(cfg, metrics.NewRecorder()))
}

func TestServerInstructions_QuoteThresholdAndCategories(t *testing.T) {
	text := serverInstructions(22, []string{"navigation", "charts"})
	assert.Contains(t, text, "at least 22) covering navigation, charts.")
	assert.Contains(t, text, "sentinel_handoff")
	assert.NotContains(t, text, "cards")

	text = serverInstructions(5, nil)
	assert.Contains(t, text, "(at least 5).")
	assert.NotContains(t, text, "covering")
}
