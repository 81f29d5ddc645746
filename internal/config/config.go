// Package config loads sentinel's runtime configuration.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SENTINEL_WORKFLOW_MIN_ELEMENTS, SENTINEL_DESIGN_MCP_URL, ...)
//  2. YAML config file (~/.sentinel/config.yaml by default)
//  3. Hardcoded defaults
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/HendryAvila/sentinel/internal/gate"
	"github.com/HendryAvila/sentinel/internal/workflow"
)

// DirName is the per-user directory holding the database and config file.
const DirName = ".sentinel"

// Config holds the complete sentinel configuration.
type Config struct {
	Workflow WorkflowConfig `koanf:"workflow" yaml:"workflow"`
	Design   DesignConfig   `koanf:"design" yaml:"design"`
	Storage  StorageConfig  `koanf:"storage" yaml:"storage"`
	Logging  LoggingConfig  `koanf:"logging" yaml:"logging"`
	Metrics  MetricsConfig  `koanf:"metrics" yaml:"metrics"`
}

// WorkflowConfig tunes the handoff gate and the role graph.
type WorkflowConfig struct {
	MinElements       int      `koanf:"min_elements" yaml:"min_elements"`
	ElementCategories []string `koanf:"element_categories" yaml:"element_categories"`
	MaxReviewCycles   int      `koanf:"max_review_cycles" yaml:"max_review_cycles"`
	InitialRole       string   `koanf:"initial_role" yaml:"initial_role"`
}

// DesignConfig points at the live design surface used to cross-check
// Designer element counts. Both URLs empty disables the cross-check.
type DesignConfig struct {
	SurfaceURL string        `koanf:"surface_url" yaml:"surface_url"`
	MCPURL     string        `koanf:"mcp_url" yaml:"mcp_url"`
	MCPTool    string        `koanf:"mcp_tool" yaml:"mcp_tool"`
	Timeout    time.Duration `koanf:"timeout" yaml:"timeout"`
}

// StorageConfig holds workflow persistence settings.
type StorageConfig struct {
	DBPath string `koanf:"db_path" yaml:"db_path"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"`
}

// MetricsConfig holds the Prometheus endpoint address. Empty disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Workflow: WorkflowConfig{
			MinElements:     gate.DefaultMinElements,
			MaxReviewCycles: workflow.DefaultMaxReviewCycles,
			InitialRole:     string(workflow.RoleArchitect),
		},
		Design: DesignConfig{
			MCPTool: gate.DefaultMCPTool,
			Timeout: gate.DefaultLiveTimeout,
		},
		Storage: StorageConfig{
			DBPath: filepath.Join("~", DirName, "sentinel.db"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	if c.Workflow.MinElements <= 0 {
		return fmt.Errorf("workflow.min_elements must be positive, got %d", c.Workflow.MinElements)
	}
	if c.Workflow.MaxReviewCycles <= 0 {
		return fmt.Errorf("workflow.max_review_cycles must be positive, got %d", c.Workflow.MaxReviewCycles)
	}
	if _, err := c.InitialRole(); err != nil {
		return err
	}
	if c.Design.Timeout <= 0 {
		return errors.New("design.timeout must be positive")
	}
	if strings.TrimSpace(c.Storage.DBPath) == "" {
		return errors.New("storage.db_path is required")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

// InitialRole parses workflow.initial_role. Terminal roles cannot start a workflow.
func (c *Config) InitialRole() (workflow.Role, error) {
	role, err := workflow.ParseRole(c.Workflow.InitialRole)
	if err != nil {
		return "", fmt.Errorf("workflow.initial_role: %w", err)
	}
	if workflow.IsTerminal(role) {
		return "", fmt.Errorf("workflow.initial_role: %s is terminal", role)
	}
	return role, nil
}

// GateConfig converts the workflow and design sections into gate tuning.
func (c *Config) GateConfig() gate.Config {
	return gate.Config{
		MinElements: c.Workflow.MinElements,
		Categories:  c.Workflow.ElementCategories,
		LiveTimeout: c.Design.Timeout,
	}
}

// ResolvedDBPath expands a leading ~ in storage.db_path.
func (c *Config) ResolvedDBPath() (string, error) {
	return expandHome(c.Storage.DBPath)
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
