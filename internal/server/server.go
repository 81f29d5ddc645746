// Package server wires all MCP components and creates the server instance.
//
// This is the composition root (DIP): it creates concrete implementations
// and injects them into the tools/prompts/resources that depend on abstractions.
// No business logic lives here, only wiring.
package server

import (
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/HendryAvila/sentinel/internal/config"
	"github.com/HendryAvila/sentinel/internal/continuation"
	"github.com/HendryAvila/sentinel/internal/gate"
	"github.com/HendryAvila/sentinel/internal/metrics"
	"github.com/HendryAvila/sentinel/internal/prompts"
	"github.com/HendryAvila/sentinel/internal/resources"
	"github.com/HendryAvila/sentinel/internal/session"
	"github.com/HendryAvila/sentinel/internal/tools"
	"github.com/HendryAvila/sentinel/internal/workflow"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Deps are the shared collaborators New wires into the MCP surface.
// Logger and Recorder may be nil.
type Deps struct {
	Config   *config.Config
	Logger   *zap.Logger
	Recorder *metrics.Recorder
}

// New creates and configures the MCP server with all tools, prompts,
// and resources registered. This is the single place where all
// dependencies are resolved.
//
// The returned cleanup function closes the workflow database and must be
// called on shutdown (typically via defer). It is always non-nil.
func New(deps Deps) (*server.MCPServer, func(), error) {
	cfg := deps.Config
	if cfg == nil {
		d := config.Defaults()
		cfg = &d
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rec := deps.Recorder

	initialRole, err := cfg.InitialRole()
	if err != nil {
		return nil, noop, err
	}

	// --- Create shared dependencies ---
	//
	// Persistence is an independent subsystem: if the database cannot be
	// opened, workflows still run in memory for the life of the process.

	var store workflow.Store
	cleanup := noop
	sqlStore, dbErr := OpenStore(cfg)
	if dbErr != nil {
		logger.Warn("workflow persistence disabled, using in-memory store", zap.Error(dbErr))
		store = workflow.NewMemStore()
	} else {
		store = sqlStore
		cleanup = func() {
			if err := sqlStore.Close(); err != nil {
				logger.Warn("workflow store close", zap.Error(err))
			}
		}
	}

	registry := NewRegistry(cfg, store, rec, logger)
	builder := continuation.New(cfg.Workflow.MinElements, cfg.Workflow.ElementCategories)
	observer := tools.Observers{
		tools.NewHistoryBridge(store, logger),
		tools.NewMetricsBridge(rec),
	}

	// --- Create the MCP server ---

	s := server.NewMCPServer(
		"sentinel",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions(cfg.Workflow.MinElements, cfg.Workflow.ElementCategories)),
	)

	// --- Register workflow tools ---

	startTool := tools.NewStartWorkflowTool(registry, builder, initialRole)
	s.AddTool(startTool.Definition(), startTool.Handle)

	handoffTool := tools.NewHandoffTool(registry, builder, logger)
	handoffTool.SetObserver(observer)
	handoffTool.SetRecorder(rec)
	s.AddTool(handoffTool.Definition(), handoffTool.Handle)

	statusTool := tools.NewWorkflowStatusTool(registry)
	s.AddTool(statusTool.Definition(), statusTool.Handle)

	resetTool := tools.NewResetWorkflowTool(registry, builder)
	resetTool.SetObserver(observer)
	s.AddTool(resetTool.Definition(), resetTool.Handle)

	// --- Register prompts ---

	startPrompt := prompts.NewStartPrompt(cfg.Workflow.MinElements)
	s.AddPrompt(startPrompt.Definition(), startPrompt.Handle)

	statusPrompt := prompts.NewStatusPrompt()
	s.AddPrompt(statusPrompt.Definition(), statusPrompt.Handle)

	// --- Register resources ---

	resourceHandler := resources.NewHandler(registry, tools.SessionID)
	s.AddResource(resourceHandler.StatusResource(), resourceHandler.HandleStatus)

	logger.Info("sentinel server ready",
		zap.String("version", Version),
		zap.String("initial_role", string(initialRole)),
		zap.Int("min_elements", cfg.Workflow.MinElements),
		zap.Bool("persistent", dbErr == nil),
	)
	return s, cleanup, nil
}

// OpenStore opens the SQLite workflow database named by the config.
func OpenStore(cfg *config.Config) (*workflow.SQLiteStore, error) {
	path, err := cfg.ResolvedDBPath()
	if err != nil {
		return nil, err
	}
	st, err := workflow.OpenSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return st, nil
}

// NewRegistry builds the validation gate (with the live design-surface
// counter when one is configured) and the session registry around it.
func NewRegistry(cfg *config.Config, store workflow.Store, rec *metrics.Recorder, logger *zap.Logger) *session.Registry {
	var validator workflow.Validator = gate.New(cfg.GateConfig(), NewCounter(cfg, rec), logger)
	if rec != nil {
		validator = metrics.InstrumentValidator(validator, rec)
	}
	return session.NewRegistry(store, validator, logger,
		workflow.WithMaxReviewCycles(cfg.Workflow.MaxReviewCycles),
	)
}

// NewCounter picks the design-surface counter: the HTTP endpoint wins over
// the MCP canvas server. It returns nil when neither is configured.
func NewCounter(cfg *config.Config, rec *metrics.Recorder) gate.ElementCounter {
	var c gate.ElementCounter
	switch {
	case cfg.Design.SurfaceURL != "":
		c = gate.NewHTTPCounter(cfg.Design.SurfaceURL)
	case cfg.Design.MCPURL != "":
		c = gate.NewMCPCounter(cfg.Design.MCPURL, cfg.Design.MCPTool)
	default:
		return nil
	}
	if rec != nil {
		c = metrics.InstrumentCounter(c, rec)
	}
	return c
}

// noop is a no-op cleanup function used as the default when the
// database is not open.
func noop() {}

func serverInstructions(minElements int, categories []string) string {
	coverage := ""
	if len(categories) > 0 {
		coverage = " covering " + strings.Join(categories, ", ")
	}
	return fmt.Sprintf(`You have access to Sentinel, a multi-agent handoff server.

Sentinel runs one build workflow per session as a chain of roles. You play
each role in turn and hand the work to the next role through
sentinel_handoff. Every handoff passes a validation gate first: if it is
rejected, nothing changes and you fix exactly what the rejection lists.

## ROLES

1. ARCHITECT: write architectPlan; set needsDesign (or hasUI) when the work
   has a user interface, which routes it through DESIGNER.
2. DESIGNER: produce designSpecs, createdComponents and expectedElements
   (at least %d)%s.
3. DESIGN_REVIEW: set designReviewPassed; when false give feedback and
   missingComponents.
4. BUILDER: implement the design; report filesCreated and
   implementationSummary.
5. QA_ENGINEER: report testResults and testsPassed.
6. ARCHITECT_REVIEW_TESTS: set testsReviewPassed.
7. SENTINEL: report auditResults, vulnerabilities and securityPassed.
8. ARCHITECT_REVIEW_FINAL: set finalReviewPassed to complete the workflow.

A reviewer that disapproves sends the work back. That role gets the
accumulated context and must fix the listed gaps. NEVER start over.

## TOOLS

- sentinel_start_workflow: begin a workflow for this session
- sentinel_handoff: submit the current role's output as a JSON object
- sentinel_workflow_status: show the current role, history and context
- sentinel_reset_workflow: resume a BLOCKED or finished workflow at a role

## RULES

- Always pass context_json as a JSON object with the role's fields.
- If you cannot proceed, hand off with "blocked": true and a
  "blockedReason", then ask the user what to do.
- Do not invent element counts: a live design surface may cross-check them.
`, minElements, coverage)
}
