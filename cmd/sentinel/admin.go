package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/HendryAvila/sentinel/internal/config"
	"github.com/HendryAvila/sentinel/internal/continuation"
	"github.com/HendryAvila/sentinel/internal/session"
	sentinelserver "github.com/HendryAvila/sentinel/internal/server"
	"github.com/HendryAvila/sentinel/internal/tools"
	"github.com/HendryAvila/sentinel/internal/workflow"
)

var (
	sessionFlag string
	outputFlag  string
	historyFlag int
	roleFlag    string
	reasonFlag  string
)

func init() {
	statusCmd.Flags().StringVar(&sessionFlag, "session", tools.DefaultSessionID, "session whose workflow to show")
	statusCmd.Flags().StringVarP(&outputFlag, "output", "o", "text", "output format: text or yaml")
	statusCmd.Flags().IntVar(&historyFlag, "history", 0, "also print the last N audited transitions")

	resetCmd.Flags().StringVar(&sessionFlag, "session", tools.DefaultSessionID, "session whose workflow to reset")
	resetCmd.Flags().StringVar(&roleFlag, "role", "", "role that resumes the work (required)")
	resetCmd.Flags().StringVar(&reasonFlag, "reason", "", "why the workflow is being resumed")
	_ = resetCmd.MarkFlagRequired("role")
}

// statusCmd prints a stored workflow.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the workflow stored for a session",
	Long: `Show the current role, history and accumulated context of a stored workflow.

Examples:
  # Show the stdio session's workflow
  sentinel status

  # YAML with the last 10 audited transitions
  sentinel status --session abc123 -o yaml --history 10`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

// resetCmd resumes a blocked or completed workflow at a role.
var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Resume a blocked or completed workflow at a role",
	Long: `Reactivate a terminal workflow at the given role, keeping its context.

Examples:
  sentinel reset --role DESIGNER --reason "canvas is back online"`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

// openRegistry opens the persistent store. Admin commands never fall back
// to memory: there would be nothing to show.
func openRegistry(cfg *config.Config, logger *zap.Logger) (*session.Registry, func(), error) {
	store, err := sentinelserver.OpenStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	registry := sentinelserver.NewRegistry(cfg, store, nil, logger)
	return registry, func() { _ = store.Close() }, nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	if outputFlag != "text" && outputFlag != "yaml" {
		return fmt.Errorf("unknown output format %q: use text or yaml", outputFlag)
	}
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	registry, closeStore, err := openRegistry(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	sess, err := registry.Get(ctx, sessionFlag)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("no workflow stored for session %q", sessionFlag)
	}
	state, err := sess.Snapshot()
	if err != nil {
		return err
	}

	var history []workflow.TransitionRecord
	if historyFlag > 0 {
		history, err = registry.Store().History(ctx, sessionFlag, historyFlag)
		if err != nil {
			return err
		}
	}
	return writeStatus(cmd.OutOrStdout(), outputFlag, state, history)
}

// writeStatus renders state as markdown or YAML. YAML keeps the JSON field
// names so it reads the same as the status resource.
func writeStatus(w io.Writer, format string, state *workflow.State, history []workflow.TransitionRecord) error {
	if format == "text" {
		if _, err := io.WriteString(w, tools.RenderStatus(state)); err != nil {
			return err
		}
		if len(history) > 0 {
			fmt.Fprintf(w, "\n## Audit log (last %d)\n\n", len(history))
			for _, rec := range history {
				fmt.Fprintf(w, "- %s %s → %s %s\n", rec.At, rec.From, rec.To, rec.Reason)
			}
		}
		return nil
	}

	doc := map[string]any{"workflow": state}
	if len(history) > 0 {
		doc["audit"] = history
	}
	generic, err := toGeneric(doc)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return fmt.Errorf("encoding yaml: %w", err)
	}
	return enc.Close()
}

func toGeneric(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func runReset(cmd *cobra.Command, _ []string) error {
	role, err := workflow.ParseRole(roleFlag)
	if err != nil {
		return err
	}
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	registry, closeStore, err := openRegistry(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	next, err := resetWorkflow(ctx, registry, cfg, logger, sessionFlag, role, reasonFlag)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "# Workflow resumed at %s\n\n---\n\n%s", role, next)
	return nil
}

// resetWorkflow reactivates the session's workflow at role, persists and
// audits it, and returns the continuation for the resuming role.
func resetWorkflow(ctx context.Context, registry *session.Registry, cfg *config.Config, logger *zap.Logger, sid string, role workflow.Role, reason string) (string, error) {
	sess, err := registry.Get(ctx, sid)
	if err != nil {
		return "", err
	}
	if sess == nil {
		return "", fmt.Errorf("no workflow stored for session %q", sid)
	}

	release, err := sess.Begin()
	if errors.Is(err, session.ErrBusy) {
		return "", errors.New("a transition is in progress for this session")
	}
	if err != nil {
		return "", err
	}
	defer release()

	m := sess.Machine()
	if err := m.Reset(role, reason); err != nil {
		return "", err
	}
	if err := registry.Persist(ctx, sess); err != nil {
		return "", err
	}
	state, err := m.Snapshot()
	if err != nil {
		return "", err
	}
	if rec, ok := m.LastTransition(); ok {
		tools.NewHistoryBridge(registry.Store(), logger).OnTransition(ctx, state, rec)
	}

	builder := continuation.New(cfg.Workflow.MinElements, cfg.Workflow.ElementCategories)
	return builder.Build(role, &state.Context), nil
}
