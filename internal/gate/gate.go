// Package gate implements the handoff validation gate.
//
// The gate decides, for the role that is about to hand off, whether the
// submitted context is complete enough to progress. A rejection is
// recoverable: the same role fixes the payload and submits again. The
// gate never mutates workflow state; the only thing it writes is the
// live element count on the Handoff it was given.
package gate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/HendryAvila/sentinel/internal/workflow"
)

// DefaultMinElements is the minimum element count a Designer must reach.
const DefaultMinElements = 15

// DefaultLiveTimeout bounds the live design-surface query.
const DefaultLiveTimeout = 3 * time.Second

// DefaultCategories are the element families a complete design covers.
func DefaultCategories() []string {
	return []string{"navigation", "cards", "forms", "icons"}
}

// Config holds gate tuning.
type Config struct {
	MinElements int
	Categories  []string
	LiveTimeout time.Duration
}

// DefaultConfig returns the standard gate configuration.
func DefaultConfig() Config {
	return Config{
		MinElements: DefaultMinElements,
		Categories:  DefaultCategories(),
		LiveTimeout: DefaultLiveTimeout,
	}
}

// RejectionError explains why a handoff was refused and what to submit instead.
type RejectionError struct {
	Role     workflow.Role
	Problems []string
	Hint     string
}

func (e *RejectionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "validation failed for %s handoff: %s", e.Role, strings.Join(e.Problems, "; "))
	if e.Hint != "" {
		b.WriteString(". ")
		b.WriteString(e.Hint)
	}
	return b.String()
}

// Gate validates handoffs per role. It implements workflow.Validator.
type Gate struct {
	cfg     Config
	counter ElementCounter
	logger  *zap.Logger
}

// New creates a Gate. counter may be nil to disable the live cross-check.
func New(cfg Config, counter ElementCounter, logger *zap.Logger) *Gate {
	if cfg.MinElements <= 0 {
		cfg.MinElements = DefaultMinElements
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = DefaultCategories()
	}
	if cfg.LiveTimeout <= 0 {
		cfg.LiveTimeout = DefaultLiveTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{cfg: cfg, counter: counter, logger: logger}
}

// Config returns the effective configuration.
func (g *Gate) Config() Config { return g.cfg }

// Check implements workflow.Validator.
func (g *Gate) Check(ctx context.Context, role workflow.Role, h *workflow.Handoff) error {
	if h.Fields.Blocked {
		if h.Fields.BlockedReason.Empty() {
			return &RejectionError{
				Role:     role,
				Problems: []string{"blocked is true but blockedReason is empty"},
				Hint:     "Explain in blockedReason what a human needs to do before work can continue",
			}
		}
		return nil
	}

	var problems []string
	var hint string

	switch role {
	case workflow.RoleArchitect:
		problems, hint = checkArchitect(h)
	case workflow.RoleDesigner:
		problems, hint = g.checkDesigner(ctx, h)
	case workflow.RoleDesignReview:
		problems, hint = checkVerdict("designReviewPassed", h.Fields.DesignReviewPassed,
			len(h.Fields.MissingComponents) > 0 || !h.Fields.Feedback.Empty(),
			"missingComponents or feedback")
	case workflow.RoleBuilder:
		problems, hint = checkBuilder(h)
	case workflow.RoleQAEngineer:
		problems, hint = checkQA(h)
	case workflow.RoleArchitectReviewTests:
		problems, hint = checkVerdict("testsReviewPassed", h.Fields.TestsReviewPassed,
			!h.Fields.Feedback.Empty(), "feedback")
	case workflow.RoleSentinel:
		problems, hint = checkSentinel(h)
	case workflow.RoleArchitectReviewFinal:
		problems, hint = checkVerdict("finalReviewPassed", h.Fields.FinalReviewPassed,
			!h.Fields.Feedback.Empty(), "feedback")
	default:
		return fmt.Errorf("%w: %s", workflow.ErrUnknownRole, role)
	}

	if len(problems) == 0 {
		return nil
	}
	return &RejectionError{Role: role, Problems: problems, Hint: hint}
}
