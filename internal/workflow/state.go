package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultMaxReviewCycles bounds send-backs per review role.
const DefaultMaxReviewCycles = 3

// ErrNotActive is returned by operations that need a running workflow.
var ErrNotActive = errors.New("workflow is not active")

// TransitionRecord is one successful transition in a workflow's history.
type TransitionRecord struct {
	From              Role       `json:"from"`
	To                Role       `json:"to"`
	SentBack          bool       `json:"sentBack,omitempty"`
	Notes             string     `json:"notes,omitempty"`
	Feedback          string     `json:"feedback,omitempty"`
	MissingComponents StringList `json:"missingComponents,omitempty"`
	Reason            string     `json:"reason,omitempty"`
	At                string     `json:"at"`
}

// State is the mutable record of one workflow. It is owned by a Machine;
// everything else sees copies returned by Machine.Snapshot.
type State struct {
	ID          string             `json:"id"`
	SessionID   string             `json:"sessionId"`
	Goal        string             `json:"goal,omitempty"`
	CurrentRole Role               `json:"currentRole"`
	Active      bool               `json:"active"`
	Context     HandoffContext     `json:"context"`
	History     []TransitionRecord `json:"history,omitempty"`
	StartedAt   string             `json:"startedAt"`
	UpdatedAt   string             `json:"updatedAt"`
}

// NewState creates an active workflow for a session starting at role.
func NewState(sessionID string, role Role, goal string) (*State, error) {
	if !role.Valid() || IsTerminal(role) {
		return nil, fmt.Errorf("cannot start a workflow at role %q", role)
	}
	ts := now()
	return &State{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Goal:        strings.TrimSpace(goal),
		CurrentRole: role,
		Active:      true,
		StartedAt:   ts,
		UpdatedAt:   ts,
	}, nil
}

func (s *State) clone() (*State, error) {
	ctx, err := s.Context.Clone()
	if err != nil {
		return nil, err
	}
	out := *s
	out.Context = ctx
	out.History = append([]TransitionRecord(nil), s.History...)
	return &out, nil
}

// Validator decides whether a handoff from role is acceptable.
// It must not modify anything except Handoff.LiveElements.
type Validator interface {
	Check(ctx context.Context, role Role, h *Handoff) error
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(ctx context.Context, role Role, h *Handoff) error

// Check calls f.
func (f ValidatorFunc) Check(ctx context.Context, role Role, h *Handoff) error {
	return f(ctx, role, h)
}

// Option configures a Machine.
type Option func(*Machine)

// WithMaxReviewCycles sets how many send-backs a review role may make
// before the workflow is blocked. Zero disables the bound.
func WithMaxReviewCycles(n int) Option {
	return func(m *Machine) { m.maxReviewCycles = n }
}

// WithLogger sets the machine's logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.logger = l
		}
	}
}

// Machine applies handoffs to a State.
//
// A Machine is not safe for concurrent use. Callers serialize handoffs
// per session (see session.Session.Begin).
type Machine struct {
	state           *State
	validator       Validator
	maxReviewCycles int
	logger          *zap.Logger
}

// NewMachine wraps state. A nil validator accepts every non-empty handoff.
func NewMachine(state *State, v Validator, opts ...Option) *Machine {
	m := &Machine{
		state:           state,
		validator:       v,
		maxReviewCycles: DefaultMaxReviewCycles,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsActive reports whether the workflow accepts handoffs.
func (m *Machine) IsActive() bool {
	return m.state != nil && m.state.Active && !IsTerminal(m.state.CurrentRole)
}

// CurrentRole returns the active role.
func (m *Machine) CurrentRole() Role { return m.state.CurrentRole }

// Snapshot returns a deep copy of the current state.
func (m *Machine) Snapshot() (*State, error) { return m.state.clone() }

// Restore replaces the current state with a copy of snapshot. It undoes a
// transition that could not be saved.
func (m *Machine) Restore(snapshot *State) error {
	if snapshot == nil {
		return fmt.Errorf("restore: nil snapshot")
	}
	st, err := snapshot.clone()
	if err != nil {
		return err
	}
	m.state = st
	return nil
}

// HandleAgentCompletion applies one handoff from the current role.
//
// Every failure path returns before the state is touched, so submitting
// the same invalid handoff twice yields the same result and leaves the
// state identical. The returned error is reserved for internal failures.
func (m *Machine) HandleAgentCompletion(ctx context.Context, sub Submission) (TransitionResult, error) {
	from := m.state.CurrentRole

	if !m.IsActive() {
		if from == RoleBlocked {
			reason := string(m.state.Context.BlockedReason)
			if reason == "" {
				reason = "the workflow is blocked"
			}
			return failed(from, KindBlocked,
				fmt.Sprintf("workflow is BLOCKED (%s); human intervention is required before work can continue", reason)), nil
		}
		return failed(from, KindInactive,
			fmt.Sprintf("%s: current role is %s; start a new workflow to continue", ErrNotActive, from)), nil
	}

	if sub.Empty() {
		return failed(from, KindMissingParameter,
			"missing required parameter: context_json must be a non-empty JSON object describing your completed work"), nil
	}

	accumulated, err := m.state.Context.Clone()
	if err != nil {
		return TransitionResult{}, err
	}
	h, extra, err := decodeHandoff(sub, accumulated)
	if err != nil {
		return failed(from, KindValidation, fmt.Sprintf("validation failed: %v", err)), nil
	}

	if m.validator != nil {
		if err := m.validator.Check(ctx, from, h); err != nil {
			if errors.Is(err, ErrUnknownRole) {
				return TransitionResult{}, err
			}
			m.logger.Info("handoff rejected",
				zap.String("workflow_id", m.state.ID),
				zap.String("role", string(from)),
				zap.Error(err),
			)
			return failed(from, KindValidation, err.Error()), nil
		}
	}

	// The session may have been aborted while the validator was waiting
	// on the network. Abandon without touching state.
	if err := ctx.Err(); err != nil {
		return failed(from, KindCancelled, fmt.Sprintf("handoff abandoned: %v", err)), nil
	}

	next, err := mergeContext(m.state.Context, h, extra)
	if err != nil {
		return TransitionResult{}, err
	}

	route, err := NextRole(from, &next, m.maxReviewCycles)
	if err != nil {
		return TransitionResult{}, err
	}

	ts := now()
	if h.Notes != "" {
		next.Notes = append(next.Notes, RoleNote{Role: from, Text: h.Notes, At: ts})
	}
	if !route.SentBack && route.To != RoleBlocked {
		settleComments(&next, from, ts)
	}
	if route.SentBack {
		if next.ReviewCycles == nil {
			next.ReviewCycles = make(map[Role]int)
		}
		next.ReviewCycles[from]++
	}
	if route.To == RoleBlocked {
		next.Blocked = true
		next.BlockedReason = Text(route.Reason)
	}

	record := TransitionRecord{
		From:     from,
		To:       route.To,
		SentBack: route.SentBack,
		Notes:    h.Notes,
		Reason:   route.Reason,
		At:       ts,
	}
	if route.SentBack {
		record.Feedback = string(next.Feedback)
		record.MissingComponents = append(StringList(nil), next.MissingComponents...)
	}

	// Commit.
	m.state.Context = next
	m.state.CurrentRole = route.To
	m.state.History = append(m.state.History, record)
	m.state.UpdatedAt = ts
	if IsTerminal(route.To) {
		m.state.Active = false
	}

	m.logger.Info("workflow transition",
		zap.String("workflow_id", m.state.ID),
		zap.String("from", string(from)),
		zap.String("to", string(route.To)),
		zap.Bool("sent_back", route.SentBack),
	)

	return TransitionResult{
		Success:   true,
		FromState: from,
		ToState:   route.To,
		SentBack:  route.SentBack,
	}, nil
}

// LastTransition returns the most recent history entry, if any.
func (m *Machine) LastTransition() (TransitionRecord, bool) {
	if len(m.state.History) == 0 {
		return TransitionRecord{}, false
	}
	return m.state.History[len(m.state.History)-1], true
}

// Reset reactivates a terminal workflow at role, keeping the accumulated
// context. This is the manual way out of BLOCKED.
func (m *Machine) Reset(role Role, reason string) error {
	if !role.Valid() || IsTerminal(role) {
		return fmt.Errorf("cannot reset to role %q", role)
	}
	if m.IsActive() {
		return fmt.Errorf("workflow is active at %s; only blocked or completed workflows can be reset", m.state.CurrentRole)
	}

	ts := now()
	from := m.state.CurrentRole
	m.state.Context.Blocked = false
	m.state.Context.BlockedReason = ""
	m.state.Context.ReviewCycles = nil
	m.state.CurrentRole = role
	m.state.Active = true
	m.state.UpdatedAt = ts
	m.state.History = append(m.state.History, TransitionRecord{
		From:   from,
		To:     role,
		Reason: strings.TrimSpace("manual reset " + reason),
		At:     ts,
	})

	m.logger.Info("workflow reset",
		zap.String("workflow_id", m.state.ID),
		zap.String("from", string(from)),
		zap.String("to", string(role)),
	)
	return nil
}
