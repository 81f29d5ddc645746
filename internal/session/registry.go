package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/HendryAvila/sentinel/internal/workflow"
)

// ErrAlreadyActive is returned by Start when the session already runs a workflow.
var ErrAlreadyActive = errors.New("a workflow is already active for this session")

// Registry maps session IDs to sessions, loading persisted workflows
// on first access. It is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	store     workflow.Store
	validator workflow.Validator
	opts      []workflow.Option
	logger    *zap.Logger
}

// NewRegistry creates a registry. Machines it builds use validator and opts.
func NewRegistry(store workflow.Store, validator workflow.Validator, logger *zap.Logger, opts ...workflow.Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sessions:  make(map[string]*Session),
		store:     store,
		validator: validator,
		opts:      append([]workflow.Option{workflow.WithLogger(logger)}, opts...),
		logger:    logger,
	}
}

// Store returns the backing store.
func (r *Registry) Store() workflow.Store { return r.store }

// Get returns the session for id, or nil when it has never run a workflow.
func (r *Registry) Get(ctx context.Context, id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(ctx, id)
}

func (r *Registry) getLocked(ctx context.Context, id string) (*Session, error) {
	if s, ok := r.sessions[id]; ok {
		return s, nil
	}
	state, err := r.store.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading workflow for session %s: %w", id, err)
	}
	if state == nil {
		return nil, nil
	}
	s := newSession(id, workflow.NewMachine(state, r.validator, r.opts...))
	r.sessions[id] = s
	return s, nil
}

// Start begins a new workflow for id at role. A finished or blocked
// workflow is replaced; an active one is left alone and ErrAlreadyActive
// is returned.
func (r *Registry) Start(ctx context.Context, id string, role workflow.Role, goal string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.getLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		release, err := existing.Begin()
		if err != nil {
			return nil, err
		}
		active := existing.machine.IsActive()
		release()
		if active {
			return nil, ErrAlreadyActive
		}
	}

	state, err := workflow.NewState(id, role, goal)
	if err != nil {
		return nil, err
	}
	if err := r.store.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("saving workflow: %w", err)
	}

	s := newSession(id, workflow.NewMachine(state, r.validator, r.opts...))
	r.sessions[id] = s
	r.logger.Info("workflow started",
		zap.String("session_id", id),
		zap.String("workflow_id", state.ID),
		zap.String("role", string(role)),
	)
	return s, nil
}

// Persist saves the session's current state. The caller must hold the
// session (see Session.Begin). When the save fails the machine is rolled
// back to the state it had at Begin, so memory never runs ahead of the
// store.
func (r *Registry) Persist(ctx context.Context, s *Session) error {
	state, err := s.machine.Snapshot()
	if err != nil {
		return err
	}
	if err := r.store.Save(ctx, state); err != nil {
		fields := []zap.Field{zap.String("session_id", s.id), zap.Error(err)}
		if s.saved != nil {
			if rbErr := s.machine.Restore(s.saved); rbErr != nil {
				fields = append(fields, zap.NamedError("rollback_error", rbErr))
			} else {
				fields = append(fields, zap.String("rolled_back_to", string(s.saved.CurrentRole)))
			}
		}
		r.logger.Error("saving workflow failed", fields...)
		return fmt.Errorf("saving workflow: %w", err)
	}
	s.saved = state
	return nil
}

// Forget drops the session from memory and deletes its stored workflow.
func (r *Registry) Forget(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return r.store.Delete(ctx, id)
}
