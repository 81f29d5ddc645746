// Package session tracks one workflow per MCP client session.
//
// A Session owns its Machine and the log of continuation turns injected
// into the conversation. Transitions are serialized per session with a
// non-blocking guard: a second handoff that arrives while one is running
// is refused with ErrBusy rather than queued.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/HendryAvila/sentinel/internal/workflow"
)

// ErrBusy is returned when a transition is already running for the session.
var ErrBusy = errors.New("transition already in progress")

var timeNow = time.Now

// Turn is one message injected into the agent conversation.
type Turn struct {
	Role workflow.Role `json:"role"`
	Text string        `json:"text"`
	At   time.Time     `json:"at"`
}

// Session is the per-client handle.
type Session struct {
	id      string
	mu      sync.Mutex
	machine *workflow.Machine
	// saved is the state as of Begin; Persist restores it on a failed save.
	saved *workflow.State

	turnsMu sync.Mutex
	turns   []Turn
}

func newSession(id string, m *workflow.Machine) *Session {
	return &Session{id: id, machine: m}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Begin claims the session for one transition. The returned release must
// be called when the transition is done. Begin never waits.
func (s *Session) Begin() (release func(), err error) {
	if !s.mu.TryLock() {
		return nil, ErrBusy
	}
	saved, err := s.machine.Snapshot()
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.saved = saved
	return func() {
		s.saved = nil
		s.mu.Unlock()
	}, nil
}

// Machine returns the session's state machine. Callers must hold the
// session (see Begin) while driving it.
func (s *Session) Machine() *workflow.Machine { return s.machine }

// Snapshot returns a copy of the workflow state, waiting for any running
// transition to finish.
func (s *Session) Snapshot() (*workflow.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Snapshot()
}

// AppendTurn records a continuation injected for role.
func (s *Session) AppendTurn(role workflow.Role, text string) {
	s.turnsMu.Lock()
	defer s.turnsMu.Unlock()
	s.turns = append(s.turns, Turn{Role: role, Text: text, At: timeNow()})
}

// Turns returns a copy of the injected turns, oldest first.
func (s *Session) Turns() []Turn {
	s.turnsMu.Lock()
	defer s.turnsMu.Unlock()
	return append([]Turn(nil), s.turns...)
}
