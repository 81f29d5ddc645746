package workflow

import (
	"errors"
	"fmt"
)

// ErrUnknownRole is returned when a role has no entry in the transition
// table. It indicates an internal inconsistency, not bad agent input.
var ErrUnknownRole = errors.New("role has no transition entry")

// edge describes where a role goes on success and, for review roles,
// where rejected work is sent back to.
type edge struct {
	forward  Role
	sendBack Role
	// passFlag reads the review verdict from the context. nil for roles
	// that never send work back.
	passFlag func(*HandoffContext) *bool
}

// transitionTable is the single source of truth for routing. ARCHITECT's
// forward edge is conditional and resolved in Route.
var transitionTable = map[Role]edge{
	RoleArchitect: {forward: RoleBuilder},
	RoleDesigner:  {forward: RoleDesignReview},
	RoleDesignReview: {
		forward:  RoleBuilder,
		sendBack: RoleDesigner,
		passFlag: func(c *HandoffContext) *bool { return c.DesignReviewPassed },
	},
	RoleBuilder: {forward: RoleQAEngineer},
	RoleQAEngineer: {
		forward:  RoleArchitectReviewTests,
		sendBack: RoleBuilder,
		passFlag: func(c *HandoffContext) *bool { return c.TestsPassed },
	},
	RoleArchitectReviewTests: {
		forward:  RoleSentinel,
		sendBack: RoleQAEngineer,
		passFlag: func(c *HandoffContext) *bool { return c.TestsReviewPassed },
	},
	RoleSentinel: {
		forward:  RoleArchitectReviewFinal,
		sendBack: RoleBuilder,
		passFlag: func(c *HandoffContext) *bool { return c.SecurityPassed },
	},
	RoleArchitectReviewFinal: {
		forward:  RoleCompleted,
		sendBack: RoleBuilder,
		passFlag: func(c *HandoffContext) *bool { return c.FinalReviewPassed },
	},
	RoleCompleted: {},
	RoleBlocked:   {},
}

// IsTerminal reports whether no automatic transition leaves r.
func IsTerminal(r Role) bool {
	return r == RoleCompleted || r == RoleBlocked
}

// IsReviewRole reports whether r can send work back to an earlier role.
func IsReviewRole(r Role) bool {
	e, ok := transitionTable[r]
	return ok && e.sendBack != ""
}

// ReviewFlag returns the context flag carrying r's verdict, or nil when
// r is not a review role or has not decided yet.
func ReviewFlag(r Role, c *HandoffContext) *bool {
	e, ok := transitionTable[r]
	if !ok || e.passFlag == nil {
		return nil
	}
	return e.passFlag(c)
}

// SendBackTarget returns the role a review role returns work to.
func SendBackTarget(r Role) (Role, bool) {
	e, ok := transitionTable[r]
	if !ok || e.sendBack == "" {
		return "", false
	}
	return e.sendBack, true
}

// Route is the decision for one successful handoff.
type Route struct {
	To       Role
	SentBack bool
	// Reason is set when the route ends in BLOCKED.
	Reason string
}

// reviewRejected reports whether the review role from rejected the work.
// DESIGN_REVIEW also rejects by listing missing components.
func reviewRejected(from Role, c *HandoffContext) bool {
	if flag := ReviewFlag(from, c); flag != nil && !*flag {
		return true
	}
	return from == RoleDesignReview && len(c.MissingComponents) > 0
}

// NextRole computes the destination for a handoff out of from, given the
// merged context. maxReviewCycles bounds how often one review role may
// send work back before the workflow is blocked; zero disables the bound.
func NextRole(from Role, c *HandoffContext, maxReviewCycles int) (Route, error) {
	e, ok := transitionTable[from]
	if !ok {
		return Route{}, fmt.Errorf("%w: %s", ErrUnknownRole, from)
	}
	if IsTerminal(from) {
		return Route{}, fmt.Errorf("role %s is terminal", from)
	}

	if c.Blocked {
		reason := string(c.BlockedReason)
		if reason == "" {
			reason = fmt.Sprintf("%s reported it cannot proceed", from.Label())
		}
		return Route{To: RoleBlocked, Reason: reason}, nil
	}

	if e.sendBack != "" && reviewRejected(from, c) {
		if maxReviewCycles > 0 && c.ReviewCycles[from] >= maxReviewCycles {
			return Route{
				To: RoleBlocked,
				Reason: fmt.Sprintf("%s sent work back to %s %d times without resolution",
					from.Label(), e.sendBack.Label(), c.ReviewCycles[from]),
			}, nil
		}
		return Route{To: e.sendBack, SentBack: true}, nil
	}

	if from == RoleArchitect && c.WantsDesign() {
		return Route{To: RoleDesigner}, nil
	}
	return Route{To: e.forward}, nil
}
