// Package workflow implements the multi-agent handoff state machine.
//
// A workflow moves a piece of work through a fixed set of agent roles
// (Architect, Designer, Builder, QA, Security Sentinel, ...). Each role
// signals completion by submitting a handoff; the machine validates it
// through a Validator, merges it into the cumulative HandoffContext and
// routes to the next role.
//
// This package follows the same layout as the rest of the server:
// - types, flows, context merge, machine, and store in separate files
// - Validator and Store are interfaces; tools depend on the abstractions
// - routing lives in a table, never in string probing of role names
package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// --- Role enum ---

// Role is a named phase of the multi-agent workflow.
// The set is closed: anything outside validRoles is rejected by ParseRole.
type Role string

const (
	RoleArchitect            Role = "ARCHITECT"
	RoleDesigner             Role = "DESIGNER"
	RoleDesignReview         Role = "DESIGN_REVIEW"
	RoleBuilder              Role = "BUILDER"
	RoleQAEngineer           Role = "QA_ENGINEER"
	RoleArchitectReviewTests Role = "ARCHITECT_REVIEW_TESTS"
	RoleSentinel             Role = "SENTINEL"
	RoleArchitectReviewFinal Role = "ARCHITECT_REVIEW_FINAL"
	RoleCompleted            Role = "COMPLETED"
	RoleBlocked              Role = "BLOCKED"
)

// RoleOrder lists every role in workflow order. Terminal roles come last.
var RoleOrder = []Role{
	RoleArchitect,
	RoleDesigner,
	RoleDesignReview,
	RoleBuilder,
	RoleQAEngineer,
	RoleArchitectReviewTests,
	RoleSentinel,
	RoleArchitectReviewFinal,
	RoleCompleted,
	RoleBlocked,
}

var roleLabels = map[Role]string{
	RoleArchitect:            "Architect",
	RoleDesigner:             "Designer",
	RoleDesignReview:         "Design Review",
	RoleBuilder:              "Builder",
	RoleQAEngineer:           "QA Engineer",
	RoleArchitectReviewTests: "Architect (test review)",
	RoleSentinel:             "Security Sentinel",
	RoleArchitectReviewFinal: "Architect (final review)",
	RoleCompleted:            "Completed",
	RoleBlocked:              "Blocked",
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := roleLabels[r]
	return ok
}

// Label returns a human-readable name for the role.
func (r Role) Label() string {
	if l, ok := roleLabels[r]; ok {
		return l
	}
	return string(r)
}

// ParseRole converts user or agent input into a Role.
// Accepts "DESIGN_REVIEW", "design-review", "designReview" and "design review".
func ParseRole(s string) (Role, error) {
	r := Role(normalizeRoleName(s))
	if !r.Valid() {
		names := make([]string, 0, len(RoleOrder))
		for _, known := range RoleOrder {
			names = append(names, string(known))
		}
		return "", fmt.Errorf("invalid role %q: must be one of: %s", s, strings.Join(names, ", "))
	}
	return r, nil
}

func normalizeRoleName(s string) string {
	var b strings.Builder
	prevLower := false
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r == '-' || r == ' ' || r == '_':
			b.WriteByte('_')
			prevLower = false
		case unicode.IsUpper(r):
			if prevLower {
				b.WriteByte('_')
			}
			b.WriteRune(r)
			prevLower = false
		default:
			b.WriteRune(unicode.ToUpper(r))
			prevLower = unicode.IsLower(r) || unicode.IsDigit(r)
		}
	}
	return b.String()
}

// --- Failure kinds ---

// FailureKind classifies why a transition did not happen.
type FailureKind string

const (
	KindNone             FailureKind = ""
	KindMissingParameter FailureKind = "missing_parameter"
	KindInactive         FailureKind = "workflow_inactive"
	KindMalformed        FailureKind = "malformed_payload"
	KindValidation       FailureKind = "validation_rejected"
	KindBlocked          FailureKind = "blocked"
	KindCancelled        FailureKind = "cancelled"
)

// TransitionResult is the outcome of one HandleAgentCompletion call.
// Success=false always carries a non-empty Error.
type TransitionResult struct {
	Success   bool        `json:"success"`
	FromState Role        `json:"fromState"`
	ToState   Role        `json:"toState"`
	Error     string      `json:"error,omitempty"`
	Kind      FailureKind `json:"kind,omitempty"`
	SentBack  bool        `json:"sentBack,omitempty"`
}

// RequiresHuman reports whether the workflow now waits on a human.
func (r TransitionResult) RequiresHuman() bool {
	return r.ToState == RoleBlocked || r.Kind == KindBlocked
}

func failed(from Role, kind FailureKind, msg string) TransitionResult {
	return TransitionResult{FromState: from, ToState: from, Kind: kind, Error: msg}
}

// --- Flexible value types ---
//
// Handoff payloads are generated by language models, so the same field
// arrives as a string in one call and as an object in the next. These
// types accept the common shapes and normalize them.

// Text holds free-form content. Non-string JSON is kept as indented JSON.
type Text string

// UnmarshalJSON accepts a string, null, or any other JSON value.
func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*t = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return err
	}
	*t = Text(buf.String())
	return nil
}

// Empty reports whether the text is blank.
func (t Text) Empty() bool { return strings.TrimSpace(string(t)) == "" }

// Count is a non-negative integer that also accepts numeric strings ("20").
// Fractions and values above MaxCount are rejected rather than truncated.
type Count int

// MaxCount is the largest Count a handoff may carry.
const MaxCount = math.MaxInt32

// UnmarshalJSON accepts a JSON number, a numeric string, or null.
func (c *Count) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*c = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("expected a number, got %s", string(data))
	}
	if f < 0 {
		return fmt.Errorf("expected a non-negative number, got %s", s)
	}
	if f != math.Trunc(f) {
		return fmt.Errorf("expected a whole number, got %s", s)
	}
	if f > MaxCount {
		return fmt.Errorf("expected a number no larger than %d, got %s", MaxCount, s)
	}
	*c = Count(f)
	return nil
}

// StringList accepts an array of strings or objects, or a single string.
// Objects contribute their "name" (or "title") field, falling back to compact JSON.
type StringList []string

// UnmarshalJSON implements the flexible decode described on StringList.
func (l *StringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*l = nil
		return nil
	}
	if data[0] != '[' {
		var single Text
		if err := single.UnmarshalJSON(data); err != nil {
			return err
		}
		if single.Empty() {
			*l = nil
			return nil
		}
		*l = StringList{string(single)}
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	out := make(StringList, 0, len(items))
	for _, raw := range items {
		var c Component
		if err := c.UnmarshalJSON(raw); err != nil {
			return err
		}
		out = append(out, c.String())
	}
	*l = out
	return nil
}

// Component describes one UI element the Designer created.
// It decodes from a bare string ("Navbar") or an object.
type Component struct {
	Name        string `json:"name,omitempty"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

// UnmarshalJSON accepts a string or an object with name/type/description
// (or the title/component/kind/category variants).
func (c *Component) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*c = Component{}
		return nil
	}
	if data[0] != '{' {
		var t Text
		if err := t.UnmarshalJSON(data); err != nil {
			return err
		}
		*c = Component{Name: strings.TrimSpace(string(t))}
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Component{
		Name:        firstString(raw, "name", "title", "component", "id"),
		Type:        firstString(raw, "type", "kind", "category"),
		Description: firstString(raw, "description", "desc", "summary"),
	}
	if c.Empty() && len(raw) > 0 {
		c.Name = strings.TrimSpace(string(data))
	}
	return nil
}

// Empty reports whether the descriptor carries no information.
func (c Component) Empty() bool {
	return strings.TrimSpace(c.Name) == "" &&
		strings.TrimSpace(c.Type) == "" &&
		strings.TrimSpace(c.Description) == ""
}

func (c Component) String() string {
	switch {
	case c.Name != "" && c.Type != "":
		return fmt.Sprintf("%s (%s)", c.Name, c.Type)
	case c.Name != "":
		return c.Name
	case c.Type != "":
		return c.Type
	default:
		return c.Description
	}
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			if s, ok := v.(string); ok {
				return strings.TrimSpace(s)
			}
			return strings.TrimSpace(fmt.Sprint(v))
		}
	}
	return ""
}
