package workflow

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// RoleNote is one entry in the cumulative note log.
type RoleNote struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
	At   string `json:"at"`
}

// HandoffContext is the cumulative carrier threaded through every
// transition. Fields are overwritten when a later role submits them and
// kept otherwise; unknown submitted fields land in Extra.
type HandoffContext struct {
	Notes []RoleNote `json:"notes,omitempty"`

	// Architect
	ArchitectPlan     Text  `json:"architectPlan,omitempty"`
	NeedsDesign       *bool `json:"needsDesign,omitempty"`
	HasUI             *bool `json:"hasUI,omitempty"`
	UseFigma          *bool `json:"useFigma,omitempty"`
	UsePenpot         *bool `json:"usePenpot,omitempty"`
	UseUIDesignCanvas *bool `json:"useUIDesignCanvas,omitempty"`

	// Designer
	DesignURL         string      `json:"designUrl,omitempty"`
	DesignSpecs       Text        `json:"designSpecs,omitempty"`
	CreatedComponents []Component `json:"createdComponents,omitempty"`
	ExpectedElements  Count       `json:"expectedElements,omitempty"`
	ActualElements    Count       `json:"actualElements,omitempty"`

	// Reviews
	DesignReviewPassed *bool      `json:"designReviewPassed,omitempty"`
	MissingComponents  StringList `json:"missingComponents,omitempty"`
	Feedback           Text       `json:"feedback,omitempty"`

	// Builder
	FilesCreated          StringList `json:"filesCreated,omitempty"`
	ImplementationSummary Text       `json:"implementationSummary,omitempty"`

	// QA
	TestResults       Text  `json:"testResults,omitempty"`
	TestsPassed       *bool `json:"testsPassed,omitempty"`
	TestsReviewPassed *bool `json:"testsReviewPassed,omitempty"`

	// Security Sentinel
	AuditResults    Text       `json:"auditResults,omitempty"`
	Vulnerabilities StringList `json:"vulnerabilities,omitempty"`
	SecurityPassed  *bool      `json:"securityPassed,omitempty"`

	FinalReviewPassed *bool `json:"finalReviewPassed,omitempty"`

	Blocked       bool `json:"blocked,omitempty"`
	BlockedReason Text `json:"blockedReason,omitempty"`

	ReviewCycles map[Role]int   `json:"reviewCycles,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// WantsDesign reports whether the Architect routed the work through design.
func (c *HandoffContext) WantsDesign() bool {
	for _, f := range []*bool{c.NeedsDesign, c.HasUI, c.UseFigma, c.UsePenpot, c.UseUIDesignCanvas} {
		if f != nil && *f {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the context.
func (c HandoffContext) Clone() (HandoffContext, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return HandoffContext{}, fmt.Errorf("copying handoff context: %w", err)
	}
	var out HandoffContext
	if err := json.Unmarshal(data, &out); err != nil {
		return HandoffContext{}, fmt.Errorf("copying handoff context: %w", err)
	}
	return out, nil
}

// --- Submission ---

// Submission is what an agent sends when it believes its phase is done:
// free-text notes plus the decoded context object.
type Submission struct {
	Notes  string
	Fields map[string]any
}

// Empty reports whether the submission carries no context fields.
func (s Submission) Empty() bool { return len(s.Fields) == 0 }

// Handoff is the typed view of a Submission handed to the Validator.
// Accumulated is a read-only snapshot of the context before this handoff.
type Handoff struct {
	Notes       string
	Fields      HandoffContext
	Present     map[string]bool
	Accumulated HandoffContext

	// LiveElements is filled in by a validator that managed to query the
	// design surface. Zero means no live signal.
	LiveElements int
}

// Has reports whether the submission set the canonical field name.
func (h *Handoff) Has(field string) bool { return h.Present[field] }

// DesignURL returns the design URL from this handoff or, failing that,
// from the accumulated context.
func (h *Handoff) DesignURL() string {
	if h.Fields.DesignURL != "" {
		return h.Fields.DesignURL
	}
	return h.Accumulated.DesignURL
}

// --- Field-name normalization ---

// knownFields maps canonical JSON names of HandoffContext fields that a
// submission may set. reviewCycles, extra and notes are managed internally.
var knownFields = []string{
	"architectPlan", "needsDesign", "hasUI", "useFigma", "usePenpot", "useUIDesignCanvas",
	"designUrl", "designSpecs", "createdComponents", "expectedElements", "actualElements",
	"designReviewPassed", "missingComponents", "feedback",
	"filesCreated", "implementationSummary",
	"testResults", "testsPassed", "testsReviewPassed",
	"auditResults", "vulnerabilities", "securityPassed",
	"finalReviewPassed", "blocked", "blockedReason",
}

// fieldAliases maps squashed alternative names to canonical field names.
var fieldAliases = map[string]string{
	"plan":                 "architectPlan",
	"components":           "createdComponents",
	"componentscreated":    "createdComponents",
	"expectedelementcount": "expectedElements",
	"elementcount":         "expectedElements",
	"figmaurl":             "designUrl",
	"penpoturl":            "designUrl",
	"designfileurl":        "designUrl",
	"designspec":           "designSpecs",
	"designpassed":         "designReviewPassed",
	"reviewpassed":         "designReviewPassed",
	"missing":              "missingComponents",
	"files":                "filesCreated",
	"fileschanged":         "filesCreated",
	"summary":              "implementationSummary",
	"testspass":            "testsPassed",
	"qapassed":             "testsPassed",
	"testreviewpassed":     "testsReviewPassed",
	"securityaudit":        "auditResults",
	"audit":                "auditResults",
	"auditpassed":          "securityPassed",
	"cannotproceed":        "blocked",
	"needshuman":           "blocked",
	"reason":               "blockedReason",
}

var canonicalByKey = func() map[string]string {
	m := make(map[string]string, len(knownFields)+len(fieldAliases))
	for _, f := range knownFields {
		m[squashKey(f)] = f
	}
	for k, v := range fieldAliases {
		m[k] = v
	}
	return m
}()

// squashKey lowercases and strips separators so "expected_elements",
// "expectedElements" and "expected-elements" compare equal.
func squashKey(k string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(k) {
		if r == '_' || r == '-' || r == ' ' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CanonicalField returns the canonical field name for a submitted key.
func CanonicalField(key string) (string, bool) {
	f, ok := canonicalByKey[squashKey(key)]
	return f, ok
}

// normalize splits submitted fields into canonical known fields and
// extras. A "notes" key inside the context is folded into the notes text.
func normalize(fields map[string]any) (known map[string]any, extra map[string]any, notes string) {
	known = make(map[string]any)
	extra = make(map[string]any)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := fields[k]
		if squashKey(k) == "notes" {
			if s, ok := v.(string); ok {
				notes = s
				continue
			}
		}
		if canonical, ok := CanonicalField(k); ok {
			// Exact canonical spelling wins over an alias.
			if _, seen := known[canonical]; seen && k != canonical {
				continue
			}
			known[canonical] = v
			continue
		}
		extra[k] = v
	}
	return known, extra, notes
}

// decodeHandoff builds the typed view of a submission. A field with the
// wrong shape (e.g. a string where a boolean belongs) is reported by name.
func decodeHandoff(sub Submission, accumulated HandoffContext) (*Handoff, map[string]any, error) {
	known, extra, ctxNotes := normalize(sub.Fields)

	h := &Handoff{
		Notes:       strings.TrimSpace(sub.Notes),
		Present:     make(map[string]bool, len(known)),
		Accumulated: accumulated,
	}
	if h.Notes == "" {
		h.Notes = strings.TrimSpace(ctxNotes)
	}

	for field, v := range known {
		data, err := json.Marshal(map[string]any{field: v})
		if err != nil {
			return nil, nil, fmt.Errorf("field %q: %w", field, err)
		}
		if err := json.Unmarshal(data, &h.Fields); err != nil {
			return nil, nil, fmt.Errorf("field %q has the wrong type: %v", field, err)
		}
		h.Present[field] = true
	}
	return h, extra, nil
}

// reviewFlags are one-hop signals: a false value is consumed by the next
// successful transition so a later arrival is not mistaken for a rejection.
func clearReviewSignals(c *HandoffContext) {
	for _, f := range []**bool{
		&c.DesignReviewPassed, &c.TestsPassed, &c.TestsReviewPassed,
		&c.SecurityPassed, &c.FinalReviewPassed,
	} {
		if *f != nil && !**f {
			*f = nil
		}
	}
	c.MissingComponents = nil
	c.Feedback = ""
}

// settleComments moves feedback and missing items left by a role that
// passed the work forward into the note log. Only a send-back may leave
// them in place, because the receiving role reads them as a rejection.
func settleComments(c *HandoffContext, from Role, at string) {
	if !c.Feedback.Empty() {
		c.Notes = append(c.Notes, RoleNote{Role: from, Text: "Feedback: " + strings.TrimSpace(string(c.Feedback)), At: at})
	}
	if len(c.MissingComponents) > 0 {
		c.Notes = append(c.Notes, RoleNote{Role: from, Text: "Also consider: " + strings.Join(c.MissingComponents, ", "), At: at})
	}
	c.Feedback = ""
	c.MissingComponents = nil
}

// mergeContext overlays the submitted known fields and extras onto a
// copy of base. base is never modified.
func mergeContext(base HandoffContext, h *Handoff, extra map[string]any) (HandoffContext, error) {
	next, err := base.Clone()
	if err != nil {
		return HandoffContext{}, err
	}
	clearReviewSignals(&next)

	overlay := make(map[string]any, len(h.Present))
	data, err := json.Marshal(h.Fields)
	if err != nil {
		return HandoffContext{}, fmt.Errorf("encoding handoff: %w", err)
	}
	var submitted map[string]json.RawMessage
	if err := json.Unmarshal(data, &submitted); err != nil {
		return HandoffContext{}, fmt.Errorf("encoding handoff: %w", err)
	}
	for field := range h.Present {
		if raw, ok := submitted[field]; ok {
			overlay[field] = raw
		} else {
			// Present but zero (e.g. an explicit null or empty list).
			overlay[field] = nil
		}
	}
	if h.LiveElements > 0 {
		overlay["actualElements"] = h.LiveElements
	}

	patch, err := json.Marshal(overlay)
	if err != nil {
		return HandoffContext{}, fmt.Errorf("encoding handoff: %w", err)
	}
	if err := clearPresent(&next, h.Present); err != nil {
		return HandoffContext{}, err
	}
	if err := json.Unmarshal(patch, &next); err != nil {
		return HandoffContext{}, fmt.Errorf("merging handoff: %w", err)
	}

	if len(extra) > 0 {
		if next.Extra == nil {
			next.Extra = make(map[string]any, len(extra))
		}
		for k, v := range extra {
			next.Extra[k] = v
		}
	}
	return next, nil
}

// clearPresent zeroes fields the submission sets, so that unmarshaling a
// null or an empty list replaces the old value instead of leaving it.
func clearPresent(c *HandoffContext, present map[string]bool) error {
	if len(present) == 0 {
		return nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding context: %w", err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("encoding context: %w", err)
	}
	for field := range present {
		delete(m, field)
	}
	data, err = json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding context: %w", err)
	}
	var fresh HandoffContext
	if err := json.Unmarshal(data, &fresh); err != nil {
		return fmt.Errorf("decoding context: %w", err)
	}
	*c = fresh
	return nil
}
