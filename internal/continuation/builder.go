// Package continuation builds the instruction text handed to the role that
// receives a workflow after a transition.
//
// Build is a pure function of (role, context): the same inputs always
// produce the same text, and nothing here touches workflow state.
package continuation

import (
	"fmt"
	"strings"

	"github.com/HendryAvila/sentinel/internal/workflow"
)

// Builder renders continuations. The zero value uses the gate defaults
// of 15 elements and no named categories.
type Builder struct {
	MinElements int
	Categories  []string
}

// New creates a Builder for the given element threshold and categories.
func New(minElements int, categories []string) Builder {
	return Builder{MinElements: minElements, Categories: categories}
}

func (b Builder) minElements() int {
	if b.MinElements <= 0 {
		return 15
	}
	return b.MinElements
}

// IsReturn reports whether role is receiving work that a reviewer sent
// back, as opposed to arriving at it for the first time.
func IsReturn(role workflow.Role, c *workflow.HandoffContext) bool {
	if c == nil || workflow.IsTerminal(role) {
		return false
	}
	if len(c.MissingComponents) > 0 || !c.Feedback.Empty() {
		return true
	}
	return reviewerOf(role, c) != ""
}

// reviewerOf returns the review role whose false verdict sent work to role.
func reviewerOf(role workflow.Role, c *workflow.HandoffContext) workflow.Role {
	for _, r := range workflow.RoleOrder {
		target, ok := workflow.SendBackTarget(r)
		if !ok || target != role {
			continue
		}
		if flag := workflow.ReviewFlag(r, c); flag != nil && !*flag {
			return r
		}
	}
	return ""
}

// Build returns the instruction text for role given the accumulated context.
func (b Builder) Build(role workflow.Role, c *workflow.HandoffContext) string {
	if c == nil {
		c = &workflow.HandoffContext{}
	}
	switch role {
	case workflow.RoleCompleted:
		return b.completed(c)
	case workflow.RoleBlocked:
		return b.blocked(c)
	}
	if IsReturn(role, c) {
		return b.rework(role, c)
	}

	var body string
	switch role {
	case workflow.RoleArchitect:
		body = b.architect(c)
	case workflow.RoleDesigner:
		body = b.designer(c)
	case workflow.RoleDesignReview:
		body = b.designReview(c)
	case workflow.RoleBuilder:
		body = b.builder(c)
	case workflow.RoleQAEngineer:
		body = b.qa(c)
	case workflow.RoleArchitectReviewTests:
		body = b.testsReview(c)
	case workflow.RoleSentinel:
		body = b.sentinel(c)
	case workflow.RoleArchitectReviewFinal:
		body = b.finalReview(c)
	default:
		body = "Continue the work for this role, then call `sentinel_handoff`."
	}
	return fmt.Sprintf("# You are now: %s\n\n%s", role.Label(), body)
}

// --- Rework ---

func (b Builder) rework(role workflow.Role, c *workflow.HandoffContext) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Returned to: %s\n\n", role.Label())

	reviewer := reviewerOf(role, c)
	if reviewer != "" {
		fmt.Fprintf(&sb, "%s rejected the previous submission.\n\n", reviewer.Label())
	} else {
		sb.WriteString("A reviewer rejected the previous submission.\n\n")
	}
	sb.WriteString("**DO NOT start over.** Keep everything that already exists and fix only the gaps listed below.\n\n")

	if !c.Feedback.Empty() {
		fmt.Fprintf(&sb, "## Feedback\n\n%s\n\n", strings.TrimSpace(string(c.Feedback)))
	}
	if len(c.MissingComponents) > 0 {
		sb.WriteString("## Missing\n\n")
		for _, m := range c.MissingComponents {
			fmt.Fprintf(&sb, "- %s\n", m)
		}
		sb.WriteString("\n")
	}

	if role == workflow.RoleDesigner {
		b.writeElementCounts(&sb, c)
	}
	if role == workflow.RoleBuilder && len(c.Vulnerabilities) > 0 {
		sb.WriteString("## Security findings\n\n")
		for _, v := range c.Vulnerabilities {
			fmt.Fprintf(&sb, "- %s\n", v)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Next Step\n\n")
	sb.WriteString("Apply the fixes, then call `sentinel_handoff` again with ")
	switch role {
	case workflow.RoleDesigner:
		sb.WriteString("the complete `createdComponents` list and updated `expectedElements`.")
	case workflow.RoleBuilder:
		sb.WriteString("`filesCreated` and an `implementationSummary` describing the fixes.")
	case workflow.RoleQAEngineer:
		sb.WriteString("fresh `testResults` and `testsPassed`.")
	default:
		sb.WriteString("the updated fields for your role.")
	}
	return sb.String()
}

func (b Builder) writeElementCounts(sb *strings.Builder, c *workflow.HandoffContext) {
	min := b.minElements()
	sb.WriteString("## Element count\n\n")
	fmt.Fprintf(sb, "- Expected (self-reported): %d\n", int(c.ExpectedElements))
	if c.ActualElements > 0 {
		fmt.Fprintf(sb, "- Actual (design surface): %d\n", int(c.ActualElements))
	}
	fmt.Fprintf(sb, "- Required minimum: %d\n\n", min)
}

// --- First arrivals ---

func (b Builder) architect(c *workflow.HandoffContext) string {
	return "Analyze the request and produce an implementation plan.\n\n" +
		"## Next Step\n\n" +
		"Call `sentinel_handoff` with `architectPlan` describing pages, components and data flow. " +
		"Set `needsDesign` or `hasUI` to true when the work has a user interface " +
		"(`useFigma`, `usePenpot` or `useUIDesignCanvas` select a design tool); " +
		"otherwise the work goes straight to the Builder."
}

func (b Builder) designer(c *workflow.HandoffContext) string {
	var sb strings.Builder
	writePlan(&sb, c)

	if c.DesignURL != "" {
		fmt.Fprintf(&sb, "A design already exists at %s. Review it, complete what is missing and document it.\n\n", c.DesignURL)
	} else {
		sb.WriteString("No design exists yet. Create it in the selected design tool and include its link as `designUrl`.\n\n")
	}

	fmt.Fprintf(&sb, "The design must contain at least **%d** elements", b.minElements())
	if len(b.Categories) > 0 {
		fmt.Fprintf(&sb, " covering: %s", strings.Join(b.Categories, ", "))
	}
	sb.WriteString(".\n\n")

	sb.WriteString("## Next Step\n\n")
	sb.WriteString("Call `sentinel_handoff` with `createdComponents` (every component you created), " +
		"`expectedElements` (their count) and `designSpecs` (colors, typography, spacing and layout " +
		"the Builder must follow).")
	return sb.String()
}

func (b Builder) designReview(c *workflow.HandoffContext) string {
	var sb strings.Builder
	sb.WriteString("Review the design against the plan.\n\n")
	if c.DesignURL != "" {
		fmt.Fprintf(&sb, "**Design:** %s\n\n", c.DesignURL)
	}
	if len(c.CreatedComponents) > 0 {
		fmt.Fprintf(&sb, "## Components reported (%d)\n\n", len(c.CreatedComponents))
		for i, comp := range c.CreatedComponents {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, comp.String())
		}
		sb.WriteString("\n")
	}
	sb.WriteString("## Next Step\n\n")
	sb.WriteString("Call `sentinel_handoff` with `designReviewPassed: true` to approve, or " +
		"`designReviewPassed: false` plus `missingComponents` and `feedback` to send the design back.")
	return sb.String()
}

func (b Builder) builder(c *workflow.HandoffContext) string {
	var sb strings.Builder
	writePlan(&sb, c)
	if !c.DesignSpecs.Empty() {
		fmt.Fprintf(&sb, "## Design specs\n\nFollow these exactly:\n\n%s\n\n", strings.TrimSpace(string(c.DesignSpecs)))
	}
	if c.DesignURL != "" {
		fmt.Fprintf(&sb, "**Design:** %s\n\n", c.DesignURL)
	}
	sb.WriteString("Implement the plan.\n\n## Next Step\n\n")
	sb.WriteString("Call `sentinel_handoff` with `filesCreated` and `implementationSummary`.")
	return sb.String()
}

func (b Builder) qa(c *workflow.HandoffContext) string {
	var sb strings.Builder
	if len(c.FilesCreated) > 0 {
		sb.WriteString("## Files to test\n\n")
		for _, f := range c.FilesCreated {
			fmt.Fprintf(&sb, "- %s\n", f)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Write and run tests for the implementation.\n\n## Next Step\n\n")
	sb.WriteString("Call `sentinel_handoff` with `testResults` and `testsPassed`. " +
		"`testsPassed: false` sends the work back to the Builder.")
	return sb.String()
}

func (b Builder) testsReview(c *workflow.HandoffContext) string {
	var sb strings.Builder
	if !c.TestResults.Empty() {
		fmt.Fprintf(&sb, "## Test results\n\n%s\n\n", strings.TrimSpace(string(c.TestResults)))
	}
	sb.WriteString("Check that the tests cover the plan.\n\n## Next Step\n\n")
	sb.WriteString("Call `sentinel_handoff` with `testsReviewPassed: true`, or `false` plus `feedback` " +
		"to send the tests back to QA.")
	return sb.String()
}

func (b Builder) sentinel(c *workflow.HandoffContext) string {
	var sb strings.Builder
	if len(c.FilesCreated) > 0 {
		sb.WriteString("## Files to audit\n\n")
		for _, f := range c.FilesCreated {
			fmt.Fprintf(&sb, "- %s\n", f)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Audit the implementation for security issues.\n\n## Next Step\n\n")
	sb.WriteString("Call `sentinel_handoff` with `auditResults`, `vulnerabilities` and `securityPassed`. " +
		"`securityPassed: false` sends the work back to the Builder.")
	return sb.String()
}

func (b Builder) finalReview(c *workflow.HandoffContext) string {
	var sb strings.Builder
	writePlan(&sb, c)
	if !c.ImplementationSummary.Empty() {
		fmt.Fprintf(&sb, "## Implementation\n\n%s\n\n", strings.TrimSpace(string(c.ImplementationSummary)))
	}
	if !c.AuditResults.Empty() {
		fmt.Fprintf(&sb, "## Security audit\n\n%s\n\n", strings.TrimSpace(string(c.AuditResults)))
	}
	sb.WriteString("Verify the result matches the plan.\n\n## Next Step\n\n")
	sb.WriteString("Call `sentinel_handoff` with `finalReviewPassed: true` to complete the workflow, " +
		"or `false` plus `feedback` to send it back to the Builder.")
	return sb.String()
}

// --- Terminal ---

func (b Builder) completed(c *workflow.HandoffContext) string {
	var sb strings.Builder
	sb.WriteString("# Workflow completed\n\n")
	if !c.ImplementationSummary.Empty() {
		fmt.Fprintf(&sb, "%s\n\n", strings.TrimSpace(string(c.ImplementationSummary)))
	}
	if len(c.FilesCreated) > 0 {
		fmt.Fprintf(&sb, "**Files:** %s\n\n", strings.Join(c.FilesCreated, ", "))
	}
	sb.WriteString("All roles signed off. Summarize the result for the user. " +
		"No further handoffs are accepted; start a new workflow for new work.")
	return sb.String()
}

func (b Builder) blocked(c *workflow.HandoffContext) string {
	var sb strings.Builder
	sb.WriteString("# Workflow blocked\n\n")
	reason := strings.TrimSpace(string(c.BlockedReason))
	if reason == "" {
		reason = "no reason was given"
	}
	fmt.Fprintf(&sb, "**Reason:** %s\n\n", reason)
	sb.WriteString("Human intervention is required. Stop working, explain the reason to the user and " +
		"ask how to proceed. A human can resume the workflow with `sentinel_reset_workflow`.")
	return sb.String()
}

func writePlan(sb *strings.Builder, c *workflow.HandoffContext) {
	if c.ArchitectPlan.Empty() {
		return
	}
	fmt.Fprintf(sb, "## Plan\n\n%s\n\n", strings.TrimSpace(string(c.ArchitectPlan)))
}
