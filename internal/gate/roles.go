package gate

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/HendryAvila/sentinel/internal/workflow"
)

// categoryKeywords lists words that count as covering a default category.
// Categories without an entry match on their own name and its singular.
var categoryKeywords = map[string][]string{
	"navigation": {"nav", "menu", "header", "sidebar", "breadcrumb", "tab"},
	"cards":      {"card", "tile", "panel"},
	"forms":      {"form", "input", "field", "checkbox", "select", "textarea"},
	"icons":      {"icon", "glyph", "logo", "avatar"},
}

// routingFlags are the Architect fields that decide whether design happens.
var routingFlags = []string{"needsDesign", "hasUI", "useFigma", "usePenpot", "useUIDesignCanvas"}

// checkArchitect accepts a plan, a routing decision, or both.
func checkArchitect(h *workflow.Handoff) ([]string, string) {
	if !h.Fields.ArchitectPlan.Empty() {
		return nil, ""
	}
	for _, f := range routingFlags {
		if h.Has(f) {
			return nil, ""
		}
	}
	return []string{"neither architectPlan nor a routing flag (" + strings.Join(routingFlags, ", ") + ") was submitted"},
		"Submit the implementation plan in architectPlan and set needsDesign/hasUI to true when the work has a user interface"
}

func (g *Gate) checkDesigner(ctx context.Context, h *workflow.Handoff) ([]string, string) {
	var problems []string
	min := g.cfg.MinElements
	comps := h.Fields.CreatedComponents

	if len(comps) == 0 {
		problems = append(problems, "createdComponents is empty")
	} else if empty := countEmpty(comps); empty > 0 {
		problems = append(problems, fmt.Sprintf("createdComponents has %d empty entries", empty))
	}

	expected := int(h.Fields.ExpectedElements)
	switch {
	case expected <= 0:
		problems = append(problems, "expectedElements must be greater than 0")
	case expected < min:
		problems = append(problems, fmt.Sprintf(
			"expectedElements is %d but at least %d are required (%d more needed)", expected, min, min-expected))
	}

	if len(problems) == 0 {
		if live, ok := g.liveCount(ctx, h); ok {
			h.LiveElements = live
			if live < min {
				problems = append(problems, fmt.Sprintf(
					"the design surface reports %d elements (you reported %d) but at least %d are required",
					live, expected, min))
			}
		}
	}

	if len(problems) == 0 {
		return nil, ""
	}

	hint := fmt.Sprintf("Create the missing elements, then resubmit with createdComponents listing every component and expectedElements >= %d", min)
	if missing := MissingCategories(comps, g.cfg.Categories); len(missing) > 0 {
		hint = fmt.Sprintf("Still missing: %s. %s", strings.Join(missing, ", "), hint)
	}
	return problems, hint
}

func (g *Gate) liveCount(ctx context.Context, h *workflow.Handoff) (int, bool) {
	if g.counter == nil {
		return 0, false
	}
	ctx, cancel := context.WithTimeout(ctx, g.cfg.LiveTimeout)
	defer cancel()

	n, err := g.counter.CountElements(ctx, h.DesignURL())
	if err != nil {
		g.logger.Warn("live element count unavailable, using self-reported count",
			zap.String("design_url", h.DesignURL()),
			zap.Error(err),
		)
		return 0, false
	}
	return n, true
}

func checkBuilder(h *workflow.Handoff) ([]string, string) {
	if len(h.Fields.FilesCreated) == 0 && h.Fields.ImplementationSummary.Empty() {
		return []string{"neither filesCreated nor implementationSummary was provided"},
			"List the files you created or changed in filesCreated and summarize the implementation in implementationSummary"
	}
	return nil, ""
}

func checkQA(h *workflow.Handoff) ([]string, string) {
	var problems []string
	if h.Fields.TestResults.Empty() {
		problems = append(problems, "testResults is empty")
	}
	if h.Fields.TestsPassed == nil {
		problems = append(problems, "testsPassed is required (true or false)")
	}
	if len(problems) == 0 {
		return nil, ""
	}
	return problems, "Run the test suite, paste the outcome in testResults and set testsPassed"
}

func checkSentinel(h *workflow.Handoff) ([]string, string) {
	var problems []string
	if h.Fields.AuditResults.Empty() {
		problems = append(problems, "auditResults is empty")
	}
	if h.Fields.SecurityPassed == nil {
		problems = append(problems, "securityPassed is required (true or false)")
	}
	if len(problems) == 0 {
		return nil, ""
	}
	return problems, "Summarize the security audit in auditResults, list findings in vulnerabilities and set securityPassed"
}

// checkVerdict validates a review role: the verdict flag is mandatory and
// a negative verdict must say what to fix.
func checkVerdict(flagName string, flag *bool, hasDetail bool, detailNames string) ([]string, string) {
	if flag == nil {
		return []string{fmt.Sprintf("%s is required (true or false)", flagName)},
			fmt.Sprintf("Set %s to true to approve, or false with %s to send the work back", flagName, detailNames)
	}
	if !*flag && !hasDetail {
		return []string{fmt.Sprintf("%s is false but no %s was given", flagName, detailNames)},
			fmt.Sprintf("Say exactly what must be fixed in %s", detailNames)
	}
	return nil, ""
}

func countEmpty(comps []workflow.Component) int {
	n := 0
	for _, c := range comps {
		if c.Empty() {
			n++
		}
	}
	return n
}

// MissingCategories returns the categories that no component mentions
// in its name, type, or description. Order follows categories.
func MissingCategories(comps []workflow.Component, categories []string) []string {
	var corpus strings.Builder
	for _, c := range comps {
		corpus.WriteString(strings.ToLower(c.Name + " " + c.Type + " " + c.Description))
		corpus.WriteByte('\n')
	}
	text := corpus.String()

	var missing []string
	for _, cat := range categories {
		if !categoryCovered(text, cat) {
			missing = append(missing, cat)
		}
	}
	return missing
}

func categoryCovered(text, category string) bool {
	cat := strings.ToLower(strings.TrimSpace(category))
	words := append([]string{cat, strings.TrimSuffix(cat, "s")}, categoryKeywords[cat]...)
	for _, w := range words {
		if w != "" && strings.Contains(text, w) {
			return true
		}
	}
	return false
}
