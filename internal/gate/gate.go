// Package gate implements the deterministic quality gate that decides
// whether generated phase content is good enough to pass. Each phase has
// an ordered rule checklist; every rule is evaluated on every call so a
// report always lists the full set of violations, not just the first.
package gate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sddkit/specdriver/internal/workflow"
)

// Marker is one [NEEDS CLARIFICATION: ...] occurrence in an artifact.
type Marker struct {
	Text   string `json:"text"`
	Offset int    `json:"offset"`
}

var markerRe = regexp.MustCompile(`\[NEEDS CLARIFICATION:\s*([^\]]*)\]`)

// ExtractMarkers returns every clarification marker with its question
// text and byte offset, in document order.
func ExtractMarkers(content string) []Marker {
	idx := markerRe.FindAllStringSubmatchIndex(content, -1)
	if len(idx) == 0 {
		return nil
	}
	markers := make([]Marker, 0, len(idx))
	for _, m := range idx {
		markers = append(markers, Marker{
			Text:   strings.TrimSpace(content[m[2]:m[3]]),
			Offset: m[0],
		})
	}
	return markers
}

// Reference ID grammars shared with the consistency analyzer.
var (
	requirementIDRe = regexp.MustCompile(`\b(?:FR|NFR)-\d+\b`)
	componentIDRe   = regexp.MustCompile(`\bC-\d+\b`)
	taskIDRe        = regexp.MustCompile(`\bT-\d+\b`)
	criterionIDRe   = regexp.MustCompile(`\bSC-\d+\b`)
	answerLineRe    = regexp.MustCompile(`(?mi)^\s*(?:A(?:nswer)?[:.]|→)\s*\S`)
	questionLineRe  = regexp.MustCompile(`(?mi)^\s*(?:Q(?:uestion)?[:.]|\d+[.)])\s*\S`)

	// A numeric criterion line: "95% of requests under 200ms".
	numericCriterionRe = regexp.MustCompile(`(?m)^.*\d+\s*(?:%|ms|s\b|users|requests).*$`)
)

// Config tunes the gate. Values are resolved at startup and never change
// mid-run, keeping Validate pure.
type Config struct {
	// ForbiddenSpecTerms are implementation/technology words that must
	// not appear in a specification.
	ForbiddenSpecTerms []string

	// MaxUnresolvedMarkers is how many clarification markers a
	// specification may carry and still pass.
	MaxUnresolvedMarkers int
}

// DefaultConfig returns the stock gate tuning.
func DefaultConfig() Config {
	return Config{
		ForbiddenSpecTerms: []string{
			"postgresql", "postgres", "mysql", "sqlite", "mongodb", "redis",
			"react", "vue", "angular", "django", "rails", "kubernetes",
			"docker", "graphql", "grpc",
		},
		MaxUnresolvedMarkers: 3,
	}
}

// Gate validates phase content against per-phase rule checklists.
type Gate struct {
	cfg       Config
	forbidden []string
}

// New creates a gate with the given tuning.
func New(cfg Config) *Gate {
	g := &Gate{cfg: cfg}
	for _, t := range cfg.ForbiddenSpecTerms {
		g.forbidden = append(g.forbidden, strings.ToLower(t))
	}
	return g
}

// UnresolvedMarkers counts clarification markers left in content.
func (g *Gate) UnresolvedMarkers(content string) int {
	return len(ExtractMarkers(content))
}

// rule is one checklist entry. check returns "" when satisfied,
// otherwise a human-readable violation message.
type rule struct {
	id    string
	check func(g *Gate, content string) string
}

// phaseRules holds the ordered checklist per phase. Order matters: the
// violations in a report appear in checklist order, and feedback prompts
// present them in the same order.
var phaseRules = map[workflow.Phase][]rule{
	workflow.PhaseConstitution: {
		{"CONST-001", checkNonEmpty},
		{"CONST-002", checkPrinciplesSection},
		{"CONST-003", checkNoMarkers},
	},
	workflow.PhaseSpecification: {
		{"SPEC-001", checkNonEmpty},
		{"SPEC-002", checkNoForbiddenTerms},
		{"SPEC-003", checkRequirementIDs},
		{"SPEC-004", checkSuccessCriteria},
		{"SPEC-005", checkScenarioSection},
		{"SPEC-006", checkMarkerBudget},
	},
	workflow.PhaseClarification: {
		{"CLAR-001", checkNonEmpty},
		{"CLAR-002", checkNoMarkers},
		{"CLAR-003", checkAnswersRecorded},
	},
	workflow.PhasePlan: {
		{"PLAN-001", checkNonEmpty},
		{"PLAN-002", checkComponentIDs},
		{"PLAN-003", checkReferencesRequirement},
		{"PLAN-004", checkNoMarkers},
	},
	workflow.PhaseTasks: {
		{"TASK-001", checkNonEmpty},
		{"TASK-002", checkTaskIDs},
		{"TASK-003", checkTasksTraceable},
		{"TASK-004", checkNoMarkers},
	},
	workflow.PhaseImplementation: {
		{"IMPL-001", checkNonEmpty},
		{"IMPL-002", checkProgressSection},
		{"IMPL-003", checkReferencesTask},
	},
}

// Validate runs the phase's full checklist over content. Every rule is
// evaluated; the report passes only when no rule produced a violation.
// The Iteration field is left zero for the caller to fill.
func (g *Gate) Validate(phase workflow.Phase, content string) workflow.ValidationReport {
	report := workflow.ValidationReport{Phase: phase}

	rules, ok := phaseRules[phase]
	if !ok {
		report.Violations = []workflow.Violation{{
			RuleID:  "GATE-000",
			Message: fmt.Sprintf("no checklist defined for phase %q", phase),
		}}
		return report
	}

	for _, r := range rules {
		if msg := r.check(g, content); msg != "" {
			report.Violations = append(report.Violations, workflow.Violation{
				RuleID:  r.id,
				Message: msg,
			})
		}
	}

	report.Passed = len(report.Violations) == 0
	return report
}

// --- Checks ---

func checkNonEmpty(_ *Gate, content string) string {
	if strings.TrimSpace(content) == "" {
		return "content is empty"
	}
	return ""
}

func checkNoMarkers(_ *Gate, content string) string {
	if n := len(ExtractMarkers(content)); n > 0 {
		return fmt.Sprintf("%d unresolved clarification marker(s) remain", n)
	}
	return ""
}

func checkMarkerBudget(g *Gate, content string) string {
	if n := len(ExtractMarkers(content)); n > g.cfg.MaxUnresolvedMarkers {
		return fmt.Sprintf("%d unresolved clarification markers exceed the budget of %d", n, g.cfg.MaxUnresolvedMarkers)
	}
	return ""
}

func checkPrinciplesSection(_ *Gate, content string) string {
	if !containsHeading(content, "principle") {
		return "missing a principles section"
	}
	return ""
}

func checkNoForbiddenTerms(g *Gate, content string) string {
	lowered := strings.ToLower(content)
	var found []string
	for _, term := range g.forbidden {
		if containsWord(lowered, term) {
			found = append(found, term)
		}
	}
	if len(found) > 0 {
		return fmt.Sprintf("specification names implementation technology: %s", strings.Join(found, ", "))
	}
	return ""
}

func checkRequirementIDs(_ *Gate, content string) string {
	if !requirementIDRe.MatchString(content) {
		return "no requirement IDs (FR-### / NFR-###) found"
	}
	return ""
}

func checkSuccessCriteria(_ *Gate, content string) string {
	if criterionIDRe.MatchString(content) {
		return ""
	}
	if numericCriterionRe.MatchString(content) && containsHeading(content, "success") {
		return ""
	}
	return "no measurable success criterion (SC-### or a numeric criterion) found"
}

func checkScenarioSection(_ *Gate, content string) string {
	if !containsHeading(content, "scenario") && !containsHeading(content, "user stor") {
		return "missing a user scenario section"
	}
	return ""
}

func checkAnswersRecorded(_ *Gate, content string) string {
	questions := questionLineRe.FindAllString(content, -1)
	answers := answerLineRe.FindAllString(content, -1)
	if len(questions) > 0 && len(answers) < len(questions) {
		return fmt.Sprintf("%d question(s) have no recorded answer", len(questions)-len(answers))
	}
	return ""
}

func checkComponentIDs(_ *Gate, content string) string {
	if !componentIDRe.MatchString(content) {
		return "no component IDs (C-###) found"
	}
	return ""
}

func checkReferencesRequirement(_ *Gate, content string) string {
	if !requirementIDRe.MatchString(content) {
		return "plan does not reference any requirement ID"
	}
	return ""
}

func checkTaskIDs(_ *Gate, content string) string {
	if !taskIDRe.MatchString(content) {
		return "no task IDs (T-###) found"
	}
	return ""
}

func checkTasksTraceable(_ *Gate, content string) string {
	if !componentIDRe.MatchString(content) && !requirementIDRe.MatchString(content) {
		return "tasks reference no component or requirement IDs"
	}
	return ""
}

func checkProgressSection(_ *Gate, content string) string {
	if !containsHeading(content, "progress") {
		return "missing a progress log section"
	}
	return ""
}

func checkReferencesTask(_ *Gate, content string) string {
	if !taskIDRe.MatchString(content) {
		return "implementation log references no task ID"
	}
	return ""
}

// containsHeading reports whether any markdown heading line contains the
// (lowercase) fragment.
func containsHeading(content, fragment string) bool {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") && strings.Contains(strings.ToLower(trimmed), fragment) {
			return true
		}
	}
	return false
}

// containsWord reports whether term appears as a whole word in lowered
// text. Keeps "postgres" from matching inside "postgresql-like" prose
// boundaries incorrectly.
func containsWord(lowered, term string) bool {
	idx := 0
	for {
		i := strings.Index(lowered[idx:], term)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(term)
		beforeOK := start == 0 || !isWordByte(lowered[start-1])
		afterOK := end == len(lowered) || !isWordByte(lowered[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}
