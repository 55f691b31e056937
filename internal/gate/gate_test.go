package gate

import (
	"strings"
	"testing"

	"github.com/sddkit/specdriver/internal/workflow"
)

const goodSpec = `# Feature Specification

## User Scenarios
- As a user, I want to export my notes.

## Requirements
- FR-1: The system MUST allow exporting notes as a single file.
- NFR-1: Export of 1000 notes completes without blocking the UI.

## Success Criteria
- SC-1: 95% of exports finish within 5 seconds.
`

const goodPlan = `# Technical Plan

## Components
- C-1: Export service covering FR-1.
- C-2: Progress reporter covering NFR-1.
`

const goodTasks = `# Tasks

- T-1: Implement the export service (C-1, FR-1).
- T-2: Wire progress events (C-2).
`

// --- Marker extraction ---

func TestExtractMarkers_None(t *testing.T) {
	if got := ExtractMarkers("clean content, nothing open"); got != nil {
		t.Errorf("ExtractMarkers = %v, want nil", got)
	}
}

func TestExtractMarkers_TextAndOffset(t *testing.T) {
	content := "intro [NEEDS CLARIFICATION: which auth provider?] outro"
	markers := ExtractMarkers(content)
	if len(markers) != 1 {
		t.Fatalf("marker count = %d, want 1", len(markers))
	}
	if markers[0].Text != "which auth provider?" {
		t.Errorf("Text = %q", markers[0].Text)
	}
	if markers[0].Offset != strings.Index(content, "[NEEDS") {
		t.Errorf("Offset = %d, want %d", markers[0].Offset, strings.Index(content, "[NEEDS"))
	}
}

func TestExtractMarkers_DocumentOrder(t *testing.T) {
	content := "[NEEDS CLARIFICATION: first?] middle [NEEDS CLARIFICATION:second ]"
	markers := ExtractMarkers(content)
	if len(markers) != 2 {
		t.Fatalf("marker count = %d, want 2", len(markers))
	}
	if markers[0].Text != "first?" || markers[1].Text != "second" {
		t.Errorf("texts = %q, %q", markers[0].Text, markers[1].Text)
	}
	if markers[0].Offset >= markers[1].Offset {
		t.Error("markers not in document order")
	}
}

func TestUnresolvedMarkers(t *testing.T) {
	g := New(DefaultConfig())
	if n := g.UnresolvedMarkers("a [NEEDS CLARIFICATION: x] b [NEEDS CLARIFICATION: y]"); n != 2 {
		t.Errorf("UnresolvedMarkers = %d, want 2", n)
	}
}

// --- Validate: general behavior ---

func TestValidate_UnknownPhase(t *testing.T) {
	g := New(DefaultConfig())
	report := g.Validate(workflow.Phase("deploy"), "anything")
	if report.Passed {
		t.Error("unknown phase must not pass")
	}
	if len(report.Violations) != 1 || report.Violations[0].RuleID != "GATE-000" {
		t.Errorf("violations = %+v, want single GATE-000", report.Violations)
	}
}

func TestValidate_NoShortCircuit(t *testing.T) {
	g := New(DefaultConfig())
	// Empty content violates every specification rule that applies; the
	// report must list all of them, not stop at the first.
	report := g.Validate(workflow.PhaseSpecification, "")
	if report.Passed {
		t.Fatal("empty specification must not pass")
	}
	ids := ruleIDs(report)
	for _, want := range []string{"SPEC-001", "SPEC-003", "SPEC-004", "SPEC-005"} {
		if !ids[want] {
			t.Errorf("missing violation %s in %v", want, report.Violations)
		}
	}
}

func TestValidate_ChecklistOrder(t *testing.T) {
	g := New(DefaultConfig())
	report := g.Validate(workflow.PhaseSpecification, "")
	var last string
	for _, v := range report.Violations {
		if last != "" && v.RuleID < last {
			t.Fatalf("violations out of checklist order: %s before %s", last, v.RuleID)
		}
		last = v.RuleID
	}
}

func TestValidate_Deterministic(t *testing.T) {
	g := New(DefaultConfig())
	first := g.Validate(workflow.PhaseSpecification, "FR-1 but no headings")
	for i := 0; i < 3; i++ {
		again := g.Validate(workflow.PhaseSpecification, "FR-1 but no headings")
		if len(again.Violations) != len(first.Violations) || again.Passed != first.Passed {
			t.Fatal("Validate is not deterministic")
		}
	}
}

// --- Constitution ---

func TestValidate_ConstitutionPasses(t *testing.T) {
	g := New(DefaultConfig())
	report := g.Validate(workflow.PhaseConstitution, "# Principles\n\n- Keep it simple.")
	if !report.Passed {
		t.Errorf("violations = %+v", report.Violations)
	}
}

func TestValidate_ConstitutionMissingPrinciples(t *testing.T) {
	g := New(DefaultConfig())
	report := g.Validate(workflow.PhaseConstitution, "# Overview\n\nWe value craft.")
	if report.Passed || !ruleIDs(report)["CONST-002"] {
		t.Errorf("want CONST-002, got %+v", report.Violations)
	}
}

// --- Specification ---

func TestValidate_SpecificationPasses(t *testing.T) {
	g := New(DefaultConfig())
	report := g.Validate(workflow.PhaseSpecification, goodSpec)
	if !report.Passed {
		t.Errorf("violations = %+v", report.Violations)
	}
}

func TestValidate_SpecificationForbiddenTerm(t *testing.T) {
	g := New(DefaultConfig())
	report := g.Validate(workflow.PhaseSpecification, goodSpec+"\nStore everything in PostgreSQL.")
	if report.Passed || !ruleIDs(report)["SPEC-002"] {
		t.Errorf("want SPEC-002, got %+v", report.Violations)
	}
}

func TestValidate_SpecificationForbiddenTermWholeWordOnly(t *testing.T) {
	g := New(DefaultConfig())
	// "reacting" contains "react" but is not the technology name.
	report := g.Validate(workflow.PhaseSpecification, goodSpec+"\nUsers keep reacting to reminders.")
	if !report.Passed {
		t.Errorf("substring must not trip SPEC-002: %+v", report.Violations)
	}
}

func TestValidate_SpecificationMarkerBudget(t *testing.T) {
	g := New(DefaultConfig())
	within := goodSpec + "\n[NEEDS CLARIFICATION: a?] [NEEDS CLARIFICATION: b?] [NEEDS CLARIFICATION: c?]"
	if report := g.Validate(workflow.PhaseSpecification, within); !report.Passed {
		t.Errorf("3 markers are within budget: %+v", report.Violations)
	}
	over := within + " [NEEDS CLARIFICATION: d?]"
	report := g.Validate(workflow.PhaseSpecification, over)
	if report.Passed || !ruleIDs(report)["SPEC-006"] {
		t.Errorf("want SPEC-006, got %+v", report.Violations)
	}
}

func TestValidate_SpecificationNumericCriterion(t *testing.T) {
	g := New(DefaultConfig())
	spec := `# Spec

## User Scenarios
- A user exports notes.

## Requirements
- FR-1: The system MUST export notes.

## Success Criteria
- Exports finish in under 200ms for typical notebooks.
`
	if report := g.Validate(workflow.PhaseSpecification, spec); !report.Passed {
		t.Errorf("numeric criterion under a success heading should pass: %+v", report.Violations)
	}
}

// --- Clarification ---

func TestValidate_ClarificationUnansweredQuestion(t *testing.T) {
	g := New(DefaultConfig())
	content := "Q: which provider?\nA: Google only.\nQ: what about mobile?\n"
	report := g.Validate(workflow.PhaseClarification, content)
	if report.Passed || !ruleIDs(report)["CLAR-003"] {
		t.Errorf("want CLAR-003, got %+v", report.Violations)
	}
}

func TestValidate_ClarificationPasses(t *testing.T) {
	g := New(DefaultConfig())
	content := "Q: which provider?\nA: Google only.\nQ: mobile support?\nA: out of scope.\n"
	if report := g.Validate(workflow.PhaseClarification, content); !report.Passed {
		t.Errorf("violations = %+v", report.Violations)
	}
}

func TestValidate_ClarificationLeftoverMarker(t *testing.T) {
	g := New(DefaultConfig())
	report := g.Validate(workflow.PhaseClarification, "Q: x?\nA: y. [NEEDS CLARIFICATION: still open]")
	if report.Passed || !ruleIDs(report)["CLAR-002"] {
		t.Errorf("want CLAR-002, got %+v", report.Violations)
	}
}

// --- Plan / Tasks / Implementation ---

func TestValidate_PlanPasses(t *testing.T) {
	g := New(DefaultConfig())
	if report := g.Validate(workflow.PhasePlan, goodPlan); !report.Passed {
		t.Errorf("violations = %+v", report.Violations)
	}
}

func TestValidate_PlanWithoutRequirementRefs(t *testing.T) {
	g := New(DefaultConfig())
	report := g.Validate(workflow.PhasePlan, "# Plan\n\n- C-1: A service.\n")
	if report.Passed || !ruleIDs(report)["PLAN-003"] {
		t.Errorf("want PLAN-003, got %+v", report.Violations)
	}
}

func TestValidate_TasksPasses(t *testing.T) {
	g := New(DefaultConfig())
	if report := g.Validate(workflow.PhaseTasks, goodTasks); !report.Passed {
		t.Errorf("violations = %+v", report.Violations)
	}
}

func TestValidate_TasksUntraceable(t *testing.T) {
	g := New(DefaultConfig())
	report := g.Validate(workflow.PhaseTasks, "- T-1: do something\n- T-2: do more\n")
	if report.Passed || !ruleIDs(report)["TASK-003"] {
		t.Errorf("want TASK-003, got %+v", report.Violations)
	}
}

func TestValidate_ImplementationPasses(t *testing.T) {
	g := New(DefaultConfig())
	content := "# Progress\n\n- T-1 done, export service merged.\n"
	if report := g.Validate(workflow.PhaseImplementation, content); !report.Passed {
		t.Errorf("violations = %+v", report.Violations)
	}
}

func TestValidate_ImplementationNoTaskRefs(t *testing.T) {
	g := New(DefaultConfig())
	report := g.Validate(workflow.PhaseImplementation, "# Progress\n\n- started coding\n")
	if report.Passed || !ruleIDs(report)["IMPL-003"] {
		t.Errorf("want IMPL-003, got %+v", report.Violations)
	}
}

// ruleIDs collects violation IDs into a set.
func ruleIDs(r workflow.ValidationReport) map[string]bool {
	ids := map[string]bool{}
	for _, v := range r.Violations {
		ids[v.RuleID] = true
	}
	return ids
}
