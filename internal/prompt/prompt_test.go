package prompt

import (
	"strings"
	"testing"

	"github.com/sddkit/specdriver/internal/workflow"
)

func testFeature() *workflow.Feature {
	return &workflow.Feature{
		Number:  7,
		Slug:    "add-todo-auth",
		Tier:    workflow.TierModerate,
		Request: "add auth to the todo app",
	}
}

func TestNewBuilder_CoversEveryPhase(t *testing.T) {
	b, err := NewBuilder()
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	for _, phase := range workflow.PhaseOrder {
		if _, err := b.Build(phase, testFeature(), nil, nil); err != nil {
			t.Errorf("Build(%s): %v", phase, err)
		}
	}
}

func TestBuild_SubstitutesPlaceholders(t *testing.T) {
	b, err := NewBuilder()
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}

	p, err := b.Build(workflow.PhaseSpecification, testFeature(), nil, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(p.Instructions, "add auth to the todo app") {
		t.Error("instructions missing the request text")
	}
	if strings.Contains(p.Instructions, "{request}") || strings.Contains(p.Instructions, "{tier}") {
		t.Error("unsubstituted placeholder left in instructions")
	}
}

func TestBuild_UnknownPhase(t *testing.T) {
	b, _ := NewBuilder()
	if _, err := b.Build(workflow.Phase("deploy"), testFeature(), nil, nil); err == nil {
		t.Error("Build with unknown phase should fail")
	}
}

func TestBuild_NoFeedbackWithoutViolations(t *testing.T) {
	b, _ := NewBuilder()
	p, err := b.Build(workflow.PhasePlan, testFeature(), nil, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if strings.Contains(p.Instructions, "## Feedback") {
		t.Error("feedback section present without violations")
	}
}

func TestBuild_FeedbackListsViolationsInOrder(t *testing.T) {
	b, _ := NewBuilder()
	violations := []workflow.Violation{
		{RuleID: "PLAN-002", Message: "no component IDs (C-###) found"},
		{RuleID: "PLAN-003", Message: "plan does not reference any requirement ID"},
	}
	p, err := b.Build(workflow.PhasePlan, testFeature(), nil, violations)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(p.Instructions, "## Feedback") {
		t.Fatal("feedback section missing")
	}
	first := strings.Index(p.Instructions, "[PLAN-002] no component IDs")
	second := strings.Index(p.Instructions, "[PLAN-003] plan does not reference")
	if first < 0 || second < 0 {
		t.Fatalf("violations missing from instructions:\n%s", p.Instructions)
	}
	if first > second {
		t.Error("violations rendered out of order")
	}
}

func TestBuild_ContextStitchesPriorArtifacts(t *testing.T) {
	b, _ := NewBuilder()
	prior := []workflow.Artifact{
		{Phase: workflow.PhaseConstitution, Version: 1, Content: "constitution body"},
		{Phase: workflow.PhaseSpecification, Version: 3, Content: "specification body"},
	}
	p, err := b.Build(workflow.PhasePlan, testFeature(), prior, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(p.Context, "# Constitution (v1)") {
		t.Errorf("context missing constitution header:\n%s", p.Context)
	}
	if !strings.Contains(p.Context, "# Specification (v3)") {
		t.Errorf("context missing specification header:\n%s", p.Context)
	}
	if !strings.Contains(p.Context, "\n\n---\n\n") {
		t.Error("context blocks not separated")
	}
	if strings.Index(p.Context, "constitution body") > strings.Index(p.Context, "specification body") {
		t.Error("context blocks out of pipeline order")
	}
}

func TestBuild_EmptyContextWithoutPrior(t *testing.T) {
	b, _ := NewBuilder()
	p, err := b.Build(workflow.PhaseConstitution, testFeature(), nil, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.Context != "" {
		t.Errorf("context = %q, want empty", p.Context)
	}
}

func TestBuild_Deterministic(t *testing.T) {
	b, _ := NewBuilder()
	f := testFeature()
	first, err := b.Build(workflow.PhaseTasks, f, nil, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for i := 0; i < 3; i++ {
		again, _ := b.Build(workflow.PhaseTasks, f, nil, nil)
		if again != first {
			t.Fatal("Build is not deterministic")
		}
	}
}
