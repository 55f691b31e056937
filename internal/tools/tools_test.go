package tools

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sddkit/specdriver/internal/classify"
	"github.com/sddkit/specdriver/internal/workflow"
)

// --- Test helpers ---

func isErrorResult(result *mcp.CallToolResult) bool {
	return result != nil && result.IsError
}

func getResultText(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func callRequest(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

// --- In-memory fakes ---

type fakeStore struct {
	features  map[int64]*workflow.Feature
	artifacts map[int64]map[workflow.Phase][]workflow.Artifact
	reports   map[int64]map[workflow.Phase][]workflow.ValidationReport
	nextNum   int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		features:  map[int64]*workflow.Feature{},
		artifacts: map[int64]map[workflow.Phase][]workflow.Artifact{},
		reports:   map[int64]map[workflow.Phase][]workflow.ValidationReport{},
		nextNum:   1,
	}
}

func (s *fakeStore) NextFeatureNumber() (int64, error) { return s.nextNum, nil }

func (s *fakeStore) CreateFeature(slug string, tier workflow.Tier, request string) (*workflow.Feature, error) {
	for _, f := range s.features {
		if f.Slug == slug && f.Status == workflow.FeatureActive {
			return nil, fmt.Errorf("slug %q: %w", slug, workflow.ErrDuplicateSlug)
		}
	}
	phases := map[workflow.Phase]workflow.PhaseStatus{}
	for _, p := range workflow.PhaseOrder {
		phases[p] = workflow.StatusPending
	}
	f := &workflow.Feature{
		Number:  s.nextNum,
		Slug:    slug,
		Request: request,
		Tier:    tier,
		Phases:  phases,
		Status:  workflow.FeatureActive,
	}
	s.features[f.Number] = f
	s.artifacts[f.Number] = map[workflow.Phase][]workflow.Artifact{}
	s.reports[f.Number] = map[workflow.Phase][]workflow.ValidationReport{}
	s.nextNum++
	return cloneFeature(f), nil
}

func (s *fakeStore) GetFeature(number int64) (*workflow.Feature, error) {
	f, ok := s.features[number]
	if !ok {
		return nil, workflow.ErrNotFound
	}
	return cloneFeature(f), nil
}

func (s *fakeStore) ListFeatures() ([]*workflow.Feature, error) {
	var out []*workflow.Feature
	for n := int64(1); n < s.nextNum; n++ {
		if f, ok := s.features[n]; ok {
			out = append(out, cloneFeature(f))
		}
	}
	return out, nil
}

func (s *fakeStore) PutArtifact(number int64, phase workflow.Phase, content string, iteration int) (int, error) {
	if _, ok := s.features[number]; !ok {
		return 0, workflow.ErrNotFound
	}
	version := len(s.artifacts[number][phase]) + 1
	s.artifacts[number][phase] = append(s.artifacts[number][phase], workflow.Artifact{
		Phase:     phase,
		Version:   version,
		Content:   content,
		Iteration: iteration,
	})
	return version, nil
}

func (s *fakeStore) GetLatest(number int64, phase workflow.Phase) (*workflow.Artifact, error) {
	versions := s.artifacts[number][phase]
	if len(versions) == 0 {
		return nil, workflow.ErrNotFound
	}
	a := versions[len(versions)-1]
	return &a, nil
}

func (s *fakeStore) GetHistory(number int64, phase workflow.Phase) ([]workflow.Artifact, error) {
	return append([]workflow.Artifact(nil), s.artifacts[number][phase]...), nil
}

func (s *fakeStore) AppendReport(number int64, report workflow.ValidationReport) error {
	s.reports[number][report.Phase] = append(s.reports[number][report.Phase], report)
	return nil
}

func (s *fakeStore) ReportHistory(number int64, phase workflow.Phase) ([]workflow.ValidationReport, error) {
	return append([]workflow.ValidationReport(nil), s.reports[number][phase]...), nil
}

func (s *fakeStore) SetPhaseStatus(number int64, phase workflow.Phase, status workflow.PhaseStatus, iteration int) error {
	f, ok := s.features[number]
	if !ok {
		return workflow.ErrNotFound
	}
	f.Phases[phase] = status
	return nil
}

func (s *fakeStore) SetFeatureStatus(number int64, status workflow.FeatureStatus) error {
	f, ok := s.features[number]
	if !ok {
		return workflow.ErrNotFound
	}
	f.Status = status
	return nil
}

func (s *fakeStore) ResetPhases(number int64) error {
	f, ok := s.features[number]
	if !ok {
		return workflow.ErrNotFound
	}
	for _, p := range workflow.PhaseOrder {
		f.Phases[p] = workflow.StatusPending
	}
	return nil
}

func cloneFeature(f *workflow.Feature) *workflow.Feature {
	c := *f
	c.Phases = map[workflow.Phase]workflow.PhaseStatus{}
	for p, s := range f.Phases {
		c.Phases[p] = s
	}
	return &c
}

// fakeGate fails the configured phase on every attempt; everything else
// passes.
type fakeGate struct {
	failPhase workflow.Phase
}

func (g *fakeGate) Validate(phase workflow.Phase, content string) workflow.ValidationReport {
	if phase == g.failPhase {
		return workflow.ValidationReport{
			Phase:  phase,
			Passed: false,
			Violations: []workflow.Violation{
				{RuleID: "TEST-001", Message: "scripted failure"},
			},
		}
	}
	return workflow.ValidationReport{Phase: phase, Passed: true}
}

func (g *fakeGate) UnresolvedMarkers(content string) int {
	return strings.Count(content, "[NEEDS CLARIFICATION:")
}

type fakeGen struct {
	calls int
}

func (g *fakeGen) Generate(ctx context.Context, p workflow.Prompt, effort workflow.Tier) (string, error) {
	g.calls++
	return "generated content", nil
}

type fakeBuilder struct{}

func (b *fakeBuilder) Build(phase workflow.Phase, f *workflow.Feature, prior []workflow.Artifact, violations []workflow.Violation) (workflow.Prompt, error) {
	return workflow.Prompt{Instructions: string(phase)}, nil
}

type toolDeps struct {
	store  *fakeStore
	gate   *fakeGate
	gen    *fakeGen
	engine *workflow.Engine
}

func newToolDeps() *toolDeps {
	store := newFakeStore()
	gate := &fakeGate{}
	gen := &fakeGen{}
	engine := workflow.NewEngine(store, gate, gen, &fakeBuilder{})
	return &toolDeps{store: store, gate: gate, gen: gen, engine: engine}
}

// --- sdd_start ---

func TestStartTool_MissingRequest(t *testing.T) {
	d := newToolDeps()
	tool := NewStartTool(classify.New(classify.DefaultConfig()), d.engine)

	result, err := tool.Handle(context.Background(), callRequest(map[string]interface{}{}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !isErrorResult(result) {
		t.Error("missing request should produce an error result")
	}
}

func TestStartTool_NoTriggerVocabulary(t *testing.T) {
	d := newToolDeps()
	tool := NewStartTool(classify.New(classify.DefaultConfig()), d.engine)

	result, err := tool.Handle(context.Background(), callRequest(map[string]interface{}{
		"request": "hello there how are you",
	}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if isErrorResult(result) {
		t.Fatal("untriggered request should not be an error result")
	}
	if text := getResultText(result); !strings.Contains(text, "No workflow started") {
		t.Errorf("text = %q, want a no-workflow notice", text)
	}
	if got, _ := d.store.ListFeatures(); len(got) != 0 {
		t.Errorf("features created = %d, want 0", len(got))
	}
}

func TestStartTool_CompletedRun(t *testing.T) {
	d := newToolDeps()
	tool := NewStartTool(classify.New(classify.DefaultConfig()), d.engine)

	result, err := tool.Handle(context.Background(), callRequest(map[string]interface{}{
		"request": "add dark mode toggle",
	}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if isErrorResult(result) {
		t.Fatalf("unexpected error result: %s", getResultText(result))
	}
	text := getResultText(result)
	if !strings.Contains(text, "Workflow Complete") {
		t.Errorf("text = %q, want a completion header", text)
	}
	if !strings.Contains(text, "feature-001-add-dark-mode-toggle") {
		t.Errorf("text = %q, want the feature key", text)
	}
}

func TestStartTool_DuplicateSlug(t *testing.T) {
	d := newToolDeps()
	tool := NewStartTool(classify.New(classify.DefaultConfig()), d.engine)

	// An active feature already holds the slug the request maps to.
	if _, err := d.store.CreateFeature(workflow.Slugify("add dark mode toggle"), workflow.TierSimple, "add dark mode toggle"); err != nil {
		t.Fatalf("seed feature: %v", err)
	}

	result, err := tool.Handle(context.Background(), callRequest(map[string]interface{}{
		"request": "add dark mode toggle",
	}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !isErrorResult(result) {
		t.Fatal("duplicate slug should produce an error result")
	}
	if text := getResultText(result); !strings.Contains(text, "add-dark-mode-toggle") {
		t.Errorf("text = %q, want the conflicting slug named", text)
	}
}

func TestStartTool_BlockedWorkflow(t *testing.T) {
	d := newToolDeps()
	d.gate.failPhase = workflow.PhaseSpecification
	tool := NewStartTool(classify.New(classify.DefaultConfig()), d.engine)

	result, err := tool.Handle(context.Background(), callRequest(map[string]interface{}{
		"request": "add dark mode toggle",
	}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if isErrorResult(result) {
		t.Fatal("a blocked workflow is reported as text, not an error result")
	}
	text := getResultText(result)
	if !strings.Contains(text, "Workflow Halted") {
		t.Errorf("text = %q, want a halted header", text)
	}
	if !strings.Contains(text, "specification") {
		t.Errorf("text = %q, want the blocked phase named", text)
	}
	if !strings.Contains(text, "TEST-001") {
		t.Errorf("text = %q, want the last attempt's violations listed", text)
	}
	if !strings.Contains(text, "sdd_restart") {
		t.Errorf("text = %q, want the restart hint", text)
	}
}

// --- sdd_restart ---

func TestRestartTool_UnknownFeature(t *testing.T) {
	d := newToolDeps()
	tool := NewRestartTool(d.engine, d.store)

	result, err := tool.Handle(context.Background(), callRequest(map[string]interface{}{
		"feature": float64(42),
	}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !isErrorResult(result) {
		t.Error("unknown feature should produce an error result")
	}
}

func TestRestartTool_ResetWithoutRun(t *testing.T) {
	d := newToolDeps()
	start := NewStartTool(classify.New(classify.DefaultConfig()), d.engine)
	if _, err := start.Handle(context.Background(), callRequest(map[string]interface{}{
		"request": "add dark mode toggle",
	})); err != nil {
		t.Fatalf("seed workflow: %v", err)
	}
	callsBefore := d.gen.calls

	tool := NewRestartTool(d.engine, d.store)
	result, err := tool.Handle(context.Background(), callRequest(map[string]interface{}{
		"feature": float64(1),
		"run":     false,
	}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if isErrorResult(result) {
		t.Fatalf("unexpected error result: %s", getResultText(result))
	}
	if text := getResultText(result); !strings.Contains(text, "reset") {
		t.Errorf("text = %q, want a reset notice", text)
	}

	// Phases are back to pending and the pipeline did not execute.
	f, err := d.store.GetFeature(1)
	if err != nil {
		t.Fatalf("GetFeature: %v", err)
	}
	for _, p := range workflow.PhaseOrder {
		if f.Phases[p] != workflow.StatusPending {
			t.Errorf("phase %s = %s, want pending", p, f.Phases[p])
		}
	}
	if d.gen.calls != callsBefore {
		t.Errorf("generator calls = %d, want %d (run=false must not execute)", d.gen.calls, callsBefore)
	}
}

func TestRestartTool_RunsPipeline(t *testing.T) {
	d := newToolDeps()
	start := NewStartTool(classify.New(classify.DefaultConfig()), d.engine)
	if _, err := start.Handle(context.Background(), callRequest(map[string]interface{}{
		"request": "add dark mode toggle",
	})); err != nil {
		t.Fatalf("seed workflow: %v", err)
	}

	tool := NewRestartTool(d.engine, d.store)
	result, err := tool.Handle(context.Background(), callRequest(map[string]interface{}{
		"feature": float64(1),
	}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if text := getResultText(result); !strings.Contains(text, "Workflow Complete") {
		t.Errorf("text = %q, want a completion header after rerun", text)
	}
}

// --- sdd_history ---

func TestHistoryTool_UnknownFeature(t *testing.T) {
	d := newToolDeps()
	tool := NewHistoryTool(d.store)

	result, err := tool.Handle(context.Background(), callRequest(map[string]interface{}{
		"feature": float64(9),
		"phase":   "plan",
	}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !isErrorResult(result) {
		t.Error("unknown feature should produce an error result")
	}
}

func TestHistoryTool_PreviewTruncation(t *testing.T) {
	d := newToolDeps()
	if _, err := d.store.CreateFeature("long-plan", workflow.TierSimple, "long plan"); err != nil {
		t.Fatalf("seed feature: %v", err)
	}
	// Two-byte runes so a byte-count cut would land mid-rune.
	content := strings.Repeat("é", 300)
	if _, err := d.store.PutArtifact(1, workflow.PhasePlan, content, 1); err != nil {
		t.Fatalf("seed artifact: %v", err)
	}

	tool := NewHistoryTool(d.store)
	result, err := tool.Handle(context.Background(), callRequest(map[string]interface{}{
		"feature": float64(1),
		"phase":   "plan",
	}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	text := getResultText(result)
	if !strings.Contains(text, "…") {
		t.Errorf("text = %q, want a truncation ellipsis", text)
	}
	if strings.Contains(text, content) {
		t.Error("preview mode should not include the full artifact text")
	}
	if !utf8.ValidString(text) {
		t.Error("preview cut through a rune")
	}
}

func TestHistoryTool_FullContent(t *testing.T) {
	d := newToolDeps()
	if _, err := d.store.CreateFeature("long-plan", workflow.TierSimple, "long plan"); err != nil {
		t.Fatalf("seed feature: %v", err)
	}
	content := strings.Repeat("é", 300)
	if _, err := d.store.PutArtifact(1, workflow.PhasePlan, content, 1); err != nil {
		t.Fatalf("seed artifact: %v", err)
	}

	tool := NewHistoryTool(d.store)
	result, err := tool.Handle(context.Background(), callRequest(map[string]interface{}{
		"feature":      float64(1),
		"phase":        "plan",
		"full_content": true,
	}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if text := getResultText(result); !strings.Contains(text, content) {
		t.Error("full_content=true should include the complete artifact text")
	}
}

func TestPreview_RuneBoundary(t *testing.T) {
	s := strings.Repeat("é", 200) // 400 bytes

	// 241 lands on a continuation byte; the cut backs up to the rune start.
	got := preview(s, 241)
	if want := strings.Repeat("é", 120) + "…"; got != want {
		t.Errorf("preview = %q, want %q", got, want)
	}
	if !utf8.ValidString(got) {
		t.Error("preview produced invalid UTF-8")
	}

	// Short input comes back untouched.
	if got := preview("  short  ", 240); got != "short" {
		t.Errorf("preview = %q, want trimmed input unchanged", got)
	}
}
