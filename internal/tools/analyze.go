package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sddkit/specdriver/internal/analyze"
	"github.com/sddkit/specdriver/internal/workflow"
)

// AnalyzeTool handles sdd_analyze: cross-reference a feature's latest
// artifacts and report traceability gaps. Read-only.
type AnalyzeTool struct {
	store workflow.Store
}

// NewAnalyzeTool creates an AnalyzeTool.
func NewAnalyzeTool(store workflow.Store) *AnalyzeTool {
	return &AnalyzeTool{store: store}
}

// Definition returns the MCP tool definition for registration.
func (t *AnalyzeTool) Definition() mcp.Tool {
	return mcp.NewTool("sdd_analyze",
		mcp.WithDescription(
			"Run the consistency analysis for a feature: map requirement IDs to "+
				"plan components, components to tasks, and success criteria to the "+
				"plan. Reports coverage per mapping and every unmapped item. "+
				"Never changes workflow state.",
		),
		mcp.WithNumber("feature",
			mcp.Required(),
			mcp.Description("Feature number to analyze"),
		),
	)
}

// Handle processes the sdd_analyze tool call.
func (t *AnalyzeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	number := int64(req.GetFloat("feature", 0))
	if number <= 0 {
		return mcp.NewToolResultError("'feature' is required — the feature number to analyze"), nil
	}

	if _, err := t.store.GetFeature(number); err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("feature %d does not exist", number)), nil
		}
		return nil, fmt.Errorf("loading feature: %w", err)
	}

	artifacts := map[workflow.Phase]string{}
	for _, phase := range []workflow.Phase{workflow.PhaseSpecification, workflow.PhasePlan, workflow.PhaseTasks} {
		a, err := t.store.GetLatest(number, phase)
		if err != nil {
			if errors.Is(err, workflow.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("loading %s artifact: %w", phase, err)
		}
		artifacts[phase] = a.Content
	}

	report := analyze.Analyze(number, artifacts)

	var b strings.Builder
	fmt.Fprintf(&b, "# Consistency Report — feature %d\n\n", number)
	fmt.Fprintf(&b, "**Summary:** %s\n", analyze.Summarize(report))
	fmt.Fprintf(&b, "**Quality score:** %.2f\n\n", report.QualityScore)

	b.WriteString("## Coverage\n\n")
	for _, hop := range report.Hops {
		fmt.Fprintf(&b, "- %s (%s → %s): %d/%d (%.0f%%)\n",
			hop.Name, hop.SourcePhase, hop.TargetPhase, hop.Covered, hop.Total, hop.Ratio*100)
	}

	if len(report.Gaps) > 0 {
		b.WriteString("\n## Gaps\n\n")
		for _, gap := range report.Gaps {
			fmt.Fprintf(&b, "- `%s` in %s has no reference in %s\n", gap.Ref, gap.SourcePhase, gap.TargetPhase)
		}
	} else {
		b.WriteString("\nNo gaps: every item is referenced downstream.\n")
	}

	return mcp.NewToolResultText(b.String()), nil
}
