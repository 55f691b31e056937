package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sddkit/specdriver/internal/workflow"
)

// StatusTool handles sdd_status: show one feature's phase statuses and
// latest violations, or list all features when no number is given.
type StatusTool struct {
	store workflow.Store
}

// NewStatusTool creates a StatusTool.
func NewStatusTool(store workflow.Store) *StatusTool {
	return &StatusTool{store: store}
}

// Definition returns the MCP tool definition for registration.
func (t *StatusTool) Definition() mcp.Tool {
	return mcp.NewTool("sdd_status",
		mcp.WithDescription(
			"Show workflow status. With a feature number: phase statuses, "+
				"iterations used, and the latest validation violations. Without: "+
				"all features ordered by number.",
		),
		mcp.WithNumber("feature",
			mcp.Description("Feature number. Omit to list every feature."),
		),
	)
}

// Handle processes the sdd_status tool call.
func (t *StatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	number := int64(req.GetFloat("feature", 0))
	if number == 0 {
		return t.list()
	}

	f, err := t.store.GetFeature(number)
	if err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("feature %d does not exist", number)), nil
		}
		return nil, fmt.Errorf("loading feature: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Feature `%s`\n\n", f.Key())
	fmt.Fprintf(&b, "**Tier:** %s · **Status:** %s\n", f.Tier, f.Status)
	fmt.Fprintf(&b, "**Request:** %s\n\n", f.Request)
	b.WriteString(renderPhaseTable(f))

	// Show the latest verdict for any phase that isn't a clean pass.
	for _, phase := range workflow.PhaseOrder {
		if f.Phases[phase] != workflow.StatusBlocked && f.Phases[phase] != workflow.StatusInProgress {
			continue
		}
		reports, err := t.store.ReportHistory(number, phase)
		if err != nil {
			return nil, fmt.Errorf("loading %s reports: %w", phase, err)
		}
		if len(reports) == 0 {
			continue
		}
		last := reports[len(reports)-1]
		fmt.Fprintf(&b, "\n## %s — attempt %d\n\n", phase, last.Iteration)
		for _, v := range last.Violations {
			fmt.Fprintf(&b, "- **%s** — %s\n", v.RuleID, v.Message)
		}
	}

	return mcp.NewToolResultText(b.String()), nil
}

func (t *StatusTool) list() (*mcp.CallToolResult, error) {
	features, err := t.store.ListFeatures()
	if err != nil {
		return nil, fmt.Errorf("listing features: %w", err)
	}
	if len(features) == 0 {
		return mcp.NewToolResultText("No features yet. Use `sdd_start` to begin one."), nil
	}

	var b strings.Builder
	b.WriteString("# Features\n\n")
	for _, f := range features {
		fmt.Fprintf(&b, "- `%s` — %s, %s", f.Key(), f.Tier, f.Status)
		if next := f.NextPhase(); next != "" {
			fmt.Fprintf(&b, " (next: %s)", next)
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}
