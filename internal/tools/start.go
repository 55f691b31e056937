// Package tools implements the MCP tool surface. Tools are thin: they
// parse arguments, delegate to the classifier/engine/store, and render
// markdown responses. All workflow logic lives below this layer.
package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sddkit/specdriver/internal/classify"
	"github.com/sddkit/specdriver/internal/workflow"
)

// StartTool handles sdd_start: classify the request and, when it
// triggers, run the feature through the phase pipeline.
type StartTool struct {
	classifier *classify.Classifier
	engine     *workflow.Engine
}

// NewStartTool creates a StartTool.
func NewStartTool(classifier *classify.Classifier, engine *workflow.Engine) *StartTool {
	return &StartTool{classifier: classifier, engine: engine}
}

// Definition returns the MCP tool definition for registration.
func (t *StartTool) Definition() mcp.Tool {
	return mcp.NewTool("sdd_start",
		mcp.WithDescription(
			"Start the spec-driven workflow for a request. The request is first "+
				"classified: requests without a trigger word do nothing. Triggered "+
				"requests get a feature number and run through the gated phase "+
				"pipeline (constitution → specification → clarification → plan → "+
				"tasks → implementation).",
		),
		mcp.WithString("request",
			mcp.Required(),
			mcp.Description("The raw feature request text, e.g. 'Add OAuth login to the todo app'"),
		),
		mcp.WithBoolean("force_clarification",
			mcp.Description("Run the clarification phase even when nothing requires it"),
		),
	)
}

// Handle processes the sdd_start tool call.
func (t *StartTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	request := req.GetString("request", "")
	force := req.GetBool("force_clarification", false)

	if strings.TrimSpace(request) == "" {
		return mcp.NewToolResultError("'request' is required — describe the feature to build"), nil
	}

	decision := t.classifier.Classify(request)
	if !decision.ShouldRun {
		return mcp.NewToolResultText(
			"No workflow started: the request contains no trigger vocabulary. " +
				"Rephrase with an action word (create, build, add, implement, ...) if a " +
				"feature workflow is actually wanted.",
		), nil
	}

	feature, err := t.engine.Start(ctx, request, decision.Tier, force)

	var blocked *workflow.BlockedError
	switch {
	case errors.As(err, &blocked):
		return mcp.NewToolResultText(renderBlocked(feature, blocked)), nil
	case errors.Is(err, workflow.ErrDuplicateSlug):
		return mcp.NewToolResultError(fmt.Sprintf(
			"An active feature with slug %q already exists. Complete, restart, or "+
				"archive it before starting the same request again.",
			workflow.Slugify(request),
		)), nil
	case err != nil:
		return nil, fmt.Errorf("running workflow: %w", err)
	}

	return mcp.NewToolResultText(renderStarted(feature, decision.Tier)), nil
}

func renderStarted(f *workflow.Feature, tier workflow.Tier) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Workflow Complete\n\n")
	fmt.Fprintf(&b, "**Feature:** `%s`\n", f.Key())
	fmt.Fprintf(&b, "**Tier:** %s\n\n", tier)
	b.WriteString(renderPhaseTable(f))
	b.WriteString("\nUse `sdd_status` for details, `sdd_analyze` for a consistency report.")
	return b.String()
}

func renderBlocked(f *workflow.Feature, blocked *workflow.BlockedError) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Workflow Halted\n\n")
	if f != nil {
		fmt.Fprintf(&b, "**Feature:** `%s`\n", f.Key())
	}
	fmt.Fprintf(&b, "**Blocked phase:** %s (after %d attempts)\n\n", blocked.Phase, len(blocked.Reports))

	if n := len(blocked.Reports); n > 0 {
		b.WriteString("Last attempt's violations:\n\n")
		for _, v := range blocked.Reports[n-1].Violations {
			fmt.Fprintf(&b, "- **%s** — %s\n", v.RuleID, v.Message)
		}
	}

	b.WriteString("\nFix the inputs (or adjust the request) and use `sdd_restart` to run again.")
	return b.String()
}

// renderPhaseTable renders one status line per phase in pipeline order.
func renderPhaseTable(f *workflow.Feature) string {
	var b strings.Builder
	for _, phase := range workflow.PhaseOrder {
		marker := "⬜"
		switch f.Phases[phase] {
		case workflow.StatusPassed:
			marker = "✅"
		case workflow.StatusSkipped:
			marker = "⏭️"
		case workflow.StatusBlocked:
			marker = "⛔"
		case workflow.StatusInProgress:
			marker = "🔄"
		}
		fmt.Fprintf(&b, "%s %s — %s\n", marker, phase, f.Phases[phase])
	}
	return b.String()
}
