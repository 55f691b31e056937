package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sddkit/specdriver/internal/workflow"
)

// SkipTool handles sdd_skip_clarification: force the clarification phase
// to skipped. Clarification is the only optional phase; nothing else can
// be skipped.
type SkipTool struct {
	engine *workflow.Engine
}

// NewSkipTool creates a SkipTool.
func NewSkipTool(engine *workflow.Engine) *SkipTool {
	return &SkipTool{engine: engine}
}

// Definition returns the MCP tool definition for registration.
func (t *SkipTool) Definition() mcp.Tool {
	return mcp.NewTool("sdd_skip_clarification",
		mcp.WithDescription(
			"Mark a feature's clarification phase as skipped. Use when the open "+
				"questions were resolved out of band. Only clarification can be "+
				"skipped; a phase that already passed stays passed.",
		),
		mcp.WithNumber("feature",
			mcp.Required(),
			mcp.Description("Feature number"),
		),
	)
}

// Handle processes the sdd_skip_clarification tool call.
func (t *SkipTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	number := int64(req.GetFloat("feature", 0))
	if number <= 0 {
		return mcp.NewToolResultError("'feature' is required — the feature number"), nil
	}

	if err := t.engine.SkipClarification(number); err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("feature %d does not exist", number)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Clarification skipped for feature %d. The pipeline will continue "+
			"with the plan phase on the next run.",
		number,
	)), nil
}
