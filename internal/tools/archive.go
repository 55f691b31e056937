package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sddkit/specdriver/internal/store"
	"github.com/sddkit/specdriver/internal/workflow"
)

// ArchiveTool handles sdd_archive: retire a feature, freeing its slug
// for a new run. Numbers are never reused, archived artifacts stay
// readable through sdd_history.
type ArchiveTool struct {
	store *store.Store
}

// NewArchiveTool creates an ArchiveTool.
func NewArchiveTool(s *store.Store) *ArchiveTool {
	return &ArchiveTool{store: s}
}

// Definition returns the MCP tool definition for registration.
func (t *ArchiveTool) Definition() mcp.Tool {
	return mcp.NewTool("sdd_archive",
		mcp.WithDescription(
			"Archive a feature. Its slug becomes available for a new feature; "+
				"its number, artifacts, and history are retained.",
		),
		mcp.WithNumber("feature",
			mcp.Required(),
			mcp.Description("Feature number to archive"),
		),
	)
}

// Handle processes the sdd_archive tool call.
func (t *ArchiveTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	number := int64(req.GetFloat("feature", 0))
	if number <= 0 {
		return mcp.NewToolResultError("'feature' is required — the feature number to archive"), nil
	}

	if err := t.store.ArchiveFeature(number); err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("feature %d does not exist", number)), nil
		}
		return nil, fmt.Errorf("archiving feature: %w", err)
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Feature %d archived. Its slug is free for reuse; artifacts remain available via `sdd_history`.",
		number,
	)), nil
}
