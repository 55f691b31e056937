package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sddkit/specdriver/internal/workflow"
)

// RestartTool handles sdd_restart: reset every phase to pending and run
// the pipeline again. Artifacts and report history survive; the rerun
// appends new versions on top.
type RestartTool struct {
	engine *workflow.Engine
	store  workflow.Store
}

// NewRestartTool creates a RestartTool.
func NewRestartTool(engine *workflow.Engine, store workflow.Store) *RestartTool {
	return &RestartTool{engine: engine, store: store}
}

// Definition returns the MCP tool definition for registration.
func (t *RestartTool) Definition() mcp.Tool {
	return mcp.NewTool("sdd_restart",
		mcp.WithDescription(
			"Restart a feature's workflow from the first phase. Phase statuses "+
				"reset to pending; existing artifact versions and validation "+
				"history are kept.",
		),
		mcp.WithNumber("feature",
			mcp.Required(),
			mcp.Description("Feature number to restart"),
		),
		mcp.WithBoolean("run",
			mcp.Description("Immediately run the pipeline after resetting (default true)"),
		),
	)
}

// Handle processes the sdd_restart tool call.
func (t *RestartTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	number := int64(req.GetFloat("feature", 0))
	if number <= 0 {
		return mcp.NewToolResultError("'feature' is required — the feature number to restart"), nil
	}

	f, err := t.engine.Restart(number)
	if err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("feature %d does not exist", number)), nil
		}
		return nil, fmt.Errorf("restarting feature: %w", err)
	}

	if !req.GetBool("run", true) {
		return mcp.NewToolResultText(fmt.Sprintf(
			"Feature `%s` reset. Every phase is pending; artifacts were kept. "+
				"Call `sdd_restart` with run=true (or `sdd_start` a new request) to execute.",
			f.Key(),
		)), nil
	}

	err = t.engine.Resume(ctx, number, false)
	var blocked *workflow.BlockedError
	switch {
	case errors.As(err, &blocked):
		current, getErr := t.store.GetFeature(number)
		if getErr != nil {
			current = f
		}
		return mcp.NewToolResultText(renderBlocked(current, blocked)), nil
	case err != nil:
		return nil, fmt.Errorf("running restarted workflow: %w", err)
	}

	current, err := t.store.GetFeature(number)
	if err != nil {
		return nil, fmt.Errorf("loading feature after restart: %w", err)
	}
	return mcp.NewToolResultText(renderStarted(current, current.Tier)), nil
}
