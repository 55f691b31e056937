package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sddkit/specdriver/internal/workflow"
)

// HistoryTool handles sdd_history: list (or fetch) artifact versions for
// one phase of a feature. Versions are append-only, so this is the audit
// trail of every generation attempt.
type HistoryTool struct {
	store workflow.Store
}

// NewHistoryTool creates a HistoryTool.
func NewHistoryTool(store workflow.Store) *HistoryTool {
	return &HistoryTool{store: store}
}

// Definition returns the MCP tool definition for registration.
func (t *HistoryTool) Definition() mcp.Tool {
	return mcp.NewTool("sdd_history",
		mcp.WithDescription(
			"Show the artifact version history for one phase of a feature, "+
				"oldest first. With full_content=true the complete text of every "+
				"version is returned; otherwise a preview per version.",
		),
		mcp.WithNumber("feature",
			mcp.Required(),
			mcp.Description("Feature number"),
		),
		mcp.WithString("phase",
			mcp.Required(),
			mcp.Description("Pipeline phase"),
			mcp.Enum("constitution", "specification", "clarification", "plan", "tasks", "implementation"),
		),
		mcp.WithBoolean("full_content",
			mcp.Description("Return full artifact text instead of previews"),
		),
	)
}

// Handle processes the sdd_history tool call.
func (t *HistoryTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	number := int64(req.GetFloat("feature", 0))
	phase := workflow.Phase(req.GetString("phase", ""))
	full := req.GetBool("full_content", false)

	if number <= 0 {
		return mcp.NewToolResultError("'feature' is required — the feature number"), nil
	}
	if err := workflow.ValidatePhase(phase); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if _, err := t.store.GetFeature(number); err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("feature %d does not exist", number)), nil
		}
		return nil, fmt.Errorf("loading feature: %w", err)
	}

	history, err := t.store.GetHistory(number, phase)
	if err != nil {
		return nil, fmt.Errorf("loading %s history: %w", phase, err)
	}
	if len(history) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf(
			"Feature %d has no %s artifacts yet.", number, phase,
		)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s history — feature %d (%d versions)\n\n", phase, number, len(history))
	for _, a := range history {
		fmt.Fprintf(&b, "## v%d — iteration %d, %s\n\n", a.Version, a.Iteration, a.CreatedAt)
		if full {
			b.WriteString(a.Content)
			b.WriteString("\n\n")
			continue
		}
		b.WriteString(preview(a.Content, 240))
		b.WriteString("\n\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

// preview returns the first max bytes of s on a rune boundary,
// with an ellipsis when truncated.
func preview(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut] + "…"
}
