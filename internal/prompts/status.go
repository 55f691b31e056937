package prompts

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// StatusPrompt handles the sdd-status MCP prompt.
// It instructs the AI to read and present the current workflow state.
type StatusPrompt struct{}

// NewStatusPrompt creates a StatusPrompt.
func NewStatusPrompt() *StatusPrompt {
	return &StatusPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StatusPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("sdd-status",
		mcp.WithPromptDescription(
			"Check your features and their pipeline progress. "+
				"Shows phase statuses, blocked phases with their violations, "+
				"and what to do next.",
		),
	)
}

// Handle processes the sdd-status prompt request.
func (p *StatusPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: "Feature workflow status",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(
					"Please run `sdd_status` to check my features.\n\n" +
						"Then:\n" +
						"1. Show each feature's phase table in a clear, visual format\n" +
						"2. For anything blocked, fetch the violations and explain what the gate rejected\n" +
						"3. Tell me exactly what I should do next (resume, restart, or skip clarification)\n" +
						"4. If a feature completed, offer to run `sdd_analyze` for a traceability check",
				),
			},
		},
	}, nil
}
