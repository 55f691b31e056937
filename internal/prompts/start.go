// Package prompts implements MCP prompt handlers for the workflow.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// StartPrompt handles the sdd-start MCP prompt.
// It guides the AI through kicking off a feature and following the
// pipeline to completion.
type StartPrompt struct{}

// NewStartPrompt creates a StartPrompt.
func NewStartPrompt() *StartPrompt {
	return &StartPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StartPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("sdd-start",
		mcp.WithPromptDescription(
			"Start a spec-driven feature workflow. "+
				"Classifies your request, then drives it through "+
				"constitution, specification, plan, tasks, and implementation.",
		),
		mcp.WithArgument("request",
			mcp.ArgumentDescription("What you want built, in plain language"),
		),
	)
}

// Handle processes the sdd-start prompt request.
func (p *StartPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	request := "describe the feature here"
	if args := req.Params.Arguments; args != nil {
		if r, ok := args["request"]; ok && r != "" {
			request = r
		}
	}

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Start feature workflow: %s", request),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"I want to build the following: %s\n\n"+
						"Please:\n"+
						"1. Run `sdd_start` with request='%s'\n"+
						"2. If the request does not trigger the workflow, tell me why and stop\n"+
						"3. If a phase ends up blocked, show me the violations and ask whether to `sdd_restart` or adjust the request\n"+
						"4. When the run completes, run `sdd_analyze` on the feature and summarize any traceability gaps\n"+
						"5. Finish with the `sdd_status` phase table",
					request, request,
				)),
			},
		},
	}, nil
}
