// Package resources implements MCP resource handlers for the workflow.
//
// Resources provide read-only data that the host can consume for context.
// They use URI-based addressing (specdriver://...) following MCP
// conventions.
package resources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sddkit/specdriver/internal/workflow"
)

// Handler manages workflow resource endpoints.
type Handler struct {
	store workflow.Store
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(store workflow.Store) *Handler {
	return &Handler{store: store}
}

// FeaturesResource returns the MCP resource definition for the feature
// list.
func (h *Handler) FeaturesResource() mcp.Resource {
	return mcp.NewResource(
		"specdriver://features",
		"Feature Workflows",
		mcp.WithResourceDescription("Every feature with its tier, status, and per-phase progress"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleFeatures returns all features as JSON.
func (h *Handler) HandleFeatures(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	features, err := h.store.ListFeatures()
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}

	data, err := json.MarshalIndent(features, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling features: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// errorResource returns a resource carrying an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
