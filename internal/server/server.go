// Package server wires all components and creates the MCP server
// instance. This is the composition root: it creates concrete
// implementations and injects them into the tools that depend on
// abstractions. No business logic lives here — only wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/mark3labs/mcp-go/server"

	"github.com/sddkit/specdriver/internal/classify"
	"github.com/sddkit/specdriver/internal/config"
	"github.com/sddkit/specdriver/internal/gate"
	"github.com/sddkit/specdriver/internal/genclient"
	"github.com/sddkit/specdriver/internal/prompt"
	"github.com/sddkit/specdriver/internal/prompts"
	"github.com/sddkit/specdriver/internal/resources"
	"github.com/sddkit/specdriver/internal/store"
	"github.com/sddkit/specdriver/internal/tools"
	"github.com/sddkit/specdriver/internal/workflow"
)

// Version is set at build time via ldflags.
var Version = "dev"

// New creates and configures the MCP server with all tools registered.
// This is the single place where dependencies are resolved.
//
// The returned cleanup function closes the store's database connection
// and must be called on shutdown (typically via defer). It is always
// non-nil.
func New() (*server.MCPServer, func(), error) {
	settings, err := config.Load("")
	if err != nil {
		return nil, noop, fmt.Errorf("loading settings: %w", err)
	}

	// --- Create shared dependencies ---

	st, err := store.New(store.Config{DataDir: settings.DataDir})
	if err != nil {
		return nil, noop, fmt.Errorf("opening store: %w", err)
	}
	cleanup := func() {
		if err := st.Close(); err != nil {
			log.Printf("WARNING: store close: %v", err)
		}
	}

	builder, err := prompt.NewBuilder()
	if err != nil {
		cleanup()
		return nil, noop, fmt.Errorf("loading prompt definitions: %w", err)
	}

	classifierCfg := classify.DefaultConfig()
	if len(settings.TriggerWords) > 0 {
		classifierCfg.Vocabulary = settings.TriggerWords
	}
	if len(settings.Conjunctions) > 0 {
		classifierCfg.Conjunctions = settings.Conjunctions
	}
	if len(settings.TechnicalTerms) > 0 {
		classifierCfg.TechnicalTerms = settings.TechnicalTerms
	}
	classifierCfg.SimpleMaxTokens = settings.SimpleMaxTokens
	classifierCfg.ModerateMaxTokens = settings.ModerateMaxTokens
	classifier := classify.New(classifierCfg)

	client := genclient.New(genclient.Config{
		BaseURL:        settings.ServiceURL,
		APIKey:         config.APIKey(),
		MaxAttempts:    settings.MaxAttempts,
		InitialBackoff: settings.InitialBackoff(),
		MaxBackoff:     settings.MaxBackoff(),
		PollInterval:   settings.PollInterval(),
		PollBudget:     settings.PollBudget(),
	})

	engine := workflow.NewEngine(
		st,
		gate.New(gate.DefaultConfig()),
		generatorAdapter{client: client},
		builder,
		workflow.WithMaxIterations(settings.MaxIterations),
		workflow.WithEmitter(logEmitter{}),
	)

	// --- Create the MCP server ---

	s := server.NewMCPServer(
		"specdriver",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	// --- Register workflow tools ---

	startTool := tools.NewStartTool(classifier, engine)
	s.AddTool(startTool.Definition(), startTool.Handle)

	statusTool := tools.NewStatusTool(st)
	s.AddTool(statusTool.Definition(), statusTool.Handle)

	analyzeTool := tools.NewAnalyzeTool(st)
	s.AddTool(analyzeTool.Definition(), analyzeTool.Handle)

	restartTool := tools.NewRestartTool(engine, st)
	s.AddTool(restartTool.Definition(), restartTool.Handle)

	skipTool := tools.NewSkipTool(engine)
	s.AddTool(skipTool.Definition(), skipTool.Handle)

	historyTool := tools.NewHistoryTool(st)
	s.AddTool(historyTool.Definition(), historyTool.Handle)

	archiveTool := tools.NewArchiveTool(st)
	s.AddTool(archiveTool.Definition(), archiveTool.Handle)

	// --- Register MCP prompts (user-triggered slash commands) ---

	startPrompt := prompts.NewStartPrompt()
	s.AddPrompt(startPrompt.Definition(), startPrompt.Handle)

	statusPrompt := prompts.NewStatusPrompt()
	s.AddPrompt(statusPrompt.Definition(), statusPrompt.Handle)

	// --- Register read-only resources ---

	resourceHandler := resources.NewHandler(st)
	s.AddResource(resourceHandler.FeaturesResource(), resourceHandler.HandleFeatures)

	return s, cleanup, nil
}

// noop is a no-op cleanup function used when initialization fails
// before the store is open.
func noop() {}

// generatorAdapter maps the engine's Generator port onto the generation
// client's wire contract.
type generatorAdapter struct {
	client *genclient.Client
}

func (a generatorAdapter) Generate(ctx context.Context, p workflow.Prompt, effort workflow.Tier) (string, error) {
	content, err := a.client.Generate(ctx, genclient.Request{
		Prompt:  p.Instructions,
		Context: p.Context,
		Effort:  string(effort),
	})
	if err != nil {
		if errors.Is(err, genclient.ErrPermanent) {
			return "", fmt.Errorf("%w: %v", workflow.ErrPermanentGeneration, err)
		}
		return "", err
	}
	return content, nil
}

// logEmitter writes phase events to stderr. MCP owns stdout, so stderr
// is the only safe stream for operator-facing output.
type logEmitter struct{}

func (logEmitter) Emit(ev workflow.Event) {
	if len(ev.Violations) > 0 {
		log.Printf("feature %d: %s %s (iteration %d, %d violations)",
			ev.FeatureNumber, ev.Phase, ev.Status, ev.Iteration, len(ev.Violations))
		return
	}
	log.Printf("feature %d: %s %s", ev.FeatureNumber, ev.Phase, ev.Status)
}

// serverInstructions returns the system instructions that tell the AI
// how to use the workflow tools effectively.
func serverInstructions() string {
	return `You have access to specdriver, a spec-driven workflow server.

## WHEN TO USE IT

Call sdd_start when the user asks to build, create, or add a feature,
project, or system. The request is classified first: requests without
trigger vocabulary do nothing, short single-concern requests run as
"simple" tier, longer or multi-part requests as "moderate" or "complex".

You do NOT need specdriver for bug fixes, one-liners, questions, or
documentation.

## Pipeline

Every feature walks a fixed phase order:
1. constitution — principles and constraints
2. specification — FR-###/NFR-### requirements, SC-### success criteria
3. clarification — runs only when markers remain, the tier is complex,
   or you force it; otherwise skipped
4. plan — C-### components mapped to requirements
5. tasks — T-### tasks mapped to components
6. implementation — progress log against tasks

Each phase is generated, validated by a deterministic quality gate, and
retried with the violations as feedback — up to the iteration budget.
A phase that exhausts its budget blocks the feature; inspect the
violations with sdd_status, then sdd_restart after addressing them.

## Tools

- sdd_start: classify a request and run the workflow
- sdd_status: phase statuses, iterations, latest violations
- sdd_analyze: requirement→plan→tasks traceability report
- sdd_history: every stored version of a phase artifact
- sdd_restart: reset phases (artifacts kept) and rerun
- sdd_skip_clarification: skip the only optional phase
- sdd_archive: retire a feature, freeing its slug

## Important Rules

- One feature's phases run strictly in order; never assume a later
  artifact exists before sdd_status shows the phase passed.
- Artifact versions are append-only. Use sdd_history to audit how an
  artifact evolved across gate iterations.
- sdd_analyze is read-only: gaps are advisory, fix them by restarting
  the affected feature, not by editing stored artifacts.`
}
