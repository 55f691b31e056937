package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// --- Engine dependencies (DIP: the engine only sees abstractions) ---

// Sentinel errors shared by Store implementations.
var (
	// ErrNotFound is returned when a feature or artifact does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateSlug is returned when an active feature already uses
	// the requested slug. Completed and archived features don't count.
	ErrDuplicateSlug = errors.New("active feature with this slug already exists")

	// ErrPermanentGeneration marks generator failures that retrying
	// cannot fix (bad credentials, rejected requests). The engine
	// propagates these; any other generator error consumes an iteration
	// like a failed gate attempt.
	ErrPermanentGeneration = errors.New("permanent generation failure")
)

// Store persists features, artifact versions, validation reports, and
// phase statuses. All mutations must be atomic: a reader sees the prior
// state or the new state in full, never a mix.
type Store interface {
	// NextFeatureNumber returns the number the next created feature would
	// receive. Allocation itself happens inside CreateFeature's transaction.
	NextFeatureNumber() (int64, error)

	// CreateFeature allocates the next number and creates the feature with
	// every phase pending. Returns ErrDuplicateSlug if an active feature
	// with the same slug exists.
	CreateFeature(slug string, tier Tier, request string) (*Feature, error)

	GetFeature(number int64) (*Feature, error)

	// ListFeatures returns all features ordered by number ascending.
	ListFeatures() ([]*Feature, error)

	// PutArtifact stores content as a new version for the phase and
	// returns the version assigned. Versions are never overwritten.
	PutArtifact(number int64, phase Phase, content string, iteration int) (int, error)

	// GetLatest returns the highest version for the phase, or ErrNotFound.
	GetLatest(number int64, phase Phase) (*Artifact, error)

	// GetHistory returns every version for the phase, oldest first.
	GetHistory(number int64, phase Phase) ([]Artifact, error)

	AppendReport(number int64, report ValidationReport) error
	ReportHistory(number int64, phase Phase) ([]ValidationReport, error)

	SetPhaseStatus(number int64, phase Phase, status PhaseStatus, iteration int) error
	SetFeatureStatus(number int64, status FeatureStatus) error

	// ResetPhases returns every phase to pending, keeping artifacts and
	// report history intact.
	ResetPhases(number int64) error
}

// Validator is the quality gate. Validate must be pure and deterministic:
// same phase and content, same report.
type Validator interface {
	Validate(phase Phase, content string) ValidationReport

	// UnresolvedMarkers counts clarification markers left in content.
	UnresolvedMarkers(content string) int
}

// Prompt is the generation input: instructions for the phase plus the
// stitched context from prior artifacts.
type Prompt struct {
	Instructions string
	Context      string
}

// Builder assembles the prompt for one phase attempt. On retries the
// previous attempt's violations are passed in as corrective feedback.
type Builder interface {
	Build(phase Phase, f *Feature, prior []Artifact, violations []Violation) (Prompt, error)
}

// Generator produces phase content from a prompt. Implementations handle
// their own retries for transient failures; an error returned here is
// final for the current phase attempt. Errors wrapping
// ErrPermanentGeneration abort the phase outright; anything else counts
// as one consumed iteration.
type Generator interface {
	Generate(ctx context.Context, p Prompt, effort Tier) (string, error)
}

// --- Errors ---

// BlockedError reports that a phase failed validation on every allowed
// iteration. The feature halts with the phase marked blocked; artifacts
// and reports from all attempts are retained for inspection.
type BlockedError struct {
	FeatureNumber int64
	Phase         Phase
	Reports       []ValidationReport
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("feature %d: phase %s blocked after %d failed attempts",
		e.FeatureNumber, e.Phase, len(e.Reports))
}

// --- Engine ---

// Engine runs features through the phase pipeline. One feature's phases
// are strictly sequential; different features may run concurrently —
// the engine serializes per feature and keeps no other shared state.
type Engine struct {
	store         Store
	gate          Validator
	gen           Generator
	prompts       Builder
	emit          Emitter
	maxIterations int

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// DefaultMaxIterations is the per-phase generate/validate attempt budget.
const DefaultMaxIterations = 3

// Option configures the engine.
type Option func(*Engine)

// WithEmitter sets the phase event listener.
func WithEmitter(em Emitter) Option {
	return func(e *Engine) { e.emit = em }
}

// WithMaxIterations overrides the per-phase attempt budget.
func WithMaxIterations(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// NewEngine creates an engine over the given dependencies.
func NewEngine(store Store, gate Validator, gen Generator, prompts Builder, opts ...Option) *Engine {
	e := &Engine{
		store:         store,
		gate:          gate,
		gen:           gen,
		prompts:       prompts,
		emit:          NopEmitter{},
		maxIterations: DefaultMaxIterations,
		locks:         map[int64]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// lockFor returns the per-feature mutex, creating it on first use.
func (e *Engine) lockFor(number int64) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[number]
	if !ok {
		l = &sync.Mutex{}
		e.locks[number] = l
	}
	return l
}

// Start creates a feature for the request and runs the pipeline from the
// beginning. The created feature is returned even when the run halts:
// callers get a feature with a blocked phase plus a BlockedError.
func (e *Engine) Start(ctx context.Context, request string, tier Tier, forceClarify bool) (*Feature, error) {
	if err := ValidateTier(tier); err != nil {
		return nil, err
	}

	f, err := e.store.CreateFeature(Slugify(request), tier, request)
	if err != nil {
		return nil, fmt.Errorf("creating feature: %w", err)
	}

	if err := e.Resume(ctx, f.Number, forceClarify); err != nil {
		if current, getErr := e.store.GetFeature(f.Number); getErr == nil {
			return current, err
		}
		return f, err
	}

	return e.store.GetFeature(f.Number)
}

// Resume continues a feature from its first non-terminal phase. Used both
// for fresh features and for features interrupted by cancellation or a
// restart. Returns a BlockedError when a phase exhausts its iterations.
func (e *Engine) Resume(ctx context.Context, number int64, forceClarify bool) error {
	lock := e.lockFor(number)
	lock.Lock()
	defer lock.Unlock()

	f, err := e.store.GetFeature(number)
	if err != nil {
		return fmt.Errorf("loading feature %d: %w", number, err)
	}

	start := PhaseIndex(f.NextPhase())
	if start < 0 {
		return nil // everything already terminal
	}

	for _, phase := range PhaseOrder[start:] {
		if f.Phases[phase].IsTerminal() {
			continue
		}
		if err := e.runPhase(ctx, f, phase, forceClarify); err != nil {
			return err
		}
	}

	if err := e.store.SetFeatureStatus(number, FeatureCompleted); err != nil {
		return fmt.Errorf("completing feature %d: %w", number, err)
	}
	return nil
}

// runPhase executes the gated generate/validate loop for one phase.
func (e *Engine) runPhase(ctx context.Context, f *Feature, phase Phase, forceClarify bool) error {
	if phase == PhaseClarification {
		needed, err := e.clarificationNeeded(f, forceClarify)
		if err != nil {
			return err
		}
		if !needed {
			if err := e.setStatus(f, phase, StatusSkipped, 0, nil); err != nil {
				return err
			}
			return nil
		}
	}

	if err := e.setStatus(f, phase, StatusInProgress, 0, nil); err != nil {
		return err
	}

	var lastViolations []Violation
	var reports []ValidationReport

	for iter := 1; iter <= e.maxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			// Cancelled mid-phase: nothing from this attempt is persisted,
			// the phase stays in_progress and Resume picks it back up.
			return err
		}

		prior, err := e.priorArtifacts(f, phase)
		if err != nil {
			return err
		}

		prompt, err := e.prompts.Build(phase, f, prior, lastViolations)
		if err != nil {
			return fmt.Errorf("building %s prompt: %w", phase, err)
		}

		content, err := e.gen.Generate(ctx, prompt, f.Tier)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if errors.Is(err, ErrPermanentGeneration) {
				return fmt.Errorf("generating %s: %w", phase, err)
			}

			// Exhausted transient failure: count it like a failed gate
			// attempt. No artifact exists, so there is nothing to feed
			// back; the next iteration starts a fresh generation.
			report := ValidationReport{
				Phase:     phase,
				Iteration: iter,
				Violations: []Violation{
					{RuleID: "GEN-000", Message: fmt.Sprintf("generation failed: %v", err)},
				},
			}
			if err := e.store.AppendReport(f.Number, report); err != nil {
				return fmt.Errorf("storing %s report: %w", phase, err)
			}
			reports = append(reports, report)
			e.emit.Emit(Event{
				FeatureNumber: f.Number,
				Phase:         phase,
				Status:        StatusInProgress,
				Iteration:     iter,
				Violations:    report.Violations,
			})
			continue
		}

		if _, err := e.store.PutArtifact(f.Number, phase, content, iter); err != nil {
			return fmt.Errorf("storing %s artifact: %w", phase, err)
		}

		report := e.gate.Validate(phase, content)
		report.Iteration = iter
		if err := e.store.AppendReport(f.Number, report); err != nil {
			return fmt.Errorf("storing %s report: %w", phase, err)
		}
		reports = append(reports, report)

		if report.Passed {
			return e.setStatus(f, phase, StatusPassed, iter, nil)
		}

		lastViolations = report.Violations
		e.emit.Emit(Event{
			FeatureNumber: f.Number,
			Phase:         phase,
			Status:        StatusInProgress,
			Iteration:     iter,
			Violations:    report.Violations,
		})
	}

	if err := e.setStatus(f, phase, StatusBlocked, e.maxIterations, lastViolations); err != nil {
		return err
	}
	return &BlockedError{FeatureNumber: f.Number, Phase: phase, Reports: reports}
}

// clarificationNeeded decides whether the clarification phase runs:
// forced, complex tier, or unresolved markers left in the specification.
func (e *Engine) clarificationNeeded(f *Feature, forced bool) (bool, error) {
	if forced || f.Tier == TierComplex {
		return true, nil
	}

	spec, err := e.store.GetLatest(f.Number, PhaseSpecification)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("loading specification for feature %d: %w", f.Number, err)
	}
	return e.gate.UnresolvedMarkers(spec.Content) > 0, nil
}

// priorArtifacts collects the latest artifact of every terminal phase
// before the given one. Skipped phases have no artifact and contribute
// nothing.
func (e *Engine) priorArtifacts(f *Feature, phase Phase) ([]Artifact, error) {
	idx := PhaseIndex(phase)
	if idx < 0 {
		return nil, fmt.Errorf("unknown phase %q", phase)
	}

	var prior []Artifact
	for _, p := range PhaseOrder[:idx] {
		if !f.Phases[p].IsTerminal() {
			continue
		}
		a, err := e.store.GetLatest(f.Number, p)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("loading %s artifact for feature %d: %w", p, f.Number, err)
		}
		prior = append(prior, *a)
	}
	return prior, nil
}

// setStatus persists a phase status, mirrors it on the in-memory feature,
// and emits the transition event.
func (e *Engine) setStatus(f *Feature, phase Phase, status PhaseStatus, iteration int, violations []Violation) error {
	if err := e.store.SetPhaseStatus(f.Number, phase, status, iteration); err != nil {
		return fmt.Errorf("setting %s status for feature %d: %w", phase, f.Number, err)
	}
	f.Phases[phase] = status
	e.emit.Emit(Event{
		FeatureNumber: f.Number,
		Phase:         phase,
		Status:        status,
		Iteration:     iteration,
		Violations:    violations,
	})
	return nil
}

// Restart returns every phase to pending so the pipeline can run again.
// Artifacts and report history are retained; new runs append new versions.
func (e *Engine) Restart(number int64) (*Feature, error) {
	lock := e.lockFor(number)
	lock.Lock()
	defer lock.Unlock()

	if err := e.store.ResetPhases(number); err != nil {
		return nil, fmt.Errorf("resetting feature %d: %w", number, err)
	}
	if err := e.store.SetFeatureStatus(number, FeatureActive); err != nil {
		return nil, fmt.Errorf("reactivating feature %d: %w", number, err)
	}
	return e.store.GetFeature(number)
}

// SkipClarification forces the clarification phase to skipped. No other
// phase can be skipped.
func (e *Engine) SkipClarification(number int64) error {
	lock := e.lockFor(number)
	lock.Lock()
	defer lock.Unlock()

	f, err := e.store.GetFeature(number)
	if err != nil {
		return fmt.Errorf("loading feature %d: %w", number, err)
	}

	if f.Phases[PhaseClarification] == StatusPassed {
		return fmt.Errorf("feature %d: clarification already passed, nothing to skip", number)
	}
	return e.setStatus(f, PhaseClarification, StatusSkipped, 0, nil)
}
