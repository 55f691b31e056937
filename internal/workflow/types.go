// Package workflow defines the feature model and the gated phase state
// machine that drives a request from raw idea to implementation plan.
//
// The package follows a few deliberate principles:
// - SRP: types, slug generation, the engine, and events live in separate files
// - DIP: Store, Validator, Generator, and Builder are interfaces; the engine
//   depends on abstractions, concrete implementations are wired at the root
// - OCP: phase rule sets and prompt sections live outside this package, so
//   gating behavior can evolve without touching the engine
package workflow

import (
	"fmt"
	"strings"
)

// --- Phase enum ---

// Phase is a discrete step in the fixed development pipeline.
type Phase string

const (
	PhaseConstitution   Phase = "constitution"   // project principles and constraints
	PhaseSpecification  Phase = "specification"  // formal requirements with FR/NFR IDs
	PhaseClarification  Phase = "clarification"  // ambiguity resolution (conditional)
	PhasePlan           Phase = "plan"           // technical plan with component IDs
	PhaseTasks          Phase = "tasks"          // atomic task breakdown
	PhaseImplementation Phase = "implementation" // implementation progress log
)

// PhaseOrder is the canonical pipeline sequence. Every feature walks this
// list front to back; only clarification may be skipped.
var PhaseOrder = []Phase{
	PhaseConstitution,
	PhaseSpecification,
	PhaseClarification,
	PhasePlan,
	PhaseTasks,
	PhaseImplementation,
}

// validPhases is the set of recognized phases.
var validPhases = map[Phase]bool{
	PhaseConstitution:   true,
	PhaseSpecification:  true,
	PhaseClarification:  true,
	PhasePlan:           true,
	PhaseTasks:          true,
	PhaseImplementation: true,
}

// ValidatePhase returns an error if the phase is not recognized.
func ValidatePhase(p Phase) error {
	if !validPhases[p] {
		return fmt.Errorf("invalid phase %q: must be one of: constitution, specification, clarification, plan, tasks, implementation", p)
	}
	return nil
}

// PhaseIndex returns the ordinal position of a phase in PhaseOrder,
// or -1 if the phase is unknown.
func PhaseIndex(p Phase) int {
	for i, phase := range PhaseOrder {
		if phase == p {
			return i
		}
	}
	return -1
}

// --- Phase status enum ---

// PhaseStatus tracks progress of a single phase within a feature.
type PhaseStatus string

const (
	StatusPending    PhaseStatus = "pending"
	StatusInProgress PhaseStatus = "in_progress"
	StatusPassed     PhaseStatus = "passed"
	StatusBlocked    PhaseStatus = "blocked"
	StatusSkipped    PhaseStatus = "skipped"
)

// terminalStatuses are statuses that let the pipeline move past a phase.
var terminalStatuses = map[PhaseStatus]bool{
	StatusPassed:  true,
	StatusSkipped: true,
}

// IsTerminal reports whether a phase with this status is finished in a way
// that allows the next phase to start.
func (s PhaseStatus) IsTerminal() bool {
	return terminalStatuses[s]
}

// --- Tier enum ---

// Tier is the complexity classification assigned to a request.
// It controls clarification applicability and generation effort.
type Tier string

const (
	TierNone     Tier = "none" // classifier declined to run the workflow
	TierSimple   Tier = "simple"
	TierModerate Tier = "moderate"
	TierComplex  Tier = "complex"
)

// validTiers is the set of tiers a feature can be created with.
var validTiers = map[Tier]bool{
	TierSimple:   true,
	TierModerate: true,
	TierComplex:  true,
}

// ValidateTier returns an error if the tier cannot be attached to a feature.
// TierNone is valid classifier output but never a feature tier.
func ValidateTier(t Tier) error {
	if !validTiers[t] {
		return fmt.Errorf("invalid tier %q: must be one of: simple, moderate, complex", t)
	}
	return nil
}

// --- Feature status enum ---

// FeatureStatus tracks the overall lifecycle of a feature.
type FeatureStatus string

const (
	FeatureActive    FeatureStatus = "active"
	FeatureCompleted FeatureStatus = "completed"
	FeatureArchived  FeatureStatus = "archived"
)

// --- Core data structures ---

// Feature is the root record for one workflow run. Numbers are allocated
// monotonically per workspace and never reused; the slug plus number form
// the storage key.
type Feature struct {
	Number    int64                 `json:"number"`
	Slug      string                `json:"slug"`
	Tier      Tier                  `json:"tier"`
	Request   string                `json:"request"`
	Phases    map[Phase]PhaseStatus `json:"phases"`
	Status    FeatureStatus         `json:"status"`
	CreatedAt string                `json:"created_at"`
	UpdatedAt string                `json:"updated_at"`
}

// Key returns the canonical storage key, e.g. "feature-007-add-todo-auth".
func (f *Feature) Key() string {
	return fmt.Sprintf("feature-%03d-%s", f.Number, f.Slug)
}

// NextPhase returns the first phase that is neither passed nor skipped,
// or "" when every phase is terminal.
func (f *Feature) NextPhase() Phase {
	for _, p := range PhaseOrder {
		if !f.Phases[p].IsTerminal() {
			return p
		}
	}
	return ""
}

// Artifact is one persisted version of a phase's generated content.
// Versions are 1-based and append-only; the latest version is the
// artifact of record, older versions remain readable forever.
type Artifact struct {
	Phase     Phase  `json:"phase"`
	Version   int    `json:"version"`
	Content   string `json:"content"`
	Iteration int    `json:"iteration"`
	CreatedAt string `json:"created_at"`
}

// Violation is a single failed rule in a validation report.
type Violation struct {
	RuleID  string `json:"rule_id"`
	Message string `json:"message"`
}

// ValidationReport is the gate's verdict for one attempt at a phase.
// Reports are append-only history; a phase passes only when its most
// recent report passed.
type ValidationReport struct {
	Phase      Phase       `json:"phase"`
	Iteration  int         `json:"iteration"`
	Passed     bool        `json:"passed"`
	Violations []Violation `json:"violations,omitempty"`
}

// --- Slug generation ---

const maxSlugLen = 50

// Slugify converts a request string into a filesystem-safe slug.
// Example: "Add OAuth login to the todo app" → "add-oauth-login-to-the-todo-app"
//
// Rules:
//   - Lowercase
//   - Spaces and underscores become hyphens
//   - Non-alphanumeric characters (except hyphens) are removed
//   - Consecutive hyphens are collapsed
//   - Leading/trailing hyphens are trimmed
//   - Truncated to 50 characters (at a word boundary if possible)
//   - Empty input returns "unnamed-feature"
func Slugify(request string) string {
	if strings.TrimSpace(request) == "" {
		return "unnamed-feature"
	}

	s := strings.ToLower(strings.TrimSpace(request))

	var b strings.Builder
	prevHyphen := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			prevHyphen = false
		case r == ' ' || r == '_' || r == '-':
			if !prevHyphen {
				b.WriteByte('-')
				prevHyphen = true
			}
		}
	}

	slug := strings.Trim(b.String(), "-")

	if slug == "" {
		return "unnamed-feature"
	}

	if len(slug) <= maxSlugLen {
		return slug
	}

	// Truncate at word boundary if possible.
	truncated := slug[:maxSlugLen]
	if lastHyphen := strings.LastIndex(truncated, "-"); lastHyphen > maxSlugLen/2 {
		truncated = truncated[:lastHyphen]
	}

	return strings.TrimRight(truncated, "-")
}
