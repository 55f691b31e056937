// Package analyze cross-references the latest artifacts of a feature and
// reports traceability gaps. It is read-only and idempotent: analyzing
// twice without new artifact versions yields identical reports.
//
// Reference items are extracted by ID grammar per phase: requirement IDs
// (FR-### / NFR-###) and success criteria (SC-###) from the
// specification, component IDs (C-###) from the plan, task IDs (T-###)
// from the tasks artifact. Mapping is directed: specification→plan,
// plan→tasks, and specification's success criteria→plan. An item with
// no reference on the target side is a gap.
package analyze

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/sddkit/specdriver/internal/workflow"
)

var (
	requirementIDRe = regexp.MustCompile(`\b(?:FR|NFR)-\d+\b`)
	componentIDRe   = regexp.MustCompile(`\bC-\d+\b`)
	criterionIDRe   = regexp.MustCompile(`\bSC-\d+\b`)
	anyIDRe         = regexp.MustCompile(`\b(?:FR|NFR|SC|C|T)-\d+\b`)
)

// Gap is a source item with no reference in the target artifact.
type Gap struct {
	SourcePhase workflow.Phase `json:"source_phase"`
	TargetPhase workflow.Phase `json:"target_phase"`
	Ref         string         `json:"ref"`
}

// HopCoverage summarizes one directed mapping between two artifacts.
type HopCoverage struct {
	Name        string         `json:"name"`
	SourcePhase workflow.Phase `json:"source_phase"`
	TargetPhase workflow.Phase `json:"target_phase"`
	Covered     int            `json:"covered"`
	Total       int            `json:"total"`
	Ratio       float64        `json:"ratio"`
}

// Report is the full consistency verdict for a feature. Gaps are
// advisory: the analyzer never mutates workflow state.
type Report struct {
	FeatureNumber int64         `json:"feature_number"`
	Hops          []HopCoverage `json:"hops"`
	Gaps          []Gap         `json:"gaps"`

	// QualityScore is the mean of all hop ratios, 1.0 when no hop has
	// any items.
	QualityScore float64 `json:"quality_score"`
}

// Analyze maps the artifacts (latest version per phase) against each
// other. Missing artifacts contribute empty ID sets: a hop whose source
// artifact is absent reports zero items and full coverage.
func Analyze(featureNumber int64, artifacts map[workflow.Phase]string) Report {
	spec := artifacts[workflow.PhaseSpecification]
	plan := artifacts[workflow.PhasePlan]
	tasks := artifacts[workflow.PhaseTasks]

	report := Report{FeatureNumber: featureNumber}

	planIDs := idSet(plan)
	taskIDs := idSet(tasks)

	hops := []struct {
		name    string
		source  workflow.Phase
		target  workflow.Phase
		refs    []string
		covered map[string]bool
	}{
		{"requirements", workflow.PhaseSpecification, workflow.PhasePlan, extractIDs(requirementIDRe, spec), planIDs},
		{"components", workflow.PhasePlan, workflow.PhaseTasks, extractIDs(componentIDRe, plan), taskIDs},
		{"success-criteria", workflow.PhaseSpecification, workflow.PhasePlan, extractIDs(criterionIDRe, spec), planIDs},
	}

	var ratioSum float64
	for _, hop := range hops {
		coverage := HopCoverage{
			Name:        hop.name,
			SourcePhase: hop.source,
			TargetPhase: hop.target,
			Total:       len(hop.refs),
		}
		for _, ref := range hop.refs {
			if hop.covered[ref] {
				coverage.Covered++
				continue
			}
			report.Gaps = append(report.Gaps, Gap{
				SourcePhase: hop.source,
				TargetPhase: hop.target,
				Ref:         ref,
			})
		}
		if coverage.Total == 0 {
			coverage.Ratio = 1.0
		} else {
			coverage.Ratio = float64(coverage.Covered) / float64(coverage.Total)
		}
		ratioSum += coverage.Ratio
		report.Hops = append(report.Hops, coverage)
	}

	report.QualityScore = ratioSum / float64(len(hops))
	return report
}

// idSet collects every reference ID present in content, whole-token
// matched so "FR-1" never counts as covered by "FR-12".
func idSet(content string) map[string]bool {
	set := map[string]bool{}
	for _, id := range anyIDRe.FindAllString(content, -1) {
		set[id] = true
	}
	return set
}

// extractIDs returns the unique IDs matched by re, sorted by their
// numeric suffix (then lexically) for deterministic output.
func extractIDs(re *regexp.Regexp, content string) []string {
	if content == "" {
		return nil
	}

	seen := map[string]bool{}
	var ids []string
	for _, id := range re.FindAllString(content, -1) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	sort.Slice(ids, func(i, j int) bool {
		pi, ni := splitID(ids[i])
		pj, nj := splitID(ids[j])
		if pi != pj {
			return pi < pj
		}
		return ni < nj
	})
	return ids
}

// splitID separates "FR-12" into its prefix and numeric suffix.
func splitID(id string) (string, int) {
	i := strings.LastIndexByte(id, '-')
	if i < 0 {
		return id, 0
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil {
		return id, 0
	}
	return id[:i], n
}

// Summarize renders a compact one-line verdict, e.g.
// "requirements 2/3, components 1/1, success-criteria 0/0 — 2 gap(s)".
func Summarize(r Report) string {
	parts := make([]string, 0, len(r.Hops))
	for _, hop := range r.Hops {
		parts = append(parts, fmt.Sprintf("%s %d/%d", hop.Name, hop.Covered, hop.Total))
	}
	return fmt.Sprintf("%s — %d gap(s)", strings.Join(parts, ", "), len(r.Gaps))
}
