// Package prompt assembles generation prompts from YAML-defined phase
// sections, the stitched context of prior artifacts, and gate feedback
// from failed attempts.
package prompt

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sddkit/specdriver/internal/workflow"
)

//go:embed phases.yaml
var phasesYAML []byte

// section is one named block of prompt text. In YAML a section is a
// single-key map, so decoding needs a custom unmarshaler.
type section struct {
	Name string
	Body string
}

// UnmarshalYAML decodes a single-key mapping node into Name/Body.
func (s *section) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode || len(value.Content) != 2 {
		return fmt.Errorf("prompt section must be a single-key map, got %d entries", len(value.Content)/2)
	}
	s.Name = value.Content[0].Value
	s.Body = strings.TrimSpace(value.Content[1].Value)
	return nil
}

// Builder renders phase prompts. It implements workflow.Builder.
type Builder struct {
	defs map[workflow.Phase][]section
}

// NewBuilder parses the embedded phase definitions and verifies every
// pipeline phase has one.
func NewBuilder() (*Builder, error) {
	raw := map[string][]section{}
	if err := yaml.Unmarshal(phasesYAML, &raw); err != nil {
		return nil, fmt.Errorf("parsing phase definitions: %w", err)
	}

	defs := make(map[workflow.Phase][]section, len(raw))
	for name, sections := range raw {
		phase := workflow.Phase(name)
		if err := workflow.ValidatePhase(phase); err != nil {
			return nil, fmt.Errorf("phase definitions: %w", err)
		}
		if len(sections) == 0 {
			return nil, fmt.Errorf("phase definitions: %s has no sections", name)
		}
		defs[phase] = sections
	}

	for _, phase := range workflow.PhaseOrder {
		if _, ok := defs[phase]; !ok {
			return nil, fmt.Errorf("phase definitions: missing %s", phase)
		}
	}

	return &Builder{defs: defs}, nil
}

// Build renders the prompt for one phase attempt. Prior artifacts become
// the context block, joined with "---" separators in pipeline order.
// Violations from the previous attempt are appended as corrective
// feedback so the next generation can fix them.
func (b *Builder) Build(phase workflow.Phase, f *workflow.Feature, prior []workflow.Artifact, violations []workflow.Violation) (workflow.Prompt, error) {
	sections, ok := b.defs[phase]
	if !ok {
		return workflow.Prompt{}, fmt.Errorf("no prompt definition for phase %q", phase)
	}

	repl := strings.NewReplacer(
		"{request}", f.Request,
		"{tier}", string(f.Tier),
		"{feature}", f.Key(),
	)

	var instr strings.Builder
	for i, sec := range sections {
		if i > 0 {
			instr.WriteString("\n\n")
		}
		fmt.Fprintf(&instr, "## %s\n\n%s", title(sec.Name), repl.Replace(sec.Body))
	}

	if len(violations) > 0 {
		instr.WriteString("\n\n## Feedback\n\nThe previous attempt failed validation. Fix every violation:\n")
		for _, v := range violations {
			fmt.Fprintf(&instr, "- [%s] %s\n", v.RuleID, v.Message)
		}
	}

	return workflow.Prompt{
		Instructions: instr.String(),
		Context:      stitchContext(prior),
	}, nil
}

// stitchContext joins prior artifacts with "---" separators, labeling
// each block with its phase and version.
func stitchContext(prior []workflow.Artifact) string {
	if len(prior) == 0 {
		return ""
	}

	blocks := make([]string, 0, len(prior))
	for _, a := range prior {
		blocks = append(blocks, fmt.Sprintf("# %s (v%d)\n\n%s", title(string(a.Phase)), a.Version, a.Content))
	}
	return strings.Join(blocks, "\n\n---\n\n")
}

// title uppercases the first letter of an ASCII word.
func title(s string) string {
	if s == "" {
		return s
	}
	if s[0] >= 'a' && s[0] <= 'z' {
		return string(s[0]-32) + s[1:]
	}
	return s
}
