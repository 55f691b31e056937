// Package classify decides whether a raw request should enter the
// workflow at all, and at which complexity tier. Classification is a
// pure function over the request text and the configured vocabulary —
// no I/O, no state.
package classify

import (
	"strings"

	"github.com/sddkit/specdriver/internal/workflow"
)

// Config holds the trigger vocabulary and tier thresholds. All matching
// is case-insensitive whole-token matching.
type Config struct {
	// Vocabulary are the trigger words: a request containing none of
	// them does not start the workflow.
	Vocabulary []string

	// Conjunctions are multi-part markers ("and", "with", ...) that
	// push a short request out of the simple tier.
	Conjunctions []string

	// TechnicalTerms count as a complexity signal the same way
	// conjunctions do.
	TechnicalTerms []string

	// SimpleMaxTokens is the exclusive token-count ceiling for the
	// simple tier; ModerateMaxTokens for moderate. At or above the
	// moderate ceiling the tier is complex.
	SimpleMaxTokens   int
	ModerateMaxTokens int
}

// DefaultConfig returns the stock vocabulary and thresholds. The word
// lists cover English and French because that is what real requests in
// the field looked like.
func DefaultConfig() Config {
	return Config{
		Vocabulary: []string{
			"create", "build", "develop", "design", "implement", "add",
			"make", "write", "project", "app", "application", "feature",
			"system", "service", "tool", "think",
			"créer", "construire", "développer", "concevoir", "ajouter",
			"faire", "projet", "application", "fonctionnalité",
		},
		Conjunctions: []string{
			"and", "with", "plus", "also", "then", "or",
			"et", "avec", "également", "ou", "puis",
		},
		TechnicalTerms: []string{
			"api", "database", "auth", "authentication", "oauth", "cache",
			"queue", "websocket", "microservice", "deploy", "migration",
			"base", "données", "authentification", "déploiement",
		},
		SimpleMaxTokens:   10,
		ModerateMaxTokens: 30,
	}
}

// Decision is the classification outcome. When ShouldRun is false the
// tier is always TierNone and the workflow must not start.
type Decision struct {
	ShouldRun bool          `json:"should_run"`
	Tier      workflow.Tier `json:"tier"`
}

// Classifier matches requests against a fixed configuration.
type Classifier struct {
	cfg          Config
	vocabulary   map[string]bool
	conjunctions map[string]bool
	technical    map[string]bool
}

// New builds a classifier. Word lists are lowered once here so Classify
// stays allocation-light.
func New(cfg Config) *Classifier {
	return &Classifier{
		cfg:          cfg,
		vocabulary:   toSet(cfg.Vocabulary),
		conjunctions: toSet(cfg.Conjunctions),
		technical:    toSet(cfg.TechnicalTerms),
	}
}

func toSet(words []string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[strings.ToLower(w)] = true
	}
	return set
}

// Classify evaluates a request. Empty or whitespace-only input never
// triggers. A triggered request is tiered by token count: below the
// simple ceiling with no conjunction or technical term it is simple,
// below the moderate ceiling it is moderate, otherwise complex.
func (c *Classifier) Classify(request string) Decision {
	tokens := tokenize(request)
	if len(tokens) == 0 {
		return Decision{ShouldRun: false, Tier: workflow.TierNone}
	}

	triggered := false
	multiSignal := false
	for _, tok := range tokens {
		if c.vocabulary[tok] {
			triggered = true
		}
		if c.conjunctions[tok] || c.technical[tok] {
			multiSignal = true
		}
	}

	if !triggered {
		return Decision{ShouldRun: false, Tier: workflow.TierNone}
	}

	// A multi-part signal only rules a request out of the simple tier;
	// the complex tier is reached by length alone.
	switch {
	case len(tokens) < c.cfg.SimpleMaxTokens && !multiSignal:
		return Decision{ShouldRun: true, Tier: workflow.TierSimple}
	case len(tokens) < c.cfg.ModerateMaxTokens:
		return Decision{ShouldRun: true, Tier: workflow.TierModerate}
	default:
		return Decision{ShouldRun: true, Tier: workflow.TierComplex}
	}
}

// tokenize lowercases and splits on anything that isn't a letter, digit,
// or apostrophe. Apostrophes survive so French elisions ("l'api") keep
// their trailing word intact.
func tokenize(s string) []string {
	lowered := strings.ToLower(strings.TrimSpace(s))
	fields := strings.FieldsFunc(lowered, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z':
			return false
		case r >= '0' && r <= '9':
			return false
		case r == '\'' || r == 'é' || r == 'è' || r == 'ê' || r == 'à' || r == 'ç' || r == 'ù' || r == 'û' || r == 'î' || r == 'ô':
			return false
		}
		return true
	})

	// Split French elisions so "l'api" matches the "api" term.
	var tokens []string
	for _, f := range fields {
		if i := strings.IndexByte(f, '\''); i >= 0 && i < len(f)-1 {
			if i > 0 {
				tokens = append(tokens, f[:i])
			}
			tokens = append(tokens, f[i+1:])
			continue
		}
		if t := strings.Trim(f, "'"); t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}
