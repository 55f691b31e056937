// Package config resolves the runtime settings file. Settings are read
// once at startup into a value object; nothing in here is mutable global
// state. Every field has a default, so a missing file is not an error.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// FileName is the settings file looked up under the data directory.
const FileName = "specdriver.json"

// Settings is the resolved configuration. Zero values in the file fall
// back to defaults during Load.
type Settings struct {
	// DataDir holds the database and settings file.
	DataDir string `json:"data_dir"`

	// ServiceURL is the generation service base URL. The API key comes
	// from the SPECDRIVER_API_KEY environment variable, never the file.
	ServiceURL string `json:"service_url"`

	// MaxIterations is the per-phase generate/validate attempt budget.
	MaxIterations int `json:"max_iterations"`

	// Classifier tuning. Empty word lists keep the built-in vocabulary.
	TriggerWords      []string `json:"trigger_words,omitempty"`
	Conjunctions      []string `json:"conjunctions,omitempty"`
	TechnicalTerms    []string `json:"technical_terms,omitempty"`
	SimpleMaxTokens   int      `json:"simple_max_tokens"`
	ModerateMaxTokens int      `json:"moderate_max_tokens"`

	// Call client tuning, in seconds where durations are concerned.
	MaxAttempts        int `json:"max_attempts"`
	InitialBackoffSecs int `json:"initial_backoff_secs"`
	MaxBackoffSecs     int `json:"max_backoff_secs"`
	PollIntervalSecs   int `json:"poll_interval_secs"`
	PollBudgetSecs     int `json:"poll_budget_secs"`
}

// Default returns the stock settings.
func Default() Settings {
	home, _ := os.UserHomeDir()
	return Settings{
		DataDir:            filepath.Join(home, ".specdriver"),
		ServiceURL:         "http://localhost:8700",
		MaxIterations:      3,
		SimpleMaxTokens:    10,
		ModerateMaxTokens:  30,
		MaxAttempts:        4,
		InitialBackoffSecs: 1,
		MaxBackoffSecs:     30,
		PollIntervalSecs:   2,
		PollBudgetSecs:     300,
	}
}

// Load reads the settings file under dir (or the default data dir when
// dir is empty) and overlays it on the defaults. A missing file yields
// the defaults unchanged.
func Load(dir string) (Settings, error) {
	s := Default()
	if dir != "" {
		s.DataDir = dir
	}

	path := filepath.Join(s.DataDir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return s, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var loaded Settings
	if err := json.Unmarshal(data, &loaded); err != nil {
		return s, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	merge(&s, loaded)
	return s, nil
}

// merge overlays non-zero loaded values onto the defaults.
func merge(s *Settings, loaded Settings) {
	if loaded.DataDir != "" {
		s.DataDir = loaded.DataDir
	}
	if loaded.ServiceURL != "" {
		s.ServiceURL = loaded.ServiceURL
	}
	if loaded.MaxIterations > 0 {
		s.MaxIterations = loaded.MaxIterations
	}
	if len(loaded.TriggerWords) > 0 {
		s.TriggerWords = loaded.TriggerWords
	}
	if len(loaded.Conjunctions) > 0 {
		s.Conjunctions = loaded.Conjunctions
	}
	if len(loaded.TechnicalTerms) > 0 {
		s.TechnicalTerms = loaded.TechnicalTerms
	}
	if loaded.SimpleMaxTokens > 0 {
		s.SimpleMaxTokens = loaded.SimpleMaxTokens
	}
	if loaded.ModerateMaxTokens > 0 {
		s.ModerateMaxTokens = loaded.ModerateMaxTokens
	}
	if loaded.MaxAttempts > 0 {
		s.MaxAttempts = loaded.MaxAttempts
	}
	if loaded.InitialBackoffSecs > 0 {
		s.InitialBackoffSecs = loaded.InitialBackoffSecs
	}
	if loaded.MaxBackoffSecs > 0 {
		s.MaxBackoffSecs = loaded.MaxBackoffSecs
	}
	if loaded.PollIntervalSecs > 0 {
		s.PollIntervalSecs = loaded.PollIntervalSecs
	}
	if loaded.PollBudgetSecs > 0 {
		s.PollBudgetSecs = loaded.PollBudgetSecs
	}
}

// APIKey reads the generation service credential from the environment.
func APIKey() string {
	return os.Getenv("SPECDRIVER_API_KEY")
}

// InitialBackoff returns the backoff base as a duration.
func (s Settings) InitialBackoff() time.Duration {
	return time.Duration(s.InitialBackoffSecs) * time.Second
}

// MaxBackoff returns the backoff cap as a duration.
func (s Settings) MaxBackoff() time.Duration {
	return time.Duration(s.MaxBackoffSecs) * time.Second
}

// PollInterval returns the poll interval as a duration.
func (s Settings) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSecs) * time.Second
}

// PollBudget returns the total poll budget as a duration.
func (s Settings) PollBudget() time.Duration {
	return time.Duration(s.PollBudgetSecs) * time.Second
}
