package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	dir := t.TempDir()

	s, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.DataDir != dir {
		t.Errorf("DataDir = %q, want %q", s.DataDir, dir)
	}
	if s.ServiceURL != "http://localhost:8700" {
		t.Errorf("ServiceURL = %q", s.ServiceURL)
	}
	if s.MaxIterations != 3 {
		t.Errorf("MaxIterations = %d, want 3", s.MaxIterations)
	}
	if s.SimpleMaxTokens != 10 || s.ModerateMaxTokens != 30 {
		t.Errorf("tier thresholds = %d/%d, want 10/30", s.SimpleMaxTokens, s.ModerateMaxTokens)
	}
	if s.MaxAttempts != 4 {
		t.Errorf("MaxAttempts = %d, want 4", s.MaxAttempts)
	}
}

func TestLoad_OverlaysFileValues(t *testing.T) {
	dir := t.TempDir()
	content := `{
		"service_url": "http://gen.internal:9000",
		"max_iterations": 5,
		"trigger_words": ["forge"],
		"poll_budget_secs": 60
	}`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	s, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.ServiceURL != "http://gen.internal:9000" {
		t.Errorf("ServiceURL = %q", s.ServiceURL)
	}
	if s.MaxIterations != 5 {
		t.Errorf("MaxIterations = %d, want 5", s.MaxIterations)
	}
	if len(s.TriggerWords) != 1 || s.TriggerWords[0] != "forge" {
		t.Errorf("TriggerWords = %v", s.TriggerWords)
	}
	if s.PollBudget() != 60*time.Second {
		t.Errorf("PollBudget = %v, want 60s", s.PollBudget())
	}
	// Untouched fields keep their defaults.
	if s.MaxAttempts != 4 || s.SimpleMaxTokens != 10 {
		t.Errorf("defaults clobbered: attempts %d, simple %d", s.MaxAttempts, s.SimpleMaxTokens)
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Error("Load should surface a parse error")
	}
}

func TestDurationHelpers(t *testing.T) {
	s := Settings{InitialBackoffSecs: 1, MaxBackoffSecs: 30, PollIntervalSecs: 2, PollBudgetSecs: 300}
	if s.InitialBackoff() != time.Second {
		t.Errorf("InitialBackoff = %v", s.InitialBackoff())
	}
	if s.MaxBackoff() != 30*time.Second {
		t.Errorf("MaxBackoff = %v", s.MaxBackoff())
	}
	if s.PollInterval() != 2*time.Second {
		t.Errorf("PollInterval = %v", s.PollInterval())
	}
	if s.PollBudget() != 300*time.Second {
		t.Errorf("PollBudget = %v", s.PollBudget())
	}
}

func TestAPIKey_FromEnvironment(t *testing.T) {
	t.Setenv("SPECDRIVER_API_KEY", "sk-test")
	if got := APIKey(); got != "sk-test" {
		t.Errorf("APIKey = %q, want sk-test", got)
	}
}
