package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestConfigUsesEnvAPIKeys(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)

	t.Setenv("ANTHROPIC_API_KEY", "env-ant")
	t.Setenv("OPENAI_API_KEY", "env-openai")
	t.Setenv("GOOGLE_API_KEY", "env-google")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AnthropicAPIKey != "env-ant" || cfg.OpenAIAPIKey != "env-openai" || cfg.GoogleAPIKey != "env-google" {
		t.Fatalf("expected env API keys to be used")
	}
	if !cfg.HasProvider("anthropic") || cfg.HasProvider("unknown") {
		t.Fatal("provider detection wrong")
	}
}

func TestConfigFallsBackToFileAPIKeys(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)

	configDir := filepath.Join(home, ".dispatch")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	data := []byte("api_keys:\n  anthropic: file-ant\n")
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), data, 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AnthropicAPIKey != "file-ant" {
		t.Fatalf("anthropic key %q, want file value", cfg.AnthropicAPIKey)
	}
	if cfg.OpenAIAPIKey != "" {
		t.Fatalf("openai key %q, want empty", cfg.OpenAIAPIKey)
	}
}

func TestConfigEngineSettings(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)

	configDir := filepath.Join(home, ".dispatch")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	data := []byte(`engine:
  quality_threshold: 8.5
  max_attempts: 5
  max_execution_seconds: 90
  reframing_enabled: false
history:
  max_records: 500
  half_life_days: 7
`)
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), data, 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	engine := cfg.EngineConfig()
	if engine.QualityThreshold != 8.5 || engine.MaxAttempts != 5 {
		t.Fatalf("engine config %+v", engine)
	}
	if engine.MaxExecutionTime != 90*time.Second {
		t.Fatalf("max execution time %s", engine.MaxExecutionTime)
	}
	if engine.ReframingEnabled {
		t.Fatal("reframing should be disabled")
	}
	// Unset fields keep the engine defaults.
	if engine.MinHistoryForKNN == 0 {
		t.Fatal("min history default not applied")
	}

	opts := cfg.HistoryOptions()
	if opts.MaxRecords != 500 || opts.HalfLife != 7*24*time.Hour {
		t.Fatalf("history options %+v", opts)
	}
}

func TestConfigHistoryPathDefaultsAndEnvOverride(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := filepath.Join(home, ".dispatch", "history.jsonl")
	if cfg.HistoryPath() != want {
		t.Fatalf("history path %q, want %q", cfg.HistoryPath(), want)
	}

	t.Setenv("DISPATCH_HISTORY_PATH", "/tmp/elsewhere.jsonl")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HistoryPath() != "/tmp/elsewhere.jsonl" {
		t.Fatalf("history path %q, want env override", cfg.HistoryPath())
	}
}

func setHomeEnv(t *testing.T, home string) {
	t.Helper()
	t.Setenv("HOME", home)
	if runtime.GOOS == "windows" {
		t.Setenv("USERPROFILE", home)
	}
}
