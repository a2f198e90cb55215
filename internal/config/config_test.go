package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Pipeline.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.Pipeline.MaxAttempts)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Web.Port)
	}
	if _, ok := cfg.Languages["python"]; !ok {
		t.Error("default python toolchain missing")
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[general]
max_parallel_runs = 5

[pipeline]
max_attempts = 2

[gateway]
base_url = "https://models.internal/v1"

[gateway.roles]
planner = "big-model"

[language.python]
test_command = "pytest -x"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.General.MaxParallelRuns != 5 {
		t.Errorf("MaxParallelRuns = %d, want 5", cfg.General.MaxParallelRuns)
	}
	if cfg.Pipeline.MaxAttempts != 2 {
		t.Errorf("MaxAttempts = %d, want 2", cfg.Pipeline.MaxAttempts)
	}
	if cfg.Gateway.BaseURL != "https://models.internal/v1" {
		t.Errorf("BaseURL = %q", cfg.Gateway.BaseURL)
	}
	if cfg.Gateway.Roles["planner"] != "big-model" {
		t.Errorf("planner model = %q, want big-model", cfg.Gateway.Roles["planner"])
	}
	if cfg.Languages["python"].TestCommand != "pytest -x" {
		t.Errorf("python test_command = %q", cfg.Languages["python"].TestCommand)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[pipeline]
max_attempts = 0
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Load() = nil error, want validation failure for max_attempts = 0")
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()
	if got := ExpandPath("~/x/y"); got != filepath.Join(home, "x/y") {
		t.Errorf("ExpandPath = %q", got)
	}
	if got := ExpandPath("/abs/path"); got != "/abs/path" {
		t.Errorf("ExpandPath = %q, want unchanged", got)
	}
}
