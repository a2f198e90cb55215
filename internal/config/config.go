package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig             `toml:"general"`
	Gateway       GatewayConfig             `toml:"gateway"`
	Pipeline      PipelineConfig            `toml:"pipeline"`
	Languages     map[string]LanguageConfig `toml:"language"`
	Pool          PoolConfig                `toml:"pool"`
	Publish       PublishConfig             `toml:"publish"`
	Notifications NotificationsConfig       `toml:"notifications"`
	Web           WebConfig                 `toml:"web"`
	Maintenance   MaintenanceConfig         `toml:"maintenance"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	DatabasePath    string `toml:"database_path"`
	RequestsDir     string `toml:"requests_dir"`
	MaxParallelRuns int    `toml:"max_parallel_runs"`
	Debug           bool   `toml:"debug"`
}

// GatewayConfig holds model gateway settings
type GatewayConfig struct {
	BaseURL      string            `toml:"base_url"`
	APIKeyEnv    string            `toml:"api_key_env"`
	TimeoutSecs  int               `toml:"timeout_secs"`
	MaxRetries   int               `toml:"max_retries"`
	BaseDelayMs  int               `toml:"base_delay_ms"`
	ParseRetries int               `toml:"parse_retries"`
	Roles        map[string]string `toml:"roles"` // role -> model name
}

// PipelineConfig holds orchestration settings
type PipelineConfig struct {
	MaxAttempts int `toml:"max_attempts"` // test/refine budget per language
}

// LanguageConfig describes the toolchain for one target language
type LanguageConfig struct {
	SetupCommand   string `toml:"setup_command"`
	TestCommand    string `toml:"test_command"`
	FailurePattern string `toml:"failure_pattern"`
	TimeoutSecs    int    `toml:"timeout_secs"`
}

// PoolConfig holds remote execution pool settings
type PoolConfig struct {
	Enabled    bool   `toml:"enabled"`
	ListenAddr string `toml:"listen_addr"`
}

// PublishConfig holds change publisher settings
type PublishConfig struct {
	RepoDir  string `toml:"repo_dir"`
	Remote   string `toml:"remote"`
	CreatePR bool   `toml:"create_pr"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// WebConfig holds web API settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// MaintenanceConfig holds sweeper settings
type MaintenanceConfig struct {
	Cron          string `toml:"cron"`
	StaleAfterMin int    `toml:"stale_after_mins"`
	RetentionDays int    `toml:"retention_days"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			DatabasePath:    filepath.Join(home, ".council-orchestrator", "council.db"),
			RequestsDir:     "",
			MaxParallelRuns: 2,
		},
		Gateway: GatewayConfig{
			BaseURL:      "http://127.0.0.1:8000/v1",
			APIKeyEnv:    "COUNCIL_GATEWAY_API_KEY",
			TimeoutSecs:  120,
			MaxRetries:   3,
			BaseDelayMs:  500,
			ParseRetries: 2,
			Roles: map[string]string{
				"planner":   "council-planner",
				"context":   "council-context",
				"generator": "council-generator",
				"refiner":   "council-generator",
				"reviewer":  "council-reviewer",
			},
		},
		Pipeline: PipelineConfig{
			MaxAttempts: 3,
		},
		Languages: map[string]LanguageConfig{
			"python": {
				SetupCommand:   "python3 -m venv .venv && .venv/bin/pip install -q pytest",
				TestCommand:    ".venv/bin/pytest -q",
				FailurePattern: `^FAILED (\S+?)(?: - (.*))?$`,
				TimeoutSecs:    600,
			},
			"typescript": {
				SetupCommand:   "npm install --no-audit --no-fund --silent",
				TestCommand:    "npx jest --silent 2>&1",
				FailurePattern: `^\s*✕ (.*)$`,
				TimeoutSecs:    600,
			},
			"go": {
				TestCommand:    "go test ./...",
				FailurePattern: `^--- FAIL: (\S+)`,
				TimeoutSecs:    600,
			},
		},
		Pool: PoolConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:9090",
		},
		Publish: PublishConfig{
			Remote:   "origin",
			CreatePR: false,
		},
		Notifications: NotificationsConfig{
			Desktop: true,
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Maintenance: MaintenanceConfig{
			Cron:          "*/10 * * * *",
			StaleAfterMin: 120,
			RetentionDays: 90,
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.General.RequestsDir = ExpandPath(cfg.General.RequestsDir)
	cfg.Publish.RepoDir = ExpandPath(cfg.Publish.RepoDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("pipeline.max_attempts must be >= 1")
	}
	if c.General.MaxParallelRuns < 1 {
		return fmt.Errorf("general.max_parallel_runs must be >= 1")
	}
	for lang, lc := range c.Languages {
		if lc.TestCommand == "" {
			return fmt.Errorf("language.%s: test_command is required", lang)
		}
	}
	return nil
}

// APIKey resolves the gateway API key from the configured environment variable
func (g *GatewayConfig) APIKey() string {
	if g.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(g.APIKeyEnv)
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "council-orchestrator", "config.toml")
}
