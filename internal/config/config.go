package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the top-level application configuration.
type Config struct {
	Server      ServerConfig              `yaml:"server"`
	Database    DatabaseConfig            `yaml:"database"`
	Providers   map[string]ProviderConfig `yaml:"providers"`
	Models      []ModelConfig             `yaml:"models"`
	Engine      EngineConfig              `yaml:"engine"`
	Auth        AuthConfig                `yaml:"auth"`
	Telemetry   TelemetryConfig           `yaml:"telemetry"`
	AppsDir     string                    `yaml:"apps_dir"`
	DatasetsDir string                    `yaml:"datasets_dir"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig selects the persistence driver.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "memory" (default), "postgres" or "badger"
	URL    string `yaml:"url"`    // postgres connection string
	Path   string `yaml:"path"`   // badger directory
}

// ProviderConfig holds AI provider settings.
type ProviderConfig struct {
	Type    string        `yaml:"type"`    // "openai" or "gemini"
	URL     string        `yaml:"url"`     // base URL
	APIKey  string        `yaml:"api_key"` // API key
	Timeout time.Duration `yaml:"timeout"` // per-request timeout
}

// ModelConfig is one entry of the model catalog.
type ModelConfig struct {
	ID          string  `yaml:"id"`       // id referenced by nodes
	Provider    string  `yaml:"provider"` // key into Providers
	Name        string  `yaml:"name"`     // upstream model name, defaults to ID
	MaxContext  int     `yaml:"max_context"`
	MaxResponse int     `yaml:"max_response"`
	InputPrice  float64 `yaml:"input_price"`  // points per 1k input tokens
	OutputPrice float64 `yaml:"output_price"` // points per 1k output tokens
	Default     bool    `yaml:"default"`
}

// EngineConfig tunes the scheduler.
type EngineConfig struct {
	Workers      int           `yaml:"workers"`
	NodeTimeout  time.Duration `yaml:"node_timeout"`
	MaxHistories int           `yaml:"max_histories"`
	MaxRuns      int           `yaml:"max_runs"`  // concurrent runs per process
	ChatRuns     int           `yaml:"chat_runs"` // concurrent runs per chat
}

// AuthConfig configures request authorization.
type AuthConfig struct {
	Secret string         `yaml:"secret"` // HS256 key for app tokens
	Keys   []APIKeyConfig `yaml:"keys"`
}

// APIKeyConfig binds a static API key to a team.
type APIKeyConfig struct {
	Key        string `yaml:"key"`
	TeamID     string `yaml:"team_id"`
	TmbID      string `yaml:"tmb_id"`
	AppID      string `yaml:"app_id"` // empty allows every app
	Permission string `yaml:"permission"`
}

// TelemetryConfig toggles tracing.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	Endpoint    string `yaml:"endpoint"` // OTLP/HTTP host:port, defaults to the OTEL_* env vars
}

// defaults returns a Config populated with sensible default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database:  DatabaseConfig{Driver: "memory"},
		Providers: map[string]ProviderConfig{},
		Engine: EngineConfig{
			Workers:      64,
			NodeTimeout:  5 * time.Minute,
			MaxHistories: 6,
			MaxRuns:      100,
			ChatRuns:     1,
		},
		Telemetry:   TelemetryConfig{ServiceName: "flowchat"},
		AppsDir:     "apps",
		DatasetsDir: "datasets",
	}
}

// Load reads a YAML configuration file at path and returns a Config.
// ${VAR} references in the file are expanded from the environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Ensure Providers map is never nil even if YAML has "providers: {}" or omits it.
	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderConfig{}
	}
	for i := range cfg.Models {
		if cfg.Models[i].Name == "" {
			cfg.Models[i].Name = cfg.Models[i].ID
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// LoadDefault loads ".env" (if present) and then "config.yaml" from the
// current directory. If the file does not exist, it returns sensible
// defaults. Any other error (e.g. permission denied, malformed YAML) is
// returned.
func LoadDefault() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	cfg, err := Load("config.yaml")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg = defaults()
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays FLOWCHAT_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("FLOWCHAT_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("FLOWCHAT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FLOWCHAT_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("FLOWCHAT_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
		if os.Getenv("FLOWCHAT_DATABASE_DRIVER") == "" {
			cfg.Database.Driver = "postgres"
		}
	}
	if v := os.Getenv("FLOWCHAT_AUTH_SECRET"); v != "" {
		cfg.Auth.Secret = v
	}
}

// DefaultModel returns the catalog entry marked default, or the first.
func (c *Config) DefaultModel() (ModelConfig, bool) {
	for _, m := range c.Models {
		if m.Default {
			return m, true
		}
	}
	if len(c.Models) > 0 {
		return c.Models[0], true
	}
	return ModelConfig{}, false
}
