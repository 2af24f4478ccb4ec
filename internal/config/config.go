package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"draftline/internal/domain"
)

// Config models draftline.yml.
type Config struct {
	Server struct {
		Addr      string `yaml:"addr"`
		BasePath  string `yaml:"base_path"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
	Planner struct {
		// FixedPoint re-runs constraint resolution until schedules settle
		// instead of the default single pass.
		FixedPoint bool `yaml:"fixed_point"`
		MaxPasses  int  `yaml:"max_passes"`
	} `yaml:"planner"`
	Defaults struct {
		Priority string `yaml:"priority"`
		Status   string `yaml:"status"`
	} `yaml:"defaults"`
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	cfg.Server.Addr = ":8787"
	cfg.Server.BasePath = "/v0"
	cfg.Planner.MaxPasses = 10
	cfg.Defaults.Priority = domain.PriorityMedium
	cfg.Defaults.Status = domain.StatusTodo
	return &cfg
}

// Validate ensures enum-valued fields hold known values.
func (c *Config) Validate() error {
	switch c.Defaults.Priority {
	case "", domain.PriorityLow, domain.PriorityMedium, domain.PriorityHigh:
	default:
		return fmt.Errorf("config.defaults.priority %q is not one of LOW, MEDIUM, HIGH", c.Defaults.Priority)
	}
	switch c.Defaults.Status {
	case "", domain.StatusTodo, domain.StatusInProgress, domain.StatusDone:
	default:
		return fmt.Errorf("config.defaults.status %q is not one of TODO, IN_PROGRESS, DONE", c.Defaults.Status)
	}
	if c.Planner.MaxPasses < 0 {
		return fmt.Errorf("config.planner.max_passes must not be negative")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "draftline.yml")
}

// Load reads and validates config from the workspace, applying defaults for
// unset fields.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config when the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	cfg, err := Load(workspace)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// FromYAML parses and validates config from raw YAML bytes on top of the
// defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if cfg.Defaults.Priority == "" {
		cfg.Defaults.Priority = domain.PriorityMedium
	}
	if cfg.Defaults.Status == "" {
		cfg.Defaults.Status = domain.StatusTodo
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
