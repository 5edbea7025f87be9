package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"taskmesh/internal/domain"
)

// Config models taskmesh.yml.
type Config struct {
	Engine struct {
		OperationTimeout    string `yaml:"operation_timeout" json:"operation_timeout"`
		DefaultTaskPriority int    `yaml:"default_task_priority" json:"default_task_priority"`
	} `yaml:"engine" json:"engine"`
	Analytics struct {
		DefaultVelocity      float64 `yaml:"default_velocity" json:"default_velocity"`
		DailyThroughputHours float64 `yaml:"daily_throughput_hours" json:"daily_throughput_hours"`
	} `yaml:"analytics" json:"analytics"`
	Matcher struct {
		UrgentWithinDays  int `yaml:"urgent_within_days" json:"urgent_within_days"`
		SoonWithinDays    int `yaml:"soon_within_days" json:"soon_within_days"`
		NoDueSentinelDays int `yaml:"no_due_sentinel_days" json:"no_due_sentinel_days"`
	} `yaml:"matcher" json:"matcher"`
	Teams []domain.Team `yaml:"teams" json:"teams"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; write one with tm config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOrDefault returns the workspace config, or the built-in defaults when
// no file exists.
func LoadOrDefault(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate checks the semantic rules the schema cannot express.
func (c *Config) Validate() error {
	if _, err := time.ParseDuration(c.Engine.OperationTimeout); err != nil {
		return fmt.Errorf("config.engine.operation_timeout: %w", err)
	}
	if c.Engine.DefaultTaskPriority < domain.MinTaskPriority {
		return fmt.Errorf("config.engine.default_task_priority must be at least %d", domain.MinTaskPriority)
	}
	if c.Analytics.DefaultVelocity <= 0 {
		return fmt.Errorf("config.analytics.default_velocity must be positive")
	}
	if c.Analytics.DailyThroughputHours <= 0 {
		return fmt.Errorf("config.analytics.daily_throughput_hours must be positive")
	}
	if c.Matcher.SoonWithinDays < c.Matcher.UrgentWithinDays {
		return fmt.Errorf("config.matcher.soon_within_days must be >= urgent_within_days")
	}
	if c.Matcher.NoDueSentinelDays <= c.Matcher.SoonWithinDays {
		return fmt.Errorf("config.matcher.no_due_sentinel_days must exceed soon_within_days")
	}
	seen := map[string]bool{}
	for _, t := range c.Teams {
		id := strings.TrimSpace(t.ID)
		if id == "" {
			return fmt.Errorf("config.teams contains empty team id")
		}
		if seen[id] {
			return fmt.Errorf("config.teams has duplicate team %s", id)
		}
		seen[id] = true
		if t.CapacityHours != nil && *t.CapacityHours < 0 {
			return fmt.Errorf("team %s has negative capacity_hours", id)
		}
	}
	return nil
}

// OperationTimeout is the deadline applied to operations whose context has none.
func (c *Config) OperationTimeout() time.Duration {
	d, err := time.ParseDuration(c.Engine.OperationTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskmesh.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	if err := ValidateSettings(raw); err != nil {
		return nil, err
	}
	cfg := Default()
	cfg.Teams = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `engine:
  operation_timeout: 10s
  default_task_priority: 3

analytics:
  # ratio used when no completed task has both an estimate and logged hours
  default_velocity: 1.0
  daily_throughput_hours: 8

matcher:
  urgent_within_days: 2
  soon_within_days: 7
  no_due_sentinel_days: 36500

teams: []
`
