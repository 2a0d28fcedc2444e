// ABOUTME: Engine configuration loaded from file, environment, and defaults
// ABOUTME: Uses viper with the WEFT_ prefix so every setting has an env override

package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/weftwork/weft/pkg/types"
)

// Config is the resolved engine configuration
type Config struct {
	// LogLevel is one of debug, info, warn, error
	LogLevel string `mapstructure:"log_level"`
	// LogFormat is console or json
	LogFormat string `mapstructure:"log_format"`

	// DatabasePath is the SQLite file backing execution history
	DatabasePath string `mapstructure:"database_path"`
	// DefinitionsDir holds workflow and task definition YAML files
	DefinitionsDir string `mapstructure:"definitions_dir"`

	// MaxWorkflowConcurrency bounds concurrent tasks across all executions
	MaxWorkflowConcurrency int `mapstructure:"max_workflow_concurrency"`
	// EventQueueSize bounds each event subscriber's buffer
	EventQueueSize int `mapstructure:"event_queue_size"`

	// Listen is the HTTP server bind address
	Listen string `mapstructure:"listen"`

	// SchedulerEnabled starts the cron trigger loop in serve mode
	SchedulerEnabled bool `mapstructure:"scheduler_enabled"`

	// Environment is the base environment layered under every workflow
	Environment map[string]string `mapstructure:"environment"`
}

// Load reads configuration from an optional file path, WEFT_ environment
// variables, and defaults, in descending precedence.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("database_path", "weft.db")
	v.SetDefault("definitions_dir", "")
	v.SetDefault("max_workflow_concurrency", types.DefaultWorkflowConcurrency)
	v.SetDefault("event_queue_size", 256)
	v.SetDefault("listen", ":8080")
	v.SetDefault("scheduler_enabled", false)

	v.SetEnvPrefix("WEFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("weft")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/weft")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces configuration bounds
func (c *Config) Validate() error {
	if _, err := types.ValidateConcurrency(c.MaxWorkflowConcurrency); err != nil {
		return fmt.Errorf("max_workflow_concurrency: %w", err)
	}
	if c.EventQueueSize < 0 {
		return fmt.Errorf("event_queue_size cannot be negative, got %d", c.EventQueueSize)
	}
	switch c.LogFormat {
	case "", "console", "json":
	default:
		return fmt.Errorf("log_format must be console or json, got %q", c.LogFormat)
	}
	return nil
}
