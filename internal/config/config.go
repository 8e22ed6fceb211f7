// Package config holds the immutable configuration snapshot the pipeline is
// constructed from. All numeric thresholds used by the gates live here;
// changing them requires building a new orchestrator.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the full application configuration. One snapshot is taken per
// orchestrator instance.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Database    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	Constraints ConstraintsConfig `mapstructure:"constraints" yaml:"constraints"`
	Simulation  SimulationConfig  `mapstructure:"simulation" yaml:"simulation"`
	Reliability ReliabilityConfig `mapstructure:"reliability" yaml:"reliability"`
	Approval    ApprovalConfig    `mapstructure:"approval" yaml:"approval"`
	Engine      EngineConfig      `mapstructure:"engine" yaml:"engine"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// DatabaseConfig holds the connection details for the persistence sink.
// An empty URL disables persistence entirely.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// ConstraintsConfig supplies the default constraint set applied to plans.
type ConstraintsConfig struct {
	TimeLimit      int64    `mapstructure:"time_limit" yaml:"time_limit"` // seconds
	Budget         float64  `mapstructure:"budget" yaml:"budget"`
	Permissions    []string `mapstructure:"permissions" yaml:"permissions"`
	RegulationTags []string `mapstructure:"regulation_tags" yaml:"regulation_tags"`
	// SoftTimeLimit marks the time constraint as advisory instead of hard.
	SoftTimeLimit bool `mapstructure:"soft_time_limit" yaml:"soft_time_limit"`
}

// SimulationConfig tunes the scenario simulator.
type SimulationConfig struct {
	Depth    int `mapstructure:"depth" yaml:"depth"`
	NumPaths int `mapstructure:"num_paths" yaml:"num_paths"`
	// Seed forces deterministic scenario generation when non-zero; otherwise
	// the simulator derives a stable seed from the plan id.
	Seed int64 `mapstructure:"seed" yaml:"seed"`
}

// ReliabilityConfig tunes the tool health monitor.
type ReliabilityConfig struct {
	Threshold            float64       `mapstructure:"threshold" yaml:"threshold"`
	PerformanceThreshold time.Duration `mapstructure:"performance_threshold" yaml:"performance_threshold"`
	DriftPercent         float64       `mapstructure:"drift_percent" yaml:"drift_percent"`
	SmoothingAlpha       float64       `mapstructure:"smoothing_alpha" yaml:"smoothing_alpha"`
	BaselineSamples      int64         `mapstructure:"baseline_samples" yaml:"baseline_samples"`
}

// ApprovalConfig tunes the human approval gate.
type ApprovalConfig struct {
	HighCostThreshold     float64       `mapstructure:"high_cost_threshold" yaml:"high_cost_threshold"`
	LongDurationThreshold int64         `mapstructure:"long_duration_threshold" yaml:"long_duration_threshold"` // seconds
	LowSuccessThreshold   float64       `mapstructure:"low_success_threshold" yaml:"low_success_threshold"`
	Timeout               time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// DefaultOnTimeout is applied when no decision arrives in time.
	DefaultOnTimeout bool `mapstructure:"default_on_timeout" yaml:"default_on_timeout"`
	// AutoApprove bypasses the human entirely. Dangerous; logged loudly.
	AutoApprove bool `mapstructure:"auto_approve" yaml:"auto_approve"`
}

// EngineConfig configures the step execution engine.
type EngineConfig struct {
	WorkerConcurrency int           `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
	StepTimeout       time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
	ContinueOnFailure bool          `mapstructure:"continue_on_failure" yaml:"continue_on_failure"`
	// StepRateLimit caps step dispatch per second; 0 disables limiting.
	StepRateLimit float64 `mapstructure:"step_rate_limit" yaml:"step_rate_limit"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "tether-cli")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Constraints --
	v.SetDefault("constraints.time_limit", 3600)
	v.SetDefault("constraints.budget", 100.0)
	v.SetDefault("constraints.permissions", []string{"read"})
	v.SetDefault("constraints.regulation_tags", []string{})
	v.SetDefault("constraints.soft_time_limit", false)

	// -- Simulation --
	v.SetDefault("simulation.depth", 3)
	v.SetDefault("simulation.num_paths", 3)
	v.SetDefault("simulation.seed", 0)

	// -- Reliability --
	v.SetDefault("reliability.threshold", 0.85)
	v.SetDefault("reliability.performance_threshold", "5s")
	v.SetDefault("reliability.drift_percent", 15.0)
	v.SetDefault("reliability.smoothing_alpha", 0.1)
	v.SetDefault("reliability.baseline_samples", 5)

	// -- Approval --
	v.SetDefault("approval.high_cost_threshold", 50.0)
	v.SetDefault("approval.long_duration_threshold", 7200)
	v.SetDefault("approval.low_success_threshold", 0.5)
	v.SetDefault("approval.timeout", "30m")
	v.SetDefault("approval.default_on_timeout", false)
	v.SetDefault("approval.auto_approve", false)

	// -- Engine --
	v.SetDefault("engine.worker_concurrency", 4)
	v.SetDefault("engine.step_timeout", "5m")
	v.SetDefault("engine.continue_on_failure", false)
	v.SetDefault("engine.step_rate_limit", 0.0)
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults are static; failing to unmarshal them is a programming error.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	if c.Constraints.TimeLimit < 0 {
		return fmt.Errorf("constraints.time_limit must not be negative")
	}
	if c.Constraints.Budget < 0 {
		return fmt.Errorf("constraints.budget must not be negative")
	}
	if c.Simulation.NumPaths <= 0 {
		return fmt.Errorf("simulation.num_paths must be a positive integer")
	}
	if c.Simulation.Depth < 0 {
		return fmt.Errorf("simulation.depth must not be negative")
	}
	if c.Reliability.Threshold < 0 || c.Reliability.Threshold > 1 {
		return fmt.Errorf("reliability.threshold must be between 0.0 and 1.0")
	}
	if c.Reliability.SmoothingAlpha <= 0 || c.Reliability.SmoothingAlpha > 1 {
		return fmt.Errorf("reliability.smoothing_alpha must be in (0.0, 1.0]")
	}
	if c.Approval.LowSuccessThreshold < 0 || c.Approval.LowSuccessThreshold > 1 {
		return fmt.Errorf("approval.low_success_threshold must be between 0.0 and 1.0")
	}
	if c.Engine.WorkerConcurrency <= 0 {
		return fmt.Errorf("engine.worker_concurrency must be a positive integer")
	}
	return nil
}
