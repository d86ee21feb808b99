// Package config loads engine configuration from a YAML file layered over
// built-in defaults, with a small set of environment overrides for the knobs
// that differ between deployments.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	// DataDir holds the state file, backups, logs and the audit database.
	DataDir string `yaml:"data_dir"`

	Logging     LoggingConfig     `yaml:"logging"`
	Resources   ResourceConfig    `yaml:"resources"`
	Tiers       TierConfig        `yaml:"tiers"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
}

// LoggingConfig controls category logging.
type LoggingConfig struct {
	Debug bool `yaml:"debug"`
}

// ResourceConfig describes the shared pool the allocator schedules over.
type ResourceConfig struct {
	// Capacity is the total pool per resource dimension.
	Capacity map[string]float64 `yaml:"capacity"`
	// CriticalFloor is the guaranteed minimum deducted first for every
	// CRITICAL-priority goal, per dimension.
	CriticalFloor map[string]float64 `yaml:"critical_floor"`
	// Exclusive lists dimensions where any two requesters conflict
	// (single-occupancy slots such as a location).
	Exclusive []string `yaml:"exclusive"`
}

// TierConfig carries the response-time budgets of the four plan providers.
type TierConfig struct {
	CachedMillis    int `yaml:"cached_millis"`
	RuleBasedMillis int `yaml:"rule_based_millis"`
	LearnedMillis   int `yaml:"learned_millis"`
	StrategicMillis int `yaml:"strategic_millis"`

	// LearnedConfidenceMin gates the learned tier.
	LearnedConfidenceMin float64 `yaml:"learned_confidence_min"`
}

// PersistenceConfig controls the state document and backup rotation.
type PersistenceConfig struct {
	StateFile       string `yaml:"state_file"`
	BackupRetention int    `yaml:"backup_retention"`
}

// CoordinatorConfig controls multi-goal dispatch.
type CoordinatorConfig struct {
	// MaxConcurrentGoals bounds goals in flight; 1 reproduces strictly
	// sequential priority-order execution.
	MaxConcurrentGoals int `yaml:"max_concurrent_goals"`
	LookbackDays       int `yaml:"lookback_days"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir: ".goalforge",
		Resources: ResourceConfig{
			Capacity: map[string]float64{
				"api_calls_per_min": 60,
				"cpu_percent":       80,
				"memory_mb":         2048,
				"potions":           500,
				"currency":          1000000,
				"location_slots":    1,
			},
			CriticalFloor: map[string]float64{
				"api_calls_per_min": 10,
				"cpu_percent":       20,
				"memory_mb":         512,
				"potions":           50,
				"currency":          10000,
			},
			Exclusive: []string{"location_slots"},
		},
		Tiers: TierConfig{
			CachedMillis:         10,
			RuleBasedMillis:      100,
			LearnedMillis:        500,
			StrategicMillis:      5000,
			LearnedConfidenceMin: 0.85,
		},
		Persistence: PersistenceConfig{
			StateFile:       "goals_state.json",
			BackupRetention: 10,
		},
		Coordinator: CoordinatorConfig{
			MaxConcurrentGoals: 1,
			LookbackDays:       30,
		},
	}
}

// Load reads a YAML file over the defaults. A missing path returns defaults;
// a present but unreadable or malformed file is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				applyEnv(cfg)
				return cfg, nil
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

// applyEnv layers GOALFORGE_* environment overrides on top.
func applyEnv(cfg *Config) {
	if v := os.Getenv("GOALFORGE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("GOALFORGE_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Logging.Debug = b
		}
	}
	if v := os.Getenv("GOALFORGE_MAX_CONCURRENT_GOALS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Coordinator.MaxConcurrentGoals = n
		}
	}
}
