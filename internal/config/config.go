// Package config provides unified configuration loading for dcesim.
// It supports loading from YAML files and DCESIM_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/nvandessel/choice-lab/internal/choice"
	"github.com/nvandessel/choice-lab/internal/gateway"
	"github.com/nvandessel/choice-lab/internal/logging"
	"github.com/nvandessel/choice-lab/internal/panel"
	"github.com/nvandessel/choice-lab/internal/simulation"
)

// EnvPrefix prefixes every environment override, e.g. DCESIM_SAMPLER_CHAINS.
const EnvPrefix = "DCESIM_"

// FileName is the config file looked up under ~/.dcesim.
const FileName = "config.yaml"

// DcesimConfig contains all dcesim configuration settings.
type DcesimConfig struct {
	// Simulation holds the default scenario for `dcesim simulate`.
	Simulation SimulationConfig `json:"simulation" yaml:"simulation" envPrefix:"SIMULATION_"`

	// Ingest controls how survey panels are loaded.
	Ingest IngestConfig `json:"ingest" yaml:"ingest" envPrefix:"INGEST_"`

	// Sampler configures model compilation and posterior sampling.
	Sampler SamplerConfig `json:"sampler" yaml:"sampler" envPrefix:"SAMPLER_"`

	// Store configures the run registry and record archives.
	Store StoreConfig `json:"store" yaml:"store" envPrefix:"STORE_"`

	// Logging contains settings for operational logging and run traces.
	Logging LoggingConfig `json:"logging" yaml:"logging" envPrefix:"LOG_"`
}

// SimulationConfig is the default synthetic panel.
type SimulationConfig struct {
	Respondents  int `json:"respondents" yaml:"respondents" env:"RESPONDENTS"`
	Tasks        int `json:"tasks" yaml:"tasks" env:"TASKS"`
	Alternatives int `json:"alternatives" yaml:"alternatives" env:"ALTERNATIVES"`
	Levels       int `json:"levels" yaml:"levels" env:"LEVELS"`
	Covariates   int `json:"covariates" yaml:"covariates" env:"COVARIATES"`

	// Seed is the master seed. 0 draws a fresh one per run.
	Seed uint64 `json:"seed" yaml:"seed" env:"SEED"`

	// Noise is "covariate" (default) or "alternative".
	Noise string `json:"noise" yaml:"noise" env:"NOISE"`

	// Holdout attaches a split of this many trailing tasks. 0 disables it.
	Holdout int `json:"holdout" yaml:"holdout" env:"HOLDOUT"`

	// Workers bounds respondent-level parallelism. 0 uses GOMAXPROCS.
	Workers int `json:"workers" yaml:"workers" env:"WORKERS"`
}

// Dims returns the configured panel dimensions.
func (s SimulationConfig) Dims() panel.Dims {
	return panel.Dims{R: s.Respondents, T: s.Tasks, A: s.Alternatives, L: s.Levels, C: s.Covariates}
}

// Scenario converts the section into a simulation scenario.
func (s SimulationConfig) Scenario(name string) (simulation.Scenario, error) {
	mode, err := choice.ParseNoiseMode(s.Noise)
	if err != nil {
		return simulation.Scenario{}, err
	}
	return simulation.Scenario{
		Name:    name,
		Dims:    s.Dims(),
		Seed:    s.Seed,
		Noise:   mode,
		Holdout: s.Holdout,
		Workers: s.Workers,
	}, nil
}

// IngestConfig configures survey loading.
type IngestConfig struct {
	// Holdout is the number of trailing tasks held out of survey panels.
	Holdout int `json:"holdout" yaml:"holdout" env:"HOLDOUT"`
}

// SamplerConfig configures CmdStan.
type SamplerConfig struct {
	// CmdStanHome is the CmdStan installation. Falls back to $CMDSTAN.
	CmdStanHome string `json:"cmdstan_home" yaml:"cmdstan_home" env:"CMDSTAN_HOME"`

	// CacheDir holds compiled model artifacts. Empty uses
	// ~/.dcesim/models.
	CacheDir string `json:"cache_dir,omitempty" yaml:"cache_dir,omitempty" env:"CACHE_DIR"`

	// ModelsDir holds user-supplied .stan sources that shadow the built-in
	// models.
	ModelsDir string `json:"models_dir,omitempty" yaml:"models_dir,omitempty" env:"MODELS_DIR"`

	Model    string `json:"model" yaml:"model" env:"MODEL"`
	Chains   int    `json:"chains" yaml:"chains" env:"CHAINS"`
	Warmup   int    `json:"warmup" yaml:"warmup" env:"WARMUP"`
	Samples  int    `json:"samples" yaml:"samples" env:"SAMPLES"`
	Seed     uint64 `json:"seed" yaml:"seed" env:"SEED"`
	Parallel int    `json:"parallel" yaml:"parallel" env:"PARALLEL"`

	// Timeout bounds a whole fit. 0 means no limit.
	Timeout time.Duration `json:"timeout" yaml:"timeout" env:"TIMEOUT"`

	// KeepOutput leaves CmdStan data and CSV files in the work directory.
	KeepOutput bool `json:"keep_output" yaml:"keep_output" env:"KEEP_OUTPUT"`
}

// Options converts the section into gateway fit options.
func (s SamplerConfig) Options() gateway.Options {
	return gateway.Options{
		Model:    s.Model,
		Chains:   s.Chains,
		Warmup:   s.Warmup,
		Samples:  s.Samples,
		Seed:     s.Seed,
		Parallel: s.Parallel,
	}
}

// StoreConfig configures persistence.
type StoreConfig struct {
	// Root is the project directory holding .dcesim. Empty uses the
	// --root flag or the working directory.
	Root string `json:"root,omitempty" yaml:"root,omitempty" env:"ROOT"`

	// KeepArchives is how many record archives to retain. 0 keeps all.
	KeepArchives int `json:"keep_archives" yaml:"keep_archives" env:"KEEP_ARCHIVES"`

	// MaxArchiveAge deletes archives older than this. 0 disables it.
	MaxArchiveAge time.Duration `json:"max_archive_age" yaml:"max_archive_age" env:"MAX_ARCHIVE_AGE"`
}

// LoggingConfig configures dcesim's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables run tracing to .dcesim/runs.jsonl.
	Level string `json:"level" yaml:"level" env:"LEVEL"`

	// Format is "text" (default), "json", or "pretty".
	Format string `json:"format" yaml:"format" env:"FORMAT"`
}

// Default returns a DcesimConfig with sensible defaults.
func Default() *DcesimConfig {
	fit := gateway.DefaultOptions()
	return &DcesimConfig{
		Simulation: SimulationConfig{
			Respondents:  simulation.DemoDims.R,
			Tasks:        simulation.DemoDims.T,
			Alternatives: simulation.DemoDims.A,
			Levels:       simulation.DemoDims.L,
			Covariates:   simulation.DemoDims.C,
			Noise:        string(choice.NoiseCovariate),
		},
		Ingest: IngestConfig{
			Holdout: panel.DefaultHoldout,
		},
		Sampler: SamplerConfig{
			Model:   fit.Model,
			Chains:  fit.Chains,
			Warmup:  fit.Warmup,
			Samples: fit.Samples,
		},
		Store: StoreConfig{
			KeepArchives: 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: logging.FormatText,
		},
	}
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ~/.dcesim/config.yaml -> environment variables
func Load() (*DcesimConfig, error) {
	config := Default()

	homeDir, err := os.UserHomeDir()
	if err == nil {
		configPath := filepath.Join(homeDir, ".dcesim", FileName)
		if _, statErr := os.Stat(configPath); statErr == nil {
			fileConfig, loadErr := LoadFromFile(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			config = fileConfig
		}
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*DcesimConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.Sampler.CmdStanHome = expandEnvVars(config.Sampler.CmdStanHome)
	config.Sampler.CacheDir = expandEnvVars(config.Sampler.CacheDir)
	config.Sampler.ModelsDir = expandEnvVars(config.Sampler.ModelsDir)
	config.Store.Root = expandEnvVars(config.Store.Root)

	return config, nil
}

// Validate checks that the configuration is valid.
func (c *DcesimConfig) Validate() error {
	if err := c.Simulation.Dims().Validate(); err != nil {
		return fmt.Errorf("simulation: %w", err)
	}
	if _, err := choice.ParseNoiseMode(c.Simulation.Noise); err != nil {
		return fmt.Errorf("simulation: %w", err)
	}
	if h := c.Simulation.Holdout; h < 0 || (h > 0 && h >= c.Simulation.Tasks) {
		return fmt.Errorf("simulation: holdout must be between 0 and tasks-1, got %d", h)
	}
	if c.Simulation.Workers < 0 {
		return fmt.Errorf("simulation: workers must not be negative, got %d", c.Simulation.Workers)
	}

	if c.Ingest.Holdout < 0 {
		return fmt.Errorf("ingest: holdout must not be negative, got %d", c.Ingest.Holdout)
	}

	if err := c.Sampler.Options().Validate(); err != nil {
		return fmt.Errorf("sampler: %w", err)
	}
	if c.Sampler.Timeout < 0 {
		return fmt.Errorf("sampler: timeout must be non-negative, got %v", c.Sampler.Timeout)
	}

	if c.Store.KeepArchives < 0 {
		return fmt.Errorf("store: keep_archives must not be negative, got %d", c.Store.KeepArchives)
	}
	if c.Store.MaxArchiveAge < 0 {
		return fmt.Errorf("store: max_archive_age must be non-negative, got %v", c.Store.MaxArchiveAge)
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}
	validFormats := map[string]bool{logging.FormatText: true, logging.FormatJSON: true, logging.FormatPretty: true}
	if c.Logging.Format != "" && !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: text, json, pretty)", c.Logging.Format)
	}

	return nil
}

// CmdStanHome returns the configured CmdStan directory, falling back to the
// CMDSTAN variable CmdStan's own tooling uses.
func (c *DcesimConfig) CmdStanHome() string {
	if c.Sampler.CmdStanHome != "" {
		return c.Sampler.CmdStanHome
	}
	return os.Getenv("CMDSTAN")
}

// applyEnvOverrides overlays DCESIM_* variables onto config. Unset
// variables leave the current value alone.
func applyEnvOverrides(config *DcesimConfig) error {
	if err := env.ParseWithOptions(config, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
