// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Estimation by Simulation: OLS, IV and the Power of the t-Test
// Class: 02-613 at Carnegie Mellon University

// Package config loads ivsim experiment settings from a YAML file, an optional
// .env file and IVSIM_* environment variables, in that order of precedence
// (later sources win).
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ivsim"
)

// Environment variables that override file settings
const (
	EnvSeed        = "IVSIM_SEED"
	EnvRepetitions = "IVSIM_REPETITIONS"
	EnvWorkers     = "IVSIM_WORKERS"
	EnvLogLevel    = "IVSIM_LOG_LEVEL"
	EnvOutputDir   = "IVSIM_OUTPUT_DIR"
)

// Config is the full experiment configuration.
type Config struct {
	// Seed fixes every random draw of a run
	Seed int64 `yaml:"seed"`

	// Repetitions per simulation run
	Repetitions int `yaml:"repetitions" validate:"gte=1"`

	// Workers for the simulation loops (0 = number of CPUs)
	Workers int `yaml:"workers" validate:"gte=0"`

	// LogLevel is one of error, warn, info, debug, trace
	LogLevel string `yaml:"log_level" validate:"oneof=error warn info debug trace"`

	// ConfidenceLevel of the simulated t-test; 0.95 uses the 1.96 cutoff
	ConfidenceLevel float64 `yaml:"confidence_level" validate:"gt=0,lt=1"`

	// OutputDir receives CSV output
	OutputDir string `yaml:"output_dir" validate:"required"`

	OLS   OLSConfig   `yaml:"ols"`
	IV    IVConfig    `yaml:"iv"`
	Power PowerConfig `yaml:"power"`
}

// OLSConfig describes the OLS design
type OLSConfig struct {
	SampleSize int     `yaml:"sample_size" validate:"gte=2"`
	Intercept  float64 `yaml:"intercept"`
	Slope      float64 `yaml:"slope"`
}

// IVConfig describes the IV design
type IVConfig struct {
	SampleSize         int     `yaml:"sample_size" validate:"gte=2"`
	TrueCoefficient    float64 `yaml:"true_coefficient"`
	FirstStageStrength float64 `yaml:"first_stage_strength" validate:"gte=0"`
	Endogeneity        float64 `yaml:"endogeneity" validate:"gte=-1,lte=1"`
}

// PowerConfig describes the coefficient grid of the power curve
type PowerConfig struct {
	From float64 `yaml:"from"`
	To   float64 `yaml:"to" validate:"gtefield=From"`
	Step float64 `yaml:"step" validate:"gt=0"`
}

// Default returns the built-in settings
func Default() *Config {
	return &Config{
		Seed:        42,
		Repetitions: ivsim.DefaultRepetitions,
		Workers:     runtime.NumCPU(),
		LogLevel:        "info",
		ConfidenceLevel: 0.95,
		OutputDir:       "output",
		OLS: OLSConfig{
			SampleSize: 1000,
			Intercept:  24,
			Slope:      8,
		},
		IV: IVConfig{
			SampleSize:         1000,
			TrueCoefficient:    0,
			FirstStageStrength: 10,
			Endogeneity:        0.5,
		},
		Power: PowerConfig{
			From: -2,
			To:   2,
			Step: 0.1,
		},
	}
}

// Load builds the configuration. path may be empty (defaults only); envFile
// may be empty or point to a missing file, in which case it is skipped.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("loading %s: %w", envFile, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvSeed); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvSeed, err)
		}
		c.Seed = seed
	}
	if v := os.Getenv(EnvRepetitions); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRepetitions, err)
		}
		c.Repetitions = n
	}
	if v := os.Getenv(EnvWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvWorkers, err)
		}
		c.Workers = n
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvOutputDir); v != "" {
		c.OutputDir = v
	}
	return nil
}

// Validate checks field constraints
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// OLSParams converts the OLS section
func (c *Config) OLSParams() ivsim.OLSParams {
	return ivsim.OLSParams{
		SampleSize: c.OLS.SampleSize,
		Intercept:  c.OLS.Intercept,
		Slope:      c.OLS.Slope,
	}
}

// IVParams converts the IV section
func (c *Config) IVParams() ivsim.IVParams {
	return ivsim.IVParams{
		SampleSize:         c.IV.SampleSize,
		TrueCoefficient:    c.IV.TrueCoefficient,
		FirstStageStrength: c.IV.FirstStageStrength,
		Endogeneity:        c.IV.Endogeneity,
	}
}

// Grid expands the power section into coefficient values
func (c *Config) Grid() ([]float64, error) {
	return ivsim.Grid(c.Power.From, c.Power.To, c.Power.Step)
}

// SimulationOptions returns the options shared by runners and power curves
func (c *Config) SimulationOptions() ivsim.SimulationOptions {
	return ivsim.SimulationOptions{
		Seed:            c.Seed,
		Workers:         c.Workers,
		Repetitions:     c.Repetitions,
		ConfidenceLevel: c.ConfidenceLevel,
	}
}
