package config

import (
	"fmt"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/viper"

	"github.com/chandraveshchaudhari/instantgrade/grader"
	"github.com/chandraveshchaudhari/instantgrade/sandbox"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Sandbox SandboxConfig `mapstructure:"sandbox"`
	Grading GradingConfig `mapstructure:"grading"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
}

// SandboxConfig holds sandbox configuration. MaxMemory and MaxOutput accept
// humanized sizes like "512MB".
type SandboxConfig struct {
	Backend            string `mapstructure:"backend"`
	ImageName          string `mapstructure:"image_name"`
	BuildContext       string `mapstructure:"build_context"`
	MaxWallClockSec    int    `mapstructure:"max_wall_clock_sec"`
	MaxCPUSeconds      int    `mapstructure:"max_cpu_seconds"`
	MaxMemory          string `mapstructure:"max_memory"`
	MaxOutput          string `mapstructure:"max_output"`
	EnableLocalBackend bool   `mapstructure:"enable_local_backend"`
	ForceRebuild       bool   `mapstructure:"force_rebuild"`
}

// GradingConfig holds grading coordinator configuration
type GradingConfig struct {
	WorkerCount                 int  `mapstructure:"worker_count"`
	StopOnCellError             bool `mapstructure:"stop_on_cell_error"`
	PerCellTimeoutMs            int  `mapstructure:"per_cell_timeout_ms"`
	RetryInfrastructureFailures int  `mapstructure:"retry_infrastructure_failures"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// New loads and validates the application configuration
func New() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Set default values
	viper.SetDefault("server.transport", "stdio")
	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("sandbox.backend", "docker")
	viper.SetDefault("sandbox.image_name", "instantgrade-runner")
	viper.SetDefault("sandbox.build_context", "./images/python")
	viper.SetDefault("sandbox.max_wall_clock_sec", 120)
	viper.SetDefault("sandbox.max_cpu_seconds", 60)
	viper.SetDefault("sandbox.max_memory", "512MB")
	viper.SetDefault("sandbox.max_output", "4MB")
	viper.SetDefault("sandbox.enable_local_backend", false)
	viper.SetDefault("sandbox.force_rebuild", false)
	viper.SetDefault("grading.worker_count", 0)
	viper.SetDefault("grading.stop_on_cell_error", true)
	viper.SetDefault("grading.per_cell_timeout_ms", 0)
	viper.SetDefault("grading.retry_infrastructure_failures", 1)
	viper.SetDefault("logging.mode", "production")
	viper.SetDefault("logging.level", "info")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Sandbox.MaxWallClockSec <= 0 {
		return fmt.Errorf("sandbox.max_wall_clock_sec must be positive, got: %d", c.Sandbox.MaxWallClockSec)
	}

	if c.Sandbox.MaxCPUSeconds < 0 {
		return fmt.Errorf("sandbox.max_cpu_seconds must not be negative, got: %d", c.Sandbox.MaxCPUSeconds)
	}

	if _, err := units.RAMInBytes(c.Sandbox.MaxMemory); err != nil {
		return fmt.Errorf("invalid sandbox.max_memory %q: %w", c.Sandbox.MaxMemory, err)
	}

	if _, err := units.RAMInBytes(c.Sandbox.MaxOutput); err != nil {
		return fmt.Errorf("invalid sandbox.max_output %q: %w", c.Sandbox.MaxOutput, err)
	}

	if c.Grading.WorkerCount < 0 {
		return fmt.Errorf("grading.worker_count must not be negative, got: %d", c.Grading.WorkerCount)
	}

	if c.Grading.RetryInfrastructureFailures < 0 {
		return fmt.Errorf("grading.retry_infrastructure_failures must not be negative, got: %d", c.Grading.RetryInfrastructureFailures)
	}

	supportedBackends := map[string]bool{
		"docker": true,
		"podman": true,
		"local":  c.Sandbox.EnableLocalBackend, // local only enabled if specifically allowed
	}

	if !supportedBackends[c.Sandbox.Backend] {
		return fmt.Errorf("unsupported sandbox.backend: %s", c.Sandbox.Backend)
	}

	return nil
}

// Limits translates the sandbox section into resource limits for a run.
func (c *Config) Limits() sandbox.Limits {
	memory, _ := units.RAMInBytes(c.Sandbox.MaxMemory)
	output, _ := units.RAMInBytes(c.Sandbox.MaxOutput)
	return sandbox.Limits{
		MaxWallClock:   time.Duration(c.Sandbox.MaxWallClockSec) * time.Second,
		MaxCPUSeconds:  int64(c.Sandbox.MaxCPUSeconds),
		MaxMemoryBytes: memory,
		MaxOutputBytes: output,
	}
}

// SandboxOptions translates the sandbox section into orchestrator options.
func (c *Config) SandboxOptions() sandbox.Options {
	return sandbox.Options{
		Backend:            c.Sandbox.Backend,
		ImageName:          c.Sandbox.ImageName,
		BuildContext:       c.Sandbox.BuildContext,
		EnableLocalBackend: c.Sandbox.EnableLocalBackend,
		ForceRebuild:       c.Sandbox.ForceRebuild,
	}
}

// GraderConfig translates the grading section into coordinator configuration.
func (c *Config) GraderConfig() grader.Config {
	return grader.Config{
		WorkerCount:                 c.Grading.WorkerCount,
		RetryInfrastructureFailures: c.Grading.RetryInfrastructureFailures,
		StopOnCellError:             c.Grading.StopOnCellError,
		PerCellTimeout:              time.Duration(c.Grading.PerCellTimeoutMs) * time.Millisecond,
		Limits:                      c.Limits(),
	}
}
