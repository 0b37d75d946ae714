package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Transport: "http",
			HTTPPort:  8080,
		},
		Sandbox: SandboxConfig{
			Backend:         "docker",
			ImageName:       "instantgrade-runner",
			BuildContext:    "./images/python",
			MaxWallClockSec: 120,
			MaxCPUSeconds:   60,
			MaxMemory:       "512MB",
			MaxOutput:       "4MB",
		},
		Grading: GradingConfig{
			WorkerCount:                 4,
			RetryInfrastructureFailures: 1,
		},
		Logging: LoggingConfig{
			Mode:  "production",
			Level: "info",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		err := validConfig().validate()
		require.NoError(t, err)
	})

	t.Run("InvalidServerTransport", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.Transport = "invalid"
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server.transport")
	})

	t.Run("InvalidWallClock", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.MaxWallClockSec = 0
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max_wall_clock_sec must be positive")
	})

	t.Run("NegativeCPUSeconds", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.MaxCPUSeconds = -1
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max_cpu_seconds")
	})

	t.Run("InvalidMemorySize", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.MaxMemory = "lots"
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max_memory")
	})

	t.Run("InvalidOutputSize", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.MaxOutput = "-3MB"
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max_output")
	})

	t.Run("NegativeWorkerCount", func(t *testing.T) {
		cfg := validConfig()
		cfg.Grading.WorkerCount = -2
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "worker_count")
	})

	t.Run("NegativeRetries", func(t *testing.T) {
		cfg := validConfig()
		cfg.Grading.RetryInfrastructureFailures = -1
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "retry_infrastructure_failures")
	})

	t.Run("LocalBackendDisabled", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.Backend = "local"
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported sandbox.backend")
	})

	t.Run("LocalBackendEnabled", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.Backend = "local"
		cfg.Sandbox.EnableLocalBackend = true
		err := cfg.validate()
		require.NoError(t, err)
	})

	t.Run("PodmanBackend", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.Backend = "podman"
		err := cfg.validate()
		require.NoError(t, err)
	})
}

func TestConfigLimits(t *testing.T) {
	cfg := validConfig()
	limits := cfg.Limits()
	assert.Equal(t, 120*time.Second, limits.MaxWallClock)
	assert.Equal(t, int64(60), limits.MaxCPUSeconds)
	assert.Equal(t, int64(512*1024*1024), limits.MaxMemoryBytes)
	assert.Equal(t, int64(4*1024*1024), limits.MaxOutputBytes)
}

func TestConfigSandboxOptions(t *testing.T) {
	cfg := validConfig()
	cfg.Sandbox.ForceRebuild = true
	opts := cfg.SandboxOptions()
	assert.Equal(t, "docker", opts.Backend)
	assert.Equal(t, "instantgrade-runner", opts.ImageName)
	assert.Equal(t, "./images/python", opts.BuildContext)
	assert.True(t, opts.ForceRebuild)
}

func TestConfigGraderConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Grading.StopOnCellError = true
	cfg.Grading.PerCellTimeoutMs = 1500

	gc := cfg.GraderConfig()
	assert.Equal(t, 4, gc.WorkerCount)
	assert.Equal(t, 1, gc.RetryInfrastructureFailures)
	assert.True(t, gc.StopOnCellError)
	assert.Equal(t, 1500*time.Millisecond, gc.PerCellTimeout)
	assert.Equal(t, 120*time.Second, gc.Limits.MaxWallClock)
}
