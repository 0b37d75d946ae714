package sandbox

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// PodmanOrchestrator provisions sandboxes as one-shot Podman containers
// through the podman CLI. Behavior matches the Docker backend; the CLI seam
// (CommandRunner) keeps it testable without a container engine.
type PodmanOrchestrator struct {
	logger   *zap.Logger
	provider ImageProvider
	runner   CommandRunner
	fs       FileSystem

	forceRebuild bool
}

// PodmanOrchestratorOption defines a functional option for PodmanOrchestrator
type PodmanOrchestratorOption func(*PodmanOrchestrator)

// WithPodmanCommandRunner sets the CommandRunner for PodmanOrchestrator
func WithPodmanCommandRunner(runner CommandRunner) PodmanOrchestratorOption {
	return func(p *PodmanOrchestrator) {
		p.runner = runner
	}
}

// WithPodmanFileSystem sets the FileSystem for PodmanOrchestrator
func WithPodmanFileSystem(fs FileSystem) PodmanOrchestratorOption {
	return func(p *PodmanOrchestrator) {
		p.fs = fs
	}
}

// WithPodmanForceRebuild forwards forceRebuild=true on every EnsureImage call.
func WithPodmanForceRebuild(force bool) PodmanOrchestratorOption {
	return func(p *PodmanOrchestrator) {
		p.forceRebuild = force
	}
}

// NewPodmanOrchestrator creates a Podman-backed orchestrator.
func NewPodmanOrchestrator(logger *zap.Logger, provider ImageProvider, opts ...PodmanOrchestratorOption) *PodmanOrchestrator {
	p := &PodmanOrchestrator{
		logger:   logger,
		provider: provider,
		runner:   &RealCommandRunner{},
		fs:       &RealFileSystem{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Acquire ensures the execution image is current and provisions a fresh
// handle.
func (p *PodmanOrchestrator) Acquire(ctx context.Context) (*Handle, error) {
	image, err := p.provider.EnsureImage(ctx, p.forceRebuild)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure image: %w", err)
	}

	workdir, err := p.fs.MkdirTemp("", "instantgrade-sandbox-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox workdir: %w", err)
	}

	h := newHandle(image, workdir)
	h.setState(StateReady)
	p.logger.Debug("sandbox acquired",
		zap.String("handle", h.ID),
		zap.String("image", string(image)))
	return h, nil
}

// Run executes spec.Command in a one-shot container with security
// restrictions, enforcing the wall-clock deadline with a forced stop.
func (p *PodmanOrchestrator) Run(ctx context.Context, h *Handle, spec RunSpec) (RawOutput, error) {
	if h.State() != StateReady {
		return RawOutput{}, fmt.Errorf("handle %s is %s, want %s", h.ID, h.State(), StateReady)
	}
	if spec.Limits.MaxWallClock <= 0 {
		return RawOutput{}, fmt.Errorf("run requires a positive wall-clock limit")
	}

	if err := materializeFiles(p.fs, h.Workdir, spec.Files); err != nil {
		return RawOutput{}, err
	}

	containerName := "instantgrade-" + h.ID
	cmdArgs := []string{
		"podman", "run",
		"--name", containerName,
		"--rm",
		"-v", fmt.Sprintf("%s:%s", h.Workdir, WorkdirMount),
		"--workdir", WorkdirMount,
		"--network", "none",
		"--security-opt", "no-new-privileges:true",
		"--cap-drop", "ALL",
	}
	if spec.Limits.MaxMemoryBytes > 0 {
		cmdArgs = append(cmdArgs, "--memory", fmt.Sprintf("%db", spec.Limits.MaxMemoryBytes))
	}
	if spec.Limits.MaxCPUSeconds > 0 {
		cmdArgs = append(cmdArgs, "--ulimit", fmt.Sprintf("cpu=%d", spec.Limits.MaxCPUSeconds))
	}
	cmdArgs = append(cmdArgs, string(h.Image))
	cmdArgs = append(cmdArgs, spec.Command...)

	runCtx, cancel := context.WithTimeout(ctx, spec.Limits.MaxWallClock)
	defer cancel()

	h.setState(StateRunning)
	start := time.Now()
	stdout, stderr, exitCode, err := p.runner.RunCommand(runCtx, cmdArgs)
	duration := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		// --rm removes the container once stopped.
		if _, _, _, stopErr := p.runner.RunCommand(context.Background(), []string{"podman", "stop", containerName}); stopErr != nil {
			p.logger.Warn("failed to stop container after timeout",
				zap.String("container", containerName),
				zap.Error(stopErr))
		}
		h.setState(StateTimedOut)
		cappedOut, outCut := truncateTo(stdout, spec.Limits.MaxOutputBytes)
		cappedErr, errCut := truncateTo(stderr, spec.Limits.MaxOutputBytes)
		return RawOutput{
			Stdout:    cappedOut,
			Stderr:    cappedErr,
			ExitCode:  -1,
			TimedOut:  true,
			Truncated: outCut || errCut,
			Duration:  duration,
		}, nil
	}
	if err != nil {
		h.setState(StateCrashed)
		return RawOutput{}, fmt.Errorf("failed to execute container: %w", err)
	}

	if exitCode == 0 {
		h.setState(StateReady)
	} else {
		h.setState(StateCrashed)
	}

	cappedOut, outCut := truncateTo(stdout, spec.Limits.MaxOutputBytes)
	cappedErr, errCut := truncateTo(stderr, spec.Limits.MaxOutputBytes)
	return RawOutput{
		Stdout:    cappedOut,
		Stderr:    cappedErr,
		ExitCode:  exitCode,
		Truncated: outCut || errCut,
		Duration:  duration,
	}, nil
}

// ReadArtifact reads a file the sandboxed program left in the workdir.
func (p *PodmanOrchestrator) ReadArtifact(h *Handle, relpath string) ([]byte, error) {
	return readWorkdirFile(p.fs, h, relpath)
}

// Release reclaims the handle's workdir. Idempotent.
func (p *PodmanOrchestrator) Release(h *Handle) error {
	return releaseHandle(p.logger, p.fs, h)
}
