package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// LocalOrchestrator runs submission programs directly on the host (for
// development only). It provides no containment beyond the wall-clock
// deadline and output caps, and is gated behind explicit configuration.
type LocalOrchestrator struct {
	logger *zap.Logger
	fs     FileSystem
}

// LocalOrchestratorOption defines a functional option for LocalOrchestrator
type LocalOrchestratorOption func(*LocalOrchestrator)

// WithLocalFileSystem sets the FileSystem for LocalOrchestrator
func WithLocalFileSystem(fs FileSystem) LocalOrchestratorOption {
	return func(l *LocalOrchestrator) {
		l.fs = fs
	}
}

// NewLocalOrchestrator creates a host-process orchestrator.
func NewLocalOrchestrator(logger *zap.Logger, opts ...LocalOrchestratorOption) *LocalOrchestrator {
	l := &LocalOrchestrator{
		logger: logger,
		fs:     &RealFileSystem{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire provisions a fresh handle with a private workdir. No image is
// built: the host environment is the execution environment.
func (l *LocalOrchestrator) Acquire(_ context.Context) (*Handle, error) {
	workdir, err := l.fs.MkdirTemp("", "instantgrade-sandbox-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox workdir: %w", err)
	}

	h := newHandle(ImageRef("local:host"), workdir)
	h.setState(StateReady)
	l.logger.Debug("local sandbox acquired", zap.String("handle", h.ID))
	return h, nil
}

// Run executes spec.Command as a host process in the handle workdir.
func (l *LocalOrchestrator) Run(ctx context.Context, h *Handle, spec RunSpec) (RawOutput, error) {
	if h.State() != StateReady {
		return RawOutput{}, fmt.Errorf("handle %s is %s, want %s", h.ID, h.State(), StateReady)
	}
	if spec.Limits.MaxWallClock <= 0 {
		return RawOutput{}, fmt.Errorf("run requires a positive wall-clock limit")
	}
	if len(spec.Command) == 0 {
		return RawOutput{}, fmt.Errorf("run requires a command")
	}

	if err := materializeFiles(l.fs, h.Workdir, spec.Files); err != nil {
		return RawOutput{}, err
	}

	runCtx, cancel := context.WithTimeout(ctx, spec.Limits.MaxWallClock)
	defer cancel()

	cmd := exec.CommandContext(runCtx, spec.Command[0], spec.Command[1:]...) //nolint:gosec // The command is engine-generated, not user input
	cmd.Dir = h.Workdir

	// The submission runs in its own process group so the deadline kills
	// grandchildren too; otherwise a spawned subprocess holds the output
	// pipes open and Wait blocks past the wall clock. WaitDelay bounds the
	// pipe drain for anything that survives the group kill.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = time.Second

	stdoutBuf := newCappedBuffer(spec.Limits.MaxOutputBytes)
	stderrBuf := newCappedBuffer(spec.Limits.MaxOutputBytes)
	cmd.Stdout = stdoutBuf
	cmd.Stderr = stderrBuf

	h.setState(StateRunning)
	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		h.setState(StateTimedOut)
		return RawOutput{
			Stdout:    stdoutBuf.String(),
			Stderr:    stderrBuf.String(),
			ExitCode:  -1,
			TimedOut:  true,
			Truncated: stdoutBuf.Truncated() || stderrBuf.Truncated(),
			Duration:  duration,
		}, nil
	}

	exitCode := 0
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			exitCode = exitError.ExitCode()
		} else {
			h.setState(StateCrashed)
			return RawOutput{}, fmt.Errorf("failed to execute command: %w", err)
		}
	}

	if exitCode == 0 {
		h.setState(StateReady)
	} else {
		h.setState(StateCrashed)
	}
	return RawOutput{
		Stdout:    stdoutBuf.String(),
		Stderr:    stderrBuf.String(),
		ExitCode:  exitCode,
		Truncated: stdoutBuf.Truncated() || stderrBuf.Truncated(),
		Duration:  duration,
	}, nil
}

// ReadArtifact reads a file the program left in the workdir.
func (l *LocalOrchestrator) ReadArtifact(h *Handle, relpath string) ([]byte, error) {
	return readWorkdirFile(l.fs, h, relpath)
}

// Release reclaims the handle's workdir. Idempotent.
func (l *LocalOrchestrator) Release(h *Handle) error {
	return releaseHandle(l.logger, l.fs, h)
}
