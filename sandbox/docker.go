package sandbox

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-units"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"
)

// containerAPI is the subset of the Docker Engine client the orchestrator
// needs. Narrowing the client here keeps the backend unit-testable.
type containerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// DockerOrchestrator provisions sandboxes as one-shot Docker containers via
// the Engine API. Each acquired handle owns a private host workdir that is
// bind-mounted into the container; the container is created per run and
// force-removed afterwards, including on timeout and crash paths.
type DockerOrchestrator struct {
	logger   *zap.Logger
	api      containerAPI
	provider ImageProvider
	fs       FileSystem

	forceRebuild bool
}

// DockerOrchestratorOption defines a functional option for DockerOrchestrator
type DockerOrchestratorOption func(*DockerOrchestrator)

// WithContainerAPI sets the Docker Engine client for DockerOrchestrator
func WithContainerAPI(api containerAPI) DockerOrchestratorOption {
	return func(d *DockerOrchestrator) {
		d.api = api
	}
}

// WithDockerFileSystem sets the FileSystem for DockerOrchestrator
func WithDockerFileSystem(fs FileSystem) DockerOrchestratorOption {
	return func(d *DockerOrchestrator) {
		d.fs = fs
	}
}

// WithForceRebuild forwards forceRebuild=true on every EnsureImage call.
func WithForceRebuild(force bool) DockerOrchestratorOption {
	return func(d *DockerOrchestrator) {
		d.forceRebuild = force
	}
}

// NewDockerOrchestrator creates a Docker-backed orchestrator. Without
// WithContainerAPI it connects to the engine from the environment.
func NewDockerOrchestrator(logger *zap.Logger, provider ImageProvider, opts ...DockerOrchestratorOption) (*DockerOrchestrator, error) {
	d := &DockerOrchestrator{
		logger:   logger,
		provider: provider,
		fs:       &RealFileSystem{},
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.api == nil {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return nil, fmt.Errorf("failed to create Docker client: %w", err)
		}
		d.api = cli
	}
	return d, nil
}

// Acquire ensures the execution image is current and provisions a fresh
// handle with a private workdir.
func (d *DockerOrchestrator) Acquire(ctx context.Context) (*Handle, error) {
	image, err := d.provider.EnsureImage(ctx, d.forceRebuild)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure image: %w", err)
	}

	workdir, err := d.fs.MkdirTemp("", "instantgrade-sandbox-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox workdir: %w", err)
	}

	h := newHandle(image, workdir)
	h.setState(StateReady)
	d.logger.Debug("sandbox acquired",
		zap.String("handle", h.ID),
		zap.String("image", string(image)))
	return h, nil
}

// Run executes spec.Command in a fresh container bound to the handle's
// workdir, enforcing the wall-clock deadline with a forced kill.
func (d *DockerOrchestrator) Run(ctx context.Context, h *Handle, spec RunSpec) (RawOutput, error) {
	if h.State() != StateReady {
		return RawOutput{}, fmt.Errorf("handle %s is %s, want %s", h.ID, h.State(), StateReady)
	}
	if spec.Limits.MaxWallClock <= 0 {
		return RawOutput{}, fmt.Errorf("run requires a positive wall-clock limit")
	}

	if err := materializeFiles(d.fs, h.Workdir, spec.Files); err != nil {
		return RawOutput{}, err
	}

	resources := container.Resources{
		Memory: spec.Limits.MaxMemoryBytes,
	}
	if spec.Limits.MaxCPUSeconds > 0 {
		resources.Ulimits = []*units.Ulimit{
			{Name: "cpu", Soft: spec.Limits.MaxCPUSeconds, Hard: spec.Limits.MaxCPUSeconds},
		}
	}

	cfg := &container.Config{
		Image:           string(h.Image),
		Cmd:             spec.Command,
		WorkingDir:      WorkdirMount,
		NetworkDisabled: true,
	}
	hostCfg := &container.HostConfig{
		Binds:       []string{fmt.Sprintf("%s:%s", h.Workdir, WorkdirMount)},
		NetworkMode: "none",
		Resources:   resources,
		SecurityOpt: []string{"no-new-privileges:true"},
		CapDrop:     []string{"ALL"},
	}

	name := "instantgrade-" + h.ID
	resp, err := d.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return RawOutput{}, fmt.Errorf("failed to create container: %w", err)
	}
	// Removal must not depend on the (possibly expired) run context.
	defer func() {
		if rmErr := d.api.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true}); rmErr != nil {
			d.logger.Warn("failed to remove container",
				zap.String("container", resp.ID),
				zap.Error(rmErr))
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, spec.Limits.MaxWallClock)
	defer cancel()

	start := time.Now()
	if err := d.api.ContainerStart(runCtx, resp.ID, container.StartOptions{}); err != nil {
		h.setState(StateCrashed)
		return RawOutput{}, fmt.Errorf("failed to start container: %w", err)
	}
	h.setState(StateRunning)

	waitCh, errCh := d.api.ContainerWait(runCtx, resp.ID, container.WaitConditionNotRunning)

	var exitCode int
	timedOut := false
	select {
	case wait := <-waitCh:
		exitCode = int(wait.StatusCode)
	case waitErr := <-errCh:
		if runCtx.Err() == context.DeadlineExceeded {
			timedOut = true
		} else if runCtx.Err() != nil {
			h.setState(StateCrashed)
			d.killContainer(resp.ID)
			return RawOutput{}, fmt.Errorf("run cancelled: %w", runCtx.Err())
		} else {
			h.setState(StateCrashed)
			return RawOutput{}, fmt.Errorf("failed to wait for container: %w", waitErr)
		}
	case <-runCtx.Done():
		if runCtx.Err() == context.DeadlineExceeded {
			timedOut = true
		} else {
			h.setState(StateCrashed)
			d.killContainer(resp.ID)
			return RawOutput{}, fmt.Errorf("run cancelled: %w", runCtx.Err())
		}
	}
	duration := time.Since(start)

	if timedOut {
		d.killContainer(resp.ID)
	}

	stdout, stderr, truncated, logErr := d.collectLogs(resp.ID, spec.Limits.MaxOutputBytes)
	if logErr != nil {
		d.logger.Warn("failed to collect container logs",
			zap.String("container", resp.ID),
			zap.Error(logErr))
	}

	out := RawOutput{
		Stdout:    stdout,
		Stderr:    stderr,
		ExitCode:  exitCode,
		TimedOut:  timedOut,
		Truncated: truncated,
		Duration:  duration,
	}

	switch {
	case timedOut:
		h.setState(StateTimedOut)
		out.ExitCode = -1
	case exitCode == 0:
		h.setState(StateReady)
	default:
		h.setState(StateCrashed)
	}
	return out, nil
}

func (d *DockerOrchestrator) killContainer(containerID string) {
	if err := d.api.ContainerKill(context.Background(), containerID, "KILL"); err != nil {
		d.logger.Warn("failed to kill container",
			zap.String("container", containerID),
			zap.Error(err))
	}
}

func (d *DockerOrchestrator) collectLogs(containerID string, maxBytes int64) (stdout, stderr string, truncated bool, err error) {
	logs, err := d.api.ContainerLogs(context.Background(), containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", false, err
	}
	defer logs.Close()

	stdoutBuf := newCappedBuffer(maxBytes)
	stderrBuf := newCappedBuffer(maxBytes)
	if _, err := stdcopy.StdCopy(stdoutBuf, stderrBuf, logs); err != nil {
		return stdoutBuf.String(), stderrBuf.String(), stdoutBuf.Truncated() || stderrBuf.Truncated(), err
	}
	return stdoutBuf.String(), stderrBuf.String(), stdoutBuf.Truncated() || stderrBuf.Truncated(), nil
}

// ReadArtifact reads a file the sandboxed program left in the workdir.
func (d *DockerOrchestrator) ReadArtifact(h *Handle, relpath string) ([]byte, error) {
	return readWorkdirFile(d.fs, h, relpath)
}

// Release reclaims the handle's workdir. It is idempotent and safe on every
// exit path.
func (d *DockerOrchestrator) Release(h *Handle) error {
	return releaseHandle(d.logger, d.fs, h)
}

// materializeFiles writes RunSpec files into the handle workdir, creating
// parent directories as needed.
func materializeFiles(fs FileSystem, workdir string, files map[string][]byte) error {
	for name, data := range files {
		path, err := workdirPath(workdir, name)
		if err != nil {
			return err
		}
		if err := fs.MkdirAll(filepath.Dir(path), DirPermission); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", name, err)
		}
		if err := fs.WriteFile(path, data, FilePermission); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return nil
}

// workdirPath resolves a workdir-relative name, rejecting traversal out of
// the workdir.
func workdirPath(workdir, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("absolute path not allowed: %s", name)
	}
	path := filepath.Join(workdir, filepath.Clean(name))
	rel, err := filepath.Rel(workdir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workdir: %s", name)
	}
	return path, nil
}

func readWorkdirFile(fs FileSystem, h *Handle, relpath string) ([]byte, error) {
	if h.State() == StateReclaimed {
		return nil, fmt.Errorf("handle %s is already reclaimed", h.ID)
	}
	path, err := workdirPath(h.Workdir, relpath)
	if err != nil {
		return nil, err
	}
	return fs.ReadFile(path)
}

func releaseHandle(logger *zap.Logger, fs FileSystem, h *Handle) error {
	if h.State() == StateReclaimed {
		return nil
	}
	h.setState(StateReclaimed)
	if err := fs.RemoveAll(h.Workdir); err != nil {
		logger.Error("failed to remove sandbox workdir",
			zap.String("handle", h.ID),
			zap.String("path", h.Workdir),
			zap.Error(err))
		return fmt.Errorf("failed to reclaim sandbox %s: %w", h.ID, err)
	}
	logger.Debug("sandbox reclaimed", zap.String("handle", h.ID))
	return nil
}
