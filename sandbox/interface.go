// Package sandbox provides isolated execution environments for untrusted
// submission code.
//
// The sandbox package owns the full lifecycle of an execution environment:
// acquire, run under resource limits, and unconditional release. It supports
// multiple backends including Docker (Engine API), Podman, and local
// execution (for development).
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"
)

// HandleState is the lifecycle state of a sandbox handle.
type HandleState string

// Handle lifecycle states. A handle moves forward only; Reclaimed is
// terminal and reached exactly once on every path.
const (
	StateProvisioning HandleState = "provisioning"
	StateReady        HandleState = "ready"
	StateRunning      HandleState = "running"
	StateTimedOut     HandleState = "timed_out"
	StateCrashed      HandleState = "crashed"
	StateReclaimed    HandleState = "reclaimed"
)

// Handle identifies one provisioned sandbox. A handle runs at most one
// submission and is never shared between two submissions concurrently.
type Handle struct {
	ID      string
	Image   ImageRef
	Workdir string

	state HandleState
}

// State returns the handle's current lifecycle state.
func (h *Handle) State() HandleState {
	return h.state
}

func (h *Handle) setState(s HandleState) {
	h.state = s
}

func newHandle(image ImageRef, workdir string) *Handle {
	return &Handle{
		ID:      uuid.NewString(),
		Image:   image,
		Workdir: workdir,
		state:   StateProvisioning,
	}
}

// Limits bounds one sandbox run. Zero values fall back to backend defaults
// except MaxWallClock, which must be positive.
type Limits struct {
	MaxWallClock   time.Duration
	MaxCPUSeconds  int64
	MaxMemoryBytes int64
	MaxOutputBytes int64
}

// RunSpec describes one program run inside an acquired sandbox. Files are
// materialized into the handle workdir (keys are workdir-relative paths)
// before Command is executed with the workdir as its working directory.
type RunSpec struct {
	Files   map[string][]byte
	Command []string
	Limits  Limits
}

// RawOutput is the unstructured outcome of one sandbox run.
type RawOutput struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	TimedOut  bool
	Truncated bool
	Duration  time.Duration
}

// Orchestrator hides the container or process lifecycle behind
// acquire/run/release. Release must be called for every acquired handle on
// every path, including cancellation and crash; it is idempotent.
type Orchestrator interface {
	Acquire(ctx context.Context) (*Handle, error)
	Run(ctx context.Context, h *Handle, spec RunSpec) (RawOutput, error)
	ReadArtifact(h *Handle, relpath string) ([]byte, error)
	Release(h *Handle) error
}

// CommandRunner defines an interface for executing system commands
type CommandRunner interface {
	RunCommand(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error)
}

// RealCommandRunner implements CommandRunner using actual exec commands
type RealCommandRunner struct{}

// RunCommand executes the given command with arguments
func (RealCommandRunner) RunCommand(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error) {
	if len(args) < 1 {
		return "", "", 0, fmt.Errorf("no command provided")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // Safe as this is controlled input

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err = cmd.Run()

	exitCode = 0
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			exitCode = exitError.ExitCode()
		} else {
			return "", "", 0, err
		}
	}

	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// FileSystem defines an interface for file system operations
type FileSystem interface {
	MkdirTemp(dir, pattern string) (string, error)
	MkdirAll(path string, perm os.FileMode) error
	WriteFile(filename string, data []byte, perm os.FileMode) error
	ReadFile(filename string) ([]byte, error)
	RemoveAll(path string) error
}

// RealFileSystem implements FileSystem using actual file system operations
type RealFileSystem struct{}

func (RealFileSystem) MkdirTemp(dir, pattern string) (string, error) {
	return os.MkdirTemp(dir, pattern)
}

func (RealFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (RealFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	return os.WriteFile(filename, data, perm)
}

func (RealFileSystem) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

func (RealFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// File permission constants
const (
	DirPermission  = 0755
	FilePermission = 0600
)

// WorkdirMount is the path at which the handle workdir is visible inside a
// container backend.
const WorkdirMount = "/workdir"

// cappedBuffer collects stream output up to a byte cap. Writes past the cap
// are counted but dropped so a flooding process cannot exhaust host memory;
// the process itself is not killed for truncation.
type cappedBuffer struct {
	buf     bytes.Buffer
	max     int64
	dropped int64
}

func newCappedBuffer(max int64) *cappedBuffer {
	return &cappedBuffer{max: max}
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if c.max <= 0 {
		return c.buf.Write(p)
	}
	room := c.max - int64(c.buf.Len())
	if room <= 0 {
		c.dropped += int64(len(p))
		return len(p), nil
	}
	if int64(len(p)) > room {
		c.dropped += int64(len(p)) - room
		if _, err := c.buf.Write(p[:room]); err != nil {
			return 0, err
		}
		return len(p), nil
	}
	return c.buf.Write(p)
}

func (c *cappedBuffer) String() string {
	return c.buf.String()
}

func (c *cappedBuffer) Truncated() bool {
	return c.dropped > 0
}

// truncateTo caps a fully collected string to max bytes, reporting whether
// anything was cut. Used by CLI backends that hand back whole streams.
func truncateTo(s string, max int64) (string, bool) {
	if max <= 0 || int64(len(s)) <= max {
		return s, false
	}
	return s[:max], true
}
