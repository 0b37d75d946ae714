package sandbox

import (
	"fmt"

	"go.uber.org/zap"
)

// Options selects and parameterizes an orchestrator backend.
type Options struct {
	Backend            string
	ImageName          string
	BuildContext       string
	EnableLocalBackend bool
	ForceRebuild       bool
}

// NewOrchestrator creates an appropriate sandbox orchestrator based on the
// configuration. The local backend is refused unless explicitly enabled: it
// provides no isolation.
func NewOrchestrator(logger *zap.Logger, opts Options) (Orchestrator, error) {
	switch opts.Backend {
	case "docker":
		provider := NewBuildImageProvider(logger, "docker", opts.ImageName, opts.BuildContext)
		return NewDockerOrchestrator(logger, provider, WithForceRebuild(opts.ForceRebuild))
	case "podman":
		provider := NewBuildImageProvider(logger, "podman", opts.ImageName, opts.BuildContext)
		return NewPodmanOrchestrator(logger, provider, WithPodmanForceRebuild(opts.ForceRebuild)), nil
	case "local":
		if !opts.EnableLocalBackend {
			return nil, fmt.Errorf("local backend is disabled; it runs submissions without isolation")
		}
		return NewLocalOrchestrator(logger), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", opts.Backend)
	}
}
