package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrImageBuild marks an image build failure. Callers treat it as fatal for
// every submission needing that image rather than retrying per submission:
// a broken Dockerfile does not fix itself between attempts.
var ErrImageBuild = errors.New("image build failed")

// ImageRef identifies a ready-to-run execution image, tagged by the
// fingerprint of the environment's dependency manifest.
type ImageRef string

// ImageProvider supplies execution images keyed by content fingerprint. A
// stale or missing image is rebuilt before any sandbox is provisioned from
// it; forceRebuild bypasses the staleness check for one-off rebuilds.
type ImageProvider interface {
	EnsureImage(ctx context.Context, forceRebuild bool) (ImageRef, error)
}

// FingerprintBuildContext derives the execution image fingerprint from the
// build context contents: a deterministic digest over every file path and
// its bytes. Editing the Dockerfile or anything beside it yields a new
// fingerprint, so an environment upgrade structurally forces a rebuild
// instead of relying on anyone remembering to.
func FingerprintBuildContext(dir string) (string, error) {
	h := sha256.New()
	seen := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		// Path and length delimit each entry so file boundaries cannot
		// collide.
		fmt.Fprintf(h, "%s\x00%d\x00", filepath.ToSlash(rel), len(data))
		h.Write(data)
		seen++
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to fingerprint build context %s: %w", dir, err)
	}
	if seen == 0 {
		return "", fmt.Errorf("build context %s has no files", dir)
	}
	return hex.EncodeToString(h.Sum(nil))[:12], nil
}

// BuildImageProvider builds images through the container engine CLI and
// remembers what it has built. The built-image registry is the only shared
// mutable state in the engine: all access is mutex-guarded, and concurrent
// EnsureImage calls for one fingerprint coalesce onto a single in-flight
// build instead of racing.
type BuildImageProvider struct {
	logger    *zap.Logger
	runner    CommandRunner
	engine    string // "docker" or "podman"
	imageName string
	buildDir  string

	mu    sync.Mutex
	built map[string]ImageRef
	group singleflight.Group
}

// BuildImageProviderOption defines a functional option for BuildImageProvider
type BuildImageProviderOption func(*BuildImageProvider)

// WithImageCommandRunner sets the CommandRunner for BuildImageProvider
func WithImageCommandRunner(runner CommandRunner) BuildImageProviderOption {
	return func(p *BuildImageProvider) {
		p.runner = runner
	}
}

// NewBuildImageProvider creates an image provider driving the given engine
// CLI. imageName is the repository part of the tag; buildDir is the build
// context holding the environment's Dockerfile.
func NewBuildImageProvider(logger *zap.Logger, engine, imageName, buildDir string, opts ...BuildImageProviderOption) *BuildImageProvider {
	p := &BuildImageProvider{
		logger:    logger,
		runner:    &RealCommandRunner{},
		engine:    engine,
		imageName: imageName,
		buildDir:  buildDir,
		built:     make(map[string]ImageRef),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EnsureImage fingerprints the build context, then returns the image for
// that fingerprint, building it first if it is missing from the engine or
// forceRebuild is set. Exactly one build runs per fingerprint regardless of
// caller concurrency.
func (p *BuildImageProvider) EnsureImage(ctx context.Context, forceRebuild bool) (ImageRef, error) {
	fingerprint, err := FingerprintBuildContext(p.buildDir)
	if err != nil {
		return "", err
	}

	if !forceRebuild {
		p.mu.Lock()
		ref, ok := p.built[fingerprint]
		p.mu.Unlock()
		if ok {
			return ref, nil
		}
	}

	v, err, _ := p.group.Do(fingerprint, func() (any, error) {
		return p.ensure(ctx, fingerprint, forceRebuild)
	})
	if err != nil {
		return "", err
	}
	return v.(ImageRef), nil
}

func (p *BuildImageProvider) ensure(ctx context.Context, fingerprint string, forceRebuild bool) (ImageRef, error) {
	tag := fmt.Sprintf("%s:%s", p.imageName, fingerprint)

	exists, err := p.imageExists(ctx, tag)
	if err != nil {
		return "", fmt.Errorf("failed to probe image %s: %w", tag, err)
	}

	if !exists || forceRebuild {
		p.logger.Info("building execution image",
			zap.String("tag", tag),
			zap.Bool("force_rebuild", forceRebuild))
		if err := p.build(ctx, tag); err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrImageBuild, tag, err)
		}
	}

	ref := ImageRef(tag)
	p.mu.Lock()
	p.built[fingerprint] = ref
	p.mu.Unlock()
	return ref, nil
}

func (p *BuildImageProvider) imageExists(ctx context.Context, tag string) (bool, error) {
	stdout, _, exitCode, err := p.runner.RunCommand(ctx, []string{p.engine, "images", "-q", tag})
	if err != nil {
		return false, err
	}
	if exitCode != 0 {
		return false, fmt.Errorf("%s images exited with code %d", p.engine, exitCode)
	}
	return strings.TrimSpace(stdout) != "", nil
}

func (p *BuildImageProvider) build(ctx context.Context, tag string) error {
	_, stderr, exitCode, err := p.runner.RunCommand(ctx, []string{p.engine, "build", "-t", tag, p.buildDir})
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("%s build exited with code %d: %s", p.engine, exitCode, strings.TrimSpace(stderr))
	}
	return nil
}

// StaticImageProvider always returns a fixed image and never builds. Useful
// when the execution image is managed out of band.
type StaticImageProvider struct {
	Ref ImageRef
}

// EnsureImage returns the fixed image reference.
func (s StaticImageProvider) EnsureImage(context.Context, bool) (ImageRef, error) {
	if s.Ref == "" {
		return "", fmt.Errorf("static image provider has no image configured")
	}
	return s.Ref, nil
}
