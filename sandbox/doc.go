// Package sandbox provides isolated execution environments for untrusted
// submission code.
//
// The sandbox package owns the lifecycle of execution environments: image
// provisioning keyed by content fingerprint, acquire/run/release of one-shot
// sandboxes, resource and wall-clock limit enforcement, and bounded output
// capture. It supports multiple backends including Docker (Engine API),
// Podman, and local execution (for development).
//
// Every acquired handle must be released exactly once, on every exit path;
// Release is idempotent so deferred cleanup is always safe.
//
// Usage:
//
//	orch, err := sandbox.NewOrchestrator(logger, sandbox.Options{
//	    Backend:   "docker",
//	    ImageName: "instantgrade",
//	})
//	h, err := orch.Acquire(ctx)
//	defer orch.Release(h)
//	out, err := orch.Run(ctx, h, spec)
package sandbox
