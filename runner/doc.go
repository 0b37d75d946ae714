// Package runner drives a parsed submission through an acquired sandbox and
// translates the raw run output into structured per-cell outcomes.
//
// The runner materializes a manifest of the submission's code cells together
// with a Python harness into the sandbox workdir. The harness executes cells
// in source order, captures per-cell stdout/stderr and displayed values,
// snapshots the gradable symbols the solution spec designates, and writes a
// versioned result document to a reserved workdir location after every cell
// so partial outcomes survive a wall-clock kill.
//
// Every run yields exactly one ExecutionResult, including sandbox crashes,
// so the comparison engine always has a uniform input to score.
package runner
