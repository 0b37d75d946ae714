package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chandraveshchaudhari/instantgrade/notebook"
	"github.com/chandraveshchaudhari/instantgrade/sandbox"
)

// CellStatus is the outcome class of one executed cell.
type CellStatus string

// CellStatus constants
const (
	CellOK      CellStatus = "ok"
	CellError   CellStatus = "error"
	CellTimeout CellStatus = "timeout"
	CellSkipped CellStatus = "skipped"
)

// ExecStatus is the overall outcome class of one submission run.
type ExecStatus string

// ExecStatus constants
const (
	ExecOK               ExecStatus = "ok"
	ExecError            ExecStatus = "error"
	ExecTimedOut         ExecStatus = "timed_out"
	ExecProtocolMismatch ExecStatus = "protocol_mismatch"
)

// CellOutcome is the structured result of one cell.
type CellOutcome struct {
	Index      int            `json:"index"`
	Status     CellStatus     `json:"status"`
	Stdout     string         `json:"stdout"`
	Stderr     string         `json:"stderr"`
	Value      notebook.Value `json:"value"`
	DurationMs int64          `json:"duration_ms"`
}

// ExecutionResult is the complete structured outcome of running one
// submission. Exactly one is produced per run, on every path.
type ExecutionResult struct {
	SubmissionID string                    `json:"submission_id"`
	Status       ExecStatus                `json:"status"`
	Cells        []CellOutcome             `json:"cells"`
	Symbols      map[string]notebook.Value `json:"symbols"`
	Truncated    bool                      `json:"truncated"`
	DurationMs   int64                     `json:"duration_ms"`
}

// Cell returns the outcome for a notebook cell index, if present.
func (r *ExecutionResult) Cell(index int) (CellOutcome, bool) {
	for _, c := range r.Cells {
		if c.Index == index {
			return c, true
		}
	}
	return CellOutcome{}, false
}

// Symbol returns the captured value bound to a gradable symbol.
func (r *ExecutionResult) Symbol(name string) (notebook.Value, bool) {
	v, ok := r.Symbols[name]
	return v, ok
}

// Options configures one submission run.
type Options struct {
	// Symbols are the gradable names the harness snapshots after each cell.
	Symbols []string

	// StopOnCellError halts execution of subsequent cells after the first
	// raising cell; already produced outcomes are retained.
	StopOnCellError bool

	// PerCellTimeout bounds each cell's evaluation; 0 disables the per-cell
	// budget so only the whole-run wall clock applies. An overrunning cell
	// is marked timeout and execution continues.
	PerCellTimeout time.Duration

	// ExtraFiles are auxiliary workdir files the cells may read, such as
	// assignment datasets. Reserved engine filenames are rejected.
	ExtraFiles map[string][]byte

	Limits sandbox.Limits
}

// Runner executes submissions inside sandboxes.
type Runner struct {
	logger *zap.Logger
	orch   sandbox.Orchestrator
}

// New creates a Runner on top of an orchestrator.
func New(logger *zap.Logger, orch sandbox.Orchestrator) *Runner {
	return &Runner{logger: logger, orch: orch}
}

// Execute drives the submission through the sandbox handle and always
// returns exactly one ExecutionResult, synthesizing one when the sandbox
// crashed before producing a result document. The returned error is reserved
// for infrastructure failures the caller may retry.
func (r *Runner) Execute(ctx context.Context, h *sandbox.Handle, sub *notebook.Submission, opts Options) (*ExecutionResult, error) {
	files, err := r.stageFiles(sub, opts)
	if err != nil {
		return nil, err
	}

	out, err := r.orch.Run(ctx, h, sandbox.RunSpec{
		Files:   files,
		Command: []string{"python3", HarnessFile},
		Limits:  opts.Limits,
	})
	if err != nil {
		return nil, fmt.Errorf("sandbox run failed: %w", err)
	}

	res := r.collect(h, sub, out)
	r.logger.Debug("submission executed",
		zap.String("submission", sub.ID),
		zap.String("status", string(res.Status)),
		zap.Int("cells", len(res.Cells)),
		zap.Bool("truncated", res.Truncated))
	return res, nil
}

// stageFiles builds the workdir contents: the harness, the cell manifest,
// and any auxiliary files attached to the run.
func (r *Runner) stageFiles(sub *notebook.Submission, opts Options) (map[string][]byte, error) {
	m := manifest{
		Protocol: ProtocolVersion,
		Symbols:  opts.Symbols,
		Options: manifestOpts{
			StopOnError:   opts.StopOnCellError,
			CellTimeoutMs: opts.PerCellTimeout.Milliseconds(),
		},
	}
	for _, c := range sub.CodeCells() {
		m.Cells = append(m.Cells, manifestCell{Index: c.Index, Source: c.Source})
	}

	manifestJSON, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cell manifest: %w", err)
	}

	files := map[string][]byte{
		ManifestFile: manifestJSON,
		HarnessFile:  []byte(harnessSource),
	}
	for name, data := range opts.ExtraFiles {
		if name == ManifestFile || name == HarnessFile || name == ResultFile {
			return nil, fmt.Errorf("auxiliary file %q collides with a reserved engine file", name)
		}
		files[name] = data
	}
	return files, nil
}

// collect turns the raw sandbox output and the result document into a
// structured ExecutionResult.
func (r *Runner) collect(h *sandbox.Handle, sub *notebook.Submission, out sandbox.RawOutput) *ExecutionResult {
	res := &ExecutionResult{
		SubmissionID: sub.ID,
		Symbols:      make(map[string]notebook.Value),
		Truncated:    out.Truncated,
		DurationMs:   out.Duration.Milliseconds(),
	}

	data, readErr := r.orch.ReadArtifact(h, ResultFile)
	var doc *resultDoc
	if readErr == nil {
		doc, readErr = parseResultDoc(data)
	}

	switch {
	case readErr != nil && out.TimedOut:
		// Killed before the first result flush.
		res.Status = ExecTimedOut
		res.Cells = skippedOutcomes(sub)
		return res
	case readErr != nil:
		// Crashed without honoring the contract at all.
		r.logger.Warn("no result document from sandbox",
			zap.String("submission", sub.ID),
			zap.Int("exit_code", out.ExitCode),
			zap.Error(readErr))
		res.Status = ExecError
		res.Cells = crashOutcomes(sub, out)
		return res
	}

	if doc.Protocol != ProtocolVersion {
		res.Status = ExecProtocolMismatch
		res.Cells = skippedOutcomes(sub)
		return res
	}

	res.Status = ExecOK
	if out.TimedOut {
		res.Status = ExecTimedOut
	}

	seen := make(map[int]bool)
	anyError := false
	for _, rc := range doc.Cells {
		outcome := CellOutcome{
			Index:      rc.Index,
			Status:     cellStatus(rc.Status),
			Stdout:     rc.Stdout,
			Stderr:     rc.Stderr,
			DurationMs: rc.DurationMs,
			Value:      notebook.MissingValue(),
		}
		if v, err := rc.Value.decode(); err == nil {
			outcome.Value = v
		}
		if outcome.Status == CellError {
			anyError = true
		}
		res.Cells = append(res.Cells, outcome)
		seen[rc.Index] = true
	}
	// Cells the harness never reached (wall-clock kill mid-run) are skipped.
	for _, c := range sub.CodeCells() {
		if !seen[c.Index] {
			res.Cells = append(res.Cells, CellOutcome{
				Index:  c.Index,
				Status: CellSkipped,
				Value:  notebook.MissingValue(),
			})
		}
	}

	for name, wv := range doc.Symbols {
		if v, err := wv.decode(); err == nil {
			res.Symbols[name] = v
		} else {
			res.Symbols[name] = notebook.MissingValue()
		}
	}

	if res.Status == ExecOK && (anyError || out.ExitCode != 0) {
		res.Status = ExecError
	}
	return res
}

// cellStatus admits only the closed status set from the result document; a
// harness emitting anything else is reporting a cell it cannot vouch for.
func cellStatus(s string) CellStatus {
	switch status := CellStatus(s); status {
	case CellOK, CellError, CellTimeout, CellSkipped:
		return status
	default:
		return CellError
	}
}

func skippedOutcomes(sub *notebook.Submission) []CellOutcome {
	var cells []CellOutcome
	for _, c := range sub.CodeCells() {
		cells = append(cells, CellOutcome{
			Index:  c.Index,
			Status: CellSkipped,
			Value:  notebook.MissingValue(),
		})
	}
	return cells
}

// crashOutcomes synthesizes error outcomes carrying whatever the sandbox
// managed to emit, so the stderr of an interpreter crash is not lost.
func crashOutcomes(sub *notebook.Submission, out sandbox.RawOutput) []CellOutcome {
	cells := skippedOutcomes(sub)
	if len(cells) > 0 {
		cells[0].Status = CellError
		cells[0].Stdout = out.Stdout
		cells[0].Stderr = out.Stderr
	}
	return cells
}
