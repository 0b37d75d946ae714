package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/chandraveshchaudhari/instantgrade/notebook"
	"github.com/chandraveshchaudhari/instantgrade/sandbox"
)

// fakeOrchestrator implements sandbox.Orchestrator without any engine. It
// records staged files and serves a canned result document.
type fakeOrchestrator struct {
	runOutput   sandbox.RawOutput
	runErr      error
	resultJSON  []byte
	resultErr   error
	stagedFiles map[string][]byte
	released    int
}

func (f *fakeOrchestrator) Acquire(_ context.Context) (*sandbox.Handle, error) {
	h := &sandbox.Handle{ID: "fake", Image: "instantgrade-runner:4f2d9a1cbe70", Workdir: "/tmp/fake"}
	return h, nil
}

func (f *fakeOrchestrator) Run(_ context.Context, _ *sandbox.Handle, spec sandbox.RunSpec) (sandbox.RawOutput, error) {
	f.stagedFiles = spec.Files
	return f.runOutput, f.runErr
}

func (f *fakeOrchestrator) ReadArtifact(_ *sandbox.Handle, relpath string) ([]byte, error) {
	if relpath != ResultFile {
		return nil, fmt.Errorf("unexpected artifact: %s", relpath)
	}
	return f.resultJSON, f.resultErr
}

func (f *fakeOrchestrator) Release(_ *sandbox.Handle) error {
	f.released++
	return nil
}

func twoCellSubmission() *notebook.Submission {
	return &notebook.Submission{
		ID: "s1",
		Cells: []notebook.Cell{
			{Index: 0, Source: "# notes", Kind: notebook.CellMarkdown},
			{Index: 1, Source: "x = 40 + 2", Kind: notebook.CellCode},
			{Index: 2, Source: "x", Kind: notebook.CellCode},
		},
	}
}

func resultJSON(t *testing.T, doc resultDoc) []byte {
	t.Helper()
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return data
}

func TestExecuteStagesHarnessAndManifest(t *testing.T) {
	orch := &fakeOrchestrator{
		resultJSON: resultJSON(t, resultDoc{Protocol: ProtocolVersion}),
	}
	r := New(zaptest.NewLogger(t), orch)
	h, _ := orch.Acquire(context.Background())

	_, err := r.Execute(context.Background(), h, twoCellSubmission(), Options{
		Symbols:        []string{"x"},
		PerCellTimeout: 2 * time.Second,
		Limits:         sandbox.Limits{MaxWallClock: time.Minute},
	})
	require.NoError(t, err)

	require.Contains(t, orch.stagedFiles, HarnessFile)
	require.Contains(t, orch.stagedFiles, ManifestFile)

	var m manifest
	require.NoError(t, json.Unmarshal(orch.stagedFiles[ManifestFile], &m))
	assert.Equal(t, ProtocolVersion, m.Protocol)
	assert.Equal(t, []string{"x"}, m.Symbols)
	assert.Equal(t, int64(2000), m.Options.CellTimeoutMs)
	// Markdown cells never reach the sandbox; indices are preserved.
	require.Len(t, m.Cells, 2)
	assert.Equal(t, 1, m.Cells[0].Index)
	assert.Equal(t, 2, m.Cells[1].Index)
}

func TestExecuteExtraFiles(t *testing.T) {
	orch := &fakeOrchestrator{
		resultJSON: resultJSON(t, resultDoc{Protocol: ProtocolVersion}),
	}
	r := New(zaptest.NewLogger(t), orch)
	h, _ := orch.Acquire(context.Background())

	_, err := r.Execute(context.Background(), h, twoCellSubmission(), Options{
		ExtraFiles: map[string][]byte{"dataset.csv": []byte("a,b\n")},
		Limits:     sandbox.Limits{MaxWallClock: time.Minute},
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("a,b\n"), orch.stagedFiles["dataset.csv"])

	// Reserved names cannot be shadowed by auxiliary files.
	_, err = r.Execute(context.Background(), h, twoCellSubmission(), Options{
		ExtraFiles: map[string][]byte{HarnessFile: []byte("malicious")},
		Limits:     sandbox.Limits{MaxWallClock: time.Minute},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved")
}

func TestExecuteCollectsOutcomes(t *testing.T) {
	orch := &fakeOrchestrator{
		runOutput: sandbox.RawOutput{ExitCode: 0, Duration: 1200 * time.Millisecond},
		resultJSON: resultJSON(t, resultDoc{
			Protocol: ProtocolVersion,
			Cells: []resultCell{
				{Index: 1, Status: "ok", Stdout: "", DurationMs: 4},
				{Index: 2, Status: "ok", DurationMs: 1, Value: wireValue{Kind: "scalar", Scalar: 42.0}},
			},
			Symbols: map[string]wireValue{
				"x": {Kind: "scalar", Scalar: 42.0},
			},
		}),
	}
	r := New(zaptest.NewLogger(t), orch)
	h, _ := orch.Acquire(context.Background())

	res, err := r.Execute(context.Background(), h, twoCellSubmission(), Options{
		Symbols: []string{"x"},
		Limits:  sandbox.Limits{MaxWallClock: time.Minute},
	})
	require.NoError(t, err)
	assert.Equal(t, ExecOK, res.Status)
	assert.Equal(t, int64(1200), res.DurationMs)

	cell, ok := res.Cell(2)
	require.True(t, ok)
	assert.Equal(t, CellOK, cell.Status)
	assert.Equal(t, notebook.ScalarValue(42.0), cell.Value)

	sym, ok := res.Symbol("x")
	require.True(t, ok)
	assert.Equal(t, notebook.ScalarValue(42.0), sym)
}

func TestExecuteCellErrorMakesRunError(t *testing.T) {
	orch := &fakeOrchestrator{
		runOutput: sandbox.RawOutput{ExitCode: 0},
		resultJSON: resultJSON(t, resultDoc{
			Protocol: ProtocolVersion,
			Cells: []resultCell{
				{Index: 1, Status: "error", Stderr: "ZeroDivisionError"},
				{Index: 2, Status: "ok", Value: wireValue{Kind: "scalar", Scalar: 7.0}},
			},
		}),
	}
	r := New(zaptest.NewLogger(t), orch)
	h, _ := orch.Acquire(context.Background())

	res, err := r.Execute(context.Background(), h, twoCellSubmission(), Options{
		Limits: sandbox.Limits{MaxWallClock: time.Minute},
	})
	require.NoError(t, err)
	// The run is an execution fault, but the healthy cell's value survives
	// for partial credit.
	assert.Equal(t, ExecError, res.Status)
	cell, ok := res.Cell(2)
	require.True(t, ok)
	assert.Equal(t, notebook.ScalarValue(7.0), cell.Value)
}

func TestExecuteUnknownCellStatusBecomesError(t *testing.T) {
	orch := &fakeOrchestrator{
		runOutput: sandbox.RawOutput{ExitCode: 0},
		resultJSON: resultJSON(t, resultDoc{
			Protocol: ProtocolVersion,
			Cells: []resultCell{
				{Index: 1, Status: "exploded"},
				{Index: 2, Status: "ok", Value: wireValue{Kind: "scalar", Scalar: 7.0}},
			},
		}),
	}
	r := New(zaptest.NewLogger(t), orch)
	h, _ := orch.Acquire(context.Background())

	res, err := r.Execute(context.Background(), h, twoCellSubmission(), Options{
		Limits: sandbox.Limits{MaxWallClock: time.Minute},
	})
	require.NoError(t, err)
	// A status outside the protocol's set is not trusted as a pass; the
	// cell degrades to an error and the run is an execution fault.
	assert.Equal(t, ExecError, res.Status)
	cell, ok := res.Cell(1)
	require.True(t, ok)
	assert.Equal(t, CellError, cell.Status)
}

func TestExecuteTimeoutWithPartialResult(t *testing.T) {
	orch := &fakeOrchestrator{
		runOutput: sandbox.RawOutput{ExitCode: -1, TimedOut: true},
		resultJSON: resultJSON(t, resultDoc{
			Protocol: ProtocolVersion,
			Cells: []resultCell{
				{Index: 1, Status: "ok", Value: wireValue{Kind: "scalar", Scalar: 1.0}},
			},
		}),
	}
	r := New(zaptest.NewLogger(t), orch)
	h, _ := orch.Acquire(context.Background())

	res, err := r.Execute(context.Background(), h, twoCellSubmission(), Options{
		Limits: sandbox.Limits{MaxWallClock: time.Second},
	})
	require.NoError(t, err)
	assert.Equal(t, ExecTimedOut, res.Status)

	// The cell the harness finished keeps its outcome; the unreached cell
	// is skipped, not errored.
	cell, ok := res.Cell(1)
	require.True(t, ok)
	assert.Equal(t, CellOK, cell.Status)
	cell, ok = res.Cell(2)
	require.True(t, ok)
	assert.Equal(t, CellSkipped, cell.Status)
}

func TestExecuteTimeoutBeforeFirstFlush(t *testing.T) {
	orch := &fakeOrchestrator{
		runOutput: sandbox.RawOutput{ExitCode: -1, TimedOut: true},
		resultErr: fmt.Errorf("no such file"),
	}
	r := New(zaptest.NewLogger(t), orch)
	h, _ := orch.Acquire(context.Background())

	res, err := r.Execute(context.Background(), h, twoCellSubmission(), Options{
		Limits: sandbox.Limits{MaxWallClock: time.Second},
	})
	require.NoError(t, err)
	assert.Equal(t, ExecTimedOut, res.Status)
	for _, c := range res.Cells {
		assert.Equal(t, CellSkipped, c.Status)
	}
}

func TestExecuteCrashWithoutResultDoc(t *testing.T) {
	orch := &fakeOrchestrator{
		runOutput: sandbox.RawOutput{ExitCode: 137, Stderr: "Killed"},
		resultErr: fmt.Errorf("no such file"),
	}
	r := New(zaptest.NewLogger(t), orch)
	h, _ := orch.Acquire(context.Background())

	res, err := r.Execute(context.Background(), h, twoCellSubmission(), Options{
		Limits: sandbox.Limits{MaxWallClock: time.Minute},
	})
	require.NoError(t, err)
	assert.Equal(t, ExecError, res.Status)
	// The crash's stderr is carried on the first synthesized outcome.
	require.NotEmpty(t, res.Cells)
	assert.Equal(t, CellError, res.Cells[0].Status)
	assert.Equal(t, "Killed", res.Cells[0].Stderr)
}

func TestExecuteProtocolMismatch(t *testing.T) {
	orch := &fakeOrchestrator{
		runOutput:  sandbox.RawOutput{ExitCode: 0},
		resultJSON: resultJSON(t, resultDoc{Protocol: 99}),
	}
	r := New(zaptest.NewLogger(t), orch)
	h, _ := orch.Acquire(context.Background())

	res, err := r.Execute(context.Background(), h, twoCellSubmission(), Options{
		Limits: sandbox.Limits{MaxWallClock: time.Minute},
	})
	require.NoError(t, err)
	assert.Equal(t, ExecProtocolMismatch, res.Status)
	for _, c := range res.Cells {
		assert.Equal(t, CellSkipped, c.Status)
	}
}

func TestExecuteInfrastructureError(t *testing.T) {
	orch := &fakeOrchestrator{
		runErr: fmt.Errorf("daemon unreachable"),
	}
	r := New(zaptest.NewLogger(t), orch)
	h, _ := orch.Acquire(context.Background())

	_, err := r.Execute(context.Background(), h, twoCellSubmission(), Options{
		Limits: sandbox.Limits{MaxWallClock: time.Minute},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon unreachable")
}

func TestWireValueDecode(t *testing.T) {
	t.Run("Blob", func(t *testing.T) {
		v, err := wireValue{Kind: "blob", Blob: "aGVsbG8="}.decode()
		require.NoError(t, err)
		assert.Equal(t, notebook.BlobValue([]byte("hello")), v)
	})

	t.Run("BadBlob", func(t *testing.T) {
		_, err := wireValue{Kind: "blob", Blob: "not base64!!"}.decode()
		require.Error(t, err)
	})

	t.Run("TableWithoutPayload", func(t *testing.T) {
		_, err := wireValue{Kind: "table"}.decode()
		require.Error(t, err)
	})

	t.Run("UnknownKind", func(t *testing.T) {
		_, err := wireValue{Kind: "tensor"}.decode()
		require.Error(t, err)
	})
}
