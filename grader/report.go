package grader

import (
	"github.com/chandraveshchaudhari/instantgrade/compare"
	"github.com/chandraveshchaudhari/instantgrade/runner"
)

// EngineVersion is recorded on every report so old reports can be
// reinterpreted after comparison or harness changes.
const EngineVersion = "1.0.0"

// SubmissionState tracks where a submission is in its grading lifecycle.
type SubmissionState string

const (
	StateQueued       SubmissionState = "queued"
	StateProvisioning SubmissionState = "provisioning"
	StateRunning      SubmissionState = "running"
	StateComparing    SubmissionState = "comparing"
	StateDone         SubmissionState = "done"
	StateFailed       SubmissionState = "failed"
)

// FaultKind classifies why a submission did not complete cleanly.
type FaultKind string

const (
	// FaultNone means the full pipeline ran to completion.
	FaultNone FaultKind = ""
	// FaultInfrastructure covers sandbox provisioning and engine errors
	// that are not the student's doing.
	FaultInfrastructure FaultKind = "infrastructure"
	// FaultExecution means the submission's own code raised or crashed.
	FaultExecution FaultKind = "execution"
	// FaultTimeout means the wall-clock budget expired mid-run.
	FaultTimeout FaultKind = "timeout"
	// FaultProtocolMismatch means the in-sandbox harness spoke an
	// incompatible result protocol version.
	FaultProtocolMismatch FaultKind = "protocol_mismatch"
)

// GradeReport is the immutable record produced for one submission. Partial
// results are still scored: a submission that timed out after two cells is
// graded on those two cells.
type GradeReport struct {
	SubmissionID  string                    `json:"submission_id"`
	Execution     *runner.ExecutionResult   `json:"execution,omitempty"`
	Comparison    *compare.ComparisonResult `json:"comparison,omitempty"`
	FinalScore    float64                   `json:"final_score"`
	Fault         FaultKind                 `json:"fault,omitempty"`
	FaultDetail   string                    `json:"fault_detail,omitempty"`
	EngineVersion string                    `json:"engine_version"`
	ImageVersion  string                    `json:"image_version,omitempty"`
}

// faultFor maps an execution status onto the report fault taxonomy.
func faultFor(status runner.ExecStatus) FaultKind {
	switch status {
	case runner.ExecTimedOut:
		return FaultTimeout
	case runner.ExecError:
		return FaultExecution
	case runner.ExecProtocolMismatch:
		return FaultProtocolMismatch
	default:
		return FaultNone
	}
}
