package grader

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chandraveshchaudhari/instantgrade/compare"
	"github.com/chandraveshchaudhari/instantgrade/notebook"
	"github.com/chandraveshchaudhari/instantgrade/runner"
	"github.com/chandraveshchaudhari/instantgrade/sandbox"
)

// Config tunes the coordinator's pool and per-submission behavior.
type Config struct {
	// WorkerCount bounds concurrent sandboxes; 0 means one per CPU.
	WorkerCount int

	// RetryInfrastructureFailures is how many times a submission is requeued
	// after an infrastructure fault before it is reported as failed.
	RetryInfrastructureFailures int

	// StopOnCellError halts a submission after its first raising cell.
	StopOnCellError bool

	// PerCellTimeout bounds each cell inside the harness; 0 disables it.
	PerCellTimeout time.Duration

	Limits sandbox.Limits
}

func (c Config) workers() int {
	if c.WorkerCount > 0 {
		return c.WorkerCount
	}
	return runtime.NumCPU()
}

// Coordinator grades batches of submissions against a solution spec.
type Coordinator struct {
	logger *zap.Logger
	orch   sandbox.Orchestrator
	runner *runner.Runner
	cfg    Config
}

// New creates a Coordinator over an orchestrator.
func New(logger *zap.Logger, orch sandbox.Orchestrator, cfg Config) *Coordinator {
	return &Coordinator{
		logger: logger,
		orch:   orch,
		runner: runner.New(logger, orch),
		cfg:    cfg,
	}
}

// job is one grading attempt for a submission.
type job struct {
	sub      *notebook.Submission
	attempts int
}

// Batch is one grading request. Files are auxiliary workdir files staged
// into every submission's sandbox, such as shared assignment datasets.
type Batch struct {
	Submissions []*notebook.Submission
	Files       map[string][]byte
}

// GradeBatch grades every submission and returns exactly one report per
// submission, ordered as the batch was given. On cancellation, submissions
// already finished keep their reports and the rest are reported as failed;
// the context error is returned alongside the reports.
func (c *Coordinator) GradeBatch(ctx context.Context, spec *notebook.SolutionSpec, batch Batch) ([]*GradeReport, error) {
	subs := batch.Submissions
	if len(subs) == 0 {
		return nil, nil
	}

	// Capacity covers every possible requeue so workers never block on send.
	jobs := make(chan job, len(subs)*(c.cfg.RetryInfrastructureFailures+1))
	results := make(chan *GradeReport, len(subs))
	for _, sub := range subs {
		c.transition(sub.ID, StateQueued)
		jobs <- job{sub: sub}
	}

	var wg sync.WaitGroup
	for i := 0; i < c.cfg.workers(); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.worker(ctx, spec, batch.Files, jobs, results)
		}()
	}
	wg.Wait()
	close(jobs)
	close(results)

	byID := make(map[string]*GradeReport, len(subs))
	for rep := range results {
		byID[rep.SubmissionID] = rep
	}
	// Anything still queued when the workers stopped was cancelled.
	for j := range jobs {
		c.transition(j.sub.ID, StateFailed)
		byID[j.sub.ID] = &GradeReport{
			SubmissionID:  j.sub.ID,
			Fault:         FaultInfrastructure,
			FaultDetail:   "grading cancelled before execution",
			EngineVersion: EngineVersion,
		}
	}

	// Reports come back in batch order regardless of worker interleaving.
	reports := make([]*GradeReport, 0, len(subs))
	for _, sub := range subs {
		if rep, ok := byID[sub.ID]; ok {
			reports = append(reports, rep)
		}
	}

	if err := ctx.Err(); err != nil {
		return reports, err
	}
	return reports, nil
}

// GradeOne grades a single submission synchronously.
func (c *Coordinator) GradeOne(ctx context.Context, spec *notebook.SolutionSpec, sub *notebook.Submission, files map[string][]byte) (*GradeReport, error) {
	reports, err := c.GradeBatch(ctx, spec, Batch{
		Submissions: []*notebook.Submission{sub},
		Files:       files,
	})
	if err != nil {
		if len(reports) == 1 {
			return reports[0], err
		}
		return nil, err
	}
	return reports[0], nil
}

func (c *Coordinator) transition(submissionID string, state SubmissionState) {
	c.logger.Debug("submission state",
		zap.String("submission", submissionID),
		zap.String("state", string(state)))
}

// worker drains the job queue until it is empty or the context ends. A
// requeued job goes back on the same channel, so the worker keeps pulling
// until nothing is left.
func (c *Coordinator) worker(ctx context.Context, spec *notebook.SolutionSpec, files map[string][]byte, jobs chan job, results chan<- *GradeReport) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-jobs:
			rep, retry := c.grade(ctx, spec, files, j)
			if retry {
				jobs <- job{sub: j.sub, attempts: j.attempts + 1}
				continue
			}
			results <- rep
		default:
			return
		}
	}
}

// grade runs the full pipeline for one attempt. The second return value is
// true when the attempt hit a retryable infrastructure fault.
func (c *Coordinator) grade(ctx context.Context, spec *notebook.SolutionSpec, files map[string][]byte, j job) (*GradeReport, bool) {
	rep := &GradeReport{
		SubmissionID:  j.sub.ID,
		EngineVersion: EngineVersion,
	}

	c.transition(j.sub.ID, StateProvisioning)
	h, err := c.orch.Acquire(ctx)
	if err != nil {
		return c.infraFault(rep, j, "sandbox acquisition failed", err)
	}
	defer func() {
		if relErr := c.orch.Release(h); relErr != nil {
			c.logger.Warn("sandbox release failed",
				zap.String("submission", j.sub.ID),
				zap.Error(relErr))
		}
	}()
	rep.ImageVersion = string(h.Image)

	c.transition(j.sub.ID, StateRunning)
	res, err := c.runner.Execute(ctx, h, j.sub, runner.Options{
		Symbols:         spec.GradedSymbols(),
		StopOnCellError: c.cfg.StopOnCellError,
		PerCellTimeout:  c.cfg.PerCellTimeout,
		ExtraFiles:      files,
		Limits:          c.cfg.Limits,
	})
	if err != nil {
		return c.infraFault(rep, j, "submission execution failed", err)
	}
	rep.Execution = res

	c.transition(j.sub.ID, StateComparing)
	cmp, err := compare.Compare(res, spec)
	if err != nil {
		rep.Fault = FaultInfrastructure
		rep.FaultDetail = err.Error()
		c.transition(j.sub.ID, StateFailed)
		return rep, false
	}
	rep.Comparison = cmp
	rep.FinalScore = cmp.Score
	rep.Fault = faultFor(res.Status)
	c.transition(j.sub.ID, StateDone)

	c.logger.Info("submission graded",
		zap.String("submission", j.sub.ID),
		zap.String("status", string(res.Status)),
		zap.Float64("score", rep.FinalScore))
	return rep, false
}

// infraFault decides between requeueing and giving up. Image build failures
// are deterministic for the whole batch and never retried.
func (c *Coordinator) infraFault(rep *GradeReport, j job, detail string, err error) (*GradeReport, bool) {
	retryable := !errors.Is(err, sandbox.ErrImageBuild) && !errors.Is(err, context.Canceled)
	if retryable && j.attempts < c.cfg.RetryInfrastructureFailures {
		c.logger.Warn("retrying after infrastructure fault",
			zap.String("submission", j.sub.ID),
			zap.Int("attempt", j.attempts+1),
			zap.Error(err))
		return nil, true
	}
	rep.Fault = FaultInfrastructure
	rep.FaultDetail = detail + ": " + err.Error()
	c.transition(j.sub.ID, StateFailed)
	c.logger.Error("submission failed",
		zap.String("submission", j.sub.ID),
		zap.String("detail", detail),
		zap.Error(err))
	return rep, false
}
