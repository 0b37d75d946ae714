// Package grader coordinates grading across a batch of submissions.
//
// The coordinator fans submissions out over a bounded worker pool. Each
// worker owns one sandbox at a time and performs the full
// acquire-run-compare-release cycle, so one submission's hang or crash never
// stalls another worker. Infrastructure faults are retried within a
// configured bound; a student's own failure never is. Every submission that
// was queued ends with exactly one immutable GradeReport, fault or not.
package grader
