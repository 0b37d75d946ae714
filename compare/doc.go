// Package compare scores captured execution results against a solution
// specification.
//
// Compare is a pure function: it never mutates its inputs, reads no clock
// and no randomness, and yields byte-identical results for identical inputs.
// That determinism is what makes grading reproducible and auditable.
//
// Comparison rules are robust to benign nondeterminism: tables are compared
// as multisets of row tuples so nondeterministic row ordering cannot produce
// spurious mismatches, numeric tolerance handles NaN and signed infinities
// explicitly, and string scalars are whitespace-normalized under the exact
// rule.
package compare
