package compare

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/chandraveshchaudhari/instantgrade/notebook"
	"github.com/chandraveshchaudhari/instantgrade/runner"
)

// Verdict reasons for unmatched outcomes. Matched verdicts carry ReasonMatched.
const (
	ReasonMatched          = "matched"
	ReasonMissing          = "missing"
	ReasonProtocolMismatch = "protocol mismatch"
)

// Verdict is the outcome of comparing one expected outcome against one
// captured value.
type Verdict struct {
	Target   string         `json:"target"`
	Matched  bool           `json:"matched"`
	Reason   string         `json:"reason"`
	Actual   notebook.Value `json:"actual"`
	Expected notebook.Value `json:"expected"`
	Weight   float64        `json:"weight"`
}

// ComparisonResult aggregates the per-outcome verdicts into a weighted score
// in [0,1].
type ComparisonResult struct {
	Verdicts []Verdict `json:"verdicts"`
	Score    float64   `json:"score"`
}

// Compare scores an execution result against a solution spec. It is pure:
// identical inputs always yield identical output, and neither argument is
// mutated.
func Compare(res *runner.ExecutionResult, spec *notebook.SolutionSpec) (*ComparisonResult, error) {
	if res == nil {
		return nil, fmt.Errorf("nil execution result")
	}
	if spec == nil {
		return nil, fmt.Errorf("nil solution spec")
	}

	result := &ComparisonResult{}
	var weightSum, passSum float64

	for _, outcome := range spec.Outcomes {
		v := Verdict{
			Target:   outcome.Target(),
			Expected: outcome.Expected,
			Actual:   notebook.MissingValue(),
			Weight:   outcome.Weight,
		}

		if res.Status == runner.ExecProtocolMismatch {
			v.Reason = ReasonProtocolMismatch
		} else {
			actual, found := lookup(res, outcome)
			if !found || actual.IsMissing() {
				v.Reason = ReasonMissing
			} else {
				v.Actual = actual
				matched, reason, err := applyRule(actual, outcome, spec)
				if err != nil {
					return nil, fmt.Errorf("outcome %s: %w", outcome.Target(), err)
				}
				v.Matched = matched
				v.Reason = reason
			}
		}

		weightSum += outcome.Weight
		if v.Matched {
			passSum += outcome.Weight
		}
		result.Verdicts = append(result.Verdicts, v)
	}

	if weightSum > 0 {
		result.Score = passSum / weightSum
	}
	return result, nil
}

// lookup finds the captured value an expected outcome targets: a designated
// symbol, or the displayed value of a cell.
func lookup(res *runner.ExecutionResult, outcome notebook.ExpectedOutcome) (notebook.Value, bool) {
	if outcome.Symbol != "" {
		return res.Symbol(outcome.Symbol)
	}
	cell, ok := res.Cell(*outcome.CellIndex)
	if !ok || cell.Status != runner.CellOK {
		return notebook.MissingValue(), false
	}
	return cell.Value, true
}

func applyRule(actual notebook.Value, outcome notebook.ExpectedOutcome, spec *notebook.SolutionSpec) (bool, string, error) {
	expected := outcome.Expected
	switch outcome.Rule.Name {
	case notebook.RuleExact:
		return exactMatch(actual, expected)
	case notebook.RuleNumericTolerance:
		return toleranceMatch(actual, expected, outcome.Rule)
	case notebook.RuleSubset:
		return containmentMatch(actual, expected, false)
	case notebook.RuleSuperset:
		return containmentMatch(actual, expected, true)
	case notebook.RuleCustom:
		pred, ok := spec.Predicate(outcome.Rule.Custom)
		if !ok {
			return false, "", fmt.Errorf("unregistered predicate: %q", outcome.Rule.Custom)
		}
		matched, reason := pred(actual, expected)
		if reason == "" {
			reason = ReasonMatched
		}
		return matched, reason, nil
	default:
		return false, "", fmt.Errorf("unknown comparison rule: %q", outcome.Rule.Name)
	}
}

func exactMatch(actual, expected notebook.Value) (bool, string, error) {
	if actual.Kind != expected.Kind {
		return false, fmt.Sprintf("kind mismatch: expected %s, got %s", expected.Kind, actual.Kind), nil
	}
	switch expected.Kind {
	case notebook.KindScalar:
		if scalarsEqual(actual.Scalar, expected.Scalar) {
			return true, ReasonMatched, nil
		}
		return false, "scalar value mismatch", nil
	case notebook.KindTable:
		return tablesEqual(actual.Table, expected.Table)
	case notebook.KindBlob:
		if bytes.Equal(actual.Blob, expected.Blob) {
			return true, ReasonMatched, nil
		}
		return false, "blob content mismatch", nil
	default:
		return false, "", fmt.Errorf("exact rule cannot compare %s values", expected.Kind)
	}
}

// scalarsEqual compares scalars after normalization: numeric values compare
// as float64 regardless of concrete type, strings compare with whitespace
// collapsed.
func scalarsEqual(a, b any) bool {
	af, aNum := notebook.NumericScalar(a)
	bf, bNum := notebook.NumericScalar(b)
	if aNum && bNum {
		return af == bf
	}
	if aNum != bNum {
		return false
	}
	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		return normalizeWhitespace(as) == normalizeWhitespace(bs)
	}
	return a == b
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func tablesEqual(actual, expected *notebook.Table) (bool, string, error) {
	if actual == nil || expected == nil {
		return false, "missing table payload", nil
	}
	if len(expected.Columns) > 0 && len(actual.Columns) > 0 {
		if len(actual.Columns) != len(expected.Columns) {
			return false, fmt.Sprintf("column count mismatch: expected %d, got %d", len(expected.Columns), len(actual.Columns)), nil
		}
		for i := range expected.Columns {
			if actual.Columns[i] != expected.Columns[i] {
				return false, fmt.Sprintf("column %d mismatch: expected %q, got %q", i, expected.Columns[i], actual.Columns[i]), nil
			}
		}
	}
	if len(actual.Rows) != len(expected.Rows) {
		return false, fmt.Sprintf("row count mismatch: expected %d, got %d", len(expected.Rows), len(actual.Rows)), nil
	}

	// Rows compare as multisets of row tuples: ordering is benign
	// nondeterminism, not a wrong answer.
	counts, err := rowMultiset(expected.Rows)
	if err != nil {
		return false, "", err
	}
	for _, row := range actual.Rows {
		key, err := rowKey(row)
		if err != nil {
			return false, "", err
		}
		if counts[key] == 0 {
			return false, "unexpected row in table", nil
		}
		counts[key]--
	}
	return true, ReasonMatched, nil
}

// containmentMatch checks multiset containment between expected and actual
// rows. With superset=false the expected rows must all appear in the actual
// table; with superset=true every actual row must appear in the expected
// table.
func containmentMatch(actual, expected notebook.Value, superset bool) (bool, string, error) {
	if actual.Kind != notebook.KindTable || actual.Table == nil {
		return false, fmt.Sprintf("kind mismatch: expected table, got %s", actual.Kind), nil
	}
	if expected.Table == nil {
		return false, "", fmt.Errorf("expected value has no table payload")
	}

	outer, inner := actual.Table.Rows, expected.Table.Rows
	if superset {
		outer, inner = expected.Table.Rows, actual.Table.Rows
	}

	counts, err := rowMultiset(outer)
	if err != nil {
		return false, "", err
	}
	for _, row := range inner {
		key, err := rowKey(row)
		if err != nil {
			return false, "", err
		}
		if counts[key] == 0 {
			if superset {
				return false, "row not allowed by expected table", nil
			}
			return false, "required row missing from table", nil
		}
		counts[key]--
	}
	return true, ReasonMatched, nil
}

func rowMultiset(rows [][]any) (map[string]int, error) {
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		key, err := rowKey(row)
		if err != nil {
			return nil, err
		}
		counts[key]++
	}
	return counts, nil
}

// rowKey canonicalizes a row into a deterministic fingerprint so rows
// compare by value, not by concrete numeric type or field order quirks.
func rowKey(row []any) (string, error) {
	normalized := make([]any, len(row))
	for i, cell := range row {
		normalized[i] = normalizeCell(cell)
	}
	key, err := json.Marshal(normalized)
	if err != nil {
		return "", fmt.Errorf("failed to fingerprint row: %w", err)
	}
	return string(key), nil
}

func normalizeCell(v any) any {
	if f, ok := notebook.NumericScalar(v); ok {
		return f
	}
	if s, ok := v.(string); ok {
		return normalizeWhitespace(s)
	}
	if v == nil {
		return nil
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return fmt.Sprint(v)
}

func toleranceMatch(actual, expected notebook.Value, rule notebook.ComparisonRule) (bool, string, error) {
	if actual.Kind != notebook.KindScalar {
		return false, fmt.Sprintf("kind mismatch: expected scalar, got %s", actual.Kind), nil
	}
	af, ok := notebook.NumericScalar(actual.Scalar)
	if !ok {
		return false, fmt.Sprintf("non-numeric actual value: %T", actual.Scalar), nil
	}
	ef, ok := notebook.NumericScalar(expected.Scalar)
	if !ok {
		return false, "", fmt.Errorf("non-numeric expected value: %T", expected.Scalar)
	}

	switch {
	case math.IsNaN(ef) || math.IsNaN(af):
		// NaN equals NaN and nothing else.
		if math.IsNaN(ef) && math.IsNaN(af) {
			return true, ReasonMatched, nil
		}
		return false, "NaN compared against a number", nil
	case math.IsInf(ef, 0) || math.IsInf(af, 0):
		// Infinities compare by sign.
		if math.IsInf(ef, 1) && math.IsInf(af, 1) || math.IsInf(ef, -1) && math.IsInf(af, -1) {
			return true, ReasonMatched, nil
		}
		return false, "infinity sign mismatch", nil
	}

	diff := math.Abs(af - ef)
	bound := rule.Eps
	if rule.Mode == notebook.ModeRelative {
		bound = rule.Eps * math.Max(math.Abs(af), math.Abs(ef))
	}
	if diff <= bound {
		return true, ReasonMatched, nil
	}
	return false, fmt.Sprintf("|%v - %v| = %v exceeds tolerance %v", af, ef, diff, bound), nil
}
