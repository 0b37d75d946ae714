package notebook

import "fmt"

// CellKind distinguishes executable code cells from markdown prose.
type CellKind string

// CellKind constants
const (
	CellCode     CellKind = "code"
	CellMarkdown CellKind = "markdown"
)

// Cell is one cell of a parsed submission. Index is the position in the
// original notebook, counting every cell kind.
type Cell struct {
	Index  int      `json:"index"`
	Source string   `json:"source"`
	Kind   CellKind `json:"kind"`
}

// Submission is a parsed, ordered sequence of cells authored by one student.
// It is treated as immutable once ingested.
type Submission struct {
	ID    string `json:"id"`
	Cells []Cell `json:"cells"`
}

// CodeCells returns the code cells of the submission in source order.
func (s *Submission) CodeCells() []Cell {
	cells := make([]Cell, 0, len(s.Cells))
	for _, c := range s.Cells {
		if c.Kind == CellCode {
			cells = append(cells, c)
		}
	}
	return cells
}

// ValueKind is the tag of the closed Value variant.
type ValueKind string

// ValueKind constants
const (
	KindMissing ValueKind = "missing"
	KindScalar  ValueKind = "scalar"
	KindTable   ValueKind = "table"
	KindBlob    ValueKind = "blob"
)

// Value is a captured gradable result. Exactly one of the payload fields is
// meaningful, selected by Kind; comparison dispatches on the tag rather than
// on runtime type inspection.
type Value struct {
	Kind   ValueKind `json:"kind" yaml:"kind"`
	Scalar any       `json:"scalar,omitempty" yaml:"scalar,omitempty"`
	Table  *Table    `json:"table,omitempty" yaml:"table,omitempty"`
	Blob   []byte    `json:"blob,omitempty" yaml:"blob,omitempty"`
}

// Table is a rectangular captured value. Row order carries no meaning unless
// a comparison rule says otherwise.
type Table struct {
	Columns []string `json:"columns" yaml:"columns"`
	Rows    [][]any  `json:"rows" yaml:"rows"`
}

// MissingValue returns the Value representing an absent result.
func MissingValue() Value {
	return Value{Kind: KindMissing}
}

// ScalarValue wraps a scalar payload.
func ScalarValue(v any) Value {
	return Value{Kind: KindScalar, Scalar: v}
}

// TableValue wraps a table payload.
func TableValue(t *Table) Value {
	return Value{Kind: KindTable, Table: t}
}

// BlobValue wraps an opaque byte payload.
func BlobValue(b []byte) Value {
	return Value{Kind: KindBlob, Blob: b}
}

// NumericScalar extracts a float64 from a scalar payload of any Go numeric
// type, as produced by YAML or JSON decoding.
func NumericScalar(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// IsMissing reports whether the value represents an absent result.
func (v Value) IsMissing() bool {
	return v.Kind == KindMissing || v.Kind == ""
}

// Validate checks that the tag and payload agree.
func (v Value) Validate() error {
	switch v.Kind {
	case KindMissing, "":
		return nil
	case KindScalar:
		return nil
	case KindTable:
		if v.Table == nil {
			return fmt.Errorf("table value without table payload")
		}
		for i, row := range v.Table.Rows {
			if len(v.Table.Columns) > 0 && len(row) != len(v.Table.Columns) {
				return fmt.Errorf("table row %d has %d fields, want %d", i, len(row), len(v.Table.Columns))
			}
		}
		return nil
	case KindBlob:
		return nil
	default:
		return fmt.Errorf("unknown value kind: %q", v.Kind)
	}
}
