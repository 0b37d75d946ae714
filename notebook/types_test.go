package notebook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeCells(t *testing.T) {
	sub := &Submission{
		ID: "s1",
		Cells: []Cell{
			{Index: 0, Source: "# intro", Kind: CellMarkdown},
			{Index: 1, Source: "x = 1", Kind: CellCode},
			{Index: 2, Source: "notes", Kind: CellMarkdown},
			{Index: 3, Source: "x + 1", Kind: CellCode},
		},
	}

	code := sub.CodeCells()
	require.Len(t, code, 2)
	assert.Equal(t, 1, code[0].Index)
	assert.Equal(t, 3, code[1].Index)
}

func TestValueConstructors(t *testing.T) {
	assert.True(t, MissingValue().IsMissing())
	assert.True(t, Value{}.IsMissing())
	assert.False(t, ScalarValue(1).IsMissing())

	v := TableValue(&Table{Columns: []string{"a"}, Rows: [][]any{{1}}})
	assert.Equal(t, KindTable, v.Kind)

	b := BlobValue([]byte{0x89, 0x50})
	assert.Equal(t, KindBlob, b.Kind)
}

func TestValueValidate(t *testing.T) {
	t.Run("TableWithoutPayload", func(t *testing.T) {
		err := Value{Kind: KindTable}.Validate()
		require.Error(t, err)
	})

	t.Run("RaggedTable", func(t *testing.T) {
		err := TableValue(&Table{
			Columns: []string{"a", "b"},
			Rows:    [][]any{{1, 2}, {3}},
		}).Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "row 1")
	})

	t.Run("UnknownKind", func(t *testing.T) {
		err := Value{Kind: "tensor"}.Validate()
		require.Error(t, err)
	})

	t.Run("Valid", func(t *testing.T) {
		assert.NoError(t, MissingValue().Validate())
		assert.NoError(t, ScalarValue("ok").Validate())
		assert.NoError(t, BlobValue(nil).Validate())
	})
}

func TestNumericScalar(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected float64
		ok       bool
	}{
		{"Int", 42, 42, true},
		{"Int64", int64(-7), -7, true},
		{"Uint", uint(3), 3, true},
		{"Float64", 1.5, 1.5, true},
		{"Float32", float32(0.5), 0.5, true},
		{"String", "42", 0, false},
		{"Bool", true, 0, false},
		{"Nil", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NumericScalar(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.expected, got)
			}
		})
	}
}
