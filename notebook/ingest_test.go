package notebook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNotebook(t *testing.T) {
	doc := `{
		"nbformat": 4,
		"cells": [
			{"cell_type": "markdown", "source": ["# Homework 1\n", "Read the data."]},
			{"cell_type": "code", "source": ["import pandas as pd\n", "df = pd.read_csv('data.csv')"]},
			{"cell_type": "code", "source": "df.mean()"}
		]
	}`

	sub, err := ParseNotebook("student-3", []byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "student-3", sub.ID)
	require.Len(t, sub.Cells, 3)

	assert.Equal(t, CellMarkdown, sub.Cells[0].Kind)
	assert.Equal(t, "# Homework 1\nRead the data.", sub.Cells[0].Source)

	// Indices count markdown cells too, so they match the editor view.
	assert.Equal(t, 1, sub.Cells[1].Index)
	assert.Equal(t, CellCode, sub.Cells[1].Kind)
	assert.Equal(t, "import pandas as pd\ndf = pd.read_csv('data.csv')", sub.Cells[1].Source)

	// Single-string source encoding.
	assert.Equal(t, "df.mean()", sub.Cells[2].Source)

	code := sub.CodeCells()
	require.Len(t, code, 2)
}

func TestParseNotebookErrors(t *testing.T) {
	t.Run("NotJSON", func(t *testing.T) {
		_, err := ParseNotebook("s", []byte("not a notebook"))
		require.Error(t, err)
	})

	t.Run("NoCells", func(t *testing.T) {
		_, err := ParseNotebook("s", []byte(`{"cells": []}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no cells")
	})

	t.Run("BadSourceEncoding", func(t *testing.T) {
		_, err := ParseNotebook("s", []byte(`{"cells": [{"cell_type": "code", "source": 42}]}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cell 0")
	})
}
