package notebook

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ipynbDoc mirrors the subset of the Jupyter notebook format the engine
// needs: cell types and source text. Outputs embedded in the file are
// ignored; grading trusts only values captured during a sandboxed run.
type ipynbDoc struct {
	Cells []ipynbCell `json:"cells"`
}

type ipynbCell struct {
	CellType string          `json:"cell_type"`
	Source   json.RawMessage `json:"source"`
}

// ParseNotebook parses a Jupyter .ipynb document into a Submission. Cell
// indices count every cell in document order, including markdown and raw
// cells, so they line up with what the student sees in their editor.
func ParseNotebook(id string, data []byte) (*Submission, error) {
	var doc ipynbDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse notebook: %w", err)
	}
	if len(doc.Cells) == 0 {
		return nil, fmt.Errorf("notebook has no cells")
	}

	sub := &Submission{ID: id}
	for i, c := range doc.Cells {
		source, err := cellSource(c.Source)
		if err != nil {
			return nil, fmt.Errorf("cell %d: %w", i, err)
		}
		kind := CellMarkdown
		if c.CellType == "code" {
			kind = CellCode
		}
		sub.Cells = append(sub.Cells, Cell{
			Index:  i,
			Source: source,
			Kind:   kind,
		})
	}
	return sub, nil
}

// cellSource accepts both source encodings the format allows: a single
// string or a list of line strings.
func cellSource(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return single, nil
	}
	var lines []string
	if err := json.Unmarshal(raw, &lines); err == nil {
		return strings.Join(lines, ""), nil
	}
	return "", fmt.Errorf("unsupported source encoding")
}
