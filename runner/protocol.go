package runner

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/chandraveshchaudhari/instantgrade/notebook"
)

// ProtocolVersion is the in-sandbox result contract version this engine
// expects. A result document declaring a different version is a protocol
// mismatch, reported distinctly from a wrong answer.
const ProtocolVersion = 1

// Reserved workdir paths of the in-sandbox contract.
const (
	ManifestFile = "cells.json"
	HarnessFile  = "harness.py"
	ResultFile   = ".instantgrade/result.json"
)

// manifest is the document the harness reads: the code cells to execute,
// the symbols to snapshot, and the execution policy.
type manifest struct {
	Protocol int            `json:"protocol"`
	Cells    []manifestCell `json:"cells"`
	Symbols  []string       `json:"symbols"`
	Options  manifestOpts   `json:"options"`
}

type manifestCell struct {
	Index  int    `json:"index"`
	Source string `json:"source"`
}

type manifestOpts struct {
	StopOnError   bool  `json:"stop_on_error"`
	CellTimeoutMs int64 `json:"cell_timeout_ms"`
}

// resultDoc mirrors the JSON the harness writes to ResultFile.
type resultDoc struct {
	Protocol int                  `json:"protocol"`
	Cells    []resultCell         `json:"cells"`
	Symbols  map[string]wireValue `json:"symbols"`
}

type resultCell struct {
	Index      int       `json:"index"`
	Status     string    `json:"status"`
	Stdout     string    `json:"stdout"`
	Stderr     string    `json:"stderr"`
	DurationMs int64     `json:"duration_ms"`
	Value      wireValue `json:"value"`
}

// wireValue is the harness-side encoding of a captured value; blobs travel
// base64-encoded because the document is JSON.
type wireValue struct {
	Kind   string          `json:"kind"`
	Scalar any             `json:"scalar,omitempty"`
	Table  *notebook.Table `json:"table,omitempty"`
	Blob   string          `json:"blob,omitempty"`
}

func (w wireValue) decode() (notebook.Value, error) {
	switch notebook.ValueKind(w.Kind) {
	case notebook.KindMissing, "":
		return notebook.MissingValue(), nil
	case notebook.KindScalar:
		return notebook.ScalarValue(w.Scalar), nil
	case notebook.KindTable:
		if w.Table == nil {
			return notebook.Value{}, fmt.Errorf("table value without table payload")
		}
		return notebook.TableValue(w.Table), nil
	case notebook.KindBlob:
		raw, err := base64.StdEncoding.DecodeString(w.Blob)
		if err != nil {
			return notebook.Value{}, fmt.Errorf("failed to decode blob value: %w", err)
		}
		return notebook.BlobValue(raw), nil
	default:
		return notebook.Value{}, fmt.Errorf("unknown value kind in result: %q", w.Kind)
	}
}

func parseResultDoc(data []byte) (*resultDoc, error) {
	var doc resultDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse result document: %w", err)
	}
	return &doc, nil
}
