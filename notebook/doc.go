// Package notebook defines the immutable value objects exchanged between the
// grading engine and its collaborators: parsed submissions, captured cell
// values, and the instructor's solution specification.
//
// Submissions arrive either already parsed into an ordered cell sequence or
// as raw Jupyter .ipynb documents via ParseNotebook. Solution specifications
// are loaded from YAML documents and validated eagerly so that a malformed
// rule fails at load time rather than silently defaulting during grading.
package notebook
