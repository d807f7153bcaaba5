package domain

import (
	"errors"
	"fmt"
)

// Common domain errors surfaced during discovery, scoring, and selection.
var (
	// ErrNoSubmissionsFound indicates that the discovery walk matched no
	// submission files at all.
	ErrNoSubmissionsFound = errors.New("no submission files found")

	// ErrNoValidSubmissions indicates that files were matched but none
	// exposed the required id and text columns.
	ErrNoValidSubmissions = errors.New("no valid submission files found")

	// ErrNoCandidateSets indicates that selection was invoked without any
	// candidate sets.
	ErrNoCandidateSets = errors.New("no candidate sets to ensemble")

	// ErrDegenerateInput indicates a text that tokenizes to fewer than
	// one scorable token pair, leaving nothing to average.
	ErrDegenerateInput = errors.New("sequence has no scorable tokens")

	// ErrInvalidDimensions indicates an attempt to build a score matrix
	// with a non-positive axis.
	ErrInvalidDimensions = errors.New("invalid score matrix dimensions")
)

// AlignmentError reports candidate sets whose rows do not line up with
// the base set. Row alignment is purely positional, so any divergence in
// count or identifier sequence makes the ensemble meaningless and the
// run fails before scoring begins.
type AlignmentError struct {
	// SourceID identifies the misaligned candidate set.
	SourceID string

	// Row is the first diverging row index, or -1 for a length mismatch.
	Row int

	// Detail describes the divergence.
	Detail string
}

// Error implements the error interface for AlignmentError.
func (e *AlignmentError) Error() string {
	if e.Row < 0 {
		return fmt.Sprintf("candidate set %s is misaligned: %s", e.SourceID, e.Detail)
	}
	return fmt.Sprintf("candidate set %s is misaligned at row %d: %s", e.SourceID, e.Row, e.Detail)
}

// ScoringError reports a failure to score a single text. It is scoped to
// one (source, row) cell; in batch mode it marks the cell failed without
// aborting the run.
type ScoringError struct {
	// SourceID identifies the candidate set the text came from.
	SourceID string

	// Row is the zero-based row index of the text.
	Row int

	// Err is the underlying tokenizer or model failure.
	Err error
}

// Error implements the error interface for ScoringError.
func (e *ScoringError) Error() string {
	return fmt.Sprintf("scoring failed for %s row %d: %v", e.SourceID, e.Row, e.Err)
}

// Unwrap returns the underlying error, supporting errors.Is and errors.As.
func (e *ScoringError) Unwrap() error { return e.Err }
