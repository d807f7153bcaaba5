// Package domain contains the pure data model for perplexity-based
// ensemble optimization: candidate texts, the score matrix, per-row
// selections, and the ensemble summary consumed by the reporting layer.
// The package has no I/O and no dependency on the model runtime.
package domain

import "math"

// Candidate represents one proposed text for one dataset row.
// The ID is the row identifier and is stable across candidate sets.
type Candidate struct {
	// ID uniquely identifies the dataset row this text belongs to.
	ID string `json:"id"`

	// Text contains the proposed text for the row.
	Text string `json:"text"`
}

// CandidateSet is the ordered sequence of candidates from a single
// origin, one per dataset row. Sets being ensembled together must have
// equal length and identical ID sequences; the selector verifies this
// before scoring.
type CandidateSet struct {
	// SourceID identifies the origin of this set, typically a file path.
	SourceID string `json:"source_id"`

	// Candidates holds one candidate per row, in row order.
	Candidates []Candidate `json:"candidates"`
}

// Len returns the number of rows in the set.
func (s CandidateSet) Len() int { return len(s.Candidates) }

// Selection records the outcome of arg-min selection for one row.
type Selection struct {
	// Row is the zero-based row index.
	Row int `json:"row"`

	// Text is the winning candidate text.
	Text string `json:"text"`

	// Score is the perplexity of the winning text.
	// It is +Inf when every candidate for the row failed to score.
	Score float64 `json:"score"`

	// SourceID identifies the candidate set the winning text came from.
	SourceID string `json:"source_id"`

	// Fallback is true when no candidate produced a usable score and the
	// base set's text was kept instead of a scored winner.
	Fallback bool `json:"fallback,omitempty"`
}

// EnsembleSummary aggregates the result of one optimization run.
// It is created once by the selector, never mutated afterwards, and is
// the only input the reporting layer needs.
type EnsembleSummary struct {
	// Sources lists the candidate set identifiers in column order.
	Sources []string `json:"sources"`

	// Matrix is the full rows-by-sources score matrix.
	Matrix *ScoreMatrix `json:"-"`

	// Selections holds one entry per row, in row order.
	Selections []Selection `json:"selections"`

	// SourceMeans holds the mean perplexity per candidate set, aligned
	// with Sources. Failed cells are excluded from the mean; a source
	// whose cells all failed has a NaN mean.
	SourceMeans []float64 `json:"source_means"`
}

// EnsembleMean returns the mean perplexity of the selected texts.
// Fallback rows are excluded; returns NaN if no row was scored.
func (s *EnsembleSummary) EnsembleMean() float64 {
	sum, n := 0.0, 0
	for _, sel := range s.Selections {
		if sel.Fallback {
			continue
		}
		sum += sel.Score
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// Contributions counts, per source, how many rows that source won.
// Fallback rows count toward the base source that supplied the text.
func (s *EnsembleSummary) Contributions() map[string]int {
	counts := make(map[string]int, len(s.Sources))
	for _, sel := range s.Selections {
		counts[sel.SourceID]++
	}
	return counts
}
