package domain

import (
	"fmt"
	"math"
)

// ScoreMatrix is the rows-by-sources grid of perplexity values produced
// by one ensemble run. Cells are written exactly once during matrix
// population and read-only afterwards. A failed scoring attempt is
// recorded explicitly so arg-min selection can never prefer it; failed
// cells read as +Inf rather than a silent zero.
//
// Cell writes are disjoint, so concurrent population across distinct
// (row, col) pairs needs no synchronization.
type ScoreMatrix struct {
	rows   int
	cols   int
	scores []float64
	errs   []error
}

// NewScoreMatrix creates a matrix for the given dimensions with every
// cell initialized to NaN (unpopulated).
func NewScoreMatrix(rows, cols int) (*ScoreMatrix, error) {
	if rows < 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: rows=%d, cols=%d", ErrInvalidDimensions, rows, cols)
	}
	scores := make([]float64, rows*cols)
	for i := range scores {
		scores[i] = math.NaN()
	}
	return &ScoreMatrix{
		rows:   rows,
		cols:   cols,
		scores: scores,
		errs:   make([]error, rows*cols),
	}, nil
}

// Rows returns the number of dataset rows.
func (m *ScoreMatrix) Rows() int { return m.rows }

// Cols returns the number of candidate sets.
func (m *ScoreMatrix) Cols() int { return m.cols }

// Set records a successfully computed score for a cell.
func (m *ScoreMatrix) Set(row, col int, score float64) {
	m.scores[m.index(row, col)] = score
}

// Fail marks a cell as failed. The cell reads as +Inf and the error is
// retained for reporting.
func (m *ScoreMatrix) Fail(row, col int, err error) {
	i := m.index(row, col)
	m.scores[i] = math.Inf(1)
	m.errs[i] = err
}

// Score returns the value stored in a cell. Failed cells return +Inf;
// unpopulated cells return NaN.
func (m *ScoreMatrix) Score(row, col int) float64 {
	return m.scores[m.index(row, col)]
}

// CellErr returns the retained error for a failed cell, or nil.
func (m *ScoreMatrix) CellErr(row, col int) error {
	return m.errs[m.index(row, col)]
}

// ArgMin returns the column holding the lowest score in the given row.
// Failed (+Inf) and unpopulated (NaN) cells are skipped. Exact ties
// resolve to the lowest column index. The boolean is false when no cell
// in the row holds a usable score.
func (m *ScoreMatrix) ArgMin(row int) (col int, score float64, ok bool) {
	best := math.Inf(1)
	bestCol := -1
	for c := 0; c < m.cols; c++ {
		v := m.Score(row, c)
		if math.IsNaN(v) || math.IsInf(v, 1) {
			continue
		}
		if v < best {
			best = v
			bestCol = c
		}
	}
	if bestCol < 0 {
		return 0, math.Inf(1), false
	}
	return bestCol, best, true
}

// ColumnMean returns the mean of the successfully scored cells in a
// column, or NaN when the column has no usable scores.
func (m *ScoreMatrix) ColumnMean(col int) float64 {
	sum, n := 0.0, 0
	for r := 0; r < m.rows; r++ {
		v := m.Score(r, col)
		if math.IsNaN(v) || math.IsInf(v, 1) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

func (m *ScoreMatrix) index(row, col int) int {
	if row < 0 || row >= m.rows || col < 0 || col >= m.cols {
		panic(fmt.Sprintf("score matrix index out of range: row=%d, col=%d, dims=%dx%d",
			row, col, m.rows, m.cols))
	}
	return row*m.cols + col
}
