package submissions

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexera/go-perplex/internal/domain"
)

func TestWriteReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, sampleSummary(t)))
	out := buf.String()

	assert.Contains(t, out, "Ensemble Optimization Results:")
	assert.Contains(t, out, "a/submission.csv: 10.25")
	assert.Contains(t, out, "b/submission.csv: 9.25")
	assert.Contains(t, out, "better text")
	assert.Contains(t, out, "Final Ensemble Average Perplexity: 8.63")
	assert.Contains(t, out, "a/submission.csv: 1 texts (50.0%)")
	assert.Contains(t, out, "b/submission.csv: 1 texts (50.0%)")
	assert.NotContains(t, out, "Warning")
}

func TestWriteReport_TruncatesLongTexts(t *testing.T) {
	long := strings.Repeat("x", 80)
	matrix, err := domain.NewScoreMatrix(1, 1)
	require.NoError(t, err)
	matrix.Set(0, 0, 5.0)

	summary := &domain.EnsembleSummary{
		Sources:     []string{"s"},
		Matrix:      matrix,
		Selections:  []domain.Selection{{Row: 0, Text: long, Score: 5.0, SourceID: "s"}},
		SourceMeans: []float64{5.0},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, summary))
	assert.Contains(t, buf.String(), strings.Repeat("x", 50)+"...")
	assert.NotContains(t, buf.String(), strings.Repeat("x", 51))
}

func TestWriteReport_FallbackRows(t *testing.T) {
	matrix, err := domain.NewScoreMatrix(1, 1)
	require.NoError(t, err)
	matrix.Fail(0, 0, assert.AnError)

	summary := &domain.EnsembleSummary{
		Sources: []string{"s"},
		Matrix:  matrix,
		Selections: []domain.Selection{
			{Row: 0, Text: "kept", Score: math.Inf(1), SourceID: "s", Fallback: true},
		},
		SourceMeans: []float64{math.NaN()},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, summary))
	out := buf.String()

	assert.Contains(t, out, "Warning: 1 row(s) fell back")
	assert.Contains(t, out, "(fallback)")
	assert.Contains(t, out, "s: n/a", "all-failed source mean must render as n/a")
	assert.Contains(t, out, "Final Ensemble Average Perplexity: n/a")
}
