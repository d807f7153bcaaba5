package submissions

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/lexera/go-perplex/internal/domain"
)

// WriteMerged writes the ensemble submission: the base set's ids in
// order with each row's text replaced by the winning candidate.
func WriteMerged(path string, base domain.CandidateSet, selections []domain.Selection) error {
	if len(selections) != base.Len() {
		return fmt.Errorf("selection count %d does not match base rows %d",
			len(selections), base.Len())
	}

	records := make([][]string, 0, base.Len()+1)
	records = append(records, []string{"id", "text"})
	for i, cand := range base.Candidates {
		records = append(records, []string{cand.ID, selections[i].Text})
	}
	return writeCSV(path, records)
}

// WriteAnalysis writes the per-row selection detail: winning text,
// score, and source submission.
func WriteAnalysis(path string, summary *domain.EnsembleSummary) error {
	records := make([][]string, 0, len(summary.Selections)+1)
	records = append(records, []string{"Row", "Optimized_Text", "Perplexity", "Source"})
	for _, sel := range summary.Selections {
		records = append(records, []string{
			strconv.Itoa(sel.Row),
			sel.Text,
			formatScore(sel.Score),
			sel.SourceID,
		})
	}
	return writeCSV(path, records)
}

// WriteScoreMatrix dumps the raw rows-by-sources score matrix with a
// leading row-index column, one source per column.
func WriteScoreMatrix(path string, summary *domain.EnsembleSummary) error {
	header := make([]string, 0, len(summary.Sources)+1)
	header = append(header, "")
	header = append(header, summary.Sources...)

	records := [][]string{header}
	for row := 0; row < summary.Matrix.Rows(); row++ {
		record := make([]string, 0, len(summary.Sources)+1)
		record = append(record, strconv.Itoa(row))
		for col := range summary.Sources {
			record = append(record, formatScore(summary.Matrix.Score(row, col)))
		}
		records = append(records, record)
	}
	return writeCSV(path, records)
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func writeCSV(path string, records [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.WriteAll(records); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}
