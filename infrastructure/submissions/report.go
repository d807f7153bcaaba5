package submissions

import (
	"fmt"
	"io"
	"math"
	"strings"
	"text/tabwriter"

	"github.com/lexera/go-perplex/internal/domain"
)

const displayTextLimit = 50

// WriteReport renders the human-readable optimization report: per-source
// averages, the selected text per row, the ensemble average, and how
// many rows each source contributed.
func WriteReport(w io.Writer, summary *domain.EnsembleSummary) error {
	fmt.Fprintln(w, "Ensemble Optimization Results:")
	fmt.Fprintln(w, strings.Repeat("-", 60))

	fmt.Fprintln(w, "\nSource Submission Averages:")
	for i, source := range summary.Sources {
		fmt.Fprintf(w, "%s: %s\n", source, formatMean(summary.SourceMeans[i]))
	}

	fmt.Fprintln(w, "\nSelected Optimal Texts:")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Row\tSelected Text\tPerplexity\tSource")
	for _, sel := range summary.Selections {
		score := fmt.Sprintf("%.2f", sel.Score)
		source := sel.SourceID
		if sel.Fallback {
			score = "n/a"
			source = source + " (fallback)"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", sel.Row, truncate(sel.Text), score, source)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nFinal Ensemble Average Perplexity: %s\n", formatMean(summary.EnsembleMean()))

	fmt.Fprintln(w, "\nSource Submission Contribution Analysis:")
	contributions := summary.Contributions()
	total := len(summary.Selections)
	for _, source := range summary.Sources {
		count := contributions[source]
		if count == 0 {
			continue
		}
		pct := float64(count) / float64(total) * 100
		fmt.Fprintf(w, "%s: %d texts (%.1f%%)\n", source, count, pct)
	}

	if fallbacks := countFallbacks(summary.Selections); fallbacks > 0 {
		fmt.Fprintf(w, "\nWarning: %d row(s) fell back to the base submission because every candidate failed to score\n", fallbacks)
	}
	return nil
}

func truncate(text string) string {
	if len(text) > displayTextLimit {
		return text[:displayTextLimit] + "..."
	}
	return text
}

func formatMean(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", v)
}

func countFallbacks(selections []domain.Selection) int {
	n := 0
	for _, sel := range selections {
		if sel.Fallback {
			n++
		}
	}
	return n
}
