// Package application orchestrates the ensemble optimization workflow
// and owns runtime configuration. It depends only on the domain model
// and the ports; scoring backends and file formats live in
// infrastructure.
package application

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/lexera/go-perplex/internal/domain"
	"github.com/lexera/go-perplex/internal/ports"
)

// SelectorOptions tunes the ensemble selector.
type SelectorOptions struct {
	// Workers bounds concurrent scoring calls. Values below 2 keep the
	// run sequential, which preserves the per-cell evaluation order in
	// logs; results are identical either way.
	Workers int

	// Metrics receives run-level observations when non-nil.
	Metrics ports.MetricsCollector
}

// Selector builds the score matrix over all candidate sets and picks,
// per row, the candidate with the lowest perplexity.
type Selector struct {
	scorer  ports.Scorer
	workers int
	metrics ports.MetricsCollector
	tracer  trace.Tracer
}

// NewSelector creates a selector around the scorer.
func NewSelector(scorer ports.Scorer, opts SelectorOptions) (*Selector, error) {
	if scorer == nil {
		return nil, fmt.Errorf("selector requires a scorer")
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	return &Selector{
		scorer:  scorer,
		workers: workers,
		metrics: opts.Metrics,
		tracer:  otel.Tracer("ensemble-selector"),
	}, nil
}

// Optimize scores every candidate of every set and returns the
// per-row arg-min selection. The first set is the base: its row order
// defines the output order, and its text is kept for any row where
// every candidate failed to score. Misaligned sets abort the run
// before any scoring happens.
func (s *Selector) Optimize(ctx context.Context, sets []domain.CandidateSet) (*domain.EnsembleSummary, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "ensemble.optimize")
	defer span.End()

	summary, err := s.optimize(ctx, sets)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("ensemble.rows", len(summary.Selections)),
		attribute.Int("ensemble.sources", len(summary.Sources)),
	)
	if s.metrics != nil {
		s.metrics.RecordLatency("ensemble_optimize", time.Since(start), nil)
		s.metrics.RecordGauge("ensemble_rows", float64(len(summary.Selections)), nil)
	}
	return summary, nil
}

func (s *Selector) optimize(ctx context.Context, sets []domain.CandidateSet) (*domain.EnsembleSummary, error) {
	if len(sets) == 0 {
		return nil, domain.ErrNoCandidateSets
	}
	if err := verifyAlignment(sets); err != nil {
		return nil, err
	}

	base := sets[0]
	rows := base.Len()

	matrix, err := domain.NewScoreMatrix(rows, len(sets))
	if err != nil {
		return nil, err
	}

	if err := s.populate(ctx, sets, matrix); err != nil {
		return nil, err
	}

	sources := make([]string, len(sets))
	means := make([]float64, len(sets))
	for col, set := range sets {
		sources[col] = set.SourceID
		means[col] = matrix.ColumnMean(col)
		log.Info().Str("source", set.SourceID).Float64("mean_perplexity", means[col]).
			Msg("source scored")
	}

	selections := make([]domain.Selection, rows)
	for row := 0; row < rows; row++ {
		col, score, ok := matrix.ArgMin(row)
		if !ok {
			log.Warn().Int("row", row).
				Msg("every candidate failed to score; keeping base text")
			selections[row] = domain.Selection{
				Row:      row,
				Text:     base.Candidates[row].Text,
				Score:    score,
				SourceID: base.SourceID,
				Fallback: true,
			}
			continue
		}
		selections[row] = domain.Selection{
			Row:      row,
			Text:     sets[col].Candidates[row].Text,
			Score:    score,
			SourceID: sets[col].SourceID,
		}
	}

	return &domain.EnsembleSummary{
		Sources:     sources,
		Matrix:      matrix,
		Selections:  selections,
		SourceMeans: means,
	}, nil
}

// populate fills the matrix cell by cell. Scoring failures are
// recorded in the cell and never abort the run; only context
// cancellation does.
func (s *Selector) populate(ctx context.Context, sets []domain.CandidateSet, matrix *domain.ScoreMatrix) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for col := range sets {
		for row := range sets[col].Candidates {
			col, row := col, row
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				s.scoreCell(ctx, sets[col], row, col, matrix)
				return nil
			})
		}
	}
	return g.Wait()
}

func (s *Selector) scoreCell(ctx context.Context, set domain.CandidateSet, row, col int, matrix *domain.ScoreMatrix) {
	score, err := s.scorer.Score(ctx, set.Candidates[row].Text)
	if err != nil {
		scErr := &domain.ScoringError{SourceID: set.SourceID, Row: row, Err: err}
		matrix.Fail(row, col, scErr)
		log.Warn().Err(err).Str("source", set.SourceID).Int("row", row).
			Msg("candidate failed to score")
		return
	}
	matrix.Set(row, col, score)
}

// verifyAlignment checks that every set has the base's length and id
// sequence, so a matrix cell always refers to the same dataset row in
// every column.
func verifyAlignment(sets []domain.CandidateSet) error {
	base := sets[0]
	for _, set := range sets[1:] {
		if set.Len() != base.Len() {
			return &domain.AlignmentError{
				SourceID: set.SourceID,
				Row:      -1,
				Detail:   fmt.Sprintf("has %d rows, base has %d", set.Len(), base.Len()),
			}
		}
		for row := range base.Candidates {
			if set.Candidates[row].ID != base.Candidates[row].ID {
				return &domain.AlignmentError{
					SourceID: set.SourceID,
					Row:      row,
					Detail: fmt.Sprintf("id %q does not match base id %q",
						set.Candidates[row].ID, base.Candidates[row].ID),
				}
			}
		}
	}
	return nil
}
