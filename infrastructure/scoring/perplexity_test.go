package scoring

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexera/go-perplex/internal/domain"
	"github.com/lexera/go-perplex/internal/ports"
	"github.com/lexera/go-perplex/internal/testutils"
)

// favorTargets returns a ForwardFn whose logits assign `strength` to the
// actual next token at every position and zero elsewhere, so alignment
// bugs (scoring the current token instead of the next) become visible.
func favorTargets(vocab int, strength float32) func(context.Context, []int64) ([][]float32, error) {
	return func(_ context.Context, ids []int64) ([][]float32, error) {
		out := make([][]float32, len(ids))
		for i := range ids {
			out[i] = make([]float32, vocab)
			if i+1 < len(ids) {
				out[i][ids[i+1]] = strength
			}
		}
		return out, nil
	}
}

// TestPerplexityScorer_UniformModel pins the reduction against a model
// with uniform logits: every token loss is ln(V), so the perplexity of
// any text is exactly the vocabulary size.
func TestPerplexityScorer_UniformModel(t *testing.T) {
	model := testutils.NewStubModel()
	scorer, err := NewPerplexityScorer(model)
	require.NoError(t, err)

	tests := []struct {
		name string
		text string
	}{
		{name: "multi word text", text: "the quick brown fox"},
		{name: "single word", text: "hello"},
		{name: "empty text scores the marker pair alone", text: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := scorer.Score(context.Background(), tt.text)
			require.NoError(t, err)
			assert.InDelta(t, float64(model.VocabSize), got, 1e-9)
			assert.False(t, math.IsInf(got, 0))
			assert.GreaterOrEqual(t, got, 0.0)
		})
	}
}

func TestPerplexityScorer_Deterministic(t *testing.T) {
	scorer, err := NewPerplexityScorer(testutils.NewStubModel())
	require.NoError(t, err)

	first, err := scorer.Score(context.Background(), "same text twice")
	require.NoError(t, err)
	second, err := scorer.Score(context.Background(), "same text twice")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

// TestPerplexityScorer_ShiftAlignment verifies the one-position shift:
// a model that concentrates probability on each actual next token must
// score near 1, while the same mass on the current token must not.
func TestPerplexityScorer_ShiftAlignment(t *testing.T) {
	aligned := testutils.NewStubModel()
	aligned.ForwardFn = favorTargets(aligned.VocabSize, 12)

	misaligned := testutils.NewStubModel()
	misaligned.ForwardFn = func(_ context.Context, ids []int64) ([][]float32, error) {
		out := make([][]float32, len(ids))
		for i := range ids {
			out[i] = make([]float32, misaligned.VocabSize)
			out[i][ids[i]] = 12
		}
		return out, nil
	}

	alignedScorer, err := NewPerplexityScorer(aligned)
	require.NoError(t, err)
	misalignedScorer, err := NewPerplexityScorer(misaligned)
	require.NoError(t, err)

	text := "tokens shift by one position"
	good, err := alignedScorer.Score(context.Background(), text)
	require.NoError(t, err)
	bad, err := misalignedScorer.Score(context.Background(), text)
	require.NoError(t, err)

	assert.Less(t, good, 1.01, "aligned model should be near-certain")
	assert.Greater(t, bad, good, "current-token mass must not help the next-token prediction")
}

// TestPerplexityScorer_Monotonicity: assigning uniformly higher
// probability to every target strictly lowers perplexity.
func TestPerplexityScorer_Monotonicity(t *testing.T) {
	confident := testutils.NewStubModel()
	confident.ForwardFn = favorTargets(confident.VocabSize, 5)

	hesitant := testutils.NewStubModel()
	hesitant.ForwardFn = favorTargets(hesitant.VocabSize, 2)

	confidentScorer, err := NewPerplexityScorer(confident)
	require.NoError(t, err)
	hesitantScorer, err := NewPerplexityScorer(hesitant)
	require.NoError(t, err)

	text := "a b c d e f"
	lo, err := confidentScorer.Score(context.Background(), text)
	require.NoError(t, err)
	hi, err := hesitantScorer.Score(context.Background(), text)
	require.NoError(t, err)
	assert.Less(t, lo, hi)
}

// The final position's distribution has no target; garbage there must
// not leak into the score.
func TestPerplexityScorer_FinalDistributionDiscarded(t *testing.T) {
	model := testutils.NewStubModel()
	model.ForwardFn = func(ctx context.Context, ids []int64) ([][]float32, error) {
		out := make([][]float32, len(ids))
		for i := range ids {
			out[i] = make([]float32, model.VocabSize)
		}
		for j := range out[len(out)-1] {
			out[len(out)-1][j] = float32(math.NaN())
		}
		return out, nil
	}

	scorer, err := NewPerplexityScorer(model)
	require.NoError(t, err)

	got, err := scorer.Score(context.Background(), "trailing logits are unused")
	require.NoError(t, err)
	assert.False(t, math.IsNaN(got))
	assert.InDelta(t, float64(model.VocabSize), got, 1e-9)
}

func TestPerplexityScorer_DegenerateInput(t *testing.T) {
	model := testutils.NewStubModel()
	model.BOSID = -1
	model.EOSID = -1

	scorer, err := NewPerplexityScorer(model)
	require.NoError(t, err)

	_, err = scorer.Score(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrDegenerateInput)
}

func TestPerplexityScorer_Failures(t *testing.T) {
	t.Run("tokenizer failure propagates", func(t *testing.T) {
		model := testutils.NewStubModel()
		tokErr := errors.New("unknown byte sequence")
		model.TokenizeFn = func(string) ([]int64, error) { return nil, tokErr }

		scorer, err := NewPerplexityScorer(model)
		require.NoError(t, err)
		_, err = scorer.Score(context.Background(), "text")
		assert.ErrorIs(t, err, tokErr)
	})

	t.Run("position count mismatch is an invalid response", func(t *testing.T) {
		model := testutils.NewStubModel()
		model.ForwardFn = func(_ context.Context, ids []int64) ([][]float32, error) {
			return make([][]float32, len(ids)-1), nil
		}

		scorer, err := NewPerplexityScorer(model)
		require.NoError(t, err)
		_, err = scorer.Score(context.Background(), "text")
		assert.ErrorIs(t, err, ports.ErrInvalidResponse)
	})

	t.Run("target outside vocabulary is an invalid response", func(t *testing.T) {
		model := testutils.NewStubModel()
		model.ForwardFn = func(_ context.Context, ids []int64) ([][]float32, error) {
			out := make([][]float32, len(ids))
			for i := range out {
				out[i] = make([]float32, 1)
			}
			return out, nil
		}

		scorer, err := NewPerplexityScorer(model)
		require.NoError(t, err)
		_, err = scorer.Score(context.Background(), "text")
		assert.ErrorIs(t, err, ports.ErrInvalidResponse)
	})

	t.Run("nil model is rejected at construction", func(t *testing.T) {
		_, err := NewPerplexityScorer(nil)
		assert.Error(t, err)
	})
}

func TestTokenLoss_MatchesClosedForm(t *testing.T) {
	// Two-way softmax: p(target) = e^2 / (e^2 + e^0).
	logits := []float32{0, 2}
	loss, err := tokenLoss(logits, 1)
	require.NoError(t, err)
	want := -math.Log(math.Exp(2) / (math.Exp(2) + 1))
	assert.InDelta(t, want, loss, 1e-12)

	// Max subtraction keeps large logits finite.
	big := []float32{50000, 49999}
	loss, err = tokenLoss(big, 0)
	require.NoError(t, err)
	assert.False(t, math.IsInf(loss, 0))
	assert.InDelta(t, math.Log(1+math.Exp(-1)), loss, 1e-9)
}
