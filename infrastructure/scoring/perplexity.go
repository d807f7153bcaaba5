// Package scoring implements perplexity computation over the language
// model capability port, plus a remote scorer client for deployments
// where the model runs behind the scoring endpoint.
//
// The perplexity of a sequence is exp(mean negative log-likelihood per
// token). The numeric reduction here is the contract the rest of the
// system depends on: predictions are aligned to targets with a
// one-position shift, each token loss is computed from the model logits
// with a numerically stable log-softmax in float64, and the losses are
// averaged arithmetically before exponentiation.
package scoring

import (
	"context"
	"fmt"
	"math"

	"github.com/lexera/go-perplex/internal/domain"
	"github.com/lexera/go-perplex/internal/ports"
)

var _ ports.Scorer = (*PerplexityScorer)(nil)

// PerplexityScorer scores texts against a loaded causal language model.
// It holds no mutable state beyond the model handle and is safe for
// concurrent use whenever the model is.
type PerplexityScorer struct {
	model ports.LanguageModel
}

// NewPerplexityScorer creates a scorer over the given model.
func NewPerplexityScorer(model ports.LanguageModel) (*PerplexityScorer, error) {
	if model == nil {
		return nil, fmt.Errorf("language model must not be nil")
	}
	return &PerplexityScorer{model: model}, nil
}

// Score computes the perplexity of text under the model.
//
// The text is tokenized and wrapped with the model's boundary markers,
// giving a sequence of N tokens. The distribution the model emits at
// position i is scored against the token at position i+1; the final
// position's distribution has no target and is discarded. That yields
// exactly N-1 token losses, whose arithmetic mean is exponentiated.
//
// An empty text still scores: the markers alone form one scorable pair.
// A sequence that ends up shorter than two tokens returns
// domain.ErrDegenerateInput rather than dividing by zero. Tokenizer and
// model failures propagate without retry.
func (s *PerplexityScorer) Score(ctx context.Context, text string) (float64, error) {
	ids, err := s.model.Tokenize(text)
	if err != nil {
		return 0, fmt.Errorf("tokenize: %w", err)
	}

	seq := make([]int64, 0, len(ids)+2)
	if bos := s.model.BOS(); bos >= 0 {
		seq = append(seq, bos)
	}
	seq = append(seq, ids...)
	if eos := s.model.EOS(); eos >= 0 {
		seq = append(seq, eos)
	}

	if len(seq) < 2 {
		return 0, fmt.Errorf("%w: sequence length %d", domain.ErrDegenerateInput, len(seq))
	}

	logits, err := s.model.Forward(ctx, seq)
	if err != nil {
		return 0, fmt.Errorf("forward: %w", err)
	}
	if len(logits) != len(seq) {
		return 0, fmt.Errorf("%w: %d positions for %d tokens",
			ports.ErrInvalidResponse, len(logits), len(seq))
	}

	// Shift: position i predicts token i+1. The first token is never a
	// target and the last distribution is never used.
	var sum float64
	for i := 0; i < len(seq)-1; i++ {
		loss, err := tokenLoss(logits[i], seq[i+1])
		if err != nil {
			return 0, fmt.Errorf("position %d: %w", i, err)
		}
		sum += loss
	}

	mean := sum / float64(len(seq)-1)
	return math.Exp(mean), nil
}

// tokenLoss returns the negative log-probability the logit vector
// assigns to target: logSumExp(logits) - logits[target], computed in
// float64 with max subtraction so reduced-precision accelerator output
// cannot overflow the exponentials.
func tokenLoss(logits []float32, target int64) (float64, error) {
	if target < 0 || int(target) >= len(logits) {
		return 0, fmt.Errorf("%w: target id %d outside vocabulary of %d",
			ports.ErrInvalidResponse, target, len(logits))
	}

	maxLogit := float64(logits[0])
	for _, v := range logits[1:] {
		if f := float64(v); f > maxLogit {
			maxLogit = f
		}
	}

	var expSum float64
	for _, v := range logits {
		expSum += math.Exp(float64(v) - maxLogit)
	}
	logSumExp := maxLogit + math.Log(expSum)

	return logSumExp - float64(logits[target]), nil
}
