// Package ports defines the interfaces that connect the domain and
// application layers to the infrastructure layer. These interfaces keep
// the scoring core identical in production and in tests backed by a
// deterministic stub model.
package ports

import (
	"context"
	"time"
)

// LanguageModel is the narrow capability interface the scorer consumes:
// a tokenizer plus a causal language model that emits, for every
// position of a token sequence, the logits of the next-token
// distribution over the vocabulary.
//
// Implementations are expected to be effectively read-only after
// construction and safe for concurrent use; inference must not mutate
// model state.
type LanguageModel interface {
	// Tokenize converts text into model token ids without injecting any
	// special tokens. Boundary markers are applied by the caller.
	Tokenize(text string) ([]int64, error)

	// Forward runs the model over the token sequence and returns one
	// logit vector per input position. The vector at position i is the
	// unnormalized next-token distribution conditioned on tokens [0, i].
	Forward(ctx context.Context, ids []int64) ([][]float32, error)

	// BOS returns the beginning-of-sequence token id.
	BOS() int64

	// EOS returns the end-of-sequence token id.
	EOS() int64

	// Close releases model resources. The model must not be used after
	// Close returns.
	Close() error
}

// Scorer computes the perplexity of a single text. Implementations must
// be deterministic given deterministic model output, stateless between
// calls, and safe for concurrent use.
type Scorer interface {
	// Score returns exp(mean negative log-likelihood per token) for the
	// text, lower meaning more natural under the model. A text with no
	// scorable tokens yields domain.ErrDegenerateInput; model failures
	// propagate without retry.
	Score(ctx context.Context, text string) (float64, error)
}

// ScoreFunc adapts a plain function to the Scorer interface.
type ScoreFunc func(ctx context.Context, text string) (float64, error)

// Score implements Scorer by calling the function itself.
func (f ScoreFunc) Score(ctx context.Context, text string) (float64, error) {
	return f(ctx, text)
}

// MetricsCollector abstracts operational metrics so infrastructure can
// record observations without binding the scoring path to a specific
// monitoring system.
type MetricsCollector interface {
	// RecordLatency records the execution time of an operation.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric by value.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets the current value of a gauge metric.
	RecordGauge(metric string, value float64, labels map[string]string)
}
