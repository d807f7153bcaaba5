// Package testutils provides deterministic stand-ins for the language
// model capability so the scorer and selector behave identically in
// tests and production.
package testutils

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/lexera/go-perplex/internal/ports"
)

// Default boundary token ids used by the stub vocabulary.
const (
	StubBOS int64 = 0
	StubEOS int64 = 1
)

// StubModel implements ports.LanguageModel with fully deterministic
// behavior. By default it tokenizes on whitespace, assigns each distinct
// word a stable id, and emits uniform logits, which makes expected
// perplexities trivial to compute by hand (uniform logits over a
// vocabulary of V yield perplexity exactly V). Individual behaviors can
// be overridden per test through the function fields.
type StubModel struct {
	// VocabSize is the width of each logit vector. Defaults to 16.
	VocabSize int

	// BOSID and EOSID are the boundary marker ids. A negative value
	// means the model has no such marker.
	BOSID int64
	EOSID int64

	// TokenizeFn overrides tokenization when non-nil.
	TokenizeFn func(text string) ([]int64, error)

	// ForwardFn overrides the forward pass when non-nil.
	ForwardFn func(ctx context.Context, ids []int64) ([][]float32, error)

	mu sync.Mutex
	// forwardCalls counts invocations of Forward, override included.
	forwardCalls int
	closed       bool
}

var _ ports.LanguageModel = (*StubModel)(nil)

// NewStubModel creates a StubModel with the default uniform-logit
// behavior and a vocabulary of 16 tokens.
func NewStubModel() *StubModel {
	return &StubModel{VocabSize: 16, BOSID: StubBOS, EOSID: StubEOS}
}

// ForwardCalls returns how many times Forward was invoked.
func (m *StubModel) ForwardCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forwardCalls
}

// Tokenize maps each whitespace-separated word to a stable id in
// [2, VocabSize). The mapping depends only on the word bytes, so equal
// texts always produce equal sequences.
func (m *StubModel) Tokenize(text string) ([]int64, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("stub model is closed")
	}
	if m.TokenizeFn != nil {
		return m.TokenizeFn(text)
	}
	fields := strings.Fields(text)
	ids := make([]int64, len(fields))
	for i, w := range fields {
		var h uint32 = 2166136261
		for j := 0; j < len(w); j++ {
			h = (h ^ uint32(w[j])) * 16777619
		}
		// Reserve ids 0 and 1 for the boundary markers.
		ids[i] = 2 + int64(h%uint32(m.VocabSize-2))
	}
	return ids, nil
}

// Forward emits uniform (all-zero) logits for every position.
func (m *StubModel) Forward(ctx context.Context, ids []int64) ([][]float32, error) {
	m.mu.Lock()
	m.forwardCalls++
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("stub model is closed")
	}
	if m.ForwardFn != nil {
		return m.ForwardFn(ctx, ids)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(ids))
	for i := range out {
		out[i] = make([]float32, m.VocabSize)
	}
	return out, nil
}

// BOS returns the beginning-of-sequence id.
func (m *StubModel) BOS() int64 { return m.BOSID }

// EOS returns the end-of-sequence id.
func (m *StubModel) EOS() int64 { return m.EOSID }

// Close marks the model closed; later calls fail.
func (m *StubModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// StubScorer implements ports.Scorer with canned per-text scores for
// selector and reporting tests.
type StubScorer struct {
	// Scores maps text to the perplexity to return.
	Scores map[string]float64

	// Errs maps text to an error to return instead of a score.
	Errs map[string]error

	mu sync.Mutex
	// calls records the scored texts in call order.
	calls []string
}

var _ ports.Scorer = (*StubScorer)(nil)

// Calls returns the scored texts in call order.
func (s *StubScorer) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// Score returns the canned score or error for the text. Unknown texts
// fail loudly so tests cannot silently score the wrong input.
func (s *StubScorer) Score(_ context.Context, text string) (float64, error) {
	s.mu.Lock()
	s.calls = append(s.calls, text)
	s.mu.Unlock()
	if err, ok := s.Errs[text]; ok {
		return 0, err
	}
	score, ok := s.Scores[text]
	if !ok {
		return 0, fmt.Errorf("stub scorer has no score for %q", text)
	}
	return score, nil
}
