package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/lexera/go-perplex/internal/ports"
)

// scoreBackend is the minimal interface the remote middleware chain
// wraps. Middleware composes around it the same way regardless of
// whether the innermost backend talks HTTP or is a test double.
type scoreBackend interface {
	// DoScore returns the perplexity the backend computed for text.
	DoScore(ctx context.Context, text string) (float64, error)

	// Endpoint identifies the backend for logs, metrics, and traces.
	Endpoint() string
}

// Middleware wraps a scoreBackend with cross-cutting behavior such as
// timeouts, retries, rate limiting, metrics, or tracing.
type Middleware func(scoreBackend) scoreBackend

// RemoteConfig configures a RemoteScorer.
type RemoteConfig struct {
	// BaseURL is the scoring service root, e.g. "http://scorer:5000".
	BaseURL string

	// Timeout bounds each individual scoring request. Zero disables the
	// per-request deadline.
	Timeout time.Duration

	// MaxRetries is the number of additional attempts after a retryable
	// failure. Zero disables retries.
	MaxRetries int

	// RetryBaseDelay and RetryMaxDelay bound the exponential backoff.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// RequestsPerSecond enables client-side rate limiting when positive.
	RequestsPerSecond float64

	// Burst is the rate limiter burst size; defaults to 1 when rate
	// limiting is enabled.
	Burst int

	// Metrics receives per-request observations when non-nil.
	Metrics ports.MetricsCollector

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

var _ ports.Scorer = (*RemoteScorer)(nil)

// RemoteScorer implements ports.Scorer against a running scoring
// endpoint. It lets the batch optimizer run on a machine without the
// model by delegating each Score call to POST /calculate-perplexity.
type RemoteScorer struct {
	backend scoreBackend
}

// NewRemoteScorer builds the scorer with its middleware chain. Order,
// outermost first: tracing, metrics, retry, rate limit, timeout. Each
// retry attempt therefore waits for a rate token and carries its own
// deadline, while metrics and traces observe whole logical requests.
func NewRemoteScorer(cfg RemoteConfig) (*RemoteScorer, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("remote scorer requires a base URL")
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	var backend scoreBackend = &httpBackend{
		url:    base + "/calculate-perplexity",
		client: client,
	}

	if cfg.Timeout > 0 {
		backend = TimeoutMiddleware(cfg.Timeout)(backend)
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		backend = RateLimitMiddleware(rate.Limit(cfg.RequestsPerSecond), burst)(backend)
	}
	if cfg.MaxRetries > 0 {
		baseDelay := cfg.RetryBaseDelay
		if baseDelay <= 0 {
			baseDelay = 200 * time.Millisecond
		}
		maxDelay := cfg.RetryMaxDelay
		if maxDelay <= 0 {
			maxDelay = 5 * time.Second
		}
		backend = RetryMiddleware(cfg.MaxRetries, baseDelay, maxDelay)(backend)
	}
	if cfg.Metrics != nil {
		backend = MetricsMiddleware(cfg.Metrics)(backend)
	}
	backend = TracingMiddleware("remote-scorer")(backend)

	return &RemoteScorer{backend: backend}, nil
}

// Score delegates to the middleware chain.
func (r *RemoteScorer) Score(ctx context.Context, text string) (float64, error) {
	return r.backend.DoScore(ctx, text)
}

// httpBackend is the innermost backend: one HTTP POST per score.
type httpBackend struct {
	url    string
	client *http.Client
}

// scoreRequest mirrors the endpoint's request body.
type scoreRequest struct {
	Text string `json:"text"`
}

// scoreResponse mirrors the endpoint's success and error bodies.
type scoreResponse struct {
	Perplexity *float64 `json:"perplexity"`
	Text       string   `json:"text"`
	Error      string   `json:"error"`
}

func (b *httpBackend) Endpoint() string { return b.url }

func (b *httpBackend) DoScore(ctx context.Context, text string) (float64, error) {
	body, err := json.Marshal(scoreRequest{Text: text})
	if err != nil {
		return 0, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, ports.NewModelError(b.url, "score", ports.ErrTimeout)
		}
		return 0, ports.NewModelError(b.url, "score",
			fmt.Errorf("%w: %v", ports.ErrServiceUnavailable, err))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, ports.NewModelError(b.url, "score",
			fmt.Errorf("%w: %v", ports.ErrServiceUnavailable, err))
	}

	var decoded scoreResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return 0, ports.NewModelError(b.url, "score",
			fmt.Errorf("%w: %v", ports.ErrInvalidResponse, err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		if decoded.Perplexity == nil {
			return 0, ports.NewModelError(b.url, "score",
				fmt.Errorf("%w: missing perplexity field", ports.ErrInvalidResponse))
		}
		return *decoded.Perplexity, nil
	case resp.StatusCode >= 500:
		return 0, ports.NewModelError(b.url, "score",
			fmt.Errorf("%w: status %d: %s", ports.ErrServiceUnavailable, resp.StatusCode, decoded.Error))
	default:
		return 0, ports.NewModelError(b.url, "score",
			fmt.Errorf("status %d: %s", resp.StatusCode, decoded.Error))
	}
}
