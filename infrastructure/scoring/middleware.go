package scoring

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"github.com/lexera/go-perplex/internal/ports"
)

// timeoutBackend bounds each scoring request with a deadline.
type timeoutBackend struct {
	next    scoreBackend
	timeout time.Duration
}

// TimeoutMiddleware creates middleware that applies a per-request
// deadline. A deadline hit maps to ports.ErrTimeout, a scoring failure,
// never a crash.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next scoreBackend) scoreBackend {
		return &timeoutBackend{next: next, timeout: timeout}
	}
}

func (t *timeoutBackend) DoScore(ctx context.Context, text string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	score, err := t.next.DoScore(ctx, text)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return 0, ports.NewModelError(t.next.Endpoint(), "score", ports.ErrTimeout)
	}
	return score, err
}

func (t *timeoutBackend) Endpoint() string { return t.next.Endpoint() }

// retryBackend retries transient failures with exponential backoff.
type retryBackend struct {
	next       scoreBackend
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// RetryMiddleware creates middleware that retries retryable failures
// (service unavailable, timeout) with exponential backoff and jitter.
// Validation and tokenization failures are never retried.
func RetryMiddleware(maxRetries int, baseDelay, maxDelay time.Duration) Middleware {
	return func(next scoreBackend) scoreBackend {
		return &retryBackend{
			next:       next,
			maxRetries: maxRetries,
			baseDelay:  baseDelay,
			maxDelay:   maxDelay,
		}
	}
}

func (r *retryBackend) DoScore(ctx context.Context, text string) (float64, error) {
	var lastErr error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		score, err := r.next.DoScore(ctx, text)
		if err == nil {
			return score, nil
		}
		lastErr = err

		var me *ports.ModelError
		if !errors.As(err, &me) || !me.IsRetryable() || ctx.Err() != nil {
			return 0, err
		}
		if attempt == r.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(r.delay(attempt)):
		}
	}

	return 0, fmt.Errorf("request failed after %d attempts: %w", r.maxRetries+1, lastErr)
}

func (r *retryBackend) delay(attempt int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	delay := time.Duration(float64(r.baseDelay) * float64(int64(1)<<uint(attempt)))

	// Jitter (±25%) spreads simultaneous retries apart.
	jitter := time.Duration(rand.Float64() * float64(delay) * 0.5)
	delay = delay + jitter - (delay / 4)

	if delay > r.maxDelay {
		delay = r.maxDelay
	}
	return delay
}

func (r *retryBackend) Endpoint() string { return r.next.Endpoint() }

// rateLimitedBackend paces requests with a token bucket.
type rateLimitedBackend struct {
	next    scoreBackend
	limiter *rate.Limiter
}

// RateLimitMiddleware creates middleware that enforces client-side rate
// limiting so a batch run cannot overwhelm the scoring service.
func RateLimitMiddleware(limit rate.Limit, burst int) Middleware {
	limiter := rate.NewLimiter(limit, burst)
	return func(next scoreBackend) scoreBackend {
		return &rateLimitedBackend{next: next, limiter: limiter}
	}
}

func (r *rateLimitedBackend) DoScore(ctx context.Context, text string) (float64, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limit: %w", err)
	}
	return r.next.DoScore(ctx, text)
}

func (r *rateLimitedBackend) Endpoint() string { return r.next.Endpoint() }
