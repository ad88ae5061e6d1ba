package imagegen

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/simonyos/Z-NOTE/internal/llm"
	"github.com/simonyos/Z-NOTE/internal/netcheck"
)

const (
	// DefaultMaxRetries is the number of attempts made after the first.
	DefaultMaxRetries = 3
	// DefaultBaseDelay is the wait before the first retry. Each later wait doubles.
	DefaultBaseDelay = 2 * time.Second
	// DefaultAttemptTimeout bounds a single attempt.
	DefaultAttemptTimeout = 90 * time.Second
)

// ErrTimeout is returned when one attempt outlives Policy.AttemptTimeout.
// It is never retried.
var ErrTimeout = errors.New("image request timed out")

// Diagnostic hints attached to an exhausted failure.
const (
	HintNetwork = "Check your internet connection and any proxy or firewall settings."
	HintCORS    = "The image host rejected the cross-origin request. Try a different endpoint or download the image directly."
	HintGeneric = "Image generation failed after several attempts. Try again later or simplify the prompt."
)

// HintedError is returned when every attempt failed. Err is the last failure.
type HintedError struct {
	Err      error
	Hint     string
	Attempts int
}

func (e *HintedError) Error() string {
	return fmt.Sprintf("%v (after %d attempts). %s", e.Err, e.Attempts, e.Hint)
}

func (e *HintedError) Unwrap() error {
	return e.Err
}

// Policy retries an operation with exponential backoff.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	// AttemptTimeout bounds each attempt; zero means no bound.
	AttemptTimeout time.Duration

	// Connectivity, when set, runs before every attempt. A failure ends the
	// operation without calling it.
	Connectivity func(ctx context.Context) error

	Logger *zap.Logger

	wait func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns a Policy making up to four attempts of at most 90s
// each, waiting 2s, 4s and 8s between them.
func DefaultPolicy(logger *zap.Logger) *Policy {
	return &Policy{
		MaxRetries:     DefaultMaxRetries,
		BaseDelay:      DefaultBaseDelay,
		AttemptTimeout: DefaultAttemptTimeout,
		Logger:         logger,
	}
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// retries are spent. Non-retryable errors are returned unchanged; the last
// retryable error is returned as a *HintedError.
func (p *Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	for attempt := 0; ; attempt++ {
		if p.Connectivity != nil {
			if err := p.Connectivity(ctx); err != nil {
				if ctx.Err() != nil {
					return fmt.Errorf("%w: %w", llm.ErrCancelled, ctx.Err())
				}
				return fmt.Errorf("%w: %w", llm.ErrNetwork, err)
			}
		}

		err := p.attempt(ctx, op)
		if err == nil {
			return nil
		}
		if !Retryable(err) {
			return err
		}
		if attempt >= p.MaxRetries {
			return &HintedError{Err: err, Hint: Hint(err), Attempts: attempt + 1}
		}

		delay := p.BaseDelay << attempt
		logger.Warn("image request failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))

		if err := p.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%w: %w", llm.ErrCancelled, err)
		}
	}
}

// attempt runs op once under AttemptTimeout. Expiry of that bound, while
// ctx itself is still live, is reported as ErrTimeout.
func (p *Policy) attempt(ctx context.Context, op func(ctx context.Context) error) error {
	if p.AttemptTimeout <= 0 {
		return op(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()

	err := op(attemptCtx)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %w", ErrTimeout, p.AttemptTimeout, err)
	}
	return err
}

// Generate runs c.Generate under the policy. A blank prompt fails before
// any attempt.
func (p *Policy) Generate(ctx context.Context, c *Client, prompt string) (*Image, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	var img *Image
	err := p.Do(ctx, func(ctx context.Context) error {
		var err error
		img, err = c.Generate(ctx, prompt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return img, nil
}

func (p *Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.wait != nil {
		return p.wait(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retryable reports whether another attempt may succeed. Cancellation,
// timeouts, rate limiting, missing connectivity and 503 are final, as are
// bad credentials, missing configuration and a blank prompt.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrEmptyPrompt):
		return false
	case errors.Is(err, llm.ErrCancelled):
		return false
	case errors.Is(err, llm.ErrRateLimited):
		return false
	case errors.Is(err, netcheck.ErrOffline):
		return false
	case errors.Is(err, llm.ErrConfiguration), errors.Is(err, llm.ErrAuth):
		return false
	case llm.ServiceUnavailable(err):
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false
	}
	return true
}

var hintPatterns = []struct {
	keywords []string
	hint     string
}{
	{[]string{"cors", "access-control", "cross-origin"}, HintCORS},
	{[]string{"network", "connection", "dial", "no such host", "fetch", "unreachable", "eof"}, HintNetwork},
}

// Hint picks a diagnostic hint by matching the error text.
func Hint(err error) string {
	msg := strings.ToLower(err.Error())
	for _, p := range hintPatterns {
		for _, kw := range p.keywords {
			if strings.Contains(msg, kw) {
				return p.hint
			}
		}
	}
	return HintGeneric
}
