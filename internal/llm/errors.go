package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"
)

// Error categories. Every error returned by this package matches exactly one
// of them with errors.Is; use Classify to find which.
var (
	ErrConfiguration   = errors.New("provider not configured")
	ErrUnknownProvider = fmt.Errorf("%w: unknown provider", ErrConfiguration)
	ErrAuth            = errors.New("authentication failed")
	ErrRateLimited     = errors.New("rate limited")
	ErrServer          = errors.New("server error")
	ErrNetwork         = errors.New("network error")
	ErrCancelled       = errors.New("request cancelled")
	ErrParse           = errors.New("malformed stream frame")
)

// maxStatusBodyRunes bounds the response body quoted by StatusError.Error.
const maxStatusBodyRunes = 300

// StatusError is returned when a provider answers with a non-success status.
type StatusError struct {
	Provider   ProviderID
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if utf8.RuneCountInString(body) > maxStatusBodyRunes {
		body = string([]rune(body)[:maxStatusBodyRunes]) + "..."
	}
	return fmt.Sprintf("%s API request failed with status %d: %s", e.Provider, e.StatusCode, body)
}

// Unwrap maps the status code to its error category.
func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return ErrAuth
	case e.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.StatusCode >= 500:
		return ErrServer
	default:
		return nil
	}
}

// ServiceUnavailable reports whether err is an HTTP 503.
func ServiceUnavailable(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusServiceUnavailable
}

// Classify returns the category sentinel for err, or nil when err is nil or
// fits no category.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{ErrConfiguration, ErrCancelled, ErrAuth, ErrRateLimited, ErrServer, ErrNetwork, ErrParse} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrCancelled
	}
	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return ErrNetwork
	}
	return nil
}

// UserMessage renders err as the single line shown to the user.
func UserMessage(err error) string {
	switch Classify(err) {
	case nil:
		if err == nil {
			return ""
		}
		return err.Error()
	case ErrConfiguration:
		return "Provider is not configured: " + err.Error()
	case ErrAuth:
		return "Authentication failed. Check your API key."
	case ErrRateLimited:
		return "Rate limit reached. Wait a moment and try again."
	case ErrServer:
		return "The provider returned a server error. Try again later."
	case ErrNetwork:
		return "Could not reach the provider. Check your connection."
	case ErrCancelled:
		return "Request cancelled."
	default:
		return err.Error()
	}
}

// transportError wraps a failed HTTP round trip, preferring cancellation
// when the context is done.
func transportError(ctx context.Context, provider ProviderID, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w: %w", provider, ErrCancelled, ctxErr)
	}
	return fmt.Errorf("%s: %w: %w", provider, ErrNetwork, err)
}
