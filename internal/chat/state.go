package chat

import (
	"context"
	"sync"
	"time"
)

// State is the orchestrator's position in an exchange
type State int

const (
	Idle State = iota
	Sending
	Streaming
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sending:
		return "sending"
	case Streaming:
		return "streaming"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// exchange tracks one in-flight send
type exchange struct {
	mu sync.Mutex

	startedAt time.Time
	cancel    context.CancelFunc
	cancelled bool
	tokens    int
}

func newExchange(cancel context.CancelFunc) *exchange {
	return &exchange{
		startedAt: time.Now(),
		cancel:    cancel,
	}
}

// requestCancel fires the cancel func once. Later calls do nothing.
func (ex *exchange) requestCancel() {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	if ex.cancelled {
		return
	}
	ex.cancelled = true
	ex.cancel()
}

// isCancelled reports whether requestCancel was called
func (ex *exchange) isCancelled() bool {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.cancelled
}

// addToken counts one streamed token
func (ex *exchange) addToken() {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.tokens++
}

// tokenCount returns the number of tokens streamed so far
func (ex *exchange) tokenCount() int {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.tokens
}

// elapsed returns time since the exchange started
func (ex *exchange) elapsed() time.Duration {
	return time.Since(ex.startedAt)
}
