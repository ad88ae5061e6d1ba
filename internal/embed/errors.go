// Package embed dispatches embedding requests to an isolated worker and
// routes each reply back to its caller by correlation id.
package embed

import "errors"

var (
	// Dispatch errors
	ErrClosed           = errors.New("embedding transport closed")
	ErrDispatchFailed   = errors.New("failed to dispatch embedding request")
	ErrAlreadyListening = errors.New("transport already has a listener")

	// Worker errors
	ErrWorker          = errors.New("embedding worker error")
	ErrNotLoaded       = errors.New("embedding model failed to load")
	ErrUnsupportedType = errors.New("unsupported request type")
	ErrInvalidMessage  = errors.New("invalid worker message")
)
