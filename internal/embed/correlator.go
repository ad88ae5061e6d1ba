package embed

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/simonyos/Z-NOTE/internal/logging"
)

// Transport carries encoded requests to a worker and delivers its replies
// to the registered listener. Replies may arrive on any goroutine.
type Transport interface {
	Send(ctx context.Context, request []byte) error
	Listen(handler func(reply []byte)) error
	Close() error
}

// Readiness is the worker's model loading state.
type Readiness struct {
	Ready    bool
	Progress float64
	Err      string
}

type result struct {
	vector []float32
	err    error
}

// Correlator matches worker replies to the callers that dispatched them.
type Correlator struct {
	transport Transport
	logger    *zap.Logger

	mu          sync.Mutex
	pending     map[string]chan result
	readiness   Readiness
	onReadiness func(Readiness)
}

// NewCorrelator registers a reply listener on t.
func NewCorrelator(t Transport, logger *zap.Logger) (*Correlator, error) {
	c := &Correlator{
		transport: t,
		logger:    logging.OrNop(logger),
		pending:   make(map[string]chan result),
	}
	if err := t.Listen(c.HandleReply); err != nil {
		return nil, err
	}
	return c, nil
}

// OnReadiness registers a callback for readiness changes.
func (c *Correlator) OnReadiness(fn func(Readiness)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReadiness = fn
}

// Readiness returns the last reported loading state.
func (c *Correlator) Readiness() Readiness {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readiness
}

// Pending returns the number of dispatched, unsettled requests.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Embed requests the vector for text and waits for the matching reply.
// Cancelling ctx abandons the request and removes its entry.
func (c *Correlator) Embed(ctx context.Context, text string) ([]float32, error) {
	id := uuid.NewString()
	done := make(chan result, 1)

	c.mu.Lock()
	c.pending[id] = done
	c.mu.Unlock()

	req := &Request{ID: id, Type: TypeEmbed, Payload: text}
	data, err := req.Encode()
	if err != nil {
		c.take(id)
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	if err := c.transport.Send(ctx, data); err != nil {
		c.take(id)
		return nil, fmt.Errorf("%w: %w", ErrDispatchFailed, err)
	}

	select {
	case r := <-done:
		return r.vector, r.err
	case <-ctx.Done():
		if c.take(id) == nil {
			// settled concurrently
			r := <-done
			return r.vector, r.err
		}
		c.logger.Debug("embedding request abandoned", zap.String("id", id), zap.Error(ctx.Err()))
		return nil, ctx.Err()
	}
}

// take removes and returns the entry for id, or nil when none exists.
func (c *Correlator) take(id string) chan result {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return ch
}

// HandleReply demultiplexes one worker reply. A settling reply for a
// pending id resolves that caller; anything else is a readiness event.
func (c *Correlator) HandleReply(data []byte) {
	reply, err := DecodeReply(data)
	if err != nil {
		c.logger.Warn("dropping malformed worker reply", zap.Error(err))
		return
	}

	if reply.ID != "" && reply.settles() {
		if done := c.take(reply.ID); done != nil {
			if reply.Status == StatusError {
				done <- result{err: fmt.Errorf("%w: %s", ErrWorker, reply.Error)}
			} else {
				done <- result{vector: reply.Result}
			}
			return
		}
	}

	c.updateReadiness(reply)
}

func (c *Correlator) updateReadiness(reply *Reply) {
	if reply.Type != TypeProgress {
		c.logger.Debug("dropping unmatched worker reply",
			zap.String("id", reply.ID),
			zap.String("type", string(reply.Type)),
			zap.String("status", string(reply.Status)))
		return
	}

	c.mu.Lock()
	switch reply.Status {
	case StatusProgress:
		if reply.Progress != nil {
			c.readiness.Progress = *reply.Progress
		}
	case StatusReady:
		c.readiness = Readiness{Ready: true, Progress: 100}
	case StatusError:
		c.readiness = Readiness{Err: reply.Error}
	default:
		c.mu.Unlock()
		c.logger.Debug("unknown readiness status", zap.String("status", string(reply.Status)))
		return
	}
	state, fn := c.readiness, c.onReadiness
	c.mu.Unlock()

	if fn != nil {
		fn(state)
	}
}

// Close closes the underlying transport and rejects every caller still
// waiting with ErrClosed.
func (c *Correlator) Close() error {
	err := c.transport.Close()

	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan result)
	c.mu.Unlock()

	for _, done := range pending {
		done <- result{err: ErrClosed}
	}
	return err
}
