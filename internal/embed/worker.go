package embed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/simonyos/Z-NOTE/internal/logging"
)

// Embedder is a backend that turns text into a vector.
type Embedder interface {
	// Load prepares the model, reporting progress as a percentage.
	Load(ctx context.Context, progress func(pct float64)) error
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Worker serves embedding requests from encoded messages. Requests that
// arrive before the model is loaded wait until it is.
type Worker struct {
	embedder Embedder
	logger   *zap.Logger

	once    sync.Once
	ready   chan struct{}
	mu      sync.RWMutex
	loadErr error
	loaded  bool
	percent float64
}

// NewWorker creates a worker around e.
func NewWorker(e Embedder, logger *zap.Logger) *Worker {
	return &Worker{
		embedder: e,
		logger:   logging.OrNop(logger),
		ready:    make(chan struct{}),
	}
}

// Load loads the model once, broadcasting progress and the final ready or
// error status. Later calls return immediately.
func (w *Worker) Load(ctx context.Context, broadcast func([]byte)) {
	w.once.Do(func() {
		start := time.Now()
		err := w.embedder.Load(ctx, func(pct float64) {
			w.mu.Lock()
			w.percent = pct
			w.mu.Unlock()
			w.send(broadcast, progressReply(pct))
		})

		w.mu.Lock()
		w.loadErr = err
		w.loaded = err == nil
		w.mu.Unlock()
		close(w.ready)

		if err != nil {
			w.logger.Error("embedding model failed to load", zap.Error(err))
		} else {
			w.logger.Info("embedding model ready", zap.Duration("elapsed", time.Since(start)))
		}
		w.send(broadcast, w.statusReply())
	})
}

// Status returns the encoded readiness broadcast for the current state.
func (w *Worker) Status() []byte {
	data, _ := w.statusReply().Encode()
	return data
}

func (w *Worker) statusReply() *Reply {
	w.mu.RLock()
	defer w.mu.RUnlock()

	switch {
	case w.loaded:
		return &Reply{Type: TypeProgress, Status: StatusReady}
	case w.loadErr != nil:
		return &Reply{Type: TypeProgress, Status: StatusError, Error: w.loadErr.Error()}
	default:
		return progressReply(w.percent)
	}
}

func (w *Worker) send(broadcast func([]byte), reply *Reply) {
	data, err := reply.Encode()
	if err != nil {
		w.logger.Error("failed to encode reply", zap.Error(err))
		return
	}
	broadcast(data)
}

// Handle processes one encoded request and returns the encoded reply. It
// blocks until the model is loaded or ctx is done.
func (w *Worker) Handle(ctx context.Context, data []byte) []byte {
	reply := w.handle(ctx, data)
	out, err := reply.Encode()
	if err != nil {
		w.logger.Error("failed to encode reply", zap.Error(err))
		out, _ = (&Reply{Type: TypeEmbed, Status: StatusError, ID: reply.ID, Error: err.Error()}).Encode()
	}
	return out
}

func (w *Worker) handle(ctx context.Context, data []byte) *Reply {
	req, err := DecodeRequest(data)
	if err != nil {
		w.logger.Warn("dropping malformed request", zap.Error(err))
		return &Reply{Type: TypeEmbed, Status: StatusError, Error: err.Error()}
	}
	fail := func(err error) *Reply {
		return &Reply{Type: TypeEmbed, Status: StatusError, ID: req.ID, Error: err.Error()}
	}

	if req.Type != TypeEmbed {
		return fail(fmt.Errorf("%w: %q", ErrUnsupportedType, req.Type))
	}

	select {
	case <-w.ready:
	case <-ctx.Done():
		return fail(ctx.Err())
	}

	w.mu.RLock()
	loadErr := w.loadErr
	w.mu.RUnlock()
	if loadErr != nil {
		return fail(fmt.Errorf("%w: %w", ErrNotLoaded, loadErr))
	}

	vector, err := w.embedder.Embed(ctx, req.Payload)
	if err != nil {
		w.logger.Warn("embedding failed", zap.String("id", req.ID), zap.Error(err))
		return fail(err)
	}
	w.logger.Debug("embedding complete", zap.String("id", req.ID), zap.Int("dims", len(vector)))
	return &Reply{Type: TypeEmbed, Status: StatusComplete, ID: req.ID, Result: vector}
}
