package embed

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/simonyos/Z-NOTE/internal/logging"
)

// queueSize is the buffer of each direction of a LocalTransport.
const queueSize = 100

// LocalTransport runs a Worker in its own goroutines inside the process.
// Requests and replies cross as encoded bytes over channels, so the worker
// shares no state with its callers.
type LocalTransport struct {
	worker *Worker
	logger *zap.Logger

	requests chan []byte
	replies  chan []byte

	mu        sync.Mutex
	listening bool
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLocalTransport creates a transport for w. The worker starts loading
// when a listener is registered.
func NewLocalTransport(w *Worker, logger *zap.Logger) *LocalTransport {
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalTransport{
		worker:   w,
		logger:   logging.OrNop(logger),
		requests: make(chan []byte, queueSize),
		replies:  make(chan []byte, queueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Send queues an encoded request for the worker.
func (t *LocalTransport) Send(ctx context.Context, request []byte) error {
	select {
	case <-t.ctx.Done():
		return ErrClosed
	default:
	}

	select {
	case t.requests <- request:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.ctx.Done():
		return ErrClosed
	}
}

// Listen starts the worker and delivers its replies to handler, one at a
// time in arrival order.
func (t *LocalTransport) Listen(handler func(reply []byte)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if t.listening {
		return ErrAlreadyListening
	}
	t.listening = true

	t.wg.Add(3)
	go func() {
		defer t.wg.Done()
		t.worker.Load(t.ctx, t.reply)
	}()
	go t.serve()
	go t.dispatch(handler)

	t.logger.Debug("local embedding worker started")
	return nil
}

// serve hands each request to the worker in its own goroutine.
func (t *LocalTransport) serve() {
	defer t.wg.Done()
	for {
		select {
		case <-t.ctx.Done():
			return
		case req := <-t.requests:
			t.wg.Add(1)
			go func() {
				defer t.wg.Done()
				t.reply(t.worker.Handle(t.ctx, req))
			}()
		}
	}
}

func (t *LocalTransport) reply(data []byte) {
	select {
	case t.replies <- data:
	case <-t.ctx.Done():
	}
}

func (t *LocalTransport) dispatch(handler func([]byte)) {
	defer t.wg.Done()
	for {
		select {
		case <-t.ctx.Done():
			return
		case data := <-t.replies:
			handler(data)
		}
	}
}

// Close stops the worker and waits for its goroutines to exit.
func (t *LocalTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()
	t.logger.Debug("local embedding worker stopped")
	return nil
}
