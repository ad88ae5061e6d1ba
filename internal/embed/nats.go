package embed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/simonyos/Z-NOTE/internal/logging"
)

// NATS subjects used between clients and workers.
const (
	SubjectRequest = "znote.embed.request"
	SubjectStatus  = "znote.embed.status"
	QueueGroup     = "znote-embed-workers"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL            string
	Token          string
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
	// StatusInterval is how often a worker re-announces readiness so
	// clients that connect late learn it.
	StatusInterval time.Duration
}

// DefaultNATSConfig returns the default NATS configuration for url.
func DefaultNATSConfig(url string) NATSConfig {
	if url == "" {
		url = nats.DefaultURL
	}
	return NATSConfig{
		URL:            url,
		ConnectTimeout: 5 * time.Second,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  60,
		StatusInterval: 5 * time.Second,
	}
}

func connectNATS(cfg NATSConfig, name string, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("nats error", zap.String("subject", subject), zap.Error(err))
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", cfg.URL, err)
	}
	return conn, nil
}

// NATSTransport sends requests to remote workers over NATS. Replies come
// back on a private inbox; readiness broadcasts on SubjectStatus.
type NATSTransport struct {
	conn   *nats.Conn
	inbox  string
	logger *zap.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// DialNATS connects a client transport.
func DialNATS(cfg NATSConfig, logger *zap.Logger) (*NATSTransport, error) {
	logger = logging.OrNop(logger)
	conn, err := connectNATS(cfg, "znote-embed-client", logger)
	if err != nil {
		return nil, err
	}
	return &NATSTransport{conn: conn, inbox: conn.NewRespInbox(), logger: logger}, nil
}

// Send publishes the request with the transport's inbox as reply subject.
func (t *NATSTransport) Send(ctx context.Context, request []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.conn.IsClosed() {
		return ErrClosed
	}
	return t.conn.PublishMsg(&nats.Msg{Subject: SubjectRequest, Reply: t.inbox, Data: request})
}

// Listen subscribes handler to the inbox and to readiness broadcasts.
func (t *NATSTransport) Listen(handler func(reply []byte)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.subs) > 0 {
		return ErrAlreadyListening
	}
	for _, subject := range []string{t.inbox, SubjectStatus} {
		sub, err := t.conn.Subscribe(subject, func(msg *nats.Msg) {
			handler(msg.Data)
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		t.subs = append(t.subs, sub)
	}
	// the first request must not race the subscriptions
	if err := t.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	t.logger.Debug("listening for embedding replies", zap.String("inbox", t.inbox))
	return nil
}

// Close unsubscribes and closes the connection.
func (t *NATSTransport) Close() error {
	t.mu.Lock()
	for _, sub := range t.subs {
		_ = sub.Unsubscribe()
	}
	t.subs = nil
	t.mu.Unlock()

	t.conn.Close()
	return nil
}

// ServeNATS runs w as a queue-group worker until ctx is done. Several
// workers may serve the same subject; each request goes to one of them.
func ServeNATS(ctx context.Context, cfg NATSConfig, w *Worker, logger *zap.Logger) error {
	logger = logging.OrNop(logger)
	conn, err := connectNATS(cfg, "znote-embed-worker", logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	broadcast := func(data []byte) {
		if err := conn.Publish(SubjectStatus, data); err != nil {
			logger.Warn("failed to publish status", zap.Error(err))
		}
	}

	var wg sync.WaitGroup
	sub, err := conn.QueueSubscribe(SubjectRequest, QueueGroup, func(msg *nats.Msg) {
		if msg.Reply == "" {
			logger.Warn("dropping request without reply subject")
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := conn.Publish(msg.Reply, w.Handle(ctx, msg.Data)); err != nil {
				logger.Warn("failed to publish reply", zap.Error(err))
			}
		}()
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", SubjectRequest, err)
	}

	logger.Info("embedding worker serving",
		zap.String("url", conn.ConnectedUrl()),
		zap.String("subject", SubjectRequest),
		zap.String("queue", QueueGroup))

	go w.Load(ctx, broadcast)

	interval := cfg.StatusInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := sub.Unsubscribe(); err != nil {
				logger.Warn("failed to unsubscribe", zap.Error(err))
			}
			wg.Wait()
			if err := conn.Flush(); err != nil {
				logger.Debug("final flush failed", zap.Error(err))
			}
			logger.Info("embedding worker stopped")
			return nil
		case <-ticker.C:
			broadcast(w.Status())
		}
	}
}
