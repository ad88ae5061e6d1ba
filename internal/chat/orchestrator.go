// Package chat drives a streaming exchange with the active provider and owns
// the conversation it produces.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/simonyos/Z-NOTE/internal/llm"
	"github.com/simonyos/Z-NOTE/internal/logging"
	"github.com/simonyos/Z-NOTE/internal/prompts"
)

// DefaultTimeout bounds a single exchange
const DefaultTimeout = 60 * time.Second

var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrBusy         = errors.New("an exchange is already in progress")
	ErrOutOfRange   = errors.New("message index out of range")
	ErrNotRateable  = errors.New("only finished assistant messages can be rated")
)

// Resolver supplies the active provider and its credentials
type Resolver interface {
	Resolve(ctx context.Context) (llm.ProviderID, llm.ProviderConfig, error)
}

// ProviderFactory builds an adapter. llm.New is the default.
type ProviderFactory func(id llm.ProviderID, cfg llm.ProviderConfig) (llm.Provider, error)

// Store persists finished sessions
type Store interface {
	SaveSession(ctx context.Context, s Session) error
}

// EventHandler receives callbacks during an exchange. Calls are made from
// the goroutine running Send, in order.
type EventHandler interface {
	// OnUpdate is called with a snapshot of the messages after every change,
	// including once per streamed token.
	OnUpdate(messages []Message)
	OnState(state State)
}

// Config configures an Orchestrator
type Config struct {
	Resolver Resolver
	Factory  ProviderFactory
	Store    Store
	Logger   *zap.Logger

	// Timeout defaults to DefaultTimeout
	Timeout time.Duration
	Options llm.Options
	Rules   string
}

// Orchestrator owns one conversation and runs exchanges against it
type Orchestrator struct {
	resolver Resolver
	factory  ProviderFactory
	store    Store
	logger   *zap.Logger
	timeout  time.Duration
	options  llm.Options
	rules    string

	mu       sync.Mutex
	session  Session
	sections *prompts.Sections
	state    State
	lastErr  error
	busy     bool
	active   *exchange
	handler  EventHandler
}

// New creates an orchestrator with a fresh session
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		resolver: cfg.Resolver,
		factory:  cfg.Factory,
		store:    cfg.Store,
		logger:   logging.OrNop(cfg.Logger),
		timeout:  cfg.Timeout,
		options:  cfg.Options,
		rules:    cfg.Rules,
		session:  NewSession(),
	}
	if o.factory == nil {
		o.factory = llm.New
	}
	if o.timeout <= 0 {
		o.timeout = DefaultTimeout
	}
	return o
}

// SetEventHandler sets the callback handler for orchestrator events
func (o *Orchestrator) SetEventHandler(h EventHandler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handler = h
}

// SetContext replaces the context sections used for the next exchanges
func (o *Orchestrator) SetContext(s *prompts.Sections) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sections = s
}

// State returns the current state
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// LastError returns the error of the most recent exchange, or nil. It is
// cleared when a new exchange starts and never set by cancellation.
func (o *Orchestrator) LastError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// Session returns a copy of the conversation
func (o *Orchestrator) Session() Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session.clone()
}

// NewChat discards the current conversation and starts a fresh session
func (o *Orchestrator) NewChat() error {
	o.mu.Lock()
	if o.busy {
		o.mu.Unlock()
		return ErrBusy
	}
	o.session = NewSession()
	o.lastErr = nil
	snapshot, h := o.session.clone().Messages, o.handler
	o.mu.Unlock()

	if h != nil {
		h.OnUpdate(snapshot)
	}
	return nil
}

// Rate records feedback on the assistant message at index
func (o *Orchestrator) Rate(index int, r Rating) error {
	o.mu.Lock()
	if index < 0 || index >= len(o.session.Messages) {
		o.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrOutOfRange, index)
	}
	msg := &o.session.Messages[index]
	if msg.Role != RoleAssistant || msg.Generating {
		o.mu.Unlock()
		return ErrNotRateable
	}
	msg.Rating = r
	o.session.UpdatedAt = time.Now()
	snapshot, h := o.session.clone().Messages, o.handler
	o.mu.Unlock()

	if h != nil {
		h.OnUpdate(snapshot)
	}
	return nil
}

// Busy reports whether an exchange is in flight, including while the
// provider is still being resolved.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.busy
}

// Cancel aborts the in-flight exchange. It is a no-op when idle or when the
// exchange was already cancelled.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	ex := o.active
	o.mu.Unlock()

	if ex != nil {
		ex.requestCancel()
	}
}

// Send appends text as a user message and streams the assistant's reply
// into the conversation. It blocks until the exchange settles. A cancelled
// or timed-out exchange returns an error matching llm.ErrCancelled and
// leaves LastError unset.
func (o *Orchestrator) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	o.mu.Lock()
	if o.busy {
		o.mu.Unlock()
		return ErrBusy
	}
	o.busy = true
	o.lastErr = nil
	exCtx, cancel := context.WithTimeout(ctx, o.timeout)
	ex := newExchange(cancel)
	o.active = ex
	o.session.Messages = append(o.session.Messages, Message{Role: RoleUser, Content: text})
	o.session.UpdatedAt = time.Now()
	o.mu.Unlock()
	defer cancel()

	o.publish()

	id, cfg, err := o.resolver.Resolve(exCtx)
	if err != nil {
		if exCtx.Err() != nil {
			return o.finishCancelled(ctx, ex, exCtx)
		}
		return o.fail(ex, err)
	}
	if id.RequiresCredential() && cfg.APIKey == "" {
		return o.fail(ex, llm.MissingCredential(id))
	}
	if cfg.Logger == nil {
		cfg.Logger = o.logger
	}
	provider, err := o.factory(id, cfg)
	if err != nil {
		if exCtx.Err() != nil {
			return o.finishCancelled(ctx, ex, exCtx)
		}
		return o.fail(ex, err)
	}

	o.transition(Sending)
	o.logger.Debug("chat exchange started",
		zap.String("provider", string(id)),
		zap.String("model", o.options.Model),
		zap.Duration("timeout", o.timeout))

	chunks, err := provider.StreamChat(exCtx, o.compose(), o.options)
	if err != nil {
		if exCtx.Err() != nil {
			return o.finishCancelled(ctx, ex, exCtx)
		}
		return o.fail(ex, err)
	}

	o.mu.Lock()
	o.session.Messages = append(o.session.Messages, Message{Role: RoleAssistant, Generating: true})
	o.session.updateTitle()
	o.mu.Unlock()
	o.transition(Streaming)
	o.publish()

	for {
		select {
		case <-exCtx.Done():
			return o.finishCancelled(ctx, ex, exCtx)
		case chunk, ok := <-chunks:
			if !ok {
				if exCtx.Err() != nil {
					return o.finishCancelled(ctx, ex, exCtx)
				}
				return o.finish(ctx, ex)
			}
			if chunk.Err != nil {
				if exCtx.Err() != nil {
					return o.finishCancelled(ctx, ex, exCtx)
				}
				return o.fail(ex, chunk.Err)
			}
			ex.addToken()
			o.mu.Lock()
			last := &o.session.Messages[len(o.session.Messages)-1]
			last.Content += chunk.Text
			o.mu.Unlock()
			o.publish()
		}
	}
}

// compose prepends the system instruction to the settled history
func (o *Orchestrator) compose() []llm.Message {
	o.mu.Lock()
	defer o.mu.Unlock()

	system := prompts.NewPromptBuilder(o.sections).WithCustomRules(o.rules).Build()
	return append([]llm.Message{{Role: RoleSystem, Content: system}}, o.session.history()...)
}

func (o *Orchestrator) finish(ctx context.Context, ex *exchange) error {
	o.settle()
	o.logger.Debug("chat exchange finished",
		zap.Int("tokens", ex.tokenCount()),
		zap.Duration("elapsed", ex.elapsed()))
	o.release(Idle)
	o.save(ctx)
	return nil
}

func (o *Orchestrator) finishCancelled(ctx context.Context, ex *exchange, exCtx context.Context) error {
	o.settle()
	reason := "cancelled"
	if !ex.isCancelled() && errors.Is(exCtx.Err(), context.DeadlineExceeded) {
		reason = "timeout"
	}
	o.logger.Debug("chat exchange cancelled",
		zap.String("reason", reason),
		zap.Int("tokens", ex.tokenCount()),
		zap.Duration("elapsed", ex.elapsed()))
	o.release(Idle)
	o.save(ctx)
	return fmt.Errorf("%w: %w", llm.ErrCancelled, exCtx.Err())
}

func (o *Orchestrator) fail(ex *exchange, err error) error {
	o.settle()
	o.mu.Lock()
	o.lastErr = err
	o.mu.Unlock()
	o.logger.Warn("chat exchange failed",
		zap.Error(err),
		zap.Duration("elapsed", ex.elapsed()))
	o.transition(Error)
	o.release(Idle)
	return err
}

// settle finalizes the placeholder, dropping it when nothing streamed.
func (o *Orchestrator) settle() {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := len(o.session.Messages)
	if n == 0 || !o.session.Messages[n-1].Generating {
		return
	}
	if o.session.Messages[n-1].Content == "" {
		o.session.Messages = o.session.Messages[:n-1]
	} else {
		o.session.Messages[n-1].Generating = false
	}
	o.session.UpdatedAt = time.Now()
}

// release ends the exchange and moves to the final state.
func (o *Orchestrator) release(final State) {
	o.mu.Lock()
	o.busy = false
	o.active = nil
	o.state = final
	snapshot, h := o.session.clone().Messages, o.handler
	o.mu.Unlock()

	if h != nil {
		h.OnState(final)
		h.OnUpdate(snapshot)
	}
}

func (o *Orchestrator) transition(s State) {
	o.mu.Lock()
	o.state = s
	h := o.handler
	o.mu.Unlock()

	if h != nil {
		h.OnState(s)
	}
}

func (o *Orchestrator) publish() {
	o.mu.Lock()
	snapshot, h := o.session.clone().Messages, o.handler
	o.mu.Unlock()

	if h != nil {
		h.OnUpdate(snapshot)
	}
}

// save hands the session to the store. The exchange context may already be
// done, so the caller's values are kept without its cancellation.
func (o *Orchestrator) save(ctx context.Context) {
	if o.store == nil {
		return
	}
	s := o.Session()
	if len(s.Messages) == 0 {
		return
	}
	if err := o.store.SaveSession(context.WithoutCancel(ctx), s); err != nil {
		o.logger.Warn("failed to save session", zap.String("session", s.ID), zap.Error(err))
	}
}
