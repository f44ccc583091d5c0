package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/assistant-relay/backend/internal/auth"
	"github.com/assistant-relay/backend/internal/engine"
	"github.com/assistant-relay/backend/internal/metrics"
)

// Close codes sent to the peer.
const (
	CloseNormal          = websocket.CloseNormalClosure
	ClosePolicyViolation = websocket.ClosePolicyViolation
	CloseInternalError   = websocket.CloseInternalServerErr
)

// DefaultQueueSize bounds the messages waiting behind an in-flight turn.
const DefaultQueueSize = 16

var (
	// ErrTurnPanicked is reported when a turn fails with a panic.
	ErrTurnPanicked = errors.New("turn panicked")

	errThreadUnknown    = errors.New("thread not found")
	errAssistantUnknown = errors.New("assistant not found")
)

// State is the lifecycle state of a Session.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Transport is the connection a Session drives.
type Transport interface {
	Handle
	Receive(ctx context.Context) ([]byte, error)
	Close(code int, reason string) error
}

// Authenticator validates the bearer token presented on connect.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (auth.Principal, error)
}

// Catalog answers whether a thread or assistant is known.
type Catalog interface {
	ThreadExists(ctx context.Context, id string) (bool, error)
	AssistantExists(ctx context.Context, id string) (bool, error)
}

// ConnectParams are the values a client presents when it connects.
type ConnectParams struct {
	Token       string
	ThreadID    string
	AssistantID string
}

// SessionDeps are the collaborators shared by every Session.
type SessionDeps struct {
	Registry  *ThreadRegistry
	Relay     *StreamRelay
	Engine    engine.Engine
	Auth      Authenticator
	Catalog   Catalog
	QueueSize int
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Session drives one client connection: it validates the connect request,
// subscribes the connection to its thread, and runs the client's messages
// as turns, one at a time.
type Session struct {
	transport Transport
	params    ConnectParams
	deps      SessionDeps
	logger    *slog.Logger

	state atomic.Int32
	inbox chan string

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex // guards state transitions
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewSession creates a Session in the Connecting state.
func NewSession(transport Transport, params ConnectParams, deps SessionDeps) *Session {
	if deps.QueueSize <= 0 {
		deps.QueueSize = DefaultQueueSize
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ctx:       ctx,
		cancel:    cancel,
		transport: transport,
		params:    params,
		deps:      deps,
		logger: deps.Logger.With(
			"component", "session",
			"conn_id", transport.ID(),
			"thread_id", params.ThreadID),
		inbox: make(chan string, deps.QueueSize),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Run opens the session and serves it until the peer disconnects, a turn
// fails, or ctx is cancelled. It returns the error that rejected the
// connect request, if any.
func (s *Session) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		s.close(websocket.CloseGoingAway, "server shutting down")
	})
	defer stop()
	defer s.cancel()

	if code, err := s.open(s.ctx); err != nil {
		s.logger.Info("connection rejected", "error", err)
		s.close(code, err.Error())
		return err
	}

	s.wg.Add(1)
	go s.consume()

	s.readLoop()
	s.wg.Wait()
	return nil
}

// open authenticates the request and checks the catalog. Only a fully
// validated session is subscribed.
func (s *Session) open(ctx context.Context) (int, error) {
	principal, err := s.deps.Auth.Authenticate(ctx, s.params.Token)
	if err != nil {
		return ClosePolicyViolation, err
	}

	ok, err := s.deps.Catalog.ThreadExists(ctx, s.params.ThreadID)
	if err != nil {
		return CloseInternalError, fmt.Errorf("failed to check thread: %w", err)
	}
	if !ok {
		return ClosePolicyViolation, fmt.Errorf("%w: %s", errThreadUnknown, s.params.ThreadID)
	}

	ok, err = s.deps.Catalog.AssistantExists(ctx, s.params.AssistantID)
	if err != nil {
		return CloseInternalError, fmt.Errorf("failed to check assistant: %w", err)
	}
	if !ok {
		return ClosePolicyViolation, fmt.Errorf("%w: %s", errAssistantUnknown, s.params.AssistantID)
	}

	s.mu.Lock()
	if s.State() != StateConnecting {
		s.mu.Unlock()
		return CloseNormal, context.Canceled
	}
	s.deps.Registry.Subscribe(s.params.ThreadID, s.transport)
	s.state.Store(int32(StateActive))
	s.mu.Unlock()

	s.deps.Metrics.SessionOpened()
	s.logger.Info("session active", "user", principal.ID, "assistant_id", s.params.AssistantID)
	return 0, nil
}

// readLoop feeds inbound messages to the turn queue until the transport
// closes.
func (s *Session) readLoop() {
	for {
		raw, err := s.transport.Receive(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				s.logger.Debug("peer disconnected", "error", err)
			}
			s.close(CloseNormal, "")
			return
		}

		msg := ParseInbound(raw)
		switch msg.Type {
		case MessageTypePing:
			s.reply(&Message{Type: MessageTypePong})
		case MessageTypeMessage:
			if msg.Data == "" {
				continue
			}
			if err := s.Enqueue(s.ctx, msg.Data); err != nil {
				return
			}
		default:
			s.logger.Debug("ignoring message", "type", msg.Type)
		}
	}
}

// Enqueue queues a user message behind any in-flight turn, blocking while
// the queue is full. It is a no-op unless the session is active.
func (s *Session) Enqueue(ctx context.Context, content string) error {
	if s.State() != StateActive {
		return nil
	}
	select {
	case s.inbox <- content:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// consume runs queued messages as turns, strictly one after another.
func (s *Session) consume() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case content := <-s.inbox:
			if s.ctx.Err() != nil {
				return
			}
			if err := s.runTurn(content); err != nil {
				s.fail(err)
				return
			}
		}
	}
}

func (s *Session) runTurn(content string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("turn panicked", "panic", r, "stack", string(debug.Stack()))
			s.deps.Metrics.RecordTurn(metrics.OutcomeFailed)
			err = ErrTurnPanicked
		}
	}()

	stream, err := s.deps.Engine.StartTurn(s.ctx, engine.TurnRequest{
		ThreadID:    s.params.ThreadID,
		AssistantID: s.params.AssistantID,
		Role:        "user",
		Content:     content,
	})
	if err != nil {
		if s.ctx.Err() != nil {
			return nil
		}
		s.deps.Metrics.RecordTurn(metrics.OutcomeFailed)
		return err
	}

	err = s.deps.Relay.Relay(s.ctx, s.params.ThreadID, stream)
	if err != nil && s.ctx.Err() != nil {
		return nil
	}
	return err
}

// fail reports a turn error to the peer and closes the session.
func (s *Session) fail(err error) {
	code := CloseInternalError
	if errors.Is(err, engine.ErrInvalidThread) || errors.Is(err, engine.ErrInvalidAssistant) {
		code = ClosePolicyViolation
	}
	if errors.Is(err, ErrTurnPanicked) {
		s.logger.Error("closing session after turn fault", "error", err)
	} else {
		s.logger.Warn("turn failed", "engine", s.deps.Engine.Name(), "error", err)
		s.reply(ErrorMessage(err))
	}
	s.close(code, "turn failed")
}

// reply sends msg to this connection only. Failures are ignored; the read
// loop notices a dead transport.
func (s *Session) reply(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := s.transport.Send(data); err != nil {
		s.logger.Debug("failed to reply", "type", msg.Type, "error", err)
	}
}

// Close shuts the session down with a normal close code.
func (s *Session) Close() {
	s.close(CloseNormal, "")
}

// close cancels any in-flight turn, unsubscribes and closes the transport.
// Only the first call has any effect.
func (s *Session) close(code int, reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		prev := State(s.state.Swap(int32(StateClosing)))
		if prev == StateActive {
			s.deps.Registry.Unsubscribe(s.params.ThreadID, s.transport)
		}
		s.mu.Unlock()

		s.cancel()
		if prev == StateActive {
			s.deps.Metrics.SessionClosed()
		}
		if err := s.transport.Close(code, reason); err != nil {
			s.logger.Debug("failed to close transport", "error", err)
		}
		s.state.Store(int32(StateClosed))
		s.logger.Info("session closed", "code", code)
	})
}
