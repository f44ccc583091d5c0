package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/assistant-relay/backend/internal/auth"
	"github.com/assistant-relay/backend/internal/engine"
)

// fakeHandle records everything sent to it and can be told to fail.
type fakeHandle struct {
	id string

	mu     sync.Mutex
	sent   [][]byte
	fail   bool
	onSend func(n int)
}

func newFakeHandle(id string) *fakeHandle {
	return &fakeHandle{id: id}
}

func (h *fakeHandle) ID() string { return h.id }

func (h *fakeHandle) Send(data []byte) error {
	h.mu.Lock()
	if h.fail {
		h.mu.Unlock()
		return fmt.Errorf("%w: broken pipe", ErrSendFailed)
	}
	h.sent = append(h.sent, data)
	n := len(h.sent)
	onSend := h.onSend
	h.mu.Unlock()

	if onSend != nil {
		onSend(n)
	}
	return nil
}

func (h *fakeHandle) setFail(fail bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fail = fail
}

func (h *fakeHandle) messages() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Message, 0, len(h.sent))
	for _, data := range h.sent {
		var msg Message
		if err := json.Unmarshal(data, &msg); err == nil {
			out = append(out, msg)
		}
	}
	return out
}

func (h *fakeHandle) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sent)
}

// fakeTransport is an in-memory Transport.
type fakeTransport struct {
	*fakeHandle

	recv   chan []byte
	closed chan struct{}

	closeMu     sync.Mutex
	isClosed    bool
	closeCode   int
	closeReason string
}

func newFakeTransport(id string) *fakeTransport {
	return &fakeTransport{
		fakeHandle: newFakeHandle(id),
		recv:       make(chan []byte, 16),
		closed:     make(chan struct{}),
	}
}

func (t *fakeTransport) Send(data []byte) error {
	t.closeMu.Lock()
	closed := t.isClosed
	t.closeMu.Unlock()
	if closed {
		return fmt.Errorf("%w: client closed", ErrSendFailed)
	}
	return t.fakeHandle.Send(data)
}

func (t *fakeTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case raw, ok := <-t.recv:
		if !ok {
			return nil, ErrTransportClosed
		}
		return raw, nil
	case <-t.closed:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *fakeTransport) Close(code int, reason string) error {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	if t.isClosed {
		return nil
	}
	t.isClosed = true
	t.closeCode = code
	t.closeReason = reason
	close(t.closed)
	return nil
}

func (t *fakeTransport) closeStatus() (bool, int) {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	return t.isClosed, t.closeCode
}

func (t *fakeTransport) say(text string) {
	data, _ := json.Marshal(Message{Type: MessageTypeMessage, Data: text})
	t.recv <- data
}

// hangUp simulates the peer going away.
func (t *fakeTransport) hangUp() {
	close(t.recv)
}

type fakeAuth struct {
	valid map[string]string
}

func (a fakeAuth) Authenticate(ctx context.Context, token string) (auth.Principal, error) {
	if id, ok := a.valid[token]; ok {
		return auth.Principal{ID: id}, nil
	}
	return auth.Principal{}, auth.ErrUnauthenticated
}

type fakeCatalog struct {
	threads    map[string]bool
	assistants map[string]bool
	err        error
}

func (c fakeCatalog) ThreadExists(ctx context.Context, id string) (bool, error) {
	return c.threads[id], c.err
}

func (c fakeCatalog) AssistantExists(ctx context.Context, id string) (bool, error) {
	return c.assistants[id], c.err
}

// gatedStream yields one fragment each time the gate is signalled.
type gatedStream struct {
	fragments []engine.Fragment
	gate      chan struct{}
	pulled    atomic.Int32
	closed    atomic.Bool
}

func newGatedStream(fragments ...engine.Fragment) *gatedStream {
	return &gatedStream{fragments: fragments, gate: make(chan struct{})}
}

func (s *gatedStream) Next(ctx context.Context) (engine.Fragment, error) {
	select {
	case <-ctx.Done():
		return engine.Fragment{}, ctx.Err()
	case <-s.gate:
	}
	i := int(s.pulled.Load())
	if i >= len(s.fragments) {
		return engine.Fragment{}, io.EOF
	}
	s.pulled.Add(1)
	return s.fragments[i], nil
}

func (s *gatedStream) Close() error {
	s.closed.Store(true)
	return nil
}

// trackingStream records whether it was closed.
type trackingStream struct {
	engine.Stream
	closed atomic.Bool
}

func (s *trackingStream) Close() error {
	s.closed.Store(true)
	return s.Stream.Close()
}

// failingStream yields its fragments and then err.
type failingStream struct {
	fragments []engine.Fragment
	err       error
	pos       int
}

func (s *failingStream) Next(ctx context.Context) (engine.Fragment, error) {
	if s.pos < len(s.fragments) {
		s.pos++
		return s.fragments[s.pos-1], nil
	}
	return engine.Fragment{}, s.err
}

func (s *failingStream) Close() error { return nil }

// scriptedEngine hands out streams from a factory and tracks concurrency.
type scriptedEngine struct {
	start func(req engine.TurnRequest) (engine.Stream, error)

	mu        sync.Mutex
	requests  []engine.TurnRequest
	active    int
	maxActive int
}

func (e *scriptedEngine) Name() string { return "scripted" }

func (e *scriptedEngine) StartTurn(ctx context.Context, req engine.TurnRequest) (engine.Stream, error) {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	e.active++
	if e.active > e.maxActive {
		e.maxActive = e.active
	}
	e.mu.Unlock()

	stream, err := e.start(req)
	if err != nil {
		e.done()
		return nil, err
	}
	return &doneStream{Stream: stream, done: e.done}, nil
}

func (e *scriptedEngine) done() {
	e.mu.Lock()
	e.active--
	e.mu.Unlock()
}

func (e *scriptedEngine) stats() (requests, maxActive int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.requests), e.maxActive
}

type doneStream struct {
	engine.Stream
	once sync.Once
	done func()
}

func (s *doneStream) Close() error {
	s.once.Do(s.done)
	return s.Stream.Close()
}

var errBoom = errors.New("boom")

func dataOf(msgs []Message, typ MessageType) []string {
	var out []string
	for _, m := range msgs {
		if m.Type == typ {
			out = append(out, m.Data)
		}
	}
	return out
}
