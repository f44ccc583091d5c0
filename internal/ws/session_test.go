package ws

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assistant-relay/backend/internal/engine"
)

const waitFor = 2 * time.Second

type sessionFixture struct {
	registry *ThreadRegistry
	deps     SessionDeps
}

func newSessionFixture(eng engine.Engine) *sessionFixture {
	registry := NewThreadRegistry(nil, nil)
	return &sessionFixture{
		registry: registry,
		deps: SessionDeps{
			Registry: registry,
			Relay:    NewStreamRelay(registry, nil, nil),
			Engine:   eng,
			Auth:     fakeAuth{valid: map[string]string{"good": "user-1"}},
			Catalog: fakeCatalog{
				threads:    map[string]bool{"T1": true, "T2": true},
				assistants: map[string]bool{"A1": true},
			},
		},
	}
}

// start runs a session in the background and waits until it is active.
func (f *sessionFixture) start(t *testing.T, id, threadID string) (*Session, *fakeTransport, <-chan error) {
	t.Helper()
	tr := newFakeTransport(id)
	s := NewSession(tr, ConnectParams{Token: "good", ThreadID: threadID, AssistantID: "A1"}, f.deps)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	require.Eventually(t, func() bool { return s.State() == StateActive }, waitFor, time.Millisecond)
	return s, tr, done
}

func TestSession_RejectsBeforeSubscribing(t *testing.T) {
	tests := []struct {
		name   string
		params ConnectParams
	}{
		{"bad token", ConnectParams{Token: "bad", ThreadID: "T1", AssistantID: "A1"}},
		{"unknown thread", ConnectParams{Token: "good", ThreadID: "T9", AssistantID: "A1"}},
		{"unknown assistant", ConnectParams{Token: "good", ThreadID: "T1", AssistantID: "A9"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newSessionFixture(engine.NewEchoEngine(0))
			tr := newFakeTransport("c1")
			s := NewSession(tr, tc.params, f.deps)

			err := s.Run(context.Background())
			require.Error(t, err)

			closed, code := tr.closeStatus()
			assert.True(t, closed)
			assert.Equal(t, ClosePolicyViolation, code)
			assert.Equal(t, StateClosed, s.State())
			assert.Equal(t, 0, f.registry.ThreadCount())
			assert.Equal(t, 0, tr.count())
		})
	}
}

func TestSession_CatalogFailureIsInternalError(t *testing.T) {
	f := newSessionFixture(engine.NewEchoEngine(0))
	f.deps.Catalog = fakeCatalog{err: errBoom}
	tr := newFakeTransport("c1")

	err := NewSession(tr, ConnectParams{Token: "good", ThreadID: "T1", AssistantID: "A1"}, f.deps).
		Run(context.Background())
	assert.ErrorIs(t, err, errBoom)

	_, code := tr.closeStatus()
	assert.Equal(t, CloseInternalError, code)
	assert.Equal(t, 0, f.registry.ThreadCount())
}

func TestSession_FanOutAcrossThreads(t *testing.T) {
	f := newSessionFixture(engine.NewEchoEngine(0))

	_, a, doneA := f.start(t, "A", "T1")
	_, b, doneB := f.start(t, "B", "T1")
	_, c, doneC := f.start(t, "C", "T2")

	a.say("hello from a")
	c.say("only c")

	turnEnded := func(tr *fakeTransport) func() bool {
		return func() bool { return len(dataOf(tr.messages(), MessageTypeTurnEnd)) == 1 }
	}
	require.Eventually(t, turnEnded(a), waitFor, time.Millisecond)
	require.Eventually(t, turnEnded(b), waitFor, time.Millisecond)
	require.Eventually(t, turnEnded(c), waitFor, time.Millisecond)

	want := []string{"hello ", "from ", "a"}
	assert.Equal(t, want, dataOf(a.messages(), MessageTypeTextDelta))
	assert.Equal(t, want, dataOf(b.messages(), MessageTypeTextDelta))
	assert.Equal(t, []string{"only ", "c"}, dataOf(c.messages(), MessageTypeTextDelta))

	for _, tr := range []*fakeTransport{a, b, c} {
		tr.hangUp()
	}
	for _, done := range []<-chan error{doneA, doneB, doneC} {
		assert.NoError(t, <-done)
	}
	assert.Equal(t, 0, f.registry.ThreadCount())
}

func TestSession_TurnsRunOneAtATime(t *testing.T) {
	eng := &scriptedEngine{start: func(req engine.TurnRequest) (engine.Stream, error) {
		return engine.NewSliceStream(engine.TextDelta(req.Content)), nil
	}}
	f := newSessionFixture(eng)
	_, tr, done := f.start(t, "A", "T1")

	for _, text := range []string{"one", "two", "three", "four"} {
		tr.say(text)
	}

	require.Eventually(t, func() bool {
		return len(dataOf(tr.messages(), MessageTypeTurnEnd)) == 4
	}, waitFor, time.Millisecond)

	assert.Equal(t, []string{"one", "two", "three", "four"}, dataOf(tr.messages(), MessageTypeTextDelta))
	requests, maxActive := eng.stats()
	assert.Equal(t, 4, requests)
	assert.Equal(t, 1, maxActive)

	eng.mu.Lock()
	assert.Equal(t, "user", eng.requests[0].Role)
	assert.Equal(t, "A1", eng.requests[0].AssistantID)
	eng.mu.Unlock()

	tr.hangUp()
	assert.NoError(t, <-done)
}

func TestSession_PingRepliesToSenderOnly(t *testing.T) {
	f := newSessionFixture(engine.NewEchoEngine(0))
	_, a, _ := f.start(t, "A", "T1")
	_, b, _ := f.start(t, "B", "T1")

	a.recv <- []byte(`{"type":"ping"}`)

	require.Eventually(t, func() bool { return a.count() == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, MessageTypePong, a.messages()[0].Type)
	assert.Equal(t, 0, b.count())
}

func TestSession_PlainTextFrameIsAMessage(t *testing.T) {
	f := newSessionFixture(engine.NewEchoEngine(0))
	_, tr, _ := f.start(t, "A", "T1")

	tr.recv <- []byte("just text")

	require.Eventually(t, func() bool {
		return len(dataOf(tr.messages(), MessageTypeTurnEnd)) == 1
	}, waitFor, time.Millisecond)
	assert.Equal(t, []string{"just ", "text"}, dataOf(tr.messages(), MessageTypeTextDelta))
}

func TestSession_EngineErrorClosesWithInternalError(t *testing.T) {
	eng := &scriptedEngine{start: func(engine.TurnRequest) (engine.Stream, error) {
		return nil, engine.ErrEngineUnavailable
	}}
	f := newSessionFixture(eng)
	s, a, done := f.start(t, "A", "T1")
	_, b, _ := f.start(t, "B", "T1")

	a.say("hi")
	require.NoError(t, <-done)

	closed, code := a.closeStatus()
	assert.True(t, closed)
	assert.Equal(t, CloseInternalError, code)
	assert.Equal(t, StateClosed, s.State())

	msgs := a.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, MessageTypeError, msgs[0].Type)
	assert.Contains(t, msgs[0].Error, "Error: ")

	// B stays subscribed and saw nothing.
	assert.Equal(t, []Handle{b}, f.registry.Subscribers("T1"))
	assert.Equal(t, 0, b.count())
}

func TestSession_EngineErrorMidStream(t *testing.T) {
	eng := &scriptedEngine{start: func(engine.TurnRequest) (engine.Stream, error) {
		return &failingStream{
			fragments: []engine.Fragment{engine.TextDelta("par")},
			err:       engine.ErrEngineUnavailable,
		}, nil
	}}
	f := newSessionFixture(eng)
	_, a, done := f.start(t, "A", "T1")

	a.say("hi")
	require.NoError(t, <-done)

	msgs := a.messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "par", msgs[0].Data)
	assert.Equal(t, MessageTypeTurnEnd, msgs[1].Type)
	assert.NotEmpty(t, msgs[1].Error)
	assert.Equal(t, MessageTypeError, msgs[2].Type)

	_, code := a.closeStatus()
	assert.Equal(t, CloseInternalError, code)
	assert.Equal(t, 0, f.registry.ThreadCount())
}

func TestSession_PanicInTurn(t *testing.T) {
	eng := &scriptedEngine{start: func(engine.TurnRequest) (engine.Stream, error) {
		panic("engine bug")
	}}
	f := newSessionFixture(eng)
	_, a, done := f.start(t, "A", "T1")
	_, b, _ := f.start(t, "B", "T1")

	a.say("hi")
	require.NoError(t, <-done)

	_, code := a.closeStatus()
	assert.Equal(t, CloseInternalError, code)
	assert.Equal(t, []Handle{b}, f.registry.Subscribers("T1"))
}

func TestSession_DisconnectCancelsTurn(t *testing.T) {
	stream := newGatedStream(engine.TextDelta("1"), engine.TextDelta("2"), engine.TextDelta("3"))
	eng := &scriptedEngine{start: func(engine.TurnRequest) (engine.Stream, error) {
		return stream, nil
	}}
	f := newSessionFixture(eng)
	s, a, done := f.start(t, "A", "T1")

	a.say("go")
	stream.gate <- struct{}{}
	require.Eventually(t, func() bool { return a.count() == 1 }, waitFor, time.Millisecond)

	a.hangUp()
	require.NoError(t, <-done)

	require.Eventually(t, func() bool { return stream.closed.Load() }, waitFor, time.Millisecond)
	assert.Equal(t, int32(1), stream.pulled.Load())
	assert.Equal(t, 1, a.count())
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 0, f.registry.ThreadCount())

	_, code := a.closeStatus()
	assert.Equal(t, CloseNormal, code)
}

func TestSession_ServerShutdown(t *testing.T) {
	f := newSessionFixture(engine.NewEchoEngine(0))
	tr := newFakeTransport("A")
	s := NewSession(tr, ConnectParams{Token: "good", ThreadID: "T1", AssistantID: "A1"}, f.deps)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	require.Eventually(t, func() bool { return s.State() == StateActive }, waitFor, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 0, f.registry.ThreadCount())
}

func TestSession_CloseIsTerminal(t *testing.T) {
	f := newSessionFixture(engine.NewEchoEngine(0))
	s, tr, done := f.start(t, "A", "T1")

	s.Close()
	require.NoError(t, <-done)

	s.Close()
	assert.NoError(t, s.Enqueue(context.Background(), "late"))
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 0, tr.count())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "closing", StateClosing.String())
	assert.Equal(t, "closed", StateClosed.String())
}
