package engine

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EchoEngine streams the user's message back word by word. It is used when
// no remote assistant service is configured.
type EchoEngine struct {
	delay time.Duration
}

// NewEchoEngine creates an EchoEngine that waits delay between fragments.
func NewEchoEngine(delay time.Duration) *EchoEngine {
	return &EchoEngine{delay: delay}
}

// Name returns the engine name.
func (e *EchoEngine) Name() string {
	return "echo"
}

// StartTurn splits the content into words and streams them back.
func (e *EchoEngine) StartTurn(ctx context.Context, req TurnRequest) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.ThreadID == "" {
		return nil, ErrInvalidThread
	}

	words := strings.SplitAfter(req.Content, " ")
	fragments := make([]Fragment, 0, len(words))
	for _, w := range words {
		if w == "" {
			continue
		}
		fragments = append(fragments, TextDelta(w))
	}

	s := NewSliceStream(fragments...)
	s.delay = e.delay
	return s, nil
}

// CreateThread returns a fresh local thread id.
func (e *EchoEngine) CreateThread(ctx context.Context) (string, error) {
	return "thread_" + uuid.New().String(), nil
}

// CreateAssistant returns a fresh local assistant id.
func (e *EchoEngine) CreateAssistant(ctx context.Context, spec AssistantSpec) (string, error) {
	return "asst_" + uuid.New().String(), nil
}

// SliceStream is a Stream over a fixed list of fragments.
type SliceStream struct {
	mu        sync.Mutex
	fragments []Fragment
	pos       int
	closed    bool
	delay     time.Duration
}

// NewSliceStream returns a Stream yielding fragments in order.
func NewSliceStream(fragments ...Fragment) *SliceStream {
	return &SliceStream{fragments: fragments}
}

// Next returns the next fragment or io.EOF.
func (s *SliceStream) Next(ctx context.Context) (Fragment, error) {
	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Fragment{}, ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return Fragment{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.pos >= len(s.fragments) {
		return Fragment{}, io.EOF
	}
	f := s.fragments[s.pos]
	s.pos++
	return f, nil
}

// Close marks the stream finished.
func (s *SliceStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Consumed reports how many fragments have been pulled.
func (s *SliceStream) Consumed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}
