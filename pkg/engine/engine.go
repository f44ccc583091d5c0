// Package engine exposes the assistant engine boundary so other modules can
// plug their own engine into the relay or reuse the built-in ones.
package engine

import (
	"time"

	"github.com/assistant-relay/backend/internal/engine"
)

// Re-export types from internal/engine for external use
type (
	Engine        = engine.Engine
	Stream        = engine.Stream
	Fragment      = engine.Fragment
	FragmentKind  = engine.FragmentKind
	TurnRequest   = engine.TurnRequest
	Provisioner   = engine.Provisioner
	AssistantSpec = engine.AssistantSpec
	OpenAIConfig  = engine.OpenAIConfig
)

const (
	KindTextDelta       = engine.KindTextDelta
	KindToolCallStarted = engine.KindToolCallStarted
	KindToolCallDelta   = engine.KindToolCallDelta
	KindToolOutputLog   = engine.KindToolOutputLog
)

var (
	ErrEngineUnavailable = engine.ErrEngineUnavailable
	ErrInvalidThread     = engine.ErrInvalidThread
	ErrInvalidAssistant  = engine.ErrInvalidAssistant
)

// NewOpenAIEngine creates an engine backed by the OpenAI Assistants API.
func NewOpenAIEngine(cfg OpenAIConfig) *engine.OpenAIEngine {
	return engine.NewOpenAIEngine(cfg)
}

// NewEchoEngine creates an engine that streams each message back word by word.
func NewEchoEngine(delay time.Duration) *engine.EchoEngine {
	return engine.NewEchoEngine(delay)
}

// NewSliceStream returns a Stream over a fixed list of fragments, useful for
// testing custom relays.
func NewSliceStream(fragments ...Fragment) Stream {
	return engine.NewSliceStream(fragments...)
}
