// Package engine defines the boundary between the relay core and the
// assistant execution engine.
//
// An Engine turns one user message into a lazy, ordered Stream of Fragments.
// The relay pulls fragments one at a time and may abandon a stream at any
// point by calling Close.
package engine

import (
	"context"
)

// FragmentKind identifies the variant carried by a Fragment.
type FragmentKind string

const (
	KindTextDelta       FragmentKind = "text_delta"
	KindToolCallStarted FragmentKind = "tool_call_started"
	KindToolCallDelta   FragmentKind = "tool_call_delta"
	KindToolOutputLog   FragmentKind = "tool_output_log"
)

// Fragment is a unit of streamed assistant output.
type Fragment struct {
	Kind FragmentKind `json:"kind"`
	Data string       `json:"data"`
}

// TextDelta returns a fragment carrying a piece of assistant text.
func TextDelta(text string) Fragment {
	return Fragment{Kind: KindTextDelta, Data: text}
}

// ToolCallStarted returns a fragment announcing a tool call of the given kind
// (for example "code_interpreter").
func ToolCallStarted(kind string) Fragment {
	return Fragment{Kind: KindToolCallStarted, Data: kind}
}

// ToolCallDelta returns a fragment carrying a piece of tool call input.
func ToolCallDelta(payload string) Fragment {
	return Fragment{Kind: KindToolCallDelta, Data: payload}
}

// ToolOutputLog returns a fragment carrying tool log output.
func ToolOutputLog(logs string) Fragment {
	return Fragment{Kind: KindToolOutputLog, Data: logs}
}

// TurnRequest describes one user message to run against a thread.
type TurnRequest struct {
	ThreadID    string
	AssistantID string
	Role        string
	Content     string
}

// Stream is the fragment sequence of a single turn.
//
// Next blocks until the next fragment is available and returns io.EOF once
// the turn has completed. A Stream is not restartable. Close releases the
// underlying resources and may be called before the stream is drained; it
// must be called from the goroutine that calls Next.
type Stream interface {
	Next(ctx context.Context) (Fragment, error)
	Close() error
}

// Engine starts assistant turns.
type Engine interface {
	// Name returns a short identifier used in logs.
	Name() string

	// StartTurn appends the message to the thread and begins a run. It fails
	// with ErrEngineUnavailable, ErrInvalidThread or ErrInvalidAssistant.
	StartTurn(ctx context.Context, req TurnRequest) (Stream, error)
}

// AssistantSpec describes an assistant to create at the engine.
type AssistantSpec struct {
	Name         string
	Instructions string
	Model        string
}

// Provisioner creates engine-side threads and assistants so their ids can be
// stored in the catalog.
type Provisioner interface {
	CreateThread(ctx context.Context) (string, error)
	CreateAssistant(ctx context.Context, spec AssistantSpec) (string, error)
}
