package engine

import "errors"

var (
	// ErrEngineUnavailable is returned when the assistant service cannot be
	// reached or fails a run.
	ErrEngineUnavailable = errors.New("assistant engine unavailable")

	// ErrInvalidThread is returned when the engine does not know the thread.
	ErrInvalidThread = errors.New("invalid thread")

	// ErrInvalidAssistant is returned when the engine does not know the assistant.
	ErrInvalidAssistant = errors.New("invalid assistant")
)
