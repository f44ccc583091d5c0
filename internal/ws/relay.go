package ws

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/assistant-relay/backend/internal/engine"
	"github.com/assistant-relay/backend/internal/metrics"
)

// StreamRelay forwards the fragments of one turn to every subscriber of the
// turn's thread.
type StreamRelay struct {
	registry *ThreadRegistry
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewStreamRelay creates a relay that broadcasts through registry.
func NewStreamRelay(registry *ThreadRegistry, logger *slog.Logger, m *metrics.Metrics) *StreamRelay {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamRelay{
		registry: registry,
		logger:   logger.With("component", "stream_relay"),
		metrics:  m,
	}
}

// Relay pulls fragments from stream in order and broadcasts each one. It
// returns nil once the stream ends, the engine's error if the stream fails,
// or ctx's error if ctx is cancelled first. Completion and engine failure
// both end with a turn_end message; a failed turn's carries the error. The stream is always closed, and
// nothing is broadcast after cancellation is observed.
func (r *StreamRelay) Relay(ctx context.Context, threadID string, stream engine.Stream) error {
	defer stream.Close()

	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return r.cancelled(threadID, count, err)
		}

		fragment, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			if _, err := r.registry.BroadcastMessage(threadID, &Message{Type: MessageTypeTurnEnd}); err != nil {
				r.logger.Warn("failed to encode turn end", "thread_id", threadID, "error", err)
			}
			r.metrics.RecordTurn(metrics.OutcomeCompleted)
			r.logger.Debug("turn completed", "thread_id", threadID, "fragments", count)
			return nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return r.cancelled(threadID, count, ctxErr)
			}
			// Tell every watcher the turn stopped; the sender also gets the
			// error notice from its session.
			if _, encErr := r.registry.BroadcastMessage(threadID, &Message{
				Type:  MessageTypeTurnEnd,
				Error: ErrorMessage(err).Error,
			}); encErr != nil {
				r.logger.Warn("failed to encode turn end", "thread_id", threadID, "error", encErr)
			}
			r.metrics.RecordTurn(metrics.OutcomeFailed)
			return err
		}
		if err := ctx.Err(); err != nil {
			return r.cancelled(threadID, count, err)
		}

		if _, err := r.registry.BroadcastMessage(threadID, FragmentMessage(fragment)); err != nil {
			r.logger.Warn("failed to encode fragment", "thread_id", threadID, "error", err)
			continue
		}
		r.metrics.RecordFragment(string(fragment.Kind))
		count++
	}
}

func (r *StreamRelay) cancelled(threadID string, count int, err error) error {
	r.metrics.RecordTurn(metrics.OutcomeCancelled)
	r.logger.Debug("turn cancelled", "thread_id", threadID, "fragments", count)
	return err
}
