package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"strconv"
	"sync"

	sse "github.com/tmaxmax/go-sse"
)

// Assistants run stream event names.
const (
	eventMessageDelta   = "thread.message.delta"
	eventRunStepDelta   = "thread.run.step.delta"
	eventRunFailed      = "thread.run.failed"
	eventRunExpired     = "thread.run.expired"
	eventRunCancelled   = "thread.run.cancelled"
	eventRunIncomplete  = "thread.run.incomplete"
	eventRequiresAction = "thread.run.requires_action"
	eventError          = "error"
	eventDone           = "done"
)

type messageDeltaEvent struct {
	Delta struct {
		Content []struct {
			Type string `json:"type"`
			Text *struct {
				Value string `json:"value"`
			} `json:"text,omitempty"`
		} `json:"content"`
	} `json:"delta"`
}

type toolCallDelta struct {
	Index           int    `json:"index"`
	ID              string `json:"id,omitempty"`
	Type            string `json:"type"`
	CodeInterpreter *struct {
		Input   string `json:"input,omitempty"`
		Outputs []struct {
			Type string `json:"type"`
			Logs string `json:"logs,omitempty"`
		} `json:"outputs,omitempty"`
	} `json:"code_interpreter,omitempty"`
	Function *struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function,omitempty"`
}

type runStepDeltaEvent struct {
	ID    string `json:"id"`
	Delta struct {
		StepDetails struct {
			Type      string          `json:"type"`
			ToolCalls []toolCallDelta `json:"tool_calls"`
		} `json:"step_details"`
	} `json:"delta"`
}

type runStatusEvent struct {
	Status    string `json:"status"`
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error,omitempty"`
}

// runStream turns an Assistants SSE response body into fragments.
type runStream struct {
	body io.ReadCloser
	next func() (sse.Event, error, bool)
	stop func()

	pending []Fragment
	started map[string]bool
	done    bool

	closeOnce sync.Once
}

func newRunStream(body io.ReadCloser) *runStream {
	return newRunStreamFrom(body, sse.Read(body, nil))
}

func newRunStreamFrom(body io.ReadCloser, events iter.Seq2[sse.Event, error]) *runStream {
	next, stop := iter.Pull2(events)
	return &runStream{
		body:    body,
		next:    next,
		stop:    stop,
		started: make(map[string]bool),
	}
}

// Next returns the next fragment of the run. Cancelling ctx while Next is
// blocked closes the response body so the read returns.
func (s *runStream) Next(ctx context.Context) (Fragment, error) {
	for {
		if len(s.pending) > 0 {
			f := s.pending[0]
			s.pending = s.pending[1:]
			return f, nil
		}
		if s.done {
			return Fragment{}, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return Fragment{}, err
		}

		release := context.AfterFunc(ctx, func() { s.body.Close() })
		ev, err, ok := s.next()
		release()

		if !ok {
			s.done = true
			continue
		}
		if err != nil {
			s.done = true
			if ctx.Err() != nil {
				return Fragment{}, ctx.Err()
			}
			return Fragment{}, fmt.Errorf("%w: read run stream: %v", ErrEngineUnavailable, err)
		}

		if err := s.decode(ev); err != nil {
			s.done = true
			return Fragment{}, err
		}
	}
}

// decode appends the fragments carried by ev to s.pending.
func (s *runStream) decode(ev sse.Event) error {
	switch ev.Type {
	case eventMessageDelta:
		var msg messageDeltaEvent
		if err := json.Unmarshal([]byte(ev.Data), &msg); err != nil {
			return fmt.Errorf("%w: decode %s: %v", ErrEngineUnavailable, ev.Type, err)
		}
		for _, c := range msg.Delta.Content {
			if c.Type == "text" && c.Text != nil && c.Text.Value != "" {
				s.pending = append(s.pending, TextDelta(c.Text.Value))
			}
		}

	case eventRunStepDelta:
		var step runStepDeltaEvent
		if err := json.Unmarshal([]byte(ev.Data), &step); err != nil {
			return fmt.Errorf("%w: decode %s: %v", ErrEngineUnavailable, ev.Type, err)
		}
		for _, tc := range step.Delta.StepDetails.ToolCalls {
			s.decodeToolCall(step.ID, tc)
		}

	case eventRunFailed, eventRunExpired, eventRunCancelled, eventRunIncomplete:
		var run runStatusEvent
		_ = json.Unmarshal([]byte(ev.Data), &run)
		if run.LastError != nil && run.LastError.Message != "" {
			return fmt.Errorf("%w: run %s: %s", ErrEngineUnavailable, run.Status, run.LastError.Message)
		}
		return fmt.Errorf("%w: run ended with event %s", ErrEngineUnavailable, ev.Type)

	case eventRequiresAction:
		return fmt.Errorf("%w: run requires tool outputs, which are not supported", ErrEngineUnavailable)

	case eventError:
		return fmt.Errorf("%w: %s", ErrEngineUnavailable, ev.Data)

	case eventDone:
		s.done = true
	}
	return nil
}

func (s *runStream) decodeToolCall(stepID string, tc toolCallDelta) {
	key := stepID + "/" + strconv.Itoa(tc.Index)
	if !s.started[key] {
		s.started[key] = true
		s.pending = append(s.pending, ToolCallStarted(tc.Type))
	}

	if ci := tc.CodeInterpreter; ci != nil {
		if ci.Input != "" {
			s.pending = append(s.pending, ToolCallDelta(ci.Input))
		}
		for _, out := range ci.Outputs {
			if out.Type == "logs" {
				s.pending = append(s.pending, ToolOutputLog(out.Logs))
			}
		}
	}
	if fn := tc.Function; fn != nil && fn.Arguments != "" {
		s.pending = append(s.pending, ToolCallDelta(fn.Arguments))
	}
}

// Close stops the event iterator and releases the response body.
func (s *runStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.done = true
		err = s.body.Close()
		s.stop()
	})
	return err
}
