package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/assistant-relay/backend/internal/metrics"
)

// ErrSendFailed is returned by a Handle that could not accept a message.
var ErrSendFailed = errors.New("send failed")

// Handle is one live connection that can be subscribed to a thread.
// Implementations must be comparable (pointer receivers).
type Handle interface {
	ID() string
	Send(data []byte) error
}

// ThreadRegistry maps thread ids to the connections watching them. A handle
// belongs to at most one thread, and a thread with no subscribers is
// removed.
type ThreadRegistry struct {
	mu      sync.Mutex
	threads map[string]map[Handle]struct{}
	handles map[Handle]string

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewThreadRegistry creates an empty registry. m may be nil.
func NewThreadRegistry(logger *slog.Logger, m *metrics.Metrics) *ThreadRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ThreadRegistry{
		threads: make(map[string]map[Handle]struct{}),
		handles: make(map[Handle]string),
		logger:  logger.With("component", "thread_registry"),
		metrics: m,
	}
}

// Subscribe adds h to the thread's subscribers. It is idempotent, and a
// handle subscribed to another thread is moved.
func (r *ThreadRegistry) Subscribe(threadID string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.handles[h]; ok {
		if prev == threadID {
			return
		}
		r.removeLocked(prev, h)
	}

	subs, ok := r.threads[threadID]
	if !ok {
		subs = make(map[Handle]struct{})
		r.threads[threadID] = subs
	}
	subs[h] = struct{}{}
	r.handles[h] = threadID
	r.updateMetricsLocked()
}

// Unsubscribe removes h from the thread. It is a no-op if h is not
// subscribed there.
func (r *ThreadRegistry) Unsubscribe(threadID string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.removeLocked(threadID, h) {
		r.updateMetricsLocked()
	}
}

func (r *ThreadRegistry) removeLocked(threadID string, h Handle) bool {
	subs, ok := r.threads[threadID]
	if !ok {
		return false
	}
	if _, ok := subs[h]; !ok {
		return false
	}
	delete(subs, h)
	delete(r.handles, h)
	if len(subs) == 0 {
		delete(r.threads, threadID)
	}
	return true
}

func (r *ThreadRegistry) updateMetricsLocked() {
	r.metrics.SetRegistrySize(len(r.threads), len(r.handles))
}

// Subscribers returns a snapshot of the thread's handles.
func (r *ThreadRegistry) Subscribers(threadID string) []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.threads[threadID]
	out := make([]Handle, 0, len(subs))
	for h := range subs {
		out = append(out, h)
	}
	return out
}

// ThreadOf returns the thread h is subscribed to.
func (r *ThreadRegistry) ThreadOf(h Handle) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	threadID, ok := r.handles[h]
	return threadID, ok
}

// ThreadCount returns the number of threads with at least one subscriber.
func (r *ThreadRegistry) ThreadCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.threads)
}

// Broadcast sends data to every subscriber of the thread and returns how
// many accepted it. Subscribers whose send fails are unsubscribed; the
// rest still receive the message.
func (r *ThreadRegistry) Broadcast(threadID string, data []byte) int {
	recipients := r.Subscribers(threadID)

	delivered := 0
	for _, h := range recipients {
		if err := h.Send(data); err != nil {
			r.logger.Debug("dropping subscriber after failed send",
				"thread_id", threadID,
				"conn_id", h.ID(),
				"error", err)
			r.metrics.RecordSendFailure()
			r.Unsubscribe(threadID, h)
			continue
		}
		delivered++
	}
	return delivered
}

// BroadcastMessage sends a Message to all subscribers of the thread.
func (r *ThreadRegistry) BroadcastMessage(threadID string, msg *Message) (int, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, err
	}
	return r.Broadcast(threadID, data), nil
}
