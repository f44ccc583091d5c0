// Package metrics exposes Prometheus instruments for the relay.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Turn outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

// Metrics holds the relay's Prometheus instruments. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Subscriptions  prometheus.Gauge
	Threads        prometheus.Gauge
	Sessions       prometheus.Gauge
	FragmentsTotal *prometheus.CounterVec
	SendFailures   prometheus.Counter
	TurnsTotal     *prometheus.CounterVec
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// New returns the process-wide metrics, registering them on first use.
func New() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			Subscriptions: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "assistant_relay_subscriptions",
				Help: "Current number of connections subscribed to a thread",
			}),
			Threads: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "assistant_relay_threads",
				Help: "Current number of threads with at least one subscriber",
			}),
			Sessions: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "assistant_relay_sessions",
				Help: "Current number of active connection sessions",
			}),
			FragmentsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "assistant_relay_fragments_total",
				Help: "Total number of fragments relayed, by kind",
			}, []string{"kind"}),
			SendFailures: promauto.NewCounter(prometheus.CounterOpts{
				Name: "assistant_relay_send_failures_total",
				Help: "Total number of failed sends that dropped a subscriber",
			}),
			TurnsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "assistant_relay_turns_total",
				Help: "Total number of turns, by outcome",
			}, []string{"outcome"}),
		}
	})
	return metricsInstance
}

// SetRegistrySize records the registry's current shape.
func (m *Metrics) SetRegistrySize(threads, subscriptions int) {
	if m == nil {
		return
	}
	m.Threads.Set(float64(threads))
	m.Subscriptions.Set(float64(subscriptions))
}

func (m *Metrics) RecordFragment(kind string) {
	if m == nil {
		return
	}
	m.FragmentsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordSendFailure() {
	if m == nil {
		return
	}
	m.SendFailures.Inc()
}

func (m *Metrics) RecordTurn(outcome string) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.Sessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.Sessions.Dec()
}
