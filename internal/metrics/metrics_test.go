package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewIsSingleton(t *testing.T) {
	if New() != New() {
		t.Fatal("expected the same metrics instance")
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.SetRegistrySize(1, 2)
	m.RecordFragment("text_delta")
	m.RecordSendFailure()
	m.RecordTurn(OutcomeCompleted)
	m.SessionOpened()
	m.SessionClosed()
}

func TestRecorders(t *testing.T) {
	m := New()

	m.SetRegistrySize(3, 7)
	if got := testutil.ToFloat64(m.Threads); got != 3 {
		t.Errorf("expected 3 threads, got %v", got)
	}
	if got := testutil.ToFloat64(m.Subscriptions); got != 7 {
		t.Errorf("expected 7 subscriptions, got %v", got)
	}

	before := testutil.ToFloat64(m.FragmentsTotal.WithLabelValues("tool_output_log"))
	m.RecordFragment("tool_output_log")
	after := testutil.ToFloat64(m.FragmentsTotal.WithLabelValues("tool_output_log"))
	if after != before+1 {
		t.Errorf("expected fragment counter to increase by 1, got %v -> %v", before, after)
	}
}
