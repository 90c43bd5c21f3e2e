package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"unfurlbot/pkg/dispatch"
)

func TestObserveOutcomeLabels(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveOutcome(dispatch.Outcome{Kind: dispatch.OutcomeValue, Entry: "gyazo"})
	m.ObserveOutcome(dispatch.Outcome{Kind: dispatch.OutcomeEmpty, Entry: "gyazo", Err: errors.New("boom")})
	m.ObserveOutcome(dispatch.Outcome{Kind: dispatch.OutcomeUnmatched})

	if got := testutil.ToFloat64(m.ExtractionsTotal.WithLabelValues("gyazo", "value")); got != 1 {
		t.Fatalf("gyazo/value = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ExtractionsTotal.WithLabelValues("gyazo", "fault")); got != 1 {
		t.Fatalf("gyazo/fault = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ExtractionsTotal.WithLabelValues("none", "unmatched")); got != 1 {
		t.Fatalf("none/unmatched = %v, want 1", got)
	}
}

func TestObserveJobAndQueueDepth(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveJob("replied", 20*time.Millisecond)
	m.ObserveJob("unmatched", time.Millisecond)
	m.SetQueueDepth(3)
	m.RejectEnqueue()

	if got := testutil.ToFloat64(m.JobsTotal.WithLabelValues("replied")); got != 1 {
		t.Fatalf("jobs replied = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.QueueDepth); got != 3 {
		t.Fatalf("queue depth = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.EnqueueRejected); got != 1 {
		t.Fatalf("rejected = %v, want 1", got)
	}
	if count := testutil.CollectAndCount(m.JobDuration); count != 1 {
		t.Fatalf("histogram series = %d, want 1", count)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.ObserveOutcome(dispatch.Outcome{})
	m.ObserveJob("replied", time.Second)
	m.SetQueueDepth(1)
	m.RejectEnqueue()
}
