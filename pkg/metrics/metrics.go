package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"unfurlbot/pkg/dispatch"
)

// Metrics holds Prometheus collectors for the intake pipeline.
//
// Metrics:
//   - unfurlbot_queue_depth - messages waiting for the worker
//   - unfurlbot_jobs_total{result} - processed jobs by result (replied, unmatched, failed)
//   - unfurlbot_job_duration_seconds - time spent handling one job
//   - unfurlbot_extractions_total{entry,outcome} - extractor attempts by registry entry
//   - unfurlbot_enqueue_rejected_total - enqueues refused by a closed or full queue
type Metrics struct {
	QueueDepth       prometheus.Gauge
	JobsTotal        *prometheus.CounterVec
	JobDuration      prometheus.Histogram
	ExtractionsTotal *prometheus.CounterVec
	EnqueueRejected  prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg keeps
// them unregistered, which tests use.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "unfurlbot_queue_depth",
			Help: "Number of messages waiting for the worker",
		}),
		JobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unfurlbot_jobs_total",
				Help: "Total number of processed jobs by result",
			},
			[]string{"result"},
		),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "unfurlbot_job_duration_seconds",
			Help:    "Duration of handling one queued message",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		ExtractionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unfurlbot_extractions_total",
				Help: "Total number of extractor attempts by entry and outcome",
			},
			[]string{"entry", "outcome"},
		),
		EnqueueRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "unfurlbot_enqueue_rejected_total",
			Help: "Total number of messages refused by the queue",
		}),
	}
}

// ObserveOutcome implements dispatch.Observer.
func (m *Metrics) ObserveOutcome(o dispatch.Outcome) {
	if m == nil {
		return
	}

	entry := o.Entry
	if entry == "" {
		entry = "none"
	}
	outcome := o.Kind.String()
	if o.Err != nil {
		outcome = "fault"
	}
	m.ExtractionsTotal.WithLabelValues(entry, outcome).Inc()
}

// ObserveJob records one finished job.
func (m *Metrics) ObserveJob(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(result).Inc()
	m.JobDuration.Observe(elapsed.Seconds())
}

// SetQueueDepth records the current queue length.
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}

// RejectEnqueue counts a refused enqueue.
func (m *Metrics) RejectEnqueue() {
	if m == nil {
		return
	}
	m.EnqueueRejected.Inc()
}
