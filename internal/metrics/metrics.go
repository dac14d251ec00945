package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Result labels for MessagesTotal.
const (
	ResultProcessed = "processed"
	ResultSkipped   = "skipped"
	ResultFailed    = "failed"
)

// Trigger labels.
const (
	TriggerNewMail = "new_mail"
	TriggerMenu    = "menu"
)

type Metrics struct {
	MessagesTotal   *prometheus.CounterVec
	FailuresTotal   *prometheus.CounterVec
	RestoreFailures prometheus.Counter
	RewriteBytes    *prometheus.HistogramVec
	BatchDuration   *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg. A nil reg leaves them
// unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subjectfix_messages_total",
				Help: "Messages seen by the rewrite workflow, by trigger and result",
			},
			[]string{"trigger", "result"},
		),
		FailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subjectfix_failures_total",
				Help: "Rewrite failures by kind",
			},
			[]string{"kind"},
		),
		RestoreFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "subjectfix_restore_failures_total",
				Help: "Originals that could not be re-imported after a failed import and sit in the trash",
			},
		),
		RewriteBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "subjectfix_rewrite_bytes",
				Help:    "Size of rewritten message parts in bytes",
				Buckets: prometheus.ExponentialBuckets(256, 4, 10),
			},
			[]string{"part"},
		),
		BatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "subjectfix_batch_duration_seconds",
				Help:    "Duration of one new-mail or menu batch",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"trigger"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.MessagesTotal, m.FailuresTotal, m.RestoreFailures, m.RewriteBytes, m.BatchDuration)
	}
	return m
}
