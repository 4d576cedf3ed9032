package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts poll cycles and per-account outcomes.
type Metrics struct {
	CyclesTotal      prometheus.Counter
	AccountsPolled   prometheus.Counter
	AccountsFailed   prometheus.Counter
	MessagesIngested prometheus.Counter
	AlertsSent       prometheus.Counter
	CycleDuration    prometheus.Histogram
}

// NewMetrics builds the scheduler metric set and registers it with reg.
// A nil registry skips registration, which tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mailgate",
			Subsystem: "poller",
			Name:      "cycles_total",
			Help:      "Completed poll cycles.",
		}),
		AccountsPolled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mailgate",
			Subsystem: "poller",
			Name:      "accounts_polled_total",
			Help:      "Accounts polled successfully.",
		}),
		AccountsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mailgate",
			Subsystem: "poller",
			Name:      "accounts_failed_total",
			Help:      "Accounts whose poll attempt failed.",
		}),
		MessagesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mailgate",
			Subsystem: "poller",
			Name:      "messages_ingested_total",
			Help:      "Messages turned into tickets or replies.",
		}),
		AlertsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mailgate",
			Subsystem: "poller",
			Name:      "alerts_sent_total",
			Help:      "Admin alerts sent for failing accounts.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mailgate",
			Subsystem: "poller",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a full poll cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.CyclesTotal,
			m.AccountsPolled,
			m.AccountsFailed,
			m.MessagesIngested,
			m.AlertsSent,
			m.CycleDuration,
		)
	}
	return m
}
