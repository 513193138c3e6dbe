package monitor

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors for one monitor instance.
// Collectors are functional without registration, so tests can read them
// directly; callers expose them by passing a registerer to MustRegister.
type Metrics struct {
	FramesTotal       prometheus.Counter
	DecodeErrorsTotal prometheus.Counter
	StaleDropsTotal   prometheus.Counter
	PollsTotal        prometheus.Counter
	PollErrorsTotal   prometheus.Counter
	StreamErrorsTotal prometheus.Counter
}

// NewMetrics creates the monitor collectors, unregistered.
func NewMetrics() *Metrics {
	return &Metrics{
		FramesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monitor_stream_frames_total",
			Help: "Total frames received on the push channel.",
		}),
		DecodeErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monitor_decode_errors_total",
			Help: "Total malformed frames dropped before reaching the aggregator.",
		}),
		StaleDropsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monitor_stale_events_dropped_total",
			Help: "Total events discarded because they were tagged with an inactive job id.",
		}),
		PollsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monitor_status_polls_total",
			Help: "Total status poll requests issued.",
		}),
		PollErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monitor_status_poll_errors_total",
			Help: "Total transient status poll failures.",
		}),
		StreamErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monitor_stream_errors_total",
			Help: "Total push channel open or read failures.",
		}),
	}
}

// MustRegister registers all collectors with reg.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		m.FramesTotal,
		m.DecodeErrorsTotal,
		m.StaleDropsTotal,
		m.PollsTotal,
		m.PollErrorsTotal,
		m.StreamErrorsTotal,
	)
}
