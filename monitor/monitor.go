package monitor

import (
	"log/slog"
	"sync"
	"time"
)

// Config tunes one Monitor instance. Zero values fall back to defaults.
type Config struct {
	// CompletionDelay is how long a completion signal is held before the
	// Completed transition, so the display visibly reaches the last stage.
	CompletionDelay time.Duration
	// PollInterval is the fixed cadence of the fallback status poller.
	PollInterval time.Duration
	// LogHistory bounds the recent pipeline log ring.
	LogHistory int
	// Cue overrides the completion cue; nil means the terminal bell.
	Cue CueFactory
}

const (
	defaultCompletionDelay = 900 * time.Millisecond
	defaultPollInterval    = 2 * time.Second
	defaultLogHistory      = 50
)

// envelope tags an event with the job id it was produced for. The loop
// rejects envelopes whose job id no longer matches the active job, which is
// what makes listener and poller teardown race-free without locks.
type envelope struct {
	jobID string
	ev    event
}

// Monitor tracks the progress of one ingestion job at a time. All state
// lives in a single event loop goroutine; the exported methods only send
// messages into it, so no field is ever accessed concurrently.
type Monitor struct {
	cfg      Config
	log      *slog.Logger
	metrics  *Metrics
	notifier *Notifier
	listener *streamListener
	poller   *poller

	events  chan envelope
	resetc  chan string
	snapReq chan chan Snapshot
	logsReq chan chan []LogEntry
	updates chan Snapshot
	stopc   chan struct{}
	donec   chan struct{}

	closeOnce sync.Once

	// Loop-owned state. Touched only by run().
	st      state
	jobID   string
	stream  *streamHandle
	poll    *pollHandle
	timer   *time.Timer
	history []LogEntry
}

// New builds a Monitor over the given backend and starts its event loop.
func New(backend Backend, cfg Config, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CompletionDelay <= 0 {
		cfg.CompletionDelay = defaultCompletionDelay
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.LogHistory <= 0 {
		cfg.LogHistory = defaultLogHistory
	}

	m := &Monitor{
		cfg:     cfg,
		log:     logger,
		metrics: NewMetrics(),
		events:  make(chan envelope, 256),
		resetc:  make(chan string),
		snapReq: make(chan chan Snapshot),
		logsReq: make(chan chan []LogEntry),
		updates: make(chan Snapshot, 64),
		stopc:   make(chan struct{}),
		donec:   make(chan struct{}),
	}
	m.notifier = NewNotifier(cfg.Cue, logger)
	m.listener = &streamListener{
		backend: backend,
		sink:    m.dispatch,
		metrics: m.metrics,
		log:     logger,
	}
	m.poller = &poller{
		backend:  backend,
		interval: cfg.PollInterval,
		sink:     m.dispatch,
		metrics:  m.metrics,
		log:      logger,
	}

	go m.run()
	return m
}

// Start makes jobID the active job, discarding any state and signal sources
// belonging to the previous one.
func (m *Monitor) Start(jobID string) {
	select {
	case m.resetc <- jobID:
	case <-m.stopc:
	}
}

// Reset is Start under the name consumers reach for between jobs.
func (m *Monitor) Reset(jobID string) { m.Start(jobID) }

// OnUploadProgress reports byte-transfer progress in [0,100] for the
// Uploading phase.
func (m *Monitor) OnUploadProgress(jobID string, pct float64) {
	m.dispatch(jobID, uploadProgressEvent{pct: pct})
}

// BeginProcessing marks the upload as handed off to the pipeline. The
// monitor attaches the push channel and starts the fallback poller on the
// resulting phase transition.
func (m *Monitor) BeginProcessing(jobID string) {
	m.dispatch(jobID, processingStartedEvent{})
}

// OnLogEvent feeds one pipeline log line, for callers that source logs
// outside the push channel.
func (m *Monitor) OnLogEvent(jobID string, entry LogEntry) {
	m.dispatch(jobID, logReceivedEvent{entry: entry})
}

// OnStatusSignal feeds one authoritative status report, for callers that
// source status outside the push channel and poller.
func (m *Monitor) OnStatusSignal(jobID string, report StatusReport) {
	m.dispatch(jobID, statusEvent{report: report})
}

// Snapshot returns the current aggregator view. After Close it returns the
// zero Snapshot.
func (m *Monitor) Snapshot() Snapshot {
	req := make(chan Snapshot, 1)
	select {
	case m.snapReq <- req:
		return <-req
	case <-m.donec:
		return Snapshot{}
	}
}

// RecentLogs returns a copy of the bounded log history, oldest first.
func (m *Monitor) RecentLogs() []LogEntry {
	req := make(chan []LogEntry, 1)
	select {
	case m.logsReq <- req:
		return <-req
	case <-m.donec:
		return nil
	}
}

// Updates is the stream of snapshots, one per observable transition. Sends
// never block the loop; if the consumer lags, intermediate snapshots are
// dropped but terminal ones are always delivered.
func (m *Monitor) Updates() <-chan Snapshot {
	return m.updates
}

// Metrics exposes the instance collectors for registration.
func (m *Monitor) Metrics() *Metrics {
	return m.metrics
}

// Close stops the loop, detaches signal sources and releases the cue.
func (m *Monitor) Close() {
	m.closeOnce.Do(func() { close(m.stopc) })
	<-m.donec
}

func (m *Monitor) dispatch(jobID string, ev event) {
	select {
	case m.events <- envelope{jobID: jobID, ev: ev}:
	case <-m.stopc:
	}
}

func (m *Monitor) run() {
	defer close(m.donec)

	for {
		select {
		case env := <-m.events:
			m.apply(env)
		case id := <-m.resetc:
			m.reset(id)
		case req := <-m.snapReq:
			req <- m.st.snap
		case req := <-m.logsReq:
			out := make([]LogEntry, len(m.history))
			copy(out, m.history)
			req <- out
		case <-m.stopc:
			m.teardown()
			return
		}
	}
}

func (m *Monitor) apply(env envelope) {
	if m.jobID == "" || env.jobID != m.jobID {
		// Late arrival from a detached channel, a stopped poller or an
		// expired timer. Checked before the reducer, so stale signals can
		// never touch state.
		m.metrics.StaleDropsTotal.Inc()
		return
	}

	if le, ok := env.ev.(logReceivedEvent); ok {
		m.appendLog(le.entry)
	}

	prev := m.st.snap
	next, act := reduce(m.st, env.ev)
	m.st = next

	switch act {
	case actionScheduleCompletion:
		m.scheduleCompletion()
	case actionCancelCompletion:
		m.stopTimer()
	case actionCompleted:
		m.notifier.Notify(m.jobID)
	}

	if m.st.snap.Phase != prev.Phase {
		switch {
		case m.st.snap.Phase == PhaseProcessing:
			m.startSignals()
		case m.st.snap.Phase.Terminal():
			m.stopSignals()
			m.stopTimer()
			m.log.Info("job reached terminal phase",
				"job_id", m.jobID, "phase", m.st.snap.Phase)
		}
	}

	if m.st.snap != prev {
		m.emit(m.st.snap)
	}
}

func (m *Monitor) reset(jobID string) {
	m.stopSignals()
	m.stopTimer()
	m.jobID = jobID
	m.st = newState(jobID)
	m.history = nil
	m.log.Info("monitoring job", "job_id", jobID)
	m.emit(m.st.snap)
}

func (m *Monitor) startSignals() {
	if m.stream == nil {
		m.stream = m.listener.attach(m.jobID)
	}
	if m.poll == nil {
		m.poll = m.poller.start(m.jobID)
	}
}

func (m *Monitor) stopSignals() {
	if m.stream != nil {
		m.stream.detach()
		m.stream = nil
	}
	if m.poll != nil {
		m.poll.stop()
		m.poll = nil
	}
}

func (m *Monitor) scheduleCompletion() {
	m.stopTimer()
	jobID := m.jobID
	m.timer = time.AfterFunc(m.cfg.CompletionDelay, func() {
		m.dispatch(jobID, completionDueEvent{})
	})
}

func (m *Monitor) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Monitor) appendLog(e LogEntry) {
	m.history = append(m.history, e)
	if len(m.history) > m.cfg.LogHistory {
		m.history = m.history[len(m.history)-m.cfg.LogHistory:]
	}
}

// emit delivers a snapshot without ever blocking the loop. Intermediate
// snapshots may be dropped under consumer backpressure; a terminal snapshot
// evicts the oldest pending one so it is never lost.
func (m *Monitor) emit(snap Snapshot) {
	select {
	case m.updates <- snap:
		return
	default:
	}
	if !snap.Phase.Terminal() {
		return
	}
	select {
	case <-m.updates:
	default:
	}
	select {
	case m.updates <- snap:
	default:
	}
}

func (m *Monitor) teardown() {
	m.stopSignals()
	m.stopTimer()
	m.notifier.Close()
}
