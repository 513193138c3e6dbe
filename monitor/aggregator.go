package monitor

import "time"

// Phase is the top-level lifecycle state of one ingestion job.
type Phase string

const (
	PhaseUploading  Phase = "uploading"
	PhaseProcessing Phase = "processing"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
)

// Terminal reports whether no further transitions are accepted for the job.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// Snapshot is the read-only view of the aggregator state handed to
// consumers. It is re-emitted on every transition; consumers must not
// treat it as shared mutable state.
type Snapshot struct {
	JobID         string  `json:"job_id"`
	Phase         Phase   `json:"phase"`
	Progress      float64 `json:"progress"`
	StageIndex    int     `json:"stage_index"`
	StageLabel    string  `json:"stage_label"`
	ChunksCreated int     `json:"chunks_created"`
	ChunksStored  int     `json:"chunks_stored"`
	ErrorMessage  string  `json:"error_message,omitempty"`
}

// LogEntry is one pipeline log line. Entries are kept in a bounded
// recent-history ring for display only; they carry no state of their own.
type LogEntry struct {
	Message string
	Level   string
	At      time.Time
}

// StatusReport is an authoritative status signal, from either the poll
// endpoint or a status frame on the push channel.
type StatusReport struct {
	Status        string
	ChunksCreated int
	ChunksStored  int
	ErrorMessage  string
}

// Wire status values reported by the backend.
const (
	StatusUploading  = "uploading"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

const (
	// creepStep is the synthetic liveness increment applied when a log line
	// matches nothing in the stage table.
	creepStep = 0.15
	// creepCeiling bounds creep strictly below the storage stage's wrap-up
	// range; creep never reaches it on its own.
	creepCeiling = 98.0
)

// state is the aggregator's working state. The exported Snapshot is embedded;
// the rest is bookkeeping that never leaves the reducer.
type state struct {
	snap Snapshot
	// completionArmed is set once a completion marker or completed status has
	// been observed; the terminal transition itself is deferred by the
	// monitor loop so the UI can visibly reach the last stage first.
	completionArmed bool
	// highFloor is set once an explicit signal placed progress at or beyond
	// the creep ceiling, which permanently disables creep.
	highFloor bool
}

func newState(jobID string) state {
	return state{snap: Snapshot{JobID: jobID, Phase: PhaseUploading}}
}

// action tells the monitor loop which side effect, if any, a reduction asks
// for. The reducer itself never touches timers or notifiers.
type action int

const (
	actionNone action = iota
	// actionScheduleCompletion arms the delayed Completed transition.
	actionScheduleCompletion
	// actionCancelCompletion drops a previously scheduled transition
	// (a failure arrived before the delay elapsed).
	actionCancelCompletion
	// actionCompleted reports that the terminal Completed transition just
	// happened; the notifier fires exactly once on it.
	actionCompleted
)

// event is one input to the reducer. All events are serialized through the
// monitor loop, so reduce never runs concurrently with itself.
type event interface{ isEvent() }

type uploadProgressEvent struct{ pct float64 }

type processingStartedEvent struct{}

type logReceivedEvent struct{ entry LogEntry }

type statusEvent struct{ report StatusReport }

// completionDueEvent re-enters the reducer when the scheduled completion
// delay elapses.
type completionDueEvent struct{}

func (uploadProgressEvent) isEvent()    {}
func (processingStartedEvent) isEvent() {}
func (logReceivedEvent) isEvent()       {}
func (statusEvent) isEvent()            {}
func (completionDueEvent) isEvent()     {}

// reduce is the aggregator: a pure transition function over (state, event).
// Every rule is order-insensitive (max merges, idempotent terminal checks),
// so interleavings of push and poll signals cannot violate monotonicity.
func reduce(s state, ev event) (state, action) {
	if s.snap.Phase.Terminal() {
		return s, actionNone
	}

	switch ev := ev.(type) {
	case uploadProgressEvent:
		if s.snap.Phase != PhaseUploading {
			return s, actionNone
		}
		pct := ev.pct
		if pct < 0 {
			pct = 0
		}
		if pct > 100 {
			pct = 100
		}
		if pct > s.snap.Progress {
			s.snap.Progress = pct
		}
		return s, actionNone

	case processingStartedEvent:
		return enterProcessing(s), actionNone

	case logReceivedEvent:
		if s.snap.Phase != PhaseProcessing {
			return s, actionNone
		}
		return reduceLog(s, ev.entry)

	case statusEvent:
		return reduceStatus(s, ev.report)

	case completionDueEvent:
		if !s.completionArmed {
			return s, actionNone
		}
		s.completionArmed = false
		s.snap.Phase = PhaseCompleted
		s.snap.Progress = 100
		return s, actionCompleted
	}

	return s, actionNone
}

// enterProcessing moves Uploading into Processing. The two phases carry
// independent 0-100 scales, so progress restarts at zero.
func enterProcessing(s state) state {
	if s.snap.Phase != PhaseUploading {
		return s
	}
	s.snap.Phase = PhaseProcessing
	s.snap.Progress = 0
	return s
}

func reduceLog(s state, entry LogEntry) (state, action) {
	c := Classify(entry.Message)

	switch {
	case c.Completion:
		if s.completionArmed {
			return s, actionNone
		}
		s.completionArmed = true
		return s, actionScheduleCompletion

	case c.Stage > 0:
		if c.Stage > s.snap.StageIndex {
			s.snap.StageIndex = c.Stage
			s.snap.StageLabel = StageLabel(c.Stage)
		}
		if c.Floor > s.snap.Progress {
			s.snap.Progress = c.Floor
		}
		if c.Floor >= creepCeiling {
			s.highFloor = true
		}
		return s, actionNone

	default:
		// Liveness creep: the pipeline is talking but said nothing we
		// recognize. Bounded strictly below the ceiling so it can never
		// masquerade as real progress.
		if s.highFloor || s.completionArmed {
			return s, actionNone
		}
		if s.snap.Progress > 0 && s.snap.Progress+creepStep < creepCeiling {
			s.snap.Progress += creepStep
		}
		return s, actionNone
	}
}

func reduceStatus(s state, r StatusReport) (state, action) {
	switch r.Status {
	case StatusFailed:
		// Immediate, no delay. Overrides any pending scheduled completion.
		armed := s.completionArmed
		s.completionArmed = false
		s.snap.Phase = PhaseFailed
		s.snap.ErrorMessage = r.ErrorMessage
		if armed {
			return s, actionCancelCompletion
		}
		return s, actionNone

	case StatusCompleted:
		// Chunk counts come only from authoritative terminal signals.
		s.snap.ChunksCreated = r.ChunksCreated
		s.snap.ChunksStored = r.ChunksStored
		s = enterProcessing(s)
		if s.completionArmed {
			return s, actionNone
		}
		s.completionArmed = true
		return s, actionScheduleCompletion

	case StatusProcessing:
		// The backend can be observed ahead of the local upload callback;
		// its word is authoritative.
		return enterProcessing(s), actionNone

	default:
		return s, actionNone
	}
}
