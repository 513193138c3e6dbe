package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReduce_UploadProgress(t *testing.T) {
	s := newState("job-1")

	t.Run("ClampsAndMergesByMax", func(t *testing.T) {
		s, _ = reduce(s, uploadProgressEvent{pct: -5})
		assert.Equal(t, 0.0, s.snap.Progress)

		s, _ = reduce(s, uploadProgressEvent{pct: 30})
		assert.Equal(t, 30.0, s.snap.Progress)

		// Out-of-order callback must never move the bar backwards.
		s, _ = reduce(s, uploadProgressEvent{pct: 20})
		assert.Equal(t, 30.0, s.snap.Progress)

		s, _ = reduce(s, uploadProgressEvent{pct: 150})
		assert.Equal(t, 100.0, s.snap.Progress)
	})

	t.Run("IgnoredOutsideUploading", func(t *testing.T) {
		s, _ = reduce(s, processingStartedEvent{})
		s, _ = reduce(s, uploadProgressEvent{pct: 90})
		assert.Equal(t, 0.0, s.snap.Progress)
	})
}

func TestReduce_ProcessingRestartsScale(t *testing.T) {
	s := newState("job-1")
	s, _ = reduce(s, uploadProgressEvent{pct: 80})

	s, _ = reduce(s, processingStartedEvent{})
	assert.Equal(t, PhaseProcessing, s.snap.Phase)
	assert.Equal(t, 0.0, s.snap.Progress)

	// Repeated signal is a no-op.
	s, _ = reduce(s, processingStartedEvent{})
	assert.Equal(t, PhaseProcessing, s.snap.Phase)
}

func TestReduce_StageFloorsAreMonotonic(t *testing.T) {
	s := newState("job-1")
	s, _ = reduce(s, processingStartedEvent{})

	s, _ = reduce(s, logReceivedEvent{entry: LogEntry{Message: "Extracting pages 1-10"}})
	assert.Equal(t, 3, s.snap.StageIndex)
	assert.Equal(t, "Text extraction & OCR", s.snap.StageLabel)
	assert.Equal(t, 40.0, s.snap.Progress)

	// A replayed earlier-stage line cannot regress stage or progress.
	s, _ = reduce(s, logReceivedEvent{entry: LogEntry{Message: "orientation correction"}})
	assert.Equal(t, 3, s.snap.StageIndex)
	assert.Equal(t, 40.0, s.snap.Progress)

	s, _ = reduce(s, logReceivedEvent{entry: LogEntry{Message: "Storing chunks"}})
	assert.Equal(t, 8, s.snap.StageIndex)
	assert.Equal(t, 90.0, s.snap.Progress)
}

func TestReduce_LogsIgnoredOutsideProcessing(t *testing.T) {
	s := newState("job-1")
	s, act := reduce(s, logReceivedEvent{entry: LogEntry{Message: "Extracting pages"}})
	assert.Equal(t, actionNone, act)
	assert.Equal(t, 0, s.snap.StageIndex)
	assert.Equal(t, 0.0, s.snap.Progress)
}

func TestReduce_Creep(t *testing.T) {
	t.Run("AdvancesUnrecognizedChatter", func(t *testing.T) {
		s := newState("job-1")
		s, _ = reduce(s, processingStartedEvent{})
		s, _ = reduce(s, logReceivedEvent{entry: LogEntry{Message: "Extracting pages"}})

		s, _ = reduce(s, logReceivedEvent{entry: LogEntry{Message: "worker heartbeat"}})
		assert.InDelta(t, 40.15, s.snap.Progress, 1e-9)
	})

	t.Run("NeverStartsFromZero", func(t *testing.T) {
		s := newState("job-1")
		s, _ = reduce(s, processingStartedEvent{})

		s, _ = reduce(s, logReceivedEvent{entry: LogEntry{Message: "worker heartbeat"}})
		assert.Equal(t, 0.0, s.snap.Progress)
	})

	t.Run("BoundedBelowCeiling", func(t *testing.T) {
		s := newState("job-1")
		s, _ = reduce(s, processingStartedEvent{})
		s.snap.Progress = 97.9

		s, _ = reduce(s, logReceivedEvent{entry: LogEntry{Message: "worker heartbeat"}})
		assert.Equal(t, 97.9, s.snap.Progress)
	})

	t.Run("DisabledByHighFloor", func(t *testing.T) {
		s := newState("job-1")
		s, _ = reduce(s, processingStartedEvent{})
		s.snap.Progress = 98.5
		s.highFloor = true

		s, _ = reduce(s, logReceivedEvent{entry: LogEntry{Message: "worker heartbeat"}})
		assert.Equal(t, 98.5, s.snap.Progress)
	})

	t.Run("DisabledOnceCompletionArmed", func(t *testing.T) {
		s := newState("job-1")
		s, _ = reduce(s, processingStartedEvent{})
		s, _ = reduce(s, logReceivedEvent{entry: LogEntry{Message: "Extracting pages"}})
		s, _ = reduce(s, logReceivedEvent{entry: LogEntry{Message: "INGESTION COMPLETE"}})

		s, _ = reduce(s, logReceivedEvent{entry: LogEntry{Message: "worker heartbeat"}})
		assert.Equal(t, 40.0, s.snap.Progress)
	})
}

func TestReduce_DelayedCompletion(t *testing.T) {
	s := newState("job-1")
	s, _ = reduce(s, processingStartedEvent{})

	var act action
	s, act = reduce(s, logReceivedEvent{entry: LogEntry{Message: "INGESTION COMPLETE"}})
	assert.Equal(t, actionScheduleCompletion, act)
	assert.Equal(t, PhaseProcessing, s.snap.Phase, "transition is deferred")

	// A second marker must not schedule again.
	s, act = reduce(s, logReceivedEvent{entry: LogEntry{Message: "Status: SUCCESS"}})
	assert.Equal(t, actionNone, act)

	s, act = reduce(s, completionDueEvent{})
	assert.Equal(t, actionCompleted, act)
	assert.Equal(t, PhaseCompleted, s.snap.Phase)
	assert.Equal(t, 100.0, s.snap.Progress)
}

func TestReduce_CompletionDueWithoutArming(t *testing.T) {
	s := newState("job-1")
	s, _ = reduce(s, processingStartedEvent{})

	s, act := reduce(s, completionDueEvent{})
	assert.Equal(t, actionNone, act)
	assert.Equal(t, PhaseProcessing, s.snap.Phase)
}

func TestReduce_StatusFailed(t *testing.T) {
	t.Run("Immediate", func(t *testing.T) {
		s := newState("job-1")
		s, _ = reduce(s, processingStartedEvent{})

		s, act := reduce(s, statusEvent{report: StatusReport{Status: StatusFailed, ErrorMessage: "OCR crashed"}})
		assert.Equal(t, actionNone, act)
		assert.Equal(t, PhaseFailed, s.snap.Phase)
		assert.Equal(t, "OCR crashed", s.snap.ErrorMessage)
	})

	t.Run("OverridesPendingCompletion", func(t *testing.T) {
		s := newState("job-1")
		s, _ = reduce(s, processingStartedEvent{})
		s, _ = reduce(s, logReceivedEvent{entry: LogEntry{Message: "INGESTION COMPLETE"}})

		s, act := reduce(s, statusEvent{report: StatusReport{Status: StatusFailed, ErrorMessage: "late failure"}})
		assert.Equal(t, actionCancelCompletion, act)
		assert.Equal(t, PhaseFailed, s.snap.Phase)

		// The stale timer firing afterwards must be a no-op.
		s, act = reduce(s, completionDueEvent{})
		assert.Equal(t, actionNone, act)
		assert.Equal(t, PhaseFailed, s.snap.Phase)
	})
}

func TestReduce_StatusCompleted(t *testing.T) {
	s := newState("job-1")
	s, _ = reduce(s, processingStartedEvent{})

	s, act := reduce(s, statusEvent{report: StatusReport{Status: StatusCompleted, ChunksCreated: 180, ChunksStored: 176}})
	assert.Equal(t, actionScheduleCompletion, act)
	assert.Equal(t, PhaseProcessing, s.snap.Phase)
	assert.Equal(t, 180, s.snap.ChunksCreated)
	assert.Equal(t, 176, s.snap.ChunksStored)

	s, act = reduce(s, completionDueEvent{})
	assert.Equal(t, actionCompleted, act)
	assert.Equal(t, PhaseCompleted, s.snap.Phase)
}

func TestReduce_StatusPromotesUploading(t *testing.T) {
	// The backend can be observed ahead of the local upload callback.
	s := newState("job-1")
	s, _ = reduce(s, uploadProgressEvent{pct: 60})

	s, _ = reduce(s, statusEvent{report: StatusReport{Status: StatusProcessing}})
	assert.Equal(t, PhaseProcessing, s.snap.Phase)
	assert.Equal(t, 0.0, s.snap.Progress)
}

func TestReduce_TerminalIsSticky(t *testing.T) {
	s := newState("job-1")
	s, _ = reduce(s, processingStartedEvent{})
	s, _ = reduce(s, statusEvent{report: StatusReport{Status: StatusFailed, ErrorMessage: "boom"}})

	for _, ev := range []event{
		uploadProgressEvent{pct: 99},
		processingStartedEvent{},
		logReceivedEvent{entry: LogEntry{Message: "Storing chunks"}},
		statusEvent{report: StatusReport{Status: StatusCompleted, ChunksCreated: 1}},
		completionDueEvent{},
	} {
		next, act := reduce(s, ev)
		assert.Equal(t, actionNone, act)
		assert.Equal(t, s, next)
	}
}

func TestReduce_OrderIndependentConvergence(t *testing.T) {
	// The same signals in either interleaving must land on the same snapshot.
	run := func(events []event) Snapshot {
		s := newState("job-1")
		s, _ = reduce(s, processingStartedEvent{})
		for _, ev := range events {
			s, _ = reduce(s, ev)
		}
		s, _ = reduce(s, completionDueEvent{})
		return s.snap
	}

	marker := logReceivedEvent{entry: LogEntry{Message: "INGESTION COMPLETE"}}
	polled := statusEvent{report: StatusReport{Status: StatusCompleted, ChunksCreated: 42, ChunksStored: 42}}
	stage := logReceivedEvent{entry: LogEntry{Message: "Storing chunks"}}

	a := run([]event{stage, marker, polled})
	b := run([]event{polled, stage, marker})
	assert.Equal(t, a, b)
	assert.Equal(t, PhaseCompleted, a.Phase)
	assert.Equal(t, 100.0, a.Progress)
	assert.Equal(t, 42, a.ChunksCreated)
}
