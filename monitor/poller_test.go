package monitor

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoller_ForwardsReportsAndStopsOnTerminal(t *testing.T) {
	backend := &fakeBackend{statuses: []statusResult{
		{report: StatusReport{Status: StatusProcessing}},
		{report: StatusReport{Status: StatusCompleted, ChunksCreated: 12, ChunksStored: 12}},
	}}
	rec := &eventRecorder{}
	metrics := NewMetrics()
	p := &poller{backend: backend, interval: 10 * time.Millisecond, sink: rec.sink, metrics: metrics, log: discardLogger()}

	h := p.start("job-1")

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop after terminal status")
	}

	events := rec.snapshot()
	require.GreaterOrEqual(t, len(events), 2)

	first, ok := events[0].(statusEvent)
	require.True(t, ok)
	assert.Equal(t, StatusProcessing, first.report.Status)

	last, ok := events[len(events)-1].(statusEvent)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, last.report.Status)
	assert.Equal(t, 12, last.report.ChunksCreated)

	assert.Equal(t, float64(len(events)), testutil.ToFloat64(metrics.PollsTotal))
}

func TestPoller_TransientErrorKeepsPolling(t *testing.T) {
	backend := &fakeBackend{statuses: []statusResult{
		{err: errors.New("gateway unavailable")},
		{report: StatusReport{Status: StatusFailed, ErrorMessage: "boom"}},
	}}
	rec := &eventRecorder{}
	metrics := NewMetrics()
	p := &poller{backend: backend, interval: 10 * time.Millisecond, sink: rec.sink, metrics: metrics, log: discardLogger()}

	h := p.start("job-1")

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not recover from the transient error")
	}

	events := rec.snapshot()
	require.NotEmpty(t, events)
	last, ok := events[len(events)-1].(statusEvent)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, last.report.Status)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PollErrorsTotal))
}

func TestPoller_StopCancelsLoop(t *testing.T) {
	backend := &fakeBackend{} // always processing, never terminal
	rec := &eventRecorder{}
	p := &poller{backend: backend, interval: 10 * time.Millisecond, sink: rec.sink, metrics: NewMetrics(), log: discardLogger()}

	h := p.start("job-1")
	time.Sleep(35 * time.Millisecond)
	h.stop()

	select {
	case <-h.done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop on cancel")
	}
}
