package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// streamListener owns the per-job push channel. Exactly one channel is
// opened per (job id, Processing-phase entry); frames are forwarded to the
// monitor loop tagged with the job id the channel was opened for, so a late
// frame from a detached channel is still rejected at the aggregator boundary.
type streamListener struct {
	backend Backend
	sink    func(jobID string, ev event)
	metrics *Metrics
	log     *slog.Logger
}

type streamHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// detach closes the channel. Frames already in flight are dropped by the
// monitor loop's job-id check, not merely by the transport teardown.
func (h *streamHandle) detach() {
	h.cancel()
}

func (l *streamListener) attach(jobID string) *streamHandle {
	ctx, cancel := context.WithCancel(context.Background())
	h := &streamHandle{cancel: cancel, done: make(chan struct{})}
	go l.run(ctx, jobID, h.done)
	return h
}

func (l *streamListener) run(ctx context.Context, jobID string, done chan struct{}) {
	defer close(done)

	frames, err := l.backend.OpenEvents(ctx, jobID)
	if err != nil {
		// No reconnection policy: the fallback poller is the liveness
		// backstop when the push channel never comes up.
		l.metrics.StreamErrorsTotal.Inc()
		l.log.Warn("push channel open failed", "error", err, "job_id", jobID)
		return
	}
	l.log.Info("push channel attached", "job_id", jobID)

	for frame := range frames {
		l.forward(jobID, frame)
	}
	l.log.Info("push channel closed", "job_id", jobID)
}

func (l *streamListener) forward(jobID string, f Frame) {
	l.metrics.FramesTotal.Inc()

	switch f.Type {
	case FrameTypeLog:
		var data LogFrameData
		if err := json.Unmarshal(f.Data, &data); err != nil || data.Message == "" {
			l.metrics.DecodeErrorsTotal.Inc()
			l.log.Warn("dropping malformed log frame", "error", err, "job_id", jobID)
			return
		}
		at := time.Now()
		if data.Timestamp > 0 {
			at = time.Unix(0, int64(data.Timestamp*float64(time.Second)))
		}
		l.sink(jobID, logReceivedEvent{entry: LogEntry{
			Message: data.Message,
			Level:   data.Level,
			At:      at,
		}})

	case FrameTypeStatus:
		var data StatusFrameData
		if err := json.Unmarshal(f.Data, &data); err != nil || data.Status == "" {
			l.metrics.DecodeErrorsTotal.Inc()
			l.log.Warn("dropping malformed status frame", "error", err, "job_id", jobID)
			return
		}
		l.sink(jobID, statusEvent{report: StatusReport{
			Status:        data.Status,
			ChunksCreated: data.ChunksCreated,
			ChunksStored:  data.ChunksStored,
			ErrorMessage:  data.ErrorMessage,
		}})

	default:
		l.metrics.DecodeErrorsTotal.Inc()
		l.log.Warn("dropping frame of unknown type", "type", f.Type, "job_id", jobID)
	}
}
