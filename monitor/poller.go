package monitor

import (
	"context"
	"log/slog"
	"time"
)

// poller periodically queries the pull status endpoint. It is the only
// signal path guaranteed to reach a terminal state when the push channel
// stays silent or never opens.
type poller struct {
	backend  Backend
	interval time.Duration
	sink     func(jobID string, ev event)
	metrics  *Metrics
	log      *slog.Logger
}

type pollHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (h *pollHandle) stop() {
	h.cancel()
}

func (p *poller) start(jobID string) *pollHandle {
	ctx, cancel := context.WithCancel(context.Background())
	h := &pollHandle{cancel: cancel, done: make(chan struct{})}
	go p.run(ctx, jobID, h.done)
	return h
}

func (p *poller) run(ctx context.Context, jobID string, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// The query is issued synchronously, so at most one request is
		// outstanding; a slow response suppresses subsequent ticks.
		reqCtx, cancel := context.WithTimeout(ctx, p.interval)
		report, err := p.backend.JobStatus(reqCtx, jobID)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Transient: log, count, keep the loop alive.
			p.metrics.PollErrorsTotal.Inc()
			p.log.Warn("status poll failed", "error", err, "job_id", jobID)
			continue
		}

		p.metrics.PollsTotal.Inc()
		p.sink(jobID, statusEvent{report: report})

		if report.Status == StatusCompleted || report.Status == StatusFailed {
			return
		}
	}
}
