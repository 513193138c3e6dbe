package monitor

import (
	"io"
	"log/slog"
	"os"
)

// Cue is the side effect fired when a job completes, typically an audible
// signal on the terminal the watcher runs in.
type Cue interface {
	Play() error
}

// CueFactory lazily creates the cue resource. It runs on first completion,
// not at construction, and the resource lives until the notifier closes.
type CueFactory func() (Cue, error)

// Notifier fires a cue exactly once per completed job. It does not guard
// against duplicate terminal transitions itself; the aggregator's terminal
// stickiness guarantees Notify is called at most once per job id.
type Notifier struct {
	factory CueFactory
	cue     Cue
	log     *slog.Logger
}

func NewNotifier(factory CueFactory, log *slog.Logger) *Notifier {
	if factory == nil {
		factory = func() (Cue, error) { return BellCue(os.Stdout), nil }
	}
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{factory: factory, log: log}
}

// Notify plays the completion cue, creating it on first use. Cue failures
// are logged and swallowed; a broken speaker must not affect job state.
func (n *Notifier) Notify(jobID string) {
	if n.cue == nil {
		cue, err := n.factory()
		if err != nil {
			n.log.Warn("completion cue unavailable", "error", err, "job_id", jobID)
			return
		}
		n.cue = cue
	}
	if err := n.cue.Play(); err != nil {
		n.log.Warn("completion cue failed", "error", err, "job_id", jobID)
	}
}

// Close releases the cue resource at session end, if it holds one.
func (n *Notifier) Close() {
	if closer, ok := n.cue.(io.Closer); ok {
		_ = closer.Close()
	}
	n.cue = nil
}

type bellCue struct{ w io.Writer }

// BellCue returns a cue that rings the terminal bell.
func BellCue(w io.Writer) Cue {
	return &bellCue{w: w}
}

func (b *bellCue) Play() error {
	_, err := b.w.Write([]byte("\a"))
	return err
}
