package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"finsight/monitor"
)

// Run renders the watcher until the job reaches a terminal phase or the user
// quits. A failed job surfaces as an error so the CLI exit code reflects it.
func Run(ctx context.Context, mon *monitor.Monitor, jobID, filename string) error {
	m := NewModel(ctx, mon, jobID, filename)
	prog := tea.NewProgram(m, tea.WithContext(ctx))
	final, err := prog.Run()
	if err != nil {
		return err
	}

	if fm, ok := final.(Model); ok {
		snap := fm.Snapshot()
		if snap.Phase == monitor.PhaseFailed {
			msg := snap.ErrorMessage
			if msg == "" {
				msg = "ingestion failed"
			}
			return fmt.Errorf("%s: %s", jobID, msg)
		}
	}
	return nil
}
