package tui

import (
	"context"

	bubblesprogress "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"finsight/monitor"
)

type Model struct {
	ctx      context.Context
	mon      *monitor.Monitor
	jobID    string
	filename string

	snap monitor.Snapshot
	logs []monitor.LogEntry

	width    int
	quitting bool

	spinner spinner.Model
	bar     bubblesprogress.Model
	styles  Styles
}

func NewModel(ctx context.Context, mon *monitor.Monitor, jobID, filename string) Model {
	sty := defaultStyles()

	sp := spinner.New()
	sp.Style = sty.Spinner
	bar := bubblesprogress.New(
		bubblesprogress.WithDefaultGradient(),
		bubblesprogress.WithWidth(40),
	)

	return Model{
		ctx:      ctx,
		mon:      mon,
		jobID:    jobID,
		filename: filename,
		snap:     mon.Snapshot(),
		spinner:  sp,
		bar:      bar,
		styles:   sty,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenUpdatesCmd())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case snapshotMsg:
		m.snap = msg.Snap
		m.logs = m.mon.RecentLogs()
		if m.snap.Phase.Terminal() {
			return m, tea.Quit
		}
		return m, m.listenUpdatesCmd()

	case updatesClosedMsg:
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.spinner, cmd = m.spinner.Update(msg)
	return m, cmd
}

func (m Model) listenUpdatesCmd() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.ctx.Done():
			return updatesClosedMsg{}
		case snap, ok := <-m.mon.Updates():
			if !ok {
				return updatesClosedMsg{}
			}
			return snapshotMsg{Snap: snap}
		}
	}
}

// Snapshot exposes the last observed state to the caller after the program
// exits.
func (m Model) Snapshot() monitor.Snapshot {
	return m.snap
}
