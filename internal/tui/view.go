package tui

import (
	"fmt"
	"strings"

	"finsight/monitor"
)

const logTail = 8

func (m Model) View() string {
	if m.quitting && !m.snap.Phase.Terminal() {
		return m.styles.Faint.Render("detached; ingestion keeps running on the server") + "\n"
	}

	var b strings.Builder
	b.WriteString(m.viewHeader())
	b.WriteString("\n\n")
	b.WriteString(m.viewProgress())
	b.WriteString("\n")
	b.WriteString(m.viewLogs())
	b.WriteString("\n")
	b.WriteString(m.styles.Subtitle.Render("q: quit"))
	b.WriteString("\n")
	return b.String()
}

func (m Model) viewHeader() string {
	title := m.styles.Title.Render("finwatch · filing ingestion")
	sub := m.styles.Subtitle.Render(fmt.Sprintf("%s • %s", truncate(m.filename, 48), m.jobID))
	return title + "\n" + sub
}

func (m Model) viewProgress() string {
	phaseStyle := m.styles.Info
	phaseText := string(m.snap.Phase)
	switch m.snap.Phase {
	case monitor.PhaseUploading:
		phaseStyle = m.styles.Upload
	case monitor.PhaseProcessing:
		phaseStyle = m.styles.Process
	case monitor.PhaseCompleted:
		phaseStyle = m.styles.Success
	case monitor.PhaseFailed:
		phaseStyle = m.styles.Error
	}

	bar := fmt.Sprintf("%s %5.1f%%", m.bar.ViewAs(m.snap.Progress/100.0), m.snap.Progress)

	var detail string
	switch {
	case m.snap.Phase == monitor.PhaseCompleted:
		detail = m.styles.Success.Render(fmt.Sprintf("✓ done • %d chunks created, %d stored",
			m.snap.ChunksCreated, m.snap.ChunksStored))
	case m.snap.Phase == monitor.PhaseFailed:
		msg := m.snap.ErrorMessage
		if msg == "" {
			msg = "ingestion failed"
		}
		detail = m.styles.Error.Render("✗ " + msg)
	case m.snap.StageIndex > 0:
		detail = m.styles.Info.Render(fmt.Sprintf("stage %d/%d • %s",
			m.snap.StageIndex, monitor.StageCount, m.snap.StageLabel))
	case m.snap.Phase == monitor.PhaseProcessing:
		detail = m.styles.Spinner.Render(m.spinner.View()) + " " + m.styles.Faint.Render("waiting for pipeline")
	default:
		detail = m.styles.Faint.Render("transferring file")
	}

	line1 := fmt.Sprintf("%s  %s", m.styles.Label.Render("phase:"), phaseStyle.Render(phaseText))
	return m.styles.Box.Render(line1 + "\n" + bar + "\n" + detail)
}

func (m Model) viewLogs() string {
	if len(m.logs) == 0 {
		return ""
	}

	start := 0
	if len(m.logs) > logTail {
		start = len(m.logs) - logTail
	}

	var b strings.Builder
	for _, entry := range m.logs[start:] {
		line := truncate(entry.Message, 76)
		switch strings.ToLower(entry.Level) {
		case "error":
			b.WriteString(m.styles.Error.Render(line))
		case "warning", "warn":
			b.WriteString(m.styles.Warning.Render(line))
		default:
			b.WriteString(m.styles.Faint.Render(line))
		}
		b.WriteString("\n")
	}
	return m.styles.Box.Render(b.String())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 1 {
		return "…"
	}
	return s[:n-1] + "…"
}
