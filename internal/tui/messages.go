package tui

import "finsight/monitor"

type snapshotMsg struct {
	Snap monitor.Snapshot
}

type updatesClosedMsg struct{}
