package monitor

import "strings"

// StageDefinition maps free-text pipeline log wording to a canonical stage.
// The table is ordered; Index is 1-based, 0 means "no stage detected".
type StageDefinition struct {
	Index    int
	Label    string
	Triggers []string
	Floor    float64
}

// stages is the canonical pipeline stage table. Trigger wording tracks the
// ingestion pipeline's log output; this table is the only place that needs
// updating when that wording changes.
var stages = []StageDefinition{
	{1, "Orientation correction", []string{"orientation"}, 5},
	{2, "RAG pipeline init", []string{"rag pipeline init"}, 30},
	{3, "Text extraction & OCR", []string{"extracting pages"}, 40},
	{4, "Section boundary detection", []string{"detecting section"}, 50},
	{5, "Adaptive chunking", []string{"chunking"}, 60},
	{6, "AI chunk classification", []string{"classifying"}, 70},
	{7, "Neural embeddings", []string{"embedding"}, 80},
	{8, "Vector storage", []string{"storing chunks"}, 90},
}

// completionMarkers are order-independent terminal markers. They flag a phase
// transition, not a stage, so Classify reports them separately.
var completionMarkers = []string{"ingestion complete", "status: success"}

// Classification is the result of matching one log message against the stage
// table.
type Classification struct {
	// Stage is the 1-based stage index, 0 when no trigger matched.
	Stage int
	// Floor is the minimum progress percentage implied by Stage; 0 when no
	// trigger matched.
	Floor float64
	// Completion reports that the message carries a terminal success marker.
	Completion bool
}

// Classify matches a raw pipeline log message against the stage table.
// Matching is case-insensitive substring search; when several triggers match
// the same message, the highest-numbered stage wins (a message naming a later
// stage supersedes an earlier one mentioned incidentally).
func Classify(message string) Classification {
	text := strings.ToLower(message)

	var c Classification
	for _, marker := range completionMarkers {
		if strings.Contains(text, marker) {
			c.Completion = true
			break
		}
	}

	for _, def := range stages {
		for _, trigger := range def.Triggers {
			if strings.Contains(text, trigger) {
				c.Stage = def.Index
				c.Floor = def.Floor
				break
			}
		}
	}
	return c
}

// StageCount is the number of canonical pipeline stages.
const StageCount = 8

// StageLabel returns the display label for a 1-based stage index, or "" for
// an index outside the table.
func StageLabel(index int) string {
	if index < 1 || index > len(stages) {
		return ""
	}
	return stages[index-1].Label
}
