package model

import "time"

// Severity is a presentation hint derived from a percentage.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// BlockResult is the per-block score. Rows for blocks the platform did not
// report are synthesized with CorrectCount = 0.
type BlockResult struct {
	BlockID      string   `json:"block_id"`
	CorrectCount int      `json:"correct"`
	TotalCount   int      `json:"total"`
	Percent      float64  `json:"percent"`
	Severity     Severity `json:"severity,omitempty"`
	Synthesized  bool     `json:"synthesized,omitempty"`
}

// Results is the aggregated score of a finished attempt.
type Results struct {
	SessionID       string        `json:"session_id"`
	ExamID          string        `json:"exam_id"`
	Reason          FinishReason  `json:"reason"`
	OverallPercent  float64       `json:"overall_percent"`
	OverallSeverity Severity      `json:"overall_severity"`
	CorrectCount    int           `json:"correct"`
	DeclaredCount   int           `json:"declared"`
	PerBlock        []BlockResult `json:"per_block"`
	FinishedAt      time.Time     `json:"finished_at"`
}
