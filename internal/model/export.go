package model

import "time"

// ResultsExport is the top-level JSON structure for result export.
type ResultsExport struct {
	ExportedAt  time.Time       `json:"exported_at"`
	NumSessions int             `json:"num_sessions"`
	NumResults  int             `json:"num_results"`
	Sessions    []SessionResult `json:"sessions"`
}

// SessionResult holds one session's graded answers for export.
type SessionResult struct {
	SessionID    string   `json:"session_id"`
	NumAnswers   int      `json:"num_answers"`
	AverageScore float64  `json:"average_score"`
	Results      []Result `json:"results"`
}
