package store

import (
	"fmt"
	"time"

	"github.com/pavelanni/quizgen/internal/model"
)

// ExportResults builds an export of all stored results grouped per session.
func (s *Store) ExportResults() (model.ResultsExport, error) {
	results, err := s.ListAllResults()
	if err != nil {
		return model.ResultsExport{}, fmt.Errorf("list results: %w", err)
	}

	export := model.ResultsExport{
		ExportedAt: time.Now().UTC(),
		NumResults: len(results),
		Sessions:   []model.SessionResult{},
	}

	var cur *model.SessionResult
	var total float64
	flush := func() {
		if cur == nil {
			return
		}
		cur.NumAnswers = len(cur.Results)
		cur.AverageScore = total / float64(cur.NumAnswers)
		export.Sessions = append(export.Sessions, *cur)
	}
	for _, r := range results {
		if cur == nil || cur.SessionID != r.SessionID {
			flush()
			cur = &model.SessionResult{SessionID: r.SessionID}
			total = 0
		}
		cur.Results = append(cur.Results, r)
		total += r.Score
	}
	flush()

	export.NumSessions = len(export.Sessions)
	return export, nil
}
