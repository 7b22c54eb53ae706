// Package feedback turns a session's recorded results into a personalized
// performance summary.
package feedback

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pavelanni/quizgen/internal/i18n"
	"github.com/pavelanni/quizgen/internal/llm/prompts"
	"github.com/pavelanni/quizgen/internal/model"
)

// ResultLister loads a session's results.
type ResultLister interface {
	ListResults(sessionID string) ([]model.Result, error)
}

// Completer answers a plain text prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Summary is the feedback shown to a student.
type Summary struct {
	Text         string
	NumResults   int
	AverageScore float64
	Results      []model.Result
	Failed       bool // Text describes an error instead of model output
}

// Aggregator builds summaries from stored results.
type Aggregator struct {
	results ResultLister
	llm     Completer
	lang    prompts.Language
}

// New creates an Aggregator that writes prompts in lang.
func New(results ResultLister, llm Completer, lang prompts.Language) *Aggregator {
	return &Aggregator{results: results, llm: llm, lang: lang}
}

// Summarize returns the feedback for a session. Model failures are reported
// in the summary text; only a failing result store returns an error.
func (a *Aggregator) Summarize(ctx context.Context, sessionID string) (*Summary, error) {
	results, err := a.results.ListResults(sessionID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}

	s := &Summary{Results: results, NumResults: len(results), AverageScore: Average(results)}
	if len(results) == 0 {
		s.Text = i18n.T(ctx, "FeedbackNoResults")
		return s, nil
	}

	prompt, err := prompts.BuildFeedbackPrompt(a.lang, results)
	if err != nil {
		return nil, fmt.Errorf("build feedback prompt: %w", err)
	}

	text, err := a.llm.Complete(ctx, prompt)
	if err != nil {
		slog.Error("feedback generation failed", "session", sessionID, "results", len(results), "error", err)
		s.Text = i18n.Td(ctx, "FeedbackFailed", map[string]any{"Error": err.Error()})
		s.Failed = true
		return s, nil
	}

	slog.Info("feedback generated", "session", sessionID, "results", len(results), "average", s.AverageScore)
	s.Text = text
	return s, nil
}

// Average returns the mean score of results, or 0 for none.
func Average(results []model.Result) float64 {
	if len(results) == 0 {
		return 0
	}
	var total float64
	for _, r := range results {
		total += r.Score
	}
	return total / float64(len(results))
}
