package feedback

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/quizgen/internal/i18n"
	"github.com/pavelanni/quizgen/internal/llm/prompts"
	"github.com/pavelanni/quizgen/internal/model"
)

type fakeResults struct {
	results map[string][]model.Result
	err     error
}

func (f fakeResults) ListResults(sessionID string) ([]model.Result, error) {
	return f.results[sessionID], f.err
}

type fakeCompleter struct {
	prompt string
	reply  string
	err    error
	calls  int
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.calls++
	f.prompt = prompt
	return f.reply, f.err
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	require.NoError(t, i18n.Init("en"))
	require.NoError(t, prompts.LoadEmbedded())
	return i18n.WithLocalizer(context.Background(), i18n.NewLocalizer("en"))
}

func sampleResults() map[string][]model.Result {
	return map[string][]model.Result{
		"s1": {
			{SessionID: "s1", Topic: "TCP", StudentAnswerTexts: []string{"reliable"}, CorrectAnswerTexts: []string{"reliable"}, Score: 100},
			{SessionID: "s1", Topic: "UDP", StudentAnswerTexts: []string{"ordered"}, CorrectAnswerTexts: []string{"connectionless"}, Score: 80},
		},
	}
}

func TestSummarizeNoResults(t *testing.T) {
	ctx := testContext(t)
	llm := &fakeCompleter{reply: "unused"}
	a := New(fakeResults{}, llm, prompts.LangEnglish)

	s, err := a.Summarize(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "You have not answered any questions yet.", s.Text)
	assert.Zero(t, s.NumResults)
	assert.Zero(t, llm.calls, "model must not be called without results")
}

func TestSummarize(t *testing.T) {
	ctx := testContext(t)
	llm := &fakeCompleter{reply: "Well done on TCP."}
	a := New(fakeResults{results: sampleResults()}, llm, prompts.LangEnglish)

	s, err := a.Summarize(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Well done on TCP.", s.Text)
	assert.False(t, s.Failed)
	assert.Equal(t, 2, s.NumResults)
	assert.InDelta(t, 90.0, s.AverageScore, 1e-9)
	assert.Equal(t, 1, llm.calls)
	assert.Contains(t, llm.prompt, "TCP")
	assert.Contains(t, llm.prompt, "connectionless")
}

func TestSummarizeOnlyOwnSession(t *testing.T) {
	ctx := testContext(t)
	llm := &fakeCompleter{reply: "ok"}
	a := New(fakeResults{results: sampleResults()}, llm, prompts.LangEnglish)

	s, err := a.Summarize(ctx, "other")
	require.NoError(t, err)
	assert.Zero(t, s.NumResults)
	assert.Zero(t, llm.calls)
}

func TestSummarizeCompletionFailure(t *testing.T) {
	ctx := testContext(t)
	llm := &fakeCompleter{err: errors.New("rate limited")}
	a := New(fakeResults{results: sampleResults()}, llm, prompts.LangEnglish)

	s, err := a.Summarize(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, s.Failed)
	assert.Equal(t, "Feedback could not be generated: rate limited", s.Text)
}

func TestSummarizeStoreFailure(t *testing.T) {
	ctx := testContext(t)
	a := New(fakeResults{err: errors.New("disk gone")}, &fakeCompleter{}, prompts.LangEnglish)

	_, err := a.Summarize(ctx, "s1")
	assert.Error(t, err)
}

func TestAverage(t *testing.T) {
	assert.Zero(t, Average(nil))
	assert.InDelta(t, 50.0, Average([]model.Result{{Score: 0}, {Score: 100}}), 1e-9)
}
