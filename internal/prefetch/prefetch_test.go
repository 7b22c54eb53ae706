package prefetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/quizgen/internal/catalog"
	"github.com/pavelanni/quizgen/internal/model"
	"github.com/pavelanni/quizgen/internal/session"
)

// fakeGenerator numbers the items it produces. Call number blockOn closes
// entered and waits for release; calls from failFrom on return an error.
type fakeGenerator struct {
	mu       sync.Mutex
	calls    int
	blockOn  int
	entered  chan struct{}
	release  chan struct{}
	failFrom int
}

func newBlockingGenerator(n int) *fakeGenerator {
	return &fakeGenerator{blockOn: n, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *fakeGenerator) Generate(ctx context.Context, lecture, topic string) (*model.QuizItem, error) {
	g.mu.Lock()
	g.calls++
	n := g.calls
	block := g.release != nil && n == g.blockOn
	fail := g.failFrom > 0 && n >= g.failFrom
	g.mu.Unlock()

	if block {
		close(g.entered)
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, errors.New("upstream down")
	}
	return &model.QuizItem{
		Lecture:  lecture,
		Topic:    topic,
		Question: model.Question{Text: fmt.Sprintf("question %d", n)},
	}, nil
}

func (g *fakeGenerator) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeResults struct {
	mu      sync.Mutex
	results []model.Result
}

func (f *fakeResults) InsertResult(r model.Result) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, r)
	return int64(len(f.results)), nil
}

func testCatalog() *catalog.Catalog {
	return catalog.New([][2]string{
		{"Netze", "TCP"},
		{"Netze", "UDP"},
		{"Datenbanken", "SQL"},
		{"Leer", ""},
	})
}

func newTestController(t *testing.T, gen Generator, cfg Config) (*Controller, *session.Memory, *fakeResults) {
	t.Helper()
	store := session.NewMemory(time.Hour)
	results := &fakeResults{}
	c := New(testCatalog(), gen, store, results, cfg)
	c.intn = func(int) int { return 0 }
	t.Cleanup(c.Close)
	return c, store, results
}

func waitEntered(t *testing.T, g *fakeGenerator) {
	t.Helper()
	select {
	case <-g.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("prefetch job did not start generating")
	}
}

func waitJob(t *testing.T, c *Controller, id string) {
	t.Helper()
	select {
	case <-c.jobDone(id):
	case <-time.After(5 * time.Second):
		t.Fatal("prefetch job did not finish")
	}
}

func TestRequestQuestionThenPrefetch(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{}
	c, store, _ := newTestController(t, gen, Config{})

	status, err := c.PollStatus(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.PrefetchStatus{}, status)

	item, err := c.RequestQuestion(ctx, "s1", []string{"Netze"})
	require.NoError(t, err)
	assert.Equal(t, "Netze", item.Lecture)
	assert.Equal(t, "TCP", item.Topic)
	assert.Equal(t, "question 1", item.Question.Text)

	waitJob(t, c, "s1")
	assert.Equal(t, 2, gen.count())

	status, err = c.PollStatus(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, status.Ready)
	assert.False(t, status.Pending)

	sess, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Netze"}, sess.ChosenLectures)
	assert.Equal(t, "TCP", sess.CurrentTopic)
	require.NotNil(t, sess.Current)
	assert.Equal(t, "question 1", sess.Current.Question.Text)
}

func TestRequestQuestionServesPrepared(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{}
	c, _, _ := newTestController(t, gen, Config{})

	_, err := c.RequestQuestion(ctx, "s1", []string{"Netze"})
	require.NoError(t, err)
	waitJob(t, c, "s1")

	// No lectures in the request falls back to the session's chosen set.
	item, err := c.RequestQuestion(ctx, "s1", nil)
	require.NoError(t, err)
	assert.Equal(t, "question 2", item.Question.Text, "prepared question should be served")

	waitJob(t, c, "s1")
	assert.Equal(t, 3, gen.count(), "serving a prepared question starts the next prefetch")
}

func TestRequestQuestionNoLectures(t *testing.T) {
	gen := &fakeGenerator{}
	c, _, _ := newTestController(t, gen, Config{})

	_, err := c.RequestQuestion(context.Background(), "s1", []string{" ", ""})
	assert.ErrorIs(t, err, ErrNoLectures)
	assert.Zero(t, gen.count())
}

func TestRequestQuestionNoTopics(t *testing.T) {
	tests := []struct {
		name    string
		lecture string
	}{
		{"empty lecture", "Leer"},
		{"unknown lecture", "Chemie"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{}
			c, _, _ := newTestController(t, gen, Config{})

			_, err := c.RequestQuestion(context.Background(), "s1", []string{tt.lecture})
			assert.ErrorIs(t, err, ErrNoTopics)
			assert.Zero(t, gen.count())

			status, err := c.PollStatus(context.Background(), "s1")
			require.NoError(t, err)
			assert.False(t, status.Pending)
		})
	}
}

func TestPendingPrefetchFallsBackToSynchronous(t *testing.T) {
	ctx := context.Background()
	gen := newBlockingGenerator(2)
	c, _, _ := newTestController(t, gen, Config{})

	_, err := c.RequestQuestion(ctx, "s1", []string{"Netze"})
	require.NoError(t, err)
	waitEntered(t, gen)

	status, err := c.PollStatus(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, status.Pending)
	assert.False(t, status.Ready)

	// The job is still running, so this generates synchronously and does
	// not start a second job for the session.
	item, err := c.RequestQuestion(ctx, "s1", nil)
	require.NoError(t, err)
	assert.Equal(t, "question 3", item.Question.Text)
	assert.Equal(t, 3, gen.count())

	close(gen.release)
	waitJob(t, c, "s1")

	item, err = c.RequestQuestion(ctx, "s1", nil)
	require.NoError(t, err)
	assert.Equal(t, "question 2", item.Question.Text)
}

func TestPrefetchFailureLeavesNothingReady(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{failFrom: 2}
	c, _, _ := newTestController(t, gen, Config{})

	_, err := c.RequestQuestion(ctx, "s1", []string{"Netze"})
	require.NoError(t, err)
	waitJob(t, c, "s1")

	status, err := c.PollStatus(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, status.Ready)
	assert.False(t, status.Pending)

	_, err = c.RequestQuestion(ctx, "s1", nil)
	assert.Error(t, err)
}

func TestStalePreparedQuestionDiscarded(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{}
	c, _, _ := newTestController(t, gen, Config{})

	_, err := c.RequestQuestion(ctx, "s1", []string{"Netze"})
	require.NoError(t, err)
	waitJob(t, c, "s1")

	item, err := c.RequestQuestion(ctx, "s1", []string{"Datenbanken"})
	require.NoError(t, err)
	assert.Equal(t, "Datenbanken", item.Lecture)
	assert.Equal(t, "SQL", item.Topic)
	assert.Equal(t, "question 3", item.Question.Text)
}

func TestSessionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{}
	c, _, _ := newTestController(t, gen, Config{})

	_, err := c.RequestQuestion(ctx, "a", []string{"Netze"})
	require.NoError(t, err)
	waitJob(t, c, "a")

	status, err := c.PollStatus(ctx, "b")
	require.NoError(t, err)
	assert.False(t, status.Ready)

	_, err = c.RequestQuestion(ctx, "b", nil)
	assert.ErrorIs(t, err, ErrNoLectures)
}

func TestPoolFullSkipsPrefetch(t *testing.T) {
	ctx := context.Background()
	gen := newBlockingGenerator(2)
	c, _, _ := newTestController(t, gen, Config{Workers: 1})

	_, err := c.RequestQuestion(ctx, "a", []string{"Netze"})
	require.NoError(t, err)
	waitEntered(t, gen)

	// a's job holds the only worker, so b gets its question but no prefetch.
	_, err = c.RequestQuestion(ctx, "b", []string{"Netze"})
	require.NoError(t, err)
	assert.Equal(t, 3, gen.count())

	status, err := c.PollStatus(ctx, "b")
	require.NoError(t, err)
	assert.False(t, status.Pending)

	close(gen.release)
	waitJob(t, c, "a")
	assert.Equal(t, 3, gen.count())
}

func TestCloseCancelsJobs(t *testing.T) {
	ctx := context.Background()
	gen := newBlockingGenerator(2)
	c, store, _ := newTestController(t, gen, Config{})

	_, err := c.RequestQuestion(ctx, "s1", []string{"Netze"})
	require.NoError(t, err)

	c.Close()

	ok, err := store.HasPrepared(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)

	// Requests after Close still work but start no new jobs.
	_, err = c.RequestQuestion(ctx, "s1", nil)
	require.NoError(t, err)
	status, err := c.PollStatus(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, status.Pending)
}

func TestSubmitAnswer(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{}
	c, _, results := newTestController(t, gen, Config{})

	_, err := c.RequestQuestion(ctx, "s1", []string{"Netze"})
	require.NoError(t, err)

	r, err := c.SubmitAnswer(ctx, "s1", Submission{
		StudentLabels: []string{"A", "c"},
		StudentTexts:  []string{"first", "third"},
		CorrectLabels: []string{"a", "b"},
		CorrectTexts:  []string{"first", "second"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.ID)
	assert.InDelta(t, 60.0, r.Score, 1e-9)
	assert.Equal(t, "Netze", r.Lecture)
	assert.Equal(t, "TCP", r.Topic)
	assert.Equal(t, []string{"a", "c"}, r.StudentLabels)

	require.Len(t, results.results, 1)
	assert.Equal(t, "s1", results.results[0].SessionID)
}

func TestSubmitAnswerUsesCurrentQuestionKey(t *testing.T) {
	ctx := context.Background()
	sessions := session.NewMemory(time.Hour)
	results := &fakeResults{}
	c := New(testCatalog(), &fakeGenerator{}, sessions, results, Config{})
	t.Cleanup(c.Close)

	require.NoError(t, sessions.Save(ctx, &model.Session{
		ID:             "s1",
		CurrentLecture: "Netze",
		CurrentTopic:   "TCP",
		Current: &model.QuizItem{
			Lecture: "Netze",
			Topic:   "TCP",
			Question: model.Question{
				Options: []model.Option{
					{Label: "a", Text: "first"},
					{Label: "b", Text: "second"},
					{Label: "c", Text: "third"},
				},
				CorrectAnswers: []string{"a", "b"},
			},
		},
	}))

	r, err := c.SubmitAnswer(ctx, "s1", Submission{StudentLabels: []string{"a", "c"}})
	require.NoError(t, err)
	assert.InDelta(t, 60.0, r.Score, 1e-9)
	assert.Equal(t, []string{"a", "b"}, r.CorrectLabels)
	assert.Equal(t, []string{"first", "second"}, r.CorrectAnswerTexts)
}

func TestSubmitAnswerWithoutSession(t *testing.T) {
	gen := &fakeGenerator{}
	c, _, results := newTestController(t, gen, Config{})

	r, err := c.SubmitAnswer(context.Background(), "ghost", Submission{
		StudentLabels: []string{"a"},
		CorrectLabels: []string{"a"},
	})
	require.NoError(t, err)
	assert.InDelta(t, 100.0, r.Score, 1e-9)
	assert.Empty(t, r.Lecture)
	assert.Len(t, results.results, 1)
}
