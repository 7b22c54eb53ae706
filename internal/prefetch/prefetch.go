// Package prefetch serves quiz questions per session and prepares the next
// question in the background while the current one is being answered.
package prefetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/quizgen/internal/model"
	"github.com/pavelanni/quizgen/internal/scoring"
	"github.com/pavelanni/quizgen/internal/session"
)

// Defaults for Config.
const (
	DefaultWorkers    = 4
	DefaultJobTimeout = 2 * time.Minute
)

var (
	// ErrNoTopics is returned when the picked lecture has no topics.
	ErrNoTopics = errors.New("no topics available for the selected lecture")
	// ErrNoLectures is returned when neither the request nor the session names a lecture.
	ErrNoLectures = errors.New("no lectures selected")
)

// TopicSource lists the topics of a lecture.
type TopicSource interface {
	Topics(lecture string) ([]string, error)
}

// Generator builds a quiz item for a lecture topic.
type Generator interface {
	Generate(ctx context.Context, lecture, topic string) (*model.QuizItem, error)
}

// ResultRecorder persists graded submissions.
type ResultRecorder interface {
	InsertResult(r model.Result) (int64, error)
}

// Config tunes the background worker pool.
type Config struct {
	Workers    int           // concurrent prefetch jobs across all sessions
	JobTimeout time.Duration // upper bound for one prefetch job
}

// Submission is a student's answer to the current question.
type Submission struct {
	StudentLabels []string
	StudentTexts  []string
	CorrectLabels []string
	CorrectTexts  []string
}

type job struct {
	started time.Time
	done    chan struct{}
}

// Controller coordinates question requests and prefetch jobs. At most one
// job is outstanding per session.
type Controller struct {
	topics   TopicSource
	gen      Generator
	sessions session.Store
	results  ResultRecorder
	cfg      Config

	intn func(n int) int
	now  func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	pool    errgroup.Group

	mu     sync.Mutex
	jobs   map[string]*job
	closed bool
}

// New creates a Controller. Call Close to stop outstanding jobs.
func New(topics TopicSource, gen Generator, sessions session.Store, results ResultRecorder, cfg Config) *Controller {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		topics:   topics,
		gen:      gen,
		sessions: sessions,
		results:  results,
		cfg:      cfg,
		intn:     rand.IntN,
		now:      time.Now,
		baseCtx:  ctx,
		cancel:   cancel,
		jobs:     make(map[string]*job),
	}
	c.pool.SetLimit(cfg.Workers)
	return c
}

// RequestQuestion returns the next question for a session. A prepared
// question is served when one is waiting; otherwise one is generated
// synchronously. Either way a prefetch for the following question starts.
func (c *Controller) RequestQuestion(ctx context.Context, sessionID string, lectures []string) (*model.QuizItem, error) {
	sess, err := c.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if chosen := cleanLectures(lectures); len(chosen) > 0 {
		sess.ChosenLectures = chosen
	} else if len(sess.ChosenLectures) == 0 {
		return nil, ErrNoLectures
	}

	item, err := c.takePrepared(ctx, sess)
	if err != nil {
		return nil, err
	}
	if item != nil {
		slog.Info("serving prepared question", "session", sess.ID, "lecture", item.Lecture, "topic", item.Topic)
	} else {
		lecture, topic, err := c.pick(sess.ChosenLectures)
		if err != nil {
			return nil, err
		}
		item, err = c.gen.Generate(ctx, lecture, topic)
		if err != nil {
			return nil, err
		}
	}

	sess.CurrentLecture = item.Lecture
	sess.CurrentTopic = item.Topic
	sess.Current = item
	sess.UpdatedAt = c.now()
	if err := c.sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	c.startPrefetch(sess.ID, sess.ChosenLectures)
	return item, nil
}

// PollStatus reports whether the session's next question is ready.
func (c *Controller) PollStatus(ctx context.Context, sessionID string) (model.PrefetchStatus, error) {
	ready, err := c.sessions.HasPrepared(ctx, sessionID)
	if err != nil {
		return model.PrefetchStatus{}, err
	}
	c.mu.Lock()
	_, pending := c.jobs[sessionID]
	c.mu.Unlock()
	return model.PrefetchStatus{Ready: ready, Pending: pending}, nil
}

// SubmitAnswer grades a submission and records the result. The answer key
// sent with the submission is used as is; without one the session's current
// question supplies it.
func (c *Controller) SubmitAnswer(ctx context.Context, sessionID string, sub Submission) (*model.Result, error) {
	var lecture, topic string
	sess, err := c.sessions.Get(ctx, sessionID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		slog.Warn("answer submitted without a session", "session", sessionID)
	case err != nil:
		return nil, fmt.Errorf("load session: %w", err)
	default:
		lecture, topic = sess.CurrentLecture, sess.CurrentTopic
		if len(sub.CorrectLabels) == 0 && sess.Current != nil {
			sub.CorrectLabels = sess.Current.Question.CorrectAnswers
			sub.CorrectTexts = sess.Current.Question.CorrectTexts()
		}
	}

	r := model.Result{
		SessionID:          sessionID,
		Lecture:            lecture,
		Topic:              topic,
		StudentLabels:      scoring.NormalizeLabels(sub.StudentLabels),
		StudentAnswerTexts: sub.StudentTexts,
		CorrectLabels:      scoring.NormalizeLabels(sub.CorrectLabels),
		CorrectAnswerTexts: sub.CorrectTexts,
		Score:              scoring.Score(sub.StudentLabels, sub.CorrectLabels),
		CreatedAt:          c.now(),
	}
	id, err := c.results.InsertResult(r)
	if err != nil {
		return nil, fmt.Errorf("record result: %w", err)
	}
	r.ID = id
	slog.Info("result recorded", "session", sessionID, "lecture", lecture, "topic", topic, "score", r.Score)
	return &r, nil
}

// Close cancels outstanding prefetch jobs and waits for them to return.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	_ = c.pool.Wait()
}

func (c *Controller) loadSession(ctx context.Context, id string) (*model.Session, error) {
	if id == "" {
		return nil, errors.New("missing session id")
	}
	sess, err := c.sessions.Get(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		now := c.now()
		return &model.Session{ID: id, CreatedAt: now, UpdatedAt: now}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return sess, nil
}

// takePrepared consumes the prepared question, dropping it when it belongs to
// a lecture that is no longer chosen.
func (c *Controller) takePrepared(ctx context.Context, sess *model.Session) (*model.QuizItem, error) {
	item, err := c.sessions.TakePrepared(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("take prepared question: %w", err)
	}
	if item != nil && !sess.HasLecture(item.Lecture) {
		slog.Info("discarding prepared question for unselected lecture", "session", sess.ID, "lecture", item.Lecture)
		return nil, nil
	}
	return item, nil
}

// pick chooses a lecture uniformly from lectures, then a topic uniformly from
// that lecture.
func (c *Controller) pick(lectures []string) (lecture, topic string, err error) {
	if len(lectures) == 0 {
		return "", "", ErrNoLectures
	}
	lecture = lectures[c.intn(len(lectures))]
	topics, err := c.topics.Topics(lecture)
	if err != nil || len(topics) == 0 {
		return "", "", fmt.Errorf("%w: %q", ErrNoTopics, lecture)
	}
	return lecture, topics[c.intn(len(topics))], nil
}

func (c *Controller) startPrefetch(sessionID string, lectures []string) {
	c.mu.Lock()
	if _, busy := c.jobs[sessionID]; busy || c.closed {
		c.mu.Unlock()
		return
	}
	j := &job{started: c.now(), done: make(chan struct{})}
	c.jobs[sessionID] = j
	c.mu.Unlock()

	chosen := append([]string(nil), lectures...)
	started := c.pool.TryGo(func() error {
		c.run(sessionID, chosen, j)
		return nil
	})
	if !started {
		slog.Warn("prefetch pool full, next question will be generated on request", "session", sessionID)
		c.finish(sessionID, j)
	}
}

func (c *Controller) run(sessionID string, lectures []string, j *job) {
	defer c.finish(sessionID, j)

	ctx, cancel := context.WithTimeout(c.baseCtx, c.cfg.JobTimeout)
	defer cancel()

	lecture, topic, err := c.pick(lectures)
	if err != nil {
		slog.Warn("prefetch skipped", "session", sessionID, "error", err)
		return
	}
	item, err := c.gen.Generate(ctx, lecture, topic)
	if err != nil {
		slog.Error("prefetch failed", "session", sessionID, "lecture", lecture, "topic", topic, "error", err)
		return
	}
	if err := c.sessions.PutPrepared(ctx, sessionID, item); err != nil {
		slog.Error("store prepared question", "session", sessionID, "error", err)
		return
	}
	slog.Info("prefetch ready", "session", sessionID, "lecture", lecture, "topic", topic, "elapsed", c.now().Sub(j.started))
}

func (c *Controller) finish(sessionID string, j *job) {
	c.mu.Lock()
	if c.jobs[sessionID] == j {
		delete(c.jobs, sessionID)
	}
	c.mu.Unlock()
	close(j.done)
}

// jobDone returns a channel closed when the session's current job finishes.
func (c *Controller) jobDone(sessionID string) <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if j, ok := c.jobs[sessionID]; ok {
		return j.done
	}
	done := make(chan struct{})
	close(done)
	return done
}

func cleanLectures(in []string) []string {
	var out []string
	seen := make(map[string]bool, len(in))
	for _, l := range in {
		l = strings.TrimSpace(l)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}
