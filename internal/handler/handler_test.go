package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/quizgen/internal/catalog"
	"github.com/pavelanni/quizgen/internal/feedback"
	appI18n "github.com/pavelanni/quizgen/internal/i18n"
	"github.com/pavelanni/quizgen/internal/llm"
	"github.com/pavelanni/quizgen/internal/llm/prompts"
	"github.com/pavelanni/quizgen/internal/model"
	"github.com/pavelanni/quizgen/internal/prefetch"
	"github.com/pavelanni/quizgen/internal/session"
	"github.com/pavelanni/quizgen/internal/store"
)

// fakeGenerator returns err when set, and fails calls numbered in
// [failFrom, failUntil] with an upstream error.
type fakeGenerator struct {
	mu        sync.Mutex
	err       error
	calls     int
	failFrom  int
	failUntil int
}

func (g *fakeGenerator) setErr(err error) {
	g.mu.Lock()
	g.err = err
	g.mu.Unlock()
}

func (g *fakeGenerator) failCalls(from, until int) {
	g.mu.Lock()
	g.failFrom, g.failUntil = from, until
	g.mu.Unlock()
}

func (g *fakeGenerator) Generate(_ context.Context, lecture, topic string) (*model.QuizItem, error) {
	g.mu.Lock()
	g.calls++
	err := g.err
	if g.failFrom > 0 && g.calls >= g.failFrom && g.calls <= g.failUntil {
		err = errors.New("upstream unavailable")
	}
	g.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &model.QuizItem{
		Lecture: lecture,
		Topic:   topic,
		Question: model.Question{
			Text: "Which statements about " + topic + " are true?",
			Options: []model.Option{
				{Label: "a", Text: "It is reliable"},
				{Label: "b", Text: "It is ordered"},
				{Label: "c", Text: "It is connectionless"},
			},
			CorrectAnswers: []string{"a", "b"},
			Sources:        []string{"Lecture 3, slide 12"},
		},
	}, nil
}

type fakeCompleter struct{}

func (fakeCompleter) Complete(context.Context, string) (string, error) {
	return "Good work on the transport layer.", nil
}

type testServer struct {
	router http.Handler
	gen    *fakeGenerator
	store  *store.Store
	cookie *http.Cookie
}

func newTestServer(t *testing.T, cfg model.QuizConfig) *testServer {
	t.Helper()
	require.NoError(t, appI18n.Init("en"))
	require.NoError(t, prompts.LoadEmbedded())

	db, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cat := catalog.New([][2]string{
		{"Netze", "TCP"},
		{"Netze", "UDP"},
		{"Leer", ""},
	})
	sessions := session.NewMemory(time.Hour)
	gen := &fakeGenerator{}
	quiz := prefetch.New(cat, gen, sessions, db, prefetch.Config{Workers: 2})
	t.Cleanup(quiz.Close)

	h, err := New(Deps{
		Catalog:  cat,
		Quiz:     quiz,
		Feedback: feedback.New(db, fakeCompleter{}, prompts.LangEnglish),
		Store:    db,
		Sessions: sessions,
	}, cfg)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(appI18n.Middleware())
	r.Use(h.BasePathMiddleware)
	h.Routes(r)
	return &testServer{router: r, gen: gen, store: db}
}

// do sends a request, carrying the session cookie across calls.
func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	if s.cookie != nil {
		req.AddCookie(s.cookie)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookieName {
			s.cookie = c
		}
	}
	return rec
}

func (s *testServer) generate(t *testing.T, lectures ...string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{}
	for _, l := range lectures {
		form.Add("lecture[]", l)
	}
	req := httptest.NewRequest(http.MethodPost, "/generate_question", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.do(t, req)
}

func (s *testServer) submit(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/submit_result", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return s.do(t, req)
}

func TestIndexListsLectures(t *testing.T) {
	s := newTestServer(t, model.QuizConfig{})

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Lecture Quiz")
	assert.Contains(t, body, `value="Netze"`)
	assert.Contains(t, body, `value="Leer"`)
	require.NotNil(t, s.cookie, "session cookie should be issued")
	assert.True(t, s.cookie.HttpOnly)
}

func TestSessionCookieReused(t *testing.T) {
	s := newTestServer(t, model.QuizConfig{})

	s.do(t, httptest.NewRequest(http.MethodGet, "/", nil))
	first := s.cookie.Value
	s.do(t, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, first, s.cookie.Value)
}

func TestGenerateQuestion(t *testing.T) {
	s := newTestServer(t, model.QuizConfig{})

	rec := s.generate(t, "Netze")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Which statements about TCP are true?")
	assert.Contains(t, body, "It is connectionless")
	assert.Contains(t, body, `data-correct="a,b"`)
	assert.Contains(t, body, "Lecture 3, slide 12")
}

func TestGenerateQuestionErrors(t *testing.T) {
	tests := []struct {
		name     string
		lectures []string
		genErr   error
		wantCode int
		wantBody string
	}{
		{"no lectures", nil, nil, http.StatusBadRequest, msgNoLectures},
		{"lecture without topics", []string{"Leer"}, nil, http.StatusNotFound, "No topics available for the selected lecture."},
		{"unknown lecture", []string{"Chemie"}, nil, http.StatusNotFound, "No topics available for the selected lecture."},
		{"malformed question", []string{"Netze"}, &llm.ErrMalformedQuestion{Content: "{}", Err: errors.New("bad")}, http.StatusBadGateway, msgMalformed},
		{"upstream failure", []string{"Netze"}, errors.New("connection refused"), http.StatusInternalServerError, msgUpstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, model.QuizConfig{})
			s.gen.setErr(tt.genErr)

			rec := s.generate(t, tt.lectures...)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

type buttonStatus struct {
	ButtonEnabled bool `json:"button_enabled"`
	Ready         bool `json:"ready"`
	Pending       bool `json:"pending"`
}

func (s *testServer) status(t *testing.T) buttonStatus {
	t.Helper()
	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/check-button-status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp buttonStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestCheckButtonStatus(t *testing.T) {
	s := newTestServer(t, model.QuizConfig{})

	assert.Equal(t, buttonStatus{ButtonEnabled: true}, s.status(t))

	require.Equal(t, http.StatusOK, s.generate(t, "Netze").Code)
	assert.Eventually(t, func() bool { return s.status(t).Ready }, 5*time.Second, 10*time.Millisecond)
	assert.True(t, s.status(t).ButtonEnabled)

	// The next question falls back to the session's lectures and consumes
	// the prepared one.
	rec := s.generate(t)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCheckButtonStatusAfterFailedPrefetch(t *testing.T) {
	s := newTestServer(t, model.QuizConfig{})
	s.gen.failCalls(2, 2)

	require.Equal(t, http.StatusOK, s.generate(t, "Netze").Code)
	assert.Eventually(t, func() bool { return !s.status(t).Pending }, 5*time.Second, 10*time.Millisecond)

	st := s.status(t)
	assert.False(t, st.Ready, "failed prefetch leaves nothing prepared")
	assert.True(t, st.ButtonEnabled, "next question must stay reachable")

	// The upstream has recovered, so the next question is generated on request.
	rec := s.generate(t)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Which statements about")
}

func TestSubmitResult(t *testing.T) {
	s := newTestServer(t, model.QuizConfig{})
	require.Equal(t, http.StatusOK, s.generate(t, "Netze").Code)

	rec := s.submit(t, `{
		"student_answer": ["a", "c"],
		"correct_answer": ["a", "b"],
		"student_answer_texts": ["It is reliable", "It is connectionless"],
		"correct_answer_texts": ["It is reliable", "It is ordered"]
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Message string  `json:"message"`
		Score   float64 `json:"score"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "Result recorded", resp.Message)
	assert.InDelta(t, 60.0, resp.Score, 1e-9)

	count, err := s.store.ResultCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSubmitResultWithoutKeyUsesCurrentQuestion(t *testing.T) {
	s := newTestServer(t, model.QuizConfig{})
	require.Equal(t, http.StatusOK, s.generate(t, "Netze").Code)

	rec := s.submit(t, `{"student_answer": ["a", "b"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	results, err := s.store.ListAllResults()
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 100.0, results[0].Score, 1e-9)
	assert.Equal(t, []string{"a", "b"}, results[0].CorrectLabels)
	assert.Equal(t, []string{"It is reliable", "It is ordered"}, results[0].CorrectAnswerTexts)
}

func TestSubmitResultInvalidJSON(t *testing.T) {
	s := newTestServer(t, model.QuizConfig{})

	rec := s.submit(t, `{"student_answer": `)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetFeedback(t *testing.T) {
	s := newTestServer(t, model.QuizConfig{})

	rec := s.do(t, httptest.NewRequest(http.MethodPost, "/get_feedback", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "You have not answered any questions yet.")

	require.Equal(t, http.StatusOK, s.generate(t, "Netze").Code)
	require.Equal(t, http.StatusOK, s.submit(t, `{"student_answer":["a","b"],"correct_answer":["a","b"]}`).Code)

	rec = s.do(t, httptest.NewRequest(http.MethodPost, "/get_feedback", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Good work on the transport layer.")
	assert.Contains(t, body, "1 question answered")
	assert.Contains(t, body, "Average score: 100%")
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, model.QuizConfig{})

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestAdminRoutes(t *testing.T) {
	t.Run("disabled without token", func(t *testing.T) {
		s := newTestServer(t, model.QuizConfig{})
		rec := s.do(t, httptest.NewRequest(http.MethodGet, "/admin/results", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	s := newTestServer(t, model.QuizConfig{AdminToken: "secret"})
	require.Equal(t, http.StatusOK, s.generate(t, "Netze").Code)
	require.Equal(t, http.StatusOK, s.submit(t, `{"student_answer":["a"],"correct_answer":["a","b"]}`).Code)
	sessionID := s.cookie.Value

	admin := func(method, path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		return s.do(t, req)
	}

	assert.Equal(t, http.StatusUnauthorized, admin(http.MethodGet, "/admin/results", "").Code)
	assert.Equal(t, http.StatusForbidden, admin(http.MethodGet, "/admin/results", "wrong").Code)

	rec := admin(http.MethodGet, "/admin/results", "secret")
	require.Equal(t, http.StatusOK, rec.Code)
	var export model.ResultsExport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&export))
	require.Len(t, export.Sessions, 1)
	assert.Equal(t, sessionID, export.Sessions[0].SessionID)
	assert.InDelta(t, 80.0, export.Sessions[0].AverageScore, 1e-9)

	rec = admin(http.MethodGet, "/admin/catalog", "secret")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"Netze"`)

	rec = admin(http.MethodDelete, "/admin/results/"+sessionID, "secret")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	count, err := s.store.ResultCount()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(Deps{}, model.QuizConfig{})
	assert.Error(t, err)
}
