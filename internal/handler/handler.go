package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/quizgen/internal/catalog"
	"github.com/pavelanni/quizgen/internal/feedback"
	"github.com/pavelanni/quizgen/internal/handler/views"
	"github.com/pavelanni/quizgen/internal/llm"
	"github.com/pavelanni/quizgen/internal/model"
	"github.com/pavelanni/quizgen/internal/prefetch"
	"github.com/pavelanni/quizgen/internal/session"
	"github.com/pavelanni/quizgen/internal/store"
)

// Messages returned as plain text error bodies.
const (
	msgNoTopics   = "No topics available for the selected lecture."
	msgNoLectures = "No lecture selected."
	msgMalformed  = "The language model returned a malformed question. Please try again."
	msgUpstream   = "The question could not be generated. Please try again later."
)

// Deps are the services the HTTP layer drives.
type Deps struct {
	Catalog  *catalog.Catalog
	Quiz     *prefetch.Controller
	Feedback *feedback.Aggregator
	Store    *store.Store
	Sessions session.Store
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	catalog  *catalog.Catalog
	quiz     *prefetch.Controller
	feedback *feedback.Aggregator
	store    *store.Store
	sessions session.Store
	config   model.QuizConfig
}

// New creates a new Handler.
func New(d Deps, cfg model.QuizConfig) (*Handler, error) {
	if d.Catalog == nil || d.Quiz == nil || d.Feedback == nil || d.Store == nil || d.Sessions == nil {
		return nil, errors.New("handler: missing dependency")
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = session.DefaultTTL
	}
	return &Handler{
		catalog:  d.Catalog,
		quiz:     d.Quiz,
		feedback: d.Feedback,
		store:    d.Store,
		sessions: d.Sessions,
		config:   cfg,
	}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(h.sessionMiddleware)
		r.Get("/", h.handleIndex)
		r.Post("/generate_question", h.handleGenerateQuestion)
		r.Get("/check-button-status", h.handleCheckButtonStatus)
		r.Post("/submit_result", h.handleSubmitResult)
		r.Post("/get_feedback", h.handleGetFeedback)
	})

	if h.config.AdminToken != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(h.requireAdminToken)
			r.Get("/results", h.handleExportResults)
			r.Delete("/results/{sessionID}", h.handleDeleteSessionResults)
			r.Get("/catalog", h.handleCatalog)
		})
	}
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.IndexPage(h.catalog.Lectures()).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

func (h *Handler) handleGenerateQuestion(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	lectures := r.PostForm["lecture[]"]
	if len(lectures) == 0 {
		lectures = r.PostForm["lecture"]
	}

	sessionID := model.SessionIDFromContext(r.Context())
	item, err := h.quiz.RequestQuestion(r.Context(), sessionID, lectures)
	if err != nil {
		h.questionError(w, sessionID, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.QuestionPage(item).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

// questionError maps question generation failures to status codes.
func (h *Handler) questionError(w http.ResponseWriter, sessionID string, err error) {
	var malformed *llm.ErrMalformedQuestion
	switch {
	case errors.Is(err, prefetch.ErrNoTopics):
		slog.Warn("no topics for lecture", "session", sessionID, "error", err)
		http.Error(w, msgNoTopics, http.StatusNotFound)
	case errors.Is(err, prefetch.ErrNoLectures):
		http.Error(w, msgNoLectures, http.StatusBadRequest)
	case errors.As(err, &malformed):
		slog.Error("malformed question from model", "session", sessionID, "error", err, "content", malformed.Content)
		http.Error(w, msgMalformed, http.StatusBadGateway)
	default:
		slog.Error("question generation failed", "session", sessionID, "error", err)
		http.Error(w, msgUpstream, http.StatusInternalServerError)
	}
}

func (h *Handler) handleCheckButtonStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.quiz.PollStatus(r.Context(), model.SessionIDFromContext(r.Context()))
	if err != nil {
		slog.Error("poll prefetch status", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	// With no job in flight the next request generates synchronously, so the
	// button is only held back while a prefetch is still running.
	writeJSON(w, http.StatusOK, map[string]any{
		"button_enabled": status.Ready || !status.Pending,
		"ready":          status.Ready,
		"pending":        status.Pending,
	})
}

type submitRequest struct {
	StudentAnswer      []string `json:"student_answer"`
	CorrectAnswer      []string `json:"correct_answer"`
	StudentAnswerTexts []string `json:"student_answer_texts"`
	CorrectAnswerTexts []string `json:"correct_answer_texts"`
}

func (h *Handler) handleSubmitResult(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	res, err := h.quiz.SubmitAnswer(r.Context(), model.SessionIDFromContext(r.Context()), prefetch.Submission{
		StudentLabels: req.StudentAnswer,
		StudentTexts:  req.StudentAnswerTexts,
		CorrectLabels: req.CorrectAnswer,
		CorrectTexts:  req.CorrectAnswerTexts,
	})
	if err != nil {
		slog.Error("submit result", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Result recorded", "score": res.Score})
}

func (h *Handler) handleGetFeedback(w http.ResponseWriter, r *http.Request) {
	summary, err := h.feedback.Summarize(r.Context(), model.SessionIDFromContext(r.Context()))
	if err != nil {
		slog.Error("feedback", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.FeedbackPage(summary).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.sessions.Ping(ctx); err != nil {
		slog.Warn("health check: session store", "error", err)
		http.Error(w, "session store unavailable", http.StatusServiceUnavailable)
		return
	}
	if err := h.store.Ping(ctx); err != nil {
		slog.Warn("health check: database", "error", err)
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
