package model

import (
	"context"
	"time"
)

// Labels is the fixed option label universe, in display order.
var Labels = []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}

// MaxOptions is the largest number of options a question may carry.
const MaxOptions = 10

// Option is a single labeled statement of a multiple-choice question.
type Option struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// Question is the structured payload produced by the question synthesizer.
type Question struct {
	Text           string   `json:"question"`
	Options        []Option `json:"options"`
	CorrectAnswers []string `json:"correct_answers"`
	Sources        []string `json:"sources"`
}

// OptionText returns the text of the option with the given label.
func (q Question) OptionText(label string) (string, bool) {
	for _, o := range q.Options {
		if o.Label == label {
			return o.Text, true
		}
	}
	return "", false
}

// CorrectTexts returns the option texts of the correct answers, in label order.
func (q Question) CorrectTexts() []string {
	var out []string
	for _, l := range q.CorrectAnswers {
		if t, ok := q.OptionText(l); ok {
			out = append(out, t)
		}
	}
	return out
}

// Chunk is a piece of lecture material returned by the vector search.
type Chunk struct {
	ID     string  `json:"id"`
	Text   string  `json:"text"`
	Source string  `json:"source"`
	Score  float64 `json:"score"`
}

// QuizItem is a question together with the lecture and topic it was drawn from.
type QuizItem struct {
	Lecture   string    `json:"lecture"`
	Topic     string    `json:"topic"`
	Question  Question  `json:"question"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is the per-browser quiz state.
type Session struct {
	ID             string    `json:"id"`
	ChosenLectures []string  `json:"chosen_lectures"`
	CurrentLecture string    `json:"current_lecture"`
	CurrentTopic   string    `json:"current_topic"`
	Current        *QuizItem `json:"current,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// HasLecture reports whether lecture is among the session's chosen lectures.
func (s *Session) HasLecture(lecture string) bool {
	for _, l := range s.ChosenLectures {
		if l == lecture {
			return true
		}
	}
	return false
}

// PrefetchStatus describes the background preparation of a session's next question.
type PrefetchStatus struct {
	Ready   bool `json:"ready"`
	Pending bool `json:"pending"`
}

// Result is one graded answer submission.
type Result struct {
	ID                 int64     `json:"id"`
	SessionID          string    `json:"session_id"`
	Lecture            string    `json:"lecture"`
	Topic              string    `json:"topic"`
	StudentLabels      []string  `json:"student_labels"`
	StudentAnswerTexts []string  `json:"student_answer_texts"`
	CorrectLabels      []string  `json:"correct_labels"`
	CorrectAnswerTexts []string  `json:"correct_answer_texts"`
	Score              float64   `json:"score"`
	CreatedAt          time.Time `json:"created_at"`
}

// QuizConfig holds runtime parameters for the HTTP layer set via CLI flags.
type QuizConfig struct {
	BasePath      string // URL prefix for sub-path deployments (e.g. "/quiz")
	SecureCookies bool   // Set Secure flag on cookies (disable for local dev)
	SessionTTL    time.Duration
	AdminToken    string // enables the /admin routes when set
}

type sessionCtxKey struct{}

// ContextWithSessionID stores the quiz session ID in the request context.
func ContextWithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, id)
}

// SessionIDFromContext retrieves the quiz session ID from context (empty string if not set).
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionCtxKey{}).(string)
	return id
}

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}
