package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/quizgen/internal/model"
)

//go:embed prompts/*.txt
var embeddedFS embed.FS

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

const maxAnswerRunes = 2000

// Language selects the prompt language variant.
type Language string

const (
	// LangGerman is the default variant, matching the lecture material.
	LangGerman Language = "de"
	// LangEnglish is the English variant.
	LangEnglish Language = "en"
)

var validLanguages = map[Language]bool{
	LangGerman:  true,
	LangEnglish: true,
}

var (
	loadOnce          sync.Once
	loadErr           error
	questionTemplates map[Language]*template.Template
	feedbackTemplates map[Language]*template.Template
)

// IsValidLanguage checks if a prompt language is available.
func IsValidLanguage(l string) bool {
	return validLanguages[Language(l)]
}

// QuestionData holds template data for question generation prompts.
type QuestionData struct {
	Topic      string
	Context    string
	MaxOptions int
	Labels     string
}

// FeedbackData holds template data for feedback prompts.
type FeedbackData struct {
	Results      string
	NumResults   int
	AverageScore float64
}

// Load loads prompt templates from fsys. Templates are read only once; later
// calls return the first result.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		questionTemplates = make(map[Language]*template.Template)
		feedbackTemplates = make(map[Language]*template.Template)

		for _, l := range []Language{LangGerman, LangEnglish} {
			qt, err := parseFile(fsys, "prompts/question_"+string(l)+".txt")
			if err != nil {
				loadErr = err
				return
			}
			questionTemplates[l] = qt

			ft, err := parseFile(fsys, "prompts/feedback_"+string(l)+".txt")
			if err != nil {
				loadErr = err
				return
			}
			feedbackTemplates[l] = ft
		}
	})
	return loadErr
}

// LoadEmbedded loads the prompt templates compiled into the binary.
func LoadEmbedded() error {
	return Load(embeddedFS)
}

func parseFile(fsys fs.FS, name string) (*template.Template, error) {
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, errors.New("failed to read prompt file " + name + ": " + err.Error())
	}
	tmpl, err := template.New(name).Parse(string(content))
	if err != nil {
		return nil, errors.New("failed to parse prompt template " + name + ": " + err.Error())
	}
	return tmpl, nil
}

// BuildQuestionPrompt renders the question generation prompt for a topic and
// its retrieved context.
func BuildQuestionPrompt(lang Language, topic string, chunks []model.Chunk) (string, error) {
	tmpl, err := lookup(questionTemplates, lang)
	if err != nil {
		return "", err
	}

	data := QuestionData{
		Topic:      strings.TrimSpace(topic),
		Context:    FormatContext(chunks),
		MaxOptions: model.MaxOptions,
		Labels:     strings.Join(model.Labels, ", "),
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// BuildFeedbackPrompt renders the feedback prompt summarizing results.
func BuildFeedbackPrompt(lang Language, results []model.Result) (string, error) {
	tmpl, err := lookup(feedbackTemplates, lang)
	if err != nil {
		return "", err
	}

	var total float64
	for _, r := range results {
		total += r.Score
	}
	avg := 0.0
	if len(results) > 0 {
		avg = total / float64(len(results))
	}

	data := FeedbackData{
		Results:      FormatResults(results),
		NumResults:   len(results),
		AverageScore: avg,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func lookup(set map[Language]*template.Template, lang Language) (*template.Template, error) {
	if set == nil {
		return nil, errors.New("templates not initialized: call Load first")
	}
	tmpl, ok := set[lang]
	if !ok {
		if loadErr != nil {
			return nil, fmt.Errorf("templates load failed: %w", loadErr)
		}
		return nil, errors.New("invalid prompt language: " + string(lang))
	}
	return tmpl, nil
}

// FormatContext renders retrieved chunks in the "Content/Source" block form
// the question prompt refers to.
func FormatContext(chunks []model.Chunk) string {
	var sb strings.Builder
	for i, c := range chunks {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("Content: " + strings.TrimSpace(c.Text) + "\n")
		sb.WriteString("Source: " + strings.TrimSpace(c.Source))
	}
	return sb.String()
}

// FormatResults renders result records one block per answer.
func FormatResults(results []model.Result) string {
	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "Result %d\n", i+1)
		sb.WriteString("Lecture: " + r.Lecture + "\n")
		sb.WriteString("Topic: " + r.Topic + "\n")
		sb.WriteString("<student-answer>\n")
		for _, t := range r.StudentAnswerTexts {
			sb.WriteString("- " + sanitizeAnswer(t) + "\n")
		}
		sb.WriteString("</student-answer>\n")
		sb.WriteString("Correct answers:\n")
		for _, t := range r.CorrectAnswerTexts {
			sb.WriteString("- " + strings.TrimSpace(t) + "\n")
		}
		fmt.Fprintf(&sb, "Score: %.0f%%\n\n", r.Score)
	}
	return sb.String()
}

func sanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		answer = string(runes[:maxAnswerRunes]) + " [truncated]"
	}

	return answer
}
