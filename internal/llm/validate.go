package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/pavelanni/quizgen/internal/model"
)

// ErrMalformedQuestion indicates the model returned content that is not a
// valid question payload.
type ErrMalformedQuestion struct {
	Content string
	Err     error
}

func (e *ErrMalformedQuestion) Error() string {
	return fmt.Sprintf("malformed question payload: %v", e.Err)
}

func (e *ErrMalformedQuestion) Unwrap() error { return e.Err }

var fenceRegex = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\n?(.*?)\n?```$")

// questionSchema is the JSON schema the question payload must satisfy.
var questionSchema = map[string]any{
	"type":     "object",
	"required": []any{"question", "options", "correct_answers", "sources"},
	"properties": map[string]any{
		"question": map[string]any{"type": "string", "minLength": 1},
		"options": map[string]any{
			"type":     "array",
			"minItems": 2,
			"maxItems": model.MaxOptions,
			"items": map[string]any{
				"type":     "object",
				"required": []any{"label", "text"},
				"properties": map[string]any{
					"label": map[string]any{"type": "string", "enum": labelEnum()},
					"text":  map[string]any{"type": "string", "minLength": 1},
				},
			},
		},
		"correct_answers": map[string]any{
			"type":     "array",
			"minItems": 1,
			"items":    map[string]any{"type": "string", "enum": labelEnum()},
		},
		"sources": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	},
}

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func labelEnum() []any {
	out := make([]any, len(model.Labels))
	for i, l := range model.Labels {
		out[i] = l
	}
	return out
}

// questionValidator returns the compiled question schema.
func questionValidator() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		// The compiler wants a parsed JSON value, so round-trip the Go literal.
		defBytes, err := json.Marshal(questionSchema)
		if err != nil {
			compileErr = fmt.Errorf("marshal schema definition: %w", err)
			return
		}
		var defParsed any
		if err := json.Unmarshal(defBytes, &defParsed); err != nil {
			compileErr = fmt.Errorf("parse schema definition: %w", err)
			return
		}

		c := jsonschema.NewCompiler()
		const url = "schema://question.json"
		if err := c.AddResource(url, defParsed); err != nil {
			compileErr = fmt.Errorf("add resource: %w", err)
			return
		}
		compiled, compileErr = c.Compile(url)
	})
	return compiled, compileErr
}

// StripFences removes a surrounding Markdown code fence, if any.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if m := fenceRegex.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

// ParseQuestion validates raw model output and decodes it into a Question.
func ParseQuestion(raw string) (*model.Question, error) {
	content := StripFences(raw)

	var parsed any
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, &ErrMalformedQuestion{Content: raw, Err: fmt.Errorf("invalid JSON: %w", err)}
	}

	schema, err := questionValidator()
	if err != nil {
		return nil, fmt.Errorf("compile question schema: %w", err)
	}
	if err := schema.Validate(parsed); err != nil {
		return nil, &ErrMalformedQuestion{Content: raw, Err: fmt.Errorf("schema validation failed: %w", err)}
	}

	var q model.Question
	if err := json.Unmarshal([]byte(content), &q); err != nil {
		return nil, &ErrMalformedQuestion{Content: raw, Err: err}
	}
	if err := checkLabels(q); err != nil {
		return nil, &ErrMalformedQuestion{Content: raw, Err: err}
	}

	q.Text = strings.TrimSpace(q.Text)
	return &q, nil
}

// checkLabels enforces the constraints the schema cannot express: option
// labels are unique, and every correct answer names an existing option.
func checkLabels(q model.Question) error {
	seen := make(map[string]bool, len(q.Options))
	for _, o := range q.Options {
		if seen[o.Label] {
			return fmt.Errorf("duplicate option label %q", o.Label)
		}
		seen[o.Label] = true
	}
	for _, l := range q.CorrectAnswers {
		if !seen[l] {
			return fmt.Errorf("correct answer %q does not name an option", l)
		}
	}
	if len(q.CorrectAnswers) == 0 {
		return errors.New("no correct answers")
	}
	return nil
}
