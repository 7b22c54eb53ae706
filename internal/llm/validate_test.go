package llm

import (
	"errors"
	"testing"
)

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no fence", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding whitespace", "  \n```json\n{\"a\":1}\n```\n ", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripFences(tt.in); got != tt.want {
				t.Errorf("StripFences() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseQuestion(t *testing.T) {
	q, err := ParseQuestion(validQuestion)
	if err != nil {
		t.Fatalf("ParseQuestion: %v", err)
	}
	if q.Text == "" || len(q.Sources) != 1 {
		t.Errorf("unexpected question %+v", q)
	}
}

func TestParseQuestionRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "Welche Aussage ist korrekt?"},
		{"missing options", `{"question":"q","correct_answers":["a"],"sources":[]}`},
		{"label out of range", `{"question":"q","options":[{"label":"a","text":"x"},{"label":"k","text":"y"}],"correct_answers":["a"],"sources":[]}`},
		{"no correct answers", `{"question":"q","options":[{"label":"a","text":"x"},{"label":"b","text":"y"}],"correct_answers":[],"sources":[]}`},
		{"correct names missing option", `{"question":"q","options":[{"label":"a","text":"x"},{"label":"b","text":"y"}],"correct_answers":["c"],"sources":[]}`},
		{"duplicate labels", `{"question":"q","options":[{"label":"a","text":"x"},{"label":"a","text":"y"}],"correct_answers":["a"],"sources":[]}`},
		{"too many options", `{"question":"q","options":[` +
			`{"label":"a","text":"1"},{"label":"b","text":"2"},{"label":"c","text":"3"},{"label":"d","text":"4"},` +
			`{"label":"e","text":"5"},{"label":"f","text":"6"},{"label":"g","text":"7"},{"label":"h","text":"8"},` +
			`{"label":"i","text":"9"},{"label":"j","text":"10"},{"label":"a","text":"11"}],"correct_answers":["a"],"sources":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseQuestion(tt.raw)
			var malformed *ErrMalformedQuestion
			if !errors.As(err, &malformed) {
				t.Fatalf("expected ErrMalformedQuestion, got %v", err)
			}
			if malformed.Content != tt.raw {
				t.Error("error should carry the raw content")
			}
		})
	}
}
