// Package views renders the quiz pages as templ components.
package views

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/a-h/templ"

	"github.com/pavelanni/quizgen/internal/feedback"
	appI18n "github.com/pavelanni/quizgen/internal/i18n"
	"github.com/pavelanni/quizgen/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

// Placeholders; render replaces them with request-bound versions.
var funcs = template.FuncMap{
	"t":    func(string) string { return "" },
	"td":   func(string, ...any) string { return "" },
	"tp":   func(string, int) string { return "" },
	"path": func(p string) string { return p },
	"join": strings.Join,
}

var pages = template.Must(template.New("pages").Funcs(funcs).ParseFS(templateFS, "templates/*.html"))

// render executes a page template with translation and path helpers bound
// to the request context.
func render(name string, data any) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		t, err := pages.Clone()
		if err != nil {
			return err
		}
		t.Funcs(template.FuncMap{
			"t": func(id string) string { return appI18n.T(ctx, id) },
			"td": func(id string, kv ...any) string {
				data := make(map[string]any, len(kv)/2)
				for i := 0; i+1 < len(kv); i += 2 {
					data[fmt.Sprint(kv[i])] = kv[i+1]
				}
				return appI18n.Td(ctx, id, data)
			},
			"tp":   func(id string, n int) string { return appI18n.Tp(ctx, id, n) },
			"path": func(p string) string { return model.BasePathFromContext(ctx) + p },
		})
		return t.ExecuteTemplate(w, name, data)
	})
}

type indexData struct {
	Lectures []string
}

// IndexPage lists the lectures to choose from.
func IndexPage(lectures []string) templ.Component {
	return render("index", indexData{Lectures: lectures})
}

type questionData struct {
	Item    *model.QuizItem
	Correct []string
	Texts   []string
}

// QuestionPage shows a generated question with its options. The next-question
// form posts no lectures, so the session's chosen set is reused.
func QuestionPage(item *model.QuizItem) templ.Component {
	return render("question", questionData{
		Item:    item,
		Correct: item.Question.CorrectAnswers,
		Texts:   item.Question.CorrectTexts(),
	})
}

// FeedbackPage shows the personalized performance summary.
func FeedbackPage(s *feedback.Summary) templ.Component {
	return templ.Join(render("header", s), feedbackBody(s), render("footer", s))
}

func feedbackBody(s *feedback.Summary) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		fmt.Fprintf(&b, "<h2>%s</h2>\n", templ.EscapeString(appI18n.T(ctx, "FeedbackTitle")))
		if s.NumResults > 0 {
			fmt.Fprintf(&b, "<p class=\"muted\">%s · %s</p>\n",
				templ.EscapeString(appI18n.Tp(ctx, "QuestionsAnswered", s.NumResults)),
				templ.EscapeString(appI18n.Td(ctx, "AverageScore", map[string]any{"Score": percent(s.AverageScore)})))
		}
		class := "feedback"
		if s.Failed {
			class += " error"
		}
		fmt.Fprintf(&b, "<pre class=\"%s\">%s</pre>\n", class, templ.EscapeString(s.Text))
		if len(s.Results) > 0 {
			b.WriteString("<table>\n")
			for _, r := range s.Results {
				fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td><td>%s%%</td></tr>\n",
					templ.EscapeString(r.Lecture), templ.EscapeString(r.Topic), percent(r.Score))
			}
			b.WriteString("</table>\n")
		}
		home := templ.URL(model.BasePathFromContext(ctx) + "/")
		fmt.Fprintf(&b, "<p><a href=\"%s\">%s</a></p>\n",
			templ.EscapeString(string(home)), templ.EscapeString(appI18n.T(ctx, "BackToStart")))
		_, err := io.WriteString(w, b.String())
		return err
	})
}

func percent(v float64) string {
	return fmt.Sprintf("%.0f", v)
}
