// Package scoring grades multiple-choice answers over the a–j label universe.
package scoring

import (
	"strings"

	"github.com/pavelanni/quizgen/internal/model"
)

// Score grades a student's label set against the correct one.
//
// Every label of the universe earns +1 when its membership agrees in both
// sets and -1 otherwise. The sum is floored at zero and scaled to a
// percentage of the universe size.
func Score(student, correct []string) float64 {
	s := labelSet(student)
	c := labelSet(correct)

	points := 0
	for _, l := range model.Labels {
		if s[l] == c[l] {
			points++
		} else {
			points--
		}
	}
	if points < 0 {
		points = 0
	}
	return float64(points) / float64(len(model.Labels)) * 100
}

// NormalizeLabels lowercases and trims labels, dropping unknown and duplicate ones.
// The result is in universe order.
func NormalizeLabels(labels []string) []string {
	set := labelSet(labels)
	var out []string
	for _, l := range model.Labels {
		if set[l] {
			out = append(out, l)
		}
	}
	return out
}

// IsLabel reports whether l names a label of the universe.
func IsLabel(l string) bool {
	l = strings.ToLower(strings.TrimSpace(l))
	for _, u := range model.Labels {
		if u == l {
			return true
		}
	}
	return false
}

func labelSet(labels []string) map[string]bool {
	set := make(map[string]bool, len(labels))
	for _, l := range labels {
		l = strings.ToLower(strings.TrimSpace(l))
		if IsLabel(l) {
			set[l] = true
		}
	}
	return set
}
