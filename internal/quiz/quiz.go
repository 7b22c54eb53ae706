// Package quiz turns a lecture topic into a multiple-choice question by
// retrieving lecture material and handing it to the language model.
package quiz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/quizgen/internal/model"
)

// Retriever returns lecture material relevant to a topic.
type Retriever interface {
	Retrieve(ctx context.Context, topic string) ([]model.Chunk, error)
}

// Synthesizer writes a question from a topic and its material.
type Synthesizer interface {
	GenerateQuestion(ctx context.Context, topic string, chunks []model.Chunk) (*model.Question, error)
}

// Generator produces quiz items.
type Generator struct {
	retriever   Retriever
	synthesizer Synthesizer
	now         func() time.Time
}

// New creates a Generator.
func New(r Retriever, s Synthesizer) (*Generator, error) {
	if r == nil {
		return nil, errors.New("retriever required")
	}
	if s == nil {
		return nil, errors.New("synthesizer required")
	}
	return &Generator{retriever: r, synthesizer: s, now: time.Now}, nil
}

// Generate builds a quiz item for a lecture topic.
func (g *Generator) Generate(ctx context.Context, lecture, topic string) (*model.QuizItem, error) {
	start := g.now()

	chunks, err := g.retriever.Retrieve(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("retrieve %q: %w", topic, err)
	}

	q, err := g.synthesizer.GenerateQuestion(ctx, topic, chunks)
	if err != nil {
		return nil, fmt.Errorf("synthesize %q: %w", topic, err)
	}

	slog.Info("question generated",
		"lecture", lecture,
		"topic", topic,
		"chunks", len(chunks),
		"options", len(q.Options),
		"elapsed", g.now().Sub(start),
	)
	return &model.QuizItem{
		Lecture:   lecture,
		Topic:     topic,
		Question:  *q,
		CreatedAt: g.now(),
	}, nil
}
