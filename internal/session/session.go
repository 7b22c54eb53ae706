// Package session stores per-browser quiz state and prepared next questions.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/pavelanni/quizgen/internal/model"
)

// DefaultTTL is how long an idle session is kept.
const DefaultTTL = 24 * time.Hour

// ErrNotFound is returned when a session does not exist or has expired.
var ErrNotFound = errors.New("session not found")

// Store persists sessions and their prepared next question.
//
// The prepared question is kept apart from the session record so a
// background job can publish it without racing request handlers that
// rewrite the session.
type Store interface {
	Get(ctx context.Context, id string) (*model.Session, error)
	Save(ctx context.Context, s *model.Session) error
	PutPrepared(ctx context.Context, id string, item *model.QuizItem) error
	// TakePrepared atomically removes and returns the prepared question, or nil.
	TakePrepared(ctx context.Context, id string) (*model.QuizItem, error)
	HasPrepared(ctx context.Context, id string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open returns a store for the connection URL: redis:// and rediss:// URLs
// connect to Redis, memory:// keeps state in process.
func Open(ctx context.Context, rawURL string, ttl time.Duration) (Store, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid session store URL: %w", err)
	}
	switch u.Scheme {
	case "memory":
		return NewMemory(ttl), nil
	case "redis", "rediss", "unix":
		return NewRedis(ctx, rawURL, ttl)
	default:
		return nil, fmt.Errorf("unsupported session store scheme %q", u.Scheme)
	}
}
