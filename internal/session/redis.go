package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pavelanni/quizgen/internal/model"
)

const keyPrefix = "quizgen:session:"

// Redis is a Store backed by Redis or Dragonfly.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

// ParseURL validates a Redis connection URL.
func ParseURL(url string) (*redis.Options, error) {
	if url == "" {
		return nil, fmt.Errorf("session store URL is empty")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid session store URL: %w", err)
	}
	return opts, nil
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, url string, ttl time.Duration) (*Redis, error) {
	opts, err := ParseURL(url)
	if err != nil {
		return nil, err
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging session store: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{
		client: client,
		ttl:    ttl,
		log:    slog.With("component", "session-redis"),
	}, nil
}

func sessionKey(id string) string  { return keyPrefix + id }
func preparedKey(id string) string { return keyPrefix + id + ":next" }

// Get loads a session.
func (r *Redis) Get(ctx context.Context, id string) (*model.Session, error) {
	raw, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	var s model.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &s, nil
}

// Save writes a session and refreshes its expiry.
func (r *Redis) Save(ctx context.Context, s *model.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.client.Set(ctx, sessionKey(s.ID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// PutPrepared publishes the next question of a session.
func (r *Redis) PutPrepared(ctx context.Context, id string, item *model.QuizItem) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode prepared question: %w", err)
	}
	if err := r.client.Set(ctx, preparedKey(id), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("save prepared question: %w", err)
	}
	r.log.Debug("prepared question stored", "session", id, "topic", item.Topic)
	return nil
}

// TakePrepared removes and returns the prepared question using GETDEL.
func (r *Redis) TakePrepared(ctx context.Context, id string) (*model.QuizItem, error) {
	raw, err := r.client.GetDel(ctx, preparedKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("take prepared question: %w", err)
	}
	var item model.QuizItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("decode prepared question: %w", err)
	}
	return &item, nil
}

// HasPrepared reports whether a prepared question is waiting.
func (r *Redis) HasPrepared(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Exists(ctx, preparedKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("check prepared question: %w", err)
	}
	return n > 0, nil
}

// Ping verifies the connection is alive.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close shuts down the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
