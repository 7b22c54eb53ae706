// Package retriever finds lecture material for a topic in a Pinecone index.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pavelanni/quizgen/internal/model"
)

const (
	// DefaultTopK matches the number of chunks stuffed into the prompt.
	DefaultTopK = 4
	// DefaultIndex is the index the lecture material was uploaded to.
	DefaultIndex = "lecture-data"

	defaultTextField   = "text"
	defaultSourceField = "source"
)

// Embedder turns a query into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index is the subset of the Pinecone client the retriever needs.
type Index interface {
	Query(ctx context.Context, host string, req QueryRequest) (*QueryResponse, error)
}

// Config configures a Retriever.
type Config struct {
	Host        string
	Namespace   string
	TopK        int
	TextField   string
	SourceField string
}

// Retriever returns the chunks most similar to a topic.
type Retriever struct {
	embedder Embedder
	index    Index
	cfg      Config
}

// New creates a Retriever that queries the index served at cfg.Host.
func New(embedder Embedder, index Index, cfg Config) (*Retriever, error) {
	if embedder == nil {
		return nil, errors.New("embedder required")
	}
	if index == nil {
		return nil, errors.New("index client required")
	}
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("index host required")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.TextField == "" {
		cfg.TextField = defaultTextField
	}
	if cfg.SourceField == "" {
		cfg.SourceField = defaultSourceField
	}
	return &Retriever{embedder: embedder, index: index, cfg: cfg}, nil
}

// ResolveHost returns host when set, and otherwise looks the index host up
// through describe_index.
func ResolveHost(ctx context.Context, p *Pinecone, indexName, host string) (string, error) {
	if h := strings.TrimSpace(host); h != "" {
		return h, nil
	}
	desc, err := p.DescribeIndex(ctx, indexName)
	if err != nil {
		return "", err
	}
	slog.Warn("pinecone host not configured; resolved via describe_index",
		"index", indexName,
		"host", desc.Host,
		"dimension", desc.Dimension,
	)
	return desc.Host, nil
}

// Retrieve embeds topic and returns the top-k matching chunks, best first.
// Matches without text metadata are skipped.
func (r *Retriever) Retrieve(ctx context.Context, topic string) ([]model.Chunk, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, errors.New("empty topic")
	}

	vec, err := r.embedder.Embed(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("embed topic: %w", err)
	}

	resp, err := r.index.Query(ctx, r.cfg.Host, QueryRequest{
		Namespace:       r.cfg.Namespace,
		Vector:          vec,
		TopK:            r.cfg.TopK,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, err
	}

	chunks := make([]model.Chunk, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		text := metaString(m.Metadata, r.cfg.TextField)
		if text == "" {
			continue
		}
		chunks = append(chunks, model.Chunk{
			ID:     m.ID,
			Text:   text,
			Source: metaString(m.Metadata, r.cfg.SourceField),
			Score:  m.Score,
		})
	}
	slog.Debug("retrieved chunks", "topic", topic, "matches", len(resp.Matches), "chunks", len(chunks))
	return chunks, nil
}

func metaString(meta map[string]any, key string) string {
	v, ok := meta[key]
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprint(t)
	}
}
