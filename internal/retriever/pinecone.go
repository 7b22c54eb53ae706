package retriever

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultPineconeURL     = "https://api.pinecone.io"
	defaultPineconeVersion = "2025-04"
)

// PineconeConfig configures the Pinecone REST client.
type PineconeConfig struct {
	APIKey     string
	APIVersion string
	BaseURL    string // control plane
	Timeout    time.Duration
}

// Pinecone is a minimal client for the Pinecone control and data planes.
type Pinecone struct {
	log  *slog.Logger
	cfg  PineconeConfig
	http *http.Client
}

// NewPinecone creates a Pinecone client.
func NewPinecone(cfg PineconeConfig) (*Pinecone, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("missing Pinecone API key")
	}
	if strings.TrimSpace(cfg.APIVersion) == "" {
		cfg.APIVersion = defaultPineconeVersion
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultPineconeURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Pinecone{
		log:  slog.With("component", "pinecone"),
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// IndexDescription is the subset of describe_index we use.
type IndexDescription struct {
	Name      string `json:"name"`
	Host      string `json:"host"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
	Status    struct {
		Ready bool   `json:"ready"`
		State string `json:"state"`
	} `json:"status"`
}

// DescribeIndex looks up an index on the control plane, mainly to learn its host.
func (p *Pinecone) DescribeIndex(ctx context.Context, indexName string) (*IndexDescription, error) {
	indexName = strings.TrimSpace(indexName)
	if indexName == "" {
		return nil, errors.New("index name required")
	}
	u := strings.TrimRight(p.cfg.BaseURL, "/") + "/indexes/" + indexName
	out, err := doJSON[IndexDescription](ctx, p, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("pinecone describe_index: %w", err)
	}
	if strings.TrimSpace(out.Host) == "" {
		return nil, errors.New("pinecone describe_index returned empty host")
	}
	return out, nil
}

// QueryRequest is the body of a data plane query.
type QueryRequest struct {
	Namespace       string         `json:"namespace,omitempty"`
	Vector          []float32      `json:"vector"`
	TopK            int            `json:"topK"`
	Filter          map[string]any `json:"filter,omitempty"`
	IncludeValues   bool           `json:"includeValues"`
	IncludeMetadata bool           `json:"includeMetadata"`
}

// QueryMatch is one scored vector.
type QueryMatch struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// QueryResponse is the data plane query response.
type QueryResponse struct {
	Matches   []QueryMatch `json:"matches"`
	Namespace string       `json:"namespace"`
}

// Query runs a similarity query against the index served at host.
func (p *Pinecone) Query(ctx context.Context, host string, req QueryRequest) (*QueryResponse, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, errors.New("index host required")
	}
	if len(req.Vector) == 0 {
		return nil, errors.New("query vector required")
	}
	if req.TopK <= 0 {
		req.TopK = DefaultTopK
	}
	out, err := doJSON[QueryResponse](ctx, p, http.MethodPost, hostURL(host)+"/query", req)
	if err != nil {
		return nil, fmt.Errorf("pinecone query: %w", err)
	}
	return out, nil
}

// hostURL accepts both bare hosts (as returned by describe_index) and full URLs.
func hostURL(host string) string {
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return strings.TrimRight(host, "/")
	}
	return "https://" + strings.TrimRight(host, "/")
}

func doJSON[T any](ctx context.Context, p *Pinecone, method, url string, body any) (*T, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Api-Key", p.cfg.APIKey)
	req.Header.Set("X-Pinecone-Api-Version", p.cfg.APIVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.log.Warn("pinecone request failed", "method", method, "url", url, "status", resp.StatusCode)
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(raw))
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &out, nil
}
