package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/quizgen/internal/llm/prompts"
	"github.com/pavelanni/quizgen/internal/model"
)

// Defaults mirror the models the lecture index was built with.
const (
	DefaultChatModel      = "gpt-4-turbo-preview"
	DefaultEmbeddingModel = string(openai.AdaEmbeddingV2)
	DefaultTemperature    = 0.4
)

// Config configures the OpenAI-compatible client.
type Config struct {
	BaseURL        string
	APIKey         string
	ChatModel      string
	EmbeddingModel string
	Temperature    float32
	Language       prompts.Language
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api         *openai.Client
	model       string
	embedModel  string
	temperature float32
	lang        prompts.Language
}

// New creates a new LLM client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	if err := prompts.LoadEmbedded(); err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	if cfg.Language == "" {
		cfg.Language = prompts.LangGerman
	}
	if !prompts.IsValidLanguage(string(cfg.Language)) {
		return nil, fmt.Errorf("unsupported prompt language %q", cfg.Language)
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	return &Client{
		api:         openai.NewClientWithConfig(config),
		model:       cfg.ChatModel,
		embedModel:  cfg.EmbeddingModel,
		temperature: cfg.Temperature,
		lang:        cfg.Language,
	}, nil
}

// Ping checks that the endpoint is reachable and the key is accepted.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// Embed returns the embedding vector of a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.embedModel),
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings API call: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errors.New("embeddings API returned no vectors")
	}
	return resp.Data[0].Embedding, nil
}

// GenerateQuestion asks the model for a multiple-choice question on topic,
// grounded in the retrieved chunks.
func (c *Client) GenerateQuestion(ctx context.Context, topic string, chunks []model.Chunk) (*model.Question, error) {
	prompt, err := prompts.BuildQuestionPrompt(c.lang, topic, chunks)
	if err != nil {
		return nil, fmt.Errorf("build question prompt: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
			{Role: openai.ChatMessageRoleUser, Content: topic},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: c.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM question response", "topic", topic, "raw", raw)

	return ParseQuestion(raw)
}

// Complete sends a single prompt and returns the plain-text answer.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("LLM completion call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("LLM returned no choices for completion")
	}
	return resp.Choices[0].Message.Content, nil
}
