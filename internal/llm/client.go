// Package llm wraps an OpenAI-compatible provider behind the two
// operations the rest of the service needs: chat completions and text
// embeddings.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dataomen/dataomen/internal/config"
	"github.com/dataomen/dataomen/internal/observability"
)

type Client struct {
	api            *openai.Client
	chatModel      string
	embeddingModel string
	dimensions     int
	timeout        time.Duration
	logger         *slog.Logger
}

// NewClient builds a provider client from the AI config section. The API
// key may be empty when the base URL points at a local inference server.
func NewClient(cfg config.AIConfig, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("ai base url is required")
	}
	if cfg.ChatModel == "" {
		return nil, fmt.Errorf("ai chat model is required")
	}
	if cfg.EmbeddingModel == "" {
		return nil, fmt.Errorf("ai embedding model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	return &Client{
		api:            openai.NewClientWithConfig(clientConfig),
		chatModel:      cfg.ChatModel,
		embeddingModel: cfg.EmbeddingModel,
		dimensions:     cfg.EmbeddingDimensions,
		timeout:        cfg.Timeout,
		logger:         logger.With(slog.String("component", "llm")),
	}, nil
}

type CompletionRequest struct {
	System      string
	User        string
	Temperature float32
	// ForceJSON asks the provider to emit a single JSON object instead
	// of free-form prose.
	ForceJSON bool
}

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	chatReq := openai.ChatCompletionRequest{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
		Temperature: req.Temperature,
	}
	if req.ForceJSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		c.logger.Error("chat completion failed",
			slog.String("model", c.chatModel),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()))
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: provider returned no choices")
	}

	c.logger.Debug("chat completion finished",
		slog.String("model", c.chatModel),
		slog.Int("prompt_tokens", resp.Usage.PromptTokens),
		slog.Int("completion_tokens", resp.Usage.CompletionTokens),
		slog.Duration("elapsed", time.Since(start)))

	return resp.Choices[0].Message.Content, nil
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds every input in one provider call and returns the
// vectors in input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.embeddingModel),
		Input: texts,
	})
	observability.ObserveEmbeddingDuration(time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("create embeddings: expected %d vectors, got %d", len(texts), len(resp.Data))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, fmt.Errorf("create embeddings: vector index %d out of range", item.Index)
		}
		if c.dimensions > 0 && len(item.Embedding) != c.dimensions {
			return nil, fmt.Errorf("create embeddings: expected %d dimensions, got %d", c.dimensions, len(item.Embedding))
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}
