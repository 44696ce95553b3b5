// Package extract turns page text into structured JSON with a chat-completion model.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

var (
	// ErrUpstream wraps failures of the completion API itself.
	ErrUpstream = errors.New("completion request failed")
	// ErrInvalidReply is returned when the model answer is not a JSON document.
	ErrInvalidReply = errors.New("model reply is not valid JSON")
	// ErrEmptyInput is returned when there is nothing to extract from.
	ErrEmptyInput = errors.New("input text is empty")
)

const promptTemplate = `You are an assistant that extracts the important information from an HTML page.

Here is the HTML:

%s

Return only a JSON object containing the extracted information.
Example: { "title": "...", "description": "...", "authors": [...] }.

No explanatory text and no surrounding sentences. Only valid JSON.`

// Config mirrors the extract section of the service configuration.
type Config struct {
	APIKey        string
	BaseURL       string
	Model         string
	MaxTokens     int
	Temperature   float32
	MaxInputBytes int
	Timeout       time.Duration
}

// Client sends one completion request per extraction.
type Client struct {
	api    *openai.Client
	cfg    Config
	logger *zap.Logger
}

// New builds a Client. BaseURL points at any OpenAI-compatible endpoint.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, errors.New("extract: api key or base url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT3Dot5Turbo
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	apiCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &Client{api: openai.NewClientWithConfig(apiCfg), cfg: cfg, logger: logger}, nil
}

// Prompt renders the instruction sent to the model for text.
func Prompt(text string) string {
	return fmt.Sprintf(promptTemplate, text)
}

// Extract prepares text, asks the model, and returns its JSON answer.
func (c *Client) Extract(ctx context.Context, text string) (json.RawMessage, error) {
	input := c.prepare(text)
	if strings.TrimSpace(input) == "" {
		return nil, ErrEmptyInput
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: Prompt(input)},
		},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			c.logger.Error("completion api error",
				zap.Int("status", apiErr.HTTPStatusCode),
				zap.String("type", apiErr.Type),
				zap.Error(err),
			)
		}
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", ErrUpstream)
	}

	reply := stripFence(strings.TrimSpace(resp.Choices[0].Message.Content))
	if !jsoniter.ConfigCompatibleWithStandardLibrary.Valid([]byte(reply)) {
		c.logger.Warn("model reply is not JSON", zap.Int("reply_bytes", len(reply)))
		return nil, ErrInvalidReply
	}
	c.logger.Debug("extraction completed",
		zap.String("model", c.cfg.Model),
		zap.Int("input_bytes", len(input)),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
	)
	return json.RawMessage(reply), nil
}

func (c *Client) prepare(text string) string {
	if LooksLikeHTML(text) {
		text = ReduceHTML(text)
	}
	return Truncate(strings.TrimSpace(text), c.cfg.MaxInputBytes)
}

// stripFence removes one Markdown code fence wrapping the whole reply.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	body := strings.TrimSuffix(s, "```")
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = strings.TrimPrefix(body, "```")
	}
	return strings.TrimSpace(body)
}
