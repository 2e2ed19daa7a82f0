package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"docrag/internal/domain"
)

// Config configures the chat completion client.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	Timeout   time.Duration
	MaxTokens int
}

// Completer calls an OpenAI-compatible /chat/completions endpoint.
type Completer struct {
	api       *openai.Client
	model     string
	maxTokens int
}

// New creates a chat completer. The API key is read from cfg.APIKeyEnv.
func New(cfg Config) (*Completer, error) {
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "OPENAI_API_KEY"
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("%w: missing API key in env %s", domain.ErrInvalidConfig, cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	oc := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &Completer{api: openai.NewClientWithConfig(oc), model: cfg.Model, maxTokens: cfg.MaxTokens}, nil
}

func (c *Completer) Name() string { return "openai:" + c.model }

func (c *Completer) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		raw, _ := json.Marshal(resp)
		return "", &domain.CollaboratorError{
			Kind:    domain.ErrCompletionFailure,
			Op:      "openai chat",
			Payload: string(raw),
			Err:     errors.New("response has no text"),
		}
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func classify(err error) error {
	ce := &domain.CollaboratorError{Kind: domain.ErrCompletionFailure, Op: "openai chat", Err: err}
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		ce.StatusCode = apiErr.HTTPStatusCode
		if raw, mErr := json.Marshal(apiErr); mErr == nil {
			ce.Payload = string(raw)
		}
	case errors.As(err, &reqErr):
		ce.StatusCode = reqErr.HTTPStatusCode
		ce.Payload = reqErr.Error()
	}
	ce.Retryable = domain.RetryableStatus(ce.StatusCode)
	return ce
}
