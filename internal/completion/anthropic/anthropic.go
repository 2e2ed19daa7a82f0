package anthropic

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"docrag/internal/domain"
)

// Config configures the Messages API client.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// Completer answers prompts with a single user message.
type Completer struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// New creates a completer. The API key is read from cfg.APIKeyEnv.
func New(cfg Config) (*Completer, error) {
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("%w: missing API key in env %s", domain.ErrInvalidConfig, cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		cfg.Model = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithRequestTimeout(cfg.Timeout),
		// retries are the caller's decision
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Completer{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: int64(cfg.MaxTokens),
	}, nil
}

func (c *Completer) Name() string { return "anthropic:" + c.model }

func (c *Completer) Complete(ctx context.Context, prompt string) (string, error) {
	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", classify(err)
	}
	var parts []string
	for _, content := range message.Content {
		if content.Type == "text" && strings.TrimSpace(content.Text) != "" {
			parts = append(parts, strings.TrimSpace(content.Text))
		}
	}
	if len(parts) == 0 {
		return "", &domain.CollaboratorError{
			Kind:    domain.ErrCompletionFailure,
			Op:      "anthropic messages",
			Payload: message.RawJSON(),
			Err:     errors.New("response has no text block"),
		}
	}
	return strings.Join(parts, "\n"), nil
}

func classify(err error) error {
	ce := &domain.CollaboratorError{Kind: domain.ErrCompletionFailure, Op: "anthropic messages", Err: err}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		ce.StatusCode = apiErr.StatusCode
		ce.Payload = apiErr.RawJSON()
	}
	ce.Retryable = domain.RetryableStatus(ce.StatusCode)
	return ce
}
