// Package gemini calls the Generative Language generateContent endpoint.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"docrag/internal/domain"
)

const defaultEndpoint = "https://generativelanguage.googleapis.com"

// Config configures the Gemini client.
type Config struct {
	Endpoint  string
	APIKeyEnv string
	Model     string
	Timeout   time.Duration
}

// Completer posts one-turn prompts to {endpoint}/v1/models/{model}:generateContent.
type Completer struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

// New creates a Gemini completer. The API key is read from cfg.APIKeyEnv.
func New(cfg Config) (*Completer, error) {
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "GEMINI_API_KEY"
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("%w: missing API key in env %s", domain.ErrInvalidConfig, cfg.APIKeyEnv)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Completer{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   key,
		model:    cfg.Model,
		client:   &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *Completer) Name() string { return "gemini:" + c.model }

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (c *Completer) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{Contents: []content{{Parts: []part{{Text: prompt}}}}})
	if err != nil {
		return "", err
	}
	u := fmt.Sprintf("%s/v1/models/%s:generateContent?key=%s", c.endpoint, url.PathEscape(c.model), url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		// the URL carries the key; keep it out of the message
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return "", c.failure(0, "", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", c.failure(0, "", err)
	}
	if resp.StatusCode >= 300 {
		return "", c.failure(resp.StatusCode, string(raw), fmt.Errorf("unexpected status %s", resp.Status))
	}
	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", c.terminal(string(raw), fmt.Errorf("decode response: %w", err))
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", c.terminal(string(raw), errors.New("response has no candidates"))
	}
	text := strings.TrimSpace(out.Candidates[0].Content.Parts[0].Text)
	if text == "" {
		return "", c.terminal(string(raw), errors.New("response text is empty"))
	}
	return text, nil
}

func (c *Completer) failure(status int, payload string, err error) error {
	return &domain.CollaboratorError{
		Kind:       domain.ErrCompletionFailure,
		Op:         "gemini generateContent",
		Retryable:  domain.RetryableStatus(status),
		StatusCode: status,
		Payload:    payload,
		Err:        err,
	}
}

func (c *Completer) terminal(payload string, err error) error {
	return &domain.CollaboratorError{
		Kind:    domain.ErrCompletionFailure,
		Op:      "gemini generateContent",
		Payload: payload,
		Err:     err,
	}
}
