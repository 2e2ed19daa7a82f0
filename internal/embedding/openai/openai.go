package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"docrag/internal/domain"
)

// Client is an OpenAI-compatible embeddings client implementing domain.Embedder.
// BaseURL may point at any server that speaks the /embeddings API (Ollama, vLLM, ...).
type Client struct {
	api        *openai.Client
	model      string
	dimensions int
	maxRetries int

	mu        sync.Mutex
	dimension int
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL    string
	APIKeyEnv  string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	// Dimensions requests shortened vectors from models that support it.
	Dimensions int
}

// NewClient creates a new embeddings client using the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "OPENAI_API_KEY"
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("%w: missing API key in env %s", domain.ErrInvalidConfig, cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.SmallEmbedding3)
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	oc := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = retryAfterDoer{client: &http.Client{Timeout: t}}
	return &Client{
		api:        openai.NewClientWithConfig(oc),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		maxRetries: cfg.MaxRetries,
		dimension:  cfg.Dimensions,
	}, nil
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "openai:" + c.model }

// Dimension returns the vector length, learned from the first response
// unless Dimensions was configured.
func (c *Client) Dimension() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dimension
}

// Embed returns one embedding per text, retrying transient failures with backoff.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	req := openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(c.model),
		Dimensions: c.dimensions,
	}
	var lastErr error
	var hint time.Duration
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := retryDelay(attempt - 1)
			if hint > 0 {
				wait = hint
			}
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, err
			}
		}
		hint = 0
		resp, err := c.api.CreateEmbeddings(context.WithValue(ctx, retryHintKey{}, &hint), req)
		if err != nil {
			lastErr = classify(err)
			if ctx.Err() != nil || !domain.IsRetryable(lastErr) {
				return nil, lastErr
			}
			continue
		}
		vecs, err := c.collect(resp, len(texts))
		if err != nil {
			return nil, err
		}
		return vecs, nil
	}
	return nil, lastErr
}

func (c *Client) collect(resp openai.EmbeddingResponse, want int) ([][]float32, error) {
	if len(resp.Data) != want {
		return nil, &domain.CollaboratorError{
			Kind: domain.ErrEmbeddingUnavailable,
			Op:   "openai embeddings",
			Err:  fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), want),
		}
	}
	data := append([]openai.Embedding(nil), resp.Data...)
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]float32, len(data))
	for i, d := range data {
		if len(d.Embedding) == 0 {
			return nil, &domain.CollaboratorError{
				Kind: domain.ErrEmbeddingUnavailable,
				Op:   "openai embeddings",
				Err:  errors.New("empty embedding returned"),
			}
		}
		if c.dimension == 0 {
			c.dimension = len(d.Embedding)
		}
		out[i] = d.Embedding
	}
	return out, nil
}

// classify maps go-openai errors onto the collaborator taxonomy.
func classify(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	return &domain.CollaboratorError{
		Kind:       domain.ErrEmbeddingUnavailable,
		Op:         "openai embeddings",
		Retryable:  domain.RetryableStatus(status),
		StatusCode: status,
		Err:        err,
	}
}

// maxRetryAfter caps how long a server may ask us to wait.
const maxRetryAfter = 30 * time.Second

type retryHintKey struct{}

// retryAfterDoer records the Retry-After of throttled or failed responses
// into the *time.Duration carried by the request context.
type retryAfterDoer struct {
	client *http.Client
}

func (d retryAfterDoer) Do(req *http.Request) (*http.Response, error) {
	resp, err := d.client.Do(req)
	if err != nil {
		return resp, err
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		if hint, ok := req.Context().Value(retryHintKey{}).(*time.Duration); ok {
			*hint = parseRetryAfter(resp.Header.Get("Retry-After"))
		}
	}
	return resp, nil
}

// parseRetryAfter reads a delay in seconds. Anything else gives 0.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	return d
}

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := 200 * time.Millisecond
	// exponential backoff capped at 5s
	d := base << attempt
	if d > 5*time.Second || d <= 0 {
		d = 5 * time.Second
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
