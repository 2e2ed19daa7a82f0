package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"docrag/internal/domain"
)

func newCompleter(t *testing.T, h http.HandlerFunc) *Completer {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	t.Setenv("TEST_CHAT_KEY", "sk-test")
	c, err := New(Config{BaseURL: srv.URL, APIKeyEnv: "TEST_CHAT_KEY", Model: "test-model"})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestComplete_ReturnsFirstChoice(t *testing.T) {
	c := newCompleter(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "test-model" || len(req.Messages) != 1 || req.Messages[0].Content != "hello?" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":" Hi there. "},"finish_reason":"stop"}]}`))
	})
	got, err := c.Complete(context.Background(), "hello?")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Hi there." {
		t.Fatalf("unexpected answer %q", got)
	}
}

func TestComplete_ErrorCarriesPayload(t *testing.T) {
	c := newCompleter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded","type":"rate_limit"}}`))
	})
	_, err := c.Complete(context.Background(), "hello?")
	if !errors.Is(err, domain.ErrCompletionFailure) {
		t.Fatalf("expected ErrCompletionFailure, got %v", err)
	}
	if !domain.IsRetryable(err) {
		t.Fatalf("429 should be retryable")
	}
	if !strings.Contains(domain.RawPayload(err), "quota exceeded") {
		t.Fatalf("payload lost: %q", domain.RawPayload(err))
	}
}

func TestComplete_NoChoices(t *testing.T) {
	c := newCompleter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[]}`))
	})
	_, err := c.Complete(context.Background(), "hello?")
	if !errors.Is(err, domain.ErrCompletionFailure) || domain.IsRetryable(err) {
		t.Fatalf("expected terminal ErrCompletionFailure, got %v", err)
	}
}
