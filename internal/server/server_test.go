package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"docrag/internal/domain"
	"docrag/internal/service"
	"docrag/internal/vectorstore"
)

type fakeBackend struct {
	ingested []string
	ingest   service.IngestResult
	query    service.QueryResult
	lastText string
	lastK    int
	hits     []domain.RetrievalResult
	err      error
	resets   int
}

func (f *fakeBackend) Ingest(ctx context.Context, path string) service.IngestResult {
	f.ingested = append(f.ingested, path)
	return f.ingest
}

func (f *fakeBackend) Query(ctx context.Context, text string) service.QueryResult {
	f.lastText = text
	return f.query
}

func (f *fakeBackend) Search(ctx context.Context, text string, k int) ([]domain.RetrievalResult, error) {
	f.lastText, f.lastK = text, k
	return f.hits, f.err
}

func (f *fakeBackend) Reset(ctx context.Context) error {
	f.resets++
	return f.err
}

func (f *fakeBackend) Stats(ctx context.Context) (service.Stats, error) {
	return service.Stats{Chunks: 4, Embedded: 3, Pending: 1, Dimension: 8, Uptime: 90 * time.Second}, nil
}

func do(t *testing.T, s *Server, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not json: %q", rec.Body.String())
	}
	return rec, body
}

func uploadRequest(t *testing.T, name, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte(content))
	w.Close()
	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestUpload_SavesAndIngests(t *testing.T) {
	dir := t.TempDir()
	fb := &fakeBackend{ingest: service.IngestResult{Status: service.StatusSuccess, Chunks: 2}}
	s := New(fb, dir, nil)

	rec, body := do(t, s, uploadRequest(t, "../../notes.txt", "hello there"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	want := filepath.Join(dir, "notes.txt")
	if len(fb.ingested) != 1 || fb.ingested[0] != want {
		t.Fatalf("expected ingest of %s, got %v", want, fb.ingested)
	}
	data, err := os.ReadFile(want)
	if err != nil || string(data) != "hello there" {
		t.Fatalf("upload not saved: %q %v", data, err)
	}
	if body["message"] != "notes.txt processed & embeddings updated" {
		t.Fatalf("unexpected message %v", body["message"])
	}
}

func TestUpload_ErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: bad path", domain.ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("%w: .exe", domain.ErrUnsupportedFormat), http.StatusBadRequest},
		{fmt.Errorf("%w: blank", domain.ErrExtractionEmpty), http.StatusUnprocessableEntity},
		{&domain.CollaboratorError{Kind: domain.ErrEmbeddingUnavailable, Retryable: true}, http.StatusBadGateway},
		{fmt.Errorf("embed: %w", vectorstore.ErrReset), http.StatusConflict},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		fb := &fakeBackend{ingest: service.IngestResult{Status: service.StatusError, Message: tc.err.Error(), Err: tc.err}}
		s := New(fb, t.TempDir(), nil)
		rec, body := do(t, s, uploadRequest(t, "a.txt", "x"))
		if rec.Code != tc.code {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.code, rec.Code)
		}
		if body["status"] != "error" {
			t.Errorf("%v: body should stay structured, got %v", tc.err, body)
		}
	}
}

func TestUpload_RejectsUnacceptedBeforeSaving(t *testing.T) {
	dir := t.TempDir()
	fb := &fakeBackend{ingest: service.IngestResult{Status: service.StatusSuccess}}
	s := New(fb, dir, nil, WithAccept(func(name string) bool { return strings.HasSuffix(name, ".txt") }))

	rec, body := do(t, s, uploadRequest(t, "tool.exe", "MZ"))
	if rec.Code != http.StatusBadRequest || body["status"] != "error" {
		t.Fatalf("expected a 400 error body, got %d %v", rec.Code, body)
	}
	if len(fb.ingested) != 0 {
		t.Fatalf("rejected upload reached the backend: %v", fb.ingested)
	}
	if _, err := os.Stat(filepath.Join(dir, "tool.exe")); !os.IsNotExist(err) {
		t.Fatalf("rejected upload was written to disk: %v", err)
	}
	if rec, _ := do(t, s, uploadRequest(t, "ok.txt", "fine")); rec.Code != http.StatusOK {
		t.Fatalf("accepted upload: expected 200, got %d", rec.Code)
	}
}

func TestFrontend_ServesIndexAndKeepsAPI(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>docrag</h1>"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := New(&fakeBackend{}, t.TempDir(), nil, WithFrontend(dir))

	for path, want := range map[string]string{
		"/":                "<h1>docrag</h1>",
		"/app.js":          "console.log(1)",
		"/chat/history/42": "<h1>docrag</h1>",
	} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK || rec.Body.String() != want {
			t.Errorf("GET %s: got %d %q", path, rec.Code, rec.Body.String())
		}
	}
	rec, body := do(t, s, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health shadowed by frontend: %d %v", rec.Code, body)
	}
}

func TestFrontend_Disabled(t *testing.T) {
	s := New(&fakeBackend{}, t.TempDir(), nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a frontend, got %d", rec.Code)
	}
}

func TestUpload_MissingFile(t *testing.T) {
	s := New(&fakeBackend{}, t.TempDir(), nil)
	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(""))
	rec, _ := do(t, s, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestChat(t *testing.T) {
	fb := &fakeBackend{query: service.QueryResult{
		Status:  service.StatusSuccess,
		Answer:  "forty-two",
		Sources: []domain.RetrievalResult{{ChunkID: 7, SourceName: "guide.txt", Sequence: 1, Text: "the answer is 42", Similarity: 0.9}},
	}}
	s := New(fb, t.TempDir(), nil)
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"what is it?"}`))
	req.Header.Set("Content-Type", "application/json")

	rec, body := do(t, s, req)
	if rec.Code != http.StatusOK || body["answer"] != "forty-two" {
		t.Fatalf("unexpected response %d %v", rec.Code, body)
	}
	if fb.lastText != "what is it?" {
		t.Fatalf("message not forwarded, got %q", fb.lastText)
	}
	chunks, _ := body["chunks"].([]any)
	if len(chunks) != 1 || chunks[0].(map[string]any)["file_name"] != "guide.txt" {
		t.Fatalf("unexpected chunks %v", body["chunks"])
	}
}

func TestChat_CompletionFailureIs502WithPayload(t *testing.T) {
	err := &domain.CollaboratorError{Kind: domain.ErrCompletionFailure, Payload: `{"error":"overloaded"}`}
	fb := &fakeBackend{query: service.QueryResult{Status: service.StatusError, Message: err.Error(), Payload: err.Payload, Sources: []domain.RetrievalResult{}, Err: err}}
	s := New(fb, t.TempDir(), nil)
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set("Content-Type", "application/json")

	rec, body := do(t, s, req)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if body["payload"] != `{"error":"overloaded"}` {
		t.Fatalf("payload missing from body %v", body)
	}
}

func TestSearch(t *testing.T) {
	fb := &fakeBackend{hits: []domain.RetrievalResult{{ChunkID: 1, Text: "x", Similarity: 1}}}
	s := New(fb, t.TempDir(), nil)

	rec, body := do(t, s, httptest.NewRequest(http.MethodGet, "/search?q=hello&k=3", nil))
	if rec.Code != http.StatusOK || fb.lastK != 3 || fb.lastText != "hello" {
		t.Fatalf("unexpected %d k=%d q=%q", rec.Code, fb.lastK, fb.lastText)
	}
	if chunks, _ := body["chunks"].([]any); len(chunks) != 1 {
		t.Fatalf("unexpected chunks %v", body)
	}

	rec, _ = do(t, s, httptest.NewRequest(http.MethodGet, "/search?q=hello&k=zero", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad k: expected 400, got %d", rec.Code)
	}

	fb.err = fmt.Errorf("%w: empty query", domain.ErrInvalidInput)
	rec, _ = do(t, s, httptest.NewRequest(http.MethodGet, "/search", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty query: expected 400, got %d", rec.Code)
	}
}

func TestResetAndHealth(t *testing.T) {
	fb := &fakeBackend{}
	s := New(fb, t.TempDir(), nil)

	rec, _ := do(t, s, httptest.NewRequest(http.MethodPost, "/reset", nil))
	if rec.Code != http.StatusOK || fb.resets != 1 {
		t.Fatalf("reset: %d resets=%d", rec.Code, fb.resets)
	}
	rec, body := do(t, s, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || body["chunks"] != float64(4) || body["pending"] != float64(1) {
		t.Fatalf("unexpected health %d %v", rec.Code, body)
	}
	if body["uptime"] != "1m30s" {
		t.Fatalf("unexpected uptime %v", body["uptime"])
	}
}
