// Package server exposes the service over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"docrag/internal/domain"
	"docrag/internal/service"
	"docrag/internal/vectorstore"
)

// Backend is the part of service.Service the routes use.
type Backend interface {
	Ingest(ctx context.Context, path string) service.IngestResult
	Query(ctx context.Context, text string) service.QueryResult
	Search(ctx context.Context, text string, k int) ([]domain.RetrievalResult, error)
	Reset(ctx context.Context) error
	Stats(ctx context.Context) (service.Stats, error)
}

// Server routes HTTP requests to a Backend.
type Server struct {
	e        *echo.Echo
	backend  Backend
	dataDir  string
	logger   *log.Logger
	accept   func(name string) bool
	frontend string
}

// Option customises a Server.
type Option func(*Server)

// WithAccept rejects uploads whose file name accept returns false for,
// before anything is written to disk.
func WithAccept(accept func(name string) bool) Option {
	return func(s *Server) { s.accept = accept }
}

// WithFrontend serves the static files under dir, falling back to
// dir/index.html for unknown GET paths. An empty dir serves nothing.
func WithFrontend(dir string) Option {
	return func(s *Server) { s.frontend = dir }
}

// New registers every route. Uploaded files are saved under dataDir.
func New(backend Backend, dataDir string, logger *log.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{Output: logger.Writer()}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{e: e, backend: backend, dataDir: dataDir, logger: logger}
	for _, o := range opts {
		o(s)
	}
	if s.frontend != "" {
		e.Use(middleware.StaticWithConfig(middleware.StaticConfig{
			Root:  s.frontend,
			HTML5: true,
			Skipper: func(c echo.Context) bool {
				m := c.Request().Method
				return m != http.MethodGet && m != http.MethodHead
			},
		}))
	}
	e.POST("/upload", s.upload)
	e.POST("/chat", s.chat)
	e.GET("/search", s.search)
	e.POST("/reset", s.reset)
	e.GET("/health", s.health)
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.e }

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Printf("listening on %s", addr)
	if err := s.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

type chatRequest struct {
	Message string `json:"message"`
}

func (s *Server) upload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("missing multipart field \"file\""))
	}
	name := filepath.Base(filepath.Clean("/" + fh.Filename))
	if name == "/" || name == "." || strings.TrimSpace(name) == "" {
		return c.JSON(http.StatusBadRequest, errorBody("invalid file name"))
	}
	if s.accept != nil && !s.accept(name) {
		return c.JSON(http.StatusBadRequest, errorBody(fmt.Sprintf("unsupported file type %q", filepath.Ext(name))))
	}
	path := filepath.Join(s.dataDir, name)
	if err := s.save(fh, path); err != nil {
		s.logger.Printf("save upload %s: %v", name, err)
		return c.JSON(http.StatusInternalServerError, errorBody("could not save upload"))
	}
	res := s.backend.Ingest(c.Request().Context(), path)
	if res.Status == service.StatusSuccess {
		res.Message = fmt.Sprintf("%s processed & embeddings updated", name)
	}
	return c.JSON(statusFor(res.Err), res)
}

func (s *Server) save(fh *multipart.FileHeader, path string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

func (s *Server) chat(c echo.Context) error {
	var in chatRequest
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid json"))
	}
	res := s.backend.Query(c.Request().Context(), in.Message)
	return c.JSON(statusFor(res.Err), res)
}

func (s *Server) search(c echo.Context) error {
	k := 0
	if v := c.QueryParam("k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, errorBody("k must be a positive integer"))
		}
		k = n
	}
	hits, err := s.backend.Search(c.Request().Context(), c.QueryParam("q"), k)
	if err != nil {
		return c.JSON(statusFor(err), errorBody(err.Error()))
	}
	return c.JSON(http.StatusOK, echo.Map{"chunks": hits})
}

func (s *Server) reset(c echo.Context) error {
	if err := s.backend.Reset(c.Request().Context()); err != nil {
		return c.JSON(statusFor(err), errorBody(err.Error()))
	}
	return c.JSON(http.StatusOK, echo.Map{"status": service.StatusSuccess, "message": "Corpus reset"})
}

func (s *Server) health(c echo.Context) error {
	st, err := s.backend.Stats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, errorBody(err.Error()))
	}
	return c.JSON(http.StatusOK, echo.Map{
		"status":    "ok",
		"chunks":    st.Chunks,
		"embedded":  st.Embedded,
		"pending":   st.Pending,
		"dimension": st.Dimension,
		"uptime":    st.Uptime.String(),
	})
}

func errorBody(msg string) echo.Map {
	return echo.Map{"status": service.StatusError, "message": msg}
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, domain.ErrExtractionEmpty):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, vectorstore.ErrReset):
		return http.StatusConflict
	case errors.Is(err, domain.ErrEmbeddingUnavailable), errors.Is(err, domain.ErrCompletionFailure):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
