// Package server serves rendered cards, health and metrics over HTTP.
//
// In daemon mode the Graph API fetches card images from /cards, so
// image_base_url should point at this server's public address.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 10 * time.Second

// RunSummary is one pipeline run as listed by /api/runs.
type RunSummary struct {
	ID         string     `json:"id"`
	Query      string     `json:"query"`
	Status     string     `json:"status"`
	Cards      int        `json:"cards"`
	Posts      int        `json:"posts"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// RunLister lists recent pipeline runs.
type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)
}

// Server is the HTTP surface of the daemon.
type Server struct {
	echo      *echo.Echo
	outputDir string
	runs      RunLister
}

// Option configures a Server.
type Option func(*Server)

// WithRunLister exposes run history at /api/runs.
func WithRunLister(l RunLister) Option {
	return func(s *Server) {
		s.runs = l
	}
}

// New creates a server serving card files from outputDir.
func New(outputDir string, opts ...Option) *Server {
	s := &Server{
		echo:      echo.New(),
		outputDir: outputDir,
	}
	for _, opt := range opts {
		opt(s)
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogError:    true,
		LogMethod:   true,
		LogLatency:  true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ctx := c.Request().Context()
			if v.Error == nil {
				slog.DebugContext(ctx, "request completed",
					"method", v.Method,
					"uri", v.URI,
					"status", v.Status,
					"latency_ms", v.Latency.Milliseconds())
			} else {
				slog.WarnContext(ctx, "request failed",
					"method", v.Method,
					"uri", v.URI,
					"status", v.Status,
					"latency_ms", v.Latency.Milliseconds(),
					"error", v.Error.Error())
			}
			return nil
		},
	}))
	e.Use(middleware.Recover())

	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/cards/*", s.handleCard)
	e.HEAD("/cards/*", s.handleCard)
	if s.runs != nil {
		e.GET("/api/runs", s.handleRuns)
	}

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting http server", "address", addr, "cards_dir", s.outputDir)
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleCard serves one file from the output directory. Only plain file
// names are accepted.
func (s *Server) handleCard(c echo.Context) error {
	name := c.Param("*")
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return echo.ErrNotFound
	}

	f, err := os.Open(filepath.Join(s.outputDir, name))
	if err != nil {
		return echo.ErrNotFound
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		return echo.ErrNotFound
	}

	http.ServeContent(c.Response(), c.Request(), info.Name(), info.ModTime(), f)
	return nil
}

func (s *Server) handleRuns(c echo.Context) error {
	limit := 20
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 200 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 200")
		}
		limit = n
	}

	runs, err := s.runs.ListRuns(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "list runs").SetInternal(err)
	}
	if runs == nil {
		runs = []RunSummary{}
	}
	return c.JSON(http.StatusOK, runs)
}
