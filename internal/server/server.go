// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package server exposes projects, records, and search runs over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pdiddy/pms/internal/export"
	"github.com/pdiddy/pms/internal/search"
	"github.com/pdiddy/pms/internal/store"
	"github.com/pdiddy/pms/pkg/types"
)

// APIKeyHeader carries the shared secret when one is configured.
const APIKeyHeader = "X-API-KEY"

// Runner executes a search run for a project.
type Runner interface {
	Run(ctx context.Context, projectID string, req types.SearchRequest) (types.SearchResult, error)
}

// Options configures a Server. Zero values disable the matching feature.
type Options struct {
	// APIKey, when set, is required on every route except /healthz.
	APIKey string

	// Gatherer backs /metrics. Nil omits the route.
	Gatherer prometheus.Gatherer

	// Defaults fills batch size and max results missing from search bodies.
	Defaults types.SearchConfig

	Logger *zap.Logger
}

// Server routes HTTP requests to the registry and the search runner.
type Server struct {
	registry store.Registry
	runner   Runner
	opts     Options
	log      *zap.Logger
	engine   *gin.Engine
}

// New builds the router.
func New(reg store.Registry, runner Runner, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{registry: reg, runner: runner, opts: opts, log: log}

	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	api := r.Group("/", s.apiKeyAuth())
	if opts.Gatherer != nil {
		api.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
	projects := api.Group("/projects")
	projects.GET("", s.listProjects)
	projects.POST("", s.createProject)
	projects.GET("/:ref", s.getProject)
	projects.DELETE("/:ref", s.deleteProject)
	projects.GET("/:ref/records", s.listRecords)
	projects.GET("/:ref/count", s.countRecords)
	projects.GET("/:ref/history", s.history)
	projects.POST("/:ref/search", s.runSearch)

	s.engine = r
	return s
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info("listening", zap.String("addr", addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) apiKeyAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.opts.APIKey == "" {
			c.Next()
			return
		}
		if c.GetHeader(APIKeyHeader) != s.opts.APIKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

type createProjectBody struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) listProjects(c *gin.Context) {
	projects, err := s.registry.ListProjects(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	if projects == nil {
		projects = []types.Project{}
	}
	c.JSON(http.StatusOK, projects)
}

func (s *Server) createProject(c *gin.Context) {
	var body createProjectBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := s.registry.CreateProject(c.Request.Context(), types.Project{
		ID: body.ID, Name: body.Name, Description: body.Description,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (s *Server) getProject(c *gin.Context) {
	p, err := s.registry.GetProject(c.Request.Context(), c.Param("ref"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) deleteProject(c *gin.Context) {
	if err := s.registry.DeleteProject(c.Request.Context(), c.Param("ref")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// listRecords streams the project's records in ?format= (default json).
func (s *Server) listRecords(c *gin.Context) {
	format, err := export.ParseFormat(c.DefaultQuery("format", string(export.FormatJSON)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	records, err := s.registry.Records(ctx, c.Param("ref"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Header("Content-Type", format.ContentType())
	c.Status(http.StatusOK)
	n, err := export.Write(c.Writer, format, records.List(ctx))
	if err != nil {
		// Headers are already sent; the truncated body is all we can signal.
		s.log.Error("streaming records", zap.String("project", c.Param("ref")), zap.Int("written", n), zap.Error(err))
	}
}

func (s *Server) countRecords(c *gin.Context) {
	ctx := c.Request.Context()
	records, err := s.registry.Records(ctx, c.Param("ref"))
	if err != nil {
		s.fail(c, err)
		return
	}
	n, err := records.Count(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

func (s *Server) history(c *gin.Context) {
	runs, err := s.registry.History(c.Request.Context(), c.Param("ref"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if runs == nil {
		runs = []types.QueryRun{}
	}
	c.JSON(http.StatusOK, runs)
}

type searchBody struct {
	Query      string `json:"query"`
	MaxResults *int   `json:"max_results"`
	BatchSize  int    `json:"batch_size"`
	DateRange  string `json:"date_range"`
}

type searchResponse struct {
	types.SearchResult
	Error string `json:"error,omitempty"`
}

func (s *Server) runSearch(c *gin.Context) {
	var body searchBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	dr, err := types.ParseDateRange(body.DateRange)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req := types.SearchRequest{
		Query:      body.Query,
		MaxResults: s.opts.Defaults.MaxResults,
		BatchSize:  body.BatchSize,
		DateRange:  dr,
	}
	if body.MaxResults != nil {
		req.MaxResults = *body.MaxResults
	}
	if req.BatchSize == 0 {
		req.BatchSize = s.opts.Defaults.BatchSize
	}

	res, err := s.runner.Run(c.Request.Context(), c.Param("ref"), req)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, searchResponse{SearchResult: res})
	case errors.Is(err, search.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrProjectNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, search.ErrSearchFailed), errors.Is(err, search.ErrAborted):
		c.JSON(http.StatusBadGateway, searchResponse{SearchResult: res, Error: err.Error()})
	default:
		s.fail(c, err)
	}
}

// fail maps store errors to status codes.
func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrProjectNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrProjectExists):
		status = http.StatusConflict
	case errors.Is(err, store.ErrInvalidProject):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
