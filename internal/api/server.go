package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loomctl/crawlspace/internal/analyzer"
	"github.com/loomctl/crawlspace/internal/config"
	"github.com/loomctl/crawlspace/internal/seeds"
	"github.com/loomctl/crawlspace/internal/types"
)

// Controller is the engine surface the HTTP layer drives.
type Controller interface {
	Create(ctx context.Context, spec *types.CrawlSpec) (*types.CrawlInfo, error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) (time.Time, error)
	Info(ctx context.Context, id string) (*types.CrawlInfo, error)
	Spec(id string) (*types.CrawlSpec, error)
	Status(ctx context.Context, id string) (*types.CrawlStatus, error)
	List(ctx context.Context) ([]*types.CrawlInfo, error)
	StatusAll(ctx context.Context) ([]*types.CrawlStatus, error)
	Records(ctx context.Context, id string, count int, scoreType string) ([]*types.CrawlRecord, error)
	AnalyzerInfos() []analyzer.Info
}

// SeedCollector gathers seed URLs from web search engines.
type SeedCollector interface {
	Collect(ctx context.Context, reqs []seeds.Request) ([]string, error)
}

// Server exposes the crawl engine over HTTP.
type Server struct {
	cfg     config.APIConfig
	ctrl    Controller
	seeds   SeedCollector
	metrics http.Handler
	logger  *slog.Logger

	router  *gin.Engine
	httpSrv *http.Server
}

// NewServer builds the control API around an engine controller and a
// seed collector. The metrics handler is mounted at /metrics.
func NewServer(cfg config.APIConfig, ctrl Controller, collector SeedCollector, metrics http.Handler, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:     cfg,
		ctrl:    ctrl,
		seeds:   collector,
		metrics: metrics,
		logger:  logger.With("component", "api_server"),
	}

	s.router = gin.New()
	s.router.Use(gin.Recovery(), s.requestLogger())
	s.registerRoutes()
	return s
}

// Handler returns the underlying router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins serving in the background.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpSrv = &http.Server{Addr: addr, Handler: s.router}

	s.logger.Info("control API listening", "addr", addr)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server failed", "error", err)
		}
	}()
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics))
	}

	v1 := s.router.Group("/api/v1")
	v1.GET("/health", s.handleHealth)

	v1.POST("/crawls", s.handleCreateCrawl)
	v1.GET("/crawls", s.handleListCrawls)
	v1.GET("/crawls/status", s.handleStatusAll)
	v1.GET("/crawls/:id", s.handleGetCrawl)
	v1.GET("/crawls/:id/status", s.handleCrawlStatus)
	v1.GET("/crawls/:id/spec/download", s.handleSpecDownload)
	v1.POST("/crawls/:id/start", s.handleStartCrawl)
	v1.POST("/crawls/:id/stop", s.handleStopCrawl)
	v1.DELETE("/crawls/:id", s.handleDeleteCrawl)

	v1.POST("/results/:id/records", s.handleRecords)
	v1.POST("/seeds/collect", s.handleCollectSeeds)
	v1.GET("/analyzers/info", s.handleAnalyzerInfo)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type createCrawlRequest struct {
	CrawlSpec *types.CrawlSpec      `json:"crawl_spec"`
	ResultsID *types.CrawlResultsID `json:"results_id,omitempty"`
}

func (s *Server) handleCreateCrawl(c *gin.Context) {
	var req createCrawlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.CrawlSpec == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "crawl_spec is required"})
		return
	}
	if req.ResultsID != nil {
		req.CrawlSpec.ResultsID = req.ResultsID
	}

	info, err := s.ctrl.Create(c.Request.Context(), req.CrawlSpec)
	if err != nil {
		s.renderError(c, err, true)
		return
	}
	c.JSON(http.StatusOK, gin.H{"crawl_id": info.CrawlID, "run_state": info.CurrentState})
}

func (s *Server) handleStartCrawl(c *gin.Context) {
	id := c.Param("id")
	if err := s.ctrl.Start(c.Request.Context(), id); err != nil {
		s.renderError(c, err, false)
		return
	}
	c.JSON(http.StatusOK, gin.H{"crawl_id": id, "run_state": types.StateRunning})
}

func (s *Server) handleStopCrawl(c *gin.Context) {
	id := c.Param("id")
	if err := s.ctrl.Stop(c.Request.Context(), id); err != nil {
		s.renderError(c, err, false)
		return
	}
	c.JSON(http.StatusOK, gin.H{"crawl_id": id, "run_state": types.StateStopped})
}

func (s *Server) handleDeleteCrawl(c *gin.Context) {
	id := c.Param("id")
	deleted, err := s.ctrl.Delete(c.Request.Context(), id)
	if err != nil {
		s.renderError(c, err, false)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"crawl_id":           id,
		"crawl_deleted_time": deleted.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleListCrawls(c *gin.Context) {
	infos, err := s.ctrl.List(c.Request.Context())
	if err != nil {
		s.renderError(c, err, false)
		return
	}
	c.JSON(http.StatusOK, gin.H{"crawls": infos})
}

func (s *Server) handleStatusAll(c *gin.Context) {
	statuses, err := s.ctrl.StatusAll(c.Request.Context())
	if err != nil {
		s.renderError(c, err, false)
		return
	}
	c.JSON(http.StatusOK, gin.H{"crawls": statuses})
}

func (s *Server) handleGetCrawl(c *gin.Context) {
	info, err := s.ctrl.Info(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err, false)
		return
	}
	c.JSON(http.StatusOK, gin.H{"info": info})
}

func (s *Server) handleCrawlStatus(c *gin.Context) {
	status, err := s.ctrl.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err, false)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

func (s *Server) handleSpecDownload(c *gin.Context) {
	spec, err := s.ctrl.Spec(c.Param("id"))
	if err != nil {
		s.renderError(c, err, false)
		return
	}
	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		s.renderError(c, err, false)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", spec.Name+"_spec.json"))
	c.Data(http.StatusOK, "application/json", data)
}

type recordsRequest struct {
	RecordCount int    `json:"record_count"`
	ScoreType   string `json:"score_type"`
}

func (s *Server) handleRecords(c *gin.Context) {
	var req recordsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.ScoreType == "" {
		req.ScoreType = types.ScoreTypeComposite
	}

	records, err := s.ctrl.Records(c.Request.Context(), c.Param("id"), req.RecordCount, req.ScoreType)
	if err != nil {
		s.renderError(c, err, false)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

type collectSeedsRequest struct {
	SearchEngineSeeds []seeds.Request `json:"search_engine_seeds"`
}

func (s *Server) handleCollectSeeds(c *gin.Context) {
	var req collectSeedsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	urls, err := s.seeds.Collect(c.Request.Context(), req.SearchEngineSeeds)
	if err != nil {
		s.renderError(c, err, false)
		return
	}
	c.JSON(http.StatusOK, gin.H{"seed_urls": urls})
}

func (s *Server) handleAnalyzerInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"analyzers": s.ctrl.AnalyzerInfos()})
}

// renderError maps engine errors onto HTTP statuses. Spec validation
// failures are 422 on create and 400 everywhere else; lifecycle
// violations are 400; unknown crawls are 404; the rest are 500.
func (s *Server) renderError(c *gin.Context, err error, create bool) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrCrawlNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrCrawlExists),
		errors.Is(err, types.ErrAlreadyRunning),
		errors.Is(err, types.ErrNotRunning),
		errors.Is(err, types.ErrRunningCannotDelete),
		errors.Is(err, types.ErrInvalidScoreType):
		status = http.StatusBadRequest
	case errors.Is(err, types.ErrInvalidSpec),
		errors.Is(err, types.ErrUnknownAnalyzer),
		errors.Is(err, types.ErrInvalidAnalyzerParams):
		status = http.StatusBadRequest
		if create {
			status = http.StatusUnprocessableEntity
		}
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
