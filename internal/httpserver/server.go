package httpserver

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
	"github.com/tinytelemetry/glimpse/internal/analytics"
	"github.com/tinytelemetry/glimpse/internal/model"
)

const (
	defaultAddr   = "127.0.0.1:3000"
	defaultBucket = time.Minute
	// streamHeartbeat bounds how long an SSE stream stays silent.
	streamHeartbeat = 15 * time.Second
)

// QueryStore backs the read-only SQL console. It is optional.
type QueryStore interface {
	ExecuteQuery(ctx context.Context, query string) ([]map[string]any, error)
	SchemaDescription() string
	TableRowCounts(ctx context.Context) (map[string]int64, error)
}

// Config configures the HTTP API.
type Config struct {
	Addr string
	// Query enables /api/schema and /api/query when set.
	Query QueryStore
	// NavigationBucket is the default bucket for /api/charts/navigation.
	NavigationBucket time.Duration
	Logger           logr.Logger
}

// Server provides the dashboard HTTP API.
type Server struct {
	addr      string
	api       model.DashboardAPI
	query     QueryStore
	bucket    time.Duration
	log       logr.Logger
	server    *http.Server
	listener  net.Listener
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a new HTTP API server.
func NewServer(cfg Config, api model.DashboardAPI) *Server {
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if cfg.NavigationBucket <= 0 {
		cfg.NavigationBucket = defaultBucket
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		addr:      cfg.Addr,
		api:       api,
		query:     cfg.Query,
		bucket:    cfg.NavigationBucket,
		log:       logr.Discard(),
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
	if cfg.Logger.GetSink() != nil {
		s.log = cfg.Logger.WithName("httpserver")
	}
	return s
}

// Handler builds the gin engine with every route registered.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/logs", s.handleLogs)
	api.DELETE("/logs", s.handleClear)
	api.GET("/insights", s.handleInsights)
	api.GET("/summary", s.handleSummary)
	api.GET("/charts/endpoints", s.handleEndpointChart)
	api.GET("/charts/navigation", s.handleNavigationChart)
	api.POST("/control/start", s.handleStart)
	api.POST("/control/stop", s.handleStop)
	api.POST("/control/toggle", s.handleToggle)
	api.POST("/events", s.handleCustomEvent)
	api.GET("/stream", s.handleStream)
	if s.query != nil {
		api.GET("/schema", s.handleSchema)
		api.POST("/query", s.handleQuery)
	}
	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No WriteTimeout: /api/stream responses are long-lived.
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.startTime = time.Now()

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error(err, "serve failed")
		}
	}()
	s.log.Info("listening", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	st := s.api.Status()
	code, status := http.StatusOK, "ok"
	if st.DBError != "" {
		code, status = http.StatusServiceUnavailable, "degraded"
	}
	c.JSON(code, gin.H{
		"status":     status,
		"uptime":     time.Since(s.startTime).String(),
		"active":     st.Active,
		"generation": st.Generation,
		"db_error":   st.DBError,
	})
}

// loadLogs reads every record, sorts it by timestamp and applies the
// ?type=, ?from= and ?to= filters. It writes the error response itself.
func (s *Server) loadLogs(c *gin.Context) ([]model.LogRecord, bool) {
	var types []model.LogType
	for _, t := range c.QueryArray("type") {
		lt := model.LogType(t)
		if !lt.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown type: " + t})
			return nil, false
		}
		types = append(types, lt)
	}
	from, err := queryInt64(c, "from")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must be ms since epoch"})
		return nil, false
	}
	to, err := queryInt64(c, "to")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to must be ms since epoch"})
		return nil, false
	}

	logs, err := s.api.AllLogs(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database error: " + err.Error()})
		return nil, false
	}
	logs = analytics.SortByTimestamp(logs)
	logs = analytics.FilterByType(logs, types...)
	if from != 0 || to != 0 {
		logs = analytics.FilterByTimeRange(logs, from, to)
	}
	return logs, true
}

func queryInt64(c *gin.Context, key string) (int64, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

func (s *Server) handleLogs(c *gin.Context) {
	logs, ok := s.loadLogs(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"logs":  logs,
		"count": len(logs),
	})
}

func (s *Server) handleClear(c *gin.Context) {
	if err := s.api.ClearLogs(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database error: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

func (s *Server) handleInsights(c *gin.Context) {
	logs, ok := s.loadLogs(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"insights": analytics.DeriveInsights(logs)})
}

func (s *Server) handleSummary(c *gin.Context) {
	logs, ok := s.loadLogs(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, analytics.Summarize(logs))
}

func (s *Server) handleEndpointChart(c *gin.Context) {
	logs, ok := s.loadLogs(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"endpoints": analytics.AverageDurationByEndpoint(logs)})
}

func (s *Server) handleNavigationChart(c *gin.Context) {
	bucket := s.bucket
	if v := c.Query("bucket"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < time.Millisecond {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bucket must be a duration of at least 1ms"})
			return
		}
		bucket = d
	}
	logs, ok := s.loadLogs(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"bucket":  bucket.String(),
		"buckets": analytics.NavigationVolume(logs, bucket),
	})
}

func (s *Server) handleStart(c *gin.Context) {
	s.api.Start()
	c.JSON(http.StatusOK, gin.H{"active": s.api.IsActive()})
}

func (s *Server) handleStop(c *gin.Context) {
	s.api.Stop()
	c.JSON(http.StatusOK, gin.H{"active": s.api.IsActive()})
}

func (s *Server) handleToggle(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"active": s.api.Toggle()})
}

func (s *Server) handleCustomEvent(c *gin.Context) {
	var req struct {
		Name    string         `json:"name" binding:"required"`
		Details map[string]any `json:"details"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing name field"})
		return
	}
	active := s.api.IsActive()
	s.api.AddCustomEvent(req.Name, req.Details)
	c.JSON(http.StatusAccepted, gin.H{"recorded": active})
}

// handleStream pushes a "logs" event whenever stored data changes, and a
// "ping" when nothing happened for streamHeartbeat. Clients treat events
// as a hint to refetch.
func (s *Server) handleStream(c *gin.Context) {
	ctx := c.Request.Context()
	gen := s.api.Generation()
	c.Header("Cache-Control", "no-cache")
	c.SSEvent("hello", gin.H{"generation": gen})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		wctx, cancel := context.WithTimeout(ctx, streamHeartbeat)
		next, err := s.api.WaitForLogs(wctx, gen)
		cancel()
		switch {
		case err == nil:
			gen = next
			c.SSEvent("logs", gin.H{"generation": gen})
			return true
		case ctx.Err() != nil:
			return false
		default:
			c.SSEvent("ping", gin.H{"generation": gen})
			return true
		}
	})
}

func (s *Server) handleSchema(c *gin.Context) {
	counts, err := s.query.TableRowCounts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to read table row counts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"description": s.query.SchemaDescription(),
		"row_counts":  counts,
	})
}

func (s *Server) handleQuery(c *gin.Context) {
	var req struct {
		SQL string `json:"sql" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing sql field"})
		return
	}

	results, err := s.query.ExecuteQuery(c.Request.Context(), req.SQL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var columns []string
	if len(results) > 0 {
		for col := range results[0] {
			columns = append(columns, col)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"columns":   columns,
		"rows":      results,
		"row_count": len(results),
	})
}
