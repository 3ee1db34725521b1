// Package server assembles the risk pipeline behind the HTTP API.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/qubicsec/aegis/internal/circuitbreaker"
	"github.com/qubicsec/aegis/internal/config"
	"github.com/qubicsec/aegis/internal/forecast"
	"github.com/qubicsec/aegis/internal/graph"
	"github.com/qubicsec/aegis/internal/health"
	"github.com/qubicsec/aegis/internal/ingest"
	"github.com/qubicsec/aegis/internal/judgment"
	"github.com/qubicsec/aegis/internal/logging"
	"github.com/qubicsec/aegis/internal/metrics"
	"github.com/qubicsec/aegis/internal/pagination"
	"github.com/qubicsec/aegis/internal/pipeline"
	"github.com/qubicsec/aegis/internal/ratelimit"
	"github.com/qubicsec/aegis/internal/realtime"
	"github.com/qubicsec/aegis/internal/risk"
	"github.com/qubicsec/aegis/internal/security"
	"github.com/qubicsec/aegis/internal/sensitivity"
	"github.com/qubicsec/aegis/internal/signals"
	"github.com/qubicsec/aegis/internal/traces"
	"github.com/qubicsec/aegis/internal/validation"
	"github.com/qubicsec/aegis/internal/webhooks"
)

// Version string reported by /health and /v1/status.
const version = "0.1.0"

// Server is the HTTP front end of the monitoring pipeline.
type Server struct {
	cfg *config.Config

	pipeline    *pipeline.Pipeline
	hub         *realtime.Hub
	judge       *judgment.HTTPProvider
	injected    judgment.Provider
	webhookSub  *webhooks.Handler
	dispatcher  *webhooks.Dispatcher
	checks      *health.Registry
	rateLimiter *ratelimit.Limiter

	router  *gin.Engine
	httpSrv *http.Server
	logger  *slog.Logger

	cancelRunCtx    context.CancelFunc
	shutdownTracing func(context.Context) error
	ready           atomic.Bool
	healthy         atomic.Bool
	startedAt       time.Time
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithProvider injects a judgment provider, replacing the one built from
// config. Used by tests.
func WithProvider(p judgment.Provider) Option {
	return func(s *Server) { s.injected = p }
}

// New creates a fully wired server from configuration
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logging.New(cfg.LogLevel, "text"),
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	// Core pipeline components
	ledger := graph.NewLedger(graph.RoleThresholds{
		WhaleVolume: cfg.WhaleVolumeThreshold,
		HubDegree:   cfg.HubDegreeThreshold,
	})
	controller := sensitivity.NewController(cfg.SensitivityWindow)
	engine := risk.NewEngine(cfg.BaselineAmount, cfg.ActivityWindow,
		risk.WithDeviationCutoff(cfg.DeviationThreshold))
	forecaster := forecast.NewForecaster(cfg.SeriesCapacity, cfg.TrendWindow, cfg.SmoothingFactor)
	emitter := signals.NewEmitter(cfg.SignalCapacity)

	// Realtime streaming
	s.hub = realtime.NewHub(s.logger)

	// Webhook notifications
	webhookStore := webhooks.NewMemoryStore()
	s.dispatcher = webhooks.NewDispatcher(webhookStore)
	s.webhookSub = webhooks.NewHandler(webhookStore)
	notifier := webhooks.NewEmitter(s.dispatcher, s.logger)

	if cfg.NotifyWebhookURL != "" {
		if err := s.subscribeNotifyURL(webhookStore, cfg.NotifyWebhookURL); err != nil {
			s.logger.Warn("ignoring NOTIFY_WEBHOOK_URL", "error", err)
		}
	}

	// External judgment provider, optional. Scoring stays deterministic
	// when unset or unreachable.
	pipelineOpts := []pipeline.Option{
		pipeline.WithHub(s.hub),
		pipeline.WithNotifier(notifier),
		pipeline.WithLogger(s.logger),
	}
	if s.injected != nil {
		pipelineOpts = append(pipelineOpts, pipeline.WithProvider(s.injected))
	} else if cfg.JudgmentURL != "" {
		s.judge = judgment.NewHTTPProvider(cfg.JudgmentURL, cfg.JudgmentAPIKey, cfg.JudgmentModel, cfg.JudgmentTimeout)
		pipelineOpts = append(pipelineOpts, pipeline.WithProvider(s.judge))
		s.logger.Info("judgment provider enabled", "model", cfg.JudgmentModel)
	}

	s.pipeline = pipeline.New(ledger, controller, engine, forecaster, emitter, pipelineOpts...)

	// Sensitivity transitions fan out to websocket clients and webhooks
	controller.OnTransition(func(tr sensitivity.Transition) {
		s.hub.BroadcastSensitivity(tr)
		notifier.EmitSensitivityChanged(tr.From, tr.To, tr.TriggerCount)
	})

	s.setupHealthChecks()

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// subscribeNotifyURL registers a fixed webhook target from configuration so
// operators get notifications without calling the API first.
func (s *Server) subscribeNotifyURL(store webhooks.Store, url string) error {
	if err := security.ValidateEndpointURL(url); err != nil {
		return err
	}
	sub := &webhooks.Subscription{
		ID:        "wh_config",
		URL:       url,
		Events:    []webhooks.EventType{webhooks.EventSignalEmitted, webhooks.EventSensitivityChanged},
		Active:    true,
		CreatedAt: time.Now(),
	}
	if err := store.Create(context.Background(), sub); err != nil {
		return err
	}
	s.logger.Info("notification webhook registered", "url", url)
	return nil
}

func (s *Server) setupHealthChecks() {
	s.checks = health.NewRegistry()

	s.checks.Register("pipeline", func(_ context.Context) health.Status {
		return health.Status{
			Name:    "pipeline",
			Healthy: true,
			Detail:  "wallets=" + strconv.Itoa(s.pipeline.Ledger().Size()),
		}
	})

	s.checks.Register("realtime", func(_ context.Context) health.Status {
		stats := s.hub.Stats()
		return health.Status{
			Name:    "realtime",
			Healthy: true,
			Detail:  fmt.Sprintf("clients=%v", stats["connectedClients"]),
		}
	})

	// The provider circuit gives early warning that scoring has fallen
	// back to deterministic mode.
	if s.judge != nil {
		s.checks.Register("judgment", func(_ context.Context) health.Status {
			state := s.judge.Breaker().State()
			return health.Status{
				Name:    "judgment",
				Healthy: state != circuitbreaker.StateOpen,
				Detail:  state.String(),
			}
		})
	}
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS
	s.router.Use(security.CORSMiddleware(s.cfg.AllowedOrigins))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitPerMinute,
		BurstSize:         s.cfg.RateLimitBurst,
		CleanupInterval:   time.Minute,
	})
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API info
	s.router.GET("/", s.infoHandler)

	// WebSocket for real-time streaming
	s.router.GET("/ws/monitor", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :walletId URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.WalletParamMiddleware())

	v1.POST("/transactions", s.submitTransaction)
	v1.POST("/transactions/batch", s.submitBatch)

	v1.GET("/wallets/:walletId", s.getWalletInsights)
	v1.GET("/graph", s.getGraph)
	v1.GET("/signals", s.getSignals)
	v1.GET("/sensitivity", s.getSensitivity)
	v1.GET("/forecast/:entityId", s.getForecast)
	v1.GET("/status", s.statusHandler)

	// Webhook management (secret returned once on creation)
	s.webhookSub.RegisterRoutes(v1)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// submitTransaction handles POST /v1/transactions
func (s *Server) submitTransaction(c *gin.Context) {
	var tx ingest.Transaction
	if err := c.ShouldBindJSON(&tx); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if msg, ok := checkTransaction(&tx); !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_transaction",
			"message": msg,
		})
		return
	}

	result, err := s.pipeline.Process(c.Request.Context(), &tx)
	if err != nil {
		if errors.Is(err, ingest.ErrInvalidTransaction) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_transaction",
				"message": err.Error(),
			})
			return
		}
		logging.L(c.Request.Context()).Error("pipeline error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to process transaction",
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

// BatchRequest for POST /v1/transactions/batch
type BatchRequest struct {
	Transactions []*ingest.Transaction `json:"transactions" binding:"required"`
}

// submitBatch handles POST /v1/transactions/batch
func (s *Server) submitBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if len(req.Transactions) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "empty_batch",
			"message": "Batch must contain at least one transaction",
		})
		return
	}
	if len(req.Transactions) > validation.MaxBatchSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "batch_too_large",
			"message": fmt.Sprintf("Batch size exceeds limit of %d", validation.MaxBatchSize),
		})
		return
	}

	results, errs := s.pipeline.ProcessBatch(c.Request.Context(), req.Transactions)

	type batchError struct {
		Index int    `json:"index"`
		Error string `json:"error"`
	}
	var failures []batchError
	for i, err := range errs {
		if err != nil {
			failures = append(failures, batchError{Index: i, Error: err.Error()})
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"processed": len(results),
		"failed":    len(failures),
		"results":   results,
		"errors":    failures,
	})
}

// getWalletInsights handles GET /v1/wallets/:walletId
func (s *Server) getWalletInsights(c *gin.Context) {
	walletID := c.Param("walletId")

	insights := s.pipeline.Ledger().WalletInsights(walletID, 5)
	if !insights.Exists {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "wallet_not_found",
			"message": "No transactions observed for this wallet",
		})
		return
	}

	c.JSON(http.StatusOK, insights)
}

// getGraph handles GET /v1/graph
func (s *Server) getGraph(c *gin.Context) {
	limit := queryInt(c, "limit", 50, 500)
	c.JSON(http.StatusOK, s.pipeline.Ledger().GraphSnapshot(limit))
}

// getSignals handles GET /v1/signals
func (s *Server) getSignals(c *gin.Context) {
	limit := queryInt(c, "limit", 50, 200)
	cur, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "Cursor is malformed",
		})
		return
	}

	// Fetch one extra to detect whether more pages exist.
	sigs := s.pipeline.Signals().RecentBefore(cur, limit+1)
	page, next, more := pagination.ComputePage(sigs, limit, func(sig *signals.Signal) (time.Time, string) {
		return sig.CreatedAt, sig.ID
	})

	c.JSON(http.StatusOK, gin.H{
		"signals":    page,
		"count":      len(page),
		"total":      s.pipeline.Signals().Count(),
		"nextCursor": next,
		"hasMore":    more,
	})
}

// getSensitivity handles GET /v1/sensitivity
func (s *Server) getSensitivity(c *gin.Context) {
	c.JSON(http.StatusOK, s.pipeline.Controller().Status(time.Now()))
}

// getForecast handles GET /v1/forecast/:entityId
// Use entity id "network" for the aggregate series.
func (s *Server) getForecast(c *gin.Context) {
	entityID := c.Param("entityId")
	if entityID != forecast.NetworkEntity && !validation.IsValidWalletID(entityID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_entity",
			"message": "entity id must be a wallet id or \"network\"",
		})
		return
	}

	horizon := queryInt(c, "horizon", 1, 24)
	c.JSON(http.StatusOK, s.pipeline.Forecaster().Forecast(entityID, horizon))
}

// statusHandler handles GET /v1/status
func (s *Server) statusHandler(c *gin.Context) {
	status := s.pipeline.Status(time.Now())
	status["version"] = version
	status["uptimeSeconds"] = int64(time.Since(s.startedAt).Seconds())
	status["realtime"] = s.hub.Stats()
	c.JSON(http.StatusOK, status)
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Aegis",
		"description": "Real-time transaction risk monitoring",
		"version":     version,
	})
}

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.checks.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   version,
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	shutdownTracing, err := traces.Init(ctx, s.cfg.OTELEndpoint, s.logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	s.shutdownTracing = shutdownTracing

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.hub.Run(runCtx)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for background goroutines (hub)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	// Flush any pending spans
	if s.shutdownTracing != nil {
		if err := s.shutdownTracing(ctx); err != nil {
			s.logger.Warn("tracing shutdown error", "error", err)
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Pipeline exposes the underlying pipeline for embedding callers.
func (s *Server) Pipeline() *pipeline.Pipeline {
	return s.pipeline
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// checkTransaction vets identifier formats and normalizes free-text fields
// before the transaction reaches pipeline state.
func checkTransaction(tx *ingest.Transaction) (string, bool) {
	if !validation.IsValidWalletID(tx.SourceID) {
		return "sourceId must be 1-128 alphanumeric characters", false
	}
	if !validation.IsValidWalletID(tx.DestID) {
		return "destId must be 1-128 alphanumeric characters", false
	}
	if tx.Type != "" && !validation.IsValidTxType(tx.Type) {
		return "type must be a lowercase snake_case label", false
	}
	tx.TokenSymbol = validation.SanitizeString(tx.TokenSymbol, validation.MaxTokenSymbolLength)
	return "", true
}

func queryInt(c *gin.Context, name string, def, max int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
