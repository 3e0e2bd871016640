package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/config"
	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/models"
	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/service/auth"
	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/service/cost"
	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/service/generation"
	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/service/health"
	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/service/orchestrator"
	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/service/publisher"
	publishermem "github.com/lucasbneuman/vixenbliss-creator-sub001/internal/service/publisher/memory"
	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/service/safety"
	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/service/scheduler"
	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/store"
	"github.com/lucasbneuman/vixenbliss-creator-sub001/pkg/clock"
)

type Server struct {
	Config *config.Config
	Store  store.ContentStore
	Router *gin.Engine
	Logger *zap.Logger
	Server *http.Server

	// Services
	Orchestrator *orchestrator.Orchestrator
	Scheduler    *scheduler.Scheduler
	Monitor      *health.Monitor
	Costs        *cost.Tracker
	Auth         *auth.Service
}

func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	// Set gin mode
	gin.SetMode(cfg.Server.Mode)

	st, err := newStore(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	clk := clock.New()

	provider, err := newProvider(&cfg.Generation)
	if err != nil {
		return nil, err
	}
	gate := safety.NewThresholdGate(safety.NewKeywordScorer(), cfg.Safety.RejectThreshold, cfg.Safety.BorderlineThreshold)
	costs := cost.NewTracker(st, logger)

	orch, err := orchestrator.New(&cfg.Generation, st, provider, gate, costs, logger)
	if err != nil {
		return nil, err
	}

	monitor, err := health.NewMonitor(&cfg.Health, st, logger, clk)
	if err != nil {
		return nil, err
	}

	registry := publisher.NewRegistry(logger)
	if err := registerPublishers(registry, cfg.Platforms); err != nil {
		return nil, err
	}

	sched, err := scheduler.New(&cfg.Scheduler, cfg.Platforms, st, registry, monitor, logger, clk)
	if err != nil {
		return nil, err
	}

	authService := auth.NewService(logger, cfg.Auth.TOTPSecret)

	// Create router
	router := gin.New()

	srv := &Server{
		Config:       cfg,
		Store:        st,
		Router:       router,
		Logger:       logger,
		Orchestrator: orch,
		Scheduler:    sched,
		Monitor:      monitor,
		Costs:        costs,
		Auth:         authService,
	}

	srv.setupMiddleware()
	srv.setupRoutes()

	return srv, nil
}

func newStore(cfg *config.DatabaseConfig) (store.ContentStore, error) {
	if cfg.Type == "memory" {
		return store.NewMemoryStore(), nil
	}
	db, err := store.NewDatabase(cfg)
	if err != nil {
		return nil, err
	}
	return store.NewGormStore(db), nil
}

func newProvider(cfg *config.GenerationConfig) (generation.Provider, error) {
	switch cfg.Provider {
	case "stub", "":
		return generation.NewStubProvider(), nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
	}
}

// registerPublishers wires one adapter per enabled platform. Real platform
// adapters slot in here; the in-memory adapter serves dev mode.
func registerPublishers(registry *publisher.Registry, platforms map[string]config.PlatformPolicy) error {
	for name, policy := range platforms {
		if !policy.Enabled {
			continue
		}
		if err := registry.Register(publishermem.New(models.Platform(name))); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.Router.Use(gin.Recovery())

	// Logger middleware
	s.Router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
	}))

	// CORS middleware
	s.Router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-OTP")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})
}

func (s *Server) setupRoutes() {
	// Health check
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	// API routes
	api := s.Router.Group("/api/v1")
	{
		batches := api.Group("/batches")
		{
			batches.POST("", s.handleStartBatch)
			batches.GET("/:id", s.handleGetBatch)
			batches.POST("/:id/cancel", s.handleCancelBatch)
		}

		artifacts := api.Group("/artifacts")
		{
			artifacts.GET("/:id", s.handleGetArtifact)
			artifacts.POST("/:id/approve", s.handleApproveArtifact)
			artifacts.POST("/:id/reject", s.handleRejectArtifact)
		}

		api.POST("/schedule", s.handleSchedulePost)

		posts := api.Group("/posts")
		{
			posts.POST("", s.handleSchedulePost)
			posts.GET("", s.handleListPosts)
			posts.GET("/:id", s.handleGetPost)
			posts.POST("/:id/cancel", s.handleCancelPost)
		}

		accounts := api.Group("/accounts")
		{
			accounts.GET("/:id/health", s.handleGetAccountHealth)
			accounts.POST("/:id/reset", s.Auth.OperatorMiddleware(), s.handleResetAccount)
		}

		avatars := api.Group("/avatars")
		{
			avatars.GET("/:id/costs", s.handleGetCosts)
			avatars.GET("/:id/eligible", s.handleListEligible)
			avatars.POST("/:id/schedule", s.handleScheduleEligible)
		}
	}
}

type startBatchRequest struct {
	AvatarID         string         `json:"avatar_id" binding:"required"`
	AvatarModelRef   string         `json:"avatar_model_ref"`
	RequestedCount   int            `json:"requested_count" binding:"required"`
	TierDistribution map[string]int `json:"tier_distribution" binding:"required"`
}

func (s *Server) handleStartBatch(c *gin.Context) {
	var req startBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	distribution := models.TierCounts{}
	for tier, count := range req.TierDistribution {
		distribution[models.Tier(tier)] = count
	}

	batch, err := s.Orchestrator.StartBatch(c.Request.Context(), orchestrator.StartBatchRequest{
		AvatarID:         req.AvatarID,
		AvatarModelRef:   req.AvatarModelRef,
		RequestedCount:   req.RequestedCount,
		TierDistribution: distribution,
	})
	if err != nil {
		if errors.Is(err, orchestrator.ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.Logger.Error("Failed to start batch", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start batch"})
		return
	}

	c.JSON(http.StatusAccepted, batch)
}

func (s *Server) handleGetBatch(c *gin.Context) {
	batch, err := s.Store.GetBatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondStoreError(c, err, "Failed to get batch")
		return
	}
	c.JSON(http.StatusOK, batch)
}

func (s *Server) handleCancelBatch(c *gin.Context) {
	if !s.Orchestrator.CancelBatch(c.Param("id")) {
		c.JSON(http.StatusConflict, gin.H{"error": "batch is not running"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Batch cancellation requested"})
}

func (s *Server) handleGetArtifact(c *gin.Context) {
	artifact, err := s.Store.GetArtifact(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondStoreError(c, err, "Failed to get artifact")
		return
	}
	c.JSON(http.StatusOK, artifact)
}

func (s *Server) handleApproveArtifact(c *gin.Context) {
	if err := s.Orchestrator.ApproveArtifact(c.Request.Context(), c.Param("id")); err != nil {
		s.respondStoreError(c, err, "Failed to approve artifact")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Artifact approved"})
}

func (s *Server) handleRejectArtifact(c *gin.Context) {
	if err := s.Orchestrator.RejectArtifact(c.Request.Context(), c.Param("id")); err != nil {
		s.respondStoreError(c, err, "Failed to reject artifact")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Artifact rejected"})
}

type schedulePostRequest struct {
	ArtifactID        string `json:"artifact_id" binding:"required"`
	Platform          string `json:"platform" binding:"required"`
	PlatformAccountID string `json:"platform_account_id" binding:"required"`
	WindowHours       int    `json:"window_hours"`
}

func (s *Server) handleSchedulePost(c *gin.Context) {
	var req schedulePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	post, err := s.Scheduler.ScheduleArtifact(c.Request.Context(), req.ArtifactID,
		models.Platform(req.Platform), req.PlatformAccountID, scheduleWindow(req.WindowHours))
	if err != nil {
		s.respondScheduleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, post)
}

func (s *Server) handleListPosts(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	posts, err := s.Store.ListRecentPosts(c.Request.Context(), limit)
	if err != nil {
		s.Logger.Error("Failed to list posts", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list posts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"posts": posts})
}

func (s *Server) handleGetPost(c *gin.Context) {
	post, err := s.Store.GetScheduledPost(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondStoreError(c, err, "Failed to get post")
		return
	}
	c.JSON(http.StatusOK, post)
}

func (s *Server) handleCancelPost(c *gin.Context) {
	err := s.Scheduler.CancelPost(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, scheduler.ErrCancelNotAllowed) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		s.respondStoreError(c, err, "Failed to cancel post")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Post cancelled"})
}

func (s *Server) handleGetAccountHealth(c *gin.Context) {
	record, err := s.Store.GetAccountHealth(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondStoreError(c, err, "Failed to get account health")
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) handleResetAccount(c *gin.Context) {
	record, err := s.Monitor.ResetAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondStoreError(c, err, "Failed to reset account")
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) handleGetCosts(c *gin.Context) {
	summary, err := s.Costs.Summary(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.Logger.Error("Failed to summarize costs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to summarize costs"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleListEligible(c *gin.Context) {
	artifacts, err := s.Store.ListEligibleArtifacts(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.Logger.Error("Failed to list eligible artifacts", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list eligible artifacts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"artifacts": artifacts})
}

type scheduleEligibleRequest struct {
	Platform          string `json:"platform" binding:"required"`
	PlatformAccountID string `json:"platform_account_id" binding:"required"`
	WindowHours       int    `json:"window_hours"`
}

func (s *Server) handleScheduleEligible(c *gin.Context) {
	var req scheduleEligibleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	posts, err := s.Scheduler.ScheduleEligible(c.Request.Context(), c.Param("id"),
		models.Platform(req.Platform), req.PlatformAccountID, scheduleWindow(req.WindowHours))
	if err != nil {
		s.respondScheduleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"posts": posts})
}

func scheduleWindow(hours int) scheduler.Window {
	if hours <= 0 {
		hours = 24
	}
	now := time.Now()
	return scheduler.Window{Start: now, End: now.Add(time.Duration(hours) * time.Hour)}
}

func (s *Server) respondScheduleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, scheduler.ErrNotEligible):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, scheduler.ErrDuplicateSchedule):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, scheduler.ErrAccountUnavailable):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, scheduler.ErrWindowExhausted):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		s.Logger.Error("Scheduling failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Scheduling failed"})
	}
}

func (s *Server) respondStoreError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, store.ErrStorageConflict), errors.Is(err, store.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.Logger.Error(msg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}

func (s *Server) Start(ctx context.Context) error {
	// Start dispatch loop
	if err := s.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start dispatch loop: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)

	s.Server = &http.Server{
		Addr:    addr,
		Handler: s.Router,
	}

	s.Logger.Info("Starting HTTP server", zap.String("addr", addr))

	if s.Config.Server.CertFile != "" && s.Config.Server.KeyFile != "" {
		return s.Server.ListenAndServeTLS(s.Config.Server.CertFile, s.Config.Server.KeyFile)
	}

	return s.Server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	// Stop dispatch loop first, then wait out running batches
	s.Scheduler.Stop()
	s.Orchestrator.Wait()

	if s.Server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return s.Server.Shutdown(shutdownCtx)
}
