package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/viant/afs"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/ifuryst/reelpost/internal/config"
	"github.com/ifuryst/reelpost/internal/service"
	"github.com/ifuryst/reelpost/internal/service/publisher"
	"github.com/ifuryst/reelpost/internal/service/publisher/relay"
	"github.com/ifuryst/reelpost/internal/service/storage"
	"github.com/ifuryst/reelpost/pkg/secret"
)

type Server struct {
	Config *config.Config
	DB     *gorm.DB
	Router *gin.Engine
	Logger *zap.Logger
	Server *http.Server

	// Services
	Publisher  publisher.Client
	Content    *storage.ContentStore
	Sessions   *storage.SessionStore
	Gate       *service.SessionGate
	Accounts   *service.AccountService
	Configs    *service.ScheduleConfigService
	Posts      *service.PostService
	Monitoring *service.MonitoringService
	Scheduler  *service.Scheduler
	Executor   *service.Executor
	Janitor    *service.Janitor
	Auth       *service.AuthService
}

// Option overrides a dependency NewServer would otherwise build from config.
type Option func(*options)

type options struct {
	db        *gorm.DB
	fs        afs.Service
	publisher publisher.Client
}

func WithDB(db *gorm.DB) Option {
	return func(o *options) { o.db = db }
}

func WithFS(fs afs.Service) Option {
	return func(o *options) { o.fs = fs }
}

func WithPublisher(client publisher.Client) Option {
	return func(o *options) { o.publisher = client }
}

func NewServer(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Server, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	// Set gin mode
	gin.SetMode(cfg.Server.Mode)

	// Initialize database
	db := o.db
	if db == nil {
		var err error
		if db, err = service.NewDatabase(&cfg.Database); err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
	}

	box, err := secret.New(cfg.Security.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize secret box: %w", err)
	}

	fs := o.fs
	if fs == nil {
		fs = afs.New()
	}
	client := o.publisher
	if client == nil {
		client = relay.NewClient(&cfg.Publisher, logger)
	}

	// Initialize services
	content := storage.NewContentStore(fs, cfg.Content.BaseURL)
	sessions := storage.NewSessionStore(fs, cfg.Session.Dir)
	gate := service.NewSessionGate(sessions, client, logger)
	accounts := service.NewAccountService(db, box, content, logger)
	configs := service.NewScheduleConfigService(db)
	monitoring := service.NewMonitoringService(db, logger)
	scheduler := service.NewScheduler(cfg.Scheduler.Grace(), logger)

	executor := service.NewExecutor(service.ExecutorDeps{
		Jobs:      service.NewJobStore(db),
		Accounts:  accounts,
		Sessions:  gate,
		Content:   content,
		Publisher: client,
		Timers:    scheduler,
		Monitor:   monitoring,
		Logger:    logger,
		Timeout:   cfg.Publisher.RequestTimeout(),
	})

	posts := service.NewPostService(service.PostServiceDeps{
		DB:            db,
		Configs:       configs,
		Scheduler:     scheduler,
		Content:       content,
		MinSeparation: cfg.Scheduler.Separation(),
		Logger:        logger,
	})

	janitor, err := service.NewJanitor(posts, cfg.Scheduler.CleanupSchedule, cfg.Scheduler.Retention(), logger)
	if err != nil {
		return nil, err
	}

	// Create router
	router := gin.New()

	// Create server
	srv := &Server{
		Config:     cfg,
		DB:         db,
		Router:     router,
		Logger:     logger,
		Publisher:  client,
		Content:    content,
		Sessions:   sessions,
		Gate:       gate,
		Accounts:   accounts,
		Configs:    configs,
		Posts:      posts,
		Monitoring: monitoring,
		Scheduler:  scheduler,
		Executor:   executor,
		Janitor:    janitor,
		Auth:       service.NewAuthService(logger, cfg.Auth.TOTPSecret),
	}

	// Setup middleware and routes
	srv.setupMiddleware()
	srv.setupRoutes()

	srv.Server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	return srv, nil
}

func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.Router.Use(gin.Recovery())

	// Logger middleware
	s.Router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.Logger.Debug("HTTP request",
			zap.String("client_ip", c.ClientIP()),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	})

	// Rate limit middleware
	if s.Config.Auth.RateLimit > 0 {
		limiter := rate.NewLimiter(rate.Limit(s.Config.Auth.RateLimit), s.Config.Auth.RateBurst)
		s.Router.Use(func(c *gin.Context) {
			if !limiter.Allow() {
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
				return
			}
			c.Next()
		})
	}

	// CORS middleware
	s.Router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	s.Router.Use(s.Auth.AuthMiddleware())
}

func (s *Server) setupRoutes() {
	// Health check
	s.Router.GET("/health", s.handleHealth)

	// API routes
	api := s.Router.Group("/api/v1")
	{
		api.GET("/health", s.handleHealth)
		api.POST("/auth/login", s.handleLogin)

		posts := api.Group("/posts")
		{
			posts.GET("", s.handleListPosts)
			posts.POST("", s.handleSubmitPost)
			posts.GET("/:id", s.handleGetPost)
			posts.DELETE("/:id", s.handleCancelPost)
			posts.POST("/cleanup-failed", s.handleCleanupFailed)
		}

		api.POST("/content", s.handleUploadContent)

		accounts := api.Group("/accounts")
		{
			accounts.GET("", s.handleListAccounts)
			accounts.POST("", s.handleCreateAccount)
			accounts.DELETE("/:id", s.handleDeleteAccount)
			accounts.PUT("/:id/active", s.handleSetAccountActive)
			accounts.GET("/:id/session", s.handleVerifySession)
		}

		api.GET("/schedule-config", s.handleGetScheduleConfig)
		api.PUT("/schedule-config", s.handleUpdateScheduleConfig)

		api.GET("/stats", s.handleStats)
		api.GET("/errors", s.handleListErrors)
		api.POST("/errors/:id/resolve", s.handleResolveError)
	}
}

// Start arms the scheduler and replays pending posts before the listener opens.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Scheduler.Start(ctx, s.Executor); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	s.Janitor.Start(ctx)

	report, err := s.Posts.ReconcileOnStartup(ctx)
	if err != nil {
		return fmt.Errorf("failed to reconcile pending posts: %w", err)
	}
	s.Logger.Info("Pending posts reconciled",
		zap.Int("scheduled", report.Scheduled),
		zap.Int("fired", report.Fired),
		zap.Int("failed", report.Failed))

	s.Logger.Info("Starting HTTP server", zap.String("addr", s.Server.Addr))

	if s.Config.Server.CertFile != "" && s.Config.Server.KeyFile != "" {
		err = s.Server.ListenAndServeTLS(s.Config.Server.CertFile, s.Config.Server.KeyFile)
	} else {
		err = s.Server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop taking submissions before the scheduler goes away
	httpErr := s.Server.Shutdown(shutdownCtx)

	s.Janitor.Stop()

	if err := s.Scheduler.Stop(shutdownCtx); err != nil {
		s.Logger.Warn("Scheduler did not drain in time", zap.Error(err))
	}
	return httpErr
}
