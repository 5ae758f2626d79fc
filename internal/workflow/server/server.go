package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/flowvault/flowvault/internal/archive"
	"github.com/flowvault/flowvault/internal/audit"
	billingpg "github.com/flowvault/flowvault/internal/billing/adapters/repository/postgres"
	billingservice "github.com/flowvault/flowvault/internal/billing/app/service"
	"github.com/flowvault/flowvault/internal/credential"
	"github.com/flowvault/flowvault/internal/platform/cache"
	"github.com/flowvault/flowvault/internal/platform/config"
	"github.com/flowvault/flowvault/internal/platform/database"
	"github.com/flowvault/flowvault/internal/platform/logger"
	"github.com/flowvault/flowvault/internal/platform/messaging/kafka"
	"github.com/flowvault/flowvault/internal/platform/metrics"
	"github.com/flowvault/flowvault/internal/platform/middleware"
	"github.com/flowvault/flowvault/internal/platform/telemetry"
	"github.com/flowvault/flowvault/internal/remote"
	"github.com/flowvault/flowvault/internal/shared/events"
	syncsched "github.com/flowvault/flowvault/internal/sync"
	"github.com/flowvault/flowvault/internal/workflow/adapters/http/handlers"
	"github.com/flowvault/flowvault/internal/workflow/adapters/repository/postgres"
	"github.com/flowvault/flowvault/internal/workflow/app/service"
)

// Server wires the snapshot service: database, cache, messaging, the
// application services and the HTTP surface.
type Server struct {
	config    *config.Config
	logger    logger.Logger
	telemetry *telemetry.Telemetry
	metrics   *metrics.Metrics

	httpServer *http.Server
	db         *database.DB
	cache      *cache.RedisCache
	publisher  *kafka.Publisher

	snapshotService *service.SnapshotService
	rollbackService *service.RollbackService
	workflowService *service.WorkflowService
	scheduler       *syncsched.Scheduler
	runScheduler    bool
}

// Option is a server configuration option
type Option func(*Server)

// WithConfig sets the server config
func WithConfig(cfg *config.Config) Option {
	return func(s *Server) {
		s.config = cfg
	}
}

// WithLogger sets the server logger
func WithLogger(log logger.Logger) Option {
	return func(s *Server) {
		s.logger = log
	}
}

// WithScheduler enables the embedded sync scheduler. The API and sync
// deployments share this wiring; only this flag differs.
func WithScheduler() Option {
	return func(s *Server) {
		s.runScheduler = true
	}
}

// New creates a new server instance
func New(opts ...Option) (*Server, error) {
	s := &Server{}

	for _, opt := range opts {
		opt(s)
	}

	if err := s.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}

	return s, nil
}

func (s *Server) initialize() error {
	tel, err := telemetry.New(s.config.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	s.telemetry = tel

	s.metrics = metrics.New("flowvault")

	db, err := database.New(s.config.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	s.db = db

	if err := db.Migrate(context.Background()); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	redisCache, err := cache.New(s.config.Redis, "flowvault")
	if err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	s.cache = redisCache

	var dispatcher events.Dispatcher = kafka.NopDispatcher{}
	if s.config.Kafka.Enabled {
		publisher, err := kafka.NewPublisher(kafka.Config{
			Brokers:     s.config.Kafka.Brokers,
			TopicPrefix: s.config.Kafka.TopicPrefix,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize kafka publisher: %w", err)
		}
		s.publisher = publisher
		dispatcher = publisher
	}

	archiver, err := archive.NewS3Archiver(context.Background(), s.config.Archive, s.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize archiver: %w", err)
	}

	encryptor, err := credential.NewEncryptor(s.config.Crypto)
	if err != nil {
		return fmt.Errorf("failed to initialize encryptor: %w", err)
	}
	credentialStore := credential.NewStore(db, encryptor)

	workflowRepo := postgres.NewWorkflowRepository(db)
	versionRepo := postgres.NewVersionRepository(db)
	overageRepo := billingpg.NewOverageRepository(db)

	auditSink := audit.NewPostgresSink(db, s.logger)
	gateway := remote.NewClient(s.config.Remote, remote.WithMetrics(s.metrics))

	quotaGuard := billingservice.NewQuotaGuard(
		&billingservice.StaticPlanProvider{
			WorkflowLimit: s.config.Quota.DefaultWorkflowLimit,
			SnapshotLimit: s.config.Quota.DefaultSnapshotLimit,
		},
		overageRepo,
		s.metrics,
		s.logger,
	)

	s.snapshotService = service.NewSnapshotService(
		workflowRepo, versionRepo, gateway, credentialStore, quotaGuard,
		auditSink, dispatcher, archiver, s.metrics, s.logger,
	)
	s.rollbackService = service.NewRollbackService(
		workflowRepo, versionRepo, gateway, credentialStore,
		auditSink, dispatcher, archiver, s.metrics, s.logger,
	)
	s.workflowService = service.NewWorkflowService(
		workflowRepo, versionRepo, gateway, credentialStore,
		s.snapshotService, quotaGuard, s.config.Quota.EnforceWorkflowLimit,
		auditSink, dispatcher, s.metrics, s.logger,
	)

	if s.runScheduler {
		s.scheduler = syncsched.NewScheduler(
			workflowRepo, s.snapshotService, redisCache,
			s.config.Sync, s.metrics, s.logger,
		)
	}

	s.setupHTTPServer(credentialStore)
	return nil
}

func (s *Server) setupHTTPServer(credentialStore *credential.Store) {
	router := mux.NewRouter()

	router.Use(middleware.Logging(s.logger))
	router.Use(middleware.Recovery(s.logger))
	router.Use(s.metrics.HTTPMiddleware)

	authMiddleware := middleware.NewAuthMiddleware([]byte(s.config.Auth.JWTSecret))
	router.Use(authMiddleware.Middleware)

	router.HandleFunc("/health/live", s.handleLiveness).Methods("GET")
	router.HandleFunc("/health/ready", s.handleReadiness).Methods("GET")
	router.Handle("/metrics", s.metrics.Handler()).Methods("GET")

	apiRouter := router.PathPrefix("/api/v1").Subrouter()

	workflowHandler := handlers.NewWorkflowHandler(
		s.workflowService, s.snapshotService, s.rollbackService, s.logger,
	)
	workflowHandler.RegisterRoutes(apiRouter)

	credentialHandler := handlers.NewCredentialHandler(credentialStore, s.logger)
	credentialHandler.RegisterRoutes(apiRouter)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.HTTP.Port),
		Handler:      router,
		ReadTimeout:  s.config.HTTP.ReadTimeout,
		WriteTimeout: s.config.HTTP.WriteTimeout,
		IdleTimeout:  s.config.HTTP.IdleTimeout,
	}
}

// Start starts the HTTP server and, when enabled, the sync scheduler
func (s *Server) Start() error {
	if s.scheduler != nil {
		if err := s.scheduler.Start(context.Background()); err != nil {
			return fmt.Errorf("failed to start sync scheduler: %w", err)
		}
	}

	s.logger.Info("starting HTTP server", "port", s.config.HTTP.Port)
	return s.httpServer.ListenAndServe()
}

// Handler returns the HTTP handler, for tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Scheduler returns the embedded sync scheduler, nil when not enabled
func (s *Server) Scheduler() *syncsched.Scheduler {
	return s.scheduler
}

// Shutdown gracefully shuts down the server and its dependencies
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	if s.scheduler != nil {
		if err := s.scheduler.Stop(); err != nil {
			s.logger.Error("scheduler stop error", "error", err)
		}
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Error("kafka publisher close error", "error", err)
		}
	}

	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		}
	}

	if s.telemetry != nil {
		if err := s.telemetry.Close(); err != nil {
			s.logger.Error("telemetry close error", "error", err)
		}
	}

	return nil
}

// Health check handlers

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"alive"}`)
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if err := s.db.HealthCheck(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, `{"status":"not ready","error":"%s"}`, err.Error())
		return
	}
	if err := s.cache.HealthCheck(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, `{"status":"not ready","error":"%s"}`, err.Error())
		return
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ready"}`)
}
