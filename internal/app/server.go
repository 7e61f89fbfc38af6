// internal/app/server.go
package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"jsonapi-service/internal/audit"
	"jsonapi-service/internal/authz"
	"jsonapi-service/internal/config"
	"jsonapi-service/internal/db"
	authHandler "jsonapi-service/internal/handlers/auth"
	resourceHandler "jsonapi-service/internal/handlers/resource"
	"jsonapi-service/internal/middleware"
	"jsonapi-service/internal/pkg/crypt"
	"jsonapi-service/internal/pkg/session"
	"jsonapi-service/internal/pkg/token"
	"jsonapi-service/internal/policy"
	"jsonapi-service/internal/resource"
	"jsonapi-service/internal/schema"
	authUsecase "jsonapi-service/internal/service/auth"
	"jsonapi-service/internal/storage"
)

type Server struct {
	cfg    config.AppConfig
	engine *gin.Engine
	logger *zap.Logger

	pool        *pgxpool.Pool
	redisClient *redis.Client
	authService *authUsecase.AuthService
}

func NewServer() *Server {
	cfg := config.Load()
	engine := gin.New()
	return &Server{cfg: cfg, engine: engine}
}

func (s *Server) Start() error {
	ctx := context.Background()

	// ----- Logger -----
	logger, _ := zap.NewProduction()
	defer logger.Sync()
	s.logger = logger

	// ----- PostgreSQL -----
	pool, err := db.ConnectDB(ctx, s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	s.pool = pool

	// ----- Redis -----
	redisClient, err := db.NewRedisClient(db.RedisConfig{
		Addr:     s.cfg.RedisAddr,
		Password: s.cfg.RedisPass,
		DB:       0,
		PoolSize: 10,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	s.redisClient = redisClient

	// ----- Schema & Policy -----
	desc, err := schema.Default()
	if err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	policyTable := policy.New(desc, policy.WithFilterRoles(s.cfg.FilterRoles...))

	// ----- Storage -----
	store := storage.NewPostgres(pool, desc, logger)

	// ----- Sessions & Encryption -----
	keystore := crypt.NewKeystore(redisClient, s.cfg.KeyTTL, logger)
	cipher := crypt.New(keystore, s.cfg.EncryptionEnabled, logger)
	codec := token.NewCodec(s.cfg.TokenSecret, s.cfg.TokenTTL)
	sessionStore := session.NewStore(store)
	sessionManager := session.NewManager(codec, sessionStore, session.NewCache(), keystore, logger)

	// ----- Authorization -----
	authorizer := authz.New(policyTable, desc, sessionManager, store, logger)

	// ----- Audit -----
	auditLogger := audit.NewLogger(redisClient, s.cfg.AuditStream, logger)

	// ----- Services -----
	authService := authUsecase.NewAuthService(store, sessionManager, logger)
	s.authService = authService

	// ----- Initialize Sysadmin -----
	if err := s.initializeSysadmin(); err != nil {
		logger.Error("failed to initialize sysadmin", zap.Error(err))
		// Don't fail startup, just log the error
	}

	// ----- Handlers -----
	router := resource.NewRouter(store, desc, logger)
	authHandlerInst := authHandler.NewAuthHandler(authService, auditLogger, logger)
	resourceHandlerInst := resourceHandler.NewHandler(
		router,
		authorizer,
		sessionManager,
		authService,
		cipher,
		auditLogger,
		logger,
	)

	// ----- Middlewares -----
	s.engine.Use(
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingMiddleware(logger),
		middleware.CORSMiddleware(),
	)

	// ----- Router -----
	SetupRouter(s.engine, logger, &Handlers{
		AuthHandler:     authHandlerInst,
		ResourceHandler: resourceHandlerInst,
	})

	// ----- Start HTTP -----
	log.Printf("server running on %s", s.cfg.HTTPAddr)
	return s.engine.Run(s.cfg.HTTPAddr)
}

// Shutdown releases the storage connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.redisClient != nil {
		return s.redisClient.Close()
	}
	return nil
}

// initializeSysadmin seeds the bootstrap account from the environment.
func (s *Server) initializeSysadmin() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	email := os.Getenv("SYSADMIN_EMAIL")
	password := os.Getenv("SYSADMIN_PASSWORD")
	name := os.Getenv("SYSADMIN_NAME")
	if name == "" {
		name = "System Administrator"
	}
	if password != "" && len(password) < 8 {
		return fmt.Errorf("sysadmin password must be at least 8 characters")
	}

	return s.authService.EnsureSysadminExists(ctx, email, password, name)
}
