package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/Erenimo3442/GroupChatting/internal/auth"
	"github.com/Erenimo3442/GroupChatting/internal/config"
	"github.com/Erenimo3442/GroupChatting/internal/event"
	handler "github.com/Erenimo3442/GroupChatting/internal/handler/http"
	"github.com/Erenimo3442/GroupChatting/internal/hub"
	"github.com/Erenimo3442/GroupChatting/internal/repository/mongodb"
	"github.com/Erenimo3442/GroupChatting/internal/repository/postgres"
	"github.com/Erenimo3442/GroupChatting/internal/service"
	"github.com/Erenimo3442/GroupChatting/internal/storage/local"
	"github.com/Erenimo3442/GroupChatting/migrations"
	"github.com/Erenimo3442/GroupChatting/pkg/database"
	"github.com/Erenimo3442/GroupChatting/pkg/health"
	pkgkafka "github.com/Erenimo3442/GroupChatting/pkg/kafka"
	"github.com/Erenimo3442/GroupChatting/pkg/middleware"
	"github.com/Erenimo3442/GroupChatting/pkg/tracing"
)

// App wires together all dependencies and runs the chat service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	mongoClient    *mongo.Client
	redisClient    *redis.Client
	producer       *pkgkafka.Producer
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "chat",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Initialize PostgreSQL connection pool.
	pgCfg := database.PostgresConfig{
		Host:            cfg.PostgresHost,
		Port:            cfg.PostgresPort,
		User:            cfg.PostgresUser,
		Password:        cfg.PostgresPass,
		DBName:          cfg.PostgresDB,
		SSLMode:         cfg.PostgresSSL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Duration(cfg.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(cfg.DBMaxConnIdleTimeMins) * time.Minute,
	}

	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Connect to MongoDB for the message store.
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := mongoClient.Ping(ctx, readpref.Primary()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	logger.Info("connected to MongoDB", slog.String("database", cfg.MongoDB))

	messageRepo := mongodb.NewMessageRepository(mongoClient.Database(cfg.MongoDB))
	if err := messageRepo.EnsureIndexes(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure message indexes: %w", err)
	}

	// Optional Redis cache for membership checks.
	var redisClient *redis.Client
	if cfg.RedisEnabled {
		redisClient, err = database.NewRedisClient(ctx, database.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			// Membership checks degrade to the database, so a missing
			// cache does not block startup.
			logger.Warn("redis unavailable, membership cache disabled",
				slog.String("addr", cfg.RedisAddr),
				slog.String("error", err.Error()),
			)
			redisClient = nil
		} else {
			logger.Info("connected to Redis", slog.String("addr", cfg.RedisAddr))
		}
	}

	// Initialize Kafka producer.
	kafkaCfg := pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers)
	producer := pkgkafka.NewProducer(kafkaCfg, logger)
	logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))

	// File storage for message attachments.
	store, err := local.New(cfg.UploadDir, cfg.UploadBaseURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init file storage: %w", err)
	}

	// Build the dependency graph.
	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.AccessExpiry(), cfg.RefreshExpiry())
	userRepo := postgres.NewUserRepository(pool)
	groupRepo := postgres.NewGroupRepository(pool)
	membershipRepo := postgres.NewMembershipRepository(pool)
	refreshTokenRepo := postgres.NewRefreshTokenRepository(pool)
	eventProducer := event.NewProducer(producer, logger)

	userService := service.NewUserService(userRepo, refreshTokenRepo, jwtManager, eventProducer, logger)
	groupService := service.NewGroupService(groupRepo, membershipRepo, userRepo, redisClient, eventProducer, logger)

	chatHub := hub.New(groupService, hub.NewMetrics(prometheus.DefaultRegisterer), logger)
	messageService := service.NewMessageService(messageRepo, userRepo, groupService, store, chatHub, eventProducer, logger)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.RegisterCritical("mongodb", func(ctx context.Context) error {
		return mongoClient.Ping(ctx, readpref.Primary())
	})
	if redisClient != nil {
		healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
		return producer.Ping(ctx)
	})

	// HTTP router.
	router := handler.NewRouter(
		userService, groupService, messageService, chatHub,
		jwtManager, healthHandler, logger,
		handler.RouterConfig{
			CORS: middleware.CORSConfig{
				AllowedOrigins: cfg.CORSAllowedOrigins,
				Environment:    cfg.Environment,
			},
			MaxUploadSize: cfg.MaxUploadSize,
		},
	)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		// Long-lived websocket connections are hijacked from the server
		// before the write deadline applies.
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		mongoClient:    mongoClient,
		redisClient:    redisClient,
		producer:       producer,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests, drop websocket sessions)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka producer
// 4. Redis, MongoDB, and PostgreSQL connections
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests (5s budget).
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 2. Flush pending spans after HTTP drain so in-flight request spans are captured.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 3. Close Kafka producer.
	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 4. Close datastore connections.
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	mongoCtx, mongoCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer mongoCancel()
	if err := a.mongoClient.Disconnect(mongoCtx); err != nil {
		a.logger.Error("mongodb disconnect error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
