package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"github.com/helix-sec/crucible/internal/aggregate"
	"github.com/helix-sec/crucible/internal/api"
	"github.com/helix-sec/crucible/internal/archive"
	"github.com/helix-sec/crucible/internal/auth"
	"github.com/helix-sec/crucible/internal/chread"
	"github.com/helix-sec/crucible/internal/eventstore"
	"github.com/helix-sec/crucible/internal/lifecycle"
	"github.com/helix-sec/crucible/internal/report"
	"github.com/helix-sec/crucible/internal/retention"
	"github.com/helix-sec/crucible/internal/scheduler"
	"github.com/helix-sec/crucible/internal/scorer"
	"github.com/helix-sec/crucible/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// Logger
	logger := mustBuildLogger(envOrDefault("CRUCIBLE_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Config from env
	httpPort := envOrDefault("CRUCIBLE_HTTP_PORT", "8080")
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")
	postgresDSN := os.Getenv("POSTGRES_DSN")
	redisAddr := os.Getenv("REDIS_ADDR")
	scorerURL := os.Getenv("SCORER_URL")
	staticKeys := os.Getenv("CRUCIBLE_STATIC_KEYS")
	authCacheTTL := envOrDefaultInt("CRUCIBLE_AUTH_CACHE_TTL_S", 30)
	scoreInterval := envOrDefaultInt("CRUCIBLE_SCORE_INTERVAL_S", 60)
	scoreBatch := envOrDefaultInt("CRUCIBLE_SCORE_BATCH", 10)
	leaseTTL := envOrDefaultInt("CRUCIBLE_SCORE_LEASE_TTL_S", 120)
	retentionDays := envOrDefaultInt("CRUCIBLE_RETENTION_DAYS", 90)
	archiveBucket := os.Getenv("CRUCIBLE_ARCHIVE_BUCKET")
	awsRegion := envOrDefault("AWS_REGION", "us-east-1")

	logger.Info("starting crucible server",
		zap.String("http_port", httpPort),
		zap.Int("score_interval_s", scoreInterval),
		zap.Int("score_batch", scoreBatch),
		zap.Int("retention_days", retentionDays),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Authoritative in-process state
	events := eventstore.NewMemoryStore()
	engine := aggregate.NewEngine()
	reports := report.NewStore()

	// Transition log — Postgres or in-memory fallback
	var (
		transitionLog lifecycle.TransitionLog
		db            *sql.DB
	)
	if postgresDSN != "" {
		var err error
		db, err = sql.Open("pgx", postgresDSN)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("failed to ping postgres", zap.Error(err))
		}
		pgLog, err := lifecycle.NewPostgresLog(db)
		if err != nil {
			logger.Fatal("failed to initialize transition log", zap.Error(err))
		}
		transitionLog = pgLog
		logger.Info("postgres transition log connected")
	} else {
		transitionLog = lifecycle.NewMemoryLog()
		logger.Info("no POSTGRES_DSN set, using in-memory transition log")
	}

	recorder := lifecycle.NewRecorder(transitionLog, lifecycle.NewStatusStore(), logger)
	if err := recorder.Rebuild(ctx); err != nil {
		logger.Fatal("failed to rebuild status projection", zap.Error(err))
	}

	// Telemetry mirror — ClickHouse or LogWriter fallback
	var writer storage.EventWriter
	if clickhouseDSN != "" {
		chWriter, err := storage.NewClickHouseWriter(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer",
				zap.Error(err),
			)
			writer = storage.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}
	} else {
		writer = storage.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log writer")
	}
	defer writer.Close()

	// ClickHouse reader (timeline/analytics HTTP endpoints)
	var chReader *chread.Reader
	if clickhouseDSN != "" {
		var err error
		chReader, err = chread.NewReader(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse reader connection failed", zap.Error(err))
		} else {
			defer func() { _ = chReader.Close() }()
			logger.Info("clickhouse reader connected")
		}
	}

	// Producer auth — Postgres-backed when available, otherwise static keys
	var authenticator auth.Authenticator
	if db != nil {
		authenticator = auth.NewPostgresAuthenticator(auth.PostgresAuthConfig{
			DB:       db,
			CacheTTL: time.Duration(authCacheTTL) * time.Second,
			Logger:   logger,
		})
		logger.Info("postgres producer auth enabled")
	} else {
		authenticator = auth.NewStaticAuthenticator(auth.ParseStaticKeys(staticKeys))
		logger.Info("static producer auth enabled")
	}

	// Scoring lease — Redis when available
	var lease scheduler.Lease
	if redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, using in-memory lease", zap.Error(err))
			lease = scheduler.NewMemoryLease(time.Duration(leaseTTL) * time.Second)
		} else {
			defer func() { _ = rdb.Close() }()
			lease = scheduler.NewRedisLease(rdb, time.Duration(leaseTTL)*time.Second)
			logger.Info("redis scoring lease enabled")
		}
	} else {
		lease = scheduler.NewMemoryLease(time.Duration(leaseTTL) * time.Second)
	}

	// Scoring scheduler
	if scorerURL != "" {
		client := scorer.NewHTTPClient(scorerURL, 10*time.Second, logger)
		sched := scheduler.New(recorder.Status(), recorder, client, reports, lease, scheduler.Config{
			Interval:  time.Duration(scoreInterval) * time.Second,
			BatchSize: scoreBatch,
		}, logger)
		go sched.Run(ctx)
		logger.Info("scoring scheduler started", zap.String("scorer_url", scorerURL))
	} else {
		logger.Warn("no SCORER_URL set, completed sessions will not be scored")
	}

	// Retention sweeper, with optional S3 archival
	var sink archive.Sink
	if archiveBucket != "" {
		s3Sink, err := archive.NewS3Sink(ctx, awsRegion, archiveBucket, 3, logger)
		if err != nil {
			logger.Warn("s3 archive sink unavailable, expiring without archival", zap.Error(err))
		} else {
			sink = s3Sink
			logger.Info("s3 archive sink enabled", zap.String("bucket", archiveBucket))
		}
	}
	sweeper := retention.New(events, transitionLog, engine, recorder, sink, retention.Config{
		Window: time.Duration(retentionDays) * 24 * time.Hour,
	}, logger)
	go sweeper.Run(ctx)

	// HTTP server
	deps := &api.Dependencies{
		Events:   events,
		Engine:   engine,
		Recorder: recorder,
		Reports:  reports,
		Writer:   writer,
		Reader:   chReader,
		Auth:     authenticator,
		Logger:   logger,
	}
	httpServer := &http.Server{
		Addr:         ":" + httpPort,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Block until shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	// Graceful shutdown: stop background loops, then drain HTTP
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	logger.Info("crucible server stopped")
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
