package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/database"
	"github.com/stemsi/exstem-session/internal/handler"
	"github.com/stemsi/exstem-session/internal/logger"
	"github.com/stemsi/exstem-session/internal/notify"
	"github.com/stemsi/exstem-session/internal/repository"
	"github.com/stemsi/exstem-session/internal/repository/memstore"
	"github.com/stemsi/exstem-session/internal/router"
	"github.com/stemsi/exstem-session/internal/scoring"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/validator"
	"github.com/stemsi/exstem-session/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("store", cfg.StoreDriver).
		Str("scoring_policy", cfg.ScoringPolicy).
		Msg("Starting ExStem Exam Session Engine")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	policy, err := scoring.ParsePolicy(cfg.ScoringPolicy)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid SCORING_MC_POLICY")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Initialize Store ──────────────────────────────────────────────
	var (
		exams    repository.ExamStore
		sessions repository.SessionStore
		db       handler.Pinger
	)
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		log.Warn().Msg("Using in-memory store, data is lost on restart")
		mem := memstore.New()
		exams, sessions = mem, mem

	default:
		pool, err := database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer pool.Close()
		exams = repository.NewExamRepository(pool)
		sessions = repository.NewExamSessionRepository(pool)
		db = pool
	}

	// ─── Connect to Redis (optional) ───────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// ─── Notification Publisher ────────────────────────────────────────
	var publisher notify.Publisher = notify.NewLogPublisher(log)
	if cfg.RabbitMQURL != "" {
		rp, err := notify.NewRabbitPublisher(cfg.RabbitMQURL, cfg.NotifyExchange)
		if err != nil {
			log.Error().Err(err).Msg("RabbitMQ unavailable, events will only be logged")
		} else {
			log.Info().Str("exchange", cfg.NotifyExchange).Msg("RabbitMQ publisher ready")
			publisher = rp
		}
	}
	defer publisher.Close()

	// ─── Initialize Services ──────────────────────────────────────────
	var (
		papers   service.PaperCache
		notifier service.Notifier
	)
	if rdb != nil {
		papers = service.NewRedisPaperCache(rdb, cfg.PaperCacheTTL)
		notifier = notify.NewQueueNotifier(rdb, log)
	} else {
		notifier = notify.NewDirectNotifier(publisher, log)
	}

	authService := service.NewAuthService(cfg.JWTSecret)
	if authService == nil {
		log.Warn().Msg("JWT_SECRET not set, identity check disabled")
	}

	sessionService := service.NewExamSessionService(
		exams,
		sessions,
		scoring.NewEngine(policy),
		papers,
		notifier,
		service.NewListingCache(cfg.ListingCacheSize, cfg.ListingCacheTTL),
		log,
	)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		ExamSession: handler.NewExamSessionHandler(sessionService, log),
		WS:          handler.NewWSHandler(sessionService, cfg.StreamTickInterval, log, cfg.AllowedOrigins),
		Health:      handler.NewHealthHandler(db, rdb, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	sweeper := worker.NewTimeoutSweeper(sessionService, cfg.SweepSchedule, cfg.SessionExpiryGrace, cfg.SweepBatchSize, log)
	workers.Add(1)
	go func() {
		defer workers.Done()
		sweeper.Start(workerCtx)
	}()

	if rdb != nil {
		startNotificationWorker(workerCtx, &workers, rdb, publisher, cfg, log)
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(ctx, authService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for the queue flush.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

func startNotificationWorker(ctx context.Context, wg *sync.WaitGroup, rdb *redis.Client, pub notify.Publisher, cfg *config.Config, log zerolog.Logger) {
	w := worker.NewNotificationWorker(rdb, pub, cfg.NotifyBatchSize, cfg.NotifyMaxDeliveries, log)
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Start(ctx)
	}()
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
