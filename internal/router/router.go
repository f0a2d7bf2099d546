package router

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/handler"
	"github.com/stemsi/exstem-session/internal/metrics"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	ExamSession *handler.ExamSessionHandler
	WS          *handler.WSHandler
	Health      *handler.HealthHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// authService may be nil, which disables the identity check. ctx bounds the
// background work of the rate limiter.
func SetupRouter(
	ctx context.Context,
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.Metrics())
	router.Use(middleware.Brotli())

	router.GET("/health", handlers.Health.Health)
	router.GET("/metrics", metrics.Handler())

	limiter := middleware.NewRateLimiter(ctx, cfg.RateLimitPerMinute, time.Minute)

	// ─── 1. Exam Session Group (Identity + Rate Limited) ───────────────
	sessionAPI := router.Group("/api/exam-session")
	sessionAPI.Use(limiter.Middleware())
	sessionAPI.Use(middleware.RequireIdentity(authService))
	sessionAPI.Use(middleware.NoStore())
	{
		sessionAPI.GET("/available", handlers.ExamSession.ListAvailable)

		sessionAPI.GET("/:exam_id/status", handlers.ExamSession.GetStatus)
		sessionAPI.GET("/:exam_id/countdown", handlers.ExamSession.GetCountdown)
		sessionAPI.GET("/:exam_id/can-take", handlers.ExamSession.CanTake)
		sessionAPI.GET("/:exam_id/attempts", handlers.ExamSession.GetAttempts)
		sessionAPI.POST("/:exam_id/start", handlers.ExamSession.StartExam)
		sessionAPI.GET("/:exam_id/paper", handlers.ExamSession.GetPaper)
		sessionAPI.GET("/:exam_id/remaining-time", handlers.ExamSession.GetRemainingTime)
		sessionAPI.POST("/:exam_id/submit", handlers.ExamSession.SubmitExam)
		sessionAPI.GET("/:exam_id/result", handlers.ExamSession.GetResult)
	}

	// ─── 2. WebSocket Group (Identity via ?token=) ─────────────────────
	ws := router.Group("/ws/exam-session")
	ws.Use(middleware.RequireIdentity(authService))
	{
		ws.GET("/:exam_id/stream", handlers.WS.ExamSessionStream)
	}

	return router
}
