package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/response"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports dependency reachability and runtime figures.
type HealthHandler struct {
	db        Pinger
	rdb       *redis.Client
	startTime time.Time
	log       zerolog.Logger
}

// NewHealthHandler creates a new HealthHandler. db and rdb may be nil when
// the corresponding backend is not configured.
func NewHealthHandler(db Pinger, rdb *redis.Client, log zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		db:        db,
		rdb:       rdb,
		startTime: time.Now(),
		log:       log.With().Str("component", "health_handler").Logger(),
	}
}

type healthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
	Uptime string            `json:"uptime"`

	Goroutines        int    `json:"goroutines"`
	HeapAlloc         uint64 `json:"heapAlloc"`
	GoVersion         string `json:"goVersion"`
	NotificationQueue int64  `json:"notificationQueue"`
}

// Health godoc
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	report := healthReport{
		Status:    "ok",
		Checks:    map[string]string{},
		Uptime:    time.Since(h.startTime).Truncate(time.Second).String(),
		GoVersion: runtime.Version(),
	}

	if h.db != nil {
		report.Checks["database"] = checkResult(h.db.Ping(ctx))
	}
	if h.rdb != nil {
		report.Checks["redis"] = checkResult(h.rdb.Ping(ctx).Err())
		report.NotificationQueue, _ = h.rdb.LLen(ctx, config.WorkerKey.NotificationQueue).Result()
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	report.Goroutines = runtime.NumGoroutine()
	report.HeapAlloc = ms.HeapAlloc

	status := http.StatusOK
	for name, result := range report.Checks {
		if result != "ok" {
			h.log.Warn().Str("check", name).Str("result", result).Msg("Health check degraded")
			report.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	response.Success(c, status, report)
}

func checkResult(err error) string {
	if err != nil {
		return err.Error()
	}
	return "ok"
}
