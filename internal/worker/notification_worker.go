package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/metrics"
	"github.com/stemsi/exstem-session/internal/notify"
)

const (
	NotifyBatchTimeout = 2 * time.Second
	NotifyPollTimeout  = 1 * time.Second
)

// NotificationWorker drains the Redis notification queue into the broker.
type NotificationWorker struct {
	rdb           *redis.Client
	pub           notify.Publisher
	batchSize     int
	maxDeliveries int
	log           zerolog.Logger
}

func NewNotificationWorker(rdb *redis.Client, pub notify.Publisher, batchSize, maxDeliveries int, log zerolog.Logger) *NotificationWorker {
	if batchSize <= 0 {
		batchSize = 1
	}
	if maxDeliveries <= 0 {
		maxDeliveries = 1
	}
	return &NotificationWorker{
		rdb:           rdb,
		pub:           pub,
		batchSize:     batchSize,
		maxDeliveries: maxDeliveries,
		log:           log.With().Str("component", "notification_worker").Logger(),
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

func (w *NotificationWorker) Start(ctx context.Context) {
	w.log.Info().Msg("NotificationWorker started")

	batch := make([]*notify.Envelope, 0, w.batchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= w.batchSize || time.Since(lastFlush) >= NotifyBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining events...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, NotifyPollTimeout, config.WorkerKey.NotificationQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var env notify.Envelope
			if err := json.Unmarshal([]byte(item[1]), &env); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch = append(batch, &env)
		}
	}
}

// ----------------------------------------------------------------
// Publish with bounded redelivery
// ----------------------------------------------------------------

func (w *NotificationWorker) flushSafe(ctx context.Context, batch []*notify.Envelope) {
	for _, env := range batch {
		env.Deliveries++
		if err := w.pub.Publish(ctx, env.Event); err != nil {
			w.retryOrDrop(ctx, env, err)
			continue
		}
		metrics.Notifications.WithLabelValues("published").Inc()
	}
}

func (w *NotificationWorker) retryOrDrop(ctx context.Context, env *notify.Envelope, cause error) {
	l := w.log.With().
		Str("event", string(env.Event.Type)).
		Str("session_id", env.Event.SessionID.String()).
		Int("deliveries", env.Deliveries).
		Logger()

	if env.Deliveries >= w.maxDeliveries {
		l.Error().Err(cause).Msg("Publish failed, dropping event")
		metrics.Notifications.WithLabelValues("dropped").Inc()
		return
	}

	raw, err := json.Marshal(env)
	if err != nil {
		l.Error().Err(err).Msg("Marshal envelope failed, dropping event")
		metrics.Notifications.WithLabelValues("dropped").Inc()
		return
	}
	l.Warn().Err(cause).Msg("Publish failed, requeueing")
	if err := w.rdb.RPush(ctx, config.WorkerKey.NotificationQueue, raw).Err(); err != nil {
		l.Error().Err(err).Msg("Requeue failed, dropping event")
		metrics.Notifications.WithLabelValues("dropped").Inc()
		return
	}
	metrics.Notifications.WithLabelValues("requeued").Inc()
}
