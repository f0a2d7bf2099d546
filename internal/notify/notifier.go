package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/metrics"
	"github.com/stemsi/exstem-session/internal/model"
)

// Envelope is the queued form of an event.
type Envelope struct {
	Event      model.SessionEvent `json:"event"`
	Deliveries int                `json:"deliveries"`
}

// QueueNotifier pushes events onto the Redis notification queue, where the
// notification worker relays them to the broker. The push runs on its own
// goroutine so a slow or unreachable Redis never holds up the caller.
type QueueNotifier struct {
	rdb     *redis.Client
	timeout time.Duration
	log     zerolog.Logger
}

// NewQueueNotifier creates a new QueueNotifier.
func NewQueueNotifier(rdb *redis.Client, log zerolog.Logger) *QueueNotifier {
	return &QueueNotifier{
		rdb:     rdb,
		timeout: time.Second,
		log:     log.With().Str("component", "queue_notifier").Logger(),
	}
}

func (n *QueueNotifier) Notify(ctx context.Context, ev model.SessionEvent) {
	raw, err := json.Marshal(Envelope{Event: ev})
	if err != nil {
		n.log.Error().Err(err).Msg("Marshal event failed")
		metrics.Notifications.WithLabelValues("dropped").Inc()
		return
	}

	// The caller's request may end before the push does.
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, n.timeout)
		defer cancel()
		if err := n.rdb.RPush(ctx, config.WorkerKey.NotificationQueue, raw).Err(); err != nil {
			n.log.Warn().Err(err).Str("event", string(ev.Type)).Msg("Enqueue event failed")
			metrics.Notifications.WithLabelValues("dropped").Inc()
			return
		}
		metrics.Notifications.WithLabelValues("queued").Inc()
	}()
}

// DirectNotifier publishes each event from its own goroutine. It is used when
// Redis is not configured.
type DirectNotifier struct {
	pub     Publisher
	timeout time.Duration
	log     zerolog.Logger
}

// NewDirectNotifier creates a new DirectNotifier.
func NewDirectNotifier(pub Publisher, log zerolog.Logger) *DirectNotifier {
	return &DirectNotifier{
		pub:     pub,
		timeout: 5 * time.Second,
		log:     log.With().Str("component", "direct_notifier").Logger(),
	}
}

func (n *DirectNotifier) Notify(ctx context.Context, ev model.SessionEvent) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, n.timeout)
		defer cancel()
		if err := n.pub.Publish(ctx, ev); err != nil {
			n.log.Warn().Err(err).Str("event", string(ev.Type)).Msg("Publish event failed")
			metrics.Notifications.WithLabelValues("failed").Inc()
			return
		}
		metrics.Notifications.WithLabelValues("published").Inc()
	}()
}
