package worker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/notify"
)

type stubPublisher struct {
	mu        sync.Mutex
	err       error
	published []model.SessionEvent
}

func (p *stubPublisher) Publish(_ context.Context, ev model.SessionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, ev)
	return nil
}

func (p *stubPublisher) Close() error { return nil }

func envelopes(n int) []*notify.Envelope {
	out := make([]*notify.Envelope, n)
	for i := range out {
		out[i] = &notify.Envelope{Event: model.SessionEvent{
			Type:      model.EventResultSubmitted,
			SessionID: uuid.New(),
		}}
	}
	return out
}

func TestNotificationWorker_FlushPublishes(t *testing.T) {
	pub := &stubPublisher{}
	w := NewNotificationWorker(nil, pub, 10, 3, zerolog.Nop())

	batch := envelopes(3)
	w.flushSafe(context.Background(), batch)

	if len(pub.published) != 3 {
		t.Fatalf("published %d events, want 3", len(pub.published))
	}
	for i, env := range batch {
		if env.Deliveries != 1 {
			t.Errorf("envelope %d deliveries = %d, want 1", i, env.Deliveries)
		}
		if pub.published[i].SessionID != env.Event.SessionID {
			t.Errorf("event %d out of order", i)
		}
	}
}

func TestNotificationWorker_DropsAfterMaxDeliveries(t *testing.T) {
	pub := &stubPublisher{err: errors.New("broker down")}
	// A nil Redis client would panic on requeue, so reaching the limit on the
	// first delivery proves the event is dropped rather than requeued.
	w := NewNotificationWorker(nil, pub, 10, 1, zerolog.Nop())

	batch := envelopes(2)
	w.flushSafe(context.Background(), batch)

	for i, env := range batch {
		if env.Deliveries != 1 {
			t.Errorf("envelope %d deliveries = %d, want 1", i, env.Deliveries)
		}
	}
}

func TestNewNotificationWorker_Defaults(t *testing.T) {
	w := NewNotificationWorker(nil, &stubPublisher{}, 0, -1, zerolog.Nop())
	if w.batchSize != 1 || w.maxDeliveries != 1 {
		t.Errorf("batchSize/maxDeliveries = %d/%d, want 1/1", w.batchSize, w.maxDeliveries)
	}
}
