package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
)

type chanPublisher struct {
	events chan model.SessionEvent
	err    error
	// ctxErr, when set, receives the publish context's error.
	ctxErr chan error
}

func (p *chanPublisher) Publish(ctx context.Context, ev model.SessionEvent) error {
	if p.ctxErr != nil {
		p.ctxErr <- ctx.Err()
	}
	p.events <- ev
	return p.err
}

func (p *chanPublisher) Close() error { return nil }

func TestDirectNotifier(t *testing.T) {
	for _, pubErr := range []error{nil, errors.New("broker down")} {
		pub := &chanPublisher{events: make(chan model.SessionEvent, 1), err: pubErr}
		n := NewDirectNotifier(pub, zerolog.Nop())

		ctx, cancel := context.WithCancel(context.Background())
		ev := model.SessionEvent{Type: model.EventSessionStarted, SessionID: uuid.New()}
		n.Notify(ctx, ev)
		cancel()

		select {
		case got := <-pub.events:
			if got.SessionID != ev.SessionID {
				t.Errorf("published %s, want %s", got.SessionID, ev.SessionID)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("event not published (publisher error %v)", pubErr)
		}
	}
}

func TestDirectNotifierOutlivesCallerContext(t *testing.T) {
	release := make(chan struct{})
	pub := &chanPublisher{events: make(chan model.SessionEvent, 1), ctxErr: make(chan error, 1)}
	n := NewDirectNotifier(blockingPublisher{pub, release}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	n.Notify(ctx, model.SessionEvent{Type: model.EventResultSubmitted, SessionID: uuid.New()})
	cancel()
	close(release)

	select {
	case err := <-pub.ctxErr:
		if err != nil {
			t.Errorf("publish context error = %v after caller cancelled, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("event not published")
	}
}

// blockingPublisher waits for release before publishing.
type blockingPublisher struct {
	*chanPublisher
	release chan struct{}
}

func (p blockingPublisher) Publish(ctx context.Context, ev model.SessionEvent) error {
	<-p.release
	return p.chanPublisher.Publish(ctx, ev)
}

// stalledRedis accepts connections and never answers.
func stalledRedis(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	return ln.Addr().String()
}

func TestQueueNotifierDoesNotBlock(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: stalledRedis(t), MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })

	n := NewQueueNotifier(rdb, zerolog.Nop())
	n.timeout = 300 * time.Millisecond

	start := time.Now()
	for i := 0; i < 5; i++ {
		n.Notify(context.Background(), model.SessionEvent{Type: model.EventResultSubmitted, SessionID: uuid.New()})
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Notify blocked for %v with Redis unresponsive", elapsed)
	}
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher(zerolog.New(&buf))

	ev := model.SessionEvent{
		Type:      model.EventSessionTimedOut,
		ExamID:    uuid.New(),
		SessionID: uuid.New(),
		UserEmail: "siswa@example.com",
	}
	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["event"] != string(model.EventSessionTimedOut) || line["session_id"] != ev.SessionID.String() {
		t.Errorf("log line = %v", line)
	}
	if line["component"] != "log_publisher" {
		t.Errorf("component = %v", line["component"])
	}
}
