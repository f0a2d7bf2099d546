package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeExpirer struct {
	batches []int
	err     error
	calls   int
	grace   time.Duration
	limit   int
}

func (f *fakeExpirer) ExpireOverdue(_ context.Context, grace time.Duration, limit int) (int, error) {
	f.grace, f.limit = grace, limit
	i := f.calls
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	if i >= len(f.batches) {
		return 0, nil
	}
	return f.batches[i], nil
}

func TestTimeoutSweeper_Sweep(t *testing.T) {
	tests := []struct {
		name      string
		limit     int
		batches   []int
		err       error
		wantTotal int
		wantCalls int
	}{
		{"nothing overdue", 10, nil, nil, 0, 1},
		{"partial batch", 10, []int{4}, nil, 4, 1},
		{"full batches repeat", 10, []int{10, 10, 3}, nil, 23, 3},
		{"full batch then empty", 5, []int{5}, nil, 5, 2},
		{"unlimited runs once", 0, []int{50}, nil, 50, 1},
		{"store failure", 10, nil, errors.New("db down"), 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp := &fakeExpirer{batches: tt.batches, err: tt.err}
			w := NewTimeoutSweeper(exp, "@every 1m", 10*time.Minute, tt.limit, zerolog.Nop())

			if got := w.Sweep(context.Background()); got != tt.wantTotal {
				t.Errorf("Sweep = %d, want %d", got, tt.wantTotal)
			}
			if exp.calls != tt.wantCalls {
				t.Errorf("ExpireOverdue calls = %d, want %d", exp.calls, tt.wantCalls)
			}
			if exp.grace != 10*time.Minute || exp.limit != tt.limit {
				t.Errorf("called with grace %v limit %d", exp.grace, exp.limit)
			}
		})
	}
}

func TestTimeoutSweeper_CancelledContext(t *testing.T) {
	exp := &fakeExpirer{batches: []int{1}}
	w := NewTimeoutSweeper(exp, "@every 1m", time.Minute, 10, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got := w.Sweep(ctx); got != 0 || exp.calls != 0 {
		t.Errorf("Sweep on cancelled ctx = %d after %d calls, want no work", got, exp.calls)
	}
}

func TestTimeoutSweeper_StartStops(t *testing.T) {
	w := NewTimeoutSweeper(&fakeExpirer{}, "@every 1h", time.Minute, 10, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestTimeoutSweeper_InvalidSchedule(t *testing.T) {
	w := NewTimeoutSweeper(&fakeExpirer{}, "not a schedule", time.Minute, 10, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		w.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Start blocked with an invalid schedule")
	}
}
