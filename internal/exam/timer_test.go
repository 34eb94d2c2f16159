package exam

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestExamTimerTicksAndExpiresOnce(t *testing.T) {
	timer := NewExamTimer(5 * time.Millisecond)

	var mu sync.Mutex
	var ticks []int
	var expired atomic.Int32
	done := make(chan struct{})

	err := timer.Start(3, func(r int) {
		mu.Lock()
		ticks = append(ticks, r)
		mu.Unlock()
	}, func() {
		if expired.Add(1) == 1 {
			close(done)
		}
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not expire")
	}
	time.Sleep(30 * time.Millisecond)

	if n := expired.Load(); n != 1 {
		t.Fatalf("expiry fired %d times", n)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(ticks) != 3 || ticks[0] != 2 || ticks[2] != 0 {
		t.Fatalf("unexpected ticks: %v", ticks)
	}
	if timer.Remaining() != 0 || timer.Running() {
		t.Fatalf("expired timer should read 0 and be stopped")
	}
}

func TestExamTimerStartsOnce(t *testing.T) {
	timer := NewExamTimer(time.Hour)
	defer timer.Stop()

	if err := timer.Start(60, nil, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := timer.Start(60, nil, nil); !errors.Is(err, ErrTimerStarted) {
		t.Fatalf("expected ErrTimerStarted, got %v", err)
	}
	if timer.Remaining() != 60 {
		t.Fatalf("expected 60 remaining, got %d", timer.Remaining())
	}
}

func TestExamTimerStopSuppressesExpiry(t *testing.T) {
	timer := NewExamTimer(5 * time.Millisecond)
	var expired atomic.Int32

	if err := timer.Start(4, nil, func() { expired.Add(1) }); err != nil {
		t.Fatalf("start: %v", err)
	}
	timer.Stop()
	timer.Stop()

	time.Sleep(50 * time.Millisecond)
	if expired.Load() != 0 {
		t.Fatal("stopped timer must not expire")
	}
}

func TestExamTimerStopBeforeStart(t *testing.T) {
	timer := NewExamTimer(0)
	timer.Stop()
	if err := timer.Start(10, nil, nil); !errors.Is(err, ErrTimerStopped) {
		t.Fatalf("expected ErrTimerStopped, got %v", err)
	}
}

func TestExamTimerZeroExpiresImmediately(t *testing.T) {
	timer := NewExamTimer(time.Hour)
	done := make(chan struct{})
	if err := timer.Start(0, nil, func() { close(done) }); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("zero-length timer did not expire")
	}
}
