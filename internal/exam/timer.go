package exam

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ExamTimer is a countdown with one-tick resolution. It fires onExpire exactly
// once when it reaches zero and then stops itself.
type ExamTimer struct {
	interval time.Duration

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc

	remaining atomic.Int64
}

// NewExamTimer creates a timer. interval is the length of one tick and
// defaults to one second.
func NewExamTimer(interval time.Duration) *ExamTimer {
	if interval <= 0 {
		interval = time.Second
	}
	return &ExamTimer{interval: interval}
}

// Start begins counting down from seconds. A timer starts at most once.
func (t *ExamTimer) Start(seconds int, onTick func(remaining int), onExpire func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return ErrTimerStarted
	}
	if t.stopped {
		return ErrTimerStopped
	}
	if seconds < 0 {
		seconds = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.started = true
	t.cancel = cancel
	t.remaining.Store(int64(seconds))

	go t.run(ctx, seconds, onTick, onExpire)
	return nil
}

// Stop cancels pending ticks and expiry. Safe to call repeatedly or before
// Start.
func (t *ExamTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.cancel != nil {
		t.cancel()
	}
}

// Remaining returns the seconds left on the countdown.
func (t *ExamTimer) Remaining() int {
	return int(t.remaining.Load())
}

// Running reports whether the countdown is in progress.
func (t *ExamTimer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started && !t.stopped
}

func (t *ExamTimer) run(ctx context.Context, seconds int, onTick func(int), onExpire func()) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for remaining := seconds; remaining > 0; {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		remaining--
		t.remaining.Store(int64(remaining))
		if ctx.Err() != nil {
			return
		}
		if onTick != nil {
			onTick(remaining)
		}
	}

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.cancel()
	t.mu.Unlock()

	if onExpire != nil {
		onExpire()
	}
}
