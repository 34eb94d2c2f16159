package exam

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-station/internal/model"
)

const outboxSize = 256

var errOutboxFull = errors.New("answer outbox full")

// AnswerSubmitter persists one answer remotely.
type AnswerSubmitter func(ctx context.Context, a model.Answer) error

type outboxItem struct {
	answer model.Answer
	ack    chan struct{}
}

// AnswerTracker owns the candidate's answer map. Local state is updated
// synchronously and is authoritative; remote submission is best-effort and
// goes through a FIFO outbox drained by a single sender, so a later choice for
// a question never reaches the platform before an earlier one.
type AnswerTracker struct {
	mu      sync.RWMutex
	answers map[string]string

	submit    AnswerSubmitter
	timeout   time.Duration
	onFailure func(model.Answer, error)
	failures  atomic.Int64
	log       zerolog.Logger

	outbox    chan outboxItem
	quit      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

// NewAnswerTracker starts a tracker and its sender goroutine. onFailure may
// be nil.
func NewAnswerTracker(submit AnswerSubmitter, timeout time.Duration, onFailure func(model.Answer, error), log zerolog.Logger) *AnswerTracker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	t := &AnswerTracker{
		answers:   make(map[string]string),
		submit:    submit,
		timeout:   timeout,
		onFailure: onFailure,
		log:       log.With().Str("component", "answer_tracker").Logger(),
		outbox:    make(chan outboxItem, outboxSize),
		quit:      make(chan struct{}),
	}
	go t.run()
	return t
}

// Record sets the choice for a question, replacing any earlier one, and
// queues it for remote submission. It never blocks on the network.
func (t *AnswerTracker) Record(questionID, optionID string) error {
	questionID = strings.TrimSpace(questionID)
	optionID = strings.TrimSpace(optionID)
	if questionID == "" || optionID == "" {
		return fmt.Errorf("question id and option id are required: %w", ErrValidation)
	}

	a := model.Answer{QuestionID: questionID, OptionID: optionID}

	t.mu.Lock()
	t.answers[questionID] = optionID
	t.mu.Unlock()

	if t.closed.Load() || t.submit == nil {
		return nil
	}

	select {
	case t.outbox <- outboxItem{answer: a}:
	default:
		t.reportFailure(a, errOutboxFull)
	}
	return nil
}

// Restore loads previously recorded answers without submitting them again.
func (t *AnswerTracker) Restore(answers map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for q, o := range answers {
		t.answers[q] = o
	}
}

// IsAnswered reports whether the question has a recorded choice.
func (t *AnswerTracker) IsAnswered(questionID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.answers[questionID]
	return ok
}

// Choice returns the recorded option for a question.
func (t *AnswerTracker) Choice(questionID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	o, ok := t.answers[questionID]
	return o, ok
}

// CountUnanswered counts the ids without a recorded choice.
func (t *AnswerTracker) CountUnanswered(questionIDs []string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, id := range questionIDs {
		if _, ok := t.answers[id]; !ok {
			n++
		}
	}
	return n
}

// Snapshot returns a copy of the answer map.
func (t *AnswerTracker) Snapshot() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]string, len(t.answers))
	for q, o := range t.answers {
		out[q] = o
	}
	return out
}

// Failures is the number of submissions that did not reach the platform.
func (t *AnswerTracker) Failures() int64 {
	return t.failures.Load()
}

// Flush waits until every submission queued before the call was attempted.
func (t *AnswerTracker) Flush(ctx context.Context) error {
	if t.closed.Load() {
		return nil
	}
	ack := make(chan struct{})
	select {
	case t.outbox <- outboxItem{ack: ack}:
	case <-t.quit:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-t.quit:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops remote submission. Pending submissions are dropped and
// logged; later Record calls still update the local map.
func (t *AnswerTracker) Close() {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		close(t.quit)
		t.dropPending()
	})
}

func (t *AnswerTracker) dropPending() {
	dropped := 0
	for {
		select {
		case item := <-t.outbox:
			if item.ack != nil {
				close(item.ack)
				continue
			}
			dropped++
			t.log.Warn().
				Str("question_id", item.answer.QuestionID).
				Str("option_id", item.answer.OptionID).
				Msg("Answer submission dropped, outbox closed")
		default:
			if dropped > 0 {
				t.log.Warn().Int("dropped", dropped).Msg("Answer outbox closed with pending submissions")
			}
			return
		}
	}
}

func (t *AnswerTracker) run() {
	for {
		select {
		case <-t.quit:
			return
		case item := <-t.outbox:
			if item.ack != nil {
				close(item.ack)
				continue
			}
			t.send(item.answer)
		}
	}
}

func (t *AnswerTracker) send(a model.Answer) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	if err := t.submit(ctx, a); err != nil {
		t.reportFailure(a, err)
	}
}

func (t *AnswerTracker) reportFailure(a model.Answer, err error) {
	t.failures.Add(1)
	t.log.Warn().Err(err).
		Str("question_id", a.QuestionID).
		Str("option_id", a.OptionID).
		Msg("Answer submission failed, keeping local choice")
	if t.onFailure != nil {
		t.onFailure(a, err)
	}
}
