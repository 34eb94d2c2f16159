package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-station/internal/config"
	"github.com/stemsi/exstem-station/internal/exam"
	"github.com/stemsi/exstem-station/internal/model"
)

const (
	RetryPollTimeout = 1 * time.Second
	RetryBackoff     = 2 * time.Second
)

// AnswerSubmitter resubmits an answer to the platform.
type AnswerSubmitter interface {
	SubmitAnswer(ctx context.Context, token string, a model.Answer) error
}

// RetryState is the session state the retry worker consults before
// resubmitting.
type RetryState interface {
	LoadSession(ctx context.Context, sessionID string) (*model.SessionRecord, error)
	IsFinished(ctx context.Context, sessionID string) (bool, error)
	AnswerChoice(ctx context.Context, sessionID, questionID string) (string, bool, error)
}

// AnswerRetryWorker consumes the retry queue and resubmits answers that did
// not reach the platform, as long as the session is still running and the
// queued option is still the candidate's choice.
type AnswerRetryWorker struct {
	rdb      *redis.Client
	platform AnswerSubmitter
	state    RetryState
	limit    int
	backoff  time.Duration
	log      zerolog.Logger
}

// NewAnswerRetryWorker creates a new AnswerRetryWorker. limit is the number
// of attempts after which an answer is given up.
func NewAnswerRetryWorker(rdb *redis.Client, platform AnswerSubmitter, state RetryState, limit int, log zerolog.Logger) *AnswerRetryWorker {
	if limit <= 0 {
		limit = 1
	}
	return &AnswerRetryWorker{
		rdb:      rdb,
		platform: platform,
		state:    state,
		limit:    limit,
		backoff:  RetryBackoff,
		log:      log.With().Str("component", "answer_retry_worker").Logger(),
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *AnswerRetryWorker) Start(ctx context.Context) {
	w.log.Info().Int("limit", w.limit).Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *AnswerRetryWorker) processNext(ctx context.Context) {
	result, err := w.rdb.BLPop(ctx, RetryPollTimeout, config.WorkerKey.RetryAnswersQueue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}
	if len(result) < 2 {
		return
	}

	var item model.RetryAnswer
	if err := json.Unmarshal([]byte(result[1]), &item); err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error")
		return
	}

	if next, again := w.handle(ctx, item); again {
		w.requeue(ctx, next)
		time.Sleep(w.backoff)
	}
}

// handle resubmits one item. It returns the item to put back on the queue
// and whether to do so.
func (w *AnswerRetryWorker) handle(ctx context.Context, item model.RetryAnswer) (model.RetryAnswer, bool) {
	l := w.log.With().
		Str("session_id", item.SessionID).
		Str("question_id", item.QuestionID).
		Int("attempts", item.Attempts).
		Logger()

	rec, err := w.state.LoadSession(ctx, item.SessionID)
	if err != nil {
		if errors.Is(err, exam.ErrSessionNotFound) {
			l.Debug().Msg("Session gone, dropping retry")
			return item, false
		}
		l.Error().Err(err).Msg("Load session failed")
		return item, true
	}

	finished, err := w.state.IsFinished(ctx, item.SessionID)
	if err != nil {
		l.Error().Err(err).Msg("Finished check failed")
		return item, true
	}
	if finished {
		l.Debug().Msg("Session finished, dropping retry")
		return item, false
	}

	choice, ok, err := w.state.AnswerChoice(ctx, item.SessionID, item.QuestionID)
	if err != nil {
		l.Error().Err(err).Msg("Choice lookup failed")
		return item, true
	}
	if !ok || choice != item.OptionID {
		l.Debug().Msg("Choice superseded, dropping retry")
		return item, false
	}

	err = w.platform.SubmitAnswer(ctx, rec.Token, model.Answer{QuestionID: item.QuestionID, OptionID: item.OptionID})
	if err == nil {
		l.Info().Msg("Answer resubmitted")
		return item, false
	}

	item.Attempts++
	if item.Attempts >= w.limit {
		l.Error().Err(err).Msg("Answer retry limit reached, giving up")
		return item, false
	}
	l.Warn().Err(err).Msg("Answer retry failed, requeueing")
	return item, true
}

func (w *AnswerRetryWorker) requeue(ctx context.Context, item model.RetryAnswer) {
	raw, _ := json.Marshal(item)
	if err := w.rdb.RPush(ctx, config.WorkerKey.RetryAnswersQueue, raw).Err(); err != nil {
		w.log.Error().Err(err).Msg("Requeue failed")
	}
}

// drain gives every pending item one last attempt before shutdown.
func (w *AnswerRetryWorker) drain(ctx context.Context) {
	pending, err := w.rdb.LLen(ctx, config.WorkerKey.RetryAnswersQueue).Result()
	if err != nil {
		return
	}

	drained := 0
	for i := int64(0); i < pending; i++ {
		raw, err := w.rdb.LPop(ctx, config.WorkerKey.RetryAnswersQueue).Result()
		if err != nil {
			break
		}
		var item model.RetryAnswer
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			w.log.Error().Err(err).Msg("Drain unmarshal error")
			continue
		}
		if next, again := w.handle(ctx, item); again {
			w.requeue(ctx, next)
			continue
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
