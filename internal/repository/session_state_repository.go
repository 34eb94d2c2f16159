package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-station/internal/config"
	"github.com/stemsi/exstem-station/internal/exam"
	"github.com/stemsi/exstem-station/internal/model"
)

// SessionStateRepository keeps the local slice of a session in Redis so a
// renderer reload does not lose locks or answers. Every key expires after
// ttl; the lock set is only ever added to.
type SessionStateRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSessionStateRepository creates a new SessionStateRepository.
func NewSessionStateRepository(rdb *redis.Client, ttl time.Duration) *SessionStateRepository {
	return &SessionStateRepository{rdb: rdb, ttl: ttl}
}

// SaveSession stores the immutable session record.
func (r *SessionStateRepository) SaveSession(ctx context.Context, rec model.SessionRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}
	return r.rdb.Set(ctx, config.CacheKey.SessionRecordKey(rec.Session.ID), raw, r.ttl).Err()
}

// LoadSession returns exam.ErrSessionNotFound for unknown or expired sessions.
func (r *SessionStateRepository) LoadSession(ctx context.Context, sessionID string) (*model.SessionRecord, error) {
	raw, err := r.rdb.Get(ctx, config.CacheKey.SessionRecordKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, exam.ErrSessionNotFound
		}
		return nil, err
	}
	var rec model.SessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal session record: %w", err)
	}
	return &rec, nil
}

// AppendLock adds a block to the lock set.
func (r *SessionStateRepository) AppendLock(ctx context.Context, sessionID, blockID string) error {
	key := config.CacheKey.SessionLockedBlocksKey(sessionID)
	pipe := r.rdb.TxPipeline()
	pipe.SAdd(ctx, key, blockID)
	pipe.Expire(ctx, key, r.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// LockedBlocks returns the lock set.
func (r *SessionStateRepository) LockedBlocks(ctx context.Context, sessionID string) ([]string, error) {
	return r.rdb.SMembers(ctx, config.CacheKey.SessionLockedBlocksKey(sessionID)).Result()
}

// SaveAnswer overwrites the stored choice for a question.
func (r *SessionStateRepository) SaveAnswer(ctx context.Context, sessionID string, a model.Answer) error {
	key := config.CacheKey.SessionAnswersKey(sessionID)
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, key, a.QuestionID, a.OptionID)
	pipe.Expire(ctx, key, r.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Answers returns every stored choice keyed by question id.
func (r *SessionStateRepository) Answers(ctx context.Context, sessionID string) (map[string]string, error) {
	return r.rdb.HGetAll(ctx, config.CacheKey.SessionAnswersKey(sessionID)).Result()
}

// AnswerChoice returns the stored choice for one question.
func (r *SessionStateRepository) AnswerChoice(ctx context.Context, sessionID, questionID string) (string, bool, error) {
	v, err := r.rdb.HGet(ctx, config.CacheKey.SessionAnswersKey(sessionID), questionID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return v, true, nil
}

// SaveResults marks the session finished.
func (r *SessionStateRepository) SaveResults(ctx context.Context, sessionID string, res model.Results) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	return r.rdb.Set(ctx, config.CacheKey.SessionFinishedKey(sessionID), raw, r.ttl).Err()
}

// LoadResults returns exam.ErrSessionNotFound while the session is not
// finished.
func (r *SessionStateRepository) LoadResults(ctx context.Context, sessionID string) (*model.Results, error) {
	raw, err := r.rdb.Get(ctx, config.CacheKey.SessionFinishedKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, exam.ErrSessionNotFound
		}
		return nil, err
	}
	var res model.Results
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("unmarshal results: %w", err)
	}
	return &res, nil
}

// IsFinished reports whether results were stored for the session.
func (r *SessionStateRepository) IsFinished(ctx context.Context, sessionID string) (bool, error) {
	n, err := r.rdb.Exists(ctx, config.CacheKey.SessionFinishedKey(sessionID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
