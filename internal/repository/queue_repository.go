package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-station/internal/config"
	"github.com/stemsi/exstem-station/internal/model"
)

// QueueRepository pushes work items onto the Redis lists the workers drain.
type QueueRepository struct {
	rdb *redis.Client
}

// NewQueueRepository creates a new QueueRepository.
func NewQueueRepository(rdb *redis.Client) *QueueRepository {
	return &QueueRepository{rdb: rdb}
}

// EnqueueRetry queues a failed answer submission.
func (r *QueueRepository) EnqueueRetry(ctx context.Context, item model.RetryAnswer) error {
	return r.push(ctx, config.WorkerKey.RetryAnswersQueue, item)
}

// EnqueueArchive queues finished results for the PostgreSQL archive.
func (r *QueueRepository) EnqueueArchive(ctx context.Context, res model.Results) error {
	return r.push(ctx, config.WorkerKey.ArchiveResultsQueue, res)
}

func (r *QueueRepository) push(ctx context.Context, queue string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s item: %w", queue, err)
	}
	return r.rdb.RPush(ctx, queue, raw).Err()
}

// Backlog returns the pending item counts of both worker queues.
func (r *QueueRepository) Backlog(ctx context.Context) (model.QueueBacklog, error) {
	pipe := r.rdb.Pipeline()
	retryCmd := pipe.LLen(ctx, config.WorkerKey.RetryAnswersQueue)
	archiveCmd := pipe.LLen(ctx, config.WorkerKey.ArchiveResultsQueue)
	if _, err := pipe.Exec(ctx); err != nil {
		return model.QueueBacklog{}, fmt.Errorf("queue backlog: %w", err)
	}
	return model.QueueBacklog{
		RetryAnswers:   retryCmd.Val(),
		ArchiveResults: archiveCmd.Val(),
	}, nil
}
