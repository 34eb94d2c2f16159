package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-station/internal/config"
	"github.com/stemsi/exstem-station/internal/model"
)

const (
	ArchiveBatchSize    = 50
	ArchiveBatchTimeout = 2 * time.Second
	ArchivePollTimeout  = 1 * time.Second
)

// ResultArchiver persists finished results.
type ResultArchiver interface {
	InsertBatch(ctx context.Context, batch []model.Results) (int, error)
	Insert(ctx context.Context, res model.Results) error
}

// ResultArchiveWorker drains the archive queue into PostgreSQL in batches.
type ResultArchiveWorker struct {
	rdb     *redis.Client
	archive ResultArchiver
	log     zerolog.Logger
}

func NewResultArchiveWorker(rdb *redis.Client, archive ResultArchiver, log zerolog.Logger) *ResultArchiveWorker {
	return &ResultArchiveWorker{
		rdb:     rdb,
		archive: archive,
		log:     log.With().Str("component", "result_archive_worker").Logger(),
	}
}

// ─── Worker loop with batching ───────────────────────────────────────────────

func (w *ResultArchiveWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ResultArchiveWorker started")

	batch := make([]model.Results, 0, ArchiveBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= ArchiveBatchSize || time.Since(lastFlush) >= ArchiveBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, ArchivePollTimeout, config.WorkerKey.ArchiveResultsQueue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}
			if len(item) < 2 {
				continue
			}

			var res model.Results
			if err := json.Unmarshal([]byte(item[1]), &res); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}
			batch = append(batch, res)
		}
	}
}

// ─── Batch insert with per-row fallback ──────────────────────────────────────

// flushSafe archives the batch and returns the results that could not be
// written at all; those are pushed back onto the queue.
func (w *ResultArchiveWorker) flushSafe(ctx context.Context, batch []model.Results) []model.Results {
	if len(batch) == 0 {
		return nil
	}

	inserted, err := w.archive.InsertBatch(ctx, batch)
	if err == nil {
		w.log.Info().Int("batch", len(batch)).Int("inserted", inserted).Msg("Results archived")
		return nil
	}
	w.log.Warn().Err(err).Msg("bulk archive failed, using fallback")

	var failed []model.Results
	for _, res := range batch {
		if err := w.archive.Insert(ctx, res); err != nil {
			w.log.Error().Err(err).Str("session_id", res.SessionID).Msg("Insert failed, requeueing")
			failed = append(failed, res)
		}
	}
	w.requeue(ctx, failed)
	return failed
}

func (w *ResultArchiveWorker) requeue(ctx context.Context, failed []model.Results) {
	if len(failed) == 0 || w.rdb == nil {
		return
	}
	pipe := w.rdb.Pipeline()
	for _, res := range failed {
		raw, _ := json.Marshal(res)
		pipe.RPush(ctx, config.WorkerKey.ArchiveResultsQueue, raw)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Msg("Requeue failed")
	}
}
