package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-station/internal/model"
)

// ResultRepository archives finished attempts to PostgreSQL.
type ResultRepository struct {
	pool *pgxpool.Pool
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

// InsertBatch archives several results in one transaction using UNNEST.
// Sessions already archived are skipped.
func (r *ResultRepository) InsertBatch(ctx context.Context, batch []model.Results) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	n := len(batch)
	ids := make([]uuid.UUID, n)
	sessionIDs := make([]string, n)
	examIDs := make([]string, n)
	reasons := make([]string, n)
	percents := make([]float64, n)
	corrects := make([]int32, n)
	declareds := make([]int32, n)
	finishedAts := make([]time.Time, n)

	for i, res := range batch {
		ids[i] = uuid.New()
		sessionIDs[i] = res.SessionID
		examIDs[i] = res.ExamID
		reasons[i] = string(res.Reason)
		percents[i] = res.OverallPercent
		corrects[i] = int32(res.CorrectCount)
		declareds[i] = int32(res.DeclaredCount)
		finishedAts[i] = res.FinishedAt
	}

	inserted := 0
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			INSERT INTO exam_results
				(id, session_id, exam_id, reason, overall_percent, correct_count, declared_count, finished_at)
			SELECT * FROM UNNEST(
				$1::uuid[],
				$2::varchar[],
				$3::varchar[],
				$4::varchar[],
				$5::float8[],
				$6::int[],
				$7::int[],
				$8::timestamptz[]
			)
			ON CONFLICT (session_id) DO NOTHING
			RETURNING id`,
			ids, sessionIDs, examIDs, reasons, percents, corrects, declareds, finishedAts,
		)
		if err != nil {
			return fmt.Errorf("insert results: %w", err)
		}
		kept, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
		if err != nil {
			return fmt.Errorf("insert results: %w", err)
		}
		inserted = len(kept)

		fresh := make(map[uuid.UUID]struct{}, len(kept))
		for _, id := range kept {
			fresh[id] = struct{}{}
		}

		var (
			resultIDs   []uuid.UUID
			blockIDs    []string
			blockRight  []int32
			blockTotal  []int32
			blockPct    []float64
			synthesized []bool
		)
		for i, res := range batch {
			if _, ok := fresh[ids[i]]; !ok {
				continue
			}
			for _, b := range res.PerBlock {
				resultIDs = append(resultIDs, ids[i])
				blockIDs = append(blockIDs, b.BlockID)
				blockRight = append(blockRight, int32(b.CorrectCount))
				blockTotal = append(blockTotal, int32(b.TotalCount))
				blockPct = append(blockPct, b.Percent)
				synthesized = append(synthesized, b.Synthesized)
			}
		}
		if len(resultIDs) == 0 {
			return nil
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO exam_block_results
				(result_id, block_id, correct_count, total_count, percent, synthesized)
			SELECT * FROM UNNEST(
				$1::uuid[],
				$2::varchar[],
				$3::int[],
				$4::int[],
				$5::float8[],
				$6::bool[]
			)
			ON CONFLICT (result_id, block_id) DO NOTHING`,
			resultIDs, blockIDs, blockRight, blockTotal, blockPct, synthesized,
		)
		if err != nil {
			return fmt.Errorf("insert block results: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// Insert archives a single result. It is the fallback when a batch fails.
func (r *ResultRepository) Insert(ctx context.Context, res model.Results) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var id uuid.UUID
		err := tx.QueryRow(ctx,
			`INSERT INTO exam_results
				(id, session_id, exam_id, reason, overall_percent, correct_count, declared_count, finished_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (session_id) DO NOTHING
			 RETURNING id`,
			uuid.New(), res.SessionID, res.ExamID, string(res.Reason),
			res.OverallPercent, res.CorrectCount, res.DeclaredCount, res.FinishedAt,
		).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil // already archived
		}
		if err != nil {
			return fmt.Errorf("insert result: %w", err)
		}

		b := &pgx.Batch{}
		for _, row := range res.PerBlock {
			b.Queue(
				`INSERT INTO exam_block_results
					(result_id, block_id, correct_count, total_count, percent, synthesized)
				 VALUES ($1, $2, $3, $4, $5, $6)
				 ON CONFLICT (result_id, block_id) DO NOTHING`,
				id, row.BlockID, row.CorrectCount, row.TotalCount, row.Percent, row.Synthesized,
			)
		}
		if b.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, b).Close(); err != nil {
			return fmt.Errorf("insert block results: %w", err)
		}
		return nil
	})
}
