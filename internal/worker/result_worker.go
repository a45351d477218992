package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/jobportal-backend/internal/config"
	"github.com/stemsi/jobportal-backend/internal/model"
	"github.com/stemsi/jobportal-backend/internal/repository"
)

const (
	DefaultResultBatchSize = 50
	ResultBatchTimeout     = 2 * time.Second
	ResultPollTimeout      = 1 * time.Second

	// maxResultAttempts bounds how often a result that fails on its own is requeued.
	maxResultAttempts = 3
)

// ResultStore persists batches of submitted results.
type ResultStore interface {
	BulkInsert(ctx context.Context, batch []repository.PendingResult) error
	Insert(ctx context.Context, p repository.PendingResult) error
}

// ResultWorker drains persist_results_queue into PostgreSQL in batches.
type ResultWorker struct {
	store ResultStore
	rdb   *redis.Client
	log   zerolog.Logger

	batchSize    int
	batchTimeout time.Duration
	pollTimeout  time.Duration
}

// NewResultWorker creates a new ResultWorker. A non-positive batchSize uses
// DefaultResultBatchSize.
func NewResultWorker(store ResultStore, rdb *redis.Client, batchSize int, log zerolog.Logger) *ResultWorker {
	if batchSize <= 0 {
		batchSize = DefaultResultBatchSize
	}
	return &ResultWorker{
		store:        store,
		rdb:          rdb,
		log:          log.With().Str("component", "result_worker").Logger(),
		batchSize:    batchSize,
		batchTimeout: ResultBatchTimeout,
		pollTimeout:  ResultPollTimeout,
	}
}

type queuedItem struct {
	raw     model.QueuedResult
	pending repository.PendingResult
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

// Start runs until ctx is cancelled, then drains what is left in the queue.
// Call in a goroutine.
func (w *ResultWorker) Start(ctx context.Context) {
	w.log.Info().Int("batch_size", w.batchSize).Msg("ResultWorker started")

	batch := make([]queuedItem, 0, w.batchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= w.batchSize || time.Since(lastFlush) >= w.batchTimeout) {

			w.flush(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Int("pending", len(batch)).Msg("Shutdown requested. Flushing remaining results...")
			w.drain(context.Background(), batch)
			w.log.Info().Msg("ResultWorker stopped")
			return

		default:
			item, err := w.rdb.BLPop(ctx, w.pollTimeout, config.WorkerKey.PersistResultsQueue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}
			if len(item) < 2 {
				continue
			}
			if qi, ok := w.decode(item[1]); ok {
				batch = append(batch, qi)
			}
		}
	}
}

// drain flushes batch plus everything still queued, without blocking.
func (w *ResultWorker) drain(ctx context.Context, batch []queuedItem) {
	for {
		raw, err := w.rdb.LPop(ctx, config.WorkerKey.PersistResultsQueue).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				w.log.Error().Err(err).Msg("Drain LPop error")
			}
			break
		}
		if qi, ok := w.decode(raw); ok {
			batch = append(batch, qi)
		}
		if len(batch) >= w.batchSize {
			w.flush(ctx, batch)
			batch = batch[:0]
		}
	}
	w.flush(ctx, batch)
}

func (w *ResultWorker) decode(raw string) (queuedItem, bool) {
	var q model.QueuedResult
	if err := json.Unmarshal([]byte(raw), &q); err != nil {
		w.log.Error().Err(err).Msg("Invalid JSON payload")
		return queuedItem{}, false
	}
	testID, err := uuid.Parse(q.TestID)
	if err != nil {
		w.log.Error().Str("test_id", q.TestID).Int("candidate_id", q.CandidateID).Msg("Dropping result with malformed test id")
		return queuedItem{}, false
	}
	return queuedItem{
		raw: q,
		pending: repository.PendingResult{
			CandidateID: q.CandidateID,
			TestID:      testID,
			Answers:     q.Answers,
			Score:       q.Score,
			TimeTaken:   q.TimeTaken,
			SubmittedAt: q.SubmittedAt,
		},
	}, true
}

// ----------------------------------------------------------------
// Batch insert with per-row fallback
// ----------------------------------------------------------------

func (w *ResultWorker) flush(ctx context.Context, batch []queuedItem) {
	if len(batch) == 0 {
		return
	}

	rows := make([]repository.PendingResult, len(batch))
	for i, qi := range batch {
		rows[i] = qi.pending
	}

	err := w.store.BulkInsert(ctx, rows)
	if err == nil {
		w.log.Debug().Int("count", len(rows)).Msg("Results persisted")
		return
	}
	w.log.Warn().Err(err).Int("count", len(rows)).Msg("Bulk result insert failed, using fallback")

	for _, qi := range batch {
		if err := w.store.Insert(ctx, qi.pending); err != nil {
			w.requeue(ctx, qi.raw, err)
		}
	}
}

func (w *ResultWorker) requeue(ctx context.Context, q model.QueuedResult, cause error) {
	q.Attempts++
	if q.Attempts >= maxResultAttempts {
		w.log.Error().Err(cause).
			Int("candidate_id", q.CandidateID).
			Str("test_id", q.TestID).
			Int("attempts", q.Attempts).
			Msg("Giving up on result")
		return
	}

	w.log.Error().Err(cause).Int("candidate_id", q.CandidateID).Msg("Single result insert failed, requeueing")
	raw, err := json.Marshal(q)
	if err != nil {
		return
	}
	if err := w.rdb.RPush(ctx, config.WorkerKey.PersistResultsQueue, raw).Err(); err != nil {
		w.log.Error().Err(err).Int("candidate_id", q.CandidateID).Msg("Requeue failed; result lost")
	}
}
