package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/jobportal-backend/internal/config"
	"github.com/stemsi/jobportal-backend/internal/model"
)

// QueueResultSink hands submissions to the result worker through a Redis list.
type QueueResultSink struct {
	auth *AuthService
	rdb  *redis.Client
	log  zerolog.Logger
	now  func() time.Time
}

// NewQueueResultSink creates a new QueueResultSink.
func NewQueueResultSink(auth *AuthService, rdb *redis.Client, log zerolog.Logger) *QueueResultSink {
	return &QueueResultSink{
		auth: auth,
		rdb:  rdb,
		log:  log.With().Str("component", "result_sink").Logger(),
		now:  time.Now,
	}
}

// SaveResult implements testsession.Sink.
func (s *QueueResultSink) SaveResult(ctx context.Context, token string, sub model.Submission) error {
	candidateID, err := s.auth.CandidateID(token)
	if err != nil {
		return err
	}
	return s.Enqueue(ctx, candidateID, sub)
}

// Enqueue pushes a submission for an already authenticated candidate.
func (s *QueueResultSink) Enqueue(ctx context.Context, candidateID int, sub model.Submission) error {
	raw, err := json.Marshal(model.QueuedResult{
		CandidateID: candidateID,
		TestID:      sub.TestID,
		Answers:     sub.Answers,
		Score:       sub.Score,
		TimeTaken:   sub.TimeTaken,
		SubmittedAt: s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistResultsQueue, raw).Err(); err != nil {
		return fmt.Errorf("queue result: %w", err)
	}

	s.log.Debug().
		Int("candidate_id", candidateID).
		Str("test_id", sub.TestID).
		Int("score", sub.Score).
		Msg("Result queued")
	return nil
}
