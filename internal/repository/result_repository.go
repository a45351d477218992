package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/jobportal-backend/internal/model"
)

// ResultRepository handles persisted test attempts.
type ResultRepository struct {
	pool *pgxpool.Pool
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

// PendingResult is one queued submission waiting to be written.
type PendingResult struct {
	CandidateID int
	TestID      uuid.UUID
	Answers     map[string]string
	Score       int
	TimeTaken   int
	SubmittedAt time.Time
}

// BulkInsert writes a batch of results with one UNNEST statement and closes
// the matching assignments. Duplicate (candidate, test) pairs keep the first row.
func (r *ResultRepository) BulkInsert(ctx context.Context, batch []PendingResult) error {
	n := len(batch)
	if n == 0 {
		return nil
	}

	candidates := make([]int, 0, n)
	testIDs := make([]uuid.UUID, 0, n)
	answers := make([]string, 0, n)
	scores := make([]int, 0, n)
	taken := make([]int, 0, n)
	submitted := make([]time.Time, 0, n)

	for _, p := range batch {
		raw, err := json.Marshal(p.Answers)
		if err != nil {
			return fmt.Errorf("marshal answers: %w", err)
		}
		candidates = append(candidates, p.CandidateID)
		testIDs = append(testIDs, p.TestID)
		answers = append(answers, string(raw))
		scores = append(scores, p.Score)
		taken = append(taken, p.TimeTaken)
		submitted = append(submitted, p.SubmittedAt)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO test_results (candidate_id, test_id, answers, score, total_questions, time_taken, submitted_at)
		SELECT
			u.candidate_id,
			u.test_id,
			u.answers::jsonb,
			u.score,
			(SELECT COUNT(*) FROM questions q WHERE q.test_id = u.test_id),
			u.time_taken,
			u.submitted_at
		FROM UNNEST(
			$1::int[],
			$2::uuid[],
			$3::text[],
			$4::int[],
			$5::int[],
			$6::timestamptz[]
		) AS u (candidate_id, test_id, answers, score, time_taken, submitted_at)
		ON CONFLICT (candidate_id, test_id) DO NOTHING
	`, candidates, testIDs, answers, scores, taken, submitted)
	if err != nil {
		return fmt.Errorf("insert results: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE test_assignments AS a
		SET status = $3, completed_at = NOW()
		FROM UNNEST($1::int[], $2::uuid[]) AS u (candidate_id, test_id)
		WHERE a.candidate_id = u.candidate_id
		  AND a.test_id = u.test_id
		  AND a.status = $4
	`, candidates, testIDs, model.AssignmentStatusCompleted, model.AssignmentStatusActive)
	if err != nil {
		return fmt.Errorf("complete assignments: %w", err)
	}

	return tx.Commit(ctx)
}

// Insert writes a single result; used as the fallback when a batch fails.
func (r *ResultRepository) Insert(ctx context.Context, p PendingResult) error {
	return r.BulkInsert(ctx, []PendingResult{p})
}

// ListByCandidate returns a candidate's results, newest first, with the total count.
func (r *ResultRepository) ListByCandidate(ctx context.Context, candidateID, page, perPage int) ([]model.TestResult, int64, error) {
	offset := (page - 1) * perPage

	var total int64
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM test_results WHERE candidate_id = $1`, candidateID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count results: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT r.id, r.candidate_id, r.test_id, t.role, r.answers, r.score,
		        r.total_questions, r.time_taken, r.submitted_at
		 FROM test_results r
		 JOIN tests t ON t.id = r.test_id
		 WHERE r.candidate_id = $1
		 ORDER BY r.submitted_at DESC
		 LIMIT $2 OFFSET $3`, candidateID, perPage, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var results []model.TestResult
	for rows.Next() {
		var (
			res model.TestResult
			raw []byte
		)
		if err := rows.Scan(&res.ID, &res.CandidateID, &res.TestID, &res.Role, &raw, &res.Score,
			&res.TotalQuestions, &res.TimeTaken, &res.SubmittedAt); err != nil {
			return nil, 0, err
		}
		if err := json.Unmarshal(raw, &res.Answers); err != nil {
			return nil, 0, fmt.Errorf("result %s answers: %w", res.ID, err)
		}
		results = append(results, res)
	}
	return results, total, rows.Err()
}
