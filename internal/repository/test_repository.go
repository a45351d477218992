package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/jobportal-backend/internal/model"
)

// TestRepository handles tests, their questions and candidate assignments.
type TestRepository struct {
	pool *pgxpool.Pool
}

// NewTestRepository creates a new TestRepository.
func NewTestRepository(pool *pgxpool.Pool) *TestRepository {
	return &TestRepository{pool: pool}
}

// ActiveAssignment returns the candidate's ACTIVE assignment.
// Returns model.ErrNoTestAssigned when there is none.
func (r *TestRepository) ActiveAssignment(ctx context.Context, candidateID int) (*model.TestAssignment, error) {
	a := &model.TestAssignment{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, test_id, candidate_id, status, assigned_at
		 FROM test_assignments
		 WHERE candidate_id = $1 AND status = $2
		 ORDER BY assigned_at DESC
		 LIMIT 1`, candidateID, model.AssignmentStatusActive,
	).Scan(&a.ID, &a.TestID, &a.CandidateID, &a.Status, &a.AssignedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNoTestAssigned
		}
		return nil, err
	}
	return a, nil
}

// GetTest loads a test with its questions in presentation order.
func (r *TestRepository) GetTest(ctx context.Context, testID uuid.UUID) (*model.Test, error) {
	t := &model.Test{ID: testID.String()}
	if err := r.pool.QueryRow(ctx,
		`SELECT role FROM tests WHERE id = $1`, testID,
	).Scan(&t.Role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNoTestAssigned
		}
		return nil, fmt.Errorf("get test: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, question_text, options, correct_option, COALESCE(duration_seconds, 0)
		 FROM questions
		 WHERE test_id = $1
		 ORDER BY order_num ASC, id ASC`, testID,
	)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			q       model.Question
			id      uuid.UUID
			options []byte
		)
		if err := rows.Scan(&id, &q.Question, &options, &q.CorrectOption, &q.Duration); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(options, &q.Options); err != nil {
			return nil, fmt.Errorf("question %s options: %w", id, err)
		}
		q.ID = id.String()
		t.Questions = append(t.Questions, q)
	}
	return t, rows.Err()
}

// CreateTest inserts a test and its questions in one transaction.
// Question IDs are assigned by the database and written back into test.
func (r *TestRepository) CreateTest(ctx context.Context, test *model.Test) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var testID uuid.UUID
	if err := tx.QueryRow(ctx,
		`INSERT INTO tests (role) VALUES ($1) RETURNING id`, test.Role,
	).Scan(&testID); err != nil {
		return fmt.Errorf("insert test: %w", err)
	}

	if err := insertQuestions(ctx, tx, testID, test.Questions); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	test.ID = testID.String()
	return nil
}

// ReplaceQuestions overwrites the role and questions of an existing test.
// New question IDs are written back into test. Returns
// model.ErrNoTestAssigned when the test does not exist.
func (r *TestRepository) ReplaceQuestions(ctx context.Context, test *model.Test) error {
	testID, err := uuid.Parse(test.ID)
	if err != nil {
		return fmt.Errorf("test id: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE tests SET role = $2 WHERE id = $1`, testID, test.Role)
	if err != nil {
		return fmt.Errorf("update test: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNoTestAssigned
	}
	if _, err := tx.Exec(ctx, `DELETE FROM questions WHERE test_id = $1`, testID); err != nil {
		return fmt.Errorf("delete questions: %w", err)
	}
	if err := insertQuestions(ctx, tx, testID, test.Questions); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertQuestions(ctx context.Context, tx pgx.Tx, testID uuid.UUID, questions []model.Question) error {
	for i := range questions {
		q := &questions[i]
		options, err := json.Marshal(q.Options)
		if err != nil {
			return err
		}
		var duration *int
		if q.Duration > 0 {
			duration = &q.Duration
		}
		var qid uuid.UUID
		if err := tx.QueryRow(ctx,
			`INSERT INTO questions (test_id, question_text, options, correct_option, duration_seconds, order_num)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING id`,
			testID, q.Question, options, q.CorrectOption, duration, i,
		).Scan(&qid); err != nil {
			return fmt.Errorf("insert question %d: %w", i, err)
		}
		q.ID = qid.String()
	}
	return nil
}

// Assign gives a candidate an ACTIVE assignment, retiring any previous one.
func (r *TestRepository) Assign(ctx context.Context, testID uuid.UUID, candidateID int) (*model.TestAssignment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE test_assignments SET status = $1, completed_at = NOW()
		 WHERE candidate_id = $2 AND status = $3`,
		model.AssignmentStatusCompleted, candidateID, model.AssignmentStatusActive,
	); err != nil {
		return nil, fmt.Errorf("retire assignments: %w", err)
	}

	a := &model.TestAssignment{TestID: testID, CandidateID: candidateID, Status: model.AssignmentStatusActive}
	if err := tx.QueryRow(ctx,
		`INSERT INTO test_assignments (test_id, candidate_id, status)
		 VALUES ($1, $2, $3)
		 RETURNING id, assigned_at`,
		testID, candidateID, model.AssignmentStatusActive,
	).Scan(&a.ID, &a.AssignedAt); err != nil {
		return nil, fmt.Errorf("insert assignment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return a, nil
}
