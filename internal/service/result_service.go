package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/jobportal-backend/internal/model"
	"github.com/stemsi/jobportal-backend/internal/response"
	"github.com/stemsi/jobportal-backend/internal/testsession"
)

// ErrInvalidSubmission is returned when a submission does not match its test.
var ErrInvalidSubmission = errors.New("invalid submission")

// ResultLister reads persisted results.
type ResultLister interface {
	ListByCandidate(ctx context.Context, candidateID, page, perPage int) ([]model.TestResult, int64, error)
}

// ResultService accepts submissions arriving over the REST contract and
// serves a candidate's result history.
type ResultService struct {
	tests   *TestProvider
	sink    *QueueResultSink
	results ResultLister
	log     zerolog.Logger
}

// NewResultService creates a new ResultService.
func NewResultService(tests *TestProvider, sink *QueueResultSink, results ResultLister, log zerolog.Logger) *ResultService {
	return &ResultService{
		tests:   tests,
		sink:    sink,
		results: results,
		log:     log.With().Str("component", "result_service").Logger(),
	}
}

// Record re-grades a client-computed submission against the stored answer key
// and queues it. Answers for unknown questions are dropped and time taken is
// clamped to the allotted time. The stored score is always the server's.
func (s *ResultService) Record(ctx context.Context, candidateID int, sub model.Submission) (model.Submission, error) {
	testID, err := uuid.Parse(sub.TestID)
	if err != nil {
		return model.Submission{}, fmt.Errorf("%w: test id", ErrInvalidSubmission)
	}

	test, err := s.tests.Test(ctx, testID)
	if err != nil {
		if errors.Is(err, model.ErrNoTestAssigned) {
			return model.Submission{}, fmt.Errorf("%w: unknown test", ErrInvalidSubmission)
		}
		return model.Submission{}, err
	}

	graded := model.Submission{
		TestID:    test.ID,
		Answers:   make(map[string]string, len(sub.Answers)),
		TimeTaken: sub.TimeTaken,
	}
	for _, q := range test.Questions {
		if ans, ok := sub.Answers[q.ID]; ok && q.HasOption(ans) {
			graded.Answers[q.ID] = ans
		}
	}
	graded.Score = testsession.Score(test.Questions, graded.Answers)
	if total := test.TotalDuration(); graded.TimeTaken > total {
		graded.TimeTaken = total
	}
	if graded.TimeTaken < 0 {
		graded.TimeTaken = 0
	}

	if graded.Score != sub.Score {
		s.log.Warn().
			Int("candidate_id", candidateID).
			Str("test_id", test.ID).
			Int("claimed", sub.Score).
			Int("graded", graded.Score).
			Msg("Submitted score differs from server grading")
	}

	if err := s.sink.Enqueue(ctx, candidateID, graded); err != nil {
		return model.Submission{}, err
	}
	return graded, nil
}

// History returns a page of the candidate's results.
func (s *ResultService) History(ctx context.Context, candidateID, page, perPage int) ([]model.TestResult, *response.Pagination, error) {
	results, total, err := s.results.ListByCandidate(ctx, candidateID, page, perPage)
	if err != nil {
		return nil, nil, fmt.Errorf("list results: %w", err)
	}
	if results == nil {
		results = []model.TestResult{}
	}

	return results, response.NewPagination(page, perPage, int(total)), nil
}
