package model

import (
	"time"

	"github.com/google/uuid"
)

// Submission is the payload sent to the result sink once per attempt.
type Submission struct {
	TestID    string            `json:"testId" binding:"required"`
	Answers   map[string]string `json:"answers"`
	Score     int               `json:"score" binding:"min=0"`
	TimeTaken int               `json:"timeTaken" binding:"min=0"`
}

// TestResult is a persisted attempt.
type TestResult struct {
	ID             uuid.UUID         `json:"id"`
	CandidateID    int               `json:"candidate_id"`
	TestID         uuid.UUID         `json:"test_id"`
	Role           string            `json:"role,omitempty"`
	Answers        map[string]string `json:"answers"`
	Score          int               `json:"score"`
	TotalQuestions int               `json:"total_questions"`
	TimeTaken      int               `json:"time_taken"`
	SubmittedAt    time.Time         `json:"submitted_at"`
}

// SelectAnswerRequest is the payload for recording an answer.
type SelectAnswerRequest struct {
	Option string `json:"option" binding:"required,max=2000"`
}

// QueuedResult is the Redis queue item written by the result sink and
// consumed by the result worker.
type QueuedResult struct {
	CandidateID int               `json:"candidate_id"`
	TestID      string            `json:"test_id"`
	Answers     map[string]string `json:"answers"`
	Score       int               `json:"score"`
	TimeTaken   int               `json:"time_taken"`
	SubmittedAt time.Time         `json:"submitted_at"`
	Attempts    int               `json:"attempts,omitempty"`
}
