package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultQuestionDuration is used when a question carries no usable duration.
const DefaultQuestionDuration = 60

// Provider-level errors shared by every test provider implementation.
var (
	ErrNoTestAssigned   = errors.New("no test assigned")
	ErrNotAuthenticated = errors.New("not authenticated")
)

// Question is a single multiple-choice question as delivered by the test provider.
type Question struct {
	ID            string   `json:"_id"`
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectOption int      `json:"correctOption"`
	Duration      int      `json:"duration,omitempty"`
}

// EffectiveDuration returns the duration in seconds, falling back to the
// default when the stored value is absent, zero or negative.
func (q Question) EffectiveDuration() int {
	if q.Duration <= 0 {
		return DefaultQuestionDuration
	}
	return q.Duration
}

// CorrectText returns the option text at the correct index.
func (q Question) CorrectText() string {
	if q.CorrectOption < 0 || q.CorrectOption >= len(q.Options) {
		return ""
	}
	return q.Options[q.CorrectOption]
}

// HasOption reports whether text is one of the question's options.
func (q Question) HasOption(text string) bool {
	for _, o := range q.Options {
		if o == text {
			return true
		}
	}
	return false
}

// Validate checks the structural rules of a question.
func (q Question) Validate() error {
	if q.ID == "" {
		return errors.New("question id is empty")
	}
	if len(q.Options) < 2 {
		return fmt.Errorf("question %s: needs at least 2 options, got %d", q.ID, len(q.Options))
	}
	if q.CorrectOption < 0 || q.CorrectOption >= len(q.Options) {
		return fmt.Errorf("question %s: correct option %d out of range", q.ID, q.CorrectOption)
	}
	return nil
}

// Test is an ordered set of questions assigned to a candidate.
type Test struct {
	ID        string     `json:"_id"`
	Role      string     `json:"role"`
	Questions []Question `json:"questions"`
}

// TotalDuration sums the effective durations of all questions, in seconds.
func (t *Test) TotalDuration() int {
	total := 0
	for _, q := range t.Questions {
		total += q.EffectiveDuration()
	}
	return total
}

// Validate checks the test and every question, including id uniqueness.
func (t *Test) Validate() error {
	if t.ID == "" {
		return errors.New("test id is empty")
	}
	seen := make(map[string]struct{}, len(t.Questions))
	for _, q := range t.Questions {
		if err := q.Validate(); err != nil {
			return err
		}
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("duplicate question id %s", q.ID)
		}
		seen[q.ID] = struct{}{}
	}
	return nil
}

// TestEnvelope is the provider response shape.
type TestEnvelope struct {
	Success bool   `json:"success"`
	Test    *Test  `json:"test,omitempty"`
	Message string `json:"message,omitempty"`
}

// QuestionForCandidate is a question without its correct option.
type QuestionForCandidate struct {
	ID       string   `json:"_id"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Duration int      `json:"duration"`
}

// AssignmentStatus enumerates the lifecycle of a test assignment.
type AssignmentStatus string

const (
	AssignmentStatusActive    AssignmentStatus = "ACTIVE"
	AssignmentStatusCompleted AssignmentStatus = "COMPLETED"
)

// TestAssignment links a candidate to the test they must take.
type TestAssignment struct {
	ID          uuid.UUID        `json:"id"`
	TestID      uuid.UUID        `json:"test_id"`
	CandidateID int              `json:"candidate_id"`
	Status      AssignmentStatus `json:"status"`
	AssignedAt  time.Time        `json:"assigned_at"`
}
