package testsession

import (
	"context"
	"errors"

	"github.com/stemsi/jobportal-backend/internal/model"
)

// State enumerates the lifecycle of one test attempt.
type State string

const (
	StateLoading    State = "LOADING"
	StateActive     State = "ACTIVE"
	StateSubmitting State = "SUBMITTING"
	StateResult     State = "RESULT"
	StateError      State = "ERROR"
)

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateResult || s == StateError
}

// Session errors.
var (
	ErrNotAuthenticated  = model.ErrNotAuthenticated
	ErrNoTestAssigned    = model.ErrNoTestAssigned
	ErrTransport         = errors.New("test provider unavailable")
	ErrInvalidTest       = errors.New("invalid test")
	ErrSubmissionPersist = errors.New("submission could not be persisted")
	ErrAlreadyLoaded     = errors.New("session already loaded")
	ErrNotActive         = errors.New("session is not active")
	ErrAnswerRequired    = errors.New("answer required before advancing")
)

// Provider returns the test assigned to the holder of token.
// Implementations return model.ErrNoTestAssigned when there is none and
// model.ErrNotAuthenticated when the token is rejected.
type Provider interface {
	AssignedTest(ctx context.Context, token string) (*model.Test, error)
}

// Sink persists a finished attempt.
type Sink interface {
	SaveResult(ctx context.Context, token string, sub model.Submission) error
}

// ErrorCode returns a stable short code for a load error, or "" for nil.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotAuthenticated):
		return "NOT_AUTHENTICATED"
	case errors.Is(err, ErrNoTestAssigned):
		return "NO_TEST_ASSIGNED"
	default:
		return "TRANSPORT_ERROR"
	}
}
