package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrNotAuthenticated ErrCode = "NOT_AUTHENTICATED"
	ErrTokenRequired    ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid     ErrCode = "TOKEN_INVALID"
	ErrCandidateOnly    ErrCode = "CANDIDATE_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Test session ──────────────────────────────────────────────────
	ErrNoTestAssigned       ErrCode = "NO_TEST_ASSIGNED"
	ErrProviderUnavailable  ErrCode = "TEST_PROVIDER_UNAVAILABLE"
	ErrSessionNotFound      ErrCode = "SESSION_NOT_FOUND"
	ErrSessionNotActive     ErrCode = "SESSION_NOT_ACTIVE"
	ErrAnswerRequired       ErrCode = "ANSWER_REQUIRED"
	ErrInvalidSubmission    ErrCode = "INVALID_SUBMISSION"
	ErrResultNotPersisted   ErrCode = "RESULT_NOT_PERSISTED"
	ErrUnknownSocketAction  ErrCode = "UNKNOWN_ACTION"
	ErrSessionAlreadyExists ErrCode = "SESSION_ALREADY_EXISTS"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrNotAuthenticated:
		return "Please sign in to take your test."
	case ErrTokenRequired:
		return "An authentication token is required."
	case ErrTokenInvalid:
		return "The authentication token is invalid or expired."
	case ErrCandidateOnly:
		return "This resource is limited to candidates."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidPayload:
		return "The request payload is invalid."

	// ─── Test session ──────────────────────────────────────────────────
	case ErrNoTestAssigned:
		return "No test has been assigned to you yet."
	case ErrProviderUnavailable:
		return "The test could not be loaded. Please try again later."
	case ErrSessionNotFound:
		return "You have no running test session."
	case ErrSessionNotActive:
		return "The test session is no longer active."
	case ErrAnswerRequired:
		return "Please select an answer before continuing."
	case ErrInvalidSubmission:
		return "The submission does not match the assigned test."
	case ErrResultNotPersisted:
		return "Your score is shown, but it could not be saved."
	case ErrUnknownSocketAction:
		return "Unknown action."
	case ErrSessionAlreadyExists:
		return "A test session is already running."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}
