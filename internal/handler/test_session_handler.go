package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/jobportal-backend/internal/middleware"
	"github.com/stemsi/jobportal-backend/internal/model"
	"github.com/stemsi/jobportal-backend/internal/response"
	"github.com/stemsi/jobportal-backend/internal/service"
	"github.com/stemsi/jobportal-backend/internal/testsession"
	"github.com/stemsi/jobportal-backend/internal/validator"
)

// TestSessionHandler exposes the candidate's timed test session over REST.
type TestSessionHandler struct {
	sessions *service.SessionService
}

// NewTestSessionHandler creates a new TestSessionHandler.
func NewTestSessionHandler(sessions *service.SessionService) *TestSessionHandler {
	return &TestSessionHandler{sessions: sessions}
}

// Start godoc
// POST /api/v1/candidate/test-session
// Loads the assigned test and starts the countdown. Returns the running
// session when one already exists.
func (h *TestSessionHandler) Start(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	snap, err := h.sessions.Start(c.Request.Context(), claims.UserID, middleware.GetToken(c))
	if err != nil {
		failSession(c, err, snap)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"session": snap})
}

// Get godoc
// GET /api/v1/candidate/test-session
func (h *TestSessionHandler) Get(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	snap, err := h.sessions.Get(claims.UserID)
	if err != nil {
		failSession(c, err, nil)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": snap})
}

// SelectAnswer godoc
// POST /api/v1/candidate/test-session/answer
// Records an option for the current question; may be called repeatedly
// until the candidate advances. An option that is not part of the current
// question is ignored: the response carries the unchanged session and
// recorded=false.
func (h *TestSessionHandler) SelectAnswer(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.SelectAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	snap, recorded, err := h.sessions.SelectAnswer(claims.UserID, req.Option)
	if err != nil {
		failSession(c, err, nil)
		return
	}
	if !recorded && snap.State != testsession.StateActive {
		response.FailWithData(c, http.StatusConflict, response.ErrSessionNotActive, gin.H{"session": snap})
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": snap, "recorded": recorded})
}

// Advance godoc
// POST /api/v1/candidate/test-session/advance
// Moves to the next question, or submits on the last one.
func (h *TestSessionHandler) Advance(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	snap, err := h.sessions.Advance(c.Request.Context(), claims.UserID)
	if err != nil {
		failSession(c, err, snap)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": snap})
}

// Submit godoc
// POST /api/v1/candidate/test-session/submit
// Ends the attempt early. Repeated calls return the same result.
func (h *TestSessionHandler) Submit(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	snap, submitted, err := h.sessions.Submit(c.Request.Context(), claims.UserID)
	if err != nil {
		failSession(c, err, nil)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": snap, "submitted": submitted})
}

// Close godoc
// DELETE /api/v1/candidate/test-session
// Discards the session and cancels its timer. An unsubmitted attempt is lost.
func (h *TestSessionHandler) Close(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	if err := h.sessions.Close(c.Request.Context(), claims.UserID); err != nil {
		failSession(c, err, nil)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"closed": true})
}

// failSession maps session errors onto HTTP responses. snap is attached when
// the caller has a meaningful state to show.
func failSession(c *gin.Context, err error, snap any) {
	status, code := sessionErrorStatus(err)
	if status == http.StatusInternalServerError {
		response.FailInternal(c, err, "Test session request failed")
		return
	}
	if s, ok := snap.(testsession.Snapshot); ok {
		response.FailWithData(c, status, code, gin.H{"session": s})
		return
	}
	response.Fail(c, status, code)
}

func sessionErrorStatus(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, testsession.ErrNotAuthenticated):
		return http.StatusUnauthorized, response.ErrNotAuthenticated
	case errors.Is(err, testsession.ErrNoTestAssigned):
		return http.StatusNotFound, response.ErrNoTestAssigned
	case errors.Is(err, testsession.ErrTransport), errors.Is(err, testsession.ErrInvalidTest):
		return http.StatusBadGateway, response.ErrProviderUnavailable
	case errors.Is(err, service.ErrSessionActiveElsewhere):
		return http.StatusConflict, response.ErrSessionAlreadyExists
	case errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound, response.ErrSessionNotFound
	case errors.Is(err, testsession.ErrAnswerRequired):
		return http.StatusConflict, response.ErrAnswerRequired
	case errors.Is(err, testsession.ErrNotActive):
		return http.StatusConflict, response.ErrSessionNotActive
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}
