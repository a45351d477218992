package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/jobportal-backend/internal/middleware"
	"github.com/stemsi/jobportal-backend/internal/model"
	"github.com/stemsi/jobportal-backend/internal/response"
	"github.com/stemsi/jobportal-backend/internal/service"
	"github.com/stemsi/jobportal-backend/internal/validator"
)

// ResultHandler serves the candidate REST contract used by out-of-process
// session controllers, plus the result history.
type ResultHandler struct {
	tests   *service.TestProvider
	results *service.ResultService
}

// NewResultHandler creates a new ResultHandler.
func NewResultHandler(tests *service.TestProvider, results *service.ResultService) *ResultHandler {
	return &ResultHandler{tests: tests, results: results}
}

// AssignedTest godoc
// GET /api/v1/candidate/test
// Returns the bare test envelope, correct options included, for clients
// that run the session themselves.
func (h *ResultHandler) AssignedTest(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	test, err := h.tests.AssignedTestFor(c.Request.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, model.ErrNoTestAssigned) {
			c.JSON(http.StatusOK, model.TestEnvelope{
				Success: false,
				Message: response.GetMessage(response.ErrNoTestAssigned),
			})
			return
		}
		response.Logger(c).Error().Err(err).Msg("Assigned test lookup failed")
		response.Fail(c, http.StatusBadGateway, response.ErrProviderUnavailable)
		return
	}

	c.JSON(http.StatusOK, model.TestEnvelope{Success: true, Test: test})
}

// SubmitResult godoc
// POST /api/v1/candidate/results
// Accepts a finished attempt. The score is recomputed server-side.
func (h *ResultHandler) SubmitResult(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var sub model.Submission
	if fields := validator.Bind(c, &sub); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	graded, err := h.results.Record(c.Request.Context(), claims.UserID, sub)
	if err != nil {
		if errors.Is(err, service.ErrInvalidSubmission) {
			response.Fail(c, http.StatusUnprocessableEntity, response.ErrInvalidSubmission)
			return
		}
		response.FailInternal(c, err, "Result submission failed")
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"result": graded})
}

// History godoc
// GET /api/v1/candidate/results?page=&per_page=
func (h *ResultHandler) History(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var q validator.PageQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	q.Normalize()

	results, page, err := h.results.History(c.Request.Context(), claims.UserID, q.Page, q.PerPage)
	if err != nil {
		response.FailInternal(c, err, "Result history failed")
		return
	}
	response.SuccessWithPagination(c, http.StatusOK, gin.H{"results": results}, page)
}
