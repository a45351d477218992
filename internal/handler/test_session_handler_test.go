package handler

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stemsi/jobportal-backend/internal/response"
	"github.com/stemsi/jobportal-backend/internal/service"
	"github.com/stemsi/jobportal-backend/internal/testsession"
)

func TestSessionErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   response.ErrCode
	}{
		{testsession.ErrNotAuthenticated, http.StatusUnauthorized, response.ErrNotAuthenticated},
		{testsession.ErrNoTestAssigned, http.StatusNotFound, response.ErrNoTestAssigned},
		{fmt.Errorf("%w: dial tcp", testsession.ErrTransport), http.StatusBadGateway, response.ErrProviderUnavailable},
		{fmt.Errorf("%w: no questions", testsession.ErrInvalidTest), http.StatusBadGateway, response.ErrProviderUnavailable},
		{service.ErrSessionNotFound, http.StatusNotFound, response.ErrSessionNotFound},
		{service.ErrSessionActiveElsewhere, http.StatusConflict, response.ErrSessionAlreadyExists},
		{testsession.ErrAnswerRequired, http.StatusConflict, response.ErrAnswerRequired},
		{testsession.ErrNotActive, http.StatusConflict, response.ErrSessionNotActive},
		{errors.New("boom"), http.StatusInternalServerError, response.ErrInternal},
	}

	for _, tt := range tests {
		status, code := sessionErrorStatus(tt.err)
		if status != tt.status || code != tt.code {
			t.Errorf("%v: got %d %s, want %d %s", tt.err, status, code, tt.status, tt.code)
		}
	}
}

func TestBuildUpgraderOrigins(t *testing.T) {
	open := buildUpgrader(nil)
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	if !open.CheckOrigin(req) {
		t.Fatal("empty allow list should accept any origin")
	}

	strict := buildUpgrader([]string{"https://jobs.example"})
	if strict.CheckOrigin(req) {
		t.Fatal("unlisted origin accepted")
	}
	req.Header.Set("Origin", "HTTPS://JOBS.EXAMPLE")
	if !strict.CheckOrigin(req) {
		t.Fatal("origin match should ignore case")
	}
}
