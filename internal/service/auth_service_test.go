package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stemsi/jobportal-backend/internal/config"
	"github.com/stemsi/jobportal-backend/internal/model"
)

func testConfig() *config.Config {
	return &config.Config{JWTSecret: "test-secret", JWTExpiry: time.Hour}
}

func TestCandidateTokenRoundTrip(t *testing.T) {
	auth := NewAuthService(testConfig())

	token, err := auth.GenerateCandidateToken(42)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	id, err := auth.CandidateID(token)
	if err != nil {
		t.Fatalf("candidate id: %v", err)
	}
	if id != 42 {
		t.Fatalf("id = %d, want 42", id)
	}
}

func TestCandidateIDRejectsBadTokens(t *testing.T) {
	auth := NewAuthService(testConfig())
	other := NewAuthService(&config.Config{JWTSecret: "other", JWTExpiry: time.Hour})
	foreign, _ := other.GenerateCandidateToken(1)

	expired := NewAuthService(&config.Config{JWTSecret: "test-secret", JWTExpiry: -time.Minute})
	stale, _ := expired.GenerateCandidateToken(1)

	for name, tok := range map[string]string{
		"empty":        "",
		"garbage":      "not-a-jwt",
		"wrong secret": foreign,
		"expired":      stale,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := auth.CandidateID(tok); !errors.Is(err, model.ErrNotAuthenticated) {
				t.Fatalf("err = %v, want ErrNotAuthenticated", err)
			}
		})
	}
}
