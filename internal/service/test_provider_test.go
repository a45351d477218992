package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/jobportal-backend/internal/config"
	"github.com/stemsi/jobportal-backend/internal/model"
)

func TestTestProviderCachesPayload(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := newMemoryStore()
	test := sampleTest()
	testID := store.add(test, 7)

	auth := NewAuthService(testConfig())
	p := NewTestProvider(auth, store, rdb, time.Minute, zerolog.Nop())
	token, _ := auth.GenerateCandidateToken(7)

	for i := 0; i < 3; i++ {
		got, err := p.AssignedTest(context.Background(), token)
		if err != nil {
			t.Fatalf("assigned test: %v", err)
		}
		if got.ID != test.ID || len(got.Questions) != 3 {
			t.Fatalf("got %+v", got)
		}
	}
	if store.getCount() != 1 {
		t.Fatalf("store reads = %d, want 1", store.getCount())
	}
	if !mr.Exists(config.CacheKey.TestPayloadKey(testID.String())) {
		t.Fatal("payload not cached")
	}

	if err := p.Invalidate(context.Background(), testID); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := p.Test(context.Background(), testID); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if store.getCount() != 2 {
		t.Fatalf("store reads after invalidate = %d, want 2", store.getCount())
	}
}

func TestTestProviderRecoversFromCorruptCache(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := newMemoryStore()
	testID := store.add(sampleTest())

	mr.Set(config.CacheKey.TestPayloadKey(testID.String()), "{not json")

	p := NewTestProvider(NewAuthService(testConfig()), store, rdb, time.Minute, zerolog.Nop())
	got, err := p.Test(context.Background(), testID)
	if err != nil {
		t.Fatalf("test: %v", err)
	}
	if len(got.Questions) != 3 {
		t.Fatalf("questions = %d", len(got.Questions))
	}
}

func TestTestProviderFallsBackWhenRedisIsDown(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := newMemoryStore()
	testID := store.add(sampleTest())
	mr.Close()

	p := NewTestProvider(NewAuthService(testConfig()), store, rdb, time.Minute, zerolog.Nop())
	if _, err := p.Test(context.Background(), testID); err != nil {
		t.Fatalf("expected database fallback, got %v", err)
	}
}

func TestTestProviderErrors(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := newMemoryStore()
	auth := NewAuthService(testConfig())
	p := NewTestProvider(auth, store, rdb, time.Minute, zerolog.Nop())

	t.Run("bad token", func(t *testing.T) {
		_, err := p.AssignedTest(context.Background(), "garbage")
		if !errors.Is(err, model.ErrNotAuthenticated) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("no assignment", func(t *testing.T) {
		token, _ := auth.GenerateCandidateToken(99)
		_, err := p.AssignedTest(context.Background(), token)
		if !errors.Is(err, model.ErrNoTestAssigned) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("unknown test", func(t *testing.T) {
		_, err := p.Test(context.Background(), uuid.New())
		if !errors.Is(err, model.ErrNoTestAssigned) {
			t.Fatalf("err = %v", err)
		}
	})
}
