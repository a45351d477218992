package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/jobportal-backend/internal/config"
	"github.com/stemsi/jobportal-backend/internal/model"
	"golang.org/x/sync/singleflight"
)

// TestStore is the persistent source of tests and assignments.
type TestStore interface {
	ActiveAssignment(ctx context.Context, candidateID int) (*model.TestAssignment, error)
	GetTest(ctx context.Context, testID uuid.UUID) (*model.Test, error)
}

// TestProvider resolves a candidate token to the assigned test, caching
// test payloads in Redis.
type TestProvider struct {
	auth  *AuthService
	store TestStore
	rdb   *redis.Client
	ttl   time.Duration
	log   zerolog.Logger
	sf    singleflight.Group
}

// NewTestProvider creates a new TestProvider.
func NewTestProvider(auth *AuthService, store TestStore, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *TestProvider {
	return &TestProvider{
		auth:  auth,
		store: store,
		rdb:   rdb,
		ttl:   ttl,
		log:   log.With().Str("component", "test_provider").Logger(),
	}
}

// AssignedTest implements testsession.Provider.
func (p *TestProvider) AssignedTest(ctx context.Context, token string) (*model.Test, error) {
	candidateID, err := p.auth.CandidateID(token)
	if err != nil {
		return nil, err
	}
	return p.AssignedTestFor(ctx, candidateID)
}

// AssignedTestFor returns the active test of an already authenticated candidate.
func (p *TestProvider) AssignedTestFor(ctx context.Context, candidateID int) (*model.Test, error) {
	assignment, err := p.store.ActiveAssignment(ctx, candidateID)
	if err != nil {
		if errors.Is(err, model.ErrNoTestAssigned) {
			return nil, err
		}
		return nil, fmt.Errorf("find assignment: %w", err)
	}
	return p.Test(ctx, assignment.TestID)
}

// Test returns a test by ID, reading through the Redis cache. Concurrent
// misses for the same test share one database load.
func (p *TestProvider) Test(ctx context.Context, testID uuid.UUID) (*model.Test, error) {
	key := config.CacheKey.TestPayloadKey(testID.String())

	if test, ok := p.cached(ctx, key, testID); ok {
		return test, nil
	}

	v, err, _ := p.sf.Do(key, func() (interface{}, error) {
		// Another caller may have filled the cache while we waited.
		if test, ok := p.cached(ctx, key, testID); ok {
			return test, nil
		}

		test, err := p.store.GetTest(ctx, testID)
		if err != nil {
			if errors.Is(err, model.ErrNoTestAssigned) {
				return nil, err
			}
			return nil, fmt.Errorf("load test: %w", err)
		}

		if raw, err := json.Marshal(test); err == nil {
			if err := p.rdb.Set(ctx, key, raw, p.ttlWithJitter()).Err(); err != nil {
				p.log.Warn().Err(err).Str("test_id", testID.String()).Msg("Test cache write failed")
			}
		}
		return test, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Test), nil
}

func (p *TestProvider) cached(ctx context.Context, key string, testID uuid.UUID) (*model.Test, bool) {
	data, err := p.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var test model.Test
		if jsonErr := json.Unmarshal(data, &test); jsonErr == nil {
			return &test, true
		}
		p.log.Warn().Str("test_id", testID.String()).Msg("Corrupt cached test payload, reloading")
	case errors.Is(err, redis.Nil):
		// Cache miss.
	default:
		// Redis trouble should not block a candidate; fall back to PostgreSQL.
		p.log.Warn().Err(err).Str("test_id", testID.String()).Msg("Test cache read failed")
	}
	return nil, false
}

// ttlWithJitter spreads expiries so tests cached together do not all reload at once.
func (p *TestProvider) ttlWithJitter() time.Duration {
	if p.ttl <= 0 {
		return 0
	}
	return p.ttl + rand.N(p.ttl/10+1)
}

// Invalidate drops a cached test payload.
func (p *TestProvider) Invalidate(ctx context.Context, testID uuid.UUID) error {
	return p.rdb.Del(ctx, config.CacheKey.TestPayloadKey(testID.String())).Err()
}
