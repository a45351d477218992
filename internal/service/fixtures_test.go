package service

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/jobportal-backend/internal/model"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

// memoryStore is an in-memory TestStore.
type memoryStore struct {
	mu          sync.Mutex
	tests       map[uuid.UUID]*model.Test
	assignments map[int]uuid.UUID
	gets        int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		tests:       make(map[uuid.UUID]*model.Test),
		assignments: make(map[int]uuid.UUID),
	}
}

func (m *memoryStore) add(test *model.Test, candidates ...int) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.MustParse(test.ID)
	m.tests[id] = test
	for _, c := range candidates {
		m.assignments[c] = id
	}
	return id
}

func (m *memoryStore) getCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets
}

func (m *memoryStore) ActiveAssignment(_ context.Context, candidateID int) (*model.TestAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.assignments[candidateID]
	if !ok {
		return nil, model.ErrNoTestAssigned
	}
	return &model.TestAssignment{
		ID:          uuid.New(),
		TestID:      id,
		CandidateID: candidateID,
		Status:      model.AssignmentStatusActive,
	}, nil
}

func (m *memoryStore) GetTest(_ context.Context, testID uuid.UUID) (*model.Test, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	test, ok := m.tests[testID]
	if !ok {
		return nil, model.ErrNoTestAssigned
	}
	cp := *test
	cp.Questions = append([]model.Question(nil), test.Questions...)
	return &cp, nil
}

// sampleTest has three questions worth 2+3+60 seconds; the correct options
// are "4", "Paris" and "blue".
func sampleTest() *model.Test {
	return &model.Test{
		ID:   uuid.NewString(),
		Role: "Frontend Developer",
		Questions: []model.Question{
			{ID: "q1", Question: "2+2?", Options: []string{"3", "4"}, CorrectOption: 1, Duration: 2},
			{ID: "q2", Question: "Capital of France?", Options: []string{"Paris", "Rome"}, CorrectOption: 0, Duration: 3},
			{ID: "q3", Question: "Sky colour?", Options: []string{"green", "blue"}, CorrectOption: 1},
		},
	}
}
