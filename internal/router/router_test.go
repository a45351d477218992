package router_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/jobportal-backend/internal/config"
	"github.com/stemsi/jobportal-backend/internal/handler"
	"github.com/stemsi/jobportal-backend/internal/middleware"
	"github.com/stemsi/jobportal-backend/internal/model"
	"github.com/stemsi/jobportal-backend/internal/router"
	"github.com/stemsi/jobportal-backend/internal/service"
	"github.com/stemsi/jobportal-backend/internal/testsession"
	"github.com/stemsi/jobportal-backend/internal/validator"
	ws "github.com/stemsi/jobportal-backend/internal/websocket"
)

type store struct {
	mu          sync.Mutex
	tests       map[uuid.UUID]*model.Test
	assignments map[int]uuid.UUID
}

func (s *store) ActiveAssignment(_ context.Context, candidateID int) (*model.TestAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.assignments[candidateID]
	if !ok {
		return nil, model.ErrNoTestAssigned
	}
	return &model.TestAssignment{ID: uuid.New(), TestID: id, CandidateID: candidateID, Status: model.AssignmentStatusActive}, nil
}

func (s *store) GetTest(_ context.Context, testID uuid.UUID) (*model.Test, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	test, ok := s.tests[testID]
	if !ok {
		return nil, model.ErrNoTestAssigned
	}
	cp := *test
	return &cp, nil
}

type lister struct {
	results []model.TestResult
}

func (l lister) ListByCandidate(_ context.Context, candidateID, page, perPage int) ([]model.TestResult, int64, error) {
	var out []model.TestResult
	for _, r := range l.results {
		if r.CandidateID == candidateID {
			out = append(out, r)
		}
	}
	total := int64(len(out))
	start := (page - 1) * perPage
	if start >= len(out) {
		return nil, total, nil
	}
	end := min(start+perPage, len(out))
	return out[start:end], total, nil
}

type env struct {
	engine *gin.Engine
	auth   *service.AuthService
	mr     *miniredis.Miniredis
	test   *model.Test
}

// newEnv wires the real router against miniredis and in-memory stores.
// Candidate 1 is assigned a three-question test; candidate 2 has nothing.
func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	validator.Setup()

	cfg := &config.Config{
		GinMode:            gin.TestMode,
		JWTSecret:          "router-test-secret",
		JWTExpiry:          time.Hour,
		RateLimitPerMinute: 1000,
	}
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	test := &model.Test{
		ID:   uuid.NewString(),
		Role: "Backend Developer",
		Questions: []model.Question{
			{ID: "q1", Question: "2+2?", Options: []string{"3", "4"}, CorrectOption: 1, Duration: 10},
			{ID: "q2", Question: "Capital of France?", Options: []string{"Paris", "Rome"}, CorrectOption: 0, Duration: 10},
			{ID: "q3", Question: "Sky colour?", Options: []string{"green", "blue"}, CorrectOption: 1},
		},
	}
	st := &store{
		tests:       map[uuid.UUID]*model.Test{uuid.MustParse(test.ID): test},
		assignments: map[int]uuid.UUID{1: uuid.MustParse(test.ID)},
	}
	hist := lister{results: []model.TestResult{
		{ID: uuid.New(), CandidateID: 1, Score: 2},
		{ID: uuid.New(), CandidateID: 1, Score: 3},
		{ID: uuid.New(), CandidateID: 2, Score: 1},
	}}

	log := zerolog.Nop()
	auth := service.NewAuthService(cfg)
	provider := service.NewTestProvider(auth, st, rdb, time.Minute, log)
	sink := service.NewQueueResultSink(auth, rdb, log)
	results := service.NewResultService(provider, sink, hist, log)
	sessions := service.NewSessionService(provider, sink, rdb, time.Hour, time.Hour, log)
	t.Cleanup(func() { sessions.CloseAll(context.Background()) })

	engine := router.SetupRouter(auth, &router.Handlers{
		TestSession: handler.NewTestSessionHandler(sessions),
		Result:      handler.NewResultHandler(provider, results),
		WS:          handler.NewWSHandler(sessions, log, nil),
	}, middleware.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute, middleware.CandidateKey), cfg, log)

	return &env{engine: engine, auth: auth, mr: mr, test: test}
}

func (e *env) token(t *testing.T, candidateID int) string {
	t.Helper()
	tok, err := e.auth.GenerateCandidateToken(candidateID)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return tok
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code   string            `json:"code"`
		Fields map[string]string `json:"fields"`
	} `json:"error"`
	Pagination *struct {
		TotalItems int `json:"total_items"`
		TotalPages int `json:"total_pages"`
	} `json:"pagination"`
}

type sessionData struct {
	Session   testsession.Snapshot `json:"session"`
	Submitted bool                 `json:"submitted"`
	Recorded  bool                 `json:"recorded"`
}

func (e *env) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)

	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func decodeSession(t *testing.T, env envelope) sessionData {
	t.Helper()
	var d sessionData
	if err := json.Unmarshal(env.Data, &d); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return d
}

func errCode(env envelope) string {
	if env.Error == nil {
		return ""
	}
	return env.Error.Code
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	w, _ := e.do(t, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing request id header")
	}
}

func TestCandidateRoutesRequireToken(t *testing.T) {
	e := newEnv(t)
	w, env := e.do(t, http.MethodPost, "/api/v1/candidate/test-session", "", nil)
	if w.Code != http.StatusUnauthorized || errCode(env) != "TOKEN_REQUIRED" {
		t.Fatalf("status = %d code = %s", w.Code, errCode(env))
	}
	w, env = e.do(t, http.MethodGet, "/api/v1/candidate/test", "garbage", nil)
	if w.Code != http.StatusUnauthorized || errCode(env) != "TOKEN_INVALID" {
		t.Fatalf("status = %d code = %s", w.Code, errCode(env))
	}
}

func TestSessionLifecycleOverREST(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, 1)
	base := "/api/v1/candidate/test-session"

	w, env := e.do(t, http.MethodPost, base, tok, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("start status = %d body = %s", w.Code, w.Body)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("Cache-Control = %q", got)
	}
	snap := decodeSession(t, env).Session
	if snap.State != testsession.StateActive || snap.Total != 80 || snap.Remaining != 80 {
		t.Fatalf("start snapshot = %+v", snap)
	}
	if strings.Contains(w.Body.String(), "correctOption") {
		t.Fatal("session leaked the answer key")
	}

	// Starting again returns the running session.
	w, env = e.do(t, http.MethodPost, base, tok, nil)
	if w.Code != http.StatusCreated || decodeSession(t, env).Session.TestID != e.test.ID {
		t.Fatalf("restart status = %d", w.Code)
	}

	w, env = e.do(t, http.MethodPost, base+"/advance", tok, nil)
	if w.Code != http.StatusConflict || errCode(env) != "ANSWER_REQUIRED" {
		t.Fatalf("advance without answer: %d %s", w.Code, errCode(env))
	}

	// An option from outside the question is ignored, not rejected.
	w, env = e.do(t, http.MethodPost, base+"/answer", tok, gin.H{"option": "5"})
	if w.Code != http.StatusOK || env.Error != nil {
		t.Fatalf("foreign option: %d %s", w.Code, w.Body)
	}
	if d := decodeSession(t, env); d.Recorded || d.Session.SelectedOption != "" || d.Session.Position != 0 {
		t.Fatalf("foreign option changed the session: %+v", d)
	}

	w, env = e.do(t, http.MethodPost, base+"/answer", tok, gin.H{})
	if w.Code != http.StatusBadRequest || errCode(env) != "VALIDATION_ERROR" {
		t.Fatalf("empty answer: %d %s", w.Code, errCode(env))
	}

	for _, option := range []string{"4", "Rome", "blue"} {
		w, env = e.do(t, http.MethodPost, base+"/answer", tok, gin.H{"option": option})
		if d := decodeSession(t, env); w.Code != http.StatusOK || !d.Recorded || d.Session.SelectedOption != option {
			t.Fatalf("answer %q: %d %s", option, w.Code, w.Body)
		}
		w, env = e.do(t, http.MethodPost, base+"/advance", tok, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("advance after %q: %d %s", option, w.Code, w.Body)
		}
	}

	snap = decodeSession(t, env).Session
	if snap.State != testsession.StateResult || snap.Score == nil || *snap.Score != 2 {
		t.Fatalf("final snapshot = %+v", snap)
	}
	if snap.Saved == nil || !*snap.Saved {
		t.Fatal("result should be reported as saved")
	}

	queued, err := e.mr.List(config.WorkerKey.PersistResultsQueue)
	if err != nil || len(queued) != 1 {
		t.Fatalf("queued = %v, err = %v", queued, err)
	}
	var qr model.QueuedResult
	if err := json.Unmarshal([]byte(queued[0]), &qr); err != nil {
		t.Fatal(err)
	}
	if qr.CandidateID != 1 || qr.Score != 2 || qr.TestID != e.test.ID {
		t.Fatalf("queued result = %+v", qr)
	}

	// Submitting a finished attempt is a no-op.
	w, env = e.do(t, http.MethodPost, base+"/submit", tok, nil)
	if w.Code != http.StatusOK || decodeSession(t, env).Submitted {
		t.Fatalf("repeat submit: %d %s", w.Code, w.Body)
	}
	if n, _ := e.mr.List(config.WorkerKey.PersistResultsQueue); len(n) != 1 {
		t.Fatalf("queue length = %d after repeat submit", len(n))
	}

	w, _ = e.do(t, http.MethodPost, base+"/answer", tok, gin.H{"option": "4"})
	if w.Code != http.StatusConflict {
		t.Fatalf("answer after result: %d", w.Code)
	}

	w, _ = e.do(t, http.MethodDelete, base, tok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("close: %d", w.Code)
	}
	w, env = e.do(t, http.MethodGet, base, tok, nil)
	if w.Code != http.StatusNotFound || errCode(env) != "SESSION_NOT_FOUND" {
		t.Fatalf("get after close: %d %s", w.Code, errCode(env))
	}
}

func TestStartWithoutAssignment(t *testing.T) {
	e := newEnv(t)
	w, env := e.do(t, http.MethodPost, "/api/v1/candidate/test-session", e.token(t, 2), nil)
	if w.Code != http.StatusNotFound || errCode(env) != "NO_TEST_ASSIGNED" {
		t.Fatalf("status = %d code = %s", w.Code, errCode(env))
	}
	if decodeSession(t, env).Session.State != testsession.StateError {
		t.Fatalf("body = %s", w.Body)
	}
}

func TestAssignedTestEnvelope(t *testing.T) {
	e := newEnv(t)

	w, _ := e.do(t, http.MethodGet, "/api/v1/candidate/test", e.token(t, 1), nil)
	var got model.TestEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if w.Code != http.StatusOK || !got.Success || got.Test == nil || got.Test.Questions[0].CorrectOption != 1 {
		t.Fatalf("status = %d envelope = %+v", w.Code, got)
	}

	w, _ = e.do(t, http.MethodGet, "/api/v1/candidate/test", e.token(t, 2), nil)
	got = model.TestEnvelope{}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if w.Code != http.StatusOK || got.Success || got.Test != nil {
		t.Fatalf("status = %d envelope = %+v", w.Code, got)
	}
}

func TestSubmitResult(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, 1)

	sub := model.Submission{
		TestID:    e.test.ID,
		Answers:   map[string]string{"q1": "4", "q2": "Paris", "q9": "x"},
		Score:     3,
		TimeTaken: 500,
	}
	w, env := e.do(t, http.MethodPost, "/api/v1/candidate/results", tok, sub)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", w.Code, w.Body)
	}
	var data struct {
		Result model.Submission `json:"result"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatal(err)
	}
	if data.Result.Score != 2 || data.Result.TimeTaken != 80 || len(data.Result.Answers) != 2 {
		t.Fatalf("graded = %+v", data.Result)
	}

	w, env = e.do(t, http.MethodPost, "/api/v1/candidate/results", tok, model.Submission{TestID: uuid.NewString()})
	if w.Code != http.StatusUnprocessableEntity || errCode(env) != "INVALID_SUBMISSION" {
		t.Fatalf("unknown test: %d %s", w.Code, errCode(env))
	}

	w, env = e.do(t, http.MethodPost, "/api/v1/candidate/results", tok, gin.H{"score": 1})
	if w.Code != http.StatusBadRequest || env.Error == nil || env.Error.Fields["testId"] == "" {
		t.Fatalf("missing test id: %d %s", w.Code, w.Body)
	}
}

func TestResultHistory(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, 1)

	w, env := e.do(t, http.MethodGet, "/api/v1/candidate/results?per_page=1&page=2", tok, nil)
	if w.Code != http.StatusOK || env.Pagination == nil {
		t.Fatalf("status = %d body = %s", w.Code, w.Body)
	}
	if env.Pagination.TotalItems != 2 || env.Pagination.TotalPages != 2 {
		t.Fatalf("pagination = %+v", *env.Pagination)
	}
	var data struct {
		Results []model.TestResult `json:"results"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatal(err)
	}
	if len(data.Results) != 1 || data.Results[0].Score != 3 {
		t.Fatalf("results = %+v", data.Results)
	}

	w, env = e.do(t, http.MethodGet, "/api/v1/candidate/results?per_page=500", tok, nil)
	if w.Code != http.StatusBadRequest || errCode(env) != "VALIDATION_ERROR" {
		t.Fatalf("oversized page: %d %s", w.Code, errCode(env))
	}
}

func TestSessionStream(t *testing.T) {
	e := newEnv(t)
	srv := httptest.NewServer(e.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/v1/candidate/test-session/stream?token=" + e.token(t, 1)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer resp.Body.Close()
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	// readUntil skips events until match accepts one.
	readUntil := func(match func(map[string]json.RawMessage) bool) map[string]json.RawMessage {
		t.Helper()
		for {
			var msg map[string]json.RawMessage
			if err := conn.ReadJSON(&msg); err != nil {
				t.Fatalf("read: %v", err)
			}
			if match(msg) {
				return msg
			}
		}
	}
	event := func(msg map[string]json.RawMessage) string {
		var ev string
		_ = json.Unmarshal(msg["event"], &ev)
		return ev
	}
	session := func(msg map[string]json.RawMessage) testsession.Snapshot {
		var snap testsession.Snapshot
		_ = json.Unmarshal(msg["session"], &snap)
		return snap
	}

	first := readUntil(func(m map[string]json.RawMessage) bool { return event(m) == string(ws.EventState) })
	if s := session(first); s.State != testsession.StateActive || s.QuestionCount != 3 {
		t.Fatalf("first state = %+v", s)
	}

	send := func(req ws.Request) {
		t.Helper()
		if err := conn.WriteJSON(req); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	send(ws.Request{Action: ws.ActionAdvance})
	errMsg := readUntil(func(m map[string]json.RawMessage) bool { return event(m) == string(ws.EventError) })
	if !strings.Contains(string(errMsg["code"]), "ANSWER_REQUIRED") {
		t.Fatalf("error event = %s", errMsg["code"])
	}

	send(ws.Request{Action: ws.ActionSelect, Option: "4"})
	readUntil(func(m map[string]json.RawMessage) bool {
		return event(m) == string(ws.EventState) && session(m).SelectedOption == "4"
	})

	// A foreign option is silently ignored: the next reply is the pong.
	send(ws.Request{Action: ws.ActionSelect, Option: "nope"})
	send(ws.Request{Action: ws.ActionPing})
	reply := readUntil(func(m map[string]json.RawMessage) bool {
		return event(m) == string(ws.EventPong) || event(m) == string(ws.EventError)
	})
	if event(reply) != string(ws.EventPong) {
		t.Fatalf("foreign option produced %s", reply["code"])
	}

	send(ws.Request{Action: "dance"})
	errMsg = readUntil(func(m map[string]json.RawMessage) bool { return event(m) == string(ws.EventError) })
	if !strings.Contains(string(errMsg["code"]), "UNKNOWN_ACTION") {
		t.Fatalf("error event = %s", errMsg["code"])
	}

	send(ws.Request{Action: ws.ActionSubmit})
	final := readUntil(func(m map[string]json.RawMessage) bool {
		return event(m) == string(ws.EventState) && session(m).State == testsession.StateResult
	})
	if s := session(final); s.Score == nil || *s.Score != 1 {
		t.Fatalf("final state = %+v", s)
	}
}

func TestSessionStreamWithoutAssignment(t *testing.T) {
	e := newEnv(t)
	srv := httptest.NewServer(e.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/v1/candidate/test-session/stream?token=" + e.token(t, 2)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer resp.Body.Close()
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg ws.ErrorResponse
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Event != ws.EventError || msg.Code != "NO_TEST_ASSIGNED" {
		t.Fatalf("message = %+v", msg)
	}
}
