package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/jobportal-backend/internal/config"
	"github.com/stemsi/jobportal-backend/internal/testsession"
)

// Session registry errors.
var (
	ErrSessionNotFound        = errors.New("test session not found")
	ErrSessionActiveElsewhere = errors.New("test session running on another instance")
)

const (
	// resultGrace is how long a finished session stays readable before the janitor drops it.
	resultGrace = 5 * time.Minute
	// loadClaimTTL bounds the ownership claim taken while a test is loading.
	loadClaimTTL = time.Minute
)

// SessionService keeps one live test session per candidate.
type SessionService struct {
	provider testsession.Provider
	sink     testsession.Sink
	rdb      *redis.Client
	log      zerolog.Logger
	tick     time.Duration
	ttl      time.Duration
	now      func() time.Time
	// instance identifies this process in candidate ownership claims.
	instance string

	mu       sync.Mutex
	sessions map[int]*liveSession
}

type liveSession struct {
	ctrl      *testsession.Controller
	timer     *testsession.Timer
	cancel    context.CancelFunc
	startedAt time.Time

	mu           sync.Mutex
	closed       bool
	lastActivity time.Time
	subscribers  map[chan testsession.Snapshot]struct{}
}

// NewSessionService creates a new SessionService.
func NewSessionService(
	provider testsession.Provider,
	sink testsession.Sink,
	rdb *redis.Client,
	tick, ttl time.Duration,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		provider: provider,
		sink:     sink,
		rdb:      rdb,
		log:      log.With().Str("component", "session_service").Logger(),
		tick:     tick,
		ttl:      ttl,
		now:      time.Now,
		instance: uuid.NewString(),
		sessions: make(map[int]*liveSession),
	}
}

// Start loads the candidate's assigned test and starts the countdown.
// A live session is returned as-is; a finished one is replaced.
func (s *SessionService) Start(ctx context.Context, candidateID int, token string) (testsession.Snapshot, error) {
	s.mu.Lock()
	var old *liveSession
	if existing, ok := s.sessions[candidateID]; ok {
		if !existing.ctrl.State().Terminal() {
			s.mu.Unlock()
			existing.touch(s.now())
			return existing.ctrl.Snapshot(), nil
		}
		delete(s.sessions, candidateID)
		old = existing
	}

	if err := s.claim(ctx, candidateID); err != nil {
		return testsession.Snapshot{}, err
	}

	ls := &liveSession{
		ctrl:         testsession.New(s.provider, s.sink, s.log.With().Int("candidate_id", candidateID).Logger()),
		startedAt:    s.now(),
		lastActivity: s.now(),
		subscribers:  make(map[chan testsession.Snapshot]struct{}),
	}
	ls.ctrl.OnChange(ls.broadcast)
	s.sessions[candidateID] = ls
	s.mu.Unlock()

	if old != nil {
		old.teardown()
	}

	if err := ls.ctrl.Load(ctx, token); err != nil {
		// Load errors are final for this attempt; the candidate starts over.
		s.mu.Lock()
		if s.sessions[candidateID] == ls {
			delete(s.sessions, candidateID)
		}
		s.mu.Unlock()
		ls.teardown()
		s.clearMarker(ctx, candidateID)
		return ls.ctrl.Snapshot(), err
	}

	if !ls.startTimer(s.tick) {
		return testsession.Snapshot{}, ErrSessionNotFound
	}

	if s.rdb != nil {
		// Hold the claim until the attempt would have finished on its own.
		hold := ls.deadline(resultGrace).Sub(s.now())
		if err := s.rdb.Set(ctx, config.CacheKey.CandidateSessionKey(candidateID), s.instance, hold).Err(); err != nil {
			s.log.Warn().Err(err).Int("candidate_id", candidateID).Msg("Session claim not extended")
		}
	}

	s.log.Info().Int("candidate_id", candidateID).Msg("Test session started")
	return ls.ctrl.Snapshot(), nil
}

// Get returns the current snapshot of the candidate's session.
func (s *SessionService) Get(candidateID int) (testsession.Snapshot, error) {
	ls, err := s.lookup(candidateID)
	if err != nil {
		return testsession.Snapshot{}, err
	}
	return ls.ctrl.Snapshot(), nil
}

// SelectAnswer records an option for the current question. The boolean is
// false when the option was ignored.
func (s *SessionService) SelectAnswer(candidateID int, option string) (testsession.Snapshot, bool, error) {
	ls, err := s.lookup(candidateID)
	if err != nil {
		return testsession.Snapshot{}, false, err
	}
	recorded := ls.ctrl.SelectAnswer(option)
	return ls.ctrl.Snapshot(), recorded, nil
}

// Advance moves to the next question or submits on the last one.
func (s *SessionService) Advance(ctx context.Context, candidateID int) (testsession.Snapshot, error) {
	ls, err := s.lookup(candidateID)
	if err != nil {
		return testsession.Snapshot{}, err
	}
	// The last advance submits; a dropped client must not cancel the sink call.
	err = ls.ctrl.Advance(context.WithoutCancel(ctx))
	return ls.ctrl.Snapshot(), err
}

// Submit finishes the attempt early. The boolean is false when the attempt
// had already been submitted.
func (s *SessionService) Submit(ctx context.Context, candidateID int) (testsession.Snapshot, bool, error) {
	ls, err := s.lookup(candidateID)
	if err != nil {
		return testsession.Snapshot{}, false, err
	}
	submitted := ls.ctrl.Submit(context.WithoutCancel(ctx))
	return ls.ctrl.Snapshot(), submitted, nil
}

// Subscribe streams snapshots of the candidate's session. The first value is
// the current snapshot. The caller must invoke the returned cancel function.
func (s *SessionService) Subscribe(candidateID int) (<-chan testsession.Snapshot, func(), error) {
	ls, err := s.lookup(candidateID)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan testsession.Snapshot, 8)
	ls.mu.Lock()
	if ls.closed {
		ls.mu.Unlock()
		return nil, nil, ErrSessionNotFound
	}
	ls.subscribers[ch] = struct{}{}
	ch <- ls.ctrl.Snapshot()
	ls.mu.Unlock()

	cancel := func() {
		ls.mu.Lock()
		if _, ok := ls.subscribers[ch]; ok {
			delete(ls.subscribers, ch)
			close(ch)
		}
		ls.mu.Unlock()
	}
	return ch, cancel, nil
}

// Close tears the candidate's session down: the countdown is cancelled and
// the attempt discarded.
func (s *SessionService) Close(ctx context.Context, candidateID int) error {
	s.mu.Lock()
	ls, ok := s.sessions[candidateID]
	if ok {
		delete(s.sessions, candidateID)
	}
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	ls.teardown()
	s.clearMarker(ctx, candidateID)
	s.log.Info().Int("candidate_id", candidateID).Str("state", string(ls.ctrl.State())).Msg("Test session closed")
	return nil
}

// Sweep drops finished sessions past their grace period, and sessions still
// running more than the TTL after their allotted time ran out. It returns
// how many were removed.
//
// A running attempt is normally submitted by its own timer; the TTL only
// catches a countdown that stalled. Such an attempt is submitted before it
// is dropped.
func (s *SessionService) Sweep(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	var expired []int
	for id, ls := range s.sessions {
		ls.mu.Lock()
		idle := now.Sub(ls.lastActivity)
		ls.mu.Unlock()

		if ls.ctrl.State().Terminal() {
			if idle > resultGrace {
				expired = append(expired, id)
			}
			continue
		}
		if now.After(ls.deadline(s.ttl)) {
			expired = append(expired, id)
		}
	}
	victims := make([]*liveSession, 0, len(expired))
	for _, id := range expired {
		victims = append(victims, s.sessions[id])
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for i, ls := range victims {
		if ls.ctrl.Submit(context.WithoutCancel(ctx)) {
			s.log.Warn().Int("candidate_id", expired[i]).Msg("Stalled test session submitted by janitor")
		}
		ls.teardown()
		s.clearMarker(ctx, expired[i])
	}
	if len(victims) > 0 {
		s.log.Debug().Int("count", len(victims)).Msg("Swept test sessions")
	}
	return len(victims)
}

// RunJanitor calls Sweep every interval until ctx is cancelled.
func (s *SessionService) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// CloseAll tears down every session; used on shutdown.
func (s *SessionService) CloseAll(ctx context.Context) {
	s.mu.Lock()
	all := s.sessions
	s.sessions = make(map[int]*liveSession)
	s.mu.Unlock()

	for id, ls := range all {
		ls.teardown()
		s.clearMarker(ctx, id)
	}
}

func (s *SessionService) lookup(candidateID int) (*liveSession, error) {
	s.mu.Lock()
	ls, ok := s.sessions[candidateID]
	s.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	ls.touch(s.now())
	return ls, nil
}

// claim marks this instance as the owner of the candidate's attempt. A claim
// held by another instance means the candidate is mid-attempt there. Redis
// failures do not block the candidate.
func (s *SessionService) claim(ctx context.Context, candidateID int) error {
	if s.rdb == nil {
		return nil
	}
	key := config.CacheKey.CandidateSessionKey(candidateID)

	ok, err := s.rdb.SetNX(ctx, key, s.instance, loadClaimTTL).Result()
	if err != nil {
		s.log.Warn().Err(err).Int("candidate_id", candidateID).Msg("Session claim skipped")
		return nil
	}
	if ok {
		return nil
	}

	owner, err := s.rdb.Get(ctx, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// Expired between SETNX and GET.
		return s.claim(ctx, candidateID)
	case err != nil:
		s.log.Warn().Err(err).Int("candidate_id", candidateID).Msg("Session claim unreadable")
		return nil
	case owner != s.instance:
		return ErrSessionActiveElsewhere
	}
	return s.rdb.Expire(ctx, key, loadClaimTTL).Err()
}

// clearMarker releases this instance's claim; another instance's claim is left alone.
func (s *SessionService) clearMarker(ctx context.Context, candidateID int) {
	if s.rdb == nil {
		return
	}
	key := config.CacheKey.CandidateSessionKey(candidateID)
	if owner, err := s.rdb.Get(ctx, key).Result(); err == nil && owner == s.instance {
		_ = s.rdb.Del(ctx, key).Err()
	}
}

// deadline is when a still-running session is considered stalled.
func (ls *liveSession) deadline(ttl time.Duration) time.Time {
	allotted := time.Duration(ls.ctrl.TotalTime()) * time.Second
	return ls.startedAt.Add(allotted + ttl)
}

func (ls *liveSession) touch(now time.Time) {
	ls.mu.Lock()
	ls.lastActivity = now
	ls.mu.Unlock()
}

// broadcast fans a snapshot out without blocking the controller; a slow
// subscriber loses its oldest pending snapshot.
func (ls *liveSession) broadcast(snap testsession.Snapshot) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for ch := range ls.subscribers {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// startTimer attaches the countdown unless the session was torn down while loading.
func (ls *liveSession) startTimer(tick time.Duration) bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.closed {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	ls.cancel = cancel
	ls.timer = ls.ctrl.StartTimer(ctx, tick)
	return true
}

func (ls *liveSession) teardown() {
	ls.mu.Lock()
	ls.closed = true
	timer, cancel := ls.timer, ls.cancel
	for ch := range ls.subscribers {
		delete(ls.subscribers, ch)
		close(ch)
	}
	ls.mu.Unlock()

	// Stop outside ls.mu: a running tick may be waiting on it in broadcast.
	if timer != nil {
		timer.Stop()
	}
	if cancel != nil {
		cancel()
	}
}
