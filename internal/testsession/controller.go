// Package testsession drives one candidate through a timed multiple-choice test.
//
// The Controller is a plain state machine: Load, SelectAnswer, Advance, Tick and
// Submit are all synchronous and can be exercised without a running timer.
// StartTimer attaches the one-second countdown as a separate, cancellable handle.
package testsession

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stemsi/jobportal-backend/internal/model"
)

// Controller owns a single attempt.
type Controller struct {
	provider Provider
	sink     Sink
	log      zerolog.Logger

	mu         sync.Mutex
	state      State
	loading    bool
	err        error
	persistErr error
	token      string

	test      *model.Test
	total     int
	remaining int
	position  int
	answers   map[string]string

	submission *model.Submission
	version    uint64

	// done is closed once the attempt can no longer be ACTIVE.
	done     chan struct{}
	doneOnce sync.Once

	observers []func(Snapshot)
}

// New creates a controller in the LOADING state.
func New(provider Provider, sink Sink, log zerolog.Logger) *Controller {
	return &Controller{
		provider: provider,
		sink:     sink,
		log:      log.With().Str("component", "test_session").Logger(),
		state:    StateLoading,
		answers:  make(map[string]string),
		done:     make(chan struct{}),
	}
}

// OnChange registers fn to be called with a fresh snapshot after every transition.
// Observers run outside the controller lock and must not block.
func (c *Controller) OnChange(fn func(Snapshot)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// Done is closed when the attempt leaves (or never reaches) the ACTIVE state.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// ────────────────────────────────────────────────────────────────────────────
// Operations
// ────────────────────────────────────────────────────────────────────────────

// Load fetches the assigned test and starts the attempt.
// Every failure moves the controller to ERROR; there is no automatic retry.
func (c *Controller) Load(ctx context.Context, token string) error {
	c.mu.Lock()
	if c.state != StateLoading || c.loading {
		c.mu.Unlock()
		return ErrAlreadyLoaded
	}
	if token == "" {
		c.failLocked(ErrNotAuthenticated)
		snap := c.changedLocked()
		c.mu.Unlock()
		c.notify(snap)
		return ErrNotAuthenticated
	}
	c.loading = true
	c.token = token
	c.mu.Unlock()

	test, err := c.provider.AssignedTest(ctx, token)
	if err == nil {
		err = checkTest(test)
	}

	c.mu.Lock()
	c.loading = false
	if err != nil {
		err = classifyLoadError(err)
		c.failLocked(err)
		snap := c.changedLocked()
		c.mu.Unlock()
		c.notify(snap)
		return err
	}

	c.test = test
	c.total = test.TotalDuration()
	c.remaining = c.total
	c.position = 0
	c.state = StateActive
	c.log.Debug().
		Str("test_id", test.ID).
		Int("questions", len(test.Questions)).
		Int("total_seconds", c.total).
		Msg("Test loaded")
	snap := c.changedLocked()
	c.mu.Unlock()
	c.notify(snap)
	return nil
}

// SelectAnswer records option for the current question, replacing any earlier
// choice. Options that do not belong to the current question are ignored.
func (c *Controller) SelectAnswer(option string) bool {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return false
	}
	q := c.test.Questions[c.position]
	if !q.HasOption(option) {
		c.mu.Unlock()
		c.log.Debug().Str("question_id", q.ID).Msg("Ignoring option outside current question")
		return false
	}
	c.answers[q.ID] = option
	snap := c.changedLocked()
	c.mu.Unlock()
	c.notify(snap)
	return true
}

// Advance moves to the next question, or submits when on the last one.
// It is rejected while the current question has no answer.
func (c *Controller) Advance(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return ErrNotActive
	}
	q := c.test.Questions[c.position]
	if _, ok := c.answers[q.ID]; !ok {
		c.mu.Unlock()
		return ErrAnswerRequired
	}

	if c.position == len(c.test.Questions)-1 {
		sub, token := c.beginSubmitLocked("last_question")
		snap := c.changedLocked()
		c.mu.Unlock()
		c.notify(snap)
		c.finishSubmit(ctx, token, sub)
		return nil
	}

	c.position++
	snap := c.changedLocked()
	c.mu.Unlock()
	c.notify(snap)
	return nil
}

// Tick decrements the remaining time by one second, floored at zero, and
// submits automatically when it reaches zero. It returns the remaining time.
// Outside ACTIVE it does nothing.
func (c *Controller) Tick(ctx context.Context) int {
	c.mu.Lock()
	if c.state != StateActive {
		r := c.remaining
		c.mu.Unlock()
		return r
	}
	if c.remaining > 0 {
		c.remaining--
	}
	r := c.remaining

	if r == 0 {
		sub, token := c.beginSubmitLocked("timer_expired")
		snap := c.changedLocked()
		c.mu.Unlock()
		c.notify(snap)
		c.finishSubmit(ctx, token, sub)
		return 0
	}

	snap := c.changedLocked()
	c.mu.Unlock()
	c.notify(snap)
	return r
}

// Submit scores the attempt and sends it to the sink. Only the first call
// while ACTIVE has any effect; it reports whether this call submitted.
func (c *Controller) Submit(ctx context.Context) bool {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return false
	}
	sub, token := c.beginSubmitLocked("manual")
	snap := c.changedLocked()
	c.mu.Unlock()
	c.notify(snap)
	c.finishSubmit(ctx, token, sub)
	return true
}

// ────────────────────────────────────────────────────────────────────────────
// Accessors
// ────────────────────────────────────────────────────────────────────────────

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the load error that moved the controller to ERROR.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// PersistErr returns the sink failure recorded during submission, if any.
func (c *Controller) PersistErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.persistErr
}

// Remaining returns the remaining time in seconds.
func (c *Controller) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// TotalTime returns the allotted time in seconds.
func (c *Controller) TotalTime() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Position returns the 0-based index of the current question.
func (c *Controller) Position() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

// Answers returns a copy of the recorded answers.
func (c *Controller) Answers() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyAnswers(c.answers)
}

// Submission returns the payload built at submission time.
func (c *Controller) Submission() (model.Submission, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.submission == nil {
		return model.Submission{}, false
	}
	sub := *c.submission
	sub.Answers = copyAnswers(sub.Answers)
	return sub, true
}

// ────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ────────────────────────────────────────────────────────────────────────────

// beginSubmitLocked freezes the attempt and builds the payload. Must be
// called with c.mu held and state ACTIVE.
func (c *Controller) beginSubmitLocked(trigger string) (model.Submission, string) {
	sub := model.Submission{
		TestID:    c.test.ID,
		Answers:   copyAnswers(c.answers),
		Score:     Score(c.test.Questions, c.answers),
		TimeTaken: c.total - c.remaining,
	}
	c.submission = &sub
	c.state = StateSubmitting
	c.closeDone()

	c.log.Info().
		Str("test_id", sub.TestID).
		Str("trigger", trigger).
		Int("score", sub.Score).
		Int("answered", len(sub.Answers)).
		Int("time_taken", sub.TimeTaken).
		Msg("Submitting attempt")

	return sub, c.token
}

// finishSubmit calls the sink without holding the lock, then moves to RESULT
// whatever the sink returned.
func (c *Controller) finishSubmit(ctx context.Context, token string, sub model.Submission) {
	var err error
	if c.sink != nil {
		err = c.sink.SaveResult(ctx, token, sub)
	}

	c.mu.Lock()
	if err != nil {
		c.persistErr = fmt.Errorf("%w: %w", ErrSubmissionPersist, err)
		c.log.Warn().Err(err).Str("test_id", sub.TestID).Msg("Result sink failed; showing local score")
	}
	c.state = StateResult
	snap := c.changedLocked()
	c.mu.Unlock()
	c.notify(snap)
}

func (c *Controller) failLocked(err error) {
	c.err = err
	c.state = StateError
	c.closeDone()
	c.log.Warn().Err(err).Msg("Test session failed to load")
}

func (c *Controller) closeDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Controller) notify(snap Snapshot) {
	c.mu.Lock()
	observers := make([]func(Snapshot), len(c.observers))
	copy(observers, c.observers)
	c.mu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
}

func checkTest(test *model.Test) error {
	if test == nil || len(test.Questions) == 0 {
		return ErrNoTestAssigned
	}
	if err := test.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTest, err)
	}
	return nil
}

// classifyLoadError maps provider errors onto the load error taxonomy.
func classifyLoadError(err error) error {
	switch {
	case errors.Is(err, ErrNotAuthenticated), errors.Is(err, ErrNoTestAssigned):
		return err
	case errors.Is(err, ErrTransport):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
}

func copyAnswers(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
