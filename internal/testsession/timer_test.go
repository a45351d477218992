package testsession_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/jobportal-backend/internal/model"
	"github.com/stemsi/jobportal-backend/internal/testsession"
)

func shortTest(seconds int) *model.Test {
	return &model.Test{
		ID: "timed",
		Questions: []model.Question{
			{ID: "q1", Options: []string{"a", "b"}, CorrectOption: 0, Duration: seconds},
		},
	}
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestTimerAutoSubmitsOnExpiry(t *testing.T) {
	sink := &fakeSink{}
	c := newLoaded(t, shortTest(3), sink)
	c.SelectAnswer("a")

	timer := c.StartTimer(context.Background(), time.Millisecond)
	waitClosed(t, timer.Stopped(), "timer exit")

	if c.State() != testsession.StateResult {
		t.Fatalf("state = %s, want RESULT", c.State())
	}
	if sink.count() != 1 {
		t.Fatalf("sink submissions = %d, want 1", sink.count())
	}
	if sub, _ := c.Submission(); sub.Score != 1 || sub.TimeTaken != 3 {
		t.Fatalf("submission = %+v", sub)
	}
	timer.Stop()
}

func TestTimerStopCancelsTicks(t *testing.T) {
	c := newLoaded(t, shortTest(1000), &fakeSink{})

	timer := c.StartTimer(context.Background(), time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	timer.Stop()
	timer.Stop()

	frozen := c.Remaining()
	time.Sleep(20 * time.Millisecond)
	if c.Remaining() != frozen {
		t.Fatalf("remaining moved after Stop: %d -> %d", frozen, c.Remaining())
	}
	if frozen >= 1000 {
		t.Fatalf("expected at least one tick, remaining = %d", frozen)
	}
	if c.State() != testsession.StateActive {
		t.Fatalf("state = %s, want ACTIVE", c.State())
	}
}

func TestTimerExitsAfterManualSubmit(t *testing.T) {
	sink := &fakeSink{}
	c := newLoaded(t, shortTest(1000), sink)

	timer := c.StartTimer(context.Background(), time.Hour)
	c.Submit(context.Background())

	waitClosed(t, timer.Stopped(), "timer exit after submit")
	if sink.count() != 1 {
		t.Fatalf("sink submissions = %d, want 1", sink.count())
	}
}

func TestTimerStopsOnContextCancel(t *testing.T) {
	c := newLoaded(t, shortTest(1000), &fakeSink{})
	ctx, cancel := context.WithCancel(context.Background())

	timer := c.StartTimer(ctx, time.Millisecond)
	cancel()

	waitClosed(t, timer.Stopped(), "timer exit after cancel")
}

// gatedSink blocks SaveResult until released and records the context error
// seen after the wait.
type gatedSink struct {
	entered chan struct{}
	release chan struct{}
	ctxErr  chan error
}

func newGatedSink() *gatedSink {
	return &gatedSink{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		ctxErr:  make(chan error, 1),
	}
}

func (s *gatedSink) SaveResult(ctx context.Context, _ string, _ model.Submission) error {
	close(s.entered)
	<-s.release
	s.ctxErr <- ctx.Err()
	return ctx.Err()
}

func TestTimerStopDoesNotAbortAutoSubmit(t *testing.T) {
	sink := newGatedSink()
	c := testsession.New(&fakeProvider{test: shortTest(2)}, sink, zerolog.Nop())
	if err := c.Load(context.Background(), "token"); err != nil {
		t.Fatalf("load: %v", err)
	}

	timer := c.StartTimer(context.Background(), time.Millisecond)
	waitClosed(t, sink.entered, "sink call")
	if c.State() != testsession.StateSubmitting {
		t.Fatalf("state = %s, want SUBMITTING", c.State())
	}

	stopped := make(chan struct{})
	go func() {
		timer.Stop()
		close(stopped)
	}()
	time.Sleep(20 * time.Millisecond)
	close(sink.release)
	waitClosed(t, stopped, "timer stop")

	if err := <-sink.ctxErr; err != nil {
		t.Fatalf("sink context = %v, want live", err)
	}
	if c.State() != testsession.StateResult || c.PersistErr() != nil {
		t.Fatalf("state = %s persistErr = %v", c.State(), c.PersistErr())
	}
}
