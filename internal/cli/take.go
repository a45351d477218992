package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stemsi/jobportal-backend/internal/config"
	"github.com/stemsi/jobportal-backend/internal/logger"
	"github.com/stemsi/jobportal-backend/internal/remote"
	"github.com/stemsi/jobportal-backend/internal/testsession"
	"golang.org/x/term"
)

const tokenEnv = "CANDIDATE_TOKEN"

// lowTimeWarning is when the remaining-time warning is printed.
const lowTimeWarning = 10

// NewTakeCmd builds `testctl take`.
func NewTakeCmd(cfg *config.Config) *cobra.Command {
	var (
		apiURL string
		token  string
		tick   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "take",
		Short: "Load the assigned test and answer it against the clock",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tok, err := resolveToken(token, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			// Logs go to stderr at warn level so they do not interleave with questions.
			log := logger.SetupWithWriter("warn", "json", cmd.ErrOrStderr())
			client := remote.NewClient(apiURL, log)

			return Take(cmd.Context(), TakeOptions{
				Provider: client,
				Sink:     client,
				Token:    tok,
				Tick:     tick,
				In:       cmd.InOrStdin(),
				Out:      cmd.OutOrStdout(),
				Log:      log,
			})
		},
	}

	cmd.Flags().StringVar(&apiURL, "api", cfg.RemoteAPIURL, "base URL of the candidate API")
	cmd.Flags().StringVar(&token, "token", "", "candidate token (default $"+tokenEnv+", else prompt)")
	cmd.Flags().DurationVar(&tick, "tick", testsession.DefaultTickInterval, "countdown tick interval")
	_ = cmd.Flags().MarkHidden("tick")
	return cmd
}

func resolveToken(flagValue string, prompt io.Writer) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env := strings.TrimSpace(os.Getenv(tokenEnv)); env != "" {
		return env, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		// Empty token: the session reports NOT_AUTHENTICATED without calling the API.
		return "", nil
	}
	fmt.Fprint(prompt, "Candidate token: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// TakeOptions wires a terminal session.
type TakeOptions struct {
	Provider testsession.Provider
	Sink     testsession.Sink
	Token    string
	Tick     time.Duration
	In       io.Reader
	Out      io.Writer
	Log      zerolog.Logger
}

// Take runs one attempt: it loads the test, starts the countdown, reads
// commands from In and prints to Out until the attempt reaches RESULT or the
// candidate quits.
//
// Commands: an option number selects it, n or an empty line advances,
// s submits early, q quits without submitting.
func Take(ctx context.Context, opts TakeOptions) error {
	ctrl := testsession.New(opts.Provider, opts.Sink, opts.Log)
	p := &printer{out: opts.Out, lastPos: -1}

	finished := make(chan testsession.Snapshot, 1)
	ctrl.OnChange(func(snap testsession.Snapshot) {
		p.render(snap)
		if snap.State == testsession.StateResult {
			select {
			case finished <- snap:
			default:
			}
		}
	})

	if err := ctrl.Load(ctx, opts.Token); err != nil {
		p.printf("Could not load your test: %s\n", loadErrorText(err))
		return err
	}

	timer := ctrl.StartTimer(ctx, opts.Tick)
	defer timer.Stop()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(opts.In)
		for sc.Scan() {
			select {
			case lines <- strings.TrimSpace(sc.Text()):
			case <-ctrl.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case snap := <-finished:
			p.result(snap, ctrl.PersistErr())
			return nil

		case line, ok := <-lines:
			if !ok {
				// Input closed; let the clock finish the attempt.
				lines = nil
				continue
			}
			if quit := handleLine(ctx, ctrl, p, line); quit {
				p.printf("Quit without submitting.\n")
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, ctrl *testsession.Controller, p *printer, line string) bool {
	switch strings.ToLower(line) {
	case "q", "quit":
		return true
	case "s", "submit":
		ctrl.Submit(ctx)
		return false
	case "", "n", "next":
		err := ctrl.Advance(ctx)
		if errors.Is(err, testsession.ErrAnswerRequired) {
			p.printf("Select an answer first.\n")
		}
		return false
	}

	n, err := strconv.Atoi(line)
	if err != nil {
		p.printf("Unknown command %q. Type an option number, n, s or q.\n", line)
		return false
	}
	snap := ctrl.Snapshot()
	if snap.Current == nil || n < 1 || n > len(snap.Current.Options) {
		p.printf("No option %d.\n", n)
		return false
	}
	ctrl.SelectAnswer(snap.Current.Options[n-1])
	return false
}

func loadErrorText(err error) string {
	switch testsession.ErrorCode(err) {
	case "NOT_AUTHENTICATED":
		return "you are not signed in (pass --token or set " + tokenEnv + ")"
	case "NO_TEST_ASSIGNED":
		return "no test has been assigned to you"
	default:
		return err.Error()
	}
}

// printer serialises output from the input loop and the timer goroutine.
type printer struct {
	mu      sync.Mutex
	out     io.Writer
	lastPos int
	warned  bool
	version uint64
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func (p *printer) render(snap testsession.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if snap.Version < p.version {
		return
	}
	p.version = snap.Version

	if snap.State != testsession.StateActive || snap.Current == nil {
		return
	}

	if snap.Position != p.lastPos {
		p.lastPos = snap.Position
		q := snap.Current
		fmt.Fprintf(p.out, "\nQuestion %d/%d  (%s left)\n%s\n", snap.Position+1, snap.QuestionCount, clock(snap.Remaining), q.Question)
		for i, opt := range q.Options {
			fmt.Fprintf(p.out, "  %d) %s\n", i+1, opt)
		}
		return
	}

	if !p.warned && snap.Remaining <= lowTimeWarning {
		p.warned = true
		fmt.Fprintf(p.out, "! %d seconds left\n", snap.Remaining)
	}
}

func (p *printer) result(snap testsession.Snapshot, persistErr error) {
	score, taken := 0, 0
	if snap.Score != nil {
		score = *snap.Score
	}
	if snap.TimeTaken != nil {
		taken = *snap.TimeTaken
	}
	p.printf("\nScore: %d/%d  Time taken: %s\n", score, snap.QuestionCount, clock(taken))
	if persistErr != nil {
		p.printf("Warning: your result could not be saved (%v).\n", persistErr)
	}
}

func clock(seconds int) string {
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
