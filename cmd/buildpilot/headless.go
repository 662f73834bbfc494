// ABOUTME: Headless build mode: submits one prompt, prints the streamed transcript, and answers questions on the console.
// ABOUTME: The first interrupt requests a stop; a second one abandons the build.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/2389-research/buildpilot/logging"
	"github.com/2389-research/buildpilot/session"
)

// historyWait bounds how long the CLI waits for the finished build to be
// recorded in the project history before exiting.
const historyWait = 12 * time.Second

// syncWriter serialises writes from the watcher and the answer prompt.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// runHeadless runs one build to its end. Exit code 0 means the build
// completed; a stopped or failed build exits 1.
func runHeadless(ctx context.Context, ctrl *session.Controller, projectName, prompt string,
	atts []session.Attachment, stdin io.Reader, stdout, stderr io.Writer) int {
	if projectName == "" {
		fmt.Fprintln(stderr, "error: -prompt requires -project")
		return 1
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	name, err := ctrl.SelectProject(ctx, projectName)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	baseHistory := len(ctrl.State().History)

	states := make(chan session.State, 1024)
	unsubscribe := ctrl.OnChange(func(st session.State) {
		select {
		case states <- st:
		case <-ctx.Done():
		}
	})
	defer unsubscribe()

	stopListening := notifyInterrupt(func() {
		fmt.Fprintln(stderr, "\nStopping build (interrupt again to quit)...")
		if err := ctrl.Stop(ctx); err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
		}
	}, cancel)
	defer stopListening()

	out := &syncWriter{w: stdout}
	fmt.Fprintf(out, "Building into %s\n", name)
	if err := ctrl.Submit(ctx, prompt, atts); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	w := &watcher{
		ctx:         ctx,
		ctrl:        ctrl,
		out:         out,
		prompter:    newConsolePrompter(stdin, out),
		baseHistory: baseHistory,
	}
	return w.loop(states)
}

// watcher turns controller snapshots into console output.
type watcher struct {
	ctx         context.Context
	ctrl        *session.Controller
	out         io.Writer
	prompter    *consolePrompter
	baseHistory int

	lastRev   uint64
	printed   int
	warned    bool
	expired   bool
	askCancel context.CancelFunc
	askers    sync.WaitGroup
	finished  bool
	exit      int
}

func (w *watcher) loop(states <-chan session.State) int {
	defer w.askers.Wait()
	defer w.cancelAsk()

	var drain <-chan time.Time
	for {
		select {
		case st := <-states:
			if w.handle(st) {
				return w.exit
			}
			if w.finished && drain == nil {
				drain = time.After(historyWait)
			}
		case <-drain:
			logging.Warn().Msg("headless: build history not confirmed before exit")
			return w.exit
		case <-w.ctx.Done():
			return 1
		}
	}
}

// handle prints what changed in st and reports whether the run is over.
func (w *watcher) handle(st session.State) bool {
	if st.Rev < w.lastRev || st.Prompt == "" {
		return false
	}
	w.lastRev = st.Rev

	if st.Warning != "" && !w.warned {
		w.warned = true
		fmt.Fprintf(w.out, "warning: %s\n", st.Warning)
	}
	for ; w.printed < len(st.Transcript); w.printed++ {
		fmt.Fprintln(w.out, st.Transcript[w.printed])
	}

	switch {
	case st.AskPending && w.askCancel == nil:
		w.expired = false
		w.startAsk(st.Question, st.Countdown)
	case !st.AskPending && w.askCancel != nil:
		w.cancelAsk()
	}
	if st.AskExpired && !w.expired {
		w.expired = true
		fmt.Fprintln(w.out, "\nTime's up. No answer was sent.")
	}

	if st.Phase.Terminal() && !w.finished {
		w.finished = true
		w.printOutcome(st)
	}
	return w.finished && len(st.History) > w.baseHistory
}

func (w *watcher) printOutcome(st session.State) {
	switch st.Phase {
	case session.PhaseCompleted:
		fmt.Fprintf(w.out, "Done: %s\n", st.Message)
		w.exit = 0
	case session.PhaseStopped:
		fmt.Fprintf(w.out, "Stopped: %s\n", st.Message)
		w.exit = 1
	default:
		fmt.Fprintf(w.out, "Failed: %s\n", st.Message)
		w.exit = 1
	}
}

// startAsk reads answers in the background until one is accepted. The
// answer itself is sent on the run context so a question resolving
// elsewhere does not abort an answer in flight.
func (w *watcher) startAsk(question, countdown string) {
	askCtx, cancel := context.WithCancel(w.ctx)
	w.askCancel = cancel
	w.askers.Add(1)
	go func() {
		defer w.askers.Done()
		for {
			line, err := w.prompter.Ask(askCtx, question, countdown)
			if err != nil {
				if errors.Is(err, io.EOF) {
					fmt.Fprintln(w.out, "\n(no more input; the question will expire)")
				}
				return
			}
			err = w.ctrl.Answer(w.ctx, line)
			switch {
			case errors.Is(err, session.ErrEmptyAnswer):
				fmt.Fprintln(w.out, "Please type an answer.")
				continue
			case err != nil:
				fmt.Fprintf(w.out, "Answer not sent: %v\n", err)
			}
			return
		}
	}()
}

func (w *watcher) cancelAsk() {
	if w.askCancel != nil {
		w.askCancel()
		w.askCancel = nil
	}
}
