package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aaaa47080/stock-agent-sub000/runtime/analysis"
	"github.com/aaaa47080/stock-agent-sub000/runtime/analysis/httpclient"
)

const help = `commands:
  <text>              start an analysis, or answer a pending question
  accept | cancel     accept or cancel a proposed plan
  customize [text]    revise the plan with text, or enter step selection
  toggle <n>          select or deselect plan step n while customizing
  run                 execute the selected plan steps
  <n>                 pick option n of a pending question
  good | bad [note]   rate the last completed analysis
  /new  /switch <id>  /delete  /quit`

type (
	// shell maps terminal input lines to controller operations.
	shell struct {
		ctl    *analysis.Controller
		target *terminalTarget
		out    io.Writer
		// base carries the request fields set from configuration.
		base analysis.Request
		// feedback and destroy are optional.
		feedback func(context.Context, httpclient.Feedback) error
		destroy  func(ctx context.Context, sessionID string) error
	}
)

var errQuit = errors.New("quit")

// run reads lines from in until EOF or /quit.
func (s *shell) run(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(s.out, help)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if err := s.handle(ctx, scanner.Text()); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintf(s.out, "! %v\n", err)
		}
	}
	return scanner.Err()
}

// handle executes one input line.
func (s *shell) handle(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit":
		s.ctl.Leave()
		return errQuit
	case "/help":
		fmt.Fprintln(s.out, help)
		return nil
	case "/new":
		s.ctl.NewChat()
		return nil
	case "/switch":
		if arg == "" {
			return errors.New("usage: /switch <session id>")
		}
		s.ctl.SwitchSession(arg)
		return nil
	case "/delete":
		return s.deleteSession(ctx)
	case "good", "bad":
		if s.ctl.State() == analysis.Completed && s.target.Codebook() != "" {
			return s.rate(ctx, cmd == "good", arg)
		}
	}

	if _, ok := s.ctl.Plan(); ok {
		if handled, err := s.planCommand(ctx, cmd, arg); handled {
			return err
		}
	}
	if _, ok := s.ctl.Pending(); ok {
		_, err := s.ctl.Resume(ctx, s.answer(line))
		return err
	}
	s.target.reset()
	req := s.base
	req.Message = line
	_, err := s.ctl.Start(ctx, s.target, req)
	return err
}

// planCommand handles the plan actions. handled is false for input that is
// not a plan command, which is then sent as a free-text answer.
func (s *shell) planCommand(ctx context.Context, cmd, arg string) (handled bool, err error) {
	switch cmd {
	case "accept":
		_, err = s.ctl.AcceptPlan(ctx)
	case "cancel":
		_, err = s.ctl.CancelPlan(ctx)
	case "customize":
		if arg == "" {
			if err = s.ctl.StartNegotiation(); err == nil {
				s.printPlan()
			}
			break
		}
		_, err = s.ctl.CustomizePlan(ctx, arg)
	case "toggle":
		var n int
		if n, err = strconv.Atoi(arg); err != nil {
			return true, errors.New("usage: toggle <step number>")
		}
		if _, err = s.ctl.ToggleStep(n); err == nil {
			s.printPlan()
		}
	case "run":
		_, err = s.ctl.CustomizePlan(ctx, "")
	default:
		return false, nil
	}
	return true, err
}

// answer resolves an option number to the option value.
func (s *shell) answer(line string) string {
	n, err := strconv.Atoi(line)
	if err != nil {
		return line
	}
	opts := s.target.Options()
	if n < 1 || n > len(opts) {
		return line
	}
	return opts[n-1]
}

func (s *shell) printPlan() {
	plan, ok := s.ctl.Plan()
	if !ok {
		return
	}
	for _, st := range plan.Steps {
		fmt.Fprintf(s.out, "  %s %d. %s\n", checkbox(st.Selected), st.Index, st.Description)
	}
}

func (s *shell) rate(ctx context.Context, good bool, comment string) error {
	if s.feedback == nil {
		return errors.New("feedback is not available")
	}
	rating := -1
	if good {
		rating = 1
	}
	if err := s.feedback(ctx, httpclient.Feedback{
		CodebookID: s.target.Codebook(),
		Rating:     rating,
		Comment:    comment,
	}); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "thanks for the feedback")
	return nil
}

func (s *shell) deleteSession(ctx context.Context) error {
	id := s.ctl.SessionID()
	if id == "" {
		return errors.New("no active session")
	}
	if err := s.ctl.DeleteSession(ctx, id); err != nil {
		return err
	}
	if s.destroy != nil {
		if err := s.destroy(ctx, id); err != nil {
			return fmt.Errorf("drop mirrored events: %w", err)
		}
	}
	fmt.Fprintf(s.out, "deleted session %s\n", id)
	return nil
}
