package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"crew/internal/task"
	logx "crew/pkg/logx"
)

// ExitTempFail (EX_TEMPFAIL from sysexits.h) asks for a delayed retry.
const ExitTempFail = 75

const maxOutputTail = 512

// Runner executes commands. Allows mocking in tests.
type Runner interface {
	Run(ctx context.Context, argv []string, env []string, stdin []byte) (stdout, stderr string, exitCode int, err error)
}

// OSRunner is the default Runner using os/exec.
type OSRunner struct{}

func (OSRunner) Run(ctx context.Context, argv []string, env []string, stdin []byte) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), env...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if len(stdin) > 0 {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	err := cmd.Run()
	code := 0
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}
	return stdout.String(), stderr.String(), code, err
}

// Exec runs Command with arguments taken from the task payload:
//   - a JSON string is appended as one argument
//   - a JSON array of strings is appended element by element
//   - any other payload is written to stdin
//
// CREW_TASK_ID, CREW_TASK_CATEGORY and CREW_TASK_RETRY are set in the
// environment. Exit code 0 succeeds; ExitTempFail fails with a retry delay
// hint; anything else fails.
type Exec struct {
	Command    []string
	Timeout    time.Duration
	RetryAfter time.Duration // hint attached to ExitTempFail

	runner Runner
	log    logx.Logger
}

type ExecOption func(*Exec)

func WithRunner(r Runner) ExecOption { return func(e *Exec) { e.runner = r } }

func WithTimeout(d time.Duration) ExecOption { return func(e *Exec) { e.Timeout = d } }

func NewExec(command []string, log logx.Logger, opts ...ExecOption) (*Exec, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, errors.New("exec handler: command is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Exec{
		Command:    append([]string(nil), command...),
		RetryAfter: 5 * time.Second,
		runner:     OSRunner{},
		log:        log,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

func (e *Exec) Execute(ctx context.Context, t task.Task) (bool, error) {
	argv, stdin, err := e.argv(t.Payload)
	if err != nil {
		return false, err
	}
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	env := []string{
		"CREW_TASK_ID=" + t.ID,
		"CREW_TASK_CATEGORY=" + t.Category,
		"CREW_TASK_RETRY=" + strconv.Itoa(t.RetryCount),
	}

	start := time.Now()
	stdout, stderr, code, err := e.runner.Run(ctx, argv, env, stdin)
	took := time.Since(start)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return false, fmt.Errorf("command timed out after %v: %w", took.Round(time.Millisecond), ctx.Err())
	}
	if err != nil || code != 0 {
		msg := tail(stderr)
		if msg == "" && err != nil {
			msg = err.Error()
		}
		ferr := fmt.Errorf("exit %d: %s", code, msg)
		if code == ExitTempFail {
			ferr = task.RetryAfter(ferr, e.RetryAfter)
		}
		e.log.Debug("exec handler failed", logx.String("task", t.ID), logx.Int("exit", code), logx.Duration("took", took))
		return false, ferr
	}
	e.log.Debug("exec handler done",
		logx.String("task", t.ID),
		logx.Duration("took", took),
		logx.String("stdout", tail(stdout)),
	)
	return true, nil
}

func (e *Exec) argv(payload json.RawMessage) ([]string, []byte, error) {
	argv := append([]string(nil), e.Command...)
	p := bytes.TrimSpace(payload)
	if len(p) == 0 || bytes.Equal(p, []byte("null")) {
		return argv, nil, nil
	}
	switch p[0] {
	case '"':
		var s string
		if err := json.Unmarshal(p, &s); err != nil {
			return nil, nil, fmt.Errorf("payload: %w", err)
		}
		return append(argv, s), nil, nil
	case '[':
		var ss []string
		if err := json.Unmarshal(p, &ss); err == nil {
			return append(argv, ss...), nil, nil
		}
	}
	return argv, p, nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxOutputTail {
		i := len(s) - maxOutputTail
		for i < len(s) && !utf8.RuneStart(s[i]) {
			i++
		}
		s = "..." + s[i:]
	}
	return s
}
