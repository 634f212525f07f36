package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"crew/internal/task"
	logx "crew/pkg/logx"
)

type fakeRunner struct {
	argv  []string
	env   []string
	stdin []byte

	stderr string
	code   int
	err    error
}

func (f *fakeRunner) Run(_ context.Context, argv, env []string, stdin []byte) (string, string, int, error) {
	f.argv, f.env, f.stdin = argv, env, stdin
	return "ok", f.stderr, f.code, f.err
}

func TestExecArguments(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		wantArgv  []string
		wantStdin string
	}{
		{"no payload", "", []string{"notify"}, ""},
		{"null", "null", []string{"notify"}, ""},
		{"string", `"hello world"`, []string{"notify", "hello world"}, ""},
		{"string list", `["-t","ops"]`, []string{"notify", "-t", "ops"}, ""},
		{"object to stdin", `{"to":"a@b"}`, []string{"notify"}, `{"to":"a@b"}`},
		{"mixed list to stdin", `[1,"x"]`, []string{"notify"}, `[1,"x"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRunner{}
			h, err := NewExec([]string{"notify"}, logx.Nop(), WithRunner(r))
			if err != nil {
				t.Fatal(err)
			}
			ok, err := h.Execute(context.Background(), task.Task{ID: "t1", Category: "mail", Payload: json.RawMessage(tt.payload)})
			if !ok || err != nil {
				t.Fatalf("Execute = %v, %v", ok, err)
			}
			if !reflect.DeepEqual(r.argv, tt.wantArgv) {
				t.Fatalf("argv = %q, want %q", r.argv, tt.wantArgv)
			}
			if string(r.stdin) != tt.wantStdin {
				t.Fatalf("stdin = %q, want %q", r.stdin, tt.wantStdin)
			}
			if !reflect.DeepEqual(r.env, []string{"CREW_TASK_ID=t1", "CREW_TASK_CATEGORY=mail", "CREW_TASK_RETRY=0"}) {
				t.Fatalf("env = %q", r.env)
			}
		})
	}
}

func TestExecFailures(t *testing.T) {
	r := &fakeRunner{code: 2, stderr: "bad input\n", err: errors.New("exit status 2")}
	h, _ := NewExec([]string{"x"}, logx.Nop(), WithRunner(r))

	ok, err := h.Execute(context.Background(), task.Task{ID: "t"})
	if ok || err == nil || !strings.Contains(err.Error(), "bad input") {
		t.Fatalf("Execute = %v, %v", ok, err)
	}
	var ra task.RetryAfterError
	if errors.As(err, &ra) {
		t.Fatal("ordinary failure should carry no retry hint")
	}

	r.code = ExitTempFail
	_, err = h.Execute(context.Background(), task.Task{ID: "t"})
	if !errors.As(err, &ra) || ra.RetryAfter() != 5*time.Second {
		t.Fatalf("tempfail err = %v", err)
	}
}

func TestTailKeepsRunesWhole(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"ascii", strings.Repeat("a", maxOutputTail*2)},
		{"two byte", "x" + strings.Repeat("é", maxOutputTail)},
		{"three byte", "xy" + strings.Repeat("世", maxOutputTail)},
		{"short", "héllo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tail(tt.in)
			if !utf8.ValidString(got) {
				t.Fatalf("tail produced invalid UTF-8: %q", got)
			}
			if len(got) > maxOutputTail+len("...") {
				t.Fatalf("len = %d", len(got))
			}
			if !strings.HasSuffix(tt.in, strings.TrimPrefix(got, "...")) {
				t.Fatal("tail is not a suffix of the input")
			}
		})
	}
}

func TestNewExecRequiresCommand(t *testing.T) {
	if _, err := NewExec(nil, logx.Nop()); err == nil {
		t.Fatal("expected error")
	}
}

func TestExecRealProcess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	h, err := NewExec([]string{"sh", "-c"}, logx.Nop(), WithTimeout(5*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	ok, err := h.Execute(context.Background(), task.Task{ID: "t", Payload: json.RawMessage(`"test \"$CREW_TASK_ID\" = t"`)})
	if !ok || err != nil {
		t.Fatalf("Execute = %v, %v", ok, err)
	}
	ok, _ = h.Execute(context.Background(), task.Task{ID: "t", Payload: json.RawMessage(`"exit 3"`)})
	if ok {
		t.Fatal("exit 3 should fail")
	}
}

func TestBuild(t *testing.T) {
	if _, err := Build(Spec{Category: "a", Kind: "log"}, logx.Nop()); err != nil {
		t.Fatalf("log: %v", err)
	}
	if _, err := Build(Spec{Category: "a", Kind: "exec", Command: []string{"true"}}, logx.Nop()); err != nil {
		t.Fatalf("exec: %v", err)
	}
	if _, err := Build(Spec{Category: "a", Kind: "lambda"}, logx.Nop()); err == nil {
		t.Fatal("unknown kind should fail")
	}
}

func TestLogHandlerSucceeds(t *testing.T) {
	ok, err := NewLog(logx.Nop()).Execute(context.Background(), task.Task{ID: "t"})
	if !ok || err != nil {
		t.Fatalf("Execute = %v, %v", ok, err)
	}
}
