package task

import (
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name string
		in   int
		def  int
		want int
	}{
		{name: "zero takes default", in: 0, def: 5, want: 5},
		{name: "zero without default", in: 0, def: 0, want: DefaultMaxRetries},
		{name: "explicit kept", in: 1, def: 5, want: 1},
		{name: "negative disables", in: -1, def: 5, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := Task{ID: "a", MaxRetries: tt.in, Status: StatusFailed, RetryCount: 7, AssignedWorkerID: 9, LastError: "old"}
			tk.Normalize(now, tt.def)
			if tk.MaxRetries != tt.want {
				t.Fatalf("MaxRetries = %d, want %d", tk.MaxRetries, tt.want)
			}
			if tk.Status != StatusPending || tk.RetryCount != 0 || tk.AssignedWorkerID != 0 || tk.LastError != "" {
				t.Fatalf("lifecycle not reset: %+v", tk)
			}
			if !tk.CreatedAt.Equal(now) {
				t.Fatalf("CreatedAt = %v, want %v", tk.CreatedAt, now)
			}
		})
	}
}

func TestDecideRetryBound(t *testing.T) {
	tk := Task{ID: "a", MaxRetries: 3, Status: StatusInProgress}
	for i := 1; i <= 3; i++ {
		if a := Decide(&tk); a != ActionRetry {
			t.Fatalf("failure %d: action = %v, want retry", i, a)
		}
		if tk.RetryCount != i || tk.Status != StatusPending {
			t.Fatalf("failure %d: retryCount=%d status=%s", i, tk.RetryCount, tk.Status)
		}
		tk.Status = StatusInProgress
	}
	if a := Decide(&tk); a != ActionFail {
		t.Fatalf("final failure: action = %v, want fail", a)
	}
	if tk.Status != StatusFailed {
		t.Fatalf("status = %s, want FAILED", tk.Status)
	}
	if tk.RetryCount != tk.MaxRetries {
		t.Fatalf("retryCount = %d, want %d", tk.RetryCount, tk.MaxRetries)
	}
}

func TestDecideZeroRetries(t *testing.T) {
	tk := Task{ID: "a", MaxRetries: 0, Status: StatusInProgress}
	if a := Decide(&tk); a != ActionFail {
		t.Fatalf("action = %v, want fail", a)
	}
	if tk.RetryCount != 0 {
		t.Fatalf("retryCount = %d, want 0", tk.RetryCount)
	}
}

func TestTerminalTasksAreFrozen(t *testing.T) {
	now := time.Now()
	tk := Task{ID: "a", MaxRetries: 1}
	tk.Normalize(now, 0)
	if err := tk.Start(4); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if tk.AssignedWorkerID != 4 || tk.Status != StatusInProgress {
		t.Fatalf("unexpected state after Start: %+v", tk)
	}
	if err := tk.Complete(now); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	before := tk

	if err := tk.Start(2); !errors.Is(err, ErrTerminal) {
		t.Fatalf("Start on completed task: err = %v, want ErrTerminal", err)
	}
	if _, err := tk.Fail(now, errors.New("late")); !errors.Is(err, ErrTerminal) {
		t.Fatalf("Fail on completed task: err = %v, want ErrTerminal", err)
	}
	if err := tk.Complete(now.Add(time.Hour)); !errors.Is(err, ErrTerminal) {
		t.Fatalf("Complete twice: err = %v, want ErrTerminal", err)
	}
	if tk.Status != before.Status || tk.LastError != before.LastError || !tk.CompletedAt.Equal(before.CompletedAt) || tk.AssignedWorkerID != before.AssignedWorkerID {
		t.Fatalf("terminal task mutated: before=%+v after=%+v", before, tk)
	}
}

func TestFailRecordsLastError(t *testing.T) {
	now := time.Now()
	tk := Task{ID: "a", MaxRetries: 1}
	tk.Normalize(now, 0)
	_ = tk.Start(1)

	a, err := tk.Fail(now, &RoutingError{Category: "C"})
	if err != nil || a != ActionRetry {
		t.Fatalf("first Fail = (%v, %v), want (retry, nil)", a, err)
	}
	_ = tk.Start(1)
	a, err = tk.Fail(now, &RoutingError{Category: "C"})
	if err != nil || a != ActionFail {
		t.Fatalf("second Fail = (%v, %v), want (fail, nil)", a, err)
	}
	if !strings.Contains(tk.LastError, "no worker registered for category") {
		t.Fatalf("LastError = %q", tk.LastError)
	}
	if tk.CompletedAt.IsZero() {
		t.Fatal("CompletedAt should be set on terminal failure")
	}
}

func TestBackoffDelay(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	if d := (Backoff{}).Delay(3, errors.New("x"), rng); d != 0 {
		t.Fatalf("zero base delay = %v, want 0", d)
	}

	b := Backoff{Base: 100 * time.Millisecond, MaxDelay: time.Second}
	if d := b.Delay(1, nil, nil); d != 100*time.Millisecond {
		t.Fatalf("retry 1 = %v", d)
	}
	if d := b.Delay(3, nil, nil); d != 400*time.Millisecond {
		t.Fatalf("retry 3 = %v", d)
	}
	if d := b.Delay(10, nil, nil); d != time.Second {
		t.Fatalf("retry 10 = %v, want capped at 1s", d)
	}

	hinted := RetryAfter(errors.New("429"), 5*time.Second)
	if d := b.Delay(1, hinted, rng); d != time.Second {
		t.Fatalf("hint should be capped: %v", d)
	}
	if d := (Backoff{MaxDelay: time.Minute}).Delay(1, RetryAfter(errors.New("429"), 2*time.Second), rng); d != 2*time.Second {
		t.Fatalf("hint delay = %v, want 2s", d)
	}

	j := Backoff{Base: time.Second, MaxDelay: time.Minute, Jitter: 0.2}
	for i := 0; i < 50; i++ {
		d := j.Delay(1, nil, rng)
		if d < 800*time.Millisecond || d > 1200*time.Millisecond {
			t.Fatalf("jittered delay out of range: %v", d)
		}
	}
}

func TestErrorTaxonomy(t *testing.T) {
	err := error(&SubmissionError{TaskID: "x", Err: ErrDuplicateID})
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatal("SubmissionError should unwrap to ErrDuplicateID")
	}
	herr := error(&HandlerError{Category: "A", Err: ErrNoHandler})
	if !errors.Is(herr, ErrNoHandler) {
		t.Fatal("HandlerError should unwrap")
	}
	var ra RetryAfterError
	if !errors.As(RetryAfter(herr, time.Second), &ra) || ra.RetryAfter() != time.Second {
		t.Fatal("RetryAfter should be discoverable via errors.As")
	}
	if RetryAfter(nil, time.Second) != nil {
		t.Fatal("RetryAfter(nil) should be nil")
	}
	if !strings.HasPrefix(NewID(), "tsk-") {
		t.Fatal("NewID prefix")
	}
}
