package retry

import (
	"fmt"
	"testing"
	"time"

	ncerr "relaychat/internal/errors"
)

var errAccept = fmt.Errorf("accept: too many open files")

func trip(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		cb.Execute(func() error { return errAccept }) //nolint:errcheck
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(&CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: time.Second, HalfOpenMax: 1})

	trip(cb, 2)
	if cb.CurrentState() != StateClosed {
		t.Fatalf("expected closed below threshold, got %s", cb.CurrentState())
	}
	trip(cb, 1)
	if cb.CurrentState() != StateOpen {
		t.Errorf("expected open after 3 failures, got %s", cb.CurrentState())
	}
	if cb.Failures() != 3 {
		t.Errorf("expected 3 failures, got %d", cb.Failures())
	}
}

func TestCircuitBreaker_RejectsWhenOpen(t *testing.T) {
	cb := NewCircuitBreaker(&CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour, HalfOpenMax: 1})
	trip(cb, 1)

	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})
	if !ncerr.Is(err, ncerr.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("fn should not run while the circuit is open")
	}
	if ra := cb.RetryAfter(); ra <= 0 || ra > time.Hour {
		t.Errorf("RetryAfter() = %v, want within (0, 1h]", ra)
	}
}

func TestCircuitBreaker_RetryAfterClosed(t *testing.T) {
	cb := NewCircuitBreaker(nil)
	if ra := cb.RetryAfter(); ra != 0 {
		t.Errorf("closed breaker RetryAfter() = %v, want 0", ra)
	}
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	tests := []struct {
		name  string
		probe error
		want  State
	}{
		{"probe succeeds", nil, StateClosed},
		{"probe fails", errAccept, StateOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := NewCircuitBreaker(&CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: 10 * time.Millisecond, HalfOpenMax: 1})
			trip(cb, 1)
			time.Sleep(20 * time.Millisecond)

			cb.Execute(func() error { return tt.probe }) //nolint:errcheck
			if cb.CurrentState() != tt.want {
				t.Errorf("state = %s, want %s", cb.CurrentState(), tt.want)
			}
		})
	}
}

func TestCircuitBreaker_StateChange(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(&CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  1,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, fmt.Sprintf("%s>%s", from, to))
		},
	})

	trip(cb, 1)
	time.Sleep(20 * time.Millisecond)
	cb.Execute(func() error { return nil }) //nolint:errcheck

	want := []string{"closed>open", "open>half-open", "half-open>closed"}
	if fmt.Sprint(transitions) != fmt.Sprint(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
}

func TestCircuitBreaker_ResetAndSuccess(t *testing.T) {
	cb := NewCircuitBreaker(&CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: time.Hour, HalfOpenMax: 1})

	trip(cb, 2)
	cb.Execute(func() error { return nil }) //nolint:errcheck
	if cb.Failures() != 0 {
		t.Errorf("success should clear failures, got %d", cb.Failures())
	}

	trip(cb, 3)
	cb.Reset()
	if cb.CurrentState() != StateClosed || cb.Failures() != 0 {
		t.Errorf("after Reset: state=%s failures=%d", cb.CurrentState(), cb.Failures())
	}
}

func TestState_String(t *testing.T) {
	for state, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(99):     "unknown",
	} {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
