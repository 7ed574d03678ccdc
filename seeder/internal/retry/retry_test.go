package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"
)

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) HTTPStatus() int { return int(e) }

type typedErr string

func (e typedErr) Error() string { return string(e) }

type kindErr bool

func (e kindErr) Error() string   { return "extract failed" }
func (e kindErr) Transient() bool { return bool(e) }

func noSleep(total *time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		if total != nil {
			*total += d
		}
		return nil
	}
}

func TestClassify(t *testing.T) {
	// WHAT: Errors map to transient or fatal.
	// WHY: Fatal errors must never be retried.
	cases := []struct {
		name string
		err  error
		want Class
	}{
		{"503", statusErr(503), Transient},
		{"429", statusErr(429), Transient},
		{"404", statusErr(404), Fatal},
		{"400", statusErr(400), Fatal},
		{"wrapped 502", fmt.Errorf("deliver: %w", statusErr(502)), Transient},
		{"extract transient", kindErr(true), Transient},
		{"extract permanent", kindErr(false), Fatal},
		{"deadline", context.DeadlineExceeded, Transient},
		{"canceled", context.Canceled, Fatal},
		{"message 504", errors.New("upstream returned http 504"), Transient},
		{"message refused", errors.New("dial tcp: connection refused"), Transient},
		{"validation", errors.New("invalid payload"), Fatal},
		{"eof", fmt.Errorf("read body: %w", io.EOF), Transient},
		{"message eof", errors.New("read tcp: unexpected EOF"), Transient},
		{"validation mentions timeout", errors.New("invalid timeout value in config"), Fatal},
		{"validation mentions eof", errors.New("field geofence is required"), Fatal},
		{"typed message 503", fmt.Errorf("sync: %w", typedErr("upstream http 503")), Fatal},
		{"typed message refused", typedErr("connection refused by policy"), Fatal},
	}
	for _, c := range cases {
		if got := Classify(c.err); got != c.want {
			t.Errorf("%s: got %s, want %s", c.name, got, c.want)
		}
	}
}

func TestStatusFromMessage(t *testing.T) {
	cases := map[string]int{
		"http 503":                 503,
		"fetch failed: status: 429": 429,
		"HTTP 404 Not Found":       404,
		"nothing here":             0,
		"status 9999":              0,
	}
	for msg, want := range cases {
		if got := StatusFromMessage(msg); got != want {
			t.Errorf("%q: got %d, want %d", msg, got, want)
		}
	}
}

func TestDelay(t *testing.T) {
	// WHAT: wait = min(base*mult^attempt, max).
	p := Policy{BaseDelay: time.Second, Multiplier: 2, MaxDelay: 5 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := p.Delay(i); got != w {
			t.Errorf("Delay(%d): got %v, want %v", i, got, w)
		}
	}
}

func TestDelayJitterBounded(t *testing.T) {
	p := Policy{BaseDelay: time.Second, Multiplier: 2, MaxDelay: time.Minute, Jitter: true}
	for i := 0; i < 50; i++ {
		d := p.Delay(1)
		if d < 2*time.Second || d > 2200*time.Millisecond {
			t.Fatalf("jittered delay out of range: %v", d)
		}
	}
}

func TestBudgetCoversBackoff(t *testing.T) {
	// WHAT: Budget = attempts*perAttempt + every backoff wait, with 10% headroom under jitter.
	// WHY: An outer deadline sized on attempts alone cuts off the last attempt of a slow source.
	p := DefaultPolicy()
	want := 4*30*time.Second + 5*time.Second + 10*time.Second + 20*time.Second
	if got := p.Budget(30 * time.Second); got != want {
		t.Errorf("Budget: got %v, want %v", got, want)
	}
	p.Jitter = true
	if got := p.Budget(30 * time.Second); got != want+3500*time.Millisecond {
		t.Errorf("jittered Budget: got %v", got)
	}
}

func TestDoExhaustsTransient(t *testing.T) {
	// WHAT: An always-503 operation runs MaxRetries+1 times then reports exhaustion.
	// WHY: Exhausted retries must be observable in the run stats.
	var waited time.Duration
	p := Policy{MaxRetries: 3, BaseDelay: 10 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second, Sleep: noSleep(&waited)}
	stats := &RunStats{}
	calls := 0
	n, err := p.Do(context.Background(), stats, func(context.Context, int) error {
		calls++
		return statusErr(503)
	})
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("err: got %v, want ErrExhausted", err)
	}
	var se statusErr
	if !errors.As(err, &se) || se != 503 {
		t.Errorf("last error not wrapped: %v", err)
	}
	if calls != 4 || n != 4 {
		t.Errorf("calls: got %d (n=%d), want 4", calls, n)
	}
	s := stats.Snapshot()
	if s.Exhausted != 1 || s.TotalAttempts != 4 {
		t.Errorf("stats: got %+v", s)
	}
	if waited != 70*time.Millisecond || s.TotalWait != waited {
		t.Errorf("wait: got %v (stats %v), want 70ms", waited, s.TotalWait)
	}
}

func TestDoSucceedsAfterRetry(t *testing.T) {
	p := Policy{MaxRetries: 3, BaseDelay: time.Millisecond, Sleep: noSleep(nil)}
	stats := &RunStats{}
	responses := []error{statusErr(503), statusErr(503), nil}
	n, err := p.Do(context.Background(), stats, func(_ context.Context, attempt int) error {
		return responses[attempt]
	})
	if err != nil || n != 3 {
		t.Fatalf("got n=%d err=%v", n, err)
	}
	s := stats.Snapshot()
	if s.AfterRetry != 1 || s.FirstTry != 0 {
		t.Errorf("stats: got %+v", s)
	}
	if s.RetryRate() != 1 || s.SuccessRate() != 1 {
		t.Errorf("rates: retry=%v success=%v", s.RetryRate(), s.SuccessRate())
	}
}

func TestDoFatalNotRetried(t *testing.T) {
	p := Policy{MaxRetries: 3, BaseDelay: time.Millisecond, Sleep: noSleep(nil)}
	stats := &RunStats{}
	calls := 0
	_, err := p.Do(context.Background(), stats, func(context.Context, int) error {
		calls++
		return kindErr(false)
	})
	if err == nil || errors.Is(err, ErrExhausted) {
		t.Fatalf("got %v, want the permanent error", err)
	}
	if calls != 1 {
		t.Errorf("calls: got %d, want 1", calls)
	}
	if s := stats.Snapshot(); s.Fatal != 1 {
		t.Errorf("stats: got %+v", s)
	}
}

func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxRetries: 5, BaseDelay: time.Hour}
	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := p.Do(ctx, nil, func(context.Context, int) error {
			calls++
			return statusErr(503)
		})
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Error("expected error after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancel")
	}
	if calls != 1 {
		t.Errorf("calls: got %d, want 1", calls)
	}
}

func TestNilStatsSafe(t *testing.T) {
	var s *RunStats
	s.attempt()
	if got := s.Snapshot(); got.TotalAttempts != 0 {
		t.Errorf("nil stats recorded %+v", got)
	}
}
