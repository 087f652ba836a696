package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(s Settings) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBreaker(s)
	b.now = clock.Now
	b.mu.Lock()
	b.newGeneration(clock.Now())
	b.mu.Unlock()
	return b, clock
}

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

func TestBreaker_StartsClosed(t *testing.T) {
	b := NewBreaker(LanguageModelSettings("llm"))
	if b.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
	if b.Name() != "llm" {
		t.Errorf("Name() = %q", b.Name())
	}
}

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(LanguageModelSettings("llm"))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := b.Do(ctx, fail); !errors.Is(err, errBoom) {
			t.Fatalf("call %d error = %v, want boom", i, err)
		}
	}
	if b.State() != StateClosed {
		t.Fatalf("state after 2 failures = %v, want closed", b.State())
	}

	_ = b.Do(ctx, fail)
	if b.State() != StateOpen {
		t.Fatalf("state after 3 failures = %v, want open", b.State())
	}

	called := false
	err := b.Do(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Errorf("error = %v, want ErrOpen", err)
	}
	if called {
		t.Error("function ran while breaker was open")
	}
}

func TestBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(LanguageModelSettings("llm"))
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, succeed)
	_ = b.Do(ctx, fail)

	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
	c := b.Counts()
	if c.Requests != 4 || c.Failures != 3 || c.Successes != 1 || c.ConsecutiveFailures != 1 {
		t.Errorf("counts = %+v", c)
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	tests := []struct {
		name  string
		probe func(context.Context) error
		want  State
	}{
		{name: "success closes", probe: succeed, want: StateClosed},
		{name: "failure reopens", probe: fail, want: StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := LanguageModelSettings("llm")
			s.Trip = func(c Counts) bool { return c.ConsecutiveFailures >= 1 }
			b, clock := newTestBreaker(s)
			ctx := context.Background()

			_ = b.Do(ctx, fail)
			if b.State() != StateOpen {
				t.Fatalf("state = %v, want open", b.State())
			}

			clock.Advance(s.CoolDown + time.Second)
			if b.State() != StateHalfOpen {
				t.Fatalf("state after cool-down = %v, want half-open", b.State())
			}

			_ = b.Do(ctx, tt.probe)
			if b.State() != tt.want {
				t.Errorf("state after probe = %v, want %v", b.State(), tt.want)
			}
		})
	}
}

func TestBreaker_HalfOpenLimitsProbes(t *testing.T) {
	s := LanguageModelSettings("llm")
	s.Trip = func(c Counts) bool { return c.ConsecutiveFailures >= 1 }
	b, clock := newTestBreaker(s)
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	clock.Advance(s.CoolDown + time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := b.Do(ctx, succeed); !errors.Is(err, ErrProbeLimit) {
		t.Errorf("second probe error = %v, want ErrProbeLimit", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("probe error = %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_CancellationIsNotAFailure(t *testing.T) {
	s := LanguageModelSettings("llm")
	s.Trip = func(c Counts) bool { return c.ConsecutiveFailures >= 1 }
	b, _ := newTestBreaker(s)

	err := b.Do(context.Background(), func(context.Context) error {
		return context.DeadlineExceeded
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_CancelledContextSkipsCall(t *testing.T) {
	b := NewBreaker(LanguageModelSettings("llm"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := b.Do(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if called {
		t.Error("function ran with a cancelled context")
	}
	if b.Counts().Requests != 0 {
		t.Errorf("Requests = %d, want 0", b.Counts().Requests)
	}
}

func TestBreaker_WindowResetsCounts(t *testing.T) {
	s := LanguageModelSettings("llm")
	b, clock := newTestBreaker(s)
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, fail)
	clock.Advance(s.Window + time.Second)
	_ = b.Do(ctx, fail)

	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed after window reset", b.State())
	}
	if got := b.Counts().Failures; got != 1 {
		t.Errorf("Failures = %d, want 1", got)
	}
}

func TestBreaker_OnTransition(t *testing.T) {
	type change struct{ from, to State }
	var changes []change

	s := LanguageModelSettings("llm")
	s.Trip = func(c Counts) bool { return c.ConsecutiveFailures >= 1 }
	s.OnTransition = func(name string, from, to State) {
		if name != "llm" {
			t.Errorf("name = %q", name)
		}
		changes = append(changes, change{from, to})
	}
	b, clock := newTestBreaker(s)
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	clock.Advance(s.CoolDown + time.Second)
	_ = b.Do(ctx, succeed)

	want := []change{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}
	if len(changes) != len(want) {
		t.Fatalf("changes = %v, want %v", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("change %d = %v, want %v", i, changes[i], want[i])
		}
	}
}

func TestCall_ReturnsValue(t *testing.T) {
	b := NewBreaker(LanguageModelSettings("llm"))

	got, err := Call(context.Background(), b, func(context.Context) (int, error) {
		return 7, nil
	})
	if err != nil || got != 7 {
		t.Errorf("Call() = %d, %v; want 7, nil", got, err)
	}

	got, err = Call(context.Background(), b, func(context.Context) (int, error) {
		return 9, errBoom
	})
	if !errors.Is(err, errBoom) || got != 0 {
		t.Errorf("Call() = %d, %v; want 0, boom", got, err)
	}
}

func TestBreaker_ConcurrentCalls(t *testing.T) {
	b := NewBreaker(LanguageModelSettings("llm"))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Do(context.Background(), succeed)
		}()
	}
	wg.Wait()

	if got := b.Counts().Successes; got != 50 {
		t.Errorf("Successes = %d, want 50", got)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.want)
		}
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	a1 := r.Get("claude", LanguageModelSettings(""))
	a2 := r.Get("claude", LanguageModelSettings(""))
	if a1 != a2 {
		t.Error("same name should return the same breaker")
	}
	if a1.Name() != "claude" {
		t.Errorf("Name() = %q, want claude", a1.Name())
	}

	g := r.Get("gemini", LanguageModelSettings(""))
	if g == a1 {
		t.Error("different names should return different breakers")
	}

	states := r.States()
	if len(states) != 2 || states["claude"] != StateClosed || states["gemini"] != StateClosed {
		t.Errorf("States() = %v", states)
	}
	names := r.Names()
	if len(names) != 2 || names[0] != "claude" || names[1] != "gemini" {
		t.Errorf("Names() = %v", names)
	}
}
