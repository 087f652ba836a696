// Package resilience guards calls to flaky external services.
package resilience

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// State of a Breaker.
type State int32

const (
	// StateClosed lets calls through.
	StateClosed State = iota
	// StateOpen rejects calls until the cool-down expires.
	StateOpen
	// StateHalfOpen admits a limited number of probe calls.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrOpen is returned while the breaker rejects calls.
	ErrOpen = errors.New("circuit breaker is open")

	// ErrProbeLimit is returned when all half-open probe slots are taken.
	ErrProbeLimit = errors.New("too many probe requests in half-open state")
)

// Settings configure a Breaker.
type Settings struct {
	Name string

	// Probes is the number of calls admitted in half-open state and the
	// number of consecutive successes that close the breaker again.
	Probes uint32

	// Window resets closed-state counts periodically. Zero never resets.
	Window time.Duration

	// CoolDown is the time spent open before probing.
	CoolDown time.Duration

	// Trip decides, after each failure, whether to open.
	Trip func(c Counts) bool

	// OnTransition observes state changes. It runs with the breaker locked
	// and must not call back into it.
	OnTransition func(name string, from, to State)

	// Failure classifies a call result. Nil errors never count as failures.
	Failure func(err error) bool
}

// LanguageModelSettings suit a per-process language model breaker: a few
// consecutive failures open it for a minute.
func LanguageModelSettings(name string) Settings {
	return Settings{
		Name:     name,
		Probes:   1,
		Window:   5 * time.Minute,
		CoolDown: time.Minute,
		Trip: func(c Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
		Failure: func(err error) bool {
			// A cancelled session says nothing about the provider.
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		},
	}
}

// Counts are the call statistics of the current generation.
type Counts struct {
	Requests             uint32
	Successes            uint32
	Failures             uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func (c *Counts) success() {
	c.Successes++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) failure() {
	c.Failures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// Breaker implements the circuit breaker pattern.
type Breaker struct {
	settings Settings
	now      func() time.Time

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	expiry     time.Time
	probes     uint32
}

// NewBreaker applies defaults to s and returns a closed breaker.
func NewBreaker(s Settings) *Breaker {
	if s.Probes == 0 {
		s.Probes = 1
	}
	if s.CoolDown == 0 {
		s.CoolDown = 30 * time.Second
	}
	if s.Trip == nil {
		s.Trip = func(c Counts) bool { return c.ConsecutiveFailures > 5 }
	}
	if s.Failure == nil {
		s.Failure = func(error) bool { return true }
	}

	b := &Breaker{settings: s, now: time.Now}
	b.newGeneration(b.now())
	return b
}

// Name returns the configured name.
func (b *Breaker) Name() string {
	return b.settings.Name
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, _ := b.current(b.now())
	return state
}

// Counts returns a copy of the current counts.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Do runs fn if the breaker admits it and records the outcome.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	generation, err := b.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)
	b.record(generation, err)
	return err
}

// Call is Do for functions that return a value.
func Call[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := b.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, generation := b.current(b.now())
	switch state {
	case StateOpen:
		return generation, ErrOpen
	case StateHalfOpen:
		if b.probes >= b.settings.Probes {
			return generation, ErrProbeLimit
		}
		b.probes++
	}

	b.counts.Requests++
	return generation, nil
}

func (b *Breaker) record(before uint64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	state, generation := b.current(now)
	if generation != before {
		return
	}

	if err == nil || !b.settings.Failure(err) {
		b.counts.success()
		if state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.settings.Probes {
			b.transition(StateClosed, now)
		}
		return
	}

	b.counts.failure()
	switch state {
	case StateClosed:
		if b.settings.Trip(b.counts) {
			b.transition(StateOpen, now)
		}
	case StateHalfOpen:
		b.transition(StateOpen, now)
	}
}

func (b *Breaker) current(now time.Time) (State, uint64) {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.newGeneration(now)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.transition(StateHalfOpen, now)
		}
	}
	return b.state, b.generation
}

func (b *Breaker) transition(to State, now time.Time) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.newGeneration(now)

	if b.settings.OnTransition != nil {
		b.settings.OnTransition(b.settings.Name, from, to)
	}
}

func (b *Breaker) newGeneration(now time.Time) {
	b.generation++
	b.counts = Counts{}
	b.probes = 0

	switch b.state {
	case StateClosed:
		if b.settings.Window > 0 {
			b.expiry = now.Add(b.settings.Window)
		} else {
			b.expiry = time.Time{}
		}
	case StateOpen:
		b.expiry = now.Add(b.settings.CoolDown)
	default:
		b.expiry = time.Time{}
	}
}

// Registry holds named breakers shared across sessions.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*Breaker)}
}

// Get returns the breaker called name, creating it from s if needed.
func (r *Registry) Get(name string, s Settings) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	s.Name = name
	b = NewBreaker(s)
	r.breakers[name] = b
	return b
}

// States reports every breaker's state, keyed by name.
func (r *Registry) States() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]State, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.State()
	}
	return out
}

// Names returns breaker names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
