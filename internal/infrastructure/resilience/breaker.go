package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/GriffinCanCode/AgentOS/modhost/internal/clock"
)

var (
	// ErrCircuitOpen is returned while the breaker refuses calls.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrProbeInFlight is returned when a half-open breaker already has its probes out.
	ErrProbeInFlight = errors.New("circuit breaker probe in flight")
)

// State is the breaker position.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures a Breaker.
type Settings struct {
	// Threshold is the number of consecutive counted failures that opens the breaker.
	Threshold int
	// Cooldown is how long the breaker stays open before admitting probes.
	Cooldown time.Duration
	// Probes is the number of calls admitted while half-open; that many
	// successes close the breaker again.
	Probes int
	// Counts decides whether an error counts against the remote. Errors it
	// rejects (a 404 from the index, a cancelled context) pass through
	// without moving the breaker. Nil counts every error.
	Counts func(err error) bool
	// OnStateChange observes transitions.
	OnStateChange func(name string, from, to State)
	// Clock is the time source; nil means the wall clock.
	Clock clock.Clock
}

// Stats is a snapshot of the breaker counters.
type Stats struct {
	Calls                uint64
	Failures             uint64
	Rejected             uint64
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
}

// Breaker stops calls to the package index after repeated transport
// failures so a dead server fails fast instead of stalling every load.
type Breaker struct {
	name     string
	settings Settings
	clock    clock.Clock

	mu       sync.Mutex
	state    State
	openedAt time.Time
	inflight int
	stats    Stats
}

// New creates a closed breaker.
func New(name string, settings Settings) *Breaker {
	if settings.Threshold <= 0 {
		settings.Threshold = 5
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = 30 * time.Second
	}
	if settings.Probes <= 0 {
		settings.Probes = 1
	}
	clk := settings.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Breaker{name: name, settings: settings, clock: clk}
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current position, promoting open to half-open once the
// cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current()
}

// Stats returns a copy of the counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Do runs fn if the breaker admits it and records the outcome.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}

	var err error
	defer func() {
		if p := recover(); p != nil {
			b.record(errors.New("panic"))
			panic(p)
		}
		b.record(err)
	}()

	err = fn()
	return err
}

// Call is Do for functions that return a value.
func Call[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var out T
	err := b.Do(func() error {
		v, err := fn()
		out = v
		return err
	})
	return out, err
}

// Reset closes the breaker and clears the counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
	b.stats = Stats{}
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.current() {
	case StateOpen:
		b.stats.Rejected++
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.inflight >= b.settings.Probes {
			b.stats.Rejected++
			return ErrProbeInFlight
		}
	}
	b.inflight++
	b.stats.Calls++
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.inflight > 0 {
		b.inflight--
	}
	state := b.current()

	if err != nil && b.counts(err) {
		b.stats.Failures++
		b.stats.ConsecutiveFailures++
		b.stats.ConsecutiveSuccesses = 0
		if state == StateHalfOpen || b.stats.ConsecutiveFailures >= b.settings.Threshold {
			b.transition(StateOpen)
		}
		return
	}

	b.stats.ConsecutiveFailures = 0
	b.stats.ConsecutiveSuccesses++
	if state == StateHalfOpen && b.stats.ConsecutiveSuccesses >= b.settings.Probes {
		b.transition(StateClosed)
	}
}

func (b *Breaker) counts(err error) bool {
	if b.settings.Counts == nil {
		return true
	}
	return b.settings.Counts(err)
}

// current must be called with mu held.
func (b *Breaker) current() State {
	if b.state == StateOpen && !b.clock.Now().Before(b.openedAt.Add(b.settings.Cooldown)) {
		b.transition(StateHalfOpen)
	}
	return b.state
}

func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.stats.ConsecutiveFailures = 0
	b.stats.ConsecutiveSuccesses = 0
	if to == StateOpen {
		b.openedAt = b.clock.Now()
	}
	if to != StateHalfOpen {
		b.inflight = 0
	}
	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, from, to)
	}
}
