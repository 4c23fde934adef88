// Package breaker implements a count-based circuit breaker.
//
// CLOSED records outcomes in a sliding window of the last WindowSize calls
// and opens once at least MinimumCalls are recorded and the failure rate
// reaches FailureRateThreshold. OPEN rejects calls with ErrOpen until
// WaitDuration has passed; the next call then moves it to HALF_OPEN, where
// up to PermittedHalfOpenCalls trial calls run. Any trial failure reopens
// the breaker; once every permitted trial succeeds it closes again.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrOpen is returned without calling the protected function.
var ErrOpen = errors.New("circuit breaker is open")

type Config struct {
	Name                   string
	WindowSize             int
	FailureRateThreshold   float64 // percent, 0-100
	MinimumCalls           int
	WaitDuration           time.Duration
	PermittedHalfOpenCalls int
	// IsFailure decides which errors count against the breaker. Nil counts
	// every non-nil error.
	IsFailure func(error) bool
	// OnStateChange runs with the breaker locked and must not call back into it.
	OnStateChange func(name string, from, to State)
	Now           func() time.Time
}

func DefaultConfig(name string) Config {
	return Config{
		Name:                   name,
		WindowSize:             5,
		FailureRateThreshold:   50,
		MinimumCalls:           5,
		WaitDuration:           10 * time.Second,
		PermittedHalfOpenCalls: 1,
	}
}

type Breaker struct {
	cfg Config

	mu       sync.Mutex
	state    State
	window   []bool // true = failure
	next     int
	filled   int
	openedAt time.Time
	inFlight int // half-open trials started
	passed   int // half-open trials succeeded
}

func New(cfg Config) *Breaker {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 5
	}
	if cfg.MinimumCalls <= 0 || cfg.MinimumCalls > cfg.WindowSize {
		cfg.MinimumCalls = cfg.WindowSize
	}
	if cfg.PermittedHalfOpenCalls <= 0 {
		cfg.PermittedHalfOpenCalls = 1
	}
	if cfg.FailureRateThreshold <= 0 {
		cfg.FailureRateThreshold = 50
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	return &Breaker{cfg: cfg, window: make([]bool, cfg.WindowSize)}
}

func (b *Breaker) Name() string { return b.cfg.Name }

// State reports the current state without advancing OPEN to HALF_OPEN.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs fn when the breaker admits the call and records its outcome.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	admitted, err := b.before()
	if err != nil {
		return err
	}
	ferr := fn(ctx)
	b.after(admitted, b.cfg.IsFailure(ferr))
	return ferr
}

// before admits or rejects a call. The returned state is the one the call
// was admitted under, so late results from an older state are ignored.
func (b *Breaker) before() (State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Open:
		if b.cfg.Now().Sub(b.openedAt) < b.cfg.WaitDuration {
			return Open, ErrOpen
		}
		b.setState(HalfOpen)
		fallthrough
	case HalfOpen:
		if b.inFlight >= b.cfg.PermittedHalfOpenCalls {
			return HalfOpen, ErrOpen
		}
		b.inFlight++
		return HalfOpen, nil
	default:
		return Closed, nil
	}
}

func (b *Breaker) after(admitted State, failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if admitted != b.state {
		return
	}
	switch b.state {
	case Closed:
		b.record(failed)
		if b.filled >= b.cfg.MinimumCalls && b.failureRate() >= b.cfg.FailureRateThreshold {
			b.setState(Open)
		}
	case HalfOpen:
		if failed {
			b.setState(Open)
			return
		}
		b.passed++
		if b.passed >= b.cfg.PermittedHalfOpenCalls {
			b.setState(Closed)
		}
	}
}

func (b *Breaker) record(failed bool) {
	b.window[b.next] = failed
	b.next = (b.next + 1) % len(b.window)
	if b.filled < len(b.window) {
		b.filled++
	}
}

func (b *Breaker) failureRate() float64 {
	if b.filled == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < b.filled; i++ {
		if b.window[i] {
			failures++
		}
	}
	return float64(failures) * 100 / float64(b.filled)
}

// setState must be called with mu held.
func (b *Breaker) setState(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.inFlight, b.passed = 0, 0
	switch to {
	case Open:
		b.openedAt = b.cfg.Now()
	case Closed:
		for i := range b.window {
			b.window[i] = false
		}
		b.next, b.filled = 0, 0
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}
