// Package circuitbreaker trips per-key circuits after consecutive failures.
// Action executors use one key per directive kind.
package circuitbreaker

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Defaults applied by New for non-positive arguments.
const (
	DefaultThreshold    = 5
	DefaultOpenDuration = 30 * time.Second
)

// State of one circuit.
type State int

const (
	StateClosed   State = iota // calls pass
	StateOpen                  // calls rejected
	StateHalfOpen              // one probe in flight
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "sentinel",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit state transitions by key, from-state and to-state.",
}, []string{"key", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(transitions)
}

type circuit struct {
	state    State
	failures int
	openedAt time.Time
}

// Breaker holds one circuit per key. A circuit opens after threshold
// consecutive failures, admits a single probe once openDuration has passed
// and closes again when the probe succeeds.
type Breaker struct {
	mu           sync.Mutex
	circuits     map[string]*circuit
	threshold    int
	openDuration time.Duration
	now          func() time.Time
	onTransition func(key string, from, to State)
}

// New creates a breaker.
func New(threshold int, openDuration time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if openDuration <= 0 {
		openDuration = DefaultOpenDuration
	}
	return &Breaker{
		circuits:     make(map[string]*circuit),
		threshold:    threshold,
		openDuration: openDuration,
		now:          time.Now,
	}
}

// WithClock sets the time source.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
	return b
}

// OnTransition registers a callback run synchronously, outside the lock,
// after every state change.
func (b *Breaker) OnTransition(fn func(key string, from, to State)) *Breaker {
	b.mu.Lock()
	b.onTransition = fn
	b.mu.Unlock()
	return b
}

// Allow reports whether a call for key may proceed. An open circuit whose
// open period has elapsed moves to half-open and admits the caller as the
// probe.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	c, ok := b.circuits[key]
	if !ok || c.state == StateClosed {
		b.mu.Unlock()
		return true
	}
	if c.state == StateOpen && b.now().Sub(c.openedAt) >= b.openDuration {
		notify := b.transition(c, key, StateHalfOpen)
		b.mu.Unlock()
		notify()
		return true
	}
	b.mu.Unlock()
	return false
}

// RecordSuccess resets the failure count and closes a half-open circuit.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	c, ok := b.circuits[key]
	if !ok {
		b.mu.Unlock()
		return
	}
	c.failures = 0
	notify := b.transition(c, key, StateClosed)
	b.mu.Unlock()
	notify()
}

// RecordFailure counts a failure. A failed probe reopens the circuit.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{}
		b.circuits[key] = c
	}
	c.failures++

	notify := func() {}
	if c.state == StateHalfOpen || (c.state == StateClosed && c.failures >= b.threshold) {
		c.openedAt = b.now()
		notify = b.transition(c, key, StateOpen)
	}
	b.mu.Unlock()
	notify()
}

// State returns the state for key; unknown keys are closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.circuits[key]; ok {
		return c.state
	}
	return StateClosed
}

// Snapshot returns the state of every key that has recorded a failure,
// sorted by key.
func (b *Breaker) Snapshot() []KeyState {
	b.mu.Lock()
	out := make([]KeyState, 0, len(b.circuits))
	for k, c := range b.circuits {
		out = append(out, KeyState{Key: k, State: c.state.String(), Failures: c.failures})
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// KeyState is one entry of a Snapshot.
type KeyState struct {
	Key      string `json:"key"`
	State    string `json:"state"`
	Failures int    `json:"failures"`
}

// transition must be called with b.mu held. It returns the callback to run
// after unlocking.
func (b *Breaker) transition(c *circuit, key string, to State) func() {
	from := c.state
	if from == to {
		return func() {}
	}
	c.state = to
	transitions.WithLabelValues(key, from.String(), to.String()).Inc()
	fn := b.onTransition
	if fn == nil {
		return func() {}
	}
	return func() { fn(key, from, to) }
}
