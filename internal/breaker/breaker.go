// ABOUTME: Sliding-window circuit breaker keyed by task ref
// ABOUTME: Implements Closed/Open/HalfOpen transitions with manual controls and value snapshots

package breaker

import (
	"sync"
	"time"

	"github.com/weftwork/weft/pkg/types"
)

// State is the breaker state machine position
type State string

const (
	// Closed allows invocations and tracks failures in a sliding window
	Closed State = "closed"
	// Open refuses invocations until the break duration elapses
	Open State = "open"
	// HalfOpen allows a limited number of probe invocations
	HalfOpen State = "half-open"
)

// DefaultConfig applies when a task definition declares no breaker settings
var DefaultConfig = types.CircuitConfig{
	FailureThreshold: 5,
	SamplingDuration: 60 * time.Second,
	BreakDuration:    30 * time.Second,
	HalfOpenRequests: 2,
}

// Snapshot is an immutable copy of breaker state
type Snapshot struct {
	TaskRef          string    `json:"taskRef"`
	State            State     `json:"state"`
	FailureCount     int       `json:"failureCount"`
	SuccessCount     int       `json:"successCount"`
	LastTransitionAt time.Time `json:"lastTransitionAt"`
	OpenedAt         time.Time `json:"openedAt,omitempty"`
}

// Breaker guards a single task ref. All transitions happen under its mutex.
type Breaker struct {
	mu sync.Mutex

	taskRef string
	config  types.CircuitConfig
	clock   types.Clock

	state             State
	failures          []time.Time
	halfOpenSuccesses int
	halfOpenProbes    int
	openedAt          time.Time
	lastTransition    time.Time
}

func newBreaker(taskRef string, config types.CircuitConfig, clock types.Clock) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultConfig.FailureThreshold
	}
	if config.SamplingDuration <= 0 {
		config.SamplingDuration = DefaultConfig.SamplingDuration
	}
	if config.BreakDuration <= 0 {
		config.BreakDuration = DefaultConfig.BreakDuration
	}
	if config.HalfOpenRequests <= 0 {
		config.HalfOpenRequests = DefaultConfig.HalfOpenRequests
	}
	return &Breaker{
		taskRef:        taskRef,
		config:         config,
		clock:          clock,
		state:          Closed,
		lastTransition: clock.Now(),
	}
}

// CanExecute reports whether an invocation may proceed. An open breaker
// whose break duration has elapsed transitions to half-open here.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if b.clock.Now().Sub(b.openedAt) >= b.config.BreakDuration {
			b.transition(HalfOpen)
			b.halfOpenProbes = 1
			return true
		}
		return false
	case HalfOpen:
		if b.halfOpenProbes < b.config.HalfOpenRequests {
			b.halfOpenProbes++
			return true
		}
		return false
	}
	return false
}

// RecordSuccess reports a successful invocation
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failures = b.failures[:0]
	case HalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.config.HalfOpenRequests {
			b.transition(Closed)
		}
	}
}

// RecordFailure reports a failed invocation
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	switch b.state {
	case Closed:
		b.failures = append(b.failures, now)
		b.prune(now)
		if len(b.failures) >= b.config.FailureThreshold {
			b.transition(Open)
			b.openedAt = now
		}
	case HalfOpen:
		// Any half-open failure reopens and restarts the break timer.
		b.transition(Open)
		b.openedAt = now
	}
}

// ForceOpen opens the breaker regardless of failure history
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(Open)
	b.openedAt = b.clock.Now()
}

// ForceClose closes the breaker and clears failure history
func (b *Breaker) ForceClose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(Closed)
}

// Reset returns the breaker to its initial closed state
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(Closed)
	b.lastTransition = b.clock.Now()
}

// GetState returns an immutable snapshot of the breaker
func (b *Breaker) GetState() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune(b.clock.Now())
	return Snapshot{
		TaskRef:          b.taskRef,
		State:            b.state,
		FailureCount:     len(b.failures),
		SuccessCount:     b.halfOpenSuccesses,
		LastTransitionAt: b.lastTransition,
		OpenedAt:         b.openedAt,
	}
}

// transition moves to a new state and resets per-state counters.
// Callers hold b.mu.
func (b *Breaker) transition(next State) {
	b.state = next
	b.lastTransition = b.clock.Now()
	b.halfOpenSuccesses = 0
	b.halfOpenProbes = 0
	if next == Closed {
		b.failures = b.failures[:0]
		b.openedAt = time.Time{}
	}
}

// prune drops failures that fell out of the sampling window. Callers hold b.mu.
func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.config.SamplingDuration)
	kept := b.failures[:0]
	for _, at := range b.failures {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	b.failures = kept
}

// Table is the process-wide breaker registry keyed by task ref
type Table struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	clock    types.Clock
}

// NewTable creates a breaker table
func NewTable(clock types.Clock) *Table {
	if clock == nil {
		clock = types.SystemClock{}
	}
	return &Table{
		breakers: make(map[string]*Breaker),
		clock:    clock,
	}
}

// For returns the breaker guarding a task ref, creating it with the given
// config on first use. Later configs for the same ref are ignored.
func (t *Table) For(taskRef string, config *types.CircuitConfig) *Breaker {
	t.mu.RLock()
	b, ok := t.breakers[taskRef]
	t.mu.RUnlock()
	if ok {
		return b
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.breakers[taskRef]; ok {
		return b
	}
	cfg := DefaultConfig
	if config != nil {
		cfg = *config
	}
	b = newBreaker(taskRef, cfg, t.clock)
	t.breakers[taskRef] = b
	return b
}

// Snapshots returns the state of every tracked breaker
func (t *Table) Snapshots() []Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Snapshot, 0, len(t.breakers))
	for _, b := range t.breakers {
		out = append(out, b.GetState())
	}
	return out
}
