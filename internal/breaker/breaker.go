// Package breaker implements a three-state circuit breaker and an explicit
// registry of breakers keyed by provider connection.
//
// State machine:
//
//	closed    --N consecutive failures-->  open
//	open      --cool-down elapsed------->  half_open (on the next call)
//	half_open --trial succeeds---------->  closed
//	half_open --trial fails------------->  open
//
// While open, calls fail fast with ErrCircuitOpen without invoking the
// wrapped function. While half-open exactly one trial call is in flight;
// concurrent callers are rejected with ErrCircuitOpen until it resolves.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrCircuitOpen is returned when a call is rejected without being attempted.
var ErrCircuitOpen = errors.New("circuit open")

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the lowercase state name.
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

// Settings configure a breaker. Zero values fall back to defaults.
type Settings struct {
	FailureThreshold int           // consecutive failures that trip the breaker (default 5)
	CoolDown         time.Duration // time spent open before a trial (default 30s)
	Now              func() time.Time
}

func (s Settings) withDefaults() Settings {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.CoolDown <= 0 {
		s.CoolDown = 30 * time.Second
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return s
}

// Snapshot is a point-in-time view of a breaker, for ops endpoints.
type Snapshot struct {
	Key         string     `json:"key"`
	State       string     `json:"state"`
	Failures    int        `json:"failures"`
	LastFailure *time.Time `json:"last_failure,omitempty"`
}

// Breaker guards calls to one provider connection. It is safe for
// concurrent use.
type Breaker struct {
	key      string
	settings Settings

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	trial       bool // a half-open trial is in flight
}

// New returns a closed breaker.
func New(key string, s Settings) *Breaker {
	b := &Breaker{key: key, settings: s.withDefaults()}
	observeState(key, StateClosed)
	return b
}

// Key returns the connection key this breaker guards.
func (b *Breaker) Key() string { return b.key }

// State returns the current state, accounting for an elapsed cool-down.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.coolDownElapsedLocked() {
		return StateHalfOpen
	}
	return b.state
}

// Snapshot returns the breaker's current counters.
func (b *Breaker) Snapshot() Snapshot {
	st := b.State()
	b.mu.Lock()
	defer b.mu.Unlock()
	snap := Snapshot{Key: b.key, State: st.String(), Failures: b.failures}
	if !b.lastFailure.IsZero() {
		lf := b.lastFailure
		snap.LastFailure = &lf
	}
	return snap
}

// Reset forces the breaker closed with zero failures.
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.state = StateClosed
	b.failures = 0
	b.lastFailure = time.Time{}
	b.trial = false
	b.mu.Unlock()
	observeState(b.key, StateClosed)
}

// Call runs fn under the breaker. Any non-nil error from fn counts as a
// failure, including context deadline expiry.
func (b *Breaker) Call(ctx context.Context, fn func(context.Context) error) error {
	trial, err := b.acquire()
	if err != nil {
		rejections.WithLabelValues(b.key).Inc()
		return err
	}
	err = fn(ctx)
	b.release(trial, err)
	return err
}

// Do runs fn under b and returns its result.
func Do[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := b.Call(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// acquire admits or rejects a call. trial is true for the single call let
// through while half-open.
func (b *Breaker) acquire() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if !b.coolDownElapsedLocked() {
			return false, ErrCircuitOpen
		}
		b.setStateLocked(StateHalfOpen)
		b.trial = true
		return true, nil
	case StateHalfOpen:
		if b.trial {
			return false, ErrCircuitOpen
		}
		b.trial = true
		return true, nil
	}
	return false, ErrCircuitOpen
}

func (b *Breaker) release(trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trial {
		b.trial = false
	}

	if err == nil {
		if trial {
			b.failures = 0
			b.setStateLocked(StateClosed)
		} else if b.state == StateClosed {
			b.failures = 0
		}
		return
	}

	b.failures++
	b.lastFailure = b.settings.Now()
	switch {
	case trial:
		b.setStateLocked(StateOpen)
	case b.state == StateClosed && b.failures >= b.settings.FailureThreshold:
		b.setStateLocked(StateOpen)
	}
}

func (b *Breaker) coolDownElapsedLocked() bool {
	return !b.settings.Now().Before(b.lastFailure.Add(b.settings.CoolDown))
}

func (b *Breaker) setStateLocked(s State) {
	if b.state == s {
		return
	}
	from := b.state
	b.state = s
	observeState(b.key, s)

	ev := log.Info()
	if s == StateOpen {
		ev = log.Warn()
	}
	ev.Str("breaker", b.key).
		Str("from", from.String()).
		Str("to", s.String()).
		Int("failures", b.failures).
		Msg("circuit breaker transition")
}
