// Package gate holds outgoing checkout calls while a purchase decision is
// pending.
package gate

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrPurchaseBlocked is returned for held calls the user declined.
	ErrPurchaseBlocked = errors.New("spendshield: purchase blocked")

	// ErrHoldActive is returned by Block while another hold is unresolved.
	ErrHoldActive = errors.New("spendshield: a purchase decision is already pending")
)

// hold is a one-shot future. done is closed exactly once, after allow has
// been set. timedOut is guarded by State.mu.
type hold struct {
	done     chan struct{}
	allow    bool
	timedOut bool
	created  time.Time
}

// Snapshot is a consistent copy of the state flags.
type Snapshot struct {
	Blocking   bool  `json:"blocking"`
	Decision   *bool `json:"decision,omitempty"`
	Proceeding bool  `json:"proceeding"`
}

// State is the shared record between the decision machine, which writes
// it, and the gate, which only waits on it.
type State struct {
	mu         sync.Mutex
	blocking   bool
	decision   *bool
	proceeding bool
	current    *hold
	now        func() time.Time
}

func NewState() *State {
	return &State{now: time.Now}
}

// Block opens a new hold. Checkout calls made from now on wait for the
// matching Resolve.
func (s *State) Block() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blocking {
		return ErrHoldActive
	}
	s.blocking = true
	s.decision = nil
	s.current = &hold{done: make(chan struct{}), created: s.now()}
	return nil
}

// Resolve settles the current hold and wakes every waiter. It reports
// false when nothing was blocking.
func (s *State) Resolve(allow bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.blocking {
		return false
	}
	s.blocking = false
	d := allow
	s.decision = &d
	h := s.current
	s.current = nil
	h.allow = allow
	close(h.done)
	return true
}

// SetProceeding marks the window in which the user's own replayed action
// is in flight and must not be held.
func (s *State) SetProceeding(v bool) {
	s.mu.Lock()
	s.proceeding = v
	s.mu.Unlock()
}

func (s *State) Blocking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocking
}

func (s *State) Proceeding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proceeding
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Blocking: s.blocking, Proceeding: s.proceeding}
	if s.decision != nil {
		d := *s.decision
		snap.Decision = &d
	}
	return snap
}

// TimedOut reports whether the open hold has already let a call through
// on the hold timeout.
func (s *State) TimedOut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil && s.current.timedOut
}

func (s *State) markTimedOut(h *hold) {
	s.mu.Lock()
	h.timedOut = true
	s.mu.Unlock()
}

// active returns the hold a new call must wait on, or nil when calls pass.
func (s *State) active() *hold {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.blocking || s.proceeding {
		return nil
	}
	return s.current
}
