package session

import (
	"sync"
	"time"
)

// Status enumerates the session lifecycle states.
type Status string

const (
	// StatusRestoring is the transient startup state. It is never
	// re-entered once the coordinator resolves it.
	StatusRestoring Status = "restoring"
	// StatusAuthenticated means both a profile and a token are held.
	StatusAuthenticated Status = "authenticated"
	// StatusUnauthenticated is the signed-out terminal of every failure
	// path.
	StatusUnauthenticated Status = "unauthenticated"
)

// Snapshot is the whole session tuple. Writes replace it atomically so a
// reader never observes a profile without a token or vice versa.
type Snapshot struct {
	Status Status
	User   *UserProfile
	Token  string
	At     time.Time
}

// Authenticated reports whether the snapshot holds a live session.
func (s Snapshot) Authenticated() bool {
	return s.Status == StatusAuthenticated
}

// State is the single-writer session state container. Only the
// restoration coordinator, the observer synchronizer, and the explicit
// sign-in/up/out actions may write; reads are safe from any number of
// concurrent observers.
type State struct {
	mu          sync.RWMutex
	current     Snapshot
	transitions map[Status]map[Status]struct{}
	subscribers []stateSubscriber
	nextSub     int
	now         func() time.Time
	logger      Logger
}

type stateSubscriber struct {
	id int
	fn func(Snapshot)
}

// StateOption customizes state container construction.
type StateOption func(*State)

// WithStateClock injects a custom clock (useful for tests).
func WithStateClock(clock func() time.Time) StateOption {
	return func(s *State) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithStateLogger overrides the logger used for subscriber dispatch.
func WithStateLogger(logger Logger) StateOption {
	return func(s *State) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewState creates the session container in the restoring state.
func NewState(opts ...StateOption) *State {
	s := &State{
		transitions: map[Status]map[Status]struct{}{
			StatusRestoring: {
				StatusAuthenticated:   {},
				StatusUnauthenticated: {},
			},
			StatusAuthenticated: {
				// the self transition covers token rotation and profile
				// refresh; it still replaces the whole tuple
				StatusAuthenticated:   {},
				StatusUnauthenticated: {},
			},
			StatusUnauthenticated: {
				StatusAuthenticated:   {},
				StatusUnauthenticated: {},
			},
		},
		now:    time.Now,
		logger: defLogger{},
	}
	s.current = Snapshot{Status: StatusRestoring, At: s.now()}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	return s
}

// Current returns the session tuple as of the latest write.
func (s *State) Current() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Subscribe registers a change callback. Callbacks run synchronously on
// the writer's goroutine in registration order.
func (s *State) Subscribe(fn func(Snapshot)) Unsubscribe {
	if fn == nil {
		return func() {}
	}

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers = append(s.subscribers, stateSubscriber{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subscribers {
			if sub.id == id {
				s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
				return
			}
		}
	}
}

// SetAuthenticated resolves the session to authenticated. Both the
// profile and token are required; the invariant that authenticated
// implies a full tuple is enforced here, at the single write point.
func (s *State) SetAuthenticated(user *UserProfile, token string) error {
	if user == nil || token == "" {
		return ErrInvalidTransition.Clone().WithMetadata(map[string]any{
			"to":     StatusAuthenticated,
			"reason": "authenticated requires both user and token",
		})
	}
	return s.transition(StatusAuthenticated, user, token)
}

// SetUnauthenticated resolves the session to signed out, dropping the
// profile and token together.
func (s *State) SetUnauthenticated() error {
	return s.transition(StatusUnauthenticated, nil, "")
}

func (s *State) transition(to Status, user *UserProfile, token string) error {
	s.mu.Lock()
	from := s.current.Status

	if !s.canTransition(from, to) {
		s.mu.Unlock()
		return ErrInvalidTransition.Clone().WithMetadata(map[string]any{
			"from": from,
			"to":   to,
		})
	}

	next := Snapshot{Status: to, User: user, Token: token, At: s.now()}
	s.current = next
	subs := make([]stateSubscriber, len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.Unlock()

	// notify outside the lock so callbacks can read Current
	for _, sub := range subs {
		sub.fn(next)
	}

	return nil
}

func (s *State) canTransition(from, to Status) bool {
	if allowed, ok := s.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}
