package session_test

import (
	"context"
	"errors"
	"sync"

	"github.com/goliatone/go-session"
)

// memStore is a map-backed session.Store with per-key failure injection.
type memStore struct {
	mu       sync.Mutex
	data     map[string]string
	failGet  map[string]error
	failSet  map[string]error
	failDel  map[string]error
	setCalls []string
	delCalls []string
}

func newMemStore() *memStore {
	return &memStore{
		data:    map[string]string{},
		failGet: map[string]error{},
		failSet: map[string]error{},
		failDel: map[string]error{},
	}
}

func (m *memStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.failGet[key]; ok {
		return "", err
	}

	value, ok := m.data[key]
	if !ok {
		return "", session.ErrKeyNotFound
	}
	return value, nil
}

func (m *memStore) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.setCalls = append(m.setCalls, key)
	if err, ok := m.failSet[key]; ok {
		return err
	}

	m.data[key] = value
	return nil
}

func (m *memStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.delCalls = append(m.delCalls, key)
	if err, ok := m.failDel[key]; ok {
		return err
	}

	delete(m.data, key)
	return nil
}

func (m *memStore) snapshot() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]string, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out
}

// stubIdentity implements session.Identity with scripted token behavior.
type stubIdentity struct {
	id          string
	email       string
	displayName string

	mu           sync.Mutex
	token        string
	refreshed    string
	tokenErr     error
	refreshErr   error
	tokenCalls   int
	refreshCalls int
}

func (s *stubIdentity) ID() string          { return s.id }
func (s *stubIdentity) Email() string       { return s.email }
func (s *stubIdentity) DisplayName() string { return s.displayName }

func (s *stubIdentity) Token(ctx context.Context, forceRefresh bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if forceRefresh {
		s.refreshCalls++
		if s.refreshErr != nil {
			return "", s.refreshErr
		}
		if s.refreshed != "" {
			s.token = s.refreshed
		}
		return s.token, nil
	}

	s.tokenCalls++
	if s.tokenErr != nil {
		return "", s.tokenErr
	}
	return s.token, nil
}

// stubGateway implements session.Gateway with replay-on-subscribe
// delivery and an Emit hook for driving provider events from tests.
type stubGateway struct {
	mu          sync.Mutex
	current     session.Identity
	subscribers []func(session.Identity)

	signUpIdentity session.Identity
	signUpErr      error
	signInIdentity session.Identity
	signInErr      error
	resetErr       error

	signOutCalls int
	resetEmails  []string
}

func (g *stubGateway) SignUp(ctx context.Context, email, password, displayName string) (session.Identity, error) {
	if g.signUpErr != nil {
		return nil, g.signUpErr
	}
	g.setCurrent(g.signUpIdentity)
	return g.signUpIdentity, nil
}

func (g *stubGateway) SignIn(ctx context.Context, email, password string) (session.Identity, error) {
	if g.signInErr != nil {
		return nil, g.signInErr
	}
	g.setCurrent(g.signInIdentity)
	return g.signInIdentity, nil
}

func (g *stubGateway) SignOut(ctx context.Context) error {
	g.mu.Lock()
	g.signOutCalls++
	g.current = nil
	g.mu.Unlock()
	return nil
}

func (g *stubGateway) ResetPassword(ctx context.Context, email string) error {
	if g.resetErr != nil {
		return g.resetErr
	}
	g.mu.Lock()
	g.resetEmails = append(g.resetEmails, email)
	g.mu.Unlock()
	return nil
}

func (g *stubGateway) CurrentIdentity(ctx context.Context) (session.Identity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current, nil
}

func (g *stubGateway) Subscribe(onChange func(session.Identity)) session.Unsubscribe {
	g.mu.Lock()
	g.subscribers = append(g.subscribers, onChange)
	current := g.current
	g.mu.Unlock()

	onChange(current)

	return func() {}
}

func (g *stubGateway) setCurrent(identity session.Identity) {
	g.mu.Lock()
	g.current = identity
	g.mu.Unlock()
}

// Emit delivers a provider auth-state change to every subscriber.
func (g *stubGateway) Emit(identity session.Identity) {
	g.mu.Lock()
	g.current = identity
	subs := make([]func(session.Identity), len(g.subscribers))
	copy(subs, g.subscribers)
	g.mu.Unlock()

	for _, fn := range subs {
		fn(identity)
	}
}

// recordingSink collects activity events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []session.ActivityEvent
	err    error
}

func (r *recordingSink) Record(ctx context.Context, event session.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingSink) types() []session.ActivityEventType {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]session.ActivityEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

var errStorage = errors.New("disk unavailable")
