package session

import (
	"context"
	"sync"
)

// Coordinator resolves the initial session exactly once at process
// start. It blocks until the identity provider delivers its first
// auth-state event, then reconciles persisted data with that event. The
// wait exists so a returning authenticated user never sees a flash of
// signed-out UI while the provider finishes its async initialization.
type Coordinator struct {
	gateway      Gateway
	store        Store
	state        *State
	logger       Logger
	provider     LoggerProvider
	activitySink ActivitySink
}

// NewCoordinator creates a restoration coordinator. The state container
// is expected to be in the restoring status.
func NewCoordinator(gateway Gateway, store Store, state *State) *Coordinator {
	provider, logger := ResolveLogger("session.restore", nil, nil)
	return &Coordinator{
		gateway:      gateway,
		store:        store,
		state:        state,
		logger:       logger,
		provider:     provider,
		activitySink: noopActivitySink{},
	}
}

func (r *Coordinator) WithLogger(logger Logger) *Coordinator {
	r.provider, r.logger = ResolveLogger("session.restore", r.provider, logger)
	return r
}

// WithActivitySink configures an ActivitySink for the restore outcome.
func (r *Coordinator) WithActivitySink(sink ActivitySink) *Coordinator {
	r.activitySink = normalizeActivitySink(sink)
	return r
}

// Restore runs the one-time restoration flow. Event #1 of the gateway
// subscription belongs to the coordinator by convention; the
// synchronizer skips its own first event to match. Every error path
// falls through to unauthenticated so the session always resolves out of
// restoring.
func (r *Coordinator) Restore(ctx context.Context) error {
	first := make(chan Identity, 1)
	var once sync.Once

	unsubscribe := r.gateway.Subscribe(func(identity Identity) {
		once.Do(func() { first <- identity })
	})
	defer unsubscribe()

	var identity Identity
	select {
	case identity = <-first:
	case <-ctx.Done():
		r.resolveUnauthenticated(ctx, "context cancelled before first provider event")
		return ctx.Err()
	}

	if identity == nil {
		r.resolveUnauthenticated(ctx, "provider reports signed out")
		return nil
	}

	cred, err := ReadCredential(ctx, r.store, r.logger)
	if err != nil {
		// a provider identity without local data is not a session: the
		// user proceeds through explicit sign-in, which is also how a
		// reinstalled app behaves
		r.resolveUnauthenticated(ctx, "no usable stored credential")
		return nil
	}

	// any valid token will do here; forcing the newest one is not
	// required for correctness
	token, err := identity.Token(ctx, false)
	if err != nil {
		r.logger.Warn("token fetch failed during restore", "error", err)
		r.resolveUnauthenticated(ctx, "token fetch failed")
		return nil
	}

	if token != cred.Token {
		if err := WriteToken(ctx, r.store, token); err != nil {
			// the in-hand token is still valid, keep going
			r.logger.Warn("failed to persist refreshed token during restore", "error", err)
		}
	}

	if err := r.state.SetAuthenticated(cred.Profile, token); err != nil {
		r.logger.Error("failed to resolve restored session", "error", err)
		r.resolveUnauthenticated(ctx, "state resolution failed")
		return nil
	}

	recordActivity(ctx, r.activitySink, r.logger, ActivityEvent{
		EventType: ActivityEventRestoreComplete,
		Subject:   cred.Subject,
		ToStatus:  StatusAuthenticated,
	})

	return nil
}

func (r *Coordinator) resolveUnauthenticated(ctx context.Context, reason string) {
	r.logger.Debug("restoration resolved to unauthenticated", "reason", reason)

	if err := r.state.SetUnauthenticated(); err != nil {
		r.logger.Error("failed to resolve session to unauthenticated", "error", err)
	}

	recordActivity(ctx, r.activitySink, r.logger, ActivityEvent{
		EventType: ActivityEventRestoreComplete,
		ToStatus:  StatusUnauthenticated,
		Metadata:  map[string]any{"reason": reason},
	})
}
