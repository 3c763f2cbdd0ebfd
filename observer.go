package session

import (
	"context"
	"sync/atomic"
)

// Synchronizer keeps the session aligned with identity provider events
// after restoration: token rotation, forced sign-out, remote revocation.
//
// It ignores its own first delivered event. The coordinator and the
// synchronizer subscribe independently near process start, and the
// provider offers no exactly-once delivery across consumers, so event #1
// is assigned to the coordinator by an index convention rather than a
// shared queue.
type Synchronizer struct {
	gateway      Gateway
	store        Store
	state        *State
	logger       Logger
	provider     LoggerProvider
	activitySink ActivitySink
	seenFirst    atomic.Bool
}

// NewSynchronizer creates an observer synchronizer.
func NewSynchronizer(gateway Gateway, store Store, state *State) *Synchronizer {
	provider, logger := ResolveLogger("session.observer", nil, nil)
	return &Synchronizer{
		gateway:      gateway,
		store:        store,
		state:        state,
		logger:       logger,
		provider:     provider,
		activitySink: noopActivitySink{},
	}
}

func (o *Synchronizer) WithLogger(logger Logger) *Synchronizer {
	o.provider, o.logger = ResolveLogger("session.observer", o.provider, logger)
	return o
}

// WithActivitySink configures an ActivitySink for sync outcomes.
func (o *Synchronizer) WithActivitySink(sink ActivitySink) *Synchronizer {
	o.activitySink = normalizeActivitySink(sink)
	return o
}

// Start subscribes to the gateway and runs for the lifetime of the
// process; there is no cancellation beyond the returned Unsubscribe.
func (o *Synchronizer) Start(ctx context.Context) Unsubscribe {
	return o.gateway.Subscribe(func(identity Identity) {
		if !o.seenFirst.Swap(true) {
			// event #1 belongs to the restoration coordinator
			return
		}
		o.handle(ctx, identity)
	})
}

func (o *Synchronizer) handle(ctx context.Context, identity Identity) {
	snap := o.state.Current()

	if snap.Status == StatusRestoring {
		// restoration still owns the session; it resolves from event #1
		o.logger.Debug("ignoring provider event while session is restoring")
		return
	}

	switch {
	case identity != nil && snap.Authenticated():
		// already consistent; writing again would only churn the store
	case identity != nil:
		o.recover(ctx, identity)
	case snap.Authenticated():
		o.revoke(ctx, snap)
	default:
		// signed out on both sides
	}
}

// recover handles provider-side token rotation that happened while the
// local session lagged: an identity is present but the session is signed
// out. It only succeeds when a cached profile exists; otherwise the user
// must sign in explicitly.
func (o *Synchronizer) recover(ctx context.Context, identity Identity) {
	cred, err := ReadCredential(ctx, o.store, o.logger)
	if err != nil {
		o.logger.Debug("provider identity present without cached profile, staying signed out")
		return
	}

	token, err := identity.Token(ctx, false)
	if err != nil {
		o.logger.Warn("token fetch failed during session recovery", "error", err)
		return
	}

	if token != cred.Token {
		if err := WriteToken(ctx, o.store, token); err != nil {
			o.logger.Warn("failed to persist rotated token", "error", err)
		}
	}

	if err := o.state.SetAuthenticated(cred.Profile, token); err != nil {
		o.logger.Error("failed to recover session", "error", err)
		return
	}

	recordActivity(ctx, o.activitySink, o.logger, ActivityEvent{
		EventType:  ActivityEventStatusChanged,
		Subject:    cred.Subject,
		FromStatus: StatusUnauthenticated,
		ToStatus:   StatusAuthenticated,
	})
}

// revoke handles remote sign-out or provider-side session revocation:
// the provider reports signed out while the local session is live.
func (o *Synchronizer) revoke(ctx context.Context, snap Snapshot) {
	if err := ClearCredential(ctx, o.store); err != nil {
		o.logger.Error("failed to clear credential after remote sign out", "error", err)
	}

	if err := o.state.SetUnauthenticated(); err != nil {
		o.logger.Error("failed to resolve session after remote sign out", "error", err)
		return
	}

	subject := ""
	if snap.User != nil {
		subject = snap.User.ID.String()
	}

	recordActivity(ctx, o.activitySink, o.logger, ActivityEvent{
		EventType:  ActivityEventForcedSignOut,
		Subject:    subject,
		FromStatus: StatusAuthenticated,
		ToStatus:   StatusUnauthenticated,
	})
}
