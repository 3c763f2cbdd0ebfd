package session

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

// Manager is the action boundary for the explicit session flows: sign
// up, sign in, sign out, and password reset. Screens call the manager
// and translate the returned errors with UserMessage; no half-applied
// session state survives a failed action.
type Manager struct {
	gateway      Gateway
	client       *Client
	store        Store
	state        *State
	logger       Logger
	provider     LoggerProvider
	activitySink ActivitySink
}

// NewManager wires the session action boundary.
func NewManager(gateway Gateway, client *Client, store Store, state *State) *Manager {
	provider, logger := ResolveLogger("session.manager", nil, nil)
	return &Manager{
		gateway:      gateway,
		client:       client,
		store:        store,
		state:        state,
		logger:       logger,
		provider:     provider,
		activitySink: noopActivitySink{},
	}
}

func (m *Manager) WithLogger(logger Logger) *Manager {
	m.provider, m.logger = ResolveLogger("session.manager", m.provider, logger)
	return m
}

// WithActivitySink configures an ActivitySink for session actions.
func (m *Manager) WithActivitySink(sink ActivitySink) *Manager {
	m.activitySink = normalizeActivitySink(sink)
	return m
}

// State exposes the session container for read access and subscriptions.
func (m *Manager) State() *State {
	return m.state
}

// SignUp creates a provider account and registers the backend profile.
// A backend rejection after the provider account was created signs the
// provider back out so the two sides stay in agreement.
func (m *Manager) SignUp(ctx context.Context, password string, fields ProfileFields) (*UserProfile, error) {
	if err := fields.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid sign up fields")
	}

	identity, err := m.gateway.SignUp(ctx, fields.Email, password, fields.Name)
	if err != nil {
		m.recordFailure(ctx, ActivityEventSignUpFailure, fields.Email, err)
		return nil, err
	}

	profile, err := m.client.Register(ctx, identity, fields)
	if err != nil {
		m.rollbackProvider(ctx)
		m.recordFailure(ctx, ActivityEventSignUpFailure, fields.Email, err)
		return nil, err
	}

	recordActivity(ctx, m.activitySink, m.logger, ActivityEvent{
		EventType: ActivityEventSignUpSuccess,
		Subject:   identity.ID(),
		ToStatus:  StatusAuthenticated,
	})

	return profile, nil
}

// SignIn verifies credentials with the provider and exchanges the
// resulting identity for the backend profile under the asserted role.
func (m *Manager) SignIn(ctx context.Context, email, password string, role Role) (*UserProfile, error) {
	identity, err := m.gateway.SignIn(ctx, email, password)
	if err != nil {
		m.recordFailure(ctx, ActivityEventSignInFailure, email, err)
		return nil, err
	}

	profile, err := m.client.Login(ctx, identity, role)
	if err != nil {
		m.rollbackProvider(ctx)
		m.recordFailure(ctx, ActivityEventSignInFailure, email, err)
		return nil, err
	}

	recordActivity(ctx, m.activitySink, m.logger, ActivityEvent{
		EventType: ActivityEventSignInSuccess,
		Subject:   identity.ID(),
		ToStatus:  StatusAuthenticated,
	})

	return profile, nil
}

// SignOut signs out of the provider, clears the stored credential, and
// resolves the session to unauthenticated. The local teardown runs even
// when the provider call fails; a stale provider session is recoverable,
// a stale local credential is not.
func (m *Manager) SignOut(ctx context.Context) error {
	snap := m.state.Current()

	if err := m.gateway.SignOut(ctx); err != nil {
		m.logger.Warn("provider sign out failed, clearing local session anyway", "error", err)
	}

	clearErr := ClearCredential(ctx, m.store)
	if clearErr != nil {
		m.logger.Error("failed to clear credential on sign out", "error", clearErr)
	}

	if err := m.state.SetUnauthenticated(); err != nil {
		return err
	}

	subject := ""
	if snap.User != nil {
		subject = snap.User.ID.String()
	}

	recordActivity(ctx, m.activitySink, m.logger, ActivityEvent{
		EventType:  ActivityEventSignOut,
		Subject:    subject,
		FromStatus: snap.Status,
		ToStatus:   StatusUnauthenticated,
	})

	return clearErr
}

// ResetPassword asks the provider to start a password reset flow for the
// given email address.
func (m *Manager) ResetPassword(ctx context.Context, email string) error {
	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid email address")
	}

	if err := m.gateway.ResetPassword(ctx, email); err != nil {
		return err
	}

	recordActivity(ctx, m.activitySink, m.logger, ActivityEvent{
		EventType: ActivityEventPasswordReset,
	})

	return nil
}

// rollbackProvider signs the provider back out after a failed backend
// exchange so the observer never sees an identity the backend rejected.
func (m *Manager) rollbackProvider(ctx context.Context) {
	if err := m.gateway.SignOut(ctx); err != nil {
		m.logger.Warn("failed to roll back provider sign in", "error", err)
	}
}

func (m *Manager) recordFailure(ctx context.Context, event ActivityEventType, email string, err error) {
	recordActivity(ctx, m.activitySink, m.logger, ActivityEvent{
		EventType: event,
		Metadata: map[string]any{
			"identifier": email,
			"reason":     string(ReasonFromError(err)),
		},
	})
}
