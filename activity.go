package session

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported session lifecycle events.
type ActivityEventType string

const (
	ActivityEventStatusChanged   ActivityEventType = "session.status.changed"
	ActivityEventRestoreComplete ActivityEventType = "session.restore.complete"
	ActivityEventSignInSuccess   ActivityEventType = "session.signin.success"
	ActivityEventSignInFailure   ActivityEventType = "session.signin.failure"
	ActivityEventSignUpSuccess   ActivityEventType = "session.signup.success"
	ActivityEventSignUpFailure   ActivityEventType = "session.signup.failure"
	ActivityEventSignOut         ActivityEventType = "session.signout"
	ActivityEventForcedSignOut   ActivityEventType = "session.signout.forced"
	ActivityEventPasswordReset   ActivityEventType = "session.password.reset"
)

// ActivityEvent captures audit-friendly information about a session
// lifecycle action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Subject    string
	FromStatus Status
	ToStatus   Status
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

func recordActivity(ctx context.Context, sink ActivitySink, logger Logger, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	if err := normalizeActivitySink(sink).Record(ctx, event); err != nil {
		if logger == nil {
			logger = defLogger{}
		}
		logger.Warn("activity sink record error: %v", err)
	}
}
