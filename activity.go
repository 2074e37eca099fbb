package session

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventRestored           ActivityEventType = "session.restored"
	ActivityEventRestoreFailed      ActivityEventType = "session.restore.failure"
	ActivityEventLoginSuccess       ActivityEventType = "session.login.success"
	ActivityEventLoginFailure       ActivityEventType = "session.login.failure"
	ActivityEventRegisterSuccess    ActivityEventType = "session.register.success"
	ActivityEventRegisterFailure    ActivityEventType = "session.register.failure"
	ActivityEventLogout             ActivityEventType = "session.logout"
	ActivityEventPrincipalRefreshed ActivityEventType = "session.principal.refreshed"
	ActivityEventTrustSynced        ActivityEventType = "session.trust.synced"
	ActivityEventTrustDegraded      ActivityEventType = "session.trust.degraded"
	ActivityEventTrustDiscarded     ActivityEventType = "session.trust.discarded"
	ActivityEventKeysFailed         ActivityEventType = "session.keys.failed"
)

// ActivityEvent captures audit-friendly information about a session transition.
type ActivityEvent struct {
	ID          string
	EventType   ActivityEventType
	PrincipalID string
	Generation  uint64
	FromState   State
	ToState     State
	Metadata    map[string]any
	OccurredAt  time.Time
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
