package accounts

import (
	"context"
	"time"
)

// ActivityEventType names an audit event
type ActivityEventType string

// Lifecycle changes use the account prefix, credential and session events
// the auth prefix.
const (
	ActivityEventAccountRegistered    ActivityEventType = "account.registered"
	ActivityEventAccountReactivated   ActivityEventType = "account.reactivated"
	ActivityEventAccountStateChanged  ActivityEventType = "account.state.changed"
	ActivityEventEmailVerified        ActivityEventType = "account.email.verified"
	ActivityEventProfileUpdated       ActivityEventType = "account.profile.updated"
	ActivityEventLoginSuccess         ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure         ActivityEventType = "auth.login.failure"
	ActivityEventLogout               ActivityEventType = "auth.logout"
	ActivityEventExternalLogin        ActivityEventType = "auth.external.login"
	ActivityEventPasswordResetRequest ActivityEventType = "auth.password.reset_requested"
	ActivityEventPasswordResetSuccess ActivityEventType = "auth.password.reset"
	ActivityEventPasswordChanged      ActivityEventType = "auth.password.changed"
)

// ActorRef is whoever caused an event: an account, the system, or an
// anonymous caller identified by the email it presented.
type ActorRef struct {
	ID   string
	Type string
}

func systemActor() ActorRef {
	return ActorRef{ID: "system", Type: "system"}
}

func accountActor(a *Account) ActorRef {
	if a == nil {
		return systemActor()
	}
	return ActorRef{ID: a.ID.String(), Type: "account"}
}

func principalActor(p Principal) ActorRef {
	return ActorRef{ID: p.AccountID.String(), Type: string(p.Role)}
}

// ActivityEvent is one audit record. Secrets never go into Metadata.
type ActivityEvent struct {
	EventType  ActivityEventType
	Actor      ActorRef
	AccountID  string
	FromState  AccountState
	ToState    AccountState
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink receives audit events. Errors are logged by the caller and
// never fail the operation that produced the event.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error { return nil }

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}
