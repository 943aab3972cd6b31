package accounts

import (
	"context"
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

const (
	textCodeInvalidTransition  = "INVALID_ACCOUNT_STATE_TRANSITION"
	textCodeAccountReactivated = "ACCOUNT_ALREADY_REACTIVATED"
)

// ErrInvalidTransition is returned when a requested state change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid account state transition", goerrors.CategoryValidation).
	WithTextCode(textCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// ErrAccountReactivated is returned when a deactivated row was reactivated
// by someone else between read and write.
var ErrAccountReactivated = goerrors.New("account was reactivated concurrently", goerrors.CategoryConflict).
	WithTextCode(textCodeAccountReactivated).
	WithCode(goerrors.CodeConflict)

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionOption customizes a single transition.
type TransitionOption func(*transitionOptions)

type transitionOptions struct {
	metadata TransitionMetadata
	force    bool
}

// WithTransitionReason sets the human-readable reason for the transition.
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition event.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			opts.metadata.Metadata[k] = v
		}
	}
}

// WithForceTransition bypasses the transition graph (use sparingly).
func WithForceTransition() TransitionOption {
	return func(opts *transitionOptions) {
		opts.force = true
	}
}

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*AccountStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *AccountStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish lifecycle events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *AccountStateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineLogger overrides the logger used for sink failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *AccountStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// AccountStateMachine owns the account lifecycle graph:
//
//	unverified -> verified | deactivated
//	verified   -> deactivated | unverified (email changed)
//	deactivated -> unverified | verified (authoritative provider)
type AccountStateMachine struct {
	accounts     Accounts
	transitions  map[AccountState]map[AccountState]struct{}
	now          func() time.Time
	activitySink ActivitySink
	logger       Logger
}

// NewAccountStateMachine returns a state machine persisting through accounts.
func NewAccountStateMachine(accounts Accounts, opts ...StateMachineOption) *AccountStateMachine {
	sm := &AccountStateMachine{
		accounts: accounts,
		transitions: map[AccountState]map[AccountState]struct{}{
			StateUnverified: {
				StateVerified:    {},
				StateDeactivated: {},
			},
			StateVerified: {
				StateDeactivated: {},
				StateUnverified:  {},
			},
			StateDeactivated: {
				StateUnverified: {},
				StateVerified:   {},
			},
		},
		now:          time.Now,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

// CanTransition reports whether from -> to is part of the graph.
func (sm *AccountStateMachine) CanTransition(from, to AccountState) bool {
	targets, ok := sm.transitions[from]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

// Transition moves the account to target and persists it within tx.
func (sm *AccountStateMachine) Transition(ctx context.Context, tx bun.IDB, actor ActorRef, account *Account, target AccountState, opts ...TransitionOption) (*Account, error) {
	if account == nil {
		return nil, goerrors.New("account must not be nil", goerrors.CategoryInternal)
	}

	options := transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	from := account.State()
	if !options.force && !sm.CanTransition(from, target) {
		return nil, ErrInvalidTransition
	}

	now := sm.now()
	switch target {
	case StateVerified:
		if account.EmailVerifiedAt == nil {
			account.EmailVerifiedAt = &now
		}
		account.Active = true
	case StateUnverified:
		account.EmailVerifiedAt = nil
		account.Active = true
	case StateDeactivated:
		account.Active = false
		account.EndSessions()
	default:
		return nil, ErrInvalidTransition
	}
	account.UpdatedAt = &now

	updated, err := sm.accounts.SaveAccountTx(ctx, tx, account)
	if err != nil {
		return nil, err
	}

	sm.recordActivity(ctx, ActivityEvent{
		EventType:  ActivityEventAccountStateChanged,
		Actor:      actor,
		AccountID:  updated.ID.String(),
		FromState:  from,
		ToState:    target,
		Metadata:   eventMetadata(options.metadata),
		OccurredAt: now,
	})

	return updated, nil
}

// Reactivate resurrects a deactivated account for a new registration. The
// overwrite list is fixed: names, nickname, email, password hash, phone,
// birth date, role and contact acceptances. Id, document number, external
// linkage and creation time are kept. Verification is cleared unless the
// reactivating path is an authoritative identity provider. Sessions issued
// before the reactivation stay invalid. The write only applies while the
// stored row is still deactivated, a concurrent reactivation makes it fail
// with ErrAccountReactivated.
func (sm *AccountStateMachine) Reactivate(ctx context.Context, tx bun.IDB, actor ActorRef, existing *Account, profile AccountProfile, authoritative bool, opts ...TransitionOption) (*Account, error) {
	if existing == nil {
		return nil, goerrors.New("account must not be nil", goerrors.CategoryInternal)
	}
	if existing.Active {
		return nil, ErrInvalidTransition
	}

	options := transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	now := sm.now()
	from := existing.State()

	existing.FirstName = profile.FirstName
	existing.LastName = profile.LastName
	existing.Nickname = profile.Nickname
	existing.Email = NormalizeEmail(profile.Email)
	if profile.PasswordHash != "" {
		existing.PasswordHash = stringPtr(profile.PasswordHash)
	}
	existing.Phone = profile.Phone
	existing.BirthDate = profile.BirthDate
	existing.Role = profile.Role
	if !existing.Role.IsValid() {
		existing.Role = RoleStandard
	}
	existing.AcceptEmail = profile.AcceptEmail
	existing.AcceptSMS = profile.AcceptSMS
	existing.AcceptWhatsApp = profile.AcceptWhatsApp
	existing.Active = true
	existing.EndSessions()
	if authoritative {
		existing.EmailVerifiedAt = &now
	} else {
		existing.EmailVerifiedAt = nil
	}
	existing.UpdatedAt = &now

	updated, err := sm.accounts.ReactivateAccountTx(ctx, tx, existing)
	if err != nil {
		return nil, err
	}

	meta := eventMetadata(options.metadata)
	meta["authoritative"] = authoritative
	sm.recordActivity(ctx, ActivityEvent{
		EventType:  ActivityEventAccountReactivated,
		Actor:      actor,
		AccountID:  updated.ID.String(),
		FromState:  from,
		ToState:    updated.State(),
		Metadata:   meta,
		OccurredAt: now,
	})

	return updated, nil
}

func (sm *AccountStateMachine) recordActivity(ctx context.Context, event ActivityEvent) {
	if err := normalizeActivitySink(sm.activitySink).Record(ctx, event); err != nil {
		sm.logger.Warn("activity sink error for %s: %v", event.EventType, err)
	}
}

func eventMetadata(meta TransitionMetadata) map[string]any {
	out := make(map[string]any, len(meta.Metadata)+1)
	for k, v := range meta.Metadata {
		out[k] = v
	}
	if meta.Reason != "" {
		out["reason"] = meta.Reason
	}
	return out
}

func (s AccountState) String() string {
	return string(s)
}

// ParseAccountState converts a string into an AccountState.
func ParseAccountState(s string) (AccountState, error) {
	switch st := AccountState(s); st {
	case StateUnverified, StateVerified, StateDeactivated:
		return st, nil
	default:
		return "", fmt.Errorf("invalid account state: %s", s)
	}
}
