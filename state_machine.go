package account

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const textCodeInvalidTransition = "INVALID_USER_STATE_TRANSITION"

// ErrInvalidTransition is returned when a requested state change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid user state transition", goerrors.CategoryValidation).
	WithTextCode(textCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// GuardReason names the guard that rejected a transition
type GuardReason string

const (
	ReasonUserNotFound     GuardReason = "user_not_found"
	ReasonEmailInUse       GuardReason = "email_in_use"
	ReasonAlreadyVerified  GuardReason = "already_verified"
	ReasonNoPendingCode    GuardReason = "no_pending_code"
	ReasonCodeMismatch     GuardReason = "code_mismatch"
	ReasonNotActive        GuardReason = "not_active"
	ReasonPasswordMismatch GuardReason = "password_mismatch"
)

// GuardResult is the outcome of a transition guard. A failed guard is an
// expected outcome and is never reported as an error.
type GuardResult struct {
	OK     bool
	Reason GuardReason
}

func allow() GuardResult {
	return GuardResult{OK: true}
}

func deny(reason GuardReason) GuardResult {
	return GuardResult{Reason: reason}
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

// WithStateMachineCodeGenerator overrides the one-time code source
func WithStateMachineCodeGenerator(codes CodeGenerator) StateMachineOption {
	return func(sm *AccountStateMachine) {
		if codes != nil {
			sm.codes = codes
		}
	}
}

// AccountStateMachine owns the NotVerified -> Active lifecycle and the
// reset sub-state. Each transition checks its guard, mutates the user,
// persists it and records an ActivityEvent.
type AccountStateMachine struct {
	users        Users
	hasher       PasswordHasher
	codes        CodeGenerator
	now          func() time.Time
	activitySink ActivitySink
	logger       Logger
}

// NewAccountStateMachine returns a state machine persisting through users
func NewAccountStateMachine(users Users, hasher PasswordHasher, opts ...StateMachineOption) *AccountStateMachine {
	if hasher == nil {
		hasher = NewArgon2Hasher(DefaultArgon2Params())
	}

	sm := &AccountStateMachine{
		users:        users,
		hasher:       hasher,
		codes:        NewCodeGenerator(),
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

// Register provisions a NotVerified user with a fresh salt and an issued
// code. existing is the result of the email lookup, nil when unused.
func (sm *AccountStateMachine) Register(ctx context.Context, existing, draft *User, password string) (GuardResult, error) {
	if existing != nil {
		return deny(ReasonEmailInUse), nil
	}

	code, err := sm.issueCode(draft.Email)
	if err != nil {
		return GuardResult{}, err
	}

	draft.State = StateNotVerified
	draft.VerificationCode = &code

	if err := sm.provision(ctx, draft, password); err != nil {
		return GuardResult{}, err
	}

	sm.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventUserRegistered,
		UserID:    draft.ID.String(),
		ToState:   draft.State,
	})

	return allow(), nil
}

// Create is the administrative path. No code is issued and the state
// defaults to NotVerified.
func (sm *AccountStateMachine) Create(ctx context.Context, existing, draft *User, password string) (GuardResult, error) {
	if existing != nil {
		return deny(ReasonEmailInUse), nil
	}

	draft.EnsureState()
	draft.VerificationCode = nil

	if err := sm.provision(ctx, draft, password); err != nil {
		return GuardResult{}, err
	}

	sm.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventUserCreated,
		Actor:     ActorRef{Type: "admin"},
		UserID:    draft.ID.String(),
		ToState:   draft.State,
	})

	return allow(), nil
}

// CanVerify checks the VerifyRegistration guard without side effects
func (sm *AccountStateMachine) CanVerify(user *User, code string) GuardResult {
	if user == nil {
		return deny(ReasonUserNotFound)
	}
	if user.State != StateNotVerified {
		return deny(ReasonAlreadyVerified)
	}
	return sm.matchCode(user, code)
}

// VerifyRegistration activates user and consumes the code. The write is
// conditional on the stored code, so a code is accepted at most once.
func (sm *AccountStateMachine) VerifyRegistration(ctx context.Context, user *User, code string) (GuardResult, error) {
	guard := sm.CanVerify(user, code)
	if !guard.OK {
		return guard, nil
	}

	next := *user
	next.State = StateActive
	next.VerificationCode = nil

	guard, err := sm.consume(ctx, &next, CodeGuard{Code: code, State: StateNotVerified},
		ColumnState, ColumnVerificationCode)
	if err != nil || !guard.OK {
		return guard, err
	}

	from := user.State
	*user = next

	sm.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventUserVerified,
		Actor:     ActorRef{ID: user.ID.String(), Type: "user"},
		UserID:    user.ID.String(),
		FromState: from,
		ToState:   user.State,
	})

	return guard, nil
}

// CanAuthenticate checks state and password
func (sm *AccountStateMachine) CanAuthenticate(user *User, password string) (GuardResult, error) {
	if user == nil {
		return deny(ReasonUserNotFound), nil
	}
	if user.State != StateActive {
		return deny(ReasonNotActive), nil
	}
	if password == "" {
		return deny(ReasonPasswordMismatch), nil
	}

	ok, err := sm.hasher.Verify(password, user.Salt, user.PasswordHash)
	if err != nil {
		return GuardResult{}, err
	}
	if !ok {
		return deny(ReasonPasswordMismatch), nil
	}
	return allow(), nil
}

// Authenticate checks the login guard. Failed guards are recorded as
// login failures, nothing is persisted.
func (sm *AccountStateMachine) Authenticate(ctx context.Context, user *User, password string) (GuardResult, error) {
	guard, err := sm.CanAuthenticate(user, password)
	if err != nil {
		return guard, err
	}

	if !guard.OK {
		event := ActivityEvent{
			EventType: ActivityEventLoginFailure,
			Metadata:  map[string]any{"reason": string(guard.Reason)},
		}
		if user != nil {
			event.UserID = user.ID.String()
		}
		sm.recordActivity(ctx, event)
	}

	return guard, nil
}

// CompleteLogin stamps LastLoginAt once a session token was issued
func (sm *AccountStateMachine) CompleteLogin(ctx context.Context, user *User) error {
	now := sm.now()
	user.LastLoginAt = &now

	if err := sm.persist(ctx, user, ColumnLastLoginAt); err != nil {
		return err
	}

	sm.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		Actor:     ActorRef{ID: user.ID.String(), Type: "user"},
		UserID:    user.ID.String(),
	})

	return nil
}

// RequestPasswordReset issues a new code, replacing any outstanding one.
// State is left unchanged.
func (sm *AccountStateMachine) RequestPasswordReset(ctx context.Context, user *User) (GuardResult, error) {
	if user == nil {
		return deny(ReasonUserNotFound), nil
	}

	code, err := sm.issueCode(user.Email)
	if err != nil {
		return GuardResult{}, err
	}

	user.VerificationCode = &code

	if err := sm.persist(ctx, user, ColumnVerificationCode); err != nil {
		return GuardResult{}, err
	}

	sm.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventPasswordResetRequest,
		UserID:    user.ID.String(),
		FromState: user.State,
		ToState:   user.State,
	})

	return allow(), nil
}

// CanRenewPassword checks the RenewPassword guard without side effects
func (sm *AccountStateMachine) CanRenewPassword(user *User, code string) GuardResult {
	if user == nil {
		return deny(ReasonUserNotFound)
	}
	return sm.matchCode(user, code)
}

// RenewPassword rehashes with the existing salt and consumes the code.
// Concurrent renewals with the same code store at most one password.
func (sm *AccountStateMachine) RenewPassword(ctx context.Context, user *User, code, password string) (GuardResult, error) {
	guard := sm.CanRenewPassword(user, code)
	if !guard.OK {
		return guard, nil
	}

	hash, err := sm.hasher.Hash(password, user.Salt)
	if err != nil {
		return GuardResult{}, err
	}

	next := *user
	next.PasswordHash = hash
	next.VerificationCode = nil

	guard, err = sm.consume(ctx, &next, CodeGuard{Code: code},
		ColumnPasswordHash, ColumnVerificationCode)
	if err != nil || !guard.OK {
		return guard, err
	}

	*user = next

	sm.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventPasswordResetSuccess,
		Actor:     ActorRef{ID: user.ID.String(), Type: "user"},
		UserID:    user.ID.String(),
	})

	return guard, nil
}

// Apply persists an administrative update. Only NotVerified -> Active is
// accepted as a state change.
func (sm *AccountStateMachine) Apply(ctx context.Context, current *User, changes UserChanges) (*User, error) {
	if current == nil {
		return nil, ErrUserNotFound
	}

	from := current.State
	columns := []string{ColumnUpdatedAt}

	if changes.State != nil && *changes.State != current.State {
		if *changes.State != StateActive || current.State != StateNotVerified {
			return nil, ErrInvalidTransition
		}
		current.State = *changes.State
		current.VerificationCode = nil
		columns = append(columns, ColumnState, ColumnVerificationCode)
	}

	if changes.Name != nil {
		current.Name = *changes.Name
		columns = append(columns, ColumnName)
	}

	if changes.Password != nil {
		hash, err := sm.hasher.Hash(*changes.Password, current.Salt)
		if err != nil {
			return nil, err
		}
		current.PasswordHash = hash
		columns = append(columns, ColumnPasswordHash)
	}

	if err := sm.persist(ctx, current, columns...); err != nil {
		return nil, err
	}

	sm.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventUserUpdated,
		Actor:     ActorRef{Type: "admin"},
		UserID:    current.ID.String(),
		FromState: from,
		ToState:   current.State,
	})

	return current, nil
}

func (sm *AccountStateMachine) matchCode(user *User, code string) GuardResult {
	if !user.HasPendingCode() || code == "" {
		return deny(ReasonNoPendingCode)
	}
	if subtle.ConstantTimeCompare([]byte(*user.VerificationCode), []byte(code)) != 1 {
		return deny(ReasonCodeMismatch)
	}
	return allow()
}

func (sm *AccountStateMachine) issueCode(email string) (string, error) {
	return sm.codes.Generate(fmt.Sprintf("%s%d", email, sm.now().UnixNano()))
}

func (sm *AccountStateMachine) provision(ctx context.Context, draft *User, password string) error {
	salt, err := GenerateSalt()
	if err != nil {
		return err
	}

	if draft.ID == uuid.Nil {
		draft.ID = uuid.New()
	}

	draft.Salt = salt
	draft.PasswordHash = ""

	if password != "" {
		hash, err := sm.hasher.Hash(password, salt)
		if err != nil {
			return err
		}
		draft.PasswordHash = hash
	}

	created, err := sm.users.Create(ctx, draft)
	if err != nil {
		return err
	}

	if created != nil && created != draft {
		*draft = *created
	}

	return nil
}

// persist writes only columns, so concurrent transitions on other
// columns are not overwritten with stale values.
func (sm *AccountStateMachine) persist(ctx context.Context, user *User, columns ...string) error {
	now := sm.now()
	user.UpdatedAt = &now

	updated, err := sm.users.Update(ctx, user, columns...)
	if err != nil {
		return err
	}

	if updated != nil && updated != user {
		*user = *updated
	}

	return nil
}

// consume persists next only while the stored row still satisfies guard.
// Losing that race is a code mismatch, not a fault.
func (sm *AccountStateMachine) consume(ctx context.Context, next *User, guard CodeGuard, columns ...string) (GuardResult, error) {
	now := sm.now()
	next.UpdatedAt = &now

	ok, err := sm.users.ConsumeCode(ctx, next, guard, columns...)
	if err != nil {
		return GuardResult{}, err
	}
	if !ok {
		return deny(ReasonCodeMismatch), nil
	}
	return allow(), nil
}

func (sm *AccountStateMachine) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.Actor == (ActorRef{}) {
		event.Actor = ActorRef{Type: "system"}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = sm.now()
	}

	sink := normalizeActivitySink(sm.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		sm.logger.Warn("state machine activity sink error: %v", err)
	}
}
