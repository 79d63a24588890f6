package account

import (
	"context"
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 100
	maxNameLength     = 200
)

// RegisterInput is the self-service registration payload
type RegisterInput struct {
	Email    string `json:"email" form:"email"`
	Name     string `json:"name" form:"name"`
	Password string `json:"password" form:"password"`
}

// Validate checks registration input
func (r RegisterInput) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.Name, validation.Required, validation.Length(1, maxNameLength)),
		validation.Field(&r.Password, validation.Required, validation.Length(minPasswordLength, maxPasswordLength)),
	)
}

// NewUserInput is the administrative create payload. Password is optional.
type NewUserInput struct {
	Email    string    `json:"email" form:"email"`
	Name     string    `json:"name" form:"name"`
	Password string    `json:"password" form:"password"`
	State    UserState `json:"state" form:"state"`
}

// Validate checks create input
func (r NewUserInput) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.Name, validation.Required, validation.Length(1, maxNameLength)),
		validation.Field(&r.Password, validation.Length(minPasswordLength, maxPasswordLength)),
		validation.Field(&r.State, validation.In(StateNotVerified, StateActive)),
	)
}

// UserChanges lists the fields UpdateUser may change, nil means unchanged
type UserChanges struct {
	Name     *string    `json:"name,omitempty"`
	State    *UserState `json:"state,omitempty"`
	Password *string    `json:"password,omitempty"`
}

// Validate checks update input
func (c UserChanges) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Name, validation.NilOrNotEmpty, validation.Length(1, maxNameLength)),
		validation.Field(&c.State, validation.NilOrNotEmpty, validation.In(StateNotVerified, StateActive)),
		validation.Field(&c.Password, validation.NilOrNotEmpty, validation.Length(minPasswordLength, maxPasswordLength)),
	)
}

func validatePassword(password string) error {
	return validation.Validate(password,
		validation.Required,
		validation.Length(minPasswordLength, maxPasswordLength),
	)
}

// ServiceOption customizes the AccountService
type ServiceOption func(*AccountService)

// WithServiceHasher sets the password hasher, argon2id by default
func WithServiceHasher(hasher PasswordHasher) ServiceOption {
	return func(s *AccountService) {
		if hasher != nil {
			s.hasher = hasher
		}
	}
}

// WithServiceMailer sets the composer used for verification and reset mail
func WithServiceMailer(mailer *AccountMailer) ServiceOption {
	return func(s *AccountService) {
		s.mailer = mailer
	}
}

// WithServiceEmailLocker wraps register and create in a per email lock
func WithServiceEmailLocker(locker EmailLocker) ServiceOption {
	return func(s *AccountService) {
		if locker != nil {
			s.locker = locker
		}
	}
}

// WithServiceLogger sets the logger
func WithServiceLogger(logger Logger) ServiceOption {
	return func(s *AccountService) {
		s.logger = normalizeLogger(logger)
	}
}

// WithServiceActivitySink receives lifecycle and delivery events
func WithServiceActivitySink(sink ActivitySink) ServiceOption {
	return func(s *AccountService) {
		s.activitySink = normalizeActivitySink(sink)
	}
}

// WithServiceStateMachineOptions forwards options to the state machine
func WithServiceStateMachineOptions(opts ...StateMachineOption) ServiceOption {
	return func(s *AccountService) {
		s.machineOptions = append(s.machineOptions, opts...)
	}
}

// AccountService orchestrates the account lifecycle. Every operation
// returns a Result; expected negatives carry no error.
type AccountService struct {
	users          Users
	tokens         TokenService
	hasher         PasswordHasher
	mailer         *AccountMailer
	locker         EmailLocker
	logger         Logger
	activitySink   ActivitySink
	machine        *AccountStateMachine
	machineOptions []StateMachineOption
}

// NewAccountService wires the service around users and tokens
func NewAccountService(users Users, tokens TokenService, opts ...ServiceOption) *AccountService {
	s := &AccountService{
		users:        users,
		tokens:       tokens,
		locker:       noopEmailLocker{},
		logger:       defLogger{},
		activitySink: noopActivitySink{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if s.hasher == nil {
		s.hasher = NewArgon2Hasher(DefaultArgon2Params())
	}

	machineOpts := append([]StateMachineOption{
		WithStateMachineActivitySink(s.activitySink),
		WithStateMachineLogger(s.logger),
	}, s.machineOptions...)

	s.machine = NewAccountStateMachine(users, s.hasher, machineOpts...)

	return s
}

// StateMachine exposes the underlying state machine
func (s *AccountService) StateMachine() *AccountStateMachine {
	return s.machine
}

// GetAllUsers lists every user
func (s *AccountService) GetAllUsers(ctx context.Context) Result {
	records, err := s.users.GetAll(ctx)
	if err != nil {
		return s.fault("get all users", err)
	}
	return succeed(records)
}

// GetUser returns the user with id, or an empty failure when absent
func (s *AccountService) GetUser(ctx context.Context, id string) Result {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return reject()
		}
		return s.fault("get user", err)
	}
	return succeed(user)
}

// CreateUser is the administrative create path. No mail is sent.
func (s *AccountService) CreateUser(ctx context.Context, input NewUserInput) Result {
	if err := input.Validate(); err != nil {
		return fail(validationError(err))
	}

	email := NormalizeEmail(input.Email)

	release, err := s.locker.Lock(ctx, email)
	if err != nil {
		return s.fault("lock email", err)
	}
	defer release()

	existing, err := s.lookupEmail(ctx, email)
	if err != nil {
		return s.fault("create user lookup", err)
	}

	draft := &User{
		Email: email,
		Name:  input.Name,
		State: input.State,
	}

	guard, err := s.machine.Create(ctx, existing, draft, input.Password)
	if err != nil {
		if errors.Is(err, ErrEmailInUse) {
			return fail(ErrEmailInUse)
		}
		return s.fault("create user", err)
	}

	if !guard.OK {
		return fail(ErrEmailInUse)
	}

	return succeed(nil)
}

// UpdateUser applies changes to the user with id
func (s *AccountService) UpdateUser(ctx context.Context, id string, changes UserChanges) Result {
	if err := changes.Validate(); err != nil {
		return fail(validationError(err))
	}

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return reject()
		}
		return s.fault("update user lookup", err)
	}

	if _, err := s.machine.Apply(ctx, user, changes); err != nil {
		if IsNotFound(err) {
			return reject()
		}
		if errors.Is(err, ErrInvalidTransition) {
			return fail(err)
		}
		return s.fault("update user", err)
	}

	return succeed(nil)
}

// RegisterUser creates a NotVerified account and mails the activation link
func (s *AccountService) RegisterUser(ctx context.Context, input RegisterInput) Result {
	if err := input.Validate(); err != nil {
		return fail(validationError(err))
	}

	email := NormalizeEmail(input.Email)

	release, err := s.locker.Lock(ctx, email)
	if err != nil {
		return s.fault("lock email", err)
	}
	defer release()

	existing, err := s.lookupEmail(ctx, email)
	if err != nil {
		return s.fault("register lookup", err)
	}

	draft := &User{
		Email: email,
		Name:  input.Name,
	}

	guard, err := s.machine.Register(ctx, existing, draft, input.Password)
	if err != nil {
		if errors.Is(err, ErrEmailInUse) {
			return fail(ErrEmailInUse)
		}
		return s.fault("register user", err)
	}

	if !guard.OK {
		return fail(ErrEmailInUse)
	}

	token, err := s.tokens.Create(ActionClaims(draft))
	if err != nil {
		return s.fault("register token", err)
	}

	code := ""
	if draft.VerificationCode != nil {
		code = *draft.VerificationCode
	}

	s.dispatch(ctx, draft, func(m *AccountMailer) error {
		return m.SendVerification(ctx, draft, code, token)
	})

	return succeed(nil)
}

// VerifyRegister activates the account named by token when code matches
func (s *AccountService) VerifyRegister(ctx context.Context, token, code string) Result {
	claims, err := s.actionClaims(token)
	if err != nil {
		return fail(err)
	}

	user, err := s.users.GetByID(ctx, claims.UserID())
	if err != nil {
		if IsNotFound(err) {
			return reject()
		}
		return s.fault("verify lookup", err)
	}

	guard, err := s.machine.VerifyRegistration(ctx, user, code)
	if err != nil {
		return s.fault("verify user", err)
	}

	if !guard.OK {
		s.logger.Debug("verify rejected user=%s reason=%s", user.ID, guard.Reason)
		return reject()
	}

	return succeed(user)
}

// actionClaims decodes the token of a mail link. Session tokens are
// refused so a login cannot stand in for the link.
func (s *AccountService) actionClaims(token string) (*AccountClaims, error) {
	claims, err := s.tokens.Decode(token)
	if err != nil {
		return nil, err
	}
	if claims.LoggedIn {
		s.logger.Debug("session token used in place of an action token user=%s", claims.UserID())
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// AuthenticateUser returns a session token for an active account.
// Unknown email, wrong password and unverified accounts look the same.
func (s *AccountService) AuthenticateUser(ctx context.Context, email, password string) Result {
	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if !IsNotFound(err) {
			return s.fault("authenticate lookup", err)
		}
		user = nil
	}

	guard, err := s.machine.Authenticate(ctx, user, password)
	if err != nil {
		return s.fault("authenticate", err)
	}

	if !guard.OK {
		return reject()
	}

	token, err := s.tokens.Create(SessionClaims(user))
	if err != nil {
		return s.fault("session token", err)
	}

	if err := s.machine.CompleteLogin(ctx, user); err != nil {
		return s.fault("record login", err)
	}

	return succeed(AuthenticatedUser{
		Name:  user.Name,
		Email: user.Email,
		Token: token,
	})
}

// ForgotPasswordRequest issues a reset code and mails the renewal link
func (s *AccountService) ForgotPasswordRequest(ctx context.Context, email string) Result {
	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if IsNotFound(err) {
			return reject()
		}
		return s.fault("forgot password lookup", err)
	}

	guard, err := s.machine.RequestPasswordReset(ctx, user)
	if err != nil {
		return s.fault("forgot password", err)
	}

	if !guard.OK {
		return reject()
	}

	token, err := s.tokens.Create(ActionClaims(user))
	if err != nil {
		return s.fault("reset token", err)
	}

	code := *user.VerificationCode

	s.dispatch(ctx, user, func(m *AccountMailer) error {
		return m.SendForgotPassword(ctx, user, code, token)
	})

	return succeed(nil)
}

// RenewPassword sets a new password for the user named by token when the
// code matches. A bad token stops before any lookup.
func (s *AccountService) RenewPassword(ctx context.Context, code, password, token string) Result {
	if err := validatePassword(password); err != nil {
		return fail(validationError(err))
	}

	claims, err := s.actionClaims(token)
	if err != nil {
		return fail(err)
	}

	user, err := s.users.GetByID(ctx, claims.UserID())
	if err != nil {
		if IsNotFound(err) {
			return reject()
		}
		return s.fault("renew lookup", err)
	}

	guard, err := s.machine.RenewPassword(ctx, user, code, password)
	if err != nil {
		return s.fault("renew password", err)
	}

	if !guard.OK {
		s.logger.Debug("renew rejected user=%s reason=%s", user.ID, guard.Reason)
		return reject()
	}

	return succeed(user)
}

func (s *AccountService) lookupEmail(ctx context.Context, email string) (*User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// dispatch sends mail without letting failures reach the caller
func (s *AccountService) dispatch(ctx context.Context, user *User, send func(*AccountMailer) error) {
	if s.mailer == nil {
		s.logger.Warn("no mailer configured, skipping mail to %s", user.Email)
		return
	}

	err := send(s.mailer)
	if err == nil {
		return
	}

	s.logger.Error("mail dispatch to %s failed: %v", user.Email, err)

	event := ActivityEvent{
		EventType:  ActivityEventMailDeliveryFailed,
		Actor:      ActorRef{Type: "system"},
		UserID:     user.ID.String(),
		Metadata:   map[string]any{"error": ErrorMessage(err)},
		OccurredAt: time.Now(),
	}
	if sinkErr := s.activitySink.Record(ctx, event); sinkErr != nil {
		s.logger.Warn("activity sink error: %v", sinkErr)
	}
}

func (s *AccountService) fault(op string, err error) Result {
	s.logger.Error("account %s failed: %v", op, err)
	if KindOf(err) == KindUpstreamFault {
		return fail(wrapStorage(err, op+" failed"))
	}
	return fail(err)
}

func validationError(err error) error {
	metadata := map[string]any{}

	var fieldErrs validation.Errors
	if errors.As(err, &fieldErrs) {
		for field, fieldErr := range fieldErrs {
			metadata[field] = fieldErr.Error()
		}
	}

	return goerrors.New(err.Error(), goerrors.CategoryValidation).
		WithTextCode(TextCodeInvalidInput).
		WithCode(goerrors.CodeBadRequest).
		WithMetadata(metadata)
}
