package account

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// AccountManager is the operation set served over HTTP
type AccountManager interface {
	GetAllUsers(ctx context.Context) Result
	GetUser(ctx context.Context, id string) Result
	CreateUser(ctx context.Context, input NewUserInput) Result
	UpdateUser(ctx context.Context, id string, changes UserChanges) Result
	RegisterUser(ctx context.Context, input RegisterInput) Result
	VerifyRegister(ctx context.Context, token, code string) Result
	AuthenticateUser(ctx context.Context, email, password string) Result
	ForgotPasswordRequest(ctx context.Context, email string) Result
	RenewPassword(ctx context.Context, code, password, token string) Result
}

var _ AccountManager = (*AccountService)(nil)

// requestContext is the part of router.Context the handlers use
type requestContext interface {
	Context() context.Context
	Bind(any) error
	Param(key string, defaultValue ...string) string
	JSON(code int, val any) error
}

type AccountControllerRoutes struct {
	Users          string
	User           string
	Register       string
	Verify         string
	Login          string
	ForgotPassword string
	RenewPassword  string
}

type AccountController struct {
	Debug   bool
	Logger  Logger
	Service AccountManager
	Routes  *AccountControllerRoutes
	// Tokens guards the user management routes. Without it they are not mounted.
	Tokens TokenService
}

type AccountControllerOption func(*AccountController) *AccountController

// WithControllerDebug dumps decoded payloads
func WithControllerDebug(debug bool) AccountControllerOption {
	return func(c *AccountController) *AccountController {
		c.Debug = debug
		return c
	}
}

// WithControllerLogger sets the logger
func WithControllerLogger(logger Logger) AccountControllerOption {
	return func(c *AccountController) *AccountController {
		c.Logger = normalizeLogger(logger)
		return c
	}
}

// WithControllerSessionTokens requires a session token on the user routes
func WithControllerSessionTokens(tokens TokenService) AccountControllerOption {
	return func(c *AccountController) *AccountController {
		c.Tokens = tokens
		return c
	}
}

// WithControllerRoutes overrides the default paths
func WithControllerRoutes(routes *AccountControllerRoutes) AccountControllerOption {
	return func(c *AccountController) *AccountController {
		if routes != nil {
			c.Routes = routes
		}
		return c
	}
}

func NewAccountController(service AccountManager, opts ...AccountControllerOption) *AccountController {
	c := &AccountController{
		Logger:  defLogger{},
		Service: service,
		Routes: &AccountControllerRoutes{
			Users:          "/users",
			User:           "/users/:id",
			Register:       "/auth/register",
			Verify:         "/auth/verify",
			Login:          "/auth/login",
			ForgotPassword: "/auth/forgot-password",
			RenewPassword:  "/auth/renew-password",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Service == nil {
		panic("Missing AccountManager in account controller...")
	}

	return c
}

func RegisterAccountRoutes[T any](app router.Router[T], service AccountManager, opts ...AccountControllerOption) *AccountController {
	controller := NewAccountController(service, opts...)
	Mount(app, controller)
	return controller
}

// Mount registers the auth routes on app. User management routes are
// only registered when the controller can check session tokens.
func Mount[T any](app router.Router[T], controller *AccountController) {
	if controller.Tokens != nil {
		session := RequireSession(controller.Tokens, controller.Logger)
		app.Get(controller.Routes.Users, handle(controller.ListUsers), session).
			SetName("users.list")
		app.Get(controller.Routes.User, handle(controller.ShowUser), session).
			SetName("users.show")
		app.Post(controller.Routes.Users, handle(controller.CreateUser), session).
			SetName("users.create")
		app.Put(controller.Routes.User, handle(controller.UpdateUser), session).
			SetName("users.update")
	} else {
		controller.Logger.Warn("account controller: no session tokens, user routes disabled")
	}

	app.Post(controller.Routes.Register, handle(controller.Register)).
		SetName("auth.register")
	app.Post(controller.Routes.Verify, handle(controller.Verify)).
		SetName("auth.verify")
	app.Post(controller.Routes.Login, handle(controller.Login)).
		SetName("auth.login")
	app.Post(controller.Routes.ForgotPassword, handle(controller.ForgotPassword)).
		SetName("auth.forgot-password")
	app.Post(controller.Routes.RenewPassword, handle(controller.RenewPassword)).
		SetName("auth.renew-password")
}

func handle(h func(requestContext) error) func(router.Context) error {
	return func(ctx router.Context) error {
		return h(ctx)
	}
}

// VerifyRequest payload
type VerifyRequest struct {
	Token string `form:"token" json:"token"`
	Code  string `form:"code" json:"code"`
}

// Validate will run validation rules
func (r VerifyRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.Code, validation.Required),
	)
}

// LoginRequest payload
type LoginRequest struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

// ForgotPasswordPayload payload
type ForgotPasswordPayload struct {
	Email string `form:"email" json:"email"`
}

// Validate will run validation rules
func (r ForgotPasswordPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

// RenewPasswordRequest payload
type RenewPasswordRequest struct {
	Code     string `form:"code" json:"code"`
	Password string `form:"password" json:"password"`
	Token    string `form:"token" json:"token"`
}

// Validate will run validation rules
func (r RenewPasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Code, validation.Required),
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

type validatable interface {
	Validate() error
}

func (a *AccountController) ListUsers(ctx requestContext) error {
	return a.respond(ctx, a.Service.GetAllUsers(ctx.Context()), fiber.StatusNotFound)
}

func (a *AccountController) ShowUser(ctx requestContext) error {
	return a.respond(ctx, a.Service.GetUser(ctx.Context(), ctx.Param("id")), fiber.StatusNotFound)
}

func (a *AccountController) CreateUser(ctx requestContext) error {
	payload := new(NewUserInput)
	if ok, err := a.decode(ctx, payload); !ok {
		return err
	}
	return a.respond(ctx, a.Service.CreateUser(ctx.Context(), *payload), fiber.StatusNotFound)
}

func (a *AccountController) UpdateUser(ctx requestContext) error {
	payload := new(UserChanges)
	if ok, err := a.decode(ctx, payload); !ok {
		return err
	}
	return a.respond(ctx, a.Service.UpdateUser(ctx.Context(), ctx.Param("id"), *payload), fiber.StatusNotFound)
}

func (a *AccountController) Register(ctx requestContext) error {
	payload := new(RegisterInput)
	if ok, err := a.decode(ctx, payload); !ok {
		return err
	}
	return a.respond(ctx, a.Service.RegisterUser(ctx.Context(), *payload), fiber.StatusNotFound)
}

func (a *AccountController) Verify(ctx requestContext) error {
	payload := new(VerifyRequest)
	if ok, err := a.decode(ctx, payload); !ok {
		return err
	}
	return a.respond(ctx, a.Service.VerifyRegister(ctx.Context(), payload.Token, payload.Code), fiber.StatusNotFound)
}

func (a *AccountController) Login(ctx requestContext) error {
	payload := new(LoginRequest)
	if ok, err := a.decode(ctx, payload); !ok {
		return err
	}
	return a.respond(ctx, a.Service.AuthenticateUser(ctx.Context(), payload.Email, payload.Password), fiber.StatusUnauthorized)
}

func (a *AccountController) ForgotPassword(ctx requestContext) error {
	payload := new(ForgotPasswordPayload)
	if ok, err := a.decode(ctx, payload); !ok {
		return err
	}
	return a.respond(ctx, a.Service.ForgotPasswordRequest(ctx.Context(), payload.Email), fiber.StatusNotFound)
}

func (a *AccountController) RenewPassword(ctx requestContext) error {
	payload := new(RenewPasswordRequest)
	if ok, err := a.decode(ctx, payload); !ok {
		return err
	}
	return a.respond(ctx, a.Service.RenewPassword(ctx.Context(), payload.Code, payload.Password, payload.Token), fiber.StatusNotFound)
}

// decode binds and validates payload, writing the 400 response itself
// when either step fails.
func (a *AccountController) decode(ctx requestContext, payload validatable) (bool, error) {
	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("account controller parse payload: %v", err)
		return false, ctx.JSON(fiber.StatusBadRequest, fail(validationError(err)))
	}

	if a.Debug {
		a.Logger.Debug("account payload:\n%s", print.MaybePrettyJSON(payload))
	}

	if err := payload.Validate(); err != nil {
		return false, ctx.JSON(fiber.StatusBadRequest, fail(validationError(err)))
	}

	return true, nil
}

func (a *AccountController) respond(ctx requestContext, res Result, negative int) error {
	status := StatusFor(res, negative)
	if status >= fiber.StatusInternalServerError {
		a.Logger.Error("account request failed: %v", res.Error)
	}
	return ctx.JSON(status, res)
}

// StatusFor maps a Result to an HTTP status. negative is used for
// failures without an error.
func StatusFor(res Result, negative int) int {
	if res.Success {
		return fiber.StatusOK
	}

	if res.Error == nil {
		return negative
	}

	switch res.Kind() {
	case KindValidationFailed:
		return fiber.StatusBadRequest
	case KindNotFound:
		return fiber.StatusNotFound
	case KindConflict:
		return fiber.StatusConflict
	case KindUnauthorized:
		return fiber.StatusUnauthorized
	default:
		return fiber.StatusInternalServerError
	}
}
