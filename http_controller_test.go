package account_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/goliatone/go-account"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockAccountManager implements account.AccountManager
type MockAccountManager struct {
	mock.Mock
}

func (m *MockAccountManager) GetAllUsers(ctx context.Context) account.Result {
	return m.Called(ctx).Get(0).(account.Result)
}

func (m *MockAccountManager) GetUser(ctx context.Context, id string) account.Result {
	return m.Called(ctx, id).Get(0).(account.Result)
}

func (m *MockAccountManager) CreateUser(ctx context.Context, input account.NewUserInput) account.Result {
	return m.Called(ctx, input).Get(0).(account.Result)
}

func (m *MockAccountManager) UpdateUser(ctx context.Context, id string, changes account.UserChanges) account.Result {
	return m.Called(ctx, id, changes).Get(0).(account.Result)
}

func (m *MockAccountManager) RegisterUser(ctx context.Context, input account.RegisterInput) account.Result {
	return m.Called(ctx, input).Get(0).(account.Result)
}

func (m *MockAccountManager) VerifyRegister(ctx context.Context, token, code string) account.Result {
	return m.Called(ctx, token, code).Get(0).(account.Result)
}

func (m *MockAccountManager) AuthenticateUser(ctx context.Context, email, password string) account.Result {
	return m.Called(ctx, email, password).Get(0).(account.Result)
}

func (m *MockAccountManager) ForgotPasswordRequest(ctx context.Context, email string) account.Result {
	return m.Called(ctx, email).Get(0).(account.Result)
}

func (m *MockAccountManager) RenewPassword(ctx context.Context, code, password, token string) account.Result {
	return m.Called(ctx, code, password, token).Get(0).(account.Result)
}

func TestNewAccountController_PanicsWithoutService(t *testing.T) {
	assert.Panics(t, func() {
		account.NewAccountController(nil)
	})
}

func TestAccountController_DefaultRoutes(t *testing.T) {
	controller := account.NewAccountController(new(MockAccountManager))
	assert.Equal(t, "/auth/register", controller.Routes.Register)
	assert.Equal(t, "/users/:id", controller.Routes.User)

	custom := &account.AccountControllerRoutes{Register: "/signup"}
	controller = account.NewAccountController(new(MockAccountManager), account.WithControllerRoutes(custom))
	assert.Equal(t, "/signup", controller.Routes.Register)
}

func TestAccountController_Login(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		service := new(MockAccountManager)
		service.On("AuthenticateUser", mock.Anything, "alice@example.com", "wonderland").
			Return(account.Result{Success: true, Data: account.AuthenticatedUser{Name: "Alice", Email: "alice@example.com", Token: "jwt"}})

		ctx := newFakeContext(`{"email": "alice@example.com", "password": "wonderland"}`, nil)
		require.NoError(t, account.NewAccountController(service).Login(ctx))

		assert.Equal(t, http.StatusOK, ctx.status)
		body := ctx.Response(t)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "jwt", body["data"].(map[string]any)["token"])
	})

	t.Run("rejected", func(t *testing.T) {
		service := new(MockAccountManager)
		service.On("AuthenticateUser", mock.Anything, mock.Anything, mock.Anything).
			Return(account.Result{Success: false})

		ctx := newFakeContext(`{"email": "alice@example.com", "password": "nope"}`, nil)
		require.NoError(t, account.NewAccountController(service).Login(ctx))

		assert.Equal(t, http.StatusUnauthorized, ctx.status)
		assert.Equal(t, map[string]any{"success": false}, ctx.Response(t))
	})

	t.Run("invalid payload never reaches the service", func(t *testing.T) {
		service := new(MockAccountManager)

		ctx := newFakeContext(`{"email": "not-an-email"}`, nil)
		require.NoError(t, account.NewAccountController(service).Login(ctx))

		assert.Equal(t, http.StatusBadRequest, ctx.status)
		assert.Equal(t, false, ctx.Response(t)["success"])
		service.AssertNotCalled(t, "AuthenticateUser", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unreadable body", func(t *testing.T) {
		ctx := newFakeContext("", nil)
		require.NoError(t, account.NewAccountController(new(MockAccountManager)).Login(ctx))
		assert.Equal(t, http.StatusBadRequest, ctx.status)
	})
}

func TestAccountController_Register(t *testing.T) {
	service := new(MockAccountManager)
	input := account.RegisterInput{Email: "alice@example.com", Name: "Alice", Password: "wonderland"}
	service.On("RegisterUser", mock.Anything, input).
		Return(account.Result{Success: false, Error: account.ErrEmailInUse})

	ctx := newFakeContext(`{"email": "alice@example.com", "name": "Alice", "password": "wonderland"}`, nil)
	require.NoError(t, account.NewAccountController(service, account.WithControllerDebug(true)).Register(ctx))

	assert.Equal(t, http.StatusConflict, ctx.status)
	assert.Equal(t, map[string]any{"success": false, "error": "This email is in use"}, ctx.Response(t))
	service.AssertExpectations(t)
}

func TestAccountController_VerifyAndRenew(t *testing.T) {
	service := new(MockAccountManager)
	service.On("VerifyRegister", mock.Anything, "tok", "abc").
		Return(account.Result{Success: false, Error: account.ErrTokenExpired})
	service.On("RenewPassword", mock.Anything, "abc", "new-password", "tok").
		Return(account.Result{Success: false})

	controller := account.NewAccountController(service)

	verify := newFakeContext(`{"token": "tok", "code": "abc"}`, nil)
	require.NoError(t, controller.Verify(verify))
	assert.Equal(t, http.StatusUnauthorized, verify.status)
	assert.Equal(t, "token is expired", verify.Response(t)["error"])

	renew := newFakeContext(`{"token": "tok", "code": "abc", "password": "new-password"}`, nil)
	require.NoError(t, controller.RenewPassword(renew))
	assert.Equal(t, http.StatusNotFound, renew.status)

	service.AssertExpectations(t)
}

func TestAccountController_Users(t *testing.T) {
	service := new(MockAccountManager)
	service.On("GetAllUsers", mock.Anything).
		Return(account.Result{Success: true, Data: []*account.User{{Email: "a@example.com"}}})
	service.On("GetUser", mock.Anything, "42").
		Return(account.Result{Success: false})
	service.On("UpdateUser", mock.Anything, "7", mock.AnythingOfType("account.UserChanges")).
		Return(account.Result{Success: false, Error: account.ErrInvalidTransition})
	service.On("ForgotPasswordRequest", mock.Anything, "a@example.com").
		Return(account.Result{Success: false, Error: errors.New("db down")})

	controller := account.NewAccountController(service)

	list := newFakeContext("", nil)
	require.NoError(t, controller.ListUsers(list))
	assert.Equal(t, http.StatusOK, list.status)

	show := newFakeContext("", map[string]string{"id": "42"})
	require.NoError(t, controller.ShowUser(show))
	assert.Equal(t, http.StatusNotFound, show.status)

	update := newFakeContext(`{"state": "not_verified"}`, map[string]string{"id": "7"})
	require.NoError(t, controller.UpdateUser(update))
	assert.Equal(t, http.StatusBadRequest, update.status)

	forgot := newFakeContext(`{"email": "a@example.com"}`, nil)
	require.NoError(t, controller.ForgotPassword(forgot))
	assert.Equal(t, http.StatusInternalServerError, forgot.status)

	service.AssertExpectations(t)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		res  account.Result
		want int
	}{
		{name: "success", res: account.Result{Success: true}, want: http.StatusOK},
		{name: "negative", res: account.Result{}, want: http.StatusTeapot},
		{name: "validation", res: account.Result{Error: account.ErrInvalidCredentialInput}, want: http.StatusBadRequest},
		{name: "not found", res: account.Result{Error: account.ErrUserNotFound}, want: http.StatusNotFound},
		{name: "conflict", res: account.Result{Error: account.ErrEmailInUse}, want: http.StatusConflict},
		{name: "unauthorized", res: account.Result{Error: account.ErrTokenInvalid}, want: http.StatusUnauthorized},
		{name: "fault", res: account.Result{Error: errors.New("boom")}, want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, account.StatusFor(tt.res, http.StatusTeapot))
		})
	}
}
