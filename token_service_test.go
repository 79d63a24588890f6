package account_test

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-account"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestNewTokenService_RequiresKey(t *testing.T) {
	_, err := account.NewTokenService(account.TokenConfig{})
	require.Error(t, err)
	assert.Equal(t, account.KindValidationFailed, account.KindOf(err))
}

func TestTokenService_RoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	tokens := newTestTokens(t, account.WithTokenClock(fixedClock(now)))

	user := &account.User{ID: uuid.New(), Name: "Alice", Email: "alice@example.com"}

	t.Run("session token", func(t *testing.T) {
		signed, err := tokens.Create(account.SessionClaims(user))
		require.NoError(t, err)

		claims, err := tokens.Decode(signed)
		require.NoError(t, err)

		assert.Equal(t, user.ID.String(), claims.UserID())
		assert.True(t, claims.LoggedIn)
		assert.Equal(t, "Alice", claims.Name)
		assert.Equal(t, "go-account-test", claims.Issuer)
		assert.True(t, claims.IssuedAt().Equal(now))
		assert.True(t, claims.Expires().Equal(now.Add(account.DefaultSessionTTL)))
	})

	t.Run("action token", func(t *testing.T) {
		signed, err := tokens.Create(account.ActionClaims(user))
		require.NoError(t, err)

		claims, err := tokens.Decode(signed)
		require.NoError(t, err)

		assert.Equal(t, user.ID.String(), claims.UserID())
		assert.False(t, claims.LoggedIn)
		assert.True(t, claims.Expires().Equal(now.Add(account.DefaultActionTTL)))
	})
}

func TestTokenService_CreateRequiresUser(t *testing.T) {
	tokens := newTestTokens(t)
	_, err := tokens.Create(account.AccountClaims{})
	assert.Error(t, err)
}

func TestTokenService_Expired(t *testing.T) {
	issued := time.Now().Add(-72 * time.Hour)
	issuer := newTestTokens(t, account.WithTokenClock(fixedClock(issued)))

	signed, err := issuer.Create(account.ActionClaims(&account.User{ID: uuid.New()}))
	require.NoError(t, err)

	claims, err := newTestTokens(t).Decode(signed)
	assert.Nil(t, claims)
	assert.ErrorIs(t, err, account.ErrTokenExpired)
	assert.True(t, account.IsTokenExpiredError(err))
	assert.True(t, account.IsTokenError(err))
	assert.Equal(t, account.KindUnauthorized, account.KindOf(err))
}

func TestTokenService_Rejects(t *testing.T) {
	tokens := newTestTokens(t)
	valid, err := tokens.Create(account.ActionClaims(&account.User{ID: uuid.New()}))
	require.NoError(t, err)

	parts := strings.Split(valid, ".")
	require.Len(t, parts, 3)

	otherKey, err := account.NewTokenService(account.TokenConfig{
		SigningKey: []byte("another-signing-key-another-signing-key"),
		Issuer:     "go-account-test",
	})
	require.NoError(t, err)
	foreign, err := otherKey.Create(account.ActionClaims(&account.User{ID: uuid.New()}))
	require.NoError(t, err)

	otherIssuer, err := account.NewTokenService(account.TokenConfig{
		SigningKey: []byte(testSigningKey),
		Issuer:     "someone-else",
	})
	require.NoError(t, err)
	wrongIssuer, err := otherIssuer.Create(account.ActionClaims(&account.User{ID: uuid.New()}))
	require.NoError(t, err)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, &account.AccountClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "go-account-test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		UID: uuid.NewString(),
	}).SignedString([]byte(testSigningKey))
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, &account.AccountClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "go-account-test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		UID: uuid.NewString(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &account.AccountClaims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "go-account-test"},
		UID:              uuid.NewString(),
	}).SignedString([]byte(testSigningKey))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "garbage", token: "not-a-token"},
		{name: "tampered payload", token: parts[0] + "." + parts[1] + "x." + parts[2]},
		{name: "tampered signature", token: parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))},
		{name: "foreign key", token: foreign},
		{name: "wrong issuer", token: wrongIssuer},
		{name: "hs512", token: hs512},
		{name: "alg none", token: none},
		{name: "no expiry", token: noExpiry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := tokens.Decode(tt.token)
			assert.Nil(t, claims)
			require.Error(t, err)
			assert.True(t, account.IsTokenError(err))
			assert.False(t, account.IsTokenExpiredError(err))
			assert.Equal(t, account.KindUnauthorized, account.KindOf(err))
		})
	}
}
