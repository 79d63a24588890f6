package account

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
)

const (
	DefaultSessionTTL = 24 * time.Hour
	DefaultActionTTL  = 48 * time.Hour
)

// TokenService signs and decodes account tokens
type TokenService interface {
	// Create signs a session token (LoggedIn) or an action token
	Create(claims AccountClaims) (string, error)
	Decode(token string) (*AccountClaims, error)
}

// TokenConfig configures the HS256 token service
type TokenConfig struct {
	SigningKey []byte
	Issuer     string
	SessionTTL time.Duration
	ActionTTL  time.Duration
}

// TokenServiceImpl implements the TokenService interface
type TokenServiceImpl struct {
	signingKey []byte
	issuer     string
	sessionTTL time.Duration
	actionTTL  time.Duration
	now        func() time.Time
	logger     Logger
}

// TokenServiceOption customizes the token service
type TokenServiceOption func(*TokenServiceImpl)

// WithTokenClock injects a custom clock (useful for tests).
func WithTokenClock(clock func() time.Time) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		if clock != nil {
			ts.now = clock
		}
	}
}

// WithTokenLogger sets the logger
func WithTokenLogger(logger Logger) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		ts.logger = normalizeLogger(logger)
	}
}

// NewTokenService creates a new TokenService instance
func NewTokenService(cfg TokenConfig, opts ...TokenServiceOption) (*TokenServiceImpl, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, errors.New("token signing key must not be empty", errors.CategoryValidation).
			WithTextCode(TextCodeInvalidInput)
	}

	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}

	if cfg.ActionTTL <= 0 {
		cfg.ActionTTL = DefaultActionTTL
	}

	ts := &TokenServiceImpl{
		signingKey: cfg.SigningKey,
		issuer:     cfg.Issuer,
		sessionTTL: cfg.SessionTTL,
		actionTTL:  cfg.ActionTTL,
		now:        time.Now,
		logger:     defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}

	return ts, nil
}

// Create signs claims with HS256. Session tokens use the session TTL,
// everything else the action TTL.
func (ts *TokenServiceImpl) Create(claims AccountClaims) (string, error) {
	if claims.UID == "" {
		return "", errors.New("token claims must name a user", errors.CategoryInternal)
	}

	ttl := ts.actionTTL
	if claims.LoggedIn {
		ttl = ts.sessionTTL
	}

	now := ts.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    ts.issuer,
		Subject:   claims.UID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)

	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign JWT")
	}

	return signed, nil
}

// Decode verifies signature, algorithm and expiry. No claims are returned
// on failure.
func (ts *TokenServiceImpl) Decode(tokenString string) (*AccountClaims, error) {
	if tokenString == "" {
		return nil, ErrTokenInvalid
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(ts.now),
		jwt.WithExpirationRequired(),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &AccountClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Warn("token decode encountered unexpected signing method %v", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, errors.Wrap(err, ErrTokenInvalid.Category, ErrTokenInvalid.Message).
			WithTextCode(ErrTokenInvalid.TextCode).
			WithCode(errors.CodeUnauthorized)
	}

	claims, ok := token.Claims.(*AccountClaims)
	if !ok || !token.Valid || claims.UserID() == "" {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}
