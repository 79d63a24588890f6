package account

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-router"
)

// SessionClaimsKey is the Locals key holding the decoded session claims
const SessionClaimsKey = "account.session"

const bearerScheme = "Bearer"

type sessionCtxKey struct{}

// SessionFromHeader decodes a bearer Authorization header. Only session
// tokens pass, action tokens from mail links yield ErrSessionRequired.
func SessionFromHeader(tokens TokenService, header string) (*AccountClaims, error) {
	raw := bearerToken(header)
	if raw == "" {
		return nil, ErrSessionRequired
	}

	claims, err := tokens.Decode(raw)
	if err != nil {
		return nil, err
	}

	if !claims.LoggedIn {
		return nil, ErrSessionRequired
	}

	return claims, nil
}

// SessionFromContext returns the claims stored by RequireSession
func SessionFromContext(ctx context.Context) (*AccountClaims, bool) {
	if ctx == nil {
		return nil, false
	}
	claims, ok := ctx.Value(sessionCtxKey{}).(*AccountClaims)
	return claims, ok && claims != nil
}

// RequireSession only lets requests with a valid session token through.
// Rejected requests get a 401 Result and never reach next.
func RequireSession(tokens TokenService, logger ...Logger) router.MiddlewareFunc {
	lgr := Logger(defLogger{})
	if len(logger) > 0 {
		lgr = normalizeLogger(logger[0])
	}

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			claims, err := SessionFromHeader(tokens, ctx.Header(router.HeaderAuthorization))
			if err != nil {
				lgr.Debug("session rejected: %v", ErrorMessage(err))
				return ctx.JSON(fiber.StatusUnauthorized, fail(unauthorized(err)))
			}

			ctx.Locals(SessionClaimsKey, claims)
			ctx.SetContext(context.WithValue(ctx.Context(), sessionCtxKey{}, claims))

			return next(ctx)
		}
	}
}

// unauthorized keeps token errors as they are and folds anything else
// into ErrSessionRequired so the response never leaks internals.
func unauthorized(err error) error {
	if IsTokenError(err) || KindOf(err) == KindUnauthorized {
		return err
	}
	return ErrSessionRequired
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, bearerScheme) {
		return ""
	}
	return strings.TrimSpace(token)
}
