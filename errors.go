package account

import (
	"errors"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

const (
	TextCodeInvalidCredentialInput = "INVALID_CREDENTIAL_INPUT"
	TextCodeInvalidInput           = "INVALID_INPUT"
	TextCodeEmailInUse             = "EMAIL_IN_USE"
	TextCodeUserNotFound           = "USER_NOT_FOUND"
	TextCodeTokenInvalid           = "TOKEN_INVALID"
	TextCodeTokenExpired           = "TOKEN_EXPIRED"
	TextCodeStorageFault           = "STORAGE_FAULT"
	TextCodeMailDeliveryFault      = "MAIL_DELIVERY_FAULT"
	TextCodeLockUnavailable        = "EMAIL_LOCK_UNAVAILABLE"
	TextCodeSessionRequired        = "SESSION_REQUIRED"
)

// ErrInvalidCredentialInput is returned by the credential codec for an empty
// password or a missing salt.
var ErrInvalidCredentialInput = goerrors.New("password and salt must not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidCredentialInput).
	WithCode(goerrors.CodeBadRequest)

// ErrEmailInUse is returned when creating a user whose email already exists.
// The message is part of the public contract.
var ErrEmailInUse = goerrors.New("This email is in use", goerrors.CategoryConflict).
	WithTextCode(TextCodeEmailInUse).
	WithCode(goerrors.CodeConflict)

// ErrUserNotFound is returned by repositories when no row matches
var ErrUserNotFound = goerrors.New("user not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeUserNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrTokenInvalid covers bad signatures, unexpected algorithms and malformed tokens.
var ErrTokenInvalid = goerrors.New("token is invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenInvalid).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenExpired is returned for tokens past their expiry
var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrSessionRequired is returned when a request carries no session token.
// Action tokens from mail links do not count.
var ErrSessionRequired = goerrors.New("session token required", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionRequired).
	WithCode(goerrors.CodeUnauthorized)

// ErrLockUnavailable is returned when the email lock could not be acquired in time
var ErrLockUnavailable = goerrors.New("email lock unavailable", goerrors.CategoryOperation).
	WithTextCode(TextCodeLockUnavailable).
	WithCode(goerrors.CodeConflict)

// ErrorKind groups errors into the buckets callers act on.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindValidationFailed
	KindNotFound
	KindConflict
	KindUnauthorized
	KindUpstreamFault
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindValidationFailed:
		return "validation_failed"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "upstream_fault"
	}
}

// KindOf classifies err. Anything that is not a known domain error is an
// upstream fault.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	if repository.IsRecordNotFound(err) {
		return KindNotFound
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch richErr.Category {
		case goerrors.CategoryValidation, goerrors.CategoryBadInput:
			return KindValidationFailed
		case goerrors.CategoryNotFound:
			return KindNotFound
		case goerrors.CategoryConflict:
			return KindConflict
		case goerrors.CategoryAuth:
			return KindUnauthorized
		}
	}

	return KindUpstreamFault
}

// IsTokenError reports whether err came out of token decoding
func IsTokenError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTokenInvalid) || errors.Is(err, ErrTokenExpired) {
		return true
	}
	return hasTextCode(err, TextCodeTokenInvalid, TextCodeTokenExpired)
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTokenExpired) || hasTextCode(err, TextCodeTokenExpired) {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

func hasTextCode(err error, codes ...string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	for _, code := range codes {
		if richErr.TextCode == code {
			return true
		}
	}
	return false
}

func wrapStorage(err error, message string) error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}

	return goerrors.Wrap(err, goerrors.CategoryInternal, message).
		WithTextCode(TextCodeStorageFault)
}
