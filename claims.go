package account

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccountClaims is the signed payload shared by session and action tokens
type AccountClaims struct {
	jwt.RegisteredClaims
	UID      string `json:"uid"`
	LoggedIn bool   `json:"logged_in"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
}

// UserID returns the user ID
func (c *AccountClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.RegisteredClaims.Subject
}

// Expires returns the expiration time
func (c *AccountClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *AccountClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}

// SessionClaims are issued on login
func SessionClaims(user *User) AccountClaims {
	return AccountClaims{
		UID:      user.ID.String(),
		LoggedIn: true,
		Name:     user.Name,
		Email:    user.Email,
	}
}

// ActionClaims accompany verification and reset codes
func ActionClaims(user *User) AccountClaims {
	return AccountClaims{
		UID:      user.ID.String(),
		LoggedIn: false,
	}
}
