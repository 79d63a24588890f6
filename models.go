package account

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserState is the account activity status
type UserState string

const (
	// StateNotVerified is a registered account awaiting email verification
	StateNotVerified UserState = "not_verified"
	// StateActive is a verified account that may authenticate
	StateActive UserState = "active"
)

// Valid reports whether s is a known state
func (s UserState) Valid() bool {
	return s == StateNotVerified || s == StateActive
}

// User is the user model
type User struct {
	bun.BaseModel    `bun:"table:users,alias:usr"`
	ID               uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email            string     `bun:"email,notnull,unique" json:"email"`
	Name             string     `bun:"name,notnull" json:"name"`
	PasswordHash     string     `bun:"password_hash,notnull" json:"-"`
	Salt             string     `bun:"salt,notnull" json:"-"`
	State            UserState  `bun:"state,notnull" json:"state"`
	VerificationCode *string    `bun:"verification_code" json:"-"`
	LastLoginAt      *time.Time `bun:"last_login_at" json:"last_login_at,omitempty"`
	CreatedAt        *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt        *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// EnsureState defaults an empty state to StateNotVerified
func (u *User) EnsureState() {
	if u == nil {
		return
	}
	if u.State == "" {
		u.State = StateNotVerified
	}
}

// HasPendingCode reports whether a verification or reset code is outstanding
func (u *User) HasPendingCode() bool {
	return u != nil && u.VerificationCode != nil && *u.VerificationCode != ""
}

// PendingReset is the pseudo-state of an active account with an
// outstanding reset code.
func (u *User) PendingReset() bool {
	return u != nil && u.State == StateActive && u.HasPendingCode()
}

// NormalizeEmail trims and lowercases an address. Lookups and inserts
// both go through it.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func stringPtr(s string) *string {
	return &s
}
