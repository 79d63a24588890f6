package account

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	// AlgorithmArgon2 selects the deterministic argon2id hasher
	AlgorithmArgon2 = "argon2id"
	// AlgorithmBcrypt selects the bcrypt hasher
	AlgorithmBcrypt = "bcrypt"
)

const saltSize = 16

// PasswordHasher derives and checks salted password hashes.
// A mismatch is reported as false, never as an error.
type PasswordHasher interface {
	Hash(password, salt string) (string, error)
	Verify(password, salt, expected string) (bool, error)
}

// Argon2Params tunes the argon2id key derivation
type Argon2Params struct {
	Time    uint32
	Memory  uint32
	Threads uint8
	KeyLen  uint32
}

// DefaultArgon2Params follows the RFC 9106 second recommended option
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Time:    3,
		Memory:  64 * 1024,
		Threads: 2,
		KeyLen:  32,
	}
}

// Argon2Hasher is the default PasswordHasher. The same inputs always
// produce the same output.
type Argon2Hasher struct {
	params Argon2Params
}

// NewArgon2Hasher returns a hasher using params, zero fields fall back
// to DefaultArgon2Params.
func NewArgon2Hasher(params Argon2Params) *Argon2Hasher {
	def := DefaultArgon2Params()
	if params.Time == 0 {
		params.Time = def.Time
	}
	if params.Memory == 0 {
		params.Memory = def.Memory
	}
	if params.Threads == 0 {
		params.Threads = def.Threads
	}
	if params.KeyLen == 0 {
		params.KeyLen = def.KeyLen
	}
	return &Argon2Hasher{params: params}
}

// Hash derives the argon2id key for password and salt
func (h *Argon2Hasher) Hash(password, salt string) (string, error) {
	if err := checkCredentialInput(password, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(password), []byte(salt), h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)
	return base64.RawStdEncoding.EncodeToString(key), nil
}

// Verify recomputes the hash and compares it in constant time
func (h *Argon2Hasher) Verify(password, salt, expected string) (bool, error) {
	actual, err := h.Hash(password, salt)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(actual), []byte(expected)) == 1, nil
}

// BcryptHasher mixes the salt into the input and lets bcrypt add its own.
// Hashes differ between calls but always verify.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher will use bcrypt.DefaultCost when cost is out of range
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash will generate a password hash
func (h *BcryptHasher) Hash(password, salt string) (string, error) {
	if err := checkCredentialInput(password, salt); err != nil {
		return "", err
	}

	out, err := bcrypt.GenerateFromPassword(bcryptInput(password, salt), h.cost)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}
	return string(out), nil
}

// Verify will validate the given cleartext password matches the hashed password
func (h *BcryptHasher) Verify(password, salt, expected string) (bool, error) {
	if err := checkCredentialInput(password, salt); err != nil {
		return false, err
	}

	err := bcrypt.CompareHashAndPassword([]byte(expected), bcryptInput(password, salt))
	if err == nil {
		return true, nil
	}

	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) ||
		errors.Is(err, bcrypt.ErrHashTooShort) {
		return false, nil
	}

	return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to compare password hash")
}

// bcrypt truncates at 72 bytes so the salted input is pre-hashed
func bcryptInput(password, salt string) []byte {
	sum := sha256.Sum256([]byte(salt + password))
	return []byte(base64.RawStdEncoding.EncodeToString(sum[:]))
}

// NewPasswordHasher resolves a hasher by algorithm name
func NewPasswordHasher(algorithm string, params Argon2Params, bcryptCost int) (PasswordHasher, error) {
	switch strings.ToLower(strings.TrimSpace(algorithm)) {
	case "", AlgorithmArgon2:
		return NewArgon2Hasher(params), nil
	case AlgorithmBcrypt:
		return NewBcryptHasher(bcryptCost), nil
	default:
		return nil, goerrors.New("unknown password hashing algorithm", goerrors.CategoryBadInput).
			WithTextCode(TextCodeInvalidInput).
			WithMetadata(map[string]any{
				"algorithm": algorithm,
			})
	}
}

// GenerateSalt returns a fresh base64 salt read from crypto/rand
func GenerateSalt() (string, error) {
	buf := make([]byte, saltSize)
	if _, err := rand.Read(buf); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate salt")
	}
	return base64.RawStdEncoding.EncodeToString(buf), nil
}

func checkCredentialInput(password, salt string) error {
	if password == "" || salt == "" {
		return ErrInvalidCredentialInput
	}
	return nil
}
