package account

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
)

const codeEntropySize = 16

// CodeGenerator issues one-time verification and reset codes
type CodeGenerator interface {
	Generate(seed string) (string, error)
}

// CodeGeneratorFunc adapts a function to the CodeGenerator interface.
type CodeGeneratorFunc func(seed string) (string, error)

// Generate implements CodeGenerator.
func (f CodeGeneratorFunc) Generate(seed string) (string, error) {
	return f(seed)
}

// HashidCodeGenerator mixes the seed with random bytes and folds the
// result into a hashid UUID. The seed only keeps concurrent codes apart,
// the random part makes them unpredictable.
type HashidCodeGenerator struct{}

// NewCodeGenerator returns the default CodeGenerator
func NewCodeGenerator() HashidCodeGenerator {
	return HashidCodeGenerator{}
}

// Generate returns a 32 character lowercase hex code
func (HashidCodeGenerator) Generate(seed string) (string, error) {
	entropy := make([]byte, codeEntropySize)
	if _, err := rand.Read(entropy); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read code entropy")
	}

	id, err := hashid.NewUUID(seed + ":" + hex.EncodeToString(entropy))
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to derive one-time code")
	}

	return strings.ReplaceAll(id.String(), "-", ""), nil
}
