package account_test

import (
	"regexp"
	"testing"

	"github.com/goliatone/go-account"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var codePattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestHashidCodeGenerator(t *testing.T) {
	gen := account.NewCodeGenerator()

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		code, err := gen.Generate("alice@example.com1700000000")
		require.NoError(t, err)
		assert.Regexp(t, codePattern, code)
		assert.False(t, seen[code], "same seed must still yield fresh codes")
		seen[code] = true
	}
}

func TestCodeGeneratorFunc(t *testing.T) {
	gen := account.CodeGeneratorFunc(func(seed string) (string, error) {
		return "code-" + seed, nil
	})

	code, err := gen.Generate("x")
	require.NoError(t, err)
	assert.Equal(t, "code-x", code)
}
