package changeid

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("I"+strings.Repeat("a1", 20)))
	assert.ErrorIs(t, Validate("Ideadbeef"), ErrInvalid)
	assert.ErrorIs(t, Validate("I"+strings.Repeat("A1", 20)), ErrInvalid)
	assert.ErrorIs(t, Validate(strings.Repeat("a1", 20)+"x"), ErrInvalid)
}

func TestGenerateDeterministic(t *testing.T) {
	seed := Seed{
		Tree:      strings.Repeat("ab", 20),
		Parents:   []string{strings.Repeat("cd", 20)},
		Author:    FormatIdent("Alice", "alice@example.com", time.Unix(1700000000, 0).UTC()),
		Committer: FormatIdent("Alice", "alice@example.com", time.Unix(1700000000, 0).UTC()),
		Message:   "add cache layer\n",
	}
	first := Generate(seed)
	require.NoError(t, Validate(first))
	assert.Equal(t, first, Generate(seed))

	seed.Message = "add cache layer, second try\n"
	assert.NotEqual(t, first, Generate(seed))
}

func TestGeneratePartialSeed(t *testing.T) {
	id := Generate(Seed{Message: "just a message"})
	assert.NoError(t, Validate(id))
}

func TestFromMessage(t *testing.T) {
	id := "I" + strings.Repeat("0f", 20)

	got, err := FromMessage("fix parser\n\nChange-Id: " + id + "\n")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = FromMessage("fix parser\n")
	assert.ErrorIs(t, err, ErrMissing)

	_, err = FromMessage("fix parser\n\nChange-Id: " + id + "\nChange-Id: " + id + "\n")
	assert.ErrorIs(t, err, ErrMultiple)

	_, err = FromMessage("fix parser\n\nChange-Id: Inothex\n")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestReplaceInMessage(t *testing.T) {
	oldID := "I" + strings.Repeat("11", 20)
	newID := "I" + strings.Repeat("22", 20)

	replaced := ReplaceInMessage("fix parser\n\nChange-Id: "+oldID+"\n", newID)
	got, err := FromMessage(replaced)
	require.NoError(t, err)
	assert.Equal(t, newID, got)

	appended := ReplaceInMessage("fix parser\n", newID)
	got, err = FromMessage(appended)
	require.NoError(t, err)
	assert.Equal(t, newID, got)
	assert.True(t, strings.HasSuffix(appended, "\n"))
}

func TestExemptSubject(t *testing.T) {
	prefixes := []string{"Revert", "Automated:"}
	assert.True(t, ExemptSubject(`Revert "add cache layer"`, prefixes))
	assert.True(t, ExemptSubject("Automated: bump deps", prefixes))
	assert.False(t, ExemptSubject("add cache layer", prefixes))
	assert.False(t, ExemptSubject("add cache layer", nil))
}
