package refs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChange(t *testing.T) {
	tests := []struct {
		name     string
		number   int64
		patchSet int
		want     string
	}{
		{"four digit change", 1234, 1, "refs/changes/34/1234/1"},
		{"single digit change", 7, 3, "refs/changes/07/7/3"},
		{"shard is last two digits", 100, 2, "refs/changes/00/100/2"},
		{"two digit change", 99, 1, "refs/changes/99/99/1"},
		{"large change", 987654, 12, "refs/changes/54/987654/12"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Change(tt.number, tt.patchSet))
		})
	}
}

func TestParseChange(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		for _, n := range []int64{1, 7, 42, 100, 1234, 99999} {
			for _, p := range []int{1, 2, 15} {
				number, patchSet, ok := ParseChange(Change(n, p))
				require.True(t, ok, "ref %s should parse", Change(n, p))
				assert.Equal(t, n, number)
				assert.Equal(t, p, patchSet)
			}
		}
	})

	t.Run("rejects foreign refs", func(t *testing.T) {
		for _, ref := range []string{
			"refs/heads/main",
			"refs/changes/34/1234",
			"refs/changes/35/1234/1", // wrong shard
			"refs/changes/34/1234/0",
			"refs/changes/34/1234/meta",
			"refs/changes/xx/1234/1",
		} {
			_, _, ok := ParseChange(ref)
			assert.False(t, ok, "ref %s should not parse", ref)
		}
	})
}

func TestBranchHelpers(t *testing.T) {
	assert.True(t, IsVirtual("refs/for/main"))
	assert.False(t, IsVirtual("refs/heads/main"))
	assert.True(t, IsBranch("refs/heads/release"))
	assert.False(t, IsBranch("refs/tags/v1.0.0"))
	assert.Equal(t, "refs/heads/main", BranchRef("main"))
	assert.Equal(t, "refs/heads/main", BranchRef("refs/heads/main"))
	assert.Equal(t, "main", ShortBranch("refs/heads/main"))
}
