package gitstore

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testIdent = Ident{Name: "Test User", Email: "test@example.com", When: time.Unix(1700000000, 0).UTC()}

func writeCommit(t *testing.T, s *GitStore, parents []string, files map[string]string, msg string) string {
	t.Helper()
	ctx := context.Background()

	tree, err := s.WriteTree(ctx, files)
	require.NoError(t, err)

	hash, err := s.CreateCommit(ctx, CommitData{
		Tree:      tree,
		Parents:   parents,
		Author:    testIdent,
		Committer: testIdent,
		Message:   msg,
	})
	require.NoError(t, err)
	return hash
}

func TestCommitRoundTrip(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	hash := writeCommit(t, s, nil, map[string]string{"a.txt": "hello\n"}, "initial commit\n")

	c, err := s.Commit(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, hash, c.Hash)
	assert.Equal(t, "initial commit\n", c.Message)
	assert.Equal(t, "initial commit", c.Subject())
	assert.Empty(t, c.Parents)
	assert.Equal(t, testIdent.Name, c.Author.Name)
}

func TestCommitNotFound(t *testing.T) {
	s := NewInMemory()

	_, err := s.Commit(context.Background(), strings.Repeat("ab", 20))
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestTreeDiff(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	c1 := writeCommit(t, s, nil, map[string]string{
		"a.txt":     "one\ntwo\n",
		"dir/b.txt": "bee\n",
	}, "base\n")
	c2 := writeCommit(t, s, []string{c1}, map[string]string{
		"a.txt":     "one\ntwo\nthree\n",
		"dir/c.txt": "sea\n",
	}, "next\n")

	diffs, err := s.TreeDiff(ctx, c1, c2)
	require.NoError(t, err)

	byPath := make(map[string]FileDiff, len(diffs))
	for _, d := range diffs {
		byPath[d.Path] = d
	}
	require.Len(t, byPath, 3)

	assert.Equal(t, Modified, byPath["a.txt"].ChangeType)
	assert.Equal(t, 1, byPath["a.txt"].Insertions)
	assert.Equal(t, 0, byPath["a.txt"].Deletions)
	assert.Equal(t, Deleted, byPath["dir/b.txt"].ChangeType)
	assert.Equal(t, Added, byPath["dir/c.txt"].ChangeType)
	assert.Equal(t, 1, byPath["dir/c.txt"].Insertions)
}

func TestTreeDiffAgainstEmpty(t *testing.T) {
	s := NewInMemory()

	c1 := writeCommit(t, s, nil, map[string]string{"a.txt": "hello\n"}, "initial\n")

	diffs, err := s.TreeDiff(context.Background(), "", c1)
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, Added, diffs[0].ChangeType)
}

func TestUpdateRefCompareAndSwap(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	c1 := writeCommit(t, s, nil, map[string]string{"a.txt": "1\n"}, "one\n")
	c2 := writeCommit(t, s, []string{c1}, map[string]string{"a.txt": "2\n"}, "two\n")

	// Must-create succeeds once.
	require.NoError(t, s.UpdateRef(ctx, "refs/heads/main", "", c1))
	err := s.UpdateRef(ctx, "refs/heads/main", "", c2)
	assert.ErrorIs(t, err, ErrStaleRef)

	// Swap with matching old value.
	require.NoError(t, s.UpdateRef(ctx, "refs/heads/main", c1, c2))

	got, err := s.Ref(ctx, "refs/heads/main")
	require.NoError(t, err)
	assert.Equal(t, c2, got)

	// Stale old value loses.
	err = s.UpdateRef(ctx, "refs/heads/main", c1, c1)
	assert.ErrorIs(t, err, ErrStaleRef)

	// Expected-old on a missing ref loses.
	err = s.UpdateRef(ctx, "refs/heads/other", c1, c2)
	assert.ErrorIs(t, err, ErrStaleRef)
}

func TestRefNotFound(t *testing.T) {
	s := NewInMemory()

	_, err := s.Ref(context.Background(), "refs/heads/missing")
	assert.ErrorIs(t, err, ErrRefNotFound)
}

func TestMergeBaseAndAncestry(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	base := writeCommit(t, s, nil, map[string]string{"a.txt": "base\n"}, "base\n")
	left := writeCommit(t, s, []string{base}, map[string]string{"a.txt": "left\n"}, "left\n")
	right := writeCommit(t, s, []string{base}, map[string]string{"b.txt": "right\n"}, "right\n")

	got, err := s.MergeBase(ctx, left, right)
	require.NoError(t, err)
	assert.Equal(t, base, got)

	ok, err := s.IsAncestor(ctx, base, left)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.IsAncestor(ctx, left, right)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMergeTreesClean(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	base := writeCommit(t, s, nil, map[string]string{"a.txt": "a\n", "b.txt": "b\n"}, "base\n")
	ours := writeCommit(t, s, []string{base}, map[string]string{"a.txt": "a2\n", "b.txt": "b\n"}, "ours\n")
	theirs := writeCommit(t, s, []string{base}, map[string]string{"a.txt": "a\n", "b.txt": "b2\n"}, "theirs\n")

	res, err := s.MergeTrees(ctx, base, ours, theirs, MergeOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Conflicts)
	assert.NotEmpty(t, res.Tree)

	// Merged tree carries both sides' edits.
	merged, err := s.CreateCommit(ctx, CommitData{
		Tree: res.Tree, Parents: []string{ours}, Author: testIdent, Committer: testIdent, Message: "merged\n",
	})
	require.NoError(t, err)
	diffs, err := s.TreeDiff(ctx, base, merged)
	require.NoError(t, err)
	assert.Len(t, diffs, 2)
}

func TestMergeTreesConflict(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	base := writeCommit(t, s, nil, map[string]string{"a.txt": "base\n"}, "base\n")
	ours := writeCommit(t, s, []string{base}, map[string]string{"a.txt": "ours\n"}, "ours\n")
	theirs := writeCommit(t, s, []string{base}, map[string]string{"a.txt": "theirs\n"}, "theirs\n")

	_, err := s.MergeTrees(ctx, base, ours, theirs, MergeOptions{})
	assert.ErrorIs(t, err, ErrMergeConflict)

	res, err := s.MergeTrees(ctx, base, ours, theirs, MergeOptions{AllowConflicts: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, res.Conflicts)
}

func TestNewCommitsOldestFirst(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	c1 := writeCommit(t, s, nil, map[string]string{"a.txt": "1\n"}, "one\n")
	c2 := writeCommit(t, s, []string{c1}, map[string]string{"a.txt": "2\n"}, "two\n")
	c3 := writeCommit(t, s, []string{c2}, map[string]string{"a.txt": "3\n"}, "three\n")

	commits, err := s.NewCommits(ctx, c1, c3)
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, c2, commits[0].Hash)
	assert.Equal(t, c3, commits[1].Hash)

	all, err := s.NewCommits(ctx, "", c3)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
