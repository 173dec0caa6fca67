// Package gitstore abstracts the Git object database and ref namespace behind
// a port the engine consumes: commit read/create, atomic compare-and-swap ref
// updates, tree diffs, merge-base queries and three-way tree merges.
package gitstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrObjectNotFound indicates a commit or blob hash unknown to the store.
	ErrObjectNotFound = errors.New("object not found")
	// ErrRefNotFound indicates the named ref does not exist.
	ErrRefNotFound = errors.New("ref not found")
	// ErrStaleRef indicates a compare-and-swap ref update lost to a concurrent
	// writer: the ref no longer points at the expected old value.
	ErrStaleRef = errors.New("ref changed concurrently")
	// ErrMergeConflict indicates a content conflict during a three-way merge
	// performed without AllowConflicts.
	ErrMergeConflict = errors.New("merge conflict")
	// ErrNoMergeBase indicates two commits share no common ancestor.
	ErrNoMergeBase = errors.New("no merge base")
)

// Ident is a commit author or committer identity.
type Ident struct {
	Name  string
	Email string
	When  time.Time
}

// Commit is a parsed commit object.
type Commit struct {
	Hash      string
	Tree      string
	Parents   []string
	Author    Ident
	Committer Ident
	Message   string
}

// Subject returns the first line of the commit message.
func (c *Commit) Subject() string {
	for i := 0; i < len(c.Message); i++ {
		if c.Message[i] == '\n' {
			return c.Message[:i]
		}
	}
	return c.Message
}

// CommitData is the input for creating a commit object.
type CommitData struct {
	Tree      string
	Parents   []string
	Author    Ident
	Committer Ident
	Message   string
}

// ChangeType classifies one file entry of a tree diff.
type ChangeType string

// Tree diff change types.
const (
	Added    ChangeType = "ADDED"
	Modified ChangeType = "MODIFIED"
	Deleted  ChangeType = "DELETED"
)

// FileDiff is one per-file record of a tree diff.
type FileDiff struct {
	Path       string
	ChangeType ChangeType
	OldMode    uint32
	NewMode    uint32
	OldBlob    string
	NewBlob    string
	Insertions int
	Deletions  int
}

// MergeOptions controls three-way tree merges.
type MergeOptions struct {
	// AllowConflicts embeds conflict markers into conflicted files instead of
	// failing with ErrMergeConflict.
	AllowConflicts bool
	// OursLabel and TheirsLabel name the sides in conflict markers.
	OursLabel   string
	TheirsLabel string
}

// TreeMergeResult is the outcome of a three-way tree merge.
type TreeMergeResult struct {
	// Tree is the hash of the merged tree.
	Tree string
	// Conflicts lists the paths that carried conflict markers. Empty on a
	// clean merge.
	Conflicts []string
}

// Store is the object/ref port the engine operates against. Implementations
// must be safe for concurrent use; every operation is bounded by the
// configured git operation timeout, and a timeout surfaces as a plain
// (retryable) I/O error, never as a content conflict.
type Store interface {
	// Commit reads and parses the commit with the given hash.
	Commit(ctx context.Context, hash string) (*Commit, error)

	// CreateCommit writes a new commit object and returns its hash.
	CreateCommit(ctx context.Context, data CommitData) (string, error)

	// TreeDiff diffs the trees of two commits. oldCommit may be empty, in
	// which case every file of newCommit is reported as added.
	TreeDiff(ctx context.Context, oldCommit, newCommit string) ([]FileDiff, error)

	// MergeBase returns the best common ancestor of two commits.
	MergeBase(ctx context.Context, a, b string) (string, error)

	// IsAncestor reports whether anc is an ancestor of desc.
	IsAncestor(ctx context.Context, anc, desc string) (bool, error)

	// Ref resolves a ref name to a commit hash, ErrRefNotFound if absent.
	Ref(ctx context.Context, name string) (string, error)

	// UpdateRef points name at newHash iff it currently points at oldHash.
	// An empty oldHash means the ref must not exist yet. A mismatch returns
	// ErrStaleRef; nothing is written in that case.
	UpdateRef(ctx context.Context, name, oldHash, newHash string) error

	// MergeTrees three-way merges the trees of the given commits: base is the
	// common ancestor, ours the destination side, theirs the side being
	// applied. base may be empty when the sides share no ancestor.
	MergeTrees(ctx context.Context, base, ours, theirs string, opts MergeOptions) (*TreeMergeResult, error)

	// NewCommits lists the commits reachable from newHash but not from
	// oldHash, oldest first. oldHash may be empty (ref creation).
	NewCommits(ctx context.Context, oldHash, newHash string) ([]Commit, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
}
