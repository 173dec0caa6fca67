package gitstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/go-git/go-git/v5/utils/merkletrie"
)

// DefaultOpTimeout bounds a single git object operation.
const DefaultOpTimeout = 10 * time.Second

// GitStore implements Store on top of a go-git repository. Writes are
// serialized with an internal mutex because go-git storers are not safe for
// concurrent mutation; the ref compare-and-swap therefore holds across all
// writers in this process, and filesystem storage adds its own lock for
// out-of-process writers.
type GitStore struct {
	mu      sync.Mutex
	repo    *gitlib.Repository
	timeout time.Duration
}

// Open opens the bare repository at path, initializing it when absent.
func Open(path string, timeout time.Duration) (*GitStore, error) {
	if timeout <= 0 {
		timeout = DefaultOpTimeout
	}
	repo, err := gitlib.PlainOpenWithOptions(path, &gitlib.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, gitlib.ErrRepositoryNotExists) {
		repo, err = gitlib.PlainInit(path, true)
	}
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", path, err)
	}
	return &GitStore{repo: repo, timeout: timeout}, nil
}

// NewInMemory returns a store over an in-memory repository, for tests.
func NewInMemory() *GitStore {
	repo, err := gitlib.Init(memory.NewStorage(), nil)
	if err != nil {
		// memory.NewStorage never fails to init
		panic(err)
	}
	return &GitStore{repo: repo, timeout: DefaultOpTimeout}
}

// opContext bounds one object operation by the configured timeout.
func (s *GitStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Commit reads and parses a commit object.
func (s *GitStore) Commit(ctx context.Context, hash string) (*Commit, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(hash)
}

func (s *GitStore) commitLocked(hash string) (*Commit, error) {
	c, err := object.GetCommit(s.repo.Storer, plumbing.NewHash(hash))
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: commit %s", ErrObjectNotFound, hash)
		}
		return nil, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return convertCommit(c), nil
}

func convertCommit(c *object.Commit) *Commit {
	parents := make([]string, 0, len(c.ParentHashes))
	for _, p := range c.ParentHashes {
		parents = append(parents, p.String())
	}
	return &Commit{
		Hash:      c.Hash.String(),
		Tree:      c.TreeHash.String(),
		Parents:   parents,
		Author:    Ident{Name: c.Author.Name, Email: c.Author.Email, When: c.Author.When},
		Committer: Ident{Name: c.Committer.Name, Email: c.Committer.Email, When: c.Committer.When},
		Message:   c.Message,
	}
}

// CreateCommit writes a new commit object and returns its hash.
func (s *GitStore) CreateCommit(ctx context.Context, data CommitData) (string, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parents := make([]plumbing.Hash, 0, len(data.Parents))
	for _, p := range data.Parents {
		parents = append(parents, plumbing.NewHash(p))
	}
	c := &object.Commit{
		Author:       object.Signature{Name: data.Author.Name, Email: data.Author.Email, When: data.Author.When},
		Committer:    object.Signature{Name: data.Committer.Name, Email: data.Committer.Email, When: data.Committer.When},
		Message:      data.Message,
		TreeHash:     plumbing.NewHash(data.Tree),
		ParentHashes: parents,
	}

	obj := s.repo.Storer.NewEncodedObject()
	if err := c.Encode(obj); err != nil {
		return "", fmt.Errorf("encode commit: %w", err)
	}
	hash, err := s.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return "", fmt.Errorf("write commit: %w", err)
	}
	return hash.String(), nil
}

// TreeDiff diffs the trees of two commits. oldCommit may be empty.
func (s *GitStore) TreeDiff(ctx context.Context, oldCommit, newCommit string) ([]FileDiff, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	var oldTree *object.Tree
	if oldCommit != "" {
		var err error
		oldTree, err = s.treeLocked(oldCommit)
		if err != nil {
			return nil, err
		}
	}
	newTree, err := s.treeLocked(newCommit)
	if err != nil {
		return nil, err
	}

	changes, err := object.DiffTreeWithOptions(ctx, oldTree, newTree, object.DefaultDiffTreeOptions)
	if err != nil {
		return nil, fmt.Errorf("diff trees: %w", err)
	}

	diffs := make([]FileDiff, 0, len(changes))
	for _, ch := range changes {
		action, err := ch.Action()
		if err != nil {
			return nil, fmt.Errorf("diff action: %w", err)
		}
		d := FileDiff{}
		switch action {
		case merkletrie.Insert:
			d.ChangeType = Added
			d.Path = ch.To.Name
			d.NewMode = uint32(ch.To.TreeEntry.Mode)
			d.NewBlob = ch.To.TreeEntry.Hash.String()
		case merkletrie.Delete:
			d.ChangeType = Deleted
			d.Path = ch.From.Name
			d.OldMode = uint32(ch.From.TreeEntry.Mode)
			d.OldBlob = ch.From.TreeEntry.Hash.String()
		case merkletrie.Modify:
			d.ChangeType = Modified
			d.Path = ch.To.Name
			d.OldMode = uint32(ch.From.TreeEntry.Mode)
			d.OldBlob = ch.From.TreeEntry.Hash.String()
			d.NewMode = uint32(ch.To.TreeEntry.Mode)
			d.NewBlob = ch.To.TreeEntry.Hash.String()
		}

		patch, err := ch.Patch()
		if err != nil {
			return nil, fmt.Errorf("diff patch for %s: %w", d.Path, err)
		}
		for _, st := range patch.Stats() {
			d.Insertions += st.Addition
			d.Deletions += st.Deletion
		}
		diffs = append(diffs, d)
	}
	return diffs, nil
}

func (s *GitStore) treeLocked(commitHash string) (*object.Tree, error) {
	c, err := object.GetCommit(s.repo.Storer, plumbing.NewHash(commitHash))
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: commit %s", ErrObjectNotFound, commitHash)
		}
		return nil, fmt.Errorf("read commit %s: %w", commitHash, err)
	}
	tree, err := c.Tree()
	if err != nil {
		return nil, fmt.Errorf("read tree of %s: %w", commitHash, err)
	}
	return tree, nil
}

// MergeBase returns the best common ancestor of two commits.
func (s *GitStore) MergeBase(ctx context.Context, a, b string) (string, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ca, err := object.GetCommit(s.repo.Storer, plumbing.NewHash(a))
	if err != nil {
		return "", fmt.Errorf("%w: commit %s", ErrObjectNotFound, a)
	}
	cb, err := object.GetCommit(s.repo.Storer, plumbing.NewHash(b))
	if err != nil {
		return "", fmt.Errorf("%w: commit %s", ErrObjectNotFound, b)
	}
	bases, err := ca.MergeBase(cb)
	if err != nil {
		return "", fmt.Errorf("merge base of %s and %s: %w", a, b, err)
	}
	if len(bases) == 0 {
		return "", fmt.Errorf("%w: %s and %s", ErrNoMergeBase, a, b)
	}
	return bases[0].Hash.String(), nil
}

// IsAncestor reports whether anc is an ancestor of desc.
func (s *GitStore) IsAncestor(ctx context.Context, anc, desc string) (bool, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ca, err := object.GetCommit(s.repo.Storer, plumbing.NewHash(anc))
	if err != nil {
		return false, fmt.Errorf("%w: commit %s", ErrObjectNotFound, anc)
	}
	cd, err := object.GetCommit(s.repo.Storer, plumbing.NewHash(desc))
	if err != nil {
		return false, fmt.Errorf("%w: commit %s", ErrObjectNotFound, desc)
	}
	ok, err := ca.IsAncestor(cd)
	if err != nil {
		return false, fmt.Errorf("ancestry of %s and %s: %w", anc, desc, err)
	}
	return ok, nil
}

// Ref resolves a ref name to a commit hash.
func (s *GitStore) Ref(ctx context.Context, name string) (string, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ref, err := s.repo.Storer.Reference(plumbing.ReferenceName(name))
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", fmt.Errorf("%w: %s", ErrRefNotFound, name)
		}
		return "", fmt.Errorf("read ref %s: %w", name, err)
	}
	return ref.Hash().String(), nil
}

// UpdateRef performs a compare-and-swap ref update. An empty oldHash requires
// the ref to not exist yet.
func (s *GitStore) UpdateRef(ctx context.Context, name, oldHash, newHash string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	refName := plumbing.ReferenceName(name)
	current, err := s.repo.Storer.Reference(refName)
	switch {
	case err == nil:
		if oldHash == "" || current.Hash().String() != oldHash {
			return fmt.Errorf("%w: %s is at %s", ErrStaleRef, name, current.Hash())
		}
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		if oldHash != "" {
			return fmt.Errorf("%w: %s does not exist", ErrStaleRef, name)
		}
	default:
		return fmt.Errorf("read ref %s: %w", name, err)
	}

	newRef := plumbing.NewHashReference(refName, plumbing.NewHash(newHash))
	if oldHash != "" {
		oldRef := plumbing.NewHashReference(refName, plumbing.NewHash(oldHash))
		if err := s.repo.Storer.CheckAndSetReference(newRef, oldRef); err != nil {
			if errors.Is(err, storage.ErrReferenceHasChanged) {
				return fmt.Errorf("%w: %s", ErrStaleRef, name)
			}
			return fmt.Errorf("update ref %s: %w", name, err)
		}
		return nil
	}
	if err := s.repo.Storer.SetReference(newRef); err != nil {
		return fmt.Errorf("create ref %s: %w", name, err)
	}
	return nil
}

// NewCommits lists commits reachable from newHash but not oldHash, oldest first.
func (s *GitStore) NewCommits(ctx context.Context, oldHash, newHash string) ([]Commit, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	head, err := object.GetCommit(s.repo.Storer, plumbing.NewHash(newHash))
	if err != nil {
		return nil, fmt.Errorf("%w: commit %s", ErrObjectNotFound, newHash)
	}
	var ignore []plumbing.Hash
	if oldHash != "" {
		ignore = []plumbing.Hash{plumbing.NewHash(oldHash)}
	}

	var commits []Commit
	iter := object.NewCommitPreorderIter(head, nil, ignore)
	err = iter.ForEach(func(c *object.Commit) error {
		commits = append(commits, *convertCommit(c))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s..%s: %w", oldHash, newHash, err)
	}
	// Preorder yields newest first.
	for i, j := 0, len(commits)-1; i < j; i, j = i+1, j-1 {
		commits[i], commits[j] = commits[j], commits[i]
	}
	return commits, nil
}

// WriteTree writes blobs for the given path to content map and returns the
// hash of a tree containing them. Intended for seeding repositories.
func (s *GitStore) WriteTree(ctx context.Context, files map[string]string) (string, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	flat := make(map[string]flatEntry, len(files))
	for path, content := range files {
		blob, err := s.writeBlobLocked([]byte(content))
		if err != nil {
			return "", err
		}
		flat[path] = flatEntry{mode: filemode.Regular, hash: blob}
	}
	tree, err := s.buildTreeLocked(flat)
	if err != nil {
		return "", err
	}
	return tree.String(), nil
}

// Ping verifies the underlying storage answers.
func (s *GitStore) Ping(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	iter, err := s.repo.References()
	if err != nil {
		return fmt.Errorf("list refs: %w", err)
	}
	iter.Close()
	return nil
}
