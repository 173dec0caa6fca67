package gitstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
)

type flatEntry struct {
	mode filemode.FileMode
	hash plumbing.Hash
}

func (e flatEntry) present() bool {
	return !e.hash.IsZero()
}

func (e flatEntry) equal(o flatEntry) bool {
	return e.mode == o.mode && e.hash == o.hash
}

// MergeTrees performs a path-level three-way merge of the trees of the given
// commits. A path changed on both sides in different ways is a conflict:
// without AllowConflicts the merge fails with ErrMergeConflict naming the
// paths; with it, the merged tree carries the file with conflict markers and
// the path is reported in TreeMergeResult.Conflicts.
func (s *GitStore) MergeTrees(ctx context.Context, base, ours, theirs string, opts MergeOptions) (*TreeMergeResult, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	baseFlat, err := s.flattenLocked(base)
	if err != nil {
		return nil, err
	}
	oursFlat, err := s.flattenLocked(ours)
	if err != nil {
		return nil, err
	}
	theirsFlat, err := s.flattenLocked(theirs)
	if err != nil {
		return nil, err
	}

	paths := make(map[string]bool)
	for p := range baseFlat {
		paths[p] = true
	}
	for p := range oursFlat {
		paths[p] = true
	}
	for p := range theirsFlat {
		paths[p] = true
	}

	merged := make(map[string]flatEntry)
	var conflicts []string
	for path := range paths {
		b, o, t := baseFlat[path], oursFlat[path], theirsFlat[path]
		switch {
		case o.equal(t):
			if o.present() {
				merged[path] = o
			}
		case b.equal(o):
			// Only theirs changed; a missing entry means theirs deleted it.
			if t.present() {
				merged[path] = t
			}
		case b.equal(t):
			if o.present() {
				merged[path] = o
			}
		default:
			conflicts = append(conflicts, path)
			if !opts.AllowConflicts {
				continue
			}
			entry, err := s.conflictEntryLocked(o, t, opts)
			if err != nil {
				return nil, fmt.Errorf("conflict markers for %s: %w", path, err)
			}
			merged[path] = entry
		}
	}
	sort.Strings(conflicts)

	if len(conflicts) > 0 && !opts.AllowConflicts {
		return nil, fmt.Errorf("%w: %s", ErrMergeConflict, strings.Join(conflicts, ", "))
	}

	tree, err := s.buildTreeLocked(merged)
	if err != nil {
		return nil, err
	}
	return &TreeMergeResult{Tree: tree.String(), Conflicts: conflicts}, nil
}

// flattenLocked maps every file path of a commit's tree to its mode and blob.
// An empty commit hash yields an empty map.
func (s *GitStore) flattenLocked(commitHash string) (map[string]flatEntry, error) {
	flat := make(map[string]flatEntry)
	if commitHash == "" {
		return flat, nil
	}
	tree, err := s.treeLocked(commitHash)
	if err != nil {
		return nil, err
	}
	err = tree.Files().ForEach(func(f *object.File) error {
		flat[f.Name] = flatEntry{mode: f.Mode, hash: f.Hash}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk tree of %s: %w", commitHash, err)
	}
	return flat, nil
}

// conflictEntryLocked writes a blob with whole-file conflict markers for a
// path both sides changed. A side that deleted the file contributes empty
// content.
func (s *GitStore) conflictEntryLocked(ours, theirs flatEntry, opts MergeOptions) (flatEntry, error) {
	oursLabel := opts.OursLabel
	if oursLabel == "" {
		oursLabel = "destination"
	}
	theirsLabel := opts.TheirsLabel
	if theirsLabel == "" {
		theirsLabel = "change"
	}

	oursContent, err := s.blobContentLocked(ours.hash)
	if err != nil {
		return flatEntry{}, err
	}
	theirsContent, err := s.blobContentLocked(theirs.hash)
	if err != nil {
		return flatEntry{}, err
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "<<<<<<< %s\n", oursLabel)
	writeSide(&buf, oursContent)
	buf.WriteString("=======\n")
	writeSide(&buf, theirsContent)
	fmt.Fprintf(&buf, ">>>>>>> %s\n", theirsLabel)

	blob, err := s.writeBlobLocked(buf.Bytes())
	if err != nil {
		return flatEntry{}, err
	}

	mode := ours.mode
	if !ours.present() {
		mode = theirs.mode
	}
	if mode == filemode.Empty {
		mode = filemode.Regular
	}
	return flatEntry{mode: mode, hash: blob}, nil
}

func writeSide(buf *bytes.Buffer, content []byte) {
	if len(content) == 0 {
		return
	}
	buf.Write(content)
	if content[len(content)-1] != '\n' {
		buf.WriteByte('\n')
	}
}

func (s *GitStore) blobContentLocked(hash plumbing.Hash) ([]byte, error) {
	if hash.IsZero() {
		return nil, nil
	}
	blob, err := object.GetBlob(s.repo.Storer, hash)
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: blob %s", ErrObjectNotFound, hash)
		}
		return nil, fmt.Errorf("read blob %s: %w", hash, err)
	}
	r, err := blob.Reader()
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", hash, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (s *GitStore) writeBlobLocked(content []byte) (plumbing.Hash, error) {
	obj := s.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("blob writer: %w", err)
	}
	if _, err := w.Write(content); err != nil {
		w.Close()
		return plumbing.ZeroHash, fmt.Errorf("write blob: %w", err)
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("close blob: %w", err)
	}
	return s.repo.Storer.SetEncodedObject(obj)
}

// dirNode is one directory level of a tree being built.
type dirNode struct {
	files map[string]flatEntry
	dirs  map[string]*dirNode
}

func newDirNode() *dirNode {
	return &dirNode{files: make(map[string]flatEntry), dirs: make(map[string]*dirNode)}
}

func (n *dirNode) insert(path string, entry flatEntry) {
	slash := strings.IndexByte(path, '/')
	if slash < 0 {
		n.files[path] = entry
		return
	}
	dir, rest := path[:slash], path[slash+1:]
	child, ok := n.dirs[dir]
	if !ok {
		child = newDirNode()
		n.dirs[dir] = child
	}
	child.insert(rest, entry)
}

// buildTreeLocked writes the (possibly nested) tree objects for the given
// path to entry mapping and returns the root tree hash.
func (s *GitStore) buildTreeLocked(flat map[string]flatEntry) (plumbing.Hash, error) {
	root := newDirNode()
	for path, entry := range flat {
		root.insert(path, entry)
	}
	return s.encodeDirLocked(root)
}

func (s *GitStore) encodeDirLocked(n *dirNode) (plumbing.Hash, error) {
	entries := make([]object.TreeEntry, 0, len(n.files)+len(n.dirs))
	for name, e := range n.files {
		entries = append(entries, object.TreeEntry{Name: name, Mode: e.mode, Hash: e.hash})
	}
	for name, child := range n.dirs {
		hash, err := s.encodeDirLocked(child)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		entries = append(entries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: hash})
	}

	// Git tree order: byte order with directory names compared as name+"/".
	sort.Slice(entries, func(i, j int) bool {
		return treeSortKey(entries[i]) < treeSortKey(entries[j])
	})

	tree := &object.Tree{Entries: entries}
	obj := s.repo.Storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("encode tree: %w", err)
	}
	hash, err := s.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write tree: %w", err)
	}
	return hash, nil
}

func treeSortKey(e object.TreeEntry) string {
	if e.Mode == filemode.Dir {
		return e.Name + "/"
	}
	return e.Name
}
