// Package changeid derives and validates the Change-Id footers that give a
// change its stable identity across amends, rebases and cherry-picks.
package changeid

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// FooterKey is the commit message footer carrying the change key.
const FooterKey = "Change-Id"

var (
	// ErrInvalid indicates a string that is not I followed by 40 lowercase hex digits.
	ErrInvalid = errors.New("invalid Change-Id")
	// ErrMissing indicates a commit message without a Change-Id footer.
	ErrMissing = errors.New("missing Change-Id")
	// ErrMultiple indicates a commit message with more than one Change-Id line,
	// which usually means a forgotten cleanup during an interactive rebase.
	ErrMultiple = errors.New("multiple Change-Id lines")
)

var idRE = regexp.MustCompile(`^I[0-9a-f]{40}$`)

// Validate checks the I<40 hex> shape.
func Validate(id string) error {
	if !idRE.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalid, id)
	}
	return nil
}

// Seed is the material a Change-Id is derived from. Zero fields are simply
// left out of the derivation, so partial seeds still hash deterministically.
type Seed struct {
	Tree      string
	Parents   []string
	Author    string
	Committer string
	Message   string
}

// Generate derives a Change-Id from the seed the same way the original
// commit-msg hook did: the seed is laid out like a commit object and hashed
// with git's object hashing ("commit <len>\0<body>"), so an unchanged commit
// always yields the same id.
func Generate(seed Seed) string {
	var b strings.Builder
	if seed.Tree != "" {
		fmt.Fprintf(&b, "tree %s\n", seed.Tree)
	}
	for _, p := range seed.Parents {
		if p != "" {
			fmt.Fprintf(&b, "parent %s\n", p)
		}
	}
	if seed.Author != "" {
		fmt.Fprintf(&b, "author %s\n", seed.Author)
	}
	if seed.Committer != "" {
		fmt.Fprintf(&b, "committer %s\n", seed.Committer)
	}
	b.WriteString("\n")
	b.WriteString(seed.Message)

	body := b.String()
	h := sha1.New()
	fmt.Fprintf(h, "commit %d\x00", len(body))
	h.Write([]byte(body))
	return fmt.Sprintf("I%x", h.Sum(nil))
}

// FromMessage extracts the Change-Id footer from a commit message. It
// returns ErrMissing when no footer is present and ErrMultiple when more
// than one is, which usually means a forgotten cleanup during an interactive
// rebase. The returned id is validated.
func FromMessage(message string) (string, error) {
	var (
		id    string
		count int
	)
	for _, line := range strings.Split(message, "\n") {
		rest, found := strings.CutPrefix(line, FooterKey+":")
		if !found {
			continue
		}
		count++
		id = strings.TrimSpace(rest)
	}
	switch {
	case count == 0:
		return "", ErrMissing
	case count > 1:
		return "", ErrMultiple
	}
	if err := Validate(id); err != nil {
		return "", err
	}
	return id, nil
}

// ReplaceInMessage swaps the Change-Id footer of a message for newID,
// appending one if the message has none. Used when an engine operation
// (cherry-pick, revert) mints a commit that must carry a fresh identity.
func ReplaceInMessage(message, newID string) string {
	lines := strings.Split(strings.TrimRight(message, "\n"), "\n")
	replaced := false
	for i, line := range lines {
		if strings.HasPrefix(line, FooterKey+":") {
			lines[i] = FooterKey + ": " + newID
			replaced = true
		}
	}
	if !replaced {
		lines = append(lines, "", FooterKey+": "+newID)
	}
	return strings.Join(lines, "\n") + "\n"
}

// FormatIdent renders an author/committer identity the way git does, which
// keeps Generate stable across processes looking at the same commit.
func FormatIdent(name, email string, when time.Time) string {
	return fmt.Sprintf("%s <%s> %d %s", name, email, when.Unix(), when.Format("-0700"))
}

// ExemptSubject reports whether a subject line is exempt from the Change-Id
// requirement on direct branch pushes. The prefix set is policy supplied;
// merge commits are exempted by the caller, which knows the parent count.
func ExemptSubject(subject string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(subject, p) {
			return true
		}
	}
	return false
}
