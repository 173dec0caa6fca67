// Package hook implements the transport-side hook boundary as pure
// decisions: commit-msg rewrites a candidate message, pre-receive
// classifies ref updates. The transport layer applies the effects.
package hook

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/castingclouds/gerrit-sub002/internal/changeid"
	"github.com/castingclouds/gerrit-sub002/internal/config/project"
	"github.com/castingclouds/gerrit-sub002/internal/gitstore"
	"github.com/castingclouds/gerrit-sub002/internal/refs"
)

// ErrRejected indicates a push that must be refused in its entirety.
var ErrRejected = errors.New("push rejected")

// ZeroHash is the all-zero object id git sends for ref creation/deletion.
const ZeroHash = "0000000000000000000000000000000000000000"

// CommitMsg returns the message with a Change-Id footer, deriving one from
// the seed when none is present. A message that already carries a valid
// footer is returned unchanged, so the transform is idempotent. More than
// one Change-Id line is an error the author has to resolve.
func CommitMsg(message string, seed changeid.Seed) (string, error) {
	_, err := changeid.FromMessage(message)
	switch {
	case err == nil:
		return message, nil
	case errors.Is(err, changeid.ErrMultiple), errors.Is(err, changeid.ErrInvalid):
		return "", err
	}
	return insertFooter(message, changeid.FooterKey+": "+changeid.Generate(seed)), nil
}

var footerLineRE = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9-]*: `)

// insertFooter places the footer as the last line of the trailing footer
// block, creating one when the message has none. Comment lines (leading #,
// as left by git in the message file) stay below the footer.
func insertFooter(message, footer string) string {
	lines := strings.Split(strings.TrimRight(message, "\n"), "\n")

	// Skip trailing comment lines so the footer lands above them.
	end := len(lines)
	for end > 0 && (strings.HasPrefix(lines[end-1], "#") || strings.TrimSpace(lines[end-1]) == "") {
		end--
	}
	if end == 0 {
		// Nothing but comments or whitespace; still stamp an id so
		// the resulting commit is trackable.
		return footer + "\n"
	}

	// Does the last paragraph look like a footer block? A subject-only
	// message has no footer paragraph, the subject is not one.
	start := end
	for start > 0 && strings.TrimSpace(lines[start-1]) != "" {
		start--
	}
	isFooterBlock := start > 0
	for i := start; i < end && isFooterBlock; i++ {
		if !footerLineRE.MatchString(lines[i]) {
			isFooterBlock = false
		}
	}

	var out []string
	out = append(out, lines[:end]...)
	if !isFooterBlock {
		out = append(out, "")
	}
	out = append(out, footer)
	out = append(out, lines[end:]...)
	return strings.Join(out, "\n") + "\n"
}

// RefUpdate is one (old, new, ref) triple of a push.
type RefUpdate struct {
	Old  string
	New  string
	Name string
}

// Action classifies what the transport should do with one ref update.
type Action int

const (
	// ActionAllow lets the update through untouched (tags, notes,
	// branch deletions, exempt direct pushes).
	ActionAllow Action = iota
	// ActionIntake hands the update to the change intake instead of
	// writing the ref; refs/for/* pushes never move a real ref.
	ActionIntake
)

// Decision is the outcome for one ref update of an accepted push.
type Decision struct {
	Update  RefUpdate
	Action  Action
	Branch  string           // intake destination, set for ActionIntake
	Options refs.PushOptions // parsed push options, set for ActionIntake
}

// CommitLister lists the commits a ref update introduces. *gitstore.GitStore
// satisfies it.
type CommitLister interface {
	NewCommits(ctx context.Context, oldHash, newHash string) ([]gitstore.Commit, error)
}

// PreReceive evaluates every ref update of a push against the project
// policy. It returns a decision per update, or an error wrapping
// ErrRejected on the first violation: one bad update rejects the push as a
// whole, no partial state is left behind.
func PreReceive(ctx context.Context, git CommitLister, policy project.Policy, updates []RefUpdate) ([]Decision, error) {
	decisions := make([]Decision, 0, len(updates))
	for _, u := range updates {
		d, err := evaluate(ctx, git, policy, u)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}
	return decisions, nil
}

func evaluate(ctx context.Context, git CommitLister, policy project.Policy, u RefUpdate) (Decision, error) {
	switch {
	case strings.HasPrefix(u.Name, refs.ForPrefix):
		if u.New == ZeroHash {
			return Decision{}, fmt.Errorf("%w: %s: cannot delete a review ref", ErrRejected, u.Name)
		}
		target, err := refs.ParseTarget(u.Name)
		if err != nil {
			return Decision{}, fmt.Errorf("%w: %s: %v", ErrRejected, u.Name, err)
		}
		return Decision{Update: u, Action: ActionIntake, Branch: target.Branch, Options: target.Options}, nil

	case strings.HasPrefix(u.Name, refs.ChangesPrefix):
		return Decision{}, fmt.Errorf("%w: %s: refs/changes is read-only, push to refs/for/<branch> instead", ErrRejected, u.Name)

	case refs.IsBranch(u.Name):
		if u.New == ZeroHash || !policy.RequireChangeID {
			return Decision{Update: u, Action: ActionAllow}, nil
		}
		old := u.Old
		if old == ZeroHash {
			old = ""
		}
		commits, err := git.NewCommits(ctx, old, u.New)
		if err != nil {
			return Decision{}, fmt.Errorf("%s: list new commits: %w", u.Name, err)
		}
		for _, commit := range commits {
			if len(commit.Parents) > 1 {
				continue
			}
			if changeid.ExemptSubject(commit.Subject(), policy.ExemptSubjectPrefixes) {
				continue
			}
			if _, err := changeid.FromMessage(commit.Message); err != nil {
				return Decision{}, fmt.Errorf("%w: %s: commit %s: %v", ErrRejected, u.Name, commit.Hash[:7], err)
			}
		}
		return Decision{Update: u, Action: ActionAllow}, nil

	default:
		return Decision{Update: u, Action: ActionAllow}, nil
	}
}
