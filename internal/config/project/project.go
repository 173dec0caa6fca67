// Package project provides per-project review policy loaded from a TOML file:
// label policies with copy rules, the submit strategy, Change-Id requirements
// and patch set limits.
package project

import (
	"fmt"
	"os"
	"sync"

	"github.com/BurntSushi/toml"
)

// Strategy selects how Submit moves the destination branch tip.
type Strategy string

// Submit strategies.
const (
	MergeIfNecessary  Strategy = "MERGE_IF_NECESSARY"
	FastForwardOnly   Strategy = "FAST_FORWARD_ONLY"
	RebaseIfNecessary Strategy = "REBASE_IF_NECESSARY"
	RebaseAlways      Strategy = "REBASE_ALWAYS"
	MergeAlways       Strategy = "MERGE_ALWAYS"
	CherryPick        Strategy = "CHERRY_PICK"
)

// Valid reports whether s names a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case MergeIfNecessary, FastForwardOnly, RebaseIfNecessary, RebaseAlways, MergeAlways, CherryPick:
		return true
	}
	return false
}

// CopyRule decides whether an effective vote is carried onto a new patch set.
type CopyRule string

// Approval copy rules.
const (
	// CopyNever drops the vote; it must be re-cast. The default.
	CopyNever CopyRule = "never"
	// CopyAlways carries the vote unconditionally.
	CopyAlways CopyRule = "always"
	// CopyNoCodeChange carries the vote when the inter-patch-set diff has no
	// file changes.
	CopyNoCodeChange CopyRule = "no-code-change"
	// CopyTrivialRebase carries the vote when the tree is unchanged, i.e. the
	// new patch set is a pure re-parenting.
	CopyTrivialRebase CopyRule = "trivial-rebase"
)

// Valid reports whether r names a known copy rule.
func (r CopyRule) Valid() bool {
	switch r {
	case CopyNever, CopyAlways, CopyNoCodeChange, CopyTrivialRebase:
		return true
	}
	return false
}

// LabelPolicy is the readiness rule for one label.
type LabelPolicy struct {
	// Min is the vote value at least one effective vote must reach.
	Min int `toml:"min"`
	// Block vetoes readiness when any effective vote is at or below it.
	Block int `toml:"block"`
	// Copy is the rule for carrying votes onto new patch sets.
	Copy CopyRule `toml:"copy"`
}

// Policy is the full review policy of one project.
type Policy struct {
	Labels                  map[string]LabelPolicy `toml:"labels"`
	SubmitStrategy          Strategy               `toml:"submit-strategy"`
	RequireChangeID         bool                   `toml:"require-change-id"`
	ExemptSubjectPrefixes   []string               `toml:"exempt-subject-prefixes"`
	MaxPatchSets            int                    `toml:"max-patch-sets"`
	RequireResolvedComments bool                   `toml:"require-resolved-comments"`
	DefaultBranch           string                 `toml:"default-branch"`
}

// file is the on-disk shape of the policy file.
type file struct {
	Projects map[string]Policy `toml:"projects"`
}

// DefaultPolicy returns the policy applied to projects absent from the file.
func DefaultPolicy() Policy {
	return Policy{
		Labels: map[string]LabelPolicy{
			"Code-Review": {Min: 2, Block: -2, Copy: CopyNever},
			"Verified":    {Min: 1, Block: -1, Copy: CopyNoCodeChange},
		},
		SubmitStrategy:        MergeIfNecessary,
		RequireChangeID:       true,
		ExemptSubjectPrefixes: []string{"Revert", "Automated:", "CI:"},
		MaxPatchSets:          1500,
		DefaultBranch:         "main",
	}
}

// normalize fills zero fields of a parsed policy from the defaults and
// validates the rest.
func normalize(name string, p Policy) (Policy, error) {
	def := DefaultPolicy()
	if p.Labels == nil {
		p.Labels = def.Labels
	}
	if p.SubmitStrategy == "" {
		p.SubmitStrategy = def.SubmitStrategy
	}
	if !p.SubmitStrategy.Valid() {
		return p, fmt.Errorf("project %s: unknown submit-strategy %q", name, p.SubmitStrategy)
	}
	if p.ExemptSubjectPrefixes == nil {
		p.ExemptSubjectPrefixes = def.ExemptSubjectPrefixes
	}
	if p.MaxPatchSets <= 0 {
		p.MaxPatchSets = def.MaxPatchSets
	}
	if p.DefaultBranch == "" {
		p.DefaultBranch = def.DefaultBranch
	}
	for label, lp := range p.Labels {
		if lp.Copy == "" {
			lp.Copy = CopyNever
			p.Labels[label] = lp
		}
		if !lp.Copy.Valid() {
			return p, fmt.Errorf("project %s: label %s: unknown copy rule %q", name, label, lp.Copy)
		}
	}
	return p, nil
}

// Registry answers policy lookups and can hot-reload the backing file.
type Registry struct {
	mu       sync.RWMutex
	path     string
	policies map[string]Policy
	fallback Policy
}

// NewRegistry returns a registry serving only the default policy.
func NewRegistry() *Registry {
	return &Registry{policies: map[string]Policy{}, fallback: DefaultPolicy()}
}

// Load reads the policy file at path.
func Load(path string) (*Registry, error) {
	r := NewRegistry()
	r.path = path
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read policy file %s: %w", r.path, err)
	}

	var f file
	if err := toml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse policy file %s: %w", r.path, err)
	}

	policies := make(map[string]Policy, len(f.Projects))
	for name, p := range f.Projects {
		normalized, err := normalize(name, p)
		if err != nil {
			return err
		}
		policies[name] = normalized
	}

	r.mu.Lock()
	r.policies = policies
	r.mu.Unlock()
	return nil
}

// Set installs or replaces the policy of one project. Unset fields fall back
// to the defaults, as if the policy came from the backing file.
func (r *Registry) Set(name string, p Policy) error {
	normalized, err := normalize(name, p)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.policies[name] = normalized
	r.mu.Unlock()
	return nil
}

// SetFallbackMaxPatchSets overrides the patch set cap of the fallback policy,
// used to apply the engine-level tuning knob to projects absent from the file.
func (r *Registry) SetFallbackMaxPatchSets(n int) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	r.fallback.MaxPatchSets = n
	r.mu.Unlock()
}

// PolicyFor returns the policy of a project, falling back to the default.
func (r *Registry) PolicyFor(projectName string) Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.policies[projectName]; ok {
		return p
	}
	return r.fallback
}

// Projects lists the explicitly configured project names.
func (r *Registry) Projects() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.policies))
	for name := range r.policies {
		names = append(names, name)
	}
	return names
}
