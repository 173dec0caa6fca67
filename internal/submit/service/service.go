// Package service implements the submit engine: destination branch advancement
// under the configured strategy, batch submission by topic, and the derived
// operations rebase, cherry-pick, revert and move.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/castingclouds/gerrit-sub002/internal/cache"
	changeModel "github.com/castingclouds/gerrit-sub002/internal/change/model"
	"github.com/castingclouds/gerrit-sub002/internal/change/repository"
	changeService "github.com/castingclouds/gerrit-sub002/internal/change/service"
	"github.com/castingclouds/gerrit-sub002/internal/config/project"
	"github.com/castingclouds/gerrit-sub002/internal/gitstore"
	"github.com/castingclouds/gerrit-sub002/internal/refs"
	submitModel "github.com/castingclouds/gerrit-sub002/internal/submit/model"
	"github.com/castingclouds/gerrit-sub002/pkg/keylock"
)

// Changes is the slice of the change module the engine drives: readiness
// evaluation, recording engine-minted commits and the merge transition.
type Changes interface {
	SubmitRecordFor(ctx context.Context, change *changeModel.Change) (*changeModel.SubmitRecord, error)
	AppendEnginePatchSet(ctx context.Context, change *changeModel.Change, in changeService.EngineCommitInput) (*changeModel.PatchSet, error)
	CreateEngineChange(ctx context.Context, in changeService.NewChangeInput) (*changeModel.Change, error)
	MarkMerged(ctx context.Context, change *changeModel.Change, submissionID string) error
}

// Service defines the submit engine operations.
type Service interface {
	// Rebase rewrites the current patch set onto a new base and records the
	// result as the next patch set. Returns ErrAlreadyUpToDate when the patch
	// set already sits on the requested base.
	Rebase(ctx context.Context, number int64, req *submitModel.RebaseRequest) (*changeModel.PushResponse, error)

	// Submit merges a ready change into its destination branch using the
	// project's submit strategy.
	Submit(ctx context.Context, number int64, req *submitModel.SubmitRequest) (*submitModel.SubmitResponse, error)

	// SubmitTopic submits every open change carrying the topic. Readiness is
	// checked for the whole batch before any branch moves.
	SubmitTopic(ctx context.Context, topic string, req *submitModel.SubmitRequest) (*submitModel.TopicSubmitResponse, error)

	// CherryPick applies a patch set onto another branch as a new change.
	CherryPick(ctx context.Context, number int64, req *submitModel.CherryPickRequest) (*changeModel.ChangeResponse, error)

	// Revert creates a new change that undoes a merged change.
	Revert(ctx context.Context, number int64, req *submitModel.RevertRequest) (*changeModel.ChangeResponse, error)

	// Move retargets an open change to another destination branch.
	Move(ctx context.Context, number int64, req *submitModel.MoveRequest) (*changeModel.ChangeResponse, error)
}

type engine struct {
	repo     repository.Repository
	changes  Changes
	git      gitstore.Store
	projects *project.Registry
	locks    *keylock.KeyedMutex
	cache    *cache.Client
	logger   *zap.SugaredLogger
	retries  int
}

// New creates a new submit engine. locks must be the same instance the change
// service uses so change locks are shared across both modules. cache may be
// nil; retries bounds the compare-and-swap attempts per submission.
func New(
	repo repository.Repository,
	changes Changes,
	git gitstore.Store,
	projects *project.Registry,
	locks *keylock.KeyedMutex,
	snapshots *cache.Client,
	logger *zap.SugaredLogger,
	retries int,
) Service {
	if retries < 1 {
		retries = 1
	}
	return &engine{
		repo:     repo,
		changes:  changes,
		git:      git,
		projects: projects,
		locks:    locks,
		cache:    snapshots,
		logger:   logger,
		retries:  retries,
	}
}

// branchLockKey serializes submissions per destination branch.
func branchLockKey(projectName, branch string) string {
	return fmt.Sprintf("branch/%s/%s", projectName, branch)
}

// ident is the committer identity on engine-minted commits. Authorship of the
// original commit is always preserved.
func (e *engine) ident() gitstore.Ident {
	return gitstore.Ident{
		Name:  "Code Review",
		Email: "code-review@localhost",
		When:  time.Now().UTC(),
	}
}

func abbrev(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}

// currentCommit loads the current patch set of a change and its commit.
func (e *engine) currentCommit(ctx context.Context, change *changeModel.Change) (*changeModel.PatchSet, *gitstore.Commit, error) {
	ps, err := e.repo.GetPatchSet(ctx, change.Number, change.CurrentPatchSet)
	if err != nil {
		return nil, nil, err
	}
	commit, err := e.git.Commit(ctx, ps.CommitID)
	if err != nil {
		return nil, nil, err
	}
	return ps, commit, nil
}

// rebaseOnto replays a commit's tree changes onto a new parent and mints the
// resulting commit. The message is carried over verbatim, so the Change-Id
// footer (and thus the change key) survives the rewrite.
func (e *engine) rebaseOnto(
	ctx context.Context,
	commit *gitstore.Commit,
	onto string,
	opts gitstore.MergeOptions,
) (string, *gitstore.TreeMergeResult, error) {
	base := ""
	if len(commit.Parents) > 0 {
		base = commit.Parents[0]
	}
	res, err := e.git.MergeTrees(ctx, base, onto, commit.Hash, opts)
	if err != nil {
		return "", nil, err
	}
	hash, err := e.git.CreateCommit(ctx, gitstore.CommitData{
		Tree:      res.Tree,
		Parents:   []string{onto},
		Author:    commit.Author,
		Committer: e.ident(),
		Message:   commit.Message,
	})
	if err != nil {
		return "", nil, err
	}
	return hash, res, nil
}

// Rebase rewrites the current patch set onto a new base and appends the result
// as the next patch set.
func (e *engine) Rebase(ctx context.Context, number int64, req *submitModel.RebaseRequest) (*changeModel.PushResponse, error) {
	unlock := e.locks.Lock(changeService.ChangeLockKey(number))
	defer unlock()

	change, err := e.repo.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if !change.IsOpen() {
		return nil, fmt.Errorf("%w: change %d is %s", changeModel.ErrChangeClosed, number, change.Status)
	}

	ps, commit, err := e.currentCommit(ctx, change)
	if err != nil {
		return nil, err
	}

	newBase := req.Base
	if newBase == "" {
		newBase, err = e.git.Ref(ctx, refs.BranchRef(change.DestBranch))
		if err != nil {
			return nil, err
		}
	}
	if _, err := e.git.Commit(ctx, newBase); err != nil {
		return nil, err
	}
	if newBase == commit.Hash {
		return nil, fmt.Errorf("%w: cannot rebase change %d onto its own patch set",
			changeModel.ErrInvalidInput, number)
	}
	if len(commit.Parents) > 0 && commit.Parents[0] == newBase {
		return nil, fmt.Errorf("%w: patch set %d of change %d is already based on %s",
			changeModel.ErrAlreadyUpToDate, ps.Number, number, abbrev(newBase))
	}

	hash, res, err := e.rebaseOnto(ctx, commit, newBase, gitstore.MergeOptions{
		AllowConflicts: req.AllowConflicts,
		OursLabel:      abbrev(newBase),
		TheirsLabel:    fmt.Sprintf("patch set %d", ps.Number),
	})
	if err != nil {
		return nil, err
	}

	next, err := e.changes.AppendEnginePatchSet(ctx, change, changeService.EngineCommitInput{
		CommitHash:           hash,
		UploaderID:           req.UserID,
		ContainsGitConflicts: len(res.Conflicts) > 0,
		Message: fmt.Sprintf("Patch Set %d: Patch Set %d was rebased onto %s",
			ps.Number+1, ps.Number, abbrev(newBase)),
		Tag: "rebase",
	})
	if err != nil {
		return nil, err
	}

	e.logger.Infow("change rebased",
		"change", number, "patch_set", next.Number,
		"base", abbrev(newBase), "conflicts", len(res.Conflicts))
	return &changeModel.PushResponse{Change: change.Response(), PatchSet: *next}, nil
}

// Move retargets an open change to another destination branch. Votes and
// patch sets are kept; readiness is re-evaluated against the new branch on
// the next submit.
func (e *engine) Move(ctx context.Context, number int64, req *submitModel.MoveRequest) (*changeModel.ChangeResponse, error) {
	unlock := e.locks.Lock(changeService.ChangeLockKey(number))
	defer unlock()

	change, err := e.repo.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if !change.IsOpen() {
		return nil, fmt.Errorf("%w: change %d is %s", changeModel.ErrChangeClosed, number, change.Status)
	}

	branch := refs.ShortBranch(req.DestinationBranch)
	if branch == change.DestBranch {
		return nil, fmt.Errorf("%w: change %d already targets %s",
			changeModel.ErrInvalidInput, number, branch)
	}
	if _, err := e.git.Ref(ctx, refs.BranchRef(branch)); err != nil {
		return nil, err
	}

	// The (project, branch, key) triple stays unique across the move.
	if _, err := e.repo.GetByKey(ctx, change.Project, branch, change.Key); err == nil {
		return nil, fmt.Errorf("%w: a change with key %s already targets %s",
			changeModel.ErrChangeExists, change.Key, branch)
	} else if !errors.Is(err, changeModel.ErrChangeNotFound) {
		return nil, err
	}

	from := change.DestBranch
	change.DestBranch = branch
	change.LastUpdatedOn = repository.Stamp()
	if err := e.repo.Save(ctx, change); err != nil {
		return nil, err
	}

	e.addMessage(ctx, change, req.UserID,
		fmt.Sprintf("Change destination moved from %s to %s", from, branch), "move")
	e.invalidate(ctx, number)

	e.logger.Infow("change moved", "change", number, "from", from, "to", branch)
	return change.Response(), nil
}

// addMessage records an audit trail entry. Failures are logged, never fatal.
func (e *engine) addMessage(ctx context.Context, change *changeModel.Change, authorID, text, tag string) {
	msg := &changeModel.ChangeMessage{
		ChangeNumber:   change.Number,
		PatchSetNumber: change.CurrentPatchSet,
		AuthorID:       authorID,
		Message:        text,
		Tag:            tag,
		WrittenOn:      repository.Stamp(),
	}
	if err := e.repo.AddMessage(ctx, msg); err != nil {
		e.logger.Warnw("failed to record change message", "change", change.Number, "error", err)
	}
}

func (e *engine) invalidate(ctx context.Context, number int64) {
	if e.cache != nil {
		e.cache.Invalidate(ctx, number)
	}
}
