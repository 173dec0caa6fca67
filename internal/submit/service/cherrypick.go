package service

import (
	"context"
	"fmt"

	changeModel "github.com/castingclouds/gerrit-sub002/internal/change/model"
	changeService "github.com/castingclouds/gerrit-sub002/internal/change/service"
	"github.com/castingclouds/gerrit-sub002/internal/changeid"
	"github.com/castingclouds/gerrit-sub002/internal/gitstore"
	"github.com/castingclouds/gerrit-sub002/internal/refs"
	submitModel "github.com/castingclouds/gerrit-sub002/internal/submit/model"
)

// CherryPick applies a patch set onto another branch as a brand-new change.
// The minted commit gets a fresh Change-Id, so the new change tracks its own
// review on the target branch; the lineage is kept on the change record.
func (e *engine) CherryPick(ctx context.Context, number int64, req *submitModel.CherryPickRequest) (*changeModel.ChangeResponse, error) {
	unlock := e.locks.Lock(changeService.ChangeLockKey(number))
	defer unlock()

	change, err := e.repo.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}

	psNumber := req.PatchSet
	if psNumber == 0 {
		psNumber = change.CurrentPatchSet
	}
	ps, err := e.repo.GetPatchSet(ctx, number, psNumber)
	if err != nil {
		return nil, err
	}
	commit, err := e.git.Commit(ctx, ps.CommitID)
	if err != nil {
		return nil, err
	}

	branch := refs.ShortBranch(req.DestinationBranch)
	tip, err := e.git.Ref(ctx, refs.BranchRef(branch))
	if err != nil {
		return nil, err
	}
	if tip == commit.Hash {
		return nil, fmt.Errorf("%w: %s already is the tip of %s",
			changeModel.ErrAlreadyUpToDate, abbrev(commit.Hash), branch)
	}

	base := ""
	if len(commit.Parents) > 0 {
		base = commit.Parents[0]
	}
	res, err := e.git.MergeTrees(ctx, base, tip, commit.Hash, gitstore.MergeOptions{
		AllowConflicts: req.AllowConflicts,
		OursLabel:      branch,
		TheirsLabel:    fmt.Sprintf("change %d patch set %d", number, psNumber),
	})
	if err != nil {
		return nil, err
	}

	committer := e.ident()
	newID := changeid.Generate(changeid.Seed{
		Tree:      res.Tree,
		Parents:   []string{tip},
		Author:    changeid.FormatIdent(commit.Author.Name, commit.Author.Email, commit.Author.When),
		Committer: changeid.FormatIdent(committer.Name, committer.Email, committer.When),
		Message:   commit.Message,
	})
	hash, err := e.git.CreateCommit(ctx, gitstore.CommitData{
		Tree:      res.Tree,
		Parents:   []string{tip},
		Author:    commit.Author,
		Committer: committer,
		Message:   changeid.ReplaceInMessage(commit.Message, newID),
	})
	if err != nil {
		return nil, err
	}

	created, err := e.changes.CreateEngineChange(ctx, changeService.NewChangeInput{
		Project:              change.Project,
		DestBranch:           branch,
		CommitHash:           hash,
		UploaderID:           req.UserID,
		CherryPickOfChange:   &number,
		CherryPickOfPatchSet: &psNumber,
		ContainsGitConflicts: len(res.Conflicts) > 0,
		Message: fmt.Sprintf("Patch Set 1: Cherry Picked from change %d patch set %d",
			number, psNumber),
		Tag: "cherry-pick",
	})
	if err != nil {
		return nil, err
	}

	e.addMessage(ctx, change, req.UserID,
		fmt.Sprintf("Cherry-picked to branch %s as change %d", branch, created.Number), "cherry-pick")
	e.invalidate(ctx, number)

	e.logger.Infow("change cherry-picked",
		"change", number, "patch_set", psNumber,
		"branch", branch, "new_change", created.Number, "conflicts", len(res.Conflicts))
	return created.Response(), nil
}

// Revert creates a new open change on the same branch that undoes a merged
// change: the inverse diff of the merged patch set applied onto the current
// branch tip.
func (e *engine) Revert(ctx context.Context, number int64, req *submitModel.RevertRequest) (*changeModel.ChangeResponse, error) {
	unlock := e.locks.Lock(changeService.ChangeLockKey(number))
	defer unlock()

	change, err := e.repo.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if change.Status != changeModel.StatusMerged {
		return nil, fmt.Errorf("%w: change %d is %s, only merged changes can be reverted",
			changeModel.ErrIllegalTransition, number, change.Status)
	}

	_, commit, err := e.currentCommit(ctx, change)
	if err != nil {
		return nil, err
	}
	if len(commit.Parents) == 0 {
		return nil, fmt.Errorf("%w: change %d merged a root commit, nothing to revert to",
			changeModel.ErrInvalidInput, number)
	}

	tip, err := e.git.Ref(ctx, refs.BranchRef(change.DestBranch))
	if err != nil {
		return nil, err
	}

	// Reverting is the mirror image of a rebase: the merged commit plays the
	// base, its parent plays the side being applied.
	res, err := e.git.MergeTrees(ctx, commit.Hash, tip, commit.Parents[0], gitstore.MergeOptions{
		OursLabel:   change.DestBranch,
		TheirsLabel: fmt.Sprintf("revert of change %d", number),
	})
	if err != nil {
		return nil, err
	}

	ident := e.ident()
	message := fmt.Sprintf("Revert %q\n\nThis reverts commit %s.\n", change.Subject, commit.Hash)
	newID := changeid.Generate(changeid.Seed{
		Tree:      res.Tree,
		Parents:   []string{tip},
		Author:    changeid.FormatIdent(ident.Name, ident.Email, ident.When),
		Committer: changeid.FormatIdent(ident.Name, ident.Email, ident.When),
		Message:   message,
	})
	hash, err := e.git.CreateCommit(ctx, gitstore.CommitData{
		Tree:      res.Tree,
		Parents:   []string{tip},
		Author:    ident,
		Committer: ident,
		Message:   changeid.ReplaceInMessage(message, newID),
	})
	if err != nil {
		return nil, err
	}

	created, err := e.changes.CreateEngineChange(ctx, changeService.NewChangeInput{
		Project:    change.Project,
		DestBranch: change.DestBranch,
		CommitHash: hash,
		UploaderID: req.UserID,
		Topic:      req.Topic,
		RevertOf:   &number,
		Message:    fmt.Sprintf("Patch Set 1: Revert of change %d", number),
		Tag:        "revert",
	})
	if err != nil {
		return nil, err
	}

	e.addMessage(ctx, change, req.UserID,
		fmt.Sprintf("Created a revert of this change as change %d", created.Number), "revert")
	e.invalidate(ctx, number)

	e.logger.Infow("change reverted",
		"change", number, "new_change", created.Number, "branch", change.DestBranch)
	return created.Response(), nil
}
