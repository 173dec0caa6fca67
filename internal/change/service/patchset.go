package service

import (
	"context"
	"errors"
	"fmt"

	changeModel "github.com/castingclouds/gerrit-sub002/internal/change/model"
	"github.com/castingclouds/gerrit-sub002/internal/change/repository"
	"github.com/castingclouds/gerrit-sub002/internal/changeid"
	"github.com/castingclouds/gerrit-sub002/internal/gitstore"
	"github.com/castingclouds/gerrit-sub002/internal/refs"
)

// HandlePush turns a commit pushed to a refs/for target into a new or
// incremented patch set. All validation happens before any ref or row is
// written; the virtual ref write is the single git side effect per call.
func (s *service) HandlePush(ctx context.Context, req *changeModel.PushRequest) (*changeModel.PushResponse, error) {
	target, err := refs.ParseTarget(req.TargetRef)
	if err != nil {
		return nil, err
	}

	commit, err := s.git.Commit(ctx, req.CommitID)
	if err != nil {
		return nil, err
	}

	key, err := changeid.FromMessage(commit.Message)
	if err != nil {
		return nil, err
	}

	uploader := req.UploaderID
	realUploader := req.RealUploaderID
	if realUploader == "" {
		realUploader = uploader
	}

	existing, err := s.repo.GetByKey(ctx, req.Project, target.Branch, key)
	switch {
	case err == nil:
		return s.addPatchSet(ctx, existing.Number, commit, target.Options, uploader, realUploader)
	case errors.Is(err, changeModel.ErrChangeNotFound):
		return s.createChange(ctx, req.Project, target, commit, key, uploader, realUploader)
	default:
		return nil, err
	}
}

// addPatchSet appends the next patch set to an existing change.
func (s *service) addPatchSet(
	ctx context.Context,
	number int64,
	commit *gitstore.Commit,
	opts refs.PushOptions,
	uploader, realUploader string,
) (*changeModel.PushResponse, error) {
	unlock := s.locks.Lock(ChangeLockKey(number))
	defer unlock()

	change, err := s.repo.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if !change.IsOpen() {
		return nil, fmt.Errorf("%w: cannot add patch set to change %d in status %s",
			changeModel.ErrChangeClosed, change.Number, change.Status)
	}

	policy := s.projects.PolicyFor(change.Project)
	if change.CurrentPatchSet+1 > policy.MaxPatchSets {
		return nil, fmt.Errorf("%w: change %d is capped at %d patch sets",
			changeModel.ErrPatchSetLimit, change.Number, policy.MaxPatchSets)
	}

	prev, err := s.repo.GetPatchSet(ctx, change.Number, change.CurrentPatchSet)
	if err != nil {
		return nil, err
	}
	prevCommit, err := s.git.Commit(ctx, prev.CommitID)
	if err != nil {
		return nil, err
	}

	fileDiffs, err := s.diffAgainst(ctx, prev.CommitID, commit)
	if err != nil {
		return nil, err
	}

	groups := prev.Groups
	if opts.NewGroup {
		groups = ""
	}

	ps := &changeModel.PatchSet{
		ChangeNumber:   change.Number,
		Number:         change.CurrentPatchSet + 1,
		CommitID:       commit.Hash,
		UploaderID:     uploader,
		RealUploaderID: realUploader,
		Groups:         groups,
		CreatedOn:      repository.Stamp(),
	}
	s.applyPushOptions(change, opts)
	change.Subject = commit.Subject()
	change.CurrentPatchSet = ps.Number
	change.LastUpdatedOn = repository.Stamp()
	if err := s.repo.AddPatchSet(ctx, change, ps, fileDiffs); err != nil {
		return nil, err
	}

	s.copyApprovals(ctx, change, prev, ps, copyContext{
		noCodeChange:  len(fileDiffs) == 0,
		trivialRebase: prevCommit.Tree == commit.Tree,
	})

	if err := s.writePatchSetRef(ctx, change.Number, ps); err != nil {
		return nil, err
	}

	s.recordPushVotes(ctx, change, ps, opts, uploader, realUploader)
	s.addMessage(ctx, change.Number, ps.Number, uploader,
		fmt.Sprintf("Uploaded patch set %d.", ps.Number), "upload")
	s.invalidate(ctx, change.Number)

	s.logger.Infow("patch set added",
		"change", change.Number, "patchset", ps.Number, "commit", commit.Hash)

	return &changeModel.PushResponse{Change: change.Response(), PatchSet: *ps}, nil
}

// createChange creates a new change with patch set 1 for an unseen Change-Id.
func (s *service) createChange(
	ctx context.Context,
	projectName string,
	target refs.Target,
	commit *gitstore.Commit,
	key string,
	uploader, realUploader string,
) (*changeModel.PushResponse, error) {
	base, err := s.mergeBaseWithBranch(ctx, target.Branch, commit)
	if err != nil {
		return nil, err
	}
	fileDiffs, err := s.diffAgainst(ctx, base, commit)
	if err != nil {
		return nil, err
	}

	now := repository.Stamp()
	change := &changeModel.Change{
		Key:             key,
		Project:         projectName,
		DestBranch:      target.Branch,
		Subject:         commit.Subject(),
		Status:          changeModel.StatusNew,
		CurrentPatchSet: 1,
		CreatedOn:       now,
		LastUpdatedOn:   now,
	}
	s.applyPushOptions(change, target.Options)

	ps := &changeModel.PatchSet{
		Number:         1,
		CommitID:       commit.Hash,
		UploaderID:     uploader,
		RealUploaderID: realUploader,
		CreatedOn:      now,
	}
	if err := s.repo.Create(ctx, change, ps, fileDiffs); err != nil {
		return nil, err
	}

	if err := s.writePatchSetRef(ctx, change.Number, ps); err != nil {
		return nil, err
	}

	s.recordPushVotes(ctx, change, ps, target.Options, uploader, realUploader)
	s.addMessage(ctx, change.Number, 1, uploader, "Uploaded patch set 1.", "upload")

	s.logger.Infow("change created",
		"change", change.Number, "key", key,
		"project", projectName, "branch", target.Branch, "commit", commit.Hash)

	return &changeModel.PushResponse{Change: change.Response(), PatchSet: *ps, Created: true}, nil
}

// AppendEnginePatchSet records an engine-minted commit (rebase, cherry-pick
// at submit) as the next patch set. The caller holds the change lock.
func (s *service) AppendEnginePatchSet(
	ctx context.Context,
	change *changeModel.Change,
	in EngineCommitInput,
) (*changeModel.PatchSet, error) {
	policy := s.projects.PolicyFor(change.Project)
	if change.CurrentPatchSet+1 > policy.MaxPatchSets {
		return nil, fmt.Errorf("%w: change %d is capped at %d patch sets",
			changeModel.ErrPatchSetLimit, change.Number, policy.MaxPatchSets)
	}

	commit, err := s.git.Commit(ctx, in.CommitHash)
	if err != nil {
		return nil, err
	}
	prev, err := s.repo.GetPatchSet(ctx, change.Number, change.CurrentPatchSet)
	if err != nil {
		return nil, err
	}
	prevCommit, err := s.git.Commit(ctx, prev.CommitID)
	if err != nil {
		return nil, err
	}
	fileDiffs, err := s.diffAgainst(ctx, prev.CommitID, commit)
	if err != nil {
		return nil, err
	}

	realUploader := in.RealUploaderID
	if realUploader == "" {
		realUploader = in.UploaderID
	}
	ps := &changeModel.PatchSet{
		ChangeNumber:         change.Number,
		Number:               change.CurrentPatchSet + 1,
		CommitID:             commit.Hash,
		UploaderID:           in.UploaderID,
		RealUploaderID:       realUploader,
		Groups:               prev.Groups,
		ContainsGitConflicts: in.ContainsGitConflicts,
		CreatedOn:            repository.Stamp(),
	}
	change.CurrentPatchSet = ps.Number
	change.LastUpdatedOn = repository.Stamp()
	if err := s.repo.AddPatchSet(ctx, change, ps, fileDiffs); err != nil {
		return nil, err
	}

	s.copyApprovals(ctx, change, prev, ps, copyContext{
		noCodeChange:  len(fileDiffs) == 0,
		trivialRebase: prevCommit.Tree == commit.Tree,
	})

	if err := s.writePatchSetRef(ctx, change.Number, ps); err != nil {
		return nil, err
	}

	if in.Message != "" {
		s.addMessage(ctx, change.Number, ps.Number, in.UploaderID, in.Message, in.Tag)
	}
	s.invalidate(ctx, change.Number)
	return ps, nil
}

// CreateEngineChange creates a brand-new change around an engine-minted
// commit (cherry-pick, revert).
func (s *service) CreateEngineChange(ctx context.Context, in NewChangeInput) (*changeModel.Change, error) {
	commit, err := s.git.Commit(ctx, in.CommitHash)
	if err != nil {
		return nil, err
	}
	key, err := changeid.FromMessage(commit.Message)
	if err != nil {
		return nil, err
	}

	base, err := s.mergeBaseWithBranch(ctx, in.DestBranch, commit)
	if err != nil {
		return nil, err
	}
	fileDiffs, err := s.diffAgainst(ctx, base, commit)
	if err != nil {
		return nil, err
	}

	now := repository.Stamp()
	change := &changeModel.Change{
		Key:                  key,
		Project:              in.Project,
		DestBranch:           in.DestBranch,
		Subject:              commit.Subject(),
		Topic:                in.Topic,
		Status:               changeModel.StatusNew,
		CurrentPatchSet:      1,
		RevertOf:             in.RevertOf,
		CherryPickOfChange:   in.CherryPickOfChange,
		CherryPickOfPatchSet: in.CherryPickOfPatchSet,
		CreatedOn:            now,
		LastUpdatedOn:        now,
	}
	ps := &changeModel.PatchSet{
		Number:               1,
		CommitID:             commit.Hash,
		UploaderID:           in.UploaderID,
		RealUploaderID:       in.UploaderID,
		ContainsGitConflicts: in.ContainsGitConflicts,
		CreatedOn:            now,
	}
	if err := s.repo.Create(ctx, change, ps, fileDiffs); err != nil {
		return nil, err
	}
	if err := s.writePatchSetRef(ctx, change.Number, ps); err != nil {
		return nil, err
	}
	if in.Message != "" {
		s.addMessage(ctx, change.Number, 1, in.UploaderID, in.Message, in.Tag)
	}
	return change, nil
}

// diffAgainst computes the file records between a base commit (may be empty)
// and the new commit.
func (s *service) diffAgainst(ctx context.Context, base string, commit *gitstore.Commit) ([]changeModel.FileDiff, error) {
	diffs, err := s.git.TreeDiff(ctx, base, commit.Hash)
	if err != nil {
		return nil, err
	}
	out := make([]changeModel.FileDiff, 0, len(diffs))
	for _, d := range diffs {
		out = append(out, changeModel.FileDiff{
			Path:       d.Path,
			ChangeType: string(d.ChangeType),
			OldMode:    d.OldMode,
			NewMode:    d.NewMode,
			OldBlob:    d.OldBlob,
			NewBlob:    d.NewBlob,
			Insertions: d.Insertions,
			Deletions:  d.Deletions,
		})
	}
	return out, nil
}

// mergeBaseWithBranch finds the diff base for patch set 1: the merge base
// with the destination branch tip, or empty when the branch does not exist
// yet or shares no history.
func (s *service) mergeBaseWithBranch(ctx context.Context, branch string, commit *gitstore.Commit) (string, error) {
	tip, err := s.git.Ref(ctx, refs.BranchRef(branch))
	if errors.Is(err, gitstore.ErrRefNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	base, err := s.git.MergeBase(ctx, tip, commit.Hash)
	if errors.Is(err, gitstore.ErrNoMergeBase) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return base, nil
}

// writePatchSetRef creates the refs/changes/NN/N/P virtual ref. Every patch
// set gets a fresh ref, so the compare-and-swap expects absence; only the
// engine ever writes this namespace.
func (s *service) writePatchSetRef(ctx context.Context, number int64, ps *changeModel.PatchSet) error {
	name := refs.Change(number, ps.Number)
	if err := s.git.UpdateRef(ctx, name, "", ps.CommitID); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// applyPushOptions folds push options into the change. Options only ever set
// flags; clearing WIP or private goes through the REST surface.
func (s *service) applyPushOptions(change *changeModel.Change, opts refs.PushOptions) {
	if opts.Topic != "" {
		change.Topic = opts.Topic
	}
	if opts.WIP {
		change.WorkInProgress = true
	}
	if opts.Private {
		change.Private = true
	}
	if len(opts.Hashtags) > 0 {
		change.SetHashtags(append(change.HashtagList(), opts.Hashtags...))
	}
}

// recordPushVotes casts the l=Label+Value votes requested at push time.
func (s *service) recordPushVotes(
	ctx context.Context,
	change *changeModel.Change,
	ps *changeModel.PatchSet,
	opts refs.PushOptions,
	uploader, realUploader string,
) {
	for _, vote := range opts.Votes {
		approval := &changeModel.Approval{
			ChangeNumber:   change.Number,
			PatchSetNumber: ps.Number,
			UserID:         uploader,
			Label:          vote.Label,
			Value:          vote.Value,
			Granted:        repository.Stamp(),
			Tag:            "push",
			RealUserID:     realUploader,
		}
		if err := s.repo.AddApproval(ctx, approval); err != nil {
			s.logger.Warnw("failed to record push-time vote",
				"change", change.Number, "label", vote.Label, "error", err)
		}
	}
}
