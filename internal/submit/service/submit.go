package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	changeModel "github.com/castingclouds/gerrit-sub002/internal/change/model"
	changeService "github.com/castingclouds/gerrit-sub002/internal/change/service"
	"github.com/castingclouds/gerrit-sub002/internal/config/project"
	"github.com/castingclouds/gerrit-sub002/internal/gitstore"
	"github.com/castingclouds/gerrit-sub002/internal/refs"
	submitModel "github.com/castingclouds/gerrit-sub002/internal/submit/model"
	"github.com/castingclouds/gerrit-sub002/pkg/retry"
)

// strategyOutcome is one computed branch advancement: the new tip, and the
// rewritten patch set commit when the strategy minted one.
type strategyOutcome struct {
	tip    string
	minted string
}

// Submit merges a ready change into its destination branch.
func (e *engine) Submit(ctx context.Context, number int64, req *submitModel.SubmitRequest) (*submitModel.SubmitResponse, error) {
	unlock := e.locks.Lock(changeService.ChangeLockKey(number))
	defer unlock()

	submissionID := uuid.NewString()
	resp, err := e.submitLocked(ctx, number, req.UserID, submissionID)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// submitLocked performs one submission. The caller holds the change lock.
func (e *engine) submitLocked(ctx context.Context, number int64, userID, submissionID string) (*submitModel.SubmitResponse, error) {
	change, err := e.repo.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if !change.IsOpen() {
		return nil, fmt.Errorf("%w: change %d is %s", changeModel.ErrChangeClosed, number, change.Status)
	}

	record, err := e.changes.SubmitRecordFor(ctx, change)
	if err != nil {
		return nil, err
	}
	if !record.Ready {
		return nil, notReadyError(number, record)
	}

	ps, commit, err := e.currentCommit(ctx, change)
	if err != nil {
		return nil, err
	}
	strategy := e.projects.PolicyFor(change.Project).SubmitStrategy

	unlockBranch := e.locks.Lock(branchLockKey(change.Project, change.DestBranch))
	defer unlockBranch()

	outcome, err := e.advanceBranch(ctx, change, commit, strategy)
	if err != nil {
		return nil, err
	}

	// The branch ref moved; everything below is bookkeeping on the aggregate.
	if outcome.minted != "" {
		if _, err := e.changes.AppendEnginePatchSet(ctx, change, changeService.EngineCommitInput{
			CommitHash: outcome.minted,
			UploaderID: userID,
			Message: fmt.Sprintf("Patch Set %d: Patch Set %d was rebased during submit",
				change.CurrentPatchSet+1, ps.Number),
			Tag: "submit",
		}); err != nil {
			return nil, err
		}
	}
	if err := e.changes.MarkMerged(ctx, change, submissionID); err != nil {
		return nil, err
	}

	e.logger.Infow("change submitted",
		"change", number, "branch", change.DestBranch,
		"strategy", strategy, "tip", abbrev(outcome.tip), "submission_id", submissionID)

	return &submitModel.SubmitResponse{
		Change:       change.Response(),
		SubmissionID: submissionID,
		NewTip:       outcome.tip,
	}, nil
}

// advanceBranch computes the new branch tip under the strategy and installs it
// with a compare-and-swap, recomputing against the fresh tip on a lost race.
func (e *engine) advanceBranch(
	ctx context.Context,
	change *changeModel.Change,
	commit *gitstore.Commit,
	strategy project.Strategy,
) (*strategyOutcome, error) {
	branchRef := refs.BranchRef(change.DestBranch)
	cfg := retry.Config{
		MaxAttempts:     e.retries,
		InitialDelay:    20 * time.Millisecond,
		MaxDelay:        500 * time.Millisecond,
		Multiplier:      2.0,
		RetryableErrors: []string{gitstore.ErrStaleRef.Error()},
	}

	outcome, err := retry.DoWithResult(ctx, cfg, func() (*strategyOutcome, error) {
		tip, err := e.git.Ref(ctx, branchRef)
		if errors.Is(err, gitstore.ErrRefNotFound) {
			tip = ""
		} else if err != nil {
			return nil, err
		}

		out, err := e.applyStrategy(ctx, change, commit, tip, strategy)
		if err != nil {
			return nil, err
		}
		if err := e.git.UpdateRef(ctx, branchRef, tip, out.tip); err != nil {
			return nil, err
		}
		return out, nil
	})
	if errors.Is(err, gitstore.ErrStaleRef) {
		return nil, fmt.Errorf("%w: %s", changeModel.ErrBranchAdvanced, change.DestBranch)
	}
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// applyStrategy computes the new branch tip for one patch set commit without
// touching any ref.
func (e *engine) applyStrategy(
	ctx context.Context,
	change *changeModel.Change,
	commit *gitstore.Commit,
	tip string,
	strategy project.Strategy,
) (*strategyOutcome, error) {
	if tip == "" || tip == commit.Hash {
		return &strategyOutcome{tip: commit.Hash}, nil
	}

	merged, err := e.git.IsAncestor(ctx, commit.Hash, tip)
	if err != nil {
		return nil, err
	}
	if merged {
		return nil, fmt.Errorf("%w: commit %s is already contained in %s",
			changeModel.ErrAlreadyUpToDate, abbrev(commit.Hash), change.DestBranch)
	}

	fastForwardable, err := e.git.IsAncestor(ctx, tip, commit.Hash)
	if err != nil {
		return nil, err
	}

	switch strategy {
	case project.FastForwardOnly:
		if !fastForwardable {
			return nil, fmt.Errorf("%w: %s does not descend from the tip of %s",
				changeModel.ErrNotFastForward, abbrev(commit.Hash), change.DestBranch)
		}
		return &strategyOutcome{tip: commit.Hash}, nil

	case project.MergeIfNecessary:
		if fastForwardable {
			return &strategyOutcome{tip: commit.Hash}, nil
		}
		return e.mergeInto(ctx, change, commit, tip)

	case project.MergeAlways:
		return e.mergeInto(ctx, change, commit, tip)

	case project.RebaseIfNecessary:
		if fastForwardable {
			return &strategyOutcome{tip: commit.Hash}, nil
		}
		return e.rebaseForSubmit(ctx, change, commit, tip)

	case project.RebaseAlways:
		if len(commit.Parents) > 0 && commit.Parents[0] == tip {
			return &strategyOutcome{tip: commit.Hash}, nil
		}
		return e.rebaseForSubmit(ctx, change, commit, tip)

	case project.CherryPick:
		return e.rebaseForSubmit(ctx, change, commit, tip)

	default:
		return nil, fmt.Errorf("%w: unknown submit strategy %q", changeModel.ErrInvalidInput, strategy)
	}
}

// mergeInto mints a two-parent merge commit joining the branch tip and the
// patch set commit. A content conflict fails the submission.
func (e *engine) mergeInto(
	ctx context.Context,
	change *changeModel.Change,
	commit *gitstore.Commit,
	tip string,
) (*strategyOutcome, error) {
	base, err := e.git.MergeBase(ctx, tip, commit.Hash)
	if errors.Is(err, gitstore.ErrNoMergeBase) {
		base = ""
	} else if err != nil {
		return nil, err
	}

	res, err := e.git.MergeTrees(ctx, base, tip, commit.Hash, gitstore.MergeOptions{
		OursLabel:   change.DestBranch,
		TheirsLabel: fmt.Sprintf("change %d", change.Number),
	})
	if err != nil {
		return nil, err
	}

	hash, err := e.git.CreateCommit(ctx, gitstore.CommitData{
		Tree:      res.Tree,
		Parents:   []string{tip, commit.Hash},
		Author:    e.ident(),
		Committer: e.ident(),
		Message:   fmt.Sprintf("Merge change %d: %s", change.Number, commit.Subject()),
	})
	if err != nil {
		return nil, err
	}
	return &strategyOutcome{tip: hash}, nil
}

// rebaseForSubmit replays the patch set commit onto the branch tip. The minted
// commit keeps the original message, so the change key follows it into the
// recorded patch set.
func (e *engine) rebaseForSubmit(
	ctx context.Context,
	change *changeModel.Change,
	commit *gitstore.Commit,
	tip string,
) (*strategyOutcome, error) {
	hash, _, err := e.rebaseOnto(ctx, commit, tip, gitstore.MergeOptions{
		OursLabel:   change.DestBranch,
		TheirsLabel: fmt.Sprintf("change %d", change.Number),
	})
	if err != nil {
		return nil, err
	}
	return &strategyOutcome{tip: hash, minted: hash}, nil
}

// notReadyError names the requirements a change still fails, when known.
func notReadyError(number int64, record *changeModel.SubmitRecord) error {
	if len(record.Reasons) > 0 {
		return fmt.Errorf("%w: change %d: %s",
			changeModel.ErrNotReady, number, strings.Join(record.Reasons, "; "))
	}
	return fmt.Errorf("%w: change %d does not meet the submit requirements",
		changeModel.ErrNotReady, number)
}

// SubmitTopic submits every open change carrying the topic as one batch.
// Readiness of every member is verified before the first branch moves; a later
// member failing mid-batch leaves earlier members merged and reports the
// failing change.
func (e *engine) SubmitTopic(ctx context.Context, topic string, req *submitModel.SubmitRequest) (*submitModel.TopicSubmitResponse, error) {
	members, err := e.repo.ListByTopic(ctx, topic, changeModel.StatusNew)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: no open changes with topic %q", changeModel.ErrChangeNotFound, topic)
	}

	for i := range members {
		record, err := e.changes.SubmitRecordFor(ctx, &members[i])
		if err != nil {
			return nil, err
		}
		if !record.Ready {
			return nil, fmt.Errorf("%w: change %d in topic %q does not meet the submit requirements",
				changeModel.ErrNotReady, members[i].Number, topic)
		}
	}

	submissionID := uuid.NewString()
	resp := &submitModel.TopicSubmitResponse{
		SubmissionID: submissionID,
		Changes:      make([]changeModel.ChangeResponse, 0, len(members)),
	}
	for i := range members {
		number := members[i].Number
		one, err := func() (*submitModel.SubmitResponse, error) {
			unlock := e.locks.Lock(changeService.ChangeLockKey(number))
			defer unlock()
			return e.submitLocked(ctx, number, req.UserID, submissionID)
		}()
		if err != nil {
			return nil, fmt.Errorf("submit change %d of topic %q: %w", number, topic, err)
		}
		resp.Changes = append(resp.Changes, *one.Change)
	}

	e.logger.Infow("topic submitted",
		"topic", topic, "changes", len(resp.Changes), "submission_id", submissionID)
	return resp, nil
}
