package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	changeModel "github.com/castingclouds/gerrit-sub002/internal/change/model"
	"github.com/castingclouds/gerrit-sub002/internal/change/repository"
	"github.com/castingclouds/gerrit-sub002/internal/config/project"
)

// Review casts label votes and posts comments on a patch set. Votes append
// to the approval history; earlier votes by the same user on the same label
// are superseded for readiness, never deleted.
func (s *service) Review(
	ctx context.Context,
	number int64,
	patchSet int,
	req *changeModel.ReviewRequest,
) (*changeModel.SubmitRecord, error) {
	unlock := s.locks.Lock(ChangeLockKey(number))
	defer unlock()

	change, err := s.repo.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if change.Status == changeModel.StatusAbandoned {
		return nil, fmt.Errorf("%w: cannot review change %d in status %s",
			changeModel.ErrChangeClosed, number, change.Status)
	}
	if _, err := s.repo.GetPatchSet(ctx, number, patchSet); err != nil {
		return nil, err
	}

	realUser := req.RealUserID
	if realUser == "" {
		realUser = req.UserID
	}
	postSubmit := change.Status == changeModel.StatusMerged

	labels := make([]string, 0, len(req.Labels))
	for label := range req.Labels {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		approval := &changeModel.Approval{
			ChangeNumber:   number,
			PatchSetNumber: patchSet,
			UserID:         req.UserID,
			Label:          label,
			Value:          req.Labels[label],
			Granted:        repository.Stamp(),
			Tag:            req.Tag,
			RealUserID:     realUser,
			PostSubmit:     postSubmit,
		}
		if err := s.repo.AddApproval(ctx, approval); err != nil {
			return nil, err
		}
	}

	for _, in := range req.Comments {
		comment := &changeModel.Comment{
			ID:             uuid.NewString(),
			ChangeNumber:   number,
			PatchSetNumber: patchSet,
			AuthorID:       req.UserID,
			Path:           in.Path,
			Line:           in.Line,
			RangeStart:     in.RangeStart,
			RangeEnd:       in.RangeEnd,
			Message:        in.Message,
			Unresolved:     in.Unresolved,
			ParentID:       in.ParentID,
			WrittenOn:      repository.Stamp(),
		}
		if err := s.repo.AddComment(ctx, comment); err != nil {
			return nil, err
		}
	}

	change.LastUpdatedOn = repository.Stamp()
	if err := s.repo.Save(ctx, change); err != nil {
		return nil, err
	}

	s.addMessage(ctx, number, patchSet, req.UserID,
		reviewMessage(patchSet, req), "review")
	s.invalidate(ctx, number)

	return s.SubmitRecordFor(ctx, change)
}

func reviewMessage(patchSet int, req *changeModel.ReviewRequest) string {
	parts := make([]string, 0, len(req.Labels)+1)
	labels := make([]string, 0, len(req.Labels))
	for label := range req.Labels {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		value := req.Labels[label]
		if value >= 0 {
			parts = append(parts, fmt.Sprintf("%s+%d", label, value))
		} else {
			parts = append(parts, fmt.Sprintf("%s%d", label, value))
		}
	}
	msg := fmt.Sprintf("Patch Set %d", patchSet)
	if len(parts) > 0 {
		msg += ": " + strings.Join(parts, " ")
	}
	if req.Message != "" {
		msg += "\n\n" + req.Message
	}
	return msg
}

// effectiveVotes returns, per (user, label) pair that ever voted on the
// change, the approval with the latest granted timestamp. Older records stay
// in the history for audit.
func (s *service) effectiveVotes(ctx context.Context, number int64) ([]changeModel.VoteInfo, error) {
	approvals, err := s.repo.ListApprovals(ctx, number)
	if err != nil {
		return nil, err
	}

	latest := make(map[string]changeModel.Approval)
	order := make([]string, 0)
	for _, a := range approvals {
		k := a.UserID + "\x00" + a.Label
		prev, seen := latest[k]
		if !seen {
			order = append(order, k)
		}
		// ListApprovals orders by (granted, id) ascending, so a later record
		// always supersedes.
		if !seen || !a.Granted.Before(prev.Granted) {
			latest[k] = a
		}
	}

	votes := make([]changeModel.VoteInfo, 0, len(latest))
	for _, k := range order {
		a := latest[k]
		votes = append(votes, changeModel.VoteInfo{
			UserID:  a.UserID,
			Label:   a.Label,
			Value:   a.Value,
			Granted: a.Granted.Format("2006-01-02T15:04:05.000000Z07:00"),
			Tag:     a.Tag,
			Copied:  a.Copied,
		})
	}
	return votes, nil
}

// SubmitRecordFor evaluates submit readiness: for every label in the project
// policy at least one effective vote must reach the minimum, and no effective
// vote may sit at or below the blocking threshold. A single blocking vote on
// any required label vetoes readiness regardless of other positive votes.
// Work-in-progress changes are never ready, and a project may additionally
// require all comment threads resolved.
func (s *service) SubmitRecordFor(ctx context.Context, change *changeModel.Change) (*changeModel.SubmitRecord, error) {
	policy := s.projects.PolicyFor(change.Project)

	votes, err := s.effectiveVotes(ctx, change.Number)
	if err != nil {
		return nil, err
	}

	record := &changeModel.SubmitRecord{Ready: true}
	labels := make([]string, 0, len(policy.Labels))
	for label := range policy.Labels {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		lp := policy.Labels[label]
		status := changeModel.LabelStatus{Label: label}
		for _, v := range votes {
			if v.Label != label {
				continue
			}
			if v.Value >= lp.Min {
				status.Satisfied = true
			}
			if v.Value <= lp.Block {
				status.Blocked = true
			}
		}
		if !status.Satisfied || status.Blocked {
			record.Ready = false
		}
		record.Labels = append(record.Labels, status)
	}

	if change.WorkInProgress {
		record.Ready = false
		record.Reasons = append(record.Reasons, changeModel.ErrWorkInProgress.Error())
	}
	if policy.RequireResolvedComments {
		unresolved, err := s.repo.CountUnresolvedComments(ctx, change.Number)
		if err != nil {
			return nil, err
		}
		if unresolved > 0 {
			record.Ready = false
			record.Reasons = append(record.Reasons, changeModel.ErrUnresolvedComments.Error())
		}
	}
	return record, nil
}

// copyContext carries the inter-patch-set facts the copy rules consult.
type copyContext struct {
	noCodeChange  bool
	trivialRebase bool
}

func (c copyContext) satisfies(rule project.CopyRule) bool {
	switch rule {
	case project.CopyAlways:
		return true
	case project.CopyNoCodeChange:
		return c.noCodeChange
	case project.CopyTrivialRebase:
		return c.trivialRebase
	}
	return false
}

// copyApprovals carries effective votes from the prior patch set onto the new
// one when the label's copy rule holds. Copies keep the value and the
// original granted timestamp and are marked copied with a fresh tag; labels
// whose rule does not hold must be re-cast. Failures are logged, not
// surfaced: the patch set itself already committed.
func (s *service) copyApprovals(
	ctx context.Context,
	change *changeModel.Change,
	prev, next *changeModel.PatchSet,
	cc copyContext,
) {
	policy := s.projects.PolicyFor(change.Project)

	approvals, err := s.repo.ListApprovals(ctx, change.Number)
	if err != nil {
		s.logger.Warnw("vote copy skipped", "change", change.Number, "error", err)
		return
	}

	latest := make(map[string]changeModel.Approval)
	for _, a := range approvals {
		k := a.UserID + "\x00" + a.Label
		prevRec, seen := latest[k]
		if !seen || !a.Granted.Before(prevRec.Granted) {
			latest[k] = a
		}
	}

	for _, a := range latest {
		if a.PatchSetNumber != prev.Number {
			continue
		}
		lp, ok := policy.Labels[a.Label]
		if !ok || !cc.satisfies(lp.Copy) {
			continue
		}
		copied := &changeModel.Approval{
			ChangeNumber:   change.Number,
			PatchSetNumber: next.Number,
			UserID:         a.UserID,
			Label:          a.Label,
			Value:          a.Value,
			Granted:        a.Granted,
			Tag:            "autocopy:" + string(lp.Copy),
			RealUserID:     a.RealUserID,
			Copied:         true,
		}
		if err := s.repo.AddApproval(ctx, copied); err != nil {
			s.logger.Warnw("vote copy failed",
				"change", change.Number, "label", a.Label, "user", a.UserID, "error", err)
		}
	}
}
