package service

import (
	"context"
	"fmt"

	changeModel "github.com/castingclouds/gerrit-sub002/internal/change/model"
	"github.com/castingclouds/gerrit-sub002/internal/change/repository"
)

// Abandon moves an open change to ABANDONED.
func (s *service) Abandon(ctx context.Context, number int64, req *changeModel.AbandonRequest) (*changeModel.ChangeResponse, error) {
	return s.transition(ctx, number, changeModel.ActionAbandon, req.UserID, req.Reason)
}

// Restore moves an abandoned change back to NEW.
func (s *service) Restore(ctx context.Context, number int64, req *changeModel.RestoreRequest) (*changeModel.ChangeResponse, error) {
	return s.transition(ctx, number, changeModel.ActionRestore, req.UserID, req.Reason)
}

// transition applies a state machine action under the change lock. The state
// machine table is the sole authority over status; anything it rejects
// surfaces as a conflict naming the current status and attempted action.
func (s *service) transition(
	ctx context.Context,
	number int64,
	action changeModel.Action,
	userID, reason string,
) (*changeModel.ChangeResponse, error) {
	unlock := s.locks.Lock(ChangeLockKey(number))
	defer unlock()

	change, err := s.repo.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}

	next, err := change.Status.Transition(action)
	if err != nil {
		return nil, err
	}
	change.Status = next
	change.LastUpdatedOn = repository.Stamp()
	if err := s.repo.Save(ctx, change); err != nil {
		return nil, err
	}

	text := string(action)
	switch action {
	case changeModel.ActionAbandon:
		text = "Abandoned"
	case changeModel.ActionRestore:
		text = "Restored"
	}
	if reason != "" {
		text += "\n\n" + reason
	}
	s.addMessage(ctx, number, change.CurrentPatchSet, userID, text, string(action))
	s.invalidate(ctx, number)

	s.logger.Infow("change transitioned",
		"change", number, "action", action, "status", change.Status)
	return change.Response(), nil
}

// SetTopic sets or clears the topic.
func (s *service) SetTopic(ctx context.Context, number int64, topic string) (*changeModel.ChangeResponse, error) {
	return s.update(ctx, number, func(c *changeModel.Change) error {
		c.Topic = topic
		return nil
	})
}

// SetHashtags replaces the hashtag set.
func (s *service) SetHashtags(ctx context.Context, number int64, tags []string) (*changeModel.ChangeResponse, error) {
	return s.update(ctx, number, func(c *changeModel.Change) error {
		c.SetHashtags(tags)
		return nil
	})
}

// SetWorkInProgress toggles the WIP flag on an open change.
func (s *service) SetWorkInProgress(ctx context.Context, number int64, value bool) (*changeModel.ChangeResponse, error) {
	return s.update(ctx, number, func(c *changeModel.Change) error {
		if !c.IsOpen() {
			return fmt.Errorf("%w: change %d is %s", changeModel.ErrChangeClosed, number, c.Status)
		}
		c.WorkInProgress = value
		return nil
	})
}

// SetPrivate toggles the private flag.
func (s *service) SetPrivate(ctx context.Context, number int64, value bool) (*changeModel.ChangeResponse, error) {
	return s.update(ctx, number, func(c *changeModel.Change) error {
		c.Private = value
		return nil
	})
}

// update applies a field mutation under the change lock and persists it.
func (s *service) update(ctx context.Context, number int64, mutate func(*changeModel.Change) error) (*changeModel.ChangeResponse, error) {
	unlock := s.locks.Lock(ChangeLockKey(number))
	defer unlock()

	change, err := s.repo.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if err := mutate(change); err != nil {
		return nil, err
	}
	change.LastUpdatedOn = repository.Stamp()
	if err := s.repo.Save(ctx, change); err != nil {
		return nil, err
	}
	s.invalidate(ctx, number)
	return change.Response(), nil
}

// ResolveComment flips the unresolved flag of a comment thread.
func (s *service) ResolveComment(ctx context.Context, number int64, commentID string, unresolved bool) error {
	unlock := s.locks.Lock(ChangeLockKey(number))
	defer unlock()

	comment, err := s.repo.GetComment(ctx, commentID)
	if err != nil {
		return err
	}
	if comment.ChangeNumber != number {
		return changeModel.ErrCommentNotFound
	}
	if err := s.repo.SetCommentUnresolved(ctx, commentID, unresolved); err != nil {
		return err
	}
	s.invalidate(ctx, number)
	return nil
}

// MarkMerged fires the submit transition. The caller holds the change lock and
// has already advanced the destination branch.
func (s *service) MarkMerged(ctx context.Context, change *changeModel.Change, submissionID string) error {
	next, err := change.Status.Transition(changeModel.ActionSubmit)
	if err != nil {
		return err
	}
	change.Status = next
	change.SubmissionID = submissionID
	change.LastUpdatedOn = repository.Stamp()
	if err := s.repo.Save(ctx, change); err != nil {
		return err
	}

	s.addMessage(ctx, change.Number, change.CurrentPatchSet, "",
		"Change has been successfully merged", "merge")
	s.invalidate(ctx, change.Number)

	s.logger.Infow("change merged",
		"change", change.Number, "submission_id", submissionID)
	return nil
}
