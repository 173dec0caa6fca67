// Package repository provides the typed persistence layer for the change module.
package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	changeModel "github.com/castingclouds/gerrit-sub002/internal/change/model"
)

// ListFilter narrows change listings.
type ListFilter struct {
	Project string
	Branch  string
	Status  changeModel.Status
	Topic   string
	Limit   int
}

// Repository defines the data access operations for the change aggregate.
// The change exclusively owns its patch sets, approvals, comments and
// messages; Delete cascades over all of them.
type Repository interface {
	// Create persists a new change together with its first patch set and
	// diffs. The change number is allocated from the sequence inside the
	// same transaction and stamped onto the entities.
	Create(ctx context.Context, change *changeModel.Change, ps *changeModel.PatchSet, diffs []changeModel.FileDiff) error

	// GetByNumber finds a change by number.
	GetByNumber(ctx context.Context, number int64) (*changeModel.Change, error)

	// GetByKey finds a change by Change-Id key on a project and branch.
	GetByKey(ctx context.Context, project, destBranch, key string) (*changeModel.Change, error)

	// Save updates a change guarded by its optimistic version: the row is
	// written only if the stored version still matches, and the version is
	// bumped. A mismatch returns ErrConcurrentUpdate.
	Save(ctx context.Context, change *changeModel.Change) error

	// AddPatchSet appends a patch set with its diffs and saves the updated
	// change atomically.
	AddPatchSet(ctx context.Context, change *changeModel.Change, ps *changeModel.PatchSet, diffs []changeModel.FileDiff) error

	// GetPatchSet finds one patch set of a change.
	GetPatchSet(ctx context.Context, changeNumber int64, number int) (*changeModel.PatchSet, error)

	// ListPatchSets returns all patch sets of a change, ascending.
	ListPatchSets(ctx context.Context, changeNumber int64) ([]changeModel.PatchSet, error)

	// ListDiffs returns the per-file records of one patch set.
	ListDiffs(ctx context.Context, changeNumber int64, patchSetNumber int) ([]changeModel.FileDiff, error)

	// AddApproval appends an approval record. Prior records are never
	// deleted; newer ones supersede them for readiness evaluation only.
	AddApproval(ctx context.Context, approval *changeModel.Approval) error

	// ListApprovals returns every approval ever cast on a change.
	ListApprovals(ctx context.Context, changeNumber int64) ([]changeModel.Approval, error)

	// AddComment appends a comment.
	AddComment(ctx context.Context, comment *changeModel.Comment) error

	// GetComment finds a comment by id.
	GetComment(ctx context.Context, id string) (*changeModel.Comment, error)

	// SetCommentUnresolved flips the unresolved flag of a comment.
	SetCommentUnresolved(ctx context.Context, id string, unresolved bool) error

	// ListComments returns all comments of a change.
	ListComments(ctx context.Context, changeNumber int64) ([]changeModel.Comment, error)

	// CountUnresolvedComments counts open comment threads on a change.
	CountUnresolvedComments(ctx context.Context, changeNumber int64) (int64, error)

	// AddMessage appends an audit trail entry.
	AddMessage(ctx context.Context, message *changeModel.ChangeMessage) error

	// ListMessages returns the audit trail of a change, ascending.
	ListMessages(ctx context.Context, changeNumber int64) ([]changeModel.ChangeMessage, error)

	// List returns changes matching the filter, most recently updated first.
	List(ctx context.Context, filter ListFilter) ([]changeModel.Change, error)

	// ListByTopic returns changes carrying a topic, optionally restricted by status.
	ListByTopic(ctx context.Context, topic string, status changeModel.Status) ([]changeModel.Change, error)

	// Delete removes a change and everything it owns.
	Delete(ctx context.Context, number int64) error
}

type repository struct {
	db *gorm.DB
}

// New creates a new change repository instance.
func New(db *gorm.DB) Repository {
	return &repository{db: db}
}

// Create persists a new change with its first patch set inside one transaction.
func (r *repository) Create(
	ctx context.Context,
	change *changeModel.Change,
	ps *changeModel.PatchSet,
	diffs []changeModel.FileDiff,
) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		number, err := nextChangeNumber(tx)
		if err != nil {
			return err
		}
		change.Number = number
		change.Version = 0

		if err := tx.Create(change).Error; err != nil {
			if isDuplicateError(err) {
				return changeModel.ErrChangeExists
			}
			return err
		}

		ps.ChangeNumber = number
		if err := tx.Create(ps).Error; err != nil {
			return err
		}
		for i := range diffs {
			diffs[i].ChangeNumber = number
			diffs[i].PatchSetNumber = ps.Number
		}
		if len(diffs) > 0 {
			if err := tx.Create(&diffs).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// nextChangeNumber allocates the next change number from the sequence row.
// Numbers survive failed creations: the allocation commits together with the
// change or not at all, and is monotone either way.
func nextChangeNumber(tx *gorm.DB) (int64, error) {
	res := tx.Model(&changeModel.ChangeSequence{}).
		Where("id = ?", 1).
		Update("next_number", gorm.Expr("next_number + 1"))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		seed := &changeModel.ChangeSequence{ID: 1, NextNumber: 1}
		if err := tx.Create(seed).Error; err != nil {
			return 0, err
		}
		return 1, nil
	}

	var seq changeModel.ChangeSequence
	if err := tx.Where("id = ?", 1).First(&seq).Error; err != nil {
		return 0, err
	}
	return seq.NextNumber, nil
}

// isDuplicateError checks if error is a unique constraint violation.
func isDuplicateError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint")
}

// GetByNumber finds a change by number.
func (r *repository) GetByNumber(ctx context.Context, number int64) (*changeModel.Change, error) {
	var change changeModel.Change
	err := r.db.WithContext(ctx).
		Where("number = ?", number).
		First(&change).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, changeModel.ErrChangeNotFound
		}
		return nil, err
	}
	return &change, nil
}

// GetByKey finds a change by Change-Id key on a project and branch.
func (r *repository) GetByKey(ctx context.Context, project, destBranch, key string) (*changeModel.Change, error) {
	var change changeModel.Change
	err := r.db.WithContext(ctx).
		Where("change_key = ? AND project = ? AND dest_branch = ?", key, project, destBranch).
		First(&change).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, changeModel.ErrChangeNotFound
		}
		return nil, err
	}
	return &change, nil
}

// Save updates a change guarded by the optimistic version column.
func (r *repository) Save(ctx context.Context, change *changeModel.Change) error {
	return r.saveChange(ctx, r.db, change)
}

func (r *repository) saveChange(ctx context.Context, db *gorm.DB, change *changeModel.Change) error {
	updates := map[string]interface{}{
		"subject":                  change.Subject,
		"topic":                    change.Topic,
		"status":                   change.Status,
		"dest_branch":              change.DestBranch,
		"current_patch_set":        change.CurrentPatchSet,
		"work_in_progress":         change.WorkInProgress,
		"private":                  change.Private,
		"hashtags":                 change.Hashtags,
		"submission_id":            change.SubmissionID,
		"revert_of":                change.RevertOf,
		"cherry_pick_of_change":    change.CherryPickOfChange,
		"cherry_pick_of_patch_set": change.CherryPickOfPatchSet,
		"last_updated_on":          change.LastUpdatedOn,
		"version":                  change.Version + 1,
	}

	res := db.WithContext(ctx).
		Model(&changeModel.Change{}).
		Where("number = ? AND version = ?", change.Number, change.Version).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Distinguish a vanished change from a lost version race.
		var count int64
		if err := db.WithContext(ctx).Model(&changeModel.Change{}).
			Where("number = ?", change.Number).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return changeModel.ErrChangeNotFound
		}
		return changeModel.ErrConcurrentUpdate
	}

	change.Version++
	return nil
}

// AddPatchSet appends a patch set with its diffs and saves the updated change
// in one transaction, so a failure cannot leave a patch set row the change
// does not point at.
func (r *repository) AddPatchSet(ctx context.Context, change *changeModel.Change, ps *changeModel.PatchSet, diffs []changeModel.FileDiff) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(ps).Error; err != nil {
			return err
		}
		for i := range diffs {
			diffs[i].ChangeNumber = ps.ChangeNumber
			diffs[i].PatchSetNumber = ps.Number
		}
		if len(diffs) > 0 {
			if err := tx.Create(&diffs).Error; err != nil {
				return err
			}
		}
		return r.saveChange(ctx, tx, change)
	})
}

// GetPatchSet finds one patch set of a change.
func (r *repository) GetPatchSet(ctx context.Context, changeNumber int64, number int) (*changeModel.PatchSet, error) {
	var ps changeModel.PatchSet
	err := r.db.WithContext(ctx).
		Where("change_number = ? AND patch_set_number = ?", changeNumber, number).
		First(&ps).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, changeModel.ErrPatchSetNotFound
		}
		return nil, err
	}
	return &ps, nil
}

// ListPatchSets returns all patch sets of a change, ascending.
func (r *repository) ListPatchSets(ctx context.Context, changeNumber int64) ([]changeModel.PatchSet, error) {
	var sets []changeModel.PatchSet
	err := r.db.WithContext(ctx).
		Where("change_number = ?", changeNumber).
		Order("patch_set_number ASC").
		Find(&sets).Error
	if err != nil {
		return nil, err
	}
	return sets, nil
}

// ListDiffs returns the per-file records of one patch set.
func (r *repository) ListDiffs(ctx context.Context, changeNumber int64, patchSetNumber int) ([]changeModel.FileDiff, error) {
	var diffs []changeModel.FileDiff
	err := r.db.WithContext(ctx).
		Where("change_number = ? AND patch_set_number = ?", changeNumber, patchSetNumber).
		Order("path ASC").
		Find(&diffs).Error
	if err != nil {
		return nil, err
	}
	return diffs, nil
}

// AddApproval appends an approval record.
func (r *repository) AddApproval(ctx context.Context, approval *changeModel.Approval) error {
	return r.db.WithContext(ctx).Create(approval).Error
}

// ListApprovals returns every approval ever cast on a change.
func (r *repository) ListApprovals(ctx context.Context, changeNumber int64) ([]changeModel.Approval, error) {
	var approvals []changeModel.Approval
	err := r.db.WithContext(ctx).
		Where("change_number = ?", changeNumber).
		Order("granted ASC, id ASC").
		Find(&approvals).Error
	if err != nil {
		return nil, err
	}
	return approvals, nil
}

// AddComment appends a comment.
func (r *repository) AddComment(ctx context.Context, comment *changeModel.Comment) error {
	return r.db.WithContext(ctx).Create(comment).Error
}

// GetComment finds a comment by id.
func (r *repository) GetComment(ctx context.Context, id string) (*changeModel.Comment, error) {
	var comment changeModel.Comment
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&comment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, changeModel.ErrCommentNotFound
		}
		return nil, err
	}
	return &comment, nil
}

// SetCommentUnresolved flips the unresolved flag of a comment.
func (r *repository) SetCommentUnresolved(ctx context.Context, id string, unresolved bool) error {
	res := r.db.WithContext(ctx).
		Model(&changeModel.Comment{}).
		Where("id = ?", id).
		Update("unresolved", unresolved)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return changeModel.ErrCommentNotFound
	}
	return nil
}

// ListComments returns all comments of a change.
func (r *repository) ListComments(ctx context.Context, changeNumber int64) ([]changeModel.Comment, error) {
	var comments []changeModel.Comment
	err := r.db.WithContext(ctx).
		Where("change_number = ?", changeNumber).
		Order("written_on ASC, id ASC").
		Find(&comments).Error
	if err != nil {
		return nil, err
	}
	return comments, nil
}

// CountUnresolvedComments counts open comment threads on a change.
func (r *repository) CountUnresolvedComments(ctx context.Context, changeNumber int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&changeModel.Comment{}).
		Where("change_number = ? AND unresolved = ?", changeNumber, true).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// AddMessage appends an audit trail entry.
func (r *repository) AddMessage(ctx context.Context, message *changeModel.ChangeMessage) error {
	return r.db.WithContext(ctx).Create(message).Error
}

// ListMessages returns the audit trail of a change, ascending.
func (r *repository) ListMessages(ctx context.Context, changeNumber int64) ([]changeModel.ChangeMessage, error) {
	var messages []changeModel.ChangeMessage
	err := r.db.WithContext(ctx).
		Where("change_number = ?", changeNumber).
		Order("written_on ASC, id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// List returns changes matching the filter, most recently updated first.
func (r *repository) List(ctx context.Context, filter ListFilter) ([]changeModel.Change, error) {
	q := r.db.WithContext(ctx).Model(&changeModel.Change{})
	if filter.Project != "" {
		q = q.Where("project = ?", filter.Project)
	}
	if filter.Branch != "" {
		q = q.Where("dest_branch = ?", filter.Branch)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Topic != "" {
		q = q.Where("topic = ?", filter.Topic)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var changes []changeModel.Change
	if err := q.Order("last_updated_on DESC, number DESC").Find(&changes).Error; err != nil {
		return nil, err
	}
	return changes, nil
}

// ListByTopic returns changes carrying a topic, ordered by number for
// deterministic batch submission order.
func (r *repository) ListByTopic(ctx context.Context, topic string, status changeModel.Status) ([]changeModel.Change, error) {
	q := r.db.WithContext(ctx).Where("topic = ?", topic)
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var changes []changeModel.Change
	if err := q.Order("number ASC").Find(&changes).Error; err != nil {
		return nil, err
	}
	return changes, nil
}

// Delete removes a change and everything it owns.
func (r *repository) Delete(ctx context.Context, number int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, owned := range []interface{}{
			&changeModel.Approval{},
			&changeModel.Comment{},
			&changeModel.ChangeMessage{},
			&changeModel.FileDiff{},
			&changeModel.PatchSet{},
		} {
			if err := tx.Where("change_number = ?", number).Delete(owned).Error; err != nil {
				return err
			}
		}

		res := tx.Where("number = ?", number).Delete(&changeModel.Change{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return changeModel.ErrChangeNotFound
		}
		return nil
	})
}

// Stamp returns the current time truncated to microseconds, which both
// postgres and sqlite store without loss.
func Stamp() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
