// Package model defines the request and response shapes of the submit engine.
package model

import (
	changeModel "github.com/castingclouds/gerrit-sub002/internal/change/model"
)

// RebaseRequest rebases the current patch set onto a new base.
type RebaseRequest struct {
	UserID string `json:"user_id" binding:"required"`
	// Base is the commit to rebase onto. Empty means the current tip of the
	// destination branch.
	Base string `json:"base"`
	// AllowConflicts embeds conflict markers instead of failing the rebase.
	AllowConflicts bool `json:"allow_conflicts"`
}

// SubmitRequest merges a ready change into its destination branch.
type SubmitRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// SubmitResponse reports a completed submission.
type SubmitResponse struct {
	Change       *changeModel.ChangeResponse `json:"change"`
	SubmissionID string                      `json:"submission_id"`
	// NewTip is the destination branch tip after the merge.
	NewTip string `json:"new_tip"`
}

// TopicSubmitResponse reports a completed batch submission.
type TopicSubmitResponse struct {
	SubmissionID string                       `json:"submission_id"`
	Changes      []changeModel.ChangeResponse `json:"changes"`
}

// CherryPickRequest applies a patch set onto another branch as a new change.
type CherryPickRequest struct {
	UserID            string `json:"user_id"            binding:"required"`
	DestinationBranch string `json:"destination_branch" binding:"required"`
	// PatchSet selects the revision to pick; zero means the current one.
	PatchSet       int  `json:"patch_set"`
	AllowConflicts bool `json:"allow_conflicts"`
}

// RevertRequest creates a change that undoes a merged change.
type RevertRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Topic  string `json:"topic"`
}

// MoveRequest retargets an open change to another destination branch.
type MoveRequest struct {
	UserID            string `json:"user_id"            binding:"required"`
	DestinationBranch string `json:"destination_branch" binding:"required"`
}
