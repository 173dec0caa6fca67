package model

import "errors"

var (
	// ErrChangeNotFound indicates that the requested change does not exist.
	ErrChangeNotFound = errors.New("change not found")
	// ErrChangeExists indicates a change with the same key already exists on
	// the project and branch.
	ErrChangeExists = errors.New("change already exists")
	// ErrPatchSetNotFound indicates that the requested patch set does not exist.
	ErrPatchSetNotFound = errors.New("patch set not found")
	// ErrChangeClosed indicates an operation that requires an open change hit a closed one.
	ErrChangeClosed = errors.New("change is closed")
	// ErrIllegalTransition indicates a status transition not allowed by the state machine.
	ErrIllegalTransition = errors.New("illegal status transition")
	// ErrNotReady indicates the change does not meet its submit policy.
	ErrNotReady = errors.New("change is not submittable")
	// ErrPatchSetLimit indicates the configured maximum patch set count was exceeded.
	ErrPatchSetLimit = errors.New("maximum patch set count exceeded")
	// ErrNotFastForward indicates a FAST_FORWARD_ONLY submit whose commit does not
	// descend from the current branch tip.
	ErrNotFastForward = errors.New("not a fast-forward")
	// ErrBranchAdvanced indicates the destination branch moved during submit and
	// the bounded retries were exhausted.
	ErrBranchAdvanced = errors.New("branch advanced during submit, please retry")
	// ErrAlreadyUpToDate indicates a rebase onto a base the patch set already has.
	ErrAlreadyUpToDate = errors.New("change is already up to date")
	// ErrConcurrentUpdate indicates the optimistic version check failed on save.
	ErrConcurrentUpdate = errors.New("change was updated concurrently")
	// ErrCommentNotFound indicates the requested comment does not exist.
	ErrCommentNotFound = errors.New("comment not found")
	// ErrUnresolvedComments indicates the project requires all comment threads
	// resolved before submit.
	ErrUnresolvedComments = errors.New("change has unresolved comments")
	// ErrWorkInProgress indicates a submit attempt on a work-in-progress change.
	ErrWorkInProgress = errors.New("change is work in progress")
	// ErrInvalidInput indicates a malformed request field.
	ErrInvalidInput = errors.New("invalid input")
)
