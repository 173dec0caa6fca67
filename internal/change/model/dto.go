package model

// PushRequest represents a push intake handed over by the transport layer:
// one commit aimed at a refs/for virtual branch.
type PushRequest struct {
	Project        string `json:"project"     binding:"required"`
	TargetRef      string `json:"target_ref"  binding:"required"`
	CommitID       string `json:"commit_id"   binding:"required"`
	UploaderID     string `json:"uploader_id" binding:"required"`
	RealUploaderID string `json:"real_uploader_id"`
}

// ReviewRequest casts label votes and posts comments on one patch set.
type ReviewRequest struct {
	UserID     string         `json:"user_id" binding:"required"`
	RealUserID string         `json:"real_user_id"`
	Labels     map[string]int `json:"labels"`
	Tag        string         `json:"tag"`
	Message    string         `json:"message"`
	Comments   []CommentInput `json:"comments"`
}

// CommentInput is one comment to create within a review.
type CommentInput struct {
	Path       string `json:"path"`
	Line       int    `json:"line"`
	RangeStart int    `json:"range_start"`
	RangeEnd   int    `json:"range_end"`
	Message    string `json:"message" binding:"required"`
	Unresolved bool   `json:"unresolved"`
	ParentID   string `json:"parent_id"`
}

// TopicRequest sets or clears the change topic.
type TopicRequest struct {
	Topic string `json:"topic"`
}

// AbandonRequest abandons an open change.
type AbandonRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Reason string `json:"reason"`
}

// RestoreRequest restores an abandoned change.
type RestoreRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Reason string `json:"reason"`
}

// HashtagsRequest replaces the hashtag set of a change.
type HashtagsRequest struct {
	Hashtags []string `json:"hashtags"`
}

// FlagRequest toggles the work-in-progress or private flag.
type FlagRequest struct {
	Value bool `json:"value"`
}

// ResolveCommentRequest flips the unresolved flag of a comment thread.
type ResolveCommentRequest struct {
	Unresolved bool `json:"unresolved"`
}

// ChangeResponse is the wire form of a change.
type ChangeResponse struct {
	Number               int64    `json:"number"`
	Key                  string   `json:"change_key"`
	Project              string   `json:"project"`
	DestBranch           string   `json:"dest_branch"`
	Subject              string   `json:"subject"`
	Topic                string   `json:"topic,omitempty"`
	Status               string   `json:"status"`
	CurrentPatchSet      int      `json:"current_patch_set"`
	WorkInProgress       bool     `json:"work_in_progress"`
	Private              bool     `json:"private"`
	Hashtags             []string `json:"hashtags"`
	SubmissionID         string   `json:"submission_id,omitempty"`
	RevertOf             *int64   `json:"revert_of,omitempty"`
	CherryPickOfChange   *int64   `json:"cherry_pick_of_change,omitempty"`
	CherryPickOfPatchSet *int     `json:"cherry_pick_of_patch_set,omitempty"`
	CreatedOn            string   `json:"createdOn"`
	LastUpdatedOn        string   `json:"lastUpdatedOn"`
}

// VoteInfo is one effective vote: the latest record per (user, label).
type VoteInfo struct {
	UserID  string `json:"user_id"`
	Label   string `json:"label"`
	Value   int    `json:"value"`
	Granted string `json:"granted"`
	Tag     string `json:"tag,omitempty"`
	Copied  bool   `json:"copied"`
}

// LabelStatus is the readiness verdict for one policy label.
type LabelStatus struct {
	Label     string `json:"label"`
	Satisfied bool   `json:"satisfied"`
	Blocked   bool   `json:"blocked"`
}

// SubmitRecord is the full readiness verdict for a change.
type SubmitRecord struct {
	Ready  bool          `json:"ready"`
	Labels []LabelStatus `json:"labels"`
	// Reasons lists the non-label requirements the change still fails.
	Reasons []string `json:"reasons,omitempty"`
}

// PushResponse reports the outcome of a push intake: the change the commit
// landed on and the patch set it became.
type PushResponse struct {
	Change   *ChangeResponse `json:"change"`
	PatchSet PatchSet        `json:"patch_set"`
	Created  bool            `json:"created"`
}

// ChangeDetailResponse is a change with its revisions, votes and audit trail.
type ChangeDetailResponse struct {
	Change       *ChangeResponse `json:"change"`
	PatchSets    []PatchSet      `json:"patch_sets"`
	Votes        []VoteInfo      `json:"votes"`
	Messages     []ChangeMessage `json:"messages"`
	SubmitRecord *SubmitRecord   `json:"submit_record,omitempty"`
}
