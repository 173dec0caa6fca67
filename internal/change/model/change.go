// Package model provides domain entities, DTOs and errors for the change module.
package model

import (
	"strings"
	"time"
)

// Change represents a reviewable unit of work tracked by a stable Change-Id
// across revisions. Matches the changes table schema.
type Change struct {
	Number               int64     `gorm:"primaryKey;column:number"                                                    json:"number"`
	Key                  string    `gorm:"column:change_key;type:varchar(41);not null;uniqueIndex:idx_changes_key,priority:3" json:"change_key"`
	Project              string    `gorm:"column:project;type:varchar(255);not null;uniqueIndex:idx_changes_key,priority:1;index:idx_changes_project_branch" json:"project"`
	DestBranch           string    `gorm:"column:dest_branch;type:varchar(255);not null;uniqueIndex:idx_changes_key,priority:2;index:idx_changes_project_branch" json:"dest_branch"`
	Subject              string    `gorm:"column:subject;type:varchar(255);not null"                                   json:"subject"`
	Topic                string    `gorm:"column:topic;type:varchar(255);index:idx_changes_topic"                      json:"topic,omitempty"`
	Status               Status    `gorm:"column:status;type:varchar(16);not null;index:idx_changes_status"            json:"status"`
	CurrentPatchSet      int       `gorm:"column:current_patch_set;not null"                                           json:"current_patch_set"`
	WorkInProgress       bool      `gorm:"column:work_in_progress;not null;default:false"                              json:"work_in_progress"`
	Private              bool      `gorm:"column:private;not null;default:false"                                       json:"private"`
	Hashtags             string    `gorm:"column:hashtags;type:varchar(1024)"                                          json:"-"`
	SubmissionID         string    `gorm:"column:submission_id;type:varchar(64)"                                       json:"submission_id,omitempty"`
	RevertOf             *int64    `gorm:"column:revert_of"                                                            json:"revert_of,omitempty"`
	CherryPickOfChange   *int64    `gorm:"column:cherry_pick_of_change"                                                json:"cherry_pick_of_change,omitempty"`
	CherryPickOfPatchSet *int      `gorm:"column:cherry_pick_of_patch_set"                                             json:"cherry_pick_of_patch_set,omitempty"`
	CreatedOn            time.Time `gorm:"column:created_on;not null"                                                  json:"createdOn"`
	LastUpdatedOn        time.Time `gorm:"column:last_updated_on;not null"                                             json:"lastUpdatedOn"`
	Version              int64     `gorm:"column:version;not null;default:0"                                           json:"-"`
}

// TableName specifies the table name for GORM.
func (Change) TableName() string {
	return "changes"
}

// IsOpen reports whether the change still accepts patch sets and votes.
func (c *Change) IsOpen() bool {
	return c.Status == StatusNew
}

// HashtagList splits the stored hashtag string into individual tags.
func (c *Change) HashtagList() []string {
	if c.Hashtags == "" {
		return []string{}
	}
	return strings.Split(c.Hashtags, ",")
}

// SetHashtags stores the given tags, dropping empties and duplicates while
// preserving first-seen order.
func (c *Change) SetHashtags(tags []string) {
	seen := make(map[string]bool, len(tags))
	kept := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		kept = append(kept, t)
	}
	c.Hashtags = strings.Join(kept, ",")
}

// Response converts the change to its wire form.
func (c *Change) Response() *ChangeResponse {
	return &ChangeResponse{
		Number:               c.Number,
		Key:                  c.Key,
		Project:              c.Project,
		DestBranch:           c.DestBranch,
		Subject:              c.Subject,
		Topic:                c.Topic,
		Status:               string(c.Status),
		CurrentPatchSet:      c.CurrentPatchSet,
		WorkInProgress:       c.WorkInProgress,
		Private:              c.Private,
		Hashtags:             c.HashtagList(),
		SubmissionID:         c.SubmissionID,
		RevertOf:             c.RevertOf,
		CherryPickOfChange:   c.CherryPickOfChange,
		CherryPickOfPatchSet: c.CherryPickOfPatchSet,
		CreatedOn:            c.CreatedOn.Format(time.RFC3339),
		LastUpdatedOn:        c.LastUpdatedOn.Format(time.RFC3339),
	}
}

// PatchSet represents one concrete commit-level revision of a change.
// Patch sets are append-only: created exactly once, never mutated.
// Matches the patch_sets table schema.
type PatchSet struct {
	ID                   int64     `gorm:"primaryKey;column:id"                                                                 json:"-"`
	ChangeNumber         int64     `gorm:"column:change_number;not null;uniqueIndex:idx_patch_sets_change_ps"                   json:"change_number"`
	Number               int       `gorm:"column:patch_set_number;not null;uniqueIndex:idx_patch_sets_change_ps"                json:"patch_set_number"`
	CommitID             string    `gorm:"column:commit_id;type:varchar(64);not null"                                           json:"commit_id"`
	UploaderID           string    `gorm:"column:uploader_id;type:varchar(255);not null"                                        json:"uploader_id"`
	RealUploaderID       string    `gorm:"column:real_uploader_id;type:varchar(255);not null"                                   json:"real_uploader_id"`
	Groups               string    `gorm:"column:groups;type:varchar(1024)"                                                     json:"groups,omitempty"`
	ContainsGitConflicts bool      `gorm:"column:contains_git_conflicts;not null;default:false"                                 json:"contains_git_conflicts"`
	CreatedOn            time.Time `gorm:"column:created_on;not null"                                                           json:"createdOn"`
}

// TableName specifies the table name for GORM.
func (PatchSet) TableName() string {
	return "patch_sets"
}

// FileDiff is one per-file change record of a patch set, computed against the
// previous patch set (or the merge base with the destination branch for patch
// set 1). Matches the file_diffs table schema.
type FileDiff struct {
	ID             int64  `gorm:"primaryKey;column:id"                                              json:"-"`
	ChangeNumber   int64  `gorm:"column:change_number;not null;index:idx_file_diffs_change_ps"      json:"change_number"`
	PatchSetNumber int    `gorm:"column:patch_set_number;not null;index:idx_file_diffs_change_ps"   json:"patch_set_number"`
	Path           string `gorm:"column:path;type:varchar(1024);not null"                           json:"path"`
	ChangeType     string `gorm:"column:change_type;type:varchar(16);not null"                      json:"change_type"`
	OldMode        uint32 `gorm:"column:old_mode"                                                   json:"old_mode,omitempty"`
	NewMode        uint32 `gorm:"column:new_mode"                                                   json:"new_mode,omitempty"`
	OldBlob        string `gorm:"column:old_blob;type:varchar(64)"                                  json:"old_blob,omitempty"`
	NewBlob        string `gorm:"column:new_blob;type:varchar(64)"                                  json:"new_blob,omitempty"`
	Insertions     int    `gorm:"column:insertions;not null;default:0"                              json:"insertions"`
	Deletions      int    `gorm:"column:deletions;not null;default:0"                               json:"deletions"`
}

// TableName specifies the table name for GORM.
func (FileDiff) TableName() string {
	return "file_diffs"
}

// ChangeSequence backs change number allocation. Numbers are allocated from a
// dedicated row so failed creations never reuse a number.
type ChangeSequence struct {
	ID         int   `gorm:"primaryKey;column:id"`
	NextNumber int64 `gorm:"column:next_number;not null"`
}

// TableName specifies the table name for GORM.
func (ChangeSequence) TableName() string {
	return "change_sequences"
}
