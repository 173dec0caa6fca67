package model

import "time"

// Approval is one label vote on a patch set. Approvals are append-only:
// a newer vote by the same user on the same label supersedes older records
// for readiness evaluation, but older records are kept for audit.
// Matches the approvals table schema.
type Approval struct {
	ID             int64     `gorm:"primaryKey;column:id"                                          json:"-"`
	ChangeNumber   int64     `gorm:"column:change_number;not null;index:idx_approvals_change"      json:"change_number"`
	PatchSetNumber int       `gorm:"column:patch_set_number;not null"                              json:"patch_set_number"`
	UserID         string    `gorm:"column:user_id;type:varchar(255);not null"                     json:"user_id"`
	Label          string    `gorm:"column:label;type:varchar(255);not null"                       json:"label"`
	Value          int       `gorm:"column:value;not null"                                         json:"value"`
	Granted        time.Time `gorm:"column:granted;not null"                                       json:"granted"`
	Tag            string    `gorm:"column:tag;type:varchar(255)"                                  json:"tag,omitempty"`
	RealUserID     string    `gorm:"column:real_user_id;type:varchar(255)"                         json:"real_user_id,omitempty"`
	PostSubmit     bool      `gorm:"column:post_submit;not null;default:false"                     json:"post_submit"`
	Copied         bool      `gorm:"column:copied;not null;default:false"                          json:"copied"`
}

// TableName specifies the table name for GORM.
func (Approval) TableName() string {
	return "approvals"
}

// Comment is a review comment on a patch set location. Threading is by
// ParentID; submit policies may require all threads resolved.
// Matches the comments table schema.
type Comment struct {
	ID             string    `gorm:"primaryKey;column:id;type:varchar(64)"                         json:"id"`
	ChangeNumber   int64     `gorm:"column:change_number;not null;index:idx_comments_change"       json:"change_number"`
	PatchSetNumber int       `gorm:"column:patch_set_number;not null"                              json:"patch_set_number"`
	AuthorID       string    `gorm:"column:author_id;type:varchar(255);not null"                   json:"author_id"`
	Path           string    `gorm:"column:path;type:varchar(1024)"                                json:"path,omitempty"`
	Line           int       `gorm:"column:line"                                                   json:"line,omitempty"`
	RangeStart     int       `gorm:"column:range_start"                                            json:"range_start,omitempty"`
	RangeEnd       int       `gorm:"column:range_end"                                              json:"range_end,omitempty"`
	Message        string    `gorm:"column:message;type:text;not null"                             json:"message"`
	Unresolved     bool      `gorm:"column:unresolved;not null;default:false"                      json:"unresolved"`
	ParentID       string    `gorm:"column:parent_id;type:varchar(64)"                             json:"parent_id,omitempty"`
	WrittenOn      time.Time `gorm:"column:written_on;not null"                                    json:"writtenOn"`
}

// TableName specifies the table name for GORM.
func (Comment) TableName() string {
	return "comments"
}

// ChangeMessage is one entry of a change's audit trail. Every engine action
// (new patch set, vote, abandon, restore, rebase, submit) appends one.
// Matches the change_messages table schema.
type ChangeMessage struct {
	ID             int64     `gorm:"primaryKey;column:id"                                               json:"-"`
	ChangeNumber   int64     `gorm:"column:change_number;not null;index:idx_change_messages_change"     json:"change_number"`
	PatchSetNumber int       `gorm:"column:patch_set_number"                                            json:"patch_set_number,omitempty"`
	AuthorID       string    `gorm:"column:author_id;type:varchar(255);not null"                        json:"author_id"`
	Message        string    `gorm:"column:message;type:text;not null"                                  json:"message"`
	Tag            string    `gorm:"column:tag;type:varchar(255)"                                       json:"tag,omitempty"`
	WrittenOn      time.Time `gorm:"column:written_on;not null"                                         json:"writtenOn"`
}

// TableName specifies the table name for GORM.
func (ChangeMessage) TableName() string {
	return "change_messages"
}
