package model

import (
	"time"

	"github.com/google/uuid"
)

// Group is a namespace that can own projects and nested groups. The approval
// settings here feed the compliance resolver: a locked value on an ancestor
// overrides whatever the project configured.
type Group struct {
	ID       uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name     string     `gorm:"type:varchar(255);not null" json:"name"`
	ParentID *uuid.UUID `gorm:"type:uuid;index" json:"parent_id"`

	AllowAuthorApproval          *bool `json:"allow_author_approval"`
	AllowAuthorApprovalLocked    bool  `gorm:"default:false" json:"allow_author_approval_locked"`
	AllowCommitterApproval       *bool `json:"allow_committer_approval"`
	AllowCommitterApprovalLocked bool  `gorm:"default:false" json:"allow_committer_approval_locked"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GroupMember links a user to a group. Membership is expanded recursively when
// a group is named as an approver source on a rule.
type GroupMember struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	GroupID     uuid.UUID `gorm:"type:uuid;not null;index:idx_group_members_group_user,unique" json:"group_id"`
	UserID      uuid.UUID `gorm:"type:uuid;not null;index:idx_group_members_group_user,unique" json:"user_id"`
	User        *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	AccessLevel int       `gorm:"not null" json:"access_level"`
	CreatedAt   time.Time `json:"created_at"`
}
