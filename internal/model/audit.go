package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	ActionCreateProjectRule = "CREATE_PROJECT_RULE"
	ActionCreateMergeRule   = "CREATE_MERGE_REQUEST_RULE"
	ActionUpdateRule        = "UPDATE_APPROVAL_RULE"
	ActionDeleteRule        = "DELETE_APPROVAL_RULE"

	ActionCreateProject         = "CREATE_PROJECT"
	ActionUpdateProjectSettings = "UPDATE_PROJECT_SETTINGS"
	ActionRecordPolicyViolation = "RECORD_POLICY_VIOLATION"

	ActionCreateMergeRequest = "CREATE_MERGE_REQUEST"
	ActionMergeMergeRequest  = "MERGE_MERGE_REQUEST"
	ActionApproveMR          = "APPROVE_MERGE_REQUEST"
	ActionUnapproveMR        = "UNAPPROVE_MERGE_REQUEST"
	ActionResetApprovals     = "RESET_APPROVALS"
)

// AuditLog tracks Who, What, and When for critical system changes
type AuditLog struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID     *uuid.UUID `gorm:"type:uuid;index" json:"user_id"` // Nullable gracefully if automated bot
	User       *User      `gorm:"foreignKey:UserID" json:"user"`
	Action     string     `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityID   string     `gorm:"type:varchar(50);index" json:"entity_id"`        // Reference string (uuid/code)
	EntityName string     `gorm:"type:varchar(255)" json:"entity_name,omitempty"` // Human readable name
	Details    string     `gorm:"type:jsonb" json:"details"`                      // Serialized JSON payload of the action
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
}
