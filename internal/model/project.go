package model

import (
	"time"

	"github.com/google/uuid"
)

// Access levels a member can hold on a project or group.
const (
	AccessLevelGuest      = 10
	AccessLevelReporter   = 20
	AccessLevelDeveloper  = 30
	AccessLevelMaintainer = 40
	AccessLevelOwner      = 50
)

// ValidAccessLevels lists every access level role_approvers may reference.
var ValidAccessLevels = []int{
	AccessLevelGuest,
	AccessLevelReporter,
	AccessLevelDeveloper,
	AccessLevelMaintainer,
	AccessLevelOwner,
}

// Project holds the per-project approval configuration. Licensing and feature
// toggles are stored as plain booleans, upstream billing is not our concern.
type Project struct {
	ID            uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name          string     `gorm:"type:varchar(255);not null" json:"name"`
	GroupID       *uuid.UUID `gorm:"type:uuid;index" json:"group_id"`
	Group         *Group     `gorm:"foreignKey:GroupID" json:"group,omitempty"`
	DefaultBranch string     `gorm:"type:varchar(255);not null;default:'main'" json:"default_branch"`

	MergeRequestsAuthorApproval               bool `gorm:"default:false" json:"merge_requests_author_approval"`
	MergeRequestsDisableCommittersApproval    bool `gorm:"default:false" json:"merge_requests_disable_committers_approval"`
	RequirePasswordToApprove                  bool `gorm:"default:false" json:"require_password_to_approve"`
	DisableOverridingApproversPerMergeRequest bool `gorm:"default:false" json:"disable_overriding_approvers_per_merge_request"`

	// License flags, treated as opaque booleans.
	MergeRequestApproversEnabled bool `gorm:"default:true" json:"merge_request_approvers_enabled"`
	MultipleApprovalRulesEnabled bool `gorm:"default:true" json:"multiple_approval_rules_enabled"`

	// When disabled, policy-derived branch lists are ignored and such rules
	// apply to every target branch.
	PolicyBranchMatchingEnabled bool `gorm:"default:true" json:"policy_branch_matching_enabled"`

	// Projects that host security policy definitions get relaxed handling of
	// invalid report-approver rules.
	SecurityPolicyManagementProject bool `gorm:"default:false" json:"security_policy_management_project"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProjectMember links a user to a project with an access level
type ProjectMember struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ProjectID   uuid.UUID `gorm:"type:uuid;not null;index:idx_project_members_project_user,unique" json:"project_id"`
	UserID      uuid.UUID `gorm:"type:uuid;not null;index:idx_project_members_project_user,unique" json:"user_id"`
	User        *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	AccessLevel int       `gorm:"not null" json:"access_level"`
	CreatedAt   time.Time `json:"created_at"`
}

// ProtectedBranch is a branch-name pattern protected at project or group
// scope. Patterns may contain `*` wildcards.
type ProtectedBranch struct {
	ID        uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ProjectID *uuid.UUID `gorm:"type:uuid;index" json:"project_id"`
	GroupID   *uuid.UUID `gorm:"type:uuid;index" json:"group_id"`
	Name      string     `gorm:"type:varchar(255);not null" json:"name"`
	CreatedAt time.Time  `json:"created_at"`
}
