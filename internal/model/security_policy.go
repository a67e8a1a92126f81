package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ApprovalSettings is the sparse override map a security policy can impose on
// a project's approval configuration. Zero values mean "no override".
type ApprovalSettings struct {
	PreventApprovalByAuthor       bool `json:"prevent_approval_by_author,omitempty"`
	PreventApprovalByCommitAuthor bool `json:"prevent_approval_by_commit_author,omitempty"`
	RemoveApprovalsWithNewCommit  bool `json:"remove_approvals_with_new_commit,omitempty"`
	RequirePasswordToApprove      bool `json:"require_password_to_approve,omitempty"`
}

// Merge ORs the truthy keys of other into s. A key set by any violated policy
// stays set; policies never unset each other's overrides.
func (s *ApprovalSettings) Merge(other ApprovalSettings) {
	s.PreventApprovalByAuthor = s.PreventApprovalByAuthor || other.PreventApprovalByAuthor
	s.PreventApprovalByCommitAuthor = s.PreventApprovalByCommitAuthor || other.PreventApprovalByCommitAuthor
	s.RemoveApprovalsWithNewCommit = s.RemoveApprovalsWithNewCommit || other.RemoveApprovalsWithNewCommit
	s.RequirePasswordToApprove = s.RequirePasswordToApprove || other.RequirePasswordToApprove
}

// Empty reports whether no override is set.
func (s ApprovalSettings) Empty() bool {
	return s == ApprovalSettings{}
}

// BranchPair names a (source, target) branch combination excluded from policy
// enforcement. Both sides may carry `*` wildcards.
type BranchPair struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// ScanResultPolicyRead is the denormalized projection of one security policy
// rule as it applies to a project. Report-approver rules link to it for
// override settings, fail-open mode and branch scoping.
type ScanResultPolicyRead struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ProjectID uuid.UUID `gorm:"type:uuid;not null;index" json:"project_id"`

	SecurityOrchestrationPolicyConfigurationID uuid.UUID `gorm:"type:uuid;not null" json:"security_orchestration_policy_configuration_id"`
	OrchestrationPolicyIdx                     int       `gorm:"not null;default:0" json:"orchestration_policy_idx"`

	// Fail-open rules stop blocking the merge request when they become
	// unsatisfiable (no configured approvers left).
	FailOpen bool `gorm:"default:false" json:"fail_open"`

	ProjectApprovalSettings ApprovalSettings `gorm:"serializer:json;type:jsonb" json:"project_approval_settings"`

	// Branch scoping carried in the policy content. MatchDefaultBranchOnly
	// models `branch_type: default`.
	PolicyBranches         []string `gorm:"serializer:json;type:jsonb" json:"policy_branches,omitempty"`
	MatchDefaultBranchOnly bool     `gorm:"default:false" json:"match_default_branch_only"`

	BypassBranchPairs []BranchPair `gorm:"serializer:json;type:jsonb" json:"bypass_branch_pairs,omitempty"`

	// Extra approver pool granted by role for rules derived from this policy.
	RoleApprovers []int `gorm:"serializer:json;type:jsonb" json:"role_approvers,omitempty"`

	// Minimum coverage a code_coverage policy demands, as a percentage.
	CoverageThreshold decimal.Decimal `gorm:"type:numeric(5,2);default:0" json:"coverage_threshold"`

	CreatedAt time.Time `json:"created_at"`
}

// PolicyViolation records that a specific policy's conditions were triggered
// for a specific merge request. Violations activate the policy's override
// settings for that merge request only.
type PolicyViolation struct {
	ID                     uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ProjectID              uuid.UUID `gorm:"type:uuid;not null;index" json:"project_id"`
	MergeRequestID         uuid.UUID `gorm:"type:uuid;not null;index:idx_policy_violations_mr_read,unique" json:"merge_request_id"`
	ScanResultPolicyReadID uuid.UUID `gorm:"type:uuid;not null;index:idx_policy_violations_mr_read,unique" json:"scan_result_policy_read_id"`
	CreatedAt              time.Time `json:"created_at"`
}
