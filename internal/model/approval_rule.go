package model

import (
	"time"

	"github.com/google/uuid"
)

// Rule types
const (
	RuleTypeRegular        = "regular"
	RuleTypeAnyApprover    = "any_approver"
	RuleTypeCodeOwner      = "code_owner"
	RuleTypeReportApprover = "report_approver"
)

// Report types, only meaningful on report_approver rules
const (
	ReportTypeLicenseScanning = "license_scanning"
	ReportTypeScanFinding     = "scan_finding"
	ReportTypeCodeCoverage    = "code_coverage"
	ReportTypeAnyMergeRequest = "any_merge_request"
)

// DefaultCodeOwnerSection groups code-owner rules that were not declared under
// a named section in the ownership file.
const DefaultCodeOwnerSection = "codeowners"

// ApprovalRule is one configured approval requirement. A rule belongs either
// to a project (template rules, copied onto merge requests) or to a single
// merge request (overrides, code-owner rules, policy-derived report rules).
type ApprovalRule struct {
	ID                    uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ProjectID             *uuid.UUID `gorm:"type:uuid;index" json:"project_id"`
	MergeRequestID        *uuid.UUID `gorm:"type:uuid;index;index:idx_approval_rules_code_owner_identity,unique,where:rule_type = 'code_owner'" json:"merge_request_id"`
	ApprovalProjectRuleID *uuid.UUID `gorm:"type:uuid" json:"approval_project_rule_id"`

	// The partial identity index backs the find-or-create race on code-owner
	// rules: a concurrent creator loses on insert and retries the lookup.
	RuleType   string  `gorm:"type:varchar(20);not null;default:'regular';index" json:"rule_type"`
	ReportType *string `gorm:"type:varchar(30)" json:"report_type"`
	Name       string  `gorm:"type:varchar(255);not null;index:idx_approval_rules_code_owner_identity,unique" json:"name"`
	Section    string  `gorm:"type:varchar(255);index:idx_approval_rules_code_owner_identity,unique" json:"section"`

	ApprovalsRequired int `gorm:"not null;default:0" json:"approvals_required"`

	Users             []User            `gorm:"many2many:approval_rule_users" json:"users,omitempty"`
	Groups            []Group           `gorm:"many2many:approval_rule_groups" json:"groups,omitempty"`
	ProtectedBranches []ProtectedBranch `gorm:"many2many:approval_rule_protected_branches" json:"protected_branches,omitempty"`

	// Only valid on code_owner rules.
	RoleApprovers []int `gorm:"serializer:json;type:jsonb" json:"role_approvers,omitempty"`

	AppliesToAllProtectedBranches bool `gorm:"default:false" json:"applies_to_all_protected_branches"`

	// Identity of the originating security policy rule and action. Scopes
	// name uniqueness and drives the one-wrapped-rule-per-policy-index
	// reduction.
	SecurityOrchestrationPolicyConfigurationID *uuid.UUID `gorm:"type:uuid;index" json:"security_orchestration_policy_configuration_id"`
	OrchestrationPolicyIdx                     *int       `json:"orchestration_policy_idx"`
	ApprovalPolicyActionIdx                    *int       `json:"approval_policy_action_idx"`

	ScanResultPolicyReadID *uuid.UUID            `gorm:"type:uuid" json:"scan_result_policy_read_id"`
	ScanResultPolicyRead   *ScanResultPolicyRead `gorm:"foreignKey:ScanResultPolicyReadID" json:"scan_result_policy_read,omitempty"`

	// nil means "never decided": such rules survive merge-time finalization.
	ApplicablePostMerge *bool `json:"applicable_post_merge"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r *ApprovalRule) AnyApprover() bool {
	return r.RuleType == RuleTypeAnyApprover
}

func (r *ApprovalRule) CodeOwner() bool {
	return r.RuleType == RuleTypeCodeOwner
}

func (r *ApprovalRule) ReportApprover() bool {
	return r.RuleType == RuleTypeReportApprover
}

func (r *ApprovalRule) ReportTypeIs(reportType string) bool {
	return r.ReportType != nil && *r.ReportType == reportType
}

// FromScanResultPolicy reports whether this rule was generated by a security
// policy: scan-finding rules always are, license-scanning rules only when a
// policy read is attached.
func (r *ApprovalRule) FromScanResultPolicy() bool {
	if r.ReportTypeIs(ReportTypeScanFinding) {
		return true
	}
	return r.ReportTypeIs(ReportTypeLicenseScanning) && r.ScanResultPolicyReadID != nil
}
