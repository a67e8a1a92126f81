package service

import (
	"context"
	"errors"
	"fmt"

	"backend/internal/model"
	"backend/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// --- DTOs ---

type CreatePolicyReadRequest struct {
	SecurityOrchestrationPolicyConfigurationID string `json:"security_orchestration_policy_configuration_id" binding:"required"`
	OrchestrationPolicyIdx                     int    `json:"orchestration_policy_idx" binding:"min=0"`

	FailOpen                bool                   `json:"fail_open"`
	ProjectApprovalSettings model.ApprovalSettings `json:"project_approval_settings"`
	PolicyBranches          []string               `json:"policy_branches"`
	MatchDefaultBranchOnly  bool                   `json:"match_default_branch_only"`
	BypassBranchPairs       []model.BranchPair     `json:"bypass_branch_pairs"`
	RoleApprovers           []int                  `json:"role_approvers"`
	CoverageThreshold       decimal.Decimal        `json:"coverage_threshold"`
}

type RecordViolationRequest struct {
	ScanResultPolicyReadID string `json:"scan_result_policy_read_id" binding:"required"`
}

// PolicyService manages the denormalized policy reads report-approver rules
// link to, and the per-merge-request violations that activate their overrides.
type PolicyService interface {
	CreateRead(ctx context.Context, projectID uuid.UUID, req CreatePolicyReadRequest) (*model.ScanResultPolicyRead, error)
	ListReads(ctx context.Context, projectID uuid.UUID) ([]model.ScanResultPolicyRead, error)
	RecordViolation(ctx context.Context, mergeRequestID uuid.UUID, req RecordViolationRequest, actorID *uuid.UUID) (*model.PolicyViolation, error)
	ClearViolations(ctx context.Context, mergeRequestID, readID uuid.UUID) error
}

type policyService struct {
	policies      repository.PolicyRepository
	mergeRequests repository.MergeRequestRepository
	audit         repository.AuditRepository
	txManager     repository.TransactionManager
}

func NewPolicyService(
	policies repository.PolicyRepository,
	mergeRequests repository.MergeRequestRepository,
	audit repository.AuditRepository,
	txManager repository.TransactionManager,
) PolicyService {
	return &policyService{
		policies:      policies,
		mergeRequests: mergeRequests,
		audit:         audit,
		txManager:     txManager,
	}
}

// --- Implementation ---

func (s *policyService) CreateRead(ctx context.Context, projectID uuid.UUID, req CreatePolicyReadRequest) (*model.ScanResultPolicyRead, error) {
	configID, err := uuid.Parse(req.SecurityOrchestrationPolicyConfigurationID)
	if err != nil {
		return nil, fmt.Errorf("invalid security_orchestration_policy_configuration_id: %w", err)
	}

	for _, level := range req.RoleApprovers {
		if !validAccessLevel(level) {
			return nil, fmt.Errorf("role_approvers %d is not included in the list", level)
		}
	}

	read := &model.ScanResultPolicyRead{
		ProjectID: projectID,
		SecurityOrchestrationPolicyConfigurationID: configID,
		OrchestrationPolicyIdx:                     req.OrchestrationPolicyIdx,
		FailOpen:                                   req.FailOpen,
		ProjectApprovalSettings:                    req.ProjectApprovalSettings,
		PolicyBranches:                             req.PolicyBranches,
		MatchDefaultBranchOnly:                     req.MatchDefaultBranchOnly,
		BypassBranchPairs:                          req.BypassBranchPairs,
		RoleApprovers:                              req.RoleApprovers,
		CoverageThreshold:                          req.CoverageThreshold,
	}

	if err := s.policies.CreateRead(ctx, read); err != nil {
		return nil, fmt.Errorf("failed to create policy read: %w", err)
	}
	return read, nil
}

func (s *policyService) ListReads(ctx context.Context, projectID uuid.UUID) ([]model.ScanResultPolicyRead, error) {
	return s.policies.ListReadsForProject(ctx, projectID)
}

// RecordViolation flags a merge request as violating one policy. The read must
// belong to the merge request's target project.
func (s *policyService) RecordViolation(ctx context.Context, mergeRequestID uuid.UUID, req RecordViolationRequest, actorID *uuid.UUID) (*model.PolicyViolation, error) {
	readID, err := uuid.Parse(req.ScanResultPolicyReadID)
	if err != nil {
		return nil, fmt.Errorf("invalid scan_result_policy_read_id: %w", err)
	}

	mr, err := s.mergeRequests.FindByID(ctx, mergeRequestID)
	if err != nil {
		return nil, errors.New("merge request not found")
	}

	read, err := s.policies.FindRead(ctx, readID)
	if err != nil {
		return nil, errors.New("policy read not found")
	}
	if read.ProjectID != mr.TargetProjectID {
		return nil, errors.New("policy read does not belong to the merge request's project")
	}

	violation := &model.PolicyViolation{
		ProjectID:              mr.TargetProjectID,
		MergeRequestID:         mergeRequestID,
		ScanResultPolicyReadID: readID,
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if createErr := s.policies.RecordViolation(txCtx, violation); createErr != nil {
			return fmt.Errorf("failed to record violation: %w", createErr)
		}
		entry := &model.AuditLog{
			UserID:   actorID,
			Action:   model.ActionRecordPolicyViolation,
			EntityID: mergeRequestID.String(),
			Details:  fmt.Sprintf(`{"scan_result_policy_read_id":%q}`, readID.String()),
		}
		if logErr := s.audit.Log(txCtx, entry); logErr != nil {
			return fmt.Errorf("failed to write audit log: %w", logErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return violation, nil
}

func (s *policyService) ClearViolations(ctx context.Context, mergeRequestID, readID uuid.UUID) error {
	return s.policies.ClearViolations(ctx, mergeRequestID, readID)
}

func validAccessLevel(level int) bool {
	for _, valid := range model.ValidAccessLevels {
		if level == valid {
			return true
		}
	}
	return false
}
