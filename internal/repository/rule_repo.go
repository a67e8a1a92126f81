package repository

import (
	"context"

	"backend/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ApprovalRuleRepository is the data access layer for approval rules. Queries
// that feed the evaluation engine preload every approver association so the
// engine never has to go back to the database.
type ApprovalRuleRepository interface {
	Create(ctx context.Context, rule *model.ApprovalRule) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.ApprovalRule, error)
	ListForProject(ctx context.Context, projectID uuid.UUID) ([]model.ApprovalRule, error)
	ListForMergeRequest(ctx context.Context, mergeRequestID uuid.UUID) ([]model.ApprovalRule, error)
	AnyApproverExistsForProject(ctx context.Context, projectID uuid.UUID) (bool, error)
	AnyApproverExistsForMergeRequest(ctx context.Context, mergeRequestID uuid.UUID) (bool, error)
	FindCodeOwnerRule(ctx context.Context, mergeRequestID uuid.UUID, name, section string) (*model.ApprovalRule, error)
	Update(ctx context.Context, rule *model.ApprovalRule) error
	ReplaceUsers(ctx context.Context, rule *model.ApprovalRule, users []model.User) error
	ReplaceGroups(ctx context.Context, rule *model.ApprovalRule, groups []model.Group) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type approvalRuleRepository struct {
	db *gorm.DB
}

func NewApprovalRuleRepository(db *gorm.DB) ApprovalRuleRepository {
	return &approvalRuleRepository{db: db}
}

func (r *approvalRuleRepository) Create(ctx context.Context, rule *model.ApprovalRule) error {
	return GetDB(ctx, r.db).Create(rule).Error
}

func (r *approvalRuleRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.ApprovalRule, error) {
	var rule model.ApprovalRule
	if err := GetDB(ctx, r.db).
		Preload("Users").
		Preload("Groups").
		Preload("ProtectedBranches").
		Preload("ScanResultPolicyRead").
		First(&rule, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *approvalRuleRepository) ListForProject(ctx context.Context, projectID uuid.UUID) ([]model.ApprovalRule, error) {
	var rules []model.ApprovalRule
	if err := GetDB(ctx, r.db).
		Preload("Users").
		Preload("Groups").
		Preload("ProtectedBranches").
		Preload("ScanResultPolicyRead").
		Where("project_id = ? AND merge_request_id IS NULL", projectID).
		Order("created_at ASC").
		Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *approvalRuleRepository) ListForMergeRequest(ctx context.Context, mergeRequestID uuid.UUID) ([]model.ApprovalRule, error) {
	var rules []model.ApprovalRule
	if err := GetDB(ctx, r.db).
		Preload("Users").
		Preload("Groups").
		Preload("ProtectedBranches").
		Preload("ScanResultPolicyRead").
		Where("merge_request_id = ?", mergeRequestID).
		Order("created_at ASC").
		Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *approvalRuleRepository) AnyApproverExistsForProject(ctx context.Context, projectID uuid.UUID) (bool, error) {
	var count int64
	err := GetDB(ctx, r.db).Model(&model.ApprovalRule{}).
		Where("project_id = ? AND merge_request_id IS NULL AND rule_type = ?", projectID, model.RuleTypeAnyApprover).
		Count(&count).Error
	return count > 0, err
}

func (r *approvalRuleRepository) AnyApproverExistsForMergeRequest(ctx context.Context, mergeRequestID uuid.UUID) (bool, error) {
	var count int64
	err := GetDB(ctx, r.db).Model(&model.ApprovalRule{}).
		Where("merge_request_id = ? AND rule_type = ?", mergeRequestID, model.RuleTypeAnyApprover).
		Count(&count).Error
	return count > 0, err
}

func (r *approvalRuleRepository) FindCodeOwnerRule(ctx context.Context, mergeRequestID uuid.UUID, name, section string) (*model.ApprovalRule, error) {
	var rule model.ApprovalRule
	err := GetDB(ctx, r.db).
		Preload("Users").
		Preload("Groups").
		Where("merge_request_id = ? AND rule_type = ? AND name = ? AND section = ?",
			mergeRequestID, model.RuleTypeCodeOwner, name, section).
		First(&rule).Error
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *approvalRuleRepository) Update(ctx context.Context, rule *model.ApprovalRule) error {
	return GetDB(ctx, r.db).Save(rule).Error
}

func (r *approvalRuleRepository) ReplaceUsers(ctx context.Context, rule *model.ApprovalRule, users []model.User) error {
	return GetDB(ctx, r.db).Model(rule).Association("Users").Replace(users)
}

func (r *approvalRuleRepository) ReplaceGroups(ctx context.Context, rule *model.ApprovalRule, groups []model.Group) error {
	return GetDB(ctx, r.db).Model(rule).Association("Groups").Replace(groups)
}

func (r *approvalRuleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Where("id = ?", id).Delete(&model.ApprovalRule{}).Error
}
