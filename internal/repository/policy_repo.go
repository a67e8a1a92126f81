package repository

import (
	"context"

	"backend/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PolicyRepository interface {
	CreateRead(ctx context.Context, read *model.ScanResultPolicyRead) error
	FindRead(ctx context.Context, id uuid.UUID) (*model.ScanResultPolicyRead, error)
	ListReadsForProject(ctx context.Context, projectID uuid.UUID) ([]model.ScanResultPolicyRead, error)
	RecordViolation(ctx context.Context, violation *model.PolicyViolation) error
	ListViolationsForMergeRequest(ctx context.Context, mergeRequestID uuid.UUID) ([]model.PolicyViolation, error)
	ClearViolations(ctx context.Context, mergeRequestID, readID uuid.UUID) error
}

type policyRepository struct {
	db *gorm.DB
}

func NewPolicyRepository(db *gorm.DB) PolicyRepository {
	return &policyRepository{db: db}
}

func (r *policyRepository) CreateRead(ctx context.Context, read *model.ScanResultPolicyRead) error {
	return GetDB(ctx, r.db).Create(read).Error
}

func (r *policyRepository) FindRead(ctx context.Context, id uuid.UUID) (*model.ScanResultPolicyRead, error) {
	var read model.ScanResultPolicyRead
	if err := GetDB(ctx, r.db).First(&read, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &read, nil
}

func (r *policyRepository) ListReadsForProject(ctx context.Context, projectID uuid.UUID) ([]model.ScanResultPolicyRead, error) {
	var reads []model.ScanResultPolicyRead
	if err := GetDB(ctx, r.db).
		Where("project_id = ?", projectID).
		Find(&reads).Error; err != nil {
		return nil, err
	}
	return reads, nil
}

func (r *policyRepository) RecordViolation(ctx context.Context, violation *model.PolicyViolation) error {
	return GetDB(ctx, r.db).Create(violation).Error
}

func (r *policyRepository) ListViolationsForMergeRequest(ctx context.Context, mergeRequestID uuid.UUID) ([]model.PolicyViolation, error) {
	var violations []model.PolicyViolation
	if err := GetDB(ctx, r.db).
		Where("merge_request_id = ?", mergeRequestID).
		Find(&violations).Error; err != nil {
		return nil, err
	}
	return violations, nil
}

func (r *policyRepository) ClearViolations(ctx context.Context, mergeRequestID, readID uuid.UUID) error {
	return GetDB(ctx, r.db).
		Where("merge_request_id = ? AND scan_result_policy_read_id = ?", mergeRequestID, readID).
		Delete(&model.PolicyViolation{}).Error
}
