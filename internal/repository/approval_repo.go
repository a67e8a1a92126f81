package repository

import (
	"context"

	"backend/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ApprovalRepository interface {
	Create(ctx context.Context, approval *model.Approval) error
	Exists(ctx context.Context, mergeRequestID, userID uuid.UUID) (bool, error)
	ListForMergeRequest(ctx context.Context, mergeRequestID uuid.UUID) ([]model.Approval, error)
	Delete(ctx context.Context, mergeRequestID, userID uuid.UUID) error
	DeleteAllForMergeRequest(ctx context.Context, mergeRequestID uuid.UUID) (int64, error)
}

type approvalRepository struct {
	db *gorm.DB
}

func NewApprovalRepository(db *gorm.DB) ApprovalRepository {
	return &approvalRepository{db: db}
}

func (r *approvalRepository) Create(ctx context.Context, approval *model.Approval) error {
	return GetDB(ctx, r.db).Create(approval).Error
}

func (r *approvalRepository) Exists(ctx context.Context, mergeRequestID, userID uuid.UUID) (bool, error) {
	var count int64
	err := GetDB(ctx, r.db).Model(&model.Approval{}).
		Where("merge_request_id = ? AND user_id = ?", mergeRequestID, userID).
		Count(&count).Error
	return count > 0, err
}

func (r *approvalRepository) ListForMergeRequest(ctx context.Context, mergeRequestID uuid.UUID) ([]model.Approval, error) {
	var approvals []model.Approval
	if err := GetDB(ctx, r.db).
		Preload("User").
		Where("merge_request_id = ?", mergeRequestID).
		Order("created_at ASC").
		Find(&approvals).Error; err != nil {
		return nil, err
	}
	return approvals, nil
}

func (r *approvalRepository) Delete(ctx context.Context, mergeRequestID, userID uuid.UUID) error {
	return GetDB(ctx, r.db).
		Where("merge_request_id = ? AND user_id = ?", mergeRequestID, userID).
		Delete(&model.Approval{}).Error
}

// DeleteAllForMergeRequest wipes every approval on the merge request and
// reports how many rows went away, so callers can skip follow-up work when
// there was nothing to reset.
func (r *approvalRepository) DeleteAllForMergeRequest(ctx context.Context, mergeRequestID uuid.UUID) (int64, error) {
	result := GetDB(ctx, r.db).
		Where("merge_request_id = ?", mergeRequestID).
		Delete(&model.Approval{})
	return result.RowsAffected, result.Error
}
