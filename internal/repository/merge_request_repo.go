package repository

import (
	"context"

	"backend/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MergeRequestRepository interface {
	Create(ctx context.Context, mr *model.MergeRequest) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.MergeRequest, error)
	List(ctx context.Context, projectID uuid.UUID, state string, page, limit int) ([]model.MergeRequest, int64, error)
	Update(ctx context.Context, mr *model.MergeRequest) error
	AddCommit(ctx context.Context, commit *model.MergeRequestCommit) error
	CommitterIDs(ctx context.Context, mergeRequestID uuid.UUID) ([]uuid.UUID, error)
}

type mergeRequestRepository struct {
	db *gorm.DB
}

func NewMergeRequestRepository(db *gorm.DB) MergeRequestRepository {
	return &mergeRequestRepository{db: db}
}

func (r *mergeRequestRepository) Create(ctx context.Context, mr *model.MergeRequest) error {
	return GetDB(ctx, r.db).Create(mr).Error
}

func (r *mergeRequestRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.MergeRequest, error) {
	var mr model.MergeRequest
	if err := GetDB(ctx, r.db).
		Preload("Author").
		Preload("TargetProject").
		First(&mr, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &mr, nil
}

func (r *mergeRequestRepository) List(ctx context.Context, projectID uuid.UUID, state string, page, limit int) ([]model.MergeRequest, int64, error) {
	var mrs []model.MergeRequest
	var total int64

	db := GetDB(ctx, r.db)
	query := db.Model(&model.MergeRequest{}).Where("target_project_id = ?", projectID)
	if state != "" {
		query = query.Where("state = ?", state)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	fetchQuery := db.Preload("Author").Where("target_project_id = ?", projectID)
	if state != "" {
		fetchQuery = fetchQuery.Where("state = ?", state)
	}
	if err := fetchQuery.Order("created_at DESC").Offset(offset).Limit(limit).Find(&mrs).Error; err != nil {
		return nil, 0, err
	}

	return mrs, total, nil
}

func (r *mergeRequestRepository) Update(ctx context.Context, mr *model.MergeRequest) error {
	return GetDB(ctx, r.db).Save(mr).Error
}

func (r *mergeRequestRepository) AddCommit(ctx context.Context, commit *model.MergeRequestCommit) error {
	return GetDB(ctx, r.db).Create(commit).Error
}

// CommitterIDs returns the distinct users who authored commits on the merge
// request. Merge commits don't make their author a committer.
func (r *mergeRequestRepository) CommitterIDs(ctx context.Context, mergeRequestID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := GetDB(ctx, r.db).Model(&model.MergeRequestCommit{}).
		Where("merge_request_id = ? AND merge_commit = false", mergeRequestID).
		Distinct("committer_id").
		Pluck("committer_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
