package repository

import (
	"context"

	"backend/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type GroupRepository interface {
	Create(ctx context.Context, group *model.Group) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Group, error)
	Update(ctx context.Context, group *model.Group) error
	AddMember(ctx context.Context, member *model.GroupMember) error
}

type groupRepository struct {
	db *gorm.DB
}

func NewGroupRepository(db *gorm.DB) GroupRepository {
	return &groupRepository{db: db}
}

func (r *groupRepository) Create(ctx context.Context, group *model.Group) error {
	return GetDB(ctx, r.db).Create(group).Error
}

func (r *groupRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Group, error) {
	var group model.Group
	if err := GetDB(ctx, r.db).First(&group, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &group, nil
}

func (r *groupRepository) Update(ctx context.Context, group *model.Group) error {
	return GetDB(ctx, r.db).Save(group).Error
}

func (r *groupRepository) AddMember(ctx context.Context, member *model.GroupMember) error {
	return GetDB(ctx, r.db).Create(member).Error
}
