package repository

import (
	"context"

	"backend/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ProjectRepository interface {
	Create(ctx context.Context, project *model.Project) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Project, error)
	Update(ctx context.Context, project *model.Project) error
	ListMembers(ctx context.Context, projectID uuid.UUID) ([]model.ProjectMember, error)
	AddMember(ctx context.Context, member *model.ProjectMember) error
	RemoveMember(ctx context.Context, projectID, userID uuid.UUID) error
	ListProtectedBranches(ctx context.Context, projectID uuid.UUID, groupIDs []uuid.UUID) ([]model.ProtectedBranch, error)
	AddProtectedBranch(ctx context.Context, branch *model.ProtectedBranch) error
	AncestorGroups(ctx context.Context, project *model.Project) ([]model.Group, error)
	GroupMembers(ctx context.Context, groupIDs []uuid.UUID) (map[uuid.UUID][]uuid.UUID, error)
}

type projectRepository struct {
	db *gorm.DB
}

func NewProjectRepository(db *gorm.DB) ProjectRepository {
	return &projectRepository{db: db}
}

func (r *projectRepository) Create(ctx context.Context, project *model.Project) error {
	return GetDB(ctx, r.db).Create(project).Error
}

func (r *projectRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Project, error) {
	var project model.Project
	if err := GetDB(ctx, r.db).First(&project, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &project, nil
}

func (r *projectRepository) Update(ctx context.Context, project *model.Project) error {
	return GetDB(ctx, r.db).Save(project).Error
}

func (r *projectRepository) ListMembers(ctx context.Context, projectID uuid.UUID) ([]model.ProjectMember, error) {
	var members []model.ProjectMember
	if err := GetDB(ctx, r.db).
		Where("project_id = ?", projectID).
		Find(&members).Error; err != nil {
		return nil, err
	}
	return members, nil
}

func (r *projectRepository) AddMember(ctx context.Context, member *model.ProjectMember) error {
	return GetDB(ctx, r.db).Create(member).Error
}

func (r *projectRepository) RemoveMember(ctx context.Context, projectID, userID uuid.UUID) error {
	return GetDB(ctx, r.db).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		Delete(&model.ProjectMember{}).Error
}

func (r *projectRepository) AddProtectedBranch(ctx context.Context, branch *model.ProtectedBranch) error {
	return GetDB(ctx, r.db).Create(branch).Error
}

// ListProtectedBranches returns the branch protections visible to the project:
// its own plus any inherited from its ancestor groups.
func (r *projectRepository) ListProtectedBranches(ctx context.Context, projectID uuid.UUID, groupIDs []uuid.UUID) ([]model.ProtectedBranch, error) {
	var branches []model.ProtectedBranch
	query := GetDB(ctx, r.db).Where("project_id = ?", projectID)
	if len(groupIDs) > 0 {
		query = query.Or("group_id IN ?", groupIDs)
	}
	if err := query.Find(&branches).Error; err != nil {
		return nil, err
	}
	return branches, nil
}

// AncestorGroups walks the group hierarchy from the project's namespace
// outward. The result is ordered nearest first; the last entry is the root
// group. Hierarchies are shallow in practice, so a loop of single lookups is
// fine here.
func (r *projectRepository) AncestorGroups(ctx context.Context, project *model.Project) ([]model.Group, error) {
	var groups []model.Group
	nextID := project.GroupID
	for nextID != nil {
		var group model.Group
		if err := GetDB(ctx, r.db).First(&group, "id = ?", *nextID).Error; err != nil {
			return nil, err
		}
		groups = append(groups, group)
		nextID = group.ParentID
	}
	return groups, nil
}

// GroupMembers batch-loads the member user ids of every given group in one
// query, keyed by group.
func (r *projectRepository) GroupMembers(ctx context.Context, groupIDs []uuid.UUID) (map[uuid.UUID][]uuid.UUID, error) {
	members := make(map[uuid.UUID][]uuid.UUID, len(groupIDs))
	if len(groupIDs) == 0 {
		return members, nil
	}

	var rows []model.GroupMember
	if err := GetDB(ctx, r.db).
		Where("group_id IN ?", groupIDs).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		members[row.GroupID] = append(members[row.GroupID], row.UserID)
	}
	return members, nil
}
