package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"backend/internal/model"
	"backend/internal/repository"

	"github.com/google/uuid"
)

// --- DTOs ---

type CreateProjectRequest struct {
	Name          string  `json:"name" binding:"required"`
	GroupID       *string `json:"group_id"`
	DefaultBranch string  `json:"default_branch"`
}

// UpdateProjectSettingsRequest carries only the fields the caller wants to
// change; nil pointers leave the current value alone.
type UpdateProjectSettingsRequest struct {
	MergeRequestsAuthorApproval               *bool `json:"merge_requests_author_approval"`
	MergeRequestsDisableCommittersApproval    *bool `json:"merge_requests_disable_committers_approval"`
	RequirePasswordToApprove                  *bool `json:"require_password_to_approve"`
	DisableOverridingApproversPerMergeRequest *bool `json:"disable_overriding_approvers_per_merge_request"`
	MergeRequestApproversEnabled              *bool `json:"merge_request_approvers_enabled"`
	MultipleApprovalRulesEnabled              *bool `json:"multiple_approval_rules_enabled"`
	PolicyBranchMatchingEnabled               *bool `json:"policy_branch_matching_enabled"`
	SecurityPolicyManagementProject           *bool `json:"security_policy_management_project"`
}

type AddProjectMemberRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	AccessLevel int    `json:"access_level" binding:"required,oneof=10 20 30 40 50"`
}

type CreateProtectedBranchRequest struct {
	Name    string  `json:"name" binding:"required"`
	GroupID *string `json:"group_id"`
}

type CreateGroupRequest struct {
	Name                         string  `json:"name" binding:"required"`
	ParentID                     *string `json:"parent_id"`
	AllowAuthorApproval          *bool   `json:"allow_author_approval"`
	AllowAuthorApprovalLocked    bool    `json:"allow_author_approval_locked"`
	AllowCommitterApproval       *bool   `json:"allow_committer_approval"`
	AllowCommitterApprovalLocked bool    `json:"allow_committer_approval_locked"`
}

type AddGroupMemberRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	AccessLevel int    `json:"access_level" binding:"required,oneof=10 20 30 40 50"`
}

// ProjectService manages project and group configuration: the settings the
// approval engine reads, memberships that feed eligibility, and the branch
// protections rules can target.
type ProjectService interface {
	CreateProject(ctx context.Context, req CreateProjectRequest, actorID *uuid.UUID) (*model.Project, error)
	GetProject(ctx context.Context, id uuid.UUID) (*model.Project, error)
	UpdateProjectSettings(ctx context.Context, id uuid.UUID, req UpdateProjectSettingsRequest, actorID *uuid.UUID) (*model.Project, error)
	AddMember(ctx context.Context, projectID uuid.UUID, req AddProjectMemberRequest) (*model.ProjectMember, error)
	RemoveMember(ctx context.Context, projectID, userID uuid.UUID) error
	AddProtectedBranch(ctx context.Context, projectID uuid.UUID, req CreateProtectedBranchRequest) (*model.ProtectedBranch, error)
	CreateGroup(ctx context.Context, req CreateGroupRequest) (*model.Group, error)
	AddGroupMember(ctx context.Context, groupID uuid.UUID, req AddGroupMemberRequest) (*model.GroupMember, error)
}

type projectService struct {
	projects  repository.ProjectRepository
	groups    repository.GroupRepository
	audit     repository.AuditRepository
	txManager repository.TransactionManager
}

func NewProjectService(
	projects repository.ProjectRepository,
	groups repository.GroupRepository,
	audit repository.AuditRepository,
	txManager repository.TransactionManager,
) ProjectService {
	return &projectService{
		projects:  projects,
		groups:    groups,
		audit:     audit,
		txManager: txManager,
	}
}

// --- Implementation ---

func (s *projectService) CreateProject(ctx context.Context, req CreateProjectRequest, actorID *uuid.UUID) (*model.Project, error) {
	project := &model.Project{
		Name:          req.Name,
		DefaultBranch: req.DefaultBranch,

		// Approver features are on unless the caller turns them off later.
		MergeRequestApproversEnabled: true,
		MultipleApprovalRulesEnabled: true,
		PolicyBranchMatchingEnabled:  true,
	}
	if project.DefaultBranch == "" {
		project.DefaultBranch = "main"
	}

	if req.GroupID != nil {
		groupID, err := uuid.Parse(*req.GroupID)
		if err != nil {
			return nil, fmt.Errorf("invalid group_id: %w", err)
		}
		if _, err := s.groups.FindByID(ctx, groupID); err != nil {
			return nil, errors.New("group not found")
		}
		project.GroupID = &groupID
	}

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if createErr := s.projects.Create(txCtx, project); createErr != nil {
			return fmt.Errorf("failed to create project: %w", createErr)
		}
		return s.logProjectAction(txCtx, actorID, model.ActionCreateProject, project, nil)
	})
	if err != nil {
		return nil, err
	}

	return project, nil
}

func (s *projectService) GetProject(ctx context.Context, id uuid.UUID) (*model.Project, error) {
	project, err := s.projects.FindByID(ctx, id)
	if err != nil {
		return nil, errors.New("project not found")
	}
	return project, nil
}

func (s *projectService) UpdateProjectSettings(ctx context.Context, id uuid.UUID, req UpdateProjectSettingsRequest, actorID *uuid.UUID) (*model.Project, error) {
	project, err := s.projects.FindByID(ctx, id)
	if err != nil {
		return nil, errors.New("project not found")
	}

	changes := map[string]interface{}{}
	apply := func(field string, target *bool, value *bool) {
		if value == nil || *target == *value {
			return
		}
		*target = *value
		changes[field] = *value
	}

	apply("merge_requests_author_approval", &project.MergeRequestsAuthorApproval, req.MergeRequestsAuthorApproval)
	apply("merge_requests_disable_committers_approval", &project.MergeRequestsDisableCommittersApproval, req.MergeRequestsDisableCommittersApproval)
	apply("require_password_to_approve", &project.RequirePasswordToApprove, req.RequirePasswordToApprove)
	apply("disable_overriding_approvers_per_merge_request", &project.DisableOverridingApproversPerMergeRequest, req.DisableOverridingApproversPerMergeRequest)
	apply("merge_request_approvers_enabled", &project.MergeRequestApproversEnabled, req.MergeRequestApproversEnabled)
	apply("multiple_approval_rules_enabled", &project.MultipleApprovalRulesEnabled, req.MultipleApprovalRulesEnabled)
	apply("policy_branch_matching_enabled", &project.PolicyBranchMatchingEnabled, req.PolicyBranchMatchingEnabled)
	apply("security_policy_management_project", &project.SecurityPolicyManagementProject, req.SecurityPolicyManagementProject)

	if len(changes) == 0 {
		return project, nil
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if saveErr := s.projects.Update(txCtx, project); saveErr != nil {
			return fmt.Errorf("failed to update project settings: %w", saveErr)
		}
		return s.logProjectAction(txCtx, actorID, model.ActionUpdateProjectSettings, project, changes)
	})
	if err != nil {
		return nil, err
	}

	return project, nil
}

func (s *projectService) AddMember(ctx context.Context, projectID uuid.UUID, req AddProjectMemberRequest) (*model.ProjectMember, error) {
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return nil, fmt.Errorf("invalid user_id: %w", err)
	}
	if _, err := s.projects.FindByID(ctx, projectID); err != nil {
		return nil, errors.New("project not found")
	}

	member := &model.ProjectMember{
		ProjectID:   projectID,
		UserID:      userID,
		AccessLevel: req.AccessLevel,
	}
	if err := s.projects.AddMember(ctx, member); err != nil {
		return nil, fmt.Errorf("failed to add member: %w", err)
	}
	return member, nil
}

func (s *projectService) RemoveMember(ctx context.Context, projectID, userID uuid.UUID) error {
	return s.projects.RemoveMember(ctx, projectID, userID)
}

func (s *projectService) AddProtectedBranch(ctx context.Context, projectID uuid.UUID, req CreateProtectedBranchRequest) (*model.ProtectedBranch, error) {
	branch := &model.ProtectedBranch{Name: req.Name}

	if req.GroupID != nil {
		groupID, err := uuid.Parse(*req.GroupID)
		if err != nil {
			return nil, fmt.Errorf("invalid group_id: %w", err)
		}
		branch.GroupID = &groupID
	} else {
		if _, err := s.projects.FindByID(ctx, projectID); err != nil {
			return nil, errors.New("project not found")
		}
		branch.ProjectID = &projectID
	}

	if err := s.projects.AddProtectedBranch(ctx, branch); err != nil {
		return nil, fmt.Errorf("failed to create protected branch: %w", err)
	}
	return branch, nil
}

func (s *projectService) CreateGroup(ctx context.Context, req CreateGroupRequest) (*model.Group, error) {
	group := &model.Group{
		Name:                         req.Name,
		AllowAuthorApproval:          req.AllowAuthorApproval,
		AllowAuthorApprovalLocked:    req.AllowAuthorApprovalLocked,
		AllowCommitterApproval:       req.AllowCommitterApproval,
		AllowCommitterApprovalLocked: req.AllowCommitterApprovalLocked,
	}

	if req.ParentID != nil {
		parentID, err := uuid.Parse(*req.ParentID)
		if err != nil {
			return nil, fmt.Errorf("invalid parent_id: %w", err)
		}
		if _, err := s.groups.FindByID(ctx, parentID); err != nil {
			return nil, errors.New("parent group not found")
		}
		group.ParentID = &parentID
	}

	if err := s.groups.Create(ctx, group); err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}
	return group, nil
}

func (s *projectService) AddGroupMember(ctx context.Context, groupID uuid.UUID, req AddGroupMemberRequest) (*model.GroupMember, error) {
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return nil, fmt.Errorf("invalid user_id: %w", err)
	}
	if _, err := s.groups.FindByID(ctx, groupID); err != nil {
		return nil, errors.New("group not found")
	}

	member := &model.GroupMember{
		GroupID:     groupID,
		UserID:      userID,
		AccessLevel: req.AccessLevel,
	}
	if err := s.groups.AddMember(ctx, member); err != nil {
		return nil, fmt.Errorf("failed to add group member: %w", err)
	}
	return member, nil
}

// --- Helpers ---

func (s *projectService) logProjectAction(ctx context.Context, actorID *uuid.UUID, action string, project *model.Project, payload map[string]interface{}) error {
	details := ""
	if payload != nil {
		raw, _ := json.Marshal(payload)
		details = string(raw)
	}
	entry := &model.AuditLog{
		UserID:     actorID,
		Action:     action,
		EntityID:   project.ID.String(),
		EntityName: project.Name,
		Details:    details,
	}
	if err := s.audit.Log(ctx, entry); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}
