package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"backend/internal/approval"
	"backend/internal/model"
	"backend/internal/repository"

	"github.com/google/uuid"
)

// --- DTOs ---

type CreateRuleRequest struct {
	Name                          string   `json:"name" binding:"required"`
	RuleType                      string   `json:"rule_type" binding:"omitempty,oneof=regular any_approver code_owner report_approver"`
	ReportType                    *string  `json:"report_type" binding:"omitempty,oneof=license_scanning scan_finding code_coverage any_merge_request"`
	ApprovalsRequired             int      `json:"approvals_required" binding:"min=0"`
	UserIDs                       []string `json:"user_ids"`
	GroupIDs                      []string `json:"group_ids"`
	RoleApprovers                 []int    `json:"role_approvers"`
	ProtectedBranchNames          []string `json:"protected_branch_names"`
	AppliesToAllProtectedBranches bool     `json:"applies_to_all_protected_branches"`
	ApprovalProjectRuleID         *string  `json:"approval_project_rule_id"`
}

type UpdateRuleRequest struct {
	Name              *string  `json:"name"`
	ApprovalsRequired *int     `json:"approvals_required" binding:"omitempty,min=0"`
	UserIDs           []string `json:"user_ids"`
	GroupIDs          []string `json:"group_ids"`
}

type RuleResponse struct {
	ID                string   `json:"id"`
	ProjectID         *string  `json:"project_id,omitempty"`
	MergeRequestID    *string  `json:"merge_request_id,omitempty"`
	Name              string   `json:"name"`
	RuleType          string   `json:"rule_type"`
	ReportType        *string  `json:"report_type,omitempty"`
	Section           string   `json:"section,omitempty"`
	ApprovalsRequired int      `json:"approvals_required"`
	UserIDs           []string `json:"user_ids"`
	GroupIDs          []string `json:"group_ids"`
	RoleApprovers     []int    `json:"role_approvers,omitempty"`
	CreatedAt         string   `json:"created_at"`
}

// ApprovalRuleService owns rule lifecycle: creation with uniqueness and
// role-approver validation, project-to-merge-request synchronization, and the
// find-or-create path the code-owner importer uses.
type ApprovalRuleService interface {
	CreateProjectRule(ctx context.Context, projectID uuid.UUID, req CreateRuleRequest, actorID *uuid.UUID) (*RuleResponse, error)
	CreateMergeRequestRule(ctx context.Context, mergeRequestID uuid.UUID, req CreateRuleRequest, actorID *uuid.UUID) (*RuleResponse, error)
	UpdateRule(ctx context.Context, ruleID uuid.UUID, req UpdateRuleRequest, actorID *uuid.UUID) (*RuleResponse, error)
	DeleteRule(ctx context.Context, ruleID uuid.UUID, actorID *uuid.UUID) error
	ListProjectRules(ctx context.Context, projectID uuid.UUID) ([]RuleResponse, error)
	ListMergeRequestRules(ctx context.Context, mergeRequestID uuid.UUID) ([]RuleResponse, error)
	SyncRulesToMergeRequest(ctx context.Context, mergeRequestID uuid.UUID) ([]RuleResponse, error)
	FindOrCreateCodeOwnerRule(ctx context.Context, mergeRequestID uuid.UUID, name, section string) (*RuleResponse, error)
}

type approvalRuleService struct {
	rules         repository.ApprovalRuleRepository
	mergeRequests repository.MergeRequestRepository
	projects      repository.ProjectRepository
	audit         repository.AuditRepository
	txManager     repository.TransactionManager
}

func NewApprovalRuleService(
	rules repository.ApprovalRuleRepository,
	mergeRequests repository.MergeRequestRepository,
	projects repository.ProjectRepository,
	audit repository.AuditRepository,
	txManager repository.TransactionManager,
) ApprovalRuleService {
	return &approvalRuleService{
		rules:         rules,
		mergeRequests: mergeRequests,
		projects:      projects,
		audit:         audit,
		txManager:     txManager,
	}
}

// --- Validation ---

// validateRoleApprovers enforces that role pools only appear on code-owner
// rules and only reference known access levels.
func validateRoleApprovers(ruleType string, roleApprovers []int) error {
	if len(roleApprovers) == 0 {
		return nil
	}
	if ruleType != model.RuleTypeCodeOwner {
		return errors.New("role_approvers can only be added to codeowner type rules")
	}
	for _, level := range roleApprovers {
		valid := false
		for _, allowed := range model.ValidAccessLevels {
			if level == allowed {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("role_approvers %d is not included in the list", level)
		}
	}
	return nil
}

func (s *approvalRuleService) validateAnyApproverUniqueness(ctx context.Context, projectID, mergeRequestID *uuid.UUID) error {
	if projectID != nil {
		exists, err := s.rules.AnyApproverExistsForProject(ctx, *projectID)
		if err != nil {
			return err
		}
		if exists {
			return errors.New("any-approver for the project already exists")
		}
	}
	if mergeRequestID != nil {
		exists, err := s.rules.AnyApproverExistsForMergeRequest(ctx, *mergeRequestID)
		if err != nil {
			return err
		}
		if exists {
			return errors.New("any-approver for the merge request already exists")
		}
	}
	return nil
}

// --- Implementation ---

func (s *approvalRuleService) CreateProjectRule(ctx context.Context, projectID uuid.UUID, req CreateRuleRequest, actorID *uuid.UUID) (*RuleResponse, error) {
	rule, err := s.buildRule(req)
	if err != nil {
		return nil, err
	}
	rule.ProjectID = &projectID

	if rule.AnyApprover() {
		if err := s.validateAnyApproverUniqueness(ctx, &projectID, nil); err != nil {
			return nil, err
		}
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if createErr := s.rules.Create(txCtx, rule); createErr != nil {
			return fmt.Errorf("failed to create project rule: %w", createErr)
		}
		return s.logRuleAction(txCtx, actorID, model.ActionCreateProjectRule, rule)
	})
	if err != nil {
		return nil, err
	}

	return toRuleResponse(rule), nil
}

func (s *approvalRuleService) CreateMergeRequestRule(ctx context.Context, mergeRequestID uuid.UUID, req CreateRuleRequest, actorID *uuid.UUID) (*RuleResponse, error) {
	mr, err := s.mergeRequests.FindByID(ctx, mergeRequestID)
	if err != nil {
		return nil, fmt.Errorf("merge request not found: %w", err)
	}

	rule, err := s.buildRule(req)
	if err != nil {
		return nil, err
	}
	rule.MergeRequestID = &mergeRequestID

	// A merge request rule may reference the project template it was copied
	// from, but never a rule belonging to some other project.
	if req.ApprovalProjectRuleID != nil {
		sourceID, parseErr := uuid.Parse(*req.ApprovalProjectRuleID)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid approval_project_rule_id: %w", parseErr)
		}
		source, findErr := s.rules.FindByID(ctx, sourceID)
		if findErr != nil {
			return nil, fmt.Errorf("source rule not found: %w", findErr)
		}
		if source.ProjectID == nil || *source.ProjectID != mr.TargetProjectID {
			return nil, errors.New("approval_project_rule_id must reference a rule of the target project")
		}
		rule.ApprovalProjectRuleID = &sourceID
	}

	if rule.AnyApprover() {
		if err := s.validateAnyApproverUniqueness(ctx, nil, &mergeRequestID); err != nil {
			return nil, err
		}
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if createErr := s.rules.Create(txCtx, rule); createErr != nil {
			return fmt.Errorf("failed to create merge request rule: %w", createErr)
		}
		return s.logRuleAction(txCtx, actorID, model.ActionCreateMergeRule, rule)
	})
	if err != nil {
		return nil, err
	}

	return toRuleResponse(rule), nil
}

func (s *approvalRuleService) UpdateRule(ctx context.Context, ruleID uuid.UUID, req UpdateRuleRequest, actorID *uuid.UUID) (*RuleResponse, error) {
	rule, err := s.rules.FindByID(ctx, ruleID)
	if err != nil {
		return nil, fmt.Errorf("rule not found: %w", err)
	}

	if req.Name != nil && *req.Name != "" {
		rule.Name = *req.Name
	}
	if req.ApprovalsRequired != nil {
		rule.ApprovalsRequired = *req.ApprovalsRequired
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if saveErr := s.rules.Update(txCtx, rule); saveErr != nil {
			return fmt.Errorf("failed to update rule: %w", saveErr)
		}
		if req.UserIDs != nil {
			users, buildErr := usersFromIDs(req.UserIDs)
			if buildErr != nil {
				return buildErr
			}
			if replaceErr := s.rules.ReplaceUsers(txCtx, rule, users); replaceErr != nil {
				return fmt.Errorf("failed to replace rule users: %w", replaceErr)
			}
		}
		if req.GroupIDs != nil {
			groups, buildErr := groupsFromIDs(req.GroupIDs)
			if buildErr != nil {
				return buildErr
			}
			if replaceErr := s.rules.ReplaceGroups(txCtx, rule, groups); replaceErr != nil {
				return fmt.Errorf("failed to replace rule groups: %w", replaceErr)
			}
		}
		return s.logRuleAction(txCtx, actorID, model.ActionUpdateRule, rule)
	})
	if err != nil {
		return nil, err
	}

	// Reload associations after replacement.
	rule, err = s.rules.FindByID(ctx, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload rule: %w", err)
	}
	return toRuleResponse(rule), nil
}

func (s *approvalRuleService) DeleteRule(ctx context.Context, ruleID uuid.UUID, actorID *uuid.UUID) error {
	rule, err := s.rules.FindByID(ctx, ruleID)
	if err != nil {
		return fmt.Errorf("rule not found: %w", err)
	}

	return s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if deleteErr := s.rules.Delete(txCtx, ruleID); deleteErr != nil {
			return fmt.Errorf("failed to delete rule: %w", deleteErr)
		}
		return s.logRuleAction(txCtx, actorID, model.ActionDeleteRule, rule)
	})
}

func (s *approvalRuleService) ListProjectRules(ctx context.Context, projectID uuid.UUID) ([]RuleResponse, error) {
	rules, err := s.rules.ListForProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return toRuleResponses(rules), nil
}

func (s *approvalRuleService) ListMergeRequestRules(ctx context.Context, mergeRequestID uuid.UUID) ([]RuleResponse, error) {
	rules, err := s.rules.ListForMergeRequest(ctx, mergeRequestID)
	if err != nil {
		return nil, err
	}
	return toRuleResponses(rules), nil
}

// SyncRulesToMergeRequest copies the project's template rules that apply to
// the merge request's target branch onto the merge request, preserving the
// back-reference to the source rule. Applicability uses the same branch
// scoping the evaluation engine uses (protected-branch lists, protection-wide
// flags, policy reads), and the scoping fields travel with the copy so the
// rule stays correctly scoped if the target branch changes later.
// Already-synced templates are skipped.
func (s *approvalRuleService) SyncRulesToMergeRequest(ctx context.Context, mergeRequestID uuid.UUID) ([]RuleResponse, error) {
	mr, err := s.mergeRequests.FindByID(ctx, mergeRequestID)
	if err != nil {
		return nil, fmt.Errorf("merge request not found: %w", err)
	}

	project, err := s.projects.FindByID(ctx, mr.TargetProjectID)
	if err != nil {
		return nil, fmt.Errorf("target project not found: %w", err)
	}

	groups, err := s.projects.AncestorGroups(ctx, project)
	if err != nil {
		return nil, err
	}
	groupIDs := make([]uuid.UUID, 0, len(groups))
	for _, g := range groups {
		groupIDs = append(groupIDs, g.ID)
	}
	protectedBranches, err := s.projects.ListProtectedBranches(ctx, project.ID, groupIDs)
	if err != nil {
		return nil, err
	}

	projectRules, err := s.rules.ListForProject(ctx, mr.TargetProjectID)
	if err != nil {
		return nil, err
	}

	existing, err := s.rules.ListForMergeRequest(ctx, mergeRequestID)
	if err != nil {
		return nil, err
	}
	synced := make(map[uuid.UUID]struct{}, len(existing))
	for i := range existing {
		if existing[i].ApprovalProjectRuleID != nil {
			synced[*existing[i].ApprovalProjectRuleID] = struct{}{}
		}
	}

	snap := &approval.Snapshot{
		MergeRequest:      *mr,
		Project:           *project,
		ProtectedBranches: protectedBranches,
		PolicyReads:       policyReadsByID(projectRules),
	}

	var created []model.ApprovalRule
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		for i := range projectRules {
			source := projectRules[i]
			if _, ok := synced[source.ID]; ok {
				continue
			}
			if !snap.RuleAppliesToBranch(&source, mr.TargetBranch) {
				continue
			}

			sourceID := source.ID
			copied := model.ApprovalRule{
				MergeRequestID:                &mergeRequestID,
				ApprovalProjectRuleID:         &sourceID,
				RuleType:                      source.RuleType,
				ReportType:                    source.ReportType,
				Name:                          source.Name,
				Section:                       source.Section,
				ApprovalsRequired:             source.ApprovalsRequired,
				Users:                         source.Users,
				Groups:                        source.Groups,
				ProtectedBranches:             source.ProtectedBranches,
				RoleApprovers:                 source.RoleApprovers,
				AppliesToAllProtectedBranches: source.AppliesToAllProtectedBranches,
				SecurityOrchestrationPolicyConfigurationID: source.SecurityOrchestrationPolicyConfigurationID,
				OrchestrationPolicyIdx:                     source.OrchestrationPolicyIdx,
				ApprovalPolicyActionIdx:                    source.ApprovalPolicyActionIdx,
				ScanResultPolicyReadID:                     source.ScanResultPolicyReadID,
			}
			if createErr := s.rules.Create(txCtx, &copied); createErr != nil {
				return fmt.Errorf("failed to copy rule %q: %w", source.Name, createErr)
			}
			created = append(created, copied)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return toRuleResponses(created), nil
}

// policyReadsByID collects the policy reads preloaded on the rules, keyed by
// id, so branch scoping can resolve them without further queries.
func policyReadsByID(rules []model.ApprovalRule) map[uuid.UUID]model.ScanResultPolicyRead {
	reads := make(map[uuid.UUID]model.ScanResultPolicyRead)
	for i := range rules {
		if read := rules[i].ScanResultPolicyRead; read != nil {
			reads[read.ID] = *read
		}
	}
	return reads
}

// FindOrCreateCodeOwnerRule returns the merge request's code-owner rule for
// the given ownership entry, creating it when missing. A concurrent creator
// can win the race on the uniqueness index; in that case the lookup is retried
// once and returns the winner's row.
func (s *approvalRuleService) FindOrCreateCodeOwnerRule(ctx context.Context, mergeRequestID uuid.UUID, name, section string) (*RuleResponse, error) {
	if section == "" {
		section = model.DefaultCodeOwnerSection
	}

	rule, err := s.rules.FindCodeOwnerRule(ctx, mergeRequestID, name, section)
	if err == nil {
		return toRuleResponse(rule), nil
	}

	fresh := &model.ApprovalRule{
		MergeRequestID: &mergeRequestID,
		RuleType:       model.RuleTypeCodeOwner,
		Name:           name,
		Section:        section,
	}
	createErr := s.rules.Create(ctx, fresh)
	if createErr == nil {
		return toRuleResponse(fresh), nil
	}

	if !isUniquenessViolation(createErr) {
		return nil, fmt.Errorf("failed to create code owner rule: %w", createErr)
	}

	rule, err = s.rules.FindCodeOwnerRule(ctx, mergeRequestID, name, section)
	if err != nil {
		return nil, fmt.Errorf("code owner rule vanished after conflict: %w", err)
	}
	return toRuleResponse(rule), nil
}

// isUniquenessViolation sniffs the postgres unique-constraint error. gorm does
// not normalize this across drivers, so a string check it is.
func isUniquenessViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "SQLSTATE 23505")
}

// --- Helpers ---

func (s *approvalRuleService) buildRule(req CreateRuleRequest) (*model.ApprovalRule, error) {
	ruleType := req.RuleType
	if ruleType == "" {
		ruleType = model.RuleTypeRegular
	}
	if err := validateRoleApprovers(ruleType, req.RoleApprovers); err != nil {
		return nil, err
	}

	users, err := usersFromIDs(req.UserIDs)
	if err != nil {
		return nil, err
	}
	groups, err := groupsFromIDs(req.GroupIDs)
	if err != nil {
		return nil, err
	}

	rule := &model.ApprovalRule{
		RuleType:                      ruleType,
		ReportType:                    req.ReportType,
		Name:                          req.Name,
		ApprovalsRequired:             req.ApprovalsRequired,
		Users:                         users,
		Groups:                        groups,
		RoleApprovers:                 req.RoleApprovers,
		AppliesToAllProtectedBranches: req.AppliesToAllProtectedBranches,
	}
	for _, name := range req.ProtectedBranchNames {
		rule.ProtectedBranches = append(rule.ProtectedBranches, model.ProtectedBranch{Name: name})
	}
	return rule, nil
}

func (s *approvalRuleService) logRuleAction(ctx context.Context, actorID *uuid.UUID, action string, rule *model.ApprovalRule) error {
	details, _ := json.Marshal(map[string]interface{}{
		"rule_type":          rule.RuleType,
		"approvals_required": rule.ApprovalsRequired,
	})
	entry := &model.AuditLog{
		UserID:     actorID,
		Action:     action,
		EntityID:   rule.ID.String(),
		EntityName: rule.Name,
		Details:    string(details),
	}
	if err := s.audit.Log(ctx, entry); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

func usersFromIDs(ids []string) ([]model.User, error) {
	users := make([]model.User, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q: %w", raw, err)
		}
		users = append(users, model.User{ID: id})
	}
	return users, nil
}

func groupsFromIDs(ids []string) ([]model.Group, error) {
	groups := make([]model.Group, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid group id %q: %w", raw, err)
		}
		groups = append(groups, model.Group{ID: id})
	}
	return groups, nil
}

func toRuleResponse(rule *model.ApprovalRule) *RuleResponse {
	resp := &RuleResponse{
		ID:                rule.ID.String(),
		Name:              rule.Name,
		RuleType:          rule.RuleType,
		ReportType:        rule.ReportType,
		Section:           rule.Section,
		ApprovalsRequired: rule.ApprovalsRequired,
		RoleApprovers:     rule.RoleApprovers,
		CreatedAt:         formatTimestamp(rule.CreatedAt),
	}
	if rule.ProjectID != nil {
		s := rule.ProjectID.String()
		resp.ProjectID = &s
	}
	if rule.MergeRequestID != nil {
		s := rule.MergeRequestID.String()
		resp.MergeRequestID = &s
	}
	resp.UserIDs = make([]string, 0, len(rule.Users))
	for _, u := range rule.Users {
		resp.UserIDs = append(resp.UserIDs, u.ID.String())
	}
	resp.GroupIDs = make([]string, 0, len(rule.Groups))
	for _, g := range rule.Groups {
		resp.GroupIDs = append(resp.GroupIDs, g.ID.String())
	}
	return resp
}

func toRuleResponses(rules []model.ApprovalRule) []RuleResponse {
	out := make([]RuleResponse, 0, len(rules))
	for i := range rules {
		out = append(out, *toRuleResponse(&rules[i]))
	}
	return out
}
