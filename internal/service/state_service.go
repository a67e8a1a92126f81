package service

import (
	"context"
	"fmt"
	"time"

	"backend/internal/approval"
	"backend/internal/model"
	"backend/internal/repository"

	"github.com/google/uuid"
)

// --- DTOs ---

type WrappedRuleResponse struct {
	ID                    string   `json:"id"`
	Name                  string   `json:"name"`
	RuleType              string   `json:"rule_type"`
	ReportType            *string  `json:"report_type,omitempty"`
	Section               string   `json:"section,omitempty"`
	ApprovalsRequired     int      `json:"approvals_required"`
	ApprovalsLeft         int      `json:"approvals_left"`
	Approved              bool     `json:"approved"`
	Invalid               bool     `json:"invalid"`
	AllowMergeWhenInvalid bool     `json:"allow_merge_when_invalid"`
	Approvers             []string `json:"approvers"`
	ApprovedBy            []string `json:"approved_by"`
}

type ApprovalStateResponse struct {
	MergeRequestID           string                `json:"merge_request_id"`
	Approved                 bool                  `json:"approved"`
	ApprovalNeeded           bool                  `json:"approval_needed"`
	ApprovalsRequired        int                   `json:"approvals_required"`
	ApprovalsLeft            int                   `json:"approvals_left"`
	ApprovalRulesOverwritten bool                  `json:"approval_rules_overwritten"`
	AuthorsCanApprove        bool                  `json:"authors_can_approve"`
	CommittersCanApprove     bool                  `json:"committers_can_approve"`
	RequirePasswordToApprove bool                  `json:"require_password_to_approve"`
	TemporarilyUnapproved    bool                  `json:"temporarily_unapproved"`
	Rules                    []WrappedRuleResponse `json:"rules"`
	InvalidRules             []string              `json:"invalid_rules,omitempty"`
	UnactionedApprovers      []string              `json:"unactioned_approvers"`
}

// ApprovalStateService assembles the evaluation snapshot for a merge request
// and exposes its computed approval state. Everything the engine needs is
// loaded up front in a handful of batch queries; the engine itself never
// touches the database.
type ApprovalStateService interface {
	GetApprovalState(ctx context.Context, mergeRequestID uuid.UUID) (*ApprovalStateResponse, error)
	GetApprovalStateForBranch(ctx context.Context, mergeRequestID uuid.UUID, targetBranch string) (*ApprovalStateResponse, error)
	LoadState(ctx context.Context, mergeRequestID uuid.UUID) (*approval.State, error)
	LoadStateForBranch(ctx context.Context, mergeRequestID uuid.UUID, targetBranch string) (*approval.State, error)
	EligibleForApprovalBy(ctx context.Context, mergeRequestID, userID uuid.UUID) (bool, error)
}

type approvalStateService struct {
	mergeRequests repository.MergeRequestRepository
	projects      repository.ProjectRepository
	rules         repository.ApprovalRuleRepository
	approvals     repository.ApprovalRepository
	policies      repository.PolicyRepository
	flags         approval.FlagStore
}

func NewApprovalStateService(
	mergeRequests repository.MergeRequestRepository,
	projects repository.ProjectRepository,
	rules repository.ApprovalRuleRepository,
	approvals repository.ApprovalRepository,
	policies repository.PolicyRepository,
	flags approval.FlagStore,
) ApprovalStateService {
	return &approvalStateService{
		mergeRequests: mergeRequests,
		projects:      projects,
		rules:         rules,
		approvals:     approvals,
		policies:      policies,
		flags:         flags,
	}
}

// loadSnapshot gathers every input the engine evaluates over.
func (s *approvalStateService) loadSnapshot(ctx context.Context, mergeRequestID uuid.UUID) (*approval.Snapshot, error) {
	mr, err := s.mergeRequests.FindByID(ctx, mergeRequestID)
	if err != nil {
		return nil, fmt.Errorf("merge request not found: %w", err)
	}

	project, err := s.projects.FindByID(ctx, mr.TargetProjectID)
	if err != nil {
		return nil, fmt.Errorf("project not found: %w", err)
	}

	groups, err := s.projects.AncestorGroups(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("failed to load ancestor groups: %w", err)
	}

	mrRules, err := s.rules.ListForMergeRequest(ctx, mergeRequestID)
	if err != nil {
		return nil, fmt.Errorf("failed to load merge request rules: %w", err)
	}

	projectRules, err := s.rules.ListForProject(ctx, mr.TargetProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load project rules: %w", err)
	}

	approvals, err := s.approvals.ListForMergeRequest(ctx, mergeRequestID)
	if err != nil {
		return nil, fmt.Errorf("failed to load approvals: %w", err)
	}

	committers, err := s.mergeRequests.CommitterIDs(ctx, mergeRequestID)
	if err != nil {
		return nil, fmt.Errorf("failed to load committers: %w", err)
	}

	groupIDs := make([]uuid.UUID, 0, len(groups))
	for _, g := range groups {
		groupIDs = append(groupIDs, g.ID)
	}

	protectedBranches, err := s.projects.ListProtectedBranches(ctx, mr.TargetProjectID, groupIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load protected branches: %w", err)
	}

	violations, err := s.policies.ListViolationsForMergeRequest(ctx, mergeRequestID)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy violations: %w", err)
	}

	reads, err := s.policies.ListReadsForProject(ctx, mr.TargetProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy reads: %w", err)
	}
	readMap := make(map[uuid.UUID]model.ScanResultPolicyRead, len(reads))
	for _, read := range reads {
		readMap[read.ID] = read
	}

	members, err := s.projects.ListMembers(ctx, mr.TargetProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load project members: %w", err)
	}

	// One batch query for every group referenced as an approver source.
	ruleGroupIDs := collectRuleGroupIDs(mrRules, projectRules)
	groupMembers, err := s.projects.GroupMembers(ctx, ruleGroupIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load group members: %w", err)
	}

	return &approval.Snapshot{
		MergeRequest:      *mr,
		Project:           *project,
		AncestorGroups:    groups,
		MergeRequestRules: mrRules,
		ProjectRules:      projectRules,
		Approvals:         approvals,
		Committers:        committers,
		ProtectedBranches: protectedBranches,
		Violations:        violations,
		PolicyReads:       readMap,
		GroupMembers:      groupMembers,
		ProjectMembers:    members,
	}, nil
}

func collectRuleGroupIDs(ruleSets ...[]model.ApprovalRule) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	var ids []uuid.UUID
	for _, rules := range ruleSets {
		for i := range rules {
			for _, g := range rules[i].Groups {
				if _, ok := seen[g.ID]; ok {
					continue
				}
				seen[g.ID] = struct{}{}
				ids = append(ids, g.ID)
			}
		}
	}
	return ids
}

func (s *approvalStateService) LoadState(ctx context.Context, mergeRequestID uuid.UUID) (*approval.State, error) {
	snap, err := s.loadSnapshot(ctx, mergeRequestID)
	if err != nil {
		return nil, err
	}
	return approval.NewState(snap, s.flags), nil
}

func (s *approvalStateService) LoadStateForBranch(ctx context.Context, mergeRequestID uuid.UUID, targetBranch string) (*approval.State, error) {
	snap, err := s.loadSnapshot(ctx, mergeRequestID)
	if err != nil {
		return nil, err
	}
	return approval.NewStateForBranch(snap, s.flags, targetBranch), nil
}

func (s *approvalStateService) GetApprovalState(ctx context.Context, mergeRequestID uuid.UUID) (*ApprovalStateResponse, error) {
	state, err := s.LoadState(ctx, mergeRequestID)
	if err != nil {
		return nil, err
	}
	return toStateResponse(mergeRequestID, state), nil
}

func (s *approvalStateService) GetApprovalStateForBranch(ctx context.Context, mergeRequestID uuid.UUID, targetBranch string) (*ApprovalStateResponse, error) {
	state, err := s.LoadStateForBranch(ctx, mergeRequestID, targetBranch)
	if err != nil {
		return nil, err
	}
	return toStateResponse(mergeRequestID, state), nil
}

func (s *approvalStateService) EligibleForApprovalBy(ctx context.Context, mergeRequestID, userID uuid.UUID) (bool, error) {
	state, err := s.LoadState(ctx, mergeRequestID)
	if err != nil {
		return false, err
	}
	return state.EligibleForApprovalBy(&userID), nil
}

// --- Helpers ---

func toStateResponse(mergeRequestID uuid.UUID, state *approval.State) *ApprovalStateResponse {
	resp := &ApprovalStateResponse{
		MergeRequestID:           mergeRequestID.String(),
		Approved:                 state.Approved(),
		ApprovalNeeded:           state.ApprovalNeeded(),
		ApprovalsRequired:        state.ApprovalsRequired(),
		ApprovalsLeft:            state.ApprovalsLeft(),
		ApprovalRulesOverwritten: state.ApprovalRulesOverwritten(),
		AuthorsCanApprove:        state.AuthorsCanApprove(),
		CommittersCanApprove:     state.CommittersCanApprove(),
		RequirePasswordToApprove: state.RequirePasswordToApprove(),
		TemporarilyUnapproved:    state.TemporarilyUnapproved(),
		UnactionedApprovers:      idStrings(state.UnactionedApprovers()),
	}

	for _, w := range state.WrappedRules() {
		resp.Rules = append(resp.Rules, WrappedRuleResponse{
			ID:                    w.Rule.ID.String(),
			Name:                  w.Name(),
			RuleType:              w.Rule.RuleType,
			ReportType:            w.Rule.ReportType,
			Section:               w.Rule.Section,
			ApprovalsRequired:     w.ApprovalsRequired(),
			ApprovalsLeft:         w.ApprovalsLeft(),
			Approved:              w.Approved(),
			Invalid:               w.InvalidRule(),
			AllowMergeWhenInvalid: w.AllowMergeWhenInvalid(),
			Approvers:             idStrings(w.Approvers()),
			ApprovedBy:            idStrings(w.ApprovedApprovers()),
		})
	}

	for _, w := range state.InvalidApproversRules() {
		resp.InvalidRules = append(resp.InvalidRules, w.Name())
	}

	return resp
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

// formatTimestamp keeps the API's timestamp rendering in one place.
func formatTimestamp(t time.Time) string {
	return t.Format(time.RFC3339)
}
