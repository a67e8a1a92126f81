package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"backend/internal/model"
	"backend/internal/repository"
	"backend/internal/websocket"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// --- DTOs ---

type CreateMergeRequestDTO struct {
	Title           string `json:"title" binding:"required"`
	TargetProjectID string `json:"target_project_id" binding:"required"`
	SourceBranch    string `json:"source_branch" binding:"required"`
	TargetBranch    string `json:"target_branch" binding:"required"`
}

type ApproveDTO struct {
	// Required only when the project or a violated policy demands password
	// confirmation.
	Password string `json:"password"`
}

type PushDTO struct {
	SHA         string `json:"sha" binding:"required"`
	CommitterID string `json:"committer_id" binding:"required"`
	MergeCommit bool   `json:"merge_commit"`
}

type MergeRequestResponse struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	ProjectID    string  `json:"project_id"`
	AuthorID     string  `json:"author_id"`
	SourceBranch string  `json:"source_branch"`
	TargetBranch string  `json:"target_branch"`
	State        string  `json:"state"`
	MergedAt     *string `json:"merged_at,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

// MergeApprovalService drives the approval workflow around the evaluation
// engine: recording and revoking approvals, resetting them after pushes, and
// gating the merge itself.
type MergeApprovalService interface {
	CreateMergeRequest(ctx context.Context, authorID uuid.UUID, req CreateMergeRequestDTO) (*MergeRequestResponse, error)
	ListMergeRequests(ctx context.Context, projectID uuid.UUID, state string, page, limit int) ([]MergeRequestResponse, int64, error)
	Approve(ctx context.Context, mergeRequestID, userID uuid.UUID, req ApproveDTO) (*ApprovalStateResponse, error)
	Unapprove(ctx context.Context, mergeRequestID, userID uuid.UUID) (*ApprovalStateResponse, error)
	HandlePush(ctx context.Context, mergeRequestID uuid.UUID, req PushDTO) (*ApprovalStateResponse, error)
	Merge(ctx context.Context, mergeRequestID, userID uuid.UUID) (*MergeRequestResponse, error)
	ExpireUnapprovedFlag(ctx context.Context, mergeRequestID uuid.UUID) error
}

type mergeApprovalService struct {
	state         ApprovalStateService
	mergeRequests repository.MergeRequestRepository
	approvals     repository.ApprovalRepository
	users         repository.UserRepository
	rules         ApprovalRuleService
	audit         repository.AuditRepository
	txManager     repository.TransactionManager
	hub           *websocket.Hub // optional
}

func NewMergeApprovalService(
	state ApprovalStateService,
	mergeRequests repository.MergeRequestRepository,
	approvals repository.ApprovalRepository,
	users repository.UserRepository,
	rules ApprovalRuleService,
	audit repository.AuditRepository,
	txManager repository.TransactionManager,
	hub *websocket.Hub,
) MergeApprovalService {
	return &mergeApprovalService{
		state:         state,
		mergeRequests: mergeRequests,
		approvals:     approvals,
		users:         users,
		rules:         rules,
		audit:         audit,
		txManager:     txManager,
		hub:           hub,
	}
}

// --- Implementation ---

// CreateMergeRequest opens a merge request and copies the project's applicable
// template rules onto it in the same breath, so its approval state is complete
// from the first evaluation.
func (s *mergeApprovalService) CreateMergeRequest(ctx context.Context, authorID uuid.UUID, req CreateMergeRequestDTO) (*MergeRequestResponse, error) {
	projectID, err := uuid.Parse(req.TargetProjectID)
	if err != nil {
		return nil, fmt.Errorf("invalid target_project_id: %w", err)
	}

	mr := &model.MergeRequest{
		Title:           req.Title,
		TargetProjectID: projectID,
		SourceProjectID: projectID,
		AuthorID:        authorID,
		SourceBranch:    req.SourceBranch,
		TargetBranch:    req.TargetBranch,
		State:           model.MergeRequestOpened,
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if createErr := s.mergeRequests.Create(txCtx, mr); createErr != nil {
			return fmt.Errorf("failed to create merge request: %w", createErr)
		}
		return s.logAction(txCtx, &authorID, model.ActionCreateMergeRequest, mr.ID.String(), mr.Title, map[string]interface{}{
			"source_branch": mr.SourceBranch,
			"target_branch": mr.TargetBranch,
		})
	})
	if err != nil {
		return nil, err
	}

	if _, syncErr := s.rules.SyncRulesToMergeRequest(ctx, mr.ID); syncErr != nil {
		return nil, fmt.Errorf("failed to sync approval rules: %w", syncErr)
	}

	return toMergeRequestResponse(mr), nil
}

func (s *mergeApprovalService) ListMergeRequests(ctx context.Context, projectID uuid.UUID, state string, page, limit int) ([]MergeRequestResponse, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}

	mrs, total, err := s.mergeRequests.List(ctx, projectID, state, page, limit)
	if err != nil {
		return nil, 0, err
	}

	responses := make([]MergeRequestResponse, 0, len(mrs))
	for i := range mrs {
		responses = append(responses, *toMergeRequestResponse(&mrs[i]))
	}
	return responses, total, nil
}

func (s *mergeApprovalService) Approve(ctx context.Context, mergeRequestID, userID uuid.UUID, req ApproveDTO) (*ApprovalStateResponse, error) {
	state, err := s.state.LoadState(ctx, mergeRequestID)
	if err != nil {
		return nil, err
	}

	if !state.EligibleForApprovalBy(&userID) {
		return nil, errors.New("user is not eligible to approve this merge request")
	}

	if state.RequirePasswordToApprove() {
		if verifyErr := s.verifyPassword(ctx, userID, req.Password); verifyErr != nil {
			return nil, verifyErr
		}
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		approval := &model.Approval{
			MergeRequestID: mergeRequestID,
			UserID:         userID,
		}
		if createErr := s.approvals.Create(txCtx, approval); createErr != nil {
			return fmt.Errorf("failed to record approval: %w", createErr)
		}
		return s.logAction(txCtx, &userID, model.ActionApproveMR, mergeRequestID.String(), "", nil)
	})
	if err != nil {
		return nil, err
	}

	s.broadcast("merge_request.approved", mergeRequestID)
	return s.state.GetApprovalState(ctx, mergeRequestID)
}

func (s *mergeApprovalService) Unapprove(ctx context.Context, mergeRequestID, userID uuid.UUID) (*ApprovalStateResponse, error) {
	exists, err := s.approvals.Exists(ctx, mergeRequestID, userID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.New("no approval to revoke")
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if deleteErr := s.approvals.Delete(txCtx, mergeRequestID, userID); deleteErr != nil {
			return fmt.Errorf("failed to revoke approval: %w", deleteErr)
		}
		return s.logAction(txCtx, &userID, model.ActionUnapproveMR, mergeRequestID.String(), "", nil)
	})
	if err != nil {
		return nil, err
	}

	s.broadcast("merge_request.unapproved", mergeRequestID)
	return s.state.GetApprovalState(ctx, mergeRequestID)
}

// HandlePush records a new commit on the merge request and, when a violated
// policy demands it, wipes existing approvals and raises the short-lived
// unapproval flag so the merge request cannot slip through while its state is
// recomputed.
func (s *mergeApprovalService) HandlePush(ctx context.Context, mergeRequestID uuid.UUID, req PushDTO) (*ApprovalStateResponse, error) {
	committerID, err := uuid.Parse(req.CommitterID)
	if err != nil {
		return nil, fmt.Errorf("invalid committer_id: %w", err)
	}

	commit := &model.MergeRequestCommit{
		MergeRequestID: mergeRequestID,
		CommitterID:    committerID,
		SHA:            req.SHA,
		MergeCommit:    req.MergeCommit,
	}
	if err := s.mergeRequests.AddCommit(ctx, commit); err != nil {
		return nil, fmt.Errorf("failed to record commit: %w", err)
	}

	state, err := s.state.LoadState(ctx, mergeRequestID)
	if err != nil {
		return nil, err
	}

	if state.PolicyApprovalSettings().RemoveApprovalsWithNewCommit {
		err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
			removed, deleteErr := s.approvals.DeleteAllForMergeRequest(txCtx, mergeRequestID)
			if deleteErr != nil {
				return fmt.Errorf("failed to reset approvals: %w", deleteErr)
			}
			if removed == 0 {
				return nil
			}
			return s.logAction(txCtx, nil, model.ActionResetApprovals, mergeRequestID.String(), "", map[string]interface{}{
				"sha":     req.SHA,
				"removed": removed,
			})
		})
		if err != nil {
			return nil, err
		}

		state.TemporarilyUnapprove()
		s.broadcast("merge_request.approvals_reset", mergeRequestID)
	}

	return s.state.GetApprovalState(ctx, mergeRequestID)
}

func (s *mergeApprovalService) Merge(ctx context.Context, mergeRequestID, userID uuid.UUID) (*MergeRequestResponse, error) {
	mr, err := s.mergeRequests.FindByID(ctx, mergeRequestID)
	if err != nil {
		return nil, fmt.Errorf("merge request not found: %w", err)
	}
	if mr.State != model.MergeRequestOpened {
		return nil, fmt.Errorf("merge request is already %s", mr.State)
	}

	state, err := s.state.LoadState(ctx, mergeRequestID)
	if err != nil {
		return nil, err
	}
	if !state.Approved() {
		return nil, errors.New("merge request is not approved")
	}
	for _, w := range state.InvalidApproversRules() {
		if !w.AllowMergeWhenInvalid() {
			return nil, fmt.Errorf("approval rule %q is misconfigured and blocks merging", w.Name())
		}
	}

	now := time.Now()
	mr.State = model.MergeRequestMerged
	mr.MergedAt = &now

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if saveErr := s.mergeRequests.Update(txCtx, mr); saveErr != nil {
			return fmt.Errorf("failed to update merge request: %w", saveErr)
		}
		return s.logAction(txCtx, &userID, model.ActionMergeMergeRequest, mr.ID.String(), mr.Title, nil)
	})
	if err != nil {
		return nil, err
	}

	s.broadcast("merge_request.merged", mergeRequestID)
	return toMergeRequestResponse(mr), nil
}

func (s *mergeApprovalService) ExpireUnapprovedFlag(ctx context.Context, mergeRequestID uuid.UUID) error {
	state, err := s.state.LoadState(ctx, mergeRequestID)
	if err != nil {
		return err
	}
	state.ExpireUnapprovedKey()
	return nil
}

// --- Helpers ---

func (s *mergeApprovalService) verifyPassword(ctx context.Context, userID uuid.UUID, password string) error {
	if password == "" {
		return errors.New("password is required to approve")
	}
	user, err := s.users.GetByID(ctx, userID.String())
	if err != nil {
		return errors.New("user not found")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return errors.New("password is incorrect")
	}
	return nil
}

func (s *mergeApprovalService) logAction(ctx context.Context, userID *uuid.UUID, action, entityID, entityName string, payload map[string]interface{}) error {
	details := ""
	if payload != nil {
		raw, _ := json.Marshal(payload)
		details = string(raw)
	}
	entry := &model.AuditLog{
		UserID:     userID,
		Action:     action,
		EntityID:   entityID,
		EntityName: entityName,
		Details:    details,
	}
	if err := s.audit.Log(ctx, entry); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

func (s *mergeApprovalService) broadcast(event string, mergeRequestID uuid.UUID) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastEvent(websocket.Event{
		Event:          event,
		MergeRequestID: mergeRequestID.String(),
	})
}

func toMergeRequestResponse(mr *model.MergeRequest) *MergeRequestResponse {
	resp := &MergeRequestResponse{
		ID:           mr.ID.String(),
		Title:        mr.Title,
		ProjectID:    mr.TargetProjectID.String(),
		AuthorID:     mr.AuthorID.String(),
		SourceBranch: mr.SourceBranch,
		TargetBranch: mr.TargetBranch,
		State:        mr.State,
		CreatedAt:    formatTimestamp(mr.CreatedAt),
	}
	if mr.MergedAt != nil {
		merged := formatTimestamp(*mr.MergedAt)
		resp.MergedAt = &merged
	}
	return resp
}
