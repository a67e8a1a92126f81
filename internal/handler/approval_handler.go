package handler

import (
	"net/http"

	"backend/internal/middleware"
	"backend/internal/service"
	"backend/pkg/pagination"
	"backend/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type MergeRequestHandler struct {
	approvalService service.MergeApprovalService
	stateService    service.ApprovalStateService
}

func NewMergeRequestHandler(approvalService service.MergeApprovalService, stateService service.ApprovalStateService) *MergeRequestHandler {
	return &MergeRequestHandler{
		approvalService: approvalService,
		stateService:    stateService,
	}
}

func (h *MergeRequestHandler) RegisterRoutes(router *gin.RouterGroup) {
	mrs := router.Group("/api/merge_requests")
	{
		mrs.GET("", middleware.RequirePermission("merge_requests.read"), h.ListMergeRequests)
		mrs.POST("", middleware.RequirePermission("merge_requests.write"), h.CreateMergeRequest)
		mrs.GET("/:id/approval_state", middleware.RequirePermission("approvals.read"), h.GetApprovalState)
		mrs.POST("/:id/approve", middleware.RequirePermission("approvals.approve"), h.Approve)
		mrs.POST("/:id/unapprove", middleware.RequirePermission("approvals.approve"), h.Unapprove)
		mrs.POST("/:id/push", middleware.RequirePermission("merge_requests.write"), h.HandlePush)
		mrs.PUT("/:id/merge", middleware.RequirePermission("merge_requests.merge"), h.Merge)
		mrs.DELETE("/:id/unapproved_flag", middleware.RequirePermission("approvals.approve"), h.ExpireUnapprovedFlag)
	}
}

// ListMergeRequests returns merge requests for a project, optionally filtered by state
// @Summary      List merge requests
// @Tags         merge_requests
// @Produce      json
// @Security     BearerAuth
// @Param        project_id  query  string  true   "Project ID"
// @Param        state       query  string  false  "OPENED, MERGED or CLOSED"
// @Param        page        query  int     false  "Page number (default 1)"
// @Param        limit       query  int     false  "Items per page (default 20)"
// @Success      200  {object}  response.Response
// @Router       /api/merge_requests [get]
func (h *MergeRequestHandler) ListMergeRequests(c *gin.Context) {
	projectID, err := uuid.Parse(c.Query("project_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid project_id"))
		return
	}
	params := pagination.Parse(c)

	mrs, total, err := h.approvalService.ListMergeRequests(c.Request.Context(), projectID, c.Query("state"), params.Page, params.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, map[string]interface{}{
		"merge_requests": mrs,
		"total":          total,
		"page":           params.Page,
		"limit":          params.Limit,
	}))
}

// CreateMergeRequest opens a merge request and syncs applicable project rules onto it
// @Summary      Create merge request
// @Tags         merge_requests
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.CreateMergeRequestDTO  true  "Merge Request Payload"
// @Success      201      {object}  response.Response{data=service.MergeRequestResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/merge_requests [post]
func (h *MergeRequestHandler) CreateMergeRequest(c *gin.Context) {
	var req service.CreateMergeRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	authorID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "User ID not found in context"))
		return
	}

	mr, err := h.approvalService.CreateMergeRequest(c.Request.Context(), authorID, req)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, mr))
}

// GetApprovalState returns the full computed approval state of a merge request
// @Summary      Get approval state
// @Tags         approvals
// @Produce      json
// @Security     BearerAuth
// @Param        id             path   string  true   "Merge Request ID"
// @Param        target_branch  query  string  false  "Evaluate against an explicit target branch"
// @Success      200  {object}  response.Response{data=service.ApprovalStateResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/merge_requests/{id}/approval_state [get]
func (h *MergeRequestHandler) GetApprovalState(c *gin.Context) {
	mrID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid merge request id"))
		return
	}

	var state *service.ApprovalStateResponse
	if branch := c.Query("target_branch"); branch != "" {
		state, err = h.stateService.GetApprovalStateForBranch(c.Request.Context(), mrID, branch)
	} else {
		state, err = h.stateService.GetApprovalState(c.Request.Context(), mrID)
	}
	if err != nil {
		c.JSON(http.StatusNotFound, response.Error(http.StatusNotFound, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, state))
}

// Approve records the current user's approval
// @Summary      Approve merge request
// @Tags         approvals
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string              true   "Merge Request ID"
// @Param        payload  body      service.ApproveDTO  false  "Password confirmation when required"
// @Success      200      {object}  response.Response{data=service.ApprovalStateResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/merge_requests/{id}/approve [post]
func (h *MergeRequestHandler) Approve(c *gin.Context) {
	mrID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid merge request id"))
		return
	}

	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "User ID not found in context"))
		return
	}

	var req service.ApproveDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		// An empty body is fine, the password only matters when required.
		req = service.ApproveDTO{}
	}

	state, err := h.approvalService.Approve(c.Request.Context(), mrID, userID, req)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, state))
}

// Unapprove revokes the current user's approval
// @Summary      Revoke approval
// @Tags         approvals
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Merge Request ID"
// @Success      200  {object}  response.Response{data=service.ApprovalStateResponse}
// @Failure      400  {object}  response.Response
// @Router       /api/merge_requests/{id}/unapprove [post]
func (h *MergeRequestHandler) Unapprove(c *gin.Context) {
	mrID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid merge request id"))
		return
	}

	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "User ID not found in context"))
		return
	}

	state, err := h.approvalService.Unapprove(c.Request.Context(), mrID, userID)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, state))
}

// HandlePush records a pushed commit and resets approvals when policy demands it
// @Summary      Record push
// @Tags         merge_requests
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string           true  "Merge Request ID"
// @Param        payload  body      service.PushDTO  true  "Pushed commit"
// @Success      200      {object}  response.Response{data=service.ApprovalStateResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/merge_requests/{id}/push [post]
func (h *MergeRequestHandler) HandlePush(c *gin.Context) {
	mrID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid merge request id"))
		return
	}

	var req service.PushDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	state, err := h.approvalService.HandlePush(c.Request.Context(), mrID, req)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, state))
}

// Merge merges an approved merge request
// @Summary      Merge merge request
// @Tags         merge_requests
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Merge Request ID"
// @Success      200  {object}  response.Response{data=service.MergeRequestResponse}
// @Failure      400  {object}  response.Response
// @Router       /api/merge_requests/{id}/merge [put]
func (h *MergeRequestHandler) Merge(c *gin.Context) {
	mrID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid merge request id"))
		return
	}

	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "User ID not found in context"))
		return
	}

	mr, err := h.approvalService.Merge(c.Request.Context(), mrID, userID)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, mr))
}

// ExpireUnapprovedFlag clears the temporary unapproval veto early
// @Summary      Clear temporary unapproval
// @Tags         approvals
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Merge Request ID"
// @Success      200  {object}  response.Response
// @Router       /api/merge_requests/{id}/unapproved_flag [delete]
func (h *MergeRequestHandler) ExpireUnapprovedFlag(c *gin.Context) {
	mrID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid merge request id"))
		return
	}

	if err := h.approvalService.ExpireUnapprovedFlag(c.Request.Context(), mrID); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, "Flag cleared"))
}

// currentUserID pulls the authenticated user id set by the auth middleware.
func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	raw, exists := c.Get("userID")
	if !exists {
		return uuid.UUID{}, false
	}
	str, ok := raw.(string)
	if !ok {
		return uuid.UUID{}, false
	}
	id, err := uuid.Parse(str)
	if err != nil {
		return uuid.UUID{}, false
	}
	return id, true
}
