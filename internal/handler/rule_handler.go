package handler

import (
	"net/http"

	"backend/internal/middleware"
	"backend/internal/service"
	"backend/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type ApprovalRuleHandler struct {
	ruleService service.ApprovalRuleService
}

func NewApprovalRuleHandler(ruleService service.ApprovalRuleService) *ApprovalRuleHandler {
	return &ApprovalRuleHandler{ruleService: ruleService}
}

func (h *ApprovalRuleHandler) RegisterRoutes(router *gin.RouterGroup) {
	projects := router.Group("/api/projects/:id/approval_rules")
	{
		projects.GET("", middleware.RequirePermission("rules.read"), h.ListProjectRules)
		projects.POST("", middleware.RequirePermission("rules.write"), h.CreateProjectRule)
	}

	mrs := router.Group("/api/merge_requests/:id/approval_rules")
	{
		mrs.GET("", middleware.RequirePermission("rules.read"), h.ListMergeRequestRules)
		mrs.POST("", middleware.RequirePermission("rules.write"), h.CreateMergeRequestRule)
		mrs.POST("/sync", middleware.RequirePermission("rules.write"), h.SyncRules)
		mrs.POST("/code_owner", middleware.RequirePermission("rules.write"), h.FindOrCreateCodeOwnerRule)
	}

	rules := router.Group("/api/approval_rules")
	{
		rules.PUT("/:id", middleware.RequirePermission("rules.write"), h.UpdateRule)
		rules.DELETE("/:id", middleware.RequirePermission("rules.write"), h.DeleteRule)
	}
}

// ListProjectRules returns the project's approval rule templates
// @Summary      List project approval rules
// @Tags         approval_rules
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Project ID"
// @Success      200  {object}  response.Response{data=[]service.RuleResponse}
// @Failure      400  {object}  response.Response
// @Router       /api/projects/{id}/approval_rules [get]
func (h *ApprovalRuleHandler) ListProjectRules(c *gin.Context) {
	projectID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid project id"))
		return
	}

	rules, err := h.ruleService.ListProjectRules(c.Request.Context(), projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, rules))
}

// CreateProjectRule creates a project-level approval rule
// @Summary      Create project approval rule
// @Tags         approval_rules
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                     true  "Project ID"
// @Param        payload  body      service.CreateRuleRequest  true  "Rule Payload"
// @Success      201      {object}  response.Response{data=service.RuleResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/projects/{id}/approval_rules [post]
func (h *ApprovalRuleHandler) CreateProjectRule(c *gin.Context) {
	projectID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid project id"))
		return
	}

	var req service.CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	actorID := actorIDPointer(c)
	rule, err := h.ruleService.CreateProjectRule(c.Request.Context(), projectID, req, actorID)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, rule))
}

// ListMergeRequestRules returns the rules attached to a merge request
// @Summary      List merge request approval rules
// @Tags         approval_rules
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Merge Request ID"
// @Success      200  {object}  response.Response{data=[]service.RuleResponse}
// @Failure      400  {object}  response.Response
// @Router       /api/merge_requests/{id}/approval_rules [get]
func (h *ApprovalRuleHandler) ListMergeRequestRules(c *gin.Context) {
	mrID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid merge request id"))
		return
	}

	rules, err := h.ruleService.ListMergeRequestRules(c.Request.Context(), mrID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, rules))
}

// CreateMergeRequestRule creates a rule scoped to a single merge request
// @Summary      Create merge request approval rule
// @Tags         approval_rules
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                     true  "Merge Request ID"
// @Param        payload  body      service.CreateRuleRequest  true  "Rule Payload"
// @Success      201      {object}  response.Response{data=service.RuleResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/merge_requests/{id}/approval_rules [post]
func (h *ApprovalRuleHandler) CreateMergeRequestRule(c *gin.Context) {
	mrID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid merge request id"))
		return
	}

	var req service.CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	actorID := actorIDPointer(c)
	rule, err := h.ruleService.CreateMergeRequestRule(c.Request.Context(), mrID, req, actorID)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, rule))
}

// SyncRules copies the project's applicable rules onto the merge request
// @Summary      Sync project rules to merge request
// @Tags         approval_rules
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Merge Request ID"
// @Success      200  {object}  response.Response{data=[]service.RuleResponse}
// @Failure      400  {object}  response.Response
// @Router       /api/merge_requests/{id}/approval_rules/sync [post]
func (h *ApprovalRuleHandler) SyncRules(c *gin.Context) {
	mrID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid merge request id"))
		return
	}

	rules, err := h.ruleService.SyncRulesToMergeRequest(c.Request.Context(), mrID)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, rules))
}

type codeOwnerRuleRequest struct {
	Name    string `json:"name" binding:"required"`
	Section string `json:"section"`
}

// FindOrCreateCodeOwnerRule idempotently materializes a code-owner rule
// @Summary      Find or create code owner rule
// @Tags         approval_rules
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                true  "Merge Request ID"
// @Param        payload  body      codeOwnerRuleRequest  true  "Code Owner Entry"
// @Success      200      {object}  response.Response{data=service.RuleResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/merge_requests/{id}/approval_rules/code_owner [post]
func (h *ApprovalRuleHandler) FindOrCreateCodeOwnerRule(c *gin.Context) {
	mrID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid merge request id"))
		return
	}

	var req codeOwnerRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	rule, err := h.ruleService.FindOrCreateCodeOwnerRule(c.Request.Context(), mrID, req.Name, req.Section)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, rule))
}

// UpdateRule updates a rule's name, threshold and approver sets
// @Summary      Update approval rule
// @Tags         approval_rules
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                     true  "Rule ID"
// @Param        payload  body      service.UpdateRuleRequest  true  "Update Payload"
// @Success      200      {object}  response.Response{data=service.RuleResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/approval_rules/{id} [put]
func (h *ApprovalRuleHandler) UpdateRule(c *gin.Context) {
	ruleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid rule id"))
		return
	}

	var req service.UpdateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	actorID := actorIDPointer(c)
	rule, err := h.ruleService.UpdateRule(c.Request.Context(), ruleID, req, actorID)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, rule))
}

// DeleteRule removes an approval rule
// @Summary      Delete approval rule
// @Tags         approval_rules
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Rule ID"
// @Success      200  {object}  response.Response
// @Failure      400  {object}  response.Response
// @Router       /api/approval_rules/{id} [delete]
func (h *ApprovalRuleHandler) DeleteRule(c *gin.Context) {
	ruleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid rule id"))
		return
	}

	if err := h.ruleService.DeleteRule(c.Request.Context(), ruleID, actorIDPointer(c)); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, "Rule deleted successfully"))
}

// actorIDPointer returns the authenticated user id for audit attribution, or
// nil when the context carries none.
func actorIDPointer(c *gin.Context) *uuid.UUID {
	id, ok := currentUserID(c)
	if !ok {
		return nil
	}
	return &id
}
