package handler

import (
	"net/http"

	"backend/internal/middleware"
	"backend/internal/service"
	"backend/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type ProjectHandler struct {
	projectService service.ProjectService
	policyService  service.PolicyService
}

func NewProjectHandler(projectService service.ProjectService, policyService service.PolicyService) *ProjectHandler {
	return &ProjectHandler{projectService: projectService, policyService: policyService}
}

func (h *ProjectHandler) RegisterRoutes(router *gin.RouterGroup) {
	projects := router.Group("/api/projects")
	{
		projects.POST("", middleware.RequirePermission("projects.write"), h.CreateProject)
		projects.GET("/:id", middleware.RequirePermission("projects.read"), h.GetProject)
		projects.PATCH("/:id/settings", middleware.RequirePermission("projects.write"), h.UpdateSettings)
		projects.POST("/:id/members", middleware.RequirePermission("projects.write"), h.AddMember)
		projects.DELETE("/:id/members/:user_id", middleware.RequirePermission("projects.write"), h.RemoveMember)
		projects.POST("/:id/protected_branches", middleware.RequirePermission("projects.write"), h.AddProtectedBranch)
		projects.GET("/:id/policy_reads", middleware.RequirePermission("rules.read"), h.ListPolicyReads)
		projects.POST("/:id/policy_reads", middleware.RequirePermission("rules.write"), h.CreatePolicyRead)
	}

	groups := router.Group("/api/groups")
	{
		groups.POST("", middleware.RequirePermission("projects.write"), h.CreateGroup)
		groups.POST("/:id/members", middleware.RequirePermission("projects.write"), h.AddGroupMember)
	}

	violations := router.Group("/api/merge_requests/:id/violations")
	{
		violations.POST("", middleware.RequirePermission("rules.write"), h.RecordViolation)
		violations.DELETE("/:read_id", middleware.RequirePermission("rules.write"), h.ClearViolations)
	}
}

// CreateProject creates a project with default approval settings
// @Summary      Create project
// @Tags         projects
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.CreateProjectRequest  true  "Project Payload"
// @Success      201      {object}  response.Response{data=model.Project}
// @Failure      400      {object}  response.Response
// @Router       /api/projects [post]
func (h *ProjectHandler) CreateProject(c *gin.Context) {
	var req service.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	project, err := h.projectService.CreateProject(c.Request.Context(), req, actorIDPointer(c))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, project))
}

// GetProject returns a project and its approval settings
// @Summary      Get project
// @Tags         projects
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Project ID"
// @Success      200  {object}  response.Response{data=model.Project}
// @Failure      404  {object}  response.Response
// @Router       /api/projects/{id} [get]
func (h *ProjectHandler) GetProject(c *gin.Context) {
	projectID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid project id"))
		return
	}

	project, err := h.projectService.GetProject(c.Request.Context(), projectID)
	if err != nil {
		c.JSON(http.StatusNotFound, response.Error(http.StatusNotFound, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, project))
}

// UpdateSettings partially updates a project's approval settings
// @Summary      Update project approval settings
// @Tags         projects
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                                true  "Project ID"
// @Param        payload  body      service.UpdateProjectSettingsRequest  true  "Settings Payload"
// @Success      200      {object}  response.Response{data=model.Project}
// @Failure      400      {object}  response.Response
// @Router       /api/projects/{id}/settings [patch]
func (h *ProjectHandler) UpdateSettings(c *gin.Context) {
	projectID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid project id"))
		return
	}

	var req service.UpdateProjectSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	project, err := h.projectService.UpdateProjectSettings(c.Request.Context(), projectID, req, actorIDPointer(c))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, project))
}

// AddMember grants a user an access level on the project
// @Summary      Add project member
// @Tags         projects
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                           true  "Project ID"
// @Param        payload  body      service.AddProjectMemberRequest  true  "Member Payload"
// @Success      201      {object}  response.Response{data=model.ProjectMember}
// @Failure      400      {object}  response.Response
// @Router       /api/projects/{id}/members [post]
func (h *ProjectHandler) AddMember(c *gin.Context) {
	projectID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid project id"))
		return
	}

	var req service.AddProjectMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	member, err := h.projectService.AddMember(c.Request.Context(), projectID, req)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, member))
}

// RemoveMember revokes a user's project membership
// @Summary      Remove project member
// @Tags         projects
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string  true  "Project ID"
// @Param        user_id  path      string  true  "User ID"
// @Success      200      {object}  response.Response
// @Failure      400      {object}  response.Response
// @Router       /api/projects/{id}/members/{user_id} [delete]
func (h *ProjectHandler) RemoveMember(c *gin.Context) {
	projectID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid project id"))
		return
	}
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid user id"))
		return
	}

	if err := h.projectService.RemoveMember(c.Request.Context(), projectID, userID); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, "Member removed"))
}

// AddProtectedBranch protects a branch name pattern at project or group scope
// @Summary      Add protected branch
// @Tags         projects
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                                true  "Project ID"
// @Param        payload  body      service.CreateProtectedBranchRequest  true  "Branch Payload"
// @Success      201      {object}  response.Response{data=model.ProtectedBranch}
// @Failure      400      {object}  response.Response
// @Router       /api/projects/{id}/protected_branches [post]
func (h *ProjectHandler) AddProtectedBranch(c *gin.Context) {
	projectID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid project id"))
		return
	}

	var req service.CreateProtectedBranchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	branch, err := h.projectService.AddProtectedBranch(c.Request.Context(), projectID, req)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, branch))
}

// ListPolicyReads returns the project's denormalized policy reads
// @Summary      List policy reads
// @Tags         policies
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Project ID"
// @Success      200  {object}  response.Response{data=[]model.ScanResultPolicyRead}
// @Failure      400  {object}  response.Response
// @Router       /api/projects/{id}/policy_reads [get]
func (h *ProjectHandler) ListPolicyReads(c *gin.Context) {
	projectID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid project id"))
		return
	}

	reads, err := h.policyService.ListReads(c.Request.Context(), projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, reads))
}

// CreatePolicyRead registers a policy projection for the project
// @Summary      Create policy read
// @Tags         policies
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                           true  "Project ID"
// @Param        payload  body      service.CreatePolicyReadRequest  true  "Policy Read Payload"
// @Success      201      {object}  response.Response{data=model.ScanResultPolicyRead}
// @Failure      400      {object}  response.Response
// @Router       /api/projects/{id}/policy_reads [post]
func (h *ProjectHandler) CreatePolicyRead(c *gin.Context) {
	projectID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid project id"))
		return
	}

	var req service.CreatePolicyReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	read, err := h.policyService.CreateRead(c.Request.Context(), projectID, req)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, read))
}

// RecordViolation flags a merge request as violating a policy
// @Summary      Record policy violation
// @Tags         policies
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                          true  "Merge Request ID"
// @Param        payload  body      service.RecordViolationRequest  true  "Violation Payload"
// @Success      201      {object}  response.Response{data=model.PolicyViolation}
// @Failure      400      {object}  response.Response
// @Router       /api/merge_requests/{id}/violations [post]
func (h *ProjectHandler) RecordViolation(c *gin.Context) {
	mrID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid merge request id"))
		return
	}

	var req service.RecordViolationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	violation, err := h.policyService.RecordViolation(c.Request.Context(), mrID, req, actorIDPointer(c))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, violation))
}

// ClearViolations removes a merge request's violations of one policy
// @Summary      Clear policy violations
// @Tags         policies
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string  true  "Merge Request ID"
// @Param        read_id  path      string  true  "Policy Read ID"
// @Success      200      {object}  response.Response
// @Failure      400      {object}  response.Response
// @Router       /api/merge_requests/{id}/violations/{read_id} [delete]
func (h *ProjectHandler) ClearViolations(c *gin.Context) {
	mrID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid merge request id"))
		return
	}
	readID, err := uuid.Parse(c.Param("read_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid policy read id"))
		return
	}

	if err := h.policyService.ClearViolations(c.Request.Context(), mrID, readID); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, "Violations cleared"))
}

// CreateGroup creates a namespace group with optional approval locks
// @Summary      Create group
// @Tags         groups
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.CreateGroupRequest  true  "Group Payload"
// @Success      201      {object}  response.Response{data=model.Group}
// @Failure      400      {object}  response.Response
// @Router       /api/groups [post]
func (h *ProjectHandler) CreateGroup(c *gin.Context) {
	var req service.CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	group, err := h.projectService.CreateGroup(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, group))
}

// AddGroupMember adds a user to a group
// @Summary      Add group member
// @Tags         groups
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                         true  "Group ID"
// @Param        payload  body      service.AddGroupMemberRequest  true  "Member Payload"
// @Success      201      {object}  response.Response{data=model.GroupMember}
// @Failure      400      {object}  response.Response
// @Router       /api/groups/{id}/members [post]
func (h *ProjectHandler) AddGroupMember(c *gin.Context) {
	groupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid group id"))
		return
	}

	var req service.AddGroupMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	member, err := h.projectService.AddGroupMember(c.Request.Context(), groupID, req)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, member))
}
