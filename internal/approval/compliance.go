package approval

import (
	"github.com/google/uuid"

	"backend/internal/model"
)

// ResolvedSetting is a merge-request approval setting after walking the group
// hierarchy. When Locked is true the value was forced by the group named in
// InheritedFrom and the project's own configuration is ignored.
type ResolvedSetting struct {
	Value         bool
	Locked        bool
	InheritedFrom *uuid.UUID
}

// resolveSetting walks the ancestor chain (nearest first) and lets the
// outermost locked group win over the project value.
func resolveSetting(projectValue bool, groups []model.Group, pick func(model.Group) (*bool, bool)) ResolvedSetting {
	resolved := ResolvedSetting{Value: projectValue}
	for _, group := range groups {
		value, locked := pick(group)
		if value == nil || !locked {
			continue
		}
		groupID := group.ID
		resolved = ResolvedSetting{Value: *value, Locked: true, InheritedFrom: &groupID}
	}
	return resolved
}

// ResolveAuthorApproval resolves whether merge request authors may approve
// their own merge requests, before any policy override is applied.
func ResolveAuthorApproval(project model.Project, groups []model.Group) ResolvedSetting {
	return resolveSetting(project.MergeRequestsAuthorApproval, groups, func(g model.Group) (*bool, bool) {
		return g.AllowAuthorApproval, g.AllowAuthorApprovalLocked
	})
}

// ResolveCommitterApproval resolves whether committers may approve, before any
// policy override. The project stores the inverse (a "disable" flag).
func ResolveCommitterApproval(project model.Project, groups []model.Group) ResolvedSetting {
	return resolveSetting(!project.MergeRequestsDisableCommittersApproval, groups, func(g model.Group) (*bool, bool) {
		return g.AllowCommitterApproval, g.AllowCommitterApprovalLocked
	})
}
