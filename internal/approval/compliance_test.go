package approval_test

import (
	"testing"

	"github.com/google/uuid"

	"backend/internal/approval"
	"backend/internal/model"
)

func boolPtr(v bool) *bool { return &v }

func TestResolveAuthorApproval(t *testing.T) {
	project := model.Project{MergeRequestsAuthorApproval: true}

	t.Run("project value without groups", func(t *testing.T) {
		got := approval.ResolveAuthorApproval(project, nil)
		if !got.Value || got.Locked || got.InheritedFrom != nil {
			t.Errorf("ResolveAuthorApproval() = %+v, want unlocked project value", got)
		}
	})

	t.Run("unlocked group value is ignored", func(t *testing.T) {
		groups := []model.Group{
			{ID: uuid.New(), AllowAuthorApproval: boolPtr(false)},
		}
		got := approval.ResolveAuthorApproval(project, groups)
		if !got.Value || got.Locked {
			t.Errorf("ResolveAuthorApproval() = %+v, want the project value to stand", got)
		}
	})

	t.Run("locked group overrides the project", func(t *testing.T) {
		group := model.Group{
			ID:                        uuid.New(),
			AllowAuthorApproval:       boolPtr(false),
			AllowAuthorApprovalLocked: true,
		}
		got := approval.ResolveAuthorApproval(project, []model.Group{group})
		if got.Value || !got.Locked {
			t.Errorf("ResolveAuthorApproval() = %+v, want locked false", got)
		}
		if got.InheritedFrom == nil || *got.InheritedFrom != group.ID {
			t.Errorf("InheritedFrom = %v, want %v", got.InheritedFrom, group.ID)
		}
	})

	t.Run("outermost locked ancestor wins", func(t *testing.T) {
		// Groups run nearest first; the last entry is the outermost ancestor.
		inner := model.Group{
			ID:                        uuid.New(),
			AllowAuthorApproval:       boolPtr(true),
			AllowAuthorApprovalLocked: true,
		}
		outer := model.Group{
			ID:                        uuid.New(),
			AllowAuthorApproval:       boolPtr(false),
			AllowAuthorApprovalLocked: true,
		}
		got := approval.ResolveAuthorApproval(project, []model.Group{inner, outer})
		if got.Value || !got.Locked {
			t.Errorf("ResolveAuthorApproval() = %+v, want the outermost locked value", got)
		}
		if got.InheritedFrom == nil || *got.InheritedFrom != outer.ID {
			t.Errorf("InheritedFrom = %v, want the outermost group", got.InheritedFrom)
		}
	})
}

func TestResolveCommitterApproval_InvertsProjectFlag(t *testing.T) {
	t.Run("disable flag off means committers may approve", func(t *testing.T) {
		got := approval.ResolveCommitterApproval(model.Project{}, nil)
		if !got.Value {
			t.Errorf("ResolveCommitterApproval() = %+v, want true", got)
		}
	})

	t.Run("disable flag on means committers may not approve", func(t *testing.T) {
		project := model.Project{MergeRequestsDisableCommittersApproval: true}
		got := approval.ResolveCommitterApproval(project, nil)
		if got.Value {
			t.Errorf("ResolveCommitterApproval() = %+v, want false", got)
		}
	})

	t.Run("locked group wins over the project flag", func(t *testing.T) {
		project := model.Project{MergeRequestsDisableCommittersApproval: true}
		group := model.Group{
			ID:                           uuid.New(),
			AllowCommitterApproval:       boolPtr(true),
			AllowCommitterApprovalLocked: true,
		}
		got := approval.ResolveCommitterApproval(project, []model.Group{group})
		if !got.Value || !got.Locked {
			t.Errorf("ResolveCommitterApproval() = %+v, want locked true", got)
		}
	})
}
