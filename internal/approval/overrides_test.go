package approval_test

import (
	"testing"

	"github.com/google/uuid"

	"backend/internal/approval"
	"backend/internal/model"
)

func TestResolveOverrides_UnionAcrossViolatedPolicies(t *testing.T) {
	mrID := uuid.New()
	readA := uuid.New()
	readB := uuid.New()

	reads := map[uuid.UUID]model.ScanResultPolicyRead{
		readA: {ID: readA, ProjectApprovalSettings: model.ApprovalSettings{PreventApprovalByAuthor: true}},
		readB: {ID: readB, ProjectApprovalSettings: model.ApprovalSettings{RequirePasswordToApprove: true}},
	}
	violations := []model.PolicyViolation{
		{MergeRequestID: mrID, ScanResultPolicyReadID: readA},
		{MergeRequestID: mrID, ScanResultPolicyReadID: readB},
	}

	got := approval.ResolveOverrides(mrID, violations, reads)
	want := model.ApprovalSettings{PreventApprovalByAuthor: true, RequirePasswordToApprove: true}
	if got != want {
		t.Errorf("ResolveOverrides() = %+v, want %+v", got, want)
	}
}

func TestResolveOverrides_UnviolatedPolicyContributesNothing(t *testing.T) {
	mrID := uuid.New()
	readA := uuid.New()

	reads := map[uuid.UUID]model.ScanResultPolicyRead{
		readA: {ID: readA, ProjectApprovalSettings: model.ApprovalSettings{PreventApprovalByAuthor: true}},
	}

	got := approval.ResolveOverrides(mrID, nil, reads)
	if !got.Empty() {
		t.Errorf("ResolveOverrides() = %+v, want empty settings", got)
	}
}

func TestResolveOverrides_OtherMergeRequestsIgnored(t *testing.T) {
	mrID := uuid.New()
	readA := uuid.New()

	reads := map[uuid.UUID]model.ScanResultPolicyRead{
		readA: {ID: readA, ProjectApprovalSettings: model.ApprovalSettings{PreventApprovalByAuthor: true}},
	}
	violations := []model.PolicyViolation{
		{MergeRequestID: uuid.New(), ScanResultPolicyReadID: readA},
	}

	got := approval.ResolveOverrides(mrID, violations, reads)
	if !got.Empty() {
		t.Errorf("ResolveOverrides() = %+v, want empty settings for foreign violations", got)
	}
}

func TestResolveOverrides_RepeatedViolationsApplyOnce(t *testing.T) {
	mrID := uuid.New()
	readA := uuid.New()

	reads := map[uuid.UUID]model.ScanResultPolicyRead{
		readA: {ID: readA, ProjectApprovalSettings: model.ApprovalSettings{RemoveApprovalsWithNewCommit: true}},
	}
	violations := []model.PolicyViolation{
		{MergeRequestID: mrID, ScanResultPolicyReadID: readA},
		{MergeRequestID: mrID, ScanResultPolicyReadID: readA},
	}

	got := approval.ResolveOverrides(mrID, violations, reads)
	want := model.ApprovalSettings{RemoveApprovalsWithNewCommit: true}
	if got != want {
		t.Errorf("ResolveOverrides() = %+v, want %+v", got, want)
	}
}

func TestResolveOverrides_DanglingReadIgnored(t *testing.T) {
	mrID := uuid.New()
	violations := []model.PolicyViolation{
		{MergeRequestID: mrID, ScanResultPolicyReadID: uuid.New()},
	}

	got := approval.ResolveOverrides(mrID, violations, map[uuid.UUID]model.ScanResultPolicyRead{})
	if !got.Empty() {
		t.Errorf("ResolveOverrides() = %+v, want empty settings for a dangling read", got)
	}
}
