package approval_test

import (
	"testing"

	"github.com/google/uuid"

	"backend/internal/approval"
	"backend/internal/model"
)

func wrappedRuleIDs(state *approval.State) []uuid.UUID {
	var ids []uuid.UUID
	for _, w := range state.WrappedRules() {
		ids = append(ids, w.Rule.ID)
	}
	return ids
}

func TestWrappedRules_ProjectRulesAsDefaultSource(t *testing.T) {
	b := newSnapshot()
	projRule := b.projectRule(1, withUsers(uuid.New()))

	got := wrappedRuleIDs(b.state())
	if !sameIDs(got, projRule.ID) {
		t.Errorf("WrappedRules() = %v, want the project template rule", got)
	}
}

func TestWrappedRules_MergeRequestRulesWinWhenOverwritten(t *testing.T) {
	b := newSnapshot()
	b.projectRule(1, withUsers(uuid.New()))
	mrRule := b.mrRule(2, withUsers(uuid.New()))

	got := wrappedRuleIDs(b.state())
	if !sameIDs(got, mrRule.ID) {
		t.Errorf("WrappedRules() = %v, want only the merge request rule", got)
	}
}

func TestWrappedRules_OverridingDisabledFallsBackToProject(t *testing.T) {
	b := newSnapshot()
	b.snap.Project.DisableOverridingApproversPerMergeRequest = true
	projRule := b.projectRule(1, withUsers(uuid.New()))
	b.mrRule(2, withUsers(uuid.New()))

	got := wrappedRuleIDs(b.state())
	if !sameIDs(got, projRule.ID) {
		t.Errorf("WrappedRules() = %v, want the project rule despite merge request rules", got)
	}
}

func TestWrappedRules_ProjectRulesFilteredByTargetBranch(t *testing.T) {
	b := newSnapshot()
	scoped := b.projectRule(1, withUsers(uuid.New()), withProtectedBranches("release/*"))
	unscoped := b.projectRule(1, withUsers(uuid.New()))

	got := wrappedRuleIDs(b.state())
	if !sameIDs(got, unscoped.ID) {
		t.Errorf("WrappedRules() for main = %v, want only the unscoped rule", got)
	}

	state := approval.NewStateForBranch(b.build(), nil, "release/17-2")
	got = wrappedRuleIDs(state)
	if !sameIDs(got, scoped.ID, unscoped.ID) {
		t.Errorf("WrappedRules() for release/17-2 = %v, want both rules", got)
	}
}

func TestWrappedRules_CodeOwnerRulesAlwaysFromMergeRequest(t *testing.T) {
	// Code-owner rules belong to the merge request even when project templates
	// are the regular-rule source.
	b := newSnapshot()
	projRule := b.projectRule(1, withUsers(uuid.New()))
	ownerRule := b.mrRule(1, withType(model.RuleTypeCodeOwner), withUsers(uuid.New()))

	got := wrappedRuleIDs(b.state())
	if !sameIDs(got, projRule.ID, ownerRule.ID) {
		t.Errorf("WrappedRules() = %v, want project rule plus code-owner rule", got)
	}
}

func TestWrappedRules_SingleRuleModeCollapsesByCreation(t *testing.T) {
	b := newSnapshot()
	b.snap.Project.MultipleApprovalRulesEnabled = false
	first := b.mrRule(1, withUsers(uuid.New()))
	b.mrRule(1, withUsers(uuid.New()))
	ownerRule := b.mrRule(1, withType(model.RuleTypeCodeOwner), withUsers(uuid.New()))

	got := wrappedRuleIDs(b.state())
	if !sameIDs(got, first.ID, ownerRule.ID) {
		t.Errorf("WrappedRules() = %v, want the oldest regular rule plus the code-owner rule", got)
	}
}

func TestWrappedRules_PolicyRuleDedupByPolicyIndex(t *testing.T) {
	configID := uuid.New()

	b := newSnapshot()
	first := b.mrRule(1,
		withReportType(model.ReportTypeScanFinding),
		withUsers(uuid.New()),
		withPolicy(configID, 0, 0),
	)
	b.mrRule(1,
		withReportType(model.ReportTypeScanFinding),
		withUsers(uuid.New()),
		withPolicy(configID, 0, 0),
	)
	other := b.mrRule(1,
		withReportType(model.ReportTypeScanFinding),
		withUsers(uuid.New()),
		withPolicy(configID, 1, 0),
	)

	got := wrappedRuleIDs(b.state())
	if !sameIDs(got, first.ID, other.ID) {
		t.Errorf("WrappedRules() = %v, want one rule per policy index", got)
	}
}

func TestWrappedRules_LicenseScanningJoinsPolicyPoolWithRead(t *testing.T) {
	configID := uuid.New()

	b := newSnapshot()
	read := b.addPolicyRead(model.ScanResultPolicyRead{})
	kept := b.mrRule(1,
		withReportType(model.ReportTypeScanFinding),
		withUsers(uuid.New()),
		withPolicy(configID, 0, 0),
		withPolicyRead(read.ID),
	)
	b.mrRule(1,
		withReportType(model.ReportTypeLicenseScanning),
		withUsers(uuid.New()),
		withPolicy(configID, 0, 0),
		withPolicyRead(read.ID),
	)
	// Without an attached policy read, license scanning stays outside the
	// dedup pool and survives on its own.
	standalone := b.mrRule(1,
		withReportType(model.ReportTypeLicenseScanning),
		withUsers(uuid.New()),
		withPolicy(configID, 0, 0),
	)

	got := wrappedRuleIDs(b.state())
	if !sameIDs(got, kept.ID, standalone.ID) {
		t.Errorf("WrappedRules() = %v, want policy representative plus standalone license rule", got)
	}
}

func TestWrappedRules_MergedMergeRequestKeepsSatisfiedRules(t *testing.T) {
	approver := uuid.New()

	b := newSnapshot()
	satisfied := b.mrRule(1, withUsers(approver))
	// Unapproved and invalid rules are dropped at merge time, as are rules
	// explicitly flagged as not applicable post merge.
	b.mrRule(1, withUsers(uuid.New()))
	b.mrRule(2, withUsers(uuid.New()))
	b.mrRule(0, withUsers(approver), withApplicablePostMerge(false))
	keptNil := b.mrRule(0, withUsers(approver))
	b.approve(approver)
	b.merge()

	got := wrappedRuleIDs(b.state())
	if !sameIDs(got, satisfied.ID, keptNil.ID) {
		t.Errorf("WrappedRules() after merge = %v, want only satisfied applicable rules", got)
	}
}

func TestWrappedRules_AnyApproverOrderedFirst(t *testing.T) {
	b := newSnapshot()
	b.mrRule(1, withUsers(uuid.New()))
	anyRule := b.mrRule(1, withType(model.RuleTypeAnyApprover))

	wrapped := b.state().WrappedRules()
	if len(wrapped) != 2 {
		t.Fatalf("expected two wrapped rules, got %d", len(wrapped))
	}
	if wrapped[0].Rule.ID != anyRule.ID {
		t.Error("expected the any-approver rule to be ordered first")
	}
}
