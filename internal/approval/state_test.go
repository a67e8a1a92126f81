package approval_test

import (
	"testing"

	"github.com/google/uuid"

	"backend/internal/approval"
	"backend/internal/cache"
	"backend/internal/model"
)

func TestState_ApprovalNeeded(t *testing.T) {
	t.Run("feature unavailable", func(t *testing.T) {
		b := newSnapshot()
		b.snap.Project.MergeRequestApproversEnabled = false
		b.mrRule(1, withUsers(uuid.New()))

		if b.state().ApprovalNeeded() {
			t.Error("expected no approval needed when the feature is unavailable")
		}
	})

	t.Run("any-approver requirement", func(t *testing.T) {
		b := newSnapshot()
		b.projectRule(1, withType(model.RuleTypeAnyApprover))

		if !b.state().ApprovalNeeded() {
			t.Error("expected approval needed with an any-approver requirement")
		}
	})

	t.Run("rule with nonzero requirement", func(t *testing.T) {
		b := newSnapshot()
		b.mrRule(1, withUsers(uuid.New()))

		if !b.state().ApprovalNeeded() {
			t.Error("expected approval needed")
		}
	})

	t.Run("all requirements zero", func(t *testing.T) {
		b := newSnapshot()
		b.mrRule(0, withUsers(uuid.New()))

		if b.state().ApprovalNeeded() {
			t.Error("expected no approval needed when every requirement is zero")
		}
	})

	t.Run("no rules at all", func(t *testing.T) {
		b := newSnapshot()

		if b.state().ApprovalNeeded() {
			t.Error("expected no approval needed without rules")
		}
	})
}

func TestState_Approved_BasicThreshold(t *testing.T) {
	a, bb, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	b := newSnapshot()
	b.mrRule(3, withUsers(a, bb, c, d))
	b.approve(a)
	b.approve(bb)

	state := b.state()
	if state.Approved() {
		t.Error("expected two of three approvals to leave the MR unapproved")
	}
	if got := state.ApprovalsLeft(); got != 1 {
		t.Errorf("ApprovalsLeft() = %d, want 1", got)
	}

	b.approve(c)
	if !b.state().Approved() {
		t.Error("expected third approval to approve the MR")
	}
}

func TestState_Approved_AnyApproverFallback(t *testing.T) {
	b := newSnapshot()
	b.projectRule(1, withType(model.RuleTypeAnyApprover))

	if b.state().Approved() {
		t.Error("expected unmet any-approver rule to block")
	}

	b.approve(uuid.New())
	if !b.state().Approved() {
		t.Error("expected any member's approval to satisfy the any-approver rule")
	}
}

func TestState_Approved_FeatureUnavailable(t *testing.T) {
	b := newSnapshot()
	b.snap.Project.MergeRequestApproversEnabled = false
	b.mrRule(1, withUsers(uuid.New()))

	state := b.state()
	if !state.Approved() {
		t.Error("expected approved when the feature is unavailable")
	}
	if got := state.ApprovalsLeft(); got != 0 {
		t.Errorf("ApprovalsLeft() = %d, want 0", got)
	}
	if len(state.WrappedRules()) != 0 {
		t.Error("expected no wrapped rules when the feature is unavailable")
	}
}

func TestState_TemporaryUnapprovalVeto(t *testing.T) {
	approver := uuid.New()
	b := newSnapshot()
	b.mrRule(1, withUsers(approver))
	b.approve(approver)

	store := cache.NewTTLStore()
	state := approval.NewState(b.build(), store)

	if !state.Approved() {
		t.Fatal("expected satisfied rule set to be approved")
	}
	if state.TemporarilyUnapproved() {
		t.Fatal("expected no flag before TemporarilyUnapprove")
	}

	state.TemporarilyUnapprove()
	if !state.TemporarilyUnapproved() {
		t.Fatal("expected flag after TemporarilyUnapprove")
	}
	if state.Approved() {
		t.Error("expected the flag to veto approval")
	}

	state.ExpireUnapprovedKey()
	if state.TemporarilyUnapproved() {
		t.Fatal("expected flag to clear on expire")
	}
	if !state.Approved() {
		t.Error("expected approval to return without re-submitting approvals")
	}
}

func TestState_ApprovalsRequired(t *testing.T) {
	t.Run("sums named rules", func(t *testing.T) {
		b := newSnapshot()
		b.mrRule(3, withUsers(uuid.New()))
		b.mrRule(10, withUsers(uuid.New()))

		if got := b.state().ApprovalsRequired(); got != 13 {
			t.Errorf("ApprovalsRequired() = %d, want 13", got)
		}
	})

	t.Run("any-approver requirement is exclusive, never summed", func(t *testing.T) {
		b := newSnapshot()
		b.mrRule(3, withType(model.RuleTypeAnyApprover))
		b.mrRule(10, withUsers(uuid.New()))

		if got := b.state().ApprovalsRequired(); got != 3 {
			t.Errorf("ApprovalsRequired() = %d, want the any-approver requirement alone", got)
		}
	})

	t.Run("zero-requirement any-approver falls back to the sum", func(t *testing.T) {
		b := newSnapshot()
		b.mrRule(0, withType(model.RuleTypeAnyApprover))
		b.mrRule(10, withUsers(uuid.New()))

		if got := b.state().ApprovalsRequired(); got != 10 {
			t.Errorf("ApprovalsRequired() = %d, want 10", got)
		}
	})
}

func TestState_ApprovalsLeft(t *testing.T) {
	t.Run("sums per-rule counters", func(t *testing.T) {
		b := newSnapshot()
		b.mrRule(5, withUsers(uuid.New()))
		b.mrRule(7, withUsers(uuid.New()))

		if got := b.state().ApprovalsLeft(); got != 12 {
			t.Errorf("ApprovalsLeft() = %d, want 12", got)
		}
	})

	t.Run("any-approver path is its own counter", func(t *testing.T) {
		b := newSnapshot()
		b.mrRule(5, withUsers(uuid.New()))
		b.mrRule(20, withType(model.RuleTypeAnyApprover))

		if got := b.state().ApprovalsLeft(); got != 20 {
			t.Errorf("ApprovalsLeft() = %d, want 20", got)
		}
	})
}

func TestState_ApprovalRulesLeft(t *testing.T) {
	b := newSnapshot()
	b.mrRule(1, withUsers(uuid.New()))
	b.mrRule(1, withUsers(uuid.New()))

	if got := len(b.state().ApprovalRulesLeft()); got != 2 {
		t.Errorf("ApprovalRulesLeft() count = %d, want 2", got)
	}

	b.snap.Project.MergeRequestApproversEnabled = false
	if got := len(b.state().ApprovalRulesLeft()); got != 0 {
		t.Errorf("ApprovalRulesLeft() count = %d, want 0 with feature unavailable", got)
	}
}

func TestState_Approvers_IncludesGroupMembers(t *testing.T) {
	approver, viaGroup := uuid.New(), uuid.New()
	groupID := uuid.New()

	b := newSnapshot()
	b.addGroupMembers(groupID, viaGroup)
	b.mrRule(1, withUsers(approver))
	b.mrRule(1, withUsers(approver), withGroups(groupID))

	got := b.state().Approvers()
	if !sameIDs(got, approver, viaGroup) {
		t.Errorf("Approvers() = %v, want deduplicated direct user + group member", got)
	}
}

func TestState_FilteredApprovers(t *testing.T) {
	approver1, approver2, approver3, viaGroup := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	groupID := uuid.New()

	build := func() *snapshotBuilder {
		b := newSnapshot()
		b.addGroupMembers(groupID, viaGroup)
		b.mrRule(1, withUsers(approver1))
		b.mrRule(1, withUsers(approver1), withGroups(groupID))
		b.mrRule(1, withUsers(approver2), withType(model.RuleTypeCodeOwner))
		b.mrRule(1, withUsers(approver3), withReportType(model.ReportTypeCodeCoverage))
		return b
	}

	t.Run("direct users without code owners", func(t *testing.T) {
		got := build().state().FilteredApprovers(approval.ApproverFilter{
			ExcludeCodeOwner: true,
			DirectUsersOnly:  true,
		})
		if !sameIDs(got, approver1, approver3) {
			t.Errorf("FilteredApprovers() = %v, want direct rule members only", got)
		}
	})

	t.Run("unactioned only", func(t *testing.T) {
		b := build()
		b.approve(approver1)

		got := b.state().FilteredApprovers(approval.ApproverFilter{UnactionedOnly: true})
		if !sameIDs(got, approver2, approver3, viaGroup) {
			t.Errorf("FilteredApprovers() = %v, want everyone but the approved user", got)
		}
	})
}

func TestState_UnactionedApprovers(t *testing.T) {
	approver1, approver2 := uuid.New(), uuid.New()

	b := newSnapshot()
	b.mrRule(1, withUsers(approver1, approver2))
	b.mrRule(1, withUsers(approver1))
	b.approve(approver2)

	got := b.state().UnactionedApprovers()
	if !sameIDs(got, approver1) {
		t.Errorf("UnactionedApprovers() = %v, want %v", got, approver1)
	}
}

func TestState_AuthorExclusion(t *testing.T) {
	t.Run("self approval disabled excludes the author", func(t *testing.T) {
		b := newSnapshot()
		b.mrRule(1, withUsers(b.snap.MergeRequest.AuthorID))

		if containsID(b.state().Approvers(), b.snap.MergeRequest.AuthorID) {
			t.Error("expected author to be excluded from approvers")
		}
	})

	t.Run("self approval enabled includes the author", func(t *testing.T) {
		b := newSnapshot()
		b.snap.Project.MergeRequestsAuthorApproval = true
		b.mrRule(1, withUsers(b.snap.MergeRequest.AuthorID))

		if !containsID(b.state().Approvers(), b.snap.MergeRequest.AuthorID) {
			t.Error("expected author to be included in approvers")
		}
	})

	t.Run("violated policy override excludes the author regardless", func(t *testing.T) {
		b := newSnapshot()
		b.snap.Project.MergeRequestsAuthorApproval = true
		read := b.addPolicyRead(model.ScanResultPolicyRead{
			ProjectApprovalSettings: model.ApprovalSettings{PreventApprovalByAuthor: true},
		})
		b.violate(read.ID)
		b.mrRule(1, withUsers(b.snap.MergeRequest.AuthorID))

		if containsID(b.state().Approvers(), b.snap.MergeRequest.AuthorID) {
			t.Error("expected policy override to exclude the author")
		}
	})
}

func TestState_CommitterExclusion(t *testing.T) {
	committer := uuid.New()

	t.Run("committers approval enabled includes committers", func(t *testing.T) {
		b := newSnapshot()
		b.addCommitter(committer)
		b.mrRule(1, withUsers(committer))

		if !containsID(b.state().Approvers(), committer) {
			t.Error("expected committer to be included")
		}
	})

	t.Run("committers approval disabled excludes committers", func(t *testing.T) {
		b := newSnapshot()
		b.snap.Project.MergeRequestsDisableCommittersApproval = true
		b.addCommitter(committer)
		b.mrRule(1, withUsers(committer))

		if containsID(b.state().Approvers(), committer) {
			t.Error("expected committer to be excluded")
		}
	})

	t.Run("violated policy override excludes committers", func(t *testing.T) {
		b := newSnapshot()
		read := b.addPolicyRead(model.ScanResultPolicyRead{
			ProjectApprovalSettings: model.ApprovalSettings{PreventApprovalByCommitAuthor: true},
		})
		b.violate(read.ID)
		b.addCommitter(committer)
		b.mrRule(1, withUsers(committer))

		if containsID(b.state().Approvers(), committer) {
			t.Error("expected policy override to exclude the committer")
		}
	})
}

func TestState_EligibleForApprovalBy(t *testing.T) {
	approver, developer, reporter, stranger := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	build := func() *snapshotBuilder {
		b := newSnapshot()
		b.addMember(b.snap.MergeRequest.AuthorID, model.AccessLevelDeveloper)
		b.addMember(approver, model.AccessLevelDeveloper)
		b.addMember(developer, model.AccessLevelDeveloper)
		b.addMember(reporter, model.AccessLevelReporter)
		return b
	}

	t.Run("anonymous is never eligible", func(t *testing.T) {
		b := build()
		b.projectRule(1, withType(model.RuleTypeAnyApprover))

		if b.state().EligibleForApprovalBy(nil) {
			t.Error("expected nil user to be ineligible")
		}
	})

	t.Run("write access suffices with an any-approver rule", func(t *testing.T) {
		b := build()
		b.projectRule(1, withType(model.RuleTypeAnyApprover))

		state := b.state()
		if !state.EligibleForApprovalBy(&developer) {
			t.Error("expected developer to be eligible")
		}
		if state.EligibleForApprovalBy(&reporter) {
			t.Error("expected reporter to be ineligible")
		}
		if state.EligibleForApprovalBy(&stranger) {
			t.Error("expected stranger to be ineligible")
		}
	})

	t.Run("no double approval", func(t *testing.T) {
		b := build()
		b.mrRule(2, withUsers(approver, developer))
		b.approve(approver)

		state := b.state()
		if state.EligibleForApprovalBy(&approver) {
			t.Error("expected a user who already approved to be ineligible")
		}
		if !state.EligibleForApprovalBy(&developer) {
			t.Error("expected the remaining approver to stay eligible")
		}
	})

	t.Run("author eligibility follows the self-approval setting", func(t *testing.T) {
		author := uuid.UUID{}

		b := build()
		author = b.snap.MergeRequest.AuthorID
		b.mrRule(1, withUsers(approver))
		if b.state().EligibleForApprovalBy(&author) {
			t.Error("expected author to be ineligible when self-approval is disabled")
		}

		b2 := build()
		author = b2.snap.MergeRequest.AuthorID
		b2.snap.Project.MergeRequestsAuthorApproval = true
		b2.mrRule(1, withUsers(approver))
		if !b2.state().EligibleForApprovalBy(&author) {
			t.Error("expected author to be eligible when self-approval is enabled")
		}
	})

	t.Run("committer eligibility follows the committer setting", func(t *testing.T) {
		b := build()
		b.addCommitter(developer)
		b.snap.Project.MergeRequestsDisableCommittersApproval = true
		b.mrRule(1, withUsers(approver))

		if b.state().EligibleForApprovalBy(&developer) {
			t.Error("expected committer to be ineligible when committer approval is disabled")
		}
	})
}

func TestState_InvalidApproversRules(t *testing.T) {
	b := newSnapshot()
	b.mrRule(2, withUsers(uuid.New()), withReportType(model.ReportTypeCodeCoverage))
	b.mrRule(1, withUsers(uuid.New(), uuid.New()))
	b.mrRule(1, withType(model.RuleTypeAnyApprover))

	invalid := b.state().InvalidApproversRules()
	if len(invalid) != 1 {
		t.Fatalf("expected one invalid rule, got %d", len(invalid))
	}
	if invalid[0].Rule.ApprovalsRequired != 2 {
		t.Error("expected the under-provisioned report rule to be flagged")
	}
}

func TestState_RequirePasswordToApprove(t *testing.T) {
	t.Run("project setting", func(t *testing.T) {
		b := newSnapshot()
		b.snap.Project.RequirePasswordToApprove = true

		if !b.state().RequirePasswordToApprove() {
			t.Error("expected project setting to require a password")
		}
	})

	t.Run("violated policy override", func(t *testing.T) {
		b := newSnapshot()
		read := b.addPolicyRead(model.ScanResultPolicyRead{
			ProjectApprovalSettings: model.ApprovalSettings{RequirePasswordToApprove: true},
		})
		b.violate(read.ID)

		state := b.state()
		if !state.RequirePasswordToApprove() {
			t.Error("expected violated policy to require a password")
		}
		if !state.PolicyApprovalSettings().RequirePasswordToApprove {
			t.Error("expected the override map to carry require_password_to_approve")
		}
	})

	t.Run("policy without violations contributes nothing", func(t *testing.T) {
		b := newSnapshot()
		b.addPolicyRead(model.ScanResultPolicyRead{
			ProjectApprovalSettings: model.ApprovalSettings{RequirePasswordToApprove: true},
		})

		if b.state().RequirePasswordToApprove() {
			t.Error("expected unviolated policy to contribute nothing")
		}
	})
}

func TestState_ApprovalRulesOverwritten(t *testing.T) {
	t.Run("no merge request rules", func(t *testing.T) {
		b := newSnapshot()
		b.projectRule(1, withUsers(uuid.New()))

		if b.state().ApprovalRulesOverwritten() {
			t.Error("expected project-only configuration not to count as overwritten")
		}
	})

	t.Run("merge request any-approver rule", func(t *testing.T) {
		b := newSnapshot()
		b.mrRule(1, withType(model.RuleTypeAnyApprover))

		if !b.state().ApprovalRulesOverwritten() {
			t.Error("expected merge request rule to count as overwritten")
		}
	})

	t.Run("overriding disabled on the project", func(t *testing.T) {
		b := newSnapshot()
		b.snap.Project.DisableOverridingApproversPerMergeRequest = true
		b.mrRule(1, withType(model.RuleTypeAnyApprover))

		if b.state().ApprovalRulesOverwritten() {
			t.Error("expected overriding to be disabled by the project setting")
		}
	})

	t.Run("synced project copies are not overrides", func(t *testing.T) {
		b := newSnapshot()
		source := b.projectRule(1, withUsers(uuid.New()))
		b.mrRule(1, withSourceRule(source.ID), withUsers(uuid.New()))

		if b.state().ApprovalRulesOverwritten() {
			t.Error("expected a synced copy of a project rule not to count as overwritten")
		}
	})

	t.Run("branch scoping survives syncing", func(t *testing.T) {
		// A template scoped to protected branches is copied onto the merge
		// request, which then targets an unprotected branch. The copy must not
		// resurrect the rule outside its scope.
		b := newSnapshot()
		b.addProtectedBranch("main")
		source := b.projectRule(1, withUsers(uuid.New()), withAppliesToAllProtectedBranches())

		copied := b.makeRule(1, withSourceRule(source.ID), withUsers(uuid.New()), withAppliesToAllProtectedBranches())
		mrID := b.snap.MergeRequest.ID
		copied.MergeRequestID = &mrID
		b.snap.MergeRequestRules = append(b.snap.MergeRequestRules, copied)

		state := approval.NewStateForBranch(b.build(), nil, "feature/unprotected")
		if state.ApprovalNeeded() {
			t.Error("expected a protected-branch-scoped rule to stay out of scope on an unprotected branch")
		}
		if n := len(state.WrappedRules()); n != 0 {
			t.Errorf("wrapped rules = %d, want 0", n)
		}
	})
}

func TestState_Memoization(t *testing.T) {
	// Same instance, repeated queries: identical results, no recomputation
	// visible through mutation of the snapshot afterwards.
	approver := uuid.New()
	b := newSnapshot()
	b.mrRule(1, withUsers(approver))

	state := b.state()
	first := state.Approvers()
	b.snap.MergeRequestRules = nil // must not affect the already-built state

	second := state.Approvers()
	if !sameIDs(second, first...) {
		t.Error("expected memoized approvers to be stable across calls")
	}
	if state.ApprovalsLeft() != 1 || state.ApprovalsLeft() != 1 {
		t.Error("expected repeated ApprovalsLeft calls to agree")
	}
}
