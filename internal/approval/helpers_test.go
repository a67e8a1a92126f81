package approval_test

import (
	"time"

	"github.com/google/uuid"

	"backend/internal/approval"
	"backend/internal/model"
)

var testEpoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type snapshotBuilder struct {
	snap    *approval.Snapshot
	ruleSeq int
}

func newSnapshot() *snapshotBuilder {
	mrID := uuid.New()
	projectID := uuid.New()
	author := uuid.New()
	return &snapshotBuilder{
		snap: &approval.Snapshot{
			MergeRequest: model.MergeRequest{
				ID:              mrID,
				TargetProjectID: projectID,
				SourceProjectID: projectID,
				AuthorID:        author,
				SourceBranch:    "feature",
				TargetBranch:    "main",
				State:           model.MergeRequestOpened,
			},
			Project: model.Project{
				ID:                           projectID,
				Name:                         "widgets",
				DefaultBranch:                "main",
				MergeRequestApproversEnabled: true,
				MultipleApprovalRulesEnabled: true,
				PolicyBranchMatchingEnabled:  true,
			},
			PolicyReads:  make(map[uuid.UUID]model.ScanResultPolicyRead),
			GroupMembers: make(map[uuid.UUID][]uuid.UUID),
		},
	}
}

func (b *snapshotBuilder) build() *approval.Snapshot { return b.snap }

func (b *snapshotBuilder) state() *approval.State {
	return approval.NewState(b.snap, nil)
}

type ruleOpt func(*model.ApprovalRule)

func withUsers(ids ...uuid.UUID) ruleOpt {
	return func(r *model.ApprovalRule) {
		for _, id := range ids {
			r.Users = append(r.Users, model.User{ID: id})
		}
	}
}

func withGroups(ids ...uuid.UUID) ruleOpt {
	return func(r *model.ApprovalRule) {
		for _, id := range ids {
			r.Groups = append(r.Groups, model.Group{ID: id})
		}
	}
}

func withType(ruleType string) ruleOpt {
	return func(r *model.ApprovalRule) { r.RuleType = ruleType }
}

func withReportType(reportType string) ruleOpt {
	return func(r *model.ApprovalRule) {
		r.RuleType = model.RuleTypeReportApprover
		r.ReportType = &reportType
	}
}

func withName(name string) ruleOpt {
	return func(r *model.ApprovalRule) { r.Name = name }
}

func withSourceRule(sourceID uuid.UUID) ruleOpt {
	return func(r *model.ApprovalRule) { r.ApprovalProjectRuleID = &sourceID }
}

func withPolicy(configID uuid.UUID, policyIdx, actionIdx int) ruleOpt {
	return func(r *model.ApprovalRule) {
		r.SecurityOrchestrationPolicyConfigurationID = &configID
		r.OrchestrationPolicyIdx = &policyIdx
		r.ApprovalPolicyActionIdx = &actionIdx
	}
}

func withPolicyRead(id uuid.UUID) ruleOpt {
	return func(r *model.ApprovalRule) { r.ScanResultPolicyReadID = &id }
}

func withProtectedBranches(names ...string) ruleOpt {
	return func(r *model.ApprovalRule) {
		for _, name := range names {
			r.ProtectedBranches = append(r.ProtectedBranches, model.ProtectedBranch{ID: uuid.New(), Name: name})
		}
	}
}

func withAppliesToAllProtectedBranches() ruleOpt {
	return func(r *model.ApprovalRule) { r.AppliesToAllProtectedBranches = true }
}

func withApplicablePostMerge(applicable bool) ruleOpt {
	return func(r *model.ApprovalRule) { r.ApplicablePostMerge = &applicable }
}

func withRoleApprovers(levels ...int) ruleOpt {
	return func(r *model.ApprovalRule) { r.RoleApprovers = levels }
}

func (b *snapshotBuilder) makeRule(required int, opts ...ruleOpt) model.ApprovalRule {
	b.ruleSeq++
	rule := model.ApprovalRule{
		ID:                uuid.New(),
		RuleType:          model.RuleTypeRegular,
		Name:              "rule",
		ApprovalsRequired: required,
		CreatedAt:         testEpoch.Add(time.Duration(b.ruleSeq) * time.Second),
	}
	for _, opt := range opts {
		opt(&rule)
	}
	return rule
}

// mrRule adds a merge-request-level rule.
func (b *snapshotBuilder) mrRule(required int, opts ...ruleOpt) model.ApprovalRule {
	rule := b.makeRule(required, opts...)
	mrID := b.snap.MergeRequest.ID
	rule.MergeRequestID = &mrID
	b.snap.MergeRequestRules = append(b.snap.MergeRequestRules, rule)
	return rule
}

// projectRule adds a project-level template rule.
func (b *snapshotBuilder) projectRule(required int, opts ...ruleOpt) model.ApprovalRule {
	rule := b.makeRule(required, opts...)
	projectID := b.snap.Project.ID
	rule.ProjectID = &projectID
	b.snap.ProjectRules = append(b.snap.ProjectRules, rule)
	return rule
}

func (b *snapshotBuilder) approve(userID uuid.UUID) {
	b.snap.Approvals = append(b.snap.Approvals, model.Approval{
		ID:             uuid.New(),
		MergeRequestID: b.snap.MergeRequest.ID,
		UserID:         userID,
		CreatedAt:      testEpoch.Add(time.Duration(len(b.snap.Approvals)) * time.Minute),
	})
}

func (b *snapshotBuilder) addMember(userID uuid.UUID, accessLevel int) {
	b.snap.ProjectMembers = append(b.snap.ProjectMembers, model.ProjectMember{
		ID:          uuid.New(),
		ProjectID:   b.snap.Project.ID,
		UserID:      userID,
		AccessLevel: accessLevel,
	})
}

func (b *snapshotBuilder) addCommitter(userID uuid.UUID) {
	b.snap.Committers = append(b.snap.Committers, userID)
}

func (b *snapshotBuilder) addGroupMembers(groupID uuid.UUID, userIDs ...uuid.UUID) {
	b.snap.GroupMembers[groupID] = append(b.snap.GroupMembers[groupID], userIDs...)
}

func (b *snapshotBuilder) addProtectedBranch(name string) {
	projectID := b.snap.Project.ID
	b.snap.ProtectedBranches = append(b.snap.ProtectedBranches, model.ProtectedBranch{
		ID:        uuid.New(),
		ProjectID: &projectID,
		Name:      name,
	})
}

func (b *snapshotBuilder) addPolicyRead(read model.ScanResultPolicyRead) model.ScanResultPolicyRead {
	if read.ID == (uuid.UUID{}) {
		read.ID = uuid.New()
	}
	if read.ProjectID == (uuid.UUID{}) {
		read.ProjectID = b.snap.Project.ID
	}
	b.snap.PolicyReads[read.ID] = read
	return read
}

func (b *snapshotBuilder) violate(readID uuid.UUID) {
	b.snap.Violations = append(b.snap.Violations, model.PolicyViolation{
		ID:                     uuid.New(),
		ProjectID:              b.snap.Project.ID,
		MergeRequestID:         b.snap.MergeRequest.ID,
		ScanResultPolicyReadID: readID,
	})
}

func (b *snapshotBuilder) merge() {
	now := testEpoch.Add(time.Hour)
	b.snap.MergeRequest.State = model.MergeRequestMerged
	b.snap.MergeRequest.MergedAt = &now
}

func containsID(ids []uuid.UUID, want uuid.UUID) bool {
	for _, id := range ids {
		if id == want {
			return true
		}
	}
	return false
}

func sameIDs(got []uuid.UUID, want ...uuid.UUID) bool {
	if len(got) != len(want) {
		return false
	}
	for _, id := range want {
		if !containsID(got, id) {
			return false
		}
	}
	return true
}
