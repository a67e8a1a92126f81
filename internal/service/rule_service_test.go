package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"backend/internal/model"

	"github.com/google/uuid"
)

// --- Stubs ---

type stubRuleRepo struct {
	projectRules []model.ApprovalRule
	mrRules      []model.ApprovalRule
	created      []model.ApprovalRule

	anyApproverProject bool
	anyApproverMR      bool

	// Consumed one per call, letting tests script failure sequences.
	createErrs    []error
	codeOwnerRows []*model.ApprovalRule
}

func (r *stubRuleRepo) Create(_ context.Context, rule *model.ApprovalRule) error {
	if len(r.createErrs) > 0 {
		err := r.createErrs[0]
		r.createErrs = r.createErrs[1:]
		if err != nil {
			return err
		}
	}
	r.created = append(r.created, *rule)
	return nil
}

func (r *stubRuleRepo) FindByID(_ context.Context, id uuid.UUID) (*model.ApprovalRule, error) {
	for i := range r.projectRules {
		if r.projectRules[i].ID == id {
			return &r.projectRules[i], nil
		}
	}
	return nil, errors.New("record not found")
}

func (r *stubRuleRepo) ListForProject(context.Context, uuid.UUID) ([]model.ApprovalRule, error) {
	return r.projectRules, nil
}

func (r *stubRuleRepo) ListForMergeRequest(context.Context, uuid.UUID) ([]model.ApprovalRule, error) {
	return r.mrRules, nil
}

func (r *stubRuleRepo) AnyApproverExistsForProject(context.Context, uuid.UUID) (bool, error) {
	return r.anyApproverProject, nil
}

func (r *stubRuleRepo) AnyApproverExistsForMergeRequest(context.Context, uuid.UUID) (bool, error) {
	return r.anyApproverMR, nil
}

func (r *stubRuleRepo) FindCodeOwnerRule(context.Context, uuid.UUID, string, string) (*model.ApprovalRule, error) {
	if len(r.codeOwnerRows) == 0 {
		return nil, errors.New("record not found")
	}
	row := r.codeOwnerRows[0]
	r.codeOwnerRows = r.codeOwnerRows[1:]
	if row == nil {
		return nil, errors.New("record not found")
	}
	return row, nil
}

func (r *stubRuleRepo) Update(context.Context, *model.ApprovalRule) error { return nil }
func (r *stubRuleRepo) ReplaceUsers(context.Context, *model.ApprovalRule, []model.User) error {
	return nil
}
func (r *stubRuleRepo) ReplaceGroups(context.Context, *model.ApprovalRule, []model.Group) error {
	return nil
}
func (r *stubRuleRepo) Delete(context.Context, uuid.UUID) error { return nil }

type stubMergeRequestRepo struct {
	mr *model.MergeRequest
}

func (r *stubMergeRequestRepo) Create(context.Context, *model.MergeRequest) error { return nil }

func (r *stubMergeRequestRepo) FindByID(context.Context, uuid.UUID) (*model.MergeRequest, error) {
	if r.mr == nil {
		return nil, errors.New("record not found")
	}
	return r.mr, nil
}

func (r *stubMergeRequestRepo) List(context.Context, uuid.UUID, string, int, int) ([]model.MergeRequest, int64, error) {
	return nil, 0, nil
}
func (r *stubMergeRequestRepo) Update(context.Context, *model.MergeRequest) error          { return nil }
func (r *stubMergeRequestRepo) AddCommit(context.Context, *model.MergeRequestCommit) error { return nil }
func (r *stubMergeRequestRepo) CommitterIDs(context.Context, uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

type stubProjectRepo struct {
	project  *model.Project
	branches []model.ProtectedBranch
}

func (r *stubProjectRepo) Create(context.Context, *model.Project) error { return nil }

func (r *stubProjectRepo) FindByID(context.Context, uuid.UUID) (*model.Project, error) {
	if r.project == nil {
		return nil, errors.New("record not found")
	}
	return r.project, nil
}

func (r *stubProjectRepo) Update(context.Context, *model.Project) error { return nil }
func (r *stubProjectRepo) ListMembers(context.Context, uuid.UUID) ([]model.ProjectMember, error) {
	return nil, nil
}
func (r *stubProjectRepo) AddMember(context.Context, *model.ProjectMember) error { return nil }
func (r *stubProjectRepo) RemoveMember(context.Context, uuid.UUID, uuid.UUID) error {
	return nil
}
func (r *stubProjectRepo) ListProtectedBranches(context.Context, uuid.UUID, []uuid.UUID) ([]model.ProtectedBranch, error) {
	return r.branches, nil
}
func (r *stubProjectRepo) AddProtectedBranch(context.Context, *model.ProtectedBranch) error {
	return nil
}
func (r *stubProjectRepo) AncestorGroups(context.Context, *model.Project) ([]model.Group, error) {
	return nil, nil
}
func (r *stubProjectRepo) GroupMembers(context.Context, []uuid.UUID) (map[uuid.UUID][]uuid.UUID, error) {
	return map[uuid.UUID][]uuid.UUID{}, nil
}

type stubAuditRepo struct {
	entries []model.AuditLog
}

func (r *stubAuditRepo) Log(_ context.Context, entry *model.AuditLog) error {
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *stubAuditRepo) List(context.Context, int, int) ([]model.AuditLog, int64, error) {
	return nil, 0, nil
}

type stubTxManager struct{}

func (stubTxManager) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return fn(ctx)
}

func newRuleServiceForTest(rules *stubRuleRepo, mrs *stubMergeRequestRepo, projects *stubProjectRepo) *approvalRuleService {
	return &approvalRuleService{
		rules:         rules,
		mergeRequests: mrs,
		projects:      projects,
		audit:         &stubAuditRepo{},
		txManager:     stubTxManager{},
	}
}

// --- Tests ---

func TestValidateRoleApprovers(t *testing.T) {
	tests := []struct {
		name     string
		ruleType string
		levels   []int
		wantErr  string
	}{
		{
			name:     "empty role approvers always pass",
			ruleType: model.RuleTypeRegular,
			levels:   nil,
		},
		{
			name:     "code owner rule accepts valid levels",
			ruleType: model.RuleTypeCodeOwner,
			levels:   []int{model.AccessLevelDeveloper, model.AccessLevelMaintainer},
		},
		{
			name:     "regular rule rejects role approvers",
			ruleType: model.RuleTypeRegular,
			levels:   []int{model.AccessLevelDeveloper},
			wantErr:  "role_approvers can only be added to codeowner type rules",
		},
		{
			name:     "any approver rule rejects role approvers",
			ruleType: model.RuleTypeAnyApprover,
			levels:   []int{model.AccessLevelOwner},
			wantErr:  "role_approvers can only be added to codeowner type rules",
		},
		{
			name:     "unknown access level rejected",
			ruleType: model.RuleTypeCodeOwner,
			levels:   []int{25},
			wantErr:  "role_approvers 25 is not included in the list",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateRoleApprovers(tt.ruleType, tt.levels)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || err.Error() != tt.wantErr {
				t.Fatalf("got error %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestCreateProjectRuleRejectsSecondAnyApprover(t *testing.T) {
	rules := &stubRuleRepo{anyApproverProject: true}
	svc := newRuleServiceForTest(rules, &stubMergeRequestRepo{}, &stubProjectRepo{})

	_, err := svc.CreateProjectRule(context.Background(), uuid.New(), CreateRuleRequest{
		Name:              "All Members",
		RuleType:          model.RuleTypeAnyApprover,
		ApprovalsRequired: 1,
	}, nil)
	if err == nil || err.Error() != "any-approver for the project already exists" {
		t.Fatalf("got error %v, want duplicate any-approver rejection", err)
	}
	if len(rules.created) != 0 {
		t.Errorf("expected no rule to be created, got %d", len(rules.created))
	}
}

func TestCreateMergeRequestRuleRejectsSecondAnyApprover(t *testing.T) {
	mrID := uuid.New()
	mr := &model.MergeRequest{ID: mrID, TargetProjectID: uuid.New(), TargetBranch: "main"}
	rules := &stubRuleRepo{anyApproverMR: true}
	svc := newRuleServiceForTest(rules, &stubMergeRequestRepo{mr: mr}, &stubProjectRepo{})

	_, err := svc.CreateMergeRequestRule(context.Background(), mrID, CreateRuleRequest{
		Name:              "All Members",
		RuleType:          model.RuleTypeAnyApprover,
		ApprovalsRequired: 1,
	}, nil)
	if err == nil || err.Error() != "any-approver for the merge request already exists" {
		t.Fatalf("got error %v, want duplicate any-approver rejection", err)
	}
	if len(rules.created) != 0 {
		t.Errorf("expected no rule to be created, got %d", len(rules.created))
	}
}

func TestSyncRulesHonorsBranchScoping(t *testing.T) {
	projectID := uuid.New()
	mrID := uuid.New()
	mr := &model.MergeRequest{
		ID:              mrID,
		TargetProjectID: projectID,
		SourceBranch:    "feature/login",
		TargetBranch:    "feature/login-target",
	}
	project := &model.Project{
		ID:                           projectID,
		DefaultBranch:                "main",
		MergeRequestApproversEnabled: true,
		PolicyBranchMatchingEnabled:  true,
	}
	protected := []model.ProtectedBranch{{ID: uuid.New(), Name: "main"}, {ID: uuid.New(), Name: "release/*"}}

	protectionWide := model.ApprovalRule{
		ID:                            uuid.New(),
		ProjectID:                     &projectID,
		RuleType:                      model.RuleTypeRegular,
		Name:                          "Protected only",
		ApprovalsRequired:             1,
		AppliesToAllProtectedBranches: true,
	}
	mainOnly := model.ApprovalRule{
		ID:                uuid.New(),
		ProjectID:         &projectID,
		RuleType:          model.RuleTypeRegular,
		Name:              "Main only",
		ApprovalsRequired: 1,
		ProtectedBranches: []model.ProtectedBranch{{ID: uuid.New(), Name: "main"}},
	}
	everywhere := model.ApprovalRule{
		ID:                uuid.New(),
		ProjectID:         &projectID,
		RuleType:          model.RuleTypeRegular,
		Name:              "Everywhere",
		ApprovalsRequired: 2,
	}

	rules := &stubRuleRepo{projectRules: []model.ApprovalRule{protectionWide, mainOnly, everywhere}}
	svc := newRuleServiceForTest(rules, &stubMergeRequestRepo{mr: mr}, &stubProjectRepo{project: project, branches: protected})

	created, err := svc.SyncRulesToMergeRequest(context.Background(), mrID)
	if err != nil {
		t.Fatalf("sync returned error: %v", err)
	}

	// The target branch is unprotected: only the unscoped template applies.
	if len(created) != 1 || created[0].Name != "Everywhere" {
		names := make([]string, 0, len(created))
		for _, c := range created {
			names = append(names, c.Name)
		}
		t.Fatalf("synced rules = %v, want only %q", names, "Everywhere")
	}
}

func TestSyncRulesCarriesScopingOntoCopies(t *testing.T) {
	projectID := uuid.New()
	mrID := uuid.New()
	readID := uuid.New()
	mr := &model.MergeRequest{
		ID:              mrID,
		TargetProjectID: projectID,
		SourceBranch:    "feature",
		TargetBranch:    "main",
	}
	project := &model.Project{
		ID:                           projectID,
		DefaultBranch:                "main",
		MergeRequestApproversEnabled: true,
		PolicyBranchMatchingEnabled:  true,
	}
	protected := []model.ProtectedBranch{{ID: uuid.New(), Name: "main"}}

	source := model.ApprovalRule{
		ID:                            uuid.New(),
		ProjectID:                     &projectID,
		RuleType:                      model.RuleTypeRegular,
		Name:                          "Protected only",
		ApprovalsRequired:             1,
		AppliesToAllProtectedBranches: true,
		ScanResultPolicyReadID:        &readID,
		Users:                         []model.User{{ID: uuid.New()}},
	}

	rules := &stubRuleRepo{projectRules: []model.ApprovalRule{source}}
	svc := newRuleServiceForTest(rules, &stubMergeRequestRepo{mr: mr}, &stubProjectRepo{project: project, branches: protected})

	if _, err := svc.SyncRulesToMergeRequest(context.Background(), mrID); err != nil {
		t.Fatalf("sync returned error: %v", err)
	}
	if len(rules.created) != 1 {
		t.Fatalf("created %d rules, want 1", len(rules.created))
	}

	copied := rules.created[0]
	if copied.ApprovalProjectRuleID == nil || *copied.ApprovalProjectRuleID != source.ID {
		t.Error("copy lost the back-reference to its source rule")
	}
	if !copied.AppliesToAllProtectedBranches {
		t.Error("copy lost the protection-wide scoping flag")
	}
	if copied.ScanResultPolicyReadID == nil || *copied.ScanResultPolicyReadID != readID {
		t.Error("copy lost the policy read reference")
	}
	if len(copied.Users) != 1 || copied.Users[0].ID != source.Users[0].ID {
		t.Errorf("copy approvers = %+v, want the source's", copied.Users)
	}
}

func TestSyncRulesSkipsAlreadySyncedTemplates(t *testing.T) {
	projectID := uuid.New()
	mrID := uuid.New()
	mr := &model.MergeRequest{ID: mrID, TargetProjectID: projectID, TargetBranch: "main"}
	project := &model.Project{ID: projectID, DefaultBranch: "main", MergeRequestApproversEnabled: true}

	source := model.ApprovalRule{
		ID:                uuid.New(),
		ProjectID:         &projectID,
		RuleType:          model.RuleTypeRegular,
		Name:              "Security",
		ApprovalsRequired: 1,
	}
	sourceID := source.ID
	alreadySynced := model.ApprovalRule{
		ID:                    uuid.New(),
		MergeRequestID:        &mrID,
		ApprovalProjectRuleID: &sourceID,
		RuleType:              model.RuleTypeRegular,
		Name:                  "Security",
		ApprovalsRequired:     1,
	}

	rules := &stubRuleRepo{
		projectRules: []model.ApprovalRule{source},
		mrRules:      []model.ApprovalRule{alreadySynced},
	}
	svc := newRuleServiceForTest(rules, &stubMergeRequestRepo{mr: mr}, &stubProjectRepo{project: project})

	created, err := svc.SyncRulesToMergeRequest(context.Background(), mrID)
	if err != nil {
		t.Fatalf("sync returned error: %v", err)
	}
	if len(created) != 0 {
		t.Errorf("synced %d rules, want 0 for an already-synced template", len(created))
	}
}

func TestFindOrCreateCodeOwnerRuleRetriesOnConflict(t *testing.T) {
	mrID := uuid.New()
	winner := &model.ApprovalRule{
		ID:             uuid.New(),
		MergeRequestID: &mrID,
		RuleType:       model.RuleTypeCodeOwner,
		Name:           "*.go",
		Section:        "backend",
	}
	rules := &stubRuleRepo{
		// First lookup misses, the insert loses the race, the retry finds the
		// winner's row.
		codeOwnerRows: []*model.ApprovalRule{nil, winner},
		createErrs:    []error{errors.New(`duplicate key value violates unique constraint "idx_approval_rules_code_owner_identity" (SQLSTATE 23505)`)},
	}
	svc := newRuleServiceForTest(rules, &stubMergeRequestRepo{}, &stubProjectRepo{})

	got, err := svc.FindOrCreateCodeOwnerRule(context.Background(), mrID, "*.go", "backend")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != winner.ID.String() {
		t.Errorf("got rule %s, want the concurrent winner %s", got.ID, winner.ID)
	}
	if len(rules.created) != 0 {
		t.Errorf("expected the losing insert to create nothing, got %d", len(rules.created))
	}
}

func TestFindOrCreateCodeOwnerRuleSurfacesOtherErrors(t *testing.T) {
	rules := &stubRuleRepo{
		codeOwnerRows: []*model.ApprovalRule{nil},
		createErrs:    []error{errors.New("connection refused")},
	}
	svc := newRuleServiceForTest(rules, &stubMergeRequestRepo{}, &stubProjectRepo{})

	_, err := svc.FindOrCreateCodeOwnerRule(context.Background(), uuid.New(), "*.go", "")
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("got %v, want the create error passed through", err)
	}
}

func TestIsUniquenessViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil error", err: nil, want: false},
		{name: "generic error", err: errors.New("connection refused"), want: false},
		{name: "duplicate key text", err: errors.New(`duplicate key value violates unique constraint "idx_rules_mr_name_section"`), want: true},
		{name: "sqlstate code", err: errors.New("ERROR: conflict (SQLSTATE 23505)"), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUniquenessViolation(tt.err); got != tt.want {
				t.Errorf("isUniquenessViolation(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestBuildRule(t *testing.T) {
	svc := &approvalRuleService{}

	userID := uuid.New()
	groupID := uuid.New()

	rule, err := svc.buildRule(CreateRuleRequest{
		Name:                 "Security",
		ApprovalsRequired:    2,
		UserIDs:              []string{userID.String()},
		GroupIDs:             []string{groupID.String()},
		ProtectedBranchNames: []string{"main"},
	})
	if err != nil {
		t.Fatalf("buildRule returned error: %v", err)
	}

	if rule.RuleType != model.RuleTypeRegular {
		t.Errorf("default rule type = %q, want %q", rule.RuleType, model.RuleTypeRegular)
	}
	if len(rule.Users) != 1 || rule.Users[0].ID != userID {
		t.Errorf("users not carried over: %+v", rule.Users)
	}
	if len(rule.Groups) != 1 || rule.Groups[0].ID != groupID {
		t.Errorf("groups not carried over: %+v", rule.Groups)
	}
	if len(rule.ProtectedBranches) != 1 || rule.ProtectedBranches[0].Name != "main" {
		t.Errorf("protected branches not carried over: %+v", rule.ProtectedBranches)
	}
}

func TestBuildRuleRejectsBadInput(t *testing.T) {
	svc := &approvalRuleService{}

	if _, err := svc.buildRule(CreateRuleRequest{
		Name:          "Owners",
		RuleType:      model.RuleTypeRegular,
		RoleApprovers: []int{model.AccessLevelDeveloper},
	}); err == nil {
		t.Error("expected role approver validation error for regular rule")
	}

	_, err := svc.buildRule(CreateRuleRequest{
		Name:    "Broken",
		UserIDs: []string{"not-a-uuid"},
	})
	if err == nil || !strings.Contains(err.Error(), "invalid user id") {
		t.Errorf("got %v, want invalid user id error", err)
	}
}
