package approval

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"

	"backend/internal/model"
)

var trailingSequenceRe = regexp.MustCompile(`\s\d+$`)

// WrappedRule is the evaluation-ready view of one configured rule: it joins
// the rule's approver configuration with the merge request's recorded
// approvals and the effective self-approval policy. All accessors are
// memoized; a WrappedRule is valid for the lifetime of its State only.
type WrappedRule struct {
	state *State
	Rule  model.ApprovalRule

	approvers        []uuid.UUID
	approversSet     bool
	approvedIDs      []uuid.UUID
	approvedIDsSet   bool
	unactionedIDs    []uuid.UUID
	unactionedIDsSet bool
}

func newWrappedRule(state *State, rule model.ApprovalRule) *WrappedRule {
	return &WrappedRule{state: state, Rule: rule}
}

func (w *WrappedRule) ApprovalsRequired() int {
	return w.Rule.ApprovalsRequired
}

// Name renders the rule name for display. Policy-derived rules drop the
// sequential suffix their generator appends, and gain an action marker when
// one policy carries several approval actions.
func (w *WrappedRule) Name() string {
	if !w.Rule.FromScanResultPolicy() {
		return w.Rule.Name
	}

	name := trailingSequenceRe.ReplaceAllString(w.Rule.Name, "")
	if w.policyHasMultipleActions() && w.Rule.ApprovalPolicyActionIdx != nil {
		return fmt.Sprintf("%s - Action %d", name, *w.Rule.ApprovalPolicyActionIdx)
	}
	return name
}

// policyHasMultipleActions reports whether another rule on this merge request
// stems from the same policy index but a different action.
func (w *WrappedRule) policyHasMultipleActions() bool {
	if w.Rule.SecurityOrchestrationPolicyConfigurationID == nil {
		return false
	}
	for i := range w.state.snap.MergeRequestRules {
		other := &w.state.snap.MergeRequestRules[i]
		if other.ID == w.Rule.ID ||
			other.SecurityOrchestrationPolicyConfigurationID == nil ||
			*other.SecurityOrchestrationPolicyConfigurationID != *w.Rule.SecurityOrchestrationPolicyConfigurationID {
			continue
		}
		if !equalIntPtr(other.OrchestrationPolicyIdx, w.Rule.OrchestrationPolicyIdx) {
			continue
		}
		if !equalIntPtr(other.ApprovalPolicyActionIdx, w.Rule.ApprovalPolicyActionIdx) {
			return true
		}
	}
	return false
}

// Approvers expands the configured approver sources (direct users, group
// members, role pools) into a deduplicated user list, then drops the author
// and committers when the effective policy excludes them. Any-approver rules
// have no named approvers.
func (w *WrappedRule) Approvers() []uuid.UUID {
	if w.approversSet {
		return w.approvers
	}
	w.approversSet = true

	if w.Rule.AnyApprover() {
		return nil
	}

	var ids []uuid.UUID
	seen := make(map[uuid.UUID]struct{})
	add := func(id uuid.UUID) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	for _, u := range w.Rule.Users {
		add(u.ID)
	}
	for _, g := range w.Rule.Groups {
		for _, id := range w.state.snap.GroupMembers[g.ID] {
			add(id)
		}
	}
	if w.Rule.CodeOwner() {
		for _, id := range w.state.snap.membersWithRole(w.Rule.RoleApprovers) {
			add(id)
		}
	}
	if read := w.state.snap.policyRead(&w.Rule); read != nil {
		for _, id := range w.state.snap.membersWithRole(read.RoleApprovers) {
			add(id)
		}
	}

	w.approvers = w.state.filterExcluded(ids)
	return w.approvers
}

// ApprovedApprovers are the users whose recorded approval still counts for
// this rule. Exclusion is a query-time filter: an approval row survives a
// policy change, it just stops earning credit.
func (w *WrappedRule) ApprovedApprovers() []uuid.UUID {
	if w.approvedIDsSet {
		return w.approvedIDs
	}
	w.approvedIDsSet = true

	approved := w.state.approvedUserIDs()
	if w.Rule.AnyApprover() {
		// Any-approver rules draw from anyone allowed to approve, so every
		// non-excluded approval counts.
		w.approvedIDs = w.state.filterExcluded(approved)
		return w.approvedIDs
	}

	eligible := make(map[uuid.UUID]struct{})
	for _, id := range w.Approvers() {
		eligible[id] = struct{}{}
	}
	for _, id := range approved {
		if _, ok := eligible[id]; ok {
			w.approvedIDs = append(w.approvedIDs, id)
		}
	}
	return w.approvedIDs
}

func (w *WrappedRule) ApprovedBy(userID uuid.UUID) bool {
	for _, id := range w.ApprovedApprovers() {
		if id == userID {
			return true
		}
	}
	return false
}

// UnactionedApprovers are eligible approvers who have not approved yet.
func (w *WrappedRule) UnactionedApprovers() []uuid.UUID {
	if w.unactionedIDsSet {
		return w.unactionedIDs
	}
	w.unactionedIDsSet = true

	approved := make(map[uuid.UUID]struct{})
	for _, id := range w.state.approvedUserIDs() {
		approved[id] = struct{}{}
	}
	for _, id := range w.Approvers() {
		if _, ok := approved[id]; !ok {
			w.unactionedIDs = append(w.unactionedIDs, id)
		}
	}
	return w.unactionedIDs
}

// ApprovalsLeft is how many approvals this rule still demands. Fail-open
// rules stop demanding approvals the moment they become unsatisfiable.
func (w *WrappedRule) ApprovalsLeft() int {
	if w.InvalidRule() && w.FailOpen() {
		return 0
	}
	left := w.Rule.ApprovalsRequired - len(w.ApprovedApprovers())
	if left < 0 {
		return 0
	}
	return left
}

// Approved reports whether the rule no longer blocks the merge request: its
// threshold is met, or so few unactioned approvers remain that it never can
// be and blocking would be pointless.
func (w *WrappedRule) Approved() bool {
	left := w.ApprovalsLeft()
	if left <= 0 {
		return true
	}
	if w.Rule.AnyApprover() {
		return false
	}
	return len(w.UnactionedApprovers()) < left
}

// InvalidRule flags a rule whose configured approver pool can never reach its
// threshold. Any-approver rules draw from the whole membership and are never
// invalid.
func (w *WrappedRule) InvalidRule() bool {
	if w.Rule.AnyApprover() {
		return false
	}
	return w.Rule.ApprovalsRequired > len(w.Approvers())
}

func (w *WrappedRule) FailOpen() bool {
	read := w.state.snap.policyRead(&w.Rule)
	return read != nil && read.FailOpen
}

// AllowMergeWhenInvalid reports whether an invalid rule should still let the
// merge request proceed. Policy-derived rules block unless they fail open;
// rules on a policy management project never block.
func (w *WrappedRule) AllowMergeWhenInvalid() bool {
	if w.state.snap.Project.SecurityPolicyManagementProject {
		return true
	}
	if w.Rule.ReportType == nil {
		return true
	}
	return w.FailOpen()
}

func equalIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
