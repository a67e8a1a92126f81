package approval

import (
	"github.com/google/uuid"

	"backend/internal/model"
)

// State is the merge-request-scoped aggregate the rest of the system talks
// to: merge gating and event payloads all read through it. It is a pure
// projection over the snapshot, nothing here writes, and every accessor is
// memoized so repeated queries on one instance cost nothing beyond the
// initial batch load.
type State struct {
	snap         *Snapshot
	flags        FlagStore
	targetBranch string

	wrapped    []*WrappedRule
	wrappedSet bool

	overrides    *model.ApprovalSettings
	approvedIDs  []uuid.UUID
	approvedSet  bool
	authorOK     *ResolvedSetting
	committersOK *ResolvedSetting

	approvers    []uuid.UUID
	approversSet bool
}

// NewState builds the approval state for the snapshot's merge request,
// evaluated against its own target branch.
func NewState(snap *Snapshot, flags FlagStore) *State {
	return NewStateForBranch(snap, flags, snap.MergeRequest.TargetBranch)
}

// NewStateForBranch evaluates rule applicability against an explicit target
// branch instead of the merge request's current one.
func NewStateForBranch(snap *Snapshot, flags FlagStore, targetBranch string) *State {
	if flags == nil {
		flags = NopFlagStore{}
	}
	return &State{snap: snap, flags: flags, targetBranch: targetBranch}
}

// ApprovalRulesOverwritten reports whether the merge request carries its own
// regular/any-approver rules instead of the project templates. Projects can
// forbid per-merge-request overrides entirely. Copies synced from project
// templates keep a back-reference to their source and do not count as
// overrides: only rules an author configured directly flip evaluation away
// from the templates and their branch scoping.
func (s *State) ApprovalRulesOverwritten() bool {
	if s.snap.Project.DisableOverridingApproversPerMergeRequest {
		return false
	}
	for i := range s.snap.MergeRequestRules {
		rule := &s.snap.MergeRequestRules[i]
		if rule.ApprovalProjectRuleID != nil {
			continue
		}
		switch rule.RuleType {
		case model.RuleTypeRegular, model.RuleTypeAnyApprover:
			return true
		}
	}
	return false
}

// WrappedRules is the reduced, evaluation-ready rule set.
func (s *State) WrappedRules() []*WrappedRule {
	if !s.wrappedSet {
		s.wrapped = s.buildWrappedRules()
		s.wrappedSet = true
	}
	return s.wrapped
}

func (s *State) featureAvailable() bool {
	return s.snap.Project.MergeRequestApproversEnabled
}

// ApprovalNeeded reports whether any approvals stand between this merge
// request and merging.
func (s *State) ApprovalNeeded() bool {
	return s.featureAvailable() && s.ApprovalsRequired() > 0
}

// Approved is the overall verdict. The temporary-unapproval flag vetoes
// everything; otherwise every wrapped rule must be satisfied.
func (s *State) Approved() bool {
	if !s.featureAvailable() {
		return true
	}
	if s.TemporarilyUnapproved() {
		return false
	}
	for _, w := range s.WrappedRules() {
		if !w.Approved() {
			return false
		}
	}
	return true
}

// anyApproverRule returns the wrapped any-approver rule demanding approvals,
// if one applies.
func (s *State) anyApproverRule() *WrappedRule {
	for _, w := range s.WrappedRules() {
		if w.Rule.AnyApprover() && w.Rule.ApprovalsRequired > 0 {
			return w
		}
	}
	return nil
}

// ApprovalsRequired is the overall requirement. An any-approver rule with a
// non-zero threshold is the sole source of the number; it is never summed
// with named-approver rules.
func (s *State) ApprovalsRequired() int {
	if !s.featureAvailable() {
		return 0
	}
	if any := s.anyApproverRule(); any != nil {
		return any.Rule.ApprovalsRequired
	}
	total := 0
	for _, w := range s.WrappedRules() {
		total += w.Rule.ApprovalsRequired
	}
	return total
}

// ApprovalsLeft sums the outstanding approvals per rule, except on the
// any-approver-only path where that rule's own counter is the answer.
func (s *State) ApprovalsLeft() int {
	if !s.featureAvailable() {
		return 0
	}
	if any := s.anyApproverRule(); any != nil {
		return any.ApprovalsLeft()
	}
	total := 0
	for _, w := range s.WrappedRules() {
		total += w.ApprovalsLeft()
	}
	return total
}

// ApprovalRulesLeft lists the wrapped rules still blocking the merge request.
func (s *State) ApprovalRulesLeft() []*WrappedRule {
	left := make([]*WrappedRule, 0)
	for _, w := range s.WrappedRules() {
		if !w.Approved() {
			left = append(left, w)
		}
	}
	return left
}

// InvalidApproversRules lists rules that can never reach their threshold with
// the approvers configured on them, so callers can surface the
// misconfiguration instead of silently blocking.
func (s *State) InvalidApproversRules() []*WrappedRule {
	invalid := make([]*WrappedRule, 0)
	for _, w := range s.WrappedRules() {
		if w.InvalidRule() {
			invalid = append(invalid, w)
		}
	}
	return invalid
}

// Approvers is the union of every wrapped rule's approver set.
func (s *State) Approvers() []uuid.UUID {
	if s.approversSet {
		return s.approvers
	}
	s.approversSet = true
	s.approvers = s.collectApprovers(ApproverFilter{})
	return s.approvers
}

// ApproverFilter narrows the aggregate approver set.
type ApproverFilter struct {
	ExcludeCodeOwner bool // drop approvers sourced from code-owner rules
	UnactionedOnly   bool // drop users who already approved
	DirectUsersOnly  bool // only users named directly on rules, no expansion
}

// FilteredApprovers is Approvers with the given filter applied.
func (s *State) FilteredApprovers(filter ApproverFilter) []uuid.UUID {
	return s.collectApprovers(filter)
}

// UnactionedApprovers are approvers who have not recorded an approval yet.
func (s *State) UnactionedApprovers() []uuid.UUID {
	return s.collectApprovers(ApproverFilter{UnactionedOnly: true})
}

func (s *State) collectApprovers(filter ApproverFilter) []uuid.UUID {
	var ids []uuid.UUID
	seen := make(map[uuid.UUID]struct{})
	add := func(id uuid.UUID) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	for _, w := range s.WrappedRules() {
		if filter.ExcludeCodeOwner && w.Rule.CodeOwner() {
			continue
		}
		if filter.DirectUsersOnly {
			direct := make([]uuid.UUID, 0, len(w.Rule.Users))
			for _, u := range w.Rule.Users {
				direct = append(direct, u.ID)
			}
			for _, id := range s.filterExcluded(direct) {
				add(id)
			}
			continue
		}
		for _, id := range w.Approvers() {
			add(id)
		}
	}

	if !filter.UnactionedOnly {
		return ids
	}

	approved := make(map[uuid.UUID]struct{})
	for _, id := range s.approvedUserIDs() {
		approved[id] = struct{}{}
	}
	unactioned := ids[:0:0]
	for _, id := range ids {
		if _, ok := approved[id]; !ok {
			unactioned = append(unactioned, id)
		}
	}
	return unactioned
}

// EligibleForApprovalBy decides whether a user may approve right now: never
// anonymously, never twice. Membership in the approver set is sufficient;
// beyond it, anyone with write access may approve unless excluded as the
// author or a committer.
func (s *State) EligibleForApprovalBy(userID *uuid.UUID) bool {
	if userID == nil {
		return false
	}
	id := *userID
	for _, approvedID := range s.approvedUserIDs() {
		if approvedID == id {
			return false
		}
	}
	for _, approverID := range s.Approvers() {
		if approverID == id {
			return true
		}
	}
	if !s.snap.hasWriteAccess(id) {
		return false
	}
	if id == s.snap.MergeRequest.AuthorID && !s.AuthorsCanApprove() {
		return false
	}
	if s.snap.isCommitter(id) && !s.CommittersCanApprove() {
		return false
	}
	return true
}

// PolicyApprovalSettings is the merged override map of every policy violated
// by this merge request.
func (s *State) PolicyApprovalSettings() model.ApprovalSettings {
	if s.overrides == nil {
		merged := ResolveOverrides(s.snap.MergeRequest.ID, s.snap.Violations, s.snap.PolicyReads)
		s.overrides = &merged
	}
	return *s.overrides
}

// AuthorApprovalSetting resolves the author self-approval setting through the
// group hierarchy, before policy overrides.
func (s *State) AuthorApprovalSetting() ResolvedSetting {
	if s.authorOK == nil {
		resolved := ResolveAuthorApproval(s.snap.Project, s.snap.AncestorGroups)
		s.authorOK = &resolved
	}
	return *s.authorOK
}

// CommitterApprovalSetting resolves the committer self-approval setting.
func (s *State) CommitterApprovalSetting() ResolvedSetting {
	if s.committersOK == nil {
		resolved := ResolveCommitterApproval(s.snap.Project, s.snap.AncestorGroups)
		s.committersOK = &resolved
	}
	return *s.committersOK
}

// AuthorsCanApprove combines the resolved setting with policy overrides: a
// violated prevent_approval_by_author policy wins over any configuration.
func (s *State) AuthorsCanApprove() bool {
	return s.AuthorApprovalSetting().Value && !s.PolicyApprovalSettings().PreventApprovalByAuthor
}

// CommittersCanApprove combines the resolved setting with policy overrides.
func (s *State) CommittersCanApprove() bool {
	return s.CommitterApprovalSetting().Value && !s.PolicyApprovalSettings().PreventApprovalByCommitAuthor
}

// RequirePasswordToApprove is true when either the project or a violated
// policy demands password confirmation on approval.
func (s *State) RequirePasswordToApprove() bool {
	return s.snap.Project.RequirePasswordToApprove || s.PolicyApprovalSettings().RequirePasswordToApprove
}

// TemporarilyUnapproved checks the external veto flag.
func (s *State) TemporarilyUnapproved() bool {
	return s.flags.IsSet(unapprovedKey(s.snap.MergeRequest.ID))
}

// TemporarilyUnapprove forces Approved to report false until the flag expires
// or is explicitly cleared. Setting it again is idempotent.
func (s *State) TemporarilyUnapprove() {
	s.flags.Set(unapprovedKey(s.snap.MergeRequest.ID), TemporaryUnapprovalTTL)
}

// ExpireUnapprovedKey clears the temporary-unapproval veto.
func (s *State) ExpireUnapprovedKey() {
	s.flags.Expire(unapprovedKey(s.snap.MergeRequest.ID))
}

// approvedUserIDs memoizes the distinct approving users in approval order.
func (s *State) approvedUserIDs() []uuid.UUID {
	if !s.approvedSet {
		s.approvedIDs = s.snap.approvedUserIDs()
		s.approvedSet = true
	}
	return s.approvedIDs
}

// filterExcluded drops the author and committers from an approver list when
// the effective self-approval policy excludes them.
func (s *State) filterExcluded(ids []uuid.UUID) []uuid.UUID {
	excludeAuthor := !s.AuthorsCanApprove()
	excludeCommitters := !s.CommittersCanApprove()
	if !excludeAuthor && !excludeCommitters {
		return ids
	}

	kept := ids[:0:0]
	for _, id := range ids {
		if excludeAuthor && id == s.snap.MergeRequest.AuthorID {
			continue
		}
		if excludeCommitters && s.snap.isCommitter(id) {
			continue
		}
		kept = append(kept, id)
	}
	return kept
}
