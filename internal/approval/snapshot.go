package approval

import (
	"github.com/google/uuid"

	"backend/internal/model"
)

// Snapshot is everything one approval evaluation needs, loaded in a single
// batch before any computation runs. The engine itself never touches the
// database: the service layer assembles a Snapshot per request and every
// derived value is memoized on the State built from it.
type Snapshot struct {
	MergeRequest model.MergeRequest
	Project      model.Project

	// Ancestor groups of the target project, nearest first. Feeds the
	// compliance settings resolver.
	AncestorGroups []model.Group

	// MergeRequestRules are rules owned by the merge request itself
	// (overrides, code-owner rules, report-approver rules), with users,
	// groups, protected branches and policy reads preloaded.
	MergeRequestRules []model.ApprovalRule

	// ProjectRules are the project-level template rules, used when the merge
	// request carries no overrides of its own.
	ProjectRules []model.ApprovalRule

	// Approvals on this merge request, in creation order.
	Approvals []model.Approval

	// Committers holds the user ids that authored or committed commits in
	// this merge request, including merge commits and signed author commits.
	Committers []uuid.UUID

	// ProtectedBranches configured at project scope plus the owning group's.
	ProtectedBranches []model.ProtectedBranch

	// Violations recorded for this merge request, with the policy reads they
	// reference.
	Violations  []model.PolicyViolation
	PolicyReads map[uuid.UUID]model.ScanResultPolicyRead

	// GroupMembers maps a group id to its member user ids, nested groups
	// already expanded.
	GroupMembers map[uuid.UUID][]uuid.UUID

	// ProjectMembers on the target project, used for role-based approver
	// pools and the write-access eligibility fallback.
	ProjectMembers []model.ProjectMember
}

func (s *Snapshot) policyRead(rule *model.ApprovalRule) *model.ScanResultPolicyRead {
	if rule.ScanResultPolicyReadID == nil {
		return nil
	}
	read, ok := s.PolicyReads[*rule.ScanResultPolicyReadID]
	if !ok {
		return nil
	}
	return &read
}

// approvedUserIDs returns the distinct users who approved, in approval order.
func (s *Snapshot) approvedUserIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(s.Approvals))
	seen := make(map[uuid.UUID]struct{}, len(s.Approvals))
	for _, a := range s.Approvals {
		if _, ok := seen[a.UserID]; ok {
			continue
		}
		seen[a.UserID] = struct{}{}
		ids = append(ids, a.UserID)
	}
	return ids
}

func (s *Snapshot) isCommitter(userID uuid.UUID) bool {
	for _, id := range s.Committers {
		if id == userID {
			return true
		}
	}
	return false
}

// hasWriteAccess reports whether the user holds at least developer access on
// the target project.
func (s *Snapshot) hasWriteAccess(userID uuid.UUID) bool {
	for _, m := range s.ProjectMembers {
		if m.UserID == userID && m.AccessLevel >= model.AccessLevelDeveloper {
			return true
		}
	}
	return false
}

// membersWithRole returns user ids of project members whose access level is
// listed in levels, in membership order.
func (s *Snapshot) membersWithRole(levels []int) []uuid.UUID {
	if len(levels) == 0 {
		return nil
	}
	wanted := make(map[int]struct{}, len(levels))
	for _, l := range levels {
		wanted[l] = struct{}{}
	}
	var ids []uuid.UUID
	for _, m := range s.ProjectMembers {
		if _, ok := wanted[m.AccessLevel]; ok {
			ids = append(ids, m.UserID)
		}
	}
	return ids
}
