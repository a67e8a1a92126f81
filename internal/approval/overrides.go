package approval

import (
	"backend/internal/model"

	"github.com/google/uuid"
)

// ResolveOverrides merges the approval-setting overrides of every policy that
// has at least one violation recorded for the given merge request. Keys are
// ORed across violating policies; a policy with no violation for this merge
// request contributes nothing even if other merge requests violate it.
func ResolveOverrides(
	mergeRequestID uuid.UUID,
	violations []model.PolicyViolation,
	reads map[uuid.UUID]model.ScanResultPolicyRead,
) model.ApprovalSettings {
	var merged model.ApprovalSettings
	seen := make(map[uuid.UUID]struct{}, len(violations))

	for _, v := range violations {
		if v.MergeRequestID != mergeRequestID {
			continue
		}
		// One policy may record several violations; settings apply once.
		if _, ok := seen[v.ScanResultPolicyReadID]; ok {
			continue
		}
		seen[v.ScanResultPolicyReadID] = struct{}{}

		read, ok := reads[v.ScanResultPolicyReadID]
		if !ok {
			continue
		}
		merged.Merge(read.ProjectApprovalSettings)
	}

	return merged
}
