package approval

import (
	"sort"

	"backend/internal/model"

	"github.com/google/uuid"
)

// policyKey identifies the originating policy rule for the one-wrapped-rule-
// per-policy-index reduction.
type policyKey struct {
	configurationID uuid.UUID
	hasConfig       bool
	policyIdx       int
	hasPolicyIdx    bool
}

func rulePolicyKey(rule *model.ApprovalRule) policyKey {
	var key policyKey
	if rule.SecurityOrchestrationPolicyConfigurationID != nil {
		key.configurationID = *rule.SecurityOrchestrationPolicyConfigurationID
		key.hasConfig = true
	}
	if rule.OrchestrationPolicyIdx != nil {
		key.policyIdx = *rule.OrchestrationPolicyIdx
		key.hasPolicyIdx = true
	}
	return key
}

// sortRules orders rules deterministically by creation time, breaking ties by
// id, so first-wins collapses never depend on load order.
func sortRules(rules []model.ApprovalRule) []model.ApprovalRule {
	sorted := make([]model.ApprovalRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].ID.String() < sorted[j].ID.String()
	})
	return sorted
}

// buildWrappedRules reduces the raw configured rules to the list that applies
// to this merge request: merge-request overrides beat project templates,
// branch scoping is applied, licensing collapses categories to one rule, and
// policy-generated duplicates fold into one representative per policy index.
func (s *State) buildWrappedRules() []*WrappedRule {
	if !s.snap.Project.MergeRequestApproversEnabled {
		return nil
	}

	var regular, anyApprover, codeOwner, report []model.ApprovalRule

	source := sortRules(s.snap.ProjectRules)
	fromProject := true
	if s.ApprovalRulesOverwritten() {
		source = sortRules(s.snap.MergeRequestRules)
		fromProject = false
	}
	for i := range source {
		rule := source[i]
		if fromProject && !s.snap.RuleAppliesToBranch(&rule, s.targetBranch) {
			continue
		}
		switch rule.RuleType {
		case model.RuleTypeAnyApprover:
			anyApprover = append(anyApprover, rule)
		case model.RuleTypeRegular:
			regular = append(regular, rule)
		}
	}

	// Code-owner and report-approver rules always live on the merge request.
	for _, rule := range sortRules(s.snap.MergeRequestRules) {
		switch rule.RuleType {
		case model.RuleTypeCodeOwner:
			codeOwner = append(codeOwner, rule)
		case model.RuleTypeReportApprover:
			if s.snap.RuleAppliesToBranch(&rule, s.targetBranch) {
				report = append(report, rule)
			}
		}
	}

	if s.snap.Project.MultipleApprovalRulesEnabled {
		report = dedupPolicyRules(report)
	} else {
		regular = takeFirst(regular)
		codeOwner = takeFirst(codeOwner)
		report = takeFirst(report)
	}
	// At most one any-approver rule exists per scope by construction; if a
	// bad write slipped a second one in, take the first.
	anyApprover = takeFirst(anyApprover)

	combined := make([]model.ApprovalRule, 0, len(anyApprover)+len(regular)+len(codeOwner)+len(report))
	combined = append(combined, anyApprover...)
	combined = append(combined, regular...)
	combined = append(combined, codeOwner...)
	combined = append(combined, report...)

	wrapped := make([]*WrappedRule, 0, len(combined))
	for _, rule := range combined {
		wrapped = append(wrapped, newWrappedRule(s, rule))
	}

	if s.snap.MergeRequest.Merged() {
		wrapped = finalizeForMerge(wrapped)
	}

	return wrapped
}

// dedupPolicyRules keeps one representative per distinct policy index among
// policy-generated report rules. Scan-finding rules always participate;
// license-scanning rules join the pool once a policy read is attached. Other
// report rules pass through untouched.
func dedupPolicyRules(rules []model.ApprovalRule) []model.ApprovalRule {
	seen := make(map[policyKey]struct{})
	kept := rules[:0:0]
	for _, rule := range rules {
		if !rule.FromScanResultPolicy() {
			kept = append(kept, rule)
			continue
		}
		key := rulePolicyKey(&rule)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, rule)
	}
	return kept
}

// finalizeForMerge freezes the rule set at merge time: rules explicitly
// flagged as not applicable post merge are dropped, as are rules that were
// unsatisfied or misconfigured when the merge happened. Rules whose
// post-merge applicability was never decided (nil) stay evaluable.
func finalizeForMerge(wrapped []*WrappedRule) []*WrappedRule {
	kept := wrapped[:0:0]
	for _, w := range wrapped {
		if w.Rule.ApplicablePostMerge != nil && !*w.Rule.ApplicablePostMerge {
			continue
		}
		if w.InvalidRule() || !w.Approved() {
			continue
		}
		kept = append(kept, w)
	}
	return kept
}

func takeFirst(rules []model.ApprovalRule) []model.ApprovalRule {
	if len(rules) <= 1 {
		return rules
	}
	return rules[:1]
}
