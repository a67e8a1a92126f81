package approval

import (
	"strings"

	"backend/internal/model"
)

// MatchesBranch reports whether a branch name matches a protection pattern.
// Patterns are matched exactly unless they contain `*`, which matches any
// sequence of characters (including slashes): `release/*` covers
// `release/staging` but not `release` itself.
func MatchesBranch(pattern, branch string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == branch
	}

	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(branch, parts[0]) {
		return false
	}
	rest := branch[len(parts[0]):]

	last := len(parts) - 1
	for i := 1; i < last; i++ {
		idx := strings.Index(rest, parts[i])
		if idx < 0 {
			return false
		}
		rest = rest[idx+len(parts[i]):]
	}

	return strings.HasSuffix(rest, parts[last])
}

func matchesAny(patterns []string, branch string) bool {
	for _, pattern := range patterns {
		if MatchesBranch(pattern, branch) {
			return true
		}
	}
	return false
}

// RuleAppliesToBranch decides whether a rule is in scope for a target branch.
// Precedence: policy bypass pairs, then policy branch scoping, then protected
// branch scoping; a rule with no scoping at all applies everywhere.
func (s *Snapshot) RuleAppliesToBranch(rule *model.ApprovalRule, targetBranch string) bool {
	if read := s.policyRead(rule); read != nil {
		for _, pair := range read.BypassBranchPairs {
			if MatchesBranch(pair.Source, s.MergeRequest.SourceBranch) && MatchesBranch(pair.Target, targetBranch) {
				return false
			}
		}

		if read.MatchDefaultBranchOnly {
			return targetBranch == s.Project.DefaultBranch
		}

		if len(read.PolicyBranches) > 0 {
			// With branch matching toggled off, policy branch lists are
			// ignored and the rule applies to every target branch.
			if !s.Project.PolicyBranchMatchingEnabled {
				return true
			}
			return matchesAny(read.PolicyBranches, targetBranch)
		}
	}

	if rule.AppliesToAllProtectedBranches {
		return matchesAny(s.protectedBranchNames(), targetBranch)
	}

	if len(rule.ProtectedBranches) > 0 {
		names := make([]string, 0, len(rule.ProtectedBranches))
		for _, pb := range rule.ProtectedBranches {
			names = append(names, pb.Name)
		}
		return matchesAny(names, targetBranch)
	}

	return true
}

func (s *Snapshot) protectedBranchNames() []string {
	names := make([]string, 0, len(s.ProtectedBranches))
	for _, pb := range s.ProtectedBranches {
		names = append(names, pb.Name)
	}
	return names
}
