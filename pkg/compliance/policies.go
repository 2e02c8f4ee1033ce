package compliance

import (
	"fmt"

	"github.com/BlueflyCollective/openstandardagents/pkg/policy"
)

// policyPenalty maps a policy enforcement level to the severity and
// score multiplier applied per matched rule.
func policyPenalty(level policy.EnforcementLevel) (Severity, float64) {
	switch level {
	case policy.Blocking:
		return SeverityCritical, 0.5
	case policy.Warning:
		return SeverityMedium, 0.8
	default:
		return SeverityLow, 0.8
	}
}

// evaluatePolicies folds rule decisions into a stage result. Every
// matched non-allow rule yields one finding citing the policy and the
// rule, and one multiplicative deduction set by the policy's
// enforcement level. Matched allow rules are explicit allowances and
// score nothing.
func evaluatePolicies(decisions []policy.Decision) StageResult {
	score := 1.0
	var findings []Finding

	for _, d := range decisions {
		if !d.Matched || d.Action == policy.ActionAllow {
			continue
		}
		severity, multiplier := policyPenalty(d.EnforcementLevel)
		score *= multiplier
		findings = append(findings, Finding{
			ID:          fmt.Sprintf("policy/%s/rule-%d", d.PolicyID, d.RuleIndex),
			Severity:    severity,
			Category:    CategoryGovernance,
			Requirement: d.PolicyID,
			Description: fmt.Sprintf("policy %q matched rule %d (%s): %s", d.PolicyName, d.RuleIndex, d.Action, d.Reason),
			Remediation: policyRemediation(d),
		})
	}

	return StageResult{Score: score, Findings: findings}
}

func policyRemediation(d policy.Decision) string {
	switch d.Action {
	case policy.ActionRequireApproval:
		return fmt.Sprintf("obtain the approval required by policy %s before deploying", d.PolicyID)
	case policy.ActionLogOnly:
		return fmt.Sprintf("review the condition logged by policy %s", d.PolicyID)
	default:
		return fmt.Sprintf("adjust the agent manifest or deployment context to satisfy policy %s", d.PolicyID)
	}
}
