package compliance

import (
	"fmt"

	"github.com/BlueflyCollective/openstandardagents/pkg/manifest"
)

// LevelThresholds is the full requirement set for one conformance
// level. Each level states its complete set; nothing is inherited from
// the level below.
type LevelThresholds struct {
	MinCapabilities int
	MinProtocols    int
	AuditLogging    bool
	FeedbackLoop    bool
	PropsTokens     bool
}

var levelThresholds = map[manifest.Level]LevelThresholds{
	manifest.LevelBronze: {
		MinCapabilities: 1,
		MinProtocols:    1,
		AuditLogging:    true,
	},
	manifest.LevelSilver: {
		MinCapabilities: 3,
		MinProtocols:    2,
		AuditLogging:    true,
		FeedbackLoop:    true,
	},
	manifest.LevelGold: {
		MinCapabilities: 5,
		MinProtocols:    3,
		AuditLogging:    true,
		FeedbackLoop:    true,
		PropsTokens:     true,
	},
}

// ThresholdsFor returns the threshold set for a conformance level.
func ThresholdsFor(level manifest.Level) (LevelThresholds, bool) {
	t, ok := levelThresholds[level]
	return t, ok
}

// evaluateLevel checks the agent against the thresholds of its declared
// conformance level (bronze when undeclared). It returns findings and a
// fractional score; recommendations stay empty and are derived from the
// findings by the orchestrator.
func evaluateLevel(a *manifest.Agent, c Context) StageResult {
	level := a.Spec.Conformance.LevelOrDefault()
	thresholds := levelThresholds[level]

	score := 1.0
	var findings []Finding

	if got := a.CapabilityCount(); got < thresholds.MinCapabilities {
		score *= 0.7
		findings = append(findings, Finding{
			ID:          "conformance/min-capabilities",
			Severity:    SeverityHigh,
			Category:    CategoryGovernance,
			Requirement: fmt.Sprintf("level:%s", level),
			Description: fmt.Sprintf("agent declares %d capabilities, %s requires at least %d", got, level, thresholds.MinCapabilities),
			Evidence:    []string{fmt.Sprintf("spec.capabilities counts %d entries", got)},
			Remediation: fmt.Sprintf("declare at least %d capability domains or tools, or lower the conformance level", thresholds.MinCapabilities),
		})
	}

	if got := a.ProtocolCount(); got < thresholds.MinProtocols {
		score *= 0.7
		findings = append(findings, Finding{
			ID:          "conformance/min-protocols",
			Severity:    SeverityHigh,
			Category:    CategoryGovernance,
			Requirement: fmt.Sprintf("level:%s", level),
			Description: fmt.Sprintf("agent supports %d protocols, %s requires at least %d", got, level, thresholds.MinProtocols),
			Evidence:    []string{fmt.Sprintf("spec.protocols.supported lists %d entries", got)},
			Remediation: fmt.Sprintf("support at least %d interoperability protocols, or lower the conformance level", thresholds.MinProtocols),
		})
	}

	if thresholds.AuditLogging && !a.Spec.Conformance.AuditLogging {
		// Missing audit logging in production is an automatic
		// compliance failure; elsewhere it is a heavy deduction.
		severity, multiplier := SeverityHigh, 0.8
		if c.Production() {
			severity, multiplier = SeverityCritical, 0.5
		}
		score *= multiplier
		findings = append(findings, Finding{
			ID:          "conformance/audit-logging",
			Severity:    severity,
			Category:    CategoryAccountability,
			Requirement: fmt.Sprintf("level:%s", level),
			Description: fmt.Sprintf("%s conformance requires audit logging and the agent does not enable it", level),
			Remediation: "set spec.conformance.auditLogging to true and emit per-invocation audit records",
		})
	}

	if thresholds.FeedbackLoop && !a.Spec.Conformance.FeedbackLoop {
		score *= 0.9
		findings = append(findings, Finding{
			ID:          "conformance/feedback-loop",
			Severity:    SeverityMedium,
			Category:    CategoryRiskManagement,
			Requirement: fmt.Sprintf("level:%s", level),
			Description: fmt.Sprintf("%s conformance requires a feedback loop and the agent does not declare one", level),
			Remediation: "set spec.conformance.feedbackLoop to true and wire outcome feedback into the agent",
		})
	}

	if thresholds.PropsTokens && !a.Spec.Conformance.PropsTokens {
		score *= 0.9
		findings = append(findings, Finding{
			ID:          "conformance/props-tokens",
			Severity:    SeverityMedium,
			Category:    CategoryTransparency,
			Requirement: fmt.Sprintf("level:%s", level),
			Description: fmt.Sprintf("%s conformance requires PROPS token support and the agent does not declare it", level),
			Remediation: "set spec.conformance.propsTokens to true once provenance tokens are implemented",
		})
	}

	return StageResult{Score: score, Findings: findings}
}
