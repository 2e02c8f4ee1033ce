// Package frameworks ships the built-in regulatory framework
// definitions and the requirement validators they reference.
//
// Frameworks provided:
//   - ISO/IEC 42001:2023 AI management systems (clauses 5-10, Annex A)
//   - NIST AI RMF 1.0 (GOVERN, MAP, MEASURE, MANAGE functions)
//   - EU AI Act, Regulation 2024/1689 (Articles 5, 9-15, 62)
//
// Requirement tables are pure data; every check lives in the validator
// registry under a stable tag so framework definitions stay declarative
// and extension modules can serve additional tags.
package frameworks

import (
	"context"
	"fmt"
	"strconv"

	"github.com/BlueflyCollective/openstandardagents/pkg/compliance"
	"github.com/BlueflyCollective/openstandardagents/pkg/manifest"
)

// Validator tags referenced by the built-in framework definitions.
const (
	TagOwnerDeclared           = "owner-declared"
	TagRiskClassDeclared       = "risk-class-declared"
	TagAuditLoggingEnabled     = "audit-logging-enabled"
	TagDescriptionMeaningful   = "description-meaningful"
	TagErrorBudgetDeclared     = "error-budget-declared"
	TagFeedbackLoopEnabled     = "feedback-loop-enabled"
	TagIncidentContactDeclared = "incident-contact-declared"
	TagDataRetentionBounded    = "data-retention-bounded"
	TagCapabilityDomainsScoped = "capability-domains-scoped"
	TagTokenCeilingDeclared    = "token-ceiling-declared"
	TagNoUnacceptableRisk      = "no-unacceptable-risk"
	TagHumanOversightWhenHigh  = "human-oversight-when-high"
	TagTLSAllProtocols         = "tls-all-protocols"
	TagPropsTokensEnabled      = "props-tokens-enabled"
)

// Builtins returns the validator functions for every built-in tag.
func Builtins() map[string]compliance.ValidatorFunc {
	return map[string]compliance.ValidatorFunc{
		TagOwnerDeclared:           ownerDeclared,
		TagRiskClassDeclared:       riskClassDeclared,
		TagAuditLoggingEnabled:     auditLoggingEnabled,
		TagDescriptionMeaningful:   descriptionMeaningful,
		TagErrorBudgetDeclared:     errorBudgetDeclared,
		TagFeedbackLoopEnabled:     feedbackLoopEnabled,
		TagIncidentContactDeclared: incidentContactDeclared,
		TagDataRetentionBounded:    dataRetentionBounded,
		TagCapabilityDomainsScoped: capabilityDomainsScoped,
		TagTokenCeilingDeclared:    tokenCeilingDeclared,
		TagNoUnacceptableRisk:      noUnacceptableRisk,
		TagHumanOversightWhenHigh:  humanOversightWhenHigh,
		TagTLSAllProtocols:         tlsAllProtocols,
		TagPropsTokensEnabled:      propsTokensEnabled,
	}
}

func pass() (compliance.StageResult, error) {
	return compliance.StageResult{Score: 1}, nil
}

func gap(score float64, severity compliance.Severity, category compliance.Category, id, description, remediation string) (compliance.StageResult, error) {
	return compliance.StageResult{
		Score: score,
		Findings: []compliance.Finding{{
			ID:          id,
			Severity:    severity,
			Category:    category,
			Description: description,
			Remediation: remediation,
		}},
		Recommendations: []string{remediation},
	}, nil
}

func ownerDeclared(_ context.Context, a *manifest.Agent, _ compliance.Context, _ map[string]string) (compliance.StageResult, error) {
	if a.Metadata.Owner != "" {
		return pass()
	}
	return gap(0.9, compliance.SeverityMedium, compliance.CategoryAccountability,
		"owner-missing",
		"no owner is declared for the agent, so accountability cannot be assigned",
		"set metadata.owner to the team accountable for the agent")
}

func riskClassDeclared(_ context.Context, a *manifest.Agent, _ compliance.Context, _ map[string]string) (compliance.StageResult, error) {
	if a.Spec.Governance != nil && a.Spec.Governance.RiskClass != "" {
		return pass()
	}
	return gap(0.8, compliance.SeverityHigh, compliance.CategoryRiskManagement,
		"risk-class-missing",
		"the agent declares no risk classification",
		"classify the agent under spec.governance.riskClass (minimal, limited, high, or unacceptable)")
}

func auditLoggingEnabled(_ context.Context, a *manifest.Agent, _ compliance.Context, _ map[string]string) (compliance.StageResult, error) {
	if a.Spec.Conformance.AuditLogging {
		return pass()
	}
	return gap(0.7, compliance.SeverityHigh, compliance.CategoryAccountability,
		"record-keeping-disabled",
		"the agent does not keep per-invocation records",
		"enable spec.conformance.auditLogging and retain invocation logs")
}

func descriptionMeaningful(_ context.Context, a *manifest.Agent, _ compliance.Context, params map[string]string) (compliance.StageResult, error) {
	min := paramInt(params, "min-length", 20)
	if len(a.Metadata.Description) >= min {
		return pass()
	}
	return gap(0.9, compliance.SeverityMedium, compliance.CategoryTransparency,
		"description-insufficient",
		fmt.Sprintf("the agent description is shorter than %d characters and does not explain its purpose", min),
		"describe the agent's intended purpose and limits in metadata.description")
}

func errorBudgetDeclared(_ context.Context, a *manifest.Agent, _ compliance.Context, _ map[string]string) (compliance.StageResult, error) {
	if a.Spec.Performance != nil && a.Spec.Performance.ErrorBudget > 0 {
		return pass()
	}
	return gap(0.9, compliance.SeverityMedium, compliance.CategoryRiskManagement,
		"error-budget-missing",
		"no error budget is declared, so residual risk is not being measured",
		"declare spec.performance.errorBudget as the tolerated failure fraction")
}

func feedbackLoopEnabled(_ context.Context, a *manifest.Agent, _ compliance.Context, _ map[string]string) (compliance.StageResult, error) {
	if a.Spec.Conformance.FeedbackLoop {
		return pass()
	}
	return gap(0.9, compliance.SeverityMedium, compliance.CategoryRiskManagement,
		"no-improvement-loop",
		"the agent has no feedback loop feeding outcomes back into its operation",
		"enable spec.conformance.feedbackLoop and review outcomes on a schedule")
}

func incidentContactDeclared(_ context.Context, a *manifest.Agent, _ compliance.Context, _ map[string]string) (compliance.StageResult, error) {
	if a.Spec.Governance != nil && a.Spec.Governance.IncidentContact != "" {
		return pass()
	}
	return gap(0.85, compliance.SeverityMedium, compliance.CategoryAccountability,
		"incident-contact-missing",
		"no incident contact is declared for serious incident escalation",
		"set spec.governance.incidentContact to a monitored address")
}

func dataRetentionBounded(_ context.Context, a *manifest.Agent, _ compliance.Context, params map[string]string) (compliance.StageResult, error) {
	max := paramInt(params, "max-days", 365)
	if a.Spec.Governance == nil || a.Spec.Governance.DataRetentionDays == 0 {
		return gap(0.9, compliance.SeverityMedium, compliance.CategoryPrivacy,
			"retention-undeclared",
			"no data retention period is declared",
			"declare spec.governance.dataRetentionDays for all personal data the agent touches")
	}
	if days := a.Spec.Governance.DataRetentionDays; days > max {
		return gap(0.8, compliance.SeverityHigh, compliance.CategoryPrivacy,
			"retention-excessive",
			fmt.Sprintf("declared retention of %d days exceeds the %d day bound", days, max),
			fmt.Sprintf("reduce spec.governance.dataRetentionDays to at most %d", max))
	}
	return pass()
}

func capabilityDomainsScoped(_ context.Context, a *manifest.Agent, _ compliance.Context, _ map[string]string) (compliance.StageResult, error) {
	if len(a.Spec.Capabilities.Domains) > 0 {
		return pass()
	}
	return gap(0.9, compliance.SeverityMedium, compliance.CategoryTransparency,
		"purpose-unscoped",
		"the agent declares no capability domains, so its operating context is undocumented",
		"list the business domains the agent operates in under spec.capabilities.domains")
}

func tokenCeilingDeclared(_ context.Context, a *manifest.Agent, _ compliance.Context, _ map[string]string) (compliance.StageResult, error) {
	if a.Spec.Performance != nil && a.Spec.Performance.MaxTokensPerRequest > 0 {
		return pass()
	}
	return gap(0.9, compliance.SeverityMedium, compliance.CategoryRiskManagement,
		"token-ceiling-missing",
		"no per-request token ceiling is declared, leaving resource use unbounded",
		"declare spec.performance.maxTokensPerRequest")
}

func noUnacceptableRisk(_ context.Context, a *manifest.Agent, _ compliance.Context, _ map[string]string) (compliance.StageResult, error) {
	if a.Spec.Governance == nil || a.Spec.Governance.RiskClass != "unacceptable" {
		return pass()
	}
	return gap(0.3, compliance.SeverityCritical, compliance.CategoryGovernance,
		"prohibited-practice",
		"the agent is classified as an unacceptable-risk AI practice",
		"unacceptable-risk practices are prohibited; the agent must not be deployed")
}

func humanOversightWhenHigh(_ context.Context, a *manifest.Agent, _ compliance.Context, params map[string]string) (compliance.StageResult, error) {
	trigger := params["when-risk-class"]
	if trigger == "" {
		trigger = "high"
	}
	if a.Spec.Governance == nil || a.Spec.Governance.RiskClass != trigger {
		return pass()
	}
	if a.Spec.Governance.HumanOversight {
		return pass()
	}
	return gap(0.7, compliance.SeverityHigh, compliance.CategoryGovernance,
		"oversight-missing",
		fmt.Sprintf("a %s-risk agent must operate under human oversight and does not", trigger),
		"enable spec.governance.humanOversight with a documented intervention procedure")
}

func tlsAllProtocols(_ context.Context, a *manifest.Agent, _ compliance.Context, _ map[string]string) (compliance.StageResult, error) {
	var plaintext []string
	for _, p := range a.Spec.Protocols.Supported {
		if !p.TLS {
			plaintext = append(plaintext, p.Name)
		}
	}
	if len(plaintext) == 0 {
		return pass()
	}
	result, err := gap(0.8, compliance.SeverityHigh, compliance.CategorySecurity,
		"plaintext-protocols",
		fmt.Sprintf("%d declared protocols do not use TLS", len(plaintext)),
		"enable TLS on every protocol endpoint the agent exposes")
	result.Findings[0].Evidence = plaintext
	return result, err
}

func propsTokensEnabled(_ context.Context, a *manifest.Agent, _ compliance.Context, _ map[string]string) (compliance.StageResult, error) {
	if a.Spec.Conformance.PropsTokens {
		return pass()
	}
	return gap(0.9, compliance.SeverityMedium, compliance.CategoryTransparency,
		"provenance-missing",
		"the agent does not emit provenance tokens for its outputs",
		"enable spec.conformance.propsTokens so outputs carry provenance")
}

func paramInt(params map[string]string, key string, fallback int) int {
	if raw, ok := params[key]; ok {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return fallback
}
