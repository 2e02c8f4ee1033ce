package frameworks

import (
	"github.com/BlueflyCollective/openstandardagents/pkg/compliance"
	"github.com/BlueflyCollective/openstandardagents/pkg/manifest"
)

// ISO42001ID is the catalog id for ISO/IEC 42001.
const ISO42001ID = "iso-42001"

// ISO42001 returns the ISO/IEC 42001:2023 AI management system
// framework. Requirement ids follow the standard's clause numbering.
func ISO42001() compliance.Framework {
	return compliance.Framework{
		ID:        ISO42001ID,
		Name:      "ISO/IEC 42001",
		Version:   "1.0.0",
		Authority: "ISO/IEC JTC 1/SC 42",
		Requirements: []compliance.Requirement{
			{
				ID:          "42001-5.3",
				Title:       "Roles, responsibilities and authorities",
				Description: "An accountable owner is assigned for the AI system.",
				Category:    compliance.CategoryAccountability,
				Mandatory:   true,
				Evidence:    []string{"metadata.owner"},
				Validator:   TagOwnerDeclared,
			},
			{
				ID:          "42001-6.1",
				Title:       "Actions to address risks and opportunities",
				Description: "AI risks are classified before operation.",
				Category:    compliance.CategoryRiskManagement,
				Mandatory:   true,
				Evidence:    []string{"spec.governance.riskClass"},
				Validator:   TagRiskClassDeclared,
			},
			{
				ID:          "42001-8.1",
				Title:       "Operational planning and control",
				Description: "Operation of the AI system is logged and controllable.",
				Category:    compliance.CategoryAccountability,
				Mandatory:   true,
				Evidence:    []string{"spec.conformance.auditLogging"},
				Validator:   TagAuditLoggingEnabled,
			},
			{
				ID:          "42001-7.4",
				Title:       "Communication",
				Description: "The purpose of the AI system is communicated to interested parties.",
				Category:    compliance.CategoryTransparency,
				Evidence:    []string{"metadata.description"},
				Validator:   TagDescriptionMeaningful,
				Params:      map[string]string{"min-length": "20"},
			},
			{
				ID:          "42001-9.1",
				Title:       "Monitoring, measurement, analysis and evaluation",
				Description: "A measurable error budget bounds acceptable failure.",
				Category:    compliance.CategoryRiskManagement,
				Evidence:    []string{"spec.performance.errorBudget"},
				Validator:   TagErrorBudgetDeclared,
			},
			{
				ID:          "42001-10.1",
				Title:       "Continual improvement",
				Description: "Operational outcomes feed back into the AI management system.",
				Category:    compliance.CategoryRiskManagement,
				Evidence:    []string{"spec.conformance.feedbackLoop"},
				Validator:   TagFeedbackLoopEnabled,
			},
			{
				ID:          "42001-8.4",
				Title:       "AI system incident response",
				Description: "Incidents have a declared escalation contact.",
				Category:    compliance.CategoryAccountability,
				Evidence:    []string{"spec.governance.incidentContact"},
				Validator:   TagIncidentContactDeclared,
			},
			{
				ID:          "42001-A.7",
				Title:       "Data for AI systems",
				Description: "Data handled by the AI system has a bounded retention period.",
				Category:    compliance.CategoryPrivacy,
				Evidence:    []string{"spec.governance.dataRetentionDays"},
				Validator:   TagDataRetentionBounded,
				Params:      map[string]string{"max-days": "365"},
			},
			{
				ID:          "42001-A.6",
				Title:       "AI system life cycle documentation",
				Description: "Outputs of the AI system carry provenance.",
				Category:    compliance.CategoryTransparency,
				Evidence:    []string{"spec.conformance.propsTokens"},
				Validator:   TagPropsTokensEnabled,
			},
		},
		Mappings: []compliance.LevelMapping{
			{
				Level:          manifest.LevelBronze,
				RequirementIDs: []string{"42001-5.3", "42001-6.1", "42001-8.1"},
			},
			{
				Level: manifest.LevelSilver,
				RequirementIDs: []string{
					"42001-5.3", "42001-6.1", "42001-8.1",
					"42001-7.4", "42001-9.1", "42001-10.1",
				},
			},
			{
				Level: manifest.LevelGold,
				RequirementIDs: []string{
					"42001-5.3", "42001-6.1", "42001-8.1",
					"42001-7.4", "42001-9.1", "42001-10.1",
					"42001-8.4", "42001-A.7", "42001-A.6",
				},
				AdditionalControls: []string{"annual management review", "internal AIMS audit"},
			},
		},
	}
}
