package frameworks

import (
	"github.com/BlueflyCollective/openstandardagents/pkg/compliance"
	"github.com/BlueflyCollective/openstandardagents/pkg/manifest"
)

// NISTAIRMFID is the catalog id for the NIST AI Risk Management
// Framework.
const NISTAIRMFID = "nist-ai-rmf"

// NISTAIRMF returns the NIST AI RMF 1.0 framework. Requirement ids
// name the function and subcategory they derive from.
func NISTAIRMF() compliance.Framework {
	return compliance.Framework{
		ID:        NISTAIRMFID,
		Name:      "NIST AI RMF",
		Version:   "1.0.0",
		Authority: "NIST",
		Requirements: []compliance.Requirement{
			{
				ID:          "govern-1",
				Title:       "Accountability structures in place",
				Description: "Ownership of the AI system is established and resourced.",
				Category:    compliance.CategoryAccountability,
				Mandatory:   true,
				Evidence:    []string{"metadata.owner"},
				Validator:   TagOwnerDeclared,
			},
			{
				ID:          "map-1",
				Title:       "Context and purpose established",
				Description: "The operating domains the AI system acts in are documented.",
				Category:    compliance.CategoryTransparency,
				Mandatory:   true,
				Evidence:    []string{"spec.capabilities.domains"},
				Validator:   TagCapabilityDomainsScoped,
			},
			{
				ID:          "measure-1",
				Title:       "Risks identified and categorized",
				Description: "The AI system carries a risk classification.",
				Category:    compliance.CategoryRiskManagement,
				Mandatory:   true,
				Evidence:    []string{"spec.governance.riskClass"},
				Validator:   TagRiskClassDeclared,
			},
			{
				ID:          "measure-2",
				Title:       "Trustworthiness measured",
				Description: "Failure tolerance is quantified as an error budget.",
				Category:    compliance.CategoryRiskManagement,
				Evidence:    []string{"spec.performance.errorBudget"},
				Validator:   TagErrorBudgetDeclared,
			},
			{
				ID:          "measure-3",
				Title:       "Resource consumption bounded",
				Description: "Per-request resource use has a declared ceiling.",
				Category:    compliance.CategoryRiskManagement,
				Evidence:    []string{"spec.performance.maxTokensPerRequest"},
				Validator:   TagTokenCeilingDeclared,
			},
			{
				ID:          "manage-1",
				Title:       "Deployed systems monitored",
				Description: "Operation of the deployed system produces reviewable records.",
				Category:    compliance.CategoryAccountability,
				Evidence:    []string{"spec.conformance.auditLogging"},
				Validator:   TagAuditLoggingEnabled,
			},
			{
				ID:          "manage-2",
				Title:       "Incident response maintained",
				Description: "Serious incidents reach a declared contact.",
				Category:    compliance.CategoryAccountability,
				Evidence:    []string{"spec.governance.incidentContact"},
				Validator:   TagIncidentContactDeclared,
			},
			{
				ID:          "manage-3",
				Title:       "Feedback incorporated",
				Description: "Operational feedback is fed into risk treatment.",
				Category:    compliance.CategoryRiskManagement,
				Evidence:    []string{"spec.conformance.feedbackLoop"},
				Validator:   TagFeedbackLoopEnabled,
			},
		},
		Mappings: []compliance.LevelMapping{
			{
				Level:          manifest.LevelBronze,
				RequirementIDs: []string{"govern-1", "map-1"},
			},
			{
				Level: manifest.LevelSilver,
				RequirementIDs: []string{
					"govern-1", "map-1",
					"measure-1", "measure-2", "manage-1",
				},
			},
			{
				Level: manifest.LevelGold,
				RequirementIDs: []string{
					"govern-1", "map-1",
					"measure-1", "measure-2", "manage-1",
					"measure-3", "manage-2", "manage-3",
				},
				AdditionalControls: []string{"periodic red-team exercises"},
			},
		},
	}
}
