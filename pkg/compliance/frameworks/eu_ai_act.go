package frameworks

import (
	"github.com/BlueflyCollective/openstandardagents/pkg/compliance"
	"github.com/BlueflyCollective/openstandardagents/pkg/manifest"
)

// EUAIActID is the catalog id for the EU AI Act.
const EUAIActID = "eu-ai-act"

// EUAIAct returns the EU AI Act framework (Regulation 2024/1689).
// Requirement ids follow the regulation's article numbering. Article 5
// applies at every level: prohibited practices stay prohibited no
// matter how little conformance an agent claims.
func EUAIAct() compliance.Framework {
	return compliance.Framework{
		ID:        EUAIActID,
		Name:      "EU AI Act",
		Version:   "1.0.0",
		Authority: "European Commission",
		Requirements: []compliance.Requirement{
			{
				ID:          "art-5",
				Title:       "Prohibited AI practices",
				Description: "The agent is not classified as an unacceptable-risk practice.",
				Category:    compliance.CategoryGovernance,
				Mandatory:   true,
				Evidence:    []string{"spec.governance.riskClass"},
				Validator:   TagNoUnacceptableRisk,
			},
			{
				ID:          "art-9",
				Title:       "Risk management system",
				Description: "A risk classification underpins a continuous risk process.",
				Category:    compliance.CategoryRiskManagement,
				Mandatory:   true,
				Evidence:    []string{"spec.governance.riskClass"},
				Validator:   TagRiskClassDeclared,
			},
			{
				ID:          "art-12",
				Title:       "Record-keeping",
				Description: "The agent automatically records events over its lifetime.",
				Category:    compliance.CategoryAccountability,
				Mandatory:   true,
				Evidence:    []string{"spec.conformance.auditLogging"},
				Validator:   TagAuditLoggingEnabled,
			},
			{
				ID:          "art-13",
				Title:       "Transparency and provision of information",
				Description: "Deployers can understand what the agent does and how to use it.",
				Category:    compliance.CategoryTransparency,
				Evidence:    []string{"metadata.description"},
				Validator:   TagDescriptionMeaningful,
				Params:      map[string]string{"min-length": "40"},
			},
			{
				ID:          "art-14",
				Title:       "Human oversight",
				Description: "High-risk agents operate under effective human oversight.",
				Category:    compliance.CategoryGovernance,
				Mandatory:   true,
				Evidence:    []string{"spec.governance.humanOversight"},
				Validator:   TagHumanOversightWhenHigh,
				Params:      map[string]string{"when-risk-class": "high"},
			},
			{
				ID:          "art-10",
				Title:       "Data and data governance",
				Description: "Personal data handled by the agent has bounded retention.",
				Category:    compliance.CategoryPrivacy,
				Evidence:    []string{"spec.governance.dataRetentionDays"},
				Validator:   TagDataRetentionBounded,
				Params:      map[string]string{"max-days": "180"},
			},
			{
				ID:          "art-15",
				Title:       "Accuracy, robustness and cybersecurity",
				Description: "Agent communication channels are transport-encrypted.",
				Category:    compliance.CategorySecurity,
				Evidence:    []string{"spec.protocols.supported"},
				Validator:   TagTLSAllProtocols,
			},
			{
				ID:          "art-62",
				Title:       "Reporting of serious incidents",
				Description: "Serious incidents reach a declared national contact point.",
				Category:    compliance.CategoryAccountability,
				Evidence:    []string{"spec.governance.incidentContact"},
				Validator:   TagIncidentContactDeclared,
			},
		},
		Mappings: []compliance.LevelMapping{
			{
				Level:          manifest.LevelBronze,
				RequirementIDs: []string{"art-5", "art-9"},
			},
			{
				Level: manifest.LevelSilver,
				RequirementIDs: []string{
					"art-5", "art-9",
					"art-12", "art-13", "art-14",
				},
			},
			{
				Level: manifest.LevelGold,
				RequirementIDs: []string{
					"art-5", "art-9",
					"art-12", "art-13", "art-14",
					"art-10", "art-15", "art-62",
				},
				AdditionalControls: []string{"conformity assessment before placing on the market", "EU database registration"},
			},
		},
	}
}
