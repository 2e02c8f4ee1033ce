package policy

import "github.com/BlueflyCollective/openstandardagents/pkg/manifest"

// DefaultPolicies returns the built-in enterprise policy set applied
// when no external bundles are loaded.
func DefaultPolicies() []Enforcement {
	return []Enforcement{
		{
			PolicyID:         "production-requires-gold",
			Name:             "Production deployments require gold conformance",
			Description:      "Agents validated for the production environment must declare gold conformance.",
			EnforcementLevel: Blocking,
			Scope:            ScopeAgent,
			Rules: []Rule{
				{
					Condition: Condition{
						Kind:        CondConformanceBelowLevel,
						Level:       manifest.LevelGold,
						Environment: "production",
					},
					Action: ActionDeny,
				},
			},
		},
		{
			PolicyID:         "tls-required",
			Name:             "All agent protocols must use TLS",
			Description:      "Every protocol an agent declares must be transport-encrypted.",
			EnforcementLevel: Blocking,
			Scope:            ScopeAgent,
			Rules: []Rule{
				{
					Condition: Condition{Kind: CondProtocolMissingTLS},
					Action:    ActionDeny,
				},
			},
		},
		{
			PolicyID:         "audit-logging-required",
			Name:             "Agents must enable audit logging",
			EnforcementLevel: Warning,
			Scope:            ScopeAgent,
			Rules: []Rule{
				{
					Condition: Condition{Kind: CondAuditLoggingDisabled},
					Action:    ActionDeny,
				},
			},
		},
	}
}
