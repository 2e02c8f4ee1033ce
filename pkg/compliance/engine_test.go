package compliance_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BlueflyCollective/openstandardagents/pkg/audit"
	"github.com/BlueflyCollective/openstandardagents/pkg/compliance"
	"github.com/BlueflyCollective/openstandardagents/pkg/manifest"
	"github.com/BlueflyCollective/openstandardagents/pkg/policy"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, opts ...compliance.Option) *compliance.Engine {
	t.Helper()
	e, err := compliance.NewEngine(append([]compliance.Option{compliance.WithLogger(quietLogger())}, opts...)...)
	require.NoError(t, err)
	return e
}

// goldAgent satisfies every gold threshold.
func goldAgent() *manifest.Agent {
	a := &manifest.Agent{APIVersion: "ossa/v1", Kind: "Agent"}
	a.Metadata.Name = "fleet-optimizer"
	a.Metadata.Version = "2.1.0"
	a.Metadata.Owner = "platform-team"
	a.Spec.Capabilities.Domains = []string{"logistics", "routing", "forecasting"}
	a.Spec.Capabilities.Tools = []string{"sql.query", "http.fetch"}
	a.Spec.Protocols.Supported = []manifest.Protocol{
		{Name: "mcp", Version: "1.0", TLS: true},
		{Name: "a2a", Version: "0.3", TLS: true},
		{Name: "acp", Version: "1.1", TLS: true},
	}
	a.Spec.Conformance = manifest.Conformance{
		Level:        manifest.LevelGold,
		AuditLogging: true,
		FeedbackLoop: true,
		PropsTokens:  true,
	}
	a.Spec.Governance = &manifest.Governance{
		RiskClass:         "high",
		HumanOversight:    true,
		DataRetentionDays: 90,
		IncidentContact:   "secops@example.com",
	}
	return a
}

// bronzeAgent satisfies every bronze threshold.
func bronzeAgent() *manifest.Agent {
	a := &manifest.Agent{APIVersion: "ossa/v1", Kind: "Agent"}
	a.Metadata.Name = "faq-bot"
	a.Metadata.Version = "0.4.2"
	a.Spec.Capabilities.Domains = []string{"support"}
	a.Spec.Protocols.Supported = []manifest.Protocol{
		{Name: "mcp", Version: "1.0", TLS: true},
	}
	a.Spec.Conformance = manifest.Conformance{
		Level:        manifest.LevelBronze,
		AuditLogging: true,
	}
	return a
}

func passValidator(score float64) compliance.ValidatorFunc {
	return func(context.Context, *manifest.Agent, compliance.Context, map[string]string) (compliance.StageResult, error) {
		return compliance.StageResult{Score: score}, nil
	}
}

func TestValidateAgent_FullyCompliant(t *testing.T) {
	e := newTestEngine(t)
	a := goldAgent()

	result, err := e.ValidateAgent(context.Background(), a, compliance.Context{Environment: compliance.EnvProduction}, nil)
	require.NoError(t, err)

	assert.True(t, result.Compliant)
	assert.Equal(t, 100.0, result.Score)
	assert.Empty(t, result.Findings)
	assert.Empty(t, result.Recommendations)

	require.Len(t, result.AuditTrail, 1)
	entry := result.AuditTrail[0]
	assert.Equal(t, audit.OutcomeSuccess, entry.Outcome)
	assert.Equal(t, "compliance-engine", entry.Actor)
	assert.Equal(t, "validate_agent", entry.Action)
	assert.Equal(t, "agent:fleet-optimizer", entry.Resource)
	assert.Equal(t, "100", entry.Details["score"])

	entries, err := e.AuditTrail(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestValidateAgent_SchemaInvalid(t *testing.T) {
	e := newTestEngine(t)
	a := goldAgent()
	a.Kind = "Robot"

	result, err := e.ValidateAgent(context.Background(), a, compliance.Context{Environment: compliance.EnvProduction}, []string{"iso-42001"})
	require.NoError(t, err)

	assert.False(t, result.Compliant)
	assert.Equal(t, 0.0, result.Score)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, compliance.SeverityCritical, result.Findings[0].Severity)
	assert.Equal(t, "spec/invalid-manifest", result.Findings[0].ID)
	assert.NotEmpty(t, result.Findings[0].Evidence)

	require.Len(t, result.AuditTrail, 1)
	assert.Equal(t, audit.OutcomeFailure, result.AuditTrail[0].Outcome)
	assert.Equal(t, []string{"iso-42001"}, result.AuditTrail[0].Frameworks)
}

func TestValidateAgent_BronzeGapsInProduction(t *testing.T) {
	e := newTestEngine(t)
	a := bronzeAgent()
	a.Spec.Capabilities.Domains = nil
	a.Spec.Conformance.AuditLogging = false

	result, err := e.ValidateAgent(context.Background(), a, compliance.Context{Environment: compliance.EnvProduction}, nil)
	require.NoError(t, err)

	// capabilities 0.7 * audit logging 0.5 in production
	assert.InDelta(t, 35.0, result.Score, 1e-9)
	assert.False(t, result.Compliant)
	assert.True(t, result.HasCritical())
	require.Len(t, result.Findings, 2)
	assert.NotEmpty(t, result.Recommendations)
	require.Len(t, result.AuditTrail, 1)
	assert.Equal(t, audit.OutcomePartial, result.AuditTrail[0].Outcome)
}

func TestValidateAgent_EnvironmentSeverity(t *testing.T) {
	// The same gaps weigh harder in production: missing audit logging
	// escalates from high 0.8 to critical 0.5 there.
	mk := func() *manifest.Agent {
		a := bronzeAgent()
		a.Spec.Capabilities.Domains = nil
		a.Spec.Protocols.Supported = nil
		a.Spec.Conformance.AuditLogging = false
		return a
	}
	e := newTestEngine(t)

	prod, err := e.ValidateAgent(context.Background(), mk(), compliance.Context{Environment: compliance.EnvProduction}, nil)
	require.NoError(t, err)
	dev, err := e.ValidateAgent(context.Background(), mk(), compliance.Context{Environment: compliance.EnvDevelopment}, nil)
	require.NoError(t, err)

	// capabilities 0.7 * protocols 0.7, then audit logging 0.5 vs 0.8
	assert.InDelta(t, 24.5, prod.Score, 1e-9)
	assert.InDelta(t, 39.2, dev.Score, 1e-9)
	assert.Greater(t, dev.Score, prod.Score)

	for _, r := range []*compliance.Result{prod, dev} {
		assert.False(t, r.Compliant)
		require.Len(t, r.Findings, 3)
	}
	assert.True(t, prod.HasCritical())
	assert.False(t, dev.HasCritical())

	sev := func(r *compliance.Result) compliance.Severity {
		for _, f := range r.Findings {
			if f.ID == "conformance/audit-logging" {
				return f.Severity
			}
		}
		t.Fatal("audit-logging finding missing")
		return ""
	}
	assert.Equal(t, compliance.SeverityCritical, sev(prod))
	assert.Equal(t, compliance.SeverityHigh, sev(dev))
}

func TestValidateAgent_AuditLoggingOutsideProduction(t *testing.T) {
	e := newTestEngine(t)
	a := bronzeAgent()
	a.Spec.Conformance.AuditLogging = false

	result, err := e.ValidateAgent(context.Background(), a, compliance.Context{Environment: compliance.EnvStaging}, nil)
	require.NoError(t, err)

	// high severity and 0.8 outside production
	assert.InDelta(t, 80.0, result.Score, 1e-9)
	assert.False(t, result.HasCritical())
	require.Len(t, result.Findings, 1)
	assert.Equal(t, compliance.SeverityHigh, result.Findings[0].Severity)
	assert.True(t, result.Compliant)
}

func TestValidateAgent_BlockingPolicyViolation(t *testing.T) {
	pe, err := policy.NewEngine()
	require.NoError(t, err)
	require.NoError(t, pe.Add(policy.Enforcement{
		PolicyID:         "prod-freeze",
		Name:             "production freeze",
		EnforcementLevel: policy.Blocking,
		Scope:            policy.ScopeAgent,
		Rules: []policy.Rule{{
			Condition: policy.Condition{Kind: policy.CondEnvironmentIs, Environment: "production"},
			Action:    policy.ActionDeny,
		}},
	}))

	e := newTestEngine(t, compliance.WithPolicyEngine(pe))
	result, err := e.ValidateAgent(context.Background(), goldAgent(), compliance.Context{Environment: compliance.EnvProduction}, nil)
	require.NoError(t, err)

	assert.InDelta(t, 50.0, result.Score, 1e-9)
	assert.False(t, result.Compliant)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, compliance.SeverityCritical, result.Findings[0].Severity)
	assert.Equal(t, "policy/prod-freeze/rule-0", result.Findings[0].ID)
	assert.Equal(t, "prod-freeze", result.Findings[0].Requirement)
}

func TestValidateAgent_WarningAndAdvisoryPolicies(t *testing.T) {
	pe, err := policy.NewEngine()
	require.NoError(t, err)
	for id, level := range map[string]policy.EnforcementLevel{
		"warn-policy":   policy.Warning,
		"advise-policy": policy.Advisory,
	} {
		require.NoError(t, pe.Add(policy.Enforcement{
			PolicyID:         id,
			Name:             id,
			EnforcementLevel: level,
			Scope:            policy.ScopeAgent,
			Rules: []policy.Rule{{
				Condition: policy.Condition{Kind: policy.CondEnvironmentIs, Environment: "staging"},
				Action:    policy.ActionDeny,
			}},
		}))
	}

	e := newTestEngine(t, compliance.WithPolicyEngine(pe))
	result, err := e.ValidateAgent(context.Background(), goldAgent(), compliance.Context{Environment: compliance.EnvStaging}, nil)
	require.NoError(t, err)

	assert.InDelta(t, 64.0, result.Score, 1e-9)
	assert.False(t, result.Compliant)
	require.Len(t, result.Findings, 2)
	for _, f := range result.Findings {
		assert.NotEqual(t, compliance.SeverityCritical, f.Severity)
	}
}

func TestValidateAgent_AllowMatchScoresNothing(t *testing.T) {
	pe, err := policy.NewEngine()
	require.NoError(t, err)
	require.NoError(t, pe.Add(policy.Enforcement{
		PolicyID:         "allowlist",
		Name:             "explicit allowance",
		EnforcementLevel: policy.Blocking,
		Scope:            policy.ScopeAgent,
		Rules: []policy.Rule{{
			Condition: policy.Condition{Kind: policy.CondEnvironmentIs, Environment: "production"},
			Action:    policy.ActionAllow,
		}},
	}))

	e := newTestEngine(t, compliance.WithPolicyEngine(pe))
	result, err := e.ValidateAgent(context.Background(), goldAgent(), compliance.Context{Environment: compliance.EnvProduction}, nil)
	require.NoError(t, err)

	assert.Equal(t, 100.0, result.Score)
	assert.True(t, result.Compliant)
	assert.Empty(t, result.Findings)
}

func TestValidateAgent_UnknownFramework(t *testing.T) {
	e := newTestEngine(t)
	result, err := e.ValidateAgent(context.Background(), goldAgent(), compliance.Context{Environment: compliance.EnvProduction}, []string{"pci-dss"})
	require.NoError(t, err)

	assert.InDelta(t, 90.0, result.Score, 1e-9)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, "catalog/unknown-framework-pci-dss", result.Findings[0].ID)
	assert.Equal(t, compliance.SeverityMedium, result.Findings[0].Severity)
	assert.NotEmpty(t, result.Recommendations)
}

func TestValidateAgent_FrameworkWithoutLevelMapping(t *testing.T) {
	catalog := compliance.NewCatalog(nil)
	require.NoError(t, catalog.Registry().Register("always-pass", passValidator(1)))
	require.NoError(t, catalog.Register(compliance.Framework{
		ID:      "gold-only",
		Name:    "Gold Only Framework",
		Version: "1.0.0",
		Requirements: []compliance.Requirement{
			{ID: "req-1", Title: "placeholder", Category: compliance.CategoryGovernance, Validator: "always-pass"},
		},
		Mappings: []compliance.LevelMapping{
			{Level: manifest.LevelGold, RequirementIDs: []string{"req-1"}},
		},
	}))

	e := newTestEngine(t, compliance.WithCatalog(catalog))
	result, err := e.ValidateAgent(context.Background(), bronzeAgent(), compliance.Context{Environment: compliance.EnvStaging}, []string{"gold-only"})
	require.NoError(t, err)

	// exactly half credit, no requirement ran
	assert.Equal(t, 50.0, result.Score)
	assert.False(t, result.Compliant)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, "gold-only/no-mapping-bronze", result.Findings[0].ID)
	assert.Equal(t, compliance.SeverityHigh, result.Findings[0].Severity)
}

func TestValidateAgent_RequirementFailureContinues(t *testing.T) {
	catalog := compliance.NewCatalog(nil)
	require.NoError(t, catalog.Registry().Register("broken", func(context.Context, *manifest.Agent, compliance.Context, map[string]string) (compliance.StageResult, error) {
		return compliance.StageResult{}, errors.New("backend unavailable")
	}))
	require.NoError(t, catalog.Registry().Register("always-pass", passValidator(1)))
	require.NoError(t, catalog.Register(compliance.Framework{
		ID:      "half-broken",
		Name:    "Half Broken",
		Version: "1.0.0",
		Requirements: []compliance.Requirement{
			{ID: "req-a", Title: "a", Category: compliance.CategorySecurity, Validator: "broken"},
			{ID: "req-b", Title: "b", Category: compliance.CategorySecurity, Validator: "always-pass"},
		},
		Mappings: []compliance.LevelMapping{
			{Level: manifest.LevelGold, RequirementIDs: []string{"req-a", "req-b"}},
		},
	}))

	e := newTestEngine(t, compliance.WithCatalog(catalog))
	result, err := e.ValidateAgent(context.Background(), goldAgent(), compliance.Context{Environment: compliance.EnvStaging}, []string{"half-broken"})
	require.NoError(t, err)

	assert.InDelta(t, 80.0, result.Score, 1e-9)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, "half-broken/req-a/validation-error", result.Findings[0].ID)
	assert.Equal(t, compliance.SeverityHigh, result.Findings[0].Severity)
}

func TestValidateAgent_PanickingValidatorIsContained(t *testing.T) {
	catalog := compliance.NewCatalog(nil)
	require.NoError(t, catalog.Registry().Register("panicky", func(context.Context, *manifest.Agent, compliance.Context, map[string]string) (compliance.StageResult, error) {
		panic("validator bug")
	}))
	require.NoError(t, catalog.Register(compliance.Framework{
		ID:      "panic-fw",
		Name:    "Panic Framework",
		Version: "0.1.0",
		Requirements: []compliance.Requirement{
			{ID: "req-p", Title: "p", Category: compliance.CategoryGovernance, Validator: "panicky"},
		},
		Mappings: []compliance.LevelMapping{
			{Level: manifest.LevelGold, RequirementIDs: []string{"req-p"}},
		},
	}))

	e := newTestEngine(t, compliance.WithCatalog(catalog))
	result, err := e.ValidateAgent(context.Background(), goldAgent(), compliance.Context{Environment: compliance.EnvStaging}, []string{"panic-fw"})
	require.NoError(t, err)

	assert.InDelta(t, 80.0, result.Score, 1e-9)
	require.Len(t, result.Findings, 1)
	assert.Contains(t, result.Findings[0].Description, "panicked")
}

func TestValidateAgent_RequirementScoresMultiply(t *testing.T) {
	catalog := compliance.NewCatalog(nil)
	require.NoError(t, catalog.Registry().Register("deduct-half", passValidator(0.5)))
	require.NoError(t, catalog.Registry().Register("deduct-tenth", passValidator(0.9)))
	require.NoError(t, catalog.Register(compliance.Framework{
		ID:      "stacked",
		Name:    "Stacked",
		Version: "1.0.0",
		Requirements: []compliance.Requirement{
			{ID: "r1", Title: "r1", Category: compliance.CategoryPrivacy, Validator: "deduct-half"},
			{ID: "r2", Title: "r2", Category: compliance.CategoryPrivacy, Validator: "deduct-tenth"},
		},
		Mappings: []compliance.LevelMapping{
			{Level: manifest.LevelGold, RequirementIDs: []string{"r1", "r2"}},
		},
	}))

	e := newTestEngine(t, compliance.WithCatalog(catalog))
	result, err := e.ValidateAgent(context.Background(), goldAgent(), compliance.Context{Environment: compliance.EnvStaging}, []string{"stacked"})
	require.NoError(t, err)
	assert.InDelta(t, 45.0, result.Score, 1e-9)
}

func TestValidateAgent_NilAgent(t *testing.T) {
	e := newTestEngine(t)

	result, err := e.ValidateAgent(context.Background(), nil, compliance.Context{}, nil)
	require.Error(t, err)
	assert.Nil(t, result)

	var verr *compliance.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "unknown", verr.Agent)

	entries, err := e.AuditTrail(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.OutcomeFailure, entries[0].Outcome)
}

func TestValidateAgent_CancelledContext(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := e.ValidateAgent(ctx, goldAgent(), compliance.Context{}, nil)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestValidateAgent_Idempotent(t *testing.T) {
	start := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	tick := start
	clock := func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	e := newTestEngine(t, compliance.WithClock(clock))

	a := bronzeAgent()
	a.Spec.Conformance.AuditLogging = false
	c := compliance.Context{Environment: compliance.EnvProduction}

	first, err := e.ValidateAgent(context.Background(), a, c, nil)
	require.NoError(t, err)
	second, err := e.ValidateAgent(context.Background(), a, c, nil)
	require.NoError(t, err)

	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, first.Compliant, second.Compliant)
	assert.Equal(t, first.Findings, second.Findings)
	assert.Equal(t, first.Recommendations, second.Recommendations)

	entries, err := e.AuditTrail(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, !entries[1].Timestamp.Before(entries[0].Timestamp))
	require.NoError(t, e.VerifyAuditTrail(context.Background()))
}

func TestEngineIntrospection(t *testing.T) {
	catalog := compliance.NewCatalog(nil)
	require.NoError(t, catalog.Registry().Register("always-pass", passValidator(1)))
	require.NoError(t, catalog.Register(compliance.Framework{
		ID:      "iso-42001",
		Name:    "ISO/IEC 42001",
		Version: "1.0.0",
		Requirements: []compliance.Requirement{
			{ID: "r", Title: "r", Category: compliance.CategoryGovernance, Validator: "always-pass"},
		},
		Mappings: []compliance.LevelMapping{{Level: manifest.LevelBronze, RequirementIDs: []string{"r"}}},
	}))

	pe, err := policy.NewEngine()
	require.NoError(t, err)
	require.NoError(t, pe.AddAll(policy.DefaultPolicies()))

	e := newTestEngine(t, compliance.WithCatalog(catalog), compliance.WithPolicyEngine(pe))

	frameworks := e.SupportedFrameworks()
	require.Len(t, frameworks, 1)
	assert.Equal(t, "iso-42001", frameworks[0].ID)

	policies := e.EnterprisePolicies()
	assert.Len(t, policies, len(policy.DefaultPolicies()))
}
