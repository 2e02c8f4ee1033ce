// Package compliance implements the OSSA conformance and regulatory
// compliance engine.
//
// A validation run scores an agent manifest against its declared
// conformance level, the registered enterprise policies, and any
// requested regulatory frameworks. Stages return fractional scores in
// [0,1] that compose multiplicatively from a 100-point ceiling, so the
// overall score only ever decreases as findings accumulate. Every run
// appends exactly one entry to the audit trail.
package compliance

import (
	"fmt"

	"github.com/BlueflyCollective/openstandardagents/pkg/audit"
)

// Version is the engine version policy bundles constrain against.
const Version = "1.0.0"

// Severity grades a finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Category places a finding in one of the governance domains shared by
// all supported frameworks.
type Category string

const (
	CategoryGovernance     Category = "governance"
	CategoryRiskManagement Category = "risk-management"
	CategoryTransparency   Category = "transparency"
	CategoryAccountability Category = "accountability"
	CategorySecurity       Category = "security"
	CategoryPrivacy        Category = "privacy"
)

// Environment values recognized by context-sensitive checks.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Context is the caller-supplied deployment context for one validation.
// The engine never persists it.
type Context struct {
	Environment    string   `json:"environment"`
	Classification string   `json:"classification"`
	Region         string   `json:"region,omitempty"`
	Industry       string   `json:"industry,omitempty"`
	DataTypes      []string `json:"dataTypes,omitempty"`
}

// Production reports whether the context targets production.
func (c Context) Production() bool {
	return c.Environment == EnvProduction
}

// Finding is one detected deficiency. IDs are deterministic slugs, not
// random, so identical inputs yield identical findings. Findings are
// accumulated, never deduplicated; the same deficiency surfacing
// through two frameworks appears twice.
type Finding struct {
	ID          string   `json:"id"`
	Severity    Severity `json:"severity"`
	Category    Category `json:"category"`
	Requirement string   `json:"requirement,omitempty"`
	Description string   `json:"description"`
	Evidence    []string `json:"evidence,omitempty"`
	Remediation string   `json:"remediation,omitempty"`
}

// StageResult is the unit every evaluator stage returns. Score is a
// fraction in [0,1] that the orchestrator multiplies into the overall
// score.
type StageResult struct {
	Score           float64   `json:"score"`
	Findings        []Finding `json:"findings"`
	Recommendations []string  `json:"recommendations,omitempty"`
}

// Result is the outcome of one top-level validation call.
type Result struct {
	Compliant       bool          `json:"compliant"`
	Score           float64       `json:"score"`
	Findings        []Finding     `json:"findings"`
	Recommendations []string      `json:"recommendations"`
	AuditTrail      []audit.Entry `json:"auditTrail,omitempty"`
}

// HasCritical reports whether any finding is critical.
func (r *Result) HasCritical() bool {
	return hasCritical(r.Findings)
}

func hasCritical(findings []Finding) bool {
	for _, f := range findings {
		if f.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// ValidationError reports an engine-level fault: the one case where a
// caller gets an error instead of a result. A returned error means the
// validation could not be completed and is retry-worthy; a result with
// Compliant=false means it completed and the agent fell short.
type ValidationError struct {
	Agent string
	Op    string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Agent == "" {
		return fmt.Sprintf("compliance validation failed during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("compliance validation of agent %s failed during %s: %v", e.Agent, e.Op, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// clampScore restricts a final score to the [0,100] band.
func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

// clampFraction restricts a stage score to [0,1].
func clampFraction(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// remediations lifts the remediation hints off a stage's findings.
// Level and policy stages leave recommendations empty by contract; the
// orchestrator derives them from findings instead.
func remediations(findings []Finding) []string {
	var out []string
	for _, f := range findings {
		if f.Remediation != "" {
			out = append(out, f.Remediation)
		}
	}
	return out
}
