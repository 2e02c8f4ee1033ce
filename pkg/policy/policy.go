// Package policy implements enterprise policy enforcement over OSSA
// agent manifests.
//
// Policies are data: each enforcement carries rules whose conditions are
// a closed set of predicate kinds with typed parameters, plus a CEL
// escape hatch for expressions that ship as configuration. Evaluation
// never fails a validation run; condition errors degrade to non-matches.
package policy

import (
	"errors"

	"github.com/BlueflyCollective/openstandardagents/pkg/manifest"
)

var (
	ErrDuplicatePolicy   = errors.New("policy already registered")
	ErrInvalidPolicy     = errors.New("invalid policy")
	ErrInvalidExpression = errors.New("invalid policy expression")
)

// EnforcementLevel determines how a violated rule affects the caller.
type EnforcementLevel string

const (
	Advisory EnforcementLevel = "advisory"
	Warning  EnforcementLevel = "warning"
	Blocking EnforcementLevel = "blocking"
)

// Valid reports whether the level is recognized.
func (l EnforcementLevel) Valid() bool {
	switch l {
	case Advisory, Warning, Blocking:
		return true
	}
	return false
}

// Action is what a matched rule asks for.
type Action string

const (
	ActionAllow           Action = "allow"
	ActionDeny            Action = "deny"
	ActionRequireApproval Action = "require-approval"
	ActionLogOnly         Action = "log-only"
)

// Valid reports whether the action is recognized.
func (a Action) Valid() bool {
	switch a {
	case ActionAllow, ActionDeny, ActionRequireApproval, ActionLogOnly:
		return true
	}
	return false
}

// Scope selects which validation subjects a policy applies to.
type Scope string

const (
	ScopeAgent    Scope = "agent"
	ScopeWorkflow Scope = "workflow"
	ScopePlatform Scope = "platform"
)

// Valid reports whether the scope is recognized.
func (s Scope) Valid() bool {
	switch s {
	case ScopeAgent, ScopeWorkflow, ScopePlatform:
		return true
	}
	return false
}

// ConditionKind tags the predicate a rule condition evaluates.
type ConditionKind string

const (
	CondProtocolMissingTLS    ConditionKind = "protocol-missing-tls"
	CondConformanceBelowLevel ConditionKind = "conformance-below-level"
	CondAuditLoggingDisabled  ConditionKind = "audit-logging-disabled"
	CondEnvironmentIs         ConditionKind = "environment-is"
	CondClassificationAtLeast ConditionKind = "classification-at-least"
	CondCapabilityCountBelow  ConditionKind = "capability-count-below"
	CondDataTypeDeclared      ConditionKind = "data-type-declared"
	CondCEL                   ConditionKind = "cel"
)

// Condition is a tagged predicate. Kind selects the check; each kind
// reads only the parameters it needs. Unknown kinds evaluate to false so
// bundles written for newer engines degrade instead of failing.
type Condition struct {
	Kind ConditionKind `json:"kind" yaml:"kind"`

	Level          manifest.Level `json:"level,omitempty" yaml:"level,omitempty"`
	Environment    string         `json:"environment,omitempty" yaml:"environment,omitempty"`
	Classification string         `json:"classification,omitempty" yaml:"classification,omitempty"`
	Min            int            `json:"min,omitempty" yaml:"min,omitempty"`
	DataType       string         `json:"dataType,omitempty" yaml:"dataType,omitempty"`
	Expression     string         `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// Rule pairs a condition with the action taken when it matches.
type Rule struct {
	Condition Condition         `json:"condition" yaml:"condition"`
	Action    Action            `json:"action" yaml:"action"`
	Params    map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// Enforcement is a named enterprise policy.
type Enforcement struct {
	PolicyID         string           `json:"policyId" yaml:"policyId"`
	Name             string           `json:"name" yaml:"name"`
	Description      string           `json:"description,omitempty" yaml:"description,omitempty"`
	EnforcementLevel EnforcementLevel `json:"enforcementLevel" yaml:"enforcementLevel"`
	Scope            Scope            `json:"scope" yaml:"scope"`
	Rules            []Rule           `json:"rules" yaml:"rules"`
}

// Input is the evaluation subject: the agent plus its deployment
// context.
type Input struct {
	Agent          *manifest.Agent
	Environment    string
	Classification string
	Region         string
	DataTypes      []string
}

// Decision is the outcome of evaluating one rule against one input.
type Decision struct {
	PolicyID         string           `json:"policyId"`
	PolicyName       string           `json:"policyName"`
	RuleIndex        int              `json:"ruleIndex"`
	Action           Action           `json:"action"`
	EnforcementLevel EnforcementLevel `json:"enforcementLevel"`
	Matched          bool             `json:"matched"`
	Reason           string           `json:"reason,omitempty"`
}

// Violation reports whether this decision demands attention: a matched
// rule whose action is not a plain allow.
func (d Decision) Violation() bool {
	return d.Matched && (d.Action == ActionDeny || d.Action == ActionRequireApproval)
}

// classificationRank orders data classifications from least to most
// sensitive. Unknown classifications rank lowest.
func classificationRank(c string) int {
	switch c {
	case "public":
		return 1
	case "internal":
		return 2
	case "confidential":
		return 3
	case "restricted":
		return 4
	}
	return 0
}
