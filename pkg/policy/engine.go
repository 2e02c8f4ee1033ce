package policy

import (
	"fmt"
	"log/slog"
	"sync"
)

// Engine evaluates registered policies against agent inputs. It is safe
// for concurrent use; registration typically happens once at startup.
type Engine struct {
	mu       sync.RWMutex
	policies []Enforcement
	index    map[string]int
	cel      *celEvaluator
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger overrides the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an empty policy engine.
func NewEngine(opts ...Option) (*Engine, error) {
	ce, err := newCELEvaluator()
	if err != nil {
		return nil, err
	}
	e := &Engine{
		index:  make(map[string]int),
		cel:    ce,
		logger: slog.Default().With("component", "policy"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Add registers a policy after validating its shape. CEL conditions must
// parse and pass the determinism check; unknown condition kinds are
// accepted so bundles written for newer engines still load.
func (e *Engine) Add(p Enforcement) error {
	if p.PolicyID == "" {
		return fmt.Errorf("%w: missing policyId", ErrInvalidPolicy)
	}
	if !p.EnforcementLevel.Valid() {
		return fmt.Errorf("%w: policy %s: unknown enforcement level %q", ErrInvalidPolicy, p.PolicyID, p.EnforcementLevel)
	}
	if !p.Scope.Valid() {
		return fmt.Errorf("%w: policy %s: unknown scope %q", ErrInvalidPolicy, p.PolicyID, p.Scope)
	}
	if len(p.Rules) == 0 {
		return fmt.Errorf("%w: policy %s: no rules", ErrInvalidPolicy, p.PolicyID)
	}
	for i, r := range p.Rules {
		if !r.Action.Valid() {
			return fmt.Errorf("%w: policy %s rule %d: unknown action %q", ErrInvalidPolicy, p.PolicyID, i, r.Action)
		}
		if r.Condition.Kind == CondCEL {
			if err := e.cel.Check(r.Condition.Expression); err != nil {
				return fmt.Errorf("policy %s rule %d: %w", p.PolicyID, i, err)
			}
		}
		if !knownKind(r.Condition.Kind) {
			e.logger.Warn("policy uses unrecognized condition kind; rule will never match",
				"policy_id", p.PolicyID, "rule", i, "kind", r.Condition.Kind)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.index[p.PolicyID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePolicy, p.PolicyID)
	}
	e.index[p.PolicyID] = len(e.policies)
	e.policies = append(e.policies, p)
	return nil
}

// AddAll registers policies in order, stopping at the first invalid one.
func (e *Engine) AddAll(policies []Enforcement) error {
	for _, p := range policies {
		if err := e.Add(p); err != nil {
			return err
		}
	}
	return nil
}

// Policies returns a snapshot of the registered policies.
func (e *Engine) Policies() []Enforcement {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Enforcement, len(e.policies))
	copy(out, e.policies)
	return out
}

// Evaluate runs every agent-scoped rule against the input and returns
// one decision per rule, in registration order. Evaluation never fails:
// condition errors are logged and the rule treated as non-matching.
func (e *Engine) Evaluate(in Input) []Decision {
	if in.Agent == nil {
		return nil
	}

	e.mu.RLock()
	policies := e.policies
	e.mu.RUnlock()

	var decisions []Decision
	for _, p := range policies {
		if p.Scope != ScopeAgent {
			e.logger.Debug("skipping policy out of agent scope",
				"policy_id", p.PolicyID, "scope", p.Scope)
			continue
		}
		for i, r := range p.Rules {
			d := Decision{
				PolicyID:         p.PolicyID,
				PolicyName:       p.Name,
				RuleIndex:        i,
				Action:           r.Action,
				EnforcementLevel: p.EnforcementLevel,
			}
			matched, err := e.evalCondition(r.Condition, in)
			if err != nil {
				e.logger.Warn("policy condition evaluation failed; treating as non-match",
					"policy_id", p.PolicyID, "rule", i, "kind", r.Condition.Kind, "error", err)
			} else if matched {
				d.Matched = true
				d.Reason = describeCondition(r.Condition, in)
			}
			decisions = append(decisions, d)
		}
	}
	return decisions
}

// evalCondition dispatches on the condition kind.
func (e *Engine) evalCondition(c Condition, in Input) (bool, error) {
	a := in.Agent
	switch c.Kind {
	case CondProtocolMissingTLS:
		for _, p := range a.Spec.Protocols.Supported {
			if !p.TLS {
				return true, nil
			}
		}
		return false, nil

	case CondConformanceBelowLevel:
		if c.Environment != "" && in.Environment != c.Environment {
			return false, nil
		}
		return !a.Spec.Conformance.LevelOrDefault().AtLeast(c.Level), nil

	case CondAuditLoggingDisabled:
		return !a.Spec.Conformance.AuditLogging, nil

	case CondEnvironmentIs:
		return in.Environment == c.Environment, nil

	case CondClassificationAtLeast:
		return classificationRank(in.Classification) >= classificationRank(c.Classification) &&
			classificationRank(c.Classification) > 0, nil

	case CondCapabilityCountBelow:
		return a.CapabilityCount() < c.Min, nil

	case CondDataTypeDeclared:
		for _, dt := range in.DataTypes {
			if dt == c.DataType {
				return true, nil
			}
		}
		return false, nil

	case CondCEL:
		return e.cel.Eval(c.Expression, celInput(in))

	default:
		return false, fmt.Errorf("unrecognized condition kind %q", c.Kind)
	}
}

func knownKind(k ConditionKind) bool {
	switch k {
	case CondProtocolMissingTLS, CondConformanceBelowLevel, CondAuditLoggingDisabled,
		CondEnvironmentIs, CondClassificationAtLeast, CondCapabilityCountBelow,
		CondDataTypeDeclared, CondCEL:
		return true
	}
	return false
}

// describeCondition renders a human-readable reason for a match.
func describeCondition(c Condition, in Input) string {
	switch c.Kind {
	case CondProtocolMissingTLS:
		return "at least one declared protocol does not use TLS"
	case CondConformanceBelowLevel:
		if c.Environment != "" {
			return fmt.Sprintf("conformance level is below %s in environment %s", c.Level, c.Environment)
		}
		return fmt.Sprintf("conformance level is below %s", c.Level)
	case CondAuditLoggingDisabled:
		return "audit logging is disabled"
	case CondEnvironmentIs:
		return fmt.Sprintf("deployment environment is %s", c.Environment)
	case CondClassificationAtLeast:
		return fmt.Sprintf("data classification %s is at least %s", in.Classification, c.Classification)
	case CondCapabilityCountBelow:
		return fmt.Sprintf("declared capabilities below %d", c.Min)
	case CondDataTypeDeclared:
		return fmt.Sprintf("data type %s is declared", c.DataType)
	case CondCEL:
		return fmt.Sprintf("expression matched: %s", c.Expression)
	}
	return string(c.Kind)
}
