package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BlueflyCollective/openstandardagents/pkg/audit"
	"github.com/BlueflyCollective/openstandardagents/pkg/manifest"
	"github.com/BlueflyCollective/openstandardagents/pkg/policy"
)

// SpecValidator checks a manifest against the agent schema. The
// manifest package's SchemaValidator is the production implementation.
type SpecValidator interface {
	Validate(a *manifest.Agent) manifest.SpecResult
}

// Engine orchestrates conformance, policy, and regulatory validation
// of agent manifests. It is safe for concurrent use; all mutable state
// lives behind the policy engine, catalog, and audit trail, which
// synchronize themselves.
type Engine struct {
	specValidator      SpecValidator
	catalog            *Catalog
	policies           *policy.Engine
	trail              audit.Trail
	clock              func() time.Time
	logger             *slog.Logger
	requirementTimeout time.Duration
	actor              string
}

// Option configures an Engine.
type Option func(*Engine)

// WithSpecValidator replaces the schema validator.
func WithSpecValidator(v SpecValidator) Option {
	return func(e *Engine) { e.specValidator = v }
}

// WithCatalog installs the regulatory framework catalog.
func WithCatalog(c *Catalog) Option {
	return func(e *Engine) { e.catalog = c }
}

// WithPolicyEngine installs the enterprise policy engine.
func WithPolicyEngine(p *policy.Engine) Option {
	return func(e *Engine) { e.policies = p }
}

// WithTrail replaces the audit trail. The default is an in-memory
// trail; servers wire a SQL-backed one.
func WithTrail(t audit.Trail) Option {
	return func(e *Engine) { e.trail = t }
}

// WithClock overrides the time source for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithRequirementTimeout bounds each regulatory requirement validator.
func WithRequirementTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.requirementTimeout = d
		}
	}
}

// WithActor sets the actor recorded on audit entries.
func WithActor(actor string) Option {
	return func(e *Engine) {
		if actor != "" {
			e.actor = actor
		}
	}
}

type actorContextKey struct{}

// WithRequestActor attributes audit entries written during this context
// to the given principal instead of the engine's configured actor. The
// API layer uses it to record the authenticated subject.
func WithRequestActor(ctx context.Context, actor string) context.Context {
	if actor == "" {
		return ctx
	}
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func (e *Engine) actorFor(ctx context.Context) string {
	if a, ok := ctx.Value(actorContextKey{}).(string); ok && a != "" {
		return a
	}
	return e.actor
}

// NewEngine builds an engine. Without options it validates against the
// embedded schema, evaluates no policies, knows no frameworks, and
// audits to memory.
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		clock:              time.Now,
		logger:             slog.Default().With("component", "compliance-engine"),
		requirementTimeout: DefaultRequirementTimeout,
		actor:              "compliance-engine",
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.specValidator == nil {
		v, err := manifest.NewSchemaValidator()
		if err != nil {
			return nil, fmt.Errorf("compliance: build schema validator: %w", err)
		}
		e.specValidator = v
	}
	if e.catalog == nil {
		e.catalog = NewCatalog(nil)
	}
	if e.policies == nil {
		p, err := policy.NewEngine()
		if err != nil {
			return nil, fmt.Errorf("compliance: build policy engine: %w", err)
		}
		e.policies = p
	}
	if e.trail == nil {
		e.trail = audit.NewMemoryTrail()
	}
	return e, nil
}

// ValidateAgent runs the full validation pipeline for one agent:
// schema check, conformance level thresholds, enterprise policies,
// then each requested regulatory framework. Exactly one audit entry is
// appended per call. A schema-invalid manifest yields a zero-score
// result, not an error; errors mean the engine itself faulted and the
// run should be retried.
func (e *Engine) ValidateAgent(ctx context.Context, a *manifest.Agent, c Context, frameworkIDs []string) (result *Result, err error) {
	name := agentName(a)

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = e.fault(ctx, name, frameworkIDs, fmt.Errorf("validation panicked: %v", r))
		}
	}()

	if a == nil {
		return nil, e.fault(ctx, name, frameworkIDs, errors.New("nil agent manifest"))
	}
	if cerr := ctx.Err(); cerr != nil {
		return nil, e.fault(ctx, name, frameworkIDs, cerr)
	}

	spec := e.specValidator.Validate(a)
	if !spec.Valid {
		return e.specInvalid(ctx, name, frameworkIDs, spec)
	}

	fraction := 1.0
	var findings []Finding
	var recommendations []string

	level := evaluateLevel(a, c)
	fraction *= level.Score
	findings = append(findings, level.Findings...)
	recommendations = append(recommendations, remediations(level.Findings)...)

	decisions := e.policies.Evaluate(policy.Input{
		Agent:          a,
		Environment:    c.Environment,
		Classification: c.Classification,
		Region:         c.Region,
		DataTypes:      c.DataTypes,
	})
	policies := evaluatePolicies(decisions)
	fraction *= policies.Score
	findings = append(findings, policies.Findings...)
	recommendations = append(recommendations, remediations(policies.Findings)...)

	for _, id := range frameworkIDs {
		fw, ok := e.catalog.Get(id)
		if !ok {
			e.logger.Warn("unknown framework requested", "framework", id, "agent", name)
			fraction *= 0.9
			findings = append(findings, Finding{
				ID:          "catalog/unknown-framework-" + id,
				Severity:    SeverityMedium,
				Category:    CategoryGovernance,
				Requirement: id,
				Description: fmt.Sprintf("framework %q is not registered with this engine", id),
				Remediation: fmt.Sprintf("register framework %s or remove it from the validation request", id),
			})
			recommendations = append(recommendations, fmt.Sprintf("register framework %s or remove it from the validation request", id))
			continue
		}
		stage := e.evaluateFramework(ctx, fw, a, c)
		fraction *= clampFraction(stage.Score)
		findings = append(findings, stage.Findings...)
		recommendations = append(recommendations, stage.Recommendations...)
	}

	score := clampScore(100 * fraction)
	compliant := score >= 80 && !hasCritical(findings)

	result = &Result{
		Compliant:       compliant,
		Score:           score,
		Findings:        findings,
		Recommendations: recommendations,
	}

	outcome := audit.OutcomePartial
	if compliant {
		outcome = audit.OutcomeSuccess
	}
	entry, aerr := e.appendAudit(ctx, name, frameworkIDs, outcome, map[string]string{
		"score":     strconv.FormatFloat(score, 'f', -1, 64),
		"compliant": strconv.FormatBool(compliant),
		"findings":  strconv.Itoa(len(findings)),
	})
	if aerr != nil {
		return nil, &ValidationError{Agent: name, Op: "audit", Err: aerr}
	}
	result.AuditTrail = []audit.Entry{entry}

	e.logger.Info("agent validated",
		"agent", name,
		"score", score,
		"compliant", compliant,
		"findings", len(findings),
		"frameworks", strings.Join(frameworkIDs, ","))
	return result, nil
}

// specInvalid produces the non-throwing zero-score result for a
// manifest that fails schema validation.
func (e *Engine) specInvalid(ctx context.Context, name string, frameworkIDs []string, spec manifest.SpecResult) (*Result, error) {
	detail := "manifest failed schema validation"
	if len(spec.Errors) > 0 {
		detail = fmt.Sprintf("manifest failed schema validation: %s", strings.Join(spec.Errors, "; "))
	}
	result := &Result{
		Compliant: false,
		Score:     0,
		Findings: []Finding{{
			ID:          "spec/invalid-manifest",
			Severity:    SeverityCritical,
			Category:    CategoryGovernance,
			Requirement: "schema",
			Description: detail,
			Evidence:    spec.Errors,
			Remediation: "correct the manifest against the OSSA agent schema before revalidating",
		}},
		Recommendations: []string{"correct the manifest against the OSSA agent schema before revalidating"},
	}
	entry, aerr := e.appendAudit(ctx, name, frameworkIDs, audit.OutcomeFailure, map[string]string{
		"score":  "0",
		"reason": "schema validation failed",
		"errors": strconv.Itoa(len(spec.Errors)),
	})
	if aerr != nil {
		return nil, &ValidationError{Agent: name, Op: "audit", Err: aerr}
	}
	result.AuditTrail = []audit.Entry{entry}
	return result, nil
}

// fault records a failure audit entry for an engine-level fault and
// wraps the cause. The append is best effort; the fault it documents
// matters more than the record of it.
func (e *Engine) fault(ctx context.Context, name string, frameworkIDs []string, cause error) error {
	if _, aerr := e.appendAudit(ctx, name, frameworkIDs, audit.OutcomeFailure, map[string]string{
		"error": cause.Error(),
	}); aerr != nil {
		e.logger.Error("audit append failed during fault handling",
			"agent", name, "fault", cause, "audit_error", aerr)
	}
	return &ValidationError{Agent: name, Op: "validate", Err: cause}
}

func (e *Engine) appendAudit(ctx context.Context, name string, frameworkIDs []string, outcome audit.Outcome, details map[string]string) (audit.Entry, error) {
	return e.trail.Append(ctx, audit.Entry{
		Actor:      e.actorFor(ctx),
		Action:     "validate_agent",
		Resource:   "agent:" + name,
		Outcome:    outcome,
		Details:    details,
		Frameworks: frameworkIDs,
	})
}

// SupportedFrameworks lists the registered frameworks.
func (e *Engine) SupportedFrameworks() []Framework {
	return e.catalog.List()
}

// EnterprisePolicies lists the registered enterprise policies.
func (e *Engine) EnterprisePolicies() []policy.Enforcement {
	return e.policies.Policies()
}

// Catalog exposes the framework catalog for registration at assembly.
func (e *Engine) Catalog() *Catalog { return e.catalog }

// PolicyEngine exposes the policy engine for registration at assembly.
func (e *Engine) PolicyEngine() *policy.Engine { return e.policies }

// AuditTrail returns audit entries, optionally only those at or after
// since.
func (e *Engine) AuditTrail(ctx context.Context, since *time.Time) ([]audit.Entry, error) {
	return e.trail.Since(ctx, since)
}

// VerifyAuditTrail re-walks the audit hash chain.
func (e *Engine) VerifyAuditTrail(ctx context.Context) error {
	return e.trail.Verify(ctx)
}

func agentName(a *manifest.Agent) string {
	if a == nil || a.Metadata.Name == "" {
		return "unknown"
	}
	return a.Metadata.Name
}
