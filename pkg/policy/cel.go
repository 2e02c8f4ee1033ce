package policy

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// celEvaluator compiles and caches CEL condition programs. Programs run
// with hard cost limits so a pathological expression cannot stall a
// validation run.
type celEvaluator struct {
	env   *cel.Env
	mu    sync.RWMutex
	cache map[string]cel.Program
}

func newCELEvaluator() (*celEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("agent", cel.DynType),
		cel.Variable("environment", cel.StringType),
		cel.Variable("classification", cel.StringType),
		cel.Variable("region", cel.StringType),
		cel.Variable("dataTypes", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &celEvaluator{
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

// Check parses the expression and rejects constructs that would make
// policy evaluation non-deterministic. Used at policy registration.
func (e *celEvaluator) Check(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return fmt.Errorf("%w: empty expression", ErrInvalidExpression)
	}
	parsed, issues := e.env.Parse(expr)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("%w: %v", ErrInvalidExpression, issues.Err())
	}
	var problems []string
	checkExprSafety(parsed.Expr(), &problems) //nolint:staticcheck // exprpb walk has no non-deprecated equivalent
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidExpression, strings.Join(problems, "; "))
	}
	return nil
}

// Eval compiles (once) and runs the expression against the input map.
func (e *celEvaluator) Eval(expr string, input map[string]any) (bool, error) {
	e.mu.RLock()
	prg, hit := e.cache[expr]
	e.mu.RUnlock()

	if !hit {
		e.mu.Lock()
		if prg, hit = e.cache[expr]; !hit {
			ast, issues := e.env.Compile(expr)
			if issues != nil && issues.Err() != nil {
				e.mu.Unlock()
				return false, fmt.Errorf("compile: %w", issues.Err())
			}
			p, err := e.env.Program(ast,
				cel.InterruptCheckFrequency(100),
				cel.CostLimit(10000),
			)
			if err != nil {
				e.mu.Unlock()
				return false, fmt.Errorf("program: %w", err)
			}
			e.cache[expr] = p
			prg = p
		}
		e.mu.Unlock()
	}

	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression result is %T, want bool", out.Value())
	}
	return val, nil
}

// checkExprSafety walks the parsed AST and records forbidden constructs:
// wall-clock access and map iteration are non-deterministic across runs,
// and floating point literals invite precision-dependent policies.
func checkExprSafety(e *exprpb.Expr, problems *[]string) {
	if e == nil {
		return
	}

	switch k := e.ExprKind.(type) {
	case *exprpb.Expr_ConstExpr:
		if _, ok := k.ConstExpr.ConstantKind.(*exprpb.Constant_DoubleValue); ok {
			*problems = append(*problems, "floating point literals are forbidden")
		}

	case *exprpb.Expr_CallExpr:
		call := k.CallExpr
		switch call.Function {
		case "now":
			*problems = append(*problems, "now() is forbidden")
		case "keys", "values":
			*problems = append(*problems, "map iteration (keys/values) is forbidden")
		}
		if call.Target != nil {
			checkExprSafety(call.Target, problems)
		}
		for _, arg := range call.Args {
			checkExprSafety(arg, problems)
		}

	case *exprpb.Expr_SelectExpr:
		checkExprSafety(k.SelectExpr.Operand, problems)

	case *exprpb.Expr_ListExpr:
		for _, el := range k.ListExpr.Elements {
			checkExprSafety(el, problems)
		}

	case *exprpb.Expr_StructExpr:
		for _, entry := range k.StructExpr.Entries {
			if entry.GetMapKey() != nil {
				checkExprSafety(entry.GetMapKey(), problems)
			}
			checkExprSafety(entry.Value, problems)
		}

	case *exprpb.Expr_ComprehensionExpr:
		comp := k.ComprehensionExpr
		checkExprSafety(comp.IterRange, problems)
		checkExprSafety(comp.AccuInit, problems)
		checkExprSafety(comp.LoopCondition, problems)
		checkExprSafety(comp.LoopStep, problems)
		checkExprSafety(comp.Result, problems)
	}
}

// celInput flattens an Input into the variable bindings the CEL
// environment declares.
func celInput(in Input) map[string]any {
	a := in.Agent

	protocols := make([]any, 0, len(a.Spec.Protocols.Supported))
	for _, p := range a.Spec.Protocols.Supported {
		protocols = append(protocols, map[string]any{
			"name":    p.Name,
			"version": p.Version,
			"tls":     p.TLS,
		})
	}

	agent := map[string]any{
		"name":    a.Metadata.Name,
		"version": a.Metadata.Version,
		"owner":   a.Metadata.Owner,
		"tags":    a.Metadata.Tags,
		"capabilities": map[string]any{
			"domains": a.Spec.Capabilities.Domains,
			"tools":   a.Spec.Capabilities.Tools,
			"count":   a.CapabilityCount(),
		},
		"protocols":     protocols,
		"protocolCount": a.ProtocolCount(),
		"conformance": map[string]any{
			"level":        string(a.Spec.Conformance.LevelOrDefault()),
			"auditLogging": a.Spec.Conformance.AuditLogging,
			"feedbackLoop": a.Spec.Conformance.FeedbackLoop,
			"propsTokens":  a.Spec.Conformance.PropsTokens,
		},
	}
	if g := a.Spec.Governance; g != nil {
		agent["governance"] = map[string]any{
			"riskClass":         g.RiskClass,
			"humanOversight":    g.HumanOversight,
			"dataRetentionDays": g.DataRetentionDays,
			"incidentContact":   g.IncidentContact,
		}
	}

	dataTypes := in.DataTypes
	if dataTypes == nil {
		dataTypes = []string{}
	}

	return map[string]any{
		"agent":          agent,
		"environment":    in.Environment,
		"classification": in.Classification,
		"region":         in.Region,
		"dataTypes":      dataTypes,
	}
}
