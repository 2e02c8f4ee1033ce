package compliance

import (
	"context"
	"fmt"
	"time"

	"github.com/BlueflyCollective/openstandardagents/pkg/manifest"
)

// DefaultRequirementTimeout bounds a single requirement validator run.
// Built-in validators are table lookups and never approach it; the
// limit exists for extension-served validators.
const DefaultRequirementTimeout = 5 * time.Second

// evaluateFramework scores the agent against one framework at the
// agent's conformance level. A missing level mapping is itself a
// compliance gap: the stage returns a single high finding and exactly
// half credit without running any requirement. Individual requirement
// failures deduct and move on; one broken validator must not sink the
// whole framework.
func (e *Engine) evaluateFramework(ctx context.Context, fw Framework, a *manifest.Agent, c Context) StageResult {
	level := a.Spec.Conformance.LevelOrDefault()
	mapping, ok := fw.MappingFor(level)
	if !ok {
		return StageResult{
			Score: 0.5,
			Findings: []Finding{{
				ID:          fmt.Sprintf("%s/no-mapping-%s", fw.ID, level),
				Severity:    SeverityHigh,
				Category:    CategoryGovernance,
				Requirement: fw.ID,
				Description: fmt.Sprintf("framework %s defines no requirement mapping for conformance level %s", fw.Name, level),
				Remediation: fmt.Sprintf("declare a conformance level mapped by %s, or extend the framework definition", fw.Name),
			}},
		}
	}

	score := 1.0
	var findings []Finding
	var recommendations []string

	for _, reqID := range mapping.RequirementIDs {
		req, ok := fw.RequirementByID(reqID)
		if !ok {
			// Registration guarantees mapping ids resolve, so this
			// only fires on a hand-built framework value.
			findings = append(findings, requirementFailure(fw, Requirement{ID: reqID}, fmt.Errorf("requirement %s not present in framework", reqID)))
			score *= 0.8
			continue
		}
		result, err := e.runRequirement(ctx, req, a, c)
		if err != nil {
			e.logger.Warn("requirement validation failed",
				"framework", fw.ID,
				"requirement", req.ID,
				"error", err)
			findings = append(findings, requirementFailure(fw, req, err))
			score *= 0.8
			continue
		}
		score *= clampFraction(result.Score)
		for i := range result.Findings {
			f := &result.Findings[i]
			if f.Requirement == "" {
				f.Requirement = req.ID
			}
			f.ID = fmt.Sprintf("%s/%s/%s", fw.ID, req.ID, f.ID)
		}
		findings = append(findings, result.Findings...)
		recommendations = append(recommendations, result.Recommendations...)
	}

	return StageResult{Score: score, Findings: findings, Recommendations: recommendations}
}

// runRequirement resolves and executes one requirement validator under
// the engine's per-requirement timeout. Panics inside a validator are
// contained here and surface as ordinary errors.
func (e *Engine) runRequirement(ctx context.Context, req Requirement, a *manifest.Agent, c Context) (result StageResult, err error) {
	fn, ok := e.catalog.Registry().Lookup(req.Validator)
	if !ok {
		return StageResult{}, fmt.Errorf("%w: %s", ErrUnknownValidator, req.Validator)
	}

	rctx, cancel := context.WithTimeout(ctx, e.requirementTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("validator %s panicked: %v", req.Validator, r)
		}
	}()

	result, err = fn(rctx, a, c, req.Params)
	if err != nil {
		return StageResult{}, fmt.Errorf("validator %s: %w", req.Validator, err)
	}
	if rctx.Err() != nil {
		return StageResult{}, fmt.Errorf("validator %s: %w", req.Validator, rctx.Err())
	}
	return result, nil
}

func requirementFailure(fw Framework, req Requirement, err error) Finding {
	category := req.Category
	if category == "" {
		category = CategoryGovernance
	}
	return Finding{
		ID:          fmt.Sprintf("%s/%s/validation-error", fw.ID, req.ID),
		Severity:    SeverityHigh,
		Category:    category,
		Requirement: req.ID,
		Description: fmt.Sprintf("requirement %s could not be validated: %v", req.ID, err),
		Remediation: fmt.Sprintf("re-run validation for %s; a persistent failure indicates a broken validator", req.ID),
	}
}
